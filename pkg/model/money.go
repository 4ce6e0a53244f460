// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrDifferentCurrencies is returned when an operation on a Money instance is attempted with another Money of a different currency (symbol).
	ErrDifferentCurrencies = errors.New("different currencies")
)

// Money represents an exact quantity of a particular currency.
type Money struct {
	amount decimal.Decimal
	symbol string // ISO 4217, i.e. USD, GBP
}

// NewMoney returns a Money object after validating the ISO 4217 currency symbol
// and parsing number as an exact decimal.
func NewMoney(symbol string, number string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(number))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %v", number, err)
	}
	return NewMoneyFromDecimal(symbol, d)
}

func NewMoneyFromDecimal(symbol string, d decimal.Decimal) (Money, error) {
	sym, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return Money{}, err
	}
	return Money{amount: d, symbol: sym.String()}, nil
}

// Zero returns an empty amount of the given currency.
func Zero(symbol string) Money {
	return Money{amount: decimal.Zero, symbol: strings.ToUpper(symbol)}
}

// ParseMoney reads the text form of Money.
// Examples:
//
//	USD 12.53
//	GBP 4.02
func ParseMoney(in string) (Money, error) {
	parts := strings.Fields(in)
	if len(parts) != 2 {
		return Money{}, fmt.Errorf("invalid Money format: %q", in)
	}
	return NewMoney(parts[0], parts[1])
}

func (m Money) Decimal() decimal.Decimal {
	return m.amount
}

func (m Money) Currency() string {
	return m.symbol
}

func (m Money) Validate() error {
	if _, err := currency.ParseISO(m.symbol); err != nil {
		return fmt.Errorf("currency %q: %v", m.symbol, err)
	}
	return nil
}

func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// Equal compares both the currency and numeric value, so "USD 1.5" equals "USD 1.50".
func (m Money) Equal(other Money) bool {
	return m.symbol == other.symbol && m.amount.Equal(other.amount)
}

// Add returns the sum of both amounts. Currency symbols must match.
func (m Money) Add(other Money) (Money, error) {
	if m.symbol != other.symbol {
		return m, ErrDifferentCurrencies
	}
	return Money{amount: m.amount.Add(other.amount), symbol: m.symbol}, nil
}

// Sub returns m minus other. Currency symbols must match.
func (m Money) Sub(other Money) (Money, error) {
	if m.symbol != other.symbol {
		return m, ErrDifferentCurrencies
	}
	return Money{amount: m.amount.Sub(other.amount), symbol: m.symbol}, nil
}

// Cmp returns -1, 0 or +1 like decimal.Decimal.Cmp
func (m Money) Cmp(other Money) (int, error) {
	if m.symbol != other.symbol {
		return 0, ErrDifferentCurrencies
	}
	return m.amount.Cmp(other.amount), nil
}

func (m Money) LessThan(other Money) (bool, error) {
	n, err := m.Cmp(other)
	return n < 0, err
}

// Value returns the numeric portion as it's stored, without the currency.
func (m Money) Value() string {
	if m.amount.Exponent() >= -2 {
		return m.amount.StringFixed(2)
	}
	return m.amount.String()
}

// String returns an amount formatted with the currency.
// Examples:
//
//	USD 12.53
//	GBP 4.02
func (m Money) String() string {
	if m.symbol == "" {
		return "USD 0.00"
	}
	return fmt.Sprintf("%s %s", m.symbol, m.Value())
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
