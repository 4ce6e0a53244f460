// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package model

import (
	"encoding/json"
	"testing"
)

func TestMoney(t *testing.T) {
	amt, err := NewMoney("USD", "12.00")
	if err != nil {
		t.Fatal(err)
	}
	if v := amt.String(); v != "USD 12.00" {
		t.Errorf("got %q", v)
	}

	amt, err = NewMoney("usd", "12")
	if err != nil {
		t.Fatal(err)
	}
	if v := amt.String(); v != "USD 12.00" {
		t.Errorf("got %q", v)
	}

	// sub-cent precision is kept
	amt, err = NewMoney("USD", "0.125")
	if err != nil {
		t.Fatal(err)
	}
	if v := amt.String(); v != "USD 0.125" {
		t.Errorf("got %q", v)
	}

	// invalid
	if _, err := NewMoney("", "1.00"); err == nil {
		t.Error("expected error")
	}
	if _, err := NewMoney("USD", "abc"); err == nil {
		t.Error("expected error")
	}

	// very large number
	amt, err = NewMoney("USD", "10000000000000000.20")
	if err != nil {
		t.Fatal(err)
	}
	if v := amt.String(); v != "USD 10000000000000000.20" {
		t.Errorf("got %q", v)
	}
}

func TestMoney__Arithmetic(t *testing.T) {
	balance, _ := NewMoney("USD", "1000")
	amt, _ := NewMoney("USD", "100")

	out, err := balance.Sub(amt)
	if err != nil {
		t.Fatal(err)
	}
	if v := out.String(); v != "USD 900.00" {
		t.Errorf("got %q", v)
	}

	out, err = out.Add(amt)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(balance) {
		t.Errorf("expected %v got %v", balance, out)
	}

	less, err := amt.LessThan(balance)
	if err != nil || !less {
		t.Errorf("less=%v err=%v", less, err)
	}

	gbp, _ := NewMoney("GBP", "1")
	if _, err := balance.Add(gbp); err != ErrDifferentCurrencies {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := balance.Cmp(gbp); err != ErrDifferentCurrencies {
		t.Errorf("unexpected error: %v", err)
	}
	if balance.Equal(gbp) {
		t.Error("different currencies are never equal")
	}
}

func TestMoney__Signs(t *testing.T) {
	zero := Zero("USD")
	if !zero.IsZero() || zero.IsPositive() || zero.IsNegative() {
		t.Errorf("unexpected zero: %v", zero)
	}
	neg, _ := NewMoney("USD", "-1.50")
	if !neg.IsNegative() {
		t.Errorf("expected negative: %v", neg)
	}
	if err := (Money{}).Validate(); err == nil {
		t.Error("expected error")
	}
}

func TestMoney__JSON(t *testing.T) {
	var wrapper struct {
		Amount Money `json:"amount"`
	}
	if err := json.Unmarshal([]byte(`{"amount": "USD 12.53"}`), &wrapper); err != nil {
		t.Fatal(err)
	}
	if v := wrapper.Amount.String(); v != "USD 12.53" {
		t.Errorf("got %q", v)
	}

	bs, err := json.Marshal(wrapper)
	if err != nil {
		t.Fatal(err)
	}
	if v := string(bs); v != `{"amount":"USD 12.53"}` {
		t.Errorf("got %q", v)
	}

	if err := json.Unmarshal([]byte(`{"amount": "12.53"}`), &wrapper); err == nil {
		t.Error("expected error")
	}
}
