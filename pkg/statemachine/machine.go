// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

// Package statemachine holds a small value type for enforcing forward-only
// transitions between a fixed set of states.
//
// A Machine is a plain value and is meant to be embedded in the record it
// governs, so the record's state and its transition rules travel together.
package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized = errors.New("initial state already set")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNotInitialized     = errors.New("initial state not set")
)

// Table maps each state to the states it may move into. States without any
// targets are terminal (absorbing).
type Table[S ~string] map[S][]S

// Validate checks every target is also a state of the table.
func (t Table[S]) Validate() error {
	if len(t) == 0 {
		return errors.New("empty transition table")
	}
	for from, targets := range t {
		for i := range targets {
			if _, exists := t[targets[i]]; !exists {
				return fmt.Errorf("%s targets unknown state %s", from, targets[i])
			}
		}
	}
	return nil
}

func (t Table[S]) Allows(from, to S) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

type InvalidTransitionError[S ~string] struct {
	From, To S
}

func (e *InvalidTransitionError[S]) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError[S]) Unwrap() error {
	return ErrInvalidTransition
}

type Machine[S ~string] struct {
	current S
	table   Table[S]
}

// New returns a Machine without any state. SetInitial must be called before
// transitions are accepted.
func New[S ~string](table Table[S]) Machine[S] {
	return Machine[S]{table: table}
}

// NewAt returns a Machine already in state, used when reading records back from storage.
func NewAt[S ~string](table Table[S], state S) (Machine[S], error) {
	if _, exists := table[state]; !exists {
		return Machine[S]{}, fmt.Errorf("unknown state %q", state)
	}
	return Machine[S]{current: state, table: table}, nil
}

func (m *Machine[S]) SetInitial(state S) error {
	if m.current != "" {
		return ErrAlreadyInitialized
	}
	if _, exists := m.table[state]; !exists {
		return fmt.Errorf("unknown state %q", state)
	}
	m.current = state
	return nil
}

func (m Machine[S]) State() S {
	return m.current
}

// Can reports if the current state may move to target.
func (m Machine[S]) Can(target S) bool {
	if m.current == "" {
		return false
	}
	return m.table.Allows(m.current, target)
}

// Terminal is true once no further transitions are possible.
func (m Machine[S]) Terminal() bool {
	return m.current != "" && len(m.table[m.current]) == 0
}

// Transition moves into target. The current state is left unchanged on error.
func (m *Machine[S]) Transition(target S) error {
	if m.current == "" {
		return ErrNotInitialized
	}
	if !m.table.Allows(m.current, target) {
		return &InvalidTransitionError[S]{From: m.current, To: target}
	}
	m.current = target
	return nil
}
