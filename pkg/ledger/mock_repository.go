// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
)

// MockRepository keeps accounts in memory with the same versioning rules as the
// SQL implementation.
type MockRepository struct {
	mu        sync.Mutex
	investors map[id.Investor]InvestorAccount
	funds     map[id.Fund]FundAccount

	// Conflicts is how many of the next updates fail with ErrConcurrentModification
	Conflicts int

	Err error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		investors: make(map[id.Investor]InvestorAccount),
		funds:     make(map[id.Fund]FundAccount),
	}
}

func (r *MockRepository) CreateInvestor(acct *InvestorAccount) error {
	if r.Err != nil {
		return r.Err
	}
	if err := acct.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	acct.Version, acct.Created, acct.Modified = 1, time.Now(), time.Now()
	r.investors[acct.ID] = *acct
	return nil
}

func (r *MockRepository) GetInvestor(investorID id.Investor) (*InvestorAccount, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct, exists := r.investors[investorID]; exists {
		return &acct, nil
	}
	return nil, fmt.Errorf("investor %s: %w", investorID, ErrAccountNotFound)
}

func (r *MockRepository) GetInvestorByExternalID(externalID string) (*InvestorAccount, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acct := range r.investors {
		if acct.ExternalID == externalID {
			return &acct, nil
		}
	}
	return nil, fmt.Errorf("investor %s: %w", externalID, ErrAccountNotFound)
}

func (r *MockRepository) UpdateInvestorBalance(investorID id.Investor, balance model.Money, expectedVersion int64) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, exists := r.investors[investorID]
	if !exists || acct.Version != expectedVersion || r.conflict() {
		return fmt.Errorf("investor=%s version=%d: %w", investorID, expectedVersion, ErrConcurrentModification)
	}
	acct.Balance = balance
	acct.Version++
	acct.Modified = time.Now()
	r.investors[investorID] = acct
	return nil
}

func (r *MockRepository) CreateFund(acct *FundAccount) error {
	if r.Err != nil {
		return r.Err
	}
	if err := acct.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	acct.Version, acct.Created, acct.Modified = 1, time.Now(), time.Now()
	r.funds[acct.ID] = *acct
	return nil
}

func (r *MockRepository) GetFund(fundID id.Fund) (*FundAccount, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct, exists := r.funds[fundID]; exists {
		return &acct, nil
	}
	return nil, fmt.Errorf("fund %s: %w", fundID, ErrAccountNotFound)
}

func (r *MockRepository) GetFundByExternalID(externalID string) (*FundAccount, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acct := range r.funds {
		if acct.ExternalID == externalID {
			return &acct, nil
		}
	}
	return nil, fmt.Errorf("fund %s: %w", externalID, ErrAccountNotFound)
}

func (r *MockRepository) UpdateFund(fundID id.Fund, balance model.Money, seats int, expectedVersion int64) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, exists := r.funds[fundID]
	if !exists || acct.Version != expectedVersion || r.conflict() {
		return fmt.Errorf("fund=%s version=%d: %w", fundID, expectedVersion, ErrConcurrentModification)
	}
	acct.Balance = balance
	acct.SeatAvailability = seats
	acct.Version++
	acct.Modified = time.Now()
	r.funds[fundID] = acct
	return nil
}

func (r *MockRepository) conflict() bool {
	if r.Conflicts > 0 {
		r.Conflicts--
		return true
	}
	return false
}
