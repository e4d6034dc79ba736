// Package ledger holds the margin ledger's bookkeeping entities: accounts and
// their counters, collateral holdings with their accounting markers, open
// leveraged positions, pending transfers, and the valuation accumulator that
// proves a solvency check saw every entity exactly once.
//
// Entity mutators validate every precondition before touching state, so a
// failed call leaves all arguments unchanged. Atomicity across entities is the
// caller's responsibility (one logical writer per entity per operation).
package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"pismocore/internal/program"
)

// Account is a user's immutable identity within one trading program.
type Account struct {
	ID        uuid.UUID
	ProgramID uuid.UUID
}

// AccountCounters tracks the number of live positions and collateral
// holding/marker pairs for one account. It is a separate entity so counter
// updates do not require the account owner's capability; the increment and
// decrement methods below are its only legal writers.
type AccountCounters struct {
	AccountID              uuid.UUID
	OpenPositionCount      uint64
	CollateralHoldingCount uint64
}

// OpenAccount creates an account and its zeroed counters.
func OpenAccount(programID uuid.UUID) (*Account, *AccountCounters) {
	acct := &Account{
		ID:        uuid.New(),
		ProgramID: programID,
	}
	counters := &AccountCounters{AccountID: acct.ID}
	return acct, counters
}

// AssertProgram checks the account belongs to the supplied program.
func (a *Account) AssertProgram(p *program.Program) error {
	if a.ProgramID != p.ID {
		return fmt.Errorf("%w: account=%s program=%s", ErrAccountProgramMismatch, a.ID, p.ID)
	}
	return nil
}

// AssertCounters checks the counters belong to the account.
func (a *Account) AssertCounters(c *AccountCounters) error {
	if c.AccountID != a.ID {
		return fmt.Errorf("%w: account=%s counters_account=%s", ErrAccountCountersMismatch, a.ID, c.AccountID)
	}
	return nil
}

func (c *AccountCounters) IncrementPositionCount() {
	c.OpenPositionCount++
}

func (c *AccountCounters) DecrementPositionCount() error {
	if c.OpenPositionCount == 0 {
		return fmt.Errorf("%w: position count underflow", ErrCountMismatch)
	}
	c.OpenPositionCount--
	return nil
}

func (c *AccountCounters) IncrementCollateralCount() {
	c.CollateralHoldingCount++
}

func (c *AccountCounters) DecrementCollateralCount() error {
	if c.CollateralHoldingCount == 0 {
		return fmt.Errorf("%w: collateral count underflow", ErrCountMismatch)
	}
	c.CollateralHoldingCount--
	return nil
}

// Zero resets both counters. Only liquidation uses this.
func (c *AccountCounters) Zero() {
	c.OpenPositionCount = 0
	c.CollateralHoldingCount = 0
}
