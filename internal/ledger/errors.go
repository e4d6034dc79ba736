package ledger

import "errors"

// Every failure below is a hard precondition: the enclosing operation aborts
// with zero side effects and the caller must resupply corrected inputs.

// Identity errors — cross-entity references don't line up.
var (
	ErrAccountProgramMismatch  = errors.New("ledger: account does not belong to program")
	ErrAccountCountersMismatch = errors.New("ledger: counters do not belong to account")
	ErrOwnerMismatch           = errors.New("ledger: entity does not belong to account")
	ErrCombineLinkMismatch     = errors.New("ledger: holding and marker are not cross-linked")
)

// Accounting errors — a ledger invariant would be violated.
var (
	ErrValueTrackingError    = errors.New("ledger: marker value does not track holding amount")
	ErrCountMismatch         = errors.New("ledger: entity count does not match counters")
	ErrInsufficientRemaining = errors.New("ledger: amount exceeds remaining collateral")
	ErrTransferAlreadyFilled = errors.New("ledger: pending transfer already executed")
)

// Solvency errors — the economic precondition isn't met.
var (
	ErrNoRemainingCollateral     = errors.New("ledger: no free collateral remaining")
	ErrInsufficientInitialMargin = errors.New("ledger: free collateral below initial margin")
	ErrAccountSolvent            = errors.New("ledger: account equity is positive")
)

// Freshness errors — supplied valuations are not current enough to trust.
var (
	ErrIncompleteValuation = errors.New("ledger: valuation did not visit every entity")
	ErrValuationTooOld     = errors.New("ledger: valuation entry outside staleness window")
)
