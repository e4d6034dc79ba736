package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"pismocore/internal/program"
)

// Holding is the collateral value itself: the token amount an account has
// posted. It is paired 1:1 with a Marker via MarkerID/HoldingID cross-links.
type Holding struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	ProgramID  uuid.UUID
	MarkerID   uuid.UUID
	TokenIndex uint64
	Amount     uint64
}

// Marker is the accounting record for a holding: how much of it is still
// unreserved, and the most recent shared-decimal valuation of that remainder.
// CachedValue is authoritative only while now - CachedValueAt stays inside the
// oracle staleness window.
type Marker struct {
	ID              uuid.UUID
	HoldingID       uuid.UUID
	AccountID       uuid.UUID
	TokenIndex      uint64
	RemainingAmount uint64
	CachedValue     uint64
	CachedValueAt   int64
}

// PendingTransfer reserves part of a marker for a vault. The reservation
// decrements RemainingAmount immediately; the underlying funds move when the
// transfer is executed, exactly once.
type PendingTransfer struct {
	ID               uuid.UUID
	MarkerID         uuid.UUID
	HoldingID        uuid.UUID
	TokenIndex       uint64
	Amount           uint64
	Fulfilled        bool
	DestinationVault uuid.UUID
}

// Deposit posts token funds as new collateral, creating a linked
// holding/marker pair and incrementing the account's collateral count.
// Rejects unsupported and deprecated tokens.
func Deposit(acct *Account, counters *AccountCounters, prog *program.Program, tokenIndex uint64, amount uint64) (*Holding, *Marker, error) {
	if err := acct.AssertProgram(prog); err != nil {
		return nil, nil, err
	}
	if err := acct.AssertCounters(counters); err != nil {
		return nil, nil, err
	}

	tok, err := prog.CollateralToken(tokenIndex)
	if err != nil {
		return nil, nil, err
	}
	if tok.Deprecated {
		return nil, nil, fmt.Errorf("%w: %s", program.ErrCollateralDeprecated, tok.Symbol)
	}

	h := &Holding{
		ID:         uuid.New(),
		AccountID:  acct.ID,
		ProgramID:  prog.ID,
		TokenIndex: tokenIndex,
		Amount:     amount,
	}
	m := &Marker{
		ID:              uuid.New(),
		HoldingID:       h.ID,
		AccountID:       acct.ID,
		TokenIndex:      tokenIndex,
		RemainingAmount: amount,
	}
	h.MarkerID = m.ID

	counters.IncrementCollateralCount()
	return h, m, nil
}

// assertLinked checks a holding/marker pair is cross-linked both ways.
func assertLinked(h *Holding, m *Marker) error {
	if h.MarkerID != m.ID || m.HoldingID != h.ID {
		return fmt.Errorf("%w: holding=%s marker=%s", ErrCombineLinkMismatch, h.ID, m.ID)
	}
	return nil
}

// Withdraw releases amount from the pair. If the marker's remainder hits
// zero the pair is destroyed: the caller must drop both entities and the
// collateral count is decremented here. Otherwise both persist.
func Withdraw(h *Holding, m *Marker, counters *AccountCounters, amount uint64) (closed bool, err error) {
	if err := assertLinked(h, m); err != nil {
		return false, err
	}
	if amount > m.RemainingAmount {
		return false, fmt.Errorf("%w: amount=%d remaining=%d", ErrInsufficientRemaining, amount, m.RemainingAmount)
	}
	if amount > h.Amount {
		return false, fmt.Errorf("%w: amount=%d holding=%d", ErrValueTrackingError, amount, h.Amount)
	}

	m.RemainingAmount -= amount
	h.Amount -= amount

	if m.RemainingAmount == 0 {
		if err := counters.DecrementCollateralCount(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Combine merges two holdings of the same token and account into the first
// pair, destroying the second. Each marker's remainder must equal its
// holding's actual amount (no outstanding reservations on either side).
// Net effect on the collateral count is -1.
func Combine(h1 *Holding, m1 *Marker, h2 *Holding, m2 *Marker, counters *AccountCounters) (*Holding, *Marker, error) {
	if err := assertLinked(h1, m1); err != nil {
		return nil, nil, err
	}
	if err := assertLinked(h2, m2); err != nil {
		return nil, nil, err
	}
	if h1.AccountID != h2.AccountID || m1.AccountID != h1.AccountID || m2.AccountID != h2.AccountID {
		return nil, nil, fmt.Errorf("%w: combine across accounts", ErrOwnerMismatch)
	}
	if h1.TokenIndex != h2.TokenIndex {
		return nil, nil, fmt.Errorf("%w: combine across tokens %d/%d", ErrCombineLinkMismatch, h1.TokenIndex, h2.TokenIndex)
	}
	if m1.RemainingAmount != h1.Amount || m2.RemainingAmount != h2.Amount {
		return nil, nil, fmt.Errorf("%w: outstanding reservations", ErrValueTrackingError)
	}

	h1.Amount += h2.Amount
	m1.RemainingAmount += m2.RemainingAmount
	m1.CachedValue = 0
	m1.CachedValueAt = 0

	if err := counters.DecrementCollateralCount(); err != nil {
		return nil, nil, err
	}
	return h1, m1, nil
}

// SetCachedValue records a fresh shared-decimal valuation of the marker's
// remainder. Called once per marker per valuation pass.
func (m *Marker) SetCachedValue(value uint64, nowMS int64) {
	m.CachedValue = value
	m.CachedValueAt = nowMS
}

// CreatePendingTransfer reserves amount of the marker's remainder for the
// named vault. The remainder drops immediately; the holding's funds move on
// execution.
func (m *Marker) CreatePendingTransfer(amount uint64, destinationVault uuid.UUID) (*PendingTransfer, error) {
	if amount > m.RemainingAmount {
		return nil, fmt.Errorf("%w: amount=%d remaining=%d", ErrInsufficientRemaining, amount, m.RemainingAmount)
	}
	m.RemainingAmount -= amount

	return &PendingTransfer{
		ID:               uuid.New(),
		MarkerID:         m.ID,
		HoldingID:        m.HoldingID,
		TokenIndex:       m.TokenIndex,
		Amount:           amount,
		DestinationVault: destinationVault,
	}, nil
}

// ExecuteTransfer moves the reserved funds out of the holding and marks the
// transfer fulfilled. A transfer executes exactly once.
func ExecuteTransfer(h *Holding, t *PendingTransfer) (uint64, error) {
	if t.Fulfilled {
		return 0, fmt.Errorf("%w: transfer=%s", ErrTransferAlreadyFilled, t.ID)
	}
	if t.HoldingID != h.ID {
		return 0, fmt.Errorf("%w: transfer=%s holding=%s", ErrCombineLinkMismatch, t.ID, h.ID)
	}
	if t.Amount > h.Amount {
		return 0, fmt.Errorf("%w: transfer=%d holding=%d", ErrValueTrackingError, t.Amount, h.Amount)
	}

	h.Amount -= t.Amount
	t.Fulfilled = true
	return t.Amount, nil
}
