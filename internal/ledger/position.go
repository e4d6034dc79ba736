package ledger

import (
	"fmt"

	"github.com/google/uuid"

	fpmath "pismocore/internal/math"
)

// Side is a position's direction.
type Side uint8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Direction names which way a settlement moves funds.
type Direction uint8

const (
	// ToVault: the user owes the pool.
	ToVault Direction = iota
	// ToUser: the pool owes the user.
	ToUser
)

func (d Direction) String() string {
	switch d {
	case ToVault:
		return "to_vault"
	case ToUser:
		return "to_user"
	default:
		return "unknown"
	}
}

// Position is one open leveraged position. A position has exactly two states:
// open (created by NewPosition) and closed (terminal, via Close, which the
// engine follows by destroying the record).
type Position struct {
	ID                 uuid.UUID
	Side               Side
	Size               uint64
	Leverage           uint16
	EntryPrice         uint64
	EntryPriceDecimals uint8
	MarketIndex        uint64
	AccountID          uuid.UUID
}

// NewPosition constructs an open position. The initial-margin gate is the
// caller's responsibility and must pass before construction.
func NewPosition(side Side, size uint64, leverage uint16, entryPrice uint64, entryPriceDecimals uint8, marketIndex uint64, accountID uuid.UUID) *Position {
	return &Position{
		ID:                 uuid.New(),
		Side:               side,
		Size:               size,
		Leverage:           leverage,
		EntryPrice:         entryPrice,
		EntryPriceDecimals: entryPriceDecimals,
		MarketIndex:        marketIndex,
		AccountID:          accountID,
	}
}

// Close computes the settlement instruction for exiting the position at the
// given price. The exit price is rescaled to the entry price's decimals so
// the delta and sign are evaluated on one scale.
//
// Direction truth table: long & price rose -> ToUser; long & fell -> ToVault;
// short & rose -> ToVault; short & fell -> ToUser. The returned amount is
// priceDelta * size * leverage, still denominated at entryPriceDecimals +
// token decimals; the settlement engine converts it to a shared-decimal value.
//
// Close performs no mutation: all checks happen here, and the caller destroys
// the position only after Close succeeds, so a close can never fail with the
// position already gone.
func (p *Position) Close(exitPrice uint64, exitPriceDecimals uint8) (Direction, uint64, uint64, error) {
	scaledExit, err := fpmath.Normalize(exitPrice, exitPriceDecimals, p.EntryPriceDecimals)
	if err != nil {
		return ToUser, 0, 0, fmt.Errorf("close position %s: %w", p.ID, err)
	}

	delta, rose := fpmath.PriceDelta(p.EntryPrice, scaledExit)

	var dir Direction
	switch {
	case p.Side == SideLong && rose:
		dir = ToUser
	case p.Side == SideLong && !rose:
		dir = ToVault
	case p.Side == SideShort && rose:
		dir = ToVault
	default: // short & fell
		dir = ToUser
	}

	amount, err := fpmath.TransferAmount(delta, p.Size, p.Leverage)
	if err != nil {
		return ToUser, 0, 0, fmt.Errorf("close position %s: %w", p.ID, err)
	}
	return dir, amount, delta, nil
}

// AssertOwner checks the position belongs to the account.
func (p *Position) AssertOwner(accountID uuid.UUID) error {
	if p.AccountID != accountID {
		return fmt.Errorf("%w: position=%s account=%s", ErrOwnerMismatch, p.ID, accountID)
	}
	return nil
}
