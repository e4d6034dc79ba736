package event

import "github.com/google/uuid"

// NewAccount is emitted when an account and its counters are created.
type NewAccount struct {
	AccountID uuid.UUID `json:"account_id"`
	ProgramID uuid.UUID `json:"program_id"`
}

func (e *NewAccount) EventType() Type    { return TypeNewAccount }
func (e *NewAccount) Account() uuid.UUID { return e.AccountID }

// AccountLiquidated is emitted once per completed liquidation sweep.
type AccountLiquidated struct {
	AccountID      uuid.UUID `json:"account_id"`
	PositionsWiped uint64    `json:"positions_wiped"`
	HoldingsSwept  uint64    `json:"holdings_swept"`
	Equity         int64     `json:"equity"`
}

func (e *AccountLiquidated) EventType() Type    { return TypeAccountLiquidated }
func (e *AccountLiquidated) Account() uuid.UUID { return e.AccountID }
