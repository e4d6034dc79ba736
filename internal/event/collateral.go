package event

import "github.com/google/uuid"

// CollateralDeposit is emitted when a holding/marker pair is created.
type CollateralDeposit struct {
	CollateralID uuid.UUID `json:"collateral_id"`
	MarkerID     uuid.UUID `json:"collateral_marker_id"`
	AccountID    uuid.UUID `json:"account_id"`
	TokenIndex   uint64    `json:"token_index"`
	Amount       uint64    `json:"amount"`
}

func (e *CollateralDeposit) EventType() Type    { return TypeCollateralDeposit }
func (e *CollateralDeposit) Account() uuid.UUID { return e.AccountID }

// CollateralWithdraw is emitted when funds leave a holding. Closed reports
// whether the pair was destroyed.
type CollateralWithdraw struct {
	CollateralID uuid.UUID `json:"collateral_id"`
	MarkerID     uuid.UUID `json:"collateral_marker_id"`
	AccountID    uuid.UUID `json:"account_id"`
	TokenIndex   uint64    `json:"token_index"`
	Amount       uint64    `json:"amount"`
	Closed       bool      `json:"closed"`
}

func (e *CollateralWithdraw) EventType() Type    { return TypeCollateralWithdraw }
func (e *CollateralWithdraw) Account() uuid.UUID { return e.AccountID }

// CollateralCombine is emitted when two holdings of one token merge.
type CollateralCombine struct {
	SurvivorID uuid.UUID `json:"survivor_collateral_id"`
	AbsorbedID uuid.UUID `json:"absorbed_collateral_id"`
	AccountID  uuid.UUID `json:"account_id"`
	TokenIndex uint64    `json:"token_index"`
	Amount     uint64    `json:"amount"` // combined amount after merge
}

func (e *CollateralCombine) EventType() Type    { return TypeCollateralCombine }
func (e *CollateralCombine) Account() uuid.UUID { return e.AccountID }

// CollateralValuationStarted is emitted when a valuation pass over an
// account's collateral begins, carrying the count the pass must reach.
type CollateralValuationStarted struct {
	AccountID     uuid.UUID `json:"account_id"`
	ProgramID     uuid.UUID `json:"program_id"`
	ExpectedCount uint64    `json:"num_open_collateral_objects"`
}

func (e *CollateralValuationStarted) EventType() Type    { return TypeCollateralValuationStarted }
func (e *CollateralValuationStarted) Account() uuid.UUID { return e.AccountID }

// CollateralTransferCreated is emitted when settlement reserves part of a
// marker for a vault.
type CollateralTransferCreated struct {
	TransferID       uuid.UUID `json:"transfer_id"`
	MarkerID         uuid.UUID `json:"collateral_marker_id"`
	AccountID        uuid.UUID `json:"account_id"`
	TokenIndex       uint64    `json:"token_index"`
	Amount           uint64    `json:"amount"`
	DestinationVault uuid.UUID `json:"destination_vault"`
}

func (e *CollateralTransferCreated) EventType() Type    { return TypeCollateralTransferCreated }
func (e *CollateralTransferCreated) Account() uuid.UUID { return e.AccountID }

// CollateralMarkerLiquidated is emitted per marker swept by a liquidation.
type CollateralMarkerLiquidated struct {
	MarkerID   uuid.UUID `json:"collateral_marker_id"`
	AccountID  uuid.UUID `json:"account_id"`
	TokenIndex uint64    `json:"token_index"`
	Amount     uint64    `json:"amount"`
	VaultID    uuid.UUID `json:"vault_id"`
}

func (e *CollateralMarkerLiquidated) EventType() Type    { return TypeCollateralMarkerLiquidated }
func (e *CollateralMarkerLiquidated) Account() uuid.UUID { return e.AccountID }
