// Package event defines the typed events the margin engine emits, one per
// state transition, for off-chain reconciliation. Events are append-only and
// are never read back by the engine.
package event

import (
	"github.com/google/uuid"
)

// Type discriminates event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeNewAccount
	TypeVaultCreated
	TypeVaultDeposit
	TypeVaultWithdraw
	TypeCollateralDeposit
	TypeCollateralWithdraw
	TypeCollateralCombine
	TypeCollateralValuationStarted
	TypeCollateralTransferCreated
	TypeVaultTransferCreated
	TypePositionOpened
	TypePositionClosed
	TypePositionLiquidated
	TypeCollateralMarkerLiquidated
	TypeAccountLiquidated
)

func (t Type) String() string {
	switch t {
	case TypeNewAccount:
		return "new_account"
	case TypeVaultCreated:
		return "vault_created"
	case TypeVaultDeposit:
		return "vault_deposit"
	case TypeVaultWithdraw:
		return "vault_withdraw"
	case TypeCollateralDeposit:
		return "collateral_deposit"
	case TypeCollateralWithdraw:
		return "collateral_withdraw"
	case TypeCollateralCombine:
		return "collateral_combine"
	case TypeCollateralValuationStarted:
		return "collateral_valuation_started"
	case TypeCollateralTransferCreated:
		return "collateral_transfer_created"
	case TypeVaultTransferCreated:
		return "vault_transfer_created"
	case TypePositionOpened:
		return "position_opened"
	case TypePositionClosed:
		return "position_closed"
	case TypePositionLiquidated:
		return "position_liquidated"
	case TypeCollateralMarkerLiquidated:
		return "collateral_marker_liquidated"
	case TypeAccountLiquidated:
		return "account_liquidated"
	default:
		return "unknown"
	}
}

// Event is the interface every payload implements.
type Event interface {
	// EventType returns the discriminator.
	EventType() Type

	// Account returns the account context, or uuid.Nil for account-less
	// events (vault lifecycle).
	Account() uuid.UUID
}

// Envelope wraps an emitted event with its position in the log.
type Envelope struct {
	Sequence  int64 `json:"sequence"`
	Type      Type  `json:"-"`
	Timestamp int64 `json:"timestamp"` // epoch milliseconds, from the per-call clock
	Payload   Event `json:"payload"`
}
