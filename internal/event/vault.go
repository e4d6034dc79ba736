package event

import "github.com/google/uuid"

// VaultCreated is emitted when a liquidity vault is registered.
type VaultCreated struct {
	VaultID    uuid.UUID `json:"vault_id"`
	TokenIndex uint64    `json:"token_index"`
}

func (e *VaultCreated) EventType() Type    { return TypeVaultCreated }
func (e *VaultCreated) Account() uuid.UUID { return uuid.Nil }

// VaultDeposit is emitted when an LP deposit mints shares.
type VaultDeposit struct {
	VaultID  uuid.UUID `json:"vault_id"`
	Amount   uint64    `json:"amount"`
	LPMinted uint64    `json:"lp_minted"`
	Reserve  uint64    `json:"reserve"`
	LPSupply uint64    `json:"lp_supply"`
}

func (e *VaultDeposit) EventType() Type    { return TypeVaultDeposit }
func (e *VaultDeposit) Account() uuid.UUID { return uuid.Nil }

// VaultWithdraw is emitted when an LP burn pays out reserve.
type VaultWithdraw struct {
	VaultID   uuid.UUID `json:"vault_id"`
	LPBurned  uint64    `json:"lp_burned"`
	AmountOut uint64    `json:"amount_out"`
	Reserve   uint64    `json:"reserve"`
	LPSupply  uint64    `json:"lp_supply"`
}

func (e *VaultWithdraw) EventType() Type    { return TypeVaultWithdraw }
func (e *VaultWithdraw) Account() uuid.UUID { return uuid.Nil }

// VaultTransferCreated is emitted when settlement pays a user out of a vault.
type VaultTransferCreated struct {
	VaultID    uuid.UUID `json:"vault_id"`
	AccountID  uuid.UUID `json:"account_id"`
	TokenIndex uint64    `json:"token_index"`
	Amount     uint64    `json:"amount"`
	Value      uint64    `json:"value"` // shared-decimal value of the payout
}

func (e *VaultTransferCreated) EventType() Type    { return TypeVaultTransferCreated }
func (e *VaultTransferCreated) Account() uuid.UUID { return e.AccountID }
