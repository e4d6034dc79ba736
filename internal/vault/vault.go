// Package vault implements the single-asset liquidity pool that backs
// position settlement. LP shares price at reserve/lp_supply; deposits and
// withdrawals mint and burn proportionally, and the no-LP DepositCoin and
// ExtractCoin variants move settlement funds without touching the share
// supply.
package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

var (
	// ErrZeroMintAmount guards against deposits too small to earn any share
	// at the current reserve ratio.
	ErrZeroMintAmount = errors.New("vault: deposit would mint zero shares")

	// ErrInsufficientReserve is returned when an extraction exceeds the
	// vault's reserve.
	ErrInsufficientReserve = errors.New("vault: amount exceeds reserve")

	// ErrInsufficientLPSupply is returned when a burn exceeds the live share
	// supply.
	ErrInsufficientLPSupply = errors.New("vault: lp amount exceeds supply")

	// ErrVaultDeprecated is returned when LP funds are deposited into a
	// deprecated vault.
	ErrVaultDeprecated = errors.New("vault: vault is deprecated")

	// ErrUnbackedReserve is returned when an LP deposit targets a vault whose
	// reserve is held by no shares. Minting there would hand the existing
	// reserve to the first depositor for free.
	ErrUnbackedReserve = errors.New("vault: reserve is not backed by lp shares")
)

// Vault is one pooled liquidity vault for a single token type.
//
// A settlement inflow can land in a vault before any LP has funded it,
// leaving Reserve > 0 with LPSupply == 0. That unbacked reserve still pays
// settlement credits through ExtractCoin, but Deposit refuses to mint against
// it: the first LP share must never be worth more than its own deposit.
type Vault struct {
	ID         uuid.UUID
	TokenIndex uint64
	Reserve    uint64
	LPSupply   uint64
	Deprecated bool
}

// New creates an empty vault for a token type.
func New(tokenIndex uint64) *Vault {
	return &Vault{
		ID:         uuid.New(),
		TokenIndex: tokenIndex,
	}
}

// Deposit adds amount to the reserve and mints proportional LP shares:
// amount itself for the first deposit, floor(amount * supply / reserve)
// afterwards. Reserve and supply move atomically with the mint.
func (v *Vault) Deposit(amount uint64) (uint64, error) {
	if v.Deprecated {
		return 0, fmt.Errorf("%w: vault=%s", ErrVaultDeprecated, v.ID)
	}

	var minted uint64
	if v.LPSupply == 0 {
		if v.Reserve > 0 {
			return 0, fmt.Errorf("%w: reserve=%d", ErrUnbackedReserve, v.Reserve)
		}
		minted = amount
	} else {
		m := new(big.Int).SetUint64(amount)
		m.Mul(m, new(big.Int).SetUint64(v.LPSupply))
		m.Quo(m, new(big.Int).SetUint64(v.Reserve))
		if !m.IsUint64() {
			return 0, fmt.Errorf("vault %s: mint overflow", v.ID)
		}
		minted = m.Uint64()
	}

	if minted == 0 {
		return 0, fmt.Errorf("%w: amount=%d reserve=%d supply=%d", ErrZeroMintAmount, amount, v.Reserve, v.LPSupply)
	}

	v.Reserve += amount
	v.LPSupply += minted
	return minted, nil
}

// Withdraw burns lpAmount shares and pays out floor(lp * reserve / supply).
func (v *Vault) Withdraw(lpAmount uint64) (uint64, error) {
	if lpAmount > v.LPSupply {
		return 0, fmt.Errorf("%w: lp=%d supply=%d", ErrInsufficientLPSupply, lpAmount, v.LPSupply)
	}
	if v.LPSupply == 0 {
		return 0, fmt.Errorf("%w: empty vault", ErrInsufficientLPSupply)
	}

	out := new(big.Int).SetUint64(lpAmount)
	out.Mul(out, new(big.Int).SetUint64(v.Reserve))
	out.Quo(out, new(big.Int).SetUint64(v.LPSupply))
	amount := out.Uint64()

	v.Reserve -= amount
	v.LPSupply -= lpAmount
	return amount, nil
}

// DepositCoin adds settlement funds to the reserve without minting shares.
// Existing LP shares appreciate by the deposited amount.
func (v *Vault) DepositCoin(amount uint64) {
	v.Reserve += amount
}

// ExtractCoin removes settlement funds from the reserve without burning
// shares. Existing LP shares absorb the loss.
func (v *Vault) ExtractCoin(amount uint64) error {
	if amount > v.Reserve {
		return fmt.Errorf("%w: amount=%d reserve=%d", ErrInsufficientReserve, amount, v.Reserve)
	}
	v.Reserve -= amount
	return nil
}

// Deprecate blocks further LP deposits. Settlement flows are unaffected.
func (v *Vault) Deprecate() {
	v.Deprecated = true
}
