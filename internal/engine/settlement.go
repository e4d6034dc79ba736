package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pismocore/internal/ledger"
	"pismocore/internal/oracle"
	"pismocore/internal/program"
	"pismocore/internal/vault"
)

// ErrMissingAssociatedVault is returned when settlement needs a vault for a
// collateral token type and none is registered, or when a credit to the user
// finds no vault holding any funds.
var ErrMissingAssociatedVault = errors.New("engine: no associated vault for settlement")

// CollateralAllocation is one marker reservation produced by a debt
// settlement.
type CollateralAllocation struct {
	Transfer *ledger.PendingTransfer
	Value    uint64 // shared-decimal value this reservation covers
}

// VaultPayout is one vault extraction produced by a credit settlement.
type VaultPayout struct {
	VaultID    uuid.UUID
	TokenIndex uint64
	Amount     uint64 // token amount extracted
	Value      uint64 // shared-decimal value of the share
}

// SettlementEngine allocates a single signed settlement value across an
// account's collateral markers and the pool vaults.
type SettlementEngine struct {
	prog    *program.Program
	adapter *oracle.Adapter
}

// NewSettlementEngine creates a settlement engine bound to one program.
func NewSettlementEngine(prog *program.Program, adapter *oracle.Adapter) *SettlementEngine {
	return &SettlementEngine{prog: prog, adapter: adapter}
}

// SettleToVault covers a debt of target (shared decimals) from the supplied
// markers, in caller order: a marker whose cached value is below the
// remainder is reserved in full; the marker that covers the rest is reserved
// only for the exact token amount whose value equals the remainder, and the
// loop stops.
//
// Every touched collateral token must have a registered vault, and every
// marker a fresh price — both validated for ALL markers before any marker is
// mutated, so a failure leaves the ledger untouched. Returns the
// reservations and the value actually covered, which is min(target, total
// marker value).
func (s *SettlementEngine) SettleToVault(
	markers []*ledger.Marker,
	target uint64,
	vaults map[uint64]*vault.Vault,
	prices map[uint64]oracle.PriceData,
	nowMS int64,
) ([]CollateralAllocation, uint64, error) {
	if target == 0 {
		return nil, 0, nil
	}

	// Validation pass: vault, price, and cache freshness for every marker.
	for _, m := range markers {
		if _, ok := vaults[m.TokenIndex]; !ok {
			return nil, 0, fmt.Errorf("%w: token_index=%d", ErrMissingAssociatedVault, m.TokenIndex)
		}
		tok, err := s.prog.CollateralToken(m.TokenIndex)
		if err != nil {
			return nil, 0, err
		}
		pd, ok := prices[m.TokenIndex]
		if !ok {
			return nil, 0, fmt.Errorf("%w: no price for %s", oracle.ErrStaleOracleData, tok.Symbol)
		}
		if err := s.adapter.Validate(pd, nowMS); err != nil {
			return nil, 0, err
		}
		if err := s.adapter.AssertFeed(tok, pd); err != nil {
			return nil, 0, err
		}
		if m.CachedValue != 0 && nowMS-m.CachedValueAt > s.adapter.MaxPriceAgeMS() {
			return nil, 0, fmt.Errorf("%w: marker=%s", ledger.ErrValuationTooOld, m.ID)
		}
	}

	var (
		allocations []CollateralAllocation
		covered     uint64
	)
	remaining := target

	for _, m := range markers {
		if remaining == 0 {
			break
		}
		dest := vaults[m.TokenIndex]

		if m.CachedValue < remaining {
			// Exhaust this marker entirely and keep going.
			t, err := m.CreatePendingTransfer(m.RemainingAmount, dest.ID)
			if err != nil {
				return nil, 0, err
			}
			allocations = append(allocations, CollateralAllocation{Transfer: t, Value: m.CachedValue})
			covered += m.CachedValue
			remaining -= m.CachedValue
			continue
		}

		// This marker covers the remainder: reserve only the exact amount.
		tok, _ := s.prog.CollateralToken(m.TokenIndex)
		amt, err := s.adapter.AmountForTargetValue(tok, prices[m.TokenIndex], remaining, s.prog.SharedDecimals, tok.Decimals)
		if err != nil {
			return nil, 0, err
		}
		value := remaining
		if amt > m.RemainingAmount {
			// Cached value overstated the balance. Reserve what is actually
			// there, credit only its real value, and let later markers cover
			// the rest.
			amt = m.RemainingAmount
			value, err = s.adapter.Value(tok, prices[m.TokenIndex], amt, s.prog.SharedDecimals)
			if err != nil {
				return nil, 0, err
			}
			if value > remaining {
				value = remaining
			}
		}
		t, err := m.CreatePendingTransfer(amt, dest.ID)
		if err != nil {
			return nil, 0, err
		}
		allocations = append(allocations, CollateralAllocation{Transfer: t, Value: value})
		covered += value
		remaining -= value
	}

	return allocations, covered, nil
}

// SettleToUser pays a credit of target (shared decimals) out of the funded
// vaults: the value splits evenly across every vault with a non-zero reserve,
// floor division, with the residue assigned to the first funded vault. Each
// share converts to a token amount at that vault token's price. All amounts
// are computed and bounds-checked before any reserve moves.
func (s *SettlementEngine) SettleToUser(
	target uint64,
	vaults []*vault.Vault,
	prices map[uint64]oracle.PriceData,
	nowMS int64,
) ([]VaultPayout, error) {
	if target == 0 {
		return nil, nil
	}

	var funded []*vault.Vault
	for _, v := range vaults {
		if v.Reserve > 0 {
			funded = append(funded, v)
		}
	}
	if len(funded) == 0 {
		return nil, fmt.Errorf("%w: credit of %d with no funded vault", ErrMissingAssociatedVault, target)
	}

	n := uint64(len(funded))
	share := target / n
	residue := target % n

	payouts := make([]VaultPayout, 0, n)
	for i, v := range funded {
		value := share
		if i == 0 {
			value += residue
		}

		tok, err := s.prog.CollateralToken(v.TokenIndex)
		if err != nil {
			return nil, err
		}
		pd, ok := prices[v.TokenIndex]
		if !ok {
			return nil, fmt.Errorf("%w: no price for %s", oracle.ErrStaleOracleData, tok.Symbol)
		}
		if err := s.adapter.Validate(pd, nowMS); err != nil {
			return nil, err
		}

		amt, err := s.adapter.AmountForTargetValue(tok, pd, value, s.prog.SharedDecimals, tok.Decimals)
		if err != nil {
			return nil, err
		}
		if amt > v.Reserve {
			return nil, fmt.Errorf("%w: payout=%d reserve=%d vault=%s", vault.ErrInsufficientReserve, amt, v.Reserve, v.ID)
		}
		payouts = append(payouts, VaultPayout{
			VaultID:    v.ID,
			TokenIndex: v.TokenIndex,
			Amount:     amt,
			Value:      value,
		})
	}

	// All shares computed and checked; move the reserves.
	for i, v := range funded {
		if err := v.ExtractCoin(payouts[i].Amount); err != nil {
			return nil, err
		}
	}
	return payouts, nil
}
