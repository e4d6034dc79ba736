package engine_test

import (
	"errors"
	"testing"

	"pismocore/internal/engine"
	"pismocore/internal/ledger"
	"pismocore/internal/oracle"
	"pismocore/internal/program"
	"pismocore/internal/vault"
)

func newSettlementFixture(t *testing.T) (*engine.SettlementEngine, *program.Program) {
	t.Helper()
	collateral := []program.TokenDescriptor{
		{Symbol: "USDC", Decimals: 6, PriceFeedID: usdcFeed},
		{Symbol: "SOL", Decimals: 9, PriceFeedID: solFeed},
	}
	prog, err := program.New(collateral, nil, 6, nil)
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	return engine.NewSettlementEngine(prog, oracle.NewAdapter(60_000)), prog
}

// usdcMarker builds a holding/marker pair with a fresh cached valuation. For
// USDC at $1.00 the cached value equals the unit amount.
func usdcMarker(t *testing.T, prog *program.Program, amount uint64) (*ledger.Holding, *ledger.Marker) {
	t.Helper()
	acct, counters := ledger.OpenAccount(prog.ID)
	h, m, err := ledger.Deposit(acct, counters, prog, usdcIndex, amount)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	m.SetCachedValue(amount, nowMS)
	return h, m
}

// ============================================================================
// Test: SettleToVault
// ============================================================================

func TestSettleToVault_CallerOrderIsAuthoritative(t *testing.T) {
	se, prog := newSettlementFixture(t)
	vaults := map[uint64]*vault.Vault{usdcIndex: vault.New(usdcIndex)}
	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	_, small := usdcMarker(t, prog, 30*usdc)
	_, large := usdcMarker(t, prog, 100*usdc)

	// Small first: it is exhausted, then the large marker covers the rest.
	allocs, covered, err := se.SettleToVault(
		[]*ledger.Marker{small, large}, 50*usdc, vaults, prices, nowMS,
	)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if covered != 50*usdc {
		t.Errorf("got covered %d, want %d", covered, 50*usdc)
	}
	if len(allocs) != 2 {
		t.Fatalf("got %d allocations, want 2", len(allocs))
	}
	if allocs[0].Transfer.Amount != 30*usdc || allocs[1].Transfer.Amount != 20*usdc {
		t.Errorf("got amounts %d/%d, want 30/20 USDC",
			allocs[0].Transfer.Amount, allocs[1].Transfer.Amount)
	}
	if small.RemainingAmount != 0 {
		t.Error("small marker must be fully reserved")
	}
	if large.RemainingAmount != 80*usdc {
		t.Errorf("got large remaining %d, want %d", large.RemainingAmount, 80*usdc)
	}
}

func TestSettleToVault_ReversedOrderTouchesOneMarker(t *testing.T) {
	se, prog := newSettlementFixture(t)
	vaults := map[uint64]*vault.Vault{usdcIndex: vault.New(usdcIndex)}
	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	_, small := usdcMarker(t, prog, 30*usdc)
	_, large := usdcMarker(t, prog, 100*usdc)

	// Large first: it covers the whole target and the small one is untouched.
	allocs, covered, err := se.SettleToVault(
		[]*ledger.Marker{large, small}, 50*usdc, vaults, prices, nowMS,
	)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if covered != 50*usdc || len(allocs) != 1 {
		t.Fatalf("got covered=%d allocs=%d, want 50 USDC in one allocation", covered, len(allocs))
	}
	if small.RemainingAmount != 30*usdc {
		t.Error("small marker must be untouched")
	}
	if large.RemainingAmount != 50*usdc {
		t.Errorf("got large remaining %d, want %d", large.RemainingAmount, 50*usdc)
	}
}

func TestSettleToVault_ShortfallCoversWhatExists(t *testing.T) {
	se, prog := newSettlementFixture(t)
	vaults := map[uint64]*vault.Vault{usdcIndex: vault.New(usdcIndex)}
	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	_, only := usdcMarker(t, prog, 30*usdc)

	allocs, covered, err := se.SettleToVault(
		[]*ledger.Marker{only}, 50*usdc, vaults, prices, nowMS,
	)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if covered != 30*usdc || len(allocs) != 1 {
		t.Errorf("got covered=%d allocs=%d, want all 30 USDC", covered, len(allocs))
	}
	if only.RemainingAmount != 0 {
		t.Error("the marker must be fully reserved")
	}
}

func TestSettleToVault_DriftedCacheCreditsActualValue(t *testing.T) {
	se, prog := newSettlementFixture(t)
	vaults := map[uint64]*vault.Vault{usdcIndex: vault.New(usdcIndex)}
	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	// The first marker's cache claims $100 but only 30 USDC remains; the
	// coverage it reports must be the value of what was actually reserved, and
	// the shortfall must fall through to the next marker.
	_, drifted := usdcMarker(t, prog, 30*usdc)
	drifted.SetCachedValue(100*usdc, nowMS)
	_, backup := usdcMarker(t, prog, 100*usdc)

	allocs, covered, err := se.SettleToVault(
		[]*ledger.Marker{drifted, backup}, 50*usdc, vaults, prices, nowMS,
	)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if covered != 50*usdc {
		t.Errorf("got covered %d, want %d", covered, 50*usdc)
	}
	if len(allocs) != 2 {
		t.Fatalf("got %d allocations, want 2", len(allocs))
	}
	if allocs[0].Transfer.Amount != 30*usdc || allocs[0].Value != 30*usdc {
		t.Errorf("got amount=%d value=%d, want 30 USDC both",
			allocs[0].Transfer.Amount, allocs[0].Value)
	}
	if allocs[1].Transfer.Amount != 20*usdc || allocs[1].Value != 20*usdc {
		t.Errorf("got amount=%d value=%d, want 20 USDC both",
			allocs[1].Transfer.Amount, allocs[1].Value)
	}
}

func TestSettleToVault_ZeroTargetIsNoop(t *testing.T) {
	se, prog := newSettlementFixture(t)
	_, m := usdcMarker(t, prog, 30*usdc)

	allocs, covered, err := se.SettleToVault([]*ledger.Marker{m}, 0, nil, nil, nowMS)
	if err != nil || allocs != nil || covered != 0 {
		t.Errorf("got allocs=%v covered=%d err=%v, want nothing", allocs, covered, err)
	}
}

func TestSettleToVault_MissingVaultFailsBeforeMutation(t *testing.T) {
	se, prog := newSettlementFixture(t)
	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	_, first := usdcMarker(t, prog, 100*usdc)

	// Second marker is SOL with no registered vault.
	acct, counters := ledger.OpenAccount(prog.ID)
	_, solM, err := ledger.Deposit(acct, counters, prog, solIndex, 1*sol)
	if err != nil {
		t.Fatal(err)
	}
	solM.SetCachedValue(100*usdc, nowMS)

	vaults := map[uint64]*vault.Vault{usdcIndex: vault.New(usdcIndex)}
	_, _, err = se.SettleToVault(
		[]*ledger.Marker{first, solM}, 150*usdc, vaults, prices, nowMS,
	)
	if !errors.Is(err, engine.ErrMissingAssociatedVault) {
		t.Fatalf("got %v, want ErrMissingAssociatedVault", err)
	}
	// The first marker would have been reserved in full; the validation pass
	// must fail before that happens.
	if first.RemainingAmount != 100*usdc {
		t.Error("failed settlement must not reserve any marker")
	}
}

func TestSettleToVault_StaleCachedValue(t *testing.T) {
	se, prog := newSettlementFixture(t)
	vaults := map[uint64]*vault.Vault{usdcIndex: vault.New(usdcIndex)}
	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	_, m := usdcMarker(t, prog, 100*usdc)
	m.SetCachedValue(100*usdc, nowMS-60_001)

	_, _, err := se.SettleToVault([]*ledger.Marker{m}, 50*usdc, vaults, prices, nowMS)
	if !errors.Is(err, ledger.ErrValuationTooOld) {
		t.Errorf("got %v, want ErrValuationTooOld", err)
	}
}

// ============================================================================
// Test: SettleToUser
// ============================================================================

func TestSettleToUser_EvenSplitWithResidueToFirst(t *testing.T) {
	se, _ := newSettlementFixture(t)

	v0 := vault.New(usdcIndex)
	v0.DepositCoin(1_000 * usdc)
	v1 := vault.New(solIndex)
	v1.DepositCoin(10 * sol)

	prices := map[uint64]oracle.PriceData{
		usdcIndex: usdcPrice(),
		solIndex:  solPrice(100 * usdc),
	}

	// An odd target of 101 shared units: 51 to the first funded vault, 50 to
	// the second.
	payouts, err := se.SettleToUser(101, []*vault.Vault{v0, v1}, prices, nowMS)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("got %d payouts, want 2", len(payouts))
	}
	if payouts[0].Value != 51 || payouts[1].Value != 50 {
		t.Errorf("got values %d/%d, want 51/50", payouts[0].Value, payouts[1].Value)
	}
	// 51 micro-dollars of USDC is 51 units; 50 micro-dollars of SOL at $100
	// is 500 lamports.
	if payouts[0].Amount != 51 || payouts[1].Amount != 500 {
		t.Errorf("got amounts %d/%d, want 51/500", payouts[0].Amount, payouts[1].Amount)
	}
	if v0.Reserve != 1_000*usdc-51 || v1.Reserve != 10*sol-500 {
		t.Errorf("reserves not debited: %d/%d", v0.Reserve, v1.Reserve)
	}
}

func TestSettleToUser_SkipsEmptyVaults(t *testing.T) {
	se, _ := newSettlementFixture(t)

	empty := vault.New(usdcIndex)
	funded := vault.New(solIndex)
	funded.DepositCoin(10 * sol)

	prices := map[uint64]oracle.PriceData{solIndex: solPrice(100 * usdc)}

	payouts, err := se.SettleToUser(50*usdc, []*vault.Vault{empty, funded}, prices, nowMS)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(payouts) != 1 || payouts[0].TokenIndex != solIndex {
		t.Fatalf("got %+v, want one SOL payout", payouts)
	}
	// $50 of SOL at $100 is 0.5 SOL.
	if payouts[0].Amount != sol/2 {
		t.Errorf("got amount %d, want %d", payouts[0].Amount, sol/2)
	}
}

func TestSettleToUser_NoFundedVault(t *testing.T) {
	se, _ := newSettlementFixture(t)
	empty := vault.New(usdcIndex)

	_, err := se.SettleToUser(50*usdc, []*vault.Vault{empty}, nil, nowMS)
	if !errors.Is(err, engine.ErrMissingAssociatedVault) {
		t.Errorf("got %v, want ErrMissingAssociatedVault", err)
	}
}

func TestSettleToUser_InsufficientReserveFailsCleanly(t *testing.T) {
	se, _ := newSettlementFixture(t)

	v0 := vault.New(usdcIndex)
	v0.DepositCoin(10 * usdc)

	prices := map[uint64]oracle.PriceData{usdcIndex: usdcPrice()}

	_, err := se.SettleToUser(50*usdc, []*vault.Vault{v0}, prices, nowMS)
	if !errors.Is(err, vault.ErrInsufficientReserve) {
		t.Fatalf("got %v, want ErrInsufficientReserve", err)
	}
	if v0.Reserve != 10*usdc {
		t.Error("failed payout must not debit the reserve")
	}
}
