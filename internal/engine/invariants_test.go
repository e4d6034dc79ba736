package engine_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"pismocore/internal/ledger"
)

// The account counters must equal the number of live entities after every
// operation, successful or not. A fixed-seed random walk over the public
// operation set checks this against the engine's own views.

func TestCounterInvariantUnderRandomOperations(t *testing.T) {
	eng, _ := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))

	if _, err := eng.CreateVault(usdcIndex, nowMS); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.VaultDeposit(usdcIndex, 100_000*usdc, nowMS); err != nil {
		t.Fatal(err)
	}

	acct, _ := eng.OpenAccount(nowMS)

	var markerIDs []uuid.UUID
	var positionIDs []uuid.UUID

	checkCounters := func(op string) {
		t.Helper()
		view, err := eng.AccountView(acct.ID)
		if err != nil {
			t.Fatalf("%s: account view: %v", op, err)
		}
		holdings, err := eng.HoldingViews(acct.ID)
		if err != nil {
			t.Fatalf("%s: holding views: %v", op, err)
		}
		positions, err := eng.PositionViews(acct.ID)
		if err != nil {
			t.Fatalf("%s: position views: %v", op, err)
		}
		if view.CollateralHoldingCount != uint64(len(holdings)) {
			t.Fatalf("%s: collateral counter %d vs %d live holdings", op, view.CollateralHoldingCount, len(holdings))
		}
		if view.OpenPositionCount != uint64(len(positions)) {
			t.Fatalf("%s: position counter %d vs %d live positions", op, view.OpenPositionCount, len(positions))
		}
	}

	refresh := func() {
		markerIDs = markerIDs[:0]
		holdings, err := eng.HoldingViews(acct.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, h := range holdings {
			markerIDs = append(markerIDs, h.MarkerID)
		}
		positionIDs = positionIDs[:0]
		positions, err := eng.PositionViews(acct.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range positions {
			positionIDs = append(positionIDs, p.PositionID)
		}
	}

	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0: // deposit
			amount := uint64(rng.Intn(1_000)+1) * usdc
			if _, _, err := eng.Deposit(acct.ID, usdcIndex, amount, nowMS); err != nil {
				t.Fatalf("op %d deposit: %v", i, err)
			}

		case 1: // withdraw, sometimes more than the pair holds
			if len(markerIDs) == 0 {
				continue
			}
			id := markerIDs[rng.Intn(len(markerIDs))]
			amount := uint64(rng.Intn(1_500)+1) * usdc
			if _, err := eng.Withdraw(acct.ID, id, amount, nowMS); err != nil &&
				!isExpectedLedgerError(err) {
				t.Fatalf("op %d withdraw: %v", i, err)
			}

		case 2: // combine two random pairs
			if len(markerIDs) < 2 {
				continue
			}
			a := rng.Intn(len(markerIDs))
			b := rng.Intn(len(markerIDs))
			if a == b {
				continue
			}
			if _, _, err := eng.CombineCollateral(acct.ID, markerIDs[a], markerIDs[b], nowMS); err != nil &&
				!isExpectedLedgerError(err) {
				t.Fatalf("op %d combine: %v", i, err)
			}

		case 3: // open a small position, margin permitting
			_, err := eng.OpenPosition(
				acct.ID, solMarket, ledger.SideLong, sol/10, 5,
				solPrice(100*usdc), collateralPrices(100*usdc), positionPrices(100*usdc), nowMS,
			)
			if err != nil && !isExpectedLedgerError(err) {
				t.Fatalf("op %d open: %v", i, err)
			}

		case 4: // close a random position flat
			if len(positionIDs) == 0 {
				continue
			}
			id := positionIDs[rng.Intn(len(positionIDs))]
			if _, err := eng.ClosePosition(acct.ID, id, solPrice(100*usdc), collateralPrices(100*usdc), nowMS); err != nil {
				t.Fatalf("op %d close: %v", i, err)
			}
		}

		checkCounters("op")
		refresh()
	}
}

func isExpectedLedgerError(err error) bool {
	for _, expected := range []error{
		ledger.ErrInsufficientRemaining,
		ledger.ErrInsufficientInitialMargin,
		ledger.ErrNoRemainingCollateral,
		ledger.ErrValueTrackingError,
	} {
		if errors.Is(err, expected) {
			return true
		}
	}
	return false
}
