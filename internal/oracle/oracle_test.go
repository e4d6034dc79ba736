package oracle_test

import (
	"errors"
	"testing"

	"pismocore/internal/oracle"
	"pismocore/internal/program"
)

var solFeed = []byte{0xef, 0x0d, 0x8b, 0x6f}

func solToken() program.TokenDescriptor {
	return program.TokenDescriptor{
		Symbol:      "SOL",
		Decimals:    9,
		PriceFeedID: solFeed,
		Oracle:      program.OracleKindPyth,
	}
}

func solPrice(price uint64, publishedAt int64) oracle.PriceData {
	return oracle.PriceData{
		FeedID:      solFeed,
		Price:       price,
		Decimals:    6,
		PublishedAt: publishedAt,
	}
}

// ============================================================================
// Test: freshness
// ============================================================================

func TestValidate_Fresh(t *testing.T) {
	a := oracle.NewAdapter(30_000)
	pd := solPrice(100_000_000, 1_000_000)

	// Exactly at the window edge is still fresh.
	if err := a.Validate(pd, 1_030_000); err != nil {
		t.Errorf("unexpected error at window edge: %v", err)
	}
}

func TestValidate_Stale(t *testing.T) {
	a := oracle.NewAdapter(30_000)
	pd := solPrice(100_000_000, 1_000_000)

	err := a.Validate(pd, 1_030_001)
	if !errors.Is(err, oracle.ErrStaleOracleData) {
		t.Errorf("got %v, want ErrStaleOracleData", err)
	}
}

// ============================================================================
// Test: feed binding
// ============================================================================

func TestAssertFeed_Mismatch(t *testing.T) {
	a := oracle.NewAdapter(30_000)
	pd := solPrice(100_000_000, 0)
	pd.FeedID = []byte{0xde, 0xad}

	err := a.AssertFeed(solToken(), pd)
	if !errors.Is(err, oracle.ErrFeedMismatch) {
		t.Errorf("got %v, want ErrFeedMismatch", err)
	}
}

func TestValue_RejectsWrongFeed(t *testing.T) {
	a := oracle.NewAdapter(30_000)
	pd := solPrice(100_000_000, 0)
	pd.FeedID = []byte{0xde, 0xad}

	_, err := a.Value(solToken(), pd, 1_000_000_000, 6)
	if !errors.Is(err, oracle.ErrFeedMismatch) {
		t.Errorf("got %v, want ErrFeedMismatch", err)
	}
}

// ============================================================================
// Test: valuation and inversion
// ============================================================================

func TestValue(t *testing.T) {
	a := oracle.NewAdapter(30_000)

	// 2.5 SOL at $100.00 = $250.00 at 6 shared decimals.
	got, err := a.Value(solToken(), solPrice(100_000_000, 0), 2_500_000_000, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 250_000_000 {
		t.Errorf("got %d, want 250000000", got)
	}
}

func TestAmountForTargetValue(t *testing.T) {
	a := oracle.NewAdapter(30_000)

	// $250.00 of SOL at $100.00 is 2.5 SOL.
	got, err := a.AmountForTargetValue(solToken(), solPrice(100_000_000, 0), 250_000_000, 6, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2_500_000_000 {
		t.Errorf("got %d, want 2500000000", got)
	}
}

func TestAmountForTargetValue_NeverExceedsTarget(t *testing.T) {
	a := oracle.NewAdapter(30_000)
	tok := solToken()
	pd := solPrice(99_999_999, 0) // awkward price that forces truncation

	for _, target := range []uint64{1, 999, 1_000_000, 123_456_789} {
		amt, err := a.AmountForTargetValue(tok, pd, target, 6, 9)
		if err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		back, err := a.Value(tok, pd, amt, 6)
		if err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		if back > target {
			t.Errorf("target %d: amount %d values back to %d, exceeds target", target, amt, back)
		}
	}
}
