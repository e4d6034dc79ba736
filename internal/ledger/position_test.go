package ledger_test

import (
	"testing"

	"github.com/google/uuid"

	"pismocore/internal/ledger"
)

// ============================================================================
// Test: close direction truth table
// ============================================================================

func TestClose_DirectionTruthTable(t *testing.T) {
	cases := []struct {
		name      string
		side      ledger.Side
		exitPrice uint64
		wantDir   ledger.Direction
	}{
		{"long price rose", ledger.SideLong, 110, ledger.ToUser},
		{"long price fell", ledger.SideLong, 90, ledger.ToVault},
		{"short price rose", ledger.SideShort, 110, ledger.ToVault},
		{"short price fell", ledger.SideShort, 90, ledger.ToUser},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ledger.NewPosition(tc.side, 7, 5, 100, 0, 0, uuid.New())

			dir, amount, delta, err := p.Close(tc.exitPrice, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dir != tc.wantDir {
				t.Errorf("got %s, want %s", dir, tc.wantDir)
			}
			if delta != 10 {
				t.Errorf("got delta %d, want 10", delta)
			}
			// amount = delta * size * leverage
			if amount != 10*7*5 {
				t.Errorf("got amount %d, want %d", amount, 10*7*5)
			}
		})
	}
}

func TestClose_FlatPriceIsZeroTransfer(t *testing.T) {
	p := ledger.NewPosition(ledger.SideLong, 7, 5, 100, 0, 0, uuid.New())

	dir, amount, delta, err := p.Close(100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 0 || delta != 0 {
		t.Errorf("got amount=%d delta=%d, want 0 both", amount, delta)
	}
	if dir != ledger.ToUser {
		t.Errorf("flat close resolves as rose: got %s", dir)
	}
}

func TestClose_RescalesExitPrice(t *testing.T) {
	// Entry at 2 decimals, exit quoted at 4: 101.00 entered, 101.5000 exit
	// rescales to 10150 and the delta is computed on the entry scale.
	p := ledger.NewPosition(ledger.SideLong, 1, 1, 10_100, 2, 0, uuid.New())

	dir, amount, delta, err := p.Close(1_015_000, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != ledger.ToUser {
		t.Errorf("got %s, want to_user", dir)
	}
	if delta != 50 || amount != 50 {
		t.Errorf("got delta=%d amount=%d, want 50 both", delta, amount)
	}
}

func TestClose_RescaleTruncates(t *testing.T) {
	// Exit 100.999 at 3 decimals against a 0-decimal entry floors to 100:
	// the fractional gain is discarded, never rounded up.
	p := ledger.NewPosition(ledger.SideLong, 1, 1, 100, 0, 0, uuid.New())

	_, amount, delta, err := p.Close(100_999, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta != 0 || amount != 0 {
		t.Errorf("got delta=%d amount=%d, want 0 both", delta, amount)
	}
}

func TestClose_DoesNotMutate(t *testing.T) {
	p := ledger.NewPosition(ledger.SideShort, 7, 5, 100, 0, 0, uuid.New())
	before := *p

	if _, _, _, err := p.Close(90, 0); err != nil {
		t.Fatal(err)
	}
	if *p != before {
		t.Error("Close must not mutate the position")
	}
}

func TestAssertOwner(t *testing.T) {
	owner := uuid.New()
	p := ledger.NewPosition(ledger.SideLong, 1, 1, 100, 0, 0, owner)

	if err := p.AssertOwner(owner); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := p.AssertOwner(uuid.New()); err == nil {
		t.Error("expected owner mismatch")
	}
}
