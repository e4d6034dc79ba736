package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	fpmath "pismocore/internal/math"
)

// Valuation is the short-lived accumulator a solvency decision must be built
// on. It is created with the expected entity count from AccountCounters; each
// visit records one entity's freshly priced value, and Finalize only returns
// a total once every expected entity has been visited exactly once with data
// inside the staleness window. A partial or double-counted enumeration can
// therefore never pass as proof of solvency or insolvency.
type Valuation struct {
	AccountID uuid.UUID
	ProgramID uuid.UUID

	expected   uint64
	visited    map[uuid.UUID]struct{}
	values     []int64
	timestamps []int64
}

// NewValuation starts a valuation pass expecting exactly expected entities.
func NewValuation(accountID, programID uuid.UUID, expected uint64) *Valuation {
	return &Valuation{
		AccountID:  accountID,
		ProgramID:  programID,
		expected:   expected,
		visited:    make(map[uuid.UUID]struct{}, expected),
		values:     make([]int64, 0, expected),
		timestamps: make([]int64, 0, expected),
	}
}

// Visit records one entity's value. Re-visiting an id, or visiting more
// entities than expected, is an accounting violation.
func (v *Valuation) Visit(id uuid.UUID, value int64, priceTimestampMS int64) error {
	if uint64(len(v.visited)) >= v.expected {
		return fmt.Errorf("%w: visited more than %d entities", ErrCountMismatch, v.expected)
	}
	if _, ok := v.visited[id]; ok {
		return fmt.Errorf("%w: entity %s visited twice", ErrValueTrackingError, id)
	}

	v.visited[id] = struct{}{}
	v.values = append(v.values, value)
	v.timestamps = append(v.timestamps, priceTimestampMS)
	return nil
}

// Visited returns the number of entities recorded so far.
func (v *Valuation) Visited() uint64 {
	return uint64(len(v.visited))
}

// Expected returns the entity count the pass must reach.
func (v *Valuation) Expected() uint64 {
	return v.expected
}

// Finalize checks completeness and freshness and returns the signed total.
// Zero-valued slots are exempt from the freshness check: an empty holding
// prices to zero at any timestamp.
func (v *Valuation) Finalize(nowMS, maxAgeMS int64) (int64, error) {
	if uint64(len(v.visited)) != v.expected {
		return 0, fmt.Errorf("%w: visited=%d expected=%d", ErrIncompleteValuation, len(v.visited), v.expected)
	}

	var total int64
	for i, val := range v.values {
		if val != 0 && nowMS-v.timestamps[i] > maxAgeMS {
			return 0, fmt.Errorf("%w: slot=%d age_ms=%d max_age_ms=%d",
				ErrValuationTooOld, i, nowMS-v.timestamps[i], maxAgeMS)
		}
		if (val > 0 && total > math.MaxInt64-val) || (val < 0 && total < math.MinInt64-val) {
			return 0, fmt.Errorf("%w: valuation total", fpmath.ErrOverflow)
		}
		total += val
	}
	return total, nil
}
