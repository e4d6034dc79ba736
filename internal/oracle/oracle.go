// Package oracle adapts externally supplied price feed readings for the
// margin engine. The engine never polls: every price arrives as a call
// argument carrying its feed id and publish timestamp, and the adapter only
// validates freshness, checks the feed binding, and converts between token
// amounts and shared-decimal values.
package oracle

import (
	"bytes"
	"errors"
	"fmt"

	fpmath "pismocore/internal/math"
	"pismocore/internal/program"
)

var (
	// ErrStaleOracleData is returned when a price reading is older than the
	// adapter's maximum price age.
	ErrStaleOracleData = errors.New("oracle: price data is stale")

	// ErrFeedMismatch is returned when a price reading's feed id does not
	// match the token's configured feed.
	ErrFeedMismatch = errors.New("oracle: price feed does not match token")
)

// PriceData is one signed price reading pushed in by the caller.
type PriceData struct {
	FeedID      []byte
	Price       uint64
	Decimals    uint8
	PublishedAt int64 // epoch milliseconds
}

// Adapter validates price readings and converts values across decimal scales.
type Adapter struct {
	maxPriceAgeMS int64
}

// NewAdapter creates an adapter that rejects prices older than maxPriceAgeMS.
func NewAdapter(maxPriceAgeMS int64) *Adapter {
	return &Adapter{maxPriceAgeMS: maxPriceAgeMS}
}

// MaxPriceAgeMS returns the staleness window.
func (a *Adapter) MaxPriceAgeMS() int64 {
	return a.maxPriceAgeMS
}

// Validate rejects a reading whose publish timestamp falls outside the
// staleness window relative to the supplied clock reading.
func (a *Adapter) Validate(pd PriceData, nowMS int64) error {
	if nowMS-pd.PublishedAt > a.maxPriceAgeMS {
		return fmt.Errorf("%w: published_at=%d now=%d max_age_ms=%d",
			ErrStaleOracleData, pd.PublishedAt, nowMS, a.maxPriceAgeMS)
	}
	return nil
}

// AssertFeed asserts the reading belongs to the token's configured feed.
func (a *Adapter) AssertFeed(tok program.TokenDescriptor, pd PriceData) error {
	return checkFeed(tok, pd)
}

func checkFeed(tok program.TokenDescriptor, pd PriceData) error {
	if !bytes.Equal(tok.PriceFeedID, pd.FeedID) {
		return fmt.Errorf("%w: token=%s", ErrFeedMismatch, tok.Symbol)
	}
	return nil
}

// Value prices amount units of tok at pd and returns the result rescaled to
// sharedDecimals: normalize(price * amount, priceDecimals + tokenDecimals,
// sharedDecimals). Truncates toward zero.
func (a *Adapter) Value(tok program.TokenDescriptor, pd PriceData, amount uint64, sharedDecimals uint8) (uint64, error) {
	if err := checkFeed(tok, pd); err != nil {
		return 0, err
	}
	v, err := fpmath.MulNormalize(pd.Price, amount, pd.Decimals+tok.Decimals, sharedDecimals)
	if err != nil {
		return 0, fmt.Errorf("value %s: %w", tok.Symbol, err)
	}
	return v, nil
}

// AmountForTargetValue is the exact inverse of Value: the token amount, at
// outDecimals precision, whose value equals targetValue (shared decimals).
// Floors, so the returned amount never exceeds the target value.
func (a *Adapter) AmountForTargetValue(tok program.TokenDescriptor, pd PriceData, targetValue uint64, sharedDecimals, outDecimals uint8) (uint64, error) {
	if err := checkFeed(tok, pd); err != nil {
		return 0, err
	}

	// amount = floor(target * 10^(priceDecimals+outDecimals) / (price * 10^sharedDecimals))
	amt, err := fpmath.MulDivPow(targetValue, 1, pd.Decimals+outDecimals, pd.Price, sharedDecimals)
	if err != nil {
		return 0, fmt.Errorf("amount for value %s: %w", tok.Symbol, err)
	}
	return amt, nil
}
