package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"pismocore/internal/event"
	"pismocore/internal/ledger"
	fpmath "pismocore/internal/math"
	"pismocore/internal/oracle"
)

// valueCollateral runs one complete valuation pass over the account's
// collateral markers: every live marker is freshly priced, its cached value
// updated, and the total only returned if the pass visited exactly
// CollateralHoldingCount markers with data inside the staleness window.
func (e *MarginEngine) valueCollateral(
	accountID uuid.UUID,
	counters *ledger.AccountCounters,
	prices map[uint64]oracle.PriceData,
	nowMS int64,
) (int64, error) {
	val := ledger.NewValuation(accountID, e.prog.ID, counters.CollateralHoldingCount)
	e.stage(&event.CollateralValuationStarted{
		AccountID:     accountID,
		ProgramID:     e.prog.ID,
		ExpectedCount: counters.CollateralHoldingCount,
	})

	for _, m := range e.accountMarkers(accountID) {
		tok, err := e.prog.CollateralToken(m.TokenIndex)
		if err != nil {
			return 0, err
		}
		pd, ok := prices[m.TokenIndex]
		if !ok {
			return 0, fmt.Errorf("%w: no price for %s", oracle.ErrStaleOracleData, tok.Symbol)
		}
		if err := e.adapter.Validate(pd, nowMS); err != nil {
			return 0, err
		}

		value, err := e.adapter.Value(tok, pd, m.RemainingAmount, e.prog.SharedDecimals)
		if err != nil {
			return 0, err
		}
		if value > math.MaxInt64 {
			return 0, fmt.Errorf("%w: collateral value %d", fpmath.ErrOverflow, value)
		}
		m.SetCachedValue(value, pd.PublishedAt)

		if err := val.Visit(m.ID, int64(value), pd.PublishedAt); err != nil {
			return 0, err
		}
	}

	return val.Finalize(nowMS, e.adapter.MaxPriceAgeMS())
}

// valuePositions runs one complete valuation pass over the account's open
// positions, returning the signed unrealized PnL total and the unsigned sum
// of the notionals (initial margins at entry) already committed.
func (e *MarginEngine) valuePositions(
	accountID uuid.UUID,
	counters *ledger.AccountCounters,
	prices map[uint64]oracle.PriceData,
	nowMS int64,
) (pnl int64, notional uint64, err error) {
	val := ledger.NewValuation(accountID, e.prog.ID, counters.OpenPositionCount)

	for _, p := range e.accountPositions(accountID) {
		tok, err := e.prog.PositionToken(p.MarketIndex)
		if err != nil {
			return 0, 0, err
		}
		pd, ok := prices[p.MarketIndex]
		if !ok {
			return 0, 0, fmt.Errorf("%w: no price for %s", oracle.ErrStaleOracleData, tok.Symbol)
		}
		if err := e.adapter.Validate(pd, nowMS); err != nil {
			return 0, 0, err
		}
		if err := e.adapter.AssertFeed(tok, pd); err != nil {
			return 0, 0, err
		}

		dir, amount, _, err := p.Close(pd.Price, pd.Decimals)
		if err != nil {
			return 0, 0, err
		}
		value, err := fpmath.Normalize(amount, p.EntryPriceDecimals+tok.Decimals, e.prog.SharedDecimals)
		if err != nil {
			return 0, 0, err
		}
		if value > math.MaxInt64 {
			return 0, 0, fmt.Errorf("%w: pnl value %d", fpmath.ErrOverflow, value)
		}
		signed := int64(value)
		if dir == ledger.ToVault {
			signed = -signed
		}

		m, err := fpmath.InitialMargin(p.Size, tok.Decimals, p.EntryPrice, p.EntryPriceDecimals, p.Leverage, e.prog.SharedDecimals)
		if err != nil {
			return 0, 0, err
		}
		notional += m

		if err := val.Visit(p.ID, signed, pd.PublishedAt); err != nil {
			return 0, 0, err
		}
	}

	pnl, err = val.Finalize(nowMS, e.adapter.MaxPriceAgeMS())
	if err != nil {
		return 0, 0, err
	}
	return pnl, notional, nil
}
