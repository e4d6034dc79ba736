package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pismocore/internal/event"
	"pismocore/internal/ledger"
	"pismocore/internal/oracle"
)

// Liquidate force-closes an insolvent account: it proves, through complete
// valuation passes over every open position and collateral holding, that the
// account's equity is non-positive, then as one step zeroes the counters,
// destroys every position without individual settlement, and sweeps every
// holding's full balance into the vault of its token type. There is no
// partial liquidation.
func (e *MarginEngine) Liquidate(
	accountID uuid.UUID,
	collateralPrices map[uint64]oracle.PriceData,
	positionPrices map[uint64]oracle.PriceData,
	nowMS int64,
) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("liquidate", start, nowMS, err) }()

	_, counters, err := e.account(accountID)
	if err != nil {
		return err
	}

	positions := e.accountPositions(accountID)
	markers := e.accountMarkers(accountID)

	// The supplied sets must exactly match the counters: every element owned
	// by this account, count neither a superset nor a subset.
	if uint64(len(positions)) != counters.OpenPositionCount {
		err = fmt.Errorf("%w: positions=%d counter=%d", ledger.ErrCountMismatch, len(positions), counters.OpenPositionCount)
		e.rejectLiquidation("count_mismatch")
		return err
	}
	if uint64(len(markers)) != counters.CollateralHoldingCount {
		err = fmt.Errorf("%w: holdings=%d counter=%d", ledger.ErrCountMismatch, len(markers), counters.CollateralHoldingCount)
		e.rejectLiquidation("count_mismatch")
		return err
	}
	for _, p := range positions {
		if err = p.AssertOwner(accountID); err != nil {
			e.rejectLiquidation("owner_mismatch")
			return err
		}
	}
	for _, m := range markers {
		if m.AccountID != accountID {
			err = fmt.Errorf("%w: marker=%s", ledger.ErrOwnerMismatch, m.ID)
			e.rejectLiquidation("owner_mismatch")
			return err
		}
	}

	// Every sweep target must exist before anything is mutated.
	for _, m := range markers {
		if _, ok := e.vaults[m.TokenIndex]; !ok {
			err = fmt.Errorf("%w: token_index=%d", ErrMissingAssociatedVault, m.TokenIndex)
			return err
		}
	}

	collateralValue, err := e.valueCollateral(accountID, counters, collateralPrices, nowMS)
	if err != nil {
		return err
	}
	pnl, _, err := e.valuePositions(accountID, counters, positionPrices, nowMS)
	if err != nil {
		return err
	}

	equity := collateralValue + pnl
	if equity > 0 {
		err = fmt.Errorf("%w: equity=%d", ledger.ErrAccountSolvent, equity)
		e.rejectLiquidation("solvent")
		return err
	}

	// Insolvency proven; sweep.
	counters.Zero()

	for _, p := range positions {
		delete(e.positions, p.ID)
		e.stage(&event.PositionLiquidated{
			PositionID:  p.ID,
			AccountID:   accountID,
			MarketIndex: p.MarketIndex,
			Side:        p.Side.String(),
			Amount:      p.Size,
		})
	}
	e.positionOrder[accountID] = nil

	for _, m := range markers {
		h := e.holdings[m.HoldingID]
		dest := e.vaults[m.TokenIndex]

		swept := h.Amount
		h.Amount = 0
		m.RemainingAmount = 0
		dest.DepositCoin(swept)
		e.updateVaultGauges(dest)

		e.stage(&event.CollateralMarkerLiquidated{
			MarkerID:   m.ID,
			AccountID:  accountID,
			TokenIndex: m.TokenIndex,
			Amount:     swept,
			VaultID:    dest.ID,
		})

		delete(e.holdings, h.ID)
		delete(e.markers, m.ID)
		if e.metrics != nil {
			e.metrics.LiquidationSweeps.Inc()
		}
	}
	e.markerOrder[accountID] = nil

	e.stage(&event.AccountLiquidated{
		AccountID:      accountID,
		PositionsWiped: uint64(len(positions)),
		HoldingsSwept:  uint64(len(markers)),
		Equity:         equity,
	})

	if e.metrics != nil {
		e.metrics.LiquidationsTotal.Inc()
	}
	e.log.Warn().
		Str("account_id", accountID.String()).
		Int64("equity", equity).
		Int("positions", len(positions)).
		Int("holdings", len(markers)).
		Msg("account liquidated")
	return nil
}

func (e *MarginEngine) rejectLiquidation(reason string) {
	if e.metrics != nil {
		e.metrics.LiquidationRejected.WithLabelValues(reason).Inc()
	}
}
