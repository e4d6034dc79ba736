package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pismocore/internal/event"
	"pismocore/internal/ledger"
	fpmath "pismocore/internal/math"
	"pismocore/internal/oracle"
	"pismocore/internal/program"
)

// OpenPosition opens a leveraged position after the initial-margin gate.
//
// The gate is evaluated against complete, freshly-priced valuations of the
// account's collateral (collateralPrices, keyed by collateral token index)
// and open positions (positionPrices, keyed by market index); a missing or
// stale price for any live entity fails the whole operation.
func (e *MarginEngine) OpenPosition(
	accountID uuid.UUID,
	marketIndex uint64,
	side ledger.Side,
	size uint64,
	leverage uint16,
	entry oracle.PriceData,
	collateralPrices map[uint64]oracle.PriceData,
	positionPrices map[uint64]oracle.PriceData,
	nowMS int64,
) (*ledger.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("open_position", start, nowMS, err) }()

	_, counters, err := e.account(accountID)
	if err != nil {
		return nil, err
	}

	tok, err := e.prog.PositionToken(marketIndex)
	if err != nil {
		return nil, err
	}
	if tok.Deprecated {
		err = fmt.Errorf("%w: market %s", program.ErrCollateralDeprecated, tok.Symbol)
		return nil, err
	}
	if err = e.prog.CheckLeverage(marketIndex, leverage); err != nil {
		return nil, err
	}
	if err = e.adapter.Validate(entry, nowMS); err != nil {
		return nil, err
	}
	if err = e.adapter.AssertFeed(tok, entry); err != nil {
		return nil, err
	}

	collateralValue, err := e.valueCollateral(accountID, counters, collateralPrices, nowMS)
	if err != nil {
		return nil, err
	}
	pnl, notional, err := e.valuePositions(accountID, counters, positionPrices, nowMS)
	if err != nil {
		return nil, err
	}

	err = ledger.AssertInitialMargin(
		collateralValue, pnl, notional,
		size, tok.Decimals,
		entry.Price, entry.Decimals,
		leverage,
		e.prog.SharedDecimals,
	)
	if err != nil {
		return nil, err
	}

	pos := ledger.NewPosition(side, size, leverage, entry.Price, entry.Decimals, marketIndex, accountID)
	e.positions[pos.ID] = pos
	e.positionOrder[accountID] = append(e.positionOrder[accountID], pos.ID)
	counters.IncrementPositionCount()

	e.stage(&event.PositionOpened{
		PositionID:         pos.ID,
		AccountID:          accountID,
		MarketIndex:        marketIndex,
		Side:               side.String(),
		Amount:             size,
		Leverage:           leverage,
		EntryPrice:         entry.Price,
		EntryPriceDecimals: entry.Decimals,
	})

	e.log.Info().
		Str("position_id", pos.ID.String()).
		Str("account_id", accountID.String()).
		Str("side", side.String()).
		Uint64("size", size).
		Uint16("leverage", leverage).
		Msg("position opened")
	return pos, nil
}

// ClosePosition closes a position at the supplied exit price and settles the
// resulting PnL: a loss is allocated across the account's collateral markers
// and moved into the vaults, a profit is paid out of the funded vaults. The
// position is destroyed exactly when settlement succeeds; every precondition
// is checked before any entity is mutated.
func (e *MarginEngine) ClosePosition(
	accountID, positionID uuid.UUID,
	exit oracle.PriceData,
	collateralPrices map[uint64]oracle.PriceData,
	nowMS int64,
) (*event.PositionClosed, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("close_position", start, nowMS, err) }()

	_, counters, err := e.account(accountID)
	if err != nil {
		return nil, err
	}
	pos, ok := e.positions[positionID]
	if !ok {
		err = fmt.Errorf("engine: unknown position %s", positionID)
		return nil, err
	}
	if err = pos.AssertOwner(accountID); err != nil {
		return nil, err
	}

	tok, err := e.prog.PositionToken(pos.MarketIndex)
	if err != nil {
		return nil, err
	}
	if err = e.adapter.Validate(exit, nowMS); err != nil {
		return nil, err
	}
	if err = e.adapter.AssertFeed(tok, exit); err != nil {
		return nil, err
	}

	dir, amount, delta, err := pos.Close(exit.Price, exit.Decimals)
	if err != nil {
		return nil, err
	}
	value, err := fpmath.Normalize(amount, pos.EntryPriceDecimals+tok.Decimals, e.prog.SharedDecimals)
	if err != nil {
		return nil, err
	}

	switch {
	case value == 0:
		// Flat close, nothing to settle.

	case dir == ledger.ToVault:
		if err = e.settleLossLocked(accountID, counters, value, collateralPrices, nowMS); err != nil {
			return nil, err
		}

	default: // ToUser
		if err = e.settleProfitLocked(accountID, value, collateralPrices, nowMS); err != nil {
			return nil, err
		}
	}

	// Settlement done; destroy the position.
	delete(e.positions, positionID)
	e.positionOrder[accountID] = removeID(e.positionOrder[accountID], positionID)
	if err = counters.DecrementPositionCount(); err != nil {
		return nil, err
	}

	closed := &event.PositionClosed{
		PositionID:         positionID,
		AccountID:          accountID,
		Side:               pos.Side.String(),
		Amount:             pos.Size,
		Leverage:           pos.Leverage,
		EntryPrice:         pos.EntryPrice,
		EntryPriceDecimals: pos.EntryPriceDecimals,
		ClosePrice:         exit.Price,
		ClosePriceDecimals: exit.Decimals,
		PriceDelta:         delta,
		TransferAmount:     amount,
		TransferTo:         dir.String(),
	}
	e.stage(closed)

	e.log.Info().
		Str("position_id", positionID.String()).
		Str("account_id", accountID.String()).
		Str("direction", dir.String()).
		Uint64("value", value).
		Msg("position closed")
	return closed, nil
}

// settleLossLocked routes a shared-decimal debt from the account's collateral
// into the vaults. Caller holds the engine lock.
func (e *MarginEngine) settleLossLocked(
	accountID uuid.UUID,
	counters *ledger.AccountCounters,
	value uint64,
	collateralPrices map[uint64]oracle.PriceData,
	nowMS int64,
) error {
	// Refresh every marker's cached value; settlement allocates against the
	// cache and the accumulator proves the enumeration was complete.
	if _, err := e.valueCollateral(accountID, counters, collateralPrices, nowMS); err != nil {
		return err
	}

	markers := e.accountMarkers(accountID)
	allocations, covered, err := e.settle.SettleToVault(markers, value, e.vaults, collateralPrices, nowMS)
	if err != nil {
		return err
	}

	for _, alloc := range allocations {
		t := alloc.Transfer
		h, ok := e.holdings[t.HoldingID]
		if !ok {
			return fmt.Errorf("%w: transfer %s has no holding", ledger.ErrCombineLinkMismatch, t.ID)
		}
		moved, err := ledger.ExecuteTransfer(h, t)
		if err != nil {
			return err
		}
		e.vaults[t.TokenIndex].DepositCoin(moved)
		e.updateVaultGauges(e.vaults[t.TokenIndex])

		e.stage(&event.CollateralTransferCreated{
			TransferID:       t.ID,
			MarkerID:         t.MarkerID,
			AccountID:        accountID,
			TokenIndex:       t.TokenIndex,
			Amount:           moved,
			DestinationVault: t.DestinationVault,
		})

		// A fully drained pair is destroyed.
		if m := e.markers[t.MarkerID]; m != nil && m.RemainingAmount == 0 && h.Amount == 0 {
			if err := counters.DecrementCollateralCount(); err != nil {
				return err
			}
			e.dropMarkerPair(h, m)
		}
	}

	if e.metrics != nil {
		e.metrics.SettlementAllocations.Observe(float64(len(allocations)))
		e.metrics.SettlementValue.WithLabelValues(ledger.ToVault.String()).Add(float64(covered))
		if covered < value {
			e.metrics.SettlementShortfall.Inc()
		}
	}
	if covered < value {
		e.log.Warn().
			Str("account_id", accountID.String()).
			Uint64("target", value).
			Uint64("covered", covered).
			Msg("loss settlement exhausted collateral")
	}
	return nil
}

// settleProfitLocked pays a shared-decimal credit to the user out of the
// funded vaults. Caller holds the engine lock.
func (e *MarginEngine) settleProfitLocked(
	accountID uuid.UUID,
	value uint64,
	prices map[uint64]oracle.PriceData,
	nowMS int64,
) error {
	// Stable payout order: ascending token index.
	vaults := e.vaultsByTokenIndex()

	payouts, err := e.settle.SettleToUser(value, vaults, prices, nowMS)
	if err != nil {
		return err
	}

	for _, p := range payouts {
		e.stage(&event.VaultTransferCreated{
			VaultID:    p.VaultID,
			AccountID:  accountID,
			TokenIndex: p.TokenIndex,
			Amount:     p.Amount,
			Value:      p.Value,
		})
		e.updateVaultGauges(e.vaults[p.TokenIndex])
	}

	if e.metrics != nil {
		e.metrics.SettlementAllocations.Observe(float64(len(payouts)))
		e.metrics.SettlementValue.WithLabelValues(ledger.ToUser.String()).Add(float64(value))
	}
	return nil
}
