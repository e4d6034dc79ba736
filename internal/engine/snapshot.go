package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// Read-side snapshots. Views copy entity state under the engine lock so the
// query surface never aliases live ledger entities.

type AccountView struct {
	AccountID              uuid.UUID `json:"account_id"`
	ProgramID              uuid.UUID `json:"program_id"`
	OpenPositionCount      uint64    `json:"open_position_count"`
	CollateralHoldingCount uint64    `json:"collateral_holding_count"`
}

type HoldingView struct {
	CollateralID    uuid.UUID `json:"collateral_id"`
	MarkerID        uuid.UUID `json:"collateral_marker_id"`
	TokenIndex      uint64    `json:"token_index"`
	Symbol          string    `json:"symbol"`
	Amount          uint64    `json:"amount"`
	RemainingAmount uint64    `json:"remaining_amount"`
	CachedValue     uint64    `json:"cached_value"`
	CachedValueAt   int64     `json:"cached_value_at"`
}

type PositionView struct {
	PositionID         uuid.UUID `json:"position_id"`
	MarketIndex        uint64    `json:"market_index"`
	Symbol             string    `json:"symbol"`
	Side               string    `json:"side"`
	Size               uint64    `json:"size"`
	Leverage           uint16    `json:"leverage"`
	EntryPrice         uint64    `json:"entry_price"`
	EntryPriceDecimals uint8     `json:"entry_price_decimals"`
}

type VaultView struct {
	VaultID    uuid.UUID `json:"vault_id"`
	TokenIndex uint64    `json:"token_index"`
	Symbol     string    `json:"symbol"`
	Reserve    uint64    `json:"reserve"`
	LPSupply   uint64    `json:"lp_supply"`
	Deprecated bool      `json:"deprecated"`
}

// AccountView returns an account's identity and live counters.
func (e *MarginEngine) AccountView(accountID uuid.UUID) (AccountView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, counters, err := e.account(accountID)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		AccountID:              acct.ID,
		ProgramID:              acct.ProgramID,
		OpenPositionCount:      counters.OpenPositionCount,
		CollateralHoldingCount: counters.CollateralHoldingCount,
	}, nil
}

// HoldingViews returns an account's collateral pairs in creation order.
func (e *MarginEngine) HoldingViews(accountID uuid.UUID) ([]HoldingView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	markers := e.accountMarkers(accountID)
	out := make([]HoldingView, 0, len(markers))
	for _, m := range markers {
		h := e.holdings[m.HoldingID]
		tok, _ := e.prog.CollateralToken(m.TokenIndex)
		out = append(out, HoldingView{
			CollateralID:    h.ID,
			MarkerID:        m.ID,
			TokenIndex:      m.TokenIndex,
			Symbol:          tok.Symbol,
			Amount:          h.Amount,
			RemainingAmount: m.RemainingAmount,
			CachedValue:     m.CachedValue,
			CachedValueAt:   m.CachedValueAt,
		})
	}
	return out, nil
}

// PositionViews returns an account's open positions in creation order.
func (e *MarginEngine) PositionViews(accountID uuid.UUID) ([]PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	positions := e.accountPositions(accountID)
	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		tok, _ := e.prog.PositionToken(p.MarketIndex)
		out = append(out, PositionView{
			PositionID:         p.ID,
			MarketIndex:        p.MarketIndex,
			Symbol:             tok.Symbol,
			Side:               p.Side.String(),
			Size:               p.Size,
			Leverage:           p.Leverage,
			EntryPrice:         p.EntryPrice,
			EntryPriceDecimals: p.EntryPriceDecimals,
		})
	}
	return out, nil
}

// VaultViews returns every vault in ascending token index order.
func (e *MarginEngine) VaultViews() []VaultView {
	e.mu.Lock()
	defer e.mu.Unlock()

	vaults := e.vaultsByTokenIndex()
	out := make([]VaultView, 0, len(vaults))
	for _, v := range vaults {
		tok, _ := e.prog.CollateralToken(v.TokenIndex)
		out = append(out, VaultView{
			VaultID:    v.ID,
			TokenIndex: v.TokenIndex,
			Symbol:     tok.Symbol,
			Reserve:    v.Reserve,
			LPSupply:   v.LPSupply,
			Deprecated: v.Deprecated,
		})
	}
	return out
}
