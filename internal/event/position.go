package event

import "github.com/google/uuid"

// PositionOpened is emitted when a position passes the margin gate.
type PositionOpened struct {
	PositionID         uuid.UUID `json:"position_id"`
	AccountID          uuid.UUID `json:"account_id"`
	MarketIndex        uint64    `json:"market_index"`
	Side               string    `json:"position_type"`
	Amount             uint64    `json:"amount"`
	Leverage           uint16    `json:"leverage_multiplier"`
	EntryPrice         uint64    `json:"entry_price"`
	EntryPriceDecimals uint8     `json:"entry_price_decimals"`
}

func (e *PositionOpened) EventType() Type    { return TypePositionOpened }
func (e *PositionOpened) Account() uuid.UUID { return e.AccountID }

// PositionClosed carries the settlement instruction a close produced.
type PositionClosed struct {
	PositionID         uuid.UUID `json:"position_id"`
	AccountID          uuid.UUID `json:"account_id"`
	Side               string    `json:"position_type"`
	Amount             uint64    `json:"amount"`
	Leverage           uint16    `json:"leverage_multiplier"`
	EntryPrice         uint64    `json:"entry_price"`
	EntryPriceDecimals uint8     `json:"entry_price_decimals"`
	ClosePrice         uint64    `json:"close_price"`
	ClosePriceDecimals uint8     `json:"close_price_decimals"`
	PriceDelta         uint64    `json:"price_delta"`
	TransferAmount     uint64    `json:"transfer_amount"`
	TransferTo         string    `json:"transfer_to"`
}

func (e *PositionClosed) EventType() Type    { return TypePositionClosed }
func (e *PositionClosed) Account() uuid.UUID { return e.AccountID }

// PositionLiquidated is emitted per position destroyed by a liquidation.
// Liquidation forfeits position-level PnL accounting, so no settlement
// instruction is attached.
type PositionLiquidated struct {
	PositionID  uuid.UUID `json:"position_id"`
	AccountID   uuid.UUID `json:"account_id"`
	MarketIndex uint64    `json:"market_index"`
	Side        string    `json:"position_type"`
	Amount      uint64    `json:"amount"`
}

func (e *PositionLiquidated) EventType() Type    { return TypePositionLiquidated }
func (e *PositionLiquidated) Account() uuid.UUID { return e.AccountID }
