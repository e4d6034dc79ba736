// Package program holds the per-market token registry: which tokens a trading
// program accepts as collateral, which it supports as position markets, the
// shared settlement precision, and per-market leverage caps.
package program

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedCollateral is returned when a token index does not name a
	// supported collateral token.
	ErrUnsupportedCollateral = errors.New("program: unsupported collateral token")

	// ErrUnsupportedMarket is returned when a market index does not name a
	// supported position token.
	ErrUnsupportedMarket = errors.New("program: unsupported position market")

	// ErrCollateralDeprecated is returned when a deprecated token is offered
	// as new collateral or a new position market.
	ErrCollateralDeprecated = errors.New("program: token is deprecated")

	// ErrLeverageTooHigh is returned when a requested leverage exceeds the
	// market's configured cap.
	ErrLeverageTooHigh = errors.New("program: leverage exceeds market cap")
)

// OracleKind identifies the price feed family a token is bound to.
type OracleKind uint8

const (
	OracleKindPyth OracleKind = iota
	OracleKindPolygon
)

func (k OracleKind) String() string {
	switch k {
	case OracleKindPyth:
		return "pyth"
	case OracleKindPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// TokenDescriptor binds a token to its decimal precision and price feed.
// Immutable once referenced by open positions or holdings, except Deprecated,
// which only ever flips false -> true.
type TokenDescriptor struct {
	Symbol      string
	Decimals    uint8
	PriceFeedID []byte
	Oracle      OracleKind
	Deprecated  bool
}

// Program is a trading program's market configuration. The collateral and
// position lists are append-only: indexes held by live ledger entities stay
// valid for the program's lifetime.
type Program struct {
	ID                  uuid.UUID
	SupportedCollateral []TokenDescriptor
	SupportedPositions  []TokenDescriptor
	SharedDecimals      uint8

	// MaxLeverage is parallel to SupportedPositions.
	MaxLeverage []uint16
}

// New creates a program. maxLeverage must be parallel to positions.
func New(collateral, positions []TokenDescriptor, sharedDecimals uint8, maxLeverage []uint16) (*Program, error) {
	if len(maxLeverage) != len(positions) {
		return nil, errors.New("program: max leverage list must be parallel to position tokens")
	}
	return &Program{
		ID:                  uuid.New(),
		SupportedCollateral: collateral,
		SupportedPositions:  positions,
		SharedDecimals:      sharedDecimals,
		MaxLeverage:         maxLeverage,
	}, nil
}

// CollateralToken resolves a collateral token index.
func (p *Program) CollateralToken(index uint64) (TokenDescriptor, error) {
	if index >= uint64(len(p.SupportedCollateral)) {
		return TokenDescriptor{}, ErrUnsupportedCollateral
	}
	return p.SupportedCollateral[index], nil
}

// PositionToken resolves a position market index.
func (p *Program) PositionToken(index uint64) (TokenDescriptor, error) {
	if index >= uint64(len(p.SupportedPositions)) {
		return TokenDescriptor{}, ErrUnsupportedMarket
	}
	return p.SupportedPositions[index], nil
}

// MaxLeverageFor returns the leverage cap for a position market.
func (p *Program) MaxLeverageFor(marketIndex uint64) (uint16, error) {
	if marketIndex >= uint64(len(p.MaxLeverage)) {
		return 0, ErrUnsupportedMarket
	}
	return p.MaxLeverage[marketIndex], nil
}

// CheckLeverage validates a requested leverage against the market cap.
func (p *Program) CheckLeverage(marketIndex uint64, leverage uint16) error {
	cap, err := p.MaxLeverageFor(marketIndex)
	if err != nil {
		return err
	}
	if leverage == 0 || leverage > cap {
		return ErrLeverageTooHigh
	}
	return nil
}

// AddCollateralToken appends a collateral token and returns its index.
// Admin-gated by the caller; existing indexes are never reordered.
func (p *Program) AddCollateralToken(tok TokenDescriptor) uint64 {
	p.SupportedCollateral = append(p.SupportedCollateral, tok)
	return uint64(len(p.SupportedCollateral) - 1)
}

// AddPositionToken appends a position market with its leverage cap and
// returns its index.
func (p *Program) AddPositionToken(tok TokenDescriptor, maxLeverage uint16) uint64 {
	p.SupportedPositions = append(p.SupportedPositions, tok)
	p.MaxLeverage = append(p.MaxLeverage, maxLeverage)
	return uint64(len(p.SupportedPositions) - 1)
}

// DeprecateCollateralToken marks a collateral token deprecated. New deposits
// are refused; existing holdings are unaffected.
func (p *Program) DeprecateCollateralToken(index uint64) error {
	if index >= uint64(len(p.SupportedCollateral)) {
		return ErrUnsupportedCollateral
	}
	p.SupportedCollateral[index].Deprecated = true
	return nil
}

// DeprecatePositionToken marks a position market deprecated. New positions
// are refused; open positions are unaffected.
func (p *Program) DeprecatePositionToken(index uint64) error {
	if index >= uint64(len(p.SupportedPositions)) {
		return ErrUnsupportedMarket
	}
	p.SupportedPositions[index].Deprecated = true
	return nil
}
