package ledger

import (
	"fmt"

	fpmath "pismocore/internal/math"
)

// AssertInitialMargin is the gate every position open must pass.
//
// equity = collateralValue + pnlValue, free = equity - existingNotional.
// Fails with ErrNoRemainingCollateral when free is not positive, and with
// ErrInsufficientInitialMargin when free cannot cover the margin required by
// the new position (size*price/leverage at shared decimals, floored).
//
// collateralValue and pnlValue must come from fully-finalized Valuation
// passes over the account's holdings and positions respectively.
func AssertInitialMargin(
	collateralValue, pnlValue int64,
	existingNotional uint64,
	size uint64, sizeDecimals uint8,
	price uint64, priceDecimals uint8,
	leverage uint16,
	sharedDecimals uint8,
) error {
	equity := collateralValue + pnlValue
	free := equity - int64(existingNotional)

	if free <= 0 {
		return fmt.Errorf("%w: equity=%d notional=%d", ErrNoRemainingCollateral, equity, existingNotional)
	}

	required, err := fpmath.InitialMargin(size, sizeDecimals, price, priceDecimals, leverage, sharedDecimals)
	if err != nil {
		return fmt.Errorf("initial margin: %w", err)
	}
	if uint64(free) < required {
		return fmt.Errorf("%w: free=%d required=%d", ErrInsufficientInitialMargin, free, required)
	}
	return nil
}
