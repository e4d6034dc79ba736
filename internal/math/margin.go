package math

// InitialMargin computes the margin required to open a position:
// normalize(size * price / leverage, sizeDecimals+priceDecimals, sharedDecimals),
// floored at every division.
func InitialMargin(size uint64, sizeDecimals uint8, price uint64, priceDecimals uint8, leverage uint16, sharedDecimals uint8) (uint64, error) {
	if leverage == 0 {
		return 0, ErrOverflow
	}

	v := getBig()
	t := getBig()
	defer putBig(v)
	defer putBig(t)

	v.SetUint64(size)
	t.SetUint64(price)
	v.Mul(v, t)
	t.SetUint64(uint64(leverage))
	v.Quo(v, t)
	NormalizeBig(v, sizeDecimals+priceDecimals, sharedDecimals)

	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// PriceDelta returns |entry - exit| and whether the price rose. Both prices
// must share one decimal scale.
func PriceDelta(entryPrice, exitPrice uint64) (delta uint64, rose bool) {
	if exitPrice >= entryPrice {
		return exitPrice - entryPrice, true
	}
	return entryPrice - exitPrice, false
}

// TransferAmount computes priceDelta * size * leverage, the unnormalized
// token-amount-equivalent a position close settles. The caller converts it to
// a shared-decimal value before allocating.
func TransferAmount(priceDelta, size uint64, leverage uint16) (uint64, error) {
	v := getBig()
	t := getBig()
	defer putBig(v)
	defer putBig(t)

	v.SetUint64(priceDelta)
	t.SetUint64(size)
	v.Mul(v, t)
	t.SetUint64(uint64(leverage))
	v.Mul(v, t)

	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}
