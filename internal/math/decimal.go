// Package math implements the fixed-point arithmetic used by the margin
// ledger. Token amounts, prices, and USD values are unsigned integers carrying
// an implicit decimal count; every conversion between decimal scales truncates
// toward zero, so the protocol never credits more than its own cached state.
package math

import (
	"errors"
	"math/big"
	"sync"
)

// ErrOverflow is returned when a result does not fit in uint64.
var ErrOverflow = errors.New("math: value exceeds uint64 range")

// bigPool recycles big.Int scratch values used for wide intermediates.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// pow10Tab covers every exponent reachable from u8 price decimals plus u8
// token decimals (the widest scale the engine composes).
var pow10Tab = func() [128]*big.Int {
	var tab [128]*big.Int
	ten := big.NewInt(10)
	tab[0] = big.NewInt(1)
	for i := 1; i < len(tab); i++ {
		tab[i] = new(big.Int).Mul(tab[i-1], ten)
	}
	return tab
}()

// Pow10 returns 10^n. n must be below 128.
func Pow10(n uint8) *big.Int {
	return pow10Tab[n]
}

// NormalizeBig rescales v from localDecimals to sharedDecimals in place and
// returns it. Scale-down floor-divides; scale-up multiplies exactly.
func NormalizeBig(v *big.Int, localDecimals, sharedDecimals uint8) *big.Int {
	switch {
	case localDecimals > sharedDecimals:
		return v.Quo(v, Pow10(localDecimals-sharedDecimals))
	case localDecimals < sharedDecimals:
		return v.Mul(v, Pow10(sharedDecimals-localDecimals))
	default:
		return v
	}
}

// Normalize rescales value from localDecimals to sharedDecimals.
// Returns ErrOverflow if a scale-up no longer fits in uint64.
func Normalize(value uint64, localDecimals, sharedDecimals uint8) (uint64, error) {
	if localDecimals == sharedDecimals {
		return value, nil
	}

	v := getBig()
	defer putBig(v)

	v.SetUint64(value)
	NormalizeBig(v, localDecimals, sharedDecimals)

	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// MulNormalize computes normalize(a*b, localDecimals, sharedDecimals) with a
// wide intermediate, the conversion used for price * amount valuations.
func MulNormalize(a, b uint64, localDecimals, sharedDecimals uint8) (uint64, error) {
	v := getBig()
	t := getBig()
	defer putBig(v)
	defer putBig(t)

	v.SetUint64(a)
	t.SetUint64(b)
	v.Mul(v, t)
	NormalizeBig(v, localDecimals, sharedDecimals)

	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// MulDivPow computes floor(a * b * 10^scaleUp / (c * 10^scaleDown)).
// It is the building block for converting a shared-decimal value back into a
// token amount at a given price.
func MulDivPow(a, b uint64, scaleUp uint8, c uint64, scaleDown uint8) (uint64, error) {
	if c == 0 {
		return 0, errors.New("math: division by zero")
	}

	num := getBig()
	t := getBig()
	defer putBig(num)
	defer putBig(t)

	num.SetUint64(a)
	t.SetUint64(b)
	num.Mul(num, t)
	num.Mul(num, Pow10(scaleUp))

	t.SetUint64(c)
	t.Mul(t, Pow10(scaleDown))
	num.Quo(num, t)

	if !num.IsUint64() {
		return 0, ErrOverflow
	}
	return num.Uint64(), nil
}
