// Package precise implements the scaled-u128-style "precise number" used
// throughout the fee and reward math (§4.1, §4.7, §9 of the design notes).
//
// Go has no native u128, let alone the u256 headroom needed for
// value*PRECISION_FACTOR without overflow, so this wraps
// github.com/holiman/uint256.Int the same way the source wraps
// spl_math::precise_number::PreciseNumber: every Number holds a value
// already multiplied by PrecisionFactor, and all arithmetic keeps that
// scaling until the final ToImprecise call.
package precise

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// PrecisionFactor is the fixed-point scale applied to every Number.
const PrecisionFactor = 1_000_000_000

var (
	precisionFactor    = uint256.NewInt(PrecisionFactor)
	precisionFactorBig = big.NewInt(PrecisionFactor)
)

// fromBig folds a big.Int intermediate result back into a uint256-backed
// Number, reporting ErrOverflow (via op) if it no longer fits in 256 bits
// or went negative.
func fromBig(v *big.Int, op string) (Number, error) {
	if v.Sign() < 0 {
		return Number{}, fmt.Errorf("%w: %s produced a negative value", ErrOverflow, op)
	}
	raw, overflow := new(uint256.Int).SetFromBig(v)
	if overflow {
		return Number{}, fmt.Errorf("%w: %s", ErrOverflow, op)
	}
	return Number{raw: raw}, nil
}

// Sentinel errors. These are fatal to the enclosing operation; there is no
// silent recovery per §4.1/§7.
var (
	ErrOverflow        = errors.New("precise: arithmetic overflow")
	ErrDenominatorZero = errors.New("precise: division by zero")
)

// Number is a non-negative rational value represented as
// raw/PrecisionFactor, computed without any intermediate float or rounding
// step until ToImprecise.
type Number struct {
	raw *uint256.Int
}

// FromUint64 builds a Number equal to v (i.e. v*PrecisionFactor internally).
func FromUint64(v uint64) (Number, error) {
	scaled, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(v), precisionFactor)
	if overflow {
		return Number{}, fmt.Errorf("%w: %d * precision factor", ErrOverflow, v)
	}
	return Number{raw: scaled}, nil
}

// FromRaw builds a Number directly from an already-scaled raw value. Used
// when composing a Number from a prior computation's raw uint256.
func FromRaw(raw *uint256.Int) Number {
	return Number{raw: new(uint256.Int).Set(raw)}
}

// Zero returns the additive identity.
func Zero() Number {
	return Number{raw: new(uint256.Int)}
}

// IsZero reports whether the value is exactly zero.
func (n Number) IsZero() bool {
	return n.raw == nil || n.raw.IsZero()
}

// Add returns n+other, checked for overflow.
func (n Number) Add(other Number) (Number, error) {
	sum, overflow := new(uint256.Int).AddOverflow(n.rawOrZero(), other.rawOrZero())
	if overflow {
		return Number{}, fmt.Errorf("%w: add", ErrOverflow)
	}
	return Number{raw: sum}, nil
}

// Sub returns n-other. Returns ErrOverflow (underflow) if other > n.
func (n Number) Sub(other Number) (Number, error) {
	if n.rawOrZero().Lt(other.rawOrZero()) {
		return Number{}, fmt.Errorf("%w: subtraction underflow", ErrOverflow)
	}
	return Number{raw: new(uint256.Int).Sub(n.rawOrZero(), other.rawOrZero())}, nil
}

// Mul returns n*other as a true product, re-dividing by PrecisionFactor
// once so the result stays in the same fixed-point scale (both operands
// are scaled by PrecisionFactor, so their raw product is scaled by
// PrecisionFactor^2). The intermediate product is computed in math/big,
// since it can briefly exceed 256 bits before the compensating division;
// the result is folded back into a uint256.Int, checked for overflow.
func (n Number) Mul(other Number) (Number, error) {
	product := new(big.Int).Mul(n.rawOrZero().ToBig(), other.rawOrZero().ToBig())
	product.Quo(product, precisionFactorBig)
	return fromBig(product, "multiply")
}

// MulInt multiplies by a plain (unscaled) integer, keeping the same
// fixed-point scale. Used for e.g. `precise_bps * pool`.
func (n Number) MulInt(v uint64) (Number, error) {
	product, overflow := new(uint256.Int).MulOverflow(n.rawOrZero(), uint256.NewInt(v))
	if overflow {
		return Number{}, fmt.Errorf("%w: multiply by %d", ErrOverflow, v)
	}
	return Number{raw: product}, nil
}

// Div returns n/other, computed as (n.raw*PrecisionFactor)/other.raw so the
// fixed-point scale is preserved. Returns ErrDenominatorZero if other is
// zero.
func (n Number) Div(other Number) (Number, error) {
	if other.IsZero() {
		return Number{}, ErrDenominatorZero
	}
	numerator := new(big.Int).Mul(n.rawOrZero().ToBig(), precisionFactorBig)
	quotient := numerator.Quo(numerator, other.rawOrZero().ToBig())
	return fromBig(quotient, "divide")
}

// DivInt divides by a plain (unscaled) integer, flooring toward zero.
func (n Number) DivInt(v uint64) (Number, error) {
	if v == 0 {
		return Number{}, ErrDenominatorZero
	}
	return Number{raw: new(uint256.Int).Div(n.rawOrZero(), uint256.NewInt(v))}, nil
}

// Cmp compares n and other (-1, 0, 1), matching uint256.Int.Cmp semantics.
func (n Number) Cmp(other Number) int {
	return n.rawOrZero().Cmp(other.rawOrZero())
}

// GreaterThan reports whether n > other.
func (n Number) GreaterThan(other Number) bool {
	return n.Cmp(other) > 0
}

// ToImprecise floors the Number down to a plain uint64, the one point
// where the fixed-point scale is discarded. Returns ErrOverflow if the
// floored value does not fit in 64 bits.
func (n Number) ToImprecise() (uint64, error) {
	floored := new(uint256.Int).Div(n.rawOrZero(), precisionFactor)
	if !floored.IsUint64() {
		return 0, fmt.Errorf("%w: value does not fit in uint64", ErrOverflow)
	}
	return floored.Uint64(), nil
}

// ToImpreciseU256 floors the Number down to a plain uint256, for contexts
// (stake weights) where 64 bits is not enough headroom.
func (n Number) ToImpreciseU256() *uint256.Int {
	return new(uint256.Int).Div(n.rawOrZero(), precisionFactor)
}

// Raw exposes the underlying scaled representation, primarily for tests
// that need to assert on exact internal state.
func (n Number) Raw() *uint256.Int {
	return new(uint256.Int).Set(n.rawOrZero())
}

func (n Number) rawOrZero() *uint256.Int {
	if n.raw == nil {
		return new(uint256.Int)
	}
	return n.raw
}

// String renders the Number's floored integer value followed by its
// fractional remainder out of PrecisionFactor, e.g. "3.000000014".
func (n Number) String() string {
	whole := new(uint256.Int).Div(n.rawOrZero(), precisionFactor)
	frac := new(uint256.Int).Mod(n.rawOrZero(), precisionFactor)
	return fmt.Sprintf("%s.%09s", whole.Dec(), frac.Dec())
}
