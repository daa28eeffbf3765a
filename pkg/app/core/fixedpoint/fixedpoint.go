// Package fixedpoint implements the signed 80.48 fixed-point type used for
// every monetary and index quantity in the engine: prices, quote amounts,
// lending indices, funding deltas, and health values.
//
// The underlying value is a 128-bit two's-complement integer (80 integer
// bits, 48 fractional bits) scaled by 2^48. Go has no native int128, and the
// teacher repo's own dependency graph (go-ethereum) represents exactly this
// class of checked, wide integer arithmetic with math/big.Int (see
// common/math and core/vm throughout go-ethereum) rather than a fixed-width
// word type, so Fix follows that precedent: the raw scaled value lives in a
// math/big.Int, and every operation re-validates that the result still fits
// in the 128-bit two's-complement range before returning.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
)

// Scale is the number of fractional bits (2^48).
const Scale = 48

// ErrOverflow is returned by any operation whose exact result does not fit
// in the 128-bit two's-complement range of Fix.
var ErrOverflow = errors.New("fixedpoint: overflow")

// ErrDivideByZero is returned by Div/FloorDiv/CeilDiv when dividing by zero.
var ErrDivideByZero = errors.New("fixedpoint: division by zero")

var (
	scaleFactor = new(big.Int).Lsh(big.NewInt(1), Scale)
	maxRaw      = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minRaw      = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	one         = big.NewInt(1)
)

// Fix is a signed 80.48 fixed-point number. The zero value is 0.
type Fix struct {
	raw big.Int // value * 2^48, exact
}

// Zero is the additive identity.
var Zero = Fix{}

// One is the multiplicative identity (1.0).
var One = FromInt64(1)

func inRange(raw *big.Int) bool {
	return raw.Cmp(minRaw) >= 0 && raw.Cmp(maxRaw) <= 0
}

func fromRaw(raw *big.Int) (Fix, error) {
	if !inRange(raw) {
		return Fix{}, ErrOverflow
	}
	var f Fix
	f.raw.Set(raw)
	return f, nil
}

// FromInt64 constructs a Fix from a whole number, e.g. FromInt64(5) == 5.0.
func FromInt64(i int64) Fix {
	var f Fix
	f.raw.Lsh(big.NewInt(i), Scale)
	return f
}

// FromRawParts builds a Fix directly from its scaled integer representation
// (value * 2^48). Used when decoding the 16-byte little-endian account
// layout (see storage.DecodeFix).
func FromRawParts(scaled *big.Int) (Fix, error) {
	return fromRaw(scaled)
}

// RawInt returns the underlying scaled integer (value * 2^48) as a new
// big.Int the caller may mutate freely.
func (f Fix) RawInt() *big.Int {
	return new(big.Int).Set(&f.raw)
}

// Sign returns -1, 0, or 1.
func (f Fix) Sign() int { return f.raw.Sign() }

// IsZero reports whether f == 0.
func (f Fix) IsZero() bool { return f.raw.Sign() == 0 }

// Neg returns -f. Negation of a 128-bit two's-complement value can only
// overflow at the single most-negative value, which Fix excludes from its
// representable range already (minRaw's negation is out of range), so Neg
// is checked like every other op.
func (f Fix) Neg() (Fix, error) {
	neg := new(big.Int).Neg(&f.raw)
	return fromRaw(neg)
}

// Add returns f + g, checked.
func (f Fix) Add(g Fix) (Fix, error) {
	sum := new(big.Int).Add(&f.raw, &g.raw)
	return fromRaw(sum)
}

// Sub returns f - g, checked.
func (f Fix) Sub(g Fix) (Fix, error) {
	diff := new(big.Int).Sub(&f.raw, &g.raw)
	return fromRaw(diff)
}

// Mul returns f * g rounded toward -inf (floor), checked.
//
// The raw values are already scaled by 2^48, so their exact big.Int product
// is scaled by 2^96; it is rescaled back to 2^48 by a floor-division, which
// is the widened-intermediate checked_mul spec.md calls for: the
// intermediate product never overflows (big.Int is arbitrary precision),
// only the final truncated-to-128-bit result is checked.
func (f Fix) Mul(g Fix) (Fix, error) {
	product := new(big.Int).Mul(&f.raw, &g.raw)
	scaled := floorDiv(product, scaleFactor)
	return fromRaw(scaled)
}

// MulCeil returns f * g rounded toward +inf, checked.
func (f Fix) MulCeil(g Fix) (Fix, error) {
	product := new(big.Int).Mul(&f.raw, &g.raw)
	scaled := ceilDiv(product, scaleFactor)
	return fromRaw(scaled)
}

// Div returns f / g rounded toward -inf (floor), checked.
func (f Fix) Div(g Fix) (Fix, error) {
	if g.IsZero() {
		return Fix{}, ErrDivideByZero
	}
	numerator := new(big.Int).Mul(&f.raw, scaleFactor)
	scaled := floorDiv(numerator, &g.raw)
	return fromRaw(scaled)
}

// DivCeil returns f / g rounded toward +inf, checked.
func (f Fix) DivCeil(g Fix) (Fix, error) {
	if g.IsZero() {
		return Fix{}, ErrDivideByZero
	}
	numerator := new(big.Int).Mul(&f.raw, scaleFactor)
	scaled := ceilDiv(numerator, &g.raw)
	return fromRaw(scaled)
}

// Cmp compares f and g: -1 if f<g, 0 if equal, 1 if f>g.
func (f Fix) Cmp(g Fix) int { return f.raw.Cmp(&g.raw) }

func (f Fix) Lt(g Fix) bool  { return f.Cmp(g) < 0 }
func (f Fix) Lte(g Fix) bool { return f.Cmp(g) <= 0 }
func (f Fix) Gt(g Fix) bool  { return f.Cmp(g) > 0 }
func (f Fix) Gte(g Fix) bool { return f.Cmp(g) >= 0 }
func (f Fix) Eq(g Fix) bool  { return f.Cmp(g) == 0 }

// Min returns the lesser of f and g.
func Min(f, g Fix) Fix {
	if f.Lte(g) {
		return f
	}
	return g
}

// Max returns the greater of f and g.
func Max(f, g Fix) Fix {
	if f.Gte(g) {
		return f
	}
	return g
}

// Abs returns the absolute value of f, checked (overflows only at the
// excluded most-negative 128-bit value).
func (f Fix) Abs() (Fix, error) {
	if f.Sign() >= 0 {
		return f, nil
	}
	return f.Neg()
}

// Floor truncates the fractional part toward -inf, returning a whole Fix.
func (f Fix) Floor() Fix {
	scaled := floorDiv(&f.raw, scaleFactor)
	scaled.Lsh(scaled, Scale)
	var out Fix
	out.raw.Set(scaled)
	return out
}

// Ceil truncates the fractional part toward +inf, returning a whole Fix.
func (f Fix) Ceil() Fix {
	scaled := ceilDiv(&f.raw, scaleFactor)
	scaled.Lsh(scaled, Scale)
	var out Fix
	out.raw.Set(scaled)
	return out
}

// Float64 converts to a float64 for logging/metrics only; never use the
// result for accounting math.
func (f Fix) Float64() float64 {
	r := new(big.Float).SetInt(&f.raw)
	s := new(big.Float).SetInt(scaleFactor)
	r.Quo(r, s)
	out, _ := r.Float64()
	return out
}

func (f Fix) String() string {
	return fmt.Sprintf("%.8f", f.Float64())
}

// MarshalJSON encodes the raw scaled integer as a bare JSON number, the
// same convention math/big.Int itself uses, so a persisted Fix round-trips
// exactly instead of losing precision through float64.
func (f Fix) MarshalJSON() ([]byte, error) {
	return f.raw.MarshalJSON()
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *Fix) UnmarshalJSON(data []byte) error {
	return f.raw.UnmarshalJSON(data)
}

// floorDiv computes a/b rounded toward -inf for arbitrary-sign a, b.
func floorDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && (a.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, one)
	}
	return q
}

// ceilDiv computes a/b rounded toward +inf for arbitrary-sign a, b.
func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && (a.Sign() < 0) == (b.Sign() < 0) {
		q.Add(q, one)
	}
	return q
}
