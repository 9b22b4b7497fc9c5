// Package field implements the arithmetic domain of the execution circuit:
// elements of the BN254 scalar field, 256-bit EVM words split into two
// 128-bit limbs, and the random linear combinations used to compress table
// rows and byte streams.
package field

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// FQ is an element of the BN254 scalar field. It is a value type; the zero
// value is the field zero. FQ values are comparable and may be used as map
// keys.
type FQ struct {
	e fr.Element
}

// Modulus returns the field modulus.
func Modulus() *big.Int { return fr.Modulus() }

// Zero returns the additive identity.
func Zero() FQ { return FQ{} }

// One returns the multiplicative identity.
func One() FQ {
	var r FQ
	r.e.SetOne()
	return r
}

// NewFQ returns v as a field element.
func NewFQ(v uint64) FQ {
	var r FQ
	r.e.SetUint64(v)
	return r
}

// FromInt64 returns v reduced into the field; negative values wrap to p-|v|.
func FromInt64(v int64) FQ {
	var r FQ
	r.e.SetInt64(v)
	return r
}

// FromBool returns 1 for true and 0 for false.
func FromBool(b bool) FQ {
	if b {
		return One()
	}
	return Zero()
}

// FromBig returns b reduced modulo the field modulus.
func FromBig(b *big.Int) FQ {
	var r FQ
	r.e.SetBigInt(b)
	return r
}

// FromUint256 returns x reduced modulo the field modulus.
func FromUint256(x *uint256.Int) FQ {
	return FromBig(x.ToBig())
}

// FromBytes interprets b as a big-endian integer reduced modulo p.
func FromBytes(b []byte) FQ {
	var r FQ
	r.e.SetBytes(b)
	return r
}

// Add returns a+b.
func (a FQ) Add(b FQ) FQ {
	var r FQ
	r.e.Add(&a.e, &b.e)
	return r
}

// Sub returns a-b.
func (a FQ) Sub(b FQ) FQ {
	var r FQ
	r.e.Sub(&a.e, &b.e)
	return r
}

// Mul returns a*b.
func (a FQ) Mul(b FQ) FQ {
	var r FQ
	r.e.Mul(&a.e, &b.e)
	return r
}

// MulUint64 returns a*v.
func (a FQ) MulUint64(v uint64) FQ {
	return a.Mul(NewFQ(v))
}

// AddUint64 returns a+v.
func (a FQ) AddUint64(v uint64) FQ {
	return a.Add(NewFQ(v))
}

// Neg returns -a.
func (a FQ) Neg() FQ {
	var r FQ
	r.e.Neg(&a.e)
	return r
}

// Inverse returns 1/a, or zero when a is zero.
func (a FQ) Inverse() FQ {
	var r FQ
	r.e.Inverse(&a.e)
	return r
}

// Square returns a*a.
func (a FQ) Square() FQ { return a.Mul(a) }

// Equal reports whether a and b are the same element.
func (a FQ) Equal(b FQ) bool { return a.e.Equal(&b.e) }

// IsZero reports whether a is zero.
func (a FQ) IsZero() bool { return a.e.IsZero() }

// IsOne reports whether a is one.
func (a FQ) IsOne() bool { return a.e.IsOne() }

// IsBool reports whether a is 0 or 1.
func (a FQ) IsBool() bool { return a.IsZero() || a.IsOne() }

// Uint64 returns the canonical value of a and whether it fits in 64 bits.
func (a FQ) Uint64() (uint64, bool) {
	if !a.e.IsUint64() {
		return 0, false
	}
	return a.e.Uint64(), true
}

// MustUint64 returns the canonical value of a, or the low 64 bits of it
// when it does not fit. It is meant for witness values already known to be
// small.
func (a FQ) MustUint64() uint64 {
	if v, ok := a.Uint64(); ok {
		return v
	}
	return a.BigInt().Uint64()
}

// BigInt returns the canonical value of a.
func (a FQ) BigInt() *big.Int {
	return a.e.BigInt(new(big.Int))
}

// Bytes returns the canonical big-endian encoding of a.
func (a FQ) Bytes() [32]byte { return a.e.Bytes() }

// String returns the decimal representation of a.
func (a FQ) String() string { return a.e.String() }

// Pow2 returns 2^n as a field element.
func Pow2(n uint) FQ {
	return FromBig(new(big.Int).Lsh(big.NewInt(1), n))
}

// Sum returns the sum of xs.
func Sum(xs ...FQ) FQ {
	var acc FQ
	for _, x := range xs {
		acc = acc.Add(x)
	}
	return acc
}

// Compose returns Σ xs[i]·base^i.
func Compose(xs []FQ, base FQ) FQ {
	var acc FQ
	for i := len(xs) - 1; i >= 0; i-- {
		acc = acc.Mul(base).Add(xs[i])
	}
	return acc
}
