package field

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	two64  = Pow2(64)
	two128 = Pow2(128)
)

// Two128 returns 2^128 as a field element.
func Two128() FQ { return two128 }

// Two64 returns 2^64 as a field element.
func Two64() FQ { return two64 }

// Word is a 256-bit EVM value carried as two field limbs that each hold 128
// bits: value = Lo + 2^128·Hi. A Word is only meaningful when both limbs are
// below 2^128; gadgets enforce that through byte decomposition.
type Word struct {
	Lo, Hi FQ
}

// ZeroWord returns the word 0.
func ZeroWord() Word { return Word{} }

// WordFromUint64 returns v as a word.
func WordFromUint64(v uint64) Word { return Word{Lo: NewFQ(v)} }

// WordFromFQ returns a word whose low limb is v. v must be below 2^128.
func WordFromFQ(v FQ) Word { return Word{Lo: v} }

// WordFromUint256 splits x into its low and high 128-bit halves.
func WordFromUint256(x *uint256.Int) Word {
	lo := new(uint256.Int).SetUint64(x[0])
	lo[1] = x[1]
	hi := new(uint256.Int).SetUint64(x[2])
	hi[1] = x[3]
	return Word{Lo: FromUint256(lo), Hi: FromUint256(hi)}
}

// WordFromBig converts b, which must be in [0, 2^256), into a word.
func WordFromBig(b *big.Int) Word {
	x, overflow := uint256.FromBig(b)
	if overflow {
		panic(fmt.Sprintf("field: %s does not fit in 256 bits", b))
	}
	return WordFromUint256(x)
}

// WordFromBytes interprets b (at most 32 bytes) as a big-endian integer.
func WordFromBytes(b []byte) Word {
	return WordFromUint256(new(uint256.Int).SetBytes(b))
}

// WordFromHash returns the big-endian value of h.
func WordFromHash(h common.Hash) Word { return WordFromBytes(h.Bytes()) }

// WordFromAddress returns the big-endian value of a.
func WordFromAddress(a common.Address) Word { return WordFromBytes(a.Bytes()) }

// WordFromBool returns 1 or 0.
func WordFromBool(b bool) Word { return Word{Lo: FromBool(b)} }

// Uint256 returns the integer value of w. Limbs above 2^128 are truncated
// to their low 128 bits.
func (w Word) Uint256() *uint256.Int {
	lo := limb128(w.Lo)
	hi := limb128(w.Hi)
	return &uint256.Int{lo[0], lo[1], hi[0], hi[1]}
}

func limb128(v FQ) *uint256.Int {
	x, _ := uint256.FromBig(v.BigInt())
	return x
}

// Hash returns w as a 32-byte big-endian hash.
func (w Word) Hash() common.Hash { return common.Hash(w.Uint256().Bytes32()) }

// Address returns the low 20 bytes of w.
func (w Word) Address() common.Address {
	b := w.Uint256().Bytes32()
	return common.BytesToAddress(b[12:])
}

// Equal reports whether both limbs match.
func (w Word) Equal(o Word) bool { return w.Lo.Equal(o.Lo) && w.Hi.Equal(o.Hi) }

// IsZero reports whether w is 0.
func (w Word) IsZero() bool { return w.Lo.IsZero() && w.Hi.IsZero() }

// ToFQ folds w into a single field element, Lo + 2^128·Hi mod p. It is only
// injective for values below p; callers use it for addresses and small
// integers.
func (w Word) ToFQ() FQ { return w.Lo.Add(w.Hi.Mul(two128)) }

// Select returns a when cond is one and b when cond is zero.
func Select(cond FQ, a, b Word) Word {
	if cond.IsZero() {
		return b
	}
	return a
}

// String renders w in hex.
func (w Word) String() string { return w.Uint256().Hex() }
