// Package limb expresses 256-bit EVM arithmetic as field equalities over
// byte and 64-bit limb decompositions plus lookups into the fixed tables.
//
// Every Check function is a pure constraint: it introduces witness cells in
// the given circuit, asserts equalities and requests lookups. The matching
// helpers without the Check prefix compute the witness on the host with
// uint256 and then call the Check function, so a gadget can write
//
//	sum, _ := limb.Add(cs, a, b)
//
// and get both the value and its constraints.
package limb

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

// Bytes is the little-endian byte decomposition of a word. Entries are
// witness cells that are expected to be range-checked to [0, 256).
type Bytes [32]field.FQ

var (
	fq256   = field.NewFQ(256)
	zeroFQ  = field.Zero()
	oneFQ   = field.One()
	inverse = field.NewFQ(2).Inverse()
)

// U256ToBytes splits x into 32 little-endian bytes.
func U256ToBytes(x *uint256.Int) [32]byte {
	be := x.Bytes32()
	var le [32]byte
	for i := range le {
		le[i] = be[31-i]
	}
	return le
}

// BytesToU256 reassembles 32 little-endian bytes.
func BytesToU256(b [32]byte) *uint256.Int {
	var be [32]byte
	for i := range be {
		be[i] = b[31-i]
	}
	return new(uint256.Int).SetBytes32(be[:])
}

// FromUint256 returns the byte cells of x. The cells are not range-checked.
func FromUint256(x *uint256.Int) Bytes {
	var out Bytes
	for i, b := range U256ToBytes(x) {
		out[i] = field.NewFQ(uint64(b))
	}
	return out
}

// FromUint64 returns the byte cells of v.
func FromUint64(v uint64) Bytes {
	return FromUint256(new(uint256.Int).SetUint64(v))
}

// Zero returns the all-zero decomposition.
func Zero() Bytes { return Bytes{} }

// Uint256 returns the value of b, reading each cell as a byte.
func (b Bytes) Uint256() *uint256.Int {
	var raw [32]byte
	for i, c := range b {
		raw[i] = byte(c.MustUint64())
	}
	return BytesToU256(raw)
}

// Word composes b into its (lo, hi) limbs.
func (b Bytes) Word() field.Word {
	return field.Word{
		Lo: field.Compose(b[:16], fq256),
		Hi: field.Compose(b[16:], fq256),
	}
}

// Sum returns the sum of all byte cells; for range-checked bytes it is zero
// iff the word is zero.
func (b Bytes) Sum() field.FQ { return field.Sum(b[:]...) }

// BytesToU64s returns w_i = Σ_{j<8} b_{8i+j}·256^j.
func BytesToU64s(b Bytes) [4]field.FQ {
	var out [4]field.FQ
	for i := range out {
		out[i] = field.Compose(b[8*i:8*i+8], fq256)
	}
	return out
}

// RangeCheck looks up consecutive pairs of cells in the Range table. An odd
// trailing cell is paired with zero.
func RangeCheck(cs *circuit.Circuit, cells []field.FQ) {
	for i := 0; i < len(cells); i += 2 {
		if i+1 < len(cells) {
			cs.Lookup(tables.Range, cells[i], cells[i+1])
		} else {
			cs.Lookup(tables.Range, cells[i], zeroFQ)
		}
	}
}

// Decompose witnesses the bytes of w, range-checks them and asserts
// lo + 2^128·hi = Σ byte_i·2^{8i}.
func Decompose(cs *circuit.Circuit, w field.Word) Bytes {
	b := FromUint256(w.Uint256())
	cs.Cells(b[:]...)
	RangeCheck(cs, b[:])
	cs.AssertWordEqual("word.bytes", b.Word(), w)
	return b
}

// IsZero returns 1 when every byte of b is zero.
func IsZero(cs *circuit.Circuit, b Bytes) field.FQ {
	return cs.IsZero(b.Sum())
}

// limbValues returns the host values of the 64-bit limbs of b.
func limbValues(b Bytes) [4]uint64 {
	return [4]uint64(*b.Uint256())
}

// smallBytes witnesses the little-endian bytes of a non-negative integer
// known to be below 2^(8n). Negative or oversized values are truncated so
// that the surrounding equalities fail instead of panicking.
func smallBytes(x *big.Int, n int) []field.FQ {
	out := make([]field.FQ, n)
	if x.Sign() < 0 {
		return out
	}
	v := new(big.Int).Set(x)
	mask := big.NewInt(0xff)
	for i := 0; i < n; i++ {
		out[i] = field.NewFQ(new(big.Int).And(v, mask).Uint64())
		v.Rsh(v, 8)
	}
	return out
}
