package limb

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

// CheckAdd constrains a + b = sum + carry[31]·2^256. Every carry is boolean
// and satisfies a_i + b_i + carry_{i-1} = sum_i + 256·carry_i. The 16-bit
// chunks are additionally looked up in the Addition table, which pins the
// sum bytes and the odd carries.
func CheckAdd(cs *circuit.Circuit, a, b, sum Bytes, carry [32]field.FQ) {
	cs.Cells(carry[:]...)
	prev := zeroFQ
	for i := 0; i < 32; i++ {
		cs.AssertBool("add.carry", carry[i])
		lhs := a[i].Add(b[i]).Add(prev)
		rhs := sum[i].Add(carry[i].Mul(fq256))
		cs.AssertEqual("add.byte", lhs, rhs)
		prev = carry[i]
	}
	for k := 0; k < 16; k++ {
		in := zeroFQ
		if k > 0 {
			in = carry[2*k-1]
		}
		x := a[2*k].Add(a[2*k+1].Mul(fq256)).
			Add(b[2*k]).Add(b[2*k+1].Mul(fq256)).
			Add(in)
		cs.Lookup(tables.Addition, x, sum[2*k], sum[2*k+1], carry[2*k+1])
	}
}

// addWitness computes the sum bytes and per-byte carries of a + b.
func addWitness(a, b Bytes) (Bytes, [32]field.FQ) {
	var (
		sum   Bytes
		carry [32]field.FQ
		c     uint64
	)
	for i := 0; i < 32; i++ {
		v := a[i].MustUint64() + b[i].MustUint64() + c
		sum[i] = field.NewFQ(v & 0xff)
		c = v >> 8
		carry[i] = field.NewFQ(c)
	}
	return sum, carry
}

// Add returns a + b mod 2^256 and the overflow bit.
func Add(cs *circuit.Circuit, a, b Bytes) (Bytes, field.FQ) {
	sum, carry := addWitness(a, b)
	cs.Cells(sum[:]...)
	CheckAdd(cs, a, b, sum, carry)
	return sum, carry[31]
}

// Sub returns a - b mod 2^256 and the borrow bit, which is 1 iff a < b. It
// is the addition diff + b = a + borrow·2^256.
func Sub(cs *circuit.Circuit, a, b Bytes) (Bytes, field.FQ) {
	diff := FromUint256(new(uint256.Int).Sub(a.Uint256(), b.Uint256()))
	cs.Cells(diff[:]...)
	_, carry := addWitness(diff, b)
	CheckAdd(cs, diff, b, a, carry)
	return diff, carry[31]
}

// Neg returns the two's complement of a, constrained by a + neg = 0 mod 2^256.
func Neg(cs *circuit.Circuit, a Bytes) Bytes {
	neg := FromUint256(new(uint256.Int).Neg(a.Uint256()))
	cs.Cells(neg[:]...)
	_, carry := addWitness(a, neg)
	CheckAdd(cs, a, neg, Zero(), carry)
	return neg
}
