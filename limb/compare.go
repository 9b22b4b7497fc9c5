package limb

import (
	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

// Lt compares a and b as unsigned integers and returns (a < b, a == b).
func Lt(cs *circuit.Circuit, a, b Bytes) (lt, eq field.FQ) {
	diff, borrow := Sub(cs, a, b)
	return borrow, IsZero(cs, diff)
}

// CheckLt constrains result to be 1 iff a < b.
func CheckLt(cs *circuit.Circuit, a, b Bytes, result field.FQ) {
	lt, _ := Lt(cs, a, b)
	cs.AssertEqual("lt", result, lt)
}

// IsNegative returns the sign bit of a, derived from its top byte through
// the Sign table: sign(a_31 - 128) is 1 for negative values and -1 or 0
// otherwise, so neg = (s + 1) - s·(s + 1)/2.
func IsNegative(cs *circuit.Circuit, a Bytes) field.FQ {
	x := a[31].Sub(field.NewFQ(128))
	top := a[31].MustUint64()
	var s field.FQ
	switch {
	case top > 128:
		s = oneFQ
	case top < 128:
		s = oneFQ.Neg()
	}
	s = cs.Cell(s)
	cs.Lookup(tables.Sign, x, s)
	sp1 := s.Add(oneFQ)
	return sp1.Sub(s.Mul(sp1).Mul(inverse))
}

// Slt returns 1 iff a < b as signed 256-bit integers. When the signs
// differ the negative operand is smaller; otherwise the unsigned order
// decides.
func Slt(cs *circuit.Circuit, a, b Bytes) field.FQ {
	negA := IsNegative(cs, a)
	negB := IsNegative(cs, b)
	lt, _ := Lt(cs, a, b)
	differ := circuit.Xor(negA, negB)
	return negA.Mul(circuit.Not(negB)).Add(circuit.Not(differ).Mul(lt))
}

// CheckSlt constrains result to be 1 iff a < b as signed integers.
func CheckSlt(cs *circuit.Circuit, a, b Bytes, result field.FQ) {
	cs.AssertEqual("slt", result, Slt(cs, a, b))
}

// CheckSgt constrains result to be 1 iff a > b as signed integers.
func CheckSgt(cs *circuit.Circuit, a, b Bytes, result field.FQ) {
	cs.AssertEqual("sgt", result, Slt(cs, b, a))
}
