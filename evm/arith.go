package evm

import (
	"math/big"

	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/limb"
	"github.com/eth2030/zkevm/tables"
)

func gadgetAddSub(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())
	switch op {
	case gethvm.ADD:
		sum, _ := limb.Add(i.cs, a, b)
		i.assertBytes("add", c, sum)
	default:
		// a - b = c is checked as c + b = a mod 2^256
		sum, _ := limb.Add(i.cs, c, b)
		i.assertBytes("sub", sum, a)
	}
	i.sameContext(op, field.Zero())
}

// divWitness returns the EVM quotient and remainder of a / b, with q = 0 and
// r = a when b is zero so that b·q + r = a always holds.
func divWitness(a, b *uint256.Int) (q, r *uint256.Int) {
	if b.IsZero() {
		return new(uint256.Int), new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Div(a, b), new(uint256.Int).Mod(a, b)
}

func (i *Instruction) witnessBytes(x *uint256.Int) limb.Bytes {
	b := limb.FromUint256(x)
	i.cs.Cells(b[:]...)
	limb.RangeCheck(i.cs, b[:])
	return b
}

// checkDivision constrains b·q + r = a with r < b when b is non-zero.
func (i *Instruction) checkDivision(a, b, q, r limb.Bytes) (bZero field.FQ) {
	limb.CheckMulAddWords(i.cs, b, q, r, a)
	bZero = limb.IsZero(i.cs, b)
	lt, _ := limb.Lt(i.cs, r, b)
	i.cs.AssertEqual("div.remainder", circuit.Not(bZero).Mul(lt), circuit.Not(bZero))
	i.cs.WhenFQ(bZero, func() {
		i.cs.AssertZero("div.quotient_zero", q.Sum())
	})
	return bZero
}

func gadgetMulDivMod(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())
	switch op {
	case gethvm.MUL:
		i.assertBytes("mul", c, limb.Mul(i.cs, a, b))
	default:
		qv, rv := divWitness(a.Uint256(), b.Uint256())
		q, r := i.witnessBytes(qv), i.witnessBytes(rv)
		bZero := i.checkDivision(a, b, q, r)
		want := q
		if op == gethvm.MOD {
			want = r
		}
		// the result is zero for a zero divisor
		for k := range want {
			i.cs.AssertEqual("div.result", c[k], circuit.Not(bZero).Mul(want[k]))
		}
	}
	i.sameContext(op, field.Zero())
}

// absolute returns |a| for a two's complement a and whether a is negative.
func (i *Instruction) absolute(a limb.Bytes) (abs limb.Bytes, neg field.FQ) {
	neg = limb.IsNegative(i.cs, a)
	n := limb.Neg(i.cs, a)
	for k := range abs {
		abs[k] = i.cs.Select(neg, n[k], a[k])
	}
	return abs, neg
}

func gadgetSdivSmod(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())

	av, bv := a.Uint256(), b.Uint256()
	qv, rv := new(uint256.Int), new(uint256.Int).Set(av)
	if !bv.IsZero() {
		qv.SDiv(av, bv)
		rv.SMod(av, bv)
	}
	q, r := i.witnessBytes(qv), i.witnessBytes(rv)

	absA, negA := i.absolute(a)
	absB, negB := i.absolute(b)
	absQ, negQ := i.absolute(q)
	absR, negR := i.absolute(r)
	limb.CheckMulAddWords(i.cs, absB, absQ, absR, absA)

	bZero := limb.IsZero(i.cs, b)
	lt, _ := limb.Lt(i.cs, absR, absB)
	i.cs.AssertEqual("sdiv.remainder", circuit.Not(bZero).Mul(lt), circuit.Not(bZero))

	// |q| = 2^255 only for -2^255 / -1, which wraps to a negative quotient
	overflow := limb.IsNegative(i.cs, absQ)
	qZero := limb.IsZero(i.cs, q)
	i.cs.WhenFQ(circuit.And(circuit.Not(qZero), circuit.Not(overflow)), func() {
		i.cs.AssertEqual("sdiv.quotient_sign", negQ, circuit.Xor(negA, negB))
	})
	i.cs.WhenFQ(circuit.Not(limb.IsZero(i.cs, r)), func() {
		i.cs.AssertEqual("sdiv.remainder_sign", negR, negA)
	})

	want := q
	if op == gethvm.SMOD {
		want = r
	}
	for k := range want {
		i.cs.AssertEqual("sdiv.result", c[k], circuit.Not(bZero).Mul(want[k]))
	}
	i.sameContext(op, field.Zero())
}

// reduce returns a mod n, constraining a = k·n + a_r with a_r < n for a
// non-zero n. For n = 0 it returns a.
func (i *Instruction) reduce(a, n limb.Bytes) limb.Bytes {
	kv, rv := divWitness(a.Uint256(), n.Uint256())
	k, r := i.witnessBytes(kv), i.witnessBytes(rv)
	i.checkDivision(a, n, k, r)
	return r
}

// checkWideModulo constrains (hi·2^256 + lo) mod n = r for a non-zero n
// whose quotient fits in 256 bits.
func (i *Instruction) checkWideModulo(hi, lo, n, r limb.Bytes, nZero field.FQ) {
	x := new(big.Int).Lsh(hi.Uint256().ToBig(), 256)
	x.Add(x, lo.Uint256().ToBig())
	qv := new(uint256.Int)
	if !nZero.IsOne() {
		qb := new(big.Int).Quo(x, n.Uint256().ToBig())
		qv, _ = uint256.FromBig(qb)
	}
	q := i.witnessBytes(qv)
	i.cs.WhenFQ(circuit.Not(nZero), func() {
		limb.CheckMulAddWide(i.cs, n, q, r, hi, lo)
		lt, _ := limb.Lt(i.cs, r, n)
		i.cs.AssertEqual("mod.remainder", lt, field.One())
	})
}

func gadgetAddMod(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	n := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())

	nZero := limb.IsZero(i.cs, n)
	ar := i.reduce(a, n)
	sum, carry := limb.Add(i.cs, ar, b)
	hi := limb.Zero()
	hi[0] = carry

	rv := new(uint256.Int)
	if !nZero.IsOne() {
		rv.AddMod(a.Uint256(), b.Uint256(), n.Uint256())
	}
	r := i.witnessBytes(rv)
	i.checkWideModulo(hi, sum, n, r, nZero)
	for k := range r {
		i.cs.AssertEqual("addmod.result", c[k], circuit.Not(nZero).Mul(r[k]))
	}
	i.sameContext(op, field.Zero())
}

func gadgetMulMod(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	n := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())

	nZero := limb.IsZero(i.cs, n)
	ar := i.reduce(a, n)
	hi, lo := limb.MulAdd512(i.cs, ar, b, limb.Zero())

	rv := new(uint256.Int)
	if !nZero.IsOne() {
		rv.MulMod(a.Uint256(), b.Uint256(), n.Uint256())
	}
	r := i.witnessBytes(rv)
	i.checkWideModulo(hi, lo, n, r, nZero)
	for k := range r {
		i.cs.AssertEqual("mulmod.result", c[k], circuit.Not(nZero).Mul(r[k]))
	}
	i.sameContext(op, field.Zero())
}

func gadgetExp(i *Instruction) {
	op := i.opcode()
	base := i.stackPop()
	exponent := i.stackPop()
	result := i.stackPush()

	want, ok := i.tables.Exp.Lookup(base, exponent)
	i.cs.LookupResult("exp", ok, base.String()+"^"+exponent.String())
	i.cs.AssertWordEqual("exp.result", result, want)

	size := i.byteSize(i.decompose(exponent))
	i.sameContext(op, size.MulUint64(ExpByteGas))
}

func gadgetSignextend(i *Instruction) {
	op := i.opcode()
	idx := i.decompose(i.stackPop())
	v := i.decompose(i.stackPop())
	r := i.decompose(i.stackPush())
	i.assertBytes("signextend", r, limb.Signextend(i.cs, v, idx))
	i.sameContext(op, field.Zero())
}

func gadgetCmp(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	c := i.stackPush()

	var result field.FQ
	switch op {
	case gethvm.LT:
		result, _ = limb.Lt(i.cs, a, b)
	case gethvm.GT:
		result, _ = limb.Lt(i.cs, b, a)
	default:
		_, result = limb.Lt(i.cs, a, b)
	}
	i.cs.AssertWordEqual("cmp.result", c, field.WordFromFQ(result))
	i.sameContext(op, field.Zero())
}

func gadgetScmp(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	c := i.stackPush()
	if op == gethvm.SGT {
		a, b = b, a
	}
	i.cs.AssertWordEqual("scmp.result", c, field.WordFromFQ(limb.Slt(i.cs, a, b)))
	i.sameContext(op, field.Zero())
}

func gadgetIsZero(i *Instruction) {
	op := i.opcode()
	a := i.stackPop()
	c := i.stackPush()
	i.cs.AssertWordEqual("iszero.result", c, field.WordFromFQ(i.isZeroWord(a)))
	i.sameContext(op, field.Zero())
}

func gadgetBitwise(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())
	bop := map[gethvm.OpCode]tables.BitwiseOp{
		gethvm.AND: tables.BitwiseAnd,
		gethvm.OR:  tables.BitwiseOr,
		gethvm.XOR: tables.BitwiseXor,
	}[op]
	limb.CheckBitwise(i.cs, bop, a, b, c)
	i.sameContext(op, field.Zero())
}

func gadgetNot(i *Instruction) {
	op := i.opcode()
	a := i.decompose(i.stackPop())
	c := i.decompose(i.stackPush())
	i.assertBytes("not", c, limb.Not(i.cs, a))
	i.sameContext(op, field.Zero())
}

func gadgetByte(i *Instruction) {
	op := i.opcode()
	idx := i.decompose(i.stackPop())
	v := i.decompose(i.stackPop())
	c := i.stackPush()
	limb.CheckByte(i.cs, v, idx, c.Lo)
	i.cs.AssertZero("byte.hi", c.Hi)
	i.sameContext(op, field.Zero())
}

func gadgetShift(i *Instruction) {
	op := i.opcode()
	shift := i.decompose(i.stackPop())
	a := i.decompose(i.stackPop())
	b := i.decompose(i.stackPush())
	switch op {
	case gethvm.SHL:
		limb.CheckShl(i.cs, a, shift, b)
	case gethvm.SHR:
		limb.CheckShr(i.cs, a, shift, b)
	default:
		limb.CheckSar(i.cs, a, shift, b)
	}
	i.sameContext(op, field.Zero())
}
