package limb

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

// CheckByte constrains r to be the i-th most significant byte of v, or
// zero when i >= 32. A chain of equality selectors on the low byte of i
// picks the byte.
func CheckByte(cs *circuit.Circuit, v, i Bytes, r field.FQ) {
	small := cs.IsZero(field.Sum(i[1:]...))
	acc := zeroFQ
	for j := 0; j < 32; j++ {
		sel := cs.IsEqual(i[0], field.NewFQ(uint64(j)))
		acc = acc.Add(sel.Mul(v[31-j]))
	}
	cs.AssertEqual("byte", r, small.Mul(acc))
}

// Byte returns the BYTE result of v at index i as a single cell.
func Byte(cs *circuit.Circuit, v, i Bytes) field.FQ {
	r := zeroFQ
	if idx := i.Uint256(); idx.LtUint64(32) {
		r = v[31-idx.Uint64()]
	}
	cs.Cell(r)
	CheckByte(cs, v, i, r)
	return r
}

// SignextendWitness holds the auxiliary cells of CheckSignextend.
type SignextendWitness struct {
	SignByte  field.FQ
	Selectors [31]field.FQ
}

// CheckSignextend constrains r to be v sign-extended from byte i. The
// selectors are a monotone prefix vector over bytes 1..31: selector j-1 is
// one exactly for bytes j > i, and their count is 31 - i when i < 31 and
// zero otherwise. The byte where the prefix starts is mapped to its sign
// through the SignByte table.
func CheckSignextend(cs *circuit.Circuit, v, i, r Bytes, w SignextendWitness) {
	small := cs.IsZero(field.Sum(i[1:]...))
	idx := i[0]
	lt := cs.Cell(field.FromBool(idx.MustUint64() < 31))
	cs.AssertBool("signextend.lt", lt)
	// idx + 256·lt - 31 is a byte exactly when lt = (idx < 31).
	cs.Lookup(tables.Range, idx.Add(lt.Mul(fq256)).Sub(field.NewFQ(31)), zeroFQ)
	active := small.Mul(lt)

	sel := func(j int) field.FQ {
		if j == 0 {
			return zeroFQ
		}
		return w.Selectors[j-1]
	}
	cs.Cells(w.Selectors[:]...)
	total := zeroFQ
	for k, s := range w.Selectors {
		cs.AssertBool("signextend.sel", s)
		if k > 0 {
			cs.AssertZero("signextend.prefix", w.Selectors[k-1].Mul(oneFQ.Sub(s)))
		}
		total = total.Add(s)
	}
	cs.AssertEqual("signextend.count", total, active.Mul(field.NewFQ(31).Sub(idx)))

	source := zeroFQ
	for j := 0; j < 31; j++ {
		source = source.Add(sel(j + 1).Sub(sel(j)).Mul(v[j]))
	}
	cs.Cell(w.SignByte)
	cs.WhenFQ(active, func() {
		cs.Lookup(tables.SignByte, source, w.SignByte)
	})
	for j := 0; j < 32; j++ {
		s := sel(j)
		want := s.Mul(w.SignByte).Add(oneFQ.Sub(s).Mul(v[j]))
		cs.AssertEqual("signextend.byte", r[j], want)
	}
}

// Signextend returns v sign-extended from byte i.
func Signextend(cs *circuit.Circuit, v, i Bytes) Bytes {
	var w SignextendWitness
	x := v.Uint256()
	out := new(uint256.Int).Set(x)
	if idx := i.Uint256(); idx.LtUint64(31) {
		b := int(idx.Uint64())
		out.ExtendSign(x, idx)
		w.SignByte = field.NewFQ(tables.SignOfByte(byte(v[b].MustUint64())))
		for j := b + 1; j < 32; j++ {
			w.Selectors[j-1] = oneFQ
		}
	}
	r := FromUint256(out)
	cs.Cells(r[:]...)
	CheckSignextend(cs, v, i, r, w)
	return r
}

// CheckBitwise constrains c = op(a, b) byte by byte.
func CheckBitwise(cs *circuit.Circuit, op tables.BitwiseOp, a, b, c Bytes) {
	opc := field.NewFQ(uint64(op))
	for j := 0; j < 32; j++ {
		cs.Lookup(tables.Bitwise, opc, a[j], b[j], c[j])
	}
}

// Bitwise returns op(a, b).
func Bitwise(cs *circuit.Circuit, op tables.BitwiseOp, a, b Bytes) Bytes {
	var c Bytes
	for j := range c {
		c[j] = field.NewFQ(uint64(op.Apply(byte(a[j].MustUint64()), byte(b[j].MustUint64()))))
	}
	cs.Cells(c[:]...)
	CheckBitwise(cs, op, a, b, c)
	return c
}

// Not returns the bitwise complement of a as a XOR 0xff per byte.
func Not(cs *circuit.Circuit, a Bytes) Bytes {
	var ff Bytes
	for j := range ff {
		ff[j] = field.NewFQ(0xff)
	}
	return Bitwise(cs, tables.BitwiseXor, a, ff)
}
