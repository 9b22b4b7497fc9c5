package limb

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

var (
	fq3     = field.NewFQ(3)
	fq8     = field.NewFQ(8)
	fq64    = field.NewFQ(64)
	allOnes = field.NewFQ(^uint64(0))
)

// shiftAmount is the decomposition shift = 64·q + 8·r + s of the low shift
// byte together with the Pow64 row of shift mod 64.
type shiftAmount struct {
	small field.FQ    // 1 when the shift is below 256
	s64   field.FQ    // 8·r + s
	sel   [4]field.FQ // one-hot selector of q
	pow   field.FQ    // 2^s64
	depow field.FQ    // 2^(64 - s64)

	s64Value uint64
}

func decomposeShift(cs *circuit.Circuit, shift Bytes) shiftAmount {
	var sh shiftAmount
	sh.small = cs.IsZero(field.Sum(shift[1:]...))

	low := shift[0].MustUint64()
	qv, rv, sv := low/64, (low%64)/8, low%8
	q := cs.Cell(field.NewFQ(qv))
	r := cs.Cell(field.NewFQ(rv))
	s := cs.Cell(field.NewFQ(sv))
	cs.Lookup(tables.BitsLevel, field.NewFQ(2), q)
	cs.Lookup(tables.BitsLevel, fq3, r)
	cs.Lookup(tables.BitsLevel, fq3, s)
	sh.s64 = r.Mul(fq8).Add(s)
	cs.AssertEqual("shift.decompose", shift[0], q.Mul(fq64).Add(sh.s64))

	copy(sh.sel[:], oneHot(cs, "shift.q", q, qv, 4))

	sh.s64Value = low % 64
	sh.pow = cs.Cell(field.Pow2(uint(sh.s64Value)))
	sh.depow = cs.Cell(field.Pow2(uint(64 - sh.s64Value)))
	cs.Lookup(tables.Pow64, sh.s64, sh.pow, sh.depow)
	return sh
}

// oneHot witnesses an n-entry selector with a single one at position v and
// constrains it against the cell idx.
func oneHot(cs *circuit.Circuit, name string, idx field.FQ, v uint64, n int) []field.FQ {
	sel := make([]field.FQ, n)
	sum, weighted := zeroFQ, zeroFQ
	for k := 0; k < n; k++ {
		if uint64(k) == v {
			sel[k] = oneFQ
		}
		cs.Cell(sel[k])
		cs.AssertBool(name+".bool", sel[k])
		sum = sum.Add(sel[k])
		weighted = weighted.Add(sel[k].MulUint64(uint64(k)))
	}
	cs.AssertEqual(name+".one", sum, oneFQ)
	cs.AssertEqual(name+".index", weighted, idx)
	return sel
}

// splitPoint splits 64-bit limbs at a common bit position bits = 8·rb + sb
// with rb in [0, 8] and sb in [0, 8).
type splitPoint struct {
	bits uint64
	sb   field.FQ
	rsel []field.FQ
	mult field.FQ
}

func newSplitPoint(cs *circuit.Circuit, bits uint64, bitsExpr, mult field.FQ) splitPoint {
	rb := cs.Cell(field.NewFQ(bits / 8))
	sb := cs.Cell(field.NewFQ(bits % 8))
	cs.Lookup(tables.BitsLevel, fq3, sb)
	cs.AssertEqual("split.bits", bitsExpr, rb.Mul(fq8).Add(sb))
	return splitPoint{
		bits: bits,
		sb:   sb,
		rsel: oneHot(cs, "split.r", rb, bits/8, 9),
		mult: mult,
	}
}

// split returns (lo, hi) with limb = lo + hi·2^bits and lo < 2^bits. Bytes
// of lo below the split byte are full, the split byte holds sb bits and the
// bytes above it are zero.
func (p splitPoint) split(cs *circuit.Circuit, limb field.FQ) (lo, hi field.FQ) {
	v := limb.MustUint64()
	var loV, hiV uint64
	if p.bits >= 64 {
		loV = v
	} else {
		loV = v & (1<<p.bits - 1)
		hiV = v >> p.bits
	}
	lb := FromUint64(loV)
	hb := FromUint64(hiV)
	cs.Cells(lb[:8]...)
	cs.Cells(hb[:8]...)
	RangeCheck(cs, lb[:8])
	RangeCheck(cs, hb[:8])
	for j := 0; j < 8; j++ {
		below := zeroFQ
		for k := j + 1; k < 9; k++ {
			below = below.Add(p.rsel[k])
		}
		at := p.rsel[j]
		above := oneFQ.Sub(below).Sub(at)
		cs.WhenFQ(at, func() {
			cs.Lookup(tables.BitsLevel, p.sb, lb[j])
		})
		cs.AssertZero("split.above", above.Mul(lb[j]))
	}
	lo = field.Compose(lb[:8], fq256)
	hi = field.Compose(hb[:8], fq256)
	cs.AssertEqual("split.limb", limb, lo.Add(hi.Mul(p.mult)))
	return lo, hi
}

// shrLimbs returns the limbs of a >> shift for a shift below 256, before the
// small-shift gate and without sign fill.
func shrLimbs(cs *circuit.Circuit, a Bytes, sh shiftAmount) [4]field.FQ {
	p := newSplitPoint(cs, sh.s64Value, sh.s64, sh.pow)
	var back, front [4]field.FQ
	for i, l := range BytesToU64s(a) {
		back[i], front[i] = p.split(cs, l)
	}
	var out [4]field.FQ
	for k := 0; k < 4; k++ {
		acc := zeroFQ
		for q := 0; q < 4; q++ {
			term := zeroFQ
			if k+q < 4 {
				term = front[k+q]
			}
			if k+q+1 < 4 {
				term = term.Add(back[k+q+1].Mul(sh.depow))
			}
			acc = acc.Add(sh.sel[q].Mul(term))
		}
		out[k] = acc.Mul(sh.small)
	}
	return out
}

// CheckShr constrains b = a >> shift (logical).
func CheckShr(cs *circuit.Circuit, a, shift, b Bytes) {
	sh := decomposeShift(cs, shift)
	want := shrLimbs(cs, a, sh)
	got := BytesToU64s(b)
	for k := range want {
		cs.AssertEqual("shr.limb", got[k], want[k])
	}
}

// CheckShl constrains b = a << shift mod 2^256. Limbs are split at
// 64 - shift mod 64: the low part moves up by shift mod 64 and the high part
// carries into the next limb.
func CheckShl(cs *circuit.Circuit, a, shift, b Bytes) {
	sh := decomposeShift(cs, shift)
	p := newSplitPoint(cs, 64-sh.s64Value, fq64.Sub(sh.s64), sh.depow)
	var stay, carry [4]field.FQ
	for i, l := range BytesToU64s(a) {
		stay[i], carry[i] = p.split(cs, l)
	}
	got := BytesToU64s(b)
	for k := 0; k < 4; k++ {
		acc := zeroFQ
		for q := 0; q < 4; q++ {
			term := zeroFQ
			if k-q >= 0 {
				term = stay[k-q].Mul(sh.pow)
			}
			if k-q-1 >= 0 {
				term = term.Add(carry[k-q-1])
			}
			acc = acc.Add(sh.sel[q].Mul(term))
		}
		cs.AssertEqual("shl.limb", got[k], acc.Mul(sh.small))
	}
}

// CheckSar constrains b = a >> shift (arithmetic). Negative operands fill
// the vacated high bits with ones; shifts of 256 or more produce zero or
// all ones.
func CheckSar(cs *circuit.Circuit, a, shift, b Bytes) {
	neg := IsNegative(cs, a)
	sh := decomposeShift(cs, shift)
	shr := shrLimbs(cs, a, sh)
	got := BytesToU64s(b)
	notSmall := oneFQ.Sub(sh.small)
	for k := 0; k < 4; k++ {
		fill := zeroFQ
		for q := 0; q < 4; q++ {
			var f field.FQ
			switch {
			case k > 3-q:
				f = allOnes
			case k == 3-q:
				f = field.Two64().Sub(sh.depow)
			}
			fill = fill.Add(sh.sel[q].Mul(f))
		}
		fill = fill.Mul(sh.small).Add(notSmall.Mul(allOnes))
		cs.AssertEqual("sar.limb", got[k], shr[k].Add(neg.Mul(fill)))
	}
}

// Shr returns a >> shift.
func Shr(cs *circuit.Circuit, a, shift Bytes) Bytes {
	x, n := a.Uint256(), shift.Uint256()
	out := new(uint256.Int)
	if n.LtUint64(256) {
		out.Rsh(x, uint(n.Uint64()))
	}
	b := FromUint256(out)
	cs.Cells(b[:]...)
	CheckShr(cs, a, shift, b)
	return b
}

// Shl returns a << shift mod 2^256.
func Shl(cs *circuit.Circuit, a, shift Bytes) Bytes {
	x, n := a.Uint256(), shift.Uint256()
	out := new(uint256.Int)
	if n.LtUint64(256) {
		out.Lsh(x, uint(n.Uint64()))
	}
	b := FromUint256(out)
	cs.Cells(b[:]...)
	CheckShl(cs, a, shift, b)
	return b
}

// Sar returns the arithmetic right shift of a.
func Sar(cs *circuit.Circuit, a, shift Bytes) Bytes {
	x, n := a.Uint256(), shift.Uint256()
	out := new(uint256.Int)
	switch {
	case n.LtUint64(256):
		out.SRsh(x, uint(n.Uint64()))
	case x.Sign() < 0:
		out.SetAllOne()
	}
	b := FromUint256(out)
	cs.Cells(b[:]...)
	CheckSar(cs, a, shift, b)
	return b
}
