package limb

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
)

var (
	two64Big  = new(big.Int).Lsh(big.NewInt(1), 64)
	two128Big = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Carry is a 72-bit carry witness held as nine range-checked bytes.
type Carry [9]field.FQ

func (c Carry) value() field.FQ { return field.Compose(c[:], fq256) }

func carryFromBig(x *big.Int) Carry {
	var c Carry
	copy(c[:], smallBytes(x, 9))
	return c
}

func checkCarry(cs *circuit.Circuit, c Carry) field.FQ {
	cs.Cells(c[:]...)
	RangeCheck(cs, c[:])
	return c.value()
}

// partials returns the limb products of a·b grouped by power of 2^64:
// t_k = Σ_{i+j=k} a_i·b_j for k in [0, 7).
func partials(a, b [4]field.FQ) [7]field.FQ {
	var t [7]field.FQ
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			t[i+j] = t[i+j].Add(a[i].Mul(b[j]))
		}
	}
	return t
}

func partialsBig(a, b [4]uint64) [7]*big.Int {
	var t [7]*big.Int
	for k := range t {
		t[k] = new(big.Int)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p := new(big.Int).Mul(new(big.Int).SetUint64(a[i]), new(big.Int).SetUint64(b[j]))
			t[i+j].Add(t[i+j], p)
		}
	}
	return t
}

// pair returns x + y·2^64 on the host.
func pair(x, y *big.Int) *big.Int {
	return new(big.Int).Add(x, new(big.Int).Mul(y, two64Big))
}

func limbBig(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// CheckMul constrains a·b = prod mod 2^256 through the carries v0 and v1:
//
//	v0·2^128 = t0 + t1·2^64 - p0 - p1·2^64
//	v1·2^128 = v0 + t2 + t3·2^64 - p2 - p3·2^64
func CheckMul(cs *circuit.Circuit, a, b, prod Bytes, v0, v1 Carry) {
	t := partials(BytesToU64s(a), BytesToU64s(b))
	p := BytesToU64s(prod)
	two64, two128 := field.Two64(), field.Two128()
	c0 := checkCarry(cs, v0)
	c1 := checkCarry(cs, v1)
	cs.AssertEqual("mul.v0", c0.Mul(two128),
		t[0].Add(t[1].Mul(two64)).Sub(p[0]).Sub(p[1].Mul(two64)))
	cs.AssertEqual("mul.v1", c1.Mul(two128),
		c0.Add(t[2]).Add(t[3].Mul(two64)).Sub(p[2]).Sub(p[3].Mul(two64)))
}

// Mul returns a·b mod 2^256.
func Mul(cs *circuit.Circuit, a, b Bytes) Bytes {
	prod := FromUint256(new(uint256.Int).Mul(a.Uint256(), b.Uint256()))
	cs.Cells(prod[:]...)
	t := partialsBig(limbValues(a), limbValues(b))
	p := limbValues(prod)
	n0 := new(big.Int).Sub(pair(t[0], t[1]), pair(limbBig(p[0]), limbBig(p[1])))
	v0 := new(big.Int).Rsh(n0, 128)
	n1 := new(big.Int).Add(v0, pair(t[2], t[3]))
	n1.Sub(n1, pair(limbBig(p[2]), limbBig(p[3])))
	v1 := new(big.Int).Rsh(n1, 128)
	CheckMul(cs, a, b, prod, carryFromBig(v0), carryFromBig(v1))
	return prod
}

// CheckMulAdd512 constrains the 512-bit identity a·b + c = d·2^256 + e with
// three 72-bit carries:
//
//	v0·2^128 = t0 + t1·2^64 + c_lo - e_lo
//	v1·2^128 = v0 + t2 + t3·2^64 + c_hi - e_hi
//	v2·2^128 = v1 + t4 + t5·2^64 - d_lo
//	0        = v2 + t6 - d_hi
//
// where c_lo, e_lo, d_lo are the low 128 bits of their operands.
func CheckMulAdd512(cs *circuit.Circuit, a, b, c, d, e Bytes, v [3]Carry) {
	t := partials(BytesToU64s(a), BytesToU64s(b))
	two64, two128 := field.Two64(), field.Two128()
	cw, dw, ew := c.Word(), d.Word(), e.Word()
	v0 := checkCarry(cs, v[0])
	v1 := checkCarry(cs, v[1])
	v2 := checkCarry(cs, v[2])
	cs.AssertEqual("muladd.v0", v0.Mul(two128),
		t[0].Add(t[1].Mul(two64)).Add(cw.Lo).Sub(ew.Lo))
	cs.AssertEqual("muladd.v1", v1.Mul(two128),
		v0.Add(t[2]).Add(t[3].Mul(two64)).Add(cw.Hi).Sub(ew.Hi))
	cs.AssertEqual("muladd.v2", v2.Mul(two128),
		v1.Add(t[4]).Add(t[5].Mul(two64)).Sub(dw.Lo))
	cs.AssertEqual("muladd.top", zeroFQ, v2.Add(t[6]).Sub(dw.Hi))
}

// mulAdd512Carries computes the carries of CheckMulAdd512 for the given
// operands. Dishonest operands produce carries that fail the equalities.
func mulAdd512Carries(a, b, c, d, e Bytes) [3]Carry {
	t := partialsBig(limbValues(a), limbValues(b))
	cv, dv, ev := limbValues(c), limbValues(d), limbValues(e)
	n0 := new(big.Int).Add(pair(t[0], t[1]), pair(limbBig(cv[0]), limbBig(cv[1])))
	n0.Sub(n0, pair(limbBig(ev[0]), limbBig(ev[1])))
	v0 := new(big.Int).Rsh(n0, 128)
	n1 := new(big.Int).Add(v0, pair(t[2], t[3]))
	n1.Add(n1, pair(limbBig(cv[2]), limbBig(cv[3])))
	n1.Sub(n1, pair(limbBig(ev[2]), limbBig(ev[3])))
	v1 := new(big.Int).Rsh(n1, 128)
	n2 := new(big.Int).Add(v1, pair(t[4], t[5]))
	n2.Sub(n2, pair(limbBig(dv[0]), limbBig(dv[1])))
	v2 := new(big.Int).Rsh(n2, 128)
	return [3]Carry{carryFromBig(v0), carryFromBig(v1), carryFromBig(v2)}
}

// MulAdd512 returns (d, e) with a·b + c = d·2^256 + e.
func MulAdd512(cs *circuit.Circuit, a, b, c Bytes) (Bytes, Bytes) {
	full := new(big.Int).Mul(a.Uint256().ToBig(), b.Uint256().ToBig())
	full.Add(full, c.Uint256().ToBig())
	lo, _ := uint256.FromBig(new(big.Int).Mod(full, new(big.Int).Lsh(two128Big, 128)))
	hi, _ := uint256.FromBig(new(big.Int).Rsh(full, 256))
	d, e := FromUint256(hi), FromUint256(lo)
	cs.Cells(d[:]...)
	cs.Cells(e[:]...)
	CheckMulAdd512(cs, a, b, c, d, e, mulAdd512Carries(a, b, c, d, e))
	return d, e
}

// CheckMulAddWords constrains a·b + c = e without overflow past 2^256. It is
// the quotient-remainder relation of DIV and MOD.
func CheckMulAddWords(cs *circuit.Circuit, a, b, c, e Bytes) {
	d := Zero()
	CheckMulAdd512(cs, a, b, c, d, e, mulAdd512Carries(a, b, c, d, e))
}

// CheckMulAddWide constrains a·b + c = d·2^256 + e, deriving the carries
// from the operands.
func CheckMulAddWide(cs *circuit.Circuit, a, b, c, d, e Bytes) {
	CheckMulAdd512(cs, a, b, c, d, e, mulAdd512Carries(a, b, c, d, e))
}
