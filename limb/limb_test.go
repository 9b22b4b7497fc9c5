package limb

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

func u(hex string) *uint256.Int { return uint256.MustFromHex(hex) }

func testValues() []*uint256.Int {
	vals := []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(1),
		uint256.NewInt(2),
		uint256.NewInt(0xff),
		uint256.NewInt(0x100),
		u("0xffffffffffffffff"),
		u("0x10000000000000000"),
		u("0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
		u("0x8000000000000000000000000000000000000000000000000000000000000000"),
		new(uint256.Int).SetAllOne(),
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 6; i++ {
		var x uint256.Int
		for j := range x {
			x[j] = rng.Uint64()
		}
		vals = append(vals, &x)
	}
	return vals
}

func mustPass(t *testing.T, cs *circuit.Circuit) {
	t.Helper()
	if err := cs.Err(); err != nil {
		t.Fatalf("unexpected constraint failure: %v", err)
	}
}

func mustFail(t *testing.T, cs *circuit.Circuit) {
	t.Helper()
	if cs.Err() == nil {
		t.Fatal("expected a constraint failure")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	for _, x := range testValues() {
		if got := BytesToU256(U256ToBytes(x)); !got.Eq(x) {
			t.Fatalf("round trip %s -> %s", x.Hex(), got.Hex())
		}
		b := FromUint256(x)
		if !b.Uint256().Eq(x) {
			t.Fatalf("cells round trip %s", x.Hex())
		}
		if !b.Word().Equal(field.WordFromUint256(x)) {
			t.Fatalf("word compose mismatch for %s", x.Hex())
		}
	}
	le := U256ToBytes(uint256.NewInt(0x0102))
	if le[0] != 0x02 || le[1] != 0x01 {
		t.Fatalf("not little endian: %x", le[:2])
	}
}

func TestBytesToU64s(t *testing.T) {
	x := &uint256.Int{1, 2, 3, 4}
	limbs := BytesToU64s(FromUint256(x))
	for i, want := range []uint64{1, 2, 3, 4} {
		if got := limbs[i].MustUint64(); got != want {
			t.Fatalf("limb %d = %d, want %d", i, got, want)
		}
	}
}

func TestDecompose(t *testing.T) {
	for _, x := range testValues() {
		cs := circuit.New()
		b := Decompose(cs, field.WordFromUint256(x))
		mustPass(t, cs)
		if !b.Uint256().Eq(x) {
			t.Fatalf("decompose %s", x.Hex())
		}
	}
	// A low limb at 2^128 is not a canonical word.
	cs := circuit.New()
	Decompose(cs, field.Word{Lo: field.Two128()})
	mustFail(t, cs)
}

func TestAddSub(t *testing.T) {
	vals := testValues()
	for _, a := range vals {
		for _, b := range vals {
			cs := circuit.New()
			sum, carry := Add(cs, FromUint256(a), FromUint256(b))
			mustPass(t, cs)
			want, overflow := new(uint256.Int).AddOverflow(a, b)
			if !sum.Uint256().Eq(want) {
				t.Fatalf("%s + %s = %s, want %s", a.Hex(), b.Hex(), sum.Uint256().Hex(), want.Hex())
			}
			if carry.IsOne() != overflow {
				t.Fatalf("carry mismatch for %s + %s", a.Hex(), b.Hex())
			}

			cs = circuit.New()
			diff, borrow := Sub(cs, FromUint256(a), FromUint256(b))
			mustPass(t, cs)
			if !diff.Uint256().Eq(new(uint256.Int).Sub(a, b)) {
				t.Fatalf("%s - %s wrong", a.Hex(), b.Hex())
			}
			if borrow.IsOne() != a.Lt(b) {
				t.Fatalf("borrow mismatch for %s - %s", a.Hex(), b.Hex())
			}
		}
	}
}

func TestCheckAddRejectsWrongSum(t *testing.T) {
	a, b := FromUint64(200), FromUint64(100)
	sum, carry := addWitness(a, b)
	sum[0] = sum[0].AddUint64(1)
	cs := circuit.New()
	CheckAdd(cs, a, b, sum, carry)
	mustFail(t, cs)

	// Pushing the excess into a non-boolean carry is caught as well.
	sum, carry = addWitness(a, b)
	sum[0] = sum[0].AddUint64(256)
	cs = circuit.New()
	CheckAdd(cs, a, b, sum, carry)
	mustFail(t, cs)
}

func TestNeg(t *testing.T) {
	for _, a := range testValues() {
		cs := circuit.New()
		n := Neg(cs, FromUint256(a))
		mustPass(t, cs)
		if !n.Uint256().Eq(new(uint256.Int).Neg(a)) {
			t.Fatalf("neg %s", a.Hex())
		}
	}
}

func TestMul(t *testing.T) {
	vals := testValues()
	for _, a := range vals {
		for _, b := range vals {
			cs := circuit.New()
			prod := Mul(cs, FromUint256(a), FromUint256(b))
			mustPass(t, cs)
			if want := new(uint256.Int).Mul(a, b); !prod.Uint256().Eq(want) {
				t.Fatalf("%s * %s = %s, want %s", a.Hex(), b.Hex(), prod.Uint256().Hex(), want.Hex())
			}
		}
	}
}

func TestCheckMulRejectsWrongProduct(t *testing.T) {
	a, b := FromUint64(12345), FromUint64(678)
	cs := circuit.New()
	CheckMul(cs, a, b, FromUint64(12345*678+1), Carry{}, Carry{})
	mustFail(t, cs)
}

func TestMulAdd512(t *testing.T) {
	vals := testValues()
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	for _, a := range vals {
		for _, b := range vals[:8] {
			c := vals[len(vals)-1]
			cs := circuit.New()
			d, e := MulAdd512(cs, FromUint256(a), FromUint256(b), FromUint256(c))
			mustPass(t, cs)
			full := new(big.Int).Mul(a.ToBig(), b.ToBig())
			full.Add(full, c.ToBig())
			if e.Uint256().ToBig().Cmp(new(big.Int).Mod(full, mod)) != 0 {
				t.Fatalf("low half mismatch for %s*%s+%s", a.Hex(), b.Hex(), c.Hex())
			}
			if d.Uint256().ToBig().Cmp(new(big.Int).Rsh(full, 256)) != 0 {
				t.Fatalf("high half mismatch for %s*%s+%s", a.Hex(), b.Hex(), c.Hex())
			}
		}
	}
}

func TestCheckMulAddWords(t *testing.T) {
	// 1000 = 7·142 + 6
	cs := circuit.New()
	CheckMulAddWords(cs, FromUint64(7), FromUint64(142), FromUint64(6), FromUint64(1000))
	mustPass(t, cs)

	cs = circuit.New()
	CheckMulAddWords(cs, FromUint64(7), FromUint64(142), FromUint64(5), FromUint64(1000))
	mustFail(t, cs)

	// 2^255·2 overflows and has no 256-bit result.
	cs = circuit.New()
	top := FromUint256(u("0x8000000000000000000000000000000000000000000000000000000000000000"))
	CheckMulAddWords(cs, top, FromUint64(2), Zero(), Zero())
	mustFail(t, cs)
}

func TestLtAndSlt(t *testing.T) {
	vals := testValues()
	for _, a := range vals {
		for _, b := range vals {
			cs := circuit.New()
			lt, eq := Lt(cs, FromUint256(a), FromUint256(b))
			slt := Slt(cs, FromUint256(a), FromUint256(b))
			mustPass(t, cs)
			if lt.IsOne() != a.Lt(b) {
				t.Fatalf("lt(%s, %s)", a.Hex(), b.Hex())
			}
			if eq.IsOne() != a.Eq(b) {
				t.Fatalf("eq(%s, %s)", a.Hex(), b.Hex())
			}
			if slt.IsOne() != a.Slt(b) {
				t.Fatalf("slt(%s, %s)", a.Hex(), b.Hex())
			}
			cs = circuit.New()
			CheckSgt(cs, FromUint256(a), FromUint256(b), field.FromBool(a.Sgt(b)))
			mustPass(t, cs)
		}
	}
	cs := circuit.New()
	CheckLt(cs, FromUint64(1), FromUint64(2), field.Zero())
	mustFail(t, cs)
}

func TestIsNegative(t *testing.T) {
	for top, want := range map[uint64]bool{0: false, 0x7f: false, 0x80: true, 0x81: true, 0xff: true} {
		var b Bytes
		b[31] = field.NewFQ(top)
		cs := circuit.New()
		if got := IsNegative(cs, b); got.IsOne() != want {
			t.Fatalf("top byte %#x: negative = %v, want %v", top, got, want)
		}
		mustPass(t, cs)
	}
}

func shiftAmounts() []*uint256.Int {
	out := []*uint256.Int{}
	for _, n := range []uint64{0, 1, 7, 8, 9, 63, 64, 65, 100, 127, 128, 129, 191, 192, 200, 255, 256, 300} {
		out = append(out, uint256.NewInt(n))
	}
	return append(out, u("0x100000000000000000000000000000000000000000000000000"))
}

func TestShifts(t *testing.T) {
	for _, a := range testValues() {
		for _, n := range shiftAmounts() {
			cs := circuit.New()
			shr := Shr(cs, FromUint256(a), FromUint256(n))
			shl := Shl(cs, FromUint256(a), FromUint256(n))
			sar := Sar(cs, FromUint256(a), FromUint256(n))
			mustPass(t, cs)

			var wantShr, wantShl, wantSar uint256.Int
			if n.LtUint64(256) {
				wantShr.Rsh(a, uint(n.Uint64()))
				wantShl.Lsh(a, uint(n.Uint64()))
				wantSar.SRsh(a, uint(n.Uint64()))
			} else if a.Sign() < 0 {
				wantSar.SetAllOne()
			}
			if !shr.Uint256().Eq(&wantShr) {
				t.Fatalf("%s >> %s = %s, want %s", a.Hex(), n.Dec(), shr.Uint256().Hex(), wantShr.Hex())
			}
			if !shl.Uint256().Eq(&wantShl) {
				t.Fatalf("%s << %s = %s, want %s", a.Hex(), n.Dec(), shl.Uint256().Hex(), wantShl.Hex())
			}
			if !sar.Uint256().Eq(&wantSar) {
				t.Fatalf("%s sar %s = %s, want %s", a.Hex(), n.Dec(), sar.Uint256().Hex(), wantSar.Hex())
			}
		}
	}
}

func TestCheckShrRejectsWrongResult(t *testing.T) {
	cs := circuit.New()
	CheckShr(cs, FromUint64(0x80), FromUint64(4), FromUint64(0x9))
	mustFail(t, cs)

	cs = circuit.New()
	CheckShl(cs, FromUint64(1), FromUint64(300), FromUint64(1))
	mustFail(t, cs)
}

func TestByte(t *testing.T) {
	var be [32]byte
	for i := range be {
		be[i] = byte(i)
	}
	v := new(uint256.Int).SetBytes32(be[:])
	for _, i := range []uint64{0, 1, 15, 30, 31, 32, 1000} {
		cs := circuit.New()
		r := Byte(cs, FromUint256(v), FromUint64(i))
		mustPass(t, cs)
		want := uint64(0)
		if i < 32 {
			want = i
		}
		if r.MustUint64() != want {
			t.Fatalf("byte %d = %s, want %d", i, r, want)
		}
	}
	cs := circuit.New()
	CheckByte(cs, FromUint256(v), FromUint64(3), field.NewFQ(4))
	mustFail(t, cs)
}

func TestSignextend(t *testing.T) {
	vals := []*uint256.Int{uint256.NewInt(0x7f), uint256.NewInt(0x80), uint256.NewInt(0xff7f), uint256.NewInt(0x8000), u("0x1234567890abcdef"), new(uint256.Int).SetAllOne()}
	for _, v := range vals {
		for _, i := range []uint64{0, 1, 2, 7, 30, 31, 32, 1 << 40} {
			cs := circuit.New()
			r := Signextend(cs, FromUint256(v), FromUint64(i))
			mustPass(t, cs)
			want := new(uint256.Int).ExtendSign(v, uint256.NewInt(i))
			if !r.Uint256().Eq(want) {
				t.Fatalf("signextend(%d, %s) = %s, want %s", i, v.Hex(), r.Uint256().Hex(), want.Hex())
			}
		}
	}
}

func TestCheckSignextendRejectsBrokenPrefix(t *testing.T) {
	v, i := FromUint64(0x80), FromUint64(0)
	var w SignextendWitness
	w.SignByte = field.NewFQ(0xff)
	for j := 1; j < 31; j++ {
		w.Selectors[j] = field.One()
	}
	r := FromUint256(new(uint256.Int).ExtendSign(uint256.NewInt(0x80), uint256.NewInt(0)))
	cs := circuit.New()
	CheckSignextend(cs, v, i, r, w)
	mustFail(t, cs)
}

func TestBitwise(t *testing.T) {
	vals := testValues()
	for _, a := range vals[:6] {
		for _, b := range vals[6:] {
			cs := circuit.New()
			and := Bitwise(cs, tables.BitwiseAnd, FromUint256(a), FromUint256(b))
			or := Bitwise(cs, tables.BitwiseOr, FromUint256(a), FromUint256(b))
			xor := Bitwise(cs, tables.BitwiseXor, FromUint256(a), FromUint256(b))
			not := Not(cs, FromUint256(a))
			mustPass(t, cs)
			if !and.Uint256().Eq(new(uint256.Int).And(a, b)) ||
				!or.Uint256().Eq(new(uint256.Int).Or(a, b)) ||
				!xor.Uint256().Eq(new(uint256.Int).Xor(a, b)) ||
				!not.Uint256().Eq(new(uint256.Int).Not(a)) {
				t.Fatalf("bitwise mismatch for %s, %s", a.Hex(), b.Hex())
			}
		}
	}
}

func TestRangeCheckOddLength(t *testing.T) {
	cs := circuit.New()
	RangeCheck(cs, []field.FQ{field.NewFQ(1), field.NewFQ(2), field.NewFQ(256)})
	err := cs.Err()
	if !errors.Is(err, circuit.ErrLookupFailed) {
		t.Fatalf("want lookup failure, got %v", err)
	}
	if got := cs.Stats().Lookups; got != 2 {
		t.Fatalf("lookups = %d, want 2", got)
	}
}
