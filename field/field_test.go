package field

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func randUint256(rng *rand.Rand) *uint256.Int {
	return &uint256.Int{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()}
}

func TestFQArithmetic(t *testing.T) {
	a, b := NewFQ(7), NewFQ(5)
	if got := a.Add(b); !got.Equal(NewFQ(12)) {
		t.Fatalf("7+5 = %s", got)
	}
	if got := a.Sub(b); !got.Equal(NewFQ(2)) {
		t.Fatalf("7-5 = %s", got)
	}
	if got := a.Mul(b); !got.Equal(NewFQ(35)) {
		t.Fatalf("7*5 = %s", got)
	}
	if got := b.Sub(a).Add(NewFQ(2)); !got.IsZero() {
		t.Fatalf("5-7+2 = %s, want 0", got)
	}
	if got := a.Mul(a.Inverse()); !got.IsOne() {
		t.Fatalf("a*a^-1 = %s, want 1", got)
	}
	if got := Zero().Inverse(); !got.IsZero() {
		t.Fatalf("0^-1 = %s, want 0", got)
	}
	if got := FromInt64(-3); !got.Add(NewFQ(3)).IsZero() {
		t.Fatalf("-3+3 = %s", got.Add(NewFQ(3)))
	}
	want := new(big.Int).Sub(Modulus(), big.NewInt(1))
	if got := One().Neg().BigInt(); got.Cmp(want) != 0 {
		t.Fatalf("-1 = %s, want %s", got, want)
	}
}

func TestFQUint64(t *testing.T) {
	if v, ok := NewFQ(1 << 40).Uint64(); !ok || v != 1<<40 {
		t.Fatalf("Uint64 = %d, %v", v, ok)
	}
	if _, ok := Pow2(64).Uint64(); ok {
		t.Fatal("2^64 reported as fitting in uint64")
	}
	if !FromBool(true).IsOne() || !FromBool(false).IsZero() {
		t.Fatal("FromBool mismatch")
	}
	if !NewFQ(1).IsBool() || NewFQ(2).IsBool() {
		t.Fatal("IsBool mismatch")
	}
}

func TestFQMapKey(t *testing.T) {
	m := map[FQ]int{}
	m[NewFQ(3)] = 1
	m[NewFQ(1).Add(NewFQ(2))] = 2
	if len(m) != 1 || m[NewFQ(3)] != 2 {
		t.Fatalf("equal elements produced distinct keys: %v", m)
	}
}

func TestCompose(t *testing.T) {
	got := Compose([]FQ{NewFQ(1), NewFQ(2), NewFQ(3)}, NewFQ(256))
	if !got.Equal(NewFQ(0x030201)) {
		t.Fatalf("Compose = %s, want %d", got, 0x030201)
	}
}

func TestWordRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		x := randUint256(rng)
		w := WordFromUint256(x)
		if got := w.Uint256(); !got.Eq(x) {
			t.Fatalf("round trip %s -> %s", x.Hex(), got.Hex())
		}
		lo := new(big.Int).And(x.ToBig(), new(big.Int).Sub(Pow2(128).BigInt(), big.NewInt(1)))
		if w.Lo.BigInt().Cmp(lo) != 0 {
			t.Fatalf("lo limb = %s, want %s", w.Lo, lo)
		}
	}
}

func TestWordConversions(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	w := WordFromAddress(addr)
	if w.Address() != addr {
		t.Fatalf("address round trip: %s", w.Address().Hex())
	}
	if !w.Hi.IsZero() || !w.Lo.Equal(NewFQ(0xdeadbeef)) {
		t.Fatalf("address limbs = %s/%s", w.Lo, w.Hi)
	}
	h := common.HexToHash("0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	if WordFromHash(h).Hash() != h {
		t.Fatal("hash round trip failed")
	}
	if !WordFromUint64(0).IsZero() || WordFromBool(true).IsZero() {
		t.Fatal("zero/bool words")
	}
	if got := Select(One(), WordFromUint64(1), WordFromUint64(2)); !got.Equal(WordFromUint64(1)) {
		t.Fatal("Select(1) picked the wrong word")
	}
	if got := WordFromUint64(5).ToFQ(); !got.Equal(NewFQ(5)) {
		t.Fatalf("ToFQ = %s", got)
	}
}

func TestRLC(t *testing.T) {
	r := NewFQ(10)
	if got := RLCBytes([]byte{1, 2, 3}, r); !got.Equal(NewFQ(321)) {
		t.Fatalf("RLCBytes = %s, want 321", got)
	}
	if got := RLCAcc([]byte{1, 2, 3}, r); !got.Equal(NewFQ(123)) {
		t.Fatalf("RLCAcc = %s, want 123", got)
	}
	if got := RLC([]FQ{NewFQ(4), NewFQ(5)}, r); !got.Equal(NewFQ(54)) {
		t.Fatalf("RLC = %s, want 54", got)
	}
	if got := RLCWord(WordFromUint64(0x0201), r); !got.Equal(NewFQ(21)) {
		t.Fatalf("RLCWord = %s, want 21", got)
	}
	if !RLCAcc(nil, r).IsZero() {
		t.Fatal("RLC of empty stream must be zero")
	}
}
