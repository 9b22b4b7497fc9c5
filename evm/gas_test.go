package evm

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestMemoryExpansion(t *testing.T) {
	tests := []struct {
		curr      uint64
		ends      []uint64
		wantWords uint64
		wantCost  uint64
	}{
		{0, nil, 0, 0},
		{0, []uint64{0}, 0, 0},
		{0, []uint64{1}, 1, 3},
		{0, []uint64{32}, 1, 3},
		{0, []uint64{33}, 2, 6},
		{1, []uint64{32}, 1, 0},
		{1, []uint64{64, 10}, 2, 3},
		{0, []uint64{32 * 1024}, 1024, 1024*3 + 1024*1024/512},
	}
	for _, tc := range tests {
		words, cost := MemoryExpansion(tc.curr, tc.ends...)
		if words != tc.wantWords || cost != tc.wantCost {
			t.Fatalf("MemoryExpansion(%d, %v) = (%d, %d), want (%d, %d)",
				tc.curr, tc.ends, words, cost, tc.wantWords, tc.wantCost)
		}
	}
}

func TestDynamicCosts(t *testing.T) {
	if got := CopyCost(33); got != 6 {
		t.Fatalf("CopyCost(33) = %d, want 6", got)
	}
	if got := Sha3Cost(64); got != 12 {
		t.Fatalf("Sha3Cost(64) = %d, want 12", got)
	}
	if got := LogCost(2, 10); got != 2*375+10*8 {
		t.Fatalf("LogCost(2, 10) = %d", got)
	}
	if got := ExpCost(uint256.NewInt(0x1234)); got != 10+2*50 {
		t.Fatalf("ExpCost = %d, want 110", got)
	}
	if got := ExpCost(new(uint256.Int)); got != 10 {
		t.Fatalf("ExpCost(0) = %d, want 10", got)
	}
}

func TestCallGas(t *testing.T) {
	if got := AllButOne64th(6400); got != 6300 {
		t.Fatalf("AllButOne64th = %d, want 6300", got)
	}
	if got := CallGas(6400, uint256.NewInt(100)); got != 100 {
		t.Fatalf("CallGas below cap = %d, want 100", got)
	}
	if got := CallGas(6400, new(uint256.Int).Lsh(uint256.NewInt(1), 200)); got != 6300 {
		t.Fatalf("CallGas above cap = %d, want 6300", got)
	}
}

func TestSstoreCost(t *testing.T) {
	u := uint256.NewInt
	tests := []struct {
		name                     string
		original, current, value uint64
		warm                     bool
		wantCost                 uint64
		wantRefund               int64
	}{
		{"noop warm", 1, 1, 1, true, 100, 0},
		{"set cold", 0, 0, 1, false, 2100 + 20000, 0},
		{"reset warm", 1, 1, 2, true, 2900, 0},
		{"clear", 1, 1, 0, true, 2900, 4800},
		{"dirty", 1, 2, 3, true, 100, 0},
		{"restore zero", 0, 1, 0, true, 100, 19900},
		{"restore nonzero", 1, 2, 1, true, 100, 2800},
		{"unclear", 1, 0, 2, true, 100, -4800},
	}
	for _, tc := range tests {
		cost, refund := SstoreCost(u(tc.original), u(tc.current), u(tc.value), tc.warm)
		if cost != tc.wantCost || refund != tc.wantRefund {
			t.Fatalf("%s: SstoreCost = (%d, %d), want (%d, %d)", tc.name, cost, refund, tc.wantCost, tc.wantRefund)
		}
	}
}

func TestEffectiveRefund(t *testing.T) {
	if got := EffectiveRefund(50000, 4800); got != 4800 {
		t.Fatalf("uncapped refund = %d, want 4800", got)
	}
	if got := EffectiveRefund(21000, 19900); got != 4200 {
		t.Fatalf("capped refund = %d, want 4200", got)
	}
}
