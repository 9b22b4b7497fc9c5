package tables

import (
	"testing"

	"github.com/eth2030/zkevm/field"
)

func TestFixedTableSizes(t *testing.T) {
	want := map[string]int{
		"range":      1 << 16,
		"addition":   1 << 17,
		"sign":       1<<18 - 1,
		"sign_byte":  256,
		"bits_level": 511,
		"pow64":      64,
		"bitwise":    3 << 16,
	}
	for _, s := range FixedTables() {
		if got := s.Len(); got != want[s.Name()] {
			t.Errorf("%s: %d rows, want %d", s.Name(), got, want[s.Name()])
		}
	}
}

func TestFixedTableMembership(t *testing.T) {
	n := field.NewFQ
	cases := []struct {
		set  *Set
		row  []field.FQ
		want bool
	}{
		{Range, []field.FQ{n(255), n(0)}, true},
		{Range, []field.FQ{n(256), n(0)}, false},
		{Addition, []field.FQ{n(0x1fffe), n(0xfe), n(0xff), n(1)}, true},
		{Addition, []field.FQ{n(0x1fffe), n(0xfe), n(0xff), n(0)}, false},
		{Sign, []field.FQ{field.FromInt64(-5), field.FromInt64(-1)}, true},
		{Sign, []field.FQ{n(0), n(0)}, true},
		{Sign, []field.FQ{n(7), field.FromInt64(-1)}, false},
		{SignByte, []field.FQ{n(0x80), n(0xff)}, true},
		{SignByte, []field.FQ{n(0x7f), n(0)}, true},
		{SignByte, []field.FQ{n(0x7f), n(0xff)}, false},
		{BitsLevel, []field.FQ{n(3), n(7)}, true},
		{BitsLevel, []field.FQ{n(3), n(8)}, false},
		{BitsLevel, []field.FQ{n(0), n(0)}, true},
		{Pow64, []field.FQ{n(0), n(1), field.Pow2(64)}, true},
		{Pow64, []field.FQ{n(8), n(256), field.Pow2(56)}, true},
		{Pow64, []field.FQ{n(64), field.Pow2(64), n(1)}, false},
		{Bitwise, []field.FQ{n(uint64(BitwiseAnd)), n(0xf0), n(0x3c), n(0x30)}, true},
		{Bitwise, []field.FQ{n(uint64(BitwiseOr)), n(0xf0), n(0x3c), n(0xfc)}, true},
		{Bitwise, []field.FQ{n(uint64(BitwiseXor)), n(0xf0), n(0x3c), n(0xcc)}, true},
		{Bitwise, []field.FQ{n(uint64(BitwiseXor)), n(0xf0), n(0x3c), n(0x30)}, false},
	}
	for i, tc := range cases {
		if got := tc.set.Contains(tc.row...); got != tc.want {
			t.Errorf("case %d (%s %v): Contains = %v, want %v", i, tc.set.Name(), tc.row, got, tc.want)
		}
	}
}

func TestSetWidthMismatch(t *testing.T) {
	if Range.Contains(field.NewFQ(1)) {
		t.Fatal("short row reported as member")
	}
}

func TestCoefficientsDiffer(t *testing.T) {
	if Coefficient("range").Equal(Coefficient("addition")) {
		t.Fatal("tables share a compression coefficient")
	}
}
