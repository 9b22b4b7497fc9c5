package tables

import (
	"github.com/eth2030/zkevm/field"
)

// BitwiseOp selects the operation column of the BitwiseOp table.
type BitwiseOp uint64

const (
	BitwiseAnd BitwiseOp = iota + 1
	BitwiseOr
	BitwiseXor
)

func (op BitwiseOp) String() string {
	switch op {
	case BitwiseAnd:
		return "AND"
	case BitwiseOr:
		return "OR"
	case BitwiseXor:
		return "XOR"
	}
	return "UNKNOWN"
}

// Apply evaluates op on two bytes.
func (op BitwiseOp) Apply(a, b byte) byte {
	switch op {
	case BitwiseAnd:
		return a & b
	case BitwiseOr:
		return a | b
	case BitwiseXor:
		return a ^ b
	}
	return 0
}

// Fixed tables. Each is built on first lookup and shared by every verifier in
// the process.
var (
	// Range holds every pair (a, b) of bytes.
	Range = NewSet("range", 2, func(add func(...field.FQ)) {
		for a := uint64(0); a < 256; a++ {
			for b := uint64(0); b < 256; b++ {
				add(field.NewFQ(a), field.NewFQ(b))
			}
		}
	})

	// Addition maps a 17-bit x to (low8, high8, carry) with
	// x = low8 + 256·high8 + 65536·carry.
	Addition = NewSet("addition", 4, func(add func(...field.FQ)) {
		for x := uint64(0); x < 1<<17; x++ {
			add(field.NewFQ(x), field.NewFQ(x&0xff), field.NewFQ((x>>8)&0xff), field.NewFQ(x>>16))
		}
	})

	// Sign maps x in [-(2^17-1), 2^17-1] to its sign in {-1, 0, 1}.
	Sign = NewSet("sign", 2, func(add func(...field.FQ)) {
		for x := int64(-(1<<17 - 1)); x < 1<<17; x++ {
			s := int64(0)
			switch {
			case x > 0:
				s = 1
			case x < 0:
				s = -1
			}
			add(field.FromInt64(x), field.FromInt64(s))
		}
	})

	// SignByte maps a byte to 0xff when its top bit is set and 0 otherwise.
	SignByte = NewSet("sign_byte", 2, func(add func(...field.FQ)) {
		for v := uint64(0); v < 256; v++ {
			add(field.NewFQ(v), field.NewFQ(SignOfByte(byte(v))))
		}
	})

	// BitsLevel holds (n, v) for n in [0, 9) and v in [0, 2^n).
	BitsLevel = NewSet("bits_level", 2, func(add func(...field.FQ)) {
		for n := uint64(0); n < 9; n++ {
			for v := uint64(0); v < 1<<n; v++ {
				add(field.NewFQ(n), field.NewFQ(v))
			}
		}
	})

	// Pow64 holds (v, 2^v, 2^(64-v)) for v in [0, 64).
	Pow64 = NewSet("pow64", 3, func(add func(...field.FQ)) {
		for v := uint(0); v < 64; v++ {
			add(field.NewFQ(uint64(v)), field.Pow2(v), field.Pow2(64-v))
		}
	})

	// Bitwise holds (op, a, b, op(a, b)) for AND, OR and XOR over bytes.
	Bitwise = NewSet("bitwise", 4, func(add func(...field.FQ)) {
		for _, op := range []BitwiseOp{BitwiseAnd, BitwiseOr, BitwiseXor} {
			for a := 0; a < 256; a++ {
				for b := 0; b < 256; b++ {
					c := op.Apply(byte(a), byte(b))
					add(field.NewFQ(uint64(op)), field.NewFQ(uint64(a)), field.NewFQ(uint64(b)), field.NewFQ(uint64(c)))
				}
			}
		}
	})
)

// SignOfByte returns 0xff for bytes with the top bit set and 0 otherwise.
func SignOfByte(v byte) uint64 {
	if v >= 0x80 {
		return 0xff
	}
	return 0
}

// FixedTables lists the fixed tables in declaration order.
func FixedTables() []*Set {
	return []*Set{Range, Addition, Sign, SignByte, BitsLevel, Pow64, Bitwise}
}
