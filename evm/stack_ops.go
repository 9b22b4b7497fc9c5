package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
)

func gadgetPop(i *Instruction) {
	op := i.opcode()
	i.stackPop()
	i.sameContext(op, field.Zero())
}

func gadgetPush(i *Instruction) {
	op := i.opcode()
	n, ok := IsPush(op)
	i.cs.AssertTrue("push.opcode", ok)
	var be []field.FQ
	for k := 1; k <= n; k++ {
		be = append(be, fq(uint64(i.opcodeLookupAt(uint64(k), false))))
	}
	// big-endian immediate
	var lo, hi []field.FQ
	for k := n - 1; k >= 0; k-- {
		if idx := n - 1 - k; idx < 16 {
			lo = append(lo, be[k])
		} else {
			hi = append(hi, be[k])
		}
	}
	want := field.Word{Lo: field.Compose(lo, fq(256)), Hi: field.Compose(hi, fq(256))}
	i.stackPushValue(want)

	t := i.sameContextTransition(op, field.Zero())
	t.ProgramCounter = Delta(int64(1 + n))
	i.constrain(t)
}

func gadgetDup(i *Instruction) {
	op := i.opcode()
	n := int64(op-gethvm.DUP1) + 1
	v := i.stackLookup("dup.read", false, n-1)
	i.spOffset = -1
	i.cs.AssertWordEqual("dup", i.stackLookup("dup.write", true, -1), v)
	i.sameContext(op, field.Zero())
}

func gadgetSwap(i *Instruction) {
	op := i.opcode()
	n := int64(op-gethvm.SWAP1) + 1
	a := i.stackLookup("swap.top", false, 0)
	b := i.stackLookup("swap.nth", false, n)
	i.cs.AssertWordEqual("swap.top", i.stackLookup("swap.top", true, 0), b)
	i.cs.AssertWordEqual("swap.nth", i.stackLookup("swap.nth", true, n), a)
	i.sameContext(op, field.Zero())
}

func gadgetPC(i *Instruction) {
	op := i.opcode()
	i.stackPushValue(word(i.curr.ProgramCounter))
	i.sameContext(op, field.Zero())
}

func gadgetMsize(i *Instruction) {
	op := i.opcode()
	i.stackPushValue(word(i.curr.MemoryWordSize * 32))
	i.sameContext(op, field.Zero())
}

func gadgetGas(i *Instruction) {
	op := i.opcode()
	left := fq(i.curr.GasLeft).Sub(constantGas(op))
	i.rangeBytes("gas.left", left, 8)
	i.stackPushValue(field.WordFromFQ(left))
	i.sameContext(op, field.Zero())
}

func gadgetJumpDest(i *Instruction) {
	i.sameContext(i.opcode(), field.Zero())
}

// jumpTarget asserts dest is a JUMPDEST opcode of the current code and
// returns it.
func (i *Instruction) jumpTarget(dest field.Word) field.FQ {
	target := i.wordToSmall("jump.dest", dest, 8)
	v, isCode := i.codeByte(i.curr.CodeHash, target.MustUint64())
	i.cs.AssertTrue("jump.is_code", isCode)
	i.cs.AssertEqual("jump.jumpdest", v, fq(uint64(gethvm.JUMPDEST)))
	return target
}

func gadgetJump(i *Instruction) {
	op := i.opcode()
	target := i.jumpTarget(i.stackPop())
	t := i.sameContextTransition(op, field.Zero())
	t.ProgramCounter = ToFQ(target)
	i.constrain(t)
}

func gadgetJumpi(i *Instruction) {
	op := i.opcode()
	dest := i.stackPop()
	cond := i.stackPop()
	taken := circuit.Not(i.isZeroWord(cond))
	t := i.sameContextTransition(op, field.Zero())
	if taken.IsOne() {
		t.ProgramCounter = ToFQ(i.jumpTarget(dest))
	}
	i.constrain(t)
}
