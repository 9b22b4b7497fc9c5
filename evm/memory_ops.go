package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// u64 returns the value of a cell that other constraints keep below 2^64.
func (i *Instruction) u64(name string, v field.FQ) uint64 {
	x, ok := v.Uint64()
	i.cs.AssertTrue(name+".u64", ok)
	return x
}

// memoryTransition is sameContext with the memory size moving to words.
func (i *Instruction) memoryTransition(op gethvm.OpCode, extra, words field.FQ) {
	t := i.sameContextTransition(op, extra)
	t.MemoryWordSize = ToFQ(words)
	i.constrain(t)
}

func gadgetMemory(i *Instruction) {
	op := i.opcode()
	offset := i.stackPop()
	size := uint64(32)
	if op == gethvm.MSTORE8 {
		size = 1
	}
	m := i.memoryRangeFixed(offset, size)
	i.requireInRange(m)
	words, cost := i.memoryExpansion(m)
	callID := fq(i.curr.CallID)

	switch op {
	case gethvm.MLOAD:
		bs := make([]field.FQ, 32)
		for k := range bs {
			bs[k] = i.memoryLookup(false, callID, m.offset.AddUint64(uint64(k)))
		}
		i.stackPushValue(wordFromBigEndian(bs))
	case gethvm.MSTORE:
		v := i.decompose(i.stackPop())
		for k := 0; k < 32; k++ {
			got := i.memoryLookup(true, callID, m.offset.AddUint64(uint64(k)))
			i.cs.AssertEqual("mstore.byte", got, v[31-k])
		}
	default:
		v := i.decompose(i.stackPop())
		i.cs.AssertEqual("mstore8.byte", i.memoryLookup(true, callID, m.offset), v[0])
	}
	i.memoryTransition(op, cost, words)
}

func gadgetSha3(i *Instruction) {
	op := i.opcode()
	m := i.memoryRange(i.stackPop(), i.stackPop())
	i.requireInRange(m)
	words, cost := i.memoryExpansion(m)

	callID := word(i.curr.CallID)
	ev := i.copyLookup(tables.CopyEvent{
		SrcID:      callID,
		SrcType:    tables.CopyMemory,
		DstType:    tables.CopyRlcAcc,
		SrcAddr:    i.u64("sha3.offset", m.offset),
		SrcAddrEnd: i.u64("sha3.end", m.end()),
		Length:     i.u64("sha3.size", m.length),
	})
	i.stackPushValue(i.keccakLookup(ev.RLCAcc, m.length))
	i.memoryTransition(op, cost.Add(i.wordCost(m.length, params.Keccak256WordGas)), words)
}

// copySource is where a copy opcode reads from. Bytes past End read as
// zero.
type copySource struct {
	id    field.Word
	typ   tables.CopyDataType
	start field.FQ
	end   field.FQ
}

// clampedOffset returns base + min(offset, length) for a source of the
// given length, where offset is an arbitrary stack word.
func (i *Instruction) clampedOffset(base field.FQ, offset field.Word, length field.FQ) field.FQ {
	small, off := i.wordIsSmall(offset, 8)
	off = i.cs.Select(small, off, length)
	return base.Add(i.minSmall(off, length, 9))
}

// copyToMemory moves length bytes of src into the current call's memory at
// dst, either through one copy table lookup or through internal copy steps.
func (i *Instruction) copyToMemory(src copySource, dst, length field.FQ) {
	n := i.u64("copy.length", length)
	if !i.params.InlineCopy {
		i.copyLookup(tables.CopyEvent{
			SrcID:      src.id,
			SrcType:    src.typ,
			DstID:      word(i.curr.CallID),
			DstType:    tables.CopyMemory,
			SrcAddr:    i.u64("copy.src", src.start),
			SrcAddrEnd: i.u64("copy.src_end", src.end),
			DstAddr:    i.u64("copy.dst", dst),
			Length:     n,
		})
		return
	}
	if n == 0 {
		return
	}
	state := StateCopyToMemory
	if src.typ == tables.CopyBytecode {
		state = StateCopyCodeToMemory
	}
	i.requireNext(state)
	want := AuxData{
		SrcID:      src.id,
		SrcType:    src.typ,
		SrcAddr:    i.u64("copy.src", src.start),
		SrcAddrEnd: i.u64("copy.src_end", src.end),
		DstAddr:    i.u64("copy.dst", dst),
		BytesLeft:  n,
	}
	i.cs.AssertTrue("copy.aux", i.next != nil && i.next.Aux != nil && *i.next.Aux == want)
}

// copyOpcode finishes a copy opcode: memory expansion over the destination,
// the per-word copy charge and the copy itself.
func (i *Instruction) copyOpcode(op gethvm.OpCode, m memoryRange, src copySource, extra field.FQ) {
	i.requireInRange(m)
	words, cost := i.memoryExpansion(m)
	i.copyToMemory(src, m.offset, m.length)
	i.memoryTransition(op, cost.Add(extra).Add(i.wordCost(m.length, params.CopyGas)), words)
}

func gadgetCallDataCopy(i *Instruction) {
	op := i.opcode()
	memOffset := i.stackPop()
	dataOffset := i.stackPop()
	size := i.stackPop()
	m := i.memoryRange(memOffset, size)

	length := i.callContextFQ(rw.CallCallDataLength)
	base := i.callContextFQ(rw.CallCallDataOffset)
	src := copySource{typ: tables.CopyMemory, end: base.Add(length)}
	if i.curr.IsRoot {
		src.typ = tables.CopyTxCalldata
		src.id = i.callContext(rw.CallTxID)
	} else {
		src.id = i.callContext(rw.CallCallerID)
	}
	src.start = i.clampedOffset(base, dataOffset, length)
	i.copyOpcode(op, m, src, field.Zero())
}

func gadgetCodeCopy(i *Instruction) {
	op := i.opcode()
	memOffset := i.stackPop()
	codeOffset := i.stackPop()
	m := i.memoryRange(memOffset, i.stackPop())
	size := fq(i.codeSize(i.curr.CodeHash))
	src := copySource{
		id:    i.curr.CodeHash,
		typ:   tables.CopyBytecode,
		start: i.clampedOffset(field.Zero(), codeOffset, size),
		end:   size,
	}
	i.copyOpcode(op, m, src, field.Zero())
}

func gadgetExtCodeCopy(i *Instruction) {
	op := i.opcode()
	addr, extra := i.accountAccess()
	memOffset := i.stackPop()
	codeOffset := i.stackPop()
	m := i.memoryRange(memOffset, i.stackPop())
	hash := i.accountRead(addr, rw.AccountCodeHash)
	size := i.codeSizeOf(hash)
	src := copySource{
		id:    hash,
		typ:   tables.CopyBytecode,
		start: i.clampedOffset(field.Zero(), codeOffset, size),
		end:   size,
	}
	i.copyOpcode(op, m, src, extra)
}

func gadgetReturnDataCopy(i *Instruction) {
	op := i.opcode()
	memOffset := i.stackPop()
	dataOffset := i.stackPop()
	m := i.memoryRange(memOffset, i.stackPop())
	calleeID := i.callContext(rw.CallLastCalleeID)
	base := i.callContextFQ(rw.CallLastCalleeReturnDataOffset)
	length := i.callContextFQ(rw.CallLastCalleeReturnDataLength)

	off := i.wordToSmall("returndatacopy.offset", dataOffset, 8)
	i.cs.AssertZero("returndatacopy.bound", i.lessThan(length, off.Add(m.length), 9))
	src := copySource{
		id:    calleeID,
		typ:   tables.CopyMemory,
		start: base.Add(off),
		end:   base.Add(length),
	}
	i.copyOpcode(op, m, src, field.Zero())
}

// gadgetCopyToMemory moves one chunk of an internal copy.
func gadgetCopyToMemory(i *Instruction) {
	aux := i.curr.Aux
	i.cs.AssertTrue("copy.aux", aux != nil)
	if aux == nil {
		return
	}
	isCode := aux.SrcType == tables.CopyBytecode
	i.cs.AssertTrue("copy.src_type", isCode == (i.curr.State == StateCopyCodeToMemory))
	n := min(aux.BytesLeft, i.params.MaxCopyBytes)
	callID := fq(i.curr.CallID)
	for k := uint64(0); k < n; k++ {
		var b field.FQ
		if src := aux.SrcAddr + k; src < aux.SrcAddrEnd {
			switch aux.SrcType {
			case tables.CopyMemory:
				b = i.memoryLookup(false, aux.SrcID.Lo, fq(src))
			case tables.CopyTxCalldata:
				b = i.txLookup(aux.SrcID.Lo, tables.TxCallData, fq(src)).Lo
			case tables.CopyBytecode:
				b, _ = i.codeByte(aux.SrcID, src)
			default:
				i.cs.AssertTrue("copy.src_type", false)
			}
		}
		i.cs.AssertEqual("copy.byte", i.memoryLookup(true, callID, fq(aux.DstAddr+k)), b)
	}
	if n < aux.BytesLeft {
		i.requireNext(i.curr.State)
		want := *aux
		want.SrcAddr += n
		want.DstAddr += n
		want.BytesLeft -= n
		i.cs.AssertTrue("copy.aux_next", i.next != nil && i.next.Aux != nil && *i.next.Aux == want)
	}
	i.constrain(StepTransition{RWCounter: Delta(int64(i.rwOffset))})
}
