package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// gadgetStop ends the frame successfully. Running past the end of the code
// is an implicit STOP. A create frame that stops deploys empty code.
func gadgetStop(i *Instruction) {
	if i.curr.ProgramCounter < i.codeSize(i.curr.CodeHash) {
		i.opcode()
	}
	i.cs.AssertEqual("stop.is_success", i.callContextFQ(rw.CallIsSuccess), field.One())
	if i.curr.IsCreate {
		rev := i.frameReversionRead()
		addr := i.callContextAddress(rw.CallCalleeAddress)
		v, _ := i.accountWrite(addr, rw.AccountCodeHash, rev)
		i.cs.AssertWordEqual("stop.code_hash", v, emptyCodeHash)
	}
	i.endFrame(frameResult{success: field.One(), gasLeft: fq(i.curr.GasLeft)})
}

// gadgetReturnRevert ends the frame with return data. RETURN from a create
// frame deploys the returned bytes as code and hands no data back. A frame
// with a caller copies the data into the caller's return region.
func gadgetReturnRevert(i *Instruction) {
	op := i.opcode()
	isReturn := op == gethvm.RETURN
	success := i.callContextFQ(rw.CallIsSuccess)
	i.cs.AssertEqual("return.is_success", success, field.FromBool(isReturn))
	rev := i.frameReversionRead()

	m := i.memoryRange(i.stackPop(), i.stackPop())
	i.requireInRange(m)
	_, cost := i.memoryExpansion(m)

	retOffset, retLength := m.offset, m.length
	if isReturn && i.curr.IsCreate {
		addr := i.callContextAddress(rw.CallCalleeAddress)
		i.cs.AssertEqual("return.code_size", i.lessThan(m.length, fq(params.MaxCodeSize+1), memoryBytes), field.One())
		if !m.length.IsZero() {
			first := i.rwAt(i.curr.RWCounter + i.rwOffset).Value.Lo
			i.cs.AssertZero("return.first_byte", i.cs.IsEqual(first, fq(0xef)))
		}
		hash := i.copyToBytecode("return.code", m)
		v, _ := i.accountWrite(addr, rw.AccountCodeHash, rev)
		i.cs.AssertWordEqual("return.code_hash", v, hash)
		cost = cost.Add(m.length.MulUint64(CodeDepositGas))
		retOffset, retLength = field.Zero(), field.Zero()
	}
	gasLeft := fq(i.curr.GasLeft).Sub(cost)
	i.rangeBytes("return.gas_left", gasLeft, 8)

	res := frameResult{success: success, gasLeft: gasLeft, retOffset: retOffset, retLength: retLength, end: rev.end}
	if !i.curr.IsRoot && !i.curr.IsCreate {
		rdOffset := i.callContextFQ(rw.CallReturnDataOffset)
		rdLength := i.callContextFQ(rw.CallReturnDataLength)
		n := i.minSmall(m.length, rdLength, memoryBytes)
		res.after = func(callerID field.FQ) {
			i.copyLookup(tables.CopyEvent{
				SrcID:      word(i.curr.CallID),
				SrcType:    tables.CopyMemory,
				DstID:      field.WordFromFQ(callerID),
				DstType:    tables.CopyMemory,
				SrcAddr:    i.u64("return.offset", m.offset),
				SrcAddrEnd: i.u64("return.end", m.end()),
				DstAddr:    i.u64("return.dst", rdOffset),
				Length:     i.u64("return.copy_size", n),
			})
		}
	}
	i.endFrame(res)
}
