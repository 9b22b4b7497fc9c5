package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
)

// Error gadgets read the operands that prove the error without popping
// them and then fail the frame. The frame's writes are undone by the twins
// already placed on the bus and all of its gas is consumed.

// operand reads the stack item at sp + offset.
func (i *Instruction) operand(offset int) field.Word {
	return i.stackLookup("error.operand", false, int64(offset))
}

// operandRanges reads the memory ranges op declares.
func (i *Instruction) operandRanges(o *Operation) []memoryRange {
	out := make([]memoryRange, 0, len(o.Memory))
	for _, m := range o.Memory {
		offset := i.operand(m.Offset)
		if m.Size < 0 {
			out = append(out, i.memoryRangeFixed(offset, m.FixedSize))
			continue
		}
		out = append(out, i.memoryRange(offset, i.operand(m.Size)))
	}
	return out
}

// errorOperation returns the operation at the program counter, asserting
// the opcode is valid.
func (i *Instruction) errorOperation() (gethvm.OpCode, *Operation) {
	op := i.opcodeLookup()
	o, ok := OperationOf(op)
	i.cs.AssertTrue("error.valid_opcode", ok)
	if !ok {
		return op, &Operation{}
	}
	return op, o
}

func gadgetErrorInvalidOpcode(i *Instruction) {
	_, ok := OperationOf(i.opcodeLookup())
	i.cs.AssertTrue("invalid_opcode", !ok)
	i.failFrame()
}

// gadgetErrorStack proves an underflow (fewer than Pops items) or an
// overflow (more than StackLimit items after the opcode).
func gadgetErrorStack(i *Instruction) {
	_, o := i.errorOperation()
	sp := fq(i.curr.StackPointer)
	underflow := i.lessThan(fq(StackLimit), sp.AddUint64(uint64(o.Pops)), 2)
	overflow := i.lessThan(sp.AddUint64(uint64(o.Pops)), fq(uint64(o.Pushes)), 2)
	i.cs.AssertEqual("stack_error", circuit.Or(underflow, overflow), field.One())
	i.failFrame()
}

// gadgetErrorWriteProtection rejects a state change in a static frame. CALL
// only counts as one when it moves value.
func gadgetErrorWriteProtection(i *Instruction) {
	op, o := i.errorOperation()
	i.cs.AssertTrue("write_protection.opcode", o.Writes || op == gethvm.CALL)
	i.cs.AssertEqual("write_protection.is_static", i.callContextFQ(rw.CallIsStatic), field.One())
	if op == gethvm.CALL {
		i.cs.AssertZero("write_protection.value", i.isZeroWord(i.operand(2)))
	}
	i.failFrame()
}

// gadgetErrorInvalidJump proves a taken jump lands outside the code or on
// a byte that is not a JUMPDEST opcode.
func gadgetErrorInvalidJump(i *Instruction) {
	op, _ := i.errorOperation()
	i.cs.AssertTrue("invalid_jump.opcode", op == gethvm.JUMP || op == gethvm.JUMPI)
	dest := i.operand(0)
	if op == gethvm.JUMPI {
		i.cs.AssertZero("invalid_jump.condition", i.isZeroWord(i.operand(1)))
	}
	small, target := i.wordIsSmall(dest, 8)
	size := i.codeSize(i.curr.CodeHash)
	inCode := circuit.And(small, i.lessThan(target, fq(size), 8))
	valid := field.Zero()
	if inCode.IsOne() {
		value, isCode := i.codeByte(i.curr.CodeHash, i.u64("invalid_jump.dest", target))
		valid = circuit.And(field.FromBool(isCode), i.cs.IsEqual(value, fq(uint64(gethvm.JUMPDEST))))
	}
	i.cs.AssertZero("invalid_jump", valid)
	i.failFrame()
}

// gadgetErrorReturnDataOutOfBound proves RETURNDATACOPY reads past the
// last callee's return data.
func gadgetErrorReturnDataOutOfBound(i *Instruction) {
	op, _ := i.errorOperation()
	i.cs.AssertTrue("return_data_oob.opcode", op == gethvm.RETURNDATACOPY)
	i.operand(0)
	offset := i.operand(1)
	size := i.operand(2)
	length := i.callContextFQ(rw.CallLastCalleeReturnDataLength)
	offSmall, off := i.wordIsSmall(offset, 8)
	sizeSmall, n := i.wordIsSmall(size, 8)
	past := i.lessThan(length, off.Add(n), 9)
	oob := circuit.Or(circuit.Not(circuit.And(offSmall, sizeSmall)), past)
	i.cs.AssertEqual("return_data_oob", oob, field.One())
	i.failFrame()
}

// gadgetErrorGasUintOverflow proves a memory operand is too large to be
// priced.
func gadgetErrorGasUintOverflow(i *Instruction) {
	_, o := i.errorOperation()
	ranges := i.operandRanges(o)
	inRange := field.One()
	for _, m := range ranges {
		inRange = circuit.And(inRange, m.inRange)
	}
	i.cs.AssertZero("gas_uint_overflow", inRange)
	i.failFrame()
}

// gadgetErrorOutOfGas proves the gas left does not cover the opcode. Each
// family reads what its charge depends on.
func gadgetErrorOutOfGas(i *Instruction) {
	op, o := i.errorOperation()
	i.cs.AssertTrue("out_of_gas.family", o.OutOfGas == i.curr.State)
	gas := fq(i.curr.GasLeft)
	cost := fq(o.ConstantGas)
	oog := field.Zero()

	switch i.curr.State {
	case StateErrorOutOfGasConstant:

	case StateErrorOutOfGasMemoryExpansion:
		ranges := i.operandRanges(o)
		i.requireInRange(ranges...)
		_, mem := i.memoryExpansion(ranges...)
		cost = cost.Add(mem)

	case StateErrorOutOfGasMemoryCopy:
		if op == gethvm.EXTCODECOPY {
			txID := i.callContextFQ(rw.CallTxID)
			addr := i.addressFromWord(i.operand(0))
			warm := i.accessListAccountRead(txID, addr)
			cost = cost.Add(i.accessCost(warm, params.ColdAccountAccessCostEIP2929)).
				Sub(fq(params.WarmStorageReadCostEIP2929))
		}
		ranges := i.operandRanges(o)
		i.requireInRange(ranges...)
		_, mem := i.memoryExpansion(ranges...)
		cost = cost.Add(mem).Add(i.wordCost(ranges[0].length, params.CopyGas))

	case StateErrorOutOfGasSHA3:
		ranges := i.operandRanges(o)
		i.requireInRange(ranges...)
		_, mem := i.memoryExpansion(ranges...)
		cost = cost.Add(mem).Add(i.wordCost(ranges[0].length, params.Keccak256WordGas))

	case StateErrorOutOfGasLOG:
		ranges := i.operandRanges(o)
		i.requireInRange(ranges...)
		_, mem := i.memoryExpansion(ranges...)
		topics := uint64(op - gethvm.LOG0)
		cost = cost.Add(mem).AddUint64(topics * params.LogTopicGas).
			Add(ranges[0].length.MulUint64(params.LogDataGas))

	case StateErrorOutOfGasEXP:
		exponent := i.decompose(i.operand(1))
		cost = cost.Add(i.byteSize(exponent).MulUint64(params.ExpByteEIP158))

	case StateErrorOutOfGasSloadSstore:
		txID := i.callContextFQ(rw.CallTxID)
		addr := i.callContextAddress(rw.CallCalleeAddress)
		key := i.operand(0)
		if op == gethvm.SLOAD {
			warm := i.accessListStorageRead(txID, addr, key)
			cost = cost.Add(i.accessCost(warm, params.ColdSloadCostEIP2929))
			break
		}
		value := i.operand(1)
		current, committed := i.storageRead(txID, addr, key)
		warm := i.accessListStorageRead(txID, addr, key)
		c, _ := i.sstoreCost(committed, current, value, warm)
		cost = cost.Add(c)
		oog = circuit.Not(i.lessThan(fq(params.SstoreSentryGasEIP2200), gas, 8))

	case StateErrorOutOfGasAccountAccess:
		txID := i.callContextFQ(rw.CallTxID)
		addr := i.addressFromWord(i.operand(0))
		warm := i.accessListAccountRead(txID, addr)
		cost = i.accessCost(warm, params.ColdAccountAccessCostEIP2929)

	case StateErrorOutOfGasCall:
		txID := i.callContextFQ(rw.CallTxID)
		addr := i.addressFromWord(i.operand(1))
		value := field.ZeroWord()
		if op == gethvm.CALL || op == gethvm.CALLCODE {
			value = i.operand(2)
		}
		ranges := i.operandRanges(o)
		i.requireInRange(ranges...)
		_, mem := i.memoryExpansion(ranges...)
		warm := i.accessListAccountRead(txID, addr)
		hasValue := circuit.Not(i.isZeroWord(value))
		isEmpty := field.Zero()
		if op == gethvm.CALL {
			nonce := i.accountRead(addr, rw.AccountNonce)
			balance := i.accountRead(addr, rw.AccountBalance)
			codeHash := i.accountRead(addr, rw.AccountCodeHash)
			isEmpty = circuit.And(i.hasNoCode(codeHash), circuit.And(i.isZeroWord(nonce), i.isZeroWord(balance)))
		}
		cost = i.accessCost(warm, params.ColdAccountAccessCostEIP2929).
			Add(hasValue.MulUint64(params.CallValueTransferGas)).
			Add(hasValue.Mul(isEmpty).MulUint64(params.CallNewAccountGas)).
			Add(mem)

	case StateErrorOutOfGasCreate:
		ranges := i.operandRanges(o)
		i.requireInRange(ranges...)
		_, mem := i.memoryExpansion(ranges...)
		cost = fq(params.CreateGas).Add(mem)
		if op == gethvm.CREATE2 {
			cost = cost.Add(i.wordCost(ranges[0].length, params.Keccak256WordGas))
		}

	default:
		i.cs.AssertTrue("out_of_gas.state", false)
	}
	oog = circuit.Or(oog, i.lessThan(gas, cost, 16))
	i.cs.AssertEqual("out_of_gas", oog, field.One())
	i.failFrame()
}

// gadgetErrorCodeStore proves RETURN from a create frame cannot deploy its
// output: the code is too large, its deposit is not covered, or it starts
// with 0xEF. The checks run in that order.
func gadgetErrorCodeStore(i *Instruction) {
	op, _ := i.errorOperation()
	i.cs.AssertTrue("code_store.opcode", op == gethvm.RETURN && i.curr.IsCreate)
	m := i.memoryRange(i.operand(0), i.operand(1))
	i.requireInRange(m)
	_, mem := i.memoryExpansion(m)
	gas := fq(i.curr.GasLeft).Sub(mem)
	i.rangeBytes("code_store.gas", gas, 8)

	tooLarge := i.lessThan(fq(params.MaxCodeSize), m.length, memoryBytes)
	state := StateErrorMaxCodeSizeExceeded
	if tooLarge.IsZero() {
		short := i.lessThan(gas, m.length.MulUint64(CodeDepositGas), 8)
		state = StateErrorOutOfGasCodeStore
		if short.IsZero() {
			i.cs.AssertTrue("code_store.length", !m.length.IsZero())
			first := i.memoryLookup(false, fq(i.curr.CallID), m.offset)
			i.cs.AssertEqual("code_store.invalid_code", first, fq(0xef))
			state = StateErrorInvalidCreationCode
		}
	}
	i.cs.AssertTrue("code_store.state", i.curr.State == state)
	i.failFrame()
}
