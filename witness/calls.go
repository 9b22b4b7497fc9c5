package witness

import (
	"github.com/ethereum/go-ethereum/core/types"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// call runs CALL, CALLCODE, DELEGATECALL and STATICCALL, including the
// whole callee when one is entered.
func (t *tracer) call(f *frame, s *evm.StepState, op vm.OpCode) error {
	isCall := op == vm.CALL
	hasValueArg := isCall || op == vm.CALLCODE

	t.read(f, rw.CallTxID)
	t.read(f, rw.CallRwCounterEndOfReversion)
	t.read(f, rw.CallIsPersistent)
	t.read(f, rw.CallIsStatic)
	t.read(f, rw.CallDepth)
	t.read(f, rw.CallCalleeAddress)
	calleeCaller := field.WordFromAddress(f.address)
	if op == vm.DELEGATECALL {
		calleeCaller = t.read(f, rw.CallCallerAddress)
		t.read(f, rw.CallValue)
	}

	addr := toAddress(f.back(1))
	codeHash := t.state.codeHash(addr)
	precompile := tables.IsPrecompile(addr)
	enters := s.State == evm.StateCallOp && (precompile || !hasNoCode(codeHash))

	var seq int
	success := s.State == evm.StateCallOp
	if enters {
		seq = t.nextSeq()
		success = t.outcome(seq)
	}

	gasArg := t.pop(f)
	t.pop(f)
	var value uint256.Int
	if hasValueArg {
		value = t.pop(f)
	}
	cdOff, cdSize := t.pop(f), t.pop(f)
	rdOff, rdSize := t.pop(f), t.pop(f)
	t.pushWord(f, field.WordFromBool(success))

	cd, rd := newMemRange(&cdOff, &cdSize), newMemRange(&rdOff, &rdSize)
	words, mem := f.expansion(cd, rd)
	f.expand(words)

	wasWarm := t.warmAccount(f, addr)
	if hasValueArg {
		t.accountReads(f.address, rw.AccountBalance)
	}
	isEmpty := false
	if isCall {
		v := t.accountReads(addr, rw.AccountNonce, rw.AccountBalance)
		isEmpty = v[0].IsZero() && v[1].IsZero() && hasNoCode(codeHash)
	}
	t.accountReads(addr, rw.AccountCodeHash)

	hasValue := hasValueArg && !value.IsZero()
	cost := evm.AccessCost(wasWarm, params.ColdAccountAccessCostEIP2929) + mem
	var stipend uint64
	if hasValue {
		cost += params.CallValueTransferGas
		stipend = params.CallStipend
		if isCall && isEmpty {
			cost += params.CallNewAccountGas
		}
	}
	available := f.gas - cost
	calleeGas := evm.CallGas(available, &gasArg)

	if !enters {
		if s.State == evm.StateCallOp && isCall {
			t.transfer(f, f.address, addr, &value)
		}
		t.setLastCallee(f, nil, 0, 0)
		f.pc++
		f.gas = available + stipend
		return nil
	}

	child := &frame{
		id:       s.RWCounter,
		seq:      seq,
		success:  success,
		address:  f.address,
		caller:   calleeCaller,
		isStatic: f.isStatic || op == vm.STATICCALL,
		cdOffset: cd.offset,
		cdLength: cd.size,
		rdOffset: rd.offset,
		rdLength: rd.size,
		codeHash: field.WordFromHash(codeHash),
		gas:      calleeGas + stipend,
	}
	switch op {
	case vm.CALL, vm.STATICCALL:
		child.address = addr
	}
	switch op {
	case vm.CALL, vm.CALLCODE:
		child.value = value
	case vm.DELEGATECALL:
		child.value = f.value
	}
	if precompile {
		child.precompile = &addr
	} else {
		child.code = t.tables.Bytecode.Add(t.state.code(codeHash))
	}

	t.openFrame(f, child)
	if isCall {
		t.transfer(child, f.address, addr, &value)
	}
	t.saveCaller(f, available-calleeGas, words)

	if err := t.run(child); err != nil {
		return err
	}
	t.resume(f, child)
	setBool(f.back(0), child.success)
	return nil
}

// create runs CREATE and CREATE2, including the init code when a frame is
// entered.
func (t *tracer) create(f *frame, s *evm.StepState, op vm.OpCode) error {
	isCreate2 := op == vm.CREATE2

	t.read(f, rw.CallTxID)
	t.read(f, rw.CallDepth)
	t.read(f, rw.CallRwCounterEndOfReversion)
	t.read(f, rw.CallIsPersistent)
	t.read(f, rw.CallIsStatic)
	t.read(f, rw.CallCalleeAddress)

	addr, code, salt := t.createTarget(f, op)
	nonce := t.state.nonce(f.address)
	enters := s.State == evm.StateCreate
	var seq int
	var success bool
	if enters {
		seq = t.nextSeq()
		success = t.outcome(seq)
	}

	value := t.pop(f)
	off, size := t.pop(f), t.pop(f)
	if isCreate2 {
		t.pop(f)
	}
	pushed := new(uint256.Int)
	if success {
		pushed = fromAddress(addr)
	}
	t.push(f, pushed)

	m := newMemRange(&off, &size)
	words, mem := f.expansion(m)
	f.expand(words)
	cost := params.CreateGas + mem
	if isCreate2 {
		cost += evm.Sha3Cost(m.size)
	}
	available := f.gas - cost
	calleeGas := evm.AllButOne64th(available)

	t.accountReads(f.address, rw.AccountNonce, rw.AccountBalance)
	if s.State == evm.StateErrorDepth || s.State == evm.StateErrorInsufficientBalance {
		t.setLastCallee(f, nil, 0, 0)
		f.pc++
		f.gas = available
		return nil
	}

	t.setNonce(f, f.address, nonce+1)
	initHash := t.tables.Keccak.Add(code)
	t.tables.Bytecode.Add(code)
	t.copyEvent(tables.CopyEvent{
		SrcID:      word(f.id),
		SrcType:    tables.CopyMemory,
		DstID:      initHash,
		DstType:    tables.CopyBytecode,
		SrcAddr:    m.offset,
		SrcAddrEnd: m.end(),
		Length:     m.size,
	}, f.memoryAt, nil)
	if isCreate2 {
		t.tables.Keccak.Add(crypto.Create2Preimage(f.address, salt, initHash.Hash()))
	} else {
		t.tables.Keccak.Add(crypto.CreatePreimage(f.address, nonce))
	}
	t.warmAccount(f, addr)
	t.accountReads(addr, rw.AccountNonce, rw.AccountCodeHash)

	if !enters {
		t.setLastCallee(f, nil, 0, 0)
		f.pc++
		f.gas = available - calleeGas
		return nil
	}

	child := &frame{
		id:       s.RWCounter,
		seq:      seq,
		success:  success,
		isCreate: true,
		address:  addr,
		caller:   field.WordFromAddress(f.address),
		value:    value,
		codeHash: initHash,
		code:     t.tables.Bytecode.Add(code),
		gas:      calleeGas,
	}
	t.openFrame(f, child)
	t.setNonce(child, addr, 1)
	t.transfer(child, f.address, addr, &value)
	t.saveCaller(f, available-calleeGas, words)

	if err := t.run(child); err != nil {
		return err
	}
	t.resume(f, child)
	if child.success {
		f.back(0).Set(fromAddress(addr))
	} else {
		f.back(0).Clear()
	}
	return nil
}

// openFrame fills in the context child inherits from parent and writes it.
// child.id, seq and success are set by the caller.
func (t *tracer) openFrame(parent, child *frame) {
	child.txID = parent.txID
	child.parent = parent
	child.depth = parent.depth + 1
	child.persistent = parent.persistent && child.success
	child.base = len(parent.writes)
	for _, tag := range openingFields {
		t.write(child, tag)
	}
}

// saveCaller writes where f resumes once its callee ends.
func (t *tracer) saveCaller(f *frame, gas, words uint64) {
	f.savedPC = f.pc + 1
	f.savedSP = f.sp()
	f.savedGas = gas
	f.savedMem = words
	f.savedRWC = uint64(len(f.writes))
	t.write(f, rw.CallProgramCounter)
	t.write(f, rw.CallStackPointer)
	t.write(f, rw.CallGasLeft)
	t.write(f, rw.CallMemorySize)
	t.write(f, rw.CallReversibleWriteCounter)
}

// resume restores f after child ended.
func (t *tracer) resume(f, child *frame) {
	f.pc = f.savedPC
	f.gas = f.savedGas + child.gasLeft
}

func (t *tracer) setLastCallee(f, callee *frame, offset, length uint64) {
	f.lastCallee, f.lastRetOffset, f.lastRetLength = callee, offset, length
	t.write(f, rw.CallLastCalleeID)
	t.write(f, rw.CallLastCalleeReturnDataOffset)
	t.write(f, rw.CallLastCalleeReturnDataLength)
}

// stop ends f successfully. A create frame that stops deploys empty code.
func (t *tracer) stop(f *frame) error {
	t.read(f, rw.CallIsSuccess)
	if f.isCreate {
		t.read(f, rw.CallRwCounterEndOfReversion)
		t.read(f, rw.CallIsPersistent)
		t.read(f, rw.CallCalleeAddress)
		t.setCodeHash(f, f.address, types.EmptyCodeHash)
	}
	return t.endFrame(f, true, f.gas, 0, 0, nil)
}

// returnRevert ends f with return data. RETURN from a create frame deploys
// the data as code instead.
func (t *tracer) returnRevert(f *frame, op vm.OpCode) error {
	isReturn := op == vm.RETURN
	t.read(f, rw.CallIsSuccess)
	t.read(f, rw.CallRwCounterEndOfReversion)
	t.read(f, rw.CallIsPersistent)

	off, size := t.pop(f), t.pop(f)
	m := newMemRange(&off, &size)
	words, cost := f.expansion(m)
	f.expand(words)

	retOffset, retLength := m.offset, m.size
	if isReturn && f.isCreate {
		t.read(f, rw.CallCalleeAddress)
		code := f.memorySlice(m.offset, m.size)
		hash := t.tables.Keccak.Add(code)
		t.tables.Bytecode.Add(code)
		t.state.addCode(code)
		t.copyEvent(tables.CopyEvent{
			SrcID:      word(f.id),
			SrcType:    tables.CopyMemory,
			DstID:      hash,
			DstType:    tables.CopyBytecode,
			SrcAddr:    m.offset,
			SrcAddrEnd: m.end(),
			Length:     m.size,
		}, f.memoryAt, nil)
		t.setCodeHash(f, f.address, hash.Hash())
		cost += m.size * evm.CodeDepositGas
		retOffset, retLength = 0, 0
	}

	var after func(*frame)
	if !f.isRoot && !f.isCreate {
		t.read(f, rw.CallReturnDataOffset)
		t.read(f, rw.CallReturnDataLength)
		after = func(caller *frame) {
			t.copyEvent(tables.CopyEvent{
				SrcID:      word(f.id),
				SrcType:    tables.CopyMemory,
				DstID:      word(caller.id),
				DstType:    tables.CopyMemory,
				SrcAddr:    m.offset,
				SrcAddrEnd: m.end(),
				DstAddr:    f.rdOffset,
				Length:     min(m.size, f.rdLength),
			}, f.memoryAt, caller)
		}
	}
	return t.endFrame(f, isReturn, f.gas-cost, retOffset, retLength, after)
}

// precompileStep runs the precompiled contract of f in one step. The input
// comes from the caller's memory; on success the output is placed in the
// frame's own memory and copied to the caller's return region.
func (t *tracer) precompileStep(f *frame) error {
	addr := *f.precompile
	state, _ := evm.PrecompileState(addr)
	t.newStep(f, state)
	for _, tag := range []rw.CallContextFieldTag{
		rw.CallCallerID,
		rw.CallCallDataOffset,
		rw.CallCallDataLength,
		rw.CallReturnDataOffset,
		rw.CallReturnDataLength,
		rw.CallIsSuccess,
		rw.CallRwCounterEndOfReversion,
	} {
		t.read(f, tag)
	}

	caller := f.parent
	input := t.copyEvent(tables.CopyEvent{
		SrcID:      word(caller.id),
		SrcType:    tables.CopyMemory,
		DstType:    tables.CopyRlcAcc,
		SrcAddr:    f.cdOffset,
		SrcAddrEnd: f.cdOffset + f.cdLength,
		Length:     f.cdLength,
	}, caller.memoryAt, nil)
	res, _ := t.tables.Precompile.Run(addr, input)
	switch addr {
	case tables.PrecompileEcrecover:
		t.tables.Sig.Recover(input)
	case tables.PrecompileBn254Add:
		t.tables.ECC.AddPoints(input)
	case tables.PrecompileBn254Mul:
		t.tables.ECC.MulPoint(input)
	case tables.PrecompilePairing:
		t.tables.ECC.Pairing(input)
	}

	if !res.IsSuccess || f.gas < res.Gas {
		return t.endFrame(f, false, 0, 0, 0, nil)
	}
	n := uint64(len(res.Output))
	t.copyEvent(tables.CopyEvent{
		SrcType:    tables.CopyRlcAcc,
		DstID:      word(f.id),
		DstType:    tables.CopyMemory,
		SrcAddrEnd: n,
		Length:     n,
	}, func(a uint64) byte { return res.Output[a] }, f)
	return t.endFrame(f, true, f.gas-res.Gas, 0, n, func(caller *frame) {
		t.copyEvent(tables.CopyEvent{
			SrcID:      word(f.id),
			SrcType:    tables.CopyMemory,
			DstID:      word(caller.id),
			DstType:    tables.CopyMemory,
			SrcAddrEnd: n,
			DstAddr:    f.rdOffset,
			Length:     min(n, f.rdLength),
		}, f.memoryAt, caller)
	})
}

// failFrame ends f with an error: all its gas is consumed and it returns
// no data.
func (t *tracer) failFrame(f *frame) error {
	t.read(f, rw.CallIsSuccess)
	t.read(f, rw.CallRwCounterEndOfReversion)
	return t.endFrame(f, false, 0, 0, 0, nil)
}

// endFrame closes f. A frame with a caller reads back the caller's saved
// context and leaves its return data with it; after then runs with the
// caller. Finally the frame's journal is settled.
func (t *tracer) endFrame(f *frame, success bool, gasLeft, retOffset, retLength uint64, after func(*frame)) error {
	if err := t.record(f.seq, success); err != nil {
		return err
	}
	if p := f.parent; p != nil {
		t.read(f, rw.CallCallerID)
		for _, tag := range callerFields {
			t.read(p, tag)
		}
		t.setLastCallee(p, f, retOffset, retLength)
		if after != nil {
			after(p)
		}
	}
	f.done = true
	f.success = success
	f.gas, f.gasLeft = gasLeft, gasLeft
	return t.settle(f, success)
}
