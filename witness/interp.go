package witness

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// step executes one step of f.
func (t *tracer) step(f *frame) error {
	if f.precompile != nil {
		return t.precompileStep(f)
	}
	state, op, err := t.classify(f)
	if err != nil {
		return err
	}
	s := t.newStep(f, state)
	if state.IsError() && !state.IsLocalError() {
		return t.errorStep(f, op, state)
	}
	switch op {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		return t.call(f, s, op)
	case vm.CREATE, vm.CREATE2:
		return t.create(f, s, op)
	case vm.RETURN, vm.REVERT:
		return t.returnRevert(f, op)
	case vm.STOP:
		return t.stop(f)
	}
	return t.exec(f, op)
}

// classify returns the execution state of the next step of f. Errors are
// checked in a fixed order: invalid opcode, stack, write protection,
// invalid jump, return data bounds, memory operand overflow, out of gas,
// code store (size, deposit gas, then the 0xEF prefix) and finally the
// errors of call and create attempts.
func (t *tracer) classify(f *frame) (evm.ExecutionState, vm.OpCode, error) {
	if f.pc >= f.code.Len() {
		return evm.StateStop, vm.STOP, nil
	}
	b, _, _ := f.code.At(f.pc)
	op := vm.OpCode(b)
	if op == vm.SELFDESTRUCT {
		return evm.StateInvalid, op, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, op)
	}
	o, ok := evm.OperationOf(op)
	if !ok {
		return evm.StateErrorInvalidOpcode, op, nil
	}
	if n := len(f.stack); n < o.Pops || n-o.Pops+o.Pushes > evm.StackLimit {
		return evm.StateErrorStack, op, nil
	}
	if f.isStatic && (o.Writes || op == vm.CALL && !f.back(2).IsZero()) {
		return evm.StateErrorWriteProtection, op, nil
	}
	switch op {
	case vm.JUMP:
		if !t.validJump(f, f.back(0)) {
			return evm.StateErrorInvalidJump, op, nil
		}
	case vm.JUMPI:
		if !f.back(1).IsZero() && !t.validJump(f, f.back(0)) {
			return evm.StateErrorInvalidJump, op, nil
		}
	case vm.RETURNDATACOPY:
		off, size := f.back(1), f.back(2)
		if !off.IsUint64() || !size.IsUint64() || off.Uint64()+size.Uint64() > f.lastRetLength ||
			off.Uint64()+size.Uint64() < off.Uint64() {
			return evm.StateErrorReturnDataOutOfBound, op, nil
		}
	}
	ranges := f.operandRanges(o)
	for _, m := range ranges {
		if !m.ok {
			return evm.StateErrorGasUintOverflow, op, nil
		}
	}
	if t.outOfGas(f, op, o, ranges) {
		return o.OutOfGas, op, nil
	}

	switch op {
	case vm.RETURN:
		if !f.isCreate {
			break
		}
		m := ranges[0]
		_, mem := f.expansion(m)
		switch {
		case m.size > params.MaxCodeSize:
			return evm.StateErrorMaxCodeSizeExceeded, op, nil
		case f.gas-mem < m.size*evm.CodeDepositGas:
			return evm.StateErrorOutOfGasCodeStore, op, nil
		case m.size > 0 && f.memoryAt(m.offset) == 0xef:
			return evm.StateErrorInvalidCreationCode, op, nil
		}
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		if f.depth > evm.CallDepthLimit {
			return evm.StateErrorDepth, op, nil
		}
		if (op == vm.CALL || op == vm.CALLCODE) && !f.back(2).IsZero() && t.state.balance(f.address).Lt(f.back(2)) {
			return evm.StateErrorInsufficientBalance, op, nil
		}
	case vm.CREATE, vm.CREATE2:
		if f.depth > evm.CallDepthLimit {
			return evm.StateErrorDepth, op, nil
		}
		if t.state.balance(f.address).Lt(f.back(0)) {
			return evm.StateErrorInsufficientBalance, op, nil
		}
		addr, _, _ := t.createTarget(f, op)
		if t.state.nonce(addr) != 0 || !hasNoCode(t.state.codeHash(addr)) {
			return evm.StateErrorContractAddressCollision, op, nil
		}
	}
	return o.State, op, nil
}

func (t *tracer) validJump(f *frame, dest *uint256.Int) bool {
	return dest.IsUint64() && f.code.IsJumpDest(dest.Uint64())
}

// createTarget returns the address a CREATE or CREATE2 at the top of the
// stack deploys to, with its init code and salt.
func (t *tracer) createTarget(f *frame, op vm.OpCode) (common.Address, []byte, common.Hash) {
	m := newMemRange(f.back(1), f.back(2))
	code := f.memorySlice(m.offset, m.size)
	if op == vm.CREATE2 {
		salt := toHash(f.back(3))
		return crypto.CreateAddress2(f.address, salt, crypto.Keccak256Hash(code)), code, salt
	}
	return crypto.CreateAddress(f.address, t.state.nonce(f.address)), code, common.Hash{}
}

// outOfGas reports whether the gas left does not cover op, pricing it the
// way its out-of-gas family does.
func (t *tracer) outOfGas(f *frame, op vm.OpCode, o *evm.Operation, ranges []memRange) bool {
	_, mem := f.expansion(ranges...)
	cost := o.ConstantGas
	switch o.OutOfGas {
	case evm.StateErrorOutOfGasMemoryExpansion:
		cost += mem
	case evm.StateErrorOutOfGasMemoryCopy:
		if op == vm.EXTCODECOPY {
			cost += evm.AccessCost(t.state.warmAccounts[toAddress(f.back(0))], params.ColdAccountAccessCostEIP2929) -
				params.WarmStorageReadCostEIP2929
		}
		cost += mem + evm.CopyCost(ranges[0].size)
	case evm.StateErrorOutOfGasSHA3:
		cost += mem + evm.Sha3Cost(ranges[0].size)
	case evm.StateErrorOutOfGasLOG:
		cost += mem + evm.LogCost(uint64(op-vm.LOG0), ranges[0].size)
	case evm.StateErrorOutOfGasEXP:
		cost = evm.ExpCost(f.back(1))
	case evm.StateErrorOutOfGasSloadSstore:
		key := toHash(f.back(0))
		warm := t.state.warmSlots[slotKey{f.address, key}]
		if op == vm.SLOAD {
			cost += evm.AccessCost(warm, params.ColdSloadCostEIP2929)
			break
		}
		if f.gas <= params.SstoreSentryGasEIP2200 {
			return true
		}
		c, _ := evm.SstoreCost(t.state.committedStorage(f.address, key), t.state.storage(f.address, key), f.back(1), warm)
		cost += c
	case evm.StateErrorOutOfGasAccountAccess:
		cost = evm.AccessCost(t.state.warmAccounts[toAddress(f.back(0))], params.ColdAccountAccessCostEIP2929)
	case evm.StateErrorOutOfGasCall:
		addr := toAddress(f.back(1))
		hasValue := (op == vm.CALL || op == vm.CALLCODE) && !f.back(2).IsZero()
		cost = evm.AccessCost(t.state.warmAccounts[addr], params.ColdAccountAccessCostEIP2929) + mem
		if hasValue {
			cost += params.CallValueTransferGas
			if op == vm.CALL && t.state.isEmpty(addr) {
				cost += params.CallNewAccountGas
			}
		}
	case evm.StateErrorOutOfGasCreate:
		cost = params.CreateGas + mem
		if op == vm.CREATE2 {
			cost += evm.Sha3Cost(ranges[0].size)
		}
	}
	return f.gas < cost
}

// readRanges reads the memory operands of o without popping them.
func (t *tracer) readRanges(f *frame, o *evm.Operation) {
	for _, m := range o.Memory {
		t.operand(f, m.Offset)
		if m.Size >= 0 {
			t.operand(f, m.Size)
		}
	}
}

// errorStep reads what proves the error and fails the frame.
func (t *tracer) errorStep(f *frame, op vm.OpCode, state evm.ExecutionState) error {
	o, ok := evm.OperationOf(op)
	if !ok {
		o = &evm.Operation{}
	}
	switch state {
	case evm.StateErrorWriteProtection:
		t.read(f, rw.CallIsStatic)
		if op == vm.CALL {
			t.operand(f, 2)
		}
	case evm.StateErrorInvalidJump:
		t.operand(f, 0)
		if op == vm.JUMPI {
			t.operand(f, 1)
		}
	case evm.StateErrorReturnDataOutOfBound:
		t.operand(f, 0)
		t.operand(f, 1)
		t.operand(f, 2)
		t.read(f, rw.CallLastCalleeReturnDataLength)
	case evm.StateErrorGasUintOverflow,
		evm.StateErrorOutOfGasMemoryExpansion,
		evm.StateErrorOutOfGasSHA3,
		evm.StateErrorOutOfGasLOG,
		evm.StateErrorOutOfGasCreate:
		t.readRanges(f, o)
	case evm.StateErrorOutOfGasMemoryCopy:
		if op == vm.EXTCODECOPY {
			t.read(f, rw.CallTxID)
			addr := toAddress(t.operand(f, 0))
			t.dict.TxAccessListAccountRead(f.txID, addr, t.state.warmAccounts[addr])
		}
		t.readRanges(f, o)
	case evm.StateErrorOutOfGasEXP:
		t.operand(f, 1)
	case evm.StateErrorOutOfGasSloadSstore:
		t.read(f, rw.CallTxID)
		t.read(f, rw.CallCalleeAddress)
		key := toHash(t.operand(f, 0))
		keyWord := field.WordFromHash(key)
		if op == vm.SSTORE {
			t.operand(f, 1)
			t.dict.StorageRead(f.txID, f.address, keyWord,
				field.WordFromUint256(t.state.storage(f.address, key)),
				field.WordFromUint256(t.state.committedStorage(f.address, key)))
		}
		t.dict.TxAccessListAccountStorageRead(f.txID, f.address, keyWord, t.state.warmSlots[slotKey{f.address, key}])
	case evm.StateErrorOutOfGasAccountAccess:
		t.read(f, rw.CallTxID)
		addr := toAddress(t.operand(f, 0))
		t.dict.TxAccessListAccountRead(f.txID, addr, t.state.warmAccounts[addr])
	case evm.StateErrorOutOfGasCall:
		t.read(f, rw.CallTxID)
		addr := toAddress(t.operand(f, 1))
		if op == vm.CALL || op == vm.CALLCODE {
			t.operand(f, 2)
		}
		t.readRanges(f, o)
		t.dict.TxAccessListAccountRead(f.txID, addr, t.state.warmAccounts[addr])
		if op == vm.CALL {
			t.accountReads(addr, rw.AccountNonce, rw.AccountBalance, rw.AccountCodeHash)
		}
	case evm.StateErrorMaxCodeSizeExceeded, evm.StateErrorInvalidCreationCode, evm.StateErrorOutOfGasCodeStore:
		m := newMemRange(t.operand(f, 0), t.operand(f, 1))
		if state == evm.StateErrorInvalidCreationCode {
			t.dict.MemoryRead(f.id, m.offset, f.memoryAt(m.offset))
		}
	}
	return t.failFrame(f)
}

// accountReads reads fields of addr in order and returns their values.
func (t *tracer) accountReads(addr common.Address, fields ...rw.AccountFieldTag) []field.Word {
	out := make([]field.Word, len(fields))
	for k, tag := range fields {
		out[k] = t.accountField(addr, tag)
		t.dict.AccountRead(addr, tag, out[k])
	}
	return out
}

func (t *tracer) accountField(addr common.Address, tag rw.AccountFieldTag) field.Word {
	switch tag {
	case rw.AccountNonce:
		return word(t.state.nonce(addr))
	case rw.AccountBalance:
		return field.WordFromUint256(t.state.balance(addr))
	case rw.AccountCodeHash:
		return field.WordFromHash(t.state.codeHash(addr))
	}
	return field.ZeroWord()
}

// exec runs an opcode that stays in the current frame.
func (t *tracer) exec(f *frame, op vm.OpCode) error {
	o, _ := evm.OperationOf(op)
	pc := f.pc + 1
	cost := o.ConstantGas

	if n, ok := evm.IsPush(op); ok {
		bs := make([]byte, n)
		for k := range bs {
			if v, _, ok := f.code.At(f.pc + 1 + uint64(k)); ok {
				bs[k] = v
			}
		}
		t.push(f, new(uint256.Int).SetBytes(bs))
		f.pc += 1 + uint64(n)
		f.gas -= cost
		return nil
	}

	switch {
	case op >= vm.DUP1 && op <= vm.DUP16:
		n := int(op-vm.DUP1) + 1
		v := *t.operand(f, n-1)
		t.push(f, &v)

	case op >= vm.SWAP1 && op <= vm.SWAP16:
		n := int(op-vm.SWAP1) + 1
		a, b := *t.operand(f, 0), *t.operand(f, n)
		*f.back(0), *f.back(n) = b, a
		t.dict.StackWrite(f.id, f.sp(), field.WordFromUint256(&b))
		t.dict.StackWrite(f.id, f.sp()+uint64(n), field.WordFromUint256(&a))

	case op >= vm.LOG0 && op <= vm.LOG4:
		cost = t.log(f, op)

	default:
		switch op {
		case vm.POP:
			t.pop(f)
		case vm.JUMP:
			dest := t.pop(f)
			pc = dest.Uint64()
		case vm.JUMPI:
			dest, cond := t.pop(f), t.pop(f)
			if !cond.IsZero() {
				pc = dest.Uint64()
			}
		case vm.JUMPDEST:
		case vm.PC:
			t.pushWord(f, word(f.pc))
		case vm.MSIZE:
			t.pushWord(f, word(f.words()*32))
		case vm.GAS:
			t.pushWord(f, word(f.gas-cost))
		case vm.EXP:
			base, exp := t.pop(f), t.pop(f)
			cost = evm.ExpCost(&exp)
			t.push(f, t.tables.Exp.Add(&base, &exp))
		case vm.MLOAD, vm.MSTORE, vm.MSTORE8:
			cost += t.memory(f, op)
		case vm.KECCAK256:
			cost += t.sha3(f)
		case vm.CALLDATACOPY, vm.CODECOPY, vm.EXTCODECOPY, vm.RETURNDATACOPY:
			return t.copyOp(f, op)
		case vm.SLOAD:
			cost = t.sload(f)
		case vm.SSTORE:
			cost = t.sstore(f)
		default:
			extra, handled, err := t.env(f, op)
			if err != nil {
				return err
			}
			if !handled {
				r, ok := t.arith(f, op, o.Pops)
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, op)
				}
				t.push(f, &r)
			}
			cost += extra
		}
	}
	f.pc = pc
	f.gas -= cost
	return nil
}

// arith pops the operands of a stack-only opcode and computes its result.
func (t *tracer) arith(f *frame, op vm.OpCode, pops int) (uint256.Int, bool) {
	switch op {
	case vm.ADD, vm.MUL, vm.SUB, vm.DIV, vm.SDIV, vm.MOD, vm.SMOD, vm.ADDMOD, vm.MULMOD, vm.SIGNEXTEND,
		vm.LT, vm.GT, vm.SLT, vm.SGT, vm.EQ, vm.ISZERO, vm.AND, vm.OR, vm.XOR, vm.NOT, vm.BYTE,
		vm.SHL, vm.SHR, vm.SAR:
	default:
		return uint256.Int{}, false
	}
	var x [3]uint256.Int
	for k := 0; k < pops; k++ {
		x[k] = t.pop(f)
	}
	a, b, c := &x[0], &x[1], &x[2]
	var r uint256.Int
	switch op {
	case vm.ADD:
		r.Add(a, b)
	case vm.MUL:
		r.Mul(a, b)
	case vm.SUB:
		r.Sub(a, b)
	case vm.DIV:
		r.Div(a, b)
	case vm.SDIV:
		r.SDiv(a, b)
	case vm.MOD:
		r.Mod(a, b)
	case vm.SMOD:
		r.SMod(a, b)
	case vm.ADDMOD:
		r.AddMod(a, b, c)
	case vm.MULMOD:
		r.MulMod(a, b, c)
	case vm.SIGNEXTEND:
		r.ExtendSign(b, a)
	case vm.LT:
		setBool(&r, a.Lt(b))
	case vm.GT:
		setBool(&r, a.Gt(b))
	case vm.SLT:
		setBool(&r, a.Slt(b))
	case vm.SGT:
		setBool(&r, a.Sgt(b))
	case vm.EQ:
		setBool(&r, a.Eq(b))
	case vm.ISZERO:
		setBool(&r, a.IsZero())
	case vm.AND:
		r.And(a, b)
	case vm.OR:
		r.Or(a, b)
	case vm.XOR:
		r.Xor(a, b)
	case vm.NOT:
		r.Not(a)
	case vm.BYTE:
		r.Set(b)
		r.Byte(a)
	case vm.SHL:
		if a.LtUint64(256) {
			r.Lsh(b, uint(a.Uint64()))
		}
	case vm.SHR:
		if a.LtUint64(256) {
			r.Rsh(b, uint(a.Uint64()))
		}
	case vm.SAR:
		switch {
		case a.GtUint64(255):
			if b.Sign() < 0 {
				r.SetAllOne()
			}
		default:
			r.SRsh(b, uint(a.Uint64()))
		}
	}
	return r, true
}

func setBool(r *uint256.Int, b bool) {
	if b {
		r.SetOne()
		return
	}
	r.Clear()
}

var blockCtx = map[vm.OpCode]func(b *tables.Block) field.Word{
	vm.COINBASE:   func(b *tables.Block) field.Word { return field.WordFromAddress(b.Coinbase) },
	vm.TIMESTAMP:  func(b *tables.Block) field.Word { return word(b.Timestamp) },
	vm.NUMBER:     func(b *tables.Block) field.Word { return word(b.Number) },
	vm.DIFFICULTY: func(b *tables.Block) field.Word { return field.WordFromUint256(orZero(b.Difficulty)) },
	vm.GASLIMIT:   func(b *tables.Block) field.Word { return word(b.GasLimit) },
	vm.CHAINID:    func(b *tables.Block) field.Word { return field.WordFromUint256(orZero(b.ChainID)) },
	vm.BASEFEE:    func(b *tables.Block) field.Word { return field.WordFromUint256(orZero(b.BaseFee)) },
}

var contextOps = map[vm.OpCode]rw.CallContextFieldTag{
	vm.ADDRESS:        rw.CallCalleeAddress,
	vm.CALLER:         rw.CallCallerAddress,
	vm.CALLVALUE:      rw.CallValue,
	vm.CALLDATASIZE:   rw.CallCallDataLength,
	vm.RETURNDATASIZE: rw.CallLastCalleeReturnDataLength,
}

// env runs the environment opcodes and returns their charge over the
// constant gas. handled is false for any other opcode.
func (t *tracer) env(f *frame, op vm.OpCode) (extra uint64, handled bool, err error) {
	if tag, ok := contextOps[op]; ok {
		t.pushWord(f, t.read(f, tag))
		return 0, true, nil
	}
	if get, ok := blockCtx[op]; ok {
		t.pushWord(f, get(t.block))
		return 0, true, nil
	}
	switch op {
	case vm.ORIGIN:
		t.read(f, rw.CallTxID)
		t.pushWord(f, field.WordFromAddress(t.tx.Caller))
	case vm.GASPRICE:
		t.read(f, rw.CallTxID)
		t.push(f, orZero(t.tx.GasPrice))
	case vm.CODESIZE:
		t.pushWord(f, word(f.code.Len()))
	case vm.SELFBALANCE:
		t.read(f, rw.CallCalleeAddress)
		t.pushWord(f, t.accountReads(f.address, rw.AccountBalance)[0])
	case vm.BALANCE, vm.EXTCODEHASH, vm.EXTCODESIZE:
		addr, extra := t.accountAccess(f)
		switch op {
		case vm.BALANCE:
			t.pushWord(f, t.accountReads(addr, rw.AccountBalance)[0])
		case vm.EXTCODEHASH:
			t.pushWord(f, t.accountReads(addr, rw.AccountCodeHash)[0])
		default:
			h := t.accountReads(addr, rw.AccountCodeHash)[0]
			t.pushWord(f, word(t.codeSizeOf(h.Hash())))
		}
		return extra, true, nil
	case vm.CALLDATALOAD:
		t.callDataLoad(f)
	case vm.BLOCKHASH:
		n := t.pop(f)
		var h common.Hash
		if n.IsUint64() && n.Uint64() < t.block.Number && t.block.Number-n.Uint64() <= tables.MaxBlockHashHistory {
			var ok bool
			if h, ok = t.block.HistoryHash(n.Uint64()); !ok {
				return 0, true, fmt.Errorf("%w: block %d", ErrMissingBlockHash, n.Uint64())
			}
		}
		t.pushWord(f, field.WordFromHash(h))
	default:
		return 0, false, nil
	}
	return 0, true, nil
}

// accountAccess pops an address and warms it under the frame, returning
// the charge over the warm cost.
func (t *tracer) accountAccess(f *frame) (common.Address, uint64) {
	v := t.pop(f)
	addr := toAddress(&v)
	t.read(f, rw.CallTxID)
	t.read(f, rw.CallRwCounterEndOfReversion)
	t.read(f, rw.CallIsPersistent)
	warm := t.warmAccount(f, addr)
	return addr, evm.AccessCost(warm, params.ColdAccountAccessCostEIP2929) - params.WarmStorageReadCostEIP2929
}

// codeSizeOf returns the size of the code behind h, registering the code
// with the bytecode table.
func (t *tracer) codeSizeOf(h common.Hash) uint64 {
	if h == (common.Hash{}) {
		return 0
	}
	return t.tables.Bytecode.Add(t.state.code(h)).Len()
}

func (t *tracer) callDataLoad(f *frame) {
	off := t.pop(f)
	length := t.read(f, rw.CallCallDataLength).Lo.MustUint64()
	base := t.read(f, rw.CallCallDataOffset).Lo.MustUint64()
	if f.isRoot {
		t.read(f, rw.CallTxID)
	} else {
		t.read(f, rw.CallCallerID)
	}
	var bs [32]byte
	if off.IsUint64() {
		for k := uint64(0); k < 32; k++ {
			idx := off.Uint64() + k
			if idx >= length || idx < k {
				continue
			}
			if f.isRoot {
				bs[k] = t.tx.CallData[idx]
				continue
			}
			bs[k] = f.parent.memoryAt(base + idx)
			t.dict.MemoryRead(f.parent.id, base+idx, bs[k])
		}
	}
	t.push(f, new(uint256.Int).SetBytes(bs[:]))
}

func (t *tracer) sload(f *frame) uint64 {
	t.read(f, rw.CallTxID)
	t.read(f, rw.CallRwCounterEndOfReversion)
	t.read(f, rw.CallIsPersistent)
	t.read(f, rw.CallCalleeAddress)
	k := t.pop(f)
	key := toHash(&k)
	v := t.state.storage(f.address, key)
	t.dict.StorageRead(f.txID, f.address, field.WordFromHash(key), field.WordFromUint256(v),
		field.WordFromUint256(t.state.committedStorage(f.address, key)))
	warm := t.warmSlot(f, f.address, key)
	t.push(f, v)
	return evm.AccessCost(warm, params.ColdSloadCostEIP2929)
}

func (t *tracer) sstore(f *frame) uint64 {
	t.read(f, rw.CallIsStatic)
	t.read(f, rw.CallTxID)
	t.read(f, rw.CallRwCounterEndOfReversion)
	t.read(f, rw.CallIsPersistent)
	t.read(f, rw.CallCalleeAddress)
	k, v := t.pop(f), t.pop(f)
	key := toHash(&k)
	current := t.state.storage(f.address, key)
	committed := t.state.committedStorage(f.address, key)
	t.setStorage(f, f.address, key, &v)
	warm := t.warmSlot(f, f.address, key)
	cost, delta := evm.SstoreCost(committed, current, &v, warm)
	t.setRefund(f, uint64(int64(t.state.refund)+delta))
	return cost
}
