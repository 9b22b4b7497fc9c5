package evm

import (
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/limb"
	"github.com/eth2030/zkevm/rw"
)

var emptyCodeHash = field.WordFromHash(types.EmptyCodeHash)

// hasNoCode is 1 for a nonexistent account or one with empty code.
func (i *Instruction) hasNoCode(hash field.Word) field.FQ {
	return circuit.Or(i.isZeroWord(hash), i.isEqualWord(hash, emptyCodeHash))
}

// lessThanWord returns 1 when a < b as 256-bit values.
func (i *Instruction) lessThanWord(a, b field.Word) field.FQ {
	lt, _ := limb.Lt(i.cs, i.decompose(a), i.decompose(b))
	return lt
}

// callGas returns the gas forwarded to a callee out of available, capped
// by the requested gas operand.
func (i *Instruction) callGas(available field.FQ, requested field.Word) field.FQ {
	q, _ := i.divSmall(available, 64, 8)
	capped := available.Sub(q)
	small, low := i.wordIsSmall(requested, 8)
	return i.cs.Select(small, i.minSmall(low, capped, 8), capped)
}

// gadgetLocalError covers call and create attempts that fail before a new
// frame is entered.
func gadgetLocalError(i *Instruction) {
	switch i.opcodeLookup() {
	case gethvm.CREATE, gethvm.CREATE2:
		gadgetCreate(i)
	default:
		gadgetCallOp(i)
	}
}

// gadgetCallOp handles CALL, CALLCODE, DELEGATECALL and STATICCALL. The
// call either fails its precheck, completes at once against an account
// without code, or enters the callee. A precompile callee continues in the
// precompile's state.
func gadgetCallOp(i *Instruction) {
	op := i.opcodeLookup()
	o, ok := OperationOf(op)
	i.cs.AssertTrue("call.opcode", ok && o.State == StateCallOp)
	isCall := op == gethvm.CALL
	isDelegate := op == gethvm.DELEGATECALL
	hasValueArg := isCall || op == gethvm.CALLCODE

	txID := i.callContextFQ(rw.CallTxID)
	rev := i.frameReversionRead()
	isStatic := i.callContextFQ(rw.CallIsStatic)
	depth := i.callContextFQ(rw.CallDepth)
	current := i.callContextAddress(rw.CallCalleeAddress)
	calleeCaller, calleeValue := addressWord(current), field.ZeroWord()
	if isDelegate {
		calleeCaller = i.callContext(rw.CallCallerAddress)
		calleeValue = i.callContext(rw.CallValue)
	}

	gasArg := i.stackPop()
	addr := i.addressFromWord(i.stackPop())
	value := field.ZeroWord()
	if hasValueArg {
		value = i.stackPop()
		calleeValue = value
	}
	cd := i.memoryRange(i.stackPop(), i.stackPop())
	rd := i.memoryRange(i.stackPop(), i.stackPop())
	pushed := i.stackPush()

	hasValue := circuit.Not(i.isZeroWord(value))
	if isCall {
		i.cs.AssertZero("call.write_protection", isStatic.Mul(hasValue))
	}
	i.requireInRange(cd, rd)
	words, memCost := i.memoryExpansion(cd, rd)

	wasWarm := i.accessListAccountWrite(txID, addr, rev)
	var balance field.Word
	if hasValueArg {
		balance = i.accountRead(current, rw.AccountBalance)
	}
	isEmpty := field.Zero()
	var nonce, calleeBalance field.Word
	if isCall {
		nonce = i.accountRead(addr, rw.AccountNonce)
		calleeBalance = i.accountRead(addr, rw.AccountBalance)
	}
	codeHash := i.accountRead(addr, rw.AccountCodeHash)
	noCode := i.hasNoCode(codeHash)
	if isCall {
		isEmpty = circuit.And(noCode, circuit.And(i.isZeroWord(nonce), i.isZeroWord(calleeBalance)))
	}

	cost := i.accessCost(wasWarm, params.ColdAccountAccessCostEIP2929).
		Add(hasValue.MulUint64(params.CallValueTransferGas)).
		Add(hasValue.Mul(isEmpty).MulUint64(params.CallNewAccountGas)).
		Add(memCost)
	available := fq(i.curr.GasLeft).Sub(cost)
	i.rangeBytes("call.gas_available", available, 8)
	calleeGas := i.callGas(available, gasArg)
	stipend := hasValue.MulUint64(params.CallStipend)

	depthFail := i.lessThan(fq(CallDepthLimit), depth, 8)
	short := field.Zero()
	if hasValueArg {
		short = circuit.And(hasValue, i.lessThanWord(balance, value))
	}
	insufficient := circuit.And(circuit.Not(depthFail), short)
	want := StateCallOp
	switch {
	case depthFail.IsOne():
		want = StateErrorDepth
	case insufficient.IsOne():
		want = StateErrorInsufficientBalance
	}
	i.cs.AssertTrue("call.state", i.curr.State == want)

	isPrecompile := i.isPrecompileAddress(addr)
	callID := fq(i.curr.CallID)
	var success field.FQ
	var t StepTransition
	switch {
	case want != StateCallOp:
		i.setLastCallee(callID, field.Zero(), field.Zero(), field.Zero())
		success = field.Zero()
		t = i.stayTransition(stipend.Sub(cost), words)

	case circuit.And(noCode, circuit.Not(isPrecompile)).IsOne():
		if isCall {
			i.transfer(current, addr, value, rev)
		}
		i.setLastCallee(callID, field.Zero(), field.Zero(), field.Zero())
		success = field.One()
		t = i.stayTransition(stipend.Sub(cost), words)

	default:
		calleeAddress := addr
		if !isCall && op != gethvm.STATICCALL {
			calleeAddress = current
		}
		calleeRev, calleeSuccess := i.openFrame(calleeContext{
			txID:       txID,
			callee:     calleeAddress,
			isStatic:   circuit.Or(isStatic, field.FromBool(op == gethvm.STATICCALL)),
			depth:      depth,
			caller:     calleeCaller,
			cdOffset:   cd.offset,
			cdLength:   cd.length,
			rdOffset:   rd.offset,
			rdLength:   rd.length,
			value:      calleeValue,
			codeHash:   codeHash,
			parentRev:  rev,
			parentCall: callID,
		})
		if isCall {
			i.transfer(current, addr, value, calleeRev)
		}
		i.saveCaller(fq(i.curr.GasLeft).Sub(cost).Sub(calleeGas), words)
		if isPrecompile.IsOne() {
			s, _ := PrecompileState(addressWord(addr).Address())
			i.requireNext(s)
		}
		success = calleeSuccess
		t = i.enterFrame(false, codeHash, calleeGas.Add(stipend), calleeRev)
	}
	i.cs.AssertWordEqual("call.is_success", pushed, field.WordFromFQ(success))
	i.constrain(t)
}
