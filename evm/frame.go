package evm

import (
	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
)

// calleeContext is the call context a CALL or CREATE opens for a new frame.
type calleeContext struct {
	txID       field.FQ
	callee     field.FQ
	isCreate   bool
	isStatic   field.FQ
	depth      field.FQ
	caller     field.Word
	cdOffset   field.FQ
	cdLength   field.FQ
	rdOffset   field.FQ
	rdLength   field.FQ
	value      field.Word
	codeHash   field.Word
	parentRev  *reversion
	parentCall field.FQ
}

// openFrame writes the call context of the frame whose id is the current
// rw counter. The frame's persistence, success and reversion end are
// witnesses decided by how the frame ends. It returns the frame's
// reversion, starting at zero writes, and its success flag.
func (i *Instruction) openFrame(c calleeContext) (*reversion, field.FQ) {
	id := fq(i.curr.RWCounter)
	w := func(f rw.CallContextFieldTag, v field.Word) { i.callContextWrite(id, f, v) }

	w(rw.CallTxID, field.WordFromFQ(c.txID))
	w(rw.CallCallerID, field.WordFromFQ(c.parentCall))
	w(rw.CallCalleeAddress, addressWord(c.callee))
	w(rw.CallIsRoot, field.ZeroWord())
	w(rw.CallIsCreate, field.WordFromBool(c.isCreate))
	w(rw.CallIsStatic, field.WordFromFQ(c.isStatic))
	persistent := i.callContextWitness(id, rw.CallIsPersistent).Lo
	success := i.callContextWitness(id, rw.CallIsSuccess).Lo
	end := i.callContextWitness(id, rw.CallRwCounterEndOfReversion).Lo
	w(rw.CallDepth, field.WordFromFQ(c.depth.AddUint64(1)))
	w(rw.CallCallerAddress, c.caller)
	w(rw.CallCallDataOffset, field.WordFromFQ(c.cdOffset))
	w(rw.CallCallDataLength, field.WordFromFQ(c.cdLength))
	w(rw.CallReturnDataOffset, field.WordFromFQ(c.rdOffset))
	w(rw.CallReturnDataLength, field.WordFromFQ(c.rdLength))
	w(rw.CallValue, c.value)
	w(rw.CallCodeHash, c.codeHash)
	w(rw.CallLastCalleeID, field.ZeroWord())
	w(rw.CallLastCalleeReturnDataOffset, field.ZeroWord())
	w(rw.CallLastCalleeReturnDataLength, field.ZeroWord())

	i.cs.AssertBool("callee.is_success", success)
	i.cs.AssertEqual("callee.is_persistent", persistent, c.parentRev.persistent.Mul(success))
	// a successful callee of a reverting frame undoes its writes in the
	// parent's remaining slots
	i.cs.WhenFQ(circuit.And(success, circuit.Not(c.parentRev.persistent)), func() {
		i.cs.AssertEqual("callee.end_of_reversion", end, c.parentRev.end.Sub(fq(c.parentRev.counter)))
	})
	return &reversion{end: end, persistent: persistent}, success
}

// saveCaller stores where the current frame resumes once the callee ends.
func (i *Instruction) saveCaller(gasLeft, memoryWords field.FQ) {
	id := fq(i.curr.CallID)
	sp := fq(i.curr.StackPointer).Add(field.FromInt64(i.spOffset))
	i.callContextWrite(id, rw.CallProgramCounter, word(i.curr.ProgramCounter+1))
	i.callContextWrite(id, rw.CallStackPointer, field.WordFromFQ(sp))
	i.callContextWrite(id, rw.CallGasLeft, field.WordFromFQ(gasLeft))
	i.callContextWrite(id, rw.CallMemorySize, field.WordFromFQ(memoryWords))
	i.callContextWrite(id, rw.CallReversibleWriteCounter, word(i.curr.ReversibleWriteCounter+i.reversibleWrites()))
}

// enterFrame is the transition into a frame opened by openFrame.
func (i *Instruction) enterFrame(isCreate bool, codeHash field.Word, gas field.FQ, rev *reversion) StepTransition {
	return StepTransition{
		RWCounter:              Delta(int64(i.rwOffset)),
		CallID:                 To(i.curr.RWCounter),
		IsRoot:                 To(0),
		IsCreate:               ToFQ(field.FromBool(isCreate)),
		CodeHash:               &codeHash,
		ProgramCounter:         To(0),
		StackPointer:           To(StackLimit),
		GasLeft:                ToFQ(gas),
		MemoryWordSize:         To(0),
		ReversibleWriteCounter: To(rev.counter),
	}
}

// setLastCallee records the return data the current frame sees after a
// call or create attempt.
func (i *Instruction) setLastCallee(callID, calleeID, offset, length field.FQ) {
	i.callContextWrite(callID, rw.CallLastCalleeID, field.WordFromFQ(calleeID))
	i.callContextWrite(callID, rw.CallLastCalleeReturnDataOffset, field.WordFromFQ(offset))
	i.callContextWrite(callID, rw.CallLastCalleeReturnDataLength, field.WordFromFQ(length))
}

// stayTransition is the transition of a call or create attempt that did not
// enter a new frame.
func (i *Instruction) stayTransition(gasDelta, memoryWords field.FQ) StepTransition {
	return StepTransition{
		RWCounter:              Delta(int64(i.rwOffset)),
		ProgramCounter:         Delta(1),
		StackPointer:           Delta(i.spOffset),
		GasLeft:                DeltaFQ(gasDelta),
		MemoryWordSize:         ToFQ(memoryWords),
		ReversibleWriteCounter: Delta(int64(i.reversibleWrites())),
	}
}

// frameResult is how the current frame ends.
type frameResult struct {
	success   field.FQ
	gasLeft   field.FQ
	retOffset field.FQ
	retLength field.FQ
	// end is the frame's reversion end, checked when it fails.
	end field.FQ
	// after runs once the caller is known, before the step closes.
	after func(callerID field.FQ)
}

// endFrame closes the current frame. A root frame goes to EndTx; any other
// frame restores its caller from the saved call context. A failing frame
// leaves room for the twins of its reversible writes after the step.
func (i *Instruction) endFrame(res frameResult) {
	i.cs.AssertBool("frame.is_success", res.success)
	var t StepTransition
	if i.curr.IsRoot {
		i.requireNext(StateEndTx)
		t = StepTransition{
			GasLeft:                ToFQ(res.gasLeft),
			ProgramCounter:         Any(),
			StackPointer:           Any(),
			MemoryWordSize:         Any(),
			ReversibleWriteCounter: Any(),
			AnyCodeHash:            true,
		}
	} else {
		callerID := i.callContextFQ(rw.CallCallerID)
		read := func(f rw.CallContextFieldTag) field.Word { return i.callContextOf(callerID, f) }
		isRoot := read(rw.CallIsRoot).Lo
		isCreate := read(rw.CallIsCreate).Lo
		codeHash := read(rw.CallCodeHash)
		pc := read(rw.CallProgramCounter).Lo
		sp := read(rw.CallStackPointer).Lo
		gas := read(rw.CallGasLeft).Lo
		mem := read(rw.CallMemorySize).Lo
		rwc := read(rw.CallReversibleWriteCounter).Lo
		i.setLastCallee(callerID, fq(i.curr.CallID), res.retOffset, res.retLength)
		if res.after != nil {
			res.after(callerID)
		}
		writes := fq(i.curr.ReversibleWriteCounter + i.reversibleWrites())
		t = StepTransition{
			CallID:                 ToFQ(callerID),
			IsRoot:                 ToFQ(isRoot),
			IsCreate:               ToFQ(isCreate),
			CodeHash:               &codeHash,
			ProgramCounter:         ToFQ(pc),
			StackPointer:           ToFQ(sp),
			GasLeft:                ToFQ(gas.Add(res.gasLeft)),
			MemoryWordSize:         ToFQ(mem),
			ReversibleWriteCounter: ToFQ(rwc.Add(res.success.Mul(writes))),
		}
	}

	total := i.curr.ReversibleWriteCounter + i.reversibleWrites()
	used := fq(i.curr.RWCounter + i.rwOffset)
	i.cs.WhenFQ(circuit.Not(res.success), func() {
		i.cs.AssertEqual("frame.end_of_reversion", res.end, used.AddUint64(total).Sub(field.One()))
	})
	t.RWCounter = DeltaFQ(fq(i.rwOffset).Add(circuit.Not(res.success).MulUint64(total)))
	i.constrain(t)
}

// failFrame ends the current frame with an error: all gas is consumed and
// no return data is left.
func (i *Instruction) failFrame() {
	i.cs.AssertZero("error.is_success", i.callContextFQ(rw.CallIsSuccess))
	end := i.callContextFQ(rw.CallRwCounterEndOfReversion)
	i.endFrame(frameResult{success: field.Zero(), end: end})
}
