package evm

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/limb"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// Instruction is the view a gadget has of one step: the current and next
// step states, the tables and the constraint sink. It tracks how many bus
// records, stack slots and reversible writes the gadget has used so far.
type Instruction struct {
	cs     *circuit.Circuit
	params *Params
	tables *Tables
	curr   *StepState
	next   *StepState

	rwOffset uint64
	spOffset int64
	frame    *reversion

	transition *StepTransition
	nextStates []ExecutionState
}

func newInstruction(cs *circuit.Circuit, p *Params, t *Tables, curr, next *StepState) *Instruction {
	return &Instruction{cs: cs, params: p, tables: t, curr: curr, next: next}
}

// reversion tracks the reversible writes of one call frame within a step.
type reversion struct {
	end        field.FQ
	persistent field.FQ
	counter    uint64
}

// constrain records the transition to the next step.
func (i *Instruction) constrain(t StepTransition) {
	i.transition = &t
}

// requireNext asserts that the next step is in one of the given states.
func (i *Instruction) requireNext(states ...ExecutionState) {
	i.nextStates = append(i.nextStates, states...)
	if i.next == nil {
		i.cs.AssertTrue("next.exists", false)
		return
	}
	i.cs.AssertTrue("next.state", slices.Contains(states, i.next.State))
}

// allows reports whether the gadget admitted s as the next state.
func (i *Instruction) allows(s ExecutionState) bool {
	return slices.Contains(i.nextStates, s)
}

func (i *Instruction) isNext(s ExecutionState) bool {
	return i.next != nil && i.next.State == s
}

func fq(v uint64) field.FQ { return field.NewFQ(v) }

func word(v uint64) field.Word { return field.WordFromUint64(v) }

func addressFQ(a common.Address) field.FQ { return field.WordFromAddress(a).ToFQ() }

// addressOf returns the address held in the low 160 bits of w.
func addressOf(w field.Word) common.Address { return w.Address() }

// ---- Bus ----

func (i *Instruction) rwAt(counter uint64) rw.Record {
	r, ok := i.tables.RW.At(counter)
	i.cs.LookupResult("rw", ok, fmt.Sprintf("counter %d", counter))
	return r
}

// rwLookup consumes the next bus record and asserts its tag, direction and
// keys. The value columns are returned as witness.
func (i *Instruction) rwLookup(name string, tag rw.Tag, isWrite bool, key1, key2, key3 field.FQ, key4 field.Word) rw.Record {
	counter := i.curr.RWCounter + i.rwOffset
	i.rwOffset++
	r := i.rwAt(counter)
	i.cs.AssertTrue(name+".tag", r.Tag == tag)
	i.cs.AssertTrue(name+".is_write", r.IsWrite == isWrite)
	i.cs.AssertEqual(name+".key1", r.Key1, key1)
	i.cs.AssertEqual(name+".key2", r.Key2, key2)
	i.cs.AssertEqual(name+".key3", r.Key3, key3)
	i.cs.AssertWordEqual(name+".key4", r.Key4, key4)
	return r
}

// rwTwin asserts that the write r is undone at its reserved slot when the
// frame of rev does not persist.
func (i *Instruction) rwTwin(name string, rev *reversion, r rw.Record) {
	counter := rev.counter
	rev.counter++
	i.cs.AssertBool(name+".is_persistent", rev.persistent)
	if !rev.persistent.IsZero() {
		return
	}
	slot, ok := rev.end.Sub(fq(counter)).Uint64()
	i.cs.AssertTrue(name+".twin_slot", ok)
	if !ok {
		return
	}
	t := i.rwAt(slot)
	i.cs.AssertTrue(name+".twin.tag", t.Tag == r.Tag && t.IsWrite)
	i.cs.AssertTrue(name+".twin.key", t.Key() == r.Key())
	i.cs.AssertWordEqual(name+".twin.value", t.Value, r.ValuePrev)
	i.cs.AssertWordEqual(name+".twin.value_prev", t.ValuePrev, r.Value)
	i.cs.AssertEqual(name+".twin.aux0", t.Aux0, r.Aux0)
	i.cs.AssertWordEqual(name+".twin.aux1", t.Aux1, r.Aux1)
}

// frameReversion returns the reversion of the current frame, starting at
// the current reversible write counter.
func (i *Instruction) frameReversion(end, persistent field.FQ) *reversion {
	if i.frame == nil {
		i.frame = &reversion{end: end, persistent: persistent, counter: i.curr.ReversibleWriteCounter}
	}
	return i.frame
}

// reversibleWrites returns how many reversible writes the current frame made
// in this step.
func (i *Instruction) reversibleWrites() uint64 {
	if i.frame == nil {
		return 0
	}
	return i.frame.counter - i.curr.ReversibleWriteCounter
}

// ---- Stack ----

func (i *Instruction) stackLookup(name string, isWrite bool, offset int64) field.Word {
	sp := fq(i.curr.StackPointer).Add(field.FromInt64(offset))
	r := i.rwLookup(name, rw.TagStack, isWrite, fq(i.curr.CallID), field.Zero(), sp, field.ZeroWord())
	return r.Value
}

// stackPop reads the next stack item.
func (i *Instruction) stackPop() field.Word {
	v := i.stackLookup("stack_pop", false, i.spOffset)
	i.spOffset++
	return v
}

// stackPush writes the next stack item and returns its witness value.
func (i *Instruction) stackPush() field.Word {
	i.spOffset--
	return i.stackLookup("stack_push", true, i.spOffset)
}

// stackPushValue writes v as the next stack item.
func (i *Instruction) stackPushValue(v field.Word) {
	i.cs.AssertWordEqual("stack_push.value", i.stackPush(), v)
}

// ---- Call context ----

func (i *Instruction) callContextLookup(callID field.FQ, f rw.CallContextFieldTag, isWrite bool) field.Word {
	name := "call_context." + f.String()
	return i.rwLookup(name, rw.TagCallContext, isWrite, callID, fq(uint64(f)), field.Zero(), field.ZeroWord()).Value
}

// callContext reads a field of the current call.
func (i *Instruction) callContext(f rw.CallContextFieldTag) field.Word {
	return i.callContextLookup(fq(i.curr.CallID), f, false)
}

// callContextFQ reads a small field of the current call.
func (i *Instruction) callContextFQ(f rw.CallContextFieldTag) field.FQ {
	return i.callContext(f).Lo
}

// callContextAddress reads an address field of the current call as a
// single element, with the high limb held to the top 32 bits of 160.
func (i *Instruction) callContextAddress(f rw.CallContextFieldTag) field.FQ {
	w := i.callContext(f)
	i.rangeBytes("call_context."+f.String()+".hi", w.Hi, 4)
	return w.ToFQ()
}

func (i *Instruction) callContextOf(callID field.FQ, f rw.CallContextFieldTag) field.Word {
	return i.callContextLookup(callID, f, false)
}

// callContextWrite writes v to a field of call callID.
func (i *Instruction) callContextWrite(callID field.FQ, f rw.CallContextFieldTag, v field.Word) {
	got := i.callContextLookup(callID, f, true)
	i.cs.AssertWordEqual("call_context."+f.String()+".value", got, v)
}

// callContextWitness writes a field of call callID whose value is decided
// later in the trace and returns it.
func (i *Instruction) callContextWitness(callID field.FQ, f rw.CallContextFieldTag) field.Word {
	return i.callContextLookup(callID, f, true)
}

// ---- Memory ----

func (i *Instruction) memoryLookup(isWrite bool, callID, addr field.FQ) field.FQ {
	return i.rwLookup("memory", rw.TagMemory, isWrite, callID, field.Zero(), addr, field.ZeroWord()).Value.Lo
}

// ---- Account and storage ----

func (i *Instruction) accountRead(addr field.FQ, f rw.AccountFieldTag) field.Word {
	return i.rwLookup("account", rw.TagAccount, false, addr, fq(uint64(f)), field.Zero(), field.ZeroWord()).Value
}

// accountWrite writes an account field and returns the written and previous
// values. rev is nil for writes that survive any revert.
func (i *Instruction) accountWrite(addr field.FQ, f rw.AccountFieldTag, rev *reversion) (v, prev field.Word) {
	r := i.rwLookup("account", rw.TagAccount, true, addr, fq(uint64(f)), field.Zero(), field.ZeroWord())
	if rev != nil {
		i.rwTwin("account", rev, r)
	}
	return r.Value, r.ValuePrev
}

// transfer moves value from sender to receiver under rev and returns the
// sender balance before the transfer.
func (i *Instruction) transfer(sender, receiver field.FQ, value field.Word, rev *reversion) field.Word {
	v := limb.Decompose(i.cs, value)
	after, prev := i.accountWrite(sender, rw.AccountBalance, rev)
	// prev = after + value without overflow
	sum, overflow := limb.Add(i.cs, limb.Decompose(i.cs, after), v)
	i.cs.AssertWordEqual("transfer.sender", sum.Word(), prev)
	i.cs.AssertZero("transfer.sender.overflow", overflow)

	rafter, rprev := i.accountWrite(receiver, rw.AccountBalance, rev)
	rsum, roverflow := limb.Add(i.cs, limb.Decompose(i.cs, rprev), v)
	i.cs.AssertWordEqual("transfer.receiver", rsum.Word(), rafter)
	i.cs.AssertZero("transfer.receiver.overflow", roverflow)
	return prev
}

func (i *Instruction) accessListAccountWrite(txID, addr field.FQ, rev *reversion) (wasWarm field.FQ) {
	r := i.rwLookup("access_list_account", rw.TagTxAccessListAccount, true, txID, addr, field.Zero(), field.ZeroWord())
	i.cs.AssertWordEqual("access_list_account.value", r.Value, word(1))
	if rev != nil {
		i.rwTwin("access_list_account", rev, r)
	}
	return r.ValuePrev.Lo
}

func (i *Instruction) accessListAccountRead(txID, addr field.FQ) field.FQ {
	return i.rwLookup("access_list_account", rw.TagTxAccessListAccount, false, txID, addr, field.Zero(), field.ZeroWord()).Value.Lo
}

func (i *Instruction) accessListStorageWrite(txID, addr field.FQ, key field.Word, rev *reversion) (wasWarm field.FQ) {
	r := i.rwLookup("access_list_storage", rw.TagTxAccessListAccountStorage, true, txID, addr, field.Zero(), key)
	i.cs.AssertWordEqual("access_list_storage.value", r.Value, word(1))
	if rev != nil {
		i.rwTwin("access_list_storage", rev, r)
	}
	return r.ValuePrev.Lo
}

func (i *Instruction) accessListStorageRead(txID, addr field.FQ, key field.Word) field.FQ {
	return i.rwLookup("access_list_storage", rw.TagTxAccessListAccountStorage, false, txID, addr, field.Zero(), key).Value.Lo
}

// storageRead returns the current and committed value of a slot.
func (i *Instruction) storageRead(txID, addr field.FQ, key field.Word) (v, committed field.Word) {
	r := i.rwLookup("storage", rw.TagStorage, false, addr, field.Zero(), field.Zero(), key)
	i.cs.AssertEqual("storage.tx_id", r.Aux0, txID)
	return r.Value, r.Aux1
}

func (i *Instruction) storageWrite(txID, addr field.FQ, key field.Word, rev *reversion) (v, prev, committed field.Word) {
	r := i.rwLookup("storage", rw.TagStorage, true, addr, field.Zero(), field.Zero(), key)
	i.cs.AssertEqual("storage.tx_id", r.Aux0, txID)
	i.rwTwin("storage", rev, r)
	return r.Value, r.ValuePrev, r.Aux1
}

func (i *Instruction) txRefundRead(txID field.FQ) field.FQ {
	return i.rwLookup("tx_refund", rw.TagTxRefund, false, txID, field.Zero(), field.Zero(), field.ZeroWord()).Value.Lo
}

func (i *Instruction) txRefundWrite(txID field.FQ, rev *reversion) (v, prev field.FQ) {
	r := i.rwLookup("tx_refund", rw.TagTxRefund, true, txID, field.Zero(), field.Zero(), field.ZeroWord())
	i.rwTwin("tx_refund", rev, r)
	return r.Value.Lo, r.ValuePrev.Lo
}

func (i *Instruction) txLogWrite(txID, logID field.FQ, f rw.TxLogFieldTag, index uint64) field.Word {
	return i.rwLookup("tx_log", rw.TagTxLog, true, txID, logID, fq(uint64(f)), word(index)).Value
}

func (i *Instruction) txReceiptLookup(txID field.FQ, f rw.TxReceiptFieldTag, isWrite bool) field.FQ {
	return i.rwLookup("tx_receipt", rw.TagTxReceipt, isWrite, txID, fq(uint64(f)), field.Zero(), field.ZeroWord()).Value.Lo
}

// ---- Fixed and external tables ----

// opcodeLookup returns the opcode at the program counter and asserts it is
// an opcode rather than PUSH data.
func (i *Instruction) opcodeLookup() gethvm.OpCode {
	return i.opcodeLookupAt(0, true)
}

// opcodeLookupAt returns the code byte at pc + offset. Past the end of the
// code it returns 0.
func (i *Instruction) opcodeLookupAt(offset uint64, isCode bool) gethvm.OpCode {
	idx := i.curr.ProgramCounter + offset
	length := i.codeSize(i.curr.CodeHash)
	if idx >= length {
		i.cs.AssertTrue("opcode.in_code", !isCode)
		return gethvm.STOP
	}
	code, value, ok := i.tables.Bytecode.Lookup(i.curr.CodeHash, tables.BytecodeByte, fq(idx))
	i.cs.LookupResult("bytecode", ok, fmt.Sprintf("%s[%d]", i.curr.CodeHash, idx))
	i.cs.AssertTrue("opcode.is_code", code == isCode)
	return gethvm.OpCode(value)
}

// codeSize returns the length of the code with the given hash.
func (i *Instruction) codeSize(hash field.Word) uint64 {
	_, n, ok := i.tables.Bytecode.Lookup(hash, tables.BytecodeHeader, field.Zero())
	i.cs.LookupResult("bytecode.header", ok, hash.String())
	return n
}

// codeByte returns the byte at index of the code with the given hash and
// whether it is an opcode.
func (i *Instruction) codeByte(hash field.Word, index uint64) (field.FQ, bool) {
	code, value, ok := i.tables.Bytecode.Lookup(hash, tables.BytecodeByte, fq(index))
	i.cs.LookupResult("bytecode", ok, fmt.Sprintf("%s[%d]", hash, index))
	return fq(value), code
}

func (i *Instruction) txLookup(txID field.FQ, tag tables.TxContextFieldTag, index field.FQ) field.Word {
	v, ok := i.tables.Tx.Lookup(txID, tag, index)
	i.cs.LookupResult("tx", ok, fmt.Sprintf("tx %s tag %d index %s", txID, tag, index))
	return v
}

func (i *Instruction) txField(txID field.FQ, tag tables.TxContextFieldTag) field.Word {
	return i.txLookup(txID, tag, field.Zero())
}

func (i *Instruction) blockLookup(tag tables.BlockContextFieldTag, index field.FQ) field.Word {
	v, ok := i.tables.Block.Lookup(tag, index)
	i.cs.LookupResult("block", ok, fmt.Sprintf("tag %d index %s", tag, index))
	return v
}

func (i *Instruction) keccakLookup(rlc, length field.FQ) field.Word {
	v, ok := i.tables.Keccak.Lookup(rlc, length)
	i.cs.LookupResult("keccak", ok, fmt.Sprintf("rlc %s len %s", rlc, length))
	return v
}

// copyLookup sends ev to the copy circuit. The bus range of the copy starts
// at the next record. For a memory source feeding an RLC the accumulator is
// taken from the memory reads in that range. It returns the event as
// looked up.
func (i *Instruction) copyLookup(ev tables.CopyEvent) tables.CopyEvent {
	ev.RWCounter = i.curr.RWCounter + i.rwOffset
	ev.RWCInc = tables.RWAccesses(ev.SrcType, ev.SrcAddr, ev.SrcAddrEnd, ev.DstType, ev.Length)
	if ev.SrcType == tables.CopyMemory && CopyHasRLC(ev.SrcType, ev.DstType) {
		var acc field.FQ
		for k := uint64(0); k < ev.RWCInc; k++ {
			acc = acc.Mul(i.params.Randomness).Add(i.rwAt(ev.RWCounter + k).Value.Lo)
		}
		ev.RLCAcc = acc
	}
	i.cs.LookupResult("copy", i.tables.Copy.Contains(ev), fmt.Sprintf("%+v", ev))
	i.rwOffset += ev.RWCInc
	return ev
}

// CopyHasRLC reports whether a copy between the given endpoints carries the
// RLC of the copied bytes.
func CopyHasRLC(src, dst tables.CopyDataType) bool {
	return src == tables.CopyRlcAcc || dst == tables.CopyRlcAcc || dst == tables.CopyBytecode
}

// ---- Small-number helpers ----

// rangeBytes asserts 0 <= v < 2^(8n) through a byte decomposition.
func (i *Instruction) rangeBytes(name string, v field.FQ, n int) {
	bs := bytesOf(v.BigInt(), n)
	i.cs.Cells(bs...)
	limb.RangeCheck(i.cs, bs)
	i.cs.AssertEqual(name, field.Compose(bs, fq(256)), v)
}

func bytesOf(x *big.Int, n int) []field.FQ {
	out := make([]field.FQ, n)
	v := new(big.Int).Set(x)
	for k := 0; k < n; k++ {
		out[k] = fq(new(big.Int).And(v, big.NewInt(0xff)).Uint64())
		v.Rsh(v, 8)
	}
	return out
}

// lessThan returns 1 when a < b for a, b in [0, 2^(8n)).
func (i *Instruction) lessThan(a, b field.FQ, n int) field.FQ {
	lt := i.cs.Cell(field.FromBool(a.BigInt().Cmp(b.BigInt()) < 0))
	i.cs.AssertBool("lt", lt)
	diff := a.Sub(b).Add(lt.Mul(field.FromBig(new(big.Int).Lsh(big.NewInt(1), uint(8*n)))))
	i.rangeBytes("lt.diff", diff, n)
	return lt
}

func (i *Instruction) minSmall(a, b field.FQ, n int) field.FQ {
	return i.cs.Select(i.lessThan(a, b, n), a, b)
}

func (i *Instruction) maxSmall(a, b field.FQ, n int) field.FQ {
	return i.cs.Select(i.lessThan(a, b, n), b, a)
}

// divSmall returns a / d and a % d for a in [0, 2^(8n)).
func (i *Instruction) divSmall(a field.FQ, d uint64, n int) (q, r field.FQ) {
	av := a.BigInt()
	qb, rb := new(big.Int).QuoRem(av, new(big.Int).SetUint64(d), new(big.Int))
	q, r = i.cs.Cell(field.FromBig(qb)), i.cs.Cell(field.FromBig(rb))
	i.rangeBytes("div.q", q, n)
	i.cs.AssertEqual("div.r_lt_d", i.lessThan(r, fq(d), n), field.One())
	i.cs.AssertEqual("div", q.MulUint64(d).Add(r), a)
	return q, r
}

// wordIsSmall returns 1 when w < 2^(8n) along with w's low value.
func (i *Instruction) wordIsSmall(w field.Word, n int) (small, low field.FQ) {
	bs := limb.Decompose(i.cs, w)
	small = i.cs.IsZero(field.Sum(bs[n:]...))
	return small, field.Compose(bs[:n], fq(256))
}

// wordToSmall asserts w < 2^(8n) and returns its value.
func (i *Instruction) wordToSmall(name string, w field.Word, n int) field.FQ {
	small, low := i.wordIsSmall(w, n)
	i.cs.AssertEqual(name+".small", small, field.One())
	return low
}

func (i *Instruction) isZeroWord(w field.Word) field.FQ {
	return circuit.And(i.cs.IsZero(w.Lo), i.cs.IsZero(w.Hi))
}

func (i *Instruction) isEqualWord(a, b field.Word) field.FQ {
	return circuit.And(i.cs.IsEqual(a.Lo, b.Lo), i.cs.IsEqual(a.Hi, b.Hi))
}

// selectWord returns a when cond is 1 and b otherwise.
func (i *Instruction) selectWord(cond field.FQ, a, b field.Word) field.Word {
	i.cs.AssertBool("select.cond", cond)
	return field.Select(cond, a, b)
}

// isPrecompileAddress returns 1 when addr is one of the precompiles.
func (i *Instruction) isPrecompileAddress(addr field.FQ) field.FQ {
	small := i.lessThan(addr, fq(NumPrecompiles+1), 20)
	return circuit.And(small, circuit.Not(i.cs.IsZero(addr)))
}
