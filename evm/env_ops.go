package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// addressFromWord returns the low 160 bits of w.
func (i *Instruction) addressFromWord(w field.Word) field.FQ {
	b := i.decompose(w)
	return field.Compose(b[:20], fq(256))
}

func addressWord(addr field.FQ) field.Word {
	return field.WordFromBig(addr.BigInt())
}

// pushCallContext pushes a field of the current call.
func (i *Instruction) pushCallContext(f rw.CallContextFieldTag) {
	op := i.opcode()
	i.stackPushValue(i.callContext(f))
	i.sameContext(op, field.Zero())
}

func gadgetAddress(i *Instruction)        { i.pushCallContext(rw.CallCalleeAddress) }
func gadgetCaller(i *Instruction)         { i.pushCallContext(rw.CallCallerAddress) }
func gadgetCallValue(i *Instruction)      { i.pushCallContext(rw.CallValue) }
func gadgetCallDataSize(i *Instruction)   { i.pushCallContext(rw.CallCallDataLength) }
func gadgetReturnDataSize(i *Instruction) { i.pushCallContext(rw.CallLastCalleeReturnDataLength) }

// pushTxField pushes a field of the current transaction.
func (i *Instruction) pushTxField(tag tables.TxContextFieldTag) {
	op := i.opcode()
	txID := i.callContextFQ(rw.CallTxID)
	i.stackPushValue(i.txField(txID, tag))
	i.sameContext(op, field.Zero())
}

func gadgetOrigin(i *Instruction)   { i.pushTxField(tables.TxCallerAddress) }
func gadgetGasPrice(i *Instruction) { i.pushTxField(tables.TxGasPrice) }

func gadgetCodeSize(i *Instruction) {
	op := i.opcode()
	i.stackPushValue(word(i.codeSize(i.curr.CodeHash)))
	i.sameContext(op, field.Zero())
}

func gadgetSelfBalance(i *Instruction) {
	op := i.opcode()
	addr := i.callContextAddress(rw.CallCalleeAddress)
	i.stackPushValue(i.accountRead(addr, rw.AccountBalance))
	i.sameContext(op, field.Zero())
}

// frameReversionRead reads the reversion parameters of the current frame.
func (i *Instruction) frameReversionRead() *reversion {
	end := i.callContextFQ(rw.CallRwCounterEndOfReversion)
	persistent := i.callContextFQ(rw.CallIsPersistent)
	return i.frameReversion(end, persistent)
}

// accountAccess pops an address and warms it, returning the address and
// the extra charge over the warm cost.
func (i *Instruction) accountAccess() (addr, extra field.FQ) {
	addr = i.addressFromWord(i.stackPop())
	txID := i.callContextFQ(rw.CallTxID)
	rev := i.frameReversionRead()
	wasWarm := i.accessListAccountWrite(txID, addr, rev)
	extra = i.accessCost(wasWarm, params.ColdAccountAccessCostEIP2929).Sub(fq(params.WarmStorageReadCostEIP2929))
	return addr, extra
}

func gadgetBalance(i *Instruction) {
	op := i.opcode()
	addr, extra := i.accountAccess()
	i.stackPushValue(i.accountRead(addr, rw.AccountBalance))
	i.sameContext(op, extra)
}

func gadgetExtCodeHash(i *Instruction) {
	op := i.opcode()
	addr, extra := i.accountAccess()
	i.stackPushValue(i.accountRead(addr, rw.AccountCodeHash))
	i.sameContext(op, extra)
}

// codeSizeOf returns the length of the code with the given hash, zero for
// a nonexistent account.
func (i *Instruction) codeSizeOf(hash field.Word) field.FQ {
	exists := circuit.Not(i.isZeroWord(hash))
	if exists.IsZero() {
		return field.Zero()
	}
	return fq(i.codeSize(hash))
}

func gadgetExtCodeSize(i *Instruction) {
	op := i.opcode()
	addr, extra := i.accountAccess()
	hash := i.accountRead(addr, rw.AccountCodeHash)
	i.stackPushValue(field.WordFromFQ(i.codeSizeOf(hash)))
	i.sameContext(op, extra)
}

func gadgetCallDataLoad(i *Instruction) {
	op := i.opcode()
	offset := i.stackPop()
	length := i.callContextFQ(rw.CallCallDataLength)
	base := i.callContextFQ(rw.CallCallDataOffset)
	var txID, callerID field.FQ
	if i.curr.IsRoot {
		txID = i.callContextFQ(rw.CallTxID)
	} else {
		callerID = i.callContextFQ(rw.CallCallerID)
	}

	small, off := i.wordIsSmall(offset, 8)
	bs := make([]field.FQ, 32)
	for k := 0; k < 32; k++ {
		idx := off.AddUint64(uint64(k))
		in := circuit.And(small, i.lessThan(idx, length, 9))
		if in.IsZero() {
			continue
		}
		if i.curr.IsRoot {
			bs[k] = i.txLookup(txID, tables.TxCallData, idx).Lo
		} else {
			bs[k] = i.memoryLookup(false, callerID, base.Add(idx))
		}
	}
	i.stackPushValue(wordFromBigEndian(bs))
	i.sameContext(op, field.Zero())
}

// wordFromBigEndian composes 32 big-endian byte cells.
func wordFromBigEndian(bs []field.FQ) field.Word {
	le := make([]field.FQ, 32)
	for k := range bs {
		le[31-k] = bs[k]
	}
	return field.Word{Lo: field.Compose(le[:16], fq(256)), Hi: field.Compose(le[16:], fq(256))}
}

func gadgetBlockHash(i *Instruction) {
	op := i.opcode()
	n := i.stackPop()
	number := i.blockLookup(tables.BlockNumber, field.Zero()).Lo

	small, idx := i.wordIsSmall(n, 8)
	before := i.lessThan(idx, number, 8)
	gap := i.cs.Select(before, number.Sub(idx), field.Zero())
	recent := i.lessThan(gap, fq(tables.MaxBlockHashHistory+1), 8)
	valid := circuit.And(small, circuit.And(before, recent))

	want := field.ZeroWord()
	if valid.IsOne() {
		want = i.blockLookup(tables.BlockHash, idx)
	}
	i.stackPushValue(want)
	i.sameContext(op, field.Zero())
}

var blockCtxTags = map[gethvm.OpCode]tables.BlockContextFieldTag{
	gethvm.COINBASE:   tables.BlockCoinbase,
	gethvm.TIMESTAMP:  tables.BlockTimestamp,
	gethvm.NUMBER:     tables.BlockNumber,
	gethvm.DIFFICULTY: tables.BlockDifficulty,
	gethvm.GASLIMIT:   tables.BlockGasLimit,
	gethvm.CHAINID:    tables.BlockChainID,
	gethvm.BASEFEE:    tables.BlockBaseFee,
}

func gadgetBlockCtx(i *Instruction) {
	op := i.opcode()
	tag, ok := blockCtxTags[op]
	i.cs.AssertTrue("blockctx.opcode", ok)
	i.stackPushValue(i.blockLookup(tag, field.Zero()))
	i.sameContext(op, field.Zero())
}
