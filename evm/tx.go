package evm

import (
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/limb"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// gadgetBeginTx opens the root frame of a transaction. The call id of the
// root frame is the rw counter of this step and its first record carries
// the tx id. An invalid transaction goes straight to EndTx without touching
// state.
func gadgetBeginTx(i *Instruction) {
	callID := fq(i.curr.RWCounter)
	txID := i.callContextWitness(callID, rw.CallTxID).Lo
	tx := func(tag tables.TxContextFieldTag) field.Word { return i.txField(txID, tag) }
	nonce := tx(tables.TxNonce).Lo
	gas := tx(tables.TxGas).Lo
	price := tx(tables.TxGasPrice)
	caller := tx(tables.TxCallerAddress)
	isCreate := tx(tables.TxIsCreate).Lo
	value := tx(tables.TxValue)
	cdLength := tx(tables.TxCallDataLength).Lo
	i.cs.AssertBool("begin_tx.is_create", isCreate)

	w := func(f rw.CallContextFieldTag, v field.Word) { i.callContextWrite(callID, f, v) }
	w(rw.CallCallerID, field.ZeroWord())
	callee := i.callContextWitness(callID, rw.CallCalleeAddress)
	w(rw.CallIsRoot, word(1))
	w(rw.CallIsCreate, field.WordFromFQ(isCreate))
	w(rw.CallIsStatic, field.ZeroWord())
	persistent := i.callContextWitness(callID, rw.CallIsPersistent).Lo
	success := i.callContextWitness(callID, rw.CallIsSuccess).Lo
	end := i.callContextWitness(callID, rw.CallRwCounterEndOfReversion).Lo
	w(rw.CallDepth, word(1))
	w(rw.CallCallerAddress, caller)
	w(rw.CallCallDataOffset, field.ZeroWord())
	w(rw.CallCallDataLength, field.WordFromFQ(cdLength))
	w(rw.CallReturnDataOffset, field.ZeroWord())
	w(rw.CallReturnDataLength, field.ZeroWord())
	w(rw.CallValue, value)
	codeHash := i.callContextWitness(callID, rw.CallCodeHash)
	w(rw.CallLastCalleeID, field.ZeroWord())
	w(rw.CallLastCalleeReturnDataOffset, field.ZeroWord())
	w(rw.CallLastCalleeReturnDataLength, field.ZeroWord())
	i.cs.AssertBool("begin_tx.is_success", success)
	i.cs.AssertEqual("begin_tx.is_persistent", persistent, success)

	// validity: nonce, balance for value and fee, intrinsic gas, base fee
	callerFQ := caller.ToFQ()
	nextNonce, prevNonce := i.accountWrite(callerFQ, rw.AccountNonce, nil)
	badNonce := circuit.Not(i.cs.IsEqual(prevNonce.Lo, nonce))

	feeHi, fee := limb.MulAdd512(i.cs, i.decompose(field.WordFromFQ(gas)), i.decompose(price), limb.Zero())
	total, carry := limb.Add(i.cs, fee, i.decompose(value))
	after, prevBalance := i.accountWrite(callerFQ, rw.AccountBalance, nil)
	short, _ := limb.Lt(i.cs, i.decompose(prevBalance), total)
	badBalance := circuit.Or(circuit.Not(limb.IsZero(i.cs, feeHi)), circuit.Or(carry, short))

	intrinsic := fq(params.TxGas).
		Add(isCreate.MulUint64(params.TxGasContractCreation - params.TxGas)).
		Add(tx(tables.TxCallDataGasCost).Lo).
		Add(tx(tables.TxAccessListGasCost).Lo)
	badGas := i.lessThan(gas, intrinsic, 8)
	baseFee := i.blockLookup(tables.BlockBaseFee, field.Zero())
	badFee := i.lessThanWord(price, baseFee)

	invalid := circuit.Or(circuit.Or(badNonce, badBalance), circuit.Or(badGas, badFee))
	i.cs.AssertEqual("begin_tx.invalid", invalid, tx(tables.TxInvalid).Lo)
	valid := circuit.Not(invalid)
	i.cs.AssertEqual("begin_tx.nonce", nextNonce.Lo, prevNonce.Lo.Add(valid))
	// balance after = prev - fee for a valid tx, unchanged otherwise
	charged, borrow := limb.Add(i.cs, i.decompose(after), fee)
	if valid.IsOne() {
		i.cs.AssertWordEqual("begin_tx.fee", charged.Word(), prevBalance)
		i.cs.AssertZero("begin_tx.fee_overflow", borrow)
	} else {
		i.cs.AssertWordEqual("begin_tx.balance", after, prevBalance)
	}

	t := StepTransition{
		RWCounter:              Delta(0),
		CallID:                 ToFQ(callID),
		IsRoot:                 To(1),
		IsCreate:               ToFQ(isCreate),
		ProgramCounter:         To(0),
		StackPointer:           To(StackLimit),
		GasLeft:                ToFQ(gas),
		MemoryWordSize:         To(0),
		ReversibleWriteCounter: To(0),
		LogID:                  To(0),
		AnyCodeHash:            true,
	}
	if invalid.IsOne() {
		i.requireNext(StateEndTx)
		t.RWCounter = Delta(int64(i.rwOffset))
		i.constrain(t)
		return
	}

	i.warmTx(txID, callerFQ, callee.ToFQ(), isCreate)

	rev := &reversion{end: end, persistent: persistent}
	if isCreate.IsOne() {
		preimage := crypto.CreatePreimage(caller.Address(), i.u64("begin_tx.nonce", nonce))
		digest := i.keccakLookup(field.RLCAcc(preimage, i.params.Randomness), fq(uint64(len(preimage))))
		i.cs.AssertWordEqual("begin_tx.create_address", callee, addressWord(i.addressFromWord(digest)))
		n := i.u64("begin_tx.calldata_length", cdLength)
		var rlc field.FQ
		for k := uint64(0); k < n; k++ {
			rlc = rlc.Mul(i.params.Randomness).Add(i.txLookup(txID, tables.TxCallData, fq(k)).Lo)
		}
		i.cs.AssertWordEqual("begin_tx.init_code_hash", codeHash, i.keccakLookup(rlc, cdLength))
		calleeCode := i.accountRead(callee.ToFQ(), rw.AccountCodeHash)
		i.cs.AssertEqual("begin_tx.collision", i.hasNoCode(calleeCode), field.One())
		v, p := i.accountWrite(callee.ToFQ(), rw.AccountNonce, rev)
		i.cs.AssertWordEqual("begin_tx.callee_nonce_prev", p, field.ZeroWord())
		i.cs.AssertWordEqual("begin_tx.callee_nonce", v, word(1))
	} else {
		i.cs.AssertWordEqual("begin_tx.callee", callee, tx(tables.TxCalleeAddress))
		i.cs.AssertWordEqual("begin_tx.code_hash", codeHash, i.accountRead(callee.ToFQ(), rw.AccountCodeHash))
	}
	i.transfer(callerFQ, callee.ToFQ(), value, rev)

	t.RWCounter = Delta(int64(i.rwOffset))
	t.GasLeft = ToFQ(gas.Sub(intrinsic))
	t.ReversibleWriteCounter = To(rev.counter)
	t.AnyCodeHash = false
	t.CodeHash = &codeHash
	if circuit.And(circuit.Not(isCreate), i.hasNoCode(codeHash)).IsOne() {
		// nothing to run
		i.cs.AssertEqual("begin_tx.empty_success", success, field.One())
		i.requireNext(StateEndTx)
	}
	i.constrain(t)
}

// warmTx writes the access list a transaction starts with: caller, callee,
// the precompiles and the declared EIP-2930 list. For a creation the callee
// is the new contract.
func (i *Instruction) warmTx(txID, caller, callee, isCreate field.FQ) {
	i.accessListAccountWrite(txID, caller, nil)
	i.accessListAccountWrite(txID, callee, nil)
	for n := uint64(1); n <= NumPrecompiles; n++ {
		i.accessListAccountWrite(txID, fq(n), nil)
	}
	addrs := i.u64("begin_tx.access_list_len", i.txField(txID, tables.TxAccessListAddressLen).Lo)
	for k := uint64(0); k < addrs; k++ {
		i.accessListAccountWrite(txID, i.txLookup(txID, tables.TxAccessListAddress, fq(k)).ToFQ(), nil)
	}
	keys := i.u64("begin_tx.storage_key_len", i.txField(txID, tables.TxAccessListStorageKeyLen).Lo)
	for k := uint64(0); k < keys; k++ {
		addr := i.txLookup(txID, tables.TxAccessListStorageAddress, fq(k)).ToFQ()
		key := i.txLookup(txID, tables.TxAccessListStorageKey, fq(k))
		i.accessListStorageWrite(txID, addr, key, nil)
	}
}

// gadgetEndTx settles a transaction: the refund, the unused gas back to the
// caller, the priority fee to the coinbase and the receipt.
func gadgetEndTx(i *Instruction) {
	callID := fq(i.curr.CallID)
	txID := i.callContextOf(callID, rw.CallTxID).Lo
	persistent := i.callContextOf(callID, rw.CallIsPersistent).Lo
	gas := i.txField(txID, tables.TxGas).Lo
	price := i.txField(txID, tables.TxGasPrice)
	caller := i.txField(txID, tables.TxCallerAddress).ToFQ()
	valid := circuit.Not(i.txField(txID, tables.TxInvalid).Lo)

	refund := i.txRefundRead(txID)
	gasLeft := fq(i.curr.GasLeft)
	used := gas.Sub(gasLeft)
	i.rangeBytes("end_tx.gas_used", used, 8)
	capped, _ := i.divSmall(used, params.RefundQuotientEIP3529, 8)
	effective := i.minSmall(refund, capped, 8)
	charged := used.Sub(effective)

	if valid.IsOne() {
		back := limb.Mul(i.cs, i.decompose(field.WordFromFQ(gasLeft.Add(effective))), i.decompose(price))
		after, prev := i.accountWrite(caller, rw.AccountBalance, nil)
		sum, overflow := limb.Add(i.cs, i.decompose(prev), back)
		i.cs.AssertWordEqual("end_tx.caller_refund", sum.Word(), after)
		i.cs.AssertZero("end_tx.caller_refund.overflow", overflow)

		coinbase := i.blockLookup(tables.BlockCoinbase, field.Zero()).ToFQ()
		baseFee := i.blockLookup(tables.BlockBaseFee, field.Zero())
		tip, borrow := limb.Sub(i.cs, i.decompose(price), i.decompose(baseFee))
		i.cs.AssertZero("end_tx.tip", borrow)
		reward := limb.Mul(i.cs, i.decompose(field.WordFromFQ(charged)), tip)
		after, prev = i.accountWrite(coinbase, rw.AccountBalance, nil)
		sum, overflow = limb.Add(i.cs, i.decompose(prev), reward)
		i.cs.AssertWordEqual("end_tx.coinbase_reward", sum.Word(), after)
		i.cs.AssertZero("end_tx.coinbase_reward.overflow", overflow)
	}

	status := i.txReceiptLookup(txID, rw.TxReceiptPostStateOrStatus, true)
	i.cs.AssertEqual("end_tx.status", status, valid.Mul(persistent))
	i.cs.AssertEqual("end_tx.log_length", i.txReceiptLookup(txID, rw.TxReceiptLogLength, true), fq(i.curr.LogID))
	prevCumulative := field.Zero()
	if !txID.IsOne() {
		prevCumulative = i.txReceiptLookup(txID.Sub(field.One()), rw.TxReceiptCumulativeGasUsed, false)
	}
	cumulative := i.txReceiptLookup(txID, rw.TxReceiptCumulativeGasUsed, true)
	i.cs.AssertEqual("end_tx.cumulative_gas", cumulative, prevCumulative.Add(charged))

	i.requireNext(StateBeginTx, StateEndBlock)
	if i.isNext(StateBeginTx) {
		r := i.rwAt(i.next.RWCounter)
		i.cs.AssertTrue("end_tx.next_tx", r.Tag == rw.TagCallContext && r.IsWrite &&
			r.Key1.Equal(fq(i.next.RWCounter)) && r.Key2.Equal(fq(uint64(rw.CallTxID))))
		i.cs.AssertEqual("end_tx.next_tx_id", r.Value.Lo, txID.AddUint64(1))
	}
	i.constrain(StepTransition{
		RWCounter:              Delta(int64(i.rwOffset)),
		IsRoot:                 Any(),
		IsCreate:               Any(),
		ProgramCounter:         Any(),
		StackPointer:           Any(),
		GasLeft:                Any(),
		MemoryWordSize:         Any(),
		ReversibleWriteCounter: Any(),
		LogID:                  Any(),
		AnyCodeHash:            true,
	})
}

// gadgetEndBlock closes the block: every transaction ran, the block gas
// limit holds and the bus ends right after this step.
func gadgetEndBlock(i *Instruction) {
	txs := uint64(len(i.tables.Tx.Txs()))
	i.cs.AssertTrue("end_block.max_txs", txs <= uint64(i.params.MaxTxs))
	if i.curr.RWCounter > 1 {
		txID := i.callContextOf(fq(i.curr.CallID), rw.CallTxID).Lo
		i.cs.AssertEqual("end_block.tx_count", txID, fq(txs))
		cumulative := i.txReceiptLookup(txID, rw.TxReceiptCumulativeGasUsed, false)
		limit := i.blockLookup(tables.BlockGasLimit, field.Zero()).Lo
		i.cs.AssertZero("end_block.gas_limit", i.lessThan(limit, cumulative, 8))
	} else {
		i.cs.AssertTrue("end_block.no_tx", txs == 0)
	}
	total := i.curr.RWCounter + i.rwOffset
	i.cs.AssertTrue("end_block.rw_len", uint64(i.tables.RW.Len()) == total)
	i.cs.AssertTrue("end_block.max_rws", total <= uint64(i.params.MaxRws))
	i.cs.AssertTrue("end_block.last", i.next == nil)
}
