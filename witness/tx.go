package witness

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// beginTx emits the BeginTx step of tx and returns its root frame. The
// frame is already done when there is nothing to execute.
func (t *tracer) beginTx(tx *tables.Tx) (*frame, error) {
	if !tx.IsCreate() && tables.IsPrecompile(*tx.Callee) {
		return nil, fmt.Errorf("%w: call to precompile %s", ErrUnsupportedTx, tx.Callee)
	}
	id := t.dict.Counter()
	t.steps = append(t.steps, &evm.StepState{State: evm.StateBeginTx, RWCounter: id, CallID: t.lastRoot})

	caller := tx.Caller
	price, value := orZero(tx.GasPrice), orZero(tx.Value)
	nonce, balance := t.state.nonce(caller), t.state.balance(caller)
	fee, feeOverflow := new(uint256.Int).MulOverflow(uint256.NewInt(tx.Gas), price)
	total, totalOverflow := new(uint256.Int).AddOverflow(fee, value)
	tx.Invalid = nonce != tx.Nonce || feeOverflow || totalOverflow || balance.Lt(total) ||
		tx.Gas < tx.IntrinsicGas() || price.Lt(t.block.BaseFee)

	f := &frame{
		id:       id,
		txID:     tx.ID,
		isRoot:   true,
		isCreate: tx.IsCreate(),
		depth:    1,
		caller:   field.WordFromAddress(caller),
		value:    *value,
		cdLength: uint64(len(tx.CallData)),
		gas:      tx.Gas,
	}
	if f.isCreate {
		f.address = crypto.CreateAddress(caller, tx.Nonce)
		f.codeHash = field.WordFromBytes(keccak(tx.CallData))
	} else {
		f.address = *tx.Callee
		f.codeHash = field.WordFromHash(t.state.codeHash(f.address))
	}
	if !tx.Invalid {
		f.seq = t.nextSeq()
		f.success = t.outcome(f.seq)
		f.persistent = f.success
	}
	for _, tag := range openingFields {
		t.write(f, tag)
	}

	valid := uint64(0)
	if !tx.Invalid {
		valid = 1
	}
	t.setNonce(nil, caller, nonce+valid)
	if tx.Invalid {
		t.setBalance(nil, caller, balance)
		f.done = true
		return f, nil
	}
	t.setBalance(nil, caller, new(uint256.Int).Sub(balance, fee))

	t.warmTx(f, tx)
	if f.isCreate {
		t.tables.Keccak.Add(crypto.CreatePreimage(caller, tx.Nonce))
		t.tables.Keccak.Add(tx.CallData)
		f.code = t.tables.Bytecode.Add(tx.CallData)
		existing := t.state.codeHash(f.address)
		if t.state.nonce(f.address) != 0 || !hasNoCode(existing) {
			return nil, fmt.Errorf("%w: creation collides with %s", ErrUnsupportedTx, f.address)
		}
		t.dict.AccountRead(f.address, rw.AccountCodeHash, field.WordFromHash(existing))
		t.setNonce(f, f.address, 1)
	} else {
		t.dict.AccountRead(f.address, rw.AccountCodeHash, f.codeHash)
		if code := t.state.code(f.codeHash.Hash()); !hasNoCode(f.codeHash.Hash()) {
			f.code = t.tables.Bytecode.Add(code)
		}
	}
	t.transfer(f, caller, f.address, value)
	f.gas = tx.Gas - tx.IntrinsicGas()

	if !f.isCreate && hasNoCode(f.codeHash.Hash()) {
		f.done = true
		f.gasLeft = f.gas
		if err := t.record(f.seq, true); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// warmTx writes the access list a transaction starts with.
func (t *tracer) warmTx(f *frame, tx *tables.Tx) {
	warm := func(addr common.Address) {
		t.dict.TxAccessListAccountWrite(tx.ID, addr, true, t.state.warmAccounts[addr], nil)
		t.state.setWarmAccount(addr, true)
	}
	warm(tx.Caller)
	warm(f.address)
	for n := 1; n <= evm.NumPrecompiles; n++ {
		warm(common.BytesToAddress([]byte{byte(n)}))
	}
	for _, tuple := range tx.AccessList {
		warm(tuple.Address)
	}
	for _, tuple := range tx.AccessList {
		for _, key := range tuple.StorageKeys {
			t.dict.TxAccessListAccountStorageWrite(tx.ID, tuple.Address, field.WordFromHash(key), true,
				t.state.warmSlots[slotKey{tuple.Address, key}], nil)
			t.state.setWarmSlot(tuple.Address, key, true)
		}
	}
}

// endTx emits the EndTx step: refund, fee settlement and the receipt.
func (t *tracer) endTx(tx *tables.Tx, root *frame) error {
	root.gas = root.gasLeft
	if tx.Invalid {
		root.gas = tx.Gas
	}
	t.newStep(root, evm.StateEndTx)
	t.lastRoot = root.id

	t.read(root, rw.CallTxID)
	t.read(root, rw.CallIsPersistent)
	refund := t.state.refund
	t.dict.TxRefundRead(tx.ID, refund)

	used := tx.Gas - root.gas
	effective := evm.EffectiveRefund(used, refund)
	charged := used - effective
	if !tx.Invalid {
		price := orZero(tx.GasPrice)
		back := new(uint256.Int).Mul(uint256.NewInt(root.gas+effective), price)
		t.setBalance(nil, tx.Caller, new(uint256.Int).Add(t.state.balance(tx.Caller), back))
		tip := new(uint256.Int).Sub(price, t.block.BaseFee)
		reward := new(uint256.Int).Mul(uint256.NewInt(charged), tip)
		t.setBalance(nil, t.block.Coinbase, new(uint256.Int).Add(t.state.balance(t.block.Coinbase), reward))
	}

	status := !tx.Invalid && root.persistent
	t.dict.TxReceiptWrite(tx.ID, rw.TxReceiptPostStateOrStatus, boolU64(status))
	t.dict.TxReceiptWrite(tx.ID, rw.TxReceiptLogLength, t.logID)
	if tx.ID != 1 {
		t.dict.TxReceiptRead(tx.ID-1, rw.TxReceiptCumulativeGasUsed, t.cumulative)
	}
	t.cumulative += charged
	if t.cumulative > t.block.GasLimit {
		return fmt.Errorf("%w: %d > %d", ErrBlockGasLimit, t.cumulative, t.block.GasLimit)
	}
	t.dict.TxReceiptWrite(tx.ID, rw.TxReceiptCumulativeGasUsed, t.cumulative)

	t.receipts = append(t.receipts, Receipt{
		TxID:              tx.ID,
		Invalid:           tx.Invalid,
		Status:            status,
		GasUsed:           charged,
		CumulativeGasUsed: t.cumulative,
		Logs:              t.logs,
	})
	if !t.dry {
		logger.Debug("tx traced", "id", tx.ID, "invalid", tx.Invalid, "status", status, "gas", charged)
	}
	return nil
}

// endBlock emits the closing step of the block.
func (t *tracer) endBlock(txs int) {
	s := &evm.StepState{State: evm.StateEndBlock, RWCounter: t.dict.Counter(), CallID: t.lastRoot}
	t.steps = append(t.steps, s)
	if s.RWCounter > 1 {
		t.dict.CallContextRead(t.lastRoot, rw.CallTxID, word(uint64(txs)))
		t.dict.TxReceiptRead(uint64(txs), rw.TxReceiptCumulativeGasUsed, t.cumulative)
	}
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
