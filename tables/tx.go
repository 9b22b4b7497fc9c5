package tables

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/field"
)

// TxContextFieldTag selects a field of the tx table.
type TxContextFieldTag uint64

const (
	TxNonce TxContextFieldTag = iota + 1
	TxGas
	TxGasPrice
	TxCallerAddress
	TxCalleeAddress
	TxIsCreate
	TxValue
	TxCallDataLength
	TxCallDataGasCost
	TxSignHash
	TxCallData
	TxAccessListAddressLen
	TxAccessListAddress
	TxAccessListStorageKeyLen
	TxAccessListStorageAddress
	TxAccessListStorageKey
	TxAccessListGasCost
	TxInvalid
)

// Tx is a transaction as the circuit sees it. IDs start at 1.
type Tx struct {
	ID         uint64
	Nonce      uint64
	Gas        uint64
	GasPrice   *uint256.Int
	Caller     common.Address
	Callee     *common.Address // nil for contract creation
	Value      *uint256.Int
	CallData   []byte
	AccessList types.AccessList

	// Invalid is the claimed validity flag; BeginTx recomputes it.
	Invalid bool
}

// IsCreate reports whether tx deploys a contract.
func (tx *Tx) IsCreate() bool { return tx.Callee == nil }

// CalleeAddress returns the callee, or the zero address for creations.
func (tx *Tx) CalleeAddress() common.Address {
	if tx.Callee == nil {
		return common.Address{}
	}
	return *tx.Callee
}

// CallDataGasCost returns the calldata part of the intrinsic gas.
func (tx *Tx) CallDataGasCost() uint64 {
	var cost uint64
	for _, b := range tx.CallData {
		if b == 0 {
			cost += params.TxDataZeroGas
		} else {
			cost += params.TxDataNonZeroGasEIP2028
		}
	}
	return cost
}

// StorageKeyCount returns the number of storage keys in the access list.
func (tx *Tx) StorageKeyCount() int {
	n := 0
	for _, tuple := range tx.AccessList {
		n += len(tuple.StorageKeys)
	}
	return n
}

// AccessListGasCost returns the EIP-2930 part of the intrinsic gas.
func (tx *Tx) AccessListGasCost() uint64 {
	return uint64(len(tx.AccessList))*params.TxAccessListAddressGas +
		uint64(tx.StorageKeyCount())*params.TxAccessListStorageKeyGas
}

// IntrinsicGas returns the gas charged before execution starts.
func (tx *Tx) IntrinsicGas() uint64 {
	base := params.TxGas
	if tx.IsCreate() {
		base = params.TxGasContractCreation
	}
	return base + tx.CallDataGasCost() + tx.AccessListGasCost()
}

// GasFee returns gas·gas_price.
func (tx *Tx) GasFee() *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(tx.Gas), tx.gasPrice())
}

func (tx *Tx) gasPrice() *uint256.Int {
	if tx.GasPrice == nil {
		return new(uint256.Int)
	}
	return tx.GasPrice
}

func (tx *Tx) value() *uint256.Int {
	if tx.Value == nil {
		return new(uint256.Int)
	}
	return tx.Value
}

// Transaction returns the go-ethereum form of tx: an access-list
// transaction when an access list is present and a legacy one otherwise.
func (tx *Tx) Transaction(chainID *big.Int) *types.Transaction {
	if len(tx.AccessList) > 0 {
		return types.NewTx(&types.AccessListTx{
			ChainID:    chainID,
			Nonce:      tx.Nonce,
			GasPrice:   tx.gasPrice().ToBig(),
			Gas:        tx.Gas,
			To:         tx.Callee,
			Value:      tx.value().ToBig(),
			Data:       tx.CallData,
			AccessList: tx.AccessList,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce,
		GasPrice: tx.gasPrice().ToBig(),
		Gas:      tx.Gas,
		To:       tx.Callee,
		Value:    tx.value().ToBig(),
		Data:     tx.CallData,
	})
}

// SignHash returns the hash the sender signs under chainID.
func (tx *Tx) SignHash(chainID *big.Int) common.Hash {
	return types.LatestSignerForChainID(chainID).Hash(tx.Transaction(chainID))
}

type txKey struct {
	id    uint64
	tag   TxContextFieldTag
	index uint64
}

// TxTable is the table of (tx_id, field_tag, index, value) rows.
type TxTable struct {
	txs  []*Tx
	rows map[txKey]field.Word
}

// NewTxTable builds the rows of txs. chainID enters the sign hash.
func NewTxTable(chainID *big.Int, txs []*Tx) *TxTable {
	t := &TxTable{txs: txs, rows: make(map[txKey]field.Word)}
	for _, tx := range txs {
		set := func(tag TxContextFieldTag, index uint64, v field.Word) {
			t.rows[txKey{id: tx.ID, tag: tag, index: index}] = v
		}
		set(TxNonce, 0, field.WordFromUint64(tx.Nonce))
		set(TxGas, 0, field.WordFromUint64(tx.Gas))
		set(TxGasPrice, 0, field.WordFromUint256(tx.gasPrice()))
		set(TxCallerAddress, 0, field.WordFromAddress(tx.Caller))
		set(TxCalleeAddress, 0, field.WordFromAddress(tx.CalleeAddress()))
		set(TxIsCreate, 0, field.WordFromBool(tx.IsCreate()))
		set(TxValue, 0, field.WordFromUint256(tx.value()))
		set(TxCallDataLength, 0, field.WordFromUint64(uint64(len(tx.CallData))))
		set(TxCallDataGasCost, 0, field.WordFromUint64(tx.CallDataGasCost()))
		set(TxSignHash, 0, field.WordFromHash(tx.SignHash(chainID)))
		for i, b := range tx.CallData {
			set(TxCallData, uint64(i), field.WordFromUint64(uint64(b)))
		}
		set(TxAccessListAddressLen, 0, field.WordFromUint64(uint64(len(tx.AccessList))))
		set(TxAccessListStorageKeyLen, 0, field.WordFromUint64(uint64(tx.StorageKeyCount())))
		k := uint64(0)
		for i, tuple := range tx.AccessList {
			set(TxAccessListAddress, uint64(i), field.WordFromAddress(tuple.Address))
			for _, key := range tuple.StorageKeys {
				set(TxAccessListStorageAddress, k, field.WordFromAddress(tuple.Address))
				set(TxAccessListStorageKey, k, field.WordFromHash(key))
				k++
			}
		}
		set(TxAccessListGasCost, 0, field.WordFromUint64(tx.AccessListGasCost()))
		set(TxInvalid, 0, field.WordFromBool(tx.Invalid))
	}
	return t
}

// Txs returns the transactions in id order.
func (t *TxTable) Txs() []*Tx { return t.txs }

// Len returns the number of rows.
func (t *TxTable) Len() int { return len(t.rows) }

// Lookup returns the value at (tx_id, tag, index).
func (t *TxTable) Lookup(txID field.FQ, tag TxContextFieldTag, index field.FQ) (field.Word, bool) {
	id, ok := txID.Uint64()
	if !ok {
		return field.Word{}, false
	}
	i, ok := index.Uint64()
	if !ok {
		return field.Word{}, false
	}
	v, ok := t.rows[txKey{id: id, tag: tag, index: i}]
	return v, ok
}
