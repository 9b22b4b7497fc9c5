// Package rw defines the read/write bus that links execution steps to the
// state they touch, a builder that lays records out with their reversion
// twins, and the consistency check the state circuit enforces on it.
package rw

import (
	"bytes"
	"fmt"

	"github.com/eth2030/zkevm/field"
)

// Tag selects the subspace of a record.
type Tag uint64

const (
	TagStart Tag = iota + 1
	TagStack
	TagMemory
	TagStorage
	TagCallContext
	TagTxRefund
	TagTxAccessListAccount
	TagTxAccessListAccountStorage
	TagAccount
	TagTxLog
	TagTxReceipt
)

var tagNames = map[Tag]string{
	TagStart:                      "Start",
	TagStack:                      "Stack",
	TagMemory:                     "Memory",
	TagStorage:                    "Storage",
	TagCallContext:                "CallContext",
	TagTxRefund:                   "TxRefund",
	TagTxAccessListAccount:        "TxAccessListAccount",
	TagTxAccessListAccountStorage: "TxAccessListAccountStorage",
	TagAccount:                    "Account",
	TagTxLog:                      "TxLog",
	TagTxReceipt:                  "TxReceipt",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", uint64(t))
}

// CallContextFieldTag selects a field of a call frame context.
type CallContextFieldTag uint64

const (
	CallTxID CallContextFieldTag = iota + 1
	CallCallerID
	CallCalleeAddress
	CallIsRoot
	CallIsCreate
	CallIsStatic
	CallIsPersistent
	CallIsSuccess
	CallRwCounterEndOfReversion
	CallDepth
	CallCallerAddress
	CallCallDataOffset
	CallCallDataLength
	CallReturnDataOffset
	CallReturnDataLength
	CallValue
	CallCodeHash
	CallProgramCounter
	CallStackPointer
	CallGasLeft
	CallMemorySize
	CallReversibleWriteCounter
	CallLastCalleeID
	CallLastCalleeReturnDataOffset
	CallLastCalleeReturnDataLength
)

var callContextNames = [...]string{
	"", "TxId", "CallerId", "CalleeAddress", "IsRoot", "IsCreate", "IsStatic",
	"IsPersistent", "IsSuccess", "RwCounterEndOfReversion", "Depth",
	"CallerAddress", "CallDataOffset", "CallDataLength", "ReturnDataOffset",
	"ReturnDataLength", "Value", "CodeHash", "ProgramCounter", "StackPointer",
	"GasLeft", "MemorySize", "ReversibleWriteCounter", "LastCalleeId",
	"LastCalleeReturnDataOffset", "LastCalleeReturnDataLength",
}

func (f CallContextFieldTag) String() string {
	if f > 0 && int(f) < len(callContextNames) {
		return callContextNames[f]
	}
	return fmt.Sprintf("CallContextFieldTag(%d)", uint64(f))
}

// AccountFieldTag selects an account field.
type AccountFieldTag uint64

const (
	AccountNonce AccountFieldTag = iota + 1
	AccountBalance
	AccountCodeHash
	AccountNonExisting
)

// TxLogFieldTag selects the part of a log a TxLog record carries.
type TxLogFieldTag uint64

const (
	TxLogAddress TxLogFieldTag = iota + 1
	TxLogTopic
	TxLogData
)

// TxReceiptFieldTag selects a receipt field.
type TxReceiptFieldTag uint64

const (
	TxReceiptPostStateOrStatus TxReceiptFieldTag = iota + 1
	TxReceiptCumulativeGasUsed
	TxReceiptLogLength
)

// Record is one entry of the bus. Key layout by tag:
//
//	Stack        Key1 call_id, Key3 stack pointer
//	Memory       Key1 call_id, Key3 address
//	Storage      Key1 address, Key4 slot, Aux0 tx_id, Aux1 committed value
//	CallContext  Key1 call_id, Key2 field tag
//	Account      Key1 address, Key2 field tag
//	TxAccessList Key1 tx_id, Key2 address, Key4 slot (storage variant)
//	TxRefund     Key1 tx_id
//	TxLog        Key1 tx_id, Key2 log_id, Key3 field tag, Key4 index
//	TxReceipt    Key1 tx_id, Key2 field tag
type Record struct {
	RWCounter uint64
	IsWrite   bool
	Tag       Tag
	Key1      field.FQ
	Key2      field.FQ
	Key3      field.FQ
	Key4      field.Word
	Value     field.Word
	ValuePrev field.Word
	Aux0      field.FQ
	Aux1      field.Word
}

// Key identifies the state cell a record touches.
type Key struct {
	Tag              Tag
	Key1, Key2, Key3 field.FQ
	Key4             field.Word
}

// Key returns the cell the record touches.
func (r Record) Key() Key {
	return Key{Tag: r.Tag, Key1: r.Key1, Key2: r.Key2, Key3: r.Key3, Key4: r.Key4}
}

// Twin returns the write that undoes r, placed at counter.
func (r Record) Twin(counter uint64) Record {
	t := r
	t.RWCounter = counter
	t.IsWrite = true
	t.Value, t.ValuePrev = r.ValuePrev, r.Value
	return t
}

func (r Record) String() string {
	op := "R"
	if r.IsWrite {
		op = "W"
	}
	return fmt.Sprintf("#%d %s %s [%s %s %s %s] %s (prev %s)",
		r.RWCounter, op, r.Tag, r.Key1, r.Key2, r.Key3, r.Key4, r.Value, r.ValuePrev)
}

func compareFQ(a, b field.FQ) int {
	ab, bb := a.Bytes(), b.Bytes()
	return bytes.Compare(ab[:], bb[:])
}

func compareWord(a, b field.Word) int {
	if c := compareFQ(a.Hi, b.Hi); c != 0 {
		return c
	}
	return compareFQ(a.Lo, b.Lo)
}

// Compare orders keys by tag, then key1 through key4.
func (k Key) Compare(o Key) int {
	switch {
	case k.Tag < o.Tag:
		return -1
	case k.Tag > o.Tag:
		return 1
	}
	if c := compareFQ(k.Key1, o.Key1); c != 0 {
		return c
	}
	if c := compareFQ(k.Key2, o.Key2); c != 0 {
		return c
	}
	if c := compareFQ(k.Key3, o.Key3); c != 0 {
		return c
	}
	return compareWord(k.Key4, o.Key4)
}
