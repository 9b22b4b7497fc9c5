package tables

import (
	"fmt"

	"github.com/eth2030/zkevm/field"
)

// CopyDataType names the source or destination of a copy.
type CopyDataType uint64

const (
	CopyMemory CopyDataType = iota + 1
	CopyBytecode
	CopyTxCalldata
	CopyTxLog
	CopyRlcAcc
	CopyPadding
)

func (t CopyDataType) String() string {
	switch t {
	case CopyMemory:
		return "Memory"
	case CopyBytecode:
		return "Bytecode"
	case CopyTxCalldata:
		return "TxCalldata"
	case CopyTxLog:
		return "TxLog"
	case CopyRlcAcc:
		return "RlcAcc"
	case CopyPadding:
		return "Padding"
	}
	return fmt.Sprintf("CopyDataType(%d)", uint64(t))
}

// CopyEvent is the request row an instruction sends to the copy circuit.
// Bytes at [SrcAddr, SrcAddrEnd) are copied, those past SrcAddrEnd are
// zero. The copy circuit's own memory and log accesses occupy the RW range
// [RWCounter, RWCounter+RWCInc).
type CopyEvent struct {
	SrcID      field.Word
	SrcType    CopyDataType
	DstID      field.Word
	DstType    CopyDataType
	SrcAddr    uint64
	SrcAddrEnd uint64
	DstAddr    uint64
	Length     uint64
	RLCAcc     field.FQ
	RWCounter  uint64
	RWCInc     uint64
	LogID      uint64
}

// RWAccesses returns the number of RW records a copy of this shape emits:
// one read per in-bounds source byte for a memory source and one write per
// byte for a memory or log destination.
func RWAccesses(srcType CopyDataType, srcAddr, srcAddrEnd uint64, dstType CopyDataType, length uint64) uint64 {
	var n uint64
	if srcType == CopyMemory && srcAddr < srcAddrEnd {
		n += min(length, srcAddrEnd-srcAddr)
	}
	if dstType == CopyMemory || dstType == CopyTxLog {
		n += length
	}
	return n
}

// CopyTable is the set of copy requests of a block.
type CopyTable struct {
	events []CopyEvent
	index  map[CopyEvent]struct{}
}

// NewCopyTable returns an empty table.
func NewCopyTable() *CopyTable {
	return &CopyTable{index: make(map[CopyEvent]struct{})}
}

// Add records ev.
func (t *CopyTable) Add(ev CopyEvent) {
	if _, ok := t.index[ev]; ok {
		return
	}
	t.index[ev] = struct{}{}
	t.events = append(t.events, ev)
}

// Contains reports whether ev was recorded.
func (t *CopyTable) Contains(ev CopyEvent) bool {
	_, ok := t.index[ev]
	return ok
}

// Events returns the recorded requests in insertion order.
func (t *CopyTable) Events() []CopyEvent { return t.events }

// Len returns the number of requests.
func (t *CopyTable) Len() int { return len(t.events) }
