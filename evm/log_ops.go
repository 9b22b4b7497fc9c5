package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// gadgetLog emits a log only from a frame that persists. The memory range
// is charged either way.
func gadgetLog(i *Instruction) {
	op := i.opcode()
	i.cs.AssertZero("log.is_static", i.callContextFQ(rw.CallIsStatic))
	txID := i.callContextFQ(rw.CallTxID)
	addr := i.callContextAddress(rw.CallCalleeAddress)
	persistent := i.callContextFQ(rw.CallIsPersistent)
	i.cs.AssertBool("log.is_persistent", persistent)

	m := i.memoryRange(i.stackPop(), i.stackPop())
	i.requireInRange(m)
	words, cost := i.memoryExpansion(m)

	topics := int(op - gethvm.LOG0)
	logID := i.curr.LogID + 1
	var ws []field.Word
	for k := 0; k < topics; k++ {
		ws = append(ws, i.stackPop())
	}
	if persistent.IsOne() {
		got := i.txLogWrite(txID, fq(logID), rw.TxLogAddress, 0)
		i.cs.AssertWordEqual("log.address", got, addressWord(addr))
		for k, w := range ws {
			i.cs.AssertWordEqual("log.topic", i.txLogWrite(txID, fq(logID), rw.TxLogTopic, uint64(k)), w)
		}
		i.copyLookup(tables.CopyEvent{
			SrcID:      word(i.curr.CallID),
			SrcType:    tables.CopyMemory,
			SrcAddr:    i.u64("log.offset", m.offset),
			SrcAddrEnd: i.u64("log.end", m.end()),
			DstID:      field.WordFromFQ(txID),
			DstType:    tables.CopyTxLog,
			Length:     i.u64("log.size", m.length),
			LogID:      logID,
		})
	}

	extra := cost.Add(fq(uint64(topics) * params.LogTopicGas)).Add(m.length.MulUint64(params.LogDataGas))
	t := i.sameContextTransition(op, extra)
	t.MemoryWordSize = ToFQ(words)
	t.LogID = DeltaFQ(persistent)
	i.constrain(t)
}
