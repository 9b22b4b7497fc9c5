package evm

import (
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
)

func gadgetSload(i *Instruction) {
	op := i.opcode()
	txID := i.callContextFQ(rw.CallTxID)
	rev := i.frameReversionRead()
	addr := i.callContextAddress(rw.CallCalleeAddress)
	key := i.stackPop()
	value, _ := i.storageRead(txID, addr, key)
	wasWarm := i.accessListStorageWrite(txID, addr, key, rev)
	i.stackPushValue(value)
	i.sameContext(op, i.accessCost(wasWarm, params.ColdSloadCostEIP2929))
}

func gadgetSstore(i *Instruction) {
	op := i.opcode()
	i.cs.AssertZero("sstore.is_static", i.callContextFQ(rw.CallIsStatic))
	txID := i.callContextFQ(rw.CallTxID)
	rev := i.frameReversionRead()
	addr := i.callContextAddress(rw.CallCalleeAddress)
	key := i.stackPop()
	value := i.stackPop()

	stored, current, committed := i.storageWrite(txID, addr, key, rev)
	i.cs.AssertWordEqual("sstore.value", stored, value)
	wasWarm := i.accessListStorageWrite(txID, addr, key, rev)
	refund, refundPrev := i.txRefundWrite(txID, rev)

	// EIP-2200 sentry: more than the stipend must be left
	i.cs.AssertEqual("sstore.sentry", i.lessThan(fq(params.SstoreSentryGasEIP2200), fq(i.curr.GasLeft), 8), field.One())
	cost, delta := i.sstoreCost(committed, current, value, wasWarm)
	i.cs.AssertEqual("sstore.refund", refund, refundPrev.Add(delta))
	i.sameContext(op, cost)
}
