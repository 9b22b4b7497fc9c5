package evm

import (
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
)

const memoryBytes = MaxMemoryBits / 8

// memoryRange is a (offset, size) operand pair. A zero size touches no
// memory, whatever the offset.
type memoryRange struct {
	offset  field.FQ
	length  field.FQ
	inRange field.FQ
}

func (m memoryRange) end() field.FQ { return m.offset.Add(m.length) }

// memoryRange constrains an operand pair. inRange is 1 when the pair can be
// serviced: size is zero or both values fit in MaxMemoryBits.
func (i *Instruction) memoryRange(offset, size field.Word) memoryRange {
	empty := i.isZeroWord(size)
	offSmall, off := i.wordIsSmall(offset, memoryBytes)
	sizeSmall, n := i.wordIsSmall(size, memoryBytes)
	return memoryRange{
		offset:  i.cs.Select(empty, field.Zero(), off),
		length:  i.cs.Select(empty, field.Zero(), n),
		inRange: circuit.Or(empty, circuit.And(offSmall, sizeSmall)),
	}
}

// memoryRangeFixed is a range of a fixed size, for MLOAD and friends.
func (i *Instruction) memoryRangeFixed(offset field.Word, size uint64) memoryRange {
	small, off := i.wordIsSmall(offset, memoryBytes)
	return memoryRange{offset: off, length: fq(size), inRange: small}
}

// requireInRange asserts every range can be serviced.
func (i *Instruction) requireInRange(ranges ...memoryRange) {
	for _, m := range ranges {
		i.cs.AssertEqual("memory.in_range", m.inRange, field.One())
	}
}

// memoryWords returns ceil(v / 32).
func (i *Instruction) memoryWords(v field.FQ) field.FQ {
	q, _ := i.divSmall(v.AddUint64(31), 32, memoryBytes+2)
	return q
}

// memoryCost is 3·w + floor(w² / 512).
func (i *Instruction) memoryCost(words field.FQ) field.FQ {
	quad, _ := i.divSmall(words.Mul(words), params.QuadCoeffDiv, 2*memoryBytes)
	return words.MulUint64(params.MemoryGas).Add(quad)
}

// memoryExpansion returns the memory size in words after touching the
// ranges and the charge for the growth.
func (i *Instruction) memoryExpansion(ranges ...memoryRange) (nextWords, cost field.FQ) {
	curr := fq(i.curr.MemoryWordSize)
	nextWords = curr
	for _, m := range ranges {
		nextWords = i.maxSmall(nextWords, i.memoryWords(m.end()), memoryBytes+1)
	}
	return nextWords, i.memoryCost(nextWords).Sub(i.memoryCost(curr))
}

// wordCost is the per-word charge for size bytes.
func (i *Instruction) wordCost(size field.FQ, perWord uint64) field.FQ {
	return i.memoryWords(size).MulUint64(perWord)
}

// accessCost selects the warm or cold charge.
func (i *Instruction) accessCost(wasWarm field.FQ, cold uint64) field.FQ {
	return i.cs.Select(wasWarm, fq(params.WarmStorageReadCostEIP2929), fq(cold))
}

// sstoreCost is the circuit form of SstoreCost. The refund delta is
// returned as a field element and may be negative.
func (i *Instruction) sstoreCost(original, current, value field.Word, wasWarm field.FQ) (cost, refund field.FQ) {
	warm := fq(params.WarmStorageReadCostEIP2929)
	clears := fq(params.SstoreClearsScheduleRefundEIP3529)
	cold := i.cs.Select(wasWarm, field.Zero(), fq(params.ColdSloadCostEIP2929))

	noop := i.isEqualWord(current, value)
	clean := i.isEqualWord(original, current)
	restored := i.isEqualWord(original, value)
	origZero := i.isZeroWord(original)
	currZero := i.isZeroWord(current)
	valueZero := i.isZeroWord(value)

	reset := fq(params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929)
	cleanCost := i.cs.Select(origZero, fq(params.SstoreSetGasEIP2200), reset)
	cost = cold.Add(i.cs.Select(noop, warm, i.cs.Select(clean, cleanCost, warm)))

	// clean slot: refund only when clearing a non-zero original
	cleanRefund := circuit.And(circuit.Not(origZero), valueZero).Mul(clears)

	// dirty slot
	dirtyRefund := circuit.And(circuit.Not(origZero), currZero).Mul(clears.Neg()).
		Add(circuit.And(circuit.Not(origZero), circuit.And(circuit.Not(currZero), valueZero)).Mul(clears))
	restoreRefund := i.cs.Select(origZero,
		fq(params.SstoreSetGasEIP2200-params.WarmStorageReadCostEIP2929),
		fq(params.SstoreResetGasEIP2200-params.ColdSloadCostEIP2929-params.WarmStorageReadCostEIP2929))
	dirtyRefund = dirtyRefund.Add(restored.Mul(restoreRefund))

	refund = i.cs.Select(noop, field.Zero(), i.cs.Select(clean, cleanRefund, dirtyRefund))
	return cost, refund
}
