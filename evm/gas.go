package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

const (
	// MaxMemoryBits bounds memory offsets and sizes an opcode may take
	// without failing with ErrorGasUintOverflow.
	MaxMemoryBits = 40

	// CallDepthLimit is the deepest call a frame may make.
	CallDepthLimit = params.CallCreateDepth

	// StackLimit is the number of stack slots of a frame.
	StackLimit = 1024

	// ExpByteGas is the EXP charge per exponent byte.
	ExpByteGas = params.ExpByteEIP158

	// CodeDepositGas is the charge per byte of deployed code.
	CodeDepositGas = params.CreateDataGas
)

// MemoryWords rounds a byte size up to whole 32-byte words.
func MemoryWords(size uint64) uint64 {
	return (size + 31) / 32
}

// MemoryCost is the total charge for a memory of the given size in words.
func MemoryCost(words uint64) uint64 {
	return words*params.MemoryGas + words*words/params.QuadCoeffDiv
}

// MemoryExpansion returns the memory size in words after touching byte
// ranges ending at ends and the charge for the growth.
func MemoryExpansion(currWords uint64, ends ...uint64) (nextWords, cost uint64) {
	nextWords = currWords
	for _, end := range ends {
		nextWords = max(nextWords, MemoryWords(end))
	}
	return nextWords, MemoryCost(nextWords) - MemoryCost(currWords)
}

// CopyCost is the per-word charge of copying size bytes.
func CopyCost(size uint64) uint64 {
	return MemoryWords(size) * params.CopyGas
}

// Sha3Cost is the dynamic part of KECCAK256.
func Sha3Cost(size uint64) uint64 {
	return MemoryWords(size) * params.Keccak256WordGas
}

// LogCost is the dynamic part of LOGn.
func LogCost(topics, size uint64) uint64 {
	return topics*params.LogTopicGas + size*params.LogDataGas
}

// ExpCost is the total charge of EXP for the given exponent.
func ExpCost(exponent *uint256.Int) uint64 {
	return gethvm.GasSlowStep + ExpByteGas*uint64(exponent.ByteLen())
}

// AllButOne64th is the gas a frame may forward to a child.
func AllButOne64th(gas uint64) uint64 {
	return gas - gas/64
}

// CallGas returns the gas forwarded to a callee when available gas remains
// after charging the call and requested was asked for.
func CallGas(available uint64, requested *uint256.Int) uint64 {
	capped := AllButOne64th(available)
	if requested.IsUint64() && requested.Uint64() < capped {
		return requested.Uint64()
	}
	return capped
}

// AccessCost is the EIP-2929 charge of touching an account or slot.
func AccessCost(warm bool, cold uint64) uint64 {
	if warm {
		return params.WarmStorageReadCostEIP2929
	}
	return cold
}

// SstoreCost returns the charge of an SSTORE and the change it makes to the
// refund counter under EIP-2929 and EIP-3529.
func SstoreCost(original, current, value *uint256.Int, warm bool) (cost uint64, refund int64) {
	if !warm {
		cost = params.ColdSloadCostEIP2929
	}
	if current.Eq(value) {
		return cost + params.WarmStorageReadCostEIP2929, 0
	}
	clears := int64(params.SstoreClearsScheduleRefundEIP3529)
	if original.Eq(current) {
		if original.IsZero() {
			return cost + params.SstoreSetGasEIP2200, 0
		}
		if value.IsZero() {
			refund = clears
		}
		return cost + params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929, refund
	}
	if !original.IsZero() {
		if current.IsZero() {
			refund -= clears
		} else if value.IsZero() {
			refund += clears
		}
	}
	if original.Eq(value) {
		if original.IsZero() {
			refund += int64(params.SstoreSetGasEIP2200 - params.WarmStorageReadCostEIP2929)
		} else {
			refund += int64(params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929 - params.WarmStorageReadCostEIP2929)
		}
	}
	return cost + params.WarmStorageReadCostEIP2929, refund
}

// EffectiveRefund caps the refund counter at a fifth of the gas used.
func EffectiveRefund(gasUsed, refund uint64) uint64 {
	return min(refund, gasUsed/params.RefundQuotientEIP3529)
}
