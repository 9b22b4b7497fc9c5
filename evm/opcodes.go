package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// MemoryArg names the stack slots of one (offset, size) memory range an
// opcode touches. Size is -1 when the range has the fixed length FixedSize.
type MemoryArg struct {
	Offset    int
	Size      int
	FixedSize uint64
}

// Operation describes how an opcode is constrained.
type Operation struct {
	State       ExecutionState
	ConstantGas uint64
	// Pops and Pushes bound the stack: the opcode needs Pops items and
	// leaves Pops-Pushes fewer.
	Pops, Pushes int
	// Writes marks opcodes rejected in a static frame.
	Writes bool
	// OutOfGas is the error state raised when gas does not cover the cost.
	OutOfGas ExecutionState
	// Memory lists the ranges that expand memory.
	Memory []MemoryArg
}

// JumpTable maps every opcode byte to its operation. Unassigned bytes are
// invalid opcodes.
type JumpTable [256]*Operation

var londonTable = newLondonTable()

// OperationOf returns the operation of op, or false for an invalid opcode.
func OperationOf(op gethvm.OpCode) (*Operation, bool) {
	o := londonTable[op]
	return o, o != nil
}

func fixed(offset int, size uint64) MemoryArg {
	return MemoryArg{Offset: offset, Size: -1, FixedSize: size}
}

func ranged(offset, size int) MemoryArg { return MemoryArg{Offset: offset, Size: size} }

func simple(state ExecutionState, gas uint64, pops, pushes int) *Operation {
	return &Operation{State: state, ConstantGas: gas, Pops: pops, Pushes: pushes, OutOfGas: StateErrorOutOfGasConstant}
}

func newLondonTable() JumpTable {
	var tbl JumpTable
	const (
		quick   = gethvm.GasQuickStep
		fastest = gethvm.GasFastestStep
		fast    = gethvm.GasFastStep
		mid     = gethvm.GasMidStep
		slow    = gethvm.GasSlowStep
		ext     = gethvm.GasExtStep
		warm    = params.WarmStorageReadCostEIP2929
	)

	tbl[gethvm.STOP] = simple(StateStop, 0, 0, 0)
	tbl[gethvm.ADD] = simple(StateAddSub, fastest, 2, 1)
	tbl[gethvm.SUB] = simple(StateAddSub, fastest, 2, 1)
	tbl[gethvm.MUL] = simple(StateMulDivMod, fast, 2, 1)
	tbl[gethvm.DIV] = simple(StateMulDivMod, fast, 2, 1)
	tbl[gethvm.MOD] = simple(StateMulDivMod, fast, 2, 1)
	tbl[gethvm.SDIV] = simple(StateSdivSmod, fast, 2, 1)
	tbl[gethvm.SMOD] = simple(StateSdivSmod, fast, 2, 1)
	tbl[gethvm.ADDMOD] = simple(StateAddMod, mid, 3, 1)
	tbl[gethvm.MULMOD] = simple(StateMulMod, mid, 3, 1)
	tbl[gethvm.EXP] = &Operation{State: StateExp, ConstantGas: slow, Pops: 2, Pushes: 1, OutOfGas: StateErrorOutOfGasEXP}
	tbl[gethvm.SIGNEXTEND] = simple(StateSignextend, fast, 2, 1)

	for _, op := range []gethvm.OpCode{gethvm.LT, gethvm.GT, gethvm.EQ} {
		tbl[op] = simple(StateCmp, fastest, 2, 1)
	}
	tbl[gethvm.SLT] = simple(StateScmp, fastest, 2, 1)
	tbl[gethvm.SGT] = simple(StateScmp, fastest, 2, 1)
	tbl[gethvm.ISZERO] = simple(StateIsZero, fastest, 1, 1)
	for _, op := range []gethvm.OpCode{gethvm.AND, gethvm.OR, gethvm.XOR} {
		tbl[op] = simple(StateBitwise, fastest, 2, 1)
	}
	tbl[gethvm.NOT] = simple(StateNot, fastest, 1, 1)
	tbl[gethvm.BYTE] = simple(StateByte, fastest, 2, 1)
	tbl[gethvm.SHL] = simple(StateShl, fastest, 2, 1)
	tbl[gethvm.SHR] = simple(StateShr, fastest, 2, 1)
	tbl[gethvm.SAR] = simple(StateSar, fastest, 2, 1)

	tbl[gethvm.KECCAK256] = &Operation{State: StateSha3, ConstantGas: params.Keccak256Gas, Pops: 2, Pushes: 1,
		OutOfGas: StateErrorOutOfGasSHA3, Memory: []MemoryArg{ranged(0, 1)}}

	tbl[gethvm.ADDRESS] = simple(StateAddress, quick, 0, 1)
	tbl[gethvm.BALANCE] = &Operation{State: StateBalance, ConstantGas: warm, Pops: 1, Pushes: 1, OutOfGas: StateErrorOutOfGasAccountAccess}
	tbl[gethvm.ORIGIN] = simple(StateOrigin, quick, 0, 1)
	tbl[gethvm.CALLER] = simple(StateCaller, quick, 0, 1)
	tbl[gethvm.CALLVALUE] = simple(StateCallValue, quick, 0, 1)
	tbl[gethvm.CALLDATALOAD] = simple(StateCallDataLoad, fastest, 1, 1)
	tbl[gethvm.CALLDATASIZE] = simple(StateCallDataSize, quick, 0, 1)
	tbl[gethvm.CALLDATACOPY] = &Operation{State: StateCallDataCopy, ConstantGas: fastest, Pops: 3,
		OutOfGas: StateErrorOutOfGasMemoryCopy, Memory: []MemoryArg{ranged(0, 2)}}
	tbl[gethvm.CODESIZE] = simple(StateCodeSize, quick, 0, 1)
	tbl[gethvm.CODECOPY] = &Operation{State: StateCodeCopy, ConstantGas: fastest, Pops: 3,
		OutOfGas: StateErrorOutOfGasMemoryCopy, Memory: []MemoryArg{ranged(0, 2)}}
	tbl[gethvm.GASPRICE] = simple(StateGasPrice, quick, 0, 1)
	tbl[gethvm.EXTCODESIZE] = &Operation{State: StateExtCodeSize, ConstantGas: warm, Pops: 1, Pushes: 1, OutOfGas: StateErrorOutOfGasAccountAccess}
	tbl[gethvm.EXTCODECOPY] = &Operation{State: StateExtCodeCopy, ConstantGas: warm, Pops: 4,
		OutOfGas: StateErrorOutOfGasMemoryCopy, Memory: []MemoryArg{ranged(1, 3)}}
	tbl[gethvm.RETURNDATASIZE] = simple(StateReturnDataSize, quick, 0, 1)
	tbl[gethvm.RETURNDATACOPY] = &Operation{State: StateReturnDataCopy, ConstantGas: fastest, Pops: 3,
		OutOfGas: StateErrorOutOfGasMemoryCopy, Memory: []MemoryArg{ranged(0, 2)}}
	tbl[gethvm.EXTCODEHASH] = &Operation{State: StateExtCodeHash, ConstantGas: warm, Pops: 1, Pushes: 1, OutOfGas: StateErrorOutOfGasAccountAccess}

	tbl[gethvm.BLOCKHASH] = simple(StateBlockHash, ext, 1, 1)
	for _, op := range []gethvm.OpCode{gethvm.COINBASE, gethvm.TIMESTAMP, gethvm.NUMBER, gethvm.DIFFICULTY,
		gethvm.GASLIMIT, gethvm.CHAINID, gethvm.BASEFEE} {
		tbl[op] = simple(StateBlockCtx, quick, 0, 1)
	}
	tbl[gethvm.SELFBALANCE] = simple(StateSelfBalance, fast, 0, 1)

	tbl[gethvm.POP] = simple(StatePop, quick, 1, 0)
	tbl[gethvm.MLOAD] = &Operation{State: StateMemory, ConstantGas: fastest, Pops: 1, Pushes: 1,
		OutOfGas: StateErrorOutOfGasMemoryExpansion, Memory: []MemoryArg{fixed(0, 32)}}
	tbl[gethvm.MSTORE] = &Operation{State: StateMemory, ConstantGas: fastest, Pops: 2,
		OutOfGas: StateErrorOutOfGasMemoryExpansion, Memory: []MemoryArg{fixed(0, 32)}}
	tbl[gethvm.MSTORE8] = &Operation{State: StateMemory, ConstantGas: fastest, Pops: 2,
		OutOfGas: StateErrorOutOfGasMemoryExpansion, Memory: []MemoryArg{fixed(0, 1)}}
	tbl[gethvm.SLOAD] = &Operation{State: StateSload, Pops: 1, Pushes: 1, OutOfGas: StateErrorOutOfGasSloadSstore}
	tbl[gethvm.SSTORE] = &Operation{State: StateSstore, Pops: 2, Writes: true, OutOfGas: StateErrorOutOfGasSloadSstore}
	tbl[gethvm.JUMP] = simple(StateJump, mid, 1, 0)
	tbl[gethvm.JUMPI] = simple(StateJumpi, slow, 2, 0)
	tbl[gethvm.PC] = simple(StatePC, quick, 0, 1)
	tbl[gethvm.MSIZE] = simple(StateMsize, quick, 0, 1)
	tbl[gethvm.GAS] = simple(StateGas, quick, 0, 1)
	tbl[gethvm.JUMPDEST] = simple(StateJumpDest, params.JumpdestGas, 0, 0)

	for n := 0; n < 32; n++ {
		tbl[gethvm.PUSH1+gethvm.OpCode(n)] = simple(StatePush, fastest, 0, 1)
	}
	for n := 1; n <= 16; n++ {
		tbl[gethvm.DUP1+gethvm.OpCode(n-1)] = simple(StateDup, fastest, n, n+1)
		tbl[gethvm.SWAP1+gethvm.OpCode(n-1)] = simple(StateSwap, fastest, n+1, n+1)
	}
	for n := 0; n <= 4; n++ {
		tbl[gethvm.LOG0+gethvm.OpCode(n)] = &Operation{State: StateLog, ConstantGas: params.LogGas, Pops: 2 + n,
			Writes: true, OutOfGas: StateErrorOutOfGasLOG, Memory: []MemoryArg{ranged(0, 1)}}
	}

	tbl[gethvm.CREATE] = &Operation{State: StateCreate, ConstantGas: params.CreateGas, Pops: 3, Pushes: 1,
		Writes: true, OutOfGas: StateErrorOutOfGasCreate, Memory: []MemoryArg{ranged(1, 2)}}
	tbl[gethvm.CREATE2] = &Operation{State: StateCreate, ConstantGas: params.Create2Gas, Pops: 4, Pushes: 1,
		Writes: true, OutOfGas: StateErrorOutOfGasCreate, Memory: []MemoryArg{ranged(1, 2)}}
	tbl[gethvm.CALL] = &Operation{State: StateCallOp, ConstantGas: warm, Pops: 7, Pushes: 1,
		OutOfGas: StateErrorOutOfGasCall, Memory: []MemoryArg{ranged(3, 4), ranged(5, 6)}}
	tbl[gethvm.CALLCODE] = &Operation{State: StateCallOp, ConstantGas: warm, Pops: 7, Pushes: 1,
		OutOfGas: StateErrorOutOfGasCall, Memory: []MemoryArg{ranged(3, 4), ranged(5, 6)}}
	tbl[gethvm.DELEGATECALL] = &Operation{State: StateCallOp, ConstantGas: warm, Pops: 6, Pushes: 1,
		OutOfGas: StateErrorOutOfGasCall, Memory: []MemoryArg{ranged(2, 3), ranged(4, 5)}}
	tbl[gethvm.STATICCALL] = &Operation{State: StateCallOp, ConstantGas: warm, Pops: 6, Pushes: 1,
		OutOfGas: StateErrorOutOfGasCall, Memory: []MemoryArg{ranged(2, 3), ranged(4, 5)}}
	tbl[gethvm.RETURN] = &Operation{State: StateReturnRevert, Pops: 2,
		OutOfGas: StateErrorOutOfGasMemoryExpansion, Memory: []MemoryArg{ranged(0, 1)}}
	tbl[gethvm.REVERT] = &Operation{State: StateReturnRevert, Pops: 2,
		OutOfGas: StateErrorOutOfGasMemoryExpansion, Memory: []MemoryArg{ranged(0, 1)}}
	return tbl
}

// IsPush reports whether op is PUSH1..PUSH32 and returns the immediate size.
func IsPush(op gethvm.OpCode) (int, bool) {
	if op >= gethvm.PUSH1 && op <= gethvm.PUSH32 {
		return int(op-gethvm.PUSH1) + 1, true
	}
	return 0, false
}
