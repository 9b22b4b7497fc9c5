package evm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/limb"
)

// gadget constrains one step of its execution state.
type gadget func(i *Instruction)

var gadgets [numStates]gadget

func init() {
	for s, g := range map[ExecutionState]gadget{
		StateBeginTx:          gadgetBeginTx,
		StateEndTx:            gadgetEndTx,
		StateEndBlock:         gadgetEndBlock,
		StateCopyToMemory:     gadgetCopyToMemory,
		StateCopyCodeToMemory: gadgetCopyToMemory,

		StateStop:       gadgetStop,
		StateAddSub:     gadgetAddSub,
		StateMulDivMod:  gadgetMulDivMod,
		StateSdivSmod:   gadgetSdivSmod,
		StateAddMod:     gadgetAddMod,
		StateMulMod:     gadgetMulMod,
		StateExp:        gadgetExp,
		StateSignextend: gadgetSignextend,
		StateCmp:        gadgetCmp,
		StateScmp:       gadgetScmp,
		StateIsZero:     gadgetIsZero,
		StateBitwise:    gadgetBitwise,
		StateNot:        gadgetNot,
		StateByte:       gadgetByte,
		StateShl:        gadgetShift,
		StateShr:        gadgetShift,
		StateSar:        gadgetShift,
		StateSha3:       gadgetSha3,

		StateAddress:        gadgetAddress,
		StateBalance:        gadgetBalance,
		StateOrigin:         gadgetOrigin,
		StateCaller:         gadgetCaller,
		StateCallValue:      gadgetCallValue,
		StateCallDataLoad:   gadgetCallDataLoad,
		StateCallDataSize:   gadgetCallDataSize,
		StateCallDataCopy:   gadgetCallDataCopy,
		StateCodeSize:       gadgetCodeSize,
		StateCodeCopy:       gadgetCodeCopy,
		StateGasPrice:       gadgetGasPrice,
		StateExtCodeSize:    gadgetExtCodeSize,
		StateExtCodeCopy:    gadgetExtCodeCopy,
		StateReturnDataSize: gadgetReturnDataSize,
		StateReturnDataCopy: gadgetReturnDataCopy,
		StateExtCodeHash:    gadgetExtCodeHash,
		StateBlockHash:      gadgetBlockHash,
		StateBlockCtx:       gadgetBlockCtx,
		StateSelfBalance:    gadgetSelfBalance,

		StatePop:      gadgetPop,
		StateMemory:   gadgetMemory,
		StateSload:    gadgetSload,
		StateSstore:   gadgetSstore,
		StateJump:     gadgetJump,
		StateJumpi:    gadgetJumpi,
		StatePC:       gadgetPC,
		StateMsize:    gadgetMsize,
		StateGas:      gadgetGas,
		StateJumpDest: gadgetJumpDest,
		StatePush:     gadgetPush,
		StateDup:      gadgetDup,
		StateSwap:     gadgetSwap,
		StateLog:      gadgetLog,

		StateCreate:       gadgetCreate,
		StateCallOp:       gadgetCallOp,
		StateReturnRevert: gadgetReturnRevert,

		StateErrorInvalidOpcode:            gadgetErrorInvalidOpcode,
		StateErrorStack:                    gadgetErrorStack,
		StateErrorWriteProtection:          gadgetErrorWriteProtection,
		StateErrorInvalidJump:              gadgetErrorInvalidJump,
		StateErrorReturnDataOutOfBound:     gadgetErrorReturnDataOutOfBound,
		StateErrorOutOfGasConstant:         gadgetErrorOutOfGas,
		StateErrorOutOfGasMemoryExpansion:  gadgetErrorOutOfGas,
		StateErrorOutOfGasMemoryCopy:       gadgetErrorOutOfGas,
		StateErrorOutOfGasSHA3:             gadgetErrorOutOfGas,
		StateErrorOutOfGasEXP:              gadgetErrorOutOfGas,
		StateErrorOutOfGasSloadSstore:      gadgetErrorOutOfGas,
		StateErrorOutOfGasLOG:              gadgetErrorOutOfGas,
		StateErrorOutOfGasCall:             gadgetErrorOutOfGas,
		StateErrorOutOfGasCreate:           gadgetErrorOutOfGas,
		StateErrorOutOfGasAccountAccess:    gadgetErrorOutOfGas,
		StateErrorOutOfGasCodeStore:        gadgetErrorCodeStore,
		StateErrorMaxCodeSizeExceeded:      gadgetErrorCodeStore,
		StateErrorInvalidCreationCode:      gadgetErrorCodeStore,
		StateErrorGasUintOverflow:          gadgetErrorGasUintOverflow,
		StateErrorInsufficientBalance:      gadgetLocalError,
		StateErrorDepth:                    gadgetLocalError,
		StateErrorContractAddressCollision: gadgetCreate,
	} {
		gadgets[s] = g
	}
	for s := StatePrecompileEcRecover; s <= StatePrecompileBlake2F; s++ {
		gadgets[s] = gadgetPrecompile
	}
}

// opcode looks up the opcode at the program counter and asserts that it
// belongs to the step's execution state.
func (i *Instruction) opcode() gethvm.OpCode {
	op := i.opcodeLookup()
	o, ok := OperationOf(op)
	i.cs.AssertTrue("opcode.state", ok && o.State == i.curr.State)
	return op
}

// constantGas returns the constant charge of op.
func constantGas(op gethvm.OpCode) field.FQ {
	if o, ok := OperationOf(op); ok {
		return fq(o.ConstantGas)
	}
	return field.Zero()
}

// sameContext constrains a step that stays in its frame: the program
// counter advances by one and gas drops by the constant charge of op plus
// extra.
func (i *Instruction) sameContext(op gethvm.OpCode, extra field.FQ) {
	i.constrain(i.sameContextTransition(op, extra))
}

func (i *Instruction) sameContextTransition(op gethvm.OpCode, extra field.FQ) StepTransition {
	t := sameContext(i.rwOffset, i.spOffset, constantGas(op).Add(extra))
	t.ReversibleWriteCounter = Delta(int64(i.reversibleWrites()))
	return t
}

func (i *Instruction) decompose(w field.Word) limb.Bytes {
	return limb.Decompose(i.cs, w)
}

func (i *Instruction) assertBytes(name string, got, want limb.Bytes) {
	i.cs.AssertWordEqual(name, got.Word(), want.Word())
}

// byteSize returns the number of significant bytes of b.
func (i *Instruction) byteSize(b limb.Bytes) field.FQ {
	n := 0
	for k := 31; k >= 0; k-- {
		if !b[k].IsZero() {
			n = k + 1
			break
		}
	}
	size := i.cs.Cell(fq(uint64(n)))
	for k := n; k < 32; k++ {
		i.cs.AssertZero("byte_size.zero", b[k])
	}
	if n > 0 {
		i.cs.AssertZero("byte_size.top", i.cs.IsZero(b[n-1]))
	}
	return size
}
