package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutionState tags the gadget that constrains a step.
type ExecutionState uint8

const (
	StateInvalid ExecutionState = iota

	// Internal states.
	StateBeginTx
	StateEndTx
	StateEndBlock
	StateCopyToMemory
	StateCopyCodeToMemory

	// Opcode states.
	StateStop
	StateAddSub
	StateMulDivMod
	StateSdivSmod
	StateAddMod
	StateMulMod
	StateExp
	StateSignextend
	StateCmp
	StateScmp
	StateIsZero
	StateBitwise
	StateNot
	StateByte
	StateShl
	StateShr
	StateSar
	StateSha3
	StateAddress
	StateBalance
	StateOrigin
	StateCaller
	StateCallValue
	StateCallDataLoad
	StateCallDataSize
	StateCallDataCopy
	StateCodeSize
	StateCodeCopy
	StateGasPrice
	StateExtCodeSize
	StateExtCodeCopy
	StateReturnDataSize
	StateReturnDataCopy
	StateExtCodeHash
	StateBlockHash
	StateBlockCtx
	StateSelfBalance
	StatePop
	StateMemory
	StateSload
	StateSstore
	StateJump
	StateJumpi
	StatePC
	StateMsize
	StateGas
	StateJumpDest
	StatePush
	StateDup
	StateSwap
	StateLog
	StateCreate
	StateCallOp
	StateReturnRevert

	// Precompile states, in address order.
	StatePrecompileEcRecover
	StatePrecompileSha256
	StatePrecompileRipemd160
	StatePrecompileIdentity
	StatePrecompileModExp
	StatePrecompileBn254Add
	StatePrecompileBn254ScalarMul
	StatePrecompileBn254Pairing
	StatePrecompileBlake2F

	// Error states.
	StateErrorInvalidOpcode
	StateErrorStack
	StateErrorWriteProtection
	StateErrorInvalidJump
	StateErrorReturnDataOutOfBound
	StateErrorOutOfGasConstant
	StateErrorOutOfGasMemoryExpansion
	StateErrorOutOfGasMemoryCopy
	StateErrorOutOfGasSHA3
	StateErrorOutOfGasEXP
	StateErrorOutOfGasSloadSstore
	StateErrorOutOfGasLOG
	StateErrorOutOfGasCall
	StateErrorOutOfGasCreate
	StateErrorOutOfGasAccountAccess
	StateErrorOutOfGasCodeStore
	StateErrorMaxCodeSizeExceeded
	StateErrorInvalidCreationCode
	StateErrorGasUintOverflow
	StateErrorInsufficientBalance
	StateErrorDepth
	StateErrorContractAddressCollision

	numStates
)

var stateNames = [numStates]string{
	StateInvalid:                       "Invalid",
	StateBeginTx:                       "BeginTx",
	StateEndTx:                         "EndTx",
	StateEndBlock:                      "EndBlock",
	StateCopyToMemory:                  "CopyToMemory",
	StateCopyCodeToMemory:              "CopyCodeToMemory",
	StateStop:                          "STOP",
	StateAddSub:                        "ADD_SUB",
	StateMulDivMod:                     "MUL_DIV_MOD",
	StateSdivSmod:                      "SDIV_SMOD",
	StateAddMod:                        "ADDMOD",
	StateMulMod:                        "MULMOD",
	StateExp:                           "EXP",
	StateSignextend:                    "SIGNEXTEND",
	StateCmp:                           "CMP",
	StateScmp:                          "SCMP",
	StateIsZero:                        "ISZERO",
	StateBitwise:                       "BITWISE",
	StateNot:                           "NOT",
	StateByte:                          "BYTE",
	StateShl:                           "SHL",
	StateShr:                           "SHR",
	StateSar:                           "SAR",
	StateSha3:                          "SHA3",
	StateAddress:                       "ADDRESS",
	StateBalance:                       "BALANCE",
	StateOrigin:                        "ORIGIN",
	StateCaller:                        "CALLER",
	StateCallValue:                     "CALLVALUE",
	StateCallDataLoad:                  "CALLDATALOAD",
	StateCallDataSize:                  "CALLDATASIZE",
	StateCallDataCopy:                  "CALLDATACOPY",
	StateCodeSize:                      "CODESIZE",
	StateCodeCopy:                      "CODECOPY",
	StateGasPrice:                      "GASPRICE",
	StateExtCodeSize:                   "EXTCODESIZE",
	StateExtCodeCopy:                   "EXTCODECOPY",
	StateReturnDataSize:                "RETURNDATASIZE",
	StateReturnDataCopy:                "RETURNDATACOPY",
	StateExtCodeHash:                   "EXTCODEHASH",
	StateBlockHash:                     "BLOCKHASH",
	StateBlockCtx:                      "BLOCKCTX",
	StateSelfBalance:                   "SELFBALANCE",
	StatePop:                           "POP",
	StateMemory:                        "MEMORY",
	StateSload:                         "SLOAD",
	StateSstore:                        "SSTORE",
	StateJump:                          "JUMP",
	StateJumpi:                         "JUMPI",
	StatePC:                            "PC",
	StateMsize:                         "MSIZE",
	StateGas:                           "GAS",
	StateJumpDest:                      "JUMPDEST",
	StatePush:                          "PUSH",
	StateDup:                           "DUP",
	StateSwap:                          "SWAP",
	StateLog:                           "LOG",
	StateCreate:                        "CREATE",
	StateCallOp:                        "CALL_OP",
	StateReturnRevert:                  "RETURN_REVERT",
	StatePrecompileEcRecover:           "PrecompileEcRecover",
	StatePrecompileSha256:              "PrecompileSha256",
	StatePrecompileRipemd160:           "PrecompileRipemd160",
	StatePrecompileIdentity:            "PrecompileIdentity",
	StatePrecompileModExp:              "PrecompileModExp",
	StatePrecompileBn254Add:            "PrecompileBn254Add",
	StatePrecompileBn254ScalarMul:      "PrecompileBn254ScalarMul",
	StatePrecompileBn254Pairing:        "PrecompileBn254Pairing",
	StatePrecompileBlake2F:             "PrecompileBlake2F",
	StateErrorInvalidOpcode:            "ErrorInvalidOpcode",
	StateErrorStack:                    "ErrorStack",
	StateErrorWriteProtection:          "ErrorWriteProtection",
	StateErrorInvalidJump:              "ErrorInvalidJump",
	StateErrorReturnDataOutOfBound:     "ErrorReturnDataOutOfBound",
	StateErrorOutOfGasConstant:         "ErrorOutOfGasConstant",
	StateErrorOutOfGasMemoryExpansion:  "ErrorOutOfGasMemoryExpansion",
	StateErrorOutOfGasMemoryCopy:       "ErrorOutOfGasMemoryCopy",
	StateErrorOutOfGasSHA3:             "ErrorOutOfGasSHA3",
	StateErrorOutOfGasEXP:              "ErrorOutOfGasEXP",
	StateErrorOutOfGasSloadSstore:      "ErrorOutOfGasSloadSstore",
	StateErrorOutOfGasLOG:              "ErrorOutOfGasLOG",
	StateErrorOutOfGasCall:             "ErrorOutOfGasCall",
	StateErrorOutOfGasCreate:           "ErrorOutOfGasCreate",
	StateErrorOutOfGasAccountAccess:    "ErrorOutOfGasAccountAccess",
	StateErrorOutOfGasCodeStore:        "ErrorOutOfGasCodeStore",
	StateErrorMaxCodeSizeExceeded:      "ErrorMaxCodeSizeExceeded",
	StateErrorInvalidCreationCode:      "ErrorInvalidCreationCode",
	StateErrorGasUintOverflow:          "ErrorGasUintOverflow",
	StateErrorInsufficientBalance:      "ErrorInsufficientBalance",
	StateErrorDepth:                    "ErrorDepth",
	StateErrorContractAddressCollision: "ErrorContractAddressCollision",
}

func (s ExecutionState) String() string {
	if s < numStates && stateNames[s] != "" {
		return stateNames[s]
	}
	return fmt.Sprintf("ExecutionState(%d)", uint8(s))
}

// States returns every defined execution state in declaration order.
func States() []ExecutionState {
	out := make([]ExecutionState, 0, numStates-1)
	for s := StateBeginTx; s < numStates; s++ {
		out = append(out, s)
	}
	return out
}

// IsError reports whether s is an error state.
func (s ExecutionState) IsError() bool {
	return s >= StateErrorInvalidOpcode && s < numStates
}

// IsLocalError reports whether s is an error that fails a call or create
// attempt without unwinding the current frame.
func (s ExecutionState) IsLocalError() bool {
	switch s {
	case StateErrorInsufficientBalance, StateErrorDepth, StateErrorContractAddressCollision:
		return true
	}
	return false
}

// IsPrecompile reports whether s runs a precompiled contract.
func (s ExecutionState) IsPrecompile() bool {
	return s >= StatePrecompileEcRecover && s <= StatePrecompileBlake2F
}

// internal reports whether s can only be entered when the previous step asks
// for it. Opcode and error states prove themselves through the opcode
// lookup instead.
func (s ExecutionState) internal() bool {
	switch s {
	case StateBeginTx, StateEndTx, StateEndBlock, StateCopyToMemory, StateCopyCodeToMemory:
		return true
	}
	return s.IsPrecompile()
}

// NumPrecompiles is the number of precompiled contracts at addresses 1..9.
const NumPrecompiles = 9

// PrecompileState returns the state running the precompile at addr.
func PrecompileState(addr common.Address) (ExecutionState, bool) {
	for i := 0; i < common.AddressLength-1; i++ {
		if addr[i] != 0 {
			return StateInvalid, false
		}
	}
	n := addr[common.AddressLength-1]
	if n == 0 || n > NumPrecompiles {
		return StateInvalid, false
	}
	return StatePrecompileEcRecover + ExecutionState(n-1), true
}
