package evm

import (
	"fmt"
	"math/big"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// StepState is the execution context of one step. Every field other than
// Aux is checked against the transition declared by the previous step.
type StepState struct {
	State                  ExecutionState
	RWCounter              uint64
	CallID                 uint64
	IsRoot                 bool
	IsCreate               bool
	CodeHash               field.Word
	ProgramCounter         uint64
	StackPointer           uint64
	GasLeft                uint64
	MemoryWordSize         uint64
	ReversibleWriteCounter uint64
	LogID                  uint64

	// Aux carries the progress of an internal copy.
	Aux *AuxData
}

func (s *StepState) String() string {
	return fmt.Sprintf("%v{rw=%d call=%d pc=%d sp=%d gas=%d}", s.State, s.RWCounter, s.CallID,
		s.ProgramCounter, s.StackPointer, s.GasLeft)
}

// AuxData is the progress of a CopyToMemory or CopyCodeToMemory step. Bytes
// [SrcAddr, SrcAddrEnd) of the source are real, bytes past SrcAddrEnd read
// as zero.
type AuxData struct {
	SrcID      field.Word
	SrcType    tables.CopyDataType
	SrcAddr    uint64
	SrcAddrEnd uint64
	DstAddr    uint64
	BytesLeft  uint64
}

// Params are the circuit parameters a trace is verified under.
type Params struct {
	// Randomness compresses byte streams for the copy, keccak and
	// precompile tables.
	Randomness field.FQ
	// MaxRws bounds the bus length.
	MaxRws int
	// MaxTxs bounds the number of transactions of a block.
	MaxTxs int
	// InlineCopy moves copy-opcode bytes through internal steps instead of
	// copy table lookups.
	InlineCopy bool
	// MaxCopyBytes is the number of bytes one internal copy step moves.
	MaxCopyBytes uint64
}

// DefaultParams returns the default circuit parameters.
func DefaultParams() Params {
	r := new(big.Int).SetBytes(crypto.Keccak256([]byte("zkevm.randomness")))
	return Params{
		Randomness:   field.FromBig(r),
		MaxRws:       1 << 20,
		MaxTxs:       64,
		MaxCopyBytes: 32,
	}
}

// Tables bundles the witness tables a trace is checked against.
type Tables struct {
	Bytecode   *tables.BytecodeTable
	Block      *tables.BlockTable
	Tx         *tables.TxTable
	RW         *rw.Table
	Copy       *tables.CopyTable
	Keccak     *tables.KeccakTable
	Exp        *tables.ExpTable
	ECC        *tables.ECCTable
	Sig        *tables.SigTable
	Precompile *tables.PrecompileTable
}

// NewTables returns empty tables for a block, compressing byte streams with
// randomness r.
func NewTables(block *tables.Block, r field.FQ) *Tables {
	return &Tables{
		Bytecode:   tables.NewBytecodeTable(),
		Block:      tables.NewBlockTable(block),
		Copy:       tables.NewCopyTable(),
		Keccak:     tables.NewKeccakTable(r),
		Exp:        tables.NewExpTable(),
		ECC:        tables.NewECCTable(r),
		Sig:        tables.NewSigTable(),
		Precompile: tables.NewPrecompileTable(r),
	}
}
