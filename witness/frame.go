package witness

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

func keccak(b []byte) []byte { return crypto.Keccak256(b) }

func word(v uint64) field.Word { return field.WordFromUint64(v) }

// journalEntry is one reversible write: its bus record, whose twin undoes
// it on the bus, and the matching undo of the generator's state.
type journalEntry struct {
	rec  rw.Record
	undo func()
}

// frame is one call frame while it runs.
type frame struct {
	id     uint64
	seq    int
	txID   uint64
	parent *frame

	isRoot   bool
	isCreate bool
	isStatic bool
	depth    uint64
	address  common.Address
	caller   field.Word
	value    uint256.Int
	codeHash field.Word
	code     *tables.Bytecode
	// precompile is set for a frame that runs a precompiled contract.
	precompile *common.Address

	cdOffset, cdLength uint64
	rdOffset, rdLength uint64

	stack  []uint256.Int
	memory []byte
	pc     uint64
	gas    uint64

	lastCallee    *frame
	lastRetOffset uint64
	lastRetLength uint64

	// context saved while a callee runs
	savedPC, savedSP, savedGas, savedMem, savedRWC uint64

	success    bool
	persistent bool
	done       bool
	gasLeft    uint64

	// writes is the journal of reversible writes made under this frame,
	// including those of callees that succeeded.
	writes []journalEntry
	// base is the length of the parent's journal when this frame opened.
	base int
	// end is the rw counter of the last twin slot, once known.
	end uint64
	// endRecords are the bus records carrying end, patched once it is known.
	endRecords []uint64
	// pending are successful callees whose end follows from this frame's.
	pending []*frame
}

func (f *frame) sp() uint64 { return evm.StackLimit - uint64(len(f.stack)) }

func (f *frame) words() uint64 { return uint64(len(f.memory)) / 32 }

// back returns the stack item n slots below the top.
func (f *frame) back(n int) *uint256.Int { return &f.stack[len(f.stack)-1-n] }

// expand grows memory to words 32-byte words.
func (f *frame) expand(words uint64) {
	if n := words * 32; n > uint64(len(f.memory)) {
		f.memory = append(f.memory, make([]byte, n-uint64(len(f.memory)))...)
	}
}

// memoryAt returns the memory byte at addr, zero past the end.
func (f *frame) memoryAt(addr uint64) byte {
	if addr < uint64(len(f.memory)) {
		return f.memory[addr]
	}
	return 0
}

// memorySlice copies size bytes of memory from offset, zero past the end.
func (f *frame) memorySlice(offset, size uint64) []byte {
	out := make([]byte, size)
	if offset < uint64(len(f.memory)) {
		copy(out, f.memory[offset:])
	}
	return out
}

// setMemory writes b at addr, growing memory by whole words when needed.
func (f *frame) setMemory(addr uint64, b byte) {
	f.expand(evm.MemoryWords(addr + 1))
	f.memory[addr] = b
}

func (f *frame) lastCalleeID() uint64 {
	if f.lastCallee == nil {
		return 0
	}
	return f.lastCallee.id
}

func (f *frame) callerID() uint64 {
	if f.parent == nil {
		return 0
	}
	return f.parent.id
}

// context returns the current value of a call context field.
func (f *frame) context(tag rw.CallContextFieldTag) field.Word {
	switch tag {
	case rw.CallTxID:
		return word(f.txID)
	case rw.CallCallerID:
		return word(f.callerID())
	case rw.CallCalleeAddress:
		return field.WordFromAddress(f.address)
	case rw.CallIsRoot:
		return field.WordFromBool(f.isRoot)
	case rw.CallIsCreate:
		return field.WordFromBool(f.isCreate)
	case rw.CallIsStatic:
		return field.WordFromBool(f.isStatic)
	case rw.CallIsPersistent:
		return field.WordFromBool(f.persistent)
	case rw.CallIsSuccess:
		return field.WordFromBool(f.success)
	case rw.CallRwCounterEndOfReversion:
		return word(f.end)
	case rw.CallDepth:
		return word(f.depth)
	case rw.CallCallerAddress:
		return f.caller
	case rw.CallCallDataOffset:
		return word(f.cdOffset)
	case rw.CallCallDataLength:
		return word(f.cdLength)
	case rw.CallReturnDataOffset:
		return word(f.rdOffset)
	case rw.CallReturnDataLength:
		return word(f.rdLength)
	case rw.CallValue:
		return field.WordFromUint256(&f.value)
	case rw.CallCodeHash:
		return f.codeHash
	case rw.CallProgramCounter:
		return word(f.savedPC)
	case rw.CallStackPointer:
		return word(f.savedSP)
	case rw.CallGasLeft:
		return word(f.savedGas)
	case rw.CallMemorySize:
		return word(f.savedMem)
	case rw.CallReversibleWriteCounter:
		return word(f.savedRWC)
	case rw.CallLastCalleeID:
		return word(f.lastCalleeID())
	case rw.CallLastCalleeReturnDataOffset:
		return word(f.lastRetOffset)
	case rw.CallLastCalleeReturnDataLength:
		return word(f.lastRetLength)
	}
	return field.ZeroWord()
}

// openingFields are the call context fields a frame is opened with, in
// bus order.
var openingFields = []rw.CallContextFieldTag{
	rw.CallTxID,
	rw.CallCallerID,
	rw.CallCalleeAddress,
	rw.CallIsRoot,
	rw.CallIsCreate,
	rw.CallIsStatic,
	rw.CallIsPersistent,
	rw.CallIsSuccess,
	rw.CallRwCounterEndOfReversion,
	rw.CallDepth,
	rw.CallCallerAddress,
	rw.CallCallDataOffset,
	rw.CallCallDataLength,
	rw.CallReturnDataOffset,
	rw.CallReturnDataLength,
	rw.CallValue,
	rw.CallCodeHash,
	rw.CallLastCalleeID,
	rw.CallLastCalleeReturnDataOffset,
	rw.CallLastCalleeReturnDataLength,
}

// callerFields are the caller context fields read back when a callee ends.
var callerFields = []rw.CallContextFieldTag{
	rw.CallIsRoot,
	rw.CallIsCreate,
	rw.CallCodeHash,
	rw.CallProgramCounter,
	rw.CallStackPointer,
	rw.CallGasLeft,
	rw.CallMemorySize,
	rw.CallReversibleWriteCounter,
}

// memRange is an (offset, size) operand pair as memory sees it. A zero
// size touches nothing, whatever the offset.
type memRange struct {
	offset, size uint64
	ok           bool
}

func (m memRange) end() uint64 {
	if m.size == 0 {
		return 0
	}
	return m.offset + m.size
}

const memoryLimit = uint64(1) << evm.MaxMemoryBits

func smallOperand(v *uint256.Int) (uint64, bool) {
	if !v.IsUint64() || v.Uint64() >= memoryLimit {
		return 0, false
	}
	return v.Uint64(), true
}

func newMemRange(offset, size *uint256.Int) memRange {
	if size.IsZero() {
		return memRange{ok: true}
	}
	off, ok1 := smallOperand(offset)
	n, ok2 := smallOperand(size)
	return memRange{offset: off, size: n, ok: ok1 && ok2}
}

func fixedMemRange(offset *uint256.Int, size uint64) memRange {
	off, ok := smallOperand(offset)
	return memRange{offset: off, size: size, ok: ok}
}

// operandRanges returns the memory ranges op reads from the stack, without
// touching the bus.
func (f *frame) operandRanges(o *evm.Operation) []memRange {
	out := make([]memRange, 0, len(o.Memory))
	for _, m := range o.Memory {
		if m.Size < 0 {
			out = append(out, fixedMemRange(f.back(m.Offset), m.FixedSize))
			continue
		}
		out = append(out, newMemRange(f.back(m.Offset), f.back(m.Size)))
	}
	return out
}

// expansion returns the memory size in words after touching ranges and
// the charge for it.
func (f *frame) expansion(ranges ...memRange) (words, cost uint64) {
	ends := make([]uint64, len(ranges))
	for k, m := range ranges {
		ends[k] = m.end()
	}
	return evm.MemoryExpansion(f.words(), ends...)
}

func toAddress(v *uint256.Int) common.Address { return common.Address(v.Bytes20()) }

func toHash(v *uint256.Int) common.Hash { return common.Hash(v.Bytes32()) }

func fromAddress(a common.Address) *uint256.Int { return new(uint256.Int).SetBytes(a.Bytes()) }
