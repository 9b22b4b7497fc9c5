package tables

import (
	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
)

// BytecodeFieldTag selects the kind of a bytecode table row.
type BytecodeFieldTag uint64

const (
	// BytecodeHeader rows carry the code length in the value column.
	BytecodeHeader BytecodeFieldTag = iota + 1
	// BytecodeByte rows carry one byte of code.
	BytecodeByte
)

// Bytecode is one contract code together with its is_code marks.
type Bytecode struct {
	Code []byte
	Hash common.Hash

	isCode []bool
}

// NewBytecode hashes code and marks every byte that is an opcode rather
// than PUSH data.
func NewBytecode(code []byte) *Bytecode {
	b := &Bytecode{
		Code:   code,
		Hash:   crypto.Keccak256Hash(code),
		isCode: make([]bool, len(code)),
	}
	for i := 0; i < len(code); i++ {
		b.isCode[i] = true
		if op := gethvm.OpCode(code[i]); op >= gethvm.PUSH1 && op <= gethvm.PUSH32 {
			i += int(op-gethvm.PUSH1) + 1
		}
	}
	return b
}

// HashWord returns the code hash as a word.
func (b *Bytecode) HashWord() field.Word { return field.WordFromHash(b.Hash) }

// Len returns the code length.
func (b *Bytecode) Len() uint64 { return uint64(len(b.Code)) }

// At returns the byte at index and whether it is an opcode.
func (b *Bytecode) At(index uint64) (value byte, isCode, ok bool) {
	if index >= b.Len() {
		return 0, false, false
	}
	return b.Code[index], b.isCode[index], true
}

// IsJumpDest reports whether index holds a JUMPDEST opcode.
func (b *Bytecode) IsJumpDest(index uint64) bool {
	v, isCode, ok := b.At(index)
	return ok && isCode && gethvm.OpCode(v) == gethvm.JUMPDEST
}

// BytecodeRow is one row of the bytecode table.
type BytecodeRow struct {
	CodeHash field.Word
	Tag      BytecodeFieldTag
	Index    uint64
	IsCode   bool
	Value    uint64
}

// Rows returns the header row followed by one row per byte.
func (b *Bytecode) Rows() []BytecodeRow {
	rows := make([]BytecodeRow, 0, len(b.Code)+1)
	hash := b.HashWord()
	rows = append(rows, BytecodeRow{CodeHash: hash, Tag: BytecodeHeader, Value: b.Len()})
	for i, v := range b.Code {
		rows = append(rows, BytecodeRow{CodeHash: hash, Tag: BytecodeByte, Index: uint64(i), IsCode: b.isCode[i], Value: uint64(v)})
	}
	return rows
}

// BytecodeTable holds every code a block touches, keyed by code hash.
type BytecodeTable struct {
	codes map[field.Word]*Bytecode
	order []*Bytecode
}

// NewBytecodeTable returns a table holding the given codes.
func NewBytecodeTable(codes ...[]byte) *BytecodeTable {
	t := &BytecodeTable{codes: make(map[field.Word]*Bytecode)}
	for _, c := range codes {
		t.Add(c)
	}
	return t
}

// Add registers code and returns its entry. Adding the same code twice
// returns the existing entry.
func (t *BytecodeTable) Add(code []byte) *Bytecode {
	b := NewBytecode(code)
	if have, ok := t.codes[b.HashWord()]; ok {
		return have
	}
	t.codes[b.HashWord()] = b
	t.order = append(t.order, b)
	return b
}

// Get returns the code with the given hash.
func (t *BytecodeTable) Get(hash field.Word) (*Bytecode, bool) {
	b, ok := t.codes[hash]
	return b, ok
}

// Len returns the number of rows across all codes.
func (t *BytecodeTable) Len() int {
	n := 0
	for _, b := range t.order {
		n += len(b.Code) + 1
	}
	return n
}

// Codes returns the registered codes in insertion order.
func (t *BytecodeTable) Codes() []*Bytecode { return t.order }

// Lookup resolves the row (hash, tag, index) and returns its is_code and
// value columns.
func (t *BytecodeTable) Lookup(hash field.Word, tag BytecodeFieldTag, index field.FQ) (isCode bool, value uint64, ok bool) {
	b, found := t.codes[hash]
	if !found {
		return false, 0, false
	}
	switch tag {
	case BytecodeHeader:
		return false, b.Len(), index.IsZero()
	case BytecodeByte:
		i, small := index.Uint64()
		if !small {
			return false, 0, false
		}
		v, code, in := b.At(i)
		return code, uint64(v), in
	}
	return false, 0, false
}
