package tables

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/field"
)

// BlockContextFieldTag selects a field of the block table.
type BlockContextFieldTag uint64

const (
	BlockCoinbase BlockContextFieldTag = iota + 1
	BlockTimestamp
	BlockNumber
	BlockDifficulty
	BlockGasLimit
	BlockBaseFee
	BlockChainID
	BlockHash
)

// MaxBlockHashHistory is how far back BLOCKHASH can see.
const MaxBlockHashHistory = 256

// Block is the header data the block table exposes.
type Block struct {
	Coinbase   common.Address
	Timestamp  uint64
	Number     uint64
	GasLimit   uint64
	Difficulty *uint256.Int
	BaseFee    *uint256.Int
	ChainID    *uint256.Int
	// History holds the hashes of the preceding blocks, oldest first, so the
	// last entry is the hash of block Number-1. Only the last 256 are used.
	History []common.Hash
}

// HistoryHash returns the hash of block n when it is within the BLOCKHASH
// window.
func (b *Block) HistoryHash(n uint64) (common.Hash, bool) {
	if n >= b.Number || b.Number-n > MaxBlockHashHistory || b.Number-n > uint64(len(b.History)) {
		return common.Hash{}, false
	}
	return b.History[uint64(len(b.History))-(b.Number-n)], true
}

type blockKey struct {
	tag   BlockContextFieldTag
	index uint64
}

// BlockTable is the table of (field_tag, index, value) rows of one block.
type BlockTable struct {
	block *Block
	rows  map[blockKey]field.Word
}

func wordOrZero(x *uint256.Int) field.Word {
	if x == nil {
		return field.ZeroWord()
	}
	return field.WordFromUint256(x)
}

// NewBlockTable builds the rows of b.
func NewBlockTable(b *Block) *BlockTable {
	t := &BlockTable{block: b, rows: make(map[blockKey]field.Word)}
	t.rows[blockKey{tag: BlockCoinbase}] = field.WordFromAddress(b.Coinbase)
	t.rows[blockKey{tag: BlockTimestamp}] = field.WordFromUint64(b.Timestamp)
	t.rows[blockKey{tag: BlockNumber}] = field.WordFromUint64(b.Number)
	t.rows[blockKey{tag: BlockGasLimit}] = field.WordFromUint64(b.GasLimit)
	t.rows[blockKey{tag: BlockDifficulty}] = wordOrZero(b.Difficulty)
	t.rows[blockKey{tag: BlockBaseFee}] = wordOrZero(b.BaseFee)
	t.rows[blockKey{tag: BlockChainID}] = wordOrZero(b.ChainID)
	for n := uint64(0); n < b.Number; n++ {
		if h, ok := b.HistoryHash(n); ok {
			t.rows[blockKey{tag: BlockHash, index: n}] = field.WordFromHash(h)
		}
	}
	return t
}

// Block returns the underlying header data.
func (t *BlockTable) Block() *Block { return t.block }

// Len returns the number of rows.
func (t *BlockTable) Len() int { return len(t.rows) }

// Lookup returns the value of (tag, index).
func (t *BlockTable) Lookup(tag BlockContextFieldTag, index field.FQ) (field.Word, bool) {
	i, ok := index.Uint64()
	if !ok {
		return field.Word{}, false
	}
	v, ok := t.rows[blockKey{tag: tag, index: i}]
	return v, ok
}
