package tables

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/zkevm/field"
)

// MPTProofType tags what an MPT table row updates.
type MPTProofType uint64

const (
	MPTNonceChanged MPTProofType = iota + 1
	MPTBalanceChanged
	MPTCodeHashChanged
	MPTStorageChanged
)

func (p MPTProofType) String() string {
	switch p {
	case MPTNonceChanged:
		return "NonceChanged"
	case MPTBalanceChanged:
		return "BalanceChanged"
	case MPTCodeHashChanged:
		return "CodeHashChanged"
	case MPTStorageChanged:
		return "StorageChanged"
	}
	return fmt.Sprintf("MPTProofType(%d)", uint64(p))
}

// ErrMPTRootChain is returned when consecutive MPT updates do not chain
// their state roots.
var ErrMPTRootChain = errors.New("tables: mpt updates do not chain roots")

// MPTUpdate is one row of the MPT table: a single account field or storage
// slot change with the state roots before and after it.
type MPTUpdate struct {
	Address    common.Address
	StorageKey field.Word
	ProofType  MPTProofType
	OldValue   field.Word
	NewValue   field.Word
	OldRoot    common.Hash
	NewRoot    common.Hash
}

type mptKey struct {
	address   common.Address
	proofType MPTProofType
	key       field.Word
}

// MPTTable holds the ordered state updates of a block.
type MPTTable struct {
	updates []MPTUpdate
	index   map[mptKey]int
}

// NewMPTTable returns an empty table.
func NewMPTTable() *MPTTable {
	return &MPTTable{index: make(map[mptKey]int)}
}

// Add appends u. A later update of the same key replaces the lookup entry.
func (t *MPTTable) Add(u MPTUpdate) {
	t.index[mptKey{u.Address, u.ProofType, u.StorageKey}] = len(t.updates)
	t.updates = append(t.updates, u)
}

// Lookup returns the last update of the given key.
func (t *MPTTable) Lookup(addr common.Address, proofType MPTProofType, key field.Word) (MPTUpdate, bool) {
	i, ok := t.index[mptKey{addr, proofType, key}]
	if !ok {
		return MPTUpdate{}, false
	}
	return t.updates[i], true
}

// Updates returns the rows in order.
func (t *MPTTable) Updates() []MPTUpdate { return t.updates }

// Len returns the number of rows.
func (t *MPTTable) Len() int { return len(t.updates) }

// CheckRoots verifies that the first update starts at root and every update
// starts where the previous one ended. It returns the final root.
func (t *MPTTable) CheckRoots(root common.Hash) (common.Hash, error) {
	for i, u := range t.updates {
		if u.OldRoot != root {
			return root, fmt.Errorf("%w: row %d starts at %x, want %x", ErrMPTRootChain, i, u.OldRoot, root)
		}
		root = u.NewRoot
	}
	return root, nil
}
