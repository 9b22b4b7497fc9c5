package witness

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

// buildMPT returns the MPT table that takes pre to post one account field
// or storage slot at a time, with the state roots of both ends. Accounts
// are visited in address order; within an account, nonce, balance and code
// hash come before storage slots in key order.
func buildMPT(pre, post *stateDB) (*tables.MPTTable, common.Hash, common.Hash, error) {
	work := pre.clone()
	root, err := stateRoot(work)
	if err != nil {
		return nil, common.Hash{}, common.Hash{}, err
	}
	preRoot := root
	mpt := tables.NewMPTTable()

	addrs := make([]common.Address, 0, len(post.accounts))
	for addr := range post.accounts {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })

	update := func(u tables.MPTUpdate, apply func()) error {
		apply()
		next, err := stateRoot(work)
		if err != nil {
			return err
		}
		u.OldRoot, u.NewRoot = root, next
		mpt.Add(u)
		root = next
		return nil
	}

	for _, addr := range addrs {
		before, after := work.get(addr), post.accounts[addr]
		if before.nonce != after.nonce {
			u := tables.MPTUpdate{Address: addr, ProofType: tables.MPTNonceChanged,
				OldValue: word(before.nonce), NewValue: word(after.nonce)}
			if err := update(u, func() { work.get(addr).nonce = after.nonce }); err != nil {
				return nil, common.Hash{}, common.Hash{}, err
			}
		}
		if !before.balance.Eq(&after.balance) {
			u := tables.MPTUpdate{Address: addr, ProofType: tables.MPTBalanceChanged,
				OldValue: field.WordFromUint256(&before.balance), NewValue: field.WordFromUint256(&after.balance)}
			if err := update(u, func() { work.get(addr).balance = after.balance }); err != nil {
				return nil, common.Hash{}, common.Hash{}, err
			}
		}
		if before.codeHash != after.codeHash {
			u := tables.MPTUpdate{Address: addr, ProofType: tables.MPTCodeHashChanged,
				OldValue: field.WordFromHash(before.codeHash), NewValue: field.WordFromHash(after.codeHash)}
			if err := update(u, func() { work.get(addr).codeHash = after.codeHash }); err != nil {
				return nil, common.Hash{}, common.Hash{}, err
			}
		}

		keys := make([]common.Hash, 0, len(after.storage)+len(before.storage))
		for k := range after.storage {
			keys = append(keys, k)
		}
		for k := range before.storage {
			if _, ok := after.storage[k]; !ok {
				keys = append(keys, k)
			}
		}
		slices.SortFunc(keys, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
		for _, k := range keys {
			old, nv := before.storage[k], after.storage[k]
			if old.Eq(&nv) {
				continue
			}
			u := tables.MPTUpdate{Address: addr, StorageKey: field.WordFromHash(k), ProofType: tables.MPTStorageChanged,
				OldValue: field.WordFromUint256(&old), NewValue: field.WordFromUint256(&nv)}
			if err := update(u, func() { work.setStorage(addr, k, &nv) }); err != nil {
				return nil, common.Hash{}, common.Hash{}, err
			}
		}
	}
	return mpt, preRoot, root, nil
}

// stateRoot returns the Merkle Patricia root of s. Accounts that were
// never created and hold nothing are left out of the trie.
func stateRoot(s *stateDB) (common.Hash, error) {
	type leaf struct {
		key, value []byte
	}
	leaves := make([]leaf, 0, len(s.accounts))
	for addr, a := range s.accounts {
		if a.codeHash == (common.Hash{}) && a.nonce == 0 && a.balance.IsZero() && len(a.storage) == 0 {
			continue
		}
		storage, err := storageRoot(a.storage)
		if err != nil {
			return common.Hash{}, err
		}
		codeHash := a.codeHash
		if codeHash == (common.Hash{}) {
			codeHash = types.EmptyCodeHash
		}
		value, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    a.nonce,
			Balance:  new(uint256.Int).Set(&a.balance),
			Root:     storage,
			CodeHash: codeHash[:],
		})
		if err != nil {
			return common.Hash{}, err
		}
		leaves = append(leaves, leaf{keccak(addr[:]), value})
	}
	slices.SortFunc(leaves, func(a, b leaf) int { return bytes.Compare(a.key, b.key) })

	t := trie.NewStackTrie(nil)
	for _, l := range leaves {
		if err := t.Update(l.key, l.value); err != nil {
			return common.Hash{}, err
		}
	}
	return t.Hash(), nil
}

func storageRoot(slots map[common.Hash]uint256.Int) (common.Hash, error) {
	type leaf struct {
		key, value []byte
	}
	leaves := make([]leaf, 0, len(slots))
	for k, v := range slots {
		if v.IsZero() {
			continue
		}
		value, err := rlp.EncodeToBytes(v.Bytes())
		if err != nil {
			return common.Hash{}, err
		}
		leaves = append(leaves, leaf{keccak(k[:]), value})
	}
	if len(leaves) == 0 {
		return types.EmptyRootHash, nil
	}
	slices.SortFunc(leaves, func(a, b leaf) int { return bytes.Compare(a.key, b.key) })

	t := trie.NewStackTrie(nil)
	for _, l := range leaves {
		if err := t.Update(l.key, l.value); err != nil {
			return common.Hash{}, err
		}
	}
	return t.Hash(), nil
}
