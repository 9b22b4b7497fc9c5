package witness

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// account is the generator's view of one account. A zero code hash marks
// an account that was never created; balance transfers do not create one.
type account struct {
	nonce    uint64
	balance  uint256.Int
	codeHash common.Hash
	storage  map[common.Hash]uint256.Int
}

func (a *account) clone() *account {
	c := *a
	c.storage = maps.Clone(a.storage)
	return &c
}

type slotKey struct {
	addr common.Address
	key  common.Hash
}

// stateDB holds the world state the generator executes against, plus the
// per-transaction access list, refund counter and committed storage.
type stateDB struct {
	accounts map[common.Address]*account
	codes    map[common.Hash][]byte

	committed    map[slotKey]uint256.Int
	warmAccounts map[common.Address]bool
	warmSlots    map[slotKey]bool
	refund       uint64
}

func newStateDB(accounts map[common.Address]Account) *stateDB {
	s := &stateDB{
		accounts: make(map[common.Address]*account),
		codes:    map[common.Hash][]byte{types.EmptyCodeHash: {}},
	}
	for addr, a := range accounts {
		acc := &account{nonce: a.Nonce, storage: make(map[common.Hash]uint256.Int)}
		if a.Balance != nil {
			acc.balance = *a.Balance
		}
		acc.codeHash = s.addCode(a.Code)
		for k, v := range a.Storage {
			if v != (common.Hash{}) {
				acc.storage[k] = *new(uint256.Int).SetBytes(v[:])
			}
		}
		s.accounts[addr] = acc
	}
	s.beginTx()
	return s
}

func (s *stateDB) addCode(code []byte) common.Hash {
	h := common.BytesToHash(keccak(code))
	s.codes[h] = code
	return h
}

func (s *stateDB) clone() *stateDB {
	c := &stateDB{
		accounts:     make(map[common.Address]*account, len(s.accounts)),
		codes:        maps.Clone(s.codes),
		committed:    maps.Clone(s.committed),
		warmAccounts: maps.Clone(s.warmAccounts),
		warmSlots:    maps.Clone(s.warmSlots),
		refund:       s.refund,
	}
	for addr, a := range s.accounts {
		c.accounts[addr] = a.clone()
	}
	return c
}

// beginTx clears the per-transaction state.
func (s *stateDB) beginTx() {
	s.committed = make(map[slotKey]uint256.Int)
	s.warmAccounts = make(map[common.Address]bool)
	s.warmSlots = make(map[slotKey]bool)
	s.refund = 0
}

func (s *stateDB) get(addr common.Address) *account {
	a, ok := s.accounts[addr]
	if !ok {
		a = &account{storage: make(map[common.Hash]uint256.Int)}
		s.accounts[addr] = a
	}
	return a
}

func (s *stateDB) nonce(addr common.Address) uint64 { return s.get(addr).nonce }

func (s *stateDB) balance(addr common.Address) *uint256.Int {
	b := s.get(addr).balance
	return &b
}

func (s *stateDB) codeHash(addr common.Address) common.Hash { return s.get(addr).codeHash }

// code returns the code behind hash; nil when unknown.
func (s *stateDB) code(hash common.Hash) []byte { return s.codes[hash] }

func (s *stateDB) storage(addr common.Address, key common.Hash) *uint256.Int {
	v := s.get(addr).storage[key]
	return &v
}

// committedStorage returns the value of a slot when the transaction began.
func (s *stateDB) committedStorage(addr common.Address, key common.Hash) *uint256.Int {
	k := slotKey{addr, key}
	if v, ok := s.committed[k]; ok {
		return &v
	}
	return s.storage(addr, key)
}

func (s *stateDB) setStorage(addr common.Address, key common.Hash, v *uint256.Int) {
	k := slotKey{addr, key}
	if _, ok := s.committed[k]; !ok {
		s.committed[k] = *s.storage(addr, key)
	}
	if v.IsZero() {
		delete(s.get(addr).storage, key)
		return
	}
	s.get(addr).storage[key] = *v
}

func (s *stateDB) setWarmAccount(addr common.Address, warm bool) {
	if warm {
		s.warmAccounts[addr] = true
		return
	}
	delete(s.warmAccounts, addr)
}

func (s *stateDB) setWarmSlot(addr common.Address, key common.Hash, warm bool) {
	if warm {
		s.warmSlots[slotKey{addr, key}] = true
		return
	}
	delete(s.warmSlots, slotKey{addr, key})
}

// hasNoCode reports a nonexistent account or one with empty code.
func hasNoCode(h common.Hash) bool {
	return h == (common.Hash{}) || h == types.EmptyCodeHash
}

// isEmpty is the EIP-161 emptiness the CALL charge depends on.
func (s *stateDB) isEmpty(addr common.Address) bool {
	a := s.get(addr)
	return hasNoCode(a.codeHash) && a.nonce == 0 && a.balance.IsZero()
}
