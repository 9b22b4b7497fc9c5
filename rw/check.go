package rw

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/log"
	"github.com/eth2030/zkevm/metrics"
	"github.com/eth2030/zkevm/tables"
)

// Consistency errors.
var (
	ErrFirstAccess    = errors.New("rw: first access violates the tag policy")
	ErrStaleRead      = errors.New("rw: read does not match the latest write")
	ErrPrevMismatch   = errors.New("rw: value_prev does not match the latest value")
	ErrKeyRange       = errors.New("rw: key out of range")
	ErrValueRange     = errors.New("rw: value out of range")
	ErrCommitted      = errors.New("rw: committed value mismatch")
	ErrWriteOnly      = errors.New("rw: read of a write-only tag")
	ErrTooManyRows    = errors.New("rw: bus exceeds the row limit")
	ErrMPTUncovered   = errors.New("rw: state change missing from the mpt table")
	ErrMPTValue       = errors.New("rw: mpt table disagrees with the bus")
	ErrUnknownTagUsed = errors.New("rw: unknown tag")
)

// StackSize is the maximum number of stack slots of a call.
const StackSize = 1024

var logger = log.Module("rw")

// Sorted returns the records of t except the Start row, ordered by key and
// then by counter, which is the order the state circuit walks.
func Sorted(t *Table) []Record {
	out := slices.Clone(t.Records()[1:])
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.Key().Compare(b.Key()); c != 0 {
			return c
		}
		switch {
		case a.RWCounter < b.RWCounter:
			return -1
		case a.RWCounter > b.RWCounter:
			return 1
		}
		return 0
	})
	return out
}

// Check runs the state circuit's consistency rules over t. maxRows bounds the
// bus length; zero means unbounded.
func Check(t *Table, maxRows int) error {
	metrics.RWRows.Set(int64(t.Len()))
	metrics.RWMaxRows.Max(int64(t.Len()))
	if maxRows > 0 && t.Len() > maxRows {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRows, t.Len(), maxRows)
	}
	sorted := Sorted(t)
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Key() == sorted[i].Key() {
			j++
		}
		if err := checkGroup(sorted[i:j]); err != nil {
			return err
		}
		i = j
	}
	logger.Debug("bus consistent", "rows", t.Len(), "keys", countKeys(sorted))
	return nil
}

func countKeys(sorted []Record) int {
	n := 0
	for i := range sorted {
		if i == 0 || sorted[i].Key() != sorted[i-1].Key() {
			n++
		}
	}
	return n
}

func fail(err error, r Record, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", err, r, fmt.Sprintf(format, args...))
}

// checkGroup checks the accesses of one key in counter order.
func checkGroup(group []Record) error {
	first := group[0]
	if err := checkKey(first); err != nil {
		return err
	}
	var current field.Word
	switch first.Tag {
	case TagStack, TagCallContext, TagTxReceipt:
		if !first.IsWrite {
			return fail(ErrFirstAccess, first, "%s must start with a write", first.Tag)
		}
	case TagMemory:
		// unwritten memory reads as zero
	case TagStorage:
		if !first.ValuePrev.Equal(first.Aux1) {
			return fail(ErrFirstAccess, first, "value_prev %s, committed %s", first.ValuePrev, first.Aux1)
		}
		current = first.ValuePrev
	case TagAccount:
		current = first.ValuePrev
	case TagTxAccessListAccount, TagTxAccessListAccountStorage, TagTxRefund:
		if !first.ValuePrev.IsZero() {
			return fail(ErrFirstAccess, first, "%s starts from %s", first.Tag, first.ValuePrev)
		}
	case TagTxLog:
	default:
		return fail(ErrUnknownTagUsed, first, "")
	}

	committed, committedTx := first.Aux1, first.Aux0
	for _, r := range group {
		if err := checkValue(r); err != nil {
			return err
		}
		switch r.Tag {
		case TagStorage:
			if !r.Aux0.Equal(committedTx) {
				// a new transaction commits everything before it
				committed, committedTx = current, r.Aux0
			}
			if !r.Aux1.Equal(committed) {
				return fail(ErrCommitted, r, "committed %s, want %s", r.Aux1, committed)
			}
			fallthrough
		case TagAccount, TagTxAccessListAccount, TagTxAccessListAccountStorage, TagTxRefund:
			if !r.ValuePrev.Equal(current) {
				return fail(ErrPrevMismatch, r, "value_prev %s, latest %s", r.ValuePrev, current)
			}
		case TagTxLog:
			if !r.IsWrite {
				return fail(ErrWriteOnly, r, "")
			}
		}
		if !r.IsWrite && !r.Value.Equal(current) {
			return fail(ErrStaleRead, r, "read %s, latest %s", r.Value, current)
		}
		current = r.Value
	}
	return nil
}

func checkKey(r Record) error {
	switch r.Tag {
	case TagStack:
		if sp, ok := r.Key3.Uint64(); !ok || sp >= StackSize {
			return fail(ErrKeyRange, r, "stack pointer %s", r.Key3)
		}
	case TagMemory:
		if addr, ok := r.Key3.Uint64(); !ok || addr >= 1<<40 {
			return fail(ErrKeyRange, r, "memory address %s", r.Key3)
		}
	case TagCallContext:
		if f, ok := r.Key2.Uint64(); !ok || f == 0 || f > uint64(CallLastCalleeReturnDataLength) {
			return fail(ErrKeyRange, r, "call context field %s", r.Key2)
		}
	case TagAccount:
		if f, ok := r.Key2.Uint64(); !ok || f == 0 || f > uint64(AccountNonExisting) {
			return fail(ErrKeyRange, r, "account field %s", r.Key2)
		}
	}
	return nil
}

func checkValue(r Record) error {
	switch r.Tag {
	case TagMemory:
		if b, ok := r.Value.ToFQ().Uint64(); !ok || b > 0xff || !r.Value.Hi.IsZero() {
			return fail(ErrValueRange, r, "memory byte %s", r.Value)
		}
	case TagTxAccessListAccount, TagTxAccessListAccountStorage:
		if !r.Value.Hi.IsZero() || !r.Value.Lo.IsBool() {
			return fail(ErrValueRange, r, "access list flag %s", r.Value)
		}
	}
	return nil
}

// Values maps each key of the bus to one value.
type Values map[Key]field.Word

// Initial returns the value every Storage, Account and access-list key had
// before the bus touched it.
func Initial(t *Table) Values {
	out := make(Values)
	for _, r := range Sorted(t) {
		if !stateTag(r.Tag) {
			continue
		}
		if _, seen := out[r.Key()]; !seen {
			out[r.Key()] = r.ValuePrev
		}
	}
	return out
}

// Final returns the last value of every key of the bus.
func Final(t *Table) Values {
	out := make(Values)
	for _, r := range t.Records()[1:] {
		out[r.Key()] = r.Value
	}
	return out
}

func stateTag(tag Tag) bool {
	switch tag {
	case TagStorage, TagAccount, TagTxAccessListAccount, TagTxAccessListAccountStorage, TagTxRefund:
		return true
	}
	return false
}

// AddressOf recovers the address packed into an address key.
func AddressOf(k field.FQ) common.Address {
	b := k.Bytes()
	return common.BytesToAddress(b[:])
}

// CheckMPT asserts that every account field and storage slot the bus leaves
// changed has a matching update in the MPT table.
func CheckMPT(t *Table, mpt *tables.MPTTable) error {
	initial, final := Initial(t), Final(t)
	for k, v := range final {
		var (
			proof tables.MPTProofType
			key   field.Word
		)
		switch k.Tag {
		case TagStorage:
			proof, key = tables.MPTStorageChanged, k.Key4
		case TagAccount:
			switch AccountFieldTag(k.Key2.MustUint64()) {
			case AccountNonce:
				proof = tables.MPTNonceChanged
			case AccountBalance:
				proof = tables.MPTBalanceChanged
			case AccountCodeHash:
				proof = tables.MPTCodeHashChanged
			default:
				continue
			}
		default:
			continue
		}
		if initial[k].Equal(v) {
			continue
		}
		addr := AddressOf(k.Key1)
		u, ok := mpt.Lookup(addr, proof, key)
		if !ok {
			return fmt.Errorf("%w: %s %s %s", ErrMPTUncovered, addr, proof, key)
		}
		if !u.NewValue.Equal(v) {
			return fmt.Errorf("%w: %s %s %s: mpt %s, bus %s", ErrMPTValue, addr, proof, key, u.NewValue, v)
		}
	}
	return nil
}
