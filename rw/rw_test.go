package rw

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

var (
	testAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	slotK    = field.WordFromUint64(7)
)

func mustTable(t *testing.T, d *Dictionary) *Table {
	t.Helper()
	tbl, err := d.Table()
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return tbl
}

func TestDictionaryCounters(t *testing.T) {
	d := NewDictionary()
	if d.Counter() != 1 {
		t.Fatalf("first counter = %d, want 1", d.Counter())
	}
	r := d.StackWrite(1, 1023, field.WordFromUint64(5))
	if r.RWCounter != 1 {
		t.Fatalf("rw_counter = %d, want 1", r.RWCounter)
	}
	d.StackRead(1, 1023, field.WordFromUint64(5))
	tbl := mustTable(t, d)
	if tbl.Len() != 3 {
		t.Fatalf("len = %d, want 3", tbl.Len())
	}
	for i, rec := range tbl.Records() {
		if rec.RWCounter != uint64(i) {
			t.Fatalf("record %d has counter %d", i, rec.RWCounter)
		}
	}
	if err := Check(tbl, 0); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestNewTableRejectsGaps(t *testing.T) {
	_, err := NewTable([]Record{{Tag: TagStart}, {RWCounter: 2, Tag: TagStack}})
	if !errors.Is(err, ErrCounterGap) {
		t.Fatalf("err = %v, want ErrCounterGap", err)
	}
	_, err = NewTable([]Record{{Tag: TagStack}})
	if !errors.Is(err, ErrStartRow) {
		t.Fatalf("err = %v, want ErrStartRow", err)
	}
	_, err = NewTable([]Record{{Tag: TagStart}, {RWCounter: 1, Tag: TagStack}, {RWCounter: 1, Tag: TagStack}})
	if !errors.Is(err, ErrCounterTaken) && !errors.Is(err, ErrCounterGap) {
		t.Fatalf("err = %v, want duplicate rejected", err)
	}
}

func TestCheckStaleRead(t *testing.T) {
	d := NewDictionary()
	d.StackWrite(1, 1023, field.WordFromUint64(5))
	d.StackRead(1, 1023, field.WordFromUint64(6))
	if err := Check(mustTable(t, d), 0); !errors.Is(err, ErrStaleRead) {
		t.Fatalf("err = %v, want ErrStaleRead", err)
	}
}

func TestCheckFirstAccessPolicies(t *testing.T) {
	tests := []struct {
		name  string
		build func(d *Dictionary)
		want  error
	}{
		{"stack read first", func(d *Dictionary) { d.StackRead(1, 1023, field.ZeroWord()) }, ErrFirstAccess},
		{"call context read first", func(d *Dictionary) { d.CallContextRead(1, CallDepth, field.WordFromUint64(1)) }, ErrFirstAccess},
		{"memory reads zero", func(d *Dictionary) { d.MemoryRead(1, 40, 0) }, nil},
		{"memory reads non-zero", func(d *Dictionary) { d.MemoryRead(1, 40, 3) }, ErrStaleRead},
		{"storage prev not committed", func(d *Dictionary) {
			d.StorageWrite(1, testAddr, slotK, field.WordFromUint64(2), field.WordFromUint64(1), field.ZeroWord(), nil)
		}, ErrFirstAccess},
		{"access list starts cold", func(d *Dictionary) {
			d.TxAccessListAccountWrite(1, testAddr, true, true, nil)
		}, ErrFirstAccess},
		{"stack pointer range", func(d *Dictionary) { d.StackWrite(1, 1024, field.ZeroWord()) }, ErrKeyRange},
	}
	for _, tt := range tests {
		d := NewDictionary()
		tt.build(d)
		err := Check(mustTable(t, d), 0)
		if tt.want == nil {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestReversionTwins(t *testing.T) {
	d := NewDictionary()
	initial := field.WordFromUint64(1)
	v := field.WordFromUint64(99)

	// Two reversible writes at 1 and 2, twins reserved at 4 and 3.
	rev := &Reversion{End: 4}
	d.StorageWrite(1, testAddr, slotK, v, initial, initial, rev)
	d.TxAccessListAccountWrite(1, testAddr, true, false, rev)
	if rev.Counter != 2 {
		t.Fatalf("reversion counter = %d, want 2", rev.Counter)
	}
	twin, ok := d.Get(4)
	if !ok || !twin.Value.Equal(initial) || !twin.ValuePrev.Equal(v) || !twin.IsWrite {
		t.Fatalf("storage twin = %+v", twin)
	}
	// Slots 3 and 4 are taken by twins; the next append lands on 5.
	r := d.StorageRead(1, testAddr, slotK, initial, initial)
	if r.RWCounter != 5 {
		t.Fatalf("read landed on %d, want 5", r.RWCounter)
	}
	tbl := mustTable(t, d)
	if err := Check(tbl, 0); err != nil {
		t.Fatalf("check: %v", err)
	}
	final, start := Final(tbl), Initial(tbl)
	key := r.Key()
	if !final[key].Equal(start[key]) {
		t.Fatalf("reverted slot final %s, initial %s", final[key], start[key])
	}
}

func TestPersistentFrameHasNoTwins(t *testing.T) {
	d := NewDictionary()
	rev := &Reversion{IsPersistent: true}
	d.TxRefundWrite(1, 4800, 0, rev)
	d.TxRefundWrite(1, 9600, 4800, rev)
	tbl := mustTable(t, d)
	if tbl.Len() != 3 {
		t.Fatalf("len = %d, want 3", tbl.Len())
	}
	if rev.Counter != 2 {
		t.Fatalf("counter = %d, want 2", rev.Counter)
	}
	if err := Check(tbl, 0); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckPrevChain(t *testing.T) {
	d := NewDictionary()
	d.AccountWrite(testAddr, AccountBalance, field.WordFromUint64(10), field.WordFromUint64(20), nil)
	d.AccountWrite(testAddr, AccountBalance, field.WordFromUint64(5), field.WordFromUint64(20), nil)
	if err := Check(mustTable(t, d), 0); !errors.Is(err, ErrPrevMismatch) {
		t.Fatalf("err = %v, want ErrPrevMismatch", err)
	}
}

func TestCheckCommittedAcrossTxs(t *testing.T) {
	d := NewDictionary()
	zero, one := field.ZeroWord(), field.WordFromUint64(1)
	d.StorageWrite(1, testAddr, slotK, one, zero, zero, nil)
	d.StorageRead(2, testAddr, slotK, one, one)
	if err := Check(mustTable(t, d), 0); err != nil {
		t.Fatalf("check: %v", err)
	}

	d = NewDictionary()
	d.StorageWrite(1, testAddr, slotK, one, zero, zero, nil)
	d.StorageRead(2, testAddr, slotK, one, zero)
	if err := Check(mustTable(t, d), 0); !errors.Is(err, ErrCommitted) {
		t.Fatalf("err = %v, want ErrCommitted", err)
	}
}

func TestCheckRowLimit(t *testing.T) {
	d := NewDictionary()
	d.MemoryWrite(1, 0, 1)
	d.MemoryWrite(1, 1, 2)
	if err := Check(mustTable(t, d), 2); !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("err = %v, want ErrTooManyRows", err)
	}
}

func TestPatch(t *testing.T) {
	d := NewDictionary()
	r := d.CallContextWrite(3, CallIsSuccess, field.ZeroWord())
	if err := d.Patch(r.RWCounter, func(r *Record) { r.Value = field.WordFromBool(true) }); err != nil {
		t.Fatal(err)
	}
	got, _ := d.Get(r.RWCounter)
	if !got.Value.Equal(field.WordFromUint64(1)) {
		t.Fatalf("patched value = %s", got.Value)
	}
	if err := d.Patch(77, func(*Record) {}); !errors.Is(err, ErrCounterNotFound) {
		t.Fatalf("err = %v, want ErrCounterNotFound", err)
	}
}

func TestCheckMPT(t *testing.T) {
	d := NewDictionary()
	zero, one := field.ZeroWord(), field.WordFromUint64(1)
	d.StorageWrite(1, testAddr, slotK, one, zero, zero, nil)
	d.AccountRead(testAddr, AccountNonce, one)
	tbl := mustTable(t, d)

	mpt := tables.NewMPTTable()
	if err := CheckMPT(tbl, mpt); !errors.Is(err, ErrMPTUncovered) {
		t.Fatalf("err = %v, want ErrMPTUncovered", err)
	}
	mpt.Add(tables.MPTUpdate{Address: testAddr, StorageKey: slotK, ProofType: tables.MPTStorageChanged, OldValue: zero, NewValue: one})
	if err := CheckMPT(tbl, mpt); err != nil {
		t.Fatalf("check mpt: %v", err)
	}
}

func TestKeyOrder(t *testing.T) {
	a := Record{Tag: TagStack, Key1: field.NewFQ(1), Key3: field.NewFQ(5)}.Key()
	b := Record{Tag: TagStack, Key1: field.NewFQ(1), Key3: field.NewFQ(6)}.Key()
	c := Record{Tag: TagMemory}.Key()
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Fatal("stack keys out of order")
	}
	if b.Compare(c) >= 0 {
		t.Fatal("tags must order before keys")
	}
	if AddressOf(Record{Key1: addressFQ(testAddr)}.Key1) != testAddr {
		t.Fatal("address key round trip")
	}
}
