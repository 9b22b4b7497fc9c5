package rw

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/zkevm/field"
)

// Reversion locates the twins of a call frame's reversible writes. The k-th
// reversible write (k counted from zero) of a frame that does not persist
// is undone by a write at End - k.
type Reversion struct {
	End          uint64
	Counter      uint64
	IsPersistent bool
}

// Next consumes one reversible write and returns the slot of its twin and
// whether a twin is needed.
func (r *Reversion) Next() (slot uint64, twin bool) {
	slot = r.End - r.Counter
	r.Counter++
	return slot, !r.IsPersistent
}

// Dictionary assembles a bus. Records are appended at a moving counter;
// twins and other out-of-band records are placed at explicit counters.
// The Start row at counter 0 is created up front.
type Dictionary struct {
	counter uint64
	records map[uint64]Record
}

// NewDictionary returns a bus holding only the Start row.
func NewDictionary() *Dictionary {
	d := &Dictionary{counter: 1, records: make(map[uint64]Record)}
	d.records[0] = Record{Tag: TagStart}
	return d
}

// Counter returns the counter the next appended record receives.
func (d *Dictionary) Counter() uint64 { return d.counter }

// Skip advances the counter past n slots reserved for twins.
func (d *Dictionary) Skip(n uint64) { d.counter += n }

// Append adds r at the current counter. When rev is given the write is
// reversible: the frame counter advances and, for non-persistent frames,
// its twin is placed at the reserved slot.
func (d *Dictionary) Append(r Record, rev *Reversion) Record {
	for {
		if _, taken := d.records[d.counter]; !taken {
			break
		}
		d.counter++
	}
	r.RWCounter = d.counter
	d.records[d.counter] = r
	d.counter++
	if rev != nil {
		if slot, twin := rev.Next(); twin {
			d.records[slot] = r.Twin(slot)
		}
	}
	return r
}

// Put places r at r.RWCounter.
func (d *Dictionary) Put(r Record) error {
	if _, taken := d.records[r.RWCounter]; taken {
		return fmt.Errorf("%w: %d", ErrCounterTaken, r.RWCounter)
	}
	d.records[r.RWCounter] = r
	return nil
}

// Patch rewrites the record at counter in place. The witness generator uses
// it for values only known once a callee has finished.
func (d *Dictionary) Patch(counter uint64, f func(*Record)) error {
	r, ok := d.records[counter]
	if !ok {
		return fmt.Errorf("%w: %d", ErrCounterNotFound, counter)
	}
	f(&r)
	d.records[counter] = r
	return nil
}

// Get returns the record at counter.
func (d *Dictionary) Get(counter uint64) (Record, bool) {
	r, ok := d.records[counter]
	return r, ok
}

// Records returns the records ordered by counter.
func (d *Dictionary) Records() []Record {
	keys := make([]uint64, 0, len(d.records))
	for k := range d.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Record, len(keys))
	for i, k := range keys {
		out[i] = d.records[k]
	}
	return out
}

// Table finishes the bus.
func (d *Dictionary) Table() (*Table, error) {
	return NewTable(d.Records())
}

func fq(v uint64) field.FQ { return field.NewFQ(v) }

func addressFQ(a common.Address) field.FQ { return field.WordFromAddress(a).ToFQ() }

// StackRead reads the stack slot sp of a call.
func (d *Dictionary) StackRead(callID, sp uint64, v field.Word) Record {
	return d.Append(Record{Tag: TagStack, Key1: fq(callID), Key3: fq(sp), Value: v}, nil)
}

// StackWrite writes the stack slot sp of a call.
func (d *Dictionary) StackWrite(callID, sp uint64, v field.Word) Record {
	return d.Append(Record{IsWrite: true, Tag: TagStack, Key1: fq(callID), Key3: fq(sp), Value: v}, nil)
}

// MemoryRead reads one byte of a call's memory.
func (d *Dictionary) MemoryRead(callID, addr uint64, b byte) Record {
	return d.Append(Record{Tag: TagMemory, Key1: fq(callID), Key3: fq(addr), Value: field.WordFromUint64(uint64(b))}, nil)
}

// MemoryWrite writes one byte of a call's memory.
func (d *Dictionary) MemoryWrite(callID, addr uint64, b byte) Record {
	return d.Append(Record{IsWrite: true, Tag: TagMemory, Key1: fq(callID), Key3: fq(addr), Value: field.WordFromUint64(uint64(b))}, nil)
}

// CallContextRead reads a call context field.
func (d *Dictionary) CallContextRead(callID uint64, f CallContextFieldTag, v field.Word) Record {
	return d.Append(Record{Tag: TagCallContext, Key1: fq(callID), Key2: fq(uint64(f)), Value: v}, nil)
}

// CallContextWrite writes a call context field.
func (d *Dictionary) CallContextWrite(callID uint64, f CallContextFieldTag, v field.Word) Record {
	return d.Append(Record{IsWrite: true, Tag: TagCallContext, Key1: fq(callID), Key2: fq(uint64(f)), Value: v}, nil)
}

func storageRecord(txID uint64, addr common.Address, key, committed field.Word) Record {
	return Record{Tag: TagStorage, Key1: addressFQ(addr), Key4: key, Aux0: fq(txID), Aux1: committed}
}

// StorageRead reads a storage slot.
func (d *Dictionary) StorageRead(txID uint64, addr common.Address, key, v, committed field.Word) Record {
	r := storageRecord(txID, addr, key, committed)
	r.Value, r.ValuePrev = v, v
	return d.Append(r, nil)
}

// StorageWrite writes a storage slot.
func (d *Dictionary) StorageWrite(txID uint64, addr common.Address, key, v, prev, committed field.Word, rev *Reversion) Record {
	r := storageRecord(txID, addr, key, committed)
	r.IsWrite, r.Value, r.ValuePrev = true, v, prev
	return d.Append(r, rev)
}

// TxRefundRead reads the refund counter of a tx.
func (d *Dictionary) TxRefundRead(txID, v uint64) Record {
	w := field.WordFromUint64(v)
	return d.Append(Record{Tag: TagTxRefund, Key1: fq(txID), Value: w, ValuePrev: w}, nil)
}

// TxRefundWrite writes the refund counter of a tx.
func (d *Dictionary) TxRefundWrite(txID, v, prev uint64, rev *Reversion) Record {
	return d.Append(Record{IsWrite: true, Tag: TagTxRefund, Key1: fq(txID),
		Value: field.WordFromUint64(v), ValuePrev: field.WordFromUint64(prev)}, rev)
}

// TxAccessListAccountWrite marks addr warm (or restores it) in a tx's
// access list.
func (d *Dictionary) TxAccessListAccountWrite(txID uint64, addr common.Address, v, prev bool, rev *Reversion) Record {
	return d.Append(Record{IsWrite: true, Tag: TagTxAccessListAccount, Key1: fq(txID), Key2: addressFQ(addr),
		Value: field.WordFromBool(v), ValuePrev: field.WordFromBool(prev)}, rev)
}

// TxAccessListAccountRead reads the warm flag of addr.
func (d *Dictionary) TxAccessListAccountRead(txID uint64, addr common.Address, v bool) Record {
	w := field.WordFromBool(v)
	return d.Append(Record{Tag: TagTxAccessListAccount, Key1: fq(txID), Key2: addressFQ(addr), Value: w, ValuePrev: w}, nil)
}

// TxAccessListAccountStorageWrite marks a slot warm in a tx's access list.
func (d *Dictionary) TxAccessListAccountStorageWrite(txID uint64, addr common.Address, key field.Word, v, prev bool, rev *Reversion) Record {
	return d.Append(Record{IsWrite: true, Tag: TagTxAccessListAccountStorage, Key1: fq(txID), Key2: addressFQ(addr), Key4: key,
		Value: field.WordFromBool(v), ValuePrev: field.WordFromBool(prev)}, rev)
}

// TxAccessListAccountStorageRead reads the warm flag of a slot.
func (d *Dictionary) TxAccessListAccountStorageRead(txID uint64, addr common.Address, key field.Word, v bool) Record {
	w := field.WordFromBool(v)
	return d.Append(Record{Tag: TagTxAccessListAccountStorage, Key1: fq(txID), Key2: addressFQ(addr), Key4: key,
		Value: w, ValuePrev: w}, nil)
}

// AccountRead reads an account field.
func (d *Dictionary) AccountRead(addr common.Address, f AccountFieldTag, v field.Word) Record {
	return d.Append(Record{Tag: TagAccount, Key1: addressFQ(addr), Key2: fq(uint64(f)), Value: v, ValuePrev: v}, nil)
}

// AccountWrite writes an account field.
func (d *Dictionary) AccountWrite(addr common.Address, f AccountFieldTag, v, prev field.Word, rev *Reversion) Record {
	return d.Append(Record{IsWrite: true, Tag: TagAccount, Key1: addressFQ(addr), Key2: fq(uint64(f)), Value: v, ValuePrev: prev}, rev)
}

// TxLogWrite appends one part of a log.
func (d *Dictionary) TxLogWrite(txID, logID uint64, f TxLogFieldTag, index uint64, v field.Word) Record {
	return d.Append(Record{IsWrite: true, Tag: TagTxLog, Key1: fq(txID), Key2: fq(logID), Key3: fq(uint64(f)),
		Key4: field.WordFromUint64(index), Value: v}, nil)
}

// TxReceiptWrite writes a receipt field.
func (d *Dictionary) TxReceiptWrite(txID uint64, f TxReceiptFieldTag, v uint64) Record {
	return d.Append(Record{IsWrite: true, Tag: TagTxReceipt, Key1: fq(txID), Key2: fq(uint64(f)), Value: field.WordFromUint64(v)}, nil)
}

// TxReceiptRead reads a receipt field.
func (d *Dictionary) TxReceiptRead(txID uint64, f TxReceiptFieldTag, v uint64) Record {
	return d.Append(Record{Tag: TagTxReceipt, Key1: fq(txID), Key2: fq(uint64(f)), Value: field.WordFromUint64(v)}, nil)
}
