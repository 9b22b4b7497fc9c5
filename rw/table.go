package rw

import (
	"errors"
	"fmt"
)

// Bus errors.
var (
	ErrCounterGap      = errors.New("rw: rw_counter is not dense")
	ErrCounterTaken    = errors.New("rw: rw_counter already used")
	ErrStartRow        = errors.New("rw: malformed start row")
	ErrCounterNotFound = errors.New("rw: no record at rw_counter")
)

// Table is a finished bus: one record per rw_counter from 0, where
// counter 0 holds the Start row.
type Table struct {
	records []Record
}

// NewTable validates records and returns the bus. Records may be given in
// any order; they must cover every counter from 0 exactly once.
func NewTable(records []Record) (*Table, error) {
	out := make([]Record, len(records))
	seen := make([]bool, len(records))
	for _, r := range records {
		if r.RWCounter >= uint64(len(records)) {
			return nil, fmt.Errorf("%w: counter %d in a bus of %d rows", ErrCounterGap, r.RWCounter, len(records))
		}
		if seen[r.RWCounter] {
			return nil, fmt.Errorf("%w: %d", ErrCounterTaken, r.RWCounter)
		}
		seen[r.RWCounter] = true
		out[r.RWCounter] = r
	}
	if len(out) == 0 || out[0].Tag != TagStart {
		return nil, ErrStartRow
	}
	for _, r := range out[1:] {
		if r.Tag == TagStart {
			return nil, fmt.Errorf("%w: start row at %d", ErrStartRow, r.RWCounter)
		}
	}
	return &Table{records: out}, nil
}

// At returns the record with the given counter.
func (t *Table) At(counter uint64) (Record, bool) {
	if counter >= uint64(len(t.records)) {
		return Record{}, false
	}
	return t.records[counter], true
}

// Len returns the number of records including the Start row.
func (t *Table) Len() int { return len(t.records) }

// Records returns every record ordered by counter.
func (t *Table) Records() []Record { return t.records }
