// Package tables materializes the lookup relations the execution circuit
// consults: the fixed tables of the limb algebra and the witness tables of
// the surrounding circuits (bytecode, block, tx, copy, keccak, exp, ecc,
// sig, precompile, mpt).
package tables

import (
	"sync"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
)

// Set is an immutable table of fixed-width rows. Each row is compressed into
// one field element by a random linear combination with a coefficient fixed
// for the table, so membership is a single map lookup. Rows are generated on
// first use.
type Set struct {
	name  string
	width int
	r     field.FQ
	build func(add func(row ...field.FQ))

	once sync.Once
	rows map[field.FQ]struct{}
}

// NewSet returns a table whose rows are produced by build.
func NewSet(name string, width int, build func(add func(row ...field.FQ))) *Set {
	return &Set{
		name:  name,
		width: width,
		r:     Coefficient(name),
		build: build,
	}
}

// Coefficient derives the compression coefficient of a named table.
func Coefficient(name string) field.FQ {
	return field.FromBytes(crypto.Keccak256([]byte("zkevm.table."), []byte(name)))
}

func (s *Set) materialize() {
	s.once.Do(func() {
		s.rows = make(map[field.FQ]struct{})
		s.build(func(row ...field.FQ) {
			if len(row) != s.width {
				panic("tables: row width mismatch in " + s.name)
			}
			s.rows[field.RLC(row, s.r)] = struct{}{}
		})
	})
}

// Name returns the table name.
func (s *Set) Name() string { return s.name }

// Width returns the number of columns.
func (s *Set) Width() int { return s.width }

// Len returns the number of distinct rows.
func (s *Set) Len() int {
	s.materialize()
	return len(s.rows)
}

// Contains reports whether row is in the table. Rows of the wrong width are
// never members.
func (s *Set) Contains(row ...field.FQ) bool {
	if len(row) != s.width {
		return false
	}
	s.materialize()
	_, ok := s.rows[field.RLC(row, s.r)]
	return ok
}
