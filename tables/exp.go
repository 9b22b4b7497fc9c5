package tables

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/field"
)

type expKey struct {
	base, exponent field.Word
}

// ExpTable holds (base, exponent, base^exponent mod 2^256) rows. The exp
// circuit proves each row by square-and-multiply over the exponent bits.
type ExpTable struct {
	rows map[expKey]field.Word
}

// NewExpTable returns an empty table.
func NewExpTable() *ExpTable {
	return &ExpTable{rows: make(map[expKey]field.Word)}
}

// Add records base^exponent and returns it.
func (t *ExpTable) Add(base, exponent *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Exp(base, exponent)
	t.rows[expKey{field.WordFromUint256(base), field.WordFromUint256(exponent)}] = field.WordFromUint256(out)
	return out
}

// Lookup returns base^exponent if the row exists.
func (t *ExpTable) Lookup(base, exponent field.Word) (field.Word, bool) {
	v, ok := t.rows[expKey{base, exponent}]
	return v, ok
}

// Len returns the number of rows.
func (t *ExpTable) Len() int { return len(t.rows) }
