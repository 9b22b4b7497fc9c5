package tables

import (
	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
)

type keccakKey struct {
	rlc    field.FQ
	length uint64
}

// KeccakTable maps (input_rlc, input_len) to the keccak256 digest of the
// input bytes. Inputs are compressed with field.RLCAcc under a fixed
// randomness.
type KeccakTable struct {
	r    field.FQ
	rows map[keccakKey]field.Word
}

// NewKeccakTable returns an empty table compressing inputs with r.
func NewKeccakTable(r field.FQ) *KeccakTable {
	return &KeccakTable{r: r, rows: make(map[keccakKey]field.Word)}
}

// Add hashes input, records the row and returns the digest.
func (t *KeccakTable) Add(input []byte) field.Word {
	digest := field.WordFromBytes(crypto.Keccak256(input))
	t.rows[keccakKey{rlc: field.RLCAcc(input, t.r), length: uint64(len(input))}] = digest
	return digest
}

// Lookup returns the digest of the input with the given RLC and length.
func (t *KeccakTable) Lookup(rlc field.FQ, length field.FQ) (field.Word, bool) {
	n, ok := length.Uint64()
	if !ok {
		return field.Word{}, false
	}
	d, ok := t.rows[keccakKey{rlc: rlc, length: n}]
	return d, ok
}

// Len returns the number of rows.
func (t *KeccakTable) Len() int { return len(t.rows) }
