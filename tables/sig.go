package tables

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
)

type sigKey struct {
	hash, v, r, s field.Word
}

// SigResult is the output side of a sig table row.
type SigResult struct {
	Address common.Address
	IsValid bool
}

// SigTable holds ECDSA public key recoveries over secp256k1 keyed by
// (msg_hash, v, r, s). v is 27 or 28 as in the ECRECOVER input.
type SigTable struct {
	rows map[sigKey]SigResult
}

// NewSigTable returns an empty table.
func NewSigTable() *SigTable {
	return &SigTable{rows: make(map[sigKey]SigResult)}
}

// Recover records the recovery of the 128-byte ECRECOVER input
// hash ‖ v ‖ r ‖ s (right-padded) and returns the result row.
func (t *SigTable) Recover(input []byte) SigResult {
	in := padRight(input, 128)
	key := sigKey{hash: wordAt(in, 0), v: wordAt(in, 32), r: wordAt(in, 64), s: wordAt(in, 96)}
	res := recoverAddress(in)
	t.rows[key] = res
	return res
}

func recoverAddress(in []byte) SigResult {
	v := new(big.Int).SetBytes(in[32:64])
	if !v.IsUint64() || (v.Uint64() != 27 && v.Uint64() != 28) {
		return SigResult{}
	}
	recID := byte(v.Uint64() - 27)
	r, s := new(big.Int).SetBytes(in[64:96]), new(big.Int).SetBytes(in[96:128])
	if !gethcrypto.ValidateSignatureValues(recID, r, s, false) {
		return SigResult{}
	}
	sig := make([]byte, 65)
	copy(sig, in[64:128])
	sig[64] = recID
	pub, err := gethcrypto.Ecrecover(in[:32], sig)
	if err != nil {
		return SigResult{}
	}
	return SigResult{Address: common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]), IsValid: true}
}

// Lookup returns the recovery row of (hash, v, r, s).
func (t *SigTable) Lookup(hash, v, r, s field.Word) (SigResult, bool) {
	res, ok := t.rows[sigKey{hash, v, r, s}]
	return res, ok
}

// Len returns the number of rows.
func (t *SigTable) Len() int { return len(t.rows) }
