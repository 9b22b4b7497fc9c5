// Package crypto holds the hashing and address derivation used by the
// circuit tables and the witness generator.
package crypto

import (
	"hash"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// EmptyCodeHash is the keccak256 of empty bytecode.
var EmptyCodeHash = Keccak256Hash(nil)

// keccakState is a sponge that squeezes into a caller's buffer.
type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// hasherPool recycles sponges across calls.
var hasherPool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256().(keccakState) },
}

func sum(out []byte, data [][]byte) {
	d := hasherPool.Get().(keccakState)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(out)
	hasherPool.Put(d)
}

// Keccak256 returns the Keccak-256 digest of the concatenated data.
func Keccak256(data ...[]byte) []byte {
	out := make([]byte, 32)
	sum(out, data)
	return out
}

// Keccak256Hash is Keccak256 as a common.Hash.
func Keccak256Hash(data ...[]byte) (h common.Hash) {
	sum(h[:], data)
	return h
}
