package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// CreatePreimage returns RLP([sender, nonce]), the keccak input that
// determines a CREATE address.
func CreatePreimage(sender common.Address, nonce uint64) []byte {
	data, err := rlp.EncodeToBytes([]interface{}{sender, nonce})
	if err != nil {
		// Encoding a fixed-size address and an integer cannot fail.
		panic(err)
	}
	return data
}

// Create2Preimage returns 0xff ++ sender ++ salt ++ initCodeHash, the keccak
// input that determines a CREATE2 address.
func Create2Preimage(sender common.Address, salt, initCodeHash common.Hash) []byte {
	out := make([]byte, 0, 1+common.AddressLength+2*common.HashLength)
	out = append(out, 0xff)
	out = append(out, sender.Bytes()...)
	out = append(out, salt.Bytes()...)
	return append(out, initCodeHash.Bytes()...)
}

// CreateAddress derives the address of a contract created by sender with
// the given nonce.
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	return common.BytesToAddress(Keccak256(CreatePreimage(sender, nonce))[12:])
}

// CreateAddress2 derives the address of a contract created with CREATE2.
func CreateAddress2(sender common.Address, salt, initCodeHash common.Hash) common.Address {
	return common.BytesToAddress(Keccak256(Create2Preimage(sender, salt, initCodeHash))[12:])
}
