package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestKeccak256EmptyString(t *testing.T) {
	got := hex.EncodeToString(Keccak256([]byte{}))
	want := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got != want {
		t.Errorf("Keccak256(empty) = %s, want %s", got, want)
	}
	if EmptyCodeHash != common.HexToHash(want) {
		t.Errorf("EmptyCodeHash = %s, want %s", EmptyCodeHash.Hex(), want)
	}
}

func TestKeccak256Hello(t *testing.T) {
	got := hex.EncodeToString(Keccak256([]byte("hello")))
	want := "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"
	if got != want {
		t.Errorf("Keccak256(hello) = %s, want %s", got, want)
	}
}

func TestKeccak256MultipleInputs(t *testing.T) {
	combined := Keccak256([]byte("helloworld"))
	separate := Keccak256([]byte("hello"), []byte("world"))
	if hex.EncodeToString(combined) != hex.EncodeToString(separate) {
		t.Errorf("Keccak256 multi-input mismatch: %x != %x", combined, separate)
	}
}

func TestCreateAddressMatchesGeth(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000000000fe")
	for _, nonce := range []uint64{0, 1, 127, 128, 1 << 20} {
		got := CreateAddress(sender, nonce)
		want := gethcrypto.CreateAddress(sender, nonce)
		if got != want {
			t.Errorf("nonce %d: CreateAddress = %s, want %s", nonce, got.Hex(), want.Hex())
		}
	}
}

func TestCreateAddress2MatchesGeth(t *testing.T) {
	sender := common.HexToAddress("0xdeadbeef00000000000000000000000000000000")
	salt := common.HexToHash("0x2a")
	initCode := []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	initHash := Keccak256Hash(initCode)

	got := CreateAddress2(sender, salt, initHash)
	want := gethcrypto.CreateAddress2(sender, salt, initHash.Bytes())
	if got != want {
		t.Errorf("CreateAddress2 = %s, want %s", got.Hex(), want.Hex())
	}
	if n := len(Create2Preimage(sender, salt, initHash)); n != 85 {
		t.Errorf("preimage length = %d, want 85", n)
	}
}

func TestKeccak256Concurrent(t *testing.T) {
	want := gethcrypto.Keccak256Hash([]byte("zkevm"))
	results := make(chan common.Hash, 64)
	for i := 0; i < cap(results); i++ {
		go func() { results <- Keccak256Hash([]byte("zk"), []byte("evm")) }()
	}
	for i := 0; i < cap(results); i++ {
		if got := <-results; got != want {
			t.Fatalf("hash = %s, want %s", got.Hex(), want.Hex())
		}
	}
}
