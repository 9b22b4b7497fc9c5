package tables

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/field"
)

var testR = field.NewFQ(0x1234567)

func TestBytecodeIsCode(t *testing.T) {
	// PUSH2 0x5b 0x5b JUMPDEST STOP
	b := NewBytecode([]byte{0x61, 0x5b, 0x5b, 0x5b, 0x00})
	want := []bool{true, false, false, true, true}
	for i, w := range want {
		_, isCode, ok := b.At(uint64(i))
		if !ok || isCode != w {
			t.Fatalf("byte %d: is_code = %v, want %v", i, isCode, w)
		}
	}
	if b.IsJumpDest(1) || !b.IsJumpDest(3) {
		t.Fatal("jumpdest inside push data must not count")
	}
	rows := b.Rows()
	if len(rows) != 6 || rows[0].Tag != BytecodeHeader || rows[0].Value != 5 {
		t.Fatalf("unexpected header row %+v", rows[0])
	}
	if b.Hash != crypto.Keccak256Hash(b.Code) {
		t.Fatal("hash mismatch")
	}
}

func TestBytecodeTableLookup(t *testing.T) {
	tbl := NewBytecodeTable([]byte{0x60, 0x01, 0x00})
	tbl.Add([]byte{0x60, 0x01, 0x00})
	if len(tbl.Codes()) != 1 || tbl.Len() != 4 {
		t.Fatalf("duplicate code registered: %d codes, %d rows", len(tbl.Codes()), tbl.Len())
	}
	hash := tbl.Codes()[0].HashWord()
	if _, n, ok := tbl.Lookup(hash, BytecodeHeader, field.Zero()); !ok || n != 3 {
		t.Fatalf("header lookup = %d, %v", n, ok)
	}
	if isCode, v, ok := tbl.Lookup(hash, BytecodeByte, field.NewFQ(1)); !ok || isCode || v != 1 {
		t.Fatalf("push data lookup = %v %d %v", isCode, v, ok)
	}
	if _, _, ok := tbl.Lookup(hash, BytecodeByte, field.NewFQ(3)); ok {
		t.Fatal("out of range index found")
	}
	if _, _, ok := tbl.Lookup(field.WordFromUint64(1), BytecodeHeader, field.Zero()); ok {
		t.Fatal("unknown hash found")
	}
}

func TestBlockTable(t *testing.T) {
	history := make([]common.Hash, 300)
	for i := range history {
		history[i] = common.BigToHash(big.NewInt(int64(i + 1)))
	}
	b := &Block{Number: 300, Timestamp: 7, GasLimit: 30_000_000, ChainID: uint256.NewInt(1), History: history}
	tbl := NewBlockTable(b)
	if v, ok := tbl.Lookup(BlockHash, field.NewFQ(299)); !ok || !v.Equal(field.WordFromHash(history[299])) {
		t.Fatalf("hash of parent = %v, %v", v, ok)
	}
	if _, ok := tbl.Lookup(BlockHash, field.NewFQ(43)); ok {
		t.Fatal("block 43 is outside the 256 window")
	}
	if _, ok := tbl.Lookup(BlockHash, field.NewFQ(44)); !ok {
		t.Fatal("block 44 is inside the 256 window")
	}
	if v, ok := tbl.Lookup(BlockTimestamp, field.Zero()); !ok || !v.Equal(field.WordFromUint64(7)) {
		t.Fatal("timestamp row missing")
	}
}

func TestTxTable(t *testing.T) {
	to := common.HexToAddress("0xbb")
	tx := &Tx{
		ID: 1, Nonce: 3, Gas: 100000, GasPrice: uint256.NewInt(2),
		Caller: common.HexToAddress("0xaa"), Callee: &to, Value: uint256.NewInt(5),
		CallData: []byte{0, 1, 2},
		AccessList: types.AccessList{
			{Address: to, StorageKeys: []common.Hash{{1}, {2}}},
		},
	}
	if got, want := tx.CallDataGasCost(), uint64(4+16+16); got != want {
		t.Fatalf("calldata gas = %d, want %d", got, want)
	}
	if got, want := tx.IntrinsicGas(), uint64(21000+36+2400+2*1900); got != want {
		t.Fatalf("intrinsic gas = %d, want %d", got, want)
	}
	chainID := big.NewInt(1)
	tbl := NewTxTable(chainID, []*Tx{tx})
	id := field.One()
	cases := []struct {
		tag   TxContextFieldTag
		index uint64
		want  field.Word
	}{
		{TxNonce, 0, field.WordFromUint64(3)},
		{TxCalleeAddress, 0, field.WordFromAddress(to)},
		{TxCallData, 2, field.WordFromUint64(2)},
		{TxCallDataLength, 0, field.WordFromUint64(3)},
		{TxAccessListStorageKey, 1, field.WordFromHash(common.Hash{2})},
		{TxAccessListStorageAddress, 0, field.WordFromAddress(to)},
		{TxIsCreate, 0, field.ZeroWord()},
		{TxSignHash, 0, field.WordFromHash(types.NewEIP2930Signer(chainID).Hash(tx.Transaction(chainID)))},
	}
	for _, c := range cases {
		got, ok := tbl.Lookup(id, c.tag, field.NewFQ(c.index))
		if !ok || !got.Equal(c.want) {
			t.Errorf("tag %d index %d = %v (%v), want %v", c.tag, c.index, got, ok, c.want)
		}
	}
	if _, ok := tbl.Lookup(field.NewFQ(2), TxNonce, field.Zero()); ok {
		t.Fatal("unknown tx found")
	}
}

func TestKeccakTable(t *testing.T) {
	tbl := NewKeccakTable(testR)
	in := []byte("zkevm")
	d := tbl.Add(in)
	if !d.Equal(field.WordFromHash(crypto.Keccak256Hash(in))) {
		t.Fatal("digest mismatch")
	}
	got, ok := tbl.Lookup(field.RLCAcc(in, testR), field.NewFQ(5))
	if !ok || !got.Equal(d) {
		t.Fatal("lookup by rlc failed")
	}
	if _, ok := tbl.Lookup(field.RLCAcc(in, testR), field.NewFQ(6)); ok {
		t.Fatal("length is part of the key")
	}
}

func TestExpTable(t *testing.T) {
	tbl := NewExpTable()
	out := tbl.Add(uint256.NewInt(3), uint256.NewInt(5))
	if out.Uint64() != 243 {
		t.Fatalf("3^5 = %d", out.Uint64())
	}
	if v, ok := tbl.Lookup(field.WordFromUint64(3), field.WordFromUint64(5)); !ok || !v.Equal(field.WordFromUint64(243)) {
		t.Fatal("lookup failed")
	}
}

func g1Generator() []byte {
	out := make([]byte, 64)
	out[31], out[63] = 1, 2
	return out
}

func TestECCAgainstPrecompiles(t *testing.T) {
	ecc := NewECCTable(testR)
	pre := NewPrecompileTable(testR)

	addIn := append(g1Generator(), g1Generator()...)
	sum := ecc.AddPoints(addIn)
	res, ok := pre.Run(PrecompileBn254Add, addIn)
	if !ok || !res.IsSuccess || !sum.IsValid {
		t.Fatal("addition of generators must succeed")
	}
	x, y := sum.X.Hash(), sum.Y.Hash()
	if !bytes.Equal(res.Output, append(x[:], y[:]...)) {
		t.Fatalf("add output %x differs from precompile %x", append(x[:], y[:]...), res.Output)
	}

	mulIn := append(g1Generator(), common.BigToHash(big.NewInt(2)).Bytes()...)
	prod := ecc.MulPoint(mulIn)
	if !prod.X.Equal(sum.X) || !prod.Y.Equal(sum.Y) {
		t.Fatal("2·G must equal G+G")
	}
	if got, ok := ecc.LookupMul(field.WordFromUint64(1), field.WordFromUint64(2), field.WordFromUint64(2)); !ok || !got.X.Equal(sum.X) {
		t.Fatal("mul lookup failed")
	}

	bad := g1Generator()
	bad[63] = 3
	if r := ecc.AddPoints(append(bad, g1Generator()...)); r.IsValid {
		t.Fatal("point off the curve accepted")
	}

	if r := ecc.Pairing(nil); !r.IsValid || !r.X.Equal(field.WordFromUint64(1)) {
		t.Fatal("empty pairing must be valid and true")
	}
	if r := ecc.Pairing(make([]byte, 100)); r.IsValid {
		t.Fatal("pairing input of bad length accepted")
	}
	if _, ok := ecc.LookupPairing(field.RLCAcc(nil, testR), 0); !ok {
		t.Fatal("pairing lookup failed")
	}
}

func TestSigTable(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	hash := crypto.Keccak256([]byte("message"))
	sig, err := gethcrypto.Sign(hash, key)
	if err != nil {
		t.Fatal(err)
	}
	input := make([]byte, 128)
	copy(input, hash)
	input[63] = sig[64] + 27
	copy(input[64:], sig[:64])

	tbl := NewSigTable()
	res := tbl.Recover(input)
	if !res.IsValid || res.Address != gethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("recovered %x, valid %v", res.Address, res.IsValid)
	}
	pre, _ := NewPrecompileTable(testR).Run(PrecompileEcrecover, input)
	if !bytes.Equal(pre.Output, common.BytesToHash(res.Address.Bytes()).Bytes()) {
		t.Fatal("sig table disagrees with the ecrecover precompile")
	}

	input[63] = 29
	if res := tbl.Recover(input); res.IsValid {
		t.Fatal("v = 29 accepted")
	}
}

func TestPrecompileTable(t *testing.T) {
	tbl := NewPrecompileTable(testR)
	in := []byte{1, 2, 3}
	res, ok := tbl.Run(PrecompileIdentity, in)
	if !ok || !bytes.Equal(res.Output, in) || res.Gas != 15+3 {
		t.Fatalf("identity: %+v", res)
	}
	got, ok := tbl.Lookup(PrecompileIdentity, field.RLCAcc(in, testR), 3)
	if !ok || !got.OutputRLC.Equal(field.RLCAcc(in, testR)) {
		t.Fatal("identity lookup failed")
	}
	if _, ok := tbl.Run(common.HexToAddress("0x0a"), in); ok {
		t.Fatal("point evaluation is not active before Cancun")
	}
	for _, addr := range []common.Address{PrecompileEcrecover, PrecompileSha256, PrecompileRipemd160, PrecompileModexp, PrecompileBlake2F} {
		if !IsPrecompile(addr) {
			t.Fatalf("%x should be active", addr)
		}
	}
}

func TestMPTRootChain(t *testing.T) {
	tbl := NewMPTTable()
	r0, r1, r2 := common.Hash{1}, common.Hash{2}, common.Hash{3}
	addr := common.HexToAddress("0x01")
	tbl.Add(MPTUpdate{Address: addr, ProofType: MPTNonceChanged, OldRoot: r0, NewRoot: r1, NewValue: field.WordFromUint64(1)})
	tbl.Add(MPTUpdate{Address: addr, ProofType: MPTStorageChanged, StorageKey: field.WordFromUint64(9), OldRoot: r1, NewRoot: r2})
	final, err := tbl.CheckRoots(r0)
	if err != nil || final != r2 {
		t.Fatalf("root chain: %x, %v", final, err)
	}
	if _, err := tbl.CheckRoots(r1); !errors.Is(err, ErrMPTRootChain) {
		t.Fatalf("want ErrMPTRootChain, got %v", err)
	}
	if u, ok := tbl.Lookup(addr, MPTNonceChanged, field.ZeroWord()); !ok || !u.NewValue.Equal(field.WordFromUint64(1)) {
		t.Fatal("nonce update lookup failed")
	}
}

func TestCopyRWAccesses(t *testing.T) {
	cases := []struct {
		src, dst       CopyDataType
		addr, end, len uint64
		want           uint64
	}{
		{CopyMemory, CopyMemory, 0, 10, 10, 20},
		{CopyMemory, CopyMemory, 5, 10, 10, 15},
		{CopyTxCalldata, CopyMemory, 0, 4, 32, 32},
		{CopyBytecode, CopyMemory, 0, 4, 8, 8},
		{CopyMemory, CopyRlcAcc, 0, 64, 64, 64},
		{CopyMemory, CopyTxLog, 0, 3, 3, 6},
	}
	for _, c := range cases {
		if got := RWAccesses(c.src, c.addr, c.end, c.dst, c.len); got != c.want {
			t.Errorf("%v->%v [%d,%d) len %d: %d, want %d", c.src, c.dst, c.addr, c.end, c.len, got, c.want)
		}
	}
	tbl := NewCopyTable()
	ev := CopyEvent{SrcType: CopyMemory, DstType: CopyMemory, Length: 4}
	tbl.Add(ev)
	tbl.Add(ev)
	if tbl.Len() != 1 || !tbl.Contains(ev) {
		t.Fatal("copy table dedup failed")
	}
}
