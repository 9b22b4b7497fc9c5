package witness

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/tables"
)

var (
	sender   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	receiver = common.HexToAddress("0x2000000000000000000000000000000000000002")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	inner    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// asm assembles opcodes and immediates into bytecode.
func asm(items ...any) []byte {
	var out []byte
	for _, it := range items {
		switch v := it.(type) {
		case vm.OpCode:
			out = append(out, byte(v))
		case int:
			out = append(out, byte(v))
		case []byte:
			out = append(out, v...)
		case common.Address:
			out = append(out, v.Bytes()...)
		default:
			panic("asm: unsupported item")
		}
	}
	return out
}

func testConfig(code map[common.Address][]byte) Config {
	cfg := DefaultConfig()
	cfg.Accounts = map[common.Address]Account{
		sender: {Balance: new(uint256.Int).Mul(uint256.NewInt(1e18), uint256.NewInt(10))},
	}
	for addr, c := range code {
		cfg.Accounts[addr] = Account{Nonce: 1, Balance: new(uint256.Int), Code: c}
	}
	return cfg
}

func callTx(nonce uint64, to common.Address, value uint64, data []byte) *tables.Tx {
	return &tables.Tx{
		Nonce:    nonce,
		Gas:      200_000,
		GasPrice: uint256.NewInt(10),
		Caller:   sender,
		Callee:   &to,
		Value:    uint256.NewInt(value),
		CallData: data,
	}
}

// mustTrace generates a trace for txs and checks that it verifies.
func mustTrace(t *testing.T, cfg Config, txs ...*tables.Tx) *Trace {
	t.Helper()
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := g.Generate(txs)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := tr.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(tr.Receipts) != len(txs) {
		t.Fatalf("receipts = %d, want %d", len(tr.Receipts), len(txs))
	}
	return tr
}

func storageUpdate(t *testing.T, tr *Trace, addr common.Address, key uint64) (tables.MPTUpdate, bool) {
	t.Helper()
	return tr.MPT.Lookup(addr, tables.MPTStorageChanged, word(key))
}

func countState(tr *Trace, state evm.ExecutionState) int {
	n := 0
	for _, s := range tr.Steps {
		if s.State == state {
			n++
		}
	}
	return n
}

func TestGenerateTransfer(t *testing.T) {
	tr := mustTrace(t, testConfig(nil),
		callTx(0, receiver, 1000, nil),
		callTx(1, receiver, 500, nil),
	)
	for k, r := range tr.Receipts {
		if !r.Status || r.Invalid {
			t.Fatalf("receipt %d: status %v invalid %v", k, r.Status, r.Invalid)
		}
		if r.GasUsed != 21000 {
			t.Fatalf("receipt %d: gas used = %d, want 21000", k, r.GasUsed)
		}
	}
	if got := tr.Receipts[1].CumulativeGasUsed; got != 42000 {
		t.Fatalf("cumulative gas = %d, want 42000", got)
	}
	u, ok := tr.MPT.Lookup(receiver, tables.MPTBalanceChanged, field.ZeroWord())
	if !ok {
		t.Fatal("no balance row for receiver")
	}
	if !u.NewValue.Equal(word(1500)) {
		t.Fatalf("receiver balance = %v, want 1500", u.NewValue)
	}
	if u, ok := tr.MPT.Lookup(sender, tables.MPTNonceChanged, field.ZeroWord()); !ok || !u.NewValue.Equal(word(2)) {
		t.Fatalf("sender nonce row = %v %v, want 2", u.NewValue, ok)
	}
	if tr.PreRoot == tr.PostRoot {
		t.Fatal("state root did not change")
	}
}

func TestGenerateStorageAndLog(t *testing.T) {
	code := asm(
		vm.PUSH1, 42, vm.PUSH1, 0, vm.SSTORE,
		vm.PUSH1, 0, vm.SLOAD, vm.PUSH1, 0, vm.MSTORE,
		vm.PUSH1, 0xaa, vm.PUSH1, 32, vm.PUSH1, 0, vm.LOG1,
		vm.STOP,
	)
	tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), callTx(0, contract, 0, nil))

	r := tr.Receipts[0]
	if !r.Status {
		t.Fatal("tx failed")
	}
	if len(r.Logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(r.Logs))
	}
	lg := r.Logs[0]
	if lg.Address != contract || len(lg.Topics) != 1 || lg.Topics[0] != common.BigToHash(big.NewInt(0xaa)) {
		t.Fatalf("log = %+v", lg)
	}
	if len(lg.Data) != 32 || lg.Data[31] != 42 {
		t.Fatalf("log data = %x", lg.Data)
	}
	u, ok := storageUpdate(t, tr, contract, 0)
	if !ok || !u.NewValue.Equal(word(42)) {
		t.Fatalf("slot 0 = %v %v, want 42", u.NewValue, ok)
	}
}

func TestGenerateRevertedCall(t *testing.T) {
	// inner writes a slot and reverts; contract records whether the call
	// failed.
	innerCode := asm(vm.PUSH1, 5, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.REVERT)
	outerCode := asm(
		vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0,
		vm.PUSH20, inner, vm.GAS, vm.CALL,
		vm.ISZERO, vm.PUSH1, 1, vm.SSTORE,
		vm.STOP,
	)
	cfg := testConfig(map[common.Address][]byte{contract: outerCode, inner: innerCode})
	tr := mustTrace(t, cfg, callTx(0, contract, 0, nil))

	if !tr.Receipts[0].Status {
		t.Fatal("outer call failed")
	}
	if _, ok := storageUpdate(t, tr, inner, 0); ok {
		t.Fatal("reverted write reached the state")
	}
	if u, ok := storageUpdate(t, tr, contract, 1); !ok || !u.NewValue.Equal(word(1)) {
		t.Fatalf("slot 1 = %v %v, want 1", u.NewValue, ok)
	}
	if countState(tr, evm.StateReturnRevert) != 1 {
		t.Fatal("want one REVERT step")
	}
}

func TestGenerateOutOfGas(t *testing.T) {
	loop := asm(vm.JUMPDEST, vm.PUSH1, 0, vm.JUMP)
	tx := callTx(0, contract, 7, nil)
	tx.Gas = 30_000
	tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: loop}), tx)

	r := tr.Receipts[0]
	if r.Status {
		t.Fatal("looping tx succeeded")
	}
	if r.GasUsed != tx.Gas {
		t.Fatalf("gas used = %d, want %d", r.GasUsed, tx.Gas)
	}
	if _, ok := tr.MPT.Lookup(contract, tables.MPTBalanceChanged, field.ZeroWord()); ok {
		t.Fatal("value transfer of a failed tx reached the state")
	}
}

func TestGenerateInvalidTx(t *testing.T) {
	tr := mustTrace(t, testConfig(nil), callTx(5, receiver, 1, nil))

	r := tr.Receipts[0]
	if !r.Invalid || r.Status || r.GasUsed != 0 {
		t.Fatalf("receipt = %+v, want invalid with no gas used", r)
	}
	if tr.MPT.Len() != 0 || tr.PreRoot != tr.PostRoot {
		t.Fatal("invalid tx changed the state")
	}
}

func TestGenerateCreateTx(t *testing.T) {
	runtime := asm(vm.PUSH1, 42, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	initCode := asm(vm.PUSH6, runtime, vm.PUSH1, 0, vm.MSTORE, vm.PUSH1, 6, vm.PUSH1, 26, vm.RETURN)
	deploy := &tables.Tx{
		Gas:      300_000,
		GasPrice: uint256.NewInt(10),
		Caller:   sender,
		Value:    new(uint256.Int),
		CallData: initCode,
	}
	created := crypto.CreateAddress(sender, 0)
	tr := mustTrace(t, testConfig(nil), deploy, callTx(1, created, 0, nil))

	for k, r := range tr.Receipts {
		if !r.Status {
			t.Fatalf("tx %d failed", k+1)
		}
	}
	u, ok := tr.MPT.Lookup(created, tables.MPTCodeHashChanged, field.ZeroWord())
	if !ok {
		t.Fatal("no code hash row for the created account")
	}
	if u.NewValue.Hash() != crypto.Keccak256Hash(runtime) {
		t.Fatalf("code hash = %x, want %x", u.NewValue.Hash(), crypto.Keccak256Hash(runtime))
	}
	if u, ok := storageUpdate(t, tr, created, 0); !ok || !u.NewValue.Equal(word(42)) {
		t.Fatalf("deployed code did not run: %v %v", u.NewValue, ok)
	}
}

func TestGenerateCreateOpcode(t *testing.T) {
	code := asm(vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.CREATE, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), callTx(0, contract, 0, nil))

	created := crypto.CreateAddress(contract, 1)
	u, ok := storageUpdate(t, tr, contract, 0)
	if !ok || u.NewValue.Address() != created {
		t.Fatalf("stored address = %v, want %s", u.NewValue, created)
	}
	if u, ok := tr.MPT.Lookup(created, tables.MPTNonceChanged, field.ZeroWord()); !ok || !u.NewValue.Equal(word(1)) {
		t.Fatal("created account nonce not set")
	}
	if u, ok := tr.MPT.Lookup(contract, tables.MPTNonceChanged, field.ZeroWord()); !ok || !u.NewValue.Equal(word(2)) {
		t.Fatal("creator nonce not bumped")
	}
}

func TestGenerateIdentityPrecompile(t *testing.T) {
	code := asm(
		vm.PUSH2, 0xbe, 0xef, vm.PUSH1, 0, vm.MSTORE,
		vm.PUSH1, 32, vm.PUSH1, 32, vm.PUSH1, 32, vm.PUSH1, 0, vm.PUSH1, 4, vm.GAS, vm.STATICCALL,
		vm.POP,
		vm.PUSH1, 32, vm.MLOAD, vm.PUSH1, 0, vm.SSTORE,
		vm.PUSH1, 32, vm.PUSH1, 0, vm.PUSH1, 64, vm.RETURNDATACOPY,
		vm.PUSH1, 64, vm.MLOAD, vm.PUSH1, 1, vm.SSTORE,
		vm.STOP,
	)
	tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), callTx(0, contract, 0, nil))

	if countState(tr, evm.StatePrecompileIdentity) != 1 {
		t.Fatal("want one identity step")
	}
	for _, key := range []uint64{0, 1} {
		if u, ok := storageUpdate(t, tr, contract, key); !ok || !u.NewValue.Equal(word(0xbeef)) {
			t.Fatalf("slot %d = %v %v, want 0xbeef", key, u.NewValue, ok)
		}
	}
}

func TestGenerateInlineCopy(t *testing.T) {
	code := asm(
		vm.PUSH1, 40, vm.PUSH1, 0, vm.PUSH1, 0, vm.CALLDATACOPY,
		vm.PUSH1, 8, vm.MLOAD, vm.PUSH1, 0, vm.SSTORE,
		vm.STOP,
	)
	data := make([]byte, 40)
	for k := range data {
		data[k] = byte(k + 1)
	}
	cfg := testConfig(map[common.Address][]byte{contract: code})
	cfg.Params.InlineCopy = true
	cfg.Params.MaxCopyBytes = 16
	tr := mustTrace(t, cfg, callTx(0, contract, 0, data))

	if n := countState(tr, evm.StateCopyToMemory); n != 3 {
		t.Fatalf("copy steps = %d, want 3", n)
	}
	want := field.WordFromBytes(data[8:40])
	if u, ok := storageUpdate(t, tr, contract, 0); !ok || !u.NewValue.Equal(want) {
		t.Fatalf("slot 0 = %v %v, want %v", u.NewValue, ok, want)
	}
}

func TestGenerateRejects(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Params.MaxTxs = 1
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate([]*tables.Tx{callTx(0, receiver, 0, nil), callTx(1, receiver, 0, nil)}); !errors.Is(err, ErrTooManyTxs) {
		t.Fatalf("want ErrTooManyTxs, got %v", err)
	}

	cfg = testConfig(map[common.Address][]byte{contract: asm(vm.CALLER, vm.SELFDESTRUCT)})
	g, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate([]*tables.Tx{callTx(0, contract, 0, nil)}); !errors.Is(err, ErrUnsupportedOpcode) {
		t.Fatalf("want ErrUnsupportedOpcode, got %v", err)
	}

	cfg = testConfig(nil)
	cfg.Accounts[common.BytesToAddress([]byte{2})] = Account{Balance: new(uint256.Int)}
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	code := asm(vm.PUSH1, 1, vm.PUSH1, 2, vm.ADD, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	cfg := testConfig(map[common.Address][]byte{contract: code})

	tests := []struct {
		name   string
		tamper func(tr *Trace)
		// step is set when a gadget, rather than the MPT check, must catch it.
		step bool
	}{
		{"gas", func(tr *Trace) { tr.Steps[2].GasLeft++ }, true},
		{"pc", func(tr *Trace) { tr.Steps[3].ProgramCounter++ }, true},
		{"stack", func(tr *Trace) { tr.Steps[3].StackPointer-- }, true},
		{"dropped step", func(tr *Trace) { tr.Steps = append(tr.Steps[:2:2], tr.Steps[3:]...) }, true},
		{"post root", func(tr *Trace) { tr.PostRoot = common.Hash{1} }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := mustTrace(t, cfg, callTx(0, contract, 0, nil))
			tc.tamper(tr)
			err := tr.Verify()
			if err == nil {
				t.Fatal("tampered trace verified")
			}
			var se *evm.StepError
			if errors.As(err, &se) != tc.step {
				t.Fatalf("step error = %v, want %v: %v", se != nil, tc.step, err)
			}
			if !tc.step && !errors.Is(err, tables.ErrMPTRootChain) {
				t.Fatalf("want ErrMPTRootChain, got %v", err)
			}
		})
	}
}

func TestGenerateRepeatable(t *testing.T) {
	cfg := testConfig(map[common.Address][]byte{contract: asm(vm.PUSH1, 9, vm.PUSH1, 3, vm.SSTORE)})
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := g.Generate([]*tables.Tx{callTx(0, contract, 0, nil)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g.Generate([]*tables.Tx{callTx(0, contract, 0, nil)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.PostRoot != b.PostRoot || a.Tables.RW.Len() != b.Tables.RW.Len() || len(a.Steps) != len(b.Steps) {
		t.Fatal("generating twice from the same pre-state differs")
	}
}
