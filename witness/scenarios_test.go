package witness

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// Addresses using all 160 bits, so the high limb of every account key is
// non-zero.
var (
	wide      = common.HexToAddress("0xdeadbeefcafebabe00112233445566778899aabb")
	wideInner = common.HexToAddress("0xc0ffee0000000000000000000000000000c0ffee")
)

// stepRecords returns the bus records consumed by step k.
func stepRecords(tr *Trace, k int) []rw.Record {
	all := tr.Tables.RW.Records()
	end := uint64(len(all))
	if k+1 < len(tr.Steps) {
		end = tr.Steps[k+1].RWCounter
	}
	return all[tr.Steps[k].RWCounter:end]
}

// firstStep returns the index of the first step in state s.
func firstStep(t *testing.T, tr *Trace, s evm.ExecutionState) int {
	t.Helper()
	for k, st := range tr.Steps {
		if st.State == s {
			return k
		}
	}
	t.Fatalf("no %v step", s)
	return -1
}

func filterTag(recs []rw.Record, tag rw.Tag) []rw.Record {
	var out []rw.Record
	for _, r := range recs {
		if r.Tag == tag {
			out = append(out, r)
		}
	}
	return out
}

func TestGenerateWideAddresses(t *testing.T) {
	innerCode := asm(vm.PUSH1, 9, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	code := asm(
		vm.SELFBALANCE, vm.PUSH1, 0, vm.SSTORE,
		vm.PUSH1, 0, vm.SLOAD, vm.PUSH1, 1, vm.SSTORE,
		vm.PUSH1, 7, vm.PUSH1, 0, vm.PUSH1, 0, vm.LOG1,
		vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0,
		vm.PUSH20, wideInner, vm.GAS, vm.CALL, vm.PUSH1, 2, vm.SSTORE,
		vm.ADDRESS, vm.PUSH1, 3, vm.SSTORE,
		vm.STOP,
	)
	cfg := testConfig(map[common.Address][]byte{wide: code, wideInner: innerCode})
	tr := mustTrace(t, cfg, callTx(0, wide, 5, nil))

	r := tr.Receipts[0]
	if !r.Status {
		t.Fatal("tx failed")
	}
	if len(r.Logs) != 1 || r.Logs[0].Address != wide {
		t.Fatalf("logs = %+v", r.Logs)
	}
	for _, tc := range []struct {
		addr common.Address
		key  uint64
		want field.Word
	}{
		{wide, 0, word(5)},
		{wide, 1, word(5)},
		{wide, 2, word(1)},
		{wide, 3, field.WordFromAddress(wide)},
		{wideInner, 0, word(9)},
	} {
		if u, ok := storageUpdate(t, tr, tc.addr, tc.key); !ok || !u.NewValue.Equal(tc.want) {
			t.Errorf("%s slot %d = %v %v, want %v", tc.addr, tc.key, u.NewValue, ok, tc.want)
		}
	}

	// Storage records are keyed by the full address.
	key := field.WordFromAddress(wide).ToFQ()
	sstore := firstStep(t, tr, evm.StateSstore)
	storage := filterTag(stepRecords(tr, sstore), rw.TagStorage)
	if len(storage) != 1 || !storage[0].Key1.Equal(key) {
		t.Fatalf("sstore storage records = %v", storage)
	}
}

func TestGenerateWideCreate(t *testing.T) {
	runtime := asm(vm.PUSH1, 1, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	initCode := asm(vm.PUSH6, runtime, vm.PUSH1, 0, vm.MSTORE, vm.PUSH1, 6, vm.PUSH1, 26, vm.RETURN)
	// init code sits right-aligned in the first memory word
	code := asm(
		vm.PUSH32, append(make([]byte, 32-len(initCode)), initCode...),
		vm.PUSH1, 0, vm.MSTORE,
		vm.PUSH1, len(initCode), vm.PUSH1, 32-len(initCode), vm.PUSH1, 0, vm.CREATE,
		vm.PUSH1, 0, vm.SSTORE,
		vm.STOP,
	)
	tr := mustTrace(t, testConfig(map[common.Address][]byte{wide: code}), callTx(0, wide, 0, nil))

	created := crypto.CreateAddress(wide, 1)
	if u, ok := storageUpdate(t, tr, wide, 0); !ok || u.NewValue.Address() != created {
		t.Fatalf("CREATE pushed %v %v, want %s", u.NewValue, ok, created)
	}
	u, ok := tr.MPT.Lookup(created, tables.MPTCodeHashChanged, field.ZeroWord())
	if !ok || u.NewValue.Hash() != crypto.Keccak256Hash(runtime) {
		t.Fatal("runtime code not deposited at the created address")
	}
}

func TestAddSubStep(t *testing.T) {
	tests := []struct {
		name string
		op   vm.OpCode
		a, b uint64 // a is the top of the stack
		want uint64
	}{
		{"add", vm.ADD, 0x030201, 0x060504, 0x090705},
		{"sub", vm.SUB, 0x090705, 0x060504, 0x030201},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code := asm(vm.PUSH3, u24(tc.b), vm.PUSH3, u24(tc.a), tc.op, vm.STOP)
			tx := callTx(0, contract, 0, nil)
			tx.Gas = 21000 + 3 + 3 + 3
			tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), tx)

			k := firstStep(t, tr, evm.StateAddSub)
			curr, next := tr.Steps[k], tr.Steps[k+1]
			if curr.GasLeft != 3 || next.GasLeft != 0 {
				t.Fatalf("gas %d -> %d, want 3 -> 0", curr.GasLeft, next.GasLeft)
			}
			if curr.StackPointer != 1022 || next.StackPointer != 1023 {
				t.Fatalf("sp %d -> %d, want 1022 -> 1023", curr.StackPointer, next.StackPointer)
			}
			want := []struct {
				write bool
				sp    uint64
				value uint64
			}{
				{false, 1022, tc.a},
				{false, 1023, tc.b},
				{true, 1023, tc.want},
			}
			recs := stepRecords(tr, k)
			if len(recs) != len(want) {
				t.Fatalf("records = %v", recs)
			}
			for j, w := range want {
				r := recs[j]
				if r.Tag != rw.TagStack || r.IsWrite != w.write || !r.Key3.Equal(field.NewFQ(w.sp)) || !r.Value.Equal(word(w.value)) {
					t.Fatalf("record %d = %v, want stack write=%v [%d]=%#x", j, r, w.write, w.sp, w.value)
				}
			}
			if !tr.Receipts[0].Status {
				t.Fatal("tx failed")
			}
		})
	}
}

func u24(v uint64) []byte { return []byte{byte(v >> 16), byte(v >> 8), byte(v)} }

func TestMstoreThenMload(t *testing.T) {
	code := asm(
		vm.PUSH1, 0xff, vm.PUSH1, 0, vm.MSTORE,
		vm.PUSH1, 0, vm.MLOAD, vm.PUSH1, 0, vm.SSTORE,
		vm.STOP,
	)
	tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), callTx(0, contract, 0, nil))

	var mstore, mload = -1, -1
	for k, s := range tr.Steps {
		if s.State != evm.StateMemory {
			continue
		}
		if mstore < 0 {
			mstore = k
		} else {
			mload = k
		}
	}
	if mstore < 0 || mload < 0 {
		t.Fatal("missing memory steps")
	}
	check := func(k int, write bool) {
		t.Helper()
		mem := filterTag(stepRecords(tr, k), rw.TagMemory)
		if len(mem) != 32 {
			t.Fatalf("step %d: %d memory records, want 32", k, len(mem))
		}
		for addr, r := range mem {
			want := uint64(0)
			if addr == 31 {
				want = 0xff
			}
			if r.IsWrite != write || !r.Key3.Equal(field.NewFQ(uint64(addr))) || !r.Value.Equal(word(want)) {
				t.Fatalf("step %d record %d = %v", k, addr, r)
			}
		}
	}
	check(mstore, true)
	check(mload, false)

	stack := filterTag(stepRecords(tr, mload), rw.TagStack)
	if top := stack[len(stack)-1]; !top.IsWrite || !top.Value.Equal(word(0xff)) {
		t.Fatalf("MLOAD pushed %v", top)
	}
	if u, ok := storageUpdate(t, tr, contract, 0); !ok || !u.NewValue.Equal(word(0xff)) {
		t.Fatalf("slot 0 = %v %v", u.NewValue, ok)
	}
}

func TestJump(t *testing.T) {
	tests := []struct {
		name   string
		dest   int
		status bool
	}{
		{"valid", 7, true},
		{"invalid", 20, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code := asm(vm.PUSH1, 0x80, vm.PUSH1, 0x40, vm.PUSH1, tc.dest, vm.JUMP, vm.JUMPDEST, vm.STOP)
			tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), callTx(0, contract, 0, nil))

			if tr.Receipts[0].Status != tc.status {
				t.Fatalf("status = %v, want %v", tr.Receipts[0].Status, tc.status)
			}
			if !tc.status {
				k := firstStep(t, tr, evm.StateErrorInvalidJump)
				if tr.Steps[k].ProgramCounter != 6 {
					t.Fatalf("invalid jump at pc %d", tr.Steps[k].ProgramCounter)
				}
				if countState(tr, evm.StateJumpDest) != 0 {
					t.Fatal("execution continued after an invalid jump")
				}
				return
			}
			k := firstStep(t, tr, evm.StateJump)
			curr, next := tr.Steps[k], tr.Steps[k+1]
			if curr.ProgramCounter != 6 || next.ProgramCounter != 7 || next.State != evm.StateJumpDest {
				t.Fatalf("pc %d -> %d (%v)", curr.ProgramCounter, next.ProgramCounter, next.State)
			}
			if next.StackPointer != curr.StackPointer+1 {
				t.Fatalf("sp %d -> %d", curr.StackPointer, next.StackPointer)
			}
		})
	}
}

func TestCallReturnData(t *testing.T) {
	data := make([]byte, 32)
	for k := range data {
		data[k] = byte(k + 1)
	}
	calleeCode := asm(vm.PUSH32, data, vm.PUSH1, 0, vm.MSTORE, vm.PUSH1, 10, vm.PUSH1, 4, vm.RETURN)
	callerCode := asm(
		vm.PUSH1, 10, vm.PUSH1, 1, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0,
		vm.PUSH20, inner, vm.GAS, vm.CALL, vm.POP,
		vm.PUSH1, 0, vm.MLOAD, vm.PUSH1, 0, vm.SSTORE,
		vm.RETURNDATASIZE, vm.PUSH1, 1, vm.SSTORE,
		vm.STOP,
	)
	cfg := testConfig(map[common.Address][]byte{contract: callerCode, inner: calleeCode})
	tr := mustTrace(t, cfg, callTx(0, contract, 0, nil))

	// callee bytes [4, 14) land in caller memory [1, 11)
	want := make([]byte, 32)
	copy(want[1:11], data[4:14])
	if u, ok := storageUpdate(t, tr, contract, 0); !ok || !u.NewValue.Equal(field.WordFromBytes(want)) {
		t.Fatalf("caller memory word = %v %v, want %x", u.NewValue, ok, want)
	}
	if u, ok := storageUpdate(t, tr, contract, 1); !ok || !u.NewValue.Equal(word(10)) {
		t.Fatalf("RETURNDATASIZE = %v %v, want 10", u.NewValue, ok)
	}

	caller := tr.Steps[firstStep(t, tr, evm.StateCallOp)].CallID
	found := false
	for _, r := range tr.Tables.RW.Records() {
		if r.Tag == rw.TagCallContext && r.IsWrite && r.Key1.Equal(field.NewFQ(caller)) &&
			r.Key2.Equal(field.NewFQ(uint64(rw.CallLastCalleeReturnDataLength))) && r.Value.Equal(word(10)) {
			found = true
		}
	}
	if !found {
		t.Fatal("caller's LastCalleeReturnDataLength was not set to 10")
	}
}

func TestRevertedWriteHasTwin(t *testing.T) {
	innerCode := asm(vm.PUSH1, 5, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.REVERT)
	outerCode := asm(
		vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0,
		vm.PUSH20, inner, vm.GAS, vm.CALL, vm.STOP,
	)
	cfg := testConfig(map[common.Address][]byte{contract: outerCode, inner: innerCode})
	tr := mustTrace(t, cfg, callTx(0, contract, 0, nil))

	key := field.WordFromAddress(inner).ToFQ()
	var writes []rw.Record
	for _, r := range tr.Tables.RW.Records() {
		if r.Tag == rw.TagStorage && r.IsWrite && r.Key1.Equal(key) && r.Key4.Equal(word(0)) {
			writes = append(writes, r)
		}
	}
	if len(writes) != 2 {
		t.Fatalf("storage writes = %d, want the write and its twin", len(writes))
	}
	if !writes[0].Value.Equal(word(5)) || !writes[1].Value.Equal(field.ZeroWord()) || !writes[1].ValuePrev.Equal(word(5)) {
		t.Fatalf("write %v, twin %v", writes[0], writes[1])
	}
	if writes[1].RWCounter <= writes[0].RWCounter {
		t.Fatal("twin precedes its write")
	}
}

func TestGasConservation(t *testing.T) {
	// 0 -> 1 -> 0 on a cold slot: 22100 then 100, refunding 19900.
	code := asm(vm.PUSH1, 1, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	tx := callTx(0, contract, 0, nil)
	tr := mustTrace(t, testConfig(map[common.Address][]byte{contract: code}), tx)

	first := firstStep(t, tr, evm.StateBeginTx) + 1
	stop := firstStep(t, tr, evm.StateStop)
	if got := tr.Steps[first].GasLeft; got != tx.Gas-21000 {
		t.Fatalf("gas after intrinsic = %d, want %d", got, tx.Gas-21000)
	}
	var charged uint64
	for k := first; k < stop; k++ {
		charged += tr.Steps[k].GasLeft - tr.Steps[k+1].GasLeft
	}
	if charged != 3+3+22100+3+3+100 {
		t.Fatalf("charged = %d, want 22212", charged)
	}
	used := 21000 + charged
	refund := min(uint64(19900), used/5)
	if got := tr.Receipts[0].GasUsed; got != used-refund {
		t.Fatalf("gas used = %d, want %d", got, used-refund)
	}
}

func TestCodeStoreErrorOrder(t *testing.T) {
	// Returns 100 bytes starting with 0xEF from a creation.
	initCode := asm(vm.PUSH1, 0xef, vm.PUSH1, 0, vm.MSTORE8, vm.PUSH1, 100, vm.PUSH1, 0, vm.RETURN)
	const intrinsic = 53000 + 8*16 + 2*4
	const exec = 3 + 3 + 6 + 3 + 3 + 9

	tests := []struct {
		name  string
		gas   uint64
		state evm.ExecutionState
	}{
		// the deposit of 100·200 is not covered
		{"deposit first", intrinsic + exec + 1000, evm.StateErrorOutOfGasCodeStore},
		{"prefix", intrinsic + exec + 30_000, evm.StateErrorInvalidCreationCode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := &tables.Tx{
				Gas:      tc.gas,
				GasPrice: uint256.NewInt(10),
				Caller:   sender,
				Value:    new(uint256.Int),
				CallData: initCode,
			}
			tr := mustTrace(t, testConfig(nil), tx)
			if r := tr.Receipts[0]; r.Status || r.GasUsed != tc.gas {
				t.Fatalf("receipt = %+v, want failure using all gas", r)
			}
			if countState(tr, tc.state) != 1 {
				t.Fatalf("no %v step", tc.state)
			}
		})
	}
}
