package main

import (
	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/tables"
	"github.com/eth2030/zkevm/witness"
)

var (
	senderAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	receiverAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	contractAddr = common.HexToAddress("0xdeadbeefcafebabe00112233445566778899aabb")
	innerAddr    = common.HexToAddress("0xc0ffee0000000000000000000000000000c0ffee")
)

type scenario struct {
	name   string
	config witness.Config
	txs    []*tables.Tx
}

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

// scenarioConfig funds the sender and deploys code at the given addresses.
func scenarioConfig(code map[common.Address][]byte) witness.Config {
	cfg := witness.DefaultConfig()
	cfg.Accounts = map[common.Address]witness.Account{
		senderAddr: {Balance: new(uint256.Int).Mul(uint256.NewInt(1e18), uint256.NewInt(100))},
	}
	for addr, c := range code {
		cfg.Accounts[addr] = witness.Account{Nonce: 1, Balance: new(uint256.Int), Code: c}
	}
	return cfg
}

func callTx(nonce uint64, to common.Address, value uint64, data []byte) *tables.Tx {
	return &tables.Tx{
		Nonce:    nonce,
		Gas:      500_000,
		GasPrice: uint256.NewInt(10),
		Caller:   senderAddr,
		Callee:   &to,
		Value:    uint256.NewInt(value),
		CallData: data,
	}
}

func scenarios() []scenario {
	one := func(name string, code map[common.Address][]byte, txs ...*tables.Tx) scenario {
		return scenario{name: name, config: scenarioConfig(code), txs: txs}
	}

	arith := asm(
		vm.PUSH1, 3, vm.PUSH1, 2, vm.EXP, vm.PUSH1, 0, vm.SSTORE,
		vm.PUSH1, 7, vm.PUSH1, 100, vm.DIV, vm.PUSH1, 1, vm.SSTORE,
		vm.PUSH1, 0xff, vm.PUSH1, 0, vm.SIGNEXTEND, vm.PUSH1, 2, vm.SSTORE,
		vm.PUSH1, 32, vm.PUSH1, 0, vm.KECCAK256, vm.PUSH1, 3, vm.SSTORE,
		vm.PUSH1, 0xf0, vm.PUSH1, 4, vm.SHR, vm.PUSH1, 4, vm.SSTORE,
		vm.PUSH1, 5, vm.PUSH1, 7, vm.PUSH1, 9, vm.ADDMOD, vm.PUSH1, 5, vm.SSTORE,
		vm.STOP,
	)
	storageLog := asm(
		vm.PUSH1, 42, vm.PUSH1, 0, vm.SSTORE,
		vm.PUSH1, 0, vm.SLOAD, vm.PUSH1, 0, vm.MSTORE,
		vm.PUSH1, 0xaa, vm.PUSH1, 32, vm.PUSH1, 0, vm.LOG1,
		vm.STOP,
	)
	reverting := asm(vm.PUSH1, 5, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.REVERT)
	caller := func(op vm.OpCode) []byte {
		value := []any{}
		if op == vm.CALL {
			value = []any{vm.PUSH1, 0}
		}
		items := []any{vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0}
		items = append(items, value...)
		items = append(items, vm.PUSH20, innerAddr, vm.GAS, op, vm.ISZERO, vm.PUSH1, 1, vm.SSTORE, vm.STOP)
		return asm(items...)
	}
	identity := asm(
		vm.PUSH2, 0xbe, 0xef, vm.PUSH1, 0, vm.MSTORE,
		vm.PUSH1, 32, vm.PUSH1, 32, vm.PUSH1, 32, vm.PUSH1, 0, vm.PUSH1, 4, vm.GAS, vm.STATICCALL,
		vm.POP,
		vm.PUSH1, 32, vm.PUSH1, 0, vm.PUSH1, 64, vm.RETURNDATACOPY,
		vm.PUSH1, 64, vm.MLOAD, vm.PUSH1, 0, vm.SSTORE,
		vm.STOP,
	)
	copier := asm(
		vm.PUSH1, 40, vm.PUSH1, 0, vm.PUSH1, 0, vm.CALLDATACOPY,
		vm.PUSH1, 8, vm.MLOAD, vm.PUSH1, 0, vm.SSTORE,
		vm.STOP,
	)
	runtime := asm(vm.PUSH1, 42, vm.PUSH1, 0, vm.SSTORE, vm.STOP)
	initCode := asm(vm.PUSH6, runtime, vm.PUSH1, 0, vm.MSTORE, vm.PUSH1, 6, vm.PUSH1, 26, vm.RETURN)
	deploy := &tables.Tx{
		Gas:      300_000,
		GasPrice: uint256.NewInt(10),
		Caller:   senderAddr,
		Value:    new(uint256.Int),
		CallData: initCode,
	}

	data := make([]byte, 40)
	for k := range data {
		data[k] = byte(k + 1)
	}
	lowGas := callTx(0, contractAddr, 7, nil)
	lowGas.Gas = 30_000

	inline := one("inline-copy", map[common.Address][]byte{contractAddr: copier}, callTx(0, contractAddr, 0, data))
	inline.config.Params.InlineCopy = true
	inline.config.Params.MaxCopyBytes = 16

	return []scenario{
		one("transfer", nil, callTx(0, receiverAddr, 1000, nil), callTx(1, receiverAddr, 500, nil)),
		one("arith", map[common.Address][]byte{contractAddr: arith}, callTx(0, contractAddr, 0, nil)),
		one("storage-log", map[common.Address][]byte{contractAddr: storageLog}, callTx(0, contractAddr, 0, nil)),
		one("reverted-call", map[common.Address][]byte{contractAddr: caller(vm.CALL), innerAddr: reverting},
			callTx(0, contractAddr, 0, nil)),
		one("static-write", map[common.Address][]byte{contractAddr: caller(vm.STATICCALL), innerAddr: storageLog},
			callTx(0, contractAddr, 0, nil)),
		one("out-of-gas", map[common.Address][]byte{contractAddr: asm(vm.JUMPDEST, vm.PUSH1, 0, vm.JUMP)}, lowGas),
		one("invalid-jump", map[common.Address][]byte{contractAddr: asm(vm.PUSH1, 3, vm.JUMP)}, callTx(0, contractAddr, 0, nil)),
		one("stack-underflow", map[common.Address][]byte{contractAddr: asm(vm.ADD)}, callTx(0, contractAddr, 0, nil)),
		one("invalid-nonce", nil, callTx(5, receiverAddr, 1, nil)),
		one("create-tx", nil, deploy, callTx(1, crypto.CreateAddress(senderAddr, 0), 0, nil)),
		one("create-opcode", map[common.Address][]byte{
			contractAddr: asm(vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.CREATE, vm.PUSH1, 0, vm.SSTORE, vm.STOP),
		}, callTx(0, contractAddr, 0, nil)),
		one("identity", map[common.Address][]byte{contractAddr: identity}, callTx(0, contractAddr, 0, nil)),
		inline,
	}
}
