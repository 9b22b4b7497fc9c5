package witness

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/tables"
)

func TestOracleAgrees(t *testing.T) {
	sstore := asm(vm.PUSH1, 42, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.LOG0, vm.STOP)
	reverting := asm(vm.PUSH1, 5, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.REVERT)
	caller := asm(
		vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0, vm.PUSH1, 0,
		vm.PUSH20, inner, vm.GAS, vm.CALL,
		vm.ISZERO, vm.PUSH1, 1, vm.SSTORE,
		vm.STOP,
	)
	clear := asm(vm.PUSH1, 0, vm.PUSH1, 7, vm.SSTORE, vm.STOP)
	lowGas := callTx(0, contract, 7, nil)
	lowGas.Gas = 30_000
	// 100 bytes starting with 0xEF, without gas for the deposit
	badDeploy := &tables.Tx{
		Gas:      53_136 + 27 + 1000,
		GasPrice: uint256.NewInt(10),
		Caller:   sender,
		Value:    new(uint256.Int),
		CallData: asm(vm.PUSH1, 0xef, vm.PUSH1, 0, vm.MSTORE8, vm.PUSH1, 100, vm.PUSH1, 0, vm.RETURN),
	}

	tests := []struct {
		name string
		code map[common.Address][]byte
		txs  []*tables.Tx
	}{
		{"transfer", nil, []*tables.Tx{callTx(0, receiver, 1000, nil), callTx(1, receiver, 0, nil)}},
		{"sstore", map[common.Address][]byte{contract: sstore}, []*tables.Tx{callTx(0, contract, 0, nil)}},
		{"reverted call", map[common.Address][]byte{contract: caller, inner: reverting}, []*tables.Tx{callTx(0, contract, 0, nil)}},
		{"out of gas", map[common.Address][]byte{contract: asm(vm.JUMPDEST, vm.PUSH1, 0, vm.JUMP)}, []*tables.Tx{lowGas}},
		{"invalid nonce", nil, []*tables.Tx{callTx(3, receiver, 1, nil)}},
		{"wide address", map[common.Address][]byte{wide: sstore}, []*tables.Tx{callTx(0, wide, 3, nil)}},
		{"code store", nil, []*tables.Tx{badDeploy}},
		{"refund", map[common.Address][]byte{contract: clear}, []*tables.Tx{callTx(0, contract, 0, nil)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(tc.code)
			if tc.name == "refund" {
				a := cfg.Accounts[contract]
				a.Storage = map[common.Hash]common.Hash{common.BytesToHash([]byte{7}): common.BytesToHash([]byte{1})}
				cfg.Accounts[contract] = a
			}
			tr := mustTrace(t, cfg, tc.txs...)
			o, err := NewOracle(cfg)
			if err != nil {
				t.Fatalf("NewOracle: %v", err)
			}
			if err := o.Compare(tr, tc.txs); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestOracleDetectsMismatch(t *testing.T) {
	cfg := testConfig(nil)
	txs := []*tables.Tx{callTx(0, receiver, 1000, nil)}
	tr := mustTrace(t, cfg, txs...)
	tr.Receipts[0].GasUsed++

	o, err := NewOracle(cfg)
	if err != nil {
		t.Fatalf("NewOracle: %v", err)
	}
	if err := o.Compare(tr, txs); !errors.Is(err, ErrOracleMismatch) {
		t.Fatalf("want ErrOracleMismatch, got %v", err)
	}
}
