package evm

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
)

func TestEveryStateHasGadget(t *testing.T) {
	for _, s := range States() {
		if s == StateInvalid {
			continue
		}
		if gadgets[s] == nil {
			t.Fatalf("no gadget for %v", s)
		}
	}
}

func TestOperationOf(t *testing.T) {
	tests := []struct {
		op     gethvm.OpCode
		state  ExecutionState
		pops   int
		pushes int
	}{
		{gethvm.ADD, StateAddSub, 2, 1},
		{gethvm.SSTORE, StateSstore, 2, 0},
		{gethvm.RETURN, StateReturnRevert, 2, 0},
		{gethvm.CALL, StateCallOp, 7, 1},
	}
	for _, tc := range tests {
		o, ok := OperationOf(tc.op)
		if !ok {
			t.Fatalf("%v: no operation", tc.op)
		}
		if o.State != tc.state || o.Pops != tc.pops || o.Pushes != tc.pushes {
			t.Fatalf("%v = %v pops %d pushes %d", tc.op, o.State, o.Pops, o.Pushes)
		}
	}
	if _, ok := OperationOf(gethvm.OpCode(0xfe)); ok {
		t.Fatal("INVALID has an operation")
	}
	if n, ok := IsPush(gethvm.PUSH32); !ok || n != 32 {
		t.Fatalf("IsPush(PUSH32) = %d %v", n, ok)
	}
}

func TestPrecompileState(t *testing.T) {
	s, ok := PrecompileState(common.BytesToAddress([]byte{4}))
	if !ok || s != StatePrecompileIdentity {
		t.Fatalf("address 4 = %v %v", s, ok)
	}
	for _, addr := range []common.Address{{}, common.BytesToAddress([]byte{10}), common.BytesToAddress([]byte{1, 1})} {
		if _, ok := PrecompileState(addr); ok {
			t.Fatalf("%s is not a precompile", addr)
		}
	}
	if !StateErrorDepth.IsLocalError() || StateErrorStack.IsLocalError() {
		t.Fatal("local error classification")
	}
}

func TestVerifyEmptyTrace(t *testing.T) {
	if err := VerifySteps(DefaultParams(), &Tables{}, nil); !errors.Is(err, ErrEmptyTrace) {
		t.Fatalf("want ErrEmptyTrace, got %v", err)
	}
}
