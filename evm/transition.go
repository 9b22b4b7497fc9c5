package evm

import (
	"fmt"

	"github.com/eth2030/zkevm/field"
)

type transitionKind uint8

const (
	kindSame transitionKind = iota
	kindDelta
	kindTo
	kindAny
)

// Transition constrains one numeric field of the next step. The zero value
// keeps the field unchanged.
type Transition struct {
	kind  transitionKind
	value field.FQ
}

// Same keeps the field unchanged.
func Same() Transition { return Transition{} }

// Delta adds d to the field.
func Delta(d int64) Transition { return Transition{kind: kindDelta, value: field.FromInt64(d)} }

// DeltaFQ adds d to the field.
func DeltaFQ(d field.FQ) Transition { return Transition{kind: kindDelta, value: d} }

// To sets the field to v.
func To(v uint64) Transition { return Transition{kind: kindTo, value: field.NewFQ(v)} }

// ToFQ sets the field to v.
func ToFQ(v field.FQ) Transition { return Transition{kind: kindTo, value: v} }

// Any leaves the field unconstrained.
func Any() Transition { return Transition{kind: kindAny} }

func (t Transition) expected(curr field.FQ) (field.FQ, bool) {
	switch t.kind {
	case kindSame:
		return curr, true
	case kindDelta:
		return curr.Add(t.value), true
	case kindTo:
		return t.value, true
	}
	return field.FQ{}, false
}

func (t Transition) String() string {
	switch t.kind {
	case kindSame:
		return "same"
	case kindDelta:
		return "delta " + t.value.String()
	case kindTo:
		return "to " + t.value.String()
	}
	return "any"
}

// StepTransition lists the transition of every step field.
type StepTransition struct {
	RWCounter              Transition
	CallID                 Transition
	IsRoot                 Transition
	IsCreate               Transition
	ProgramCounter         Transition
	StackPointer           Transition
	GasLeft                Transition
	MemoryWordSize         Transition
	ReversibleWriteCounter Transition
	LogID                  Transition

	// CodeHash is kept unless set.
	CodeHash    *field.Word
	AnyCodeHash bool
}

func boolFQ(b bool) field.FQ { return field.FromBool(b) }

// check compares next against the transition from curr and returns the
// first field that disagrees.
func (t *StepTransition) check(curr, next *StepState) error {
	fields := []struct {
		name       string
		tr         Transition
		curr, next field.FQ
	}{
		{"rw_counter", t.RWCounter, field.NewFQ(curr.RWCounter), field.NewFQ(next.RWCounter)},
		{"call_id", t.CallID, field.NewFQ(curr.CallID), field.NewFQ(next.CallID)},
		{"is_root", t.IsRoot, boolFQ(curr.IsRoot), boolFQ(next.IsRoot)},
		{"is_create", t.IsCreate, boolFQ(curr.IsCreate), boolFQ(next.IsCreate)},
		{"program_counter", t.ProgramCounter, field.NewFQ(curr.ProgramCounter), field.NewFQ(next.ProgramCounter)},
		{"stack_pointer", t.StackPointer, field.NewFQ(curr.StackPointer), field.NewFQ(next.StackPointer)},
		{"gas_left", t.GasLeft, field.NewFQ(curr.GasLeft), field.NewFQ(next.GasLeft)},
		{"memory_word_size", t.MemoryWordSize, field.NewFQ(curr.MemoryWordSize), field.NewFQ(next.MemoryWordSize)},
		{"reversible_write_counter", t.ReversibleWriteCounter, field.NewFQ(curr.ReversibleWriteCounter), field.NewFQ(next.ReversibleWriteCounter)},
		{"log_id", t.LogID, field.NewFQ(curr.LogID), field.NewFQ(next.LogID)},
	}
	for _, f := range fields {
		want, ok := f.tr.expected(f.curr)
		if ok && !want.Equal(f.next) {
			return fmt.Errorf("%w: %s %s (curr %s) got %s", ErrTransition, f.name, f.tr, f.curr, f.next)
		}
	}
	switch {
	case t.AnyCodeHash:
	case t.CodeHash != nil:
		if !t.CodeHash.Equal(next.CodeHash) {
			return fmt.Errorf("%w: code_hash to %s got %s", ErrTransition, t.CodeHash, next.CodeHash)
		}
	default:
		if !curr.CodeHash.Equal(next.CodeHash) {
			return fmt.Errorf("%w: code_hash changed to %s", ErrTransition, next.CodeHash)
		}
	}
	return nil
}

// sameContext is the transition of an opcode that stays in its frame.
func sameContext(rwOffset uint64, stackDelta int64, gasCost field.FQ) StepTransition {
	return StepTransition{
		RWCounter:      Delta(int64(rwOffset)),
		ProgramCounter: Delta(1),
		StackPointer:   Delta(stackDelta),
		GasLeft:        DeltaFQ(gasCost.Neg()),
	}
}
