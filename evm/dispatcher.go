package evm

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/log"
	"github.com/eth2030/zkevm/metrics"
	"github.com/eth2030/zkevm/rw"
)

// Dispatcher errors.
var (
	ErrEmptyTrace  = errors.New("evm: empty trace")
	ErrFirstStep   = errors.New("evm: trace must open with the first BeginTx or an empty EndBlock")
	ErrLastStep    = errors.New("evm: trace must close with EndBlock")
	ErrUnreachable = errors.New("evm: internal state not requested by the previous step")
	ErrNoGadget    = errors.New("evm: no gadget for execution state")
	ErrTransition  = errors.New("evm: step transition violated")
	ErrCopy        = errors.New("evm: copy table row does not hold")
	ErrBus         = errors.New("evm: rw bus inconsistent")
	ErrPanic       = errors.New("evm: gadget panicked")
)

var logger = log.Module("evm")

// StepError reports the first failure of a trace together with the step
// it happened in.
type StepError struct {
	Index     int
	State     ExecutionState
	RWCounter uint64
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%v, rw %d): %v", e.Index, e.State, e.RWCounter, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Verifier checks a trace of step states against its tables.
type Verifier struct {
	params Params
	tables *Tables
}

// NewVerifier returns a verifier over tables t under parameters p.
func NewVerifier(p Params, t *Tables) *Verifier {
	return &Verifier{params: p, tables: t}
}

// VerifySteps is shorthand for NewVerifier(p, t).Verify(steps).
func VerifySteps(p Params, t *Tables, steps []*StepState) error {
	return NewVerifier(p, t).Verify(steps)
}

// Verify runs the bus and copy checks, then every step's gadget and the
// transition it declares into the following step. It stops at the first
// failure.
func (v *Verifier) Verify(steps []*StepState) error {
	timer := metrics.NewTimer(metrics.VerifyTime)
	defer timer.Stop()

	if len(steps) == 0 {
		return ErrEmptyTrace
	}
	if err := rw.Check(v.tables.RW, v.params.MaxRws); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	if err := CheckCopyEvents(v.tables, v.params.Randomness); err != nil {
		return err
	}
	if err := v.checkFirst(steps[0]); err != nil {
		return v.fail(0, steps[0], err)
	}
	if last := steps[len(steps)-1]; last.State != StateEndBlock {
		return v.fail(len(steps)-1, last, ErrLastStep)
	}

	var prev *Instruction
	for idx, curr := range steps {
		var next *StepState
		if idx+1 < len(steps) {
			next = steps[idx+1]
		}
		if curr.State.internal() && prev != nil && !prev.allows(curr.State) {
			return v.fail(idx, curr, ErrUnreachable)
		}
		i, err := v.verifyStep(curr, next)
		if err != nil {
			return v.fail(idx, curr, err)
		}
		metrics.StepsVerified.Inc()
		metrics.StepsByState(curr.State.String()).Inc()
		metrics.RWPerStep.Observe(float64(i.rwOffset))
		prev = i
	}
	metrics.TracesVerified.Inc()
	logger.Debug("trace verified", "steps", len(steps), "rws", v.tables.RW.Len())
	return nil
}

// checkFirst admits a trace that opens with the first transaction, or an
// empty block that only carries EndBlock.
func (v *Verifier) checkFirst(s *StepState) error {
	if s.RWCounter != 1 {
		return fmt.Errorf("%w: rw counter %d", ErrFirstStep, s.RWCounter)
	}
	switch s.State {
	case StateEndBlock:
		return nil
	case StateBeginTx:
		r, ok := v.tables.RW.At(1)
		if !ok || r.Tag != rw.TagCallContext || !r.IsWrite ||
			!r.Key2.Equal(fq(uint64(rw.CallTxID))) || !r.Value.Lo.IsOne() {
			return fmt.Errorf("%w: first record is not tx id 1", ErrFirstStep)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrFirstStep, s.State)
}

// verifyStep runs the gadget of curr. A panic inside a gadget, such as a
// witness that makes no sense for the state, fails the step.
func (v *Verifier) verifyStep(curr, next *StepState) (i *Instruction, err error) {
	if curr.State >= numStates || gadgets[curr.State] == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGadget, curr.State)
	}
	g := gadgets[curr.State]
	cs := circuit.New()
	i = newInstruction(cs, &v.params, v.tables, curr, next)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	g(i)

	st := cs.Stats()
	metrics.ConstraintsChecked.Add(int64(st.Constraints))
	metrics.LookupsPerformed.Add(int64(st.Lookups))
	metrics.WitnessCells.Add(int64(st.Cells))
	if err := cs.Err(); err != nil {
		return i, err
	}
	if next == nil {
		return i, nil
	}
	if i.transition == nil {
		return i, fmt.Errorf("%w: no transition declared", ErrTransition)
	}
	return i, i.transition.check(curr, next)
}

func (v *Verifier) fail(idx int, s *StepState, err error) error {
	metrics.StepFailures.Inc()
	logger.Warn("step failed", "index", idx, "state", s.State.String(), "rw_counter", s.RWCounter, "err", err)
	return &StepError{Index: idx, State: s.State, RWCounter: s.RWCounter, Err: err}
}
