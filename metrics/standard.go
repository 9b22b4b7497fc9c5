package metrics

// Pre-defined metrics for the circuit verifier and witness generator. All
// metrics live in DefaultRegistry so they are globally accessible without
// passing a registry around.

var (
	// ---- Dispatcher metrics ----

	// StepsVerified counts steps whose gadget constraints held.
	StepsVerified = DefaultRegistry.Counter("evm.steps")
	// StepFailures counts steps rejected by the dispatcher.
	StepFailures = DefaultRegistry.Counter("evm.step_failures")
	// TracesVerified counts traces that verified end to end.
	TracesVerified = DefaultRegistry.Counter("evm.traces")
	// ConstraintsChecked counts field equalities evaluated by gadgets.
	ConstraintsChecked = DefaultRegistry.Counter("evm.constraints")
	// LookupsPerformed counts table lookups requested by gadgets.
	LookupsPerformed = DefaultRegistry.Counter("evm.lookups")
	// WitnessCells counts auxiliary witness cells introduced by gadgets.
	WitnessCells = DefaultRegistry.Counter("evm.cells")
	// RWPerStep records the number of bus entries consumed per step.
	RWPerStep = DefaultRegistry.Histogram("evm.rw_per_step")
	// VerifyTime records trace verification time in microseconds.
	VerifyTime = DefaultRegistry.Histogram("evm.verify_us")

	// ---- Bus metrics ----

	// RWRows tracks the size of the last bus checked for consistency.
	RWRows = DefaultRegistry.Gauge("rw.rows")
	// RWMaxRows tracks the largest bus seen by the consistency checker.
	RWMaxRows = DefaultRegistry.Gauge("rw.max_rows")

	// ---- Witness generator metrics ----

	// TxsTraced counts transactions run by the witness generator.
	TxsTraced = DefaultRegistry.Counter("witness.txs")
	// StepsGenerated counts steps emitted by the witness generator.
	StepsGenerated = DefaultRegistry.Counter("witness.steps")
	// GasTraced counts gas consumed by traced transactions.
	GasTraced = DefaultRegistry.Counter("witness.gas_used")
	// RevertedFrames counts call frames whose writes were undone.
	RevertedFrames = DefaultRegistry.Counter("witness.reverted_frames")
	// GenerateTime records witness generation time in microseconds.
	GenerateTime = DefaultRegistry.Histogram("witness.generate_us")
)

// StepsByState returns the counter tracking steps of one execution state.
func StepsByState(state string) *Counter {
	return DefaultRegistry.Counter("evm.steps." + state)
}
