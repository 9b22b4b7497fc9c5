// generator.go implements the witness generator. It executes a block of
// transactions against an in-memory state and emits everything the
// execution circuit consumes: the step sequence, the read-write bus and the
// auxiliary lookup tables. Every transaction runs twice; the first pass
// learns how each call frame ends, so that the second pass can write the
// reversion parameters of a frame when the frame opens.
package witness

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/log"
	"github.com/eth2030/zkevm/metrics"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

var logger = log.Module("witness")

// Log is one log emitted by a persistent frame.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt summarizes one traced transaction.
type Receipt struct {
	TxID              uint64
	Invalid           bool
	Status            bool
	GasUsed           uint64
	CumulativeGasUsed uint64
	Logs              []Log
}

// Trace is the witness of one block.
type Trace struct {
	Params   evm.Params
	Tables   *evm.Tables
	Steps    []*evm.StepState
	MPT      *tables.MPTTable
	PreRoot  common.Hash
	PostRoot common.Hash
	Receipts []Receipt
}

// Verify checks the trace with the execution circuit, then checks that the
// MPT table covers every state change on the bus and chains the pre-state
// root into the post-state root.
func (tr *Trace) Verify() error {
	if err := evm.VerifySteps(tr.Params, tr.Tables, tr.Steps); err != nil {
		return err
	}
	if err := rw.CheckMPT(tr.Tables.RW, tr.MPT); err != nil {
		return err
	}
	root, err := tr.MPT.CheckRoots(tr.PreRoot)
	if err != nil {
		return err
	}
	if root != tr.PostRoot {
		return fmt.Errorf("%w: mpt ends at %x, post state is %x", tables.ErrMPTRootChain, root, tr.PostRoot)
	}
	return nil
}

// Generator builds traces for blocks on top of a fixed pre-state. It is
// safe to call Generate repeatedly; each call starts from the pre-state.
type Generator struct {
	cfg   Config
	state *stateDB
}

// New returns a generator for cfg.
func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, state: newStateDB(cfg.Accounts)}, nil
}

// Config returns the generator's config.
func (g *Generator) Config() Config { return g.cfg }

// Generate executes txs as one block and returns its trace. Transaction ids
// are assigned in order starting at 1; the caller's values are not
// modified.
func (g *Generator) Generate(txs []*tables.Tx) (*Trace, error) {
	if len(txs) > g.cfg.Params.MaxTxs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTxs, len(txs), g.cfg.Params.MaxTxs)
	}
	timer := metrics.NewTimer(metrics.GenerateTime)
	defer timer.Stop()

	pre := g.state.clone()
	t := newTracer(g.cfg.Params, g.cfg.block(), g.state.clone())

	list := make([]*tables.Tx, len(txs))
	for n, tx := range txs {
		c := *tx
		c.ID = uint64(n + 1)
		list[n] = &c
		if err := t.runTx(&c); err != nil {
			return nil, fmt.Errorf("tx %d: %w", c.ID, err)
		}
	}
	t.endBlock(len(list))

	t.tables.Tx = tables.NewTxTable(g.cfg.chainID(), list)
	bus, err := t.dict.Table()
	if err != nil {
		return nil, err
	}
	t.tables.RW = bus

	mpt, preRoot, postRoot, err := buildMPT(pre, t.state)
	if err != nil {
		return nil, err
	}

	metrics.TxsTraced.Add(int64(len(list)))
	metrics.StepsGenerated.Add(int64(len(t.steps)))
	metrics.GasTraced.Add(int64(t.cumulative))
	logger.Debug("trace generated", "txs", len(list), "steps", len(t.steps), "rws", bus.Len(), "gas", t.cumulative)

	return &Trace{
		Params:   t.params,
		Tables:   t.tables,
		Steps:    t.steps,
		MPT:      mpt,
		PreRoot:  preRoot,
		PostRoot: postRoot,
		Receipts: t.receipts,
	}, nil
}

// tracer executes transactions and records their witness.
type tracer struct {
	params evm.Params
	block  *tables.Block
	state  *stateDB
	dict   *rw.Dictionary
	tables *evm.Tables
	steps  []*evm.StepState

	tx    *tables.Tx
	logID uint64
	logs  []Log

	// seq numbers the frames of the current transaction in opening order.
	seq int
	// outcomes holds the success of every frame learned by the dry pass.
	outcomes []bool
	// seen collects frame outcomes as frames end.
	seen []bool
	dry  bool

	cumulative uint64
	lastRoot   uint64
	receipts   []Receipt
}

func newTracer(p evm.Params, block *tables.Block, state *stateDB) *tracer {
	t := &tracer{
		params: p,
		block:  block,
		state:  state,
		dict:   rw.NewDictionary(),
		tables: evm.NewTables(block, p.Randomness),
	}
	hashes := slices.SortedFunc(maps.Keys(state.codes), func(a, b common.Hash) int { return a.Cmp(b) })
	for _, h := range hashes {
		t.tables.Bytecode.Add(state.codes[h])
	}
	return t
}

// fork returns a throwaway tracer over a copy of the state, used for the
// dry pass of a transaction.
func (t *tracer) fork() *tracer {
	d := newTracer(t.params, t.block, t.state.clone())
	d.dry = true
	d.cumulative = t.cumulative
	d.lastRoot = t.lastRoot
	return d
}

// runTx traces tx, running it once to learn frame outcomes and once more
// to emit the witness.
func (t *tracer) runTx(tx *tables.Tx) error {
	dry := t.fork()
	if err := dry.execTx(tx); err != nil {
		return err
	}
	t.outcomes = dry.seen
	t.seen = nil
	return t.execTx(tx)
}

func (t *tracer) execTx(tx *tables.Tx) error {
	t.tx = tx
	t.logID = 0
	t.logs = nil
	t.seq = 0
	t.state.beginTx()

	root, err := t.beginTx(tx)
	if err != nil {
		return err
	}
	if err := t.run(root); err != nil {
		return err
	}
	return t.endTx(tx, root)
}

// nextSeq numbers a frame that is about to open.
func (t *tracer) nextSeq() int {
	n := t.seq
	t.seq++
	return n
}

// outcome predicts whether frame seq succeeds. The dry pass assumes it
// does.
func (t *tracer) outcome(seq int) bool {
	if t.dry || seq >= len(t.outcomes) {
		return true
	}
	return t.outcomes[seq]
}

// record notes how frame seq ended and checks it against the prediction.
func (t *tracer) record(seq int, success bool) error {
	for len(t.seen) <= seq {
		t.seen = append(t.seen, false)
	}
	t.seen[seq] = success
	if !t.dry && t.outcome(seq) != success {
		return fmt.Errorf("%w: frame %d", ErrDivergence, seq)
	}
	return nil
}

// newStep appends a step in state for frame f as it stands now.
func (t *tracer) newStep(f *frame, state evm.ExecutionState) *evm.StepState {
	s := &evm.StepState{
		State:                  state,
		RWCounter:              t.dict.Counter(),
		CallID:                 f.id,
		IsRoot:                 f.isRoot,
		IsCreate:               f.isCreate,
		CodeHash:               f.codeHash,
		ProgramCounter:         f.pc,
		StackPointer:           f.sp(),
		GasLeft:                f.gas,
		MemoryWordSize:         f.words(),
		ReversibleWriteCounter: uint64(len(f.writes)),
		LogID:                  t.logID,
	}
	t.steps = append(t.steps, s)
	return s
}

// Stack access. Slot numbers count down from StackLimit.

func (t *tracer) pop(f *frame) uint256.Int {
	v := *f.back(0)
	t.dict.StackRead(f.id, f.sp(), field.WordFromUint256(&v))
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (t *tracer) push(f *frame, v *uint256.Int) {
	f.stack = append(f.stack, *v)
	t.dict.StackWrite(f.id, f.sp(), field.WordFromUint256(v))
}

func (t *tracer) pushWord(f *frame, w field.Word) { t.push(f, w.Uint256()) }

// operand reads the stack item k slots below the top without popping it.
func (t *tracer) operand(f *frame, k int) *uint256.Int {
	v := f.back(k)
	t.dict.StackRead(f.id, f.sp()+uint64(k), field.WordFromUint256(v))
	return v
}

// Call context access. Records carrying the end of reversion are kept so
// they can be patched once the frame's fate is known.

func (t *tracer) read(f *frame, tag rw.CallContextFieldTag) field.Word {
	v := f.context(tag)
	r := t.dict.CallContextRead(f.id, tag, v)
	if tag == rw.CallRwCounterEndOfReversion {
		f.endRecords = append(f.endRecords, r.RWCounter)
	}
	return v
}

func (t *tracer) write(f *frame, tag rw.CallContextFieldTag) {
	r := t.dict.CallContextWrite(f.id, tag, f.context(tag))
	if tag == rw.CallRwCounterEndOfReversion {
		f.endRecords = append(f.endRecords, r.RWCounter)
	}
}

// Reversible writes. Each is journaled on the frame whose reversion it
// follows and undone, with a twin on the bus, if that frame fails. A nil
// frame makes the write irreversible.

func (t *tracer) journal(f *frame, r rw.Record, undo func()) {
	if f == nil {
		return
	}
	f.writes = append(f.writes, journalEntry{rec: r, undo: undo})
}

func (t *tracer) setNonce(f *frame, addr common.Address, v uint64) {
	prev := t.state.nonce(addr)
	r := t.dict.AccountWrite(addr, rw.AccountNonce, word(v), word(prev), nil)
	t.state.get(addr).nonce = v
	t.journal(f, r, func() { t.state.get(addr).nonce = prev })
}

func (t *tracer) setBalance(f *frame, addr common.Address, v *uint256.Int) {
	prev := t.state.balance(addr)
	r := t.dict.AccountWrite(addr, rw.AccountBalance, field.WordFromUint256(v), field.WordFromUint256(prev), nil)
	t.state.get(addr).balance = *v
	t.journal(f, r, func() { t.state.get(addr).balance = *prev })
}

func (t *tracer) setCodeHash(f *frame, addr common.Address, h common.Hash) {
	prev := t.state.codeHash(addr)
	r := t.dict.AccountWrite(addr, rw.AccountCodeHash, field.WordFromHash(h), field.WordFromHash(prev), nil)
	t.state.get(addr).codeHash = h
	t.journal(f, r, func() { t.state.get(addr).codeHash = prev })
}

// transfer moves value from sender to receiver, always writing both
// balances.
func (t *tracer) transfer(f *frame, sender, receiver common.Address, value *uint256.Int) {
	t.setBalance(f, sender, new(uint256.Int).Sub(t.state.balance(sender), value))
	t.setBalance(f, receiver, new(uint256.Int).Add(t.state.balance(receiver), value))
}

func (t *tracer) warmAccount(f *frame, addr common.Address) (wasWarm bool) {
	wasWarm = t.state.warmAccounts[addr]
	r := t.dict.TxAccessListAccountWrite(f.txID, addr, true, wasWarm, nil)
	t.state.setWarmAccount(addr, true)
	t.journal(f, r, func() { t.state.setWarmAccount(addr, wasWarm) })
	return wasWarm
}

func (t *tracer) warmSlot(f *frame, addr common.Address, key common.Hash) (wasWarm bool) {
	wasWarm = t.state.warmSlots[slotKey{addr, key}]
	r := t.dict.TxAccessListAccountStorageWrite(f.txID, addr, field.WordFromHash(key), true, wasWarm, nil)
	t.state.setWarmSlot(addr, key, true)
	t.journal(f, r, func() { t.state.setWarmSlot(addr, key, wasWarm) })
	return wasWarm
}

func (t *tracer) setStorage(f *frame, addr common.Address, key common.Hash, v *uint256.Int) {
	prev := t.state.storage(addr, key)
	committed := t.state.committedStorage(addr, key)
	r := t.dict.StorageWrite(f.txID, addr, field.WordFromHash(key), field.WordFromUint256(v),
		field.WordFromUint256(prev), field.WordFromUint256(committed), nil)
	t.state.setStorage(addr, key, v)
	t.journal(f, r, func() { t.state.setStorage(addr, key, prev) })
}

func (t *tracer) setRefund(f *frame, v uint64) {
	prev := t.state.refund
	r := t.dict.TxRefundWrite(f.txID, v, prev, nil)
	t.state.refund = v
	t.journal(f, r, func() { t.state.refund = prev })
}

// settle closes the journal of a frame that just ended. A failed frame's
// writes are undone and their twins placed after the frame's last record,
// newest write first. A successful frame hands its writes to its caller.
func (t *tracer) settle(f *frame, success bool) error {
	if success {
		if p := f.parent; p != nil {
			p.writes = append(p.writes, f.writes...)
			if !p.persistent {
				p.pending = append(p.pending, f)
			}
		}
		return nil
	}
	n := uint64(len(f.writes))
	end := t.dict.Counter() + n - 1
	for k := len(f.writes) - 1; k >= 0; k-- {
		f.writes[k].undo()
	}
	for k, e := range f.writes {
		if err := t.dict.Put(e.rec.Twin(end - uint64(k))); err != nil {
			return err
		}
	}
	t.dict.Skip(n)
	if n > 0 && !t.dry {
		metrics.RevertedFrames.Inc()
	}
	return t.resolve(f, end)
}

// resolve fixes the end of reversion of f and of the successful callees
// whose writes f reverts.
func (t *tracer) resolve(f *frame, end uint64) error {
	f.end = end
	for _, c := range f.endRecords {
		if err := t.dict.Patch(c, func(r *rw.Record) { r.Value = word(end) }); err != nil {
			return err
		}
	}
	for _, c := range f.pending {
		if err := t.resolve(c, end-uint64(c.base)); err != nil {
			return err
		}
	}
	return nil
}

// run executes f until it ends.
func (t *tracer) run(f *frame) error {
	for !f.done {
		if err := t.step(f); err != nil {
			return err
		}
	}
	return nil
}
