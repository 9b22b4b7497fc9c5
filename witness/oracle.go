package witness

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/eth2030/zkevm/tables"
)

// ErrOracleMismatch is returned when a trace disagrees with go-ethereum on
// the same block.
var ErrOracleMismatch = errors.New("witness: trace disagrees with go-ethereum")

// OracleReceipt is go-ethereum's outcome for one transaction.
type OracleReceipt struct {
	Invalid bool
	Status  bool
	GasUsed uint64
}

// OracleResult is go-ethereum's outcome for a block.
type OracleResult struct {
	Receipts []OracleReceipt
	Root     common.Hash
}

// Oracle replays blocks with go-ethereum's state transition so traces can
// be checked against an independent EVM.
type Oracle struct {
	cfg   Config
	chain *params.ChainConfig
}

// NewOracle returns an oracle for the block and pre-state of cfg.
func NewOracle(cfg Config) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Oracle{cfg: cfg, chain: londonChainConfig(cfg.chainID())}, nil
}

// londonChainConfig activates every fork up to and including London at
// genesis, without the merge.
func londonChainConfig(chainID *big.Int) *params.ChainConfig {
	zero := big.NewInt(0)
	return &params.ChainConfig{
		ChainID:             chainID,
		HomesteadBlock:      zero,
		EIP150Block:         zero,
		EIP155Block:         zero,
		EIP158Block:         zero,
		ByzantiumBlock:      zero,
		ConstantinopleBlock: zero,
		PetersburgBlock:     zero,
		IstanbulBlock:       zero,
		MuirGlacierBlock:    zero,
		BerlinBlock:         zero,
		LondonBlock:         zero,
		Ethash:              new(params.EthashConfig),
	}
}

// preState commits the configured accounts as a genesis state and opens a
// StateDB on top of it.
func (o *Oracle) preState() (*gethstate.StateDB, error) {
	alloc := make(types.GenesisAlloc, len(o.cfg.Accounts))
	for addr, a := range o.cfg.Accounts {
		balance := new(big.Int)
		if a.Balance != nil {
			balance = a.Balance.ToBig()
		}
		alloc[addr] = types.Account{Nonce: a.Nonce, Balance: balance, Code: a.Code, Storage: a.Storage}
	}
	db := rawdb.NewMemoryDatabase()
	tdb := triedb.NewDatabase(db, triedb.HashDefaults)
	genesis := &gethcore.Genesis{Config: o.chain, Alloc: alloc, GasLimit: o.cfg.GasLimit, Difficulty: new(big.Int)}
	block, err := genesis.Commit(db, tdb, nil)
	if err != nil {
		return nil, fmt.Errorf("commit pre-state: %w", err)
	}
	return gethstate.New(block.Root(), gethstate.NewDatabase(tdb, nil))
}

func (o *Oracle) blockContext() gethvm.BlockContext {
	b := o.cfg.block()
	return gethvm.BlockContext{
		CanTransfer: gethcore.CanTransfer,
		Transfer:    gethcore.Transfer,
		GetHash: func(n uint64) common.Hash {
			h, _ := b.HistoryHash(n)
			return h
		},
		Coinbase:    b.Coinbase,
		GasLimit:    b.GasLimit,
		BlockNumber: new(big.Int).SetUint64(b.Number),
		Time:        b.Timestamp,
		Difficulty:  b.Difficulty.ToBig(),
		BaseFee:     b.BaseFee.ToBig(),
	}
}

// Apply executes txs as one block. A transaction go-ethereum refuses to
// apply is reported as invalid and leaves the state untouched.
func (o *Oracle) Apply(txs []*tables.Tx) (*OracleResult, error) {
	statedb, err := o.preState()
	if err != nil {
		return nil, err
	}
	blockCtx := o.blockContext()
	gasPool := new(gethcore.GasPool).AddGas(o.cfg.GasLimit)

	res := &OracleResult{}
	for n, tx := range txs {
		statedb.SetTxContext(common.BigToHash(big.NewInt(int64(n+1))), n)
		evm := gethvm.NewEVM(blockCtx, statedb, o.chain, gethvm.Config{})

		snapshot := statedb.Snapshot()
		result, err := gethcore.ApplyMessage(evm, toMessage(tx), gasPool)
		if err != nil {
			statedb.RevertToSnapshot(snapshot)
			res.Receipts = append(res.Receipts, OracleReceipt{Invalid: true})
			continue
		}
		statedb.Finalise(true)
		res.Receipts = append(res.Receipts, OracleReceipt{Status: !result.Failed(), GasUsed: result.UsedGas})
	}
	res.Root = statedb.IntermediateRoot(true)
	return res, nil
}

func toMessage(tx *tables.Tx) *gethcore.Message {
	price, value := orZero(tx.GasPrice).ToBig(), orZero(tx.Value).ToBig()
	return &gethcore.Message{
		From:       tx.Caller,
		To:         tx.Callee,
		Nonce:      tx.Nonce,
		Value:      value,
		GasLimit:   tx.Gas,
		GasPrice:   price,
		GasFeeCap:  price,
		GasTipCap:  price,
		Data:       tx.CallData,
		AccessList: tx.AccessList,
	}
}

// Compare replays txs and checks that tr agrees with go-ethereum on every
// receipt and on the post-state root.
func (o *Oracle) Compare(tr *Trace, txs []*tables.Tx) error {
	res, err := o.Apply(txs)
	if err != nil {
		return err
	}
	if len(res.Receipts) != len(tr.Receipts) {
		return fmt.Errorf("%w: %d receipts, go-ethereum has %d", ErrOracleMismatch, len(tr.Receipts), len(res.Receipts))
	}
	for n, want := range res.Receipts {
		got := tr.Receipts[n]
		if got.Invalid != want.Invalid || got.Status != want.Status || got.GasUsed != want.GasUsed {
			return fmt.Errorf("%w: tx %d: invalid=%v status=%v gas=%d, go-ethereum invalid=%v status=%v gas=%d",
				ErrOracleMismatch, got.TxID, got.Invalid, got.Status, got.GasUsed, want.Invalid, want.Status, want.GasUsed)
		}
	}
	if res.Root != tr.PostRoot {
		return fmt.Errorf("%w: post root %x, go-ethereum %x", ErrOracleMismatch, tr.PostRoot, res.Root)
	}
	return nil
}
