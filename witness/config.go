package witness

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/crypto"
	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/tables"
)

// Generator errors.
var (
	ErrInvalidConfig     = errors.New("witness: invalid config")
	ErrTooManyTxs        = errors.New("witness: too many transactions")
	ErrUnsupportedOpcode = errors.New("witness: unsupported opcode")
	ErrUnsupportedTx     = errors.New("witness: unsupported transaction")
	ErrBlockGasLimit     = errors.New("witness: block gas limit exceeded")
	ErrMissingBlockHash  = errors.New("witness: block hash outside history")
	ErrDivergence        = errors.New("witness: frame outcome differs between passes")
)

// Account is one pre-state account.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Config describes the block a generator traces and the state it starts
// from.
type Config struct {
	ChainID    uint64
	Coinbase   common.Address
	Number     uint64
	Timestamp  uint64
	GasLimit   uint64
	Difficulty *uint256.Int
	BaseFee    *uint256.Int
	// History holds the hashes of the preceding blocks, oldest first.
	History []common.Hash
	// Accounts is the state before the first transaction.
	Accounts map[common.Address]Account
	// Params are the circuit parameters the trace is built for.
	Params evm.Params
}

// DefaultConfig returns a config for block 1 on chain 1 with an empty
// state.
func DefaultConfig() Config {
	return Config{
		ChainID:    1,
		Coinbase:   common.HexToAddress("0x00000000000000000000000000000000c0ffee00"),
		Number:     1,
		Timestamp:  1_700_000_000,
		GasLimit:   30_000_000,
		Difficulty: new(uint256.Int),
		BaseFee:    uint256.NewInt(7),
		History:    []common.Hash{crypto.Keccak256Hash([]byte("genesis"))},
		Accounts:   make(map[common.Address]Account),
		Params:     evm.DefaultParams(),
	}
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	switch {
	case c.ChainID == 0:
		return fmt.Errorf("%w: chain id is zero", ErrInvalidConfig)
	case c.GasLimit == 0:
		return fmt.Errorf("%w: gas limit is zero", ErrInvalidConfig)
	case c.BaseFee == nil:
		return fmt.Errorf("%w: base fee missing", ErrInvalidConfig)
	case c.Params.MaxCopyBytes == 0 && c.Params.InlineCopy:
		return fmt.Errorf("%w: inline copy needs MaxCopyBytes", ErrInvalidConfig)
	}
	for addr := range c.Accounts {
		if tables.IsPrecompile(addr) {
			return fmt.Errorf("%w: account at precompile %s", ErrInvalidConfig, addr)
		}
	}
	return nil
}

func (c *Config) block() *tables.Block {
	difficulty := c.Difficulty
	if difficulty == nil {
		difficulty = new(uint256.Int)
	}
	return &tables.Block{
		Coinbase:   c.Coinbase,
		Timestamp:  c.Timestamp,
		Number:     c.Number,
		GasLimit:   c.GasLimit,
		Difficulty: difficulty,
		BaseFee:    c.BaseFee,
		ChainID:    uint256.NewInt(c.ChainID),
		History:    c.History,
	}
}

func (c *Config) chainID() *big.Int { return new(big.Int).SetUint64(c.ChainID) }
