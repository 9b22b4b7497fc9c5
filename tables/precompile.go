package tables

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/zkevm/field"
)

// Precompile addresses.
var (
	PrecompileEcrecover = common.BytesToAddress([]byte{1})
	PrecompileSha256    = common.BytesToAddress([]byte{2})
	PrecompileRipemd160 = common.BytesToAddress([]byte{3})
	PrecompileIdentity  = common.BytesToAddress([]byte{4})
	PrecompileModexp    = common.BytesToAddress([]byte{5})
	PrecompileBn254Add  = common.BytesToAddress([]byte{6})
	PrecompileBn254Mul  = common.BytesToAddress([]byte{7})
	PrecompilePairing   = common.BytesToAddress([]byte{8})
	PrecompileBlake2F   = common.BytesToAddress([]byte{9})
)

// ChainConfig returns the fork configuration the circuit targets: every
// block-numbered fork up to London active from genesis, no merge.
func ChainConfig(chainID *big.Int) *params.ChainConfig {
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
	}
}

// Precompiles returns the precompiled contracts active under ChainConfig.
func Precompiles() gethvm.PrecompiledContracts {
	rules := ChainConfig(big.NewInt(1)).Rules(big.NewInt(0), false, 0)
	return gethvm.ActivePrecompiledContracts(rules)
}

var activePrecompiles = Precompiles()

// IsPrecompile reports whether addr is an active precompile.
func IsPrecompile(addr common.Address) bool {
	_, ok := activePrecompiles[addr]
	return ok
}

type precompileKey struct {
	address  common.Address
	inputRLC field.FQ
	inputLen uint64
}

// PrecompileResult is the output side of a precompile table row.
type PrecompileResult struct {
	Output    []byte
	OutputRLC field.FQ
	Gas       uint64
	IsSuccess bool
}

// PrecompileTable holds (address, input_rlc, input_len, output_rlc,
// output_len, gas, is_success) rows produced by running the precompiles.
type PrecompileTable struct {
	r    field.FQ
	rows map[precompileKey]PrecompileResult
}

// NewPrecompileTable returns an empty table compressing byte strings with r.
func NewPrecompileTable(r field.FQ) *PrecompileTable {
	return &PrecompileTable{r: r, rows: make(map[precompileKey]PrecompileResult)}
}

// Run executes the precompile at addr on input, records the row and
// returns it. Gas is the required gas; IsSuccess reports whether the input
// was accepted. Whether the caller supplied enough gas is decided by the
// precompile gadget.
func (t *PrecompileTable) Run(addr common.Address, input []byte) (PrecompileResult, bool) {
	p, ok := activePrecompiles[addr]
	if !ok {
		return PrecompileResult{}, false
	}
	res := PrecompileResult{Gas: p.RequiredGas(input)}
	if out, err := p.Run(input); err == nil {
		res.Output = out
		res.IsSuccess = true
	}
	res.OutputRLC = field.RLCAcc(res.Output, t.r)
	t.rows[precompileKey{addr, field.RLCAcc(input, t.r), uint64(len(input))}] = res
	return res, true
}

// Lookup returns the row for the precompile at addr applied to the input
// with the given RLC and length.
func (t *PrecompileTable) Lookup(addr common.Address, inputRLC field.FQ, inputLen uint64) (PrecompileResult, bool) {
	res, ok := t.rows[precompileKey{addr, inputRLC, inputLen}]
	return res, ok
}

// Len returns the number of rows.
func (t *PrecompileTable) Len() int { return len(t.rows) }
