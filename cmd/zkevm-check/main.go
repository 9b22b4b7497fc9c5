// Command zkevm-check generates execution traces for small blocks and runs
// them through the execution circuit.
//
// Usage:
//
//	zkevm-check [global flags] run --code <hex> [--calldata <hex>] [--gas N] [--inline-copy] [--oracle]
//	zkevm-check [global flags] scenarios [--oracle]
//	zkevm-check [global flags] tables
//
// Global flags:
//
//	--log.level   Log level: debug, info, warn, error (default: warn)
//	--log.format  Log format on stderr: json or text (default: json)
//	--metrics    Print metrics in Prometheus text format on exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/log"
	"github.com/eth2030/zkevm/metrics"
	"github.com/eth2030/zkevm/tables"
	"github.com/eth2030/zkevm/witness"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

var (
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Value: "warn",
		Usage: "log level (debug, info, warn, error)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log.format",
		Value: "json",
		Usage: "log format on stderr (json, text)",
	}
	metricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "print metrics in Prometheus text format on exit",
	}

	codeFlag = &cli.StringFlag{
		Name:     "code",
		Usage:    "contract bytecode in hex",
		Required: true,
	}
	calldataFlag = &cli.StringFlag{
		Name:  "calldata",
		Usage: "call data in hex",
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Value: 1_000_000,
		Usage: "transaction gas limit",
	}
	valueFlag = &cli.Uint64Flag{
		Name:  "value",
		Usage: "wei sent with the call",
	}
	inlineCopyFlag = &cli.BoolFlag{
		Name:  "inline-copy",
		Usage: "move copies through internal copy steps",
	}
	maxCopyFlag = &cli.Uint64Flag{
		Name:  "max-copy-bytes",
		Value: evm.DefaultParams().MaxCopyBytes,
		Usage: "bytes moved per internal copy step",
	}
	stepsFlag = &cli.BoolFlag{
		Name:  "steps",
		Usage: "print every step of the trace",
	}
	oracleFlag = &cli.BoolFlag{
		Name:  "oracle",
		Usage: "replay each block with go-ethereum and compare receipts and the post-state root",
	}
)

func main() {
	os.Exit(run(os.Args))
}

// run is the actual entry point, returning an exit code. It takes the full
// argument list including the program name so it can be tested in
// isolation.
func run(args []string) int {
	if err := newApp(os.Stdout).Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(w io.Writer) *cli.App {
	return &cli.App{
		Name:    "zkevm-check",
		Usage:   "generate and verify zkEVM execution traces",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Writer:  w,
		Flags:   []cli.Flag{logLevelFlag, logFormatFlag, metricsFlag},
		Before: func(c *cli.Context) error {
			log.Setup(os.Stderr, c.String(logFormatFlag.Name))
			log.SetLevel(log.LevelFromString(c.String(logLevelFlag.Name)))
			return nil
		},
		After: func(c *cli.Context) error {
			if !c.Bool(metricsFlag.Name) {
				return nil
			}
			return metrics.WriteText(c.App.Writer, metrics.DefaultRegistry, "zkevm")
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "trace one call to the given bytecode and verify it",
				Flags:  []cli.Flag{codeFlag, calldataFlag, gasFlag, valueFlag, inlineCopyFlag, maxCopyFlag, stepsFlag, oracleFlag},
				Action: runCode,
			},
			{
				Name:   "scenarios",
				Usage:  "trace and verify the built-in scenarios",
				Flags:  []cli.Flag{oracleFlag},
				Action: runScenarios,
			},
			{
				Name:   "tables",
				Usage:  "print the sizes of the fixed lookup tables",
				Action: printTables,
			},
		},
	}
}

func runCode(c *cli.Context) error {
	code := common.FromHex(c.String(codeFlag.Name))
	if len(code) == 0 {
		return errors.New("--code is empty")
	}
	cfg := scenarioConfig(map[common.Address][]byte{contractAddr: code})
	cfg.Params.InlineCopy = c.Bool(inlineCopyFlag.Name)
	cfg.Params.MaxCopyBytes = c.Uint64(maxCopyFlag.Name)

	tx := callTx(0, contractAddr, c.Uint64(valueFlag.Name), common.FromHex(c.String(calldataFlag.Name)))
	tx.Gas = c.Uint64(gasFlag.Name)

	tr, err := check(cfg, c.Bool(oracleFlag.Name), tx)
	if err != nil {
		return err
	}
	w := c.App.Writer
	if c.Bool(stepsFlag.Name) {
		for n, s := range tr.Steps {
			fmt.Fprintf(w, "%5d %v\n", n, s)
		}
	}
	printTrace(w, tr)
	return nil
}

func runScenarios(c *cli.Context) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tRESULT\tSTEPS\tRWS\tGAS")
	failed := 0
	for _, sc := range scenarios() {
		tr, err := check(sc.config, c.Bool(oracleFlag.Name), sc.txs...)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\tFAIL: %v\t\t\t\n", sc.name, err)
			continue
		}
		gas := uint64(0)
		if n := len(tr.Receipts); n > 0 {
			gas = tr.Receipts[n-1].CumulativeGasUsed
		}
		fmt.Fprintf(w, "%s\tok\t%d\t%d\t%d\n", sc.name, len(tr.Steps), tr.Tables.RW.Len(), gas)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d scenarios failed", failed)
	}
	return nil
}

func printTables(c *cli.Context) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tCOLUMNS\tROWS")
	for _, s := range tables.FixedTables() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Name(), s.Width(), s.Len())
	}
	return w.Flush()
}

// check generates a block for txs on top of cfg and verifies it. With
// oracle set the block is also replayed with go-ethereum.
func check(cfg witness.Config, oracle bool, txs ...*tables.Tx) (*witness.Trace, error) {
	g, err := witness.New(cfg)
	if err != nil {
		return nil, err
	}
	tr, err := g.Generate(txs)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if err := tr.Verify(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if !oracle {
		return tr, nil
	}
	o, err := witness.NewOracle(cfg)
	if err != nil {
		return nil, err
	}
	if err := o.Compare(tr, txs); err != nil {
		return nil, err
	}
	return tr, nil
}

func printTrace(w io.Writer, tr *witness.Trace) {
	fmt.Fprintf(w, "steps:     %d\n", len(tr.Steps))
	fmt.Fprintf(w, "rw rows:   %d\n", tr.Tables.RW.Len())
	fmt.Fprintf(w, "copies:    %d\n", tr.Tables.Copy.Len())
	fmt.Fprintf(w, "keccaks:   %d\n", tr.Tables.Keccak.Len())
	fmt.Fprintf(w, "mpt rows:  %d\n", tr.MPT.Len())
	fmt.Fprintf(w, "pre root:  %x\n", tr.PreRoot)
	fmt.Fprintf(w, "post root: %x\n", tr.PostRoot)
	for _, r := range tr.Receipts {
		fmt.Fprintf(w, "tx %d: invalid=%v status=%v gas=%d logs=%d\n", r.TxID, r.Invalid, r.Status, r.GasUsed, len(r.Logs))
	}
}
