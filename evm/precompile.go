package evm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/zkevm/circuit"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// precompileAddress returns the address of the precompile a state runs.
func precompileAddress(s ExecutionState) common.Address {
	return common.BytesToAddress([]byte{byte(s-StatePrecompileEcRecover) + 1})
}

func padRight(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func wordAt(b []byte, off int) field.Word { return field.WordFromBytes(b[off : off+32]) }

// gadgetPrecompile runs a precompiled contract as a frame of its own. The
// input comes from the caller's memory and the result from the precompile
// table. The curve precompiles are cross-checked against the signature and
// ECC tables. On success the output lands in the frame's own memory, as
// return data, and in the caller's return region.
func gadgetPrecompile(i *Instruction) {
	addr := precompileAddress(i.curr.State)
	callerID := i.callContextFQ(rw.CallCallerID)
	cdOffset := i.callContextFQ(rw.CallCallDataOffset)
	cdLength := i.callContextFQ(rw.CallCallDataLength)
	rdOffset := i.callContextFQ(rw.CallReturnDataOffset)
	rdLength := i.callContextFQ(rw.CallReturnDataLength)
	success := i.callContextFQ(rw.CallIsSuccess)
	end := i.callContextFQ(rw.CallRwCounterEndOfReversion)

	n := i.u64("precompile.input_size", cdLength)
	start := i.curr.RWCounter + i.rwOffset
	input := make([]byte, n)
	for k := range input {
		b, _ := i.rwAt(start + uint64(k)).Value.Lo.Uint64()
		input[k] = byte(b)
	}
	offset := i.u64("precompile.input_offset", cdOffset)
	ev := i.copyLookup(tables.CopyEvent{
		SrcID:      field.WordFromFQ(callerID),
		SrcType:    tables.CopyMemory,
		DstType:    tables.CopyRlcAcc,
		SrcAddr:    offset,
		SrcAddrEnd: offset + n,
		Length:     n,
	})
	res, ok := i.tables.Precompile.Lookup(addr, ev.RLCAcc, n)
	i.cs.LookupResult("precompile", ok, fmt.Sprintf("%s len %d", addr, n))
	i.checkCurvePrecompile(addr, input, ev.RLCAcc, res)

	gas := fq(i.curr.GasLeft)
	enough := circuit.Not(i.lessThan(gas, fq(res.Gas), 8))
	i.cs.AssertEqual("precompile.is_success", success, circuit.And(field.FromBool(res.IsSuccess), enough))

	out := fq(0)
	gasLeft := field.Zero()
	if success.IsOne() {
		out = fq(uint64(len(res.Output)))
		gasLeft = gas.Sub(fq(res.Gas))
		i.copyLookup(tables.CopyEvent{
			SrcType:    tables.CopyRlcAcc,
			DstID:      word(i.curr.CallID),
			DstType:    tables.CopyMemory,
			SrcAddrEnd: uint64(len(res.Output)),
			Length:     uint64(len(res.Output)),
			RLCAcc:     res.OutputRLC,
		})
	}
	result := frameResult{success: success, gasLeft: gasLeft, retLength: out, end: end}
	if success.IsOne() {
		size := i.minSmall(out, rdLength, memoryBytes)
		result.after = func(callerID field.FQ) {
			i.copyLookup(tables.CopyEvent{
				SrcID:      word(i.curr.CallID),
				SrcType:    tables.CopyMemory,
				DstID:      field.WordFromFQ(callerID),
				DstType:    tables.CopyMemory,
				SrcAddrEnd: uint64(len(res.Output)),
				DstAddr:    i.u64("precompile.return_offset", rdOffset),
				Length:     i.u64("precompile.return_size", size),
			})
		}
	}
	i.endFrame(result)
}

// checkCurvePrecompile ties the precompile table row of ECRECOVER and the
// bn254 precompiles to the circuits that prove the curve arithmetic.
func (i *Instruction) checkCurvePrecompile(addr common.Address, input []byte, inputRLC field.FQ, res tables.PrecompileResult) {
	switch addr {
	case tables.PrecompileEcrecover:
		in := padRight(input, 128)
		sig, ok := i.tables.Sig.Lookup(wordAt(in, 0), wordAt(in, 32), wordAt(in, 64), wordAt(in, 96))
		i.cs.LookupResult("sig", ok, addr.Hex())
		var want []byte
		if sig.IsValid {
			want = common.LeftPadBytes(sig.Address.Bytes(), 32)
		}
		i.cs.AssertTrue("ecrecover.output", bytes.Equal(res.Output, want))
	case tables.PrecompileBn254Add:
		in := padRight(input, 128)
		r, ok := i.tables.ECC.LookupAdd(wordAt(in, 0), wordAt(in, 32), wordAt(in, 64), wordAt(in, 96))
		i.cs.LookupResult("ecc.add", ok, addr.Hex())
		i.checkPointOutput("bn254_add", r, res)
	case tables.PrecompileBn254Mul:
		in := padRight(input, 96)
		r, ok := i.tables.ECC.LookupMul(wordAt(in, 0), wordAt(in, 32), wordAt(in, 64))
		i.cs.LookupResult("ecc.mul", ok, addr.Hex())
		i.checkPointOutput("bn254_mul", r, res)
	case tables.PrecompilePairing:
		r, ok := i.tables.ECC.LookupPairing(inputRLC, uint64(len(input)))
		i.cs.LookupResult("ecc.pairing", ok, addr.Hex())
		i.cs.AssertTrue("pairing.is_valid", r.IsValid == res.IsSuccess)
		if r.IsValid {
			h := r.X.Hash()
			i.cs.AssertTrue("pairing.output", bytes.Equal(res.Output, h[:]))
		}
	}
}

func (i *Instruction) checkPointOutput(name string, r tables.ECCResult, res tables.PrecompileResult) {
	i.cs.AssertTrue(name+".is_valid", r.IsValid == res.IsSuccess)
	if !r.IsValid {
		return
	}
	x, y := r.X.Hash(), r.Y.Hash()
	i.cs.AssertTrue(name+".output", bytes.Equal(res.Output, append(x[:], y[:]...)))
}
