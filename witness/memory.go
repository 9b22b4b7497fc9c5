package witness

import (
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/eth2030/zkevm/evm"
	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// memory runs MLOAD, MSTORE and MSTORE8 and returns the expansion charge.
func (t *tracer) memory(f *frame, op vm.OpCode) uint64 {
	off := t.pop(f)
	size := uint64(32)
	if op == vm.MSTORE8 {
		size = 1
	}
	m := fixedMemRange(&off, size)
	words, cost := f.expansion(m)
	f.expand(words)

	switch op {
	case vm.MLOAD:
		bs := f.memorySlice(m.offset, 32)
		for k, b := range bs {
			t.dict.MemoryRead(f.id, m.offset+uint64(k), b)
		}
		t.push(f, new(uint256.Int).SetBytes(bs))
	case vm.MSTORE:
		v := t.pop(f)
		bs := v.Bytes32()
		for k, b := range bs {
			f.memory[m.offset+uint64(k)] = b
			t.dict.MemoryWrite(f.id, m.offset+uint64(k), b)
		}
	default:
		v := t.pop(f)
		b := byte(v.Uint64())
		f.memory[m.offset] = b
		t.dict.MemoryWrite(f.id, m.offset, b)
	}
	return cost
}

// sha3 runs KECCAK256 and returns its charge over the constant gas.
func (t *tracer) sha3(f *frame) uint64 {
	off, size := t.pop(f), t.pop(f)
	m := newMemRange(&off, &size)
	words, cost := f.expansion(m)
	f.expand(words)
	data := t.copyEvent(tables.CopyEvent{
		SrcID:      word(f.id),
		SrcType:    tables.CopyMemory,
		DstType:    tables.CopyRlcAcc,
		SrcAddr:    m.offset,
		SrcAddrEnd: m.end(),
		Length:     m.size,
	}, f.memoryAt, nil)
	t.pushWord(f, t.tables.Keccak.Add(data))
	return cost + evm.Sha3Cost(m.size)
}

// copyEvent emits the bus records of ev, adds it to the copy table and
// returns the bytes it moved. src returns the source byte at an address
// before SrcAddrEnd; dst is the frame whose memory receives the bytes.
// For every byte the source read precedes the destination write.
func (t *tracer) copyEvent(ev tables.CopyEvent, src func(uint64) byte, dst *frame) []byte {
	ev.RWCounter = t.dict.Counter()
	out := make([]byte, 0, ev.Length)
	for k := uint64(0); k < ev.Length; k++ {
		addr := ev.SrcAddr + k
		var b byte
		if addr < ev.SrcAddrEnd {
			b = src(addr)
			if ev.SrcType == tables.CopyMemory {
				t.dict.MemoryRead(ev.SrcID.Lo.MustUint64(), addr, b)
			}
		}
		switch ev.DstType {
		case tables.CopyMemory:
			dst.setMemory(ev.DstAddr+k, b)
			t.dict.MemoryWrite(dst.id, ev.DstAddr+k, b)
		case tables.CopyTxLog:
			t.dict.TxLogWrite(ev.DstID.Lo.MustUint64(), ev.LogID, rw.TxLogData, ev.DstAddr+k, word(uint64(b)))
		}
		out = append(out, b)
	}
	ev.RWCInc = t.dict.Counter() - ev.RWCounter
	if evm.CopyHasRLC(ev.SrcType, ev.DstType) {
		ev.RLCAcc = field.RLCAcc(out, t.params.Randomness)
	}
	t.tables.Copy.Add(ev)
	return out
}

// copySource is where a copy opcode reads from; bytes from end on read as
// zero.
type copySource struct {
	id         field.Word
	typ        tables.CopyDataType
	start, end uint64
	at         func(uint64) byte
}

// clamp returns base + min(offset, length) for an arbitrary stack word.
func clamp(base uint64, offset *uint256.Int, length uint64) uint64 {
	if !offset.IsUint64() {
		return base + length
	}
	return base + min(offset.Uint64(), length)
}

// copyOp runs CALLDATACOPY, CODECOPY, EXTCODECOPY and RETURNDATACOPY.
func (t *tracer) copyOp(f *frame, op vm.OpCode) error {
	o, _ := evm.OperationOf(op)
	cost := o.ConstantGas
	var src copySource
	var memOff, dataOff, size uint256.Int

	switch op {
	case vm.CALLDATACOPY:
		memOff, dataOff, size = t.pop(f), t.pop(f), t.pop(f)
		length := t.read(f, rw.CallCallDataLength).Lo.MustUint64()
		base := t.read(f, rw.CallCallDataOffset).Lo.MustUint64()
		src = copySource{start: clamp(base, &dataOff, length), end: base + length}
		if f.isRoot {
			src.id, src.typ = t.read(f, rw.CallTxID), tables.CopyTxCalldata
			src.at = func(a uint64) byte { return t.tx.CallData[a] }
		} else {
			src.id, src.typ = t.read(f, rw.CallCallerID), tables.CopyMemory
			src.at = f.parent.memoryAt
		}
	case vm.CODECOPY:
		memOff, dataOff, size = t.pop(f), t.pop(f), t.pop(f)
		src = t.codeSource(f.codeHash, f.code.Len(), &dataOff)
	case vm.EXTCODECOPY:
		addr, extra := t.accountAccess(f)
		cost += extra
		memOff, dataOff, size = t.pop(f), t.pop(f), t.pop(f)
		h := t.accountReads(addr, rw.AccountCodeHash)[0]
		src = t.codeSource(h, t.codeSizeOf(h.Hash()), &dataOff)
	case vm.RETURNDATACOPY:
		memOff, dataOff, size = t.pop(f), t.pop(f), t.pop(f)
		callee := t.read(f, rw.CallLastCalleeID)
		base := t.read(f, rw.CallLastCalleeReturnDataOffset).Lo.MustUint64()
		length := t.read(f, rw.CallLastCalleeReturnDataLength).Lo.MustUint64()
		src = copySource{id: callee, typ: tables.CopyMemory, start: base + dataOff.Uint64(), end: base + length}
		src.at = f.lastCallee.memoryAt
	}

	m := newMemRange(&memOff, &size)
	words, mem := f.expansion(m)
	f.expand(words)
	f.pc++
	f.gas -= cost + mem + evm.CopyCost(m.size)

	if !t.params.InlineCopy {
		t.copyEvent(tables.CopyEvent{
			SrcID:      src.id,
			SrcType:    src.typ,
			DstID:      word(f.id),
			DstType:    tables.CopyMemory,
			SrcAddr:    src.start,
			SrcAddrEnd: src.end,
			DstAddr:    m.offset,
			Length:     m.size,
		}, src.at, f)
		return nil
	}
	t.inlineCopy(f, src, m)
	return nil
}

func (t *tracer) codeSource(h field.Word, size uint64, off *uint256.Int) copySource {
	src := copySource{id: h, typ: tables.CopyBytecode, start: clamp(0, off, size), end: size}
	if code, ok := t.tables.Bytecode.Get(h); ok {
		src.at = func(a uint64) byte { return code.Code[a] }
	}
	return src
}

// inlineCopy moves a copy through internal steps of at most MaxCopyBytes
// bytes each.
func (t *tracer) inlineCopy(f *frame, src copySource, m memRange) {
	state := evm.StateCopyToMemory
	if src.typ == tables.CopyBytecode {
		state = evm.StateCopyCodeToMemory
	}
	aux := evm.AuxData{
		SrcID:      src.id,
		SrcType:    src.typ,
		SrcAddr:    src.start,
		SrcAddrEnd: src.end,
		DstAddr:    m.offset,
		BytesLeft:  m.size,
	}
	for aux.BytesLeft > 0 {
		s := t.newStep(f, state)
		cur := aux
		s.Aux = &cur
		n := min(aux.BytesLeft, t.params.MaxCopyBytes)
		for k := uint64(0); k < n; k++ {
			var b byte
			if a := aux.SrcAddr + k; a < aux.SrcAddrEnd {
				b = src.at(a)
				if src.typ == tables.CopyMemory {
					t.dict.MemoryRead(src.id.Lo.MustUint64(), a, b)
				}
			}
			f.memory[aux.DstAddr+k] = b
			t.dict.MemoryWrite(f.id, aux.DstAddr+k, b)
		}
		aux.SrcAddr += n
		aux.DstAddr += n
		aux.BytesLeft -= n
	}
}

// log runs LOGn and returns its charge.
func (t *tracer) log(f *frame, op vm.OpCode) uint64 {
	o, _ := evm.OperationOf(op)
	t.read(f, rw.CallIsStatic)
	t.read(f, rw.CallTxID)
	t.read(f, rw.CallCalleeAddress)
	t.read(f, rw.CallIsPersistent)
	off, size := t.pop(f), t.pop(f)
	m := newMemRange(&off, &size)
	words, mem := f.expansion(m)
	f.expand(words)

	n := int(op - vm.LOG0)
	topics := make([]uint256.Int, n)
	for k := range topics {
		topics[k] = t.pop(f)
	}
	if f.persistent {
		logID := t.logID + 1
		t.dict.TxLogWrite(f.txID, logID, rw.TxLogAddress, 0, field.WordFromAddress(f.address))
		entry := Log{Address: f.address}
		for k := range topics {
			t.dict.TxLogWrite(f.txID, logID, rw.TxLogTopic, uint64(k), field.WordFromUint256(&topics[k]))
			entry.Topics = append(entry.Topics, toHash(&topics[k]))
		}
		entry.Data = t.copyEvent(tables.CopyEvent{
			SrcID:      word(f.id),
			SrcType:    tables.CopyMemory,
			SrcAddr:    m.offset,
			SrcAddrEnd: m.end(),
			DstID:      word(f.txID),
			DstType:    tables.CopyTxLog,
			Length:     m.size,
			LogID:      logID,
		}, f.memoryAt, nil)
		t.logs = append(t.logs, entry)
		t.logID = logID
	}
	return o.ConstantGas + mem + evm.LogCost(uint64(n), m.size)
}
