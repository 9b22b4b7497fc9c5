package evm

import (
	"fmt"

	"github.com/eth2030/zkevm/field"
	"github.com/eth2030/zkevm/rw"
	"github.com/eth2030/zkevm/tables"
)

// CheckCopyEvents runs the copy circuit's rules over every row of the copy
// table. A row must move the bytes its source holds into its destination,
// using exactly the bus records it claims, and carry the RLC of those bytes
// when its endpoints need one. For each byte the source read comes before
// the destination write.
func CheckCopyEvents(t *Tables, r field.FQ) error {
	for n, ev := range t.Copy.Events() {
		if err := checkCopyEvent(t, r, ev); err != nil {
			return fmt.Errorf("%w: row %d %v->%v: %v", ErrCopy, n, ev.SrcType, ev.DstType, err)
		}
	}
	return nil
}

func checkCopyEvent(t *Tables, r field.FQ, ev tables.CopyEvent) error {
	counter := ev.RWCounter
	next := func() (rw.Record, error) {
		rec, ok := t.RW.At(counter)
		if !ok {
			return rec, fmt.Errorf("bus ends before counter %d", counter)
		}
		counter++
		return rec, nil
	}

	// a nonexistent account has no code entry and copies only zeros
	var src *tables.Bytecode
	if ev.SrcType == tables.CopyBytecode && ev.SrcAddr < ev.SrcAddrEnd {
		code, ok := t.Bytecode.Get(ev.SrcID)
		if !ok {
			return fmt.Errorf("unknown source code %s", ev.SrcID)
		}
		src = code
	}

	var acc field.FQ
	out := make([]byte, 0, ev.Length)
	for k := uint64(0); k < ev.Length; k++ {
		addr := ev.SrcAddr + k
		var b field.FQ
		if addr < ev.SrcAddrEnd {
			switch ev.SrcType {
			case tables.CopyMemory:
				rec, err := next()
				if err != nil {
					return err
				}
				if rec.Tag != rw.TagMemory || rec.IsWrite || !rec.Key1.Equal(ev.SrcID.Lo) || !rec.Key3.Equal(fq(addr)) {
					return fmt.Errorf("record %d is not the memory read of byte %d", rec.RWCounter, addr)
				}
				b = rec.Value.Lo
			case tables.CopyBytecode:
				v, _, ok := src.At(addr)
				if !ok {
					return fmt.Errorf("code byte %d out of range", addr)
				}
				b = fq(uint64(v))
			case tables.CopyTxCalldata:
				v, ok := t.Tx.Lookup(ev.SrcID.Lo, tables.TxCallData, fq(addr))
				if !ok {
					return fmt.Errorf("calldata byte %d missing", addr)
				}
				b = v.Lo
			case tables.CopyRlcAcc:
			default:
				return fmt.Errorf("source type %v", ev.SrcType)
			}
		}

		dst := ev.DstAddr + k
		switch ev.DstType {
		case tables.CopyMemory:
			rec, err := next()
			if err != nil {
				return err
			}
			if rec.Tag != rw.TagMemory || !rec.IsWrite || !rec.Key1.Equal(ev.DstID.Lo) || !rec.Key3.Equal(fq(dst)) {
				return fmt.Errorf("record %d is not the memory write of byte %d", rec.RWCounter, dst)
			}
			if ev.SrcType == tables.CopyRlcAcc {
				b = rec.Value.Lo
			} else if !rec.Value.Lo.Equal(b) {
				return fmt.Errorf("memory byte %d is %s, source has %s", dst, rec.Value.Lo, b)
			}
		case tables.CopyTxLog:
			rec, err := next()
			if err != nil {
				return err
			}
			if rec.Tag != rw.TagTxLog || !rec.IsWrite || !rec.Key1.Equal(ev.DstID.Lo) ||
				!rec.Key2.Equal(fq(ev.LogID)) || !rec.Key3.Equal(fq(uint64(rw.TxLogData))) || !rec.Key4.Equal(word(dst)) {
				return fmt.Errorf("record %d is not the log write of byte %d", rec.RWCounter, dst)
			}
			if !rec.Value.Lo.Equal(b) {
				return fmt.Errorf("log byte %d is %s, source has %s", dst, rec.Value.Lo, b)
			}
		case tables.CopyBytecode, tables.CopyRlcAcc:
		default:
			return fmt.Errorf("destination type %v", ev.DstType)
		}
		v, ok := b.Uint64()
		if !ok || v > 0xff {
			return fmt.Errorf("byte %d is %s", k, b)
		}
		out = append(out, byte(v))
		acc = acc.Mul(r).Add(b)
	}

	if used := counter - ev.RWCounter; used != ev.RWCInc {
		return fmt.Errorf("used %d records, claims %d", used, ev.RWCInc)
	}
	if CopyHasRLC(ev.SrcType, ev.DstType) && !acc.Equal(ev.RLCAcc) {
		return fmt.Errorf("rlc %s, claims %s", acc, ev.RLCAcc)
	}
	if ev.DstType == tables.CopyBytecode {
		code, ok := t.Bytecode.Get(ev.DstID)
		if !ok {
			return fmt.Errorf("unknown destination code %s", ev.DstID)
		}
		if string(code.Code) != string(out) {
			return fmt.Errorf("code %s differs from the copied bytes", ev.DstID)
		}
	}
	return nil
}
