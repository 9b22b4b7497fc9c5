package field

// RLC returns Σ values[i]·r^i. It compresses a multi-column row into one
// field element; the first column has the lowest power.
func RLC(values []FQ, r FQ) FQ {
	return Compose(values, r)
}

// RLCBytes returns Σ bs[i]·r^i.
func RLCBytes(bs []byte, r FQ) FQ {
	var acc FQ
	for i := len(bs) - 1; i >= 0; i-- {
		acc = acc.Mul(r).AddUint64(uint64(bs[i]))
	}
	return acc
}

// RLCAcc returns the running accumulator acc_n over bs where
// acc_{i+1} = acc_i·r + bs[i]. This is the form the copy and keccak tables
// use for byte streams: the first byte carries the highest power.
func RLCAcc(bs []byte, r FQ) FQ {
	var acc FQ
	for _, b := range bs {
		acc = acc.Mul(r).AddUint64(uint64(b))
	}
	return acc
}

// RLCWord returns the RLC of the 32 little-endian bytes of w.
func RLCWord(w Word, r FQ) FQ {
	b := w.Uint256().Bytes32()
	le := make([]byte, 32)
	for i := range le {
		le[i] = b[31-i]
	}
	return RLCBytes(le, r)
}
