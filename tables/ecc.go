package tables

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"

	"github.com/eth2030/zkevm/field"
)

// ECCOp selects the curve operation of an ECC table row.
type ECCOp uint64

const (
	ECCAdd ECCOp = iota + 1
	ECCMul
	ECCPairing
)

// PairingInputSize is the encoded size of one (G1, G2) pairing input.
const PairingInputSize = 192

type eccKey struct {
	op             ECCOp
	px, py, qx, qy field.Word
	inputRLC       field.FQ
}

// ECCResult is the output side of an ECC table row.
type ECCResult struct {
	X, Y    field.Word
	IsValid bool
}

// ECCTable holds bn254 Add, Mul and Pairing results keyed by their inputs.
// For Mul the scalar sits in the qx column. Pairing rows are keyed by the
// RLC of the whole input and carry the boolean result in X.
type ECCTable struct {
	r    field.FQ
	rows map[eccKey]ECCResult
}

// NewECCTable returns an empty table compressing pairing inputs with r.
func NewECCTable(r field.FQ) *ECCTable {
	return &ECCTable{r: r, rows: make(map[eccKey]ECCResult)}
}

func padRight(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func setFp(e *fp.Element, b []byte) bool {
	return e.SetBytesCanonical(b) == nil
}

func decodeG1(b []byte) (bn254.G1Affine, bool) {
	var p bn254.G1Affine
	if !setFp(&p.X, b[:32]) || !setFp(&p.Y, b[32:64]) {
		return p, false
	}
	return p, p.IsOnCurve()
}

func decodeG2(b []byte) (bn254.G2Affine, bool) {
	var q bn254.G2Affine
	// The EVM encodes each Fp2 coordinate as (imaginary, real).
	if !setFp(&q.X.A1, b[:32]) || !setFp(&q.X.A0, b[32:64]) ||
		!setFp(&q.Y.A1, b[64:96]) || !setFp(&q.Y.A0, b[96:128]) {
		return q, false
	}
	return q, q.IsOnCurve() && q.IsInSubGroup()
}

func g1Words(p *bn254.G1Affine) (field.Word, field.Word) {
	x, y := p.X.Bytes(), p.Y.Bytes()
	return field.WordFromBytes(x[:]), field.WordFromBytes(y[:])
}

func wordAt(b []byte, off int) field.Word { return field.WordFromBytes(b[off : off+32]) }

// AddPoints records the bn254 addition of the two points encoded in input
// (64 bytes each, right-padded with zeros) and returns the result row.
func (t *ECCTable) AddPoints(input []byte) ECCResult {
	in := padRight(input, 128)
	key := eccKey{op: ECCAdd, px: wordAt(in, 0), py: wordAt(in, 32), qx: wordAt(in, 64), qy: wordAt(in, 96)}
	var res ECCResult
	p, okP := decodeG1(in[:64])
	q, okQ := decodeG1(in[64:128])
	if okP && okQ {
		var sum bn254.G1Affine
		sum.Add(&p, &q)
		res.X, res.Y = g1Words(&sum)
		res.IsValid = true
	}
	t.rows[key] = res
	return res
}

// MulPoint records the scalar multiplication of the point and scalar
// encoded in input (64 + 32 bytes, right-padded) and returns the result row.
func (t *ECCTable) MulPoint(input []byte) ECCResult {
	in := padRight(input, 96)
	key := eccKey{op: ECCMul, px: wordAt(in, 0), py: wordAt(in, 32), qx: wordAt(in, 64)}
	var res ECCResult
	if p, ok := decodeG1(in[:64]); ok {
		var out bn254.G1Affine
		out.ScalarMultiplication(&p, new(big.Int).SetBytes(in[64:96]))
		res.X, res.Y = g1Words(&out)
		res.IsValid = true
	}
	t.rows[key] = res
	return res
}

// Pairing records the pairing check of input, a concatenation of (G1, G2)
// pairs. The result is valid only when the length is a multiple of 192 and
// every point decodes.
func (t *ECCTable) Pairing(input []byte) ECCResult {
	key := eccKey{op: ECCPairing, inputRLC: field.RLCAcc(input, t.r), px: field.WordFromUint64(uint64(len(input)))}
	var res ECCResult
	if len(input)%PairingInputSize == 0 {
		n := len(input) / PairingInputSize
		ps := make([]bn254.G1Affine, 0, n)
		qs := make([]bn254.G2Affine, 0, n)
		valid := true
		for i := 0; i < n && valid; i++ {
			chunk := input[i*PairingInputSize : (i+1)*PairingInputSize]
			p, okP := decodeG1(chunk[:64])
			q, okQ := decodeG2(chunk[64:])
			valid = okP && okQ
			ps = append(ps, p)
			qs = append(qs, q)
		}
		if valid {
			ok := true
			if n > 0 {
				var err error
				ok, err = bn254.PairingCheck(ps, qs)
				valid = err == nil
			}
			res.X = field.WordFromBool(ok)
			res.IsValid = valid
		}
	}
	t.rows[key] = res
	return res
}

// LookupAdd returns the row for the addition of (px, py) and (qx, qy).
func (t *ECCTable) LookupAdd(px, py, qx, qy field.Word) (ECCResult, bool) {
	r, ok := t.rows[eccKey{op: ECCAdd, px: px, py: py, qx: qx, qy: qy}]
	return r, ok
}

// LookupMul returns the row for scalar·(px, py).
func (t *ECCTable) LookupMul(px, py, scalar field.Word) (ECCResult, bool) {
	r, ok := t.rows[eccKey{op: ECCMul, px: px, py: py, qx: scalar}]
	return r, ok
}

// LookupPairing returns the row for the pairing input with the given RLC
// and length.
func (t *ECCTable) LookupPairing(inputRLC field.FQ, length uint64) (ECCResult, bool) {
	r, ok := t.rows[eccKey{op: ECCPairing, inputRLC: inputRLC, px: field.WordFromUint64(length)}]
	return r, ok
}

// Len returns the number of rows.
func (t *ECCTable) Len() int { return len(t.rows) }
