// Package circuit is the constraint sink the execution gadgets write into.
//
// A gadget evaluates every constraint on the concrete witness as soon as it
// is declared: equalities over the BN254 scalar field, boolean checks and
// membership lookups into fixed tables. The Circuit counts what was
// declared and records every constraint that did not hold, so a verifier can
// report the first failure of a step together with its name.
package circuit

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkevm/field"
)

// Constraint errors.
var (
	ErrConstraintFailed = errors.New("circuit: constraint not satisfied")
	ErrLookupFailed     = errors.New("circuit: lookup not satisfied")
	ErrNotBoolean       = errors.New("circuit: value is not boolean")
)

// Kind classifies a declared constraint.
type Kind uint8

const (
	KindEqual Kind = iota
	KindBool
	KindLookup
)

func (k Kind) String() string {
	switch k {
	case KindEqual:
		return "equal"
	case KindBool:
		return "bool"
	case KindLookup:
		return "lookup"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Table is a set of rows that a lookup can be checked against.
type Table interface {
	Name() string
	Contains(row ...field.FQ) bool
}

// ConstraintError describes one constraint that did not hold.
type ConstraintError struct {
	Name   string
	Kind   Kind
	Detail string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Name, e.Err, e.Detail)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Stats summarises what a Circuit has seen.
type Stats struct {
	Constraints int
	Lookups     int
	Cells       int
}

// Circuit collects constraints for one step. It is not safe for concurrent
// use.
type Circuit struct {
	guards   []bool
	stats    Stats
	failures []*ConstraintError
}

// New returns an empty Circuit.
func New() *Circuit {
	return &Circuit{}
}

// active reports whether constraints are currently enforced. Inside a When
// block with a false condition constraints are counted but not checked,
// mirroring a constraint multiplied by a zero selector.
func (c *Circuit) active() bool {
	for _, g := range c.guards {
		if !g {
			return false
		}
	}
	return true
}

// When runs f with constraints enforced only if cond holds.
func (c *Circuit) When(cond bool, f func()) {
	c.guards = append(c.guards, cond)
	defer func() { c.guards = c.guards[:len(c.guards)-1] }()
	f()
}

// WhenFQ runs f with constraints enforced only if cond is non-zero. cond is
// expected to be a boolean cell.
func (c *Circuit) WhenFQ(cond field.FQ, f func()) {
	c.When(!cond.IsZero(), f)
}

func (c *Circuit) fail(name string, kind Kind, err error, detail string) {
	c.failures = append(c.failures, &ConstraintError{Name: name, Kind: kind, Detail: detail, Err: err})
}

// Cell registers v as a witness cell and returns it unchanged.
func (c *Circuit) Cell(v field.FQ) field.FQ {
	c.stats.Cells++
	return v
}

// Cells registers every element of vs as a witness cell.
func (c *Circuit) Cells(vs ...field.FQ) {
	c.stats.Cells += len(vs)
}

// AssertEqual declares lhs == rhs.
func (c *Circuit) AssertEqual(name string, lhs, rhs field.FQ) {
	c.stats.Constraints++
	if c.active() && !lhs.Equal(rhs) {
		c.fail(name, KindEqual, ErrConstraintFailed, fmt.Sprintf("%s != %s", lhs, rhs))
	}
}

// AssertZero declares v == 0.
func (c *Circuit) AssertZero(name string, v field.FQ) {
	c.AssertEqual(name, v, field.Zero())
}

// AssertBool declares v·(1-v) == 0.
func (c *Circuit) AssertBool(name string, v field.FQ) {
	c.stats.Constraints++
	if c.active() && !v.IsBool() {
		c.fail(name, KindBool, ErrNotBoolean, v.String())
	}
}

// AssertTrue declares that a host-evaluated predicate holds. It is used for
// relations whose polynomial form is a product of already-constrained
// selector cells.
func (c *Circuit) AssertTrue(name string, ok bool) {
	c.stats.Constraints++
	if c.active() && !ok {
		c.fail(name, KindEqual, ErrConstraintFailed, "")
	}
}

// AssertWordEqual declares both limbs of a and b equal.
func (c *Circuit) AssertWordEqual(name string, a, b field.Word) {
	c.AssertEqual(name+".lo", a.Lo, b.Lo)
	c.AssertEqual(name+".hi", a.Hi, b.Hi)
}

// Lookup declares that row is a member of t.
func (c *Circuit) Lookup(t Table, row ...field.FQ) {
	c.stats.Lookups++
	if c.active() && !t.Contains(row...) {
		c.fail(t.Name(), KindLookup, ErrLookupFailed, fmt.Sprint(row))
	}
}

// LookupResult records the outcome of a lookup that was resolved by the
// caller, for tables that return the matched row instead of a membership
// bit.
func (c *Circuit) LookupResult(name string, found bool, detail string) {
	c.stats.Lookups++
	if c.active() && !found {
		c.fail(name, KindLookup, ErrLookupFailed, detail)
	}
}

// IsZero returns 1 when v is zero and 0 otherwise, introducing the inverse
// witness and the two constraints v·(1 - v·inv) = 0 and is_zero = 1 - v·inv.
func (c *Circuit) IsZero(v field.FQ) field.FQ {
	inv := c.Cell(v.Inverse())
	isZero := field.One().Sub(v.Mul(inv))
	c.AssertZero("is_zero", v.Mul(isZero))
	return isZero
}

// IsEqual returns 1 when a == b and 0 otherwise.
func (c *Circuit) IsEqual(a, b field.FQ) field.FQ {
	return c.IsZero(a.Sub(b))
}

// Select returns cond·a + (1-cond)·b after asserting cond is boolean.
func (c *Circuit) Select(cond, a, b field.FQ) field.FQ {
	c.AssertBool("select.cond", cond)
	return cond.Mul(a).Add(field.One().Sub(cond).Mul(b))
}

// Not returns 1 - v for a boolean v.
func Not(v field.FQ) field.FQ { return field.One().Sub(v) }

// And returns a·b for booleans a and b.
func And(a, b field.FQ) field.FQ { return a.Mul(b) }

// Or returns a + b - a·b for booleans a and b.
func Or(a, b field.FQ) field.FQ { return a.Add(b).Sub(a.Mul(b)) }

// Xor returns a + b - 2·a·b for booleans a and b.
func Xor(a, b field.FQ) field.FQ { return a.Add(b).Sub(a.Mul(b).MulUint64(2)) }

// Failures returns every constraint that did not hold, in declaration order.
func (c *Circuit) Failures() []*ConstraintError {
	return c.failures
}

// Err returns the first failed constraint, or nil.
func (c *Circuit) Err() error {
	if len(c.failures) == 0 {
		return nil
	}
	return c.failures[0]
}

// Stats returns the number of constraints, lookups and cells declared so far.
func (c *Circuit) Stats() Stats {
	return c.stats
}
