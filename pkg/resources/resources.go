// Package resources implements the scalar resource algebra used to decide
// whether an offer can host a task.
//
// Comparisons form a partial order. Ge, the feasibility test, looks only at
// the kinds the right-hand side carries. Lt and Gt are strict on every shared
// kind, so Lt(a, b) is not the negation of Ge(a, b): two lists can be
// incomparable, in which case Lt, Gt, Ge and Le may all be false.
package resources

import (
	"fmt"
	"math"
	"sort"
)

// Kind names a resource, e.g. "cpus". Unknown kinds are carried as-is.
type Kind string

// Well-known kinds.
const (
	CPUs Kind = "cpus"
	Mem  Kind = "mem"
	Disk Kind = "disk"
	GPUs Kind = "gpus"
)

// Quantity is an amount of one resource kind.
type Quantity struct {
	Kind   Kind
	Amount float64
}

func (q Quantity) String() string {
	return fmt.Sprintf("%s=%g", q.Kind, q.Amount)
}

// List is a resource list. The same kind may appear more than once; amounts
// of a kind are summed.
type List []Quantity

// Holder is anything that carries a resource list, such as an offer or a task.
type Holder interface {
	Resources() List
}

// Resources returns l so a List is itself a Holder.
func (l List) Resources() List {
	return l
}

// Of builds a List from kind/amount pairs.
func Of(pairs map[Kind]float64) List {
	kinds := make([]Kind, 0, len(pairs))
	for k := range pairs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	out := make(List, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Quantity{Kind: k, Amount: pairs[k]})
	}
	return out
}

// AmountOf sums every entry of kind k. A kind with no entry has amount 0:
// nothing advertised or required.
func (l List) AmountOf(k Kind) float64 {
	var total float64
	for _, q := range l {
		if q.Kind == k {
			total += q.Amount
		}
	}
	return total
}

// Kinds returns the distinct kinds in l, in first-appearance order.
func (l List) Kinds() []Kind {
	seen := make(map[Kind]bool, len(l))
	var out []Kind
	for _, q := range l {
		if !seen[q.Kind] {
			seen[q.Kind] = true
			out = append(out, q.Kind)
		}
	}
	return out
}

// Validate reports the first amount in l that is negative, NaN or
// infinite.
func (l List) Validate() error {
	for _, q := range l {
		switch {
		case math.IsNaN(q.Amount) || math.IsInf(q.Amount, 0):
			return fmt.Errorf("resource %s: amount %g is not finite", q.Kind, q.Amount)
		case q.Amount < 0:
			return fmt.Errorf("resource %s: negative amount %g", q.Kind, q.Amount)
		}
	}
	return nil
}

// Sum aggregates l and other into one entry per kind, ordered by first
// appearance.
func (l List) Sum(other List) List {
	all := make(List, 0, len(l)+len(other))
	all = append(all, l...)
	all = append(all, other...)
	return all.Merge()
}

// Merge collapses repeated kinds into one entry each.
func (l List) Merge() List {
	kinds := l.Kinds()
	out := make(List, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Quantity{Kind: k, Amount: l.AmountOf(k)})
	}
	return out
}

// Sub returns the capacity left in l after removing other. Amounts never go
// below zero; kinds only present in other are ignored.
func (l List) Sub(other List) List {
	out := l.Merge()
	for i := range out {
		left := out[i].Amount - other.AmountOf(out[i].Kind)
		if left < 0 {
			left = 0
		}
		out[i].Amount = left
	}
	return out
}

// IsZero reports whether every amount in l is zero.
func (l List) IsZero() bool {
	for _, q := range l {
		if q.Amount != 0 {
			return false
		}
	}
	return true
}

func (l List) String() string {
	s := "["
	for i, q := range l.Merge() {
		if i > 0 {
			s += " "
		}
		s += q.String()
	}
	return s + "]"
}
