// Package symbolic models abstract program values and states for the
// fixpoint traversal. A Value is a set of data sources; a State is an
// immutable (pc, stack, variables) triple with structural sharing.
package symbolic

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// NodeID identifies a data-flow node. Instruction nodes use the instruction
// offset; external sources (exception objects, arguments) use negative ids.
type NodeID int64

// Variable names an architectural location outside the operand stack:
// a register, a flag set, a local slot.
type Variable string

// SourceKind distinguishes stack-slot producers from variable producers.
type SourceKind uint8

const (
	StackSource SourceKind = iota
	VariableSource
)

func (k SourceKind) String() string {
	switch k {
	case StackSource:
		return "stack"
	case VariableSource:
		return "var"
	}
	return fmt.Sprintf("SourceKind(%d)", k)
}

// Source is a single producer of a value: the Slot-th stack push of Node,
// or Node's write to Var.
type Source struct {
	Node NodeID
	Kind SourceKind
	Slot int
	Var  Variable
}

// StackSlot returns the source for the slot-th value pushed by node.
func StackSlot(node NodeID, slot int) Source {
	return Source{Node: node, Kind: StackSource, Slot: slot}
}

// VariableOf returns the source for node's write to v.
func VariableOf(node NodeID, v Variable) Source {
	return Source{Node: node, Kind: VariableSource, Var: v}
}

func (s Source) String() string {
	if s.Kind == VariableSource {
		return fmt.Sprintf("%s@%#x", s.Var, int64(s.Node))
	}
	return fmt.Sprintf("#%d@%#x", s.Slot, int64(s.Node))
}

// Compare orders sources by node, kind, slot, then variable name.
func (s Source) Compare(o Source) int {
	if c := cmp.Compare(s.Node, o.Node); c != 0 {
		return c
	}
	if c := cmp.Compare(s.Kind, o.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(s.Slot, o.Slot); c != 0 {
		return c
	}
	return strings.Compare(string(s.Var), string(o.Var))
}

// Value is an immutable set of sources. The zero Value is the empty set.
// Single-source values are stored inline; larger sets use a map that is
// never mutated after the Value is returned.
type Value struct {
	n    int
	one  Source
	many map[Source]struct{}
}

// NewValue returns the set holding the given sources.
func NewValue(sources ...Source) Value {
	var v Value
	for _, s := range sources {
		v, _ = v.Add(s)
	}
	return v
}

// Len returns the number of distinct sources.
func (v Value) Len() int { return v.n }

// IsEmpty reports whether v has no sources.
func (v Value) IsEmpty() bool { return v.n == 0 }

// Contains reports whether s is in v.
func (v Value) Contains(s Source) bool {
	switch v.n {
	case 0:
		return false
	case 1:
		return v.one == s
	}
	_, ok := v.many[s]
	return ok
}

// Add returns v ∪ {s} and whether the set grew.
func (v Value) Add(s Source) (Value, bool) {
	if v.Contains(s) {
		return v, false
	}
	switch v.n {
	case 0:
		return Value{n: 1, one: s}, true
	case 1:
		m := map[Source]struct{}{v.one: {}, s: {}}
		return Value{n: 2, many: m}, true
	}
	m := make(map[Source]struct{}, v.n+1)
	for k := range v.many {
		m[k] = struct{}{}
	}
	m[s] = struct{}{}
	return Value{n: len(m), many: m}, true
}

// Union returns v ∪ o and whether the result is strictly larger than v.
func (v Value) Union(o Value) (Value, bool) {
	if o.n == 0 {
		return v, false
	}
	if v.n == 0 {
		return o, true
	}
	if o.n == 1 {
		return v.Add(o.one)
	}
	if v.n == 1 {
		if o.Contains(v.one) {
			return o, true
		}
		return o.Add(v.one)
	}
	if v.subsumes(o) {
		return v, false
	}
	m := make(map[Source]struct{}, v.n+o.n)
	for k := range v.many {
		m[k] = struct{}{}
	}
	for k := range o.many {
		m[k] = struct{}{}
	}
	return Value{n: len(m), many: m}, true
}

func (v Value) subsumes(o Value) bool {
	if o.n > v.n {
		return false
	}
	for s := range o.All() {
		if !v.Contains(s) {
			return false
		}
	}
	return true
}

// Equal reports set equality.
func (v Value) Equal(o Value) bool {
	return v.n == o.n && v.subsumes(o)
}

// All iterates the sources in unspecified order.
func (v Value) All() iter.Seq[Source] {
	return func(yield func(Source) bool) {
		switch v.n {
		case 0:
			return
		case 1:
			yield(v.one)
			return
		}
		for s := range v.many {
			if !yield(s) {
				return
			}
		}
	}
}

// Sources returns the sources in ascending order.
func (v Value) Sources() []Source {
	if v.n == 0 {
		return nil
	}
	out := make([]Source, 0, v.n)
	for s := range v.All() {
		out = append(out, s)
	}
	slices.SortFunc(out, Source.Compare)
	return out
}

func (v Value) String() string {
	srcs := v.Sources()
	parts := make([]string, len(srcs))
	for i, s := range srcs {
		parts[i] = s.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
