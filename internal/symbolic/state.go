package symbolic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
)

var (
	ErrStackUnderflow = errors.New("symbolic: stack underflow")
	ErrStackImbalance = errors.New("symbolic: stack height mismatch")
)

type variableComparer struct{}

func (variableComparer) Compare(a, b Variable) int {
	return strings.Compare(string(a), string(b))
}

var emptyVariables = immutable.NewSortedMap[Variable, Value](variableComparer{})

// stackNode is one cell of a persistent stack. Cells are shared between
// states and never modified after creation.
type stackNode struct {
	value Value
	next  *stackNode
	depth int
}

// State is an immutable abstract program state. Every mutator returns a new
// State; the receiver is unchanged. The zero State has pc 0, an empty stack
// and no variables.
type State struct {
	pc   int64
	top  *stackNode
	vars *immutable.SortedMap[Variable, Value]
}

// NewState returns the empty state at pc.
func NewState(pc int64) State {
	return State{pc: pc, vars: emptyVariables}
}

func (s State) PC() int64 { return s.pc }

// WithPC returns s positioned at pc.
func (s State) WithPC(pc int64) State {
	s.pc = pc
	return s
}

func (s State) variables() *immutable.SortedMap[Variable, Value] {
	if s.vars == nil {
		return emptyVariables
	}
	return s.vars
}

// StackLen returns the operand stack height.
func (s State) StackLen() int {
	if s.top == nil {
		return 0
	}
	return s.top.depth
}

// Push returns s with v on top of the stack.
func (s State) Push(v Value) State {
	s.top = &stackNode{value: v, next: s.top, depth: s.StackLen() + 1}
	return s
}

// Pop removes the top of the stack.
func (s State) Pop() (State, Value, error) {
	if s.top == nil {
		return s, Value{}, fmt.Errorf("pop at %#x: %w", s.pc, ErrStackUnderflow)
	}
	v := s.top.value
	s.top = s.top.next
	return s, v, nil
}

// Peek returns the value depth entries below the top (0 is the top).
func (s State) Peek(depth int) (Value, error) {
	n := s.top
	for i := 0; i < depth && n != nil; i++ {
		n = n.next
	}
	if n == nil || depth < 0 {
		return Value{}, fmt.Errorf("peek %d at %#x: %w", depth, s.pc, ErrStackUnderflow)
	}
	return n.value, nil
}

// Stack returns the stack contents, bottom first.
func (s State) Stack() []Value {
	out := make([]Value, s.StackLen())
	i := len(out) - 1
	for n := s.top; n != nil; n = n.next {
		out[i] = n.value
		i--
	}
	return out
}

// Variable returns the current value of id, empty if never assigned.
func (s State) Variable(id Variable) Value {
	v, _ := s.variables().Get(id)
	return v
}

// SetVariable returns s with id bound to v.
func (s State) SetVariable(id Variable, v Value) State {
	s.vars = s.variables().Set(id, v)
	return s
}

// VariableBinding is one (name, value) entry of a state.
type VariableBinding struct {
	Name  Variable
	Value Value
}

// Variables returns all bound variables in name order.
func (s State) Variables() []VariableBinding {
	m := s.variables()
	out := make([]VariableBinding, 0, m.Len())
	itr := m.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		out = append(out, VariableBinding{Name: k, Value: v})
	}
	return out
}

// Join merges o into s. The result keeps s's pc; each stack slot and each
// variable holds the union of both sides. changed reports whether the result
// differs from s. Stacks of different heights cannot be joined.
func (s State) Join(o State) (State, bool, error) {
	if s.StackLen() != o.StackLen() {
		return s, false, fmt.Errorf("join at %#x: heights %d and %d: %w",
			s.pc, s.StackLen(), o.StackLen(), ErrStackImbalance)
	}
	top, stackChanged := joinStacks(s.top, o.top)
	vars, varsChanged := joinVariables(s.variables(), o.variables())
	if !stackChanged && !varsChanged {
		return s, false, nil
	}
	s.top = top
	s.vars = vars
	return s, true, nil
}

// joinStacks joins two equal-height stacks, stopping at the first shared
// cell. Unchanged prefixes of a keep their original cells.
func joinStacks(a, b *stackNode) (*stackNode, bool) {
	if a == b || a == nil {
		return a, false
	}
	next, tailChanged := joinStacks(a.next, b.next)
	v, changed := a.value.Union(b.value)
	if !changed && !tailChanged {
		return a, false
	}
	return &stackNode{value: v, next: next, depth: a.depth}, true
}

func joinVariables(a, b *immutable.SortedMap[Variable, Value]) (*immutable.SortedMap[Variable, Value], bool) {
	if a == b {
		return a, false
	}
	changed := false
	itr := b.Iterator()
	for !itr.Done() {
		k, bv, _ := itr.Next()
		av, _ := a.Get(k)
		if u, grew := av.Union(bv); grew {
			a = a.Set(k, u)
			changed = true
		}
	}
	return a, changed
}

// Equal reports whether s and o have the same pc, stack and variables.
func (s State) Equal(o State) bool {
	if s.pc != o.pc || s.StackLen() != o.StackLen() {
		return false
	}
	for a, b := s.top, o.top; a != b; a, b = a.next, b.next {
		if !a.value.Equal(b.value) {
			return false
		}
	}
	sv, ov := s.variables(), o.variables()
	if sv == ov {
		return true
	}
	if sv.Len() != ov.Len() {
		return false
	}
	itr := sv.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		w, ok := ov.Get(k)
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

func (s State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pc=%#x stack=[", s.pc)
	for i, v := range s.Stack() {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(v.String())
	}
	b.WriteString("]")
	for _, kv := range s.Variables() {
		fmt.Fprintf(&b, " %s=%s", kv.Name, kv.Value)
	}
	return b.String()
}
