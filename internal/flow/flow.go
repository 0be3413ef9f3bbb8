// Package flow recovers control flow and data flow from a linear instruction
// stream. A builder walks the instructions from an entrypoint with a LIFO
// worklist, keeping one joined state per reachable address, and Assemble
// groups the visited instructions into basic blocks.
package flow

import (
	"errors"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"symflow/internal/arch"
	"symflow/internal/dfg"
	"symflow/internal/symbolic"
)

var (
	ErrInvalidAddress         = errors.New("flow: no instruction at address")
	ErrUnsupportedControlFlow = errors.New("flow: unsupported control flow")
	ErrDanglingSuccessor      = errors.New("flow: successor not in any block")
	ErrInvalidStackEffect     = errors.New("flow: invalid stack effect")
	ErrStepLimit              = errors.New("flow: step limit exceeded")
)

// Header is an address that must start a basic block even if nothing jumps to
// it, such as an exception handler. A non-empty ExternalSource names a value
// that is on the stack on entry (the thrown object); the symbolic builder
// creates an external data-flow node for it.
type Header struct {
	Offset         int64
	ExternalSource string
}

const defaultMaxSteps = 10_000_000

type options struct {
	headers  []Header
	log      zerolog.Logger
	maxSteps int
}

func (o options) effectiveMax() int {
	if o.maxSteps > 0 {
		return o.maxSteps
	}
	return defaultMaxSteps
}

// Option configures a builder.
type Option func(*options)

// WithKnownHeaders adds extra traversal roots that always start a block.
func WithKnownHeaders(headers ...Header) Option {
	return func(o *options) { o.headers = append(o.headers, headers...) }
}

// WithLogger sets the logger for traversal diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMaxSteps bounds the number of worklist pops; 0 = 10M.
func WithMaxSteps(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

func newOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Traversal is the result of walking one entrypoint: which instructions were
// reached, where each of them may go, and (for the symbolic builder) the
// joined state at each address and the data-flow graph.
type Traversal[I any] struct {
	Instructions *arch.InstructionSet[I]
	Entrypoint   int64
	KnownHeaders []int64
	DataFlow     *dfg.Graph[I]
	Steps        int

	arch       arch.Architecture[I]
	visited    *bitset.BitSet
	successors map[int64][]arch.Successor
	states     map[int64]symbolic.State
}

func newTraversal[I any](a arch.Architecture[I], insts *arch.InstructionSet[I], entry int64, headers []Header) *Traversal[I] {
	t := &Traversal[I]{
		Instructions: insts,
		Entrypoint:   entry,
		arch:         a,
		visited:      bitset.New(uint(insts.Len())),
		successors:   make(map[int64][]arch.Successor),
	}
	for _, h := range headers {
		t.KnownHeaders = append(t.KnownHeaders, h.Offset)
	}
	return t
}

// Traversed reports whether the instruction at off was reached.
func (t *Traversal[I]) Traversed(off int64) bool {
	i, ok := t.Instructions.Index(off)
	return ok && t.visited.Test(uint(i))
}

// Visited returns the offsets of all reached instructions in address order.
func (t *Traversal[I]) Visited() []int64 {
	out := make([]int64, 0, t.visited.Count())
	for i, ok := t.visited.NextSet(0); ok; i, ok = t.visited.NextSet(i + 1) {
		out = append(out, t.Instructions.Offset(int(i)))
	}
	return out
}

// Successors returns the recorded control transfers out of the instruction
// at off.
func (t *Traversal[I]) Successors(off int64) []arch.Successor {
	return t.successors[off]
}

// Destinations returns every recorded successor destination, sorted and
// deduplicated.
func (t *Traversal[I]) Destinations() []int64 {
	var out []int64
	for _, succs := range t.successors {
		for _, s := range succs {
			out = append(out, s.Destination)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// State returns the joined state recorded at off. Static traversals record
// no states.
func (t *Traversal[I]) State(off int64) (symbolic.State, bool) {
	s, ok := t.states[off]
	return s, ok
}

func (t *Traversal[I]) markVisited(idx int, off int64) {
	t.visited.Set(uint(idx))
	t.successors[off] = t.successors[off][:0]
}

// record adds a successor of from, ignoring repeats.
func (t *Traversal[I]) record(from int64, s arch.Successor) {
	if slices.Contains(t.successors[from], s) {
		return
	}
	t.successors[from] = append(t.successors[from], s)
}
