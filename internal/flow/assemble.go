package flow

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"symflow/internal/arch"
	"symflow/internal/cfg"
)

// headerMarks returns, per instruction index, whether the instruction starts a
// basic block: the entrypoint, every known header and every branch
// destination, plus the instruction after anything that does not simply fall
// through to it. Only traversed instructions are marked.
func (t *Traversal[I]) headerMarks() *bitset.BitSet {
	marks := bitset.New(uint(t.Instructions.Len()))
	mark := func(off int64) {
		if i, ok := t.Instructions.Index(off); ok && t.visited.Test(uint(i)) {
			marks.Set(uint(i))
		}
	}
	mark(t.Entrypoint)
	for _, h := range t.KnownHeaders {
		mark(h)
	}
	for i, ok := t.visited.NextSet(0); ok; i, ok = t.visited.NextSet(i + 1) {
		inst := t.Instructions.At(int(i))
		off := t.arch.Offset(inst)
		next := t.Instructions.Next(inst)
		succs := t.successors[off]
		for _, s := range succs {
			if s.Type != cfg.FallThrough {
				mark(s.Destination)
			}
		}
		plain := len(succs) == 1 && succs[0].Type == cfg.FallThrough && succs[0].Destination == next
		if !plain || t.arch.FlowControl(inst) == arch.CanBranch {
			mark(next)
		}
	}
	return marks
}

// Headers returns the offsets of all block-starting instructions in address
// order.
func (t *Traversal[I]) Headers() []int64 {
	marks := t.headerMarks()
	out := make([]int64, 0, marks.Count())
	for i, ok := marks.NextSet(0); ok; i, ok = marks.NextSet(i + 1) {
		out = append(out, t.Instructions.Offset(int(i)))
	}
	return out
}

// Assemble partitions the traversed instructions into basic blocks and
// connects them with the recorded successors. A new block starts at every
// header and after every gap in the traversed addresses.
func Assemble[I any](t *Traversal[I]) (*cfg.Graph[I], error) {
	g := cfg.New[I]()
	marks := t.headerMarks()

	var (
		insts   []I
		offsets []int64
		next    int64
	)
	flush := func() error {
		if len(insts) == 0 {
			return nil
		}
		_, err := g.AddNode(insts, offsets)
		insts, offsets = nil, nil
		return err
	}
	for i, ok := t.visited.NextSet(0); ok; i, ok = t.visited.NextSet(i + 1) {
		inst := t.Instructions.At(int(i))
		off := t.arch.Offset(inst)
		if len(insts) > 0 && (marks.Test(i) || off != next) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		insts = append(insts, inst)
		offsets = append(offsets, off)
		next = t.Instructions.Next(inst)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	for _, n := range g.Nodes() {
		last := n.Last()
		for _, s := range t.successors[last] {
			dst, ok := g.NodeContaining(s.Destination)
			if !ok {
				return nil, fmt.Errorf("%#x -> %#x: %w", last, s.Destination, ErrDanglingSuccessor)
			}
			if err := g.Connect(n.ID(), dst.ID(), s.Type); err != nil {
				return nil, err
			}
		}
	}

	entry, ok := g.NodeContaining(t.Entrypoint)
	if !ok {
		return nil, fmt.Errorf("entrypoint %#x: %w", t.Entrypoint, ErrInvalidAddress)
	}
	if err := g.SetEntrypoint(entry.ID()); err != nil {
		return nil, err
	}
	return g, nil
}
