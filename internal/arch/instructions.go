package arch

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/btree"
)

var ErrDuplicateOffset = errors.New("arch: duplicate instruction offset")

// InstructionSet indexes an address-ordered instruction slice by offset.
type InstructionSet[I any] struct {
	insts []I
	index btree.Map[int64, int]
	arch  Architecture[I]
}

// NewInstructionSet indexes insts. The instructions are kept in offset
// order regardless of the input order; offsets must be unique.
func NewInstructionSet[I any](a Architecture[I], insts []I) (*InstructionSet[I], error) {
	sorted := slices.Clone(insts)
	slices.SortStableFunc(sorted, func(x, y I) int {
		return cmp.Compare(a.Offset(x), a.Offset(y))
	})
	s := &InstructionSet[I]{insts: sorted, arch: a}
	for i, inst := range sorted {
		off := a.Offset(inst)
		if i > 0 && a.Offset(sorted[i-1]) == off {
			return nil, fmt.Errorf("%#x: %w", off, ErrDuplicateOffset)
		}
		s.index.Load(off, i)
	}
	return s, nil
}

// Get returns the instruction at off.
func (s *InstructionSet[I]) Get(off int64) (I, bool) {
	i, ok := s.index.Get(off)
	if !ok {
		var zero I
		return zero, false
	}
	return s.insts[i], true
}

// Index returns the position of the instruction at off.
func (s *InstructionSet[I]) Index(off int64) (int, bool) {
	return s.index.Get(off)
}

// At returns the i-th instruction in address order.
func (s *InstructionSet[I]) At(i int) I { return s.insts[i] }

// Offset returns the offset of the i-th instruction.
func (s *InstructionSet[I]) Offset(i int) int64 { return s.arch.Offset(s.insts[i]) }

func (s *InstructionSet[I]) Len() int { return len(s.insts) }

// Instructions returns the instructions in address order.
func (s *InstructionSet[I]) Instructions() []I { return s.insts }

// Next returns the offset immediately after the instruction at off.
func (s *InstructionSet[I]) Next(inst I) int64 {
	return s.arch.Offset(inst) + int64(s.arch.Size(inst))
}
