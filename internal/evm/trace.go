package evm

import (
	"github.com/holiman/uint256"

	"symflow/internal/dfg"
	"symflow/internal/symbolic"
)

// traceValue resolves v to a constant when every source it may come from
// resolves to the same constant.
func traceValue(g *dfg.Graph[Instruction], v symbolic.Value, budget int) (*uint256.Int, bool) {
	if v.IsEmpty() || budget <= 0 {
		return nil, false
	}
	var out *uint256.Int
	for src := range v.All() {
		c, ok := traceSource(g, src, budget-1)
		if !ok {
			return nil, false
		}
		if out != nil && !out.Eq(c) {
			return nil, false
		}
		out = c
	}
	return out, out != nil
}

// traceSource follows the producer of one stack slot. Constants come from
// PUSH and PC, move through DUP and SWAP, and fold through a small set of
// arithmetic and bitwise operations.
func traceSource(g *dfg.Graph[Instruction], src symbolic.Source, budget int) (*uint256.Int, bool) {
	if budget <= 0 || src.Kind != symbolic.StackSource {
		return nil, false
	}
	n, ok := g.Node(src.Node)
	if !ok {
		return nil, false
	}
	in, ok := n.Instruction()
	if !ok {
		return nil, false
	}
	deps := n.StackDependencies()
	operand := func(i int) (*uint256.Int, bool) {
		if i < 0 || i >= len(deps) {
			return nil, false
		}
		return traceValue(g, deps[i], budget-1)
	}

	switch op := in.Op; {
	case op.IsPush():
		return in.Value()
	case op == PC:
		return uint256.NewInt(uint64(in.Offset)), true
	case op.IsDup():
		// deps[0] is the duplicated item; every slot but the new top is
		// restored in place.
		if src.Slot < len(deps) {
			return operand(src.Slot)
		}
		return operand(0)
	case op.IsSwap():
		last := len(deps) - 1
		switch src.Slot {
		case 0:
			return operand(last)
		case last:
			return operand(0)
		}
		return operand(src.Slot)
	case op == NOT || op == ISZERO:
		x, ok := operand(0)
		if !ok {
			return nil, false
		}
		if op == ISZERO {
			if x.IsZero() {
				return uint256.NewInt(1), true
			}
			return uint256.NewInt(0), true
		}
		return new(uint256.Int).Not(x), true
	}

	switch in.Op {
	case ADD, SUB, MUL, AND, OR, XOR, SHL, SHR, BYTE:
	default:
		return nil, false
	}
	// The top of stack is the first operand.
	a, okA := operand(1)
	b, okB := operand(0)
	if !okA || !okB {
		return nil, false
	}
	z := new(uint256.Int)
	switch in.Op {
	case ADD:
		z.Add(a, b)
	case SUB:
		z.Sub(a, b)
	case MUL:
		z.Mul(a, b)
	case AND:
		z.And(a, b)
	case OR:
		z.Or(a, b)
	case XOR:
		z.Xor(a, b)
	case SHL, SHR:
		shift, overflow := a.Uint64WithOverflow()
		if overflow || shift >= 256 {
			return z, true
		}
		if in.Op == SHL {
			z.Lsh(b, uint(shift))
		} else {
			z.Rsh(b, uint(shift))
		}
	case BYTE:
		z.Set(b).Byte(a)
	}
	return z, true
}
