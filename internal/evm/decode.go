// Package evm describes EVM bytecode to the flow builders. Jump targets are
// recovered by tracing the destination operand through the data-flow graph.
package evm

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/holiman/uint256"
)

// Instruction is one decoded opcode and its push immediate.
type Instruction struct {
	Offset    int64
	Op        OpCode
	Immediate []byte // PUSH data; shorter than PushSize when code is truncated
}

// Size is the encoded length in bytes.
func (in Instruction) Size() int { return 1 + len(in.Immediate) }

// Value returns the pushed constant of a PUSH instruction.
func (in Instruction) Value() (*uint256.Int, bool) {
	if !in.Op.IsPush() {
		return nil, false
	}
	return new(uint256.Int).SetBytes(in.Immediate), true
}

func (in Instruction) String() string {
	if len(in.Immediate) > 0 {
		return fmt.Sprintf("%s 0x%x", in.Op, in.Immediate)
	}
	return in.Op.String()
}

// Decode splits code into instructions. A PUSH whose immediate runs past the
// end of code keeps the bytes that are present.
func Decode(code []byte) []Instruction {
	out := make([]Instruction, 0, len(code))
	for pc := 0; pc < len(code); {
		op := OpCode(code[pc])
		in := Instruction{Offset: int64(pc), Op: op}
		if n := op.PushSize(); n > 0 {
			end := min(pc+1+n, len(code))
			in.Immediate = code[pc+1 : end]
		}
		out = append(out, in)
		pc += in.Size()
	}
	return out
}

// JumpDests marks the offsets of JUMPDEST opcodes. Bytes inside push data
// are never marked.
func JumpDests(insts []Instruction) *bitset.BitSet {
	var n uint
	if len(insts) > 0 {
		last := insts[len(insts)-1]
		n = uint(last.Offset) + uint(last.Size())
	}
	b := bitset.New(n)
	for _, in := range insts {
		if in.Op == JUMPDEST {
			b.Set(uint(in.Offset))
		}
	}
	return b
}

// Format renders instructions one per line as "<offset>  <opcode> [imm]".
func Format(insts []Instruction) string {
	var b strings.Builder
	for _, in := range insts {
		fmt.Fprintf(&b, "0x%04x  %s\n", in.Offset, in)
	}
	return b.String()
}
