package disasm

import (
	"golang.org/x/arch/arm64/arm64asm"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/symbolic"
)

// Arch describes ARM64 instructions to the flow builders. There is no operand
// stack; registers and the NZCV flags carry the data flow.
type Arch struct{}

var _ arch.Architecture[Inst] = Arch{}

func (Arch) Offset(inst Inst) int64 { return int64(inst.Addr) }

func (Arch) Size(inst Inst) int {
	if inst.Size == 0 {
		return 4
	}
	return inst.Size
}

// FlowControl classifies RET, BRK, HLT and undecodable words as terminators,
// other branches (including BR) as can-branch. Calls return to the next
// instruction.
func (Arch) FlowControl(inst Inst) arch.FlowControl {
	if inst.Mnemonic == ".word" {
		return arch.Terminator
	}
	if inst.Decoded && (inst.Op == arm64asm.BRK || inst.Op == arm64asm.HLT) {
		return arch.Terminator
	}
	bi := DecodeBranch(inst.Raw, inst.Addr)
	switch {
	case bi == nil:
		return arch.Fallthrough
	case bi.IsRet:
		return arch.Terminator
	}
	return arch.CanBranch
}

func (Arch) StackPops(Inst) int { return 0 }

func (Arch) StackPushes(Inst) int { return 0 }

func (Arch) ReadVariables(inst Inst) []symbolic.Variable {
	reads, _ := RegisterEffects(inst)
	return reads
}

func (Arch) WrittenVariables(inst Inst) []symbolic.Variable {
	_, writes := RegisterEffects(inst)
	return writes
}

// Resolver computes ARM64 successors within one function [Start, End).
// Branches leaving the function (tail calls) and indirect branches have no
// successors.
type Resolver struct {
	Start uint64
	End   uint64
}

var _ arch.StaticResolver[Inst] = Resolver{}

// FunctionResolver bounds successors to the address range of insts.
func FunctionResolver(insts []Inst) Resolver {
	if len(insts) == 0 {
		return Resolver{}
	}
	return Resolver{Start: insts[0].Addr, End: insts[len(insts)-1].Addr + 4}
}

func (r Resolver) inside(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r Resolver) Successors(inst Inst, buf []arch.Successor) ([]arch.Successor, error) {
	next := inst.Addr + 4
	bi := DecodeBranch(inst.Raw, inst.Addr)
	if bi == nil {
		if r.inside(next) {
			buf = append(buf, arch.Successor{Destination: int64(next), Type: cfg.FallThrough})
		}
		return buf, nil
	}
	if bi.IsRet || bi.Indirect {
		return buf, nil
	}
	if bi.Cond {
		if r.inside(bi.Target) {
			buf = append(buf, arch.Successor{Destination: int64(bi.Target), Type: cfg.Conditional})
		}
		if r.inside(next) {
			buf = append(buf, arch.Successor{Destination: int64(next), Type: cfg.FallThrough})
		}
		return buf, nil
	}
	if r.inside(bi.Target) {
		buf = append(buf, arch.Successor{Destination: int64(bi.Target), Type: cfg.Unconditional})
	}
	return buf, nil
}
