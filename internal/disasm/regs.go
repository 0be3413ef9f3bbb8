package disasm

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"symflow/internal/symbolic"
)

// Variables used for ARM64 data flow. General-purpose registers are tracked
// at 64-bit width (W5 and X5 are both X5), SIMD/FP registers as Vn.
const (
	NZCV symbolic.Variable = "NZCV"
	LR   symbolic.Variable = "X30"
	SP   symbolic.Variable = "SP"
	X0   symbolic.Variable = "X0"
)

// canonicalReg maps an operand register name to its tracked variable.
// Zero registers are not tracked.
func canonicalReg(name string) (symbolic.Variable, bool) {
	if i := strings.IndexAny(name, ".,["); i >= 0 {
		name = name[:i]
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	switch name {
	case "", "WZR", "XZR":
		return "", false
	case "SP", "WSP":
		return SP, true
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return "", false
	}
	switch name[0] {
	case 'W', 'X':
		return symbolic.Variable(fmt.Sprintf("X%d", n)), true
	case 'B', 'H', 'S', 'D', 'Q', 'V':
		return symbolic.Variable(fmt.Sprintf("V%d", n)), true
	}
	return "", false
}

// argRegs returns the registers named by one operand and, separately, the
// base register an addressing mode writes back.
func argRegs(a arm64asm.Arg) (regs []symbolic.Variable, writeback symbolic.Variable) {
	add := func(name string) {
		if v, ok := canonicalReg(name); ok {
			regs = append(regs, v)
		}
	}
	switch a := a.(type) {
	case arm64asm.Reg:
		add(a.String())
	case arm64asm.RegSP:
		add(a.String())
	case arm64asm.RegExtshiftAmount:
		add(a.String())
	case arm64asm.RegisterWithArrangement:
		add(strings.TrimPrefix(a.String(), "{"))
	case arm64asm.RegisterWithArrangementAndIndex:
		add(strings.TrimPrefix(a.String(), "{"))
	case arm64asm.MemImmediate:
		add(a.Base.String())
		switch a.Mode {
		case arm64asm.AddrPreIndex, arm64asm.AddrPostIndex, arm64asm.AddrPostReg:
			writeback, _ = canonicalReg(a.Base.String())
		}
	case arm64asm.MemExtend:
		add(a.Base.String())
		add(a.Index.String())
	}
	return regs, writeback
}

type operandRole uint8

const (
	roleDefault   operandRole = iota // Args[0] written, rest read
	roleReadAll                      // stores, compares, branches
	rolePairLoad                     // Args[0], Args[1] written
	roleExclusive                    // store-exclusive: Args[0] status written, rest read
)

func roleOf(op arm64asm.Op) operandRole {
	switch op {
	case arm64asm.LDP, arm64asm.LDNP, arm64asm.LDPSW, arm64asm.LDXP, arm64asm.LDAXP:
		return rolePairLoad
	case arm64asm.STXR, arm64asm.STLXR, arm64asm.STXP, arm64asm.STLXP,
		arm64asm.STXRB, arm64asm.STXRH, arm64asm.STLXRB, arm64asm.STLXRH:
		return roleExclusive
	case arm64asm.CMP, arm64asm.CMN, arm64asm.TST, arm64asm.CCMP, arm64asm.CCMN,
		arm64asm.FCMP, arm64asm.FCMPE, arm64asm.FCCMP, arm64asm.FCCMPE,
		arm64asm.B, arm64asm.BL, arm64asm.BLR, arm64asm.BR, arm64asm.RET,
		arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return roleReadAll
	}
	if strings.HasPrefix(op.String(), "ST") {
		return roleReadAll
	}
	return roleDefault
}

func setsFlags(op arm64asm.Op) bool {
	switch op {
	case arm64asm.ADDS, arm64asm.SUBS, arm64asm.ANDS, arm64asm.BICS,
		arm64asm.ADCS, arm64asm.SBCS, arm64asm.NEGS, arm64asm.NGCS,
		arm64asm.CMP, arm64asm.CMN, arm64asm.TST, arm64asm.CCMP, arm64asm.CCMN,
		arm64asm.FCMP, arm64asm.FCMPE, arm64asm.FCCMP, arm64asm.FCCMPE:
		return true
	}
	return false
}

func readsFlags(inst Inst) bool {
	switch inst.Op {
	case arm64asm.ADC, arm64asm.ADCS, arm64asm.SBC, arm64asm.SBCS, arm64asm.NGC, arm64asm.NGCS:
		return true
	}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if _, ok := a.(arm64asm.Cond); ok {
			return true
		}
	}
	return false
}

// RegisterEffects returns the variables inst reads and writes. Undecoded
// words have no effects.
func RegisterEffects(inst Inst) (reads, writes []symbolic.Variable) {
	if !inst.Decoded {
		return nil, nil
	}
	role := roleOf(inst.Op)
	for i, a := range inst.Args {
		if a == nil {
			break
		}
		regs, wb := argRegs(a)
		if wb != "" {
			writes = append(writes, wb)
		}
		written := false
		switch role {
		case roleDefault, roleExclusive:
			written = i == 0
		case rolePairLoad:
			written = i <= 1
		}
		if written {
			writes = append(writes, regs...)
		} else {
			reads = append(reads, regs...)
		}
	}

	switch inst.Op {
	case arm64asm.RET:
		if len(reads) == 0 {
			reads = append(reads, LR)
		}
	case arm64asm.BL, arm64asm.BLR:
		writes = append(writes, LR, X0)
	}
	if readsFlags(inst) {
		reads = append(reads, NZCV)
	}
	if setsFlags(inst.Op) {
		writes = append(writes, NZCV)
	}
	return dedup(reads), dedup(writes)
}

func dedup(vs []symbolic.Variable) []symbolic.Variable {
	if len(vs) < 2 {
		return vs
	}
	slices.Sort(vs)
	return slices.Compact(vs)
}

func joinVars(vs []symbolic.Variable) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}
