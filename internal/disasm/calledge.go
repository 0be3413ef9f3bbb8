package disasm

import (
	"fmt"
	"strings"

	"symflow/internal/dfg"
	"symflow/internal/symbolic"
)

// CallEdge represents a call site extracted from disassembly.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc" msgpack:"from_pc"`
	Kind       string `json:"kind" msgpack:"kind"`                                   // "bl" or "blr"
	TargetPC   uint64 `json:"target_pc,omitempty" msgpack:"target_pc,omitempty"`     // resolved VA for bl
	TargetName string `json:"target_name,omitempty" msgpack:"target_name,omitempty"` // symbol at TargetPC
	Reg        string `json:"reg,omitempty" msgpack:"reg,omitempty"`                 // register for blr (e.g. "X16")
	Via        string `json:"via,omitempty" msgpack:"via,omitempty"`                 // defining instructions of Reg
}

// isBL detects ARM64 BL (branch with link) instructions.
// Encoding: 1 | 00101 | imm26
// Mask: 0xFC000000, Value: 0x94000000
// Returns the target address (sign-extended imm26 * 4 + PC).
func isBL(raw uint32, pc uint64) (target uint64, ok bool) {
	if raw&0xFC000000 != 0x94000000 {
		return 0, false
	}
	imm26 := int32(raw & 0x03FFFFFF)
	// Sign extend from 26 bits.
	if imm26&(1<<25) != 0 {
		imm26 |= ^int32(0x03FFFFFF)
	}
	target = uint64(int64(pc) + int64(imm26)*4)
	return target, true
}

// isBLR detects ARM64 BLR (branch with link to register) instructions.
// Encoding: 1101011 | 0 | 0 | 01 | 11111 | 0000 | 0 | 0 | Rn | 00000
// Mask: 0xFFFFFC1F, Value: 0xD63F0000
// Returns the register number.
func isBLR(raw uint32) (rn int, ok bool) {
	if raw&0xFFFFFC1F != 0xD63F0000 {
		return 0, false
	}
	rn = int((raw >> 5) & 0x1F)
	return rn, true
}

// CallTargets returns the BL destinations of insts in program order.
func CallTargets(insts []Inst) []uint64 {
	var out []uint64
	for _, inst := range insts {
		if target, ok := isBL(inst.Raw, inst.Addr); ok {
			out = append(out, target)
		}
	}
	return out
}

// ExtractCallEdges scans instructions for BL and BLR call sites.
// symbols resolves BL target addresses to names. When flow is non-nil (a
// symbolic analysis of the same instructions), BLR edges record the
// instructions that may have defined the target register.
func ExtractCallEdges(insts []Inst, symbols SymbolLookup, flow *dfg.Graph[Inst]) []CallEdge {
	var edges []CallEdge
	for _, inst := range insts {
		if target, ok := isBL(inst.Raw, inst.Addr); ok {
			e := CallEdge{
				FromPC:   inst.Addr,
				Kind:     "bl",
				TargetPC: target,
			}
			if symbols != nil {
				if name, found := symbols(target); found {
					e.TargetName = name
				}
			}
			edges = append(edges, e)
			continue
		}

		if rn, ok := isBLR(inst.Raw); ok {
			reg := fmt.Sprintf("X%d", rn)
			edges = append(edges, CallEdge{
				FromPC: inst.Addr,
				Kind:   "blr",
				Reg:    reg,
				Via:    definitions(flow, inst.Addr, symbolic.Variable(reg)),
			})
		}
	}
	return edges
}

// definitions describes the instructions whose writes to reg reach the
// instruction at pc, e.g. "0x1000 LDR X16, [X0,#8]".
func definitions(flow *dfg.Graph[Inst], pc uint64, reg symbolic.Variable) string {
	if flow == nil {
		return ""
	}
	n, ok := flow.Node(symbolic.NodeID(pc))
	if !ok {
		return ""
	}
	var defs []string
	for _, kv := range n.VariableDependencies() {
		if kv.Name != reg {
			continue
		}
		for _, src := range kv.Value.Sources() {
			def, ok := flow.Node(src.Node)
			if !ok {
				continue
			}
			if inst, ok := def.Instruction(); ok {
				defs = append(defs, fmt.Sprintf("0x%x %s", inst.Addr, inst.Text))
			} else if def.Name() != "" {
				defs = append(defs, def.Name())
			}
		}
	}
	return strings.Join(defs, " | ")
}
