package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"symflow/internal/cfg"
	"symflow/internal/disasm"
)

// BuildCFG constructs a lattice.CFGGraph from disassembled functions.
// Each FuncInfo is converted to a lattice.FuncCFG via disasm.BuildCFG,
// then mapped to lattice types.
func BuildCFG(funcs []FuncInfo) (*lattice.CFGGraph, error) {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _, err := BuildFuncCFG(f.Name, f.Insts, f.CallEdges)
		if err != nil {
			return nil, err
		}
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg, nil
}

// BuildFuncCFG builds a single-function lattice.FuncCFG from instructions and call edges.
// Returns the FuncCFG and the number of basic blocks (for filtering trivial functions).
func BuildFuncCFG(name string, insts []disasm.Inst, edges []disasm.CallEdge) (*lattice.FuncCFG, int, error) {
	dcfg, err := disasm.BuildCFG(name, insts)
	if err != nil {
		return nil, 0, err
	}
	return ConvertFuncCFG(&dcfg, edges), len(dcfg.Blocks), nil
}

// ConvertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG.
// Call edges are mapped into blocks by matching instruction PCs.
func ConvertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint64]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}

		// Populate calls from edges that fall within this block's instruction range.
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			if e, ok := edgeByPC[dcfg.Insts[idx].Addr]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: CalleeName(e),
				})
			}
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// CalleeName labels a call edge: symbol name, register definitions, register,
// then raw target address.
func CalleeName(e disasm.CallEdge) string {
	switch {
	case e.TargetName != "":
		return e.TargetName
	case e.Via != "":
		return e.Via
	case e.Kind == "blr":
		return e.Reg
	}
	return fmt.Sprintf("0x%x", e.TargetPC)
}

// FromGraph maps any control-flow graph to a lattice.FuncCFG. Blocks are
// numbered in address order and instruction ranges count instructions in
// that order. callee names the call made by an instruction, or "".
func FromGraph[I any](name string, g *cfg.Graph[I], callee func(I) string) *lattice.FuncCFG {
	nodes := g.Nodes()
	blockOf := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		blockOf[n.ID()] = i
	}

	lcfg := &lattice.FuncCFG{Name: name}
	idx := 0
	for i, n := range nodes {
		lb := &lattice.BasicBlock{ID: i, Start: idx, End: idx + n.Len()}
		conditional := false
		for _, e := range n.Successors() {
			if e.Type == cfg.Conditional {
				conditional = true
			}
		}
		for _, e := range n.Successors() {
			s := lattice.Successor{BlockID: blockOf[e.To]}
			switch {
			case e.Type == cfg.Conditional:
				s.Cond = "T"
			case e.Type == cfg.FallThrough && conditional:
				s.Cond = "F"
			}
			lb.Succs = append(lb.Succs, s)
		}
		lb.Term = len(lb.Succs) == 0
		if callee != nil {
			for j, inst := range n.Instructions() {
				if c := callee(inst); c != "" {
					lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx + j, Callee: c})
				}
			}
		}
		idx += n.Len()
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
