package callgraph

import (
	"testing"

	"github.com/zboralski/lattice/render"

	"symflow/internal/disasm"
	"symflow/internal/evm"
)

func TestBuildCFG_DOTOutput(t *testing.T) {
	// Construct a small ARM64 function with branches and calls:
	//
	// entry (B0):
	//   0x1000: MOV X0, #0
	//   0x1004: BL  0x1100       ; call "Foo.bar"
	//   0x1008: CBZ X0, 0x1018   ; conditional → B2
	//
	// true path (B1):
	//   0x100C: MOV X1, #1
	//   0x1010: BL  0x1210       ; call "Baz.qux"
	//   0x1014: B   0x1020       ; jump → B3
	//
	// false path (B2):
	//   0x1018: BL  0x1318       ; call "Quux.run"
	//   0x101C: RET
	//
	// join (B3):
	//   0x1020: RET
	insts := []disasm.Inst{
		disasm.Decode(0xD2800000, 0x1000), // MOV X0, #0
		disasm.Decode(0x94000040, 0x1004), // BL +0x100
		disasm.Decode(0xB4000080, 0x1008), // CBZ X0, +0x10
		disasm.Decode(0xD2800021, 0x100C), // MOV X1, #1
		disasm.Decode(0x94000080, 0x1010), // BL +0x200
		disasm.Decode(0x14000003, 0x1014), // B +0xC
		disasm.Decode(0x940000C0, 0x1018), // BL +0x300
		disasm.Decode(0xD65F03C0, 0x101C), // RET
		disasm.Decode(0xD65F03C0, 0x1020), // RET
	}

	edges := []disasm.CallEdge{
		{FromPC: 0x1004, Kind: "bl", TargetPC: 0x1104, TargetName: "Foo.bar_a00"},
		{FromPC: 0x1010, Kind: "bl", TargetPC: 0x1210, TargetName: "Baz.qux_b00"},
		{FromPC: 0x1018, Kind: "bl", TargetPC: 0x1318, TargetName: "Quux.run_c00"},
	}

	funcs := []FuncInfo{
		{Name: "MyClass.myMethod_1000", Insts: insts, CallEdges: edges},
	}

	cfg, err := BuildCFG(funcs)
	if err != nil {
		t.Fatal(err)
	}

	// Verify structure.
	if len(cfg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if f.Name != "MyClass.myMethod_1000" {
		t.Errorf("func name = %q", f.Name)
	}
	// Expect 4 blocks: entry, true-path, false-path, join
	if len(f.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(f.Blocks))
	}

	// B0: entry, has 1 call (Foo.bar), 2 successors (T→B1, F→B2)
	b0 := f.Blocks[0]
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "Foo.bar_a00" {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	// B1: true path, has 1 call (Baz.qux), 1 unconditional successor
	b1 := f.Blocks[1]
	if len(b1.Calls) != 1 || b1.Calls[0].Callee != "Baz.qux_b00" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}

	// B2: false path, has 1 call (Quux.run), terminal (RET)
	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "Quux.run_c00" {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}
	if !b2.Term {
		t.Error("B2 should be terminal")
	}

	// B3: join, terminal (RET)
	b3 := f.Blocks[3]
	if !b3.Term {
		t.Error("B3 should be terminal")
	}

	// Render DOT — verify it doesn't panic.
	dot := render.DOTCFG(cfg, "symflow CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildCallGraph_DOTOutput(t *testing.T) {
	funcs := []FuncInfo{
		{
			Name: "main_1000",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x1004, Kind: "bl", TargetPC: 0x2000, TargetName: "Foo.init_2000"},
				{FromPC: 0x1010, Kind: "bl", TargetPC: 0x3000, TargetName: "Bar.run_3000"},
			},
		},
		{
			Name: "Foo.init_2000",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x2008, Kind: "bl", TargetPC: 0x4000, TargetName: "Logger.log_4000"},
			},
		},
		{
			Name: "Bar.run_3000",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x3004, Kind: "bl", TargetPC: 0x4000, TargetName: "Logger.log_4000"},
				{FromPC: 0x3010, Kind: "blr", Reg: "X16", Via: "0x3000 LDR X16, [X0,#8]"},
			},
		},
		{
			Name: "Logger.log_4000",
		},
	}

	cg := BuildCallGraph(funcs)

	if len(cg.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(cg.Nodes))
	}

	dot := render.DOT(cg, "symflow call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestFromGraph_EVM(t *testing.T) {
	code := []byte{
		0x36,       // 0: CALLDATASIZE
		0x60, 0x08, // 1: PUSH1 8
		0x57,             // 3: JUMPI
		0x00,             // 4: STOP
		0xfe, 0xfe, 0xfe, // 5: INVALID
		0x5b, // 8: JUMPDEST
		0x00, // 9: STOP
	}
	p, err := evm.Analyze(code, evm.Options{})
	if err != nil {
		t.Fatal(err)
	}
	f := FromGraph("runtime", p.Graph, func(in evm.Instruction) string {
		if in.Op == evm.JUMPI {
			return "jumpi"
		}
		return ""
	})
	if len(f.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(f.Blocks))
	}
	b0 := f.Blocks[0]
	if b0.Start != 0 || b0.End != 3 {
		t.Errorf("B0 range = [%d,%d), want [0,3)", b0.Start, b0.End)
	}
	if len(b0.Succs) != 2 || b0.Succs[0].Cond != "T" || b0.Succs[1].Cond != "F" {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}
	if len(b0.Calls) != 1 || b0.Calls[0].Offset != 2 {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if !f.Blocks[1].Term || !f.Blocks[2].Term {
		t.Error("STOP blocks should be terminal")
	}
}
