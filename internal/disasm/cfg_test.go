package disasm

import (
	"errors"
	"testing"

	"symflow/internal/flow"
)

// makeInst decodes a synthetic instruction at the given address.
func makeInst(addr uint64, raw uint32) Inst {
	return Decode(raw, addr)
}

func buildCFG(t *testing.T, name string, insts []Inst) FuncCFG {
	t.Helper()
	cfg, err := BuildCFG(name, insts)
	if err != nil {
		t.Fatalf("BuildCFG(%s): %v", name, err)
	}
	return cfg
}

func TestBuildCFG_Linear(t *testing.T) {
	// Three NOPs — no branches → one block.
	insts := []Inst{
		makeInst(0x1000, 0xD503201F), // NOP
		makeInst(0x1004, 0xD503201F), // NOP
		makeInst(0x1008, 0xD65F03C0), // RET
	}
	cfg := buildCFG(t, "linear", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	blk := cfg.Blocks[0]
	if blk.Start != 0 || blk.End != 3 {
		t.Errorf("block range = [%d,%d), want [0,3)", blk.Start, blk.End)
	}
	if !blk.IsTerm {
		t.Error("block should be terminal (RET)")
	}
	if len(blk.Succs) != 0 {
		t.Errorf("succs = %d, want 0", len(blk.Succs))
	}
}

func TestBuildCFG_ConditionalBranch(t *testing.T) {
	// B.EQ to +0x10 (forward to addr 0x1010), then fallthrough.
	//   0x1000: B.EQ #0x10  → target 0x1010
	//   0x1004: NOP          (fallthrough)
	//   0x1008: RET
	//   0x100C: NOP
	//   0x1010: RET          (branch target)
	beq := uint32(0x54000000 | (4 << 5)) // imm19 = 4 → offset = 0x10
	insts := []Inst{
		makeInst(0x1000, beq),        // B.EQ → 0x1010
		makeInst(0x1004, 0xD503201F), // NOP
		makeInst(0x1008, 0xD65F03C0), // RET
		makeInst(0x100C, 0xD503201F), // NOP
		makeInst(0x1010, 0xD65F03C0), // RET (branch target)
	}
	cfg := buildCFG(t, "cond", insts)

	// Headers: 0 (entry), 1 (after B.EQ), 4 (target 0x1010).
	// The NOP at 0x100C is never reached and belongs to no block.
	// Block 0: insts[0:1] = B.EQ
	// Block 1: insts[1:3] = NOP, RET
	// Block 2: insts[4:5] = RET (branch target)

	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(cfg.Blocks))
	}

	// Block 0 should have T and F successors.
	b0 := cfg.Blocks[0]
	if len(b0.Succs) != 2 {
		t.Fatalf("block 0 succs = %d, want 2", len(b0.Succs))
	}
	// T should point to block 2 (target 0x1010), F to block 1 (fallthrough).
	var hasT, hasF bool
	for _, s := range b0.Succs {
		if s.Cond == "T" && s.BlockID == 2 {
			hasT = true
		}
		if s.Cond == "F" && s.BlockID == 1 {
			hasF = true
		}
	}
	if !hasT {
		t.Errorf("block 0 missing T→block2, succs=%+v", b0.Succs)
	}
	if !hasF {
		t.Errorf("block 0 missing F→block1, succs=%+v", b0.Succs)
	}

	// Block 1 should be terminal (contains RET).
	b1 := cfg.Blocks[1]
	if !b1.IsTerm {
		t.Error("block 1 should be terminal (RET)")
	}

	// Block 2 should be terminal.
	b2 := cfg.Blocks[2]
	if !b2.IsTerm {
		t.Error("block 2 should be terminal (RET)")
	}
	if b2.Start != 4 || b2.End != 5 {
		t.Errorf("block 2 range = [%d,%d), want [4,5)", b2.Start, b2.End)
	}
}

func TestBuildCFG_UnconditionalBranch(t *testing.T) {
	// B to +0x8 (skip one instruction).
	//   0x2000: B #0x8     → target 0x2008
	//   0x2004: NOP         (dead code)
	//   0x2008: RET         (branch target)
	b := uint32(0x14000000 | 2) // imm26=2 → offset=8
	insts := []Inst{
		makeInst(0x2000, b),          // B → 0x2008
		makeInst(0x2004, 0xD503201F), // NOP
		makeInst(0x2008, 0xD65F03C0), // RET
	}
	cfg := buildCFG(t, "uncond", insts)

	// Headers: 0 (entry), 2 (target of B); the NOP is dead.
	if len(cfg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(cfg.Blocks))
	}

	// Block 0 has one unconditional successor → block 1.
	b0 := cfg.Blocks[0]
	if len(b0.Succs) != 1 {
		t.Fatalf("block 0 succs = %d, want 1", len(b0.Succs))
	}
	if b0.Succs[0].BlockID != 1 || b0.Succs[0].Cond != "" {
		t.Errorf("block 0 succ = {%d, %q}, want {1, \"\"}", b0.Succs[0].BlockID, b0.Succs[0].Cond)
	}
}

func TestBuildCFG_Empty(t *testing.T) {
	cfg := buildCFG(t, "empty", nil)
	if len(cfg.Blocks) != 0 {
		t.Errorf("blocks = %d, want 0", len(cfg.Blocks))
	}
}

func TestBuildCFG_Loop(t *testing.T) {
	//   0x3000: SUBS X0, X0, #1
	//   0x3004: B.NE 0x3000
	//   0x3008: RET
	insts := []Inst{
		makeInst(0x3000, 0xF1000400), // SUBS X0, X0, #1
		makeInst(0x3004, 0x54FFFFE1), // B.NE -4
		makeInst(0x3008, 0xD65F03C0), // RET
	}
	cfg := buildCFG(t, "loop", insts)
	if len(cfg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(cfg.Blocks))
	}
	b0 := cfg.Blocks[0]
	var back bool
	for _, s := range b0.Succs {
		if s.BlockID == 0 && s.Cond == "T" {
			back = true
		}
	}
	if !back {
		t.Errorf("block 0 missing T→block0 back edge, succs=%+v", b0.Succs)
	}
}

func TestAnalyze_SymbolicDataFlow(t *testing.T) {
	//   0x4000: MOV X0, #0
	//   0x4004: ADD X1, X0, #1
	//   0x4008: RET
	insts := []Inst{
		makeInst(0x4000, 0xD2800000),
		makeInst(0x4004, 0x91000401),
		makeInst(0x4008, 0xD65F03C0),
	}
	f, err := Analyze("df", insts, ModeSymbolic)
	if err != nil {
		t.Fatal(err)
	}
	if f.DataFlow == nil {
		t.Fatal("symbolic mode should produce a data-flow graph")
	}
	add, ok := f.DataFlow.Node(0x4004)
	if !ok {
		t.Fatal("no data-flow node for ADD")
	}
	deps := add.VariableDependencies()
	if len(deps) != 1 || deps[0].Name != "X0" {
		t.Fatalf("ADD deps = %+v, want X0", deps)
	}
	srcs := deps[0].Value.Sources()
	if len(srcs) != 1 || srcs[0].Node != 0x4000 {
		t.Errorf("X0 sources = %v, want the MOV at 0x4000", srcs)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	if _, err := Analyze("none", nil, ModeStatic); !errors.Is(err, ErrEmptyFunction) {
		t.Errorf("err = %v, want ErrEmptyFunction", err)
	}
	insts := []Inst{makeInst(0x1000, 0xD65F03C0)}
	if _, err := Analyze("bad", insts, Mode("quantum")); err == nil {
		t.Error("unknown mode accepted")
	}
	_, err := Analyze("limit", []Inst{
		makeInst(0x1000, 0xD503201F),
		makeInst(0x1004, 0xD503201F),
		makeInst(0x1008, 0xD65F03C0),
	}, ModeStatic, flow.WithMaxSteps(1))
	if !errors.Is(err, flow.ErrStepLimit) {
		t.Errorf("err = %v, want ErrStepLimit", err)
	}
}
