package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symflow/internal/disasm"
	"symflow/internal/evm"
)

// JUMPI to 0x8 through SWAP1; both arms stop.
var branchCode = []byte{0x60, 0x08, 0x60, 0x01, 0x90, 0x57, 0x00, 0xfe, 0x5b, 0x00}

func branchRecord(t *testing.T) GraphRecord {
	t.Helper()
	p, err := evm.Analyze(branchCode, evm.Options{})
	require.NoError(t, err)
	return NewGraphRecord("branch", p.Graph, p.DataFlow, evm.Instruction.String)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":        FormatText,
		"text":    FormatText,
		"JSON":    FormatJSON,
		"msgpack": FormatMsgpack,
		"dot":     FormatDOT,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("yaml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNewGraphRecord(t *testing.T) {
	rec := branchRecord(t)
	assert.Equal(t, int64(0), rec.Entry)
	require.Len(t, rec.Blocks, 3)
	assert.Equal(t, []int64{0, 2, 4, 5}, rec.Blocks[0].Offsets)
	assert.Equal(t, []string{"PUSH1 0x08", "PUSH1 0x01", "SWAP1", "JUMPI"}, rec.Blocks[0].Instructions)
	assert.ElementsMatch(t, []EdgeRecord{
		{From: 0, To: 6, Type: "fallthrough"},
		{From: 0, To: 8, Type: "conditional"},
	}, rec.Edges)
	assert.Empty(t, rec.Loops)

	// JUMPI consumes both SWAP1 outputs.
	var jumpi []DataFlowRecord
	for _, d := range rec.DataFlow {
		if d.Node == 5 {
			jumpi = append(jumpi, d)
		}
	}
	assert.ElementsMatch(t, []DataFlowRecord{
		{Node: 5, Kind: "stack", Slot: 0, Source: 4, SourceSlot: 0},
		{Node: 5, Kind: "stack", Slot: 1, Source: 4, SourceSlot: 1},
	}, jumpi)
}

func TestText(t *testing.T) {
	text := Text(branchRecord(t))
	assert.Contains(t, text, "branch: 3 blocks, 2 edges, entry 0x0\n")
	assert.Contains(t, text, "block 0x8:\n  0x8  JUMPDEST\n  0x9  STOP\n")
	assert.Contains(t, text, "  -> 0x8 (conditional)\n")
	assert.Contains(t, text, "  0x5[1] <- #1@0x4\n")
}

func TestEncodeDecode(t *testing.T) {
	rec := branchRecord(t)
	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, f, rec), f)
		got, err := Decode(&buf, f)
		require.NoError(t, err, f)
		assert.Equal(t, rec, got, f)
	}

	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, FormatDOT, rec), ErrUnknownFormat)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	rec := branchRecord(t)
	path, err := WriteFile(dir, "nested/branch", FormatText, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "branch.txt"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Text(rec), string(data))
}

func TestJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.jsonl")
	w, err := CreateJSONL[disasm.FuncRecord](path)
	require.NoError(t, err)
	recs := []disasm.FuncRecord{
		{PC: "0x1000", Name: "main", Blocks: 3, Mode: disasm.ModeSymbolic},
		{PC: "0x2000", Name: "f<T>", Error: "stack underflow"},
	}
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	got, err := ReadJSONL[disasm.FuncRecord](path)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"f<T>"`)
}

func TestWriteASM(t *testing.T) {
	dir := t.TempDir()
	insts := disasm.Disassemble([]byte{0xc0, 0x03, 0x5f, 0xd6}, disasm.Options{BaseAddr: 0x1000})
	require.NoError(t, WriteASM(dir, "f", insts, nil))
	data, err := os.ReadFile(filepath.Join(dir, "asm", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0x00001000  c0 03 5f d6  RET X30\n", string(data))
}
