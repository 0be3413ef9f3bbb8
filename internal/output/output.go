// Package output writes symflow analysis results to files.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"symflow/internal/cfg"
	"symflow/internal/dfg"
	"symflow/internal/disasm"
)

var ErrUnknownFormat = errors.New("output: unknown format")

// Format selects a graph encoding.
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
	FormatDOT     Format = "dot" // rendered by the caller, see internal/render
)

// ParseFormat validates a format name. The empty string selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatMsgpack, FormatDOT:
		return f, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownFormat, s)
}

// Ext is the file extension for f.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatMsgpack:
		return ".msgpack"
	case FormatDOT:
		return ".dot"
	}
	return ".txt"
}

// GraphRecord is the serializable form of an analysed control-flow graph and,
// when present, its data-flow graph.
type GraphRecord struct {
	Name     string           `json:"name" msgpack:"name"`
	Entry    int64            `json:"entry" msgpack:"entry"`
	Blocks   []BlockRecord    `json:"blocks" msgpack:"blocks"`
	Edges    []EdgeRecord     `json:"edges" msgpack:"edges"`
	Loops    [][]int64        `json:"loops,omitempty" msgpack:"loops,omitempty"`
	DataFlow []DataFlowRecord `json:"data_flow,omitempty" msgpack:"data_flow,omitempty"`
}

// BlockRecord is one basic block.
type BlockRecord struct {
	ID           int64    `json:"id" msgpack:"id"`
	Offsets      []int64  `json:"offsets" msgpack:"offsets"`
	Instructions []string `json:"instructions,omitempty" msgpack:"instructions,omitempty"`
}

// EdgeRecord is one control-flow edge.
type EdgeRecord struct {
	From int64  `json:"from" msgpack:"from"`
	To   int64  `json:"to" msgpack:"to"`
	Type string `json:"type" msgpack:"type"`
}

// DataFlowRecord is one data-flow dependency: operand Slot (or Variable) of
// Node was produced by Source.
type DataFlowRecord struct {
	Node       int64  `json:"node" msgpack:"node"`
	Kind       string `json:"kind" msgpack:"kind"`
	Slot       int    `json:"slot,omitempty" msgpack:"slot,omitempty"`
	Variable   string `json:"variable,omitempty" msgpack:"variable,omitempty"`
	Source     int64  `json:"source" msgpack:"source"`
	SourceSlot int    `json:"source_slot,omitempty" msgpack:"source_slot,omitempty"`
	SourceName string `json:"source_name,omitempty" msgpack:"source_name,omitempty"`
}

// NewGraphRecord flattens g (and df, which may be nil). label renders one
// instruction; nil omits instruction text.
func NewGraphRecord[I any](name string, g *cfg.Graph[I], df *dfg.Graph[I], label func(I) string) GraphRecord {
	rec := GraphRecord{Name: name}
	if entry, ok := g.Entrypoint(); ok {
		rec.Entry = entry.ID()
	}
	for _, n := range g.Nodes() {
		b := BlockRecord{ID: n.ID(), Offsets: n.Offsets()}
		if label != nil {
			for _, inst := range n.Instructions() {
				b.Instructions = append(b.Instructions, label(inst))
			}
		}
		rec.Blocks = append(rec.Blocks, b)
	}
	for _, e := range g.Edges() {
		rec.Edges = append(rec.Edges, EdgeRecord{From: e.From, To: e.To, Type: e.Type.String()})
	}
	if loops, err := g.Loops(); err == nil {
		rec.Loops = loops
	}
	if df == nil {
		return rec
	}
	for _, e := range df.Edges() {
		r := DataFlowRecord{
			Node:     int64(e.Dependent),
			Kind:     e.Kind.String(),
			Slot:     e.Slot,
			Variable: string(e.Variable),
			Source:   int64(e.Source.Node),
		}
		if e.Source.Node < 0 {
			if src, ok := df.Node(e.Source.Node); ok {
				r.SourceName = src.Name()
			}
		} else {
			r.SourceSlot = e.Source.Slot
		}
		rec.DataFlow = append(rec.DataFlow, r)
	}
	return rec
}

// Encode writes rec to w. DOT is not a record encoding.
func Encode(w io.Writer, f Format, rec GraphRecord) error {
	switch f {
	case FormatText, "":
		_, err := io.WriteString(w, Text(rec))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rec)
	case FormatMsgpack:
		return msgpack.NewEncoder(w).Encode(rec)
	}
	return fmt.Errorf("%w %q", ErrUnknownFormat, f)
}

// Decode reads a JSON or msgpack record written by Encode.
func Decode(r io.Reader, f Format) (GraphRecord, error) {
	var rec GraphRecord
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&rec)
	case FormatMsgpack:
		err = msgpack.NewDecoder(r).Decode(&rec)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
	return rec, err
}

// WriteFile encodes rec to <dir>/<name><ext> and returns the path.
func WriteFile(dir, name string, f Format, rec GraphRecord) (string, error) {
	path := filepath.Join(dir, name+f.Ext())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("output: create %s: %w", path, err)
	}
	if err := Encode(file, f, rec); err != nil {
		file.Close()
		return "", fmt.Errorf("output: encode %s: %w", path, err)
	}
	return path, file.Close()
}

// Text renders rec as a stable listing: one header per block followed by its
// instructions and successor edges, then the data-flow dependencies.
func Text(rec GraphRecord) string {
	succs := make(map[int64][]EdgeRecord, len(rec.Blocks))
	for _, e := range rec.Edges {
		succs[e.From] = append(succs[e.From], e)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d blocks, %d edges, entry 0x%x\n", rec.Name, len(rec.Blocks), len(rec.Edges), rec.Entry)
	for _, blk := range rec.Blocks {
		fmt.Fprintf(&b, "\nblock 0x%x:\n", blk.ID)
		for i, off := range blk.Offsets {
			if i < len(blk.Instructions) {
				fmt.Fprintf(&b, "  0x%x  %s\n", off, blk.Instructions[i])
			} else {
				fmt.Fprintf(&b, "  0x%x\n", off)
			}
		}
		for _, e := range succs[blk.ID] {
			fmt.Fprintf(&b, "  -> 0x%x (%s)\n", e.To, e.Type)
		}
	}
	for _, loop := range rec.Loops {
		parts := make([]string, len(loop))
		for i, id := range loop {
			parts[i] = fmt.Sprintf("0x%x", id)
		}
		fmt.Fprintf(&b, "\nloop: %s\n", strings.Join(parts, " "))
	}
	if len(rec.DataFlow) > 0 {
		b.WriteString("\ndata flow:\n")
		for _, d := range rec.DataFlow {
			operand := fmt.Sprintf("[%d]", d.Slot)
			if d.Variable != "" {
				operand = "." + d.Variable
			}
			source := fmt.Sprintf("#%d@0x%x", d.SourceSlot, d.Source)
			switch {
			case d.SourceName != "":
				source = d.SourceName
			case d.Variable != "":
				source = fmt.Sprintf("%s@0x%x", d.Variable, d.Source)
			}
			fmt.Fprintf(&b, "  0x%x%s <- %s\n", d.Node, operand, source)
		}
	}
	return b.String()
}

// SymbolEntry represents a named code address.
type SymbolEntry struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size,omitempty"`
}

// WriteSymbolsJSON writes symbols to symbols.json.
func WriteSymbolsJSON(dir string, symbols []SymbolEntry) error {
	return writeJSON(filepath.Join(dir, "symbols.json"), symbols)
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
