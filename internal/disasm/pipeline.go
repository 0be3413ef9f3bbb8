package disasm

import "strconv"

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	PC     string `json:"pc" msgpack:"pc"`
	Size   int    `json:"size" msgpack:"size"`
	Name   string `json:"name" msgpack:"name"`
	Blocks int    `json:"blocks" msgpack:"blocks"`
	Edges  int    `json:"edges" msgpack:"edges"`
	Loops  int    `json:"loops,omitempty" msgpack:"loops,omitempty"`
	Mode   Mode   `json:"mode" msgpack:"mode"`
	Error  string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc string `json:"from_func" msgpack:"from_func"`
	FromPC   string `json:"from_pc" msgpack:"from_pc"`
	Kind     string `json:"kind" msgpack:"kind"`                         // "bl" or "blr"
	Target   string `json:"target,omitempty" msgpack:"target,omitempty"` // resolved name or "0x..." for bl
	Reg      string `json:"reg,omitempty" msgpack:"reg,omitempty"`       // "X16" etc for blr
	Via      string `json:"via,omitempty" msgpack:"via,omitempty"`       // defining instructions for blr
}

// CallEdgeRecords converts the call edges of one function to records.
func CallEdgeRecords(fn string, edges []CallEdge) []CallEdgeRecord {
	out := make([]CallEdgeRecord, 0, len(edges))
	for _, e := range edges {
		r := CallEdgeRecord{
			FromFunc: fn,
			FromPC:   hex(e.FromPC),
			Kind:     e.Kind,
			Reg:      e.Reg,
			Via:      e.Via,
		}
		if e.Kind == "bl" {
			r.Target = e.TargetName
			if r.Target == "" {
				r.Target = hex(e.TargetPC)
			}
		}
		out = append(out, r)
	}
	return out
}

func hex(v uint64) string { return "0x" + strconv.FormatUint(v, 16) }
