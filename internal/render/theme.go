package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Control-flow edge colors.
	EdgeTaken       string // conditional branch taken
	EdgeFallthrough string // fallthrough after a conditional branch
	EdgeDirect      string // unconditional and plain fallthrough
	EdgeAbnormal    string // exception or other abnormal transfer

	// Call-graph edge colors.
	EdgeDefined    string // BLR with a known defining instruction
	EdgeUnresolved string // BLR without one

	// Data-flow edge colors.
	EdgeStack    string
	EdgeVariable string

	// Node accents.
	EntryBorder  string
	TermFill     string // blocks without successors
	ExternalText string // external / unresolved targets
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeTaken:       "#0B3D91", // NASA blue
	EdgeFallthrough: "#FC3D21", // NASA red
	EdgeDirect:      "#424242", // dark gray
	EdgeAbnormal:    "#E65100", // deep orange

	EdgeDefined:    "#00695C", // teal
	EdgeUnresolved: "#FC3D21",

	EdgeStack:    "#0B3D91",
	EdgeVariable: "#00695C",

	EntryBorder:  "#0B3D91",
	TermFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",
}

// Mono renders everything in black on white.
var Mono = Theme{
	Background:      "white",
	NodeFill:        "white",
	NodeBorder:      "black",
	TextColor:       "black",
	EdgeTaken:       "black",
	EdgeFallthrough: "black",
	EdgeDirect:      "black",
	EdgeAbnormal:    "black",
	EdgeDefined:     "black",
	EdgeUnresolved:  "black",
	EdgeStack:       "black",
	EdgeVariable:    "black",
	EntryBorder:     "black",
	TermFill:        "#EEEEEE",
	ExternalText:    "#777777",
}

// ThemeByName returns the named theme, falling back to NASA.
func ThemeByName(name string) (Theme, bool) {
	switch name {
	case "", "nasa":
		return NASA, true
	case "mono":
		return Mono, true
	}
	return NASA, false
}
