package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Call edge colors by call kind.
	EdgeBuiltin string // CALL_BUILTIN
	EdgeMethod  string // CALL_METHOD on another object
	EdgeSelf    string // CALL_SELF
	EdgeLambda  string // MAKE_LAMBDA
	EdgePreload string // preload of another script
	EdgeValue   string // CALL_VALUE, no static target

	// Control-flow edges.
	EdgeTrue  string
	EdgeFalse string
	EdgeJump  string
	EdgeBack  string

	// Node accents.
	EntryBorder     string
	TermFill        string // block ends in a return
	UnreachableFill string
	ExternalText    string // targets outside the unit

	// Cluster styling.
	ClusterBorder string // subgraph cluster border
	ClusterLabel  string // subgraph cluster label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeBuiltin: "#00695C", // teal
	EdgeMethod:  "#424242", // dark gray
	EdgeSelf:    "#0B3D91", // NASA blue
	EdgeLambda:  "#E65100", // deep orange
	EdgePreload: "#9E9E9E", // gray
	EdgeValue:   "#FC3D21", // NASA red

	EdgeTrue:  "#0B3D91",
	EdgeFalse: "#FC3D21",
	EdgeJump:  "#424242",
	EdgeBack:  "#E65100",

	EntryBorder:     "#0B3D91",
	TermFill:        "#ECEFF1", // blue-gray 50
	UnreachableFill: "#FFEBEE",
	ExternalText:    "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
