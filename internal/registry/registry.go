// Package registry holds the per-version bytecode encoding descriptions.
//
// The registry is built once from embedded data and is read-only afterwards;
// concurrent readers need no locking. A changed data file means a fresh Build.
package registry

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
)

//go:embed versions.toml
var embeddedData []byte

// OperandKind identifies how an instruction operand is interpreted and bounded.
type OperandKind uint8

const (
	OperandConst   OperandKind = iota + 1 // constant pool index
	OperandLocal                          // local slot index
	OperandIdent                          // unit identifier table index
	OperandJump                           // absolute byte offset in function code
	OperandCount                          // argument or element count
	OperandBuiltin                        // builtin function index
	OperandType                           // builtin type id, 0 = untyped
	numOperandKinds
)

var operandKindNames = [...]string{
	OperandConst:   "const",
	OperandLocal:   "local",
	OperandIdent:   "ident",
	OperandJump:    "jump",
	OperandCount:   "count",
	OperandBuiltin: "builtin",
	OperandType:    "type",
}

func (k OperandKind) String() string {
	if k > 0 && k < numOperandKinds {
		return operandKindNames[k]
	}
	return fmt.Sprintf("operand(%d)", uint8(k))
}

func parseOperandKind(s string) (OperandKind, bool) {
	for k := OperandConst; k < numOperandKinds; k++ {
		if operandKindNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

// Flow classifies how an instruction transfers control.
type Flow uint8

const (
	FlowNone        Flow = iota
	FlowJump             // unconditional jump
	FlowBranchFalse      // pops condition, jumps when false
	FlowBranchTrue       // pops condition, jumps when true
	FlowIterBegin        // pops container, jumps to exit when empty
	FlowIterNext         // advances iterator, jumps back while elements remain
	FlowReturn           // leaves the function
)

var flowNames = map[string]Flow{
	"":             FlowNone,
	"jump":         FlowJump,
	"branch_false": FlowBranchFalse,
	"branch_true":  FlowBranchTrue,
	"iter_begin":   FlowIterBegin,
	"iter_next":    FlowIterNext,
	"return":       FlowReturn,
}

// IsBranch reports whether the instruction ends a basic block.
func (f Flow) IsBranch() bool { return f != FlowNone }

// IsConditional reports whether the instruction has both a taken and a fallthrough edge.
func (f Flow) IsConditional() bool {
	return f == FlowBranchFalse || f == FlowBranchTrue || f == FlowIterBegin || f == FlowIterNext
}

// Mnemonic is the symbolic name of an operation, stable across versions.
type Mnemonic string

const (
	OpNop         Mnemonic = "NOP"
	OpLoadConst   Mnemonic = "LOAD_CONST"
	OpLoadNil     Mnemonic = "LOAD_NIL"
	OpLoadLocal   Mnemonic = "LOAD_LOCAL"
	OpStoreLocal  Mnemonic = "STORE_LOCAL"
	OpLoadMember  Mnemonic = "LOAD_MEMBER"
	OpStoreMember Mnemonic = "STORE_MEMBER"
	OpLoadGlobal  Mnemonic = "LOAD_GLOBAL"
	OpLoadSelf    Mnemonic = "LOAD_SELF"
	OpGetAttr     Mnemonic = "GET_ATTR"
	OpSetAttr     Mnemonic = "SET_ATTR"
	OpGetIndex    Mnemonic = "GET_INDEX"
	OpSetIndex    Mnemonic = "SET_INDEX"
	OpAdd         Mnemonic = "ADD"
	OpSub         Mnemonic = "SUB"
	OpMul         Mnemonic = "MUL"
	OpDiv         Mnemonic = "DIV"
	OpMod         Mnemonic = "MOD"
	OpShl         Mnemonic = "SHL"
	OpShr         Mnemonic = "SHR"
	OpBitAnd      Mnemonic = "BIT_AND"
	OpBitOr       Mnemonic = "BIT_OR"
	OpBitXor      Mnemonic = "BIT_XOR"
	OpEq          Mnemonic = "EQ"
	OpNe          Mnemonic = "NE"
	OpLt          Mnemonic = "LT"
	OpLe          Mnemonic = "LE"
	OpGt          Mnemonic = "GT"
	OpGe          Mnemonic = "GE"
	OpAnd         Mnemonic = "AND"
	OpOr          Mnemonic = "OR"
	OpIn          Mnemonic = "IN"
	OpIs          Mnemonic = "IS"
	OpAs          Mnemonic = "AS"
	OpNeg         Mnemonic = "NEG"
	OpNot         Mnemonic = "NOT"
	OpBitNot      Mnemonic = "BIT_NOT"
	OpCallBuiltin Mnemonic = "CALL_BUILTIN"
	OpCallMethod  Mnemonic = "CALL_METHOD"
	OpCallSelf    Mnemonic = "CALL_SELF"
	OpCallValue   Mnemonic = "CALL_VALUE"
	OpBuildArray  Mnemonic = "BUILD_ARRAY"
	OpBuildDict   Mnemonic = "BUILD_DICT"
	OpMakeLambda  Mnemonic = "MAKE_LAMBDA"
	OpPreload     Mnemonic = "PRELOAD"
	OpYield       Mnemonic = "YIELD"
	OpAwait       Mnemonic = "AWAIT"
	OpPop         Mnemonic = "POP"
	OpJump        Mnemonic = "JUMP"
	OpJumpIfFalse Mnemonic = "JUMP_IF_FALSE"
	OpJumpIfTrue  Mnemonic = "JUMP_IF_TRUE"
	OpIterBegin   Mnemonic = "ITER_BEGIN"
	OpIterNext    Mnemonic = "ITER_NEXT"
	OpReturn      Mnemonic = "RETURN"
	OpReturnVoid  Mnemonic = "RETURN_VOID"
	OpAssert      Mnemonic = "ASSERT"
	OpBreakpoint  Mnemonic = "BREAKPOINT"
)

// Feature names a language construct whose presence differs between eras.
type Feature string

const (
	FeatureYield       Feature = "yield"
	FeatureSetget      Feature = "setget"
	FeatureSignal      Feature = "signal"
	FeatureOnready     Feature = "onready"
	FeatureBreakpoint  Feature = "breakpoint"
	FeatureConstPI     Feature = "const_pi"
	FeatureEnum        Feature = "enum"
	FeatureRPC         Feature = "rpc"
	FeatureDollar      Feature = "dollar"
	FeatureMatch       Feature = "match"
	FeatureWildcard    Feature = "wildcard"
	FeatureInfNaN      Feature = "inf_nan"
	FeatureIs          Feature = "is"
	FeatureConstTau    Feature = "const_tau"
	FeatureClassName   Feature = "class_name"
	FeatureAs          Feature = "as"
	FeatureTypedForIn  Feature = "typed_for_in"
	FeatureLambdas     Feature = "lambdas"
	FeatureAwait       Feature = "await"
	FeatureAnnotations Feature = "annotations"
)

// OpcodeSpec describes one numeric opcode of a version.
type OpcodeSpec struct {
	Code        byte
	Name        Mnemonic
	Operands    []OperandKind
	Pop         int // fixed pops
	PopPerCount int // extra pops per unit of the count operand
	Push        int
	Flow        Flow
	Requires    Feature // "" = always legal
}

// Size returns the encoded size of the instruction under w.
func (s *OpcodeSpec) Size(w Widths) int {
	n := 1
	for _, k := range s.Operands {
		n += w.Of(k)
	}
	return n
}

// StackDelta returns the net stack effect given the instruction's count operand.
func (s *OpcodeSpec) StackDelta(count int) int {
	return s.Push - s.Pop - s.PopPerCount*count
}

// Pops returns the number of values consumed given the count operand.
func (s *OpcodeSpec) Pops(count int) int {
	return s.Pop + s.PopPerCount*count
}

// Widths maps operand kinds to encoded byte widths.
type Widths [numOperandKinds]int

// Of returns the width for kind k.
func (w Widths) Of(k OperandKind) int {
	if k < numOperandKinds {
		return w[k]
	}
	return 0
}

// ConstantRules holds the variant type ids used by a version's constant pool.
type ConstantRules struct {
	Nil      uint16
	Bool     uint16
	Int      uint16
	Float    uint16
	String   uint16
	NodePath uint16
	Object   uint16
	Flag64   bool // 64-bit int/float flag (bit 16 of the header) supported
}

// IdentEncoding is the character encoding of the identifier table.
type IdentEncoding uint8

const (
	IdentUTF8 IdentEncoding = iota
	IdentUTF32
)

func (e IdentEncoding) String() string {
	if e == IdentUTF32 {
		return "utf32"
	}
	return "utf8"
}

// IdentRules describe the identifier table encoding.
type IdentRules struct {
	Encoding IdentEncoding
	XOR      byte
}

// Builtin is a builtin function callable through CALL_BUILTIN.
type Builtin struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 = variadic
}

// Accepts reports whether n arguments are legal for b.
func (b Builtin) Accepts(n int) bool {
	if n < b.MinArgs {
		return false
	}
	return b.MaxArgs < 0 || n <= b.MaxArgs
}

// Version is an immutable bytecode version descriptor.
type Version struct {
	ID          uint32 // 28-bit engine commit hash
	Commit      string // e.g. "703004f"
	Tag         string // e.g. "V_703004f"
	Base        string // commit this entry derives from, "" for the root
	Name        string
	Date        string
	Description string
	Format      int // bytecode format version from the file header
	Engine      int // engine major version

	Opcodes       []OpcodeSpec
	Widths        Widths
	WidthsName    string
	Constants     ConstantRules
	ConstantsName string
	Identifiers   IdentRules
	Builtins      []Builtin
	Fingerprint   uint64 // xxhash of everything that affects encoding

	features map[Feature]bool
	byName   map[Mnemonic]*OpcodeSpec
	builtins map[string]int
	order    int // position in the data file
}

// Has reports whether the version supports feature f.
func (v *Version) Has(f Feature) bool { return v.features[f] }

// Features returns the supported features, sorted.
func (v *Version) Features() []Feature {
	out := make([]Feature, 0, len(v.features))
	for f := range v.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Spec returns the opcode description for a numeric opcode.
func (v *Version) Spec(code byte) (*OpcodeSpec, bool) {
	if int(code) >= len(v.Opcodes) {
		return nil, false
	}
	return &v.Opcodes[code], true
}

// OpcodeByName returns the opcode description for a mnemonic.
func (v *Version) OpcodeByName(m Mnemonic) (*OpcodeSpec, bool) {
	s, ok := v.byName[m]
	return s, ok
}

// Builtin returns builtin function i.
func (v *Version) Builtin(i int) (Builtin, bool) {
	if i < 0 || i >= len(v.Builtins) {
		return Builtin{}, false
	}
	return v.Builtins[i], true
}

// BuiltinIndex returns the index of a builtin function by name.
func (v *Version) BuiltinIndex(name string) (int, bool) {
	i, ok := v.builtins[name]
	return i, ok
}

func (v *Version) String() string {
	return fmt.Sprintf("%s (%s, %s, bytecode %d)", v.Tag, v.Name, v.Date, v.Format)
}

// Registry is the ordered, immutable set of known versions.
type Registry struct {
	versions []*Version // newest first
	byID     map[uint32]*Version
	byFormat map[int][]*Version
}

// Lookup returns the version with the given commit id.
func (r *Registry) Lookup(id uint32) (*Version, bool) {
	v, ok := r.byID[id]
	return v, ok
}

// ByTag returns the version for a header tag such as "V_703004f".
func (r *Registry) ByTag(tag string) (*Version, bool) {
	id, err := ParseTag(tag)
	if err != nil {
		return nil, false
	}
	return r.Lookup(id)
}

// ByFormat returns all versions sharing a bytecode format number, newest first.
func (r *Registry) ByFormat(format int) []*Version {
	return r.byFormat[format]
}

// Versions returns all versions, newest first.
func (r *Registry) Versions() []*Version { return r.versions }

// Len returns the number of registered versions.
func (r *Registry) Len() int { return len(r.versions) }

// EncodingGroups partitions versions by encoding fingerprint.
// Versions in one group decode any buffer identically; they differ only in features.
func (r *Registry) EncodingGroups() [][]*Version {
	idx := make(map[uint64]int)
	var groups [][]*Version
	for _, v := range r.versions {
		i, ok := idx[v.Fingerprint]
		if !ok {
			i = len(groups)
			idx[v.Fingerprint] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], v)
	}
	return groups
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return Build(embeddedData)
})

// Default returns the process-wide registry built from the embedded data.
func Default() *Registry {
	r, err := defaultRegistry()
	if err != nil {
		panic("registry: embedded data invalid: " + err.Error())
	}
	return r
}

// EmbeddedData returns the raw registry data file.
func EmbeddedData() []byte { return embeddedData }
