package bytecode

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"gdsdecomp/internal/registry"
)

// Listing is a textual unit description accepted by AssembleListing.
//
//	version = "V_703004f"
//	extends = "Node"
//	[[func]]
//	name = "_ready"
//	locals = 1
//	constants = [42, "hi", { node_path = "a/b" }]
//	code = """
//	    LOAD_CONST 0
//	    JUMP_IF_FALSE @done
//	    LOAD_GLOBAL speed
//	    POP
//	done:
//	    RETURN_VOID
//	"""
//
// Operands are decimal or 0x integers, @label for jumps, or a bare name
// for identifier and builtin operands. ".line N" sets the source line.
type Listing struct {
	Version   string          `toml:"version"`
	Compress  bool            `toml:"compress"`
	Extends   string          `toml:"extends"`
	ClassName string          `toml:"class_name"`
	Tool      bool            `toml:"tool"`
	Signals   []string        `toml:"signals"`
	Members   []ListingMember `toml:"member"`
	Funcs     []ListingFunc   `toml:"func"`
}

type ListingMember struct {
	Name    string `toml:"name"`
	Export  bool   `toml:"export"`
	OnReady bool   `toml:"onready"`
}

type ListingFunc struct {
	Name      string   `toml:"name"`
	Args      int      `toml:"args"`
	Locals    int      `toml:"locals"`
	Stack     int      `toml:"stack"`
	Names     []string `toml:"names"`
	Constants []any    `toml:"constants"`
	Code      string   `toml:"code"`
}

// ParseListing decodes a listing document.
func ParseListing(data []byte) (*Listing, error) {
	var l Listing
	md, err := toml.Decode(string(data), &l)
	if err != nil {
		return nil, fmt.Errorf("listing: %w", err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("listing: unknown key %q", keys[0].String())
	}
	if l.Version == "" {
		return nil, fmt.Errorf("listing: version is required")
	}
	return &l, nil
}

// AssembleListing builds the listing's unit for the version it names.
func AssembleListing(l *Listing, reg *registry.Registry) (*Assembler, error) {
	ver, ok := reg.ByTag(l.Version)
	if !ok {
		return nil, fmt.Errorf("listing: unknown version %q", l.Version)
	}
	a := NewAssembler(ver)
	if l.Extends != "" {
		a.Extends(l.Extends)
	}
	if l.ClassName != "" {
		a.ClassName(l.ClassName)
	}
	if l.Tool {
		a.Tool()
	}
	for _, s := range l.Signals {
		a.Signal(s)
	}
	for _, m := range l.Members {
		var flags uint8
		if m.Export {
			flags |= MemberExport
		}
		if m.OnReady {
			flags |= MemberOnReady
		}
		a.Member(m.Name, flags)
	}

	for i, lf := range l.Funcs {
		locals := max(lf.Locals, lf.Args)
		b := a.Func(lf.Name, lf.Args, locals)
		b.Stack(lf.Stack)
		for slot, n := range lf.Names {
			if n != "" {
				b.Name(slot, n)
			}
		}
		for j, v := range lf.Constants {
			c, err := listingConstant(v)
			if err != nil {
				return nil, fmt.Errorf("listing: func %d constant %d: %w", i, j, err)
			}
			b.Const(c)
		}
		if err := assembleCode(b, lf.Code); err != nil {
			return nil, fmt.Errorf("listing: func %d (%s): %w", i, lf.Name, err)
		}
	}
	return a, nil
}

func listingConstant(v any) (Constant, error) {
	switch x := v.(type) {
	case bool:
		return BoolConst(x), nil
	case int64:
		return IntConst(x), nil
	case float64:
		return FloatConst(x), nil
	case string:
		return StringConst(x), nil
	case map[string]any:
		if len(x) != 1 {
			return Constant{}, fmt.Errorf("table constant needs exactly one key")
		}
		for k, val := range x {
			switch k {
			case "nil":
				return NilConst(), nil
			case "node_path", "resource":
				s, ok := val.(string)
				if !ok {
					return Constant{}, fmt.Errorf("%s must be a string", k)
				}
				if k == "node_path" {
					return NodePathConst(s), nil
				}
				return ResourceConst(s), nil
			case "func":
				n, ok := val.(int64)
				if !ok || n < 0 {
					return Constant{}, fmt.Errorf("func must be a function index")
				}
				return SubScriptConst(int(n)), nil
			case "float64":
				f, ok := val.(float64)
				if !ok {
					return Constant{}, fmt.Errorf("float64 must be a float")
				}
				c := FloatConst(f)
				c.Wide = true
				return c, nil
			}
			return Constant{}, fmt.Errorf("unknown constant kind %q", k)
		}
	}
	return Constant{}, fmt.Errorf("unsupported constant %T", v)
}

func assembleCode(b *FuncBuilder, code string) error {
	sc := bufio.NewScanner(strings.NewReader(code))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		if i := strings.IndexAny(text, ";#"); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) == 1 && strings.HasSuffix(fields[0], ":") {
			b.Label(Label(strings.TrimSuffix(fields[0], ":")))
			continue
		}
		if fields[0] == ".line" {
			if len(fields) != 2 {
				return fmt.Errorf("line %d: .line takes one number", lineNo)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			b.Line(n)
			continue
		}
		args := make([]any, 0, len(fields)-1)
		for _, f := range fields[1:] {
			switch {
			case strings.HasPrefix(f, "@"):
				args = append(args, Label(f[1:]))
			case f[0] >= '0' && f[0] <= '9':
				n, err := strconv.ParseUint(f, 0, 32)
				if err != nil {
					return fmt.Errorf("line %d: operand %q: %w", lineNo, f, err)
				}
				args = append(args, uint32(n))
			default:
				args = append(args, Name(f))
			}
		}
		b.Op(registry.Mnemonic(strings.ToUpper(fields[0])), args...)
	}
	return sc.Err()
}
