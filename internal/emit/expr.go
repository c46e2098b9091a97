package emit

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// Binding strength, loosest first.
const (
	precAs = iota
	precOr
	precAnd
	precNot
	precIn
	precCompare
	precBitOr
	precBitXor
	precBitAnd
	precShift
	precAdd
	precMul
	precUnary
	precIs
	precAwait
	precPrimary
)

type opInfo struct {
	text string
	prec int
}

var binaryInfo = map[registry.Mnemonic]opInfo{
	registry.OpOr:     {"or", precOr},
	registry.OpAnd:    {"and", precAnd},
	registry.OpIn:     {"in", precIn},
	registry.OpEq:     {"==", precCompare},
	registry.OpNe:     {"!=", precCompare},
	registry.OpLt:     {"<", precCompare},
	registry.OpLe:     {"<=", precCompare},
	registry.OpGt:     {">", precCompare},
	registry.OpGe:     {">=", precCompare},
	registry.OpBitOr:  {"|", precBitOr},
	registry.OpBitXor: {"^", precBitXor},
	registry.OpBitAnd: {"&", precBitAnd},
	registry.OpShl:    {"<<", precShift},
	registry.OpShr:    {">>", precShift},
	registry.OpAdd:    {"+", precAdd},
	registry.OpSub:    {"-", precAdd},
	registry.OpMul:    {"*", precMul},
	registry.OpDiv:    {"/", precMul},
	registry.OpMod:    {"%", precMul},
	registry.OpIs:     {"is", precIs},
	registry.OpAs:     {"as", precAs},
}

var unaryInfo = map[registry.Mnemonic]opInfo{
	registry.OpNot:    {"not ", precNot},
	registry.OpNeg:    {"-", precUnary},
	registry.OpBitNot: {"~", precUnary},
}

// expr renders e, parenthesized when it binds looser than need.
func (p *printer) expr(e ast.Expr, need int) string {
	s, prec := p.exprPrec(e)
	if prec < need {
		return "(" + s + ")"
	}
	return s
}

func (p *printer) exprPrec(e ast.Expr) (string, int) {
	switch x := e.(type) {
	case *ast.Const:
		s := p.constant(x.Value)
		if strings.HasPrefix(s, "-") {
			return s, precUnary
		}
		return s, precPrimary
	case *ast.Local:
		return p.slot(x.Slot), precPrimary
	case *ast.Member:
		return x.Name, precPrimary
	case *ast.Global:
		return x.Name, precPrimary
	case *ast.Self:
		return "self", precPrimary
	case *ast.Attr:
		return p.expr(x.X, precPrimary) + "." + x.Name, precPrimary
	case *ast.Index:
		return p.expr(x.X, precPrimary) + "[" + p.expr(x.Key, precAs) + "]", precPrimary
	case *ast.Binary:
		op, ok := binaryInfo[x.Op]
		if !ok {
			op = opInfo{strings.ToLower(string(x.Op)), precPrimary}
		}
		// Left-associative: the right operand needs strictly tighter binding.
		return p.expr(x.L, op.prec) + " " + op.text + " " + p.expr(x.R, op.prec+1), op.prec
	case *ast.Unary:
		op := unaryInfo[x.Op]
		operand := p.expr(x.X, op.prec)
		if op.text == "-" && strings.HasPrefix(operand, "-") {
			operand = "(" + operand + ")"
		}
		return op.text + operand, op.prec
	case *ast.Call:
		return p.call(x), precPrimary
	case *ast.Array:
		return "[" + p.list(x.Elems) + "]", precPrimary
	case *ast.Dict:
		parts := make([]string, len(x.Keys))
		for i := range x.Keys {
			parts[i] = p.expr(x.Keys[i], precAs+1) + ": " + p.expr(x.Values[i], precAs+1)
		}
		return "{" + strings.Join(parts, ", ") + "}", precPrimary
	case *ast.Lambda:
		return x.Name, precPrimary
	case *ast.Preload:
		return "preload(" + quote(x.Path) + ")", precPrimary
	case *ast.Yield:
		return "yield(" + p.list(x.Args) + ")", precPrimary
	case *ast.Await:
		return "await " + p.expr(x.X, precAwait), precAwait
	}
	return fmt.Sprintf("<%T>", e), precPrimary
}

func (p *printer) list(es []ast.Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = p.expr(e, precAs+1)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) call(c *ast.Call) string {
	args := "(" + p.list(c.Args) + ")"
	switch c.Kind {
	case ast.CallMethod:
		return p.expr(c.Recv, precPrimary) + "." + c.Name + args
	case ast.CallValue:
		if p.ver.Has(registry.FeatureLambdas) {
			return p.expr(c.Recv, precPrimary) + ".call" + args
		}
		return p.expr(c.Recv, precPrimary) + ".call_func" + args
	}
	return c.Name + args
}

func (p *printer) constant(c bytecode.Constant) string {
	switch c.Kind {
	case bytecode.ConstNil:
		return "null"
	case bytecode.ConstBool:
		return strconv.FormatBool(c.Bool)
	case bytecode.ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case bytecode.ConstFloat:
		return p.float(c.Float)
	case bytecode.ConstString:
		return quote(c.Str)
	case bytecode.ConstNodePath:
		return "NodePath(" + quote(c.Str) + ")"
	case bytecode.ConstResource:
		return "preload(" + quote(c.Str) + ")"
	case bytecode.ConstSubScript:
		if c.Ref >= 0 && c.Ref < len(p.u.Functions) {
			return p.u.FuncName(p.u.Functions[c.Ref])
		}
		return fmt.Sprintf("func_%d", c.Ref)
	}
	return c.String()
}

// float always carries a decimal point so the value reads back as a float.
func (p *printer) float(v float64) string {
	switch {
	case math.IsNaN(v):
		if p.ver.Has(registry.FeatureInfNaN) {
			return "NAN"
		}
		return "(0.0 / 0.0)"
	case math.IsInf(v, 1):
		if p.ver.Has(registry.FeatureInfNaN) {
			return "INF"
		}
		return "(1.0 / 0.0)"
	case math.IsInf(v, -1):
		if p.ver.Has(registry.FeatureInfNaN) {
			return "-INF"
		}
		return "(-1.0 / 0.0)"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if strings.Contains(s, ".") {
		return s
	}
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		return s[:i] + ".0" + s[i:]
	}
	return s + ".0"
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// variantTypes names builtin type ids for typed loops.
var variantTypes = [...]string{
	1: "bool", 2: "int", 3: "float", 4: "String", 5: "Vector2", 6: "Vector2i",
	7: "Rect2", 8: "Rect2i", 9: "Vector3", 10: "Vector3i", 11: "Transform2D",
	12: "Vector4", 13: "Vector4i", 14: "Plane", 15: "Quaternion", 16: "AABB",
	17: "Basis", 18: "Transform3D", 19: "Projection", 20: "Color", 21: "StringName",
	22: "NodePath", 23: "RID", 24: "Object", 25: "Callable", 26: "Signal",
	27: "Dictionary", 28: "Array", 29: "PackedByteArray", 30: "PackedInt32Array",
	31: "PackedInt64Array", 32: "PackedFloat32Array", 33: "PackedFloat64Array",
	34: "PackedStringArray", 35: "PackedVector2Array", 36: "PackedVector3Array",
	37: "PackedColorArray",
}

func typeName(t uint32) (string, bool) {
	if int(t) < len(variantTypes) && variantTypes[t] != "" {
		return variantTypes[t], true
	}
	return "", false
}
