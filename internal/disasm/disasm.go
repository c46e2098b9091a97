// Package disasm renders decoded bytecode functions as annotated listings.
package disasm

import (
	"fmt"
	"strings"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// Options controls listing output.
type Options struct {
	MaxSteps int  // maximum instructions per function; 0 = 10M
	Bytes    bool // include raw instruction bytes
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Text returns the mnemonic and operands of in, e.g. "LOAD_CONST 3".
func Text(in *bytecode.Instruction) string {
	var b strings.Builder
	b.WriteString(string(in.Op))
	for i, o := range in.Operands {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		if o.Kind == registry.OperandJump {
			fmt.Fprintf(&b, "0x%04x", o.Value)
		} else {
			fmt.Fprintf(&b, "%d", o.Value)
		}
	}
	return b.String()
}

// Format renders a function's instructions as stable text output.
// Each line: <offset>  [<hex bytes>]  <mnemonic operands>  ; <comment>
// Annotators are checked in order; first non-empty result is used.
func Format(fn *bytecode.Function, opts Options, annotators ...Annotator) string {
	var b strings.Builder
	n := min(len(fn.Instructions), opts.effectiveMax())
	for i := 0; i < n; i++ {
		in := &fn.Instructions[i]
		fmt.Fprintf(&b, "0x%08x  ", in.Offset)
		if opts.Bytes {
			fmt.Fprintf(&b, "%-30s  ", hexBytes(fn.Code, in))
		}
		b.WriteString(Line(in, annotators...))
		b.WriteByte('\n')
	}
	if n < len(fn.Instructions) {
		fmt.Fprintf(&b, "; ... %d more instructions\n", len(fn.Instructions)-n)
	}
	if fn.Err != nil {
		fmt.Fprintf(&b, "; error: %v\n", fn.Err)
	}
	return b.String()
}

// Line renders one instruction with the first non-empty annotation.
func Line(in *bytecode.Instruction, annotators ...Annotator) string {
	s := Text(in)
	for _, ann := range annotators {
		if c := ann(in); c != "" {
			return s + "  ; " + c
		}
	}
	return s
}

// FormatUnit renders every function of u with operand annotations.
func FormatUnit(u *bytecode.Unit, ver *registry.Version, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "; %s, %d functions, %d identifiers\n", ver.Tag, len(u.Functions), len(u.Identifiers))
	if u.Incomplete {
		b.WriteString("; incomplete: decoding stopped early\n")
	}
	for _, fn := range u.Functions {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s:  ; args=%d locals=%d stack=%d consts=%d code=%d\n",
			u.FuncName(fn), fn.ArgCount, fn.LocalCount, fn.StackSize, len(fn.Constants), len(fn.Code))
		b.WriteString(Format(fn, opts, OperandAnnotator(u, fn, ver)))
	}
	return b.String()
}

func hexBytes(code []byte, in *bytecode.Instruction) string {
	end := min(in.End(), len(code))
	if in.Offset >= end {
		return ""
	}
	var b strings.Builder
	for i, c := range code[in.Offset:end] {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}
