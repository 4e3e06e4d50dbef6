package ildump

import (
	"fmt"
	"strings"
)

// Inst is one line of a method listing: a label, a prefix-only
// instruction or an opcode with its operand.
type Inst struct {
	Label  string
	Op     string
	Arg    string
	Prefix string // volatile., unaligned. and the like
}

// Op creates an instruction without an operand.
func Op(op string) Inst { return Inst{Op: op} }

// OpArg creates an instruction with a formatted operand.
func OpArg(op, format string, args ...any) Inst {
	return Inst{Op: op, Arg: fmt.Sprintf(format, args...)}
}

// Label creates a branch target.
func Label(name string) Inst { return Inst{Label: name} }

func (inst Inst) String() string {
	if inst.Label != "" {
		return inst.Label + ":"
	}
	var b strings.Builder
	if inst.Prefix != "" {
		b.WriteString(inst.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(inst.Op)
	if inst.Arg != "" {
		b.WriteByte(' ')
		b.WriteString(inst.Arg)
	}
	return b.String()
}
