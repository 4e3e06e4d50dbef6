package mir

import (
	"fmt"
	"io"
	"strings"
)

var binOpNames = [...]string{
	Add: "Add", Sub: "Sub", Mul: "Mul", Div: "Div", Rem: "Rem",
	BitAnd: "BitAnd", BitOr: "BitOr", BitXor: "BitXor", Shl: "Shl", Shr: "Shr",
	Eq: "Eq", Ne: "Ne", Lt: "Lt", Le: "Le", Gt: "Gt", Ge: "Ge", Offset: "Offset",
}

var castNames = [...]string{
	IntToInt: "IntToInt", IntToFloat: "IntToFloat", FloatToInt: "FloatToInt",
	FloatToFloat: "FloatToFloat", PtrToPtr: "PtrToPtr", PtrToAddr: "PtrToAddr",
	AddrToPtr: "AddrToPtr", Transmute: "Transmute",
}

func opName[T ~uint8](names []string, v T) string {
	if int(v) < len(names) && names[v] != "" {
		return names[v]
	}
	return fmt.Sprintf("?%d", v)
}

func (p Place) String() string {
	s := fmt.Sprintf("_%d", p.Local)
	for _, proj := range p.Proj {
		switch proj.Kind {
		case Deref:
			s = "(*" + s + ")"
		case Field:
			s = fmt.Sprintf("%s.%d", s, proj.Field)
		case Index:
			s = fmt.Sprintf("%s[_%d]", s, proj.Index)
		case ConstIndex:
			s = fmt.Sprintf("%s[%d]", s, proj.Offset)
		}
	}
	return s
}

func operandString(op Operand) string {
	switch op := op.(type) {
	case Copy:
		return op.Place.String()
	case Move:
		return "move " + op.Place.String()
	case Const:
		return fmt.Sprintf("const %s: %s", constString(op.Value), op.Ty)
	}
	return fmt.Sprintf("?%T", op)
}

func constString(c ConstValue) string {
	switch c := c.(type) {
	case Scalar:
		return c.Bits.String()
	case ScalarPtr:
		return fmt.Sprintf("&alloc%d+%d", c.Ptr.Alloc, c.Ptr.Offset)
	case ZeroSized:
		return "{}"
	case SliceConst:
		return fmt.Sprintf("&alloc%d[..%d]", c.Data, c.Meta)
	case Indirect:
		return fmt.Sprintf("*(alloc%d+%d)", c.Alloc, c.Offset)
	}
	return fmt.Sprintf("?%T", c)
}

func operands(ops []Operand) string {
	s := make([]string, len(ops))
	for i, op := range ops {
		s[i] = operandString(op)
	}
	return strings.Join(s, ", ")
}

func rvalueString(rv Rvalue) string {
	switch rv := rv.(type) {
	case Use:
		return operandString(rv.Op)
	case BinaryOp:
		return fmt.Sprintf("%s(%s, %s)", opName(binOpNames[:], rv.Op), operandString(rv.A), operandString(rv.B))
	case CheckedBinaryOp:
		return fmt.Sprintf("Checked%s(%s, %s)", opName(binOpNames[:], rv.Op), operandString(rv.A), operandString(rv.B))
	case UnaryOp:
		op := "Not"
		if rv.Op == Neg {
			op = "Neg"
		}
		return fmt.Sprintf("%s(%s)", op, operandString(rv.A))
	case Cast:
		return fmt.Sprintf("%s as %s (%s)", operandString(rv.Op), rv.Ty, opName(castNames[:], rv.Kind))
	case AddressOf:
		return fmt.Sprintf("&raw %s", rv.Place)
	case Aggregate:
		return fmt.Sprintf("%s {%s}", rv.Ty, operands(rv.Ops))
	}
	return fmt.Sprintf("?%T", rv)
}

func stmtString(st Stmt) string {
	switch st := st.(type) {
	case Assign:
		return fmt.Sprintf("%s = %s", st.Place, rvalueString(st.Rvalue))
	case StorageLive:
		return fmt.Sprintf("StorageLive(_%d)", st.Local)
	case StorageDead:
		return fmt.Sprintf("StorageDead(_%d)", st.Local)
	case Nop:
		return "nop"
	case CopyNonOverlapping:
		return fmt.Sprintf("copy_nonoverlapping(%s, %s, %s)", operandString(st.Src), operandString(st.Dst), operandString(st.Count))
	}
	return fmt.Sprintf("?%T", st)
}

func unwind(bb int) string {
	if bb == NoBlock {
		return ""
	}
	return fmt.Sprintf(", unwind bb%d", bb)
}

func termString(t Terminator) string {
	switch t := t.(type) {
	case Goto:
		return fmt.Sprintf("goto -> bb%d", t.Target)
	case SwitchInt:
		arms := make([]string, 0, len(t.Values)+1)
		for i, v := range t.Values {
			arms = append(arms, fmt.Sprintf("%s: bb%d", v, t.Targets[i]))
		}
		arms = append(arms, fmt.Sprintf("otherwise: bb%d", t.Otherwise))
		return fmt.Sprintf("switchInt(%s) -> [%s]", operandString(t.Discr), strings.Join(arms, ", "))
	case Return:
		return "return"
	case Unreachable:
		return "unreachable"
	case Call:
		callee := t.Func.Symbol
		switch {
		case t.Func.Ptr != nil:
			callee = operandString(t.Func.Ptr)
		case t.Func.Intrinsic:
			callee = "intrinsic " + callee
		}
		return fmt.Sprintf("%s = %s(%s) -> bb%d%s", t.Dest, callee, operands(t.Args), t.Target, unwind(t.Unwind))
	case Drop:
		return fmt.Sprintf("drop(%s) -> bb%d%s", t.Place, t.Target, unwind(t.Unwind))
	case Assert:
		return fmt.Sprintf("assert(%s == %t, %q) -> bb%d%s", operandString(t.Cond), t.Expected, t.Msg, t.Target, unwind(t.Unwind))
	case UnwindResume:
		return "resume"
	case Abort:
		return fmt.Sprintf("abort(%q)", t.Msg)
	}
	return fmt.Sprintf("?%T", t)
}

// WriteTo writes a readable listing of f.
func (f *Func) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString("fn " + f.Name + "(")
	if f.Body != nil {
		for i := 1; i <= f.Body.ArgCount && i < len(f.Body.Locals); i++ {
			if i > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "_%d: %s", i, f.Body.Locals[i].Ty)
		}
	}
	fmt.Fprintf(&b, ") -> %s {\n", f.Sig.Output)
	if f.Body != nil {
		for i := f.Body.ArgCount + 1; i < len(f.Body.Locals); i++ {
			decl := f.Body.Locals[i]
			fmt.Fprintf(&b, "    let _%d: %s;", i, decl.Ty)
			if decl.Name != "" {
				b.WriteString(" // " + decl.Name)
			}
			b.WriteString("\n")
		}
		for i, blk := range f.Body.Blocks {
			cleanup := ""
			if blk.Cleanup {
				cleanup = " (cleanup)"
			}
			fmt.Fprintf(&b, "  bb%d%s:\n", i, cleanup)
			for _, st := range blk.Stmts {
				b.WriteString("    " + stmtString(st) + "\n")
			}
			if blk.Term != nil {
				b.WriteString("    " + termString(blk.Term) + "\n")
			}
		}
	}
	b.WriteString("}\n")
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
