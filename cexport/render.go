package cexport

import (
	"fmt"
	"io"
	"strings"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// methodWriter renders one method body.
type methodWriter struct {
	e   *Exporter
	a   *asm.Assembly
	def *asm.MethodDef

	// tmps is the stack of enclosing TmpLocal temporaries.
	tmps  []tmp
	ntmps int
}

type tmp struct {
	name string
	tpe  asm.TypeIdx
}

func (w *methodWriter) block(out io.Writer, blk asm.BasicBlock) {
	fmt.Fprintf(out, "BB_%d:;\n", blk.ID)
	for _, r := range blk.Roots {
		fmt.Fprintf(out, "\t%s\n", w.root(r))
	}
	// Handlers never run: a throw aborts the process.
}

func (w *methodWriter) top() tmp {
	fault.Check(len(w.tmps) > 0, "temporary used outside of a TmpLocal")
	return w.tmps[len(w.tmps)-1]
}

func (w *methodWriter) root(idx asm.RootIdx) string {
	a := w.a
	switch r := a.Root(idx).(type) {
	case asm.SetLoc:
		return fmt.Sprintf("L%d = %s;", r.Loc, w.node(r.Val))
	case asm.SetArg:
		return fmt.Sprintf("A%d = %s;", r.Arg, w.node(r.Val))
	case asm.SetTmp:
		return fmt.Sprintf("%s = %s;", w.top().name, w.node(r.Val))
	case asm.StInd:
		return fmt.Sprintf("*(%s*)(%s) = %s;", w.e.cType(a, r.Type), w.node(r.Addr), w.node(r.Val))
	case asm.SetField:
		return fmt.Sprintf("%s = %s;", w.field(r.Addr, r.Field), w.node(r.Val))
	case asm.SetStatic:
		return fmt.Sprintf("%s = %s;", staticName(a, r.Field), w.node(r.Val))
	case asm.CpBlk:
		return fmt.Sprintf("memcpy(%s, %s, %s);", w.node(r.Dst), w.node(r.Src), w.node(r.Len))
	case asm.InitBlk:
		return fmt.Sprintf("memset(%s, %s, %s);", w.node(r.Dst), w.node(r.Val), w.node(r.Count))
	case asm.CallRoot:
		return w.call(r.Method, r.Args) + ";"
	case asm.Pop:
		return fmt.Sprintf("(void)%s;", w.node(r.Val))
	case asm.BranchCond:
		return fmt.Sprintf("if (%s) goto BB_%d;", w.node(r.Cond), r.Target)
	case asm.Goto:
		return fmt.Sprintf("goto BB_%d;", r.Target)
	case asm.Ret:
		return fmt.Sprintf("return %s;", w.node(r.Val))
	case asm.VoidRet:
		return "return;"
	case asm.Throw:
		if msg, ok := w.exceptionMessage(r.Val); ok {
			return fmt.Sprintf("ilower_throw(%s);", cString(msg))
		}
		return "abort();"
	case asm.ReThrow:
		return "abort();"
	case asm.Nop:
		return ";"
	case asm.Break:
		return "__builtin_trap();"
	case asm.VolatileRoot:
		if st, ok := a.Root(r.Root).(asm.StInd); ok {
			return fmt.Sprintf("*(volatile %s*)(%s) = %s;", w.e.cType(a, st.Type), w.node(st.Addr), w.node(st.Val))
		}
		return "__sync_synchronize(); " + w.root(r.Root)
	}
	fault.Invariant("root %T has no C form", a.Root(idx))
	return ""
}

// exceptionMessage recognizes `new System.Exception("msg")`.
func (w *methodWriter) exceptionMessage(val asm.NodeIdx) (string, bool) {
	a := w.a
	obj, ok := a.Node(val).(asm.NewObj)
	if !ok || a.String(a.Class(a.Method(obj.Ctor).Class).Name) != "System.Exception" {
		return "", false
	}
	args := a.Nodes(obj.Args)
	if len(args) != 1 {
		return "", false
	}
	str, ok := a.Node(args[0]).(asm.LdStr)
	if !ok {
		return "", false
	}
	return a.String(str.Str), true
}

var binOps = map[asm.BinOpKind]string{
	asm.Add: "+", asm.Sub: "-", asm.Mul: "*", asm.Div: "/", asm.Rem: "%",
	asm.And: "&", asm.Or: "|", asm.XOr: "^", asm.Shl: "<<", asm.Shr: ">>",
	asm.Eq: "==", asm.Lt: "<", asm.Gt: ">",
}

func (w *methodWriter) node(idx asm.NodeIdx) string {
	a := w.a
	e := w.e
	switch n := a.Node(idx).(type) {
	case asm.LdLoc:
		return fmt.Sprintf("L%d", n.Loc)
	case asm.LdLocA:
		return fmt.Sprintf("(&L%d)", n.Loc)
	case asm.LdArg:
		return fmt.Sprintf("A%d", n.Arg)
	case asm.LdArgA:
		return fmt.Sprintf("(&A%d)", n.Arg)
	case asm.LdStatic:
		return staticName(a, n.Field)
	case asm.LdStaticA:
		return "(&" + staticName(a, n.Field) + ")"
	case asm.LdInd:
		return fmt.Sprintf("(*(%s*)(%s))", e.cType(a, n.Type), w.node(n.Addr))
	case asm.LdField:
		return w.field(n.Addr, n.Field)
	case asm.LdFieldA:
		return "(&" + w.field(n.Addr, n.Field) + ")"
	case asm.ConstInt:
		if n.Int.Signed() {
			return fmt.Sprintf("((%s)(int64_t)0x%xULL)", intTypes[n.Int], n.Bits)
		}
		return fmt.Sprintf("((%s)0x%xULL)", intTypes[n.Int], n.Bits)
	case asm.ConstFloat:
		return floatConst(n)
	case asm.ConstBool:
		if n.Val {
			return "true"
		}
		return "false"
	case asm.LdStr:
		return "(uint8_t*)" + cString(a.String(n.Str))
	case asm.BinOp:
		return w.binOp(n)
	case asm.UnOp:
		if n.Op == asm.Neg {
			return "(-" + w.node(n.A) + ")"
		}
		if a.Type(w.typeOf(n.A)).Kind == asm.KBool {
			return "(!" + w.node(n.A) + ")"
		}
		return "(~" + w.node(n.A) + ")"
	case asm.IntCast:
		conv := "ILOWER_U"
		if n.Extend == asm.SignExtend {
			conv = "ILOWER_S"
		}
		return fmt.Sprintf("((%s)%s(%s))", intTypes[n.Target], conv, w.node(n.Val))
	case asm.FloatCast:
		if n.Unsigned {
			return fmt.Sprintf("((%s)ILOWER_U(%s))", floatTypes[n.Target], w.node(n.Val))
		}
		return fmt.Sprintf("((%s)(%s))", floatTypes[n.Target], w.node(n.Val))
	case asm.FloatToInt:
		return fmt.Sprintf("((%s)(%s))", intTypes[n.Target], w.node(n.Val))
	case asm.PtrCast:
		return fmt.Sprintf("((%s)(%s))", e.cType(a, n.Target), w.node(n.Val))
	case asm.Call:
		return w.call(n.Method, n.Args)
	case asm.CallVirt:
		fault.Unimplemented("virtual call to %s in C", a.String(a.Method(n.Method).Name))
	case asm.CallI:
		fault.Unimplemented("indirect call in C")
	case asm.LdTypeToken:
		fault.Unimplemented("type tokens in C")
	case asm.NewObj:
		fault.Unimplemented("object construction of %s in C", a.String(a.Class(a.Method(n.Ctor).Class).Name))
	case asm.LdFtn:
		return fmt.Sprintf("((void*)&%s)", w.callee(n.Method))
	case asm.SizeOf:
		return fmt.Sprintf("((int32_t)sizeof(%s))", e.cType(a, n.Type))
	case asm.Select:
		return fmt.Sprintf("((%s) ? (%s) : (%s))", w.node(n.Cond), w.node(n.True), w.node(n.False))
	case asm.TmpLocal:
		return w.tmpLocal(n)
	case asm.LdTmp:
		return w.top().name
	case asm.LdTmpA:
		return "(&" + w.top().name + ")"
	case asm.GlobalAllocPtr:
		return "((uint8_t*)" + allocName(n.Alloc) + ")"
	case asm.VolatileNode:
		if ld, ok := a.Node(n.Val).(asm.LdInd); ok {
			return fmt.Sprintf("(*(volatile %s*)(%s))", e.cType(a, ld.Type), w.node(ld.Addr))
		}
		return w.node(n.Val)
	case asm.ConstValuePtr:
		fault.Invariant("constant pointer reached the C exporter")
	case asm.SubTrees:
		fault.Invariant("unflattened sub-trees reached the C exporter")
	default:
		fault.Invariant("node %T has no C form", n)
	}
	return ""
}

func (w *methodWriter) binOp(n asm.BinOp) string {
	x, y := w.node(n.A), w.node(n.B)
	switch n.Op {
	case asm.DivUn:
		return fmt.Sprintf("(ILOWER_U(%s) / ILOWER_U(%s))", x, y)
	case asm.RemUn:
		return fmt.Sprintf("(ILOWER_U(%s) %% ILOWER_U(%s))", x, y)
	case asm.ShrUn:
		return fmt.Sprintf("(ILOWER_U(%s) >> %s)", x, y)
	case asm.LtUn:
		return fmt.Sprintf("ILOWER_LT_UN(%s, %s)", x, y)
	case asm.GtUn:
		return fmt.Sprintf("ILOWER_GT_UN(%s, %s)", x, y)
	case asm.Rem:
		switch t := w.a.Type(w.typeOf(n.A)); {
		case t.Kind == asm.KFloat && t.Float == asm.F32:
			return fmt.Sprintf("fmodf(%s, %s)", x, y)
		case t.Kind == asm.KFloat:
			return fmt.Sprintf("fmod(%s, %s)", x, y)
		}
	}
	op, ok := binOps[n.Op]
	fault.Check(ok, "binary operator %s has no C form", n.Op)
	return fmt.Sprintf("(%s %s %s)", x, op, y)
}

// tmpLocal renders a temporary as a GNU statement expression.
func (w *methodWriter) tmpLocal(n asm.TmpLocal) string {
	w.ntmps++
	t := tmp{name: fmt.Sprintf("t%d", w.ntmps), tpe: n.Type}
	w.tmps = append(w.tmps, t)
	defer func() { w.tmps = w.tmps[:len(w.tmps)-1] }()
	var b strings.Builder
	fmt.Fprintf(&b, "({ %s %s; ", w.e.cType(w.a, n.Type), t.name)
	for _, r := range w.a.Roots(n.Init) {
		b.WriteString(w.root(r))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%s; })", w.node(n.Final))
	return b.String()
}

// field renders an lvalue for fld of the object addr points at.
func (w *methodWriter) field(addr asm.NodeIdx, fld asm.FieldIdx) string {
	a := w.a
	desc := a.Field(fld)
	name := ident(a.String(desc.Name))
	lv := fmt.Sprintf("((%s*)(%s))->%s", w.e.cType(a, a.ClassTy(desc.Owner)), w.node(addr), name)
	if def := a.ClassDef(desc.Owner); def != nil && def.Explicit {
		lv += ".f"
	}
	return lv
}

// callee returns the C name of m.
func (w *methodWriter) callee(m asm.MethodIdx) string {
	a := w.a
	ref := a.Method(m)
	cls := a.Class(ref.Class)
	if cls.Asm == 0 {
		return w.e.methodName(a, m)
	}
	name := ident(a.String(cls.Name)) + "_" + ident(a.String(ref.Name))
	if !runtimeMethods[name] {
		fault.Unimplemented("runtime method %s.%s in C", a.String(cls.Name), a.String(ref.Name))
	}
	return name
}

func (w *methodWriter) call(m asm.MethodIdx, args asm.NodeList) string {
	var parts []string
	for _, arg := range w.a.Nodes(args) {
		parts = append(parts, w.node(arg))
	}
	return fmt.Sprintf("%s(%s)", w.callee(m), strings.Join(parts, ", "))
}

// typeOf infers the type of a node where the tree carries enough
// information, and returns 0 otherwise.
func (w *methodWriter) typeOf(idx asm.NodeIdx) asm.TypeIdx {
	a := w.a
	switch n := a.Node(idx).(type) {
	case asm.LdLoc:
		if int(n.Loc) < len(w.def.Locals) {
			return w.def.Locals[n.Loc].Type
		}
	case asm.LdArg:
		if ins := a.Types(a.Sig(a.Method(w.def.Ref).Sig).Inputs); int(n.Arg) < len(ins) {
			return ins[n.Arg]
		}
	case asm.LdStatic:
		return a.Static(n.Field).Type
	case asm.LdInd:
		return n.Type
	case asm.LdField:
		return a.Field(n.Field).Type
	case asm.ConstInt:
		return a.IntTy(n.Int)
	case asm.ConstFloat:
		return a.FloatTy(n.Float)
	case asm.ConstBool:
		return a.Bool()
	case asm.BinOp:
		if n.Op.IsCompare() {
			return a.Bool()
		}
		return w.typeOf(n.A)
	case asm.UnOp:
		return w.typeOf(n.A)
	case asm.IntCast:
		return a.IntTy(n.Target)
	case asm.FloatCast:
		return a.FloatTy(n.Target)
	case asm.FloatToInt:
		return a.IntTy(n.Target)
	case asm.PtrCast:
		return n.Target
	case asm.Call:
		return a.Sig(a.Method(n.Method).Sig).Output
	case asm.Select:
		return n.Type
	case asm.TmpLocal:
		return n.Type
	case asm.LdTmp:
		if len(w.tmps) > 0 {
			return w.top().tpe
		}
	case asm.VolatileNode:
		return w.typeOf(n.Val)
	}
	return 0
}

func floatConst(n asm.ConstFloat) string {
	switch n.Float {
	case asm.F16:
		return fmt.Sprintf("(((union { uint16_t i; _Float16 f; }){ .i = 0x%x }).f)", uint16(n.Bits))
	case asm.F32:
		return fmt.Sprintf("(((union { uint32_t i; float f; }){ .i = 0x%x }).f)", uint32(n.Bits))
	case asm.F64:
		return fmt.Sprintf("(((union { uint64_t i; double f; }){ .i = 0x%xULL }).f)", n.Bits)
	}
	fault.Invariant("%s literal", n.Float)
	return ""
}

// cString quotes s as a C string literal, escaping everything outside
// printable ASCII.
func cString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '?':
			b.WriteString(`\?`)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\%03o", c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
