package ildump

import (
	"fmt"
	"strconv"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// emitter turns the node/root trees of one method into stack code.
type emitter struct {
	a   *asm.Assembly
	def *asm.MethodDef

	insts []Inst
	// tmps holds the local slot of every enclosing TmpLocal.
	tmps []uint32
	// extra are locals introduced for temporaries, after def.Locals.
	extra  []asm.TypeIdx
	labels int
}

func (e *emitter) emit(inst Inst) { e.insts = append(e.insts, inst) }
func (e *emitter) op(op string)   { e.emit(Op(op)) }

func (e *emitter) opArg(op, f string, args ...any) { e.emit(OpArg(op, f, args...)) }

func (e *emitter) label() string {
	e.labels++
	return fmt.Sprintf("IL_%d", e.labels)
}

func (e *emitter) tmp() uint32 {
	fault.Check(len(e.tmps) > 0, "temporary used outside of a TmpLocal")
	return e.tmps[len(e.tmps)-1]
}

func blockLabel(id uint32) string { return fmt.Sprintf("BB_%d", id) }

// blocks emits a block group. Handler groups become fault clauses around
// the block that owns them.
func (e *emitter) blocks(blocks []asm.BasicBlock) {
	for _, b := range blocks {
		if len(b.Handlers) > 0 {
			e.emit(Inst{Op: ".try {"})
		}
		e.emit(Label(blockLabel(b.ID)))
		for _, r := range b.Roots {
			e.root(r)
		}
		for _, h := range b.Handlers {
			e.emit(Inst{Op: "} fault {"})
			e.blocks(h.Blocks)
		}
		if len(b.Handlers) > 0 {
			e.emit(Inst{Op: "}"})
		}
	}
}

func (e *emitter) root(idx asm.RootIdx) {
	a := e.a
	switch r := a.Root(idx).(type) {
	case asm.SetLoc:
		e.node(r.Val)
		e.opArg("stloc", "%d", r.Loc)
	case asm.SetArg:
		e.node(r.Val)
		e.opArg("starg", "%d", r.Arg)
	case asm.SetTmp:
		e.node(r.Val)
		e.opArg("stloc", "%d", e.tmp())
	case asm.StInd:
		e.node(r.Addr)
		e.node(r.Val)
		e.opArg("stobj", "%s", typeName(a, r.Type))
	case asm.SetField:
		e.node(r.Addr)
		e.node(r.Val)
		e.opArg("stfld", "%s", fieldSpec(a, r.Field))
	case asm.SetStatic:
		e.node(r.Val)
		e.opArg("stsfld", "%s", staticSpec(a, r.Field))
	case asm.CpBlk:
		e.node(r.Dst)
		e.node(r.Src)
		e.node(r.Len)
		e.op("cpblk")
	case asm.InitBlk:
		e.node(r.Dst)
		e.node(r.Val)
		e.node(r.Count)
		e.op("initblk")
	case asm.CallRoot:
		e.call(r.Method, r.Args)
		if a.Type(a.Sig(a.Method(r.Method).Sig).Output).Kind != asm.KVoid {
			e.op("pop")
		}
	case asm.Pop:
		e.node(r.Val)
		e.op("pop")
	case asm.BranchCond:
		e.node(r.Cond)
		e.opArg("brtrue", "%s", blockLabel(r.Target))
	case asm.Goto:
		e.opArg("br", "%s", blockLabel(r.Target))
	case asm.Ret:
		e.node(r.Val)
		e.op("ret")
	case asm.VoidRet:
		e.op("ret")
	case asm.Throw:
		e.node(r.Val)
		e.op("throw")
	case asm.ReThrow:
		e.op("rethrow")
	case asm.Nop:
		e.op("nop")
	case asm.Break:
		e.op("break")
	case asm.VolatileRoot:
		start := len(e.insts)
		e.root(r.Root)
		e.prefixLast(start, "volatile.")
	default:
		fault.Invariant("root %T has no IL form", r)
	}
}

// prefixLast marks the last memory access emitted since start.
func (e *emitter) prefixLast(start int, prefix string) {
	for i := len(e.insts) - 1; i >= start; i-- {
		switch e.insts[i].Op {
		case "ldobj", "stobj", "ldfld", "stfld", "ldsfld", "stsfld", "cpblk", "initblk":
			e.insts[i].Prefix = prefix
			return
		}
	}
}

func (e *emitter) call(m asm.MethodIdx, args asm.NodeList) {
	for _, arg := range e.a.Nodes(args) {
		e.node(arg)
	}
	e.opArg("call", "%s", methodSpec(e.a, m))
}

var convNames = map[asm.Int]string{
	asm.I8: "conv.i1", asm.I16: "conv.i2", asm.I32: "conv.i4", asm.I64: "conv.i8", asm.ISize: "conv.i",
	asm.U8: "conv.u1", asm.U16: "conv.u2", asm.U32: "conv.u4", asm.U64: "conv.u8", asm.USize: "conv.u",
}

func (e *emitter) node(idx asm.NodeIdx) {
	a := e.a
	switch n := a.Node(idx).(type) {
	case asm.LdLoc:
		e.opArg("ldloc", "%d", n.Loc)
	case asm.LdLocA:
		e.opArg("ldloca", "%d", n.Loc)
	case asm.LdArg:
		e.opArg("ldarg", "%d", n.Arg)
	case asm.LdArgA:
		e.opArg("ldarga", "%d", n.Arg)
	case asm.LdStatic:
		e.opArg("ldsfld", "%s", staticSpec(a, n.Field))
	case asm.LdStaticA:
		e.opArg("ldsflda", "%s", staticSpec(a, n.Field))
	case asm.LdInd:
		e.node(n.Addr)
		e.opArg("ldobj", "%s", typeName(a, n.Type))
	case asm.LdField:
		e.node(n.Addr)
		e.opArg("ldfld", "%s", fieldSpec(a, n.Field))
	case asm.LdFieldA:
		e.node(n.Addr)
		e.opArg("ldflda", "%s", fieldSpec(a, n.Field))
	case asm.ConstInt:
		e.constInt(n)
	case asm.ConstFloat:
		e.constFloat(n)
	case asm.ConstBool:
		if n.Val {
			e.op("ldc.i4.1")
		} else {
			e.op("ldc.i4.0")
		}
	case asm.LdStr:
		e.opArg("ldstr", "%s", strconv.Quote(a.String(n.Str)))
	case asm.BinOp:
		e.node(n.A)
		e.node(n.B)
		e.op(n.Op.String())
	case asm.UnOp:
		e.node(n.A)
		e.op(n.Op.String())
	case asm.IntCast:
		e.node(n.Val)
		e.intCast(n)
	case asm.FloatCast:
		e.node(n.Val)
		if n.Unsigned {
			e.op("conv.r.un")
		}
		switch n.Target {
		case asm.F32:
			e.op("conv.r4")
		case asm.F64:
			e.op("conv.r8")
		default:
			e.opArg("call", "%s [System.Runtime]System.Half::op_Explicit(float64)", ilFloats[asm.F16])
		}
	case asm.FloatToInt:
		e.node(n.Val)
		if conv, ok := convNames[n.Target]; ok {
			e.op(conv)
			break
		}
		e.opArg("call", "%s %s::op_CheckedExplicit(float64)", ilInts[n.Target], ilInts[n.Target][len("valuetype "):])
	case asm.PtrCast:
		e.node(n.Val)
	case asm.Call:
		e.call(n.Method, n.Args)
	case asm.CallVirt:
		for _, arg := range a.Nodes(n.Args) {
			e.node(arg)
		}
		e.opArg("callvirt", "%s", methodSpec(a, n.Method))
	case asm.CallI:
		for _, arg := range a.Nodes(n.Args) {
			e.node(arg)
		}
		e.node(n.Ptr)
		sig := a.Sig(n.Sig)
		e.opArg("calli", "%s(%s)", typeName(a, sig.Output), typeList(a, a.Types(sig.Inputs)))
	case asm.NewObj:
		for _, arg := range a.Nodes(n.Args) {
			e.node(arg)
		}
		e.opArg("newobj", "%s", methodSpec(a, n.Ctor))
	case asm.LdFtn:
		e.opArg("ldftn", "%s", methodSpec(a, n.Method))
	case asm.SizeOf:
		e.opArg("sizeof", "%s", typeName(a, n.Type))
	case asm.LdTypeToken:
		e.opArg("ldtoken", "%s", typeName(a, n.Type))
	case asm.Select:
		els, end := e.label(), e.label()
		e.node(n.Cond)
		e.opArg("brfalse", "%s", els)
		e.node(n.True)
		e.opArg("br", "%s", end)
		e.emit(Label(els))
		e.node(n.False)
		e.emit(Label(end))
	case asm.TmpLocal:
		slot := uint32(len(e.def.Locals) + len(e.extra))
		e.extra = append(e.extra, n.Type)
		e.tmps = append(e.tmps, slot)
		for _, r := range a.Roots(n.Init) {
			e.root(r)
		}
		e.node(n.Final)
		e.tmps = e.tmps[:len(e.tmps)-1]
	case asm.LdTmp:
		e.opArg("ldloc", "%d", e.tmp())
	case asm.LdTmpA:
		e.opArg("ldloca", "%d", e.tmp())
	case asm.GlobalAllocPtr:
		data := a.Alloc(n.Alloc)
		fault.Check(data != nil, "pointer to unknown allocation %d", n.Alloc)
		e.opArg("ldsflda", "%s", blobField(len(data.Bytes), n.Alloc))
		e.op("conv.u")
	case asm.VolatileNode:
		start := len(e.insts)
		e.node(n.Val)
		e.prefixLast(start, "volatile.")
	case asm.ConstValuePtr:
		fault.Invariant("constant pointer reached the IL listing")
	case asm.SubTrees:
		fault.Invariant("unflattened sub-trees reached the IL listing")
	default:
		fault.Invariant("node %T has no IL form", n)
	}
}

func (e *emitter) constInt(n asm.ConstInt) {
	switch {
	case n.Int.Bits() <= 32:
		e.opArg("ldc.i4", "%d", int32(n.Bits))
	case n.Int.Bits() == 64:
		e.opArg("ldc.i8", "%d", int64(n.Bits))
		if n.Int == asm.ISize || n.Int == asm.USize {
			e.op(convNames[n.Int])
		}
	default:
		e.opArg("ldc.i8", "%d", int64(n.Bits))
		e.opArg("call", "%s %s::op_Implicit(int64)", ilInts[n.Int], ilInts[n.Int][len("valuetype "):])
	}
}

func (e *emitter) constFloat(n asm.ConstFloat) {
	switch n.Float {
	case asm.F16:
		e.opArg("ldc.i4", "%d", int32(uint16(n.Bits)))
		e.opArg("call", "%s [System.Runtime]System.BitConverter::Int16BitsToHalf(int16)", ilFloats[asm.F16])
	case asm.F32:
		e.opArg("ldc.r4", "float32(0x%08x)", uint32(n.Bits))
	case asm.F64:
		e.opArg("ldc.r8", "float64(0x%016x)", n.Bits)
	default:
		fault.Invariant("%s literal", n.Float)
	}
}

// intCast picks the conversion whose extension matches the cast when the
// target is at least as wide as the evaluation stack slot.
func (e *emitter) intCast(n asm.IntCast) {
	t := n.Target
	if t.Bits() == 128 {
		e.opArg("call", "%s %s::op_Implicit(int64)", ilInts[t], ilInts[t][len("valuetype "):])
		return
	}
	if t.Bits() >= 64 {
		if n.Extend == asm.SignExtend {
			t = t.AsSigned()
		} else {
			t = t.Unsigned()
		}
	}
	e.op(convNames[t])
}
