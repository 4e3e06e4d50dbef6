package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// maxHandlerDepth bounds handler-region nesting; deeper nesting means the
// cleanup graph loops back on itself.
const maxHandlerDepth = 16

type slotKind uint8

const (
	slotVoid slotKind = iota
	slotLocal
	slotArg
)

type slot struct {
	kind slotKind
	idx  uint32
}

// fnCtx is the per-method lowering state.
type fnCtx struct {
	*Lowerer
	fn    *mir.Func
	body  *mir.Body
	slots []slot
	def   *asm.MethodDef
}

func (l *Lowerer) method(fn *mir.Func) {
	a := l.a
	f := &fnCtx{Lowerer: l, fn: fn, body: fn.Body}
	ref := l.FuncRef(fn.Name, fn.Sig)
	f.def = &asm.MethodDef{Ref: ref}
	if !fn.Public {
		f.def.Access = asm.Private
	}
	fault.Check(fn.Body != nil, "function %s has no body", fn.Name)

	f.slots = make([]slot, len(fn.Body.Locals))
	var arg uint32
	for i, decl := range fn.Body.Locals {
		switch {
		case l.types.IsZST(decl.Ty):
			f.slots[i] = slot{kind: slotVoid}
		case i >= 1 && i <= fn.Body.ArgCount:
			f.slots[i] = slot{kind: slotArg, idx: arg}
			f.def.ArgNames = append(f.def.ArgNames, a.AllocString(decl.Name))
			arg++
		default:
			f.slots[i] = slot{kind: slotLocal, idx: uint32(len(f.def.Locals))}
			var name asm.StringIdx
			if decl.Name != "" {
				name = a.AllocString(decl.Name)
			}
			f.def.Locals = append(f.def.Locals, asm.Local{Name: name, Type: l.types.Type(decl.Ty)})
		}
	}

	for i, blk := range fn.Body.Blocks {
		if blk.Cleanup {
			continue
		}
		f.def.Blocks = append(f.def.Blocks, f.block(i, 0))
	}
	a.DefineMethod(f.def)
}

// block lowers block i, attaching handler groups for its unwind edges.
func (f *fnCtx) block(i, depth int) asm.BasicBlock {
	blk := f.body.Blocks[i]
	out := asm.BasicBlock{ID: uint32(i)}
	for _, st := range blk.Stmts {
		out.Roots = append(out.Roots, f.stmt(st)...)
	}
	out.Roots = append(out.Roots, f.term(blk.Term)...)
	if unwind := unwindOf(blk.Term); unwind != mir.NoBlock {
		out.Handlers = append(out.Handlers, f.handler(unwind, depth+1))
	}
	return out
}

func unwindOf(t mir.Terminator) int {
	switch t := t.(type) {
	case mir.Call:
		return t.Unwind
	case mir.Drop:
		return t.Unwind
	case mir.Assert:
		return t.Unwind
	}
	return mir.NoBlock
}

// handler lowers the cleanup region entered at block start: every cleanup
// block reachable from it, entry first.
func (f *fnCtx) handler(start, depth int) asm.Handler {
	if depth > maxHandlerDepth {
		fault.Invariant("%s: handler regions nest deeper than %d", f.fn.Name, maxHandlerDepth)
	}
	fault.Check(start >= 0 && start < len(f.body.Blocks), "%s: unwind to missing block %d", f.fn.Name, start)
	var h asm.Handler
	seen := map[int]bool{start: true}
	work := []int{start}
	for len(work) > 0 {
		i := work[0]
		work = work[1:]
		fault.Check(f.body.Blocks[i].Cleanup, "%s: unwind edge into non-cleanup block %d", f.fn.Name, i)
		h.Blocks = append(h.Blocks, f.block(i, depth))
		for _, s := range successors(f.body.Blocks[i].Term) {
			if !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}
	return h
}

// successors lists normal-flow successors of a terminator.
func successors(t mir.Terminator) []int {
	var out []int
	add := func(b int) {
		if b != mir.NoBlock {
			out = append(out, b)
		}
	}
	switch t := t.(type) {
	case mir.Goto:
		add(t.Target)
	case mir.SwitchInt:
		for _, b := range t.Targets {
			add(b)
		}
		add(t.Otherwise)
	case mir.Call:
		add(t.Target)
	case mir.Drop:
		add(t.Target)
	case mir.Assert:
		add(t.Target)
	}
	return out
}

// ============================================================
// Places and operands
// ============================================================

func (f *fnCtx) localTy(local int) *mir.Ty { return f.body.Locals[local].Ty }

// placeTy returns the type of place p.
func (f *fnCtx) placeTy(p mir.Place) *mir.Ty {
	if len(p.Proj) == 0 {
		return f.localTy(p.Local)
	}
	return p.Proj[len(p.Proj)-1].Ty
}

func (f *fnCtx) parent(p mir.Place) mir.Place {
	return mir.Place{Local: p.Local, Proj: p.Proj[:len(p.Proj)-1]}
}

// placeAddr computes the address of place p.
func (f *fnCtx) placeAddr(p mir.Place) asm.NodeIdx {
	a := f.a
	if len(p.Proj) == 0 {
		s := f.slots[p.Local]
		switch s.kind {
		case slotLocal:
			return a.LdLocA(s.idx)
		case slotArg:
			return a.AllocNode(asm.LdArgA{Arg: s.idx})
		}
		// A zero-sized local has no storage; any aligned non-null address
		// will do.
		return a.PtrCast(a.VoidPtr(), a.ConstUSize(1))
	}
	parent := f.parent(p)
	parentTy := f.placeTy(parent)
	proj := p.Proj[len(p.Proj)-1]
	switch proj.Kind {
	case mir.Deref:
		if parentTy.IsFat() {
			data, _ := f.types.FatPtrFields(parentTy)
			return a.AllocNode(asm.LdField{Addr: f.placeAddr(parent), Field: data})
		}
		return f.placeLoad(parent)
	case mir.Field:
		if f.types.IsZST(proj.Ty) {
			return f.placeAddr(parent)
		}
		return a.AllocNode(asm.LdFieldA{Addr: f.placeAddr(parent), Field: f.types.Field(parentTy, proj.Field)})
	case mir.Index, mir.ConstIndex:
		var idx asm.NodeIdx
		if proj.Kind == mir.Index {
			idx = f.placeLoad(mir.LocalPlace(proj.Index))
		} else {
			idx = a.ConstUSize(proj.Offset)
		}
		size := f.types.Layout(proj.Ty).Size
		base := a.PtrCast(a.USize(), f.placeAddr(parent))
		addr := a.Bin(asm.Add, base, a.Bin(asm.Mul, idx, a.ConstUSize(size)))
		return a.PtrCast(a.Ptr(f.types.Type(proj.Ty)), addr)
	}
	fault.Unimplemented("place projection %d", proj.Kind)
	return 0
}

// placeLoad loads the value stored at p.
func (f *fnCtx) placeLoad(p mir.Place) asm.NodeIdx {
	a := f.a
	ty := f.placeTy(p)
	if f.types.IsZST(ty) {
		return 0
	}
	if len(p.Proj) == 0 {
		s := f.slots[p.Local]
		if s.kind == slotArg {
			return a.LdArg(s.idx)
		}
		return a.LdLoc(s.idx)
	}
	proj := p.Proj[len(p.Proj)-1]
	if proj.Kind == mir.Field {
		parent := f.parent(p)
		return a.AllocNode(asm.LdField{Addr: f.placeAddr(parent), Field: f.types.Field(f.placeTy(parent), proj.Field)})
	}
	return a.LdInd(f.placeAddr(p), f.types.Type(ty))
}

// placeSet stores v into p.
func (f *fnCtx) placeSet(p mir.Place, v asm.NodeIdx) asm.RootIdx {
	a := f.a
	ty := f.placeTy(p)
	if len(p.Proj) == 0 {
		s := f.slots[p.Local]
		switch s.kind {
		case slotLocal:
			return a.SetLoc(s.idx, v)
		case slotArg:
			return a.AllocRoot(asm.SetArg{Arg: s.idx, Val: v})
		}
		return a.AllocRoot(asm.Pop{Val: v})
	}
	proj := p.Proj[len(p.Proj)-1]
	if proj.Kind == mir.Field {
		parent := f.parent(p)
		return a.SetField(f.placeAddr(parent), f.types.Field(f.placeTy(parent), proj.Field), v)
	}
	return a.StInd(f.placeAddr(p), v, f.types.Type(ty))
}

// assign is the destination protocol shared by every lowered call and
// rvalue: store v into dst, or nothing when dst is zero-sized.
func (f *fnCtx) assign(dst mir.Place, v asm.NodeIdx) []asm.RootIdx {
	if v == 0 || f.types.IsZST(f.placeTy(dst)) {
		if v != 0 && hasEffects(f.a, v) {
			return []asm.RootIdx{f.a.AllocRoot(asm.Pop{Val: v})}
		}
		return nil
	}
	return []asm.RootIdx{f.placeSet(dst, v)}
}

func hasEffects(a *asm.Assembly, n asm.NodeIdx) bool {
	switch a.Node(n).(type) {
	case asm.Call, asm.CallI, asm.CallVirt, asm.NewObj, asm.TmpLocal:
		return true
	}
	return false
}

func (f *fnCtx) operandTy(op mir.Operand) *mir.Ty {
	switch op := op.(type) {
	case mir.Copy:
		return f.placeTy(op.Place)
	case mir.Move:
		return f.placeTy(op.Place)
	case mir.Const:
		return op.Ty
	}
	fault.Invariant("unknown operand %T", op)
	return nil
}

func (f *fnCtx) operand(op mir.Operand) asm.NodeIdx {
	switch op := op.(type) {
	case mir.Copy:
		return f.placeLoad(op.Place)
	case mir.Move:
		return f.placeLoad(op.Place)
	case mir.Const:
		return f.Const(op.Value, op.Ty)
	}
	fault.Invariant("unknown operand %T", op)
	return 0
}

// ============================================================
// Statements and rvalues
// ============================================================

func (f *fnCtx) stmt(st mir.Stmt) []asm.RootIdx {
	switch st := st.(type) {
	case mir.Assign:
		return f.assign(st.Place, f.rvalue(st.Rvalue, f.placeTy(st.Place)))
	case mir.StorageLive, mir.StorageDead, mir.Nop:
		return nil
	case mir.CopyNonOverlapping:
		ptrTy := f.operandTy(st.Src)
		return []asm.RootIdx{f.copyElems(f.operand(st.Dst), f.operand(st.Src), f.operand(st.Count), ptrTy.Elem)}
	}
	fault.Unimplemented("statement %T", st)
	return nil
}

func (f *fnCtx) rvalue(rv mir.Rvalue, dstTy *mir.Ty) asm.NodeIdx {
	a := f.a
	switch rv := rv.(type) {
	case mir.Use:
		return f.operand(rv.Op)
	case mir.BinaryOp:
		return f.binop(rv.Op, rv.A, rv.B)
	case mir.CheckedBinaryOp:
		ty := f.operandTy(rv.A)
		x, y := f.operand(rv.A), f.operand(rv.B)
		switch rv.Op {
		case mir.Add:
			return f.overflowPair(ty, ovfAdd, x, y)
		case mir.Sub:
			return f.overflowPair(ty, ovfSub, x, y)
		case mir.Mul:
			return f.overflowPair(ty, ovfMul, x, y)
		}
		fault.Unimplemented("checked binary op %d", rv.Op)
	case mir.UnaryOp:
		x := f.operand(rv.A)
		ty := f.operandTy(rv.A)
		if rv.Op == mir.Neg {
			return a.Un(asm.Neg, x)
		}
		if ty.Kind == mir.Bool {
			return a.Not(x)
		}
		return a.Un(asm.Not, x)
	case mir.Cast:
		return f.cast(rv.Kind, rv.Op, rv.Ty)
	case mir.AddressOf:
		return f.addressOf(rv.Place, rv.Ty)
	case mir.Aggregate:
		return f.aggregate(rv)
	}
	fault.Unimplemented("rvalue %T", rv)
	return 0
}

func (f *fnCtx) binop(op mir.BinOp, x, y mir.Operand) asm.NodeIdx {
	a := f.a
	ty := f.operandTy(x)
	l, r := f.operand(x), f.operand(y)
	unsigned := ty.Kind == mir.Uint || ty.Kind == mir.Char || ty.IsPointer() || ty.Kind == mir.Bool
	float := ty.Kind == mir.Float
	pick := func(s, u asm.BinOpKind) asm.BinOpKind {
		if unsigned {
			return u
		}
		return s
	}
	switch op {
	case mir.Add:
		return a.Bin(asm.Add, l, r)
	case mir.Sub:
		return a.Bin(asm.Sub, l, r)
	case mir.Mul:
		return a.Bin(asm.Mul, l, r)
	case mir.Div:
		return a.Bin(pick(asm.Div, asm.DivUn), l, r)
	case mir.Rem:
		return a.Bin(pick(asm.Rem, asm.RemUn), l, r)
	case mir.BitAnd:
		return a.Bin(asm.And, l, r)
	case mir.BitOr:
		return a.Bin(asm.Or, l, r)
	case mir.BitXor:
		return a.Bin(asm.XOr, l, r)
	case mir.Shl:
		return a.Bin(asm.Shl, l, r)
	case mir.Shr:
		return a.Bin(pick(asm.Shr, asm.ShrUn), l, r)
	case mir.Eq:
		return a.Bin(asm.Eq, l, r)
	case mir.Ne:
		return a.Not(a.Bin(asm.Eq, l, r))
	case mir.Lt:
		return a.Bin(pick(asm.Lt, asm.LtUn), l, r)
	case mir.Gt:
		return a.Bin(pick(asm.Gt, asm.GtUn), l, r)
	case mir.Le:
		// For floats, !(a >un b) is false whenever either side is NaN.
		if float {
			return a.Not(a.Bin(asm.GtUn, l, r))
		}
		return a.Not(a.Bin(pick(asm.Gt, asm.GtUn), l, r))
	case mir.Ge:
		if float {
			return a.Not(a.Bin(asm.LtUn, l, r))
		}
		return a.Not(a.Bin(pick(asm.Lt, asm.LtUn), l, r))
	case mir.Offset:
		return f.ptrOffset(l, r, ty, true)
	}
	fault.Unimplemented("binary op %d", op)
	return 0
}

// ptrOffset computes ptr + count*sizeof(*ptr) for a pointer of type
// ptrTy. signed selects how count is widened to the native pointer-sized
// integer.
func (f *fnCtx) ptrOffset(ptr, count asm.NodeIdx, ptrTy *mir.Ty, signed bool) asm.NodeIdx {
	a := f.a
	size := f.types.Layout(ptrTy.Elem).Size
	ext := asm.ZeroExtend
	target := asm.USize
	if signed {
		ext = asm.SignExtend
		target = asm.ISize
	}
	delta := a.Bin(asm.Mul, a.IntCast(target, ext, count), a.ConstOf(target, size))
	sum := a.Bin(asm.Add, a.PtrCast(a.USize(), ptr), a.PtrCast(a.USize(), delta))
	return a.PtrCast(f.types.Type(ptrTy), sum)
}

func (f *fnCtx) cast(kind mir.CastKind, op mir.Operand, to *mir.Ty) asm.NodeIdx {
	a := f.a
	from := f.operandTy(op)
	v := f.operand(op)
	switch kind {
	case mir.IntToInt:
		ext := asm.ZeroExtend
		if from.IsSigned() {
			ext = asm.SignExtend
		}
		if to.Kind == mir.Bool {
			return a.Not(a.Bin(asm.Eq, v, a.ConstOf(IntOf(from), 0)))
		}
		return a.IntCast(IntOf(to), ext, v)
	case mir.IntToFloat:
		return a.AllocNode(asm.FloatCast{Target: FloatOf(to), Unsigned: !from.IsSigned(), Val: v})
	case mir.FloatToInt:
		return a.AllocNode(asm.FloatToInt{Target: IntOf(to), Val: v})
	case mir.FloatToFloat:
		return a.AllocNode(asm.FloatCast{Target: FloatOf(to), Val: v})
	case mir.PtrToPtr:
		switch {
		case from.IsFat() && !to.IsFat():
			data, _ := f.types.FatPtrFields(from)
			return a.PtrCast(f.types.Type(to), f.fieldOfValue(from, v, data))
		case from.IsFat() && to.IsFat():
			return f.transmute(v, from, to)
		}
		return a.PtrCast(f.types.Type(to), v)
	case mir.PtrToAddr:
		if from.IsFat() {
			data, _ := f.types.FatPtrFields(from)
			v = f.fieldOfValue(from, v, data)
		}
		return a.PtrCast(f.types.Type(to), v)
	case mir.AddrToPtr:
		return a.PtrCast(f.types.Type(to), v)
	case mir.Transmute:
		return f.transmute(v, from, to)
	}
	fault.Unimplemented("cast kind %d from %s to %s", kind, from, to)
	return 0
}

// fieldOfValue reads a field of a valuetype value that is not addressable,
// spilling it into a temporary first.
func (f *fnCtx) fieldOfValue(ty *mir.Ty, v asm.NodeIdx, field asm.FieldIdx) asm.NodeIdx {
	a := f.a
	tmpA := a.AllocNode(asm.LdTmpA{})
	return a.Tmp(f.types.Type(ty), a.AllocNode(asm.LdField{Addr: tmpA, Field: field}),
		a.AllocRoot(asm.SetTmp{Val: v}))
}

// transmute reinterprets the bits of v, of type from, as type to.
func (f *fnCtx) transmute(v asm.NodeIdx, from, to *mir.Ty) asm.NodeIdx {
	a := f.a
	if f.types.IsZST(to) {
		return 0
	}
	fs, ts := f.types.Layout(from).Size, f.types.Layout(to).Size
	if fs != ts {
		fault.Invariant("transmute between %s (%d bytes) and %s (%d bytes)", from, fs, to, ts)
	}
	src, dst := f.types.Type(from), f.types.Type(to)
	if src == dst {
		return v
	}
	final := a.LdInd(a.PtrCast(a.Ptr(dst), a.AllocNode(asm.LdTmpA{})), dst)
	return a.Tmp(src, final, a.AllocRoot(asm.SetTmp{Val: v}))
}

func (f *fnCtx) addressOf(p mir.Place, to *mir.Ty) asm.NodeIdx {
	a := f.a
	if to.IsFat() {
		// &*fat: re-borrowing through a fat pointer yields the same pointer.
		if n := len(p.Proj); n > 0 && p.Proj[n-1].Kind == mir.Deref {
			parent := f.parent(p)
			if f.placeTy(parent).IsFat() {
				return f.placeLoad(parent)
			}
		}
		fault.Unimplemented("address of unsized place as %s", to)
	}
	return a.PtrCast(f.types.Type(to), f.placeAddr(p))
}

func (f *fnCtx) aggregate(rv mir.Aggregate) asm.NodeIdx {
	a := f.a
	if f.types.IsZST(rv.Ty) {
		return 0
	}
	tpe := f.types.Type(rv.Ty)
	tmpA := a.AllocNode(asm.LdTmpA{})
	var init []asm.RootIdx
	switch rv.Kind {
	case mir.AggTuple, mir.AggAdt:
		fields := make([]int, len(rv.Ops))
		for i := range fields {
			fields[i] = i
		}
		if rv.Ty.Union {
			fault.Check(len(rv.Ops) == 1, "union aggregate with %d operands", len(rv.Ops))
			fields[0] = rv.Active
		}
		for i, op := range rv.Ops {
			fty := rv.Ty.Fields[fields[i]]
			if f.types.IsZST(fty) {
				continue
			}
			init = append(init, a.SetField(tmpA, f.types.Field(rv.Ty, fields[i]), f.operand(op)))
		}
	case mir.AggArray:
		elem := rv.Ty.Elem
		etpe := f.types.Type(elem)
		size := f.types.Layout(elem).Size
		for i, op := range rv.Ops {
			addr := a.Bin(asm.Add, a.PtrCast(a.USize(), tmpA), a.ConstUSize(uint64(i)*size))
			init = append(init, a.StInd(a.PtrCast(a.Ptr(etpe), addr), f.operand(op), etpe))
		}
	default:
		fault.Unimplemented("aggregate kind %d", rv.Kind)
	}
	return a.Tmp(tpe, a.AllocNode(asm.LdTmp{}), init...)
}

// copyElems copies count elements of elem from src to dst.
func (f *fnCtx) copyElems(dst, src, count asm.NodeIdx, elem *mir.Ty) asm.RootIdx {
	a := f.a
	size := f.types.Layout(elem).Size
	n := a.Bin(asm.Mul, a.IntCast(asm.USize, asm.ZeroExtend, count), a.ConstUSize(size))
	return a.AllocRoot(asm.CpBlk{Dst: dst, Src: src, Len: n})
}

// ============================================================
// Terminators
// ============================================================

func (f *fnCtx) term(t mir.Terminator) []asm.RootIdx {
	a := f.a
	switch t := t.(type) {
	case mir.Goto:
		return []asm.RootIdx{a.Goto(uint32(t.Target))}
	case mir.SwitchInt:
		return f.switchInt(t)
	case mir.Return:
		if f.slots[0].kind == slotVoid {
			return []asm.RootIdx{a.AllocRoot(asm.VoidRet{})}
		}
		return []asm.RootIdx{a.AllocRoot(asm.Ret{Val: f.placeLoad(mir.LocalPlace(0))})}
	case mir.Unreachable:
		return []asm.RootIdx{a.ThrowMsg("entered unreachable code")}
	case mir.Call:
		roots := f.call(t)
		if t.Target != mir.NoBlock {
			roots = append(roots, a.Goto(uint32(t.Target)))
		}
		return roots
	case mir.Drop:
		return []asm.RootIdx{a.Goto(uint32(t.Target))}
	case mir.Assert:
		ok := a.Bin(asm.Eq, f.operand(t.Cond), a.ConstBool(t.Expected))
		return []asm.RootIdx{
			a.AllocRoot(asm.BranchCond{Target: uint32(t.Target), Cond: ok}),
			a.ThrowMsg(t.Msg),
		}
	case mir.UnwindResume:
		return []asm.RootIdx{a.AllocRoot(asm.ReThrow{})}
	case mir.Abort:
		return []asm.RootIdx{a.ThrowMsg(t.Msg)}
	}
	fault.Unimplemented("terminator %T", t)
	return nil
}

func (f *fnCtx) switchInt(t mir.SwitchInt) []asm.RootIdx {
	a := f.a
	ty := f.operandTy(t.Discr)
	d := f.operand(t.Discr)
	var roots []asm.RootIdx
	for i, v := range t.Values {
		var c asm.NodeIdx
		if ty.Kind == mir.Bool {
			c = a.ConstBool(!v.IsZero())
		} else {
			i := IntOf(ty)
			if i.Bits() == 128 {
				c = f.int128(i, v)
			} else {
				c = a.ConstOf(i, v.Lo)
			}
		}
		roots = append(roots, a.AllocRoot(asm.BranchCond{Target: uint32(t.Targets[i]), Cond: a.Bin(asm.Eq, d, c)}))
	}
	return append(roots, a.Goto(uint32(t.Otherwise)))
}

func (f *fnCtx) call(c mir.Call) []asm.RootIdx {
	a := f.a
	if c.Func.Intrinsic {
		return f.intrinsic(c)
	}
	var args []asm.NodeIdx
	for _, op := range c.Args {
		if n := f.operand(op); n != 0 {
			args = append(args, n)
		}
	}
	var node asm.NodeIdx
	if c.Func.Ptr != nil {
		node = a.AllocNode(asm.CallI{Sig: f.types.Sig(c.Func.Sig), Ptr: f.operand(c.Func.Ptr), Args: a.AllocNodes(args...)})
	} else {
		fault.Check(c.Func.Symbol != "", "%s: call without a callee", f.fn.Name)
		m := f.FuncRef(c.Func.Symbol, c.Func.Sig)
		if a.Type(a.Sig(a.Method(m).Sig).Output).Kind == asm.KVoid {
			return []asm.RootIdx{a.AllocRoot(asm.CallRoot{Method: m, Args: a.AllocNodes(args...)})}
		}
		node = a.AllocNode(asm.Call{Method: m, Args: a.AllocNodes(args...)})
	}
	if f.types.IsZST(f.placeTy(c.Dest)) {
		return []asm.RootIdx{a.AllocRoot(asm.Pop{Val: node})}
	}
	return f.assign(c.Dest, node)
}
