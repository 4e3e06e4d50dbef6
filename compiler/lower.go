package compiler

import (
	"go/constant"
	"go/token"
	"go/types"
	"slices"

	"github.com/cockroachdb/errors"
	"golang.org/x/tools/go/ssa"
	"lukechampine.com/uint128"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// funcLowerer translates one SSA function. Every SSA block gets a frontend
// IR block of the same index; calls and checks split blocks, and the
// continuations are appended after them.
type funcLowerer struct {
	c      *Compiler
	fn     *ssa.Function
	body   *mir.Body
	locals map[ssa.Value]int
	cur    int
}

func (c *Compiler) lowerFunc(fn *ssa.Function) (out *mir.Func, err error) {
	// Runs after Catch.
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "compiling %s", fn)
		}
	}()
	defer fault.Catch(&err)
	if len(fn.FreeVars) > 0 {
		fault.Unimplemented("%s: closures capturing variables", c.fset.Position(fn.Pos()))
	}
	sig := c.types.sig(fn.Signature)
	fl := &funcLowerer{
		c:      c,
		fn:     fn,
		body:   &mir.Body{ArgCount: len(fn.Params)},
		locals: make(map[ssa.Value]int),
	}
	fl.body.Locals = append(fl.body.Locals, mir.LocalDecl{Ty: sig.Output})
	for _, p := range fn.Params {
		fl.locals[p] = len(fl.body.Locals)
		fl.body.Locals = append(fl.body.Locals, mir.LocalDecl{Name: p.Name(), Ty: c.ty(p.Type())})
	}
	for range fn.Blocks {
		fl.body.Blocks = append(fl.body.Blocks, &mir.Block{})
	}

	name := symbol(fn)
	for _, b := range fn.Blocks {
		fl.cur = b.Index
		if b.Index == 0 && name == EntryName {
			fl.runInit()
		}
		for _, instr := range b.Instrs {
			fl.instr(instr)
		}
	}
	return &mir.Func{
		Name:   name,
		Sig:    sig,
		Body:   fl.body,
		Public: name == EntryName || token.IsExported(fn.Name()),
	}, nil
}

// runInit calls the package initializer ahead of the entry point.
func (fl *funcLowerer) runInit() {
	initFn := fl.c.pkg.Func("init")
	if initFn == nil || initFn.Blocks == nil {
		return
	}
	fl.call(mir.Callee{Symbol: symbol(initFn), Sig: fl.c.types.sig(initFn.Signature)}, nil, fl.temp(mir.UnitTy()))
}

func (fl *funcLowerer) pos(instr ssa.Instruction) token.Position {
	return fl.c.fset.Position(instr.Pos())
}

func (fl *funcLowerer) ty(t types.Type) *mir.Ty { return fl.c.ty(t) }

// ============================================================
// Locals, places and operands
// ============================================================

func (fl *funcLowerer) newLocal(name string, ty *mir.Ty) int {
	fl.body.Locals = append(fl.body.Locals, mir.LocalDecl{Name: name, Ty: ty})
	return len(fl.body.Locals) - 1
}

// local returns the local holding the SSA register v.
func (fl *funcLowerer) local(v ssa.Value) int {
	if l, ok := fl.locals[v]; ok {
		return l
	}
	l := fl.newLocal(v.Name(), fl.ty(v.Type()))
	fl.locals[v] = l
	return l
}

func (fl *funcLowerer) dest(v ssa.Value) mir.Place { return mir.LocalPlace(fl.local(v)) }

func (fl *funcLowerer) temp(ty *mir.Ty) mir.Place { return mir.LocalPlace(fl.newLocal("", ty)) }

func (fl *funcLowerer) operand(v ssa.Value) mir.Operand {
	switch v := v.(type) {
	case *ssa.Const:
		return fl.c.constant(v)
	case *ssa.Global:
		return mir.Const{Value: mir.ScalarPtr{Ptr: mir.Pointer{Alloc: fl.c.global(v)}}, Ty: fl.ty(v.Type())}
	case *ssa.Function:
		return mir.Const{Value: mir.ScalarPtr{Ptr: mir.Pointer{Alloc: fl.c.funcAddr(v)}}, Ty: fl.ty(v.Type())}
	case *ssa.Builtin:
		fault.Unimplemented("builtin %s used as a value", v.Name())
	}
	return mir.Copy{Place: fl.dest(v)}
}

// placeOf returns a local holding v, spilling constants into a temporary.
func (fl *funcLowerer) placeOf(v ssa.Value) int {
	op := fl.operand(v)
	if cp, ok := op.(mir.Copy); ok && len(cp.Place.Proj) == 0 {
		return cp.Place.Local
	}
	tmp := fl.temp(fl.ty(v.Type()))
	fl.assign(tmp, mir.Use{Op: op})
	return tmp.Local
}

func (fl *funcLowerer) placeTy(p mir.Place) *mir.Ty {
	if n := len(p.Proj); n > 0 {
		return p.Proj[n-1].Ty
	}
	return fl.body.Locals[p.Local].Ty
}

func (fl *funcLowerer) operandTy(op mir.Operand) *mir.Ty {
	switch op := op.(type) {
	case mir.Copy:
		return fl.placeTy(op.Place)
	case mir.Move:
		return fl.placeTy(op.Place)
	case mir.Const:
		return op.Ty
	}
	fault.Invariant("unknown operand %T", op)
	return nil
}

func deref(local int, elem *mir.Ty, proj ...mir.Projection) mir.Place {
	return mir.Place{Local: local, Proj: append([]mir.Projection{{Kind: mir.Deref, Ty: elem}}, proj...)}
}

func usize(v uint64) mir.Operand {
	return mir.Const{Value: mir.ScalarOf(v, mir.PtrSize), Ty: mir.UintTy(0)}
}

// ============================================================
// Emission
// ============================================================

func (fl *funcLowerer) block() *mir.Block { return fl.body.Blocks[fl.cur] }

func (fl *funcLowerer) newBlock() int {
	fl.body.Blocks = append(fl.body.Blocks, &mir.Block{})
	return len(fl.body.Blocks) - 1
}

func (fl *funcLowerer) assign(p mir.Place, rv mir.Rvalue) {
	blk := fl.block()
	blk.Stmts = append(blk.Stmts, mir.Assign{Place: p, Rvalue: rv})
}

func (fl *funcLowerer) terminate(t mir.Terminator) {
	blk := fl.block()
	fault.Check(blk.Term == nil, "%s: block %d terminated twice", fl.fn, fl.cur)
	blk.Term = t
}

// cast converts op to ty through a temporary.
func (fl *funcLowerer) cast(kind mir.CastKind, op mir.Operand, ty *mir.Ty) mir.Operand {
	tmp := fl.temp(ty)
	fl.assign(tmp, mir.Cast{Kind: kind, Op: op, Ty: ty})
	return mir.Copy{Place: tmp}
}

// call ends the current block with a call and continues in a fresh one.
func (fl *funcLowerer) call(callee mir.Callee, args []mir.Operand, dest mir.Place) {
	next := fl.newBlock()
	fl.terminate(mir.Call{Func: callee, Args: args, Dest: dest, Target: next, Unwind: mir.NoBlock})
	fl.cur = next
}

// intrinsic calls the intrinsic name, deriving its signature from the
// operands.
func (fl *funcLowerer) intrinsic(name string, generics []*mir.Ty, args []mir.Operand, dest mir.Place) {
	sig := &mir.FnSig{Output: fl.placeTy(dest)}
	for _, a := range args {
		sig.Inputs = append(sig.Inputs, fl.operandTy(a))
	}
	fl.call(mir.Callee{Symbol: name, Intrinsic: true, Generics: generics, Sig: sig}, args, dest)
}

// helper calls a runtime support function provided by the output's
// prelude.
func (fl *funcLowerer) helper(name string, sig *mir.FnSig, args ...mir.Operand) {
	fl.call(mir.Callee{Symbol: name, Sig: sig}, args, fl.temp(sig.Output))
}

// check branches to a fresh block when cond holds and fails with msg
// otherwise.
func (fl *funcLowerer) check(cond mir.Operand, msg string) {
	next := fl.newBlock()
	fl.terminate(mir.Assert{Cond: cond, Expected: true, Msg: msg, Target: next, Unwind: mir.NoBlock})
	fl.cur = next
}

// ============================================================
// Instructions
// ============================================================

func (fl *funcLowerer) instr(instr ssa.Instruction) {
	switch in := instr.(type) {
	case *ssa.DebugRef, *ssa.Phi:
		// Phis are assigned on the incoming edges.
	case *ssa.Alloc:
		fl.alloc(in)
	case *ssa.BinOp:
		fl.binOp(in)
	case *ssa.UnOp:
		fl.unOp(in)
	case *ssa.Convert:
		fl.convert(in)
	case *ssa.ChangeType:
		fl.assign(fl.dest(in), fl.retype(fl.operand(in.X), fl.ty(in.Type())))
	case *ssa.FieldAddr:
		st := fl.ty(in.X.Type()).Elem
		p := deref(fl.placeOf(in.X), st, mir.Projection{Kind: mir.Field, Field: in.Field, Ty: st.Fields[in.Field]})
		fl.assign(fl.dest(in), mir.AddressOf{Place: p, Ty: fl.ty(in.Type())})
	case *ssa.Field:
		st := fl.ty(in.X.Type())
		p := mir.Place{Local: fl.placeOf(in.X), Proj: []mir.Projection{{Kind: mir.Field, Field: in.Field, Ty: st.Fields[in.Field]}}}
		fl.assign(fl.dest(in), mir.Use{Op: mir.Copy{Place: p}})
	case *ssa.IndexAddr:
		fl.indexAddr(in)
	case *ssa.Index:
		arr := fl.ty(in.X.Type())
		if arr.Kind != mir.Array {
			fault.Unimplemented("%s: indexing %s", fl.pos(in), in.X.Type())
		}
		base := fl.placeOf(in.X)
		p := mir.Place{Local: base, Proj: []mir.Projection{fl.index(in.Index, arr)}}
		fl.assign(fl.dest(in), mir.Use{Op: mir.Copy{Place: p}})
	case *ssa.Store:
		elem := fl.ty(in.Addr.Type()).Elem
		fl.assign(deref(fl.placeOf(in.Addr), elem), mir.Use{Op: fl.operand(in.Val)})
	case *ssa.Extract:
		tuple := fl.ty(in.Tuple.Type())
		p := mir.Place{Local: fl.placeOf(in.Tuple), Proj: []mir.Projection{{Kind: mir.Field, Field: in.Index, Ty: tuple.Fields[in.Index]}}}
		fl.assign(fl.dest(in), mir.Use{Op: mir.Copy{Place: p}})
	case *ssa.Call:
		fl.callInstr(in)
	case *ssa.MakeInterface:
		if !onlyPanics(in) {
			fault.Unimplemented("%s: interface values", fl.pos(in))
		}
	case *ssa.If:
		b := in.Block()
		fl.terminate(mir.SwitchInt{
			Discr:     fl.operand(in.Cond),
			Values:    []uint128.Uint128{uint128.Zero},
			Targets:   []int{fl.edge(b, b.Succs[1])},
			Otherwise: fl.edge(b, b.Succs[0]),
		})
	case *ssa.Jump:
		b := in.Block()
		fl.terminate(mir.Goto{Target: fl.edge(b, b.Succs[0])})
	case *ssa.Return:
		fl.ret(in)
	case *ssa.Panic:
		fl.terminate(mir.Abort{Msg: panicMessage(in)})
	default:
		fault.Unimplemented("%s: unsupported instruction %T: %s", fl.pos(instr), instr, instr)
	}
}

// edge returns the block control enters when going from b to succ: succ
// itself, or a block assigning succ's phis first.
func (fl *funcLowerer) edge(b, succ *ssa.BasicBlock) int {
	var phis []*ssa.Phi
	for _, instr := range succ.Instrs {
		phi, ok := instr.(*ssa.Phi)
		if !ok {
			break
		}
		phis = append(phis, phi)
	}
	if len(phis) == 0 {
		return succ.Index
	}
	pred := slices.Index(succ.Preds, b)
	fault.Check(pred >= 0, "%s: block %d is not a predecessor of %d", fl.fn, b.Index, succ.Index)

	saved := fl.cur
	fl.cur = fl.newBlock()
	defer func() { fl.cur = saved }()
	blk := fl.cur

	// Phis read their inputs in parallel; go through temporaries when one
	// phi may read another.
	if len(phis) == 1 {
		fl.assign(fl.dest(phis[0]), mir.Use{Op: fl.operand(phis[0].Edges[pred])})
	} else {
		tmps := make([]mir.Place, len(phis))
		for i, phi := range phis {
			tmps[i] = fl.temp(fl.ty(phi.Type()))
			fl.assign(tmps[i], mir.Use{Op: fl.operand(phi.Edges[pred])})
		}
		for i, phi := range phis {
			fl.assign(fl.dest(phi), mir.Use{Op: mir.Copy{Place: tmps[i]}})
		}
	}
	fl.terminate(mir.Goto{Target: succ.Index})
	return blk
}

func (fl *funcLowerer) ret(in *ssa.Return) {
	ret := mir.LocalPlace(0)
	switch len(in.Results) {
	case 0:
	case 1:
		fl.assign(ret, mir.Use{Op: fl.operand(in.Results[0])})
	default:
		ops := make([]mir.Operand, len(in.Results))
		for i, r := range in.Results {
			ops[i] = fl.operand(r)
		}
		fl.assign(ret, mir.Aggregate{Kind: mir.AggTuple, Ty: fl.placeTy(ret), Ops: ops})
	}
	fl.terminate(mir.Return{})
}

// alloc zero-initializes a stack slot, or a heap cell when the variable
// escapes.
func (fl *funcLowerer) alloc(in *ssa.Alloc) {
	ptrTy := fl.ty(in.Type())
	elem := ptrTy.Elem
	dest := fl.dest(in)
	if in.Heap {
		raw := fl.temp(mir.PtrTo(mir.UintTy(8)))
		size := fl.c.env.LayoutOf(elem).Size
		fl.call(mir.Callee{Symbol: "go_new", Sig: newSig}, []mir.Operand{usize(size)}, raw)
		fl.assign(dest, mir.Cast{Kind: mir.PtrToPtr, Op: mir.Copy{Place: raw}, Ty: ptrTy})
		return
	}
	slot := fl.newLocal(in.Comment, elem)
	fl.assign(dest, mir.AddressOf{Place: mir.LocalPlace(slot), Ty: ptrTy})
	zero := mir.Const{Value: mir.ScalarOf(0, 1), Ty: mir.UintTy(8)}
	fl.intrinsic("write_bytes", []*mir.Ty{elem}, []mir.Operand{mir.Copy{Place: dest}, zero, usize(1)}, fl.temp(mir.UnitTy()))
}

var newSig = &mir.FnSig{Inputs: []*mir.Ty{mir.UintTy(0)}, Output: mir.PtrTo(mir.UintTy(8))}

var binOps = map[token.Token]mir.BinOp{
	token.ADD: mir.Add,
	token.SUB: mir.Sub,
	token.MUL: mir.Mul,
	token.QUO: mir.Div,
	token.REM: mir.Rem,
	token.AND: mir.BitAnd,
	token.OR:  mir.BitOr,
	token.XOR: mir.BitXor,
	token.SHL: mir.Shl,
	token.SHR: mir.Shr,
	token.EQL: mir.Eq,
	token.NEQ: mir.Ne,
	token.LSS: mir.Lt,
	token.LEQ: mir.Le,
	token.GTR: mir.Gt,
	token.GEQ: mir.Ge,
}

func (fl *funcLowerer) binOp(in *ssa.BinOp) {
	x, y := fl.operand(in.X), fl.operand(in.Y)
	switch xt := fl.operandTy(x); xt.Kind {
	case mir.Ref, mir.Adt, mir.Tuple, mir.Array:
		fault.Unimplemented("%s: %s on %s", fl.pos(in), in.Op, in.X.Type())
	}
	switch in.Op {
	case token.AND_NOT:
		inv := fl.temp(fl.operandTy(y))
		fl.assign(inv, mir.UnaryOp{Op: mir.Not, A: y})
		fl.assign(fl.dest(in), mir.BinaryOp{Op: mir.BitAnd, A: x, B: mir.Copy{Place: inv}})
		return
	case token.SHL, token.SHR:
		y = fl.cast(mir.IntToInt, y, mir.UintTy(32))
	}
	op, ok := binOps[in.Op]
	if !ok {
		fault.Unimplemented("%s: operator %s", fl.pos(in), in.Op)
	}
	fl.assign(fl.dest(in), mir.BinaryOp{Op: op, A: x, B: y})
}

func (fl *funcLowerer) unOp(in *ssa.UnOp) {
	x := fl.operand(in.X)
	switch in.Op {
	case token.NOT, token.XOR:
		fl.assign(fl.dest(in), mir.UnaryOp{Op: mir.Not, A: x})
	case token.SUB:
		fl.assign(fl.dest(in), mir.UnaryOp{Op: mir.Neg, A: x})
	case token.MUL:
		elem := fl.ty(in.X.Type()).Elem
		fl.assign(fl.dest(in), mir.Use{Op: mir.Copy{Place: deref(fl.placeOf(in.X), elem)}})
	default:
		fault.Unimplemented("%s: operator %s", fl.pos(in), in.Op)
	}
}

func (fl *funcLowerer) convert(in *ssa.Convert) {
	from, to := in.X.Type().Underlying(), in.Type().Underlying()
	fb, _ := from.(*types.Basic)
	tb, _ := to.(*types.Basic)
	kind := func() mir.CastKind {
		switch {
		case fb == nil && tb == nil:
		case fb != nil && fb.Kind() == types.UnsafePointer && tb != nil && tb.Kind() == types.Uintptr:
			return mir.PtrToAddr
		case fb != nil && fb.Kind() == types.Uintptr && tb != nil && tb.Kind() == types.UnsafePointer:
			return mir.AddrToPtr
		case fb == nil || tb == nil:
			// *T <-> unsafe.Pointer
			return mir.PtrToPtr
		case fb.Info()&types.IsString != 0 || tb.Info()&types.IsString != 0:
		case fb.Info()&types.IsInteger != 0 && tb.Info()&types.IsInteger != 0:
			return mir.IntToInt
		case fb.Info()&types.IsInteger != 0 && tb.Info()&types.IsFloat != 0:
			return mir.IntToFloat
		case fb.Info()&types.IsFloat != 0 && tb.Info()&types.IsInteger != 0:
			return mir.FloatToInt
		case fb.Info()&types.IsFloat != 0 && tb.Info()&types.IsFloat != 0:
			return mir.FloatToFloat
		}
		fault.Unimplemented("%s: conversion from %s to %s", fl.pos(in), in.X.Type(), in.Type())
		return 0
	}()
	fl.assign(fl.dest(in), mir.Cast{Kind: kind, Op: fl.operand(in.X), Ty: fl.ty(in.Type())})
}

// retype views op as ty, which has the same underlying Go type.
func (fl *funcLowerer) retype(op mir.Operand, ty *mir.Ty) mir.Rvalue {
	from := fl.operandTy(op)
	if from.Key() == ty.Key() {
		return mir.Use{Op: op}
	}
	if from.IsPointer() && ty.IsPointer() {
		return mir.Cast{Kind: mir.PtrToPtr, Op: op, Ty: ty}
	}
	return mir.Cast{Kind: mir.Transmute, Op: op, Ty: ty}
}

func (fl *funcLowerer) indexAddr(in *ssa.IndexAddr) {
	ptr := fl.ty(in.X.Type())
	if ptr.Kind != mir.RawPtr || ptr.Elem.Kind != mir.Array {
		fault.Unimplemented("%s: indexing %s", fl.pos(in), in.X.Type())
	}
	base := fl.placeOf(in.X)
	p := deref(base, ptr.Elem, fl.index(in.Index, ptr.Elem))
	fl.assign(fl.dest(in), mir.AddressOf{Place: p, Ty: fl.ty(in.Type())})
}

// index builds the projection selecting element idx of arr, checking the
// bounds of a non-constant index.
func (fl *funcLowerer) index(idx ssa.Value, arr *mir.Ty) mir.Projection {
	if k, ok := idx.(*ssa.Const); ok {
		v, _ := constant.Uint64Val(k.Value)
		return mir.Projection{Kind: mir.ConstIndex, Offset: v, Ty: arr.Elem}
	}
	i := fl.cast(mir.IntToInt, fl.operand(idx), mir.UintTy(0)).(mir.Copy).Place
	ok := fl.temp(mir.BoolTy())
	fl.assign(ok, mir.BinaryOp{Op: mir.Lt, A: mir.Copy{Place: i}, B: usize(arr.Len)})
	fl.check(mir.Copy{Place: ok}, "index out of range")
	return mir.Projection{Kind: mir.Index, Index: i.Local, Ty: arr.Elem}
}

// onlyPanics reports whether v only feeds panics, whose message is read
// from the constant directly.
func onlyPanics(v ssa.Value) bool {
	refs := v.Referrers()
	if refs == nil {
		return true
	}
	for _, r := range *refs {
		if _, ok := r.(*ssa.Panic); !ok {
			if _, ok := r.(*ssa.DebugRef); !ok {
				return false
			}
		}
	}
	return true
}

func panicMessage(in *ssa.Panic) string {
	if mi, ok := in.X.(*ssa.MakeInterface); ok {
		if k, ok := mi.X.(*ssa.Const); ok && k.Value != nil && k.Value.Kind() == constant.String {
			return "panic: " + constant.StringVal(k.Value)
		}
	}
	return "panic"
}
