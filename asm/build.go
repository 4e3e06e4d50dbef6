package asm

// Shorthands for interning common node and root shapes.

// NormalizeInt truncates bits to the width of i and sign-extends signed
// values to 64 bits, the canonical ConstInt encoding.
func NormalizeInt(i Int, bits uint64) uint64 {
	w := i.Bits()
	if w >= 64 {
		return bits
	}
	mask := uint64(1)<<w - 1
	bits &= mask
	if i.Signed() && bits&(1<<(w-1)) != 0 {
		bits |= ^mask
	}
	return bits
}

// ConstOf interns an integer literal of type i. Values wider than 64 bits
// must be built from halves by the caller.
func (a *Assembly) ConstOf(i Int, bits uint64) NodeIdx {
	return a.AllocNode(ConstInt{Int: i, Bits: NormalizeInt(i, bits)})
}

func (a *Assembly) ConstI32(v int32) NodeIdx { return a.ConstOf(I32, uint64(int64(v))) }
func (a *Assembly) ConstU32(v uint32) NodeIdx { return a.ConstOf(U32, uint64(v)) }
func (a *Assembly) ConstI64(v int64) NodeIdx { return a.ConstOf(I64, uint64(v)) }
func (a *Assembly) ConstU64(v uint64) NodeIdx { return a.ConstOf(U64, v) }
func (a *Assembly) ConstUSize(v uint64) NodeIdx { return a.ConstOf(USize, v) }
func (a *Assembly) ConstBool(v bool) NodeIdx { return a.AllocNode(ConstBool{Val: v}) }

func (a *Assembly) ConstF32(bits uint32) NodeIdx {
	return a.AllocNode(ConstFloat{Float: F32, Bits: uint64(bits)})
}

func (a *Assembly) ConstF64(bits uint64) NodeIdx {
	return a.AllocNode(ConstFloat{Float: F64, Bits: bits})
}

func (a *Assembly) LdLoc(loc uint32) NodeIdx { return a.AllocNode(LdLoc{Loc: loc}) }
func (a *Assembly) LdLocA(loc uint32) NodeIdx { return a.AllocNode(LdLocA{Loc: loc}) }
func (a *Assembly) LdArg(arg uint32) NodeIdx { return a.AllocNode(LdArg{Arg: arg}) }

func (a *Assembly) LdInd(addr NodeIdx, tpe TypeIdx) NodeIdx {
	return a.AllocNode(LdInd{Addr: addr, Type: tpe})
}

func (a *Assembly) Bin(op BinOpKind, x, y NodeIdx) NodeIdx {
	return a.AllocNode(BinOp{Op: op, A: x, B: y})
}

func (a *Assembly) Un(op UnOpKind, x NodeIdx) NodeIdx {
	return a.AllocNode(UnOp{Op: op, A: x})
}

// Not negates a boolean by comparing it with false.
func (a *Assembly) Not(cond NodeIdx) NodeIdx {
	return a.Bin(Eq, cond, a.ConstBool(false))
}

func (a *Assembly) IntCast(target Int, ext Extend, v NodeIdx) NodeIdx {
	return a.AllocNode(IntCast{Target: target, Extend: ext, Val: v})
}

func (a *Assembly) PtrCast(target TypeIdx, v NodeIdx) NodeIdx {
	return a.AllocNode(PtrCast{Target: target, Val: v})
}

func (a *Assembly) CallNode(m MethodIdx, args ...NodeIdx) NodeIdx {
	return a.AllocNode(Call{Method: m, Args: a.AllocNodes(args...)})
}

func (a *Assembly) CallRoot(m MethodIdx, args ...NodeIdx) RootIdx {
	return a.AllocRoot(CallRoot{Method: m, Args: a.AllocNodes(args...)})
}

func (a *Assembly) Select(tpe TypeIdx, t, f, cond NodeIdx) NodeIdx {
	return a.AllocNode(Select{Type: tpe, True: t, False: f, Cond: cond})
}

// Tmp interns a temporary-local node.
func (a *Assembly) Tmp(tpe TypeIdx, final NodeIdx, init ...RootIdx) NodeIdx {
	return a.AllocNode(TmpLocal{Type: tpe, Init: a.AllocRoots(init...), Final: final})
}

func (a *Assembly) SetLoc(loc uint32, v NodeIdx) RootIdx {
	return a.AllocRoot(SetLoc{Loc: loc, Val: v})
}

func (a *Assembly) StInd(addr, v NodeIdx, tpe TypeIdx) RootIdx {
	return a.AllocRoot(StInd{Addr: addr, Val: v, Type: tpe})
}

func (a *Assembly) SetField(addr NodeIdx, field FieldIdx, v NodeIdx) RootIdx {
	return a.AllocRoot(SetField{Addr: addr, Field: field, Val: v})
}

func (a *Assembly) Goto(target uint32) RootIdx { return a.AllocRoot(Goto{Target: target}) }

func (a *Assembly) Nop() RootIdx { return a.AllocRoot(Nop{}) }

// ThrowMsg throws a runtime exception carrying msg.
func (a *Assembly) ThrowMsg(msg string) RootIdx {
	exc := a.NamedClass("System.Exception", "System.Runtime", false)
	ctor := a.AllocMethod(MethodRef{
		Class: exc,
		Name:  a.AllocString(".ctor"),
		Sig:   a.Signature(a.Void(), a.ClassTy(exc), a.ClassTy(a.NamedClass("System.String", "System.Runtime", false))),
		Kind:  Constructor,
	})
	obj := a.AllocNode(NewObj{Ctor: ctor, Args: a.AllocNodes(a.AllocNode(LdStr{Str: a.AllocString(msg)}))})
	return a.AllocRoot(Throw{Val: obj})
}
