package lower

import (
	"math"

	"github.com/x448/float16"
	"lukechampine.com/uint128"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// Language-runtime book-keeping statics that are flags rather than real
// memory.
const (
	allocErrorShouldPanic = "__rust_alloc_error_handler_should_panic"
	noAllocShimUnstable   = "__rust_no_alloc_shim_is_unstable"
)

// Const lowers a constant of type t to a node yielding a bit-identical
// value. Zero-sized constants lower to the zero (absent) node.
func (l *Lowerer) Const(c mir.ConstValue, t *mir.Ty) asm.NodeIdx {
	if l.types.IsZST(t) {
		return 0
	}
	switch c := c.(type) {
	case mir.ZeroSized:
		return 0
	case mir.Scalar:
		return l.scalar(c, t)
	case mir.ScalarPtr:
		return l.pointer(c.Ptr, t)
	case mir.SliceConst:
		return l.sliceConst(c, t)
	case mir.Indirect:
		addr := l.allocAddr(c.Alloc, c.Offset)
		tpe := l.types.Type(t)
		return l.a.LdInd(l.a.PtrCast(l.a.Ptr(tpe), addr), tpe)
	}
	fault.Unimplemented("unhandled constant %T of type %s", c, t)
	return 0
}

func (l *Lowerer) scalar(c mir.Scalar, t *mir.Ty) asm.NodeIdx {
	a := l.a
	switch t.Kind {
	case mir.Bool:
		return a.ConstBool(!c.Bits.IsZero())
	case mir.Char, mir.Int, mir.Uint:
		i := IntOf(t)
		if i.Bits() == 128 {
			return l.int128(i, c.Bits)
		}
		return a.ConstOf(i, c.Bits.Lo)
	case mir.Float:
		return l.float(FloatOf(t), c.Bits)
	case mir.RawPtr, mir.Ref, mir.FnPtr:
		if t.IsFat() {
			return l.bitsAsValue(c, t)
		}
		return a.PtrCast(l.types.Type(t), a.ConstUSize(c.Bits.Lo))
	case mir.Adt, mir.Tuple, mir.Array, mir.Simd:
		return l.bitsAsValue(c, t)
	}
	fault.Unimplemented("unhandled constant scalar of type %s", t)
	return 0
}

// int128 builds a 128-bit integer from its halves through the target's
// Int128/UInt128 constructor.
func (l *Lowerer) int128(i asm.Int, v uint128.Uint128) asm.NodeIdx {
	a := l.a
	tpe := a.IntTy(i)
	ctor := l.int128Ctor(i)
	init := a.CallRoot(ctor, a.AllocNode(asm.LdTmpA{}), a.ConstU64(v.Hi), a.ConstU64(v.Lo))
	return a.Tmp(tpe, a.AllocNode(asm.LdTmp{}), init)
}

func (l *Lowerer) int128Ctor(i asm.Int) asm.MethodIdx {
	a := l.a
	name := "System.UInt128"
	if i.Signed() {
		name = "System.Int128"
	}
	cls := a.NamedClass(name, "System.Runtime", true)
	u64 := a.IntTy(asm.U64)
	return a.AllocMethod(asm.MethodRef{
		Class: cls,
		Name:  a.AllocString(".ctor"),
		Sig:   a.Signature(a.Void(), a.Ref(a.IntTy(i)), u64, u64),
		Kind:  asm.Constructor,
	})
}

func (l *Lowerer) float(f asm.Float, bits uint128.Uint128) asm.NodeIdx {
	a := l.a
	switch f {
	case asm.F16:
		switch l.opts.Half {
		case HalfNative:
			return a.AllocNode(asm.ConstFloat{Float: asm.F16, Bits: bits.Lo & 0xffff})
		case HalfUnsupported:
			fault.Unimplemented("f16 constants on a target without half-float support")
		}
		wide := float16.Frombits(uint16(bits.Lo)).Float32()
		narrow := a.StaticMethod(
			a.NamedClass("System.Half", "System.Runtime", true),
			"op_Explicit",
			a.Signature(a.FloatTy(asm.F16), a.FloatTy(asm.F32)),
		)
		return a.CallNode(narrow, a.ConstF32(math.Float32bits(wide)))
	case asm.F32:
		return a.ConstF32(uint32(bits.Lo))
	case asm.F64:
		return a.ConstF64(bits.Lo)
	case asm.F128:
		i128 := a.IntTy(asm.I128)
		init := a.CallRoot(l.int128Ctor(asm.I128), a.AllocNode(asm.LdTmpA{}), a.ConstU64(bits.Hi), a.ConstU64(bits.Lo))
		f128 := a.FloatTy(asm.F128)
		final := a.LdInd(a.PtrCast(a.Ptr(f128), a.AllocNode(asm.LdTmpA{})), f128)
		return a.Tmp(i128, final, init)
	}
	fault.Unimplemented("float constant of type %s", f)
	return 0
}

// bitsAsValue materializes a small aggregate from its raw bits: the bits
// are placed in addressable storage and reinterpreted as t.
func (l *Lowerer) bitsAsValue(c mir.Scalar, t *mir.Ty) asm.NodeIdx {
	a := l.a
	tpe := l.types.Type(t)
	ptr := a.AllocNode(asm.ConstValuePtr{Hi: c.Bits.Hi, Lo: c.Bits.Lo})
	return a.LdInd(a.PtrCast(a.Ptr(tpe), ptr), tpe)
}

func (l *Lowerer) sliceConst(c mir.SliceConst, t *mir.Ty) asm.NodeIdx {
	a := l.a
	fault.Check(t.IsFat(), "slice constant of non fat-pointer type %s", t)
	tpe := l.types.Type(t)
	data, meta := l.types.FatPtrFields(t)
	tmpA := a.AllocNode(asm.LdTmpA{})
	ptr := a.PtrCast(a.Field(data).Type, l.allocAddr(c.Data, 0))
	return a.Tmp(tpe, a.AllocNode(asm.LdTmp{}),
		a.SetField(tmpA, meta, a.ConstUSize(c.Meta)),
		a.SetField(tmpA, data, ptr),
	)
}

// pointer resolves a pointer constant through the allocation graph and
// casts it to t.
func (l *Lowerer) pointer(p mir.Pointer, t *mir.Ty) asm.NodeIdx {
	a := l.a
	g, ok := l.fe.GlobalAlloc(p.Alloc)
	fault.Check(ok, "pointer into unknown allocation %d", p.Alloc)
	var addr asm.NodeIdx
	switch g := g.(type) {
	case mir.Memory:
		addr = l.allocAddr(p.Alloc, p.Offset)
	case mir.StaticItem:
		addr = l.staticAddr(p.Alloc, t)
		addr = l.offset(addr, p.Offset)
	case mir.Function:
		fault.Check(p.Offset == 0, "offset pointer to function %s", g.Symbol)
		addr = a.AllocNode(asm.LdFtn{Method: l.FuncRef(g.Symbol, g.Sig)})
	default:
		fault.Unimplemented("pointer to %T", g)
	}
	if t.IsFat() {
		fault.Unimplemented("thin pointer constant of fat type %s", t)
	}
	return a.PtrCast(l.types.Type(t), addr)
}

func (l *Lowerer) offset(addr asm.NodeIdx, off uint64) asm.NodeIdx {
	if off == 0 {
		return addr
	}
	a := l.a
	return a.Bin(asm.Add, a.PtrCast(a.USize(), addr), a.ConstUSize(off))
}

// allocAddr registers memory allocation id and returns its address plus
// off.
func (l *Lowerer) allocAddr(id mir.AllocID, off uint64) asm.NodeIdx {
	l.registerMemory(id)
	return l.offset(l.a.AllocNode(asm.GlobalAllocPtr{Alloc: asm.AllocID(id)}), off)
}

func (l *Lowerer) registerMemory(id mir.AllocID) {
	if l.a.Alloc(asm.AllocID(id)) != nil {
		return
	}
	g, ok := l.fe.GlobalAlloc(id)
	fault.Check(ok, "unknown allocation %d", id)
	mem, ok := g.(mir.Memory)
	if !ok {
		fault.Unimplemented("allocation %d is a %T, not memory", id, g)
	}
	data := &asm.AllocData{ID: asm.AllocID(id), Bytes: mem.Bytes, Align: mem.Align}
	l.a.AddAlloc(data)
	for _, prov := range mem.Ptrs {
		target, ok := l.fe.GlobalAlloc(prov.Ptr.Alloc)
		fault.Check(ok, "allocation %d points into unknown allocation %d", id, prov.Ptr.Alloc)
		if _, isMem := target.(mir.Memory); !isMem {
			fault.Unimplemented("pointer to %T inside constant memory", target)
		}
		l.registerMemory(prov.Ptr.Alloc)
		data.Relocs = append(data.Relocs, asm.Reloc{
			Offset: prov.Offset,
			Target: asm.AllocID(prov.Ptr.Alloc),
			Addend: prov.Ptr.Offset,
		})
	}
}

// staticAddr returns the address of the static item id. t is the type of
// the pointer being built, or nil when the static is only registered.
func (l *Lowerer) staticAddr(id mir.AllocID, t *mir.Ty) asm.NodeIdx {
	a := l.a
	g, ok := l.fe.GlobalAlloc(id)
	fault.Check(ok, "unknown static %d", id)
	item, ok := g.(mir.StaticItem)
	fault.Check(ok, "allocation %d is not a static", id)

	switch item.Name {
	case allocErrorShouldPanic, noAllocShimUnstable:
		field := a.AllocStatic(asm.StaticFieldDesc{
			Owner: a.MainModule(),
			Name:  a.AllocString(item.Name),
			Type:  a.IntTy(asm.U8),
		})
		a.DefineStatic(&asm.StaticDef{Field: field})
		return a.AllocNode(asm.LdStaticA{Field: field})
	case "environ":
		ret := a.Ptr(a.Ptr(a.Ptr(a.IntTy(asm.U8))))
		return a.CallNode(a.Helper("get_environ", ret))
	}
	if item.LinkSection != "" {
		fault.Unimplemented("static %s in link section %q", item.Name, item.LinkSection)
	}
	if item.Import {
		ext, ok := LookupExtern(item.Name)
		if !ok {
			fault.Unimplemented("imported static %s", item.Name)
		}
		return l.externAddr(ext)
	}

	field := a.AllocStatic(asm.StaticFieldDesc{
		Owner:       a.MainModule(),
		Name:        a.AllocString(item.Name),
		Type:        l.types.Type(item.Ty),
		ThreadLocal: item.ThreadLocal,
	})
	def := &asm.StaticDef{Field: field}
	if item.Init != 0 {
		l.registerMemory(item.Init)
		def.Init = asm.AllocID(item.Init)
	}
	a.DefineStatic(def)
	return a.AllocNode(asm.LdStaticA{Field: field})
}
