package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

const interlocked = "System.Threading.Interlocked"

// atomicKind maps an atomic value type onto the integer type its helpers
// operate on. Pointers are handled as usize.
func (f *fnCtx) atomicKind(ty *mir.Ty) asm.Int {
	switch {
	case ty.IsInteger():
		return IntOf(ty)
	case ty.Kind == mir.Bool:
		return asm.U8
	case ty.IsPointer() && !ty.IsFat():
		return asm.USize
	}
	fault.Unimplemented("atomic operation on %s", ty)
	return 0
}

// asInt views v of type ty as the integer type i, and back.
func (f *fnCtx) asInt(ty *mir.Ty, i asm.Int, v asm.NodeIdx) asm.NodeIdx {
	if ty.IsPointer() {
		return f.a.PtrCast(f.a.IntTy(i), v)
	}
	return v
}

func (f *fnCtx) fromInt(ty *mir.Ty, v asm.NodeIdx) asm.NodeIdx {
	if ty.IsPointer() {
		return f.a.PtrCast(f.types.Type(ty), v)
	}
	return v
}

func atomicLoad(f *fnCtx, c *icall) []asm.RootIdx {
	ty := c.destTy(f)
	tpe := f.types.Type(ty)
	load := f.a.LdInd(f.a.PtrCast(f.a.Ptr(tpe), c.arg(f, 0)), tpe)
	return f.assign(c.dest, f.a.AllocNode(asm.VolatileNode{Val: load}))
}

func atomicStore(f *fnCtx, c *icall) []asm.RootIdx {
	ty := c.argTy(f, 1)
	tpe := f.types.Type(ty)
	st := f.a.StInd(f.a.PtrCast(f.a.Ptr(tpe), c.arg(f, 0)), c.arg(f, 1), tpe)
	return []asm.RootIdx{f.a.AllocRoot(asm.VolatileRoot{Root: st})}
}

func fence(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	thread := a.NamedClass("System.Threading.Thread", "System.Runtime", false)
	return []asm.RootIdx{a.CallRoot(a.StaticMethod(thread, "MemoryBarrier", a.Signature(a.Void())))}
}

// compareExchange returns the previous value at addr after atomically
// replacing it with val when it equals expected.
func (f *fnCtx) compareExchange(addr, val, expected asm.NodeIdx, i asm.Int) asm.NodeIdx {
	a := f.a
	t := a.IntTy(i)
	if i.Bits() == 32 || i.Bits() == 64 {
		return f.libCall(interlocked, "CompareExchange", t, []asm.TypeIdx{a.Ref(t), t, t},
			a.PtrCast(a.Ref(t), addr), val, expected)
	}
	return f.helperCall("atomic_cmpxchg_"+i.String(), t, []asm.TypeIdx{a.Ptr(t), t, t},
		a.PtrCast(a.Ptr(t), addr), val, expected)
}

// cxchg lowers compare-exchange into the (previous, succeeded) pair.
func cxchg(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	ty := c.argTy(f, 1)
	i := f.atomicKind(ty)
	expected := f.asInt(ty, i, c.arg(f, 1))
	prev := f.compareExchange(c.arg(f, 0), f.asInt(ty, i, c.arg(f, 2)), expected, i)

	pair := c.destTy(f)
	tmpA := a.AllocNode(asm.LdTmpA{})
	item1 := f.types.Field(pair, 0)
	stored := a.AllocNode(asm.LdField{Addr: tmpA, Field: item1})
	res := a.Tmp(f.types.Type(pair), a.AllocNode(asm.LdTmp{}),
		a.SetField(tmpA, item1, f.fromInt(ty, prev)),
		a.SetField(tmpA, f.types.Field(pair, 1), a.Bin(asm.Eq, f.asInt(ty, i, stored), expected)),
	)
	return f.assign(c.dest, res)
}

// rmw lowers a read-modify-write atomic yielding the previous value.
// Operations the runtime provides natively for 32 and 64-bit integers call
// Interlocked; the rest call an atomic_<op>_<type> helper.
func rmw(op string) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		ty := c.argTy(f, 1)
		i := f.atomicKind(ty)
		prev := f.atomicRMW(op, c.arg(f, 0), f.asInt(ty, i, c.arg(f, 1)), i)
		return f.assign(c.dest, f.fromInt(ty, prev))
	}
}

func (f *fnCtx) atomicRMW(op string, addr, val asm.NodeIdx, i asm.Int) asm.NodeIdx {
	a := f.a
	t := a.IntTy(i)
	native := i.Bits() == 32 || i.Bits() == 64
	ref := a.PtrCast(a.Ref(t), addr)
	switch {
	case native && op == "add":
		// Interlocked.Add yields the new value.
		sum := f.libCall(interlocked, "Add", t, []asm.TypeIdx{a.Ref(t), t}, ref, val)
		return a.Bin(asm.Sub, sum, val)
	case native && op == "xchg":
		return f.libCall(interlocked, "Exchange", t, []asm.TypeIdx{a.Ref(t), t}, ref, val)
	case native && (op == "and" || op == "or"):
		method := "And"
		if op == "or" {
			method = "Or"
		}
		return f.libCall(interlocked, method, t, []asm.TypeIdx{a.Ref(t), t}, ref, val)
	}
	return f.helperCall("atomic_"+op+"_"+i.String(), t, []asm.TypeIdx{a.Ptr(t), t}, a.PtrCast(a.Ptr(t), addr), val)
}

// xsub negates the operand and adds. Unsigned operands are negated in
// their signed counterpart.
func xsub(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	ty := c.argTy(f, 1)
	i := f.atomicKind(ty)
	v := f.asInt(ty, i, c.arg(f, 1))
	var neg asm.NodeIdx
	if i.Signed() {
		neg = a.Un(asm.Neg, v)
	} else {
		neg = a.IntCast(i, asm.ZeroExtend, a.Un(asm.Neg, a.IntCast(i.AsSigned(), asm.ZeroExtend, v)))
	}
	prev := f.atomicRMW("add", c.arg(f, 0), neg, i)
	return f.assign(c.dest, f.fromInt(ty, prev))
}

func init() {
	register(DirectOp, atomicLoad, withOrderings("atomic_load", false)...)
	register(DirectOp, atomicStore, withOrderings("atomic_store", false)...)
	register(LibraryCall, fence, withOrderings("atomic_fence", false)...)
	register(LibraryCall, fence, withOrderings("atomic_singlethreadfence", false)...)
	register(LibraryCall, cxchg, withOrderings("atomic_cxchg", true)...)
	register(LibraryCall, cxchg, withOrderings("atomic_cxchgweak", true)...)
	register(LibraryCall, rmw("add"), withOrderings("atomic_xadd", false)...)
	registerFlagged(LibraryCall, xsub, withOrderings("atomic_xsub", false)...)
	register(LibraryCall, rmw("xchg"), withOrderings("atomic_xchg", false)...)
	register(LibraryCall, rmw("and"), withOrderings("atomic_and", false)...)
	register(LibraryCall, rmw("or"), withOrderings("atomic_or", false)...)
	register(Helper, rmw("xor"), withOrderings("atomic_xor", false)...)
	register(Helper, rmw("nand"), withOrderings("atomic_nand", false)...)
	register(Helper, rmw("min"), withOrderings("atomic_min", false)...)
	register(Helper, rmw("max"), withOrderings("atomic_max", false)...)
	register(Helper, rmw("umin"), withOrderings("atomic_umin", false)...)
	register(Helper, rmw("umax"), withOrderings("atomic_umax", false)...)
}
