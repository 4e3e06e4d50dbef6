package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// pointee returns the element type of the pointer argument i.
func (c *icall) pointee(f *fnCtx, i int) *mir.Ty {
	return c.argTy(f, i).Elem
}

// byteLen is count elements of elem, in bytes.
func (f *fnCtx) byteLen(count asm.NodeIdx, elem *mir.Ty) asm.NodeIdx {
	a := f.a
	size := f.types.Layout(elem).Size
	return a.Bin(asm.Mul, a.IntCast(asm.USize, asm.ZeroExtend, count), a.ConstUSize(size))
}

func volatileLoad(f *fnCtx, c *icall) []asm.RootIdx {
	tpe := f.types.Type(c.destTy(f))
	load := f.a.LdInd(f.a.PtrCast(f.a.Ptr(tpe), c.arg(f, 0)), tpe)
	return f.assign(c.dest, f.a.AllocNode(asm.VolatileNode{Val: load}))
}

func volatileStore(f *fnCtx, c *icall) []asm.RootIdx {
	ty := c.argTy(f, 1)
	if f.types.IsZST(ty) {
		return nil
	}
	tpe := f.types.Type(ty)
	st := f.a.StInd(f.a.PtrCast(f.a.Ptr(tpe), c.arg(f, 0)), c.arg(f, 1), tpe)
	return []asm.RootIdx{f.a.AllocRoot(asm.VolatileRoot{Root: st})}
}

// copyMemory copies count elements; src and dst may overlap.
// Its operands are (src, dst, count).
func copyMemory(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	vp := a.VoidPtr()
	u64 := a.IntTy(asm.U64)
	n := a.IntCast(asm.U64, asm.ZeroExtend, f.byteLen(c.arg(f, 2), c.pointee(f, 0)))
	buffer := a.NamedClass("System.Buffer", "System.Runtime", false)
	m := a.StaticMethod(buffer, "MemoryCopy", a.Signature(a.Void(), vp, vp, u64, u64))
	return []asm.RootIdx{a.CallRoot(m, a.PtrCast(vp, c.arg(f, 0)), a.PtrCast(vp, c.arg(f, 1)), n, n)}
}

func copyNonOverlapping(f *fnCtx, c *icall) []asm.RootIdx {
	return []asm.RootIdx{f.copyElems(c.arg(f, 1), c.arg(f, 0), c.arg(f, 2), c.pointee(f, 0))}
}

// volatileCopy has (dst, src, count) operands.
func volatileCopy(f *fnCtx, c *icall) []asm.RootIdx {
	cp := f.copyElems(c.arg(f, 0), c.arg(f, 1), c.arg(f, 2), c.pointee(f, 0))
	return []asm.RootIdx{f.a.AllocRoot(asm.VolatileRoot{Root: cp})}
}

func writeBytes(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	n := f.byteLen(c.arg(f, 2), c.pointee(f, 0))
	return []asm.RootIdx{a.AllocRoot(asm.InitBlk{Dst: c.arg(f, 0), Val: c.arg(f, 1), Count: n})}
}

func volatileSet(f *fnCtx, c *icall) []asm.RootIdx {
	roots := writeBytes(f, c)
	return []asm.RootIdx{f.a.AllocRoot(asm.VolatileRoot{Root: roots[0]})}
}

func (f *fnCtx) compareBytes(x, y, n asm.NodeIdx) asm.NodeIdx {
	a := f.a
	bp := a.Ptr(a.IntTy(asm.U8))
	return f.helperCall("compare_bytes", a.IntTy(asm.I32), []asm.TypeIdx{bp, bp, a.USize()},
		a.PtrCast(bp, x), a.PtrCast(bp, y), n)
}

func compareBytesIntrinsic(f *fnCtx, c *icall) []asm.RootIdx {
	return f.assign(c.dest, f.compareBytes(c.arg(f, 0), c.arg(f, 1), c.arg(f, 2)))
}

// rawEq compares two values bytewise.
func rawEq(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	size := f.types.Layout(c.pointee(f, 0)).Size
	if size == 0 {
		return f.assign(c.dest, a.ConstBool(true))
	}
	cmp := f.compareBytes(c.arg(f, 0), c.arg(f, 1), a.ConstUSize(size))
	return f.assign(c.dest, a.Bin(asm.Eq, cmp, a.ConstI32(0)))
}

func typedSwap(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	vp := a.VoidPtr()
	size := f.types.Layout(c.pointee(f, 0)).Size
	swap := a.Helper("swap_at_generic", a.Void(), vp, vp, a.USize())
	return []asm.RootIdx{a.CallRoot(swap, a.PtrCast(vp, c.arg(f, 0)), a.PtrCast(vp, c.arg(f, 1)), a.ConstUSize(size))}
}

func transmuteIntrinsic(f *fnCtx, c *icall) []asm.RootIdx {
	return f.assign(c.dest, f.transmute(c.arg(f, 0), c.argTy(f, 0), c.destTy(f)))
}

func init() {
	register(DirectOp, volatileLoad, "volatile_load", "unaligned_volatile_load")
	register(DirectOp, volatileStore, "volatile_store", "unaligned_volatile_store")
	register(LibraryCall, copyMemory, "copy")
	register(DirectOp, copyNonOverlapping, "copy_nonoverlapping")
	register(DirectOp, volatileCopy, "volatile_copy_memory", "volatile_copy_nonoverlapping_memory")
	register(DirectOp, writeBytes, "write_bytes")
	register(DirectOp, volatileSet, "volatile_set_memory")
	register(Helper, compareBytesIntrinsic, "compare_bytes")
	register(Helper, rawEq, "raw_eq")
	register(Helper, typedSwap, "typed_swap_nonoverlapping")
	register(DirectOp, transmuteIntrinsic, "transmute", "transmute_unchecked")
}
