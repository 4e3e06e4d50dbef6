package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
)

func offset(f *fnCtx, c *icall) []asm.RootIdx {
	ptrTy := c.argTy(f, 0)
	signed := c.argTy(f, 1).IsSigned()
	return f.assign(c.dest, f.ptrOffset(c.arg(f, 0), c.arg(f, 1), ptrTy, signed))
}

// ptrMask clears address bits not set in mask.
func ptrMask(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	masked := a.Bin(asm.And, a.PtrCast(a.USize(), c.arg(f, 0)), c.arg(f, 1))
	return f.assign(c.dest, a.PtrCast(f.types.Type(c.destTy(f)), masked))
}

// ptrOffsetFrom is the distance between two pointers in elements.
func ptrOffsetFrom(unsigned bool) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		a := f.a
		size := f.types.Layout(c.pointee(f, 0)).Size
		if size == 0 {
			size = 1
		}
		target, div := asm.ISize, asm.Div
		if unsigned {
			target, div = asm.USize, asm.DivUn
		}
		t := a.IntTy(target)
		diff := a.Bin(asm.Sub, a.PtrCast(t, c.arg(f, 0)), a.PtrCast(t, c.arg(f, 1)))
		return f.assign(c.dest, a.Bin(div, diff, a.ConstOf(target, size)))
	}
}

func init() {
	register(DirectOp, offset, "offset", "arith_offset")
	registerFlagged(DirectOp, ptrMask, "ptr_mask")
	register(DirectOp, ptrOffsetFrom(false), "ptr_offset_from")
	register(DirectOp, ptrOffsetFrom(true), "ptr_offset_from_unsigned")
}
