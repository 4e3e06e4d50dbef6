package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// Offsets of the size and alignment slots in a trait-object vtable.
const (
	vtableSizeOffset  = mir.PtrSize
	vtableAlignOffset = 2 * mir.PtrSize
)

// evalConst asks the frontend to evaluate the intrinsic and loads the
// resulting constant.
func evalConst(f *fnCtx, c *icall) []asm.RootIdx {
	v, ty, err := f.fe.EvalConst(mir.Query{Intrinsic: c.name, Generics: c.generics})
	if err != nil {
		fault.Unimplemented("evaluating %s: %v", c.name, err)
	}
	if ty == nil {
		ty = c.destTy(f)
	}
	return f.assign(c.dest, f.Const(v, ty))
}

func layoutConst(align bool) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		lay := f.types.Layout(c.generic(0))
		v := lay.Size
		if align {
			v = lay.Align
		}
		return f.assign(c.dest, f.a.ConstUSize(v))
	}
}

// vtableSlot loads the pointer-sized slot at off from the vtable vt.
func (f *fnCtx) vtableSlot(vt asm.NodeIdx, off uint64) asm.NodeIdx {
	a := f.a
	addr := a.Bin(asm.Add, a.PtrCast(a.USize(), vt), a.ConstUSize(off))
	return a.LdInd(a.PtrCast(a.Ptr(a.USize()), addr), a.USize())
}

func vtableField(off uint64) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		return f.assign(c.dest, f.vtableSlot(c.arg(f, 0), off))
	}
}

// ofVal lowers size_of_val and min_align_of_val. Sized pointees fold to
// constants; slices scale by their length; trait objects read the vtable.
func ofVal(align bool) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		a := f.a
		ptrTy := c.argTy(f, 0)
		elem := ptrTy.Elem
		if !elem.IsUnsized() {
			lay := f.types.Layout(elem)
			if align {
				return f.assign(c.dest, a.ConstUSize(lay.Align))
			}
			return f.assign(c.dest, a.ConstUSize(lay.Size))
		}
		_, metaField := f.types.FatPtrFields(ptrTy)
		meta := f.fieldOfValue(ptrTy, c.arg(f, 0), metaField)
		switch elem.Kind {
		case mir.Str:
			if align {
				return f.assign(c.dest, a.ConstUSize(1))
			}
			return f.assign(c.dest, meta)
		case mir.Slice:
			lay := f.types.Layout(elem.Elem)
			if align {
				return f.assign(c.dest, a.ConstUSize(lay.Align))
			}
			return f.assign(c.dest, a.Bin(asm.Mul, meta, a.ConstUSize(lay.Size)))
		}
		vt := a.PtrCast(a.VoidPtr(), meta)
		if align {
			return f.assign(c.dest, f.vtableSlot(vt, vtableAlignOffset))
		}
		return f.assign(c.dest, f.vtableSlot(vt, vtableSizeOffset))
	}
}

func init() {
	register(ConstFold, evalConst, "type_name", "type_id", "variant_count", "caller_location", "needs_drop")
	register(ConstFold, layoutConst(false), "size_of")
	register(ConstFold, layoutConst(true), "min_align_of", "align_of", "pref_align_of")
	register(DirectOp, ofVal(false), "size_of_val")
	register(DirectOp, ofVal(true), "min_align_of_val", "align_of_val")
	register(DirectOp, vtableField(vtableSizeOffset), "vtable_size")
	register(DirectOp, vtableField(vtableAlignOffset), "vtable_align")
}
