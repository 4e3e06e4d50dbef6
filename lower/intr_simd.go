package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// Vector intrinsics call simd_* helpers on the main module; the exporter
// supplies their bodies.

// simdCall lowers an intrinsic to helper(args...) -> destination type.
func simdCall(helper string, arity int) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		ins := make([]asm.TypeIdx, arity)
		args := make([]asm.NodeIdx, arity)
		for i := range ins {
			ins[i] = f.types.Type(c.argTy(f, i))
			args[i] = c.arg(f, i)
		}
		return f.assign(c.dest, f.helperCall(helper, f.types.Type(c.destTy(f)), ins, args...))
	}
}

// simdNe is the complement of simd_eq.
func simdNe(f *fnCtx, c *icall) []asm.RootIdx {
	vec := f.types.Type(c.argTy(f, 0))
	res := f.types.Type(c.destTy(f))
	eq := f.helperCall("simd_eq", res, []asm.TypeIdx{vec, vec}, c.arg(f, 0), c.arg(f, 1))
	return f.assign(c.dest, f.helperCall("simd_ones_compliment", res, []asm.TypeIdx{res}, eq))
}

// simdReduce compares the vector against the all-ones mask.
func simdReduce(helper string) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		a := f.a
		vec := f.types.Type(c.argTy(f, 0))
		allset := f.helperCall("simd_allset", vec, nil)
		return f.assign(c.dest, f.helperCall(helper, a.Bool(), []asm.TypeIdx{vec, vec}, c.arg(f, 0), allset))
	}
}

// simdShuffle selects lanes of two vectors by a constant index vector.
// Shuffling a scalar with itself broadcasts it, which needs no index.
func simdShuffle(f *fnCtx, c *icall) []asm.RootIdx {
	xTy := c.argTy(f, 0)
	x, y := c.arg(f, 0), c.arg(f, 1)
	t := f.types.Type(xTy)
	res := f.types.Type(c.destTy(f))
	if x == y && (xTy.IsInteger() || xTy.Kind == mir.Float) {
		return f.assign(c.dest, f.helperCall("simd_vec_from_val", res, []asm.TypeIdx{t}, x))
	}
	idxTy := f.types.Type(c.argTy(f, 2))
	return f.assign(c.dest, f.helperCall("simd_shuffle", res, []asm.TypeIdx{t, t, idxTy}, x, y, c.arg(f, 2)))
}

func init() {
	register(Helper, simdCall("simd_eq", 2), "simd_eq")
	register(Helper, simdNe, "simd_ne")
	register(Helper, simdCall("simd_lt", 2), "simd_lt")
	register(Helper, simdCall("simd_gt", 2), "simd_gt")
	register(Helper, simdCall("simd_or", 2), "simd_or")
	register(Helper, simdCall("simd_and", 2), "simd_and")
	register(Helper, simdCall("simd_xor", 2), "simd_xor")
	register(Helper, simdCall("simd_add", 2), "simd_add")
	register(Helper, simdCall("simd_sub", 2), "simd_sub")
	register(Helper, simdCall("simd_mul", 2), "simd_mul")
	register(Helper, simdCall("simd_neg", 1), "simd_neg")
	register(Helper, simdCall("simd_abs", 1), "simd_fabs")
	register(Helper, simdCall("simd_get_most_significant_bits", 1), "simd_bitmask")
	register(Helper, simdCall("simd_select", 3), "simd_select")
	register(Helper, simdShuffle, "simd_shuffle")
	register(Helper, simdReduce("simd_eq_any"), "simd_reduce_any")
	register(Helper, simdReduce("simd_eq_all"), "simd_reduce_all")
	register(DirectOp, func(f *fnCtx, c *icall) []asm.RootIdx {
		tpe := f.types.Type(c.destTy(f))
		return f.assign(c.dest, f.a.Select(tpe, c.arg(f, 1), c.arg(f, 2), c.arg(f, 0)))
	}, "select_unpredictable")
}
