package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

type ovfKind uint8

const (
	ovfAdd ovfKind = iota
	ovfSub
	ovfMul
)

func (k ovfKind) String() string {
	switch k {
	case ovfAdd:
		return "add"
	case ovfSub:
		return "sub"
	}
	return "mul"
}

// overflowPair builds the (wrapped result, overflowed) pair of an
// overflow-checked operation on integers of type ty.
func (f *fnCtx) overflowPair(ty *mir.Ty, kind ovfKind, x, y asm.NodeIdx) asm.NodeIdx {
	a := f.a
	pair := f.types.Pair(ty)
	tpe := f.types.Type(pair)
	tmpA := a.AllocNode(asm.LdTmpA{})
	wrapped := a.Bin(wrapOp(kind), x, y)
	return a.Tmp(tpe, a.AllocNode(asm.LdTmp{}),
		a.SetField(tmpA, f.types.Field(pair, 0), wrapped),
		a.SetField(tmpA, f.types.Field(pair, 1), f.overflowed(ty, kind, x, y, wrapped)),
	)
}

func wrapOp(kind ovfKind) asm.BinOpKind {
	switch kind {
	case ovfAdd:
		return asm.Add
	case ovfSub:
		return asm.Sub
	}
	return asm.Mul
}

// overflowed computes the overflow flag of x <kind> y == r.
func (f *fnCtx) overflowed(ty *mir.Ty, kind ovfKind, x, y, r asm.NodeIdx) asm.NodeIdx {
	a := f.a
	i := IntOf(ty)
	if i.Bits() == 128 || (kind == ovfMul && i.Bits() == 64) {
		t := a.IntTy(i)
		return f.helperCall(kind.String()+"_ovf_"+i.String(), a.Bool(), []asm.TypeIdx{t, t}, x, y)
	}
	zero := a.ConstOf(i, 0)
	switch {
	case kind == ovfAdd && !i.Signed():
		return a.Bin(asm.LtUn, r, x)
	case kind == ovfSub && !i.Signed():
		return a.Bin(asm.LtUn, x, y)
	case kind == ovfAdd:
		// Both operands share a sign the result lacks.
		return a.Bin(asm.Lt, a.Bin(asm.And, a.Bin(asm.XOr, x, r), a.Bin(asm.XOr, y, r)), zero)
	case kind == ovfSub:
		return a.Bin(asm.Lt, a.Bin(asm.And, a.Bin(asm.XOr, x, y), a.Bin(asm.XOr, x, r)), zero)
	}
	// Multiply in the double-width type and check that the product
	// survives a round trip through the narrow one.
	wide := asm.IntOfBits(i.Bits()*2, i.Signed())
	ext := asm.ZeroExtend
	if i.Signed() {
		ext = asm.SignExtend
	}
	prod := a.Bin(asm.Mul, a.IntCast(wide, ext, x), a.IntCast(wide, ext, y))
	round := a.IntCast(wide, ext, a.IntCast(i, ext, prod))
	return a.Not(a.Bin(asm.Eq, prod, round))
}

// intBinary lowers a two-operand intrinsic to op, picking the unsigned
// variant for unsigned operands.
func intBinary(signed, unsigned asm.BinOpKind) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		op := signed
		if ty := c.argTy(f, 0); !ty.IsSigned() && ty.Kind != mir.Float {
			op = unsigned
		}
		return f.assign(c.dest, f.a.Bin(op, c.arg(f, 0), c.arg(f, 1)))
	}
}

func withOverflow(kind ovfKind) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		return f.assign(c.dest, f.overflowPair(c.argTy(f, 0), kind, c.arg(f, 0), c.arg(f, 1)))
	}
}

// saturating lowers saturating_add and saturating_sub. Unsigned operands
// clamp inline; signed ones go through a helper.
func saturating(kind ovfKind) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		a := f.a
		ty := c.argTy(f, 0)
		i := IntOf(ty)
		x, y := c.arg(f, 0), c.arg(f, 1)
		t := a.IntTy(i)
		if i.Signed() || i.Bits() == 128 {
			return f.assign(c.dest, f.helperCall("saturating_"+kind.String()+"_"+i.String(), t, []asm.TypeIdx{t, t}, x, y))
		}
		if kind == ovfAdd {
			sum := a.Bin(asm.Add, x, y)
			max := a.Un(asm.Not, a.ConstOf(i, 0))
			return f.assign(c.dest, a.Select(t, max, sum, a.Bin(asm.LtUn, sum, x)))
		}
		return f.assign(c.dest, a.Select(t, a.ConstOf(i, 0), a.Bin(asm.Sub, x, y), a.Bin(asm.LtUn, x, y)))
	}
}

// carryingMulAdd computes a*b + carry + addend in the double-width type
// and splits it into the (low, high) result pair. The low half is always
// unsigned.
func carryingMulAdd(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	ty := c.argTy(f, 0)
	i := IntOf(ty)
	if i.Bits() >= 128 {
		fault.Unimplemented("carrying_mul_add on %s", i)
	}
	wide := asm.IntOfBits(i.Bits()*2, false)
	ext := asm.ZeroExtend
	if i.Signed() {
		ext = asm.SignExtend
	}
	w := func(n int) asm.NodeIdx { return a.IntCast(wide, ext, c.arg(f, n)) }
	var sum asm.NodeIdx
	if wide.Bits() == 128 {
		wt := a.IntTy(wide)
		mul := a.Helper("mul_"+wide.String(), wt, wt, wt)
		add := a.Helper("add_"+wide.String(), wt, wt, wt)
		sum = a.CallNode(add, a.CallNode(mul, w(0), w(1)), a.CallNode(add, w(2), w(3)))
	} else {
		sum = a.Bin(asm.Add, a.Bin(asm.Add, a.Bin(asm.Mul, w(0), w(1)), w(2)), w(3))
	}
	high := a.Bin(asm.ShrUn, sum, a.ConstI32(int32(i.Bits())))
	dst := c.destTy(f)
	hiTy := IntOf(dst.Fields[1])
	tmpA := a.AllocNode(asm.LdTmpA{})
	pair := a.Tmp(f.types.Type(dst), a.AllocNode(asm.LdTmp{}),
		a.SetField(tmpA, f.types.Field(dst, 0), a.IntCast(i.Unsigned(), asm.ZeroExtend, sum)),
		a.SetField(tmpA, f.types.Field(dst, 1), a.IntCast(hiTy, asm.ZeroExtend, high)),
	)
	return f.assign(c.dest, pair)
}

func floatToIntUnchecked(f *fnCtx, c *icall) []asm.RootIdx {
	to := c.destTy(f)
	return f.assign(c.dest, f.a.AllocNode(asm.FloatToInt{Target: IntOf(to), Val: c.arg(f, 0)}))
}

func init() {
	register(DirectOp, intBinary(asm.Add, asm.Add), "unchecked_add", "wrapping_add", "fadd_fast", "fadd_algebraic")
	register(DirectOp, intBinary(asm.Sub, asm.Sub), "unchecked_sub", "wrapping_sub", "fsub_fast", "fsub_algebraic")
	register(DirectOp, intBinary(asm.Mul, asm.Mul), "unchecked_mul", "wrapping_mul", "fmul_fast", "fmul_algebraic")
	register(DirectOp, intBinary(asm.Div, asm.DivUn), "unchecked_div", "exact_div", "fdiv_fast", "fdiv_algebraic")
	register(DirectOp, intBinary(asm.Rem, asm.RemUn), "unchecked_rem", "frem_fast", "frem_algebraic")
	register(DirectOp, intBinary(asm.Shl, asm.Shl), "unchecked_shl")
	register(DirectOp, intBinary(asm.Shr, asm.ShrUn), "unchecked_shr")
	register(DirectOp, withOverflow(ovfAdd), "add_with_overflow")
	register(DirectOp, withOverflow(ovfSub), "sub_with_overflow")
	register(DirectOp, withOverflow(ovfMul), "mul_with_overflow")
	register(DirectOp, saturating(ovfAdd), "saturating_add")
	register(DirectOp, saturating(ovfSub), "saturating_sub")
	register(DirectOp, carryingMulAdd, "carrying_mul_add")
	register(DirectOp, floatToIntUnchecked, "float_to_int_unchecked")
}
