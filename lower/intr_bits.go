package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
)

const bitOpsClass = "System.Numerics.BitOperations"

// bitOp calls BitOperations.<method> on x widened to 32 or 64 bits and
// converts the i32 result to the destination integer type.
func (f *fnCtx) bitOp(c *icall, method string, widen func(i asm.Int, x asm.NodeIdx) asm.NodeIdx) []asm.RootIdx {
	a := f.a
	i := IntOf(c.argTy(f, 0))
	x := c.arg(f, 0)
	if i.Bits() == 128 {
		t := a.IntTy(i)
		return f.assign(c.dest, f.convertResult(c, f.helperCall(c.name+"_"+i.String(), t, []asm.TypeIdx{t}, x), i))
	}
	wide := asm.U32
	if i.Bits() == 64 {
		wide = asm.U64
	}
	arg := x
	if i != wide {
		arg = a.IntCast(wide, asm.ZeroExtend, x)
	}
	if widen != nil {
		arg = widen(i, arg)
	}
	res := f.libCall(bitOpsClass, method, a.IntTy(asm.I32), []asm.TypeIdx{a.IntTy(wide)}, arg)
	return f.assign(c.dest, f.convertResult(c, res, asm.I32))
}

// convertResult casts an integer result of type from to the destination
// type.
func (f *fnCtx) convertResult(c *icall, v asm.NodeIdx, from asm.Int) asm.NodeIdx {
	to := IntOf(c.destTy(f))
	if to == from {
		return v
	}
	return f.a.IntCast(to, asm.ZeroExtend, v)
}

func ctpop(f *fnCtx, c *icall) []asm.RootIdx {
	return f.bitOp(c, "PopCount", nil)
}

func ctlz(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	i := IntOf(c.argTy(f, 0))
	if i.Bits() >= 32 {
		return f.bitOp(c, "LeadingZeroCount", nil)
	}
	// Narrow values are counted in 32 bits; drop the padding zeros.
	res := f.libCall(bitOpsClass, "LeadingZeroCount", a.IntTy(asm.I32), []asm.TypeIdx{a.IntTy(asm.U32)},
		a.IntCast(asm.U32, asm.ZeroExtend, c.arg(f, 0)))
	res = a.Bin(asm.Sub, res, a.ConstI32(int32(32-i.Bits())))
	return f.assign(c.dest, f.convertResult(c, res, asm.I32))
}

func cttz(f *fnCtx, c *icall) []asm.RootIdx {
	return f.bitOp(c, "TrailingZeroCount", func(i asm.Int, x asm.NodeIdx) asm.NodeIdx {
		if i.Bits() >= 32 {
			return x
		}
		// A sentinel bit just above the value caps the count at its width.
		return f.a.Bin(asm.Or, x, f.a.ConstU32(1<<i.Bits()))
	})
}

func bswap(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	i := IntOf(c.argTy(f, 0))
	x := c.arg(f, 0)
	if i.Bits() == 8 {
		return f.assign(c.dest, x)
	}
	t := a.IntTy(i)
	return f.assign(c.dest, f.libCall("System.Buffers.Binary.BinaryPrimitives", "ReverseEndianness", t, []asm.TypeIdx{t}, x))
}

func bitreverse(f *fnCtx, c *icall) []asm.RootIdx {
	a := f.a
	i := IntOf(c.argTy(f, 0))
	t := a.IntTy(i)
	return f.assign(c.dest, f.helperCall("bitreverse_"+i.String(), t, []asm.TypeIdx{t}, c.arg(f, 0)))
}

func rotate(left bool) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		a := f.a
		i := IntOf(c.argTy(f, 0))
		x, n := c.arg(f, 0), c.arg(f, 1)
		method := "RotateRight"
		if left {
			method = "RotateLeft"
		}
		if i.Bits() == 32 || i.Bits() == 64 {
			u := i.Unsigned()
			shift := a.IntCast(asm.I32, asm.ZeroExtend, n)
			res := f.libCall(bitOpsClass, method, a.IntTy(u), []asm.TypeIdx{a.IntTy(u), a.IntTy(asm.I32)},
				a.IntCast(u, asm.ZeroExtend, x), shift)
			if u != i {
				res = a.IntCast(i, asm.ZeroExtend, res)
			}
			return f.assign(c.dest, res)
		}
		// (x << n) | (x >> (bits - n)), with n reduced modulo the width.
		u := i.Unsigned()
		ux := a.IntCast(u, asm.ZeroExtend, x)
		bits := a.ConstU32(uint32(i.Bits()))
		s := a.Bin(asm.RemUn, a.IntCast(asm.U32, asm.ZeroExtend, n), bits)
		back := a.Bin(asm.RemUn, a.Bin(asm.Sub, bits, s), bits)
		fwd, rev := asm.Shl, asm.ShrUn
		if !left {
			fwd, rev = asm.ShrUn, asm.Shl
		}
		res := a.Bin(asm.Or, a.Bin(fwd, ux, s), a.Bin(rev, ux, back))
		return f.assign(c.dest, a.IntCast(i, asm.ZeroExtend, res))
	}
}

func init() {
	register(LibraryCall, ctpop, "ctpop")
	register(LibraryCall, ctlz, "ctlz", "ctlz_nonzero")
	register(LibraryCall, cttz, "cttz", "cttz_nonzero")
	register(LibraryCall, bswap, "bswap")
	register(Helper, bitreverse, "bitreverse")
	register(LibraryCall, rotate(true), "rotate_left")
	register(LibraryCall, rotate(false), "rotate_right")
}
