package lower

import (
	"math"
	"math/bits"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// value is an integer held in the low bits of a uint64, truncated to the
// width of its type.
type value struct {
	ty   asm.Int
	bits uint64
}

func mask(i asm.Int) uint64 {
	if i.Bits() >= 64 {
		return math.MaxUint64
	}
	return 1<<i.Bits() - 1
}

func val(i asm.Int, b uint64) value { return value{ty: i, bits: b & mask(i)} }

func sext(v value) int64 {
	w := v.ty.Bits()
	if w >= 64 {
		return int64(v.bits)
	}
	return int64(v.bits<<(64-w)) >> (64 - w)
}

// evaluator interprets the integer subset of lowered trees. Runtime
// library calls are modeled by name, and mem backs the atomic ones.
type evaluator struct {
	t    *testing.T
	a    *asm.Assembly
	args []value
	mem  map[uint64]value
}

func (e *evaluator) eval(n asm.NodeIdx) value {
	e.t.Helper()
	switch n := e.a.Node(n).(type) {
	case asm.LdArg:
		require.Less(e.t, int(n.Arg), len(e.args))
		return e.args[n.Arg]
	case asm.ConstInt:
		return val(n.Int, n.Bits)
	case asm.ConstBool:
		if n.Val {
			return val(asm.U8, 1)
		}
		return val(asm.U8, 0)
	case asm.IntCast:
		v := e.eval(n.Val)
		if n.Extend == asm.SignExtend {
			return val(n.Target, uint64(sext(v)))
		}
		return val(n.Target, v.bits)
	case asm.PtrCast:
		return val(asm.USize, e.eval(n.Val).bits)
	case asm.UnOp:
		v := e.eval(n.A)
		if n.Op == asm.Neg {
			return val(v.ty, -v.bits)
		}
		return val(v.ty, ^v.bits)
	case asm.Select:
		if e.eval(n.Cond).bits != 0 {
			return e.eval(n.True)
		}
		return e.eval(n.False)
	case asm.BinOp:
		return e.binOp(n.Op, e.eval(n.A), e.eval(n.B))
	case asm.Call:
		var args []value
		for _, arg := range e.a.Nodes(n.Args) {
			args = append(args, e.eval(arg))
		}
		return e.call(e.a.String(e.a.Method(n.Method).Name), args)
	}
	e.t.Fatalf("cannot evaluate %T", e.a.Node(n))
	return value{}
}

func flag(b bool) value {
	if b {
		return val(asm.U8, 1)
	}
	return val(asm.U8, 0)
}

func (e *evaluator) binOp(op asm.BinOpKind, x, y value) value {
	e.t.Helper()
	switch op {
	case asm.Add:
		return val(x.ty, x.bits+y.bits)
	case asm.Sub:
		return val(x.ty, x.bits-y.bits)
	case asm.Mul:
		return val(x.ty, x.bits*y.bits)
	case asm.And:
		return val(x.ty, x.bits&y.bits)
	case asm.Or:
		return val(x.ty, x.bits|y.bits)
	case asm.XOr:
		return val(x.ty, x.bits^y.bits)
	case asm.RemUn:
		require.NotZero(e.t, y.bits, "remainder by zero")
		return val(x.ty, x.bits%y.bits)
	case asm.DivUn:
		require.NotZero(e.t, y.bits, "division by zero")
		return val(x.ty, x.bits/y.bits)
	case asm.Shl, asm.Shr, asm.ShrUn:
		// Shifting by the full width is undefined in the target.
		require.Less(e.t, y.bits, uint64(x.ty.Bits()), "shift of %s by %d", x.ty, y.bits)
		switch op {
		case asm.Shl:
			return val(x.ty, x.bits<<y.bits)
		case asm.Shr:
			return val(x.ty, uint64(sext(x)>>y.bits))
		}
		return val(x.ty, x.bits>>y.bits)
	case asm.Eq:
		return flag(x.bits == y.bits)
	case asm.Lt:
		return flag(sext(x) < sext(y))
	case asm.LtUn:
		return flag(x.bits < y.bits)
	case asm.Gt:
		return flag(sext(x) > sext(y))
	case asm.GtUn:
		return flag(x.bits > y.bits)
	}
	e.t.Fatalf("cannot evaluate %s", op)
	return value{}
}

func (e *evaluator) call(name string, args []value) value {
	e.t.Helper()
	wide := len(args) > 0 && args[0].ty.Bits() == 64
	switch {
	case name == "LeadingZeroCount" && wide:
		return val(asm.I32, uint64(bits.LeadingZeros64(args[0].bits)))
	case name == "LeadingZeroCount":
		return val(asm.I32, uint64(bits.LeadingZeros32(uint32(args[0].bits))))
	case name == "TrailingZeroCount" && wide:
		return val(asm.I32, uint64(bits.TrailingZeros64(args[0].bits)))
	case name == "TrailingZeroCount":
		return val(asm.I32, uint64(bits.TrailingZeros32(uint32(args[0].bits))))
	case name == "RotateLeft" || name == "RotateRight":
		k := int(int32(args[1].bits))
		if name == "RotateRight" {
			k = -k
		}
		if wide {
			return val(args[0].ty, bits.RotateLeft64(args[0].bits, k))
		}
		return val(args[0].ty, uint64(bits.RotateLeft32(uint32(args[0].bits), k)))
	case name == "Add" || strings.HasPrefix(name, "atomic_add_"):
		cell, ok := e.mem[args[0].bits]
		require.True(e.t, ok, "no cell at %#x", args[0].bits)
		next := val(cell.ty, cell.bits+args[1].bits)
		e.mem[args[0].bits] = next
		// Interlocked.Add yields the new value, the helper the old one.
		if name == "Add" {
			return next
		}
		return cell
	}
	e.t.Fatalf("no model for %s", name)
	return value{}
}

// evalIntrinsic lowers a single call to intrinsic and evaluates the value
// it stores into the return slot.
func evalIntrinsic(t *testing.T, intrinsic string, ret *mir.Ty, params []*mir.Ty, args []value, mem map[uint64]value) value {
	t.Helper()
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, intrinsicFn("f", intrinsic, ret, params...))
	set, ok := a.Root(def.Blocks[0].Roots[0]).(asm.SetLoc)
	require.True(t, ok, "got %T", a.Root(def.Blocks[0].Roots[0]))
	e := &evaluator{t: t, a: a, args: args, mem: mem}
	return e.eval(set.Val)
}

func TestBitCountBoundaries(t *testing.T) {
	u8, u16, u32, u64 := mir.UintTy(8), mir.UintTy(16), mir.UintTy(32), mir.UintTy(64)
	tests := []struct {
		intrinsic string
		ty        *mir.Ty
		in        value
		want      uint64
	}{
		{"ctlz", u8, val(asm.U8, 0), 8},
		{"ctlz", u8, val(asm.U8, 1), 7},
		{"ctlz", u8, val(asm.U8, 0x80), 0},
		{"ctlz", u8, val(asm.U8, 0xff), 0},
		{"ctlz", mir.IntTy(8), val(asm.I8, 0x80), 0},
		{"ctlz", u16, val(asm.U16, 0), 16},
		{"ctlz", u16, val(asm.U16, 0x00f0), 8},
		{"ctlz", u32, val(asm.U32, 0), 32},
		{"ctlz", u64, val(asm.U64, 1), 63},
		{"ctlz", u64, val(asm.U64, 0), 64},
		{"cttz", u8, val(asm.U8, 0), 8},
		{"cttz", u8, val(asm.U8, 0x80), 7},
		{"cttz", u8, val(asm.U8, 1), 0},
		{"cttz", mir.IntTy(8), val(asm.I8, 0), 8},
		{"cttz", u16, val(asm.U16, 0), 16},
		{"cttz", u16, val(asm.U16, 0x8000), 15},
		{"cttz", u32, val(asm.U32, 0), 32},
		{"cttz", u64, val(asm.U64, 0), 64},
	}
	for _, tt := range tests {
		got := evalIntrinsic(t, tt.intrinsic, u32, []*mir.Ty{tt.ty}, []value{tt.in}, nil)
		assert.Equal(t, val(asm.U32, tt.want), got, "%s::<%s>(%#x)", tt.intrinsic, tt.ty, tt.in.bits)
	}
}

func TestRotateBoundaries(t *testing.T) {
	u32 := mir.UintTy(32)
	tests := []struct {
		intrinsic string
		ty        *mir.Ty
		x         value
		n         uint64
		want      uint64
	}{
		{"rotate_left", mir.UintTy(8), val(asm.U8, 0x81), 0, 0x81},
		{"rotate_left", mir.UintTy(8), val(asm.U8, 0x81), 8, 0x81},
		{"rotate_left", mir.UintTy(8), val(asm.U8, 0x81), 1, 0x03},
		{"rotate_left", mir.UintTy(8), val(asm.U8, 0x81), 9, 0x03},
		{"rotate_right", mir.UintTy(8), val(asm.U8, 0x81), 1, 0xc0},
		{"rotate_right", mir.UintTy(16), val(asm.U16, 1), 0, 1},
		{"rotate_right", mir.UintTy(16), val(asm.U16, 1), 16, 1},
		{"rotate_right", mir.UintTy(16), val(asm.U16, 1), 1, 0x8000},
		{"rotate_left", mir.IntTy(8), val(asm.I8, 0x80), 1, 0x01},
		{"rotate_left", u32, val(asm.U32, 0x80000001), 0, 0x80000001},
		{"rotate_left", u32, val(asm.U32, 0x80000001), 32, 0x80000001},
		{"rotate_right", mir.UintTy(64), val(asm.U64, 1), 64, 1},
		{"rotate_right", mir.UintTy(64), val(asm.U64, 1), 1, 1 << 63},
	}
	for _, tt := range tests {
		got := evalIntrinsic(t, tt.intrinsic, tt.ty, []*mir.Ty{tt.ty, u32}, []value{tt.x, val(asm.U32, tt.n)}, nil)
		assert.Equal(t, val(tt.x.ty, tt.want), got, "%s::<%s>(%#x, %d)", tt.intrinsic, tt.ty, tt.x.bits, tt.n)
	}
}

func TestUnsignedSaturatingBoundaries(t *testing.T) {
	u8, u64 := mir.UintTy(8), mir.UintTy(64)
	tests := []struct {
		intrinsic string
		ty        *mir.Ty
		x, y      value
		want      uint64
	}{
		{"saturating_add", u8, val(asm.U8, 0), val(asm.U8, 0), 0},
		{"saturating_add", u8, val(asm.U8, 250), val(asm.U8, 5), 255},
		{"saturating_add", u8, val(asm.U8, 250), val(asm.U8, 10), 255},
		{"saturating_add", u8, val(asm.U8, 255), val(asm.U8, 255), 255},
		{"saturating_add", u64, val(asm.U64, math.MaxUint64), val(asm.U64, 1), math.MaxUint64},
		{"saturating_add", u64, val(asm.U64, 1), val(asm.U64, 2), 3},
		{"saturating_sub", u8, val(asm.U8, 0), val(asm.U8, 0), 0},
		{"saturating_sub", u8, val(asm.U8, 0), val(asm.U8, 1), 0},
		{"saturating_sub", u8, val(asm.U8, 5), val(asm.U8, 3), 2},
		{"saturating_sub", u8, val(asm.U8, 255), val(asm.U8, 255), 0},
		{"saturating_sub", u64, val(asm.U64, 0), val(asm.U64, math.MaxUint64), 0},
		{"saturating_sub", u64, val(asm.U64, math.MaxUint64), val(asm.U64, 0), math.MaxUint64},
	}
	for _, tt := range tests {
		got := evalIntrinsic(t, tt.intrinsic, tt.ty, []*mir.Ty{tt.ty, tt.ty}, []value{tt.x, tt.y}, nil)
		assert.Equal(t, val(tt.x.ty, tt.want), got, "%s::<%s>(%d, %d)", tt.intrinsic, tt.ty, tt.x.bits, tt.y.bits)
	}
}

func TestPtrMaskClearsAddressBits(t *testing.T) {
	l, _ := newLowerer()
	a := l.Assembly()
	ptr := mir.PtrTo(mir.UintTy(8))
	def := lowerOne(t, l, intrinsicFn("f", "ptr_mask", ptr, ptr, mir.UintTy(0)))
	set := a.Root(def.Blocks[0].Roots[0]).(asm.SetLoc)
	// The masked address is cast back to the pointer type.
	cast := a.Node(set.Val).(asm.PtrCast)
	assert.Equal(t, l.Types().Type(ptr), cast.Target)

	tests := []struct{ addr, mask, want uint64 }{
		{0x1234_5678, ^uint64(0xf), 0x1234_5670},
		{0x1234_5678, math.MaxUint64, 0x1234_5678},
		{0x1234_5678, 0, 0},
		{0xffff_8000_0000_1000, 0x0000_ffff_ffff_ffff, 0x0000_8000_0000_1000},
	}
	for _, tt := range tests {
		e := &evaluator{t: t, a: a, args: []value{val(asm.USize, tt.addr), val(asm.USize, tt.mask)}}
		assert.Equal(t, tt.want, e.eval(set.Val).bits, "ptr_mask(%#x, %#x)", tt.addr, tt.mask)
	}
}

func TestAtomicXsub(t *testing.T) {
	const addr = 0x1000
	tests := []struct {
		name       string
		ty         *mir.Ty
		cell, v    value
		prev, left uint64
	}{
		{"u32", mir.UintTy(32), val(asm.U32, 10), val(asm.U32, 3), 10, 7},
		{"u32 zero", mir.UintTy(32), val(asm.U32, 10), val(asm.U32, 0), 10, 10},
		{"u32 wraps", mir.UintTy(32), val(asm.U32, 0), val(asm.U32, 1), 0, math.MaxUint32},
		{"u32 max", mir.UintTy(32), val(asm.U32, math.MaxUint32), val(asm.U32, math.MaxUint32), math.MaxUint32, 0},
		{"i64 negative", mir.IntTy(64), val(asm.I64, 5), val(asm.I64, math.MaxUint64-6), 5, 12},
		{"i64 min", mir.IntTy(64), val(asm.I64, 0), val(asm.I64, 1<<63), 0, 1 << 63},
		{"u8 helper", mir.UintTy(8), val(asm.U8, 0), val(asm.U8, 1), 0, 0xff},
		{"u8 high bit", mir.UintTy(8), val(asm.U8, 0x90), val(asm.U8, 0x80), 0x90, 0x10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := map[uint64]value{addr: tt.cell}
			got := evalIntrinsic(t, "atomic_xsub_seqcst", tt.ty, []*mir.Ty{mir.PtrTo(tt.ty), tt.ty},
				[]value{val(asm.USize, addr), tt.v}, mem)
			assert.Equal(t, val(tt.cell.ty, tt.prev), got)
			assert.Equal(t, val(tt.cell.ty, tt.left), mem[addr])
		})
	}
}

func TestCarryingMulAddHalves(t *testing.T) {
	tests := []struct {
		name           string
		ty, lo, hi     *mir.Ty
		x, y, c, d     value
		wantLo, wantHi uint64
	}{
		{
			"u8 max", mir.UintTy(8), mir.UintTy(8), mir.UintTy(8),
			val(asm.U8, 0xff), val(asm.U8, 0xff), val(asm.U8, 0xff), val(asm.U8, 0xff),
			0xff, 0xff,
		},
		{
			"i8 minus one", mir.IntTy(8), mir.UintTy(8), mir.IntTy(8),
			val(asm.I8, 0xff), val(asm.I8, 2), val(asm.I8, 0), val(asm.I8, 0),
			0xfe, 0xff,
		},
		{
			"i16 min squared", mir.IntTy(16), mir.UintTy(16), mir.IntTy(16),
			val(asm.I16, 0x8000), val(asm.I16, 0x8000), val(asm.I16, 0), val(asm.I16, 0),
			0x0000, 0x4000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newLowerer()
			a := l.Assembly()
			dst := mir.TupleOf(tt.lo, tt.hi)
			def := lowerOne(t, l, intrinsicFn("f", "carrying_mul_add", dst, tt.ty, tt.ty, tt.ty, tt.ty))
			set := a.Root(def.Blocks[0].Roots[0]).(asm.SetLoc)
			tmp := a.Node(set.Val).(asm.TmpLocal)
			init := a.Roots(tmp.Init)
			require.Len(t, init, 2)
			lo := a.Root(init[0]).(asm.SetField)
			hi := a.Root(init[1]).(asm.SetField)

			// The low half is unsigned whatever the operand signedness.
			lowCast := a.Node(lo.Val).(asm.IntCast)
			assert.False(t, lowCast.Target.Signed())

			e := &evaluator{t: t, a: a, args: []value{tt.x, tt.y, tt.c, tt.d}}
			assert.Equal(t, val(IntOf(tt.lo), tt.wantLo), e.eval(lo.Val))
			assert.Equal(t, val(IntOf(tt.hi), tt.wantHi), e.eval(hi.Val))
		})
	}
}
