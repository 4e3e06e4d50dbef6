package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

func catch(f func()) (err error) {
	defer fault.Catch(&err)
	f()
	return nil
}

func TestTypesDedupe(t *testing.T) {
	a := New("test")
	p1 := a.Ptr(a.IntTy(U8))
	p2 := a.Ptr(a.IntTy(U8))
	require.Equal(t, p1, p2)
	require.NotEqual(t, p1, a.Ptr(a.IntTy(I8)))

	ty := a.Type(p1)
	require.Equal(t, KPtr, ty.Kind)
	require.Equal(t, Type{Kind: KInt, Int: U8}, a.Type(ty.Inner))
}

func TestDanglingInnerTypeFaults(t *testing.T) {
	a := New("test")
	err := catch(func() { a.AllocType(Type{Kind: KPtr, Inner: 999}) })
	require.True(t, fault.IsInvariant(err))
	err = catch(func() { a.AllocType(Type{Kind: KFnPtr, Sig: 3}) })
	require.True(t, fault.IsInvariant(err))
}

func TestListsRoundTrip(t *testing.T) {
	a := New("test")
	ts := []TypeIdx{a.Bool(), a.IntTy(I32), a.FloatTy(F64)}
	l := a.AllocTypes(ts...)
	require.Equal(t, ts, a.Types(l))
	require.Equal(t, l, a.AllocTypes(ts...))
	require.Empty(t, a.Types(a.AllocTypes()))

	sig := a.Signature(a.Void(), ts...)
	require.Equal(t, sig, a.Signature(a.Void(), ts...))
	require.NotEqual(t, sig, a.Signature(a.Bool(), ts...))
}

func TestMVIDDeterministic(t *testing.T) {
	require.Equal(t, New("x").MVID, New("x").MVID)
	require.NotEqual(t, New("x").MVID, New("y").MVID)
}

func TestFloatConstsInternByBits(t *testing.T) {
	a := New("test")
	nan := uint64(0x7ff8000000000001)
	require.Equal(t, a.ConstF64(nan), a.ConstF64(nan))
	require.NotEqual(t, a.ConstF64(0), a.ConstF64(1<<63))
}

func TestNormalizeInt(t *testing.T) {
	tests := []struct {
		i    Int
		in   uint64
		want uint64
	}{
		{U8, 0x1ff, 0xff},
		{I8, 0xff, ^uint64(0)},
		{I8, 0x7f, 0x7f},
		{I16, 0x8000, 0xffffffffffff8000},
		{U32, ^uint64(0), 0xffffffff},
		{I64, 5, 5},
		{USize, ^uint64(0), ^uint64(0)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeInt(tt.i, tt.in), "%s %#x", tt.i, tt.in)
	}
}

func TestIntHelpers(t *testing.T) {
	assert.Equal(t, U32, I32.Unsigned())
	assert.Equal(t, I64, U64.AsSigned())
	assert.Equal(t, USize, ISize.Unsigned())
	assert.Equal(t, I16, IntOfBits(16, true))
	assert.Equal(t, U128, IntOfBits(128, false))
	assert.Equal(t, Int(0), IntOfBits(24, false))
	assert.Equal(t, PtrBits, USize.Bits())
}

func TestDefineClassConflicts(t *testing.T) {
	a := New("test")
	c := a.NamedClass("Pair", "", true)
	def := &ClassDef{Ref: c, Fields: []FieldDef{{Name: a.AllocString("a"), Type: a.IntTy(I32)}}, Size: 4}
	a.DefineClass(def)
	a.DefineClass(&ClassDef{Ref: c, Fields: def.Fields, Size: 4})
	require.Len(t, a.ClassDefs(), 1)

	err := catch(func() { a.DefineClass(&ClassDef{Ref: c, Size: 8}) })
	require.True(t, fault.IsInvariant(err))
}

func TestAllocBytesDedupe(t *testing.T) {
	a := New("test")
	x := a.AllocBytes([]byte("hello"), 1)
	y := a.AllocBytes([]byte("hello"), 1)
	z := a.AllocBytes([]byte("hello"), 8)
	require.Equal(t, x, y)
	require.NotEqual(t, x, z)
	require.GreaterOrEqual(t, uint64(x), uint64(SynthAllocBase))
	require.Equal(t, []byte("hello"), a.Alloc(x).Bytes)
}

func TestHelpersExcludeDefinedAndExtern(t *testing.T) {
	a := New("test")
	helper := a.Helper("simd_eq", a.Bool(), a.IntTy(I32))
	defined := a.Helper("main", a.Void())
	ext := a.Helper("getrandom", a.ISize())
	a.DefineMethod(&MethodDef{Ref: defined})
	a.AddExtern("libc", ext)

	require.Equal(t, []MethodIdx{helper}, a.Helpers())
	require.Equal(t, []MethodIdx{ext}, a.Externs())
}
