package lower

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

func newLowerer() (*Lowerer, *mir.Env) {
	env := mir.NewEnv()
	return New(asm.New("test"), env, Options{}), env
}

func catch(f func()) (err error) {
	defer fault.Catch(&err)
	f()
	return nil
}

func TestTypeMappingIdempotent(t *testing.T) {
	l, _ := newLowerer()
	list := mir.StructOf("List", []string{"next", "val"}, nil, mir.UintTy(32))
	list.Fields[0] = mir.PtrTo(list)

	tys := []*mir.Ty{
		mir.IntTy(8), mir.UintTy(0), mir.FloatTy(64), mir.BoolTy(),
		mir.PtrTo(mir.UintTy(8)), mir.RefTo(mir.SliceOf(mir.UintTy(16))), mir.RefTo(mir.StrTy()),
		mir.TupleOf(mir.IntTy(32), mir.BoolTy()), mir.ArrayOf(mir.UintTy(8), 4),
		list, mir.UnionOf("U", nil, mir.UintTy(32), mir.FloatTy(32)),
	}
	for _, ty := range tys {
		first := l.Types().Type(ty)
		second := l.Types().Type(ty)
		assert.Equal(t, first, second, "%s", ty)
		// A fresh mapper over the same assembly interns the same handle.
		fresh := NewTypeMapper(l.Assembly(), mir.NewEnv())
		assert.Equal(t, first, fresh.Type(ty), "%s", ty)
	}
}

func TestZeroSizedMapsToVoid(t *testing.T) {
	l, _ := newLowerer()
	a := l.Assembly()
	assert.Equal(t, a.Void(), l.Types().Type(mir.UnitTy()))
	assert.Equal(t, a.Void(), l.Types().Type(mir.ArrayOf(mir.UintTy(8), 0)))
	assert.Equal(t, a.IntTy(asm.U32), l.Types().Type(&mir.Ty{Kind: mir.Char}))
}

func TestFatPointerClass(t *testing.T) {
	l, _ := newLowerer()
	a := l.Assembly()
	ty := mir.RefTo(mir.SliceOf(mir.UintTy(8)))
	tpe := a.Type(l.Types().Type(ty))
	require.Equal(t, asm.KClass, tpe.Kind)
	def := a.ClassDef(tpe.Class)
	require.NotNil(t, def)
	require.Len(t, def.Fields, 2)
	assert.Equal(t, DataPtrField, a.String(def.Fields[0].Name))
	assert.Equal(t, MetadataField, a.String(def.Fields[1].Name))
	assert.Equal(t, uint32(8), def.Fields[1].Offset)
}

func TestTupleFieldNames(t *testing.T) {
	l, _ := newLowerer()
	a := l.Assembly()
	tpe := a.Type(l.Types().Type(mir.TupleOf(mir.UintTy(64), mir.BoolTy())))
	def := a.ClassDef(tpe.Class)
	require.NotNil(t, def)
	assert.Equal(t, "Item1", a.String(def.Fields[0].Name))
	assert.Equal(t, "Item2", a.String(def.Fields[1].Name))
	assert.False(t, def.Explicit)
}

func TestAggregateLayout(t *testing.T) {
	tests := []struct {
		name     string
		fields   []*mir.Ty
		layout   *mir.Layout
		offsets  []uint32
		size     uint64
		explicit bool
	}{
		{name: "natural", fields: []*mir.Ty{mir.UintTy(8), mir.UintTy(32)}, offsets: []uint32{0, 4}, size: 8},
		{name: "natural tail padding", fields: []*mir.Ty{mir.UintTy(64), mir.UintTy(8)}, offsets: []uint32{0, 8}, size: 16},
		{name: "gap", fields: []*mir.Ty{mir.UintTy(8), mir.UintTy(32)}, layout: &mir.Layout{Size: 16, Align: 8, Offsets: []uint64{0, 8}}, offsets: []uint32{0, 8}, size: 16, explicit: true},
		{name: "extra tail padding", fields: []*mir.Ty{mir.UintTy(32), mir.UintTy(32)}, layout: &mir.Layout{Size: 12, Align: 4, Offsets: []uint64{0, 4}}, offsets: []uint32{0, 4}, size: 12, explicit: true},
		{name: "reordered", fields: []*mir.Ty{mir.UintTy(8), mir.UintTy(32)}, layout: &mir.Layout{Size: 8, Align: 4, Offsets: []uint64{4, 0}}, offsets: []uint32{4, 0}, size: 8, explicit: true},
		{name: "leading gap", fields: []*mir.Ty{mir.UintTy(16)}, layout: &mir.Layout{Size: 4, Align: 2, Offsets: []uint64{2}}, offsets: []uint32{2}, size: 4, explicit: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, env := newLowerer()
			ty := mir.StructOf("S", []string{"a", "b"}[:len(tt.fields)], tt.fields...)
			if tt.layout != nil {
				env.SetLayout(ty, *tt.layout)
			}
			a := l.Assembly()
			tpe := a.Type(l.Types().Type(ty))
			require.Equal(t, asm.KClass, tpe.Kind)
			def := a.ClassDef(tpe.Class)
			require.NotNil(t, def)
			require.Len(t, def.Fields, len(tt.offsets))
			for i, off := range tt.offsets {
				assert.Equal(t, off, def.Fields[i].Offset, "field %d", i)
			}
			assert.Equal(t, tt.size, def.Size)
			assert.Equal(t, tt.explicit, def.Explicit)
		})
	}
}

func TestF64ConstantsBitExact(t *testing.T) {
	tests := []struct {
		name string
		bits uint64
	}{
		{"zero", math.Float64bits(0)},
		{"negative zero", math.Float64bits(math.Copysign(0, -1))},
		{"smallest subnormal", math.Float64bits(5e-324)},
		{"max", math.Float64bits(math.MaxFloat64)},
		{"nan payload", 0x7ff8_0000_dead_beef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newLowerer()
			n := l.Const(mir.ScalarOf(tt.bits, 8), mir.FloatTy(64))
			assert.Equal(t, asm.ConstFloat{Float: asm.F64, Bits: tt.bits}, l.Assembly().Node(n))
		})
	}
}

// halves returns the (hi, lo) arguments passed to the 128-bit constructor
// of a lowered constant.
func halves(t *testing.T, a *asm.Assembly, n asm.NodeIdx) (uint64, uint64, string) {
	t.Helper()
	tmp, ok := a.Node(n).(asm.TmpLocal)
	require.True(t, ok, "got %T", a.Node(n))
	init := a.Roots(tmp.Init)
	require.Len(t, init, 1)
	call, ok := a.Root(init[0]).(asm.CallRoot)
	require.True(t, ok)
	args := a.Nodes(call.Args)
	require.Len(t, args, 3)
	assert.Equal(t, asm.LdTmpA{}, a.Node(args[0]))
	hi := a.Node(args[1]).(asm.ConstInt)
	lo := a.Node(args[2]).(asm.ConstInt)
	m := a.Method(call.Method)
	return hi.Bits, lo.Bits, a.String(a.Class(m.Class).Name)
}

func TestInt128Halves(t *testing.T) {
	l, _ := newLowerer()
	a := l.Assembly()

	hi, lo, cls := halves(t, a, l.Const(mir.Scalar{Bits: uint128.Max, Size: 16}, mir.UintTy(128)))
	assert.Equal(t, uint64(math.MaxUint64), hi)
	assert.Equal(t, uint64(math.MaxUint64), lo)
	assert.Equal(t, "System.UInt128", cls)

	min := uint128.New(0, 1<<63)
	hi, lo, cls = halves(t, a, l.Const(mir.Scalar{Bits: min, Size: 16}, mir.IntTy(128)))
	assert.Equal(t, uint64(1<<63), hi)
	assert.Equal(t, uint64(0), lo)
	assert.Equal(t, "System.Int128", cls)
}

func TestHalfConstant(t *testing.T) {
	one := uint64(0x3c00)

	l, _ := newLowerer()
	call, ok := l.Assembly().Node(l.Const(mir.ScalarOf(one, 2), mir.FloatTy(16))).(asm.Call)
	require.True(t, ok)
	args := l.Assembly().Nodes(call.Args)
	assert.Equal(t, asm.ConstFloat{Float: asm.F32, Bits: uint64(math.Float32bits(1))}, l.Assembly().Node(args[0]))

	native := New(asm.New("test"), mir.NewEnv(), Options{Half: HalfNative})
	n := native.Const(mir.ScalarOf(one, 2), mir.FloatTy(16))
	assert.Equal(t, asm.ConstFloat{Float: asm.F16, Bits: one}, native.Assembly().Node(n))

	off := New(asm.New("test"), mir.NewEnv(), Options{Half: HalfUnsupported})
	err := catch(func() { off.Const(mir.ScalarOf(one, 2), mir.FloatTy(16)) })
	assert.True(t, fault.IsCoverageGap(err))
}

func TestSliceConstant(t *testing.T) {
	l, env := newLowerer()
	a := l.Assembly()
	data := env.AddBytes([]byte("hello"), 1)
	ty := mir.RefTo(mir.StrTy())

	n := l.Const(mir.SliceConst{Data: data, Meta: 5}, ty)
	tmp, ok := a.Node(n).(asm.TmpLocal)
	require.True(t, ok)
	init := a.Roots(tmp.Init)
	require.Len(t, init, 2)

	meta := a.Root(init[0]).(asm.SetField)
	assert.Equal(t, MetadataField, a.String(a.Field(meta.Field).Name))
	assert.Equal(t, asm.ConstInt{Int: asm.USize, Bits: 5}, a.Node(meta.Val))
	ptr := a.Root(init[1]).(asm.SetField)
	assert.Equal(t, DataPtrField, a.String(a.Field(ptr.Field).Name))

	alloc := a.Alloc(asm.AllocID(data))
	require.NotNil(t, alloc)
	assert.Equal(t, []byte("hello"), alloc.Bytes)
}

func TestMemoryRelocations(t *testing.T) {
	l, env := newLowerer()
	a := l.Assembly()
	target := env.AddBytes([]byte{1, 2, 3, 4}, 4)
	holder := env.AddAlloc(mir.Memory{
		Bytes: make([]byte, 8),
		Align: 8,
		Ptrs:  []mir.Provenance{{Offset: 0, Ptr: mir.Pointer{Alloc: target, Offset: 2}}},
	})
	l.Const(mir.ScalarPtr{Ptr: mir.Pointer{Alloc: holder}}, mir.PtrTo(mir.PtrTo(mir.UintTy(8))))

	data := a.Alloc(asm.AllocID(holder))
	require.NotNil(t, data)
	assert.Equal(t, []asm.Reloc{{Offset: 0, Target: asm.AllocID(target), Addend: 2}}, data.Relocs)
	assert.NotNil(t, a.Alloc(asm.AllocID(target)))
}

func TestStatics(t *testing.T) {
	tests := []struct {
		name  string
		item  mir.StaticItem
		check func(t *testing.T, a *asm.Assembly, n asm.NodeIdx)
		gap   bool
	}{
		{
			name: "plain",
			item: mir.StaticItem{Name: "COUNTER", Ty: mir.UintTy(32)},
			check: func(t *testing.T, a *asm.Assembly, n asm.NodeIdx) {
				ld := a.Node(n).(asm.LdStaticA)
				assert.Equal(t, "COUNTER", a.String(a.Static(ld.Field).Name))
				require.NotNil(t, a.StaticDef(ld.Field))
			},
		},
		{
			name: "magic flag",
			item: mir.StaticItem{Name: allocErrorShouldPanic, Ty: mir.UintTy(8), Import: true},
			check: func(t *testing.T, a *asm.Assembly, n asm.NodeIdx) {
				ld := a.Node(n).(asm.LdStaticA)
				assert.Equal(t, a.IntTy(asm.U8), a.Static(ld.Field).Type)
			},
		},
		{
			name: "environ",
			item: mir.StaticItem{Name: "environ", Ty: mir.PtrTo(mir.PtrTo(mir.UintTy(8))), Import: true},
			check: func(t *testing.T, a *asm.Assembly, n asm.NodeIdx) {
				call := a.Node(n).(asm.Call)
				assert.Equal(t, "get_environ", a.String(a.Method(call.Method).Name))
			},
		},
		{
			name: "extern function",
			item: mir.StaticItem{Name: "getrandom", Ty: mir.PtrTo(mir.UintTy(8)), Import: true},
			check: func(t *testing.T, a *asm.Assembly, n asm.NodeIdx) {
				ftn := a.Node(n).(asm.LdFtn)
				lib, ok := a.Extern(ftn.Method)
				require.True(t, ok)
				assert.Equal(t, "libc", lib)
			},
		},
		{
			name: "extern data",
			item: mir.StaticItem{Name: "__dso_handle", Ty: mir.UintTy(8), Import: true},
			check: func(t *testing.T, a *asm.Assembly, n asm.NodeIdx) {
				ld := a.Node(n).(asm.LdStaticA)
				assert.Equal(t, "libc", a.StaticDef(ld.Field).Extern)
			},
		},
		{name: "unknown import", item: mir.StaticItem{Name: "dlsym_whatever", Ty: mir.UintTy(8), Import: true}, gap: true},
		{name: "link section", item: mir.StaticItem{Name: "INIT", Ty: mir.UintTy(8), LinkSection: ".init_array"}, gap: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, env := newLowerer()
			id := env.AddAlloc(tt.item)
			var n asm.NodeIdx
			err := catch(func() { n = l.staticAddr(id, nil) })
			if tt.gap {
				require.Error(t, err)
				assert.True(t, fault.IsCoverageGap(err), "%v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, l.Assembly(), n)
		})
	}
}

func TestUnknownConstantFaults(t *testing.T) {
	l, _ := newLowerer()
	err := catch(func() { l.Const(mir.ScalarOf(1, 8), &mir.Ty{Kind: mir.Dyn}) })
	require.Error(t, err)
	assert.True(t, fault.IsCoverageGap(err))
}
