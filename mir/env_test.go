package mir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaturalLayout(t *testing.T) {
	tests := []struct {
		name string
		ty   *Ty
		want Layout
	}{
		{"u8", UintTy(8), Layout{Size: 1, Align: 1}},
		{"usize", UintTy(0), Layout{Size: 8, Align: 8}},
		{"i128", IntTy(128), Layout{Size: 16, Align: 16}},
		{"unit", UnitTy(), Layout{Align: 1, Offsets: []uint64{}}},
		{"thin ptr", PtrTo(IntTy(32)), Layout{Size: 8, Align: 8}},
		{"fat ptr", RefTo(StrTy()), Layout{Size: 16, Align: 8, Offsets: []uint64{0, 8}}},
		{"padded struct", StructOf("S", nil, UintTy(8), UintTy(32), UintTy(16)),
			Layout{Size: 12, Align: 4, Offsets: []uint64{0, 4, 8}}},
		{"union", UnionOf("U", nil, UintTy(8), FloatTy(64)),
			Layout{Size: 8, Align: 8, Offsets: []uint64{0, 0}}},
		{"array", ArrayOf(UintTy(16), 5), Layout{Size: 10, Align: 2}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NaturalLayout(tt.ty), tt.name)
	}
}

func TestKeysStructural(t *testing.T) {
	a := StructOf("P", []string{"x", "y"}, IntTy(32), PtrTo(UintTy(8)))
	b := StructOf("P", []string{"x", "y"}, IntTy(32), PtrTo(UintTy(8)))
	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), StructOf("Q", nil, IntTy(32), PtrTo(UintTy(8))).Key())
	require.NotEqual(t, IntTy(0).Key(), IntTy(64).Key())
	require.Equal(t, "&[u8]", RefTo(SliceOf(UintTy(8))).Key())
}

func TestEnvConstsAndAllocs(t *testing.T) {
	e := NewEnv()
	id := e.AddBytes([]byte("hi"), 1)
	g, ok := e.GlobalAlloc(id)
	require.True(t, ok)
	require.Equal(t, []byte("hi"), g.(Memory).Bytes)

	q := Query{Intrinsic: "type_id", Generics: []*Ty{UintTy(8)}}
	_, _, err := e.EvalConst(q)
	require.Error(t, err)
	e.SetConst(q, ScalarOf(42, 16), UintTy(128))
	v, ty, err := e.EvalConst(q)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v.(Scalar).Bits.Lo)
	require.Equal(t, 128, ty.Bits)
}
