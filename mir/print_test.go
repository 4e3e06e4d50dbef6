package mir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestFuncListing(t *testing.T) {
	i32 := IntTy(32)
	fn := &Func{
		Name: "main.max",
		Sig:  &FnSig{Inputs: []*Ty{i32, i32}, Output: i32},
		Body: &Body{
			ArgCount: 2,
			Locals: []LocalDecl{
				{Ty: i32}, {Name: "a", Ty: i32}, {Name: "b", Ty: i32}, {Name: "t0", Ty: BoolTy()},
			},
			Blocks: []*Block{
				{
					Stmts: []Stmt{Assign{Place: LocalPlace(3), Rvalue: BinaryOp{Op: Lt, A: Copy{Place: LocalPlace(1)}, B: Copy{Place: LocalPlace(2)}}}},
					Term:  SwitchInt{Discr: Copy{Place: LocalPlace(3)}, Values: []uint128.Uint128{uint128.Zero}, Targets: []int{1}, Otherwise: 2},
				},
				{
					Stmts: []Stmt{Assign{Place: LocalPlace(0), Rvalue: Use{Op: Copy{Place: LocalPlace(1)}}}},
					Term:  Return{},
				},
				{
					Stmts: []Stmt{Assign{Place: LocalPlace(0), Rvalue: Use{Op: Const{Value: ScalarOf(7, 4), Ty: i32}}}},
					Term:  Call{Func: Callee{Symbol: "ctpop", Intrinsic: true}, Args: []Operand{Copy{Place: LocalPlace(2)}}, Dest: LocalPlace(0), Target: 1, Unwind: NoBlock},
				},
			},
		},
	}

	var b strings.Builder
	n, err := fn.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, int64(b.Len()), n)
	assert.Equal(t, `fn main.max(_1: i32, _2: i32) -> i32 {
    let _3: bool; // t0
  bb0:
    _3 = Lt(_1, _2)
    switchInt(_3) -> [0: bb1, otherwise: bb2]
  bb1:
    _0 = _1
    return
  bb2:
    _0 = const 7: i32
    _0 = intrinsic ctpop(_2) -> bb1
}
`, b.String())
}

func TestPlaceString(t *testing.T) {
	p := Place{Local: 4, Proj: []Projection{
		{Kind: Deref},
		{Kind: Field, Field: 1},
		{Kind: Index, Index: 2},
		{Kind: ConstIndex, Offset: 3},
	}}
	assert.Equal(t, "(*_4).1[_2][3]", p.String())
}
