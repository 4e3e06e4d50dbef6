package lower

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

func copyOf(local int) mir.Operand { return mir.Copy{Place: mir.LocalPlace(local)} }

// addFn is fn(a: u32, b: u32) -> u32 { a + b }.
func addFn() *mir.Func {
	u32 := mir.UintTy(32)
	return &mir.Func{
		Name: "add",
		Sig:  &mir.FnSig{Inputs: []*mir.Ty{u32, u32}, Output: u32},
		Body: &mir.Body{
			Locals:   []mir.LocalDecl{{Ty: u32}, {Name: "a", Ty: u32}, {Name: "b", Ty: u32}},
			ArgCount: 2,
			Blocks: []*mir.Block{{
				Stmts: []mir.Stmt{mir.Assign{Place: mir.LocalPlace(0), Rvalue: mir.BinaryOp{Op: mir.Add, A: copyOf(1), B: copyOf(2)}}},
				Term:  mir.Return{},
			}},
		},
		Public: true,
	}
}

func TestLowerAdd(t *testing.T) {
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, addFn())

	assert.Equal(t, asm.Public, def.Access)
	require.Len(t, def.ArgNames, 2)
	assert.Equal(t, "a", a.String(def.ArgNames[0]))
	require.Len(t, def.Locals, 1)
	require.Len(t, def.Blocks, 1)

	roots := def.Blocks[0].Roots
	require.Len(t, roots, 2)
	set := a.Root(roots[0]).(asm.SetLoc)
	assert.Equal(t, asm.BinOp{Op: asm.Add, A: a.LdArg(0), B: a.LdArg(1)}, a.Node(set.Val))
	assert.Equal(t, asm.Ret{Val: a.LdLoc(0)}, a.Root(roots[1]))
}

func TestLowerSwitchAndUnsignedCompare(t *testing.T) {
	u8 := mir.UintTy(8)
	fn := &mir.Func{
		Name: "pick",
		Sig:  &mir.FnSig{Inputs: []*mir.Ty{u8}, Output: mir.BoolTy()},
		Body: &mir.Body{
			Locals:   []mir.LocalDecl{{Ty: mir.BoolTy()}, {Ty: u8}},
			ArgCount: 1,
			Blocks: []*mir.Block{
				{Term: mir.SwitchInt{Discr: copyOf(1), Values: []uint128.Uint128{uint128.From64(0), uint128.From64(7)}, Targets: []int{1, 2}, Otherwise: 2}},
				{
					Stmts: []mir.Stmt{mir.Assign{Place: mir.LocalPlace(0), Rvalue: mir.Use{Op: mir.Const{Value: mir.ScalarOf(1, 1), Ty: mir.BoolTy()}}}},
					Term:  mir.Return{},
				},
				{
					Stmts: []mir.Stmt{mir.Assign{Place: mir.LocalPlace(0), Rvalue: mir.BinaryOp{Op: mir.Lt, A: copyOf(1), B: mir.Const{Value: mir.ScalarOf(3, 1), Ty: u8}}}},
					Term:  mir.Return{},
				},
			},
		},
	}
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, fn)
	require.Len(t, def.Blocks, 3)

	roots := def.Blocks[0].Roots
	require.Len(t, roots, 3)
	br := a.Root(roots[0]).(asm.BranchCond)
	assert.Equal(t, uint32(1), br.Target)
	assert.Equal(t, asm.BinOp{Op: asm.Eq, A: a.LdArg(0), B: a.ConstOf(asm.U8, 0)}, a.Node(br.Cond))
	assert.Equal(t, asm.Goto{Target: 2}, a.Root(roots[2]))

	set := a.Root(def.Blocks[2].Roots[0]).(asm.SetLoc)
	assert.Equal(t, asm.LtUn, a.Node(set.Val).(asm.BinOp).Op)
}

func TestLowerSwitchInt128(t *testing.T) {
	i128 := mir.IntTy(128)
	ret := &mir.Block{Term: mir.Return{}}
	fn := &mir.Func{
		Name: "classify",
		Sig:  &mir.FnSig{Inputs: []*mir.Ty{i128}, Output: mir.UnitTy()},
		Body: &mir.Body{
			Locals:   []mir.LocalDecl{{Ty: mir.UnitTy()}, {Ty: i128}},
			ArgCount: 1,
			Blocks: []*mir.Block{
				{Term: mir.SwitchInt{
					Discr: copyOf(1),
					// -1 and 1<<64
					Values:    []uint128.Uint128{uint128.Max, uint128.New(0, 1)},
					Targets:   []int{1, 1},
					Otherwise: 1,
				}},
				ret,
			},
		},
	}
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, fn)
	roots := def.Blocks[0].Roots
	require.Len(t, roots, 3)

	want := [][2]uint64{{math.MaxUint64, math.MaxUint64}, {1, 0}}
	for i, w := range want {
		br := a.Root(roots[i]).(asm.BranchCond)
		eq := a.Node(br.Cond).(asm.BinOp)
		require.Equal(t, asm.Eq, eq.Op)
		hi, lo, cls := halves(t, a, eq.B)
		assert.Equal(t, w[0], hi, "case %d", i)
		assert.Equal(t, w[1], lo, "case %d", i)
		assert.Equal(t, "System.Int128", cls)
	}
}

func TestLowerCallWithCleanup(t *testing.T) {
	unit := mir.UnitTy()
	fn := &mir.Func{
		Name: "guarded",
		Sig:  &mir.FnSig{Output: unit},
		Body: &mir.Body{
			Locals: []mir.LocalDecl{{Ty: unit}},
			Blocks: []*mir.Block{
				{Term: mir.Call{
					Func:   mir.Callee{Symbol: "may_panic", Sig: &mir.FnSig{Output: unit}},
					Dest:   mir.LocalPlace(0),
					Target: 1,
					Unwind: 2,
				}},
				{Term: mir.Return{}},
				{Cleanup: true, Term: mir.Goto{Target: 3}},
				{Cleanup: true, Term: mir.UnwindResume{}},
			},
		},
	}
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, fn)

	// Cleanup blocks only appear inside the handler.
	require.Len(t, def.Blocks, 2)
	entry := def.Blocks[0]
	require.Len(t, entry.Handlers, 1)
	h := entry.Handlers[0]
	require.Len(t, h.Blocks, 2)
	assert.Equal(t, uint32(2), h.Blocks[0].ID)
	assert.Equal(t, uint32(3), h.Blocks[1].ID)
	assert.Equal(t, asm.ReThrow{}, a.Root(h.Blocks[1].Roots[0]))

	call := a.Root(entry.Roots[0]).(asm.CallRoot)
	assert.Equal(t, "may_panic", a.String(a.Method(call.Method).Name))
	assert.Equal(t, asm.VoidRet{}, a.Root(def.Blocks[1].Roots[0]))

	// Handler roots are visited by the recursive iterator.
	var n int
	for range entry.IterRoots() {
		n++
	}
	assert.Equal(t, len(entry.Roots)+2, n)
}

func TestLowerCheckedAdd(t *testing.T) {
	i32 := mir.IntTy(32)
	pair := mir.TupleOf(i32, mir.BoolTy())
	fn := &mir.Func{
		Name: "checked",
		Sig:  &mir.FnSig{Inputs: []*mir.Ty{i32, i32}, Output: i32},
		Body: &mir.Body{
			Locals:   []mir.LocalDecl{{Ty: i32}, {Ty: i32}, {Ty: i32}, {Ty: pair}},
			ArgCount: 2,
			Blocks: []*mir.Block{
				{
					Stmts: []mir.Stmt{mir.Assign{Place: mir.LocalPlace(3), Rvalue: mir.CheckedBinaryOp{Op: mir.Add, A: copyOf(1), B: copyOf(2)}}},
					Term: mir.Assert{
						Cond:   mir.Copy{Place: mir.Place{Local: 3, Proj: []mir.Projection{{Kind: mir.Field, Field: 1, Ty: mir.BoolTy()}}}},
						Msg:    "attempt to add with overflow",
						Target: 1, Unwind: mir.NoBlock,
					},
				},
				{
					Stmts: []mir.Stmt{mir.Assign{Place: mir.LocalPlace(0), Rvalue: mir.Use{Op: mir.Copy{Place: mir.Place{Local: 3, Proj: []mir.Projection{{Kind: mir.Field, Field: 0, Ty: i32}}}}}}},
					Term:  mir.Return{},
				},
			},
		},
	}
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, fn)

	roots := def.Blocks[0].Roots
	require.Len(t, roots, 3)
	set := a.Root(roots[0]).(asm.SetLoc)
	_, ok := a.Node(set.Val).(asm.TmpLocal)
	assert.True(t, ok)
	assert.IsType(t, asm.BranchCond{}, a.Root(roots[1]))
	assert.IsType(t, asm.Throw{}, a.Root(roots[2]))
}

func TestLowerAggregateAndDeref(t *testing.T) {
	u16 := mir.UintTy(16)
	point := mir.StructOf("Point", []string{"x", "y"}, u16, u16)
	ptr := mir.PtrTo(point)
	fn := &mir.Func{
		Name: "store",
		Sig:  &mir.FnSig{Inputs: []*mir.Ty{ptr, u16}, Output: mir.UnitTy()},
		Body: &mir.Body{
			Locals:   []mir.LocalDecl{{Ty: mir.UnitTy()}, {Ty: ptr}, {Ty: u16}},
			ArgCount: 2,
			Blocks: []*mir.Block{{
				Stmts: []mir.Stmt{
					mir.Assign{
						Place:  mir.Place{Local: 1, Proj: []mir.Projection{{Kind: mir.Deref, Ty: point}}},
						Rvalue: mir.Aggregate{Kind: mir.AggAdt, Ty: point, Ops: []mir.Operand{copyOf(2), copyOf(2)}},
					},
					mir.StorageDead{Local: 2},
				},
				Term: mir.Return{},
			}},
		},
	}
	l, _ := newLowerer()
	a := l.Assembly()
	def := lowerOne(t, l, fn)

	roots := def.Blocks[0].Roots
	require.Len(t, roots, 2)
	st := a.Root(roots[0]).(asm.StInd)
	assert.Equal(t, a.LdArg(0), st.Addr)
	tmp := a.Node(st.Val).(asm.TmpLocal)
	assert.Len(t, a.Roots(tmp.Init), 2)
	assert.Equal(t, asm.VoidRet{}, a.Root(roots[1]))
}

func TestProgramFlattensAndPromotes(t *testing.T) {
	l, env := newLowerer()
	a := l.Assembly()
	u32 := mir.UintTy(32)
	static := env.AddAlloc(mir.StaticItem{Name: "TABLE", Ty: u32, Init: env.AddBytes([]byte{1, 0, 0, 0}, 4)})
	pair := mir.TupleOf(u32, u32)
	fn := &mir.Func{
		Name: "pair",
		Sig:  &mir.FnSig{Output: pair},
		Body: &mir.Body{
			Locals: []mir.LocalDecl{{Ty: pair}},
			Blocks: []*mir.Block{{
				Stmts: []mir.Stmt{mir.Assign{Place: mir.LocalPlace(0), Rvalue: mir.Use{Op: mir.Const{Value: mir.ScalarOf(0x0000_0002_0000_0001, 8), Ty: pair}}}},
				Term:  mir.Return{},
			}},
		},
	}
	require.NoError(t, l.Program(&mir.Program{Name: "p", Funcs: []*mir.Func{fn}, Statics: []mir.AllocID{static}}))

	def := a.MethodDef(l.FuncRef(fn.Name, fn.Sig))
	require.NotNil(t, def)
	require.NoError(t, catch(func() { asm.Validate(a, def) }))
	assert.Len(t, a.StaticDefs(), 1)
	// The packed pair constant now lives in its own allocation.
	assert.Len(t, a.Allocs(), 2)
}
