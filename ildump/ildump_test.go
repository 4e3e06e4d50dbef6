package ildump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
)

func listing(t *testing.T, a *asm.Assembly) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, asm.Export(a, New(), &buf))
	return buf.String()
}

// body emits the stack code for a single-block method.
func body(a *asm.Assembly, locals []asm.TypeIdx, roots ...asm.RootIdx) []string {
	def := &asm.MethodDef{Ref: a.Helper("f", a.Void()), Blocks: []asm.BasicBlock{{Roots: roots}}}
	for _, l := range locals {
		def.Locals = append(def.Locals, asm.Local{Type: l})
	}
	em := &emitter{a: a, def: def}
	em.blocks(def.Blocks)
	var out []string
	for _, inst := range em.insts[1:] {
		out = append(out, inst.String())
	}
	return out
}

func TestStackCode(t *testing.T) {
	a := asm.New("t")
	i32 := a.IntTy(asm.I32)
	got := body(a, []asm.TypeIdx{i32},
		a.SetLoc(0, a.Bin(asm.LtUn, a.LdArg(0), a.ConstI32(3))),
		a.AllocRoot(asm.BranchCond{Target: 0, Cond: a.LdLoc(0)}),
		a.AllocRoot(asm.Ret{Val: a.IntCast(asm.U64, asm.SignExtend, a.LdLoc(0))}),
	)
	want := []string{
		"ldarg 0", "ldc.i4 3", "clt.un", "stloc 0",
		"ldloc 0", "brtrue BB_0",
		"ldloc 0", "conv.i8", "ret",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stack code mismatch (-want +got):\n%s", diff)
	}
}

func TestTemporariesGetLocals(t *testing.T) {
	a := asm.New("t")
	i64 := a.IntTy(asm.I64)
	tmp := a.Tmp(i64, a.AllocNode(asm.LdTmp{}), a.AllocRoot(asm.SetTmp{Val: a.ConstI64(-2)}))
	def := &asm.MethodDef{
		Ref:    a.Helper("g", i64),
		Locals: []asm.Local{{Type: a.IntTy(asm.U8)}},
		Blocks: []asm.BasicBlock{{Roots: []asm.RootIdx{a.AllocRoot(asm.Ret{Val: tmp})}}},
	}
	a.DefineMethod(def)

	out := listing(t, a)
	assert.Contains(t, out, ".locals init ([0] uint8 L0, [1] int64 T0)")
	assert.Contains(t, out, "\t\tldc.i8 -2\n\t\tstloc 1\n\t\tldloc 1\n\t\tret\n")
}

func TestSelectBranches(t *testing.T) {
	a := asm.New("t")
	i32 := a.IntTy(asm.I32)
	got := body(a, nil, a.AllocRoot(asm.Pop{Val: a.Select(i32, a.ConstI32(1), a.ConstI32(2), a.ConstBool(true))}))
	want := []string{"ldc.i4.1", "brfalse IL_1", "ldc.i4 1", "br IL_2", "IL_1:", "ldc.i4 2", "IL_2:", "pop"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("select mismatch (-want +got):\n%s", diff)
	}
}

func TestVolatilePrefix(t *testing.T) {
	a := asm.New("t")
	u32 := a.IntTy(asm.U32)
	load := a.AllocNode(asm.VolatileNode{Val: a.LdInd(a.LdArg(0), u32)})
	store := a.AllocRoot(asm.VolatileRoot{Root: a.StInd(a.LdArg(0), load, u32)})
	got := body(a, nil, store)
	want := []string{"ldarg 0", "ldarg 0", "volatile. ldobj uint32", "volatile. stobj uint32"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("volatile mismatch (-want +got):\n%s", diff)
	}
}

func TestClassesAndData(t *testing.T) {
	a := asm.New("data")
	cls := a.NamedClass("Pair", "", true)
	a.DefineClass(&asm.ClassDef{Ref: cls, Explicit: true, Size: 16, Align: 8, Fields: []asm.FieldDef{
		{Name: a.AllocString("Item1"), Type: a.IntTy(asm.I64)},
		{Name: a.AllocString("Item2"), Type: a.Bool(), Offset: 8},
	}})
	a.AddAlloc(&asm.AllocData{ID: 1, Bytes: []byte{0xde, 0xad}, Align: 1})
	a.AddAlloc(&asm.AllocData{ID: 2, Bytes: make([]byte, 8), Align: 8, Relocs: []asm.Reloc{{Target: 1, Addend: 1}}})
	s := a.AllocStatic(asm.StaticFieldDesc{Owner: a.MainModule(), Name: a.AllocString("tls"), Type: a.IntTy(asm.U64), ThreadLocal: true})
	a.DefineStatic(&asm.StaticDef{Field: s})

	out := listing(t, a)

	assert.Contains(t, out, ".class public explicit ansi sealed Pair")
	assert.Contains(t, out, "\t.field [8] public bool Item2\n")
	assert.Contains(t, out, ".data D_1 = bytearray (\n\tde ad )")
	assert.Contains(t, out, "Blob2 extends [System.Runtime]System.ValueType { .pack 1 .size 2 }")
	assert.Contains(t, out, "System.ThreadStaticAttribute")
	assert.Contains(t, out, ".cctor()")
	assert.Contains(t, out, "stind.i")
	assert.Less(t, strings.Index(out, "Blob2 "), strings.Index(out, "Blob8 "))
}

func TestExternsAndHelpers(t *testing.T) {
	a := asm.New("ext")
	i32 := a.IntTy(asm.I32)
	puts := a.Helper("puts", i32, a.Ptr(a.IntTy(asm.U8)))
	a.AddExtern("libc", puts)
	helper := a.Helper("bitreverse_u32", a.IntTy(asm.U32), a.IntTy(asm.U32))
	def := &asm.MethodDef{Ref: a.Helper("main", a.Void()), Blocks: []asm.BasicBlock{{Roots: []asm.RootIdx{
		a.CallRoot(puts, a.AllocNode(asm.LdStr{Str: a.AllocString("hi")})),
		a.CallRoot(helper, a.ConstU32(1)),
		a.AllocRoot(asm.VoidRet{}),
	}}}}
	a.DefineMethod(def)

	out := listing(t, a)

	assert.Contains(t, out, `pinvokeimpl("libc" cdecl) int32 puts(uint8* A0) cil managed preservesig {}`)
	assert.Contains(t, out, "//   uint32 MainModule::bitreverse_u32(uint32)")
	assert.Contains(t, out, "\t\tldstr \"hi\"\n\t\tcall int32 MainModule::puts(uint8*)\n\t\tpop\n")
}

func TestHandlersBecomeFaultClauses(t *testing.T) {
	a := asm.New("eh")
	cleanup := asm.BasicBlock{ID: 1, Roots: []asm.RootIdx{a.AllocRoot(asm.ReThrow{})}}
	blk := asm.BasicBlock{ID: 0, Roots: []asm.RootIdx{a.AllocRoot(asm.VoidRet{})}, Handlers: []asm.Handler{{Blocks: []asm.BasicBlock{cleanup}}}}
	def := &asm.MethodDef{Ref: a.Helper("f", a.Void())}
	em := &emitter{a: a, def: def}
	em.blocks([]asm.BasicBlock{blk})

	var got []string
	for _, inst := range em.insts {
		got = append(got, inst.String())
	}
	want := []string{".try {", "BB_0:", "ret", "} fault {", "BB_1:", "rethrow", "}"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("handler mismatch (-want +got):\n%s", diff)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"System.Int128", "System.Int128"},
		{".ctor", ".ctor"},
		{"core::fmt", "'core::fmt'"},
		{"it's", `'it\'s'`},
		{"9x", "'9x'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quote(tt.in))
	}
}
