package compiler

import (
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// atomicKinds maps the type suffix of a sync/atomic function to its value
// type.
var atomicKinds = map[string]types.BasicKind{
	"Int32":   types.Int32,
	"Int64":   types.Int64,
	"Uint32":  types.Uint32,
	"Uint64":  types.Uint64,
	"Uintptr": types.Uintptr,
	"Pointer": types.UnsafePointer,
}

func init() {
	RegisterPackage("sync/atomic", buildSyncAtomicPackage)

	for suffix, kind := range atomicKinds {
		RegisterStubLowerer("sync/atomic", "Load"+suffix, direct("atomic_load_seqcst"))
		RegisterStubLowerer("sync/atomic", "Store"+suffix, direct("atomic_store_seqcst"))
		RegisterStubLowerer("sync/atomic", "Swap"+suffix, direct("atomic_xchg_seqcst"))
		RegisterStubLowerer("sync/atomic", "CompareAndSwap"+suffix, compareAndSwap)
		if kind == types.UnsafePointer {
			continue
		}
		RegisterStubLowerer("sync/atomic", "Add"+suffix, atomicAdd)
		RegisterStubLowerer("sync/atomic", "And"+suffix, direct("atomic_and_seqcst"))
		RegisterStubLowerer("sync/atomic", "Or"+suffix, direct("atomic_or_seqcst"))
	}
}

func buildSyncAtomicPackage() *types.Package {
	b := newStub("sync/atomic", "atomic")
	boolT := types.Typ[types.Bool]
	for suffix, kind := range atomicKinds {
		val := types.Typ[kind]
		addr := types.NewPointer(val)
		b.fn("Load"+suffix, []types.Type{addr}, val)
		b.fn("Store"+suffix, []types.Type{addr, val})
		b.fn("Swap"+suffix, []types.Type{addr, val}, val)
		b.fn("CompareAndSwap"+suffix, []types.Type{addr, val, val}, boolT)
		if kind == types.UnsafePointer {
			continue
		}
		b.fn("Add"+suffix, []types.Type{addr, val}, val)
		b.fn("And"+suffix, []types.Type{addr, val}, val)
		b.fn("Or"+suffix, []types.Type{addr, val}, val)
	}
	return b.done()
}

// atomicAdd returns the new value; the intrinsic yields the old one.
func atomicAdd(fl *funcLowerer, _ *ssa.CallCommon, args []mir.Operand, dest mir.Place) {
	old := fl.temp(fl.placeTy(dest))
	fl.intrinsic("atomic_xadd_seqcst", nil, args, old)
	fl.assign(dest, mir.BinaryOp{Op: mir.Add, A: mir.Copy{Place: old}, B: args[1]})
}

// compareAndSwap keeps the success flag of the (previous, ok) pair.
func compareAndSwap(fl *funcLowerer, _ *ssa.CallCommon, args []mir.Operand, dest mir.Place) {
	val := fl.operandTy(args[1])
	pair := mir.TupleOf(val, mir.BoolTy())
	res := fl.temp(pair)
	fl.intrinsic("atomic_cxchg_seqcst_seqcst", nil, args, res)
	ok := mir.Place{Local: res.Local, Proj: []mir.Projection{{Kind: mir.Field, Field: 1, Ty: mir.BoolTy()}}}
	fl.assign(dest, mir.Use{Op: mir.Copy{Place: ok}})
}
