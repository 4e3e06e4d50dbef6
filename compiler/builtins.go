package compiler

import (
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// printFunc describes a print helper of the C prelude.
type printFunc struct {
	name string
	arg  *mir.Ty
}

var (
	printInt     = printFunc{"go_print_int", mir.IntTy(64)}
	printUint    = printFunc{"go_print_uint", mir.UintTy(64)}
	printFloat   = printFunc{"go_print_float", mir.FloatTy(64)}
	printBool    = printFunc{"go_print_bool", mir.BoolTy()}
	printPointer = printFunc{"go_print_pointer", mir.PtrTo(mir.UintTy(8))}
)

func voidSig(in ...*mir.Ty) *mir.FnSig { return &mir.FnSig{Inputs: in, Output: mir.UnitTy()} }

func (fl *funcLowerer) callInstr(in *ssa.Call) {
	common := in.Common()
	if common.IsInvoke() {
		fault.Unimplemented("%s: interface method calls", fl.pos(in))
	}
	dest := fl.dest(in)
	if b, ok := common.Value.(*ssa.Builtin); ok {
		fl.builtin(in, b, common.Args, dest)
		return
	}

	args := make([]mir.Operand, len(common.Args))
	for i, a := range common.Args {
		args[i] = fl.operand(a)
	}
	if fn := common.StaticCallee(); fn != nil {
		if lower, ok := lookupStub(fn); ok {
			lower(fl, common, args, dest)
			return
		}
		if fn.Blocks == nil {
			if fn.Name() == "init" && fn.Pkg != nil && packageRegistry[fn.Pkg.Pkg.Path()] != nil {
				// Stub packages have nothing to initialize.
				return
			}
			fault.Unimplemented("%s: call to %s, which has no body", fl.pos(in), fn)
		}
		fl.call(mir.Callee{Symbol: symbol(fn), Sig: fl.c.types.sig(fn.Signature)}, args, dest)
		return
	}
	sig := fl.c.types.sig(common.Signature())
	fl.call(mir.Callee{Ptr: fl.operand(common.Value), Sig: sig}, args, dest)
}

func (fl *funcLowerer) builtin(in *ssa.Call, b *ssa.Builtin, args []ssa.Value, dest mir.Place) {
	switch b.Name() {
	case "print", "println":
		for i, a := range args {
			if i > 0 && b.Name() == "println" {
				fl.helper("go_print_sp", voidSig())
			}
			fl.print(in, a)
		}
		if b.Name() == "println" {
			fl.helper("go_print_nl", voidSig())
		}
	case "len":
		if !isString(args[0].Type()) {
			fault.Unimplemented("%s: len of %s", fl.pos(in), args[0].Type())
		}
		n := fl.strLen(fl.operand(args[0]))
		fl.assign(dest, mir.Cast{Kind: mir.IntToInt, Op: n, Ty: fl.placeTy(dest)})
	default:
		fault.Unimplemented("%s: builtin %s", fl.pos(in), b.Name())
	}
}

// print emits the helper call printing one value.
func (fl *funcLowerer) print(in *ssa.Call, v ssa.Value) {
	op := fl.operand(v)
	if isString(v.Type()) {
		u8 := mir.PtrTo(mir.UintTy(8))
		data := fl.cast(mir.PtrToPtr, op, u8)
		fl.helper("go_print_string", voidSig(u8, mir.UintTy(0)), data, fl.strLen(op))
		return
	}
	var pf printFunc
	kind := mir.IntToInt
	switch t := v.Type().Underlying().(type) {
	case *types.Basic:
		info := t.Info()
		switch {
		case info&types.IsBoolean != 0:
			pf = printBool
		case info&types.IsInteger != 0 && info&types.IsUnsigned != 0:
			pf = printUint
		case info&types.IsInteger != 0:
			pf = printInt
		case info&types.IsFloat != 0:
			pf, kind = printFloat, mir.FloatToFloat
		case t.Kind() == types.UnsafePointer:
			pf, kind = printPointer, mir.PtrToPtr
		default:
			fault.Unimplemented("%s: printing %s", fl.pos(in), v.Type())
		}
	case *types.Pointer:
		pf, kind = printPointer, mir.PtrToPtr
	default:
		fault.Unimplemented("%s: printing %s", fl.pos(in), v.Type())
	}
	if fl.operandTy(op).Key() != pf.arg.Key() {
		op = fl.cast(kind, op, pf.arg)
	}
	fl.helper(pf.name, voidSig(pf.arg), op)
}

// strLen reads the byte length of a string through size_of_val.
func (fl *funcLowerer) strLen(s mir.Operand) mir.Operand {
	n := fl.temp(mir.UintTy(0))
	fl.intrinsic("size_of_val", []*mir.Ty{mir.StrTy()}, []mir.Operand{s}, n)
	return mir.Copy{Place: n}
}

func isString(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsString != 0
}
