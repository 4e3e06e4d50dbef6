package compiler

import (
	"go/constant"
	"go/types"
	"math"

	"golang.org/x/tools/go/ssa"

	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

func init() {
	RegisterPackage("math", buildMathPackage)
	RegisterPackage("math/bits", buildMathBitsPackage)

	for name, in := range mathIntrinsics {
		RegisterStubLowerer("math", name, direct(in))
	}
	for _, name := range []string{"Float64bits", "Float64frombits", "Float32bits", "Float32frombits"} {
		RegisterStubLowerer("math", name, transmute)
	}

	for suffix := range bitsWidths {
		RegisterStubLowerer("math/bits", "OnesCount"+suffix, direct("ctpop"))
		RegisterStubLowerer("math/bits", "LeadingZeros"+suffix, direct("ctlz"))
		RegisterStubLowerer("math/bits", "TrailingZeros"+suffix, direct("cttz"))
		RegisterStubLowerer("math/bits", "Reverse"+suffix, direct("bitreverse"))
		RegisterStubLowerer("math/bits", "Len"+suffix, bitLen)
		if suffix != "8" {
			RegisterStubLowerer("math/bits", "ReverseBytes"+suffix, direct("bswap"))
		}
		RegisterStubLowerer("math/bits", "RotateLeft"+suffix, rotateLeft)
	}
}

// mathIntrinsics maps float64 functions of package math onto float
// intrinsics.
var mathIntrinsics = map[string]string{
	"Sqrt":        "sqrtf64",
	"Abs":         "fabsf64",
	"Floor":       "floorf64",
	"Ceil":        "ceilf64",
	"Trunc":       "truncf64",
	"Round":       "roundf64",
	"RoundToEven": "roundevenf64",
	"Exp":         "expf64",
	"Exp2":        "exp2f64",
	"Log":         "logf64",
	"Log2":        "log2f64",
	"Log10":       "log10f64",
	"Sin":         "sinf64",
	"Cos":         "cosf64",
	"Pow":         "powf64",
	"Copysign":    "copysignf64",
	"FMA":         "fmaf64",
}

func buildMathPackage() *types.Package {
	b := newStub("math", "math")
	f64 := types.Typ[types.Float64]
	for name := range mathIntrinsics {
		arity := 1
		switch name {
		case "Pow", "Copysign":
			arity = 2
		case "FMA":
			arity = 3
		}
		params := make([]types.Type, arity)
		for i := range params {
			params[i] = f64
		}
		b.fn(name, params, f64)
	}
	b.fn("Float64bits", []types.Type{f64}, types.Typ[types.Uint64])
	b.fn("Float64frombits", []types.Type{types.Typ[types.Uint64]}, f64)
	b.fn("Float32bits", []types.Type{types.Typ[types.Float32]}, types.Typ[types.Uint32])
	b.fn("Float32frombits", []types.Type{types.Typ[types.Uint32]}, types.Typ[types.Float32])

	untypedFloat := types.Typ[types.UntypedFloat]
	untypedInt := types.Typ[types.UntypedInt]
	b.addConst("Pi", untypedFloat, constant.MakeFloat64(math.Pi))
	b.addConst("E", untypedFloat, constant.MakeFloat64(math.E))
	b.addConst("Sqrt2", untypedFloat, constant.MakeFloat64(math.Sqrt2))
	b.addConst("Ln2", untypedFloat, constant.MakeFloat64(math.Ln2))
	b.addConst("MaxFloat64", untypedFloat, constant.MakeFloat64(math.MaxFloat64))
	b.addConst("SmallestNonzeroFloat64", untypedFloat, constant.MakeFloat64(math.SmallestNonzeroFloat64))
	b.addConst("MaxFloat32", untypedFloat, constant.MakeFloat64(math.MaxFloat32))
	b.addConst("MaxInt8", untypedInt, constant.MakeInt64(math.MaxInt8))
	b.addConst("MinInt8", untypedInt, constant.MakeInt64(math.MinInt8))
	b.addConst("MaxInt16", untypedInt, constant.MakeInt64(math.MaxInt16))
	b.addConst("MinInt16", untypedInt, constant.MakeInt64(math.MinInt16))
	b.addConst("MaxInt32", untypedInt, constant.MakeInt64(math.MaxInt32))
	b.addConst("MinInt32", untypedInt, constant.MakeInt64(math.MinInt32))
	b.addConst("MaxInt64", untypedInt, constant.MakeInt64(math.MaxInt64))
	b.addConst("MinInt64", untypedInt, constant.MakeInt64(math.MinInt64))
	b.addConst("MaxInt", untypedInt, constant.MakeInt64(math.MaxInt64))
	b.addConst("MinInt", untypedInt, constant.MakeInt64(math.MinInt64))
	b.addConst("MaxUint8", untypedInt, constant.MakeUint64(math.MaxUint8))
	b.addConst("MaxUint16", untypedInt, constant.MakeUint64(math.MaxUint16))
	b.addConst("MaxUint32", untypedInt, constant.MakeUint64(math.MaxUint32))
	b.addConst("MaxUint64", untypedInt, constant.MakeUint64(math.MaxUint64))
	b.addConst("MaxUint", untypedInt, constant.MakeUint64(math.MaxUint64))
	return b.done()
}

// bitsWidths maps the suffix of a math/bits function to its operand type.
// The empty suffix is uint.
var bitsWidths = map[string]types.BasicKind{
	"":   types.Uint,
	"8":  types.Uint8,
	"16": types.Uint16,
	"32": types.Uint32,
	"64": types.Uint64,
}

func buildMathBitsPackage() *types.Package {
	b := newStub("math/bits", "bits")
	intT := types.Typ[types.Int]
	for suffix, kind := range bitsWidths {
		x := types.Typ[kind]
		b.fn("OnesCount"+suffix, []types.Type{x}, intT)
		b.fn("LeadingZeros"+suffix, []types.Type{x}, intT)
		b.fn("TrailingZeros"+suffix, []types.Type{x}, intT)
		b.fn("Len"+suffix, []types.Type{x}, intT)
		b.fn("Reverse"+suffix, []types.Type{x}, x)
		if suffix != "8" {
			b.fn("ReverseBytes"+suffix, []types.Type{x}, x)
		}
		// func RotateLeft<suffix>(x T, k int) T
		b.fn("RotateLeft"+suffix, []types.Type{x, intT}, x)
	}
	b.addConst("UintSize", types.Typ[types.UntypedInt], constant.MakeInt64(64))
	return b.done()
}

// direct lowers a call to the intrinsic name taking the same arguments.
func direct(name string) stubLowerer {
	return func(fl *funcLowerer, _ *ssa.CallCommon, args []mir.Operand, dest mir.Place) {
		fl.intrinsic(name, nil, args, dest)
	}
}

func transmute(fl *funcLowerer, _ *ssa.CallCommon, args []mir.Operand, dest mir.Place) {
	from, to := fl.operandTy(args[0]), fl.placeTy(dest)
	fl.intrinsic("transmute", []*mir.Ty{from, to}, args, dest)
}

// bitLen is the width minus the leading zero count.
func bitLen(fl *funcLowerer, _ *ssa.CallCommon, args []mir.Operand, dest mir.Place) {
	ty := fl.operandTy(args[0])
	lz := fl.temp(fl.placeTy(dest))
	fl.intrinsic("ctlz", nil, args, lz)
	width := mir.Const{Value: mir.ScalarOf(uint64(ty.Bits), 8), Ty: fl.placeTy(dest)}
	fl.assign(dest, mir.BinaryOp{Op: mir.Sub, A: width, B: mir.Copy{Place: lz}})
}

// rotateLeft narrows the signed rotate count. The count is reduced modulo
// the width, so negative counts rotate right.
func rotateLeft(fl *funcLowerer, _ *ssa.CallCommon, args []mir.Operand, dest mir.Place) {
	k := fl.cast(mir.IntToInt, args[1], mir.UintTy(32))
	fl.intrinsic("rotate_left", nil, []mir.Operand{args[0], k}, dest)
}
