package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// mathFn describes a float intrinsic backed by a runtime math method.
type mathFn struct {
	intrinsic string
	method    string
	arity     int
	// onFloatType selects System.Single/System.Double over MathF/Math.
	onFloatType bool
}

var mathFns = []mathFn{
	{"sqrt", "Sqrt", 1, false},
	{"fabs", "Abs", 1, false},
	{"exp", "Exp", 1, false},
	{"exp2", "Exp2", 1, true},
	{"log", "Log", 1, false},
	{"log2", "Log2", 1, false},
	{"log10", "Log10", 1, false},
	{"sin", "Sin", 1, false},
	{"cos", "Cos", 1, false},
	{"pow", "Pow", 2, false},
	{"copysign", "CopySign", 2, false},
	{"floor", "Floor", 1, false},
	{"ceil", "Ceiling", 1, false},
	{"trunc", "Truncate", 1, false},
	{"rint", "Round", 1, false},
	{"nearbyint", "Round", 1, false},
	{"roundeven", "Round", 1, false},
	{"fma", "FusedMultiplyAdd", 3, false},
	{"maxnum", "MaxNumber", 2, true},
	{"minnum", "MinNumber", 2, true},
}

// mathClass returns the runtime class holding math for float type fl.
func mathClass(fl asm.Float, onFloatType bool) string {
	switch {
	case fl == asm.F32 && onFloatType:
		return "System.Single"
	case fl == asm.F32:
		return "System.MathF"
	case onFloatType:
		return "System.Double"
	}
	return "System.Math"
}

func floatOfSuffix(suffix string) asm.Float {
	switch suffix {
	case "f16":
		return asm.F16
	case "f32":
		return asm.F32
	case "f64":
		return asm.F64
	}
	return asm.F128
}

func mathCall(fn mathFn, fl asm.Float) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		if fl != asm.F32 && fl != asm.F64 {
			fault.Unimplemented("%s on %s", c.name, fl)
		}
		a := f.a
		t := a.FloatTy(fl)
		ins := make([]asm.TypeIdx, fn.arity)
		args := make([]asm.NodeIdx, fn.arity)
		for i := range ins {
			ins[i] = t
			args[i] = c.arg(f, i)
		}
		return f.assign(c.dest, f.libCall(mathClass(fl, fn.onFloatType), fn.method, t, ins, args...))
	}
}

// round rounds half away from zero, which the runtime's default Round
// does not do.
func round(fl asm.Float) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		if fl != asm.F32 && fl != asm.F64 {
			fault.Unimplemented("%s on %s", c.name, fl)
		}
		a := f.a
		t := a.FloatTy(fl)
		mode := a.IntTy(asm.I32)
		const awayFromZero = 1
		res := f.libCall(mathClass(fl, false), "Round", t, []asm.TypeIdx{t, mode}, c.arg(f, 0), a.ConstI32(awayFromZero))
		return f.assign(c.dest, res)
	}
}

// powi raises to an integer power by converting the exponent.
func powi(fl asm.Float) lowerFn {
	return func(f *fnCtx, c *icall) []asm.RootIdx {
		if fl != asm.F32 && fl != asm.F64 {
			fault.Unimplemented("%s on %s", c.name, fl)
		}
		a := f.a
		t := a.FloatTy(fl)
		exp := a.AllocNode(asm.FloatCast{Target: fl, Val: c.arg(f, 1)})
		return f.assign(c.dest, f.libCall(mathClass(fl, false), "Pow", t, []asm.TypeIdx{t, t}, c.arg(f, 0), exp))
	}
}

func init() {
	for _, suffix := range []string{"f16", "f32", "f64", "f128"} {
		fl := floatOfSuffix(suffix)
		for _, fn := range mathFns {
			register(LibraryCall, mathCall(fn, fl), fn.intrinsic+suffix)
		}
		register(LibraryCall, round(fl), "round"+suffix)
		register(LibraryCall, powi(fl), "powi"+suffix)
	}
}
