package lower

import (
	"regexp"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// Strategy is the bucket an intrinsic falls into. It only documents how an
// entry lowers; the entry's lower function does the work.
type Strategy uint8

const (
	// NoOp intrinsics lower to nothing (or a single Nop/Break).
	NoOp Strategy = iota + 1
	// DirectOp intrinsics lower to IR operators and loads/stores.
	DirectOp
	// LibraryCall intrinsics call into the target runtime library.
	LibraryCall
	// Helper intrinsics call a synthesized helper named by operation and
	// type.
	Helper
	// ConstFold intrinsics are reduced to constants ahead of time.
	ConstFold
)

func (s Strategy) String() string {
	switch s {
	case NoOp:
		return "no-op"
	case DirectOp:
		return "direct"
	case LibraryCall:
		return "library"
	case Helper:
		return "helper"
	case ConstFold:
		return "const-fold"
	}
	return "unknown"
}

// icall is one intrinsic call site.
type icall struct {
	name     string
	args     []mir.Operand
	generics []*mir.Ty
	dest     mir.Place
	sig      *mir.FnSig
}

// arg lowers argument i.
func (c *icall) arg(f *fnCtx, i int) asm.NodeIdx {
	if i >= len(c.args) {
		fault.Invariant("intrinsic %s: missing argument %d", c.name, i)
	}
	return f.operand(c.args[i])
}

// argTy returns the type of argument i.
func (c *icall) argTy(f *fnCtx, i int) *mir.Ty {
	if i >= len(c.args) {
		fault.Invariant("intrinsic %s: missing argument %d", c.name, i)
	}
	return f.operandTy(c.args[i])
}

// generic returns generic argument i.
func (c *icall) generic(i int) *mir.Ty {
	if i >= len(c.generics) {
		fault.Invariant("intrinsic %s: missing generic argument %d", c.name, i)
	}
	return c.generics[i]
}

type lowerFn func(f *fnCtx, c *icall) []asm.RootIdx

type intrinsic struct {
	strategy Strategy
	lower    lowerFn
	// flagged marks translations known to be imprecise.
	flagged bool
}

var intrinsics = map[string]intrinsic{}

func register(s Strategy, fn lowerFn, names ...string) {
	for _, n := range names {
		if _, dup := intrinsics[n]; dup {
			panic("intrinsic registered twice: " + n)
		}
		intrinsics[n] = intrinsic{strategy: s, lower: fn}
	}
}

func registerFlagged(s Strategy, fn lowerFn, names ...string) {
	register(s, fn, names...)
	for _, n := range names {
		in := intrinsics[n]
		in.flagged = true
		intrinsics[n] = in
	}
}

// orderings lists every memory-ordering suffix an atomic intrinsic may
// carry.
var orderings = []string{"relaxed", "acquire", "release", "acqrel", "seqcst", "unordered"}

// withOrderings expands base into base_<ordering> for every ordering, and
// base_<success>_<failure> for every pair when pairs is set.
func withOrderings(base string, pairs bool) []string {
	names := []string{base}
	for _, o := range orderings {
		names = append(names, base+"_"+o)
		if pairs {
			for _, o2 := range orderings {
				names = append(names, base+"_"+o+"_"+o2)
			}
		}
	}
	return names
}

var hashSuffix = regexp.MustCompile(`::h[0-9a-f]{16}$`)

// LookupIntrinsic resolves an intrinsic name: exact match first, then the
// last path segment of the demangled name. It returns the canonical name.
func LookupIntrinsic(name string) (string, Strategy, bool) {
	if in, ok := intrinsics[name]; ok {
		return name, in.strategy, true
	}
	short := lastSegment(name)
	if in, ok := intrinsics[short]; ok {
		return short, in.strategy, true
	}
	return "", 0, false
}

// IsFlagged reports whether the translation of name is marked imprecise.
func IsFlagged(name string) bool {
	return intrinsics[name].flagged
}

// lastSegment demangles name and strips it to its final path segment,
// dropping the hash suffix and generic arguments.
func lastSegment(name string) string {
	s := demangle.Filter(name)
	s = hashSuffix.ReplaceAllString(s, "")
	s = stripGenerics(s)
	if i := strings.LastIndex(s, "::"); i >= 0 {
		s = s[i+2:]
	}
	return s
}

// stripGenerics removes trailing generic arguments like ::<u32> or <T>.
func stripGenerics(s string) string {
	for strings.HasSuffix(s, ">") {
		depth := 0
		i := len(s) - 1
		for ; i >= 0; i-- {
			switch s[i] {
			case '>':
				depth++
			case '<':
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if i <= 0 {
			return s
		}
		s = strings.TrimSuffix(s[:i], "::")
	}
	return s
}

// intrinsic lowers an intrinsic call terminator.
func (f *fnCtx) intrinsic(c mir.Call) []asm.RootIdx {
	name, _, ok := LookupIntrinsic(c.Func.Symbol)
	if !ok {
		fault.Unimplemented("intrinsic %q", c.Func.Symbol)
	}
	call := &icall{name: name, args: c.Args, generics: c.Func.Generics, dest: c.Dest, sig: c.Func.Sig}
	return intrinsics[name].lower(f, call)
}

// ============================================================
// Shared lowering shapes
// ============================================================

// noop lowers to a single Nop.
func noop(f *fnCtx, c *icall) []asm.RootIdx {
	return []asm.RootIdx{f.a.Nop()}
}

// passThrough stores the first argument into the destination.
func passThrough(f *fnCtx, c *icall) []asm.RootIdx {
	return f.assign(c.dest, c.arg(f, 0))
}

// destTy returns the type of the call's destination.
func (c *icall) destTy(f *fnCtx) *mir.Ty { return f.placeTy(c.dest) }

// libCall calls a static method of a runtime library class.
func (f *fnCtx) libCall(class, method string, out asm.TypeIdx, in []asm.TypeIdx, args ...asm.NodeIdx) asm.NodeIdx {
	a := f.a
	cls := a.NamedClass(class, "System.Runtime", false)
	m := a.StaticMethod(cls, method, a.Signature(out, in...))
	return a.CallNode(m, args...)
}

// helperCall calls a synthesized helper on the main module.
func (f *fnCtx) helperCall(name string, out asm.TypeIdx, in []asm.TypeIdx, args ...asm.NodeIdx) asm.NodeIdx {
	return f.a.CallNode(f.a.Helper(name, out, in...), args...)
}

func init() {
	register(NoOp, noop,
		"assume", "cold_path", "assert_inhabited", "assert_zero_valid",
		"assert_mem_uninitialized_valid", "const_deallocate",
	)
	register(NoOp, func(f *fnCtx, c *icall) []asm.RootIdx {
		return []asm.RootIdx{f.a.AllocRoot(asm.Break{})}
	}, "breakpoint")
	register(DirectOp, passThrough, "likely", "unlikely")
	register(DirectOp, func(f *fnCtx, c *icall) []asm.RootIdx {
		if f.types.IsZST(c.argTy(f, 0)) {
			return nil
		}
		return passThrough(f, c)
	}, "black_box")
	register(ConstFold, func(f *fnCtx, c *icall) []asm.RootIdx {
		return f.assign(c.dest, f.a.ConstBool(false))
	}, "is_val_statically_known")
	register(ConstFold, func(f *fnCtx, c *icall) []asm.RootIdx {
		ty := c.destTy(f)
		return f.assign(c.dest, f.a.PtrCast(f.types.Type(ty), f.a.ConstUSize(0)))
	}, "const_allocate")
	register(DirectOp, func(f *fnCtx, c *icall) []asm.RootIdx {
		return []asm.RootIdx{f.a.ThrowMsg("abort called")}
	}, "abort")
	register(DirectOp, func(f *fnCtx, c *icall) []asm.RootIdx {
		return []asm.RootIdx{f.a.ThrowMsg("entered unreachable code")}
	}, "unreachable")
	register(Helper, func(f *fnCtx, c *icall) []asm.RootIdx {
		a := f.a
		vp := a.Ptr(a.IntTy(asm.U8))
		tryFn := a.FnPtr(a.Signature(a.Void(), vp))
		catchFn := a.FnPtr(a.Signature(a.Void(), vp, vp))
		call := f.helperCall("catch_unwind", a.IntTy(asm.I32), []asm.TypeIdx{tryFn, vp, catchFn},
			a.PtrCast(tryFn, c.arg(f, 0)), a.PtrCast(vp, c.arg(f, 1)), a.PtrCast(catchFn, c.arg(f, 2)))
		return f.assign(c.dest, call)
	}, "catch_unwind")
}
