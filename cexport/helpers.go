package cexport

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
)

var (
	defineRe = regexp.MustCompile(`(?m)^#define (\w+)`)
	inlineRe = regexp.MustCompile(`(?m)^static inline [\w ]+?\**(\w+)\(`)

	// runtimeMethods are the runtime library entry points the header maps
	// onto C. headerHelpers are support helpers it defines outright.
	runtimeMethods = names(defineRe)
	headerHelpers  = names(inlineRe)
)

func names(re *regexp.Regexp) map[string]bool {
	out := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(header, -1) {
		out[m[1]] = true
	}
	return out
}

var helperPatterns = []struct {
	re   *regexp.Regexp
	body func(op string, i asm.Int) string
}{
	{regexp.MustCompile(`^atomic_(\w+?)_([iu](?:8|16|32|64|128|size))$`), atomicBody},
	{regexp.MustCompile(`^saturating_(add|sub)_([iu](?:8|16|32|64|128|size))$`), saturatingBody},
	{regexp.MustCompile(`^(add|sub|mul)_ovf_([iu](?:8|16|32|64|128|size))$`), overflowBody},
	{regexp.MustCompile(`^(ctpop|ctlz|cttz|ctlz_nonzero|cttz_nonzero|bitreverse)_([iu]128)$`), bits128Body},
	{regexp.MustCompile(`^(bitreverse)_([iu](?:8|16|32|64|size))$`), bitreverseBody},
	{regexp.MustCompile(`^(mul|add|div)_([iu]128)$`), wideBody},
}

func parseInt(s string) asm.Int {
	for i, t := range intTypes {
		if i.String() == s && t != "" {
			return i
		}
	}
	return 0
}

// synthesize returns a C body for a runtime helper whose behavior is
// implied by its name.
func (e *Exporter) synthesize(a *asm.Assembly, m asm.MethodIdx) (string, bool) {
	name := a.String(a.Method(m).Name)
	for _, p := range helperPatterns {
		sub := p.re.FindStringSubmatch(name)
		if sub == nil {
			continue
		}
		i := parseInt(sub[2])
		if i == 0 {
			return "", false
		}
		if body := p.body(sub[1], i); body != "" {
			return body, true
		}
	}
	return "", false
}

func atomicBody(op string, i asm.Int) string {
	t := intTypes[i]
	switch op {
	case "cmpxchg":
		return "\treturn __sync_val_compare_and_swap(A0, A2, A1);\n"
	case "xchg":
		return "\treturn __atomic_exchange_n(A0, A1, __ATOMIC_SEQ_CST);\n"
	case "add", "sub", "and", "or", "xor", "nand":
		return fmt.Sprintf("\treturn __atomic_fetch_%s(A0, A1, __ATOMIC_SEQ_CST);\n", op)
	case "min", "max", "umin", "umax":
		cmp := "<"
		if strings.HasSuffix(op, "max") {
			cmp = ">"
		}
		x, y := "A1", "old"
		if op[0] == 'u' {
			x, y = "ILOWER_U(A1)", "ILOWER_U(old)"
		}
		return fmt.Sprintf("\t%s old = __atomic_load_n(A0, __ATOMIC_SEQ_CST);\n"+
			"\twhile (!__atomic_compare_exchange_n(A0, &old, %s %s %s ? A1 : old, false, __ATOMIC_SEQ_CST, __ATOMIC_SEQ_CST))\n"+
			"\t\t;\n\treturn old;\n", t, x, cmp, y)
	}
	return ""
}

func limits(i asm.Int) (lo, hi string) {
	t := intTypes[i]
	u := intTypes[i.Unsigned()]
	if !i.Signed() {
		return fmt.Sprintf("((%s)0)", t), fmt.Sprintf("((%s)~(%s)0)", t, t)
	}
	hi = fmt.Sprintf("((%s)(((%s)~(%s)0) >> 1))", t, u, u)
	return fmt.Sprintf("(-%s - 1)", hi), hi
}

func saturatingBody(op string, i asm.Int) string {
	t := intTypes[i]
	lo, hi := limits(i)
	clamp := hi
	switch {
	case !i.Signed() && op == "sub":
		clamp = lo
	case i.Signed():
		// Signed overflow saturates toward the sign of A0.
		clamp = fmt.Sprintf("(A0 < 0 ? %s : %s)", lo, hi)
	}
	return fmt.Sprintf("\t%s r;\n\tif (__builtin_%s_overflow(A0, A1, &r))\n\t\treturn %s;\n\treturn r;\n", t, op, clamp)
}

func overflowBody(op string, i asm.Int) string {
	return fmt.Sprintf("\t%s r;\n\treturn __builtin_%s_overflow(A0, A1, &r);\n", intTypes[i], op)
}

func bits128Body(op string, i asm.Int) string {
	t := intTypes[i]
	const split = "\tuint64_t hi = (uint64_t)((unsigned __int128)A0 >> 64), lo = (uint64_t)A0;\n"
	switch op {
	case "ctpop":
		return split + fmt.Sprintf("\treturn (%s)(__builtin_popcountll(hi) + __builtin_popcountll(lo));\n", t)
	case "ctlz", "ctlz_nonzero":
		return split + fmt.Sprintf("\tif (hi)\n\t\treturn (%s)__builtin_clzll(hi);\n\treturn (%s)(lo ? 64 + __builtin_clzll(lo) : 128);\n", t, t)
	case "cttz", "cttz_nonzero":
		return split + fmt.Sprintf("\tif (lo)\n\t\treturn (%s)__builtin_ctzll(lo);\n\treturn (%s)(hi ? 64 + __builtin_ctzll(hi) : 128);\n", t, t)
	}
	return bitreverseBody(op, i)
}

func bitreverseBody(_ string, i asm.Int) string {
	u := intTypes[i.Unsigned()]
	return fmt.Sprintf("\t%s x = (%s)A0, r = 0;\n\tfor (int n = 0; n < %d; n++, x >>= 1)\n\t\tr = (r << 1) | (x & 1);\n\treturn (%s)r;\n",
		u, u, i.Bits(), intTypes[i])
}

func wideBody(op string, _ asm.Int) string {
	sym := map[string]string{"mul": "*", "add": "+", "div": "/"}[op]
	return fmt.Sprintf("\treturn A0 %s A1;\n", sym)
}
