package compiler

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/infernode/tools/ilower/config"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

func compileTestdata(t *testing.T, name string) *Unit {
	t.Helper()
	path := filepath.Join("..", "testdata", name)
	src, err := os.ReadFile(path)
	require.NoError(t, err)
	u, err := New().CompileFile(path, src)
	require.NoError(t, err)
	return u
}

func findFunc(t *testing.T, u *Unit, name string) *mir.Func {
	t.Helper()
	for _, fn := range u.Program.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	names := make([]string, len(u.Program.Funcs))
	for i, fn := range u.Program.Funcs {
		names[i] = fn.Name
	}
	t.Fatalf("no function %s in %v", name, names)
	return nil
}

// calls lists the callees of fn in block order.
func calls(fn *mir.Func) (named, intrinsics []string) {
	for _, blk := range fn.Body.Blocks {
		call, ok := blk.Term.(mir.Call)
		if !ok {
			continue
		}
		if call.Func.Intrinsic {
			intrinsics = append(intrinsics, call.Func.Symbol)
		} else if call.Func.Symbol != "" {
			named = append(named, call.Func.Symbol)
		}
	}
	return named, intrinsics
}

func terminators[T mir.Terminator](fn *mir.Func) []T {
	var out []T
	for _, blk := range fn.Body.Blocks {
		if t, ok := blk.Term.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestCompileHelloWorld(t *testing.T) {
	u := compileTestdata(t, "hello.go")
	assert.Equal(t, "main", u.Program.Name)
	assert.Equal(t, EntryName, u.Program.Entry)

	main := findFunc(t, u, "main.main")
	assert.True(t, main.Public)
	assert.Equal(t, mir.UnitTy().Key(), main.Sig.Output.Key())
	named, intrinsics := calls(main)
	assert.Contains(t, named, "go_print_string")
	assert.Equal(t, "go_print_nl", named[len(named)-1])
	assert.Contains(t, intrinsics, "size_of_val")

	// Every block is terminated.
	for i, blk := range main.Body.Blocks {
		assert.NotNil(t, blk.Term, "bb%d", i)
	}
}

func TestCompileLoops(t *testing.T) {
	u := compileTestdata(t, "loop.go")

	sum := findFunc(t, u, "main.sum")
	assert.Equal(t, 1, sum.Body.ArgCount)
	assert.Equal(t, "n", sum.Body.Locals[1].Name)
	assert.Equal(t, mir.Int, sum.Sig.Output.Kind)
	assert.Equal(t, 64, sum.Sig.Output.Bits)
	assert.NotEmpty(t, terminators[mir.SwitchInt](sum))
	assert.False(t, sum.Public)

	// The swap a, b = b, a+b needs both phis read before either is written.
	fib := findFunc(t, u, "main.fib")
	var parallel bool
	for _, blk := range fib.Body.Blocks {
		if len(blk.Stmts) >= 4 {
			parallel = true
		}
	}
	assert.True(t, parallel)

	named, _ := calls(findFunc(t, u, "main.main"))
	assert.Contains(t, named, "main.sum")
	assert.Contains(t, named, "main.fib")
	assert.Contains(t, named, "go_print_sp")
}

func TestCompileStructsAndMethods(t *testing.T) {
	u := compileTestdata(t, "point.go")

	move := findFunc(t, u, "main.Point.Move")
	assert.Equal(t, 3, move.Body.ArgCount)
	recv := move.Sig.Inputs[0]
	require.Equal(t, mir.RawPtr, recv.Kind)
	assert.Equal(t, mir.Adt, recv.Elem.Kind)
	assert.Equal(t, "main.Point", recv.Elem.Name)
	assert.Equal(t, []string{"X", "Y"}, recv.Elem.FieldNames)
	assert.True(t, move.Public)

	dist := findFunc(t, u, "main.Point.Dist")
	assert.Equal(t, mir.Adt, dist.Sig.Inputs[0].Kind)

	divmod := findFunc(t, u, "main.divmod")
	out := divmod.Sig.Output
	require.Equal(t, mir.Tuple, out.Kind)
	require.Len(t, out.Fields, 2)
	assert.Equal(t, mir.Uint, out.Fields[0].Kind)
	assert.Equal(t, 32, out.Fields[0].Bits)

	abs := findFunc(t, u, "main.abs")
	var neg bool
	for _, blk := range abs.Body.Blocks {
		for _, st := range blk.Stmts {
			if as, ok := st.(mir.Assign); ok {
				if un, ok := as.Rvalue.(mir.UnaryOp); ok && un.Op == mir.Neg {
					neg = true
				}
			}
		}
	}
	assert.True(t, neg)

	named, _ := calls(findFunc(t, u, "main.main"))
	assert.Contains(t, named, "go_new")
	assert.Contains(t, named, "main.Point.Move")
	assert.Contains(t, named, "main.divmod")
}

func TestCompileGlobalsAndInit(t *testing.T) {
	u := compileTestdata(t, "globals.go")
	require.GreaterOrEqual(t, len(u.Program.Statics), 2)

	var names []string
	for _, id := range u.Program.Statics {
		g, ok := u.Env.GlobalAlloc(id)
		require.True(t, ok)
		st, ok := g.(mir.StaticItem)
		require.True(t, ok)
		names = append(names, st.Name)
	}
	assert.Contains(t, names, "main.counter")
	assert.Contains(t, names, "main.scale")

	// The package initializer runs before anything else in main.
	main := findFunc(t, u, "main.main")
	call, ok := main.Body.Blocks[0].Term.(mir.Call)
	require.True(t, ok)
	assert.Equal(t, "main.init", call.Func.Symbol)
	findFunc(t, u, "main.init")
	findFunc(t, u, "main.bump")
}

func TestCompileIntrinsics(t *testing.T) {
	u := compileTestdata(t, "intrinsics.go")
	named, intrinsics := calls(findFunc(t, u, "main.main"))
	for _, want := range []string{
		"sqrtf64", "floorf64", "transmute",
		"ctpop", "ctlz", "rotate_left", "bswap",
		"atomic_xadd_seqcst", "atomic_cxchg_seqcst_seqcst", "atomic_load_seqcst",
	} {
		assert.Contains(t, intrinsics, want)
	}
	// Stub packages have no initializer to call.
	for _, n := range named {
		assert.NotEqual(t, "math.init", n)
		assert.NotEqual(t, "atomic.init", n)
	}
}

func TestCompileArrayBoundsCheck(t *testing.T) {
	u := compileTestdata(t, "array.go")
	pick := findFunc(t, u, "main.pick")
	asserts := terminators[mir.Assert](pick)
	require.Len(t, asserts, 1)
	assert.Equal(t, "index out of range", asserts[0].Msg)
	assert.True(t, asserts[0].Expected)
}

func TestCompileUnsupportedIsCoverageGap(t *testing.T) {
	path := filepath.Join("..", "testdata", "unsupported.go")
	src, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = New().CompileFile(path, src)
	require.Error(t, err)
	assert.True(t, fault.IsCoverageGap(err), "%v", err)
	assert.False(t, fault.IsInvariant(err))
	assert.Contains(t, err.Error(), "compiling main.main")
}

func TestCompileErrors(t *testing.T) {
	_, err := New().CompileFile("bad.go", []byte("package main\nfunc main() {"))
	assert.ErrorContains(t, err, "parse")

	_, err = New().CompileFile("bad.go", []byte("package main\nfunc main() { x := 1 }"))
	assert.ErrorContains(t, err, "typecheck")

	_, err = New().CompileFile("bad.go", []byte("package main\nimport \"net/http\"\nvar _ = http.Get\nfunc main() {}"))
	assert.ErrorContains(t, err, "net/http")

	_, err = New().CompileFiles([]string{"a.go"}, nil)
	assert.Error(t, err)
}

func TestCompileDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc main() { println(two()) }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package main\nfunc two() int { return 2 }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_test.go"), []byte("package main\nfunc broken( {\n"), 0o644))

	u, err := New().CompileDir(dir)
	require.NoError(t, err)
	findFunc(t, u, "main.two")

	_, err = New().CompileDir(t.TempDir())
	assert.ErrorContains(t, err, "no Go files")
}

func TestEmitC(t *testing.T) {
	u := compileTestdata(t, "hello.go")
	var buf bytes.Buffer
	require.NoError(t, Emit(u, config.Default(), &buf))
	out := buf.String()
	assert.Contains(t, out, "main_main(")
	assert.Contains(t, out, "go_print_string(")
	assert.Contains(t, out, "int main(void) {\n\tmain_main();")
}

func TestEmitIL(t *testing.T) {
	u := compileTestdata(t, "loop.go")
	cfg := config.Default()
	cfg.Format = config.FormatIL
	var buf bytes.Buffer
	require.NoError(t, Emit(u, cfg, &buf))
	assert.Contains(t, buf.String(), "main.fib")
}

func TestEmitNeedsEntry(t *testing.T) {
	u, err := New().CompileFile("lib.go", []byte("package lib\nfunc Two() int { return 2 }\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorContains(t, Emit(u, config.Default(), &buf), "no main function")

	cfg := config.Default()
	cfg.Executable = false
	require.NoError(t, Emit(u, cfg, &buf))
	assert.Contains(t, buf.String(), "lib_Two(")
}

func TestCompileRecursion(t *testing.T) {
	u := compileTestdata(t, "fib.go")
	named, _ := calls(findFunc(t, u, "main.fib"))
	assert.Equal(t, []string{"main.fib", "main.fib"}, named)
}

func BenchmarkCompileAndEmit(b *testing.B) {
	for _, name := range []string{"fib.go", "loop.go", "point.go", "intrinsics.go"} {
		src, err := os.ReadFile(filepath.Join("..", "testdata", name))
		require.NoError(b, err)
		b.Run(name, func(b *testing.B) {
			for b.Loop() {
				u, err := New().CompileFile(name, src)
				if err != nil {
					b.Fatal(err)
				}
				if err := Emit(u, config.Default(), io.Discard); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
