// Package compiler is the Go frontend: it type-checks Go source against
// stub packages, builds SSA with golang.org/x/tools/go/ssa and translates
// every function into the frontend IR consumed by package lower.
package compiler

import (
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"go/types"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// EntryName is the symbol of the program entry point.
const EntryName = "main.main"

// Unit is the result of compiling one Go package.
type Unit struct {
	Program *mir.Program
	// Env serves the layouts and allocations the program refers to.
	Env *mir.Env
	// SSA is the built package, kept for dumping.
	SSA *ssa.Package
}

// Compiler compiles one Go package to the frontend IR.
type Compiler struct {
	fset    *token.FileSet
	env     *mir.Env
	types   typeMapper
	pkg     *ssa.Package
	globals map[*ssa.Global]mir.AllocID
	strs    map[string]mir.AllocID
	funcs   map[*ssa.Function]mir.AllocID
	zeros   map[string]mir.AllocID
}

// New creates a new Compiler.
func New() *Compiler {
	return &Compiler{
		fset:    token.NewFileSet(),
		env:     mir.NewEnv(),
		globals: make(map[*ssa.Global]mir.AllocID),
		strs:    make(map[string]mir.AllocID),
		funcs:   make(map[*ssa.Function]mir.AllocID),
		zeros:   make(map[string]mir.AllocID),
	}
}

// CompileFile compiles a single Go source file.
func (c *Compiler) CompileFile(filename string, src []byte) (*Unit, error) {
	return c.CompileFiles([]string{filename}, [][]byte{src})
}

// CompileDir compiles every non-test .go file in dir as one package.
func (c *Compiler) CompileDir(dir string) (*Unit, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	sort.Strings(matches)
	var names []string
	var srcs [][]byte
	for _, path := range matches {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		names = append(names, path)
		srcs = append(srcs, src)
	}
	if len(names) == 0 {
		return nil, errors.Newf("no Go files in %s", dir)
	}
	return c.CompileFiles(names, srcs)
}

// CompileFiles compiles the given sources as one package.
func (c *Compiler) CompileFiles(filenames []string, srcs [][]byte) (*Unit, error) {
	if len(filenames) != len(srcs) {
		return nil, errors.AssertionFailedf("%d file names for %d sources", len(filenames), len(srcs))
	}
	var files []*ast.File
	for i, name := range filenames {
		f, err := parser.ParseFile(c.fset, name, srcs[i], parser.SkipObjectResolution)
		if err != nil {
			return nil, errors.Wrap(err, "parse")
		}
		files = append(files, f)
	}

	imp := newStubImporter()
	conf := types.Config{Importer: imp}
	info := &types.Info{
		Types:        make(map[ast.Expr]types.TypeAndValue),
		Defs:         make(map[*ast.Ident]types.Object),
		Uses:         make(map[*ast.Ident]types.Object),
		Implicits:    make(map[ast.Node]types.Object),
		Instances:    make(map[*ast.Ident]types.Instance),
		Scopes:       make(map[ast.Node]*types.Scope),
		Selections:   make(map[*ast.SelectorExpr]*types.Selection),
		FileVersions: make(map[*ast.File]string),
	}
	pkg, err := conf.Check(files[0].Name.Name, c.fset, files, info)
	if err != nil {
		return nil, errors.Wrap(err, "typecheck")
	}

	prog := ssa.NewProgram(c.fset, ssa.InstantiateGenerics)
	for _, stub := range imp.packages() {
		prog.CreatePackage(stub, nil, nil, true)
	}
	c.pkg = prog.CreatePackage(pkg, files, info, false)
	c.pkg.Build()

	out, err := c.program(prog)
	if err != nil {
		return nil, err
	}
	return &Unit{Program: out, Env: c.env, SSA: c.pkg}, nil
}

// program translates every built function of the package and registers
// its globals.
func (c *Compiler) program(prog *ssa.Program) (out *mir.Program, err error) {
	defer fault.Catch(&err)
	out = &mir.Program{Name: c.pkg.Pkg.Name()}

	var globals []*ssa.Global
	for _, m := range c.pkg.Members {
		if g, ok := m.(*ssa.Global); ok {
			globals = append(globals, g)
		}
	}
	slices.SortFunc(globals, func(a, b *ssa.Global) int { return strings.Compare(a.Name(), b.Name()) })
	for _, g := range globals {
		out.Statics = append(out.Statics, c.global(g))
	}

	for _, fn := range c.functions(prog) {
		f, err := c.lowerFunc(fn)
		if err != nil {
			return nil, err
		}
		out.Funcs = append(out.Funcs, f)
		if f.Name == EntryName {
			out.Entry = EntryName
		}
	}
	return out, nil
}

// functions lists the functions of the package that have bodies, in a
// stable order. Generic functions are skipped; their instances are
// listed instead.
func (c *Compiler) functions(prog *ssa.Program) []*ssa.Function {
	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Pkg != c.pkg || fn.Blocks == nil {
			continue
		}
		if fn.TypeParams().Len() > 0 && len(fn.TypeArgs()) == 0 {
			continue
		}
		fns = append(fns, fn)
	}
	slices.SortFunc(fns, func(a, b *ssa.Function) int { return strings.Compare(symbol(a), symbol(b)) })
	return fns
}

// symbol is the link name of fn: package-qualified, with methods named
// after their receiver's base type.
func symbol(fn *ssa.Function) string {
	if recv := fn.Signature.Recv(); recv != nil {
		t := recv.Type()
		if p, ok := t.(*types.Pointer); ok {
			t = p.Elem()
		}
		if named, ok := types.Unalias(t).(*types.Named); ok {
			return typeName(named) + "." + fn.Name()
		}
	}
	if fn.Pkg != nil && fn.Parent() == nil {
		return fn.Pkg.Pkg.Name() + "." + fn.Name()
	}
	return fn.String()
}

func (c *Compiler) ty(t types.Type) *mir.Ty { return c.types.ty(t) }

// global registers the static backing g, zero-initialized.
func (c *Compiler) global(g *ssa.Global) mir.AllocID {
	if id, ok := c.globals[g]; ok {
		return id
	}
	fault.Check(g.Pkg == c.pkg, "global %s of package %s", g, g.Pkg)
	elem := c.ty(g.Type().(*types.Pointer).Elem())
	id := c.env.AddAlloc(mir.StaticItem{
		Name: g.Pkg.Pkg.Name() + "." + g.Name(),
		Ty:   elem,
		Init: c.zero(elem),
	})
	c.globals[g] = id
	return id
}

// zero returns zeroed memory the size of t.
func (c *Compiler) zero(t *mir.Ty) mir.AllocID {
	key := t.Key()
	if id, ok := c.zeros[key]; ok {
		return id
	}
	lay := c.env.LayoutOf(t)
	id := c.env.AddBytes(make([]byte, lay.Size), max(lay.Align, 1))
	c.zeros[key] = id
	return id
}

// funcAddr registers the address of fn.
func (c *Compiler) funcAddr(fn *ssa.Function) mir.AllocID {
	if id, ok := c.funcs[fn]; ok {
		return id
	}
	id := c.env.AddAlloc(mir.Function{Symbol: symbol(fn), Sig: c.types.sig(fn.Signature)})
	c.funcs[fn] = id
	return id
}

// constant translates an SSA constant. A nil value is the zero value of
// its type.
func (c *Compiler) constant(k *ssa.Const) mir.Operand {
	t := c.ty(k.Type())
	if k.Value == nil {
		switch t.Kind {
		case mir.Bool, mir.Int, mir.Uint, mir.Float, mir.RawPtr, mir.FnPtr:
			return mir.Const{Value: mir.ScalarOf(0, int(c.env.LayoutOf(t).Size)), Ty: t}
		}
		if c.env.LayoutOf(t).Size == 0 {
			return mir.Const{Value: mir.ZeroSized{}, Ty: t}
		}
		return mir.Const{Value: mir.Indirect{Alloc: c.zero(t)}, Ty: t}
	}

	size := int(c.env.LayoutOf(t).Size)
	switch k.Value.Kind() {
	case constant.Bool:
		var bit uint64
		if constant.BoolVal(k.Value) {
			bit = 1
		}
		return mir.Const{Value: mir.ScalarOf(bit, size), Ty: t}
	case constant.String:
		s := constant.StringVal(k.Value)
		return mir.Const{Value: mir.SliceConst{Data: c.stringData(s), Meta: uint64(len(s))}, Ty: t}
	case constant.Int:
		if t.Kind == mir.Float {
			return c.floatConst(k.Value, t)
		}
		if v, exact := constant.Uint64Val(k.Value); exact {
			return mir.Const{Value: mir.ScalarOf(v, size), Ty: t}
		}
		v, _ := constant.Int64Val(k.Value)
		return mir.Const{Value: mir.ScalarOf(truncate(uint64(v), size), size), Ty: t}
	case constant.Float:
		return c.floatConst(k.Value, t)
	}
	fault.Unimplemented("constant %s of type %s", k.Value, k.Type())
	return nil
}

func (c *Compiler) floatConst(v constant.Value, t *mir.Ty) mir.Operand {
	f, _ := constant.Float64Val(v)
	if t.Bits == 32 {
		return mir.Const{Value: mir.ScalarOf(uint64(math.Float32bits(float32(f))), 4), Ty: t}
	}
	return mir.Const{Value: mir.ScalarOf(math.Float64bits(f), 8), Ty: t}
}

// truncate keeps the low size bytes of v.
func truncate(v uint64, size int) uint64 {
	if size >= 8 {
		return v
	}
	return v & (1<<(8*size) - 1)
}

// stringData interns the bytes of a string literal.
func (c *Compiler) stringData(s string) mir.AllocID {
	if id, ok := c.strs[s]; ok {
		return id
	}
	id := c.env.AddBytes([]byte(s), 1)
	c.strs[s] = id
	return id
}
