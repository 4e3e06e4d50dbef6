// Map-based dispatch registry for stub packages. Each stub package
// registers the lowering of every function it declares.

package compiler

import (
	"go/constant"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// stubLowerer rewrites one call into a stub package. args are the lowered
// call arguments; dest receives the result.
type stubLowerer func(fl *funcLowerer, call *ssa.CallCommon, args []mir.Operand, dest mir.Place)

// stubRegistry maps Go import paths to per-function lowerers.
var stubRegistry = map[string]map[string]stubLowerer{}

// RegisterStubLowerer registers the lowering of path.name.
func RegisterStubLowerer(path, name string, fn stubLowerer) {
	m := stubRegistry[path]
	if m == nil {
		m = make(map[string]stubLowerer)
		stubRegistry[path] = m
	}
	m[name] = fn
}

func lookupStub(fn *ssa.Function) (stubLowerer, bool) {
	if fn.Pkg == nil {
		return nil, false
	}
	lower, ok := stubRegistry[fn.Pkg.Pkg.Path()][fn.Name()]
	return lower, ok
}

// stubBuilder declares functions in a stub package.
type stubBuilder struct {
	pkg *types.Package
}

func newStub(path, name string) *stubBuilder {
	return &stubBuilder{pkg: types.NewPackage(path, name)}
}

// fn declares func name(params...) results.
func (b *stubBuilder) fn(name string, params []types.Type, results ...types.Type) {
	b.pkg.Scope().Insert(types.NewFunc(token.NoPos, b.pkg, name,
		types.NewSignatureType(nil, nil, nil, b.tuple(params), b.tuple(results), false)))
}

func (b *stubBuilder) tuple(ts []types.Type) *types.Tuple {
	vars := make([]*types.Var, len(ts))
	for i, t := range ts {
		vars[i] = types.NewVar(token.NoPos, b.pkg, "", t)
	}
	return types.NewTuple(vars...)
}

func (b *stubBuilder) addConst(name string, t types.Type, v constant.Value) {
	b.pkg.Scope().Insert(types.NewConst(token.NoPos, b.pkg, name, t, v))
}

func (b *stubBuilder) done() *types.Package {
	b.pkg.MarkComplete()
	return b.pkg
}
