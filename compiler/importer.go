package compiler

import (
	"go/types"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// packageRegistry maps Go import paths to builder functions that create
// type-checked package stubs. Calls into a stub package never reach the
// output as calls: the package's stub lowerer rewrites them.
var packageRegistry = map[string]func() *types.Package{}

// RegisterPackage registers a package builder for the given import path.
func RegisterPackage(path string, builder func() *types.Package) {
	packageRegistry[path] = builder
}

// stubImporter resolves imports against packageRegistry. Each package is
// built once per importer so that every file of a compilation sees the
// same *types.Package.
type stubImporter struct {
	built map[string]*types.Package
}

func newStubImporter() *stubImporter {
	return &stubImporter{built: make(map[string]*types.Package)}
}

func (si *stubImporter) Import(path string) (*types.Package, error) {
	if path == "unsafe" {
		return types.Unsafe, nil
	}
	if pkg, ok := si.built[path]; ok {
		return pkg, nil
	}
	builder, ok := packageRegistry[path]
	if !ok {
		return nil, errors.Newf("unsupported import: %q", path)
	}
	pkg := builder()
	si.built[path] = pkg
	return pkg, nil
}

// packages returns the stub packages imported so far.
func (si *stubImporter) packages() []*types.Package {
	out := make([]*types.Package, 0, len(si.built))
	for _, pkg := range si.built {
		out = append(out, pkg)
	}
	slices.SortFunc(out, func(a, b *types.Package) int { return strings.Compare(a.Path(), b.Path()) })
	return out
}
