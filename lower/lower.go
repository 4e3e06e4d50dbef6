// Package lower translates frontend IR (package mir) into the interned
// assembly model: it maps types and signatures, materializes constants and
// statics, lowers method bodies and rewrites intrinsic calls.
package lower

import (
	"github.com/cockroachdb/errors"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// HalfMode selects how 16-bit float constants are materialized.
type HalfMode uint8

const (
	// HalfConvert builds the value as f32 and narrows it with an explicit
	// conversion call.
	HalfConvert HalfMode = iota
	// HalfNative emits an f16 literal.
	HalfNative
	// HalfUnsupported rejects f16 constants.
	HalfUnsupported
)

// Options tune target-dependent lowering decisions.
type Options struct {
	Half HalfMode
}

// Lowerer holds the state shared by every method of one compilation unit.
type Lowerer struct {
	a     *asm.Assembly
	fe    mir.Frontend
	opts  Options
	types *TypeMapper
}

// New creates a Lowerer writing into a.
func New(a *asm.Assembly, fe mir.Frontend, opts Options) *Lowerer {
	return &Lowerer{a: a, fe: fe, opts: opts, types: NewTypeMapper(a, fe)}
}

// Assembly returns the assembly being built.
func (l *Lowerer) Assembly() *asm.Assembly { return l.a }

// Types returns the type mapper.
func (l *Lowerer) Types() *TypeMapper { return l.types }

// Program lowers every function and listed static of p, then runs the
// clean-up passes that must precede export. A fault aborts the whole unit.
func (l *Lowerer) Program(p *mir.Program) (err error) {
	defer fault.Catch(&err)
	for _, fn := range p.Funcs {
		if err := l.Func(fn); err != nil {
			return err
		}
	}
	for _, id := range p.Statics {
		l.staticAddr(id, nil)
	}
	asm.PromoteConstPtrs(l.a)
	for _, def := range l.a.MethodDefs() {
		for i := range def.Blocks {
			asm.FlattenSubTrees(l.a, &def.Blocks[i])
		}
	}
	return nil
}

// Func lowers one function body into a method definition on the main
// module.
func (l *Lowerer) Func(fn *mir.Func) (err error) {
	// Runs after Catch.
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "lowering %s", fn.Name)
		}
	}()
	defer fault.Catch(&err)
	l.method(fn)
	return nil
}

// FuncRef interns the method reference a call to symbol with signature
// sig resolves to.
func (l *Lowerer) FuncRef(symbol string, sig *mir.FnSig) asm.MethodIdx {
	return l.a.StaticMethod(l.a.MainModule(), symbol, l.types.Sig(sig))
}
