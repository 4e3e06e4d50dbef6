package asm

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// Exporter consumes a finished assembly and writes it in some target
// format. Export drives the calls in a fixed order: types, allocations,
// statics, externs and helpers, methods, then Finalize.
type Exporter interface {
	// AddType registers a class definition. Exporters that need
	// definitions in dependency order defer a type until every type it
	// embeds has been added.
	AddType(a *Assembly, def *ClassDef) error
	// AddAlloc registers the content of a global allocation.
	AddAlloc(a *Assembly, data *AllocData) error
	// AddStatic registers storage for a static field.
	AddStatic(a *Assembly, def *StaticDef) error
	// AddExtern registers a method provided outside this assembly. lib is
	// the providing library; "" means the runtime support helpers.
	AddExtern(a *Assembly, lib string, m MethodIdx) error
	// AddMethod registers a method body.
	AddMethod(a *Assembly, def *MethodDef) error
	// Finalize writes the output.
	Finalize(a *Assembly, w io.Writer) error
}

// Export validates every method body and hands the assembly to e.
func Export(a *Assembly, e Exporter, w io.Writer) (err error) {
	defer fault.Catch(&err)
	for _, def := range a.MethodDefs() {
		Validate(a, def)
	}
	for _, def := range a.ClassDefs() {
		if err := e.AddType(a, def); err != nil {
			return errors.Wrapf(err, "type %s", a.String(a.Class(def.Ref).Name))
		}
	}
	for _, data := range a.Allocs() {
		if err := e.AddAlloc(a, data); err != nil {
			return errors.Wrapf(err, "allocation %d", data.ID)
		}
	}
	for _, def := range a.StaticDefs() {
		if err := e.AddStatic(a, def); err != nil {
			return errors.Wrapf(err, "static %s", a.String(a.Static(def.Field).Name))
		}
	}
	for _, m := range a.Externs() {
		lib, _ := a.Extern(m)
		if err := e.AddExtern(a, lib, m); err != nil {
			return errors.Wrapf(err, "extern %s", a.String(a.Method(m).Name))
		}
	}
	for _, m := range a.Helpers() {
		if err := e.AddExtern(a, "", m); err != nil {
			return errors.Wrapf(err, "helper %s", a.String(a.Method(m).Name))
		}
	}
	for _, def := range a.MethodDefs() {
		if err := e.AddMethod(a, def); err != nil {
			return errors.Wrapf(err, "method %s", a.String(a.Method(def.Ref).Name))
		}
	}
	return e.Finalize(a, w)
}
