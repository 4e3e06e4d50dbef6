// Package cexport writes an assembly as a single C translation unit.
//
// Classes become structs (or unions of padded structs when their layout is
// explicit), allocations become byte arrays patched with their relocations
// at startup, and method bodies become labelled blocks with gotos.
// Temporaries use GNU statement expressions, so the output needs GCC or
// Clang.
package cexport

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

//go:embed header.h
var header string

// Options control the generated translation unit.
type Options struct {
	// Executable appends a main function calling Entry.
	Executable bool
	// Entry is the symbol of the entry point.
	Entry string
}

// Exporter is an asm.Exporter producing C source.
type Exporter struct {
	opts Options

	typedecls bytes.Buffer
	vectypes  bytes.Buffer
	typedefs  bytes.Buffer
	protos    bytes.Buffer
	statics   bytes.Buffer
	allocs    bytes.Buffer
	helpers   bytes.Buffer
	bodies    bytes.Buffer
	inits     bytes.Buffer

	declared map[asm.ClassIdx]bool
	defined  map[asm.ClassIdx]bool
	delayed  map[asm.ClassIdx]*asm.ClassDef
	vectors  map[asm.TypeIdx]string

	names      map[asm.MethodIdx]string
	nameTaken  map[string]bool
	prototyped map[asm.MethodIdx]bool
}

var _ asm.Exporter = (*Exporter)(nil)

// New creates an Exporter.
func New(opts Options) *Exporter {
	return &Exporter{
		opts:       opts,
		declared:   make(map[asm.ClassIdx]bool),
		defined:    make(map[asm.ClassIdx]bool),
		delayed:    make(map[asm.ClassIdx]*asm.ClassDef),
		vectors:    make(map[asm.TypeIdx]string),
		names:      make(map[asm.MethodIdx]string),
		nameTaken:  make(map[string]bool),
		prototyped: make(map[asm.MethodIdx]bool),
	}
}

// ============================================================
// Types
// ============================================================

// AddType implements asm.Exporter. A type embedding a class that is not
// yet defined is held back and retried after every later definition.
func (e *Exporter) AddType(a *asm.Assembly, def *asm.ClassDef) (err error) {
	defer fault.Catch(&err)
	e.declare(a, def.Ref)
	e.delayed[def.Ref] = def
	for progress := true; progress; {
		progress = false
		for _, cls := range e.pending() {
			d := e.delayed[cls]
			if !e.ready(a, d) {
				continue
			}
			delete(e.delayed, cls)
			e.defineType(a, d)
			progress = true
		}
	}
	return nil
}

// pending lists delayed classes in handle order.
func (e *Exporter) pending() []asm.ClassIdx {
	out := make([]asm.ClassIdx, 0, len(e.delayed))
	for cls := range e.delayed {
		out = append(out, cls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ready reports whether every class embedded by value in def is defined.
func (e *Exporter) ready(a *asm.Assembly, def *asm.ClassDef) bool {
	for _, f := range def.Fields {
		if dep, ok := embeddedClass(a, f.Type); ok && dep != def.Ref && !e.defined[dep] {
			return false
		}
	}
	return true
}

// embeddedClass returns the class a field of type t stores by value.
func embeddedClass(a *asm.Assembly, t asm.TypeIdx) (asm.ClassIdx, bool) {
	tpe := a.Type(t)
	if tpe.Kind != asm.KClass {
		return 0, false
	}
	if _, builtin := builtinClass(a, tpe.Class); builtin {
		return 0, false
	}
	return tpe.Class, true
}

func (e *Exporter) declare(a *asm.Assembly, cls asm.ClassIdx) {
	if e.declared[cls] {
		return
	}
	e.declared[cls] = true
	name := className(a, cls)
	fmt.Fprintf(&e.typedecls, "typedef %s %s %s;\n", aggregateKeyword(a, cls), name, name)
}

func aggregateKeyword(a *asm.Assembly, cls asm.ClassIdx) string {
	if def := a.ClassDef(cls); def != nil && def.Explicit {
		return "union"
	}
	return "struct"
}

func (e *Exporter) defineType(a *asm.Assembly, def *asm.ClassDef) {
	name := className(a, def.Ref)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s {\n", aggregateKeyword(a, def.Ref), name)
	for _, f := range def.Fields {
		fname := ident(a.String(f.Name))
		ftype := e.cType(a, f.Type)
		switch {
		case !def.Explicit:
			fmt.Fprintf(&b, "\t%s %s;\n", ftype, fname)
		case f.Offset == 0:
			fmt.Fprintf(&b, "\tstruct { %s f; } %s;\n", ftype, fname)
		default:
			fmt.Fprintf(&b, "\tstruct { char pad[%d]; %s f; } %s;\n", f.Offset, ftype, fname)
		}
	}
	if len(def.Fields) == 0 {
		b.WriteString("\tchar empty;\n")
	}
	if def.Size > 0 && def.Explicit {
		fmt.Fprintf(&b, "\tchar size[%d];\n", def.Size)
	}
	fmt.Fprintf(&b, "} __attribute__((aligned(%d)));\n", max(def.Align, 1))
	e.typedefs.WriteString(b.String())
	e.defined[def.Ref] = true
}

// builtinClass maps runtime value classes onto C types.
func builtinClass(a *asm.Assembly, cls asm.ClassIdx) (string, bool) {
	switch a.String(a.Class(cls).Name) {
	case "System.Int128":
		return "__int128", true
	case "System.UInt128":
		return "unsigned __int128", true
	case "System.Half":
		return "_Float16", true
	}
	return "", false
}

func className(a *asm.Assembly, cls asm.ClassIdx) string {
	if c, ok := builtinClass(a, cls); ok {
		return c
	}
	return ident(a.String(a.Class(cls).Name))
}

var intTypes = map[asm.Int]string{
	asm.I8: "int8_t", asm.I16: "int16_t", asm.I32: "int32_t", asm.I64: "int64_t",
	asm.I128: "__int128", asm.ISize: "intptr_t",
	asm.U8: "uint8_t", asm.U16: "uint16_t", asm.U32: "uint32_t", asm.U64: "uint64_t",
	asm.U128: "unsigned __int128", asm.USize: "uintptr_t",
}

var floatTypes = map[asm.Float]string{
	asm.F16: "_Float16", asm.F32: "float", asm.F64: "double", asm.F128: "__float128",
}

// cType spells t in C.
func (e *Exporter) cType(a *asm.Assembly, t asm.TypeIdx) string {
	tpe := a.Type(t)
	switch tpe.Kind {
	case asm.KVoid:
		return "void"
	case asm.KBool:
		return "bool"
	case asm.KInt:
		return intTypes[tpe.Int]
	case asm.KFloat:
		return floatTypes[tpe.Float]
	case asm.KPtr, asm.KRef:
		return e.cType(a, tpe.Inner) + "*"
	case asm.KFnPtr:
		return "void*"
	case asm.KClass:
		if c, ok := builtinClass(a, tpe.Class); ok {
			return c
		}
		if a.Class(tpe.Class).Asm != 0 {
			fault.Unimplemented("runtime class %s in C", a.String(a.Class(tpe.Class).Name))
		}
		e.declare(a, tpe.Class)
		return className(a, tpe.Class)
	case asm.KSimd:
		return e.vectorType(a, t)
	}
	fault.Unimplemented("type kind %d in C", tpe.Kind)
	return ""
}

// vectorType declares a GCC vector type for a SIMD type.
func (e *Exporter) vectorType(a *asm.Assembly, t asm.TypeIdx) string {
	if name, ok := e.vectors[t]; ok {
		return name
	}
	tpe := a.Type(t)
	elem := e.cType(a, tpe.Inner)
	name := fmt.Sprintf("vec_%s_%d", ident(elem), tpe.Lanes)
	fmt.Fprintf(&e.vectypes, "typedef %s %s __attribute__((vector_size(%d * sizeof(%s))));\n", elem, name, tpe.Lanes, elem)
	e.vectors[t] = name
	return name
}

// ident turns an arbitrary symbol into a C identifier.
func ident(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// ============================================================
// Data
// ============================================================

func allocName(id asm.AllocID) string { return fmt.Sprintf("alloc_%x", uint64(id)) }

// AddAlloc implements asm.Exporter.
func (e *Exporter) AddAlloc(a *asm.Assembly, data *asm.AllocData) error {
	n := len(data.Bytes)
	fmt.Fprintf(&e.allocs, "static uint8_t %s[%d] __attribute__((aligned(%d))) = {", allocName(data.ID), max(n, 1), max(data.Align, 1))
	for i, c := range data.Bytes {
		if i%16 == 0 {
			e.allocs.WriteString("\n\t")
		}
		fmt.Fprintf(&e.allocs, "0x%02x,", c)
	}
	e.allocs.WriteString("\n};\n")
	for _, r := range data.Relocs {
		fmt.Fprintf(&e.inits, "\t*(uint8_t **)(%s + %d) = %s + %d;\n", allocName(data.ID), r.Offset, allocName(r.Target), r.Addend)
	}
	return nil
}

// AddStatic implements asm.Exporter.
func (e *Exporter) AddStatic(a *asm.Assembly, def *asm.StaticDef) (err error) {
	defer fault.Catch(&err)
	desc := a.Static(def.Field)
	name := staticName(a, def.Field)
	tpe := e.cType(a, desc.Type)
	switch {
	case def.Extern != "":
		fmt.Fprintf(&e.statics, "extern %s %s __attribute__((weak));\n", tpe, name)
	case desc.ThreadLocal:
		fmt.Fprintf(&e.statics, "static _Thread_local %s %s;\n", tpe, name)
	default:
		fmt.Fprintf(&e.statics, "static %s %s;\n", tpe, name)
	}
	if def.Init != 0 {
		if desc.ThreadLocal {
			return errors.Newf("thread-local static %s with an initializer", name)
		}
		fmt.Fprintf(&e.inits, "\tmemcpy(&%s, %s, sizeof(%s));\n", name, allocName(def.Init), name)
	}
	return nil
}

func staticName(a *asm.Assembly, s asm.StaticIdx) string {
	return ident(a.String(a.Static(s).Name))
}

// ============================================================
// Methods
// ============================================================

// methodName returns the C name of m, disambiguating overloads.
func (e *Exporter) methodName(a *asm.Assembly, m asm.MethodIdx) string {
	if name, ok := e.names[m]; ok {
		return name
	}
	ref := a.Method(m)
	name := ident(a.String(ref.Name))
	if ref.Class != a.MainModule() {
		name = ident(a.String(a.Class(ref.Class).Name)) + "_" + name
	}
	if e.nameTaken[name] {
		name = fmt.Sprintf("%s_%d", name, m)
	}
	e.nameTaken[name] = true
	e.names[m] = name
	return name
}

// signature spells the declaration of m, naming parameters A0..An.
func (e *Exporter) signature(a *asm.Assembly, m asm.MethodIdx) string {
	sig := a.Sig(a.Method(m).Sig)
	var params []string
	for i, in := range a.Types(sig.Inputs) {
		params = append(params, fmt.Sprintf("%s A%d", e.cType(a, in), i))
	}
	if len(params) == 0 {
		params = []string{"void"}
	}
	return fmt.Sprintf("%s %s(%s)", e.cType(a, sig.Output), e.methodName(a, m), strings.Join(params, ", "))
}

func (e *Exporter) prototype(a *asm.Assembly, m asm.MethodIdx, prefix string) {
	if e.prototyped[m] {
		return
	}
	e.prototyped[m] = true
	fmt.Fprintf(&e.protos, "%s%s;\n", prefix, e.signature(a, m))
}

// AddExtern implements asm.Exporter. Library functions are declared weak;
// runtime helpers are either provided by the header, synthesized here or
// declared for the runtime to supply.
func (e *Exporter) AddExtern(a *asm.Assembly, lib string, m asm.MethodIdx) (err error) {
	defer fault.Catch(&err)
	if lib != "" {
		e.prototype(a, m, "extern __attribute__((weak)) ")
		return nil
	}
	name := a.String(a.Method(m).Name)
	if headerHelpers[name] {
		e.names[m] = name
		e.nameTaken[name] = true
		e.prototyped[m] = true
		return nil
	}
	if body, ok := e.synthesize(a, m); ok {
		e.prototype(a, m, "static ")
		fmt.Fprintf(&e.helpers, "static %s {\n%s}\n", e.signature(a, m), body)
		return nil
	}
	e.prototype(a, m, "")
	return nil
}

// AddMethod implements asm.Exporter.
func (e *Exporter) AddMethod(a *asm.Assembly, def *asm.MethodDef) (err error) {
	defer fault.Catch(&err)
	prefix := ""
	if def.Access == asm.Private {
		prefix = "static "
	}
	e.prototype(a, def.Ref, prefix)
	w := &methodWriter{e: e, a: a, def: def}
	fmt.Fprintf(&e.bodies, "%s%s {\n", prefix, e.signature(a, def.Ref))
	for i, l := range def.Locals {
		if a.Type(l.Type).Kind == asm.KVoid {
			continue
		}
		fmt.Fprintf(&e.bodies, "\t%s L%d;\n", e.cType(a, l.Type), i)
	}
	for _, blk := range def.Blocks {
		w.block(&e.bodies, blk)
	}
	e.bodies.WriteString("}\n")
	return nil
}

// Finalize implements asm.Exporter.
func (e *Exporter) Finalize(a *asm.Assembly, w io.Writer) (err error) {
	defer fault.Catch(&err)
	if len(e.delayed) > 0 {
		var names []string
		for _, cls := range e.pending() {
			names = append(names, className(a, cls))
		}
		return errors.Newf("types with unresolved dependencies: %s", strings.Join(names, ", "))
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "/* Generated by ilower from assembly %s. */\n", a.Name)
	out.WriteString(header)
	for _, sec := range []*bytes.Buffer{&e.typedecls, &e.vectypes, &e.typedefs, &e.protos, &e.statics, &e.allocs, &e.helpers} {
		out.Write(sec.Bytes())
	}
	if e.inits.Len() > 0 {
		out.WriteString("__attribute__((constructor)) static void ilower_init(void) {\n")
		out.Write(e.inits.Bytes())
		out.WriteString("}\n")
	}
	out.Write(e.bodies.Bytes())
	if e.opts.Executable {
		if e.opts.Entry == "" {
			return errors.New("executable output needs an entry point")
		}
		fmt.Fprintf(&out, "int main(void) {\n\t%s();\n\treturn 0;\n}\n", ident(e.opts.Entry))
	}
	_, err = w.Write(out.Bytes())
	return errors.Wrap(err, "writing C source")
}
