// Package ildump writes an assembly as an IL assembler listing. The
// listing is meant for reading and diffing lowered code; it follows the
// ilasm syntax closely but is not guaranteed to assemble.
package ildump

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// Exporter is an asm.Exporter producing an IL listing.
type Exporter struct {
	classes bytes.Buffer
	members bytes.Buffer
	data    bytes.Buffer
	helpers []string
	blobs   map[int]bool

	// cctor initializes statics and patches relocations.
	cctor emitter
}

var _ asm.Exporter = (*Exporter)(nil)

// New creates an Exporter.
func New() *Exporter {
	return &Exporter{blobs: make(map[int]bool)}
}

// AddType implements asm.Exporter.
func (e *Exporter) AddType(a *asm.Assembly, def *asm.ClassDef) (err error) {
	defer fault.Catch(&err)
	layout := "sequential"
	if def.Explicit {
		layout = "explicit"
	}
	fmt.Fprintf(&e.classes, ".class public %s ansi sealed %s\n\textends [System.Runtime]System.ValueType\n{\n",
		layout, className(a, def.Ref))
	if def.Align > 0 || def.Size > 0 {
		fmt.Fprintf(&e.classes, "\t.pack %d\n\t.size %d\n", def.Align, def.Size)
	}
	for _, f := range def.Fields {
		offset := ""
		if def.Explicit {
			offset = fmt.Sprintf("[%d] ", f.Offset)
		}
		fmt.Fprintf(&e.classes, "\t.field %spublic %s %s\n", offset, typeName(a, f.Type), quote(a.String(f.Name)))
	}
	e.classes.WriteString("}\n\n")
	return nil
}

// AddAlloc implements asm.Exporter.
func (e *Exporter) AddAlloc(a *asm.Assembly, data *asm.AllocData) error {
	n := len(data.Bytes)
	e.blobs[n] = true
	fmt.Fprintf(&e.members, "\t.field static assembly valuetype MainModule/Blob%d alloc_%x at D_%x\n", n, uint64(data.ID), uint64(data.ID))
	fmt.Fprintf(&e.data, ".data D_%x = bytearray (", uint64(data.ID))
	for i, c := range data.Bytes {
		if i%16 == 0 {
			e.data.WriteString("\n\t")
		}
		fmt.Fprintf(&e.data, "%02x ", c)
	}
	e.data.WriteString(")\n")
	for _, r := range data.Relocs {
		target := a.Alloc(r.Target)
		if target == nil {
			return errors.Newf("relocation at %d points to unknown allocation %d", r.Offset, r.Target)
		}
		c := &e.cctor
		c.opArg("ldsflda", "%s", blobField(n, data.ID))
		c.op("conv.u")
		c.opArg("ldc.i8", "%d", int64(r.Offset))
		c.op("add")
		c.opArg("ldsflda", "%s", blobField(len(target.Bytes), r.Target))
		c.op("conv.u")
		c.opArg("ldc.i8", "%d", int64(r.Addend))
		c.op("add")
		c.op("stind.i")
	}
	return nil
}

func blobField(size int, id asm.AllocID) string {
	return fmt.Sprintf("valuetype MainModule/Blob%d MainModule::alloc_%x", size, uint64(id))
}

// AddStatic implements asm.Exporter.
func (e *Exporter) AddStatic(a *asm.Assembly, def *asm.StaticDef) (err error) {
	defer fault.Catch(&err)
	desc := a.Static(def.Field)
	if def.Extern != "" {
		fmt.Fprintf(&e.members, "\t// %s is provided by %s\n", a.String(desc.Name), def.Extern)
	}
	fmt.Fprintf(&e.members, "\t.field public static %s %s\n", typeName(a, desc.Type), quote(a.String(desc.Name)))
	if desc.ThreadLocal {
		e.members.WriteString("\t.custom instance void [System.Runtime]System.ThreadStaticAttribute::.ctor() = (01 00 00 00)\n")
	}
	if def.Init != 0 {
		init := a.Alloc(def.Init)
		if init == nil {
			return errors.Newf("static %s initialized from unknown allocation %d", a.String(desc.Name), def.Init)
		}
		c := &e.cctor
		c.opArg("ldsflda", "%s", staticSpec(a, def.Field))
		c.opArg("ldsflda", "%s", blobField(len(init.Bytes), def.Init))
		c.opArg("ldc.i4", "%d", len(init.Bytes))
		c.op("cpblk")
	}
	return nil
}

func (e *Exporter) header(a *asm.Assembly, w io.Writer, m asm.MethodIdx, access, extra string) {
	ref := a.Method(m)
	sig := a.Sig(ref.Sig)
	var params []string
	for i, in := range a.Types(sig.Inputs) {
		params = append(params, fmt.Sprintf("%s A%d", typeName(a, in), i))
	}
	fmt.Fprintf(w, "\t.method %s static hidebysig %s%s %s(%s) cil managed", access, extra,
		typeName(a, sig.Output), quote(a.String(ref.Name)), strings.Join(params, ", "))
}

// AddExtern implements asm.Exporter.
func (e *Exporter) AddExtern(a *asm.Assembly, lib string, m asm.MethodIdx) (err error) {
	defer fault.Catch(&err)
	if lib == "" {
		e.helpers = append(e.helpers, methodSpec(a, m))
		return nil
	}
	e.header(a, &e.members, m, "public", fmt.Sprintf("pinvokeimpl(%q cdecl) ", lib))
	e.members.WriteString(" preservesig {}\n")
	return nil
}

// AddMethod implements asm.Exporter.
func (e *Exporter) AddMethod(a *asm.Assembly, def *asm.MethodDef) (err error) {
	defer fault.Catch(&err)
	em := &emitter{a: a, def: def}
	em.blocks(def.Blocks)

	access := "public"
	if def.Access == asm.Private {
		access = "assembly"
	}
	e.header(a, &e.members, def.Ref, access, "")
	e.members.WriteString("\n\t{\n\t\t.maxstack 8\n")
	var locals []string
	for i, l := range def.Locals {
		locals = append(locals, fmt.Sprintf("[%d] %s L%d", i, typeName(a, l.Type), i))
	}
	for i, t := range em.extra {
		n := len(def.Locals) + i
		locals = append(locals, fmt.Sprintf("[%d] %s T%d", n, typeName(a, t), i))
	}
	if len(locals) > 0 {
		fmt.Fprintf(&e.members, "\t\t.locals init (%s)\n", strings.Join(locals, ", "))
	}
	writeInsts(&e.members, em.insts, "\t\t")
	e.members.WriteString("\t}\n")
	return nil
}

func writeInsts(w io.Writer, insts []Inst, indent string) {
	for _, inst := range insts {
		if inst.Label != "" {
			fmt.Fprintf(w, "%s%s\n", indent[:len(indent)-1], inst)
			continue
		}
		fmt.Fprintf(w, "%s%s\n", indent, inst)
	}
}

// Finalize implements asm.Exporter.
func (e *Exporter) Finalize(a *asm.Assembly, w io.Writer) error {
	var out bytes.Buffer
	out.WriteString(".assembly extern System.Runtime {}\n")
	fmt.Fprintf(&out, ".assembly %s {}\n.module %s.dll\n// MVID: {%s}\n\n", quote(a.Name), a.Name, a.MVID)
	out.Write(e.classes.Bytes())
	fmt.Fprintf(&out, ".class public abstract sealed %s\n\textends [System.Runtime]System.Object\n{\n", asm.MainModuleName)
	for _, size := range slices.Sorted(maps.Keys(e.blobs)) {
		fmt.Fprintf(&out, "\t.class nested assembly explicit sealed Blob%d extends [System.Runtime]System.ValueType { .pack 1 .size %d }\n", size, size)
	}
	out.Write(e.members.Bytes())
	if len(e.cctor.insts) > 0 {
		out.WriteString("\t.method private static specialname rtspecialname void .cctor() cil managed\n\t{\n")
		writeInsts(&out, e.cctor.insts, "\t\t")
		out.WriteString("\t\tret\n\t}\n")
	}
	out.WriteString("}\n")
	if len(e.helpers) > 0 {
		out.WriteString("\n// Runtime helpers:\n")
		for _, h := range e.helpers {
			fmt.Fprintf(&out, "//   %s\n", h)
		}
	}
	if e.data.Len() > 0 {
		out.WriteString("\n")
		out.Write(e.data.Bytes())
	}
	_, err := w.Write(out.Bytes())
	return errors.Wrap(err, "writing IL listing")
}
