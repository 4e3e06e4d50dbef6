// Package asm is the interned assembly model shared by every lowering pass:
// pooled types, signatures, class/method/field references, strings and the
// node/root expression IR, plus the class, method and static definitions
// that make up one compiled program unit.
package asm

import (
	"encoding/binary"
	"iter"
	"sort"

	"github.com/google/uuid"

	"github.com/NERVsystems/infernode/tools/ilower/bimap"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// MainModuleName is the class that owns free functions and runtime helpers.
const MainModuleName = "MainModule"

// Assembly owns every interned pool for one compilation unit. It is passed
// explicitly to every lowering operation and must not be mutated
// concurrently.
type Assembly struct {
	Name string
	MVID uuid.UUID

	types   *bimap.BiMap[TypeIdx, Type]
	sigs    *bimap.BiMap[SigIdx, FnSig]
	classes *bimap.BiMap[ClassIdx, ClassRef]
	methods *bimap.BiMap[MethodIdx, MethodRef]
	fields  *bimap.BiMap[FieldIdx, FieldDesc]
	statics *bimap.BiMap[StaticIdx, StaticFieldDesc]
	strs    *bimap.BiMap[StringIdx, string]
	nodes   *bimap.BiMap[NodeIdx, Node]
	roots   *bimap.BiMap[RootIdx, Root]

	typeLists *bimap.BiMap[TypeList, string]
	nodeLists *bimap.BiMap[NodeList, string]
	rootLists *bimap.BiMap[RootList, string]

	classDefs  map[ClassIdx]*ClassDef
	classOrder []ClassIdx
	methodDefs map[MethodIdx]*MethodDef
	methodSeq  []MethodIdx
	staticDefs map[StaticIdx]*StaticDef
	staticSeq  []StaticIdx
	allocs     map[AllocID]*AllocData
	externs    map[MethodIdx]string

	nextSynthAlloc AllocID
	mainModule     ClassIdx
}

// SynthAllocBase is the first AllocID handed out for allocations the
// engine synthesizes itself. Frontend IDs must stay below it.
const SynthAllocBase AllocID = 1 << 62

// New creates an empty assembly. The module version id is derived from the
// name so identical inputs produce identical output.
func New(name string) *Assembly {
	a := &Assembly{
		Name:           name,
		MVID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		types:          bimap.New[TypeIdx, Type](),
		sigs:           bimap.New[SigIdx, FnSig](),
		classes:        bimap.New[ClassIdx, ClassRef](),
		methods:        bimap.New[MethodIdx, MethodRef](),
		fields:         bimap.New[FieldIdx, FieldDesc](),
		statics:        bimap.New[StaticIdx, StaticFieldDesc](),
		strs:           bimap.New[StringIdx, string](),
		nodes:          bimap.New[NodeIdx, Node](),
		roots:          bimap.New[RootIdx, Root](),
		typeLists:      bimap.New[TypeList, string](),
		nodeLists:      bimap.New[NodeList, string](),
		rootLists:      bimap.New[RootList, string](),
		classDefs:      make(map[ClassIdx]*ClassDef),
		methodDefs:     make(map[MethodIdx]*MethodDef),
		staticDefs:     make(map[StaticIdx]*StaticDef),
		allocs:         make(map[AllocID]*AllocData),
		externs:        make(map[MethodIdx]string),
		nextSynthAlloc: SynthAllocBase,
	}
	a.mainModule = a.AllocClass(ClassRef{Name: a.AllocString(MainModuleName)})
	return a
}

// ============================================================
// Pools
// ============================================================

func (a *Assembly) AllocType(t Type) TypeIdx {
	switch t.Kind {
	case KPtr, KRef, KSimd:
		fault.Check(a.types.Contains(t.Inner), "type: dangling inner handle %d", t.Inner)
	case KFnPtr:
		fault.Check(a.sigs.Contains(t.Sig), "type: dangling signature handle %d", t.Sig)
	case KClass:
		fault.Check(a.classes.Contains(t.Class), "type: dangling class handle %d", t.Class)
	}
	return a.types.Alloc(t)
}

func (a *Assembly) Type(idx TypeIdx) Type { return a.types.Get(idx) }
func (a *Assembly) AllocSig(s FnSig) SigIdx { return a.sigs.Alloc(s) }
func (a *Assembly) Sig(idx SigIdx) FnSig { return a.sigs.Get(idx) }
func (a *Assembly) AllocClass(c ClassRef) ClassIdx { return a.classes.Alloc(c) }
func (a *Assembly) Class(idx ClassIdx) ClassRef { return a.classes.Get(idx) }
func (a *Assembly) AllocMethod(m MethodRef) MethodIdx { return a.methods.Alloc(m) }
func (a *Assembly) Method(idx MethodIdx) MethodRef { return a.methods.Get(idx) }
func (a *Assembly) AllocField(f FieldDesc) FieldIdx { return a.fields.Alloc(f) }
func (a *Assembly) Field(idx FieldIdx) FieldDesc { return a.fields.Get(idx) }
func (a *Assembly) AllocStatic(s StaticFieldDesc) StaticIdx {
	return a.statics.Alloc(s)
}
func (a *Assembly) Static(idx StaticIdx) StaticFieldDesc { return a.statics.Get(idx) }

// AllocString interns s.
func (a *Assembly) AllocString(s string) StringIdx { return a.strs.Alloc(s) }

// String resolves an interned string. The zero handle resolves to "".
func (a *Assembly) String(idx StringIdx) string {
	if idx == 0 {
		return ""
	}
	return a.strs.Get(idx)
}

func (a *Assembly) AllocNode(n Node) NodeIdx { return a.nodes.Alloc(n) }
func (a *Assembly) Node(idx NodeIdx) Node { return a.nodes.Get(idx) }
func (a *Assembly) AllocRoot(r Root) RootIdx { return a.roots.Alloc(r) }
func (a *Assembly) Root(idx RootIdx) Root { return a.roots.Get(idx) }

// ValidNode reports whether idx was minted by this assembly.
func (a *Assembly) ValidNode(idx NodeIdx) bool { return a.nodes.Contains(idx) }

// ValidRoot reports whether idx was minted by this assembly.
func (a *Assembly) ValidRoot(idx RootIdx) bool { return a.roots.Contains(idx) }

// Stats reports pool sizes, for diagnostics.
func (a *Assembly) Stats() map[string]int {
	return map[string]int{
		"types":   a.types.Len(),
		"sigs":    a.sigs.Len(),
		"classes": a.classes.Len(),
		"methods": a.methods.Len(),
		"fields":  a.fields.Len(),
		"statics": a.statics.Len(),
		"strings": a.strs.Len(),
		"nodes":   a.nodes.Len(),
		"roots":   a.roots.Len(),
	}
}

// ============================================================
// Handle lists
// ============================================================

// Lists are interned as packed little-endian handle strings so that the
// variants embedding them stay comparable.

func pack[H ~uint32](hs []H) string {
	b := make([]byte, 4*len(hs))
	for i, h := range hs {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(h))
	}
	return string(b)
}

func unpack[H ~uint32](s string) []H {
	hs := make([]H, len(s)/4)
	for i := range hs {
		hs[i] = H(binary.LittleEndian.Uint32([]byte(s[4*i : 4*i+4])))
	}
	return hs
}

func (a *Assembly) AllocTypes(ts ...TypeIdx) TypeList { return a.typeLists.Alloc(pack(ts)) }
func (a *Assembly) Types(l TypeList) []TypeIdx {
	if l == 0 {
		return nil
	}
	return unpack[TypeIdx](a.typeLists.Get(l))
}

func (a *Assembly) AllocNodes(ns ...NodeIdx) NodeList { return a.nodeLists.Alloc(pack(ns)) }
func (a *Assembly) Nodes(l NodeList) []NodeIdx {
	if l == 0 {
		return nil
	}
	return unpack[NodeIdx](a.nodeLists.Get(l))
}

func (a *Assembly) AllocRoots(rs ...RootIdx) RootList { return a.rootLists.Alloc(pack(rs)) }
func (a *Assembly) Roots(l RootList) []RootIdx {
	if l == 0 {
		return nil
	}
	return unpack[RootIdx](a.rootLists.Get(l))
}

// ============================================================
// Common types
// ============================================================

func (a *Assembly) Void() TypeIdx { return a.AllocType(Type{Kind: KVoid}) }
func (a *Assembly) Bool() TypeIdx { return a.AllocType(Type{Kind: KBool}) }
func (a *Assembly) IntTy(i Int) TypeIdx { return a.AllocType(Type{Kind: KInt, Int: i}) }
func (a *Assembly) FloatTy(f Float) TypeIdx { return a.AllocType(Type{Kind: KFloat, Float: f}) }
func (a *Assembly) Ptr(inner TypeIdx) TypeIdx { return a.AllocType(Type{Kind: KPtr, Inner: inner}) }
func (a *Assembly) Ref(inner TypeIdx) TypeIdx { return a.AllocType(Type{Kind: KRef, Inner: inner}) }
func (a *Assembly) FnPtr(sig SigIdx) TypeIdx { return a.AllocType(Type{Kind: KFnPtr, Sig: sig}) }
func (a *Assembly) ClassTy(c ClassIdx) TypeIdx {
	return a.AllocType(Type{Kind: KClass, Class: c})
}
func (a *Assembly) Simd(elem TypeIdx, lanes uint32) TypeIdx {
	return a.AllocType(Type{Kind: KSimd, Inner: elem, Lanes: lanes})
}

// USize and ISize are the native pointer-sized integer types.
func (a *Assembly) USize() TypeIdx { return a.IntTy(USize) }
func (a *Assembly) ISize() TypeIdx { return a.IntTy(ISize) }

// VoidPtr is *void, the untyped pointer.
func (a *Assembly) VoidPtr() TypeIdx { return a.Ptr(a.Void()) }

// Signature interns a signature from its parts.
func (a *Assembly) Signature(out TypeIdx, in ...TypeIdx) SigIdx {
	return a.AllocSig(FnSig{Inputs: a.AllocTypes(in...), Output: out})
}

// MainModule is the class owning free functions and runtime helpers.
func (a *Assembly) MainModule() ClassIdx { return a.mainModule }

// NamedClass interns a reference to a class by name. asmName is the
// defining assembly, "" for this one.
func (a *Assembly) NamedClass(name, asmName string, valuetype bool, generics ...TypeIdx) ClassIdx {
	ref := ClassRef{Name: a.AllocString(name), Valuetype: valuetype}
	if asmName != "" {
		ref.Asm = a.AllocString(asmName)
	}
	if len(generics) > 0 {
		ref.Generics = a.AllocTypes(generics...)
	}
	return a.AllocClass(ref)
}

// StaticMethod interns a static method reference on class.
func (a *Assembly) StaticMethod(class ClassIdx, name string, sig SigIdx) MethodIdx {
	return a.AllocMethod(MethodRef{Class: class, Name: a.AllocString(name), Sig: sig, Kind: Static})
}

// Helper interns a reference to a static helper method on the main module.
func (a *Assembly) Helper(name string, out TypeIdx, in ...TypeIdx) MethodIdx {
	return a.StaticMethod(a.mainModule, name, a.Signature(out, in...))
}

// FieldOf interns an instance field descriptor.
func (a *Assembly) FieldOf(owner ClassIdx, name string, tpe TypeIdx) FieldIdx {
	return a.AllocField(FieldDesc{Owner: owner, Name: a.AllocString(name), Type: tpe})
}

// ============================================================
// Definitions
// ============================================================

// ClassDef defines the layout of a class generated by this assembly.
type ClassDef struct {
	Ref    ClassIdx
	Fields []FieldDef
	// Explicit marks a union-like layout: every field sits at its Offset
	// and fields may overlap.
	Explicit bool
	Size     uint64
	Align    uint64
}

// FieldDef is one field of a ClassDef.
type FieldDef struct {
	Name   StringIdx
	Type   TypeIdx
	Offset uint32
}

// Access controls method visibility.
type Access uint8

const (
	Public Access = iota
	Private
)

// Local is a method-local variable.
type Local struct {
	Name StringIdx
	Type TypeIdx
}

// MethodDef is a method body.
type MethodDef struct {
	Ref      MethodIdx
	Access   Access
	ArgNames []StringIdx
	Locals   []Local
	Blocks   []BasicBlock
}

// StaticDef defines storage for a static field. Init, when non-zero,
// names the allocation holding its initial bytes. Extern, when set, names
// the library that provides the storage instead.
type StaticDef struct {
	Field  StaticIdx
	Init   AllocID
	Extern string
}

// Reloc patches a pointer into an allocation at load time.
type Reloc struct {
	Offset uint64
	Target AllocID
	Addend uint64
}

// AllocData is the content of a global allocation.
type AllocData struct {
	ID     AllocID
	Bytes  []byte
	Align  uint64
	Relocs []Reloc
}

// DefineClass registers a class definition. Redefinition with a different
// layout is an invariant violation; redefinition with the same one is a
// no-op.
func (a *Assembly) DefineClass(def *ClassDef) {
	if old, ok := a.classDefs[def.Ref]; ok {
		fault.Check(sameLayout(old, def), "class %s redefined with a different layout",
			a.String(a.Class(def.Ref).Name))
		return
	}
	a.classDefs[def.Ref] = def
	a.classOrder = append(a.classOrder, def.Ref)
}

func sameLayout(x, y *ClassDef) bool {
	if x.Explicit != y.Explicit || x.Size != y.Size || len(x.Fields) != len(y.Fields) {
		return false
	}
	for i := range x.Fields {
		if x.Fields[i] != y.Fields[i] {
			return false
		}
	}
	return true
}

// ClassDef returns the definition of c, or nil for external classes.
func (a *Assembly) ClassDef(c ClassIdx) *ClassDef { return a.classDefs[c] }

// ClassDefs returns definitions in registration order.
func (a *Assembly) ClassDefs() []*ClassDef {
	defs := make([]*ClassDef, len(a.classOrder))
	for i, c := range a.classOrder {
		defs[i] = a.classDefs[c]
	}
	return defs
}

// DefineMethod registers a method body.
func (a *Assembly) DefineMethod(def *MethodDef) {
	if _, ok := a.methodDefs[def.Ref]; !ok {
		a.methodSeq = append(a.methodSeq, def.Ref)
	}
	a.methodDefs[def.Ref] = def
}

// MethodDef returns the body of m, or nil.
func (a *Assembly) MethodDef(m MethodIdx) *MethodDef { return a.methodDefs[m] }

// MethodDefs returns bodies in registration order.
func (a *Assembly) MethodDefs() []*MethodDef {
	defs := make([]*MethodDef, len(a.methodSeq))
	for i, m := range a.methodSeq {
		defs[i] = a.methodDefs[m]
	}
	return defs
}

// DefineStatic registers storage for a static field.
func (a *Assembly) DefineStatic(def *StaticDef) {
	if _, ok := a.staticDefs[def.Field]; !ok {
		a.staticSeq = append(a.staticSeq, def.Field)
	}
	a.staticDefs[def.Field] = def
}

// StaticDef returns the definition of s, or nil.
func (a *Assembly) StaticDef(s StaticIdx) *StaticDef { return a.staticDefs[s] }

// StaticDefs returns static definitions in registration order.
func (a *Assembly) StaticDefs() []*StaticDef {
	defs := make([]*StaticDef, len(a.staticSeq))
	for i, s := range a.staticSeq {
		defs[i] = a.staticDefs[s]
	}
	return defs
}

// AddAlloc registers the content of a global allocation.
func (a *Assembly) AddAlloc(data *AllocData) {
	a.allocs[data.ID] = data
}

// Alloc returns the content of id, or nil if it was never registered.
func (a *Assembly) Alloc(id AllocID) *AllocData { return a.allocs[id] }

// Allocs returns all allocations ordered by id.
func (a *Assembly) Allocs() []*AllocData {
	out := make([]*AllocData, 0, len(a.allocs))
	for _, d := range a.allocs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllocBytes registers an anonymous allocation holding b and returns its
// id. Identical contents share one allocation.
func (a *Assembly) AllocBytes(b []byte, align uint64) AllocID {
	for id := SynthAllocBase; id < a.nextSynthAlloc; id++ {
		if d := a.allocs[id]; d != nil && d.Align == align && string(d.Bytes) == string(b) {
			return id
		}
	}
	id := a.nextSynthAlloc
	a.nextSynthAlloc++
	a.allocs[id] = &AllocData{ID: id, Bytes: append([]byte(nil), b...), Align: align}
	return id
}

// AddExtern marks m as provided by the external library lib.
func (a *Assembly) AddExtern(lib string, m MethodIdx) {
	a.externs[m] = lib
}

// Extern returns the library providing m.
func (a *Assembly) Extern(m MethodIdx) (string, bool) {
	lib, ok := a.externs[m]
	return lib, ok
}

// Externs returns extern methods ordered by handle.
func (a *Assembly) Externs() []MethodIdx {
	out := make([]MethodIdx, 0, len(a.externs))
	for m := range a.externs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Helpers returns main-module methods that are referenced but neither
// defined nor extern: runtime helpers the exporter must supply.
func (a *Assembly) Helpers() []MethodIdx {
	var out []MethodIdx
	for m, ref := range a.methods.All() {
		if ref.Class != a.mainModule {
			continue
		}
		if _, ok := a.methodDefs[m]; ok {
			continue
		}
		if _, ok := a.externs[m]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// AllMethods iterates over every interned method reference.
func (a *Assembly) AllMethods() iter.Seq2[MethodIdx, MethodRef] {
	return a.methods.All()
}
