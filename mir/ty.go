// Package mir is the input contract of the lowering engine: the typed
// control-flow graph a frontend hands over for each function, the type
// descriptions and layouts it uses, the constant values it has already
// evaluated and the global allocation graph those constants point into.
package mir

import (
	"fmt"
	"strings"
)

// Kind tags a Ty.
type Kind uint8

const (
	Bool Kind = iota + 1
	Char
	Int   // signed integer of Bits width, 0 = pointer sized
	Uint  // unsigned integer of Bits width, 0 = pointer sized
	Float // Bits = 16, 32, 64 or 128
	RawPtr
	Ref
	FnPtr
	FnDef // zero-sized function item
	Adt   // named struct or union
	Tuple
	Array
	Slice
	Str
	Dyn
	Never
	Simd
)

var kindNames = [...]string{
	Bool: "bool", Char: "char", Int: "int", Uint: "uint", Float: "float",
	RawPtr: "rawptr", Ref: "ref", FnPtr: "fnptr", FnDef: "fndef", Adt: "adt",
	Tuple: "tuple", Array: "array", Slice: "slice", Str: "str", Dyn: "dyn",
	Never: "never", Simd: "simd",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Ty describes a frontend type. Two Ty values describe the same type when
// their Keys are equal. Named aggregates are identified by name alone.
type Ty struct {
	Kind       Kind
	Bits       int
	Elem       *Ty
	Len        uint64
	Name       string
	Fields     []*Ty
	FieldNames []string
	Union      bool
	Sig        *FnSig
}

// FnSig is a function signature.
type FnSig struct {
	Inputs []*Ty
	Output *Ty
}

// Key returns a canonical structural description of t.
func (t *Ty) Key() string {
	var b strings.Builder
	t.writeKey(&b)
	return b.String()
}

func (t *Ty) writeKey(b *strings.Builder) {
	if t == nil {
		b.WriteString("()")
		return
	}
	switch t.Kind {
	case Bool, Char, Str, Dyn, Never:
		b.WriteString(t.Kind.String())
		if t.Kind == Dyn && t.Name != "" {
			b.WriteString(" " + t.Name)
		}
	case Int:
		fmt.Fprintf(b, "i%s", bitsName(t.Bits))
	case Uint:
		fmt.Fprintf(b, "u%s", bitsName(t.Bits))
	case Float:
		fmt.Fprintf(b, "f%d", t.Bits)
	case RawPtr:
		b.WriteString("*")
		t.Elem.writeKey(b)
	case Ref:
		b.WriteString("&")
		t.Elem.writeKey(b)
	case Slice:
		b.WriteString("[")
		t.Elem.writeKey(b)
		b.WriteString("]")
	case Array, Simd:
		if t.Kind == Simd {
			b.WriteString("simd")
		}
		fmt.Fprintf(b, "[%d x ", t.Len)
		t.Elem.writeKey(b)
		b.WriteString("]")
	case FnPtr, FnDef:
		if t.Kind == FnDef {
			b.WriteString("fndef " + t.Name)
		}
		b.WriteString("fn(")
		if t.Sig != nil {
			for i, in := range t.Sig.Inputs {
				if i > 0 {
					b.WriteString(",")
				}
				in.writeKey(b)
			}
			b.WriteString(")->")
			t.Sig.Output.writeKey(b)
		} else {
			b.WriteString(")")
		}
	case Tuple:
		b.WriteString("(")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			f.writeKey(b)
		}
		b.WriteString(")")
	case Adt:
		if t.Union {
			b.WriteString("union ")
		}
		b.WriteString(t.Name)
		if t.Name != "" {
			// Named aggregates are nominal; this also keeps recursive
			// types finite.
			return
		}
		b.WriteString("{")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			f.writeKey(b)
		}
		b.WriteString("}")
	default:
		fmt.Fprintf(b, "?%d", t.Kind)
	}
}

func bitsName(bits int) string {
	if bits == 0 {
		return "size"
	}
	return fmt.Sprint(bits)
}

func (t *Ty) String() string { return t.Key() }

// IsUnsized reports whether values of t have no static size.
func (t *Ty) IsUnsized() bool {
	return t != nil && (t.Kind == Slice || t.Kind == Str || t.Kind == Dyn)
}

// IsPointer reports whether t is a raw pointer or reference.
func (t *Ty) IsPointer() bool {
	return t != nil && (t.Kind == RawPtr || t.Kind == Ref)
}

// IsFat reports whether t is a pointer to an unsized type.
func (t *Ty) IsFat() bool {
	return t.IsPointer() && t.Elem.IsUnsized()
}

// IsSigned reports whether t is a signed integer.
func (t *Ty) IsSigned() bool { return t != nil && t.Kind == Int }

// IsInteger reports whether t is an integer or char.
func (t *Ty) IsInteger() bool {
	return t != nil && (t.Kind == Int || t.Kind == Uint || t.Kind == Char)
}

// FieldName returns the name of field i, or its positional name.
func (t *Ty) FieldName(i int) string {
	if i < len(t.FieldNames) && t.FieldNames[i] != "" {
		return t.FieldNames[i]
	}
	return fmt.Sprintf("f%d", i)
}

// Constructors for common types.

func IntTy(bits int) *Ty { return &Ty{Kind: Int, Bits: bits} }
func UintTy(bits int) *Ty { return &Ty{Kind: Uint, Bits: bits} }
func FloatTy(bits int) *Ty {
	return &Ty{Kind: Float, Bits: bits}
}
func BoolTy() *Ty { return &Ty{Kind: Bool} }
func UnitTy() *Ty { return &Ty{Kind: Tuple} }
func PtrTo(elem *Ty) *Ty { return &Ty{Kind: RawPtr, Elem: elem} }
func RefTo(elem *Ty) *Ty { return &Ty{Kind: Ref, Elem: elem} }
func SliceOf(elem *Ty) *Ty { return &Ty{Kind: Slice, Elem: elem} }
func StrTy() *Ty { return &Ty{Kind: Str} }
func TupleOf(fs ...*Ty) *Ty { return &Ty{Kind: Tuple, Fields: fs} }
func ArrayOf(elem *Ty, n uint64) *Ty {
	return &Ty{Kind: Array, Elem: elem, Len: n}
}
func SimdOf(elem *Ty, lanes uint64) *Ty {
	return &Ty{Kind: Simd, Elem: elem, Len: lanes}
}

// StructOf builds a named struct type. names may be nil.
func StructOf(name string, names []string, fields ...*Ty) *Ty {
	return &Ty{Kind: Adt, Name: name, FieldNames: names, Fields: fields}
}

// UnionOf builds a named union type.
func UnionOf(name string, names []string, fields ...*Ty) *Ty {
	return &Ty{Kind: Adt, Name: name, FieldNames: names, Fields: fields, Union: true}
}

// FnPtrOf builds a function pointer type.
func FnPtrOf(out *Ty, in ...*Ty) *Ty {
	return &Ty{Kind: FnPtr, Sig: &FnSig{Inputs: in, Output: out}}
}
