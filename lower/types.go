package lower

import (
	"fmt"
	"strings"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// Field names of the generated fat-pointer valuetype.
const (
	DataPtrField  = "data_ptr"
	MetadataField = "metadata"
)

// TypeMapper converts frontend types into assembly types. Results are
// cached by the frontend type's structural key, so mapping the same type
// twice yields the same handle.
type TypeMapper struct {
	a     *asm.Assembly
	fe    mir.Frontend
	cache map[string]asm.TypeIdx
}

// NewTypeMapper creates a mapper writing into a.
func NewTypeMapper(a *asm.Assembly, fe mir.Frontend) *TypeMapper {
	return &TypeMapper{a: a, fe: fe, cache: make(map[string]asm.TypeIdx)}
}

// Layout returns the frontend layout of t.
func (m *TypeMapper) Layout(t *mir.Ty) mir.Layout {
	if t == nil || t.IsUnsized() {
		return mir.Layout{Align: 1}
	}
	return m.fe.LayoutOf(t)
}

// IsZST reports whether t occupies no storage.
func (m *TypeMapper) IsZST(t *mir.Ty) bool {
	if t == nil {
		return true
	}
	switch t.Kind {
	case mir.FnDef, mir.Never:
		return true
	case mir.Slice, mir.Str, mir.Dyn:
		return false
	}
	return m.Layout(t).IsZST()
}

// Type maps t. Zero-sized types map to void.
func (m *TypeMapper) Type(t *mir.Ty) asm.TypeIdx {
	key := t.Key()
	if idx, ok := m.cache[key]; ok {
		return idx
	}
	idx := m.mapType(t)
	m.cache[key] = idx
	return idx
}

func (m *TypeMapper) mapType(t *mir.Ty) asm.TypeIdx {
	a := m.a
	if m.IsZST(t) {
		return a.Void()
	}
	switch t.Kind {
	case mir.Bool:
		return a.Bool()
	case mir.Char:
		return a.IntTy(asm.U32)
	case mir.Int, mir.Uint:
		return a.IntTy(IntOf(t))
	case mir.Float:
		return a.FloatTy(FloatOf(t))
	case mir.RawPtr, mir.Ref:
		if t.IsFat() {
			return a.ClassTy(m.fatPtrClass(t.Elem))
		}
		return a.Ptr(m.Type(t.Elem))
	case mir.FnPtr:
		return a.FnPtr(m.Sig(t.Sig))
	case mir.Simd:
		return a.Simd(m.Type(t.Elem), uint32(t.Len))
	case mir.Adt, mir.Tuple:
		return a.ClassTy(m.aggregateClass(t))
	case mir.Array:
		return a.ClassTy(m.arrayClass(t))
	}
	fault.Unimplemented("type %s", t)
	return 0
}

// Sig maps a signature. Zero-sized inputs are dropped.
func (m *TypeMapper) Sig(s *mir.FnSig) asm.SigIdx {
	if s == nil {
		return m.a.Signature(m.a.Void())
	}
	var ins []asm.TypeIdx
	for _, in := range s.Inputs {
		if m.IsZST(in) {
			continue
		}
		ins = append(ins, m.Type(in))
	}
	return m.a.Signature(m.Type(s.Output), ins...)
}

// IntOf returns the integer type of an integer or char frontend type.
func IntOf(t *mir.Ty) asm.Int {
	if t.Kind == mir.Char {
		return asm.U32
	}
	signed := t.Kind == mir.Int
	if t.Bits == 0 {
		if signed {
			return asm.ISize
		}
		return asm.USize
	}
	i := asm.IntOfBits(t.Bits, signed)
	if i == 0 {
		fault.Unimplemented("integer width %d", t.Bits)
	}
	return i
}

// FloatOf returns the float type of a float frontend type.
func FloatOf(t *mir.Ty) asm.Float {
	switch t.Bits {
	case 16:
		return asm.F16
	case 32:
		return asm.F32
	case 64:
		return asm.F64
	case 128:
		return asm.F128
	}
	fault.Unimplemented("float width %d", t.Bits)
	return 0
}

// FatPtrClass returns the fat-pointer valuetype used for pointers to elem.
func (m *TypeMapper) fatPtrClass(elem *mir.Ty) asm.ClassIdx {
	a := m.a
	cls := a.NamedClass("FatPtr"+mangle(elem.Key()), "", true)
	var data asm.TypeIdx
	switch elem.Kind {
	case mir.Slice:
		data = a.Ptr(m.Type(elem.Elem))
	default:
		data = a.Ptr(a.IntTy(asm.U8))
	}
	a.DefineClass(&asm.ClassDef{
		Ref: cls,
		Fields: []asm.FieldDef{
			{Name: a.AllocString(DataPtrField), Type: data, Offset: 0},
			{Name: a.AllocString(MetadataField), Type: a.USize(), Offset: mir.PtrSize},
		},
		Size:  2 * mir.PtrSize,
		Align: mir.PtrSize,
	})
	return cls
}

// FatPtrFields returns the data pointer and metadata fields of a fat
// pointer type.
func (m *TypeMapper) FatPtrFields(t *mir.Ty) (data, meta asm.FieldIdx) {
	tpe := m.a.Type(m.Type(t))
	def := m.a.ClassDef(tpe.Class)
	fault.Check(def != nil, "fat pointer %s has no class definition", t)
	data = m.a.AllocField(asm.FieldDesc{Owner: tpe.Class, Name: def.Fields[0].Name, Type: def.Fields[0].Type})
	meta = m.a.AllocField(asm.FieldDesc{Owner: tpe.Class, Name: def.Fields[1].Name, Type: def.Fields[1].Type})
	return data, meta
}

func (m *TypeMapper) aggregateClass(t *mir.Ty) asm.ClassIdx {
	a := m.a
	name := t.Name
	if t.Kind == mir.Tuple {
		name = "Tuple" + mangle(t.Key())
	} else {
		name = strings.TrimPrefix(mangle(name), "_")
	}
	cls := a.NamedClass(name, "", true)
	// Self-referential aggregates reach this type again through their
	// pointer fields.
	m.cache[t.Key()] = a.ClassTy(cls)
	lay := m.Layout(t)
	def := &asm.ClassDef{Ref: cls, Size: lay.Size, Align: lay.Align, Explicit: t.Union}
	// natural tracks where sequential C packing would put each field.
	natural, align := uint64(0), max(lay.Align, 1)
	for i, f := range t.Fields {
		if m.IsZST(f) {
			continue
		}
		off := lay.Offsets[i]
		fl := m.Layout(f)
		natural = alignUp(natural, fl.Align)
		if off != natural {
			def.Explicit = true
		}
		natural = off + fl.Size
		align = max(align, fl.Align)
		def.Fields = append(def.Fields, asm.FieldDef{
			Name:   a.AllocString(m.fieldName(t, i)),
			Type:   m.Type(f),
			Offset: uint32(off),
		})
	}
	if len(def.Fields) > 0 && alignUp(natural, align) != lay.Size {
		def.Explicit = true
	}
	a.DefineClass(def)
	return cls
}

func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func (m *TypeMapper) arrayClass(t *mir.Ty) asm.ClassIdx {
	a := m.a
	cls := a.NamedClass(fmt.Sprintf("Array%d%s", t.Len, mangle(t.Elem.Key())), "", true)
	lay := m.Layout(t)
	a.DefineClass(&asm.ClassDef{
		Ref:      cls,
		Fields:   []asm.FieldDef{{Name: a.AllocString("data"), Type: m.Type(t.Elem)}},
		Explicit: true,
		Size:     lay.Size,
		Align:    lay.Align,
	})
	return cls
}

func (m *TypeMapper) fieldName(t *mir.Ty, i int) string {
	if t.Kind == mir.Tuple {
		return fmt.Sprintf("Item%d", i+1)
	}
	return t.FieldName(i)
}

// Field interns the descriptor of field i of the aggregate t.
func (m *TypeMapper) Field(t *mir.Ty, i int) asm.FieldIdx {
	tpe := m.a.Type(m.Type(t))
	fault.Check(tpe.Kind == asm.KClass, "field %d of non-aggregate %s", i, t)
	return m.a.FieldOf(tpe.Class, m.fieldName(t, i), m.Type(t.Fields[i]))
}

// Pair returns the result-pair tuple (T, bool) used by overflow-checked
// operations.
func (m *TypeMapper) Pair(t *mir.Ty) *mir.Ty {
	return mir.TupleOf(t, mir.BoolTy())
}

// mangle turns a type key into an identifier fragment.
func mangle(s string) string {
	var b strings.Builder
	b.WriteByte('_')
	under := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			under = false
		case r == '*':
			b.WriteString("P")
			under = false
		case r == '&':
			b.WriteString("R")
			under = false
		default:
			if !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
