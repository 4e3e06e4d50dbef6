package ildump

import (
	"fmt"
	"strings"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

const runtimeAsm = "System.Runtime"

var ilInts = map[asm.Int]string{
	asm.I8: "int8", asm.I16: "int16", asm.I32: "int32", asm.I64: "int64", asm.ISize: "native int",
	asm.U8: "uint8", asm.U16: "uint16", asm.U32: "uint32", asm.U64: "uint64", asm.USize: "native uint",
	asm.I128: "valuetype [System.Runtime]System.Int128",
	asm.U128: "valuetype [System.Runtime]System.UInt128",
}

var ilFloats = map[asm.Float]string{
	asm.F16: "valuetype [System.Runtime]System.Half",
	asm.F32: "float32",
	asm.F64: "float64",
}

// typeName spells t in IL assembler syntax.
func typeName(a *asm.Assembly, t asm.TypeIdx) string {
	tpe := a.Type(t)
	switch tpe.Kind {
	case asm.KVoid:
		return "void"
	case asm.KBool:
		return "bool"
	case asm.KInt:
		return ilInts[tpe.Int]
	case asm.KFloat:
		if name, ok := ilFloats[tpe.Float]; ok {
			return name
		}
		fault.Unimplemented("%s in IL", tpe.Float)
	case asm.KPtr:
		return typeName(a, tpe.Inner) + "*"
	case asm.KRef:
		return typeName(a, tpe.Inner) + "&"
	case asm.KFnPtr:
		sig := a.Sig(tpe.Sig)
		return fmt.Sprintf("method %s *(%s)", typeName(a, sig.Output), typeList(a, a.Types(sig.Inputs)))
	case asm.KClass:
		return classType(a, tpe.Class)
	case asm.KSimd:
		elem := a.Type(tpe.Inner)
		bits := 0
		switch elem.Kind {
		case asm.KInt:
			bits = elem.Int.Bits()
		case asm.KFloat:
			bits = elem.Float.Bits()
		}
		return fmt.Sprintf("valuetype [System.Runtime]System.Runtime.Intrinsics.Vector%d`1<%s>",
			bits*int(tpe.Lanes), typeName(a, tpe.Inner))
	}
	fault.Invariant("type kind %d", tpe.Kind)
	return ""
}

func typeList(a *asm.Assembly, ts []asm.TypeIdx) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = typeName(a, t)
	}
	return strings.Join(names, ", ")
}

// className spells a class reference without the valuetype/class keyword.
func className(a *asm.Assembly, c asm.ClassIdx) string {
	ref := a.Class(c)
	var b strings.Builder
	if ref.Asm != 0 {
		fmt.Fprintf(&b, "[%s]", a.String(ref.Asm))
	}
	b.WriteString(quote(a.String(ref.Name)))
	if gens := a.Types(ref.Generics); len(gens) > 0 {
		fmt.Fprintf(&b, "`%d<%s>", len(gens), typeList(a, gens))
	}
	return b.String()
}

func classType(a *asm.Assembly, c asm.ClassIdx) string {
	if a.Class(c).Valuetype {
		return "valuetype " + className(a, c)
	}
	return "class " + className(a, c)
}

// quote wraps names that are not plain dotted identifiers in single
// quotes.
func quote(name string) string {
	if name == ".ctor" || name == ".cctor" {
		return name
	}
	plain := name != ""
	for i, r := range name {
		switch {
		case r == '_' || r == '.' && i > 0 || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			plain = false
		}
	}
	if plain {
		return name
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name) + "'"
}

// methodSpec spells a method reference as used by call, ldftn and newobj.
func methodSpec(a *asm.Assembly, m asm.MethodIdx) string {
	ref := a.Method(m)
	sig := a.Sig(ref.Sig)
	ins := a.Types(sig.Inputs)
	inst := ""
	if ref.Kind != asm.Static {
		inst = "instance "
		if len(ins) > 0 {
			ins = ins[1:]
		}
	}
	gens := ""
	if g := a.Types(ref.Generics); len(g) > 0 {
		gens = "<" + typeList(a, g) + ">"
	}
	return fmt.Sprintf("%s%s %s::%s%s(%s)", inst, typeName(a, sig.Output), className(a, ref.Class),
		quote(a.String(ref.Name)), gens, typeList(a, ins))
}

func fieldSpec(a *asm.Assembly, f asm.FieldIdx) string {
	desc := a.Field(f)
	return fmt.Sprintf("%s %s::%s", typeName(a, desc.Type), className(a, desc.Owner), quote(a.String(desc.Name)))
}

func staticSpec(a *asm.Assembly, s asm.StaticIdx) string {
	desc := a.Static(s)
	return fmt.Sprintf("%s %s::%s", typeName(a, desc.Type), className(a, desc.Owner), quote(a.String(desc.Name)))
}
