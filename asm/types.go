package asm

import "fmt"

// Handles into the pools of an Assembly. The zero value of every handle
// type means "absent"; valid handles start at 1.
type (
	TypeIdx   uint32
	SigIdx    uint32
	ClassIdx  uint32
	MethodIdx uint32
	FieldIdx  uint32
	StaticIdx uint32
	StringIdx uint32
	NodeIdx   uint32
	RootIdx   uint32

	TypeList uint32
	NodeList uint32
	RootList uint32
)

// AllocID identifies a global allocation: a blob of bytes owned by the
// frontend (static initializers, string literals, promoted constants).
type AllocID uint64

// PtrBits is the width of native pointers and of isize/usize.
const PtrBits = 64

// TypeKind tags the Type variant.
type TypeKind uint8

const (
	KVoid TypeKind = iota
	KBool
	KInt
	KFloat
	KPtr   // unmanaged pointer to Inner
	KRef   // managed reference to Inner (constructor receivers)
	KFnPtr // function pointer with signature Sig
	KClass // externally defined or generated class/valuetype
	KSimd  // vector of Lanes elements of type Inner
)

// Int is an integer type.
type Int uint8

const (
	I8 Int = iota + 1
	I16
	I32
	I64
	I128
	ISize
	U8
	U16
	U32
	U64
	U128
	USize
)

var intNames = [...]string{
	I8: "i8", I16: "i16", I32: "i32", I64: "i64", I128: "i128", ISize: "isize",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64", U128: "u128", USize: "usize",
}

func (i Int) String() string {
	if int(i) < len(intNames) && intNames[i] != "" {
		return intNames[i]
	}
	return fmt.Sprintf("int(%d)", uint8(i))
}

// Signed reports whether i is a signed integer type.
func (i Int) Signed() bool { return i >= I8 && i <= ISize }

// Bits returns the width of i.
func (i Int) Bits() int {
	switch i {
	case I8, U8:
		return 8
	case I16, U16:
		return 16
	case I32, U32:
		return 32
	case I64, U64:
		return 64
	case I128, U128:
		return 128
	case ISize, USize:
		return PtrBits
	}
	return 0
}

// Unsigned returns the unsigned type of the same width.
func (i Int) Unsigned() Int {
	if i.Signed() {
		return i + (U8 - I8)
	}
	return i
}

// AsSigned returns the signed type of the same width.
func (i Int) AsSigned() Int {
	if i.Signed() {
		return i
	}
	return i - (U8 - I8)
}

// IntOfBits returns the integer type with the given width and signedness.
func IntOfBits(bits int, signed bool) Int {
	var i Int
	switch bits {
	case 8:
		i = U8
	case 16:
		i = U16
	case 32:
		i = U32
	case 64:
		i = U64
	case 128:
		i = U128
	default:
		return 0
	}
	if signed {
		return i.AsSigned()
	}
	return i
}

// Float is a floating point type.
type Float uint8

const (
	F16 Float = iota + 1
	F32
	F64
	F128
)

func (f Float) String() string {
	switch f {
	case F16:
		return "f16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case F128:
		return "f128"
	}
	return fmt.Sprintf("float(%d)", uint8(f))
}

// Bits returns the width of f.
func (f Float) Bits() int {
	switch f {
	case F16:
		return 16
	case F32:
		return 32
	case F64:
		return 64
	case F128:
		return 128
	}
	return 0
}

// Type is an interned target type. Only the fields relevant to Kind are
// set, so that structurally equal types compare equal.
type Type struct {
	Kind  TypeKind
	Int   Int
	Float Float
	Inner TypeIdx
	Sig   SigIdx
	Class ClassIdx
	Lanes uint32
}

// FnSig is a function signature.
type FnSig struct {
	Inputs TypeList
	Output TypeIdx
}

// ClassRef names a class or valuetype, optionally generic-instantiated.
// Asm is the defining assembly; zero means the assembly being built.
type ClassRef struct {
	Name      StringIdx
	Asm       StringIdx
	Valuetype bool
	Generics  TypeList
}

// MethodKind distinguishes how a method is bound.
type MethodKind uint8

const (
	Static MethodKind = iota
	Instance
	Virtual
	Constructor
)

// MethodRef identifies a callable method: its owner, name, signature and
// binding. For instance methods and constructors the receiver is the first
// input of Sig.
type MethodRef struct {
	Class    ClassIdx
	Name     StringIdx
	Sig      SigIdx
	Kind     MethodKind
	Generics TypeList
}

// FieldDesc identifies an instance field.
type FieldDesc struct {
	Owner ClassIdx
	Name  StringIdx
	Type  TypeIdx
}

// StaticFieldDesc identifies a static field. ThreadLocal statics get one
// slot per thread.
type StaticFieldDesc struct {
	Owner       ClassIdx
	Name        StringIdx
	Type        TypeIdx
	ThreadLocal bool
}
