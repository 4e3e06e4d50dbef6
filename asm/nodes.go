package asm

// Node is a value-producing expression. Nodes never transfer control.
// All variants are comparable so that they can be interned.
type Node interface {
	node()
}

// BinOpKind is a binary operator. The Un suffix selects the unsigned
// (or, for floats, unordered) variant.
type BinOpKind uint8

const (
	Add BinOpKind = iota + 1
	Sub
	Mul
	Div
	DivUn
	Rem
	RemUn
	And
	Or
	XOr
	Shl
	Shr
	ShrUn
	Eq
	Lt
	LtUn
	Gt
	GtUn
)

var binOpNames = [...]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", DivUn: "div.un",
	Rem: "rem", RemUn: "rem.un", And: "and", Or: "or", XOr: "xor",
	Shl: "shl", Shr: "shr", ShrUn: "shr.un", Eq: "ceq", Lt: "clt",
	LtUn: "clt.un", Gt: "cgt", GtUn: "cgt.un",
}

func (op BinOpKind) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "binop?"
}

// IsCompare reports whether op produces a boolean.
func (op BinOpKind) IsCompare() bool { return op >= Eq }

// UnOpKind is a unary operator.
type UnOpKind uint8

const (
	Neg UnOpKind = iota + 1
	Not
)

func (op UnOpKind) String() string {
	if op == Neg {
		return "neg"
	}
	return "not"
}

// Extend selects how an integer cast fills the widened bits.
type Extend uint8

const (
	ZeroExtend Extend = iota
	SignExtend
)

type (
	// LdLoc loads local Loc.
	LdLoc struct{ Loc uint32 }
	// LdLocA takes the address of local Loc.
	LdLocA struct{ Loc uint32 }
	LdArg  struct{ Arg uint32 }
	LdArgA struct{ Arg uint32 }

	LdStatic  struct{ Field StaticIdx }
	LdStaticA struct{ Field StaticIdx }

	// LdInd loads a value of Type from address Addr.
	LdInd struct {
		Addr NodeIdx
		Type TypeIdx
	}
	// LdField loads Field from the object (or pointer to valuetype) Addr.
	LdField struct {
		Addr  NodeIdx
		Field FieldIdx
	}
	// LdFieldA computes the address of Field within Addr.
	LdFieldA struct {
		Addr  NodeIdx
		Field FieldIdx
	}

	// ConstInt is an integer literal. Bits holds the value truncated to the
	// width of Int (and sign-extended to 64 bits for signed types).
	ConstInt struct {
		Int  Int
		Bits uint64
	}
	// ConstFloat is a float literal stored as its IEEE bit pattern. F128 is
	// never a literal; it is built from two halves.
	ConstFloat struct {
		Float Float
		Bits  uint64
	}
	ConstBool struct{ Val bool }
	LdStr     struct{ Str StringIdx }

	BinOp struct {
		Op   BinOpKind
		A, B NodeIdx
	}
	UnOp struct {
		Op UnOpKind
		A  NodeIdx
	}

	// IntCast converts an integer, float-free, to Target, filling widened
	// bits according to Extend.
	IntCast struct {
		Target Int
		Extend Extend
		Val    NodeIdx
	}
	// FloatCast converts an integer or float to Target. Unsigned marks an
	// unsigned integer source.
	FloatCast struct {
		Target   Float
		Unsigned bool
		Val      NodeIdx
	}
	// FloatToInt truncates a float toward zero.
	FloatToInt struct {
		Target Int
		Val    NodeIdx
	}
	// PtrCast reinterprets a pointer-sized value as Target.
	PtrCast struct {
		Target TypeIdx
		Val    NodeIdx
	}

	Call struct {
		Method MethodIdx
		Args   NodeList
	}
	CallVirt struct {
		Method MethodIdx
		Args   NodeList
	}
	// CallI calls through the function pointer Ptr.
	CallI struct {
		Sig  SigIdx
		Ptr  NodeIdx
		Args NodeList
	}
	NewObj struct {
		Ctor MethodIdx
		Args NodeList
	}
	LdFtn       struct{ Method MethodIdx }
	SizeOf      struct{ Type TypeIdx }
	LdTypeToken struct{ Type TypeIdx }

	// Select yields True if Cond holds, False otherwise. Both operands are
	// evaluated.
	Select struct {
		Type              TypeIdx
		True, False, Cond NodeIdx
	}

	// TmpLocal declares a temporary of Type, runs Init and yields Final.
	// Inside Init and Final, LdTmp/LdTmpA/SetTmp refer to the innermost
	// enclosing TmpLocal.
	TmpLocal struct {
		Type  TypeIdx
		Init  RootList
		Final NodeIdx
	}
	LdTmp  struct{}
	LdTmpA struct{}

	// GlobalAllocPtr is the address of a global allocation.
	GlobalAllocPtr struct{ Alloc AllocID }

	// ConstValuePtr is the address of storage holding the 128-bit pattern
	// Hi:Lo (little-endian, low half first). It only exists between
	// constant lowering and PromoteConstPtrs.
	ConstValuePtr struct{ Hi, Lo uint64 }

	// SubTrees runs Roots, then yields Val. It is a pipeline intermediate
	// removed by FlattenSubTrees and must never reach an exporter.
	SubTrees struct {
		Roots RootList
		Val   NodeIdx
	}

	// VolatileNode marks a load that must not be elided or reordered.
	VolatileNode struct{ Val NodeIdx }
)

func (LdLoc) node()          {}
func (LdLocA) node()         {}
func (LdArg) node()          {}
func (LdArgA) node()         {}
func (LdStatic) node()       {}
func (LdStaticA) node()      {}
func (LdInd) node()          {}
func (LdField) node()        {}
func (LdFieldA) node()       {}
func (ConstInt) node()       {}
func (ConstFloat) node()     {}
func (ConstBool) node()      {}
func (LdStr) node()          {}
func (BinOp) node()          {}
func (UnOp) node()           {}
func (IntCast) node()        {}
func (FloatCast) node()      {}
func (FloatToInt) node()     {}
func (PtrCast) node()        {}
func (Call) node()           {}
func (CallVirt) node()       {}
func (CallI) node()          {}
func (NewObj) node()         {}
func (LdFtn) node()          {}
func (SizeOf) node()         {}
func (LdTypeToken) node()    {}
func (Select) node()         {}
func (TmpLocal) node()       {}
func (LdTmp) node()          {}
func (LdTmpA) node()         {}
func (GlobalAllocPtr) node() {}
func (ConstValuePtr) node()  {}
func (SubTrees) node()       {}
func (VolatileNode) node()   {}
