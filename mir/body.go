package mir

import "lukechampine.com/uint128"

// Program is one compilation unit.
type Program struct {
	Name  string
	Funcs []*Func
	// Statics lists static items that must be emitted even when no
	// function refers to them.
	Statics []AllocID
	// Entry names the function a generated main calls; "" for libraries.
	Entry string
}

// Func is a function with a body.
type Func struct {
	Name   string
	Sig    *FnSig
	Body   *Body
	Public bool
}

// Body is the control-flow graph of a function. Local 0 is the return
// place and locals 1..ArgCount are the arguments, in order.
type Body struct {
	Locals   []LocalDecl
	ArgCount int
	Blocks   []*Block
}

// LocalDecl declares a local slot.
type LocalDecl struct {
	Name string
	Ty   *Ty
}

// Block is a basic block. Cleanup blocks only run while unwinding.
type Block struct {
	Stmts   []Stmt
	Term    Terminator
	Cleanup bool
}

// NoBlock marks an absent block target.
const NoBlock = -1

// ProjKind tags a place projection.
type ProjKind uint8

const (
	Deref ProjKind = iota + 1
	Field
	Index      // element selected by the local Index
	ConstIndex // element selected by Offset
)

// Projection narrows a place. Ty is the type of the place after the
// projection.
type Projection struct {
	Kind   ProjKind
	Field  int
	Index  int
	Offset uint64
	Ty     *Ty
}

// Place is a memory location rooted at a local.
type Place struct {
	Local int
	Proj  []Projection
}

// LocalPlace is the place of a bare local.
func LocalPlace(l int) Place { return Place{Local: l} }

// Statements.
type Stmt interface{ isStmt() }

type (
	Assign struct {
		Place  Place
		Rvalue Rvalue
	}
	StorageLive struct{ Local int }
	StorageDead struct{ Local int }
	Nop         struct{}
	// CopyNonOverlapping copies Count elements of Src's pointee type.
	CopyNonOverlapping struct {
		Src, Dst, Count Operand
	}
)

func (Assign) isStmt()             {}
func (StorageLive) isStmt()        {}
func (StorageDead) isStmt()        {}
func (Nop) isStmt()                {}
func (CopyNonOverlapping) isStmt() {}

// Operands.
type Operand interface{ isOperand() }

type (
	Copy  struct{ Place Place }
	Move  struct{ Place Place }
	Const struct {
		Value ConstValue
		Ty    *Ty
	}
)

func (Copy) isOperand()  {}
func (Move) isOperand()  {}
func (Const) isOperand() {}

// BinOp is a binary operator.
type BinOp uint8

const (
	Add BinOp = iota + 1
	Sub
	Mul
	Div
	Rem
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	Offset
)

// UnOp is a unary operator.
type UnOp uint8

const (
	Not UnOp = iota + 1
	Neg
)

// CastKind selects a conversion.
type CastKind uint8

const (
	IntToInt CastKind = iota + 1
	IntToFloat
	FloatToInt
	FloatToFloat
	PtrToPtr
	PtrToAddr
	AddrToPtr
	Transmute
)

// AggKind tags an aggregate.
type AggKind uint8

const (
	AggTuple AggKind = iota + 1
	AggAdt
	AggArray
)

// Rvalues.
type Rvalue interface{ isRvalue() }

type (
	Use       struct{ Op Operand }
	BinaryOp  struct {
		Op   BinOp
		A, B Operand
	}
	// CheckedBinaryOp yields (result, overflowed).
	CheckedBinaryOp struct {
		Op   BinOp
		A, B Operand
	}
	UnaryOp struct {
		Op UnOp
		A  Operand
	}
	Cast struct {
		Kind CastKind
		Op   Operand
		Ty   *Ty
	}
	// AddressOf takes the address of Place; Ty is the pointer type.
	AddressOf struct {
		Place Place
		Ty    *Ty
	}
	// Aggregate builds a value of Ty from Ops. For unions Ops holds the
	// single value of field Active.
	Aggregate struct {
		Kind   AggKind
		Ty     *Ty
		Ops    []Operand
		Active int
	}
)

func (Use) isRvalue()             {}
func (BinaryOp) isRvalue()        {}
func (CheckedBinaryOp) isRvalue() {}
func (UnaryOp) isRvalue()         {}
func (Cast) isRvalue()            {}
func (AddressOf) isRvalue()       {}
func (Aggregate) isRvalue()       {}

// Callee is the target of a call: a named function, an intrinsic, or a
// function pointer operand.
type Callee struct {
	Symbol    string
	Intrinsic bool
	Generics  []*Ty
	Sig       *FnSig
	Ptr       Operand
}

// Terminators.
type Terminator interface{ isTerm() }

type (
	Goto      struct{ Target int }
	SwitchInt struct {
		Discr Operand
		// Values are raw bit patterns of the discriminant's width; signed
		// values are two's complement.
		Values    []uint128.Uint128
		Targets   []int
		Otherwise int
	}
	Return      struct{}
	Unreachable struct{}
	Call        struct {
		Func   Callee
		Args   []Operand
		Dest   Place
		Target int
		Unwind int
	}
	Drop struct {
		Place  Place
		Target int
		Unwind int
	}
	Assert struct {
		Cond     Operand
		Expected bool
		Msg      string
		Target   int
		Unwind   int
	}
	UnwindResume struct{}
	Abort        struct{ Msg string }
)

func (Goto) isTerm()         {}
func (SwitchInt) isTerm()    {}
func (Return) isTerm()       {}
func (Unreachable) isTerm()  {}
func (Call) isTerm()         {}
func (Drop) isTerm()         {}
func (Assert) isTerm()       {}
func (UnwindResume) isTerm() {}
func (Abort) isTerm()        {}
