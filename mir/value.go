package mir

import "lukechampine.com/uint128"

// AllocID names a global allocation owned by the frontend.
type AllocID uint64

// Pointer is an address into a global allocation.
type Pointer struct {
	Alloc  AllocID
	Offset uint64
}

// ConstValue is a constant the frontend has already evaluated.
type ConstValue interface {
	isConst()
}

type (
	// Scalar is an integer, float, bool or char constant given as its raw
	// bit pattern, Size bytes wide.
	Scalar struct {
		Bits uint128.Uint128
		Size int
	}
	// ScalarPtr is a pointer-valued constant.
	ScalarPtr struct{ Ptr Pointer }
	// ZeroSized is the value of a zero-sized type.
	ZeroSized struct{}
	// SliceConst is a fat pointer to Meta elements starting at Data.
	SliceConst struct {
		Data AllocID
		Meta uint64
	}
	// Indirect is a constant stored in memory at Alloc+Offset.
	Indirect struct {
		Alloc  AllocID
		Offset uint64
	}
)

func (Scalar) isConst() {}
func (ScalarPtr) isConst() {}
func (ZeroSized) isConst() {}
func (SliceConst) isConst() {}
func (Indirect) isConst() {}

// ScalarOf builds a Scalar from the low 64 bits.
func ScalarOf(bits uint64, size int) Scalar {
	return Scalar{Bits: uint128.From64(bits), Size: size}
}

// GlobalAlloc is a node of the allocation graph.
type GlobalAlloc interface {
	isAlloc()
}

type (
	// Memory is anonymous memory. Ptrs lists the pointers stored in it.
	Memory struct {
		Bytes []byte
		Align uint64
		Ptrs  []Provenance
	}
	// StaticItem is a named static. Init names the Memory holding its
	// initial value; zero means the static is defined elsewhere.
	StaticItem struct {
		Name        string
		Ty          *Ty
		Init        AllocID
		ThreadLocal bool
		// LinkSection is the explicit linker section, if any.
		LinkSection string
		// Import marks an item bound at link time from another library.
		Import bool
	}
	// Function is the address of a function.
	Function struct {
		Symbol string
		Sig    *FnSig
	}
)

func (Memory) isAlloc() {}
func (StaticItem) isAlloc() {}
func (Function) isAlloc() {}

// Provenance records a pointer stored at Offset within a Memory.
type Provenance struct {
	Offset uint64
	Ptr    Pointer
}

// Layout is the memory layout of a sized type.
type Layout struct {
	Size    uint64
	Align   uint64
	Offsets []uint64
}

// IsZST reports a zero-sized layout.
func (l Layout) IsZST() bool { return l.Size == 0 }

// Query is a reflective question answered by the constant evaluator.
type Query struct {
	Intrinsic string
	Generics  []*Ty
}

// Frontend is the service interface the engine calls back into while
// lowering.
type Frontend interface {
	// LayoutOf returns the layout of a sized type.
	LayoutOf(t *Ty) Layout
	// GlobalAlloc resolves an allocation id.
	GlobalAlloc(id AllocID) (GlobalAlloc, bool)
	// EvalConst evaluates a reflective intrinsic (type_name, type_id,
	// variant_count, caller_location, needs_drop) to a constant of the
	// returned type.
	EvalConst(q Query) (ConstValue, *Ty, error)
}
