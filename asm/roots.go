package asm

// Root is a statement with a side effect and a fixed position in a basic
// block. Only roots transfer control.
type Root interface {
	root()
}

type (
	SetLoc struct {
		Loc uint32
		Val NodeIdx
	}
	SetArg struct {
		Arg uint32
		Val NodeIdx
	}
	// SetTmp stores into the innermost enclosing TmpLocal.
	SetTmp struct{ Val NodeIdx }
	// StInd stores Val, of Type, at Addr.
	StInd struct {
		Addr, Val NodeIdx
		Type      TypeIdx
	}
	SetField struct {
		Addr  NodeIdx
		Field FieldIdx
		Val   NodeIdx
	}
	SetStatic struct {
		Field StaticIdx
		Val   NodeIdx
	}
	// CpBlk copies Len bytes from Src to Dst.
	CpBlk struct{ Dst, Src, Len NodeIdx }
	// InitBlk fills Count bytes at Dst with the byte Val.
	InitBlk struct{ Dst, Val, Count NodeIdx }

	// CallRoot calls Method and discards any result.
	CallRoot struct {
		Method MethodIdx
		Args   NodeList
	}
	// Pop evaluates Val for its side effects.
	Pop struct{ Val NodeIdx }

	// BranchCond jumps to block Target when Cond is true.
	BranchCond struct {
		Target uint32
		Cond   NodeIdx
	}
	Goto    struct{ Target uint32 }
	Ret     struct{ Val NodeIdx }
	VoidRet struct{}
	Throw   struct{ Val NodeIdx }
	ReThrow struct{}
	Nop     struct{}
	Break   struct{}

	// VolatileRoot marks a memory-ordering-sensitive store.
	VolatileRoot struct{ Root RootIdx }
)

func (SetLoc) root()       {}
func (SetArg) root()       {}
func (SetTmp) root()       {}
func (StInd) root()        {}
func (SetField) root()     {}
func (SetStatic) root()    {}
func (CpBlk) root()        {}
func (InitBlk) root()      {}
func (CallRoot) root()     {}
func (Pop) root()          {}
func (BranchCond) root()   {}
func (Goto) root()         {}
func (Ret) root()          {}
func (VoidRet) root()      {}
func (Throw) root()        {}
func (ReThrow) root()      {}
func (Nop) root()          {}
func (Break) root()        {}
func (VolatileRoot) root() {}

// IsTerminator reports whether r ends straight-line execution.
func IsTerminator(r Root) bool {
	switch r.(type) {
	case Goto, Ret, VoidRet, Throw, ReThrow:
		return true
	}
	return false
}
