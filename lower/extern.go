package lower

import (
	"github.com/NERVsystems/infernode/tools/ilower/asm"
)

// ExternFunc describes a C-library symbol that programs may reference
// weakly (by address only). Params and Ret use C-level primitive types.
type ExternFunc struct {
	Name   string
	Lib    string
	Params []CType
	Ret    CType
	// Data marks a data symbol rather than a function.
	Data bool
}

// CType is a C primitive used by the extern table.
type CType uint8

const (
	CVoid CType = iota
	CInt
	CUInt
	CLong
	CSizeT
	CSSizeT
	CPtr
)

// externFuncs lists the weak symbols libstd probes for at runtime. Only
// these may be referenced through an import-linkage static; anything else
// is rejected.
var externFuncs = map[string]ExternFunc{
	"statx": {
		Name: "statx", Lib: "libc",
		Params: []CType{CInt, CPtr, CInt, CUInt, CPtr}, Ret: CInt,
	},
	"getrandom": {
		Name: "getrandom", Lib: "libc",
		Params: []CType{CPtr, CSizeT, CUInt}, Ret: CSSizeT,
	},
	"posix_spawn": {
		Name: "posix_spawn", Lib: "libc",
		Params: []CType{CPtr, CPtr, CPtr, CPtr, CPtr, CPtr}, Ret: CInt,
	},
	"posix_spawn_file_actions_addchdir_np": {
		Name: "posix_spawn_file_actions_addchdir_np", Lib: "libc",
		Params: []CType{CPtr, CPtr}, Ret: CInt,
	},
	"__dso_handle": {
		Name: "__dso_handle", Lib: "libc", Data: true,
	},
	"__cxa_thread_atexit_impl": {
		Name: "__cxa_thread_atexit_impl", Lib: "libc",
		Params: []CType{CPtr, CPtr, CPtr}, Ret: CInt,
	},
	"copy_file_range": {
		Name: "copy_file_range", Lib: "libc",
		Params: []CType{CInt, CPtr, CInt, CPtr, CSizeT, CUInt}, Ret: CSSizeT,
	},
	"pidfd_spawnp": {
		Name: "pidfd_spawnp", Lib: "libc",
		Params: []CType{CPtr, CPtr, CPtr, CPtr, CPtr, CPtr}, Ret: CInt,
	},
	"pidfd_getpid": {
		Name: "pidfd_getpid", Lib: "libc",
		Params: []CType{CInt}, Ret: CInt,
	},
}

// LookupExtern returns the table entry for a weak symbol.
func LookupExtern(name string) (ExternFunc, bool) {
	f, ok := externFuncs[name]
	return f, ok
}

func (l *Lowerer) cType(c CType) asm.TypeIdx {
	a := l.a
	switch c {
	case CInt:
		return a.IntTy(asm.I32)
	case CUInt:
		return a.IntTy(asm.U32)
	case CLong, CSSizeT:
		return a.ISize()
	case CSizeT:
		return a.USize()
	case CPtr:
		return a.VoidPtr()
	}
	return a.Void()
}

// externAddr registers the extern and returns its address. Functions
// resolve to their entry point; data symbols to an extern static.
func (l *Lowerer) externAddr(f ExternFunc) asm.NodeIdx {
	a := l.a
	if f.Data {
		field := a.AllocStatic(asm.StaticFieldDesc{
			Owner: a.MainModule(),
			Name:  a.AllocString(f.Name),
			Type:  a.IntTy(asm.U8),
		})
		a.DefineStatic(&asm.StaticDef{Field: field, Extern: f.Lib})
		return a.AllocNode(asm.LdStaticA{Field: field})
	}
	params := make([]asm.TypeIdx, len(f.Params))
	for i, p := range f.Params {
		params[i] = l.cType(p)
	}
	m := a.Helper(f.Name, l.cType(f.Ret), params...)
	a.AddExtern(f.Lib, m)
	return a.AllocNode(asm.LdFtn{Method: m})
}
