package compiler

import (
	"go/types"

	"golang.org/x/tools/go/types/typeutil"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
	"github.com/NERVsystems/infernode/tools/ilower/mir"
)

// typeMapper translates Go types to frontend IR types. Identical Go types
// map to the same *mir.Ty.
type typeMapper struct {
	cache typeutil.Map
}

// basicTypes maps sized Go basic kinds. int and uint are 64 bits wide.
var basicTypes = map[types.BasicKind]func() *mir.Ty{
	types.Bool:          mir.BoolTy,
	types.Int:           func() *mir.Ty { return mir.IntTy(64) },
	types.Int8:          func() *mir.Ty { return mir.IntTy(8) },
	types.Int16:         func() *mir.Ty { return mir.IntTy(16) },
	types.Int32:         func() *mir.Ty { return mir.IntTy(32) },
	types.Int64:         func() *mir.Ty { return mir.IntTy(64) },
	types.Uint:          func() *mir.Ty { return mir.UintTy(64) },
	types.Uint8:         func() *mir.Ty { return mir.UintTy(8) },
	types.Uint16:        func() *mir.Ty { return mir.UintTy(16) },
	types.Uint32:        func() *mir.Ty { return mir.UintTy(32) },
	types.Uint64:        func() *mir.Ty { return mir.UintTy(64) },
	types.Uintptr:       func() *mir.Ty { return mir.UintTy(0) },
	types.Float32:       func() *mir.Ty { return mir.FloatTy(32) },
	types.Float64:       func() *mir.Ty { return mir.FloatTy(64) },
	types.String:        func() *mir.Ty { return mir.RefTo(mir.StrTy()) },
	types.UnsafePointer: func() *mir.Ty { return mir.PtrTo(mir.UintTy(8)) },
}

func (tm *typeMapper) ty(t types.Type) *mir.Ty {
	if cached, ok := tm.cache.At(t).(*mir.Ty); ok {
		return cached
	}
	switch t := t.(type) {
	case *types.Named:
		st, ok := t.Underlying().(*types.Struct)
		if !ok {
			out := tm.ty(t.Underlying())
			tm.cache.Set(t, out)
			return out
		}
		// Cache the named type before its fields so that self-referential
		// structs terminate.
		out := &mir.Ty{Kind: mir.Adt, Name: typeName(t)}
		tm.cache.Set(t, out)
		out.Fields, out.FieldNames = tm.fields(st)
		return out
	case *types.Alias:
		return tm.ty(types.Unalias(t))
	}

	var out *mir.Ty
	switch t := t.(type) {
	case *types.Basic:
		mk, ok := basicTypes[t.Kind()]
		if !ok {
			fault.Unimplemented("Go type %s", t)
		}
		out = mk()
	case *types.Pointer:
		out = mir.PtrTo(tm.ty(t.Elem()))
	case *types.Array:
		out = mir.ArrayOf(tm.ty(t.Elem()), uint64(t.Len()))
	case *types.Struct:
		fields, names := tm.fields(t)
		out = mir.TupleOf(fields...)
		out.FieldNames = names
	case *types.Tuple:
		fields := make([]*mir.Ty, t.Len())
		for i := range fields {
			fields[i] = tm.ty(t.At(i).Type())
		}
		out = mir.TupleOf(fields...)
	case *types.Signature:
		sig := tm.sig(t)
		out = mir.FnPtrOf(sig.Output, sig.Inputs...)
	default:
		fault.Unimplemented("Go type %s", t)
	}
	tm.cache.Set(t, out)
	return out
}

func (tm *typeMapper) fields(st *types.Struct) ([]*mir.Ty, []string) {
	fields := make([]*mir.Ty, st.NumFields())
	names := make([]string, st.NumFields())
	for i := range fields {
		fields[i] = tm.ty(st.Field(i).Type())
		names[i] = st.Field(i).Name()
	}
	return fields, names
}

// sig maps a Go signature; the receiver, if any, becomes the first input.
func (tm *typeMapper) sig(s *types.Signature) *mir.FnSig {
	out := &mir.FnSig{}
	if recv := s.Recv(); recv != nil {
		out.Inputs = append(out.Inputs, tm.ty(recv.Type()))
	}
	for i := 0; i < s.Params().Len(); i++ {
		out.Inputs = append(out.Inputs, tm.ty(s.Params().At(i).Type()))
	}
	if s.Variadic() {
		fault.Unimplemented("variadic function type %s", s)
	}
	out.Output = tm.results(s.Results())
	return out
}

// results maps a result tuple: nothing is unit, one result is itself and
// several results form a tuple.
func (tm *typeMapper) results(t *types.Tuple) *mir.Ty {
	switch t.Len() {
	case 0:
		return mir.UnitTy()
	case 1:
		return tm.ty(t.At(0).Type())
	}
	return tm.ty(t)
}

// typeName is the package-qualified name of a named type, type arguments
// included.
func typeName(t *types.Named) string {
	return types.TypeString(t, func(p *types.Package) string { return p.Name() })
}
