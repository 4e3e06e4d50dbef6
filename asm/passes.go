package asm

import (
	"encoding/binary"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// FlattenSubTrees hoists the roots carried by SubTrees nodes in front of
// the root that contains them, leaving only their value behind. Roots
// nested inside a TmpLocal initializer are hoisted into that initializer.
func FlattenSubTrees(a *Assembly, b *BasicBlock) {
	b.RewriteRoots(func(r RootIdx) []RootIdx {
		return flattenRoot(a, r)
	})
}

func flattenRoot(a *Assembly, r RootIdx) []RootIdx {
	var hoisted []RootIdx
	out := a.MapRoot(r, flattenMapper(&hoisted))
	return append(hoisted, out)
}

func flattenMapper(hoisted *[]RootIdx) *Mapper {
	m := &Mapper{}
	m.Pre = func(a *Assembly, n Node) (Node, bool) {
		tmp, ok := n.(TmpLocal)
		if !ok {
			return nil, false
		}
		var init []RootIdx
		for _, ir := range a.Roots(tmp.Init) {
			init = append(init, flattenRoot(a, ir)...)
		}
		var fromFinal []RootIdx
		tmp.Final = a.MapNode(tmp.Final, flattenMapper(&fromFinal))
		tmp.Init = a.AllocRoots(append(init, fromFinal...)...)
		return tmp, true
	}
	m.Node = func(a *Assembly, n Node) Node {
		if sub, ok := n.(SubTrees); ok {
			*hoisted = append(*hoisted, a.Roots(sub.Roots)...)
			return a.Node(sub.Val)
		}
		return n
	}
	return m
}

// PromoteConstPtrs replaces every ConstValuePtr marker with the address of
// a synthesized allocation holding its bytes.
func PromoteConstPtrs(a *Assembly) {
	a.MapBlocks(&Mapper{Node: func(a *Assembly, n Node) Node {
		cv, ok := n.(ConstValuePtr)
		if !ok {
			return n
		}
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[:8], cv.Lo)
		binary.LittleEndian.PutUint64(buf[8:], cv.Hi)
		return GlobalAllocPtr{Alloc: a.AllocBytes(buf[:], 16)}
	}})
}

// Validate checks a method body for IR that must never reach an exporter:
// leftover SubTrees or ConstValuePtr nodes, foreign handles, branches to
// blocks that do not exist and TmpLocal loads outside a TmpLocal.
func Validate(a *Assembly, def *MethodDef) {
	name := a.String(a.Method(def.Ref).Name)
	validateGroup(a, name, def, def.Blocks)
}

func validateGroup(a *Assembly, name string, def *MethodDef, blocks []BasicBlock) {
	ids := make(map[uint32]bool, len(blocks))
	for _, b := range blocks {
		fault.Check(!ids[b.ID], "%s: duplicate block id %d", name, b.ID)
		ids[b.ID] = true
	}
	for _, b := range blocks {
		for _, r := range b.Roots {
			fault.Check(a.ValidRoot(r), "%s: block %d: foreign root handle %d", name, b.ID, r)
			validateRoot(a, name, def, r, 0)
		}
		for _, t := range b.Targets(a) {
			fault.Check(ids[t], "%s: block %d branches to missing block %d", name, b.ID, t)
		}
		for _, h := range b.Handlers {
			fault.Check(len(h.Blocks) > 0, "%s: block %d has an empty handler", name, b.ID)
			validateGroup(a, name, def, h.Blocks)
		}
	}
}

func validateRoot(a *Assembly, name string, def *MethodDef, r RootIdx, tmpDepth int) {
	switch r := a.Root(r).(type) {
	case SetLoc:
		fault.Check(int(r.Loc) < len(def.Locals), "%s: store to missing local %d", name, r.Loc)
		validateNode(a, name, def, r.Val, tmpDepth)
		return
	case SetTmp:
		fault.Check(tmpDepth > 0, "%s: SetTmp outside a temporary local", name)
	}
	forEachChild(a, a.Root(r), func(n NodeIdx) { validateNode(a, name, def, n, tmpDepth) })
}

func validateNode(a *Assembly, name string, def *MethodDef, idx NodeIdx, tmpDepth int) {
	fault.Check(a.ValidNode(idx), "%s: foreign node handle %d", name, idx)
	switch n := a.Node(idx).(type) {
	case SubTrees:
		fault.Invariant("%s: sub-tree placeholder reached final IR", name)
	case ConstValuePtr:
		fault.Invariant("%s: unpromoted constant pointer reached final IR", name)
	case LdTmp, LdTmpA:
		fault.Check(tmpDepth > 0, "%s: temporary load outside a temporary local", name)
	case LdLoc:
		fault.Check(int(n.Loc) < len(def.Locals), "%s: load of missing local %d", name, n.Loc)
	case LdLocA:
		fault.Check(int(n.Loc) < len(def.Locals), "%s: address of missing local %d", name, n.Loc)
	case TmpLocal:
		for _, r := range a.Roots(n.Init) {
			validateRoot(a, name, def, r, tmpDepth+1)
		}
		validateNode(a, name, def, n.Final, tmpDepth+1)
		return
	}
	forEachNodeChild(a, a.Node(idx), func(c NodeIdx) { validateNode(a, name, def, c, tmpDepth) })
}

// forEachChild calls f on the direct node children of a root.
func forEachChild(a *Assembly, r Root, f func(NodeIdx)) {
	switch r := r.(type) {
	case SetArg:
		f(r.Val)
	case SetTmp:
		f(r.Val)
	case StInd:
		f(r.Addr)
		f(r.Val)
	case SetField:
		f(r.Addr)
		f(r.Val)
	case SetStatic:
		f(r.Val)
	case CpBlk:
		f(r.Dst)
		f(r.Src)
		f(r.Len)
	case InitBlk:
		f(r.Dst)
		f(r.Val)
		f(r.Count)
	case CallRoot:
		for _, n := range a.Nodes(r.Args) {
			f(n)
		}
	case Pop:
		f(r.Val)
	case BranchCond:
		f(r.Cond)
	case Ret:
		f(r.Val)
	case Throw:
		f(r.Val)
	case VolatileRoot:
		forEachChild(a, a.Root(r.Root), f)
	}
}

// forEachNodeChild calls f on the direct node children of n. TmpLocal and
// SubTrees are handled by their callers.
func forEachNodeChild(a *Assembly, n Node, f func(NodeIdx)) {
	switch n := n.(type) {
	case LdInd:
		f(n.Addr)
	case LdField:
		f(n.Addr)
	case LdFieldA:
		f(n.Addr)
	case BinOp:
		f(n.A)
		f(n.B)
	case UnOp:
		f(n.A)
	case IntCast:
		f(n.Val)
	case FloatCast:
		f(n.Val)
	case FloatToInt:
		f(n.Val)
	case PtrCast:
		f(n.Val)
	case Call:
		for _, c := range a.Nodes(n.Args) {
			f(c)
		}
	case CallVirt:
		for _, c := range a.Nodes(n.Args) {
			f(c)
		}
	case CallI:
		f(n.Ptr)
		for _, c := range a.Nodes(n.Args) {
			f(c)
		}
	case NewObj:
		for _, c := range a.Nodes(n.Args) {
			f(c)
		}
	case Select:
		f(n.True)
		f(n.False)
		f(n.Cond)
	case VolatileNode:
		f(n.Val)
	}
}
