package asm

import "github.com/NERVsystems/infernode/tools/ilower/fault"

// Mapper rewrites node and root trees bottom-up: children are mapped
// first, then the parent (rebuilt with its new children) is passed to the
// callback. Nil callbacks leave values unchanged.
//
// Pre, when set, sees each node before its children. If it reports true
// the node it returns replaces the subtree as is.
type Mapper struct {
	Pre  func(a *Assembly, n Node) (Node, bool)
	Node func(a *Assembly, n Node) Node
	Root func(a *Assembly, r Root) Root
}

// MapNode maps the tree rooted at idx and interns the result.
func (a *Assembly) MapNode(idx NodeIdx, m *Mapper) NodeIdx {
	if idx == 0 {
		return 0
	}
	if m.Pre != nil {
		if n, ok := m.Pre(a, a.Node(idx)); ok {
			return a.AllocNode(n)
		}
	}
	n := a.mapNodeChildren(a.Node(idx), m)
	if m.Node != nil {
		n = m.Node(a, n)
	}
	return a.AllocNode(n)
}

// MapRoot maps the tree rooted at idx and interns the result.
func (a *Assembly) MapRoot(idx RootIdx, m *Mapper) RootIdx {
	r := a.mapRootChildren(a.Root(idx), m)
	if m.Root != nil {
		r = m.Root(a, r)
	}
	return a.AllocRoot(r)
}

func (a *Assembly) mapNodeList(l NodeList, m *Mapper) NodeList {
	ns := a.Nodes(l)
	for i, n := range ns {
		ns[i] = a.MapNode(n, m)
	}
	return a.AllocNodes(ns...)
}

func (a *Assembly) mapRootList(l RootList, m *Mapper) RootList {
	rs := a.Roots(l)
	for i, r := range rs {
		rs[i] = a.MapRoot(r, m)
	}
	return a.AllocRoots(rs...)
}

func (a *Assembly) mapNodeChildren(n Node, m *Mapper) Node {
	mn := func(i NodeIdx) NodeIdx { return a.MapNode(i, m) }
	switch n := n.(type) {
	case LdLoc, LdLocA, LdArg, LdArgA, LdStatic, LdStaticA, ConstInt, ConstFloat,
		ConstBool, LdStr, LdFtn, SizeOf, LdTypeToken, LdTmp, LdTmpA,
		GlobalAllocPtr, ConstValuePtr:
		return n
	case LdInd:
		n.Addr = mn(n.Addr)
		return n
	case LdField:
		n.Addr = mn(n.Addr)
		return n
	case LdFieldA:
		n.Addr = mn(n.Addr)
		return n
	case BinOp:
		n.A, n.B = mn(n.A), mn(n.B)
		return n
	case UnOp:
		n.A = mn(n.A)
		return n
	case IntCast:
		n.Val = mn(n.Val)
		return n
	case FloatCast:
		n.Val = mn(n.Val)
		return n
	case FloatToInt:
		n.Val = mn(n.Val)
		return n
	case PtrCast:
		n.Val = mn(n.Val)
		return n
	case Call:
		n.Args = a.mapNodeList(n.Args, m)
		return n
	case CallVirt:
		n.Args = a.mapNodeList(n.Args, m)
		return n
	case CallI:
		n.Ptr = mn(n.Ptr)
		n.Args = a.mapNodeList(n.Args, m)
		return n
	case NewObj:
		n.Args = a.mapNodeList(n.Args, m)
		return n
	case Select:
		n.True, n.False, n.Cond = mn(n.True), mn(n.False), mn(n.Cond)
		return n
	case TmpLocal:
		n.Init = a.mapRootList(n.Init, m)
		n.Final = mn(n.Final)
		return n
	case SubTrees:
		n.Roots = a.mapRootList(n.Roots, m)
		n.Val = mn(n.Val)
		return n
	case VolatileNode:
		n.Val = mn(n.Val)
		return n
	}
	fault.Invariant("map: unknown node %T", n)
	return nil
}

func (a *Assembly) mapRootChildren(r Root, m *Mapper) Root {
	mn := func(i NodeIdx) NodeIdx { return a.MapNode(i, m) }
	switch r := r.(type) {
	case VoidRet, ReThrow, Nop, Break, Goto:
		return r
	case SetLoc:
		r.Val = mn(r.Val)
		return r
	case SetArg:
		r.Val = mn(r.Val)
		return r
	case SetTmp:
		r.Val = mn(r.Val)
		return r
	case StInd:
		r.Addr, r.Val = mn(r.Addr), mn(r.Val)
		return r
	case SetField:
		r.Addr, r.Val = mn(r.Addr), mn(r.Val)
		return r
	case SetStatic:
		r.Val = mn(r.Val)
		return r
	case CpBlk:
		r.Dst, r.Src, r.Len = mn(r.Dst), mn(r.Src), mn(r.Len)
		return r
	case InitBlk:
		r.Dst, r.Val, r.Count = mn(r.Dst), mn(r.Val), mn(r.Count)
		return r
	case CallRoot:
		r.Args = a.mapNodeList(r.Args, m)
		return r
	case Pop:
		r.Val = mn(r.Val)
		return r
	case BranchCond:
		r.Cond = mn(r.Cond)
		return r
	case Ret:
		r.Val = mn(r.Val)
		return r
	case Throw:
		r.Val = mn(r.Val)
		return r
	case VolatileRoot:
		r.Root = a.MapRoot(r.Root, m)
		return r
	}
	fault.Invariant("map: unknown root %T", r)
	return nil
}

// WalkRoot visits every node and root in the tree rooted at idx, children
// before parents.
func (a *Assembly) WalkRoot(idx RootIdx, node func(Node), root func(Root)) {
	m := &Mapper{}
	if node != nil {
		m.Node = func(_ *Assembly, n Node) Node { node(n); return n }
	}
	if root != nil {
		m.Root = func(_ *Assembly, r Root) Root { root(r); return r }
	}
	a.MapRoot(idx, m)
}
