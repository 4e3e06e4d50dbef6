package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// blockWithHandler builds a block with n top-level roots and a handler
// group of two blocks holding m roots between them.
func blockWithHandler(a *Assembly, n, m int) BasicBlock {
	b := BasicBlock{ID: 0}
	for i := 0; i < n; i++ {
		b.Roots = append(b.Roots, a.SetLoc(0, a.ConstI32(int32(i))))
	}
	h := Handler{Blocks: []BasicBlock{{ID: 10}, {ID: 11}}}
	for i := 0; i < m; i++ {
		blk := &h.Blocks[i%2]
		blk.Roots = append(blk.Roots, a.SetLoc(0, a.ConstI32(int32(100+i))))
	}
	b.Handlers = []Handler{h}
	return b
}

func TestIterRootsIncludesHandlers(t *testing.T) {
	tests := []struct{ n, m int }{{0, 0}, {3, 0}, {0, 4}, {5, 3}, {1, 7}}
	for _, tt := range tests {
		a := New("test")
		b := blockWithHandler(a, tt.n, tt.m)
		count := 0
		for range b.IterRoots() {
			count++
		}
		require.Equal(t, tt.n+tt.m, count, "n=%d m=%d", tt.n, tt.m)
	}
}

func TestIterRootsStopsEarly(t *testing.T) {
	a := New("test")
	b := blockWithHandler(a, 3, 3)
	count := 0
	for range b.IterRoots() {
		count++
		if count == 4 {
			break
		}
	}
	require.Equal(t, 4, count)
}

func TestMapRootsVisitsEveryRootOnce(t *testing.T) {
	a := New("test")
	b := blockWithHandler(a, 4, 5)

	visits := 0
	b.MapRoots(a, &Mapper{Root: func(a *Assembly, r Root) Root {
		visits++
		if s, ok := r.(SetLoc); ok {
			s.Loc = 1
			return s
		}
		return r
	}})
	require.Equal(t, 9, visits)

	for r := range b.IterRoots() {
		require.Equal(t, uint32(1), a.Root(r).(SetLoc).Loc)
	}
}

func TestMapNodesInsideHandlers(t *testing.T) {
	a := New("test")
	b := blockWithHandler(a, 1, 2)
	b.MapRoots(a, &Mapper{Node: func(a *Assembly, n Node) Node {
		if c, ok := n.(ConstInt); ok {
			c.Bits++
			return c
		}
		return n
	}})
	var got []uint64
	for r := range b.IterRoots() {
		got = append(got, a.Node(a.Root(r).(SetLoc).Val).(ConstInt).Bits)
	}
	require.Equal(t, []uint64{1, 101, 102}, got)
}

func TestRewriteRootsExpands(t *testing.T) {
	a := New("test")
	b := blockWithHandler(a, 2, 2)
	nop := a.Nop()
	b.RewriteRoots(func(r RootIdx) []RootIdx { return []RootIdx{nop, r} })
	require.Len(t, b.Roots, 4)
	require.Len(t, b.Handlers[0].Blocks[0].Roots, 2)
	require.Len(t, b.Handlers[0].Blocks[1].Roots, 2)
}

func TestTargets(t *testing.T) {
	a := New("test")
	b := BasicBlock{Roots: []RootIdx{
		a.AllocRoot(BranchCond{Target: 3, Cond: a.ConstBool(true)}),
		a.Goto(4),
	}}
	require.Equal(t, []uint32{3, 4}, b.Targets(a))
}
