package asm

import "iter"

// BasicBlock is an ordered run of roots. Handlers are the exception
// handler groups attached to the block, each a complete block graph of its
// own; they are owned by this block and never shared.
type BasicBlock struct {
	ID       uint32
	Roots    []RootIdx
	Handlers []Handler
}

// Handler is one exception-handler block group.
type Handler struct {
	Blocks []BasicBlock
}

// IterRoots yields the block's own roots, then every root inside its
// handlers, recursively, in order.
func (b *BasicBlock) IterRoots() iter.Seq[RootIdx] {
	return func(yield func(RootIdx) bool) {
		b.iterRoots(yield)
	}
}

func (b *BasicBlock) iterRoots(yield func(RootIdx) bool) bool {
	for _, r := range b.Roots {
		if !yield(r) {
			return false
		}
	}
	for hi := range b.Handlers {
		for bi := range b.Handlers[hi].Blocks {
			if !b.Handlers[hi].Blocks[bi].iterRoots(yield) {
				return false
			}
		}
	}
	return true
}

// RewriteRoots replaces each root, handlers included, by the roots f
// returns for it.
func (b *BasicBlock) RewriteRoots(f func(RootIdx) []RootIdx) {
	out := make([]RootIdx, 0, len(b.Roots))
	for _, r := range b.Roots {
		out = append(out, f(r)...)
	}
	b.Roots = out
	for hi := range b.Handlers {
		for bi := range b.Handlers[hi].Blocks {
			b.Handlers[hi].Blocks[bi].RewriteRoots(f)
		}
	}
}

// MapRoots maps every root tree of the block, handlers included.
func (b *BasicBlock) MapRoots(a *Assembly, m *Mapper) {
	b.RewriteRoots(func(r RootIdx) []RootIdx {
		return []RootIdx{a.MapRoot(r, m)}
	})
}

// Targets returns the ids of blocks this block may branch to, not counting
// its handlers.
func (b *BasicBlock) Targets(a *Assembly) []uint32 {
	var out []uint32
	for _, r := range b.Roots {
		switch r := a.Root(r).(type) {
		case Goto:
			out = append(out, r.Target)
		case BranchCond:
			out = append(out, r.Target)
		}
	}
	return out
}

// MapBlocks applies MapRoots to every block of every method body.
func (a *Assembly) MapBlocks(m *Mapper) {
	for _, def := range a.MethodDefs() {
		for i := range def.Blocks {
			def.Blocks[i].MapRoots(a, m)
		}
	}
}
