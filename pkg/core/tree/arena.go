// Package tree implements the similarity tree: a binary tree of embeddings
// built by greedy insertion and queried with a threshold-bounded depth-first
// search.
//
// Nodes live in an Arena and are addressed by a stable Handle. Every arena
// slot carries its own mutex, so concurrent inserts and searches touching
// the same node are serialized per node while the rest of the tree stays
// available. There is no global lock on the node data and no cross-node
// snapshot: a search running next to an insert may or may not observe the
// new node.
package tree

import (
	"math"
	"sync"
)

// Handle addresses a node inside an Arena. Handles are never reused: nodes
// live as long as the arena that allocated them.
type Handle uint32

// NoHandle marks an absent child.
const NoHandle Handle = math.MaxUint32

// Valid reports whether h refers to a node.
func (h Handle) Valid() bool { return h != NoHandle }

// node holds the fields of one tree node. It is only accessed while the
// owning slot's mutex is held.
type node struct {
	depth     uint32
	embedding []float64
	label     string

	childA     Handle
	childADist float64
	childB     Handle
	childBDist float64
}

// slot is the lock-guarded cell around one node.
type slot struct {
	mu   sync.Mutex
	node node
}

// Arena owns every node of a tree.
//
// The slot table is guarded by an RWMutex that is only held while a slot
// pointer is looked up or appended; it is never held while a node lock is
// waited on. A node lock may be held while allocating a new slot (insert
// attaches the child under the parent's lock), which is the only nesting
// and always goes node -> table.
type Arena struct {
	mu    sync.RWMutex
	slots []*slot
}

// NewArena creates an arena with room for capacity nodes before growing.
func NewArena(capacity int) *Arena {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena{slots: make([]*slot, 0, capacity)}
}

// NewNode allocates a node with the given fields and no children.
// It always succeeds.
func (a *Arena) NewNode(depth uint32, embedding []float64, label string) Handle {
	s := &slot{node: node{
		depth:     depth,
		embedding: embedding,
		label:     label,
		childA:    NoHandle,
		childB:    NoHandle,
	}}

	a.mu.Lock()
	defer a.mu.Unlock()
	if uint64(len(a.slots)) >= uint64(NoHandle) {
		panic("tree: arena exhausted")
	}
	a.slots = append(a.slots, s)
	return Handle(len(a.slots) - 1)
}

// Len returns the number of allocated nodes.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}

func (a *Arena) slot(h Handle) *slot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !h.Valid() || int(h) >= len(a.slots) {
		return nil
	}
	return a.slots[h]
}

// with runs fn on the node addressed by h while holding its lock.
// It returns false when h does not refer to a node.
func (a *Arena) with(h Handle, fn func(n *node)) bool {
	s := a.slot(h)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.node)
	return true
}
