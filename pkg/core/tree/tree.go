package tree

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sanonone/kektortree/pkg/core/distance"
)

// Side selects one of the two child slots of a node.
type Side uint8

const (
	// SideA is filled first.
	SideA Side = iota
	// SideB is filled once SideA is taken.
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return "node_b"
	}
	return "node_a"
}

var (
	// ErrNoNode is returned when a handle does not address a node.
	ErrNoNode = errors.New("tree: no such node")
	// ErrSlotTaken is returned when attaching to an occupied child slot.
	ErrSlotTaken = errors.New("tree: child slot already taken")
	// ErrEmptyEmbedding is returned when attaching a child without a vector.
	ErrEmptyEmbedding = errors.New("tree: empty embedding")
)

// NodeView is a copy of one node's fields taken under its lock.
// Embedding is shared with the tree and must not be modified.
type NodeView struct {
	Handle     Handle
	Depth      uint32
	Embedding  []float64
	Label      string
	ChildA     Handle
	ChildADist float64
	ChildB     Handle
	ChildBDist float64
}

// IsLeaf reports whether the node has no children.
func (v NodeView) IsLeaf() bool {
	return !v.ChildA.Valid() && !v.ChildB.Valid()
}

// Tree is a similarity tree rooted at a single node.
type Tree struct {
	arena *Arena
	root  Handle
}

// New returns an empty tree. Its root is a placeholder with no embedding;
// the first inserted vector is adopted by the root itself.
func New() *Tree {
	return NewWithCapacity(0)
}

// NewWithCapacity is New with a preallocated arena.
func NewWithCapacity(capacity int) *Tree {
	a := NewArena(capacity)
	return &Tree{arena: a, root: a.NewNode(0, nil, "")}
}

// NewRooted returns a tree whose root holds the given fields. It is used
// when rebuilding a tree from its persisted form.
func NewRooted(depth uint32, embedding []float64, label string) *Tree {
	a := NewArena(0)
	return &Tree{arena: a, root: a.NewNode(depth, slices.Clone(embedding), label)}
}

// Root returns the handle of the root node.
func (t *Tree) Root() Handle { return t.root }

// Len returns the number of populated nodes.
func (t *Tree) Len() int {
	n := t.arena.Len()
	t.arena.with(t.root, func(root *node) {
		if len(root.embedding) == 0 {
			n--
		}
	})
	return n
}

// Empty reports whether no vector has been inserted yet.
func (t *Tree) Empty() bool {
	return t.Len() == 0
}

// Node returns a view of the node addressed by h.
func (t *Tree) Node(h Handle) (NodeView, bool) {
	var v NodeView
	ok := t.arena.with(h, func(n *node) {
		v = NodeView{
			Handle:     h,
			Depth:      n.depth,
			Embedding:  n.embedding,
			Label:      n.label,
			ChildA:     n.childA,
			ChildADist: n.childADist,
			ChildB:     n.childB,
			ChildBDist: n.childBDist,
		}
	})
	return v, ok
}

// Attach creates a child of parent on the given side with the cached
// distance dist. The child's depth is taken as given rather than derived
// from the parent so that persisted trees round-trip exactly.
func (t *Tree) Attach(parent Handle, side Side, depth uint32, embedding []float64, label string, dist float64) (Handle, error) {
	child := NoHandle
	var err error
	ok := t.arena.with(parent, func(n *node) {
		target, cached := &n.childA, &n.childADist
		if side == SideB {
			target, cached = &n.childB, &n.childBDist
		}
		if target.Valid() {
			err = fmt.Errorf("%w: %s", ErrSlotTaken, side)
			return
		}
		if len(embedding) == 0 {
			err = fmt.Errorf("%w: %s child %q", ErrEmptyEmbedding, side, label)
			return
		}
		child = t.arena.NewNode(depth, slices.Clone(embedding), label)
		*target = child
		*cached = dist
	})
	if !ok {
		return NoHandle, ErrNoNode
	}
	return child, err
}

// Insert places a vector into the tree.
//
// Starting at the root: an empty root adopts the vector; otherwise the
// vector fills child slot A, then slot B; once both are taken it descends
// into whichever child is more similar to the new vector (ties and
// non-comparable scores go to A) and repeats there. There is no
// rebalancing, so the tree shape depends only on insertion order.
//
// The parent's lock is released before the child is visited. The vector is
// copied; later changes to the caller's slice do not affect the tree.
// An empty vector is ignored: only the never-populated root may be empty.
func (t *Tree) Insert(embedding []float64, label string) {
	if len(embedding) == 0 {
		return
	}
	embedding = slices.Clone(embedding)
	cur := t.root
	for {
		var next [2]Handle
		done := false
		t.arena.with(cur, func(n *node) {
			switch {
			case cur == t.root && len(n.embedding) == 0:
				n.embedding = embedding
				n.label = label
				done = true
			case !n.childA.Valid():
				n.childADist = distance.CosineSimilarity(n.embedding, embedding)
				n.childA = t.arena.NewNode(n.depth+1, embedding, label)
				done = true
			case !n.childB.Valid():
				n.childBDist = distance.CosineSimilarity(n.embedding, embedding)
				n.childB = t.arena.NewNode(n.depth+1, embedding, label)
				done = true
			default:
				next = [2]Handle{n.childA, n.childB}
			}
		})
		if done {
			return
		}

		// Live comparison against the candidate, not the cached
		// attachment-time distances.
		simA := distance.CosineSimilarity(t.embedding(next[0]), embedding)
		simB := distance.CosineSimilarity(t.embedding(next[1]), embedding)
		if simA < simB {
			cur = next[1]
		} else {
			cur = next[0]
		}
	}
}

// embedding returns the embedding of h. Embeddings are immutable once set,
// so the slice may be read after the lock is released.
func (t *Tree) embedding(h Handle) []float64 {
	var e []float64
	t.arena.with(h, func(n *node) { e = n.embedding })
	return e
}
