package tree

import (
	"bufio"
	"io"
	"strings"

	"github.com/sanonone/kektortree/pkg/core/types"
)

// Walk visits every node in pre-order (node, subtree A, subtree B) and
// calls fn with a view of each one. Returning false stops the walk.
// Each node is locked only while its view is copied.
func (t *Tree) Walk(fn func(v NodeView) bool) {
	stack := []Handle{t.root}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, ok := t.Node(h)
		if !ok {
			continue
		}
		if !fn(v) {
			return
		}
		if v.ChildB.Valid() {
			stack = append(stack, v.ChildB)
		}
		if v.ChildA.Valid() {
			stack = append(stack, v.ChildA)
		}
	}
}

// Stats walks the tree and summarizes its shape.
func (t *Tree) Stats() types.TreeStats {
	var st types.TreeStats
	t.Walk(func(v NodeView) bool {
		if len(v.Embedding) == 0 {
			return true
		}
		st.Nodes++
		if v.IsLeaf() {
			st.Leaves++
		}
		if v.Depth > st.MaxDepth {
			st.MaxDepth = v.Depth
		}
		if st.Dimension == 0 {
			st.Dimension = len(v.Embedding)
		}
		return true
	})
	return st
}

// Dimension returns the length of the root embedding, or 0 for an empty tree.
func (t *Tree) Dimension() int {
	return len(t.embedding(t.root))
}

// WriteCompact writes the compact outline of the tree followed by a newline.
//
// Each node prints its label, then a node_a: and a node_b: header, each
// followed by that child's outline. Headers and child outlines are padded
// with two spaces per level of the node's depth, and absent children leave
// their slot empty.
func (t *Tree) WriteCompact(w io.Writer) error {
	type item struct {
		h   Handle
		lit string
	}
	bw := bufio.NewWriter(w)
	stack := []item{{h: t.root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !it.h.Valid() {
			bw.WriteString(it.lit)
			continue
		}
		v, ok := t.Node(it.h)
		if !ok {
			continue
		}
		pad := strings.Repeat("  ", int(v.Depth))
		bw.WriteString(v.Label)
		bw.WriteByte('\n')
		// Pushed in reverse of output order.
		stack = append(stack,
			item{h: v.ChildB, lit: ""},
			item{h: NoHandle, lit: "\n" + pad + SideB.String() + ":\n" + pad},
			item{h: v.ChildA, lit: ""},
			item{h: NoHandle, lit: pad + SideA.String() + ":\n" + pad},
		)
	}
	bw.WriteByte('\n')
	return bw.Flush()
}

// String returns the compact outline of the tree without the trailing
// newline WriteCompact adds.
func (t *Tree) String() string {
	var sb strings.Builder
	_ = t.WriteCompact(&sb)
	return strings.TrimSuffix(sb.String(), "\n")
}
