package persistence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/sanonone/kektortree/pkg/core/tree"
)

// score is a cached child distance. Non-finite values (a zero-norm vector
// yields NaN) are written as null and read back as NaN.
type score float64

func (s score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (s *score) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = score(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = score(f)
	return nil
}

// The JSON tree document nests each child object inside its parent, so a
// degenerate chain nests as deep as the tree. encoding/json refuses to
// Unmarshal past 10000 levels; both directions below keep their own stack
// and stream the nesting one object at a time instead.

// Encode writes t as a JSON tree document. Keys appear in the order depth,
// embedding, url, node_a, node_a_dist, node_b, node_b_dist; absent children
// are omitted.
func Encode(w io.Writer, t *tree.Tree) error {
	type frame struct {
		v     tree.NodeView
		stage int
	}
	bw := bufio.NewWriter(w)
	var werr error
	put := func(s string) { bw.WriteString(s) }
	value := func(v any) {
		b, err := json.Marshal(v)
		if err != nil && werr == nil {
			werr = err
		}
		bw.Write(b)
	}
	open := func(h tree.Handle) (frame, error) {
		v, ok := t.Node(h)
		if !ok {
			return frame{}, fmt.Errorf("%w: dangling handle %d", ErrMalformed, h)
		}
		for _, c := range v.Embedding {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return frame{}, fmt.Errorf("%w: non-finite embedding component in %q", ErrMalformed, v.Label)
			}
		}
		embedding := v.Embedding
		if embedding == nil {
			embedding = []float64{}
		}
		put(`{"depth":`)
		value(v.Depth)
		put(`,"embedding":`)
		value(embedding)
		put(`,"url":`)
		value(v.Label)
		return frame{v: v}, nil
	}

	root, err := open(t.Root())
	if err != nil {
		return wrap("encode", "", err)
	}
	stack := []frame{root}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		child := tree.NoHandle
		switch top.stage {
		case 0:
			if top.v.ChildA.Valid() {
				put(`,"node_a":`)
				child = top.v.ChildA
			}
		case 1:
			put(`,"node_a_dist":`)
			value(score(top.v.ChildADist))
			if top.v.ChildB.Valid() {
				put(`,"node_b":`)
				child = top.v.ChildB
			}
		default:
			put(`,"node_b_dist":`)
			value(score(top.v.ChildBDist))
			put("}")
			stack = stack[:len(stack)-1]
			continue
		}
		top.stage++
		if child.Valid() {
			f, err := open(child)
			if err != nil {
				return wrap("encode", "", err)
			}
			stack = append(stack, f)
		}
	}
	put("\n")
	if werr != nil {
		return wrap("encode", "", werr)
	}
	if err := bw.Flush(); err != nil {
		return wrap("encode", "", err)
	}
	return nil
}

// Marshal returns the JSON tree document for t.
func Marshal(t *tree.Tree) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodedNode holds the fields of one document object until the whole
// document has been read. Objects are numbered in the order they open, so a
// parent always precedes its children.
type decodedNode struct {
	parent    int
	side      tree.Side
	depth     uint32
	embedding []float64
	// legacy is the "embeddings" key of older model files; it is only read.
	legacy []float64
	url    string
	dist   [2]score
	child  [2]int
}

func (n *decodedNode) vector() []float64 {
	if len(n.embedding) == 0 && len(n.legacy) > 0 {
		return n.legacy
	}
	return n.embedding
}

func newDecodedNode(parent int, side tree.Side) decodedNode {
	return decodedNode{parent: parent, side: side, child: [2]int{-1, -1}}
}

// Decode reads a JSON tree document and rebuilds the tree. Every node gets
// a fresh handle; only structure and field values are preserved.
func Decode(r io.Reader) (*tree.Tree, error) {
	nodes, err := readNodes(json.NewDecoder(r))
	if err != nil {
		return nil, wrap("decode", "", err)
	}
	t, err := buildTree(nodes)
	if err != nil {
		return nil, wrap("decode", "", err)
	}
	return t, nil
}

// Unmarshal rebuilds a tree from a JSON tree document.
func Unmarshal(data []byte) (*tree.Tree, error) {
	return Decode(bytes.NewReader(data))
}

// readNodes walks the document token by token. Only scalar values and
// embedding arrays go through dec.Decode; child objects are entered with
// dec.Token so the nesting never reaches the decoder's depth limit.
func readNodes(dec *json.Decoder) ([]decodedNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: null document", ErrMalformed)
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformed)
	}

	nodes := []decodedNode{newDecodedNode(-1, tree.SideA)}
	stack := []int{0}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if tok == json.Delim('}') {
			stack = stack[:len(stack)-1]
			continue
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %v", ErrMalformed, tok)
		}

		switch key {
		case "depth":
			err = dec.Decode(&nodes[cur].depth)
		case "embedding":
			err = dec.Decode(&nodes[cur].embedding)
		case "embeddings":
			err = dec.Decode(&nodes[cur].legacy)
		case "url":
			err = dec.Decode(&nodes[cur].url)
		case "node_a_dist":
			err = dec.Decode(&nodes[cur].dist[tree.SideA])
		case "node_b_dist":
			err = dec.Decode(&nodes[cur].dist[tree.SideB])
		case "node_a", "node_b":
			side := tree.SideA
			if key == "node_b" {
				side = tree.SideB
			}
			tok, err = dec.Token()
			if err != nil {
				return nil, err
			}
			if tok == nil {
				continue
			}
			if tok != json.Delim('{') {
				return nil, fmt.Errorf("%w: %s of %q is not an object", ErrMalformed, key, nodes[cur].url)
			}
			if nodes[cur].child[side] >= 0 {
				return nil, fmt.Errorf("%w: duplicate %s", ErrMalformed, key)
			}
			nodes = append(nodes, newDecodedNode(cur, side))
			nodes[cur].child[side] = len(nodes) - 1
			stack = append(stack, len(nodes)-1)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// buildTree attaches the decoded nodes in document order.
func buildTree(nodes []decodedNode) (*tree.Tree, error) {
	root := &nodes[0]
	t := tree.NewRooted(root.depth, root.vector(), root.url)
	handles := make([]tree.Handle, len(nodes))
	handles[0] = t.Root()

	for i := range nodes {
		n := &nodes[i]
		if len(n.vector()) == 0 && (n.child[tree.SideA] >= 0 || n.child[tree.SideB] >= 0) {
			return nil, fmt.Errorf("%w: node %q has children but no embedding", ErrMalformed, n.url)
		}
		if n.child[tree.SideA] < 0 && n.child[tree.SideB] >= 0 {
			return nil, fmt.Errorf("%w: node %q has node_b without node_a", ErrMalformed, n.url)
		}
		if i == 0 {
			continue
		}
		parent := &nodes[n.parent]
		if len(n.vector()) == 0 {
			return nil, fmt.Errorf("%w: child %q of %q has no embedding", ErrMalformed, n.url, parent.url)
		}
		h, err := t.Attach(handles[n.parent], n.side, n.depth, n.vector(), n.url, float64(parent.dist[n.side]))
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	return t, nil
}
