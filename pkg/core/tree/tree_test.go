package tree

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand, dims int) []float64 {
	v := make([]float64, dims)
	for i := range v {
		v[i] = r.Float64()*2 - 1
	}
	return v
}

// outline renders structure and cached distances so two trees can be compared.
func outline(t *Tree) string {
	var sb strings.Builder
	t.Walk(func(v NodeView) bool {
		fmt.Fprintf(&sb, "%d|%s|%v|%v|%v|%v\n", v.Depth, v.Label, v.ChildA.Valid(), v.ChildADist, v.ChildB.Valid(), v.ChildBDist)
		return true
	})
	return sb.String()
}

func TestInsertScenario(t *testing.T) {
	tr := New()
	tr.Insert([]float64{1, 0}, "a")
	tr.Insert([]float64{0, 1}, "b")
	tr.Insert([]float64{0.9, 0.1}, "c")

	root, ok := tr.Node(tr.Root())
	require.True(t, ok)
	assert.Equal(t, "a", root.Label)
	assert.Equal(t, uint32(0), root.Depth)

	childA, ok := tr.Node(root.ChildA)
	require.True(t, ok)
	assert.Equal(t, "b", childA.Label)
	assert.Equal(t, uint32(1), childA.Depth)
	assert.InDelta(t, 0.0, root.ChildADist, 1e-12)

	childB, ok := tr.Node(root.ChildB)
	require.True(t, ok)
	assert.Equal(t, "c", childB.Label)
	assert.InDelta(t, 0.9/math.Sqrt(0.82), root.ChildBDist, 1e-12)

	results := tr.Search([]float64{1, 0}, 0.5, 5)
	require.Len(t, results, 2)
	assert.Equal(t, "c", results[0].Label)
	assert.Equal(t, "a", results[1].Label)
	assert.Less(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 1.0, results[1].Score, 1e-12)
	// a is visited first, c third (after b).
	assert.Equal(t, uint32(1), results[1].Visit)
	assert.Equal(t, uint32(3), results[0].Visit)
}

func TestInsertDescendsIntoMoreSimilarChild(t *testing.T) {
	tr := New()
	tr.Insert([]float64{1, 0}, "root")
	tr.Insert([]float64{0, 1}, "up")
	tr.Insert([]float64{0, -1}, "down")
	tr.Insert([]float64{0.1, 0.9}, "near-up")
	tr.Insert([]float64{0.1, -0.9}, "near-down")

	root, _ := tr.Node(tr.Root())
	up, _ := tr.Node(root.ChildA)
	down, _ := tr.Node(root.ChildB)

	nearUp, ok := tr.Node(up.ChildA)
	require.True(t, ok)
	assert.Equal(t, "near-up", nearUp.Label)
	assert.Equal(t, uint32(2), nearUp.Depth)

	nearDown, ok := tr.Node(down.ChildA)
	require.True(t, ok)
	assert.Equal(t, "near-down", nearDown.Label)
}

func TestInsertTieGoesToChildA(t *testing.T) {
	tr := New()
	tr.Insert([]float64{1, 0}, "root")
	tr.Insert([]float64{0, 1}, "a")
	tr.Insert([]float64{0, -1}, "b")
	// Equally similar (0) to both children.
	tr.Insert([]float64{1, 0}, "tie")
	// Zero vector: NaN against both children.
	tr.Insert([]float64{0, 0}, "nan")

	root, _ := tr.Node(tr.Root())
	a, _ := tr.Node(root.ChildA)
	b, _ := tr.Node(root.ChildB)

	tie, ok := tr.Node(a.ChildA)
	require.True(t, ok)
	assert.Equal(t, "tie", tie.Label)

	nan, ok := tr.Node(a.ChildB)
	require.True(t, ok)
	assert.Equal(t, "nan", nan.Label)
	assert.True(t, math.IsNaN(a.ChildBDist))
	assert.True(t, b.IsLeaf())
}

func TestInsertCopiesEmbedding(t *testing.T) {
	tr := New()
	v := []float64{1, 0}
	tr.Insert(v, "a")
	v[0] = -1

	root, _ := tr.Node(tr.Root())
	assert.Equal(t, []float64{1, 0}, root.Embedding)
}

func TestInsertIgnoresEmptyVector(t *testing.T) {
	tr := New()
	tr.Insert(nil, "before-root")
	assert.True(t, tr.Empty())

	tr.Insert([]float64{1, 0}, "a")
	tr.Insert([]float64{}, "e")
	tr.Insert([]float64{0, 1}, "x")
	tr.Insert([]float64{0.5, 0.5}, "y")

	assert.Equal(t, 3, tr.Len())
	root, _ := tr.Node(tr.Root())
	assert.Equal(t, "a", root.Label)

	x, ok := tr.Node(root.ChildA)
	require.True(t, ok)
	assert.Equal(t, "x", x.Label)
	assert.InDelta(t, 0, root.ChildADist, 1e-12)

	y, ok := tr.Node(root.ChildB)
	require.True(t, ok)
	assert.Equal(t, "y", y.Label)
	assert.False(t, math.IsNaN(root.ChildBDist))

	tr.Walk(func(v NodeView) bool {
		assert.NotEqual(t, "e", v.Label)
		assert.NotEmpty(t, v.Embedding)
		return true
	})
}

func TestSearchFindsEveryInsertedVector(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	const n = 200
	vectors := make([][]float64, n)
	tr := New()
	for i := range vectors {
		vectors[i] = randomVector(r, 16)
		tr.Insert(vectors[i], fmt.Sprintf("doc-%d", i))
	}
	require.Equal(t, n, tr.Len())

	for i, v := range vectors {
		results := tr.Search(v, -1.0, n)
		found := false
		for _, res := range results {
			if res.Label == fmt.Sprintf("doc-%d", i) {
				found = true
				assert.InDelta(t, 1.0, res.Score, 1e-9)
			}
		}
		require.True(t, found, "doc-%d not found", i)
	}
}

func TestSearchOrderingAndCap(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	tr := New()
	for i := 0; i < 100; i++ {
		tr.Insert(randomVector(r, 8), fmt.Sprintf("v%d", i))
	}
	query := randomVector(r, 8)

	t.Run("Ascending", func(t *testing.T) {
		results := tr.Search(query, -1.0, 100)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("CapGatesDescentOnly", func(t *testing.T) {
		report := tr.SearchReport(query, -1.0, 3)
		// Every visited node matches with threshold -1, so the root,
		// child A and child B are scored before descent stops at A.
		assert.GreaterOrEqual(t, len(report.Results), 3)
		assert.Less(t, int(report.Visited), tr.Len())
	})

	t.Run("ZeroCapStillScoresRoot", func(t *testing.T) {
		root, _ := tr.Node(tr.Root())
		report := tr.SearchReport(root.Embedding, 0.5, 0)
		assert.Equal(t, uint32(1), report.Visited)
		require.Len(t, report.Results, 1)
		assert.Equal(t, root.Label, report.Results[0].Label)

		report = tr.SearchReport([]float64{0, 0, 0, 0, 0, 0, 0, 0}, -1.0, 0)
		assert.Equal(t, uint32(1), report.Visited)
		assert.Empty(t, report.Results)
	})

	t.Run("ThresholdIsStrict", func(t *testing.T) {
		root, _ := tr.Node(tr.Root())
		for _, res := range tr.Search(root.Embedding, 0.2, 1000) {
			assert.Greater(t, res.Score, 0.2)
		}
		assert.Empty(t, tr.Search(root.Embedding, 1.0+1e-9, 1000))
	})
}

func TestSearchNaNNeverMatches(t *testing.T) {
	tr := New()
	tr.Insert([]float64{0, 0}, "zero")
	tr.Insert([]float64{1, 0}, "x")
	tr.Insert([]float64{1, 0, 0}, "wrong-dims")

	results := tr.Search([]float64{1, 0}, math.Inf(-1), 10)
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].Label)
	for _, res := range results {
		assert.False(t, math.IsNaN(res.Score))
	}
}

func TestSearchEmptyTree(t *testing.T) {
	tr := New()
	assert.True(t, tr.Empty())
	report := tr.SearchReport([]float64{1, 0}, -1, 10)
	assert.Empty(t, report.Results)
	assert.Equal(t, uint32(1), report.Visited)
}

func TestInsertionIsDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	type item struct {
		v     []float64
		label string
	}
	items := make([]item, 300)
	for i := range items {
		items[i] = item{randomVector(r, 12), fmt.Sprintf("i%d", i)}
	}

	t1, t2 := New(), New()
	for _, it := range items {
		t1.Insert(it.v, it.label)
	}
	for _, it := range items {
		t2.Insert(it.v, it.label)
	}
	assert.Equal(t, outline(t1), outline(t2))
}

func TestDegenerateChainDepth(t *testing.T) {
	// Monotonically increasing angles: every new vector is closest to the
	// most recent B child, so each level absorbs two nodes.
	const n = 2001
	tr := New()
	step := math.Pi / (2 * n)
	for i := 0; i < n; i++ {
		theta := float64(i) * step
		tr.Insert([]float64{math.Cos(theta), math.Sin(theta)}, fmt.Sprintf("t%d", i))
	}

	st := tr.Stats()
	assert.Equal(t, n, st.Nodes)
	assert.Equal(t, uint32(1000), st.MaxDepth)
	assert.Equal(t, 2, st.Dimension)

	report := tr.SearchReport([]float64{1, 0}, -2, n+1)
	assert.Equal(t, uint32(n), report.Visited)
	assert.Len(t, report.Results, n)
}

func TestAttach(t *testing.T) {
	tr := NewRooted(0, []float64{1, 0}, "root")
	a, err := tr.Attach(tr.Root(), SideA, 1, []float64{0, 1}, "a", 0.25)
	require.NoError(t, err)

	_, err = tr.Attach(tr.Root(), SideA, 1, []float64{0, 1}, "again", 0)
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = tr.Attach(Handle(42), SideA, 1, nil, "x", 0)
	assert.ErrorIs(t, err, ErrNoNode)

	_, err = tr.Attach(tr.Root(), SideB, 1, nil, "empty", 0)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	root, _ := tr.Node(tr.Root())
	assert.Equal(t, a, root.ChildA)
	assert.Equal(t, 0.25, root.ChildADist)
	assert.False(t, root.ChildB.Valid())
}

func TestWriteCompact(t *testing.T) {
	tr := New()
	tr.Insert([]float64{1, 0}, "a")
	tr.Insert([]float64{0, 1}, "b")
	tr.Insert([]float64{0.9, 0.1}, "c")

	want := "a\n" +
		"node_a:\n" +
		"b\n  node_a:\n  \n  node_b:\n  \n" +
		"node_b:\n" +
		"c\n  node_a:\n  \n  node_b:\n  "
	assert.Equal(t, want, tr.String())

	var sb strings.Builder
	require.NoError(t, tr.WriteCompact(&sb))
	assert.Equal(t, want+"\n", sb.String())
}

func TestWriteCompactPadsByDepth(t *testing.T) {
	tr := NewRooted(0, []float64{1, 0}, "r")
	a, err := tr.Attach(tr.Root(), SideA, 1, []float64{0, 1}, "a", 0)
	require.NoError(t, err)
	_, err = tr.Attach(a, SideA, 2, []float64{1, 1}, "aa", 0.7)
	require.NoError(t, err)

	want := "r\n" +
		"node_a:\n" +
		"a\n  node_a:\n  " +
		"aa\n    node_a:\n    \n    node_b:\n    " +
		"\n  node_b:\n  " +
		"\nnode_b:\n"
	assert.Equal(t, want, tr.String())
	assert.Equal(t, "\nnode_a:\n\nnode_b:\n", New().String())
}
