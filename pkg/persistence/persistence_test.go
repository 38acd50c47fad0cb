package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/core/tree"
)

func buildTestTree(t *testing.T, seed int64, n, dims int) (*tree.Tree, [][]float64) {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	tr := tree.New()
	vectors := make([][]float64, n)
	for i := range vectors {
		v := make([]float64, dims)
		for j := range v {
			v[j] = r.Float64()*2 - 1
		}
		vectors[i] = v
		tr.Insert(v, fmt.Sprintf("https://docs.example/%d", i))
	}
	return tr, vectors
}

// shape renders structure and cached distances in pre-order. NaN prints
// as "NaN" on both sides, so NaN-carrying trees compare equal.
func shape(tr *tree.Tree) string {
	var sb strings.Builder
	tr.Walk(func(v tree.NodeView) bool {
		fmt.Fprintf(&sb, "%d %s %v %v %v %v %v\n",
			v.Depth, v.Label, v.Embedding, v.ChildA.Valid(), v.ChildADist, v.ChildB.Valid(), v.ChildBDist)
		return true
	})
	return sb.String()
}

func TestJSONRoundTrip(t *testing.T) {
	tr, vectors := buildTestTree(t, 7, 120, 8)

	data, err := Marshal(tr)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, shape(tr), shape(back))

	for _, q := range vectors[:20] {
		assert.Equal(t, tr.Search(q, 0.3, 10), back.Search(q, 0.3, 10))
	}
}

func TestJSONFieldNames(t *testing.T) {
	tr := tree.New()
	tr.Insert([]float64{1, 0}, "a")
	tr.Insert([]float64{0, 1}, "b")

	data, err := Marshal(tr)
	require.NoError(t, err)
	s := string(data)
	for _, key := range []string{`"depth"`, `"embedding"`, `"url"`, `"node_a"`, `"node_a_dist"`, `"node_b_dist"`} {
		assert.Contains(t, s, key)
	}
	assert.NotContains(t, s, `"node_b":`)
}

func TestJSONNaNDistanceIsNull(t *testing.T) {
	tr := tree.New()
	tr.Insert([]float64{0, 0}, "zero")
	tr.Insert([]float64{1, 0}, "x")

	data, err := Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"node_a_dist":null`)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	root, _ := back.Node(back.Root())
	assert.True(t, math.IsNaN(root.ChildADist))
}

func TestJSONLegacyEmbeddingsKey(t *testing.T) {
	doc := `{"depth":0,"embeddings":[1,0],"url":"root","node_a_dist":0.5,"node_b_dist":0,
		"node_a":{"depth":1,"embeddings":[0,1],"url":"child","node_a_dist":0,"node_b_dist":0}}`
	tr, err := Unmarshal([]byte(doc))
	require.NoError(t, err)

	root, _ := tr.Node(tr.Root())
	assert.Equal(t, []float64{1, 0}, root.Embedding)
	child, ok := tr.Node(root.ChildA)
	require.True(t, ok)
	assert.Equal(t, "child", child.Label)
	assert.Equal(t, 0.5, root.ChildADist)
}

func TestJSONEmptyTree(t *testing.T) {
	data, err := Marshal(tree.New())
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, back.Empty())

	back.Insert([]float64{1, 1}, "first")
	root, _ := back.Node(back.Root())
	assert.Equal(t, "first", root.Label)
}

// chain builds a tree that is a single node_a path of the given depth.
func chain(t *testing.T, depth int) *tree.Tree {
	t.Helper()
	tr := tree.NewRooted(0, []float64{1, 0}, "n0")
	h := tr.Root()
	for d := 1; d <= depth; d++ {
		theta := float64(d) * 1e-5
		var err error
		h, err = tr.Attach(h, tree.SideA, uint32(d), []float64{math.Cos(theta), math.Sin(theta)}, fmt.Sprintf("n%d", d), math.Cos(1e-5))
		require.NoError(t, err)
	}
	return tr
}

func TestJSONDeepChainRoundTrip(t *testing.T) {
	const depth = 12000
	tr := chain(t, depth)

	data, err := Marshal(tr)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	st := back.Stats()
	assert.Equal(t, depth+1, st.Nodes)
	assert.Equal(t, uint32(depth), st.MaxDepth)
	assert.Equal(t, shape(tr), shape(back))

	path := filepath.Join(t.TempDir(), DefaultModelPath)
	require.NoError(t, SaveFile(path, tr))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, depth+1, loaded.Len())
}

func TestJSONNullChildAndUnknownKeys(t *testing.T) {
	doc := `{"version":3,"depth":0,"embedding":[1,0],"url":"root","node_a":null,"node_b":null,
		"node_a_dist":0,"node_b_dist":0,"extra":{"nested":[1,{"x":2}]}}`
	tr, err := Unmarshal([]byte(doc))
	require.NoError(t, err)

	root, _ := tr.Node(tr.Root())
	assert.Equal(t, "root", root.Label)
	assert.True(t, root.IsLeaf())
}

func TestJSONMalformed(t *testing.T) {
	cases := map[string]string{
		"Syntax":          `{"depth":0,`,
		"Null":            `null`,
		"BWithoutA":       `{"depth":0,"embedding":[1],"url":"r","node_b":{"depth":1,"embedding":[1],"url":"b"}}`,
		"ChildNoVector":   `{"depth":0,"embedding":[1],"url":"r","node_a":{"depth":1,"url":"a"}}`,
		"ParentNoVector":  `{"depth":0,"url":"r","node_a":{"depth":1,"embedding":[1],"url":"a"}}`,
		"WrongFieldType":  `{"depth":"zero","embedding":[1],"url":"r"}`,
		"EmbeddingString": `{"depth":0,"embedding":"1,2","url":"r"}`,
		"NotAnObject":     `[1,2]`,
		"ChildNotObject":  `{"depth":0,"embedding":[1],"url":"r","node_a":[1]}`,
		"DuplicateChild":  `{"depth":0,"embedding":[1],"url":"r","node_a":{"depth":1,"embedding":[1],"url":"a"},"node_a":{"depth":1,"embedding":[1],"url":"b"}}`,
		"Empty":           ``,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(doc))
			require.Error(t, err)
			var pe *Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "decode", pe.Op)
		})
	}
}

func TestSaveLoadFileUsesGivenPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested-model.json")
	tr, _ := buildTestTree(t, 3, 40, 4)

	require.NoError(t, SaveFile(path, tr))
	_, err := os.Stat(filepath.Join(dir, DefaultModelPath))
	assert.True(t, os.IsNotExist(err))

	back, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, shape(tr), shape(back))

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "load", pe.Op)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"depth":`), 0o644))
	_, err = LoadFile(bad)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "load", pe.Op)
	assert.Equal(t, bad, pe.Path)
	assert.Contains(t, err.Error(), bad)
}

func TestSaveFileUnwritableDir(t *testing.T) {
	err := SaveFile(filepath.Join(t.TempDir(), "no", "such", "dir", "m.json"), tree.New())
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "save", pe.Op)
}

func TestFrameCorruption(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	require.NoError(t, fw.WriteFrame(OpCodeInsert, []byte("payload")))
	raw := buf.Bytes()

	t.Run("Valid", func(t *testing.T) {
		f, n, err := ReadFrame(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, len(raw), n)
		assert.Equal(t, byte(OpCodeInsert), f.OpCode)
		assert.Equal(t, []byte("payload"), f.Payload)
	})

	t.Run("Checksum", func(t *testing.T) {
		c := bytes.Clone(raw)
		c[len(c)-1] ^= 0xFF
		_, _, err := ReadFrame(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("Magic", func(t *testing.T) {
		c := bytes.Clone(raw)
		c[0] = 0x00
		_, _, err := ReadFrame(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, _, err := ReadFrame(bytes.NewReader(raw[:len(raw)-2]))
		assert.ErrorIs(t, err, ErrIncompleteFrame)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr, vectors := buildTestTree(t, 21, 150, 16)

	t.Run("Float64", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteSnapshot(&buf, tr, distance.Float64))

		back, hdr, err := ReadSnapshot(&buf)
		require.NoError(t, err)
		assert.Equal(t, uint64(150), hdr.Nodes)
		assert.Equal(t, uint32(16), hdr.Dimension)
		assert.Equal(t, distance.Float64, hdr.Precision)
		assert.Equal(t, shape(tr), shape(back))
	})

	t.Run("Float16", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteSnapshot(&buf, tr, distance.Float16))

		back, hdr, err := ReadSnapshot(&buf)
		require.NoError(t, err)
		assert.Equal(t, distance.Float16, hdr.Precision)
		assert.Equal(t, tr.Stats(), back.Stats())

		// Labels line up in pre-order; embeddings are close, not exact.
		var want, got []tree.NodeView
		tr.Walk(func(v tree.NodeView) bool { want = append(want, v); return true })
		back.Walk(func(v tree.NodeView) bool { got = append(got, v); return true })
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Label, got[i].Label)
			assert.InDeltaSlice(t, want[i].Embedding, got[i].Embedding, 1e-3)
		}

		res := back.Search(vectors[5], 0.99, 5)
		require.NotEmpty(t, res)
		assert.Equal(t, "https://docs.example/5", res[len(res)-1].Label)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tree.snap")
		require.NoError(t, SaveSnapshotFile(path, tr, distance.Float64))
		back, _, err := LoadSnapshotFile(path)
		require.NoError(t, err)
		assert.Equal(t, shape(tr), shape(back))
	})
}

func TestSnapshotEmptyTree(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, tree.New(), distance.Float64))
	back, hdr, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hdr.Nodes)
	assert.True(t, back.Empty())
}

func TestSnapshotRejectsDamage(t *testing.T) {
	tr, _ := buildTestTree(t, 5, 30, 4)
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, tr, distance.Float64))
	raw := buf.Bytes()

	t.Run("Truncated", func(t *testing.T) {
		_, _, err := ReadSnapshot(bytes.NewReader(raw[:len(raw)/2]))
		require.Error(t, err)
		var pe *Error
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "restore", pe.Op)
	})

	t.Run("Empty", func(t *testing.T) {
		_, _, err := ReadSnapshot(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("FlippedByte", func(t *testing.T) {
		c := bytes.Clone(raw)
		c[len(c)-3] ^= 0x55
		_, _, err := ReadSnapshot(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("NewerVersion", func(t *testing.T) {
		var b bytes.Buffer
		h := recordBuffer{}
		h.u16(SnapshotVersion + 1)
		h.u8(0)
		h.u32(4)
		h.u64(1)
		require.NoError(t, NewFrameWriter(&b).WriteFrame(OpCodeSnapshotHeader, h.b))
		_, _, err := ReadSnapshot(&b)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})
}

func TestJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inserts.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	recs := []InsertRecord{
		{Label: "a", Embedding: []float64{1, 0}},
		{Label: "b", Embedding: []float64{0, 1}},
		{Label: "", Embedding: []float64{0.5, 0.5}},
	}
	for _, rec := range recs {
		require.NoError(t, j.Append(rec))
	}
	require.NoError(t, j.Sync())
	size, err := j.Size()
	require.NoError(t, err)
	assert.Positive(t, size)
	require.NoError(t, j.Close())

	var got []InsertRecord
	n, err := ReplayJournal(path, func(rec InsertRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, recs, got)
}

func TestJournalTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inserts.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(InsertRecord{Label: "kept", Embedding: []float64{1, 2, 3}}))
	require.NoError(t, j.Append(InsertRecord{Label: "torn", Embedding: []float64{4, 5, 6}}))
	require.NoError(t, j.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-5], 0o644))

	var labels []string
	n, err := ReplayJournal(path, func(rec InsertRecord) error {
		labels = append(labels, rec.Label)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"kept"}, labels)
}

func TestJournalMissingFile(t *testing.T) {
	n, err := ReplayJournal(filepath.Join(t.TempDir(), "none"), func(InsertRecord) error {
		t.Fatal("unexpected record")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJournalTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inserts.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(InsertRecord{Label: "old", Embedding: []float64{1}}))
	require.NoError(t, j.Truncate())
	require.NoError(t, j.Append(InsertRecord{Label: "new", Embedding: []float64{2}}))
	require.NoError(t, j.Close())

	var labels []string
	_, err = ReplayJournal(path, func(rec InsertRecord) error {
		labels = append(labels, rec.Label)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, labels)
}

func TestLazyJournalFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inserts.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	// Long intervals: only Close writes the records.
	lj := NewLazyJournalWithConfig(j, time.Hour, time.Hour, 1000)
	for i := 0; i < 10; i++ {
		require.NoError(t, lj.Append(InsertRecord{Label: fmt.Sprint(i), Embedding: []float64{float64(i)}}))
	}
	require.NoError(t, lj.Close())
	assert.ErrorIs(t, lj.Append(InsertRecord{}), ErrJournalClosed)

	n, err := ReplayJournal(path, func(InsertRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestLazyJournalFlushesWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inserts.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	lj := NewLazyJournalWithConfig(j, time.Hour, time.Hour, 4)
	defer lj.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, lj.Append(InsertRecord{Label: "x", Embedding: []float64{1}}))
	}
	n, err := ReplayJournal(path, func(InsertRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
