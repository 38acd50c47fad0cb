package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/core/tree"
)

// SnapshotVersion is the binary snapshot format written by WriteSnapshot.
const SnapshotVersion = 1

// SnapshotHeader is the first frame of a snapshot.
type SnapshotHeader struct {
	Version   uint16
	Precision distance.PrecisionType
	Dimension uint32
	Nodes     uint64
}

func precisionCode(p distance.PrecisionType) uint8 {
	if p == distance.Float16 {
		return 1
	}
	return 0
}

func precisionFromCode(c uint8) (distance.PrecisionType, error) {
	switch c {
	case 0:
		return distance.Float64, nil
	case 1:
		return distance.Float16, nil
	}
	return "", fmt.Errorf("%w: unknown precision code %d", ErrMalformed, c)
}

// WriteSnapshot writes t as a sequence of frames: one header frame followed
// by one frame per node in pre-order. With distance.Float16 the embeddings
// are stored in half precision; cached distances are always float64.
func WriteSnapshot(w io.Writer, t *tree.Tree, p distance.PrecisionType) error {
	// Views are collected first so the header can carry the exact count of
	// the frames that follow, even while inserts are running.
	var views []tree.NodeView
	t.Walk(func(v tree.NodeView) bool {
		views = append(views, v)
		return true
	})

	fw := NewFrameWriter(w)
	hdr := recordBuffer{}
	hdr.u16(SnapshotVersion)
	hdr.u8(precisionCode(p))
	hdr.u32(uint32(t.Dimension()))
	hdr.u64(uint64(len(views)))
	if err := fw.WriteFrame(OpCodeSnapshotHeader, hdr.b); err != nil {
		return wrap("snapshot", "", err)
	}

	for _, v := range views {
		rec := nodeRecord{
			Depth:     v.Depth,
			HasA:      v.ChildA.Valid(),
			HasB:      v.ChildB.Valid(),
			DistA:     v.ChildADist,
			DistB:     v.ChildBDist,
			Label:     v.Label,
			Embedding: v.Embedding,
		}
		if err := fw.WriteFrame(OpCodeSnapshotNode, encodeNode(rec, p)); err != nil {
			return wrap("snapshot", "", err)
		}
	}
	return nil
}

// pendingNode is a rebuilt node still waiting for some of its children.
type pendingNode struct {
	h            tree.Handle
	needA, needB bool
	distA, distB float64
}

// ReadSnapshot rebuilds a tree from frames written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*tree.Tree, SnapshotHeader, error) {
	var hdr SnapshotHeader

	f, _, err := ReadFrame(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: empty snapshot", ErrMalformed)
		}
		return nil, hdr, wrap("restore", "", err)
	}
	if f.OpCode != OpCodeSnapshotHeader {
		return nil, hdr, wrap("restore", "", fmt.Errorf("%w: expected header frame, got opcode 0x%02x", ErrMalformed, f.OpCode))
	}
	hr := recordReader{b: f.Payload}
	hdr.Version = hr.u16()
	code := hr.u8()
	hdr.Dimension = hr.u32()
	hdr.Nodes = hr.u64()
	if err := hr.done(); err != nil {
		return nil, hdr, wrap("restore", "", err)
	}
	if hdr.Version > SnapshotVersion {
		return nil, hdr, wrap("restore", "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version))
	}
	if hdr.Precision, err = precisionFromCode(code); err != nil {
		return nil, hdr, wrap("restore", "", err)
	}
	if hdr.Nodes == 0 {
		return nil, hdr, wrap("restore", "", fmt.Errorf("%w: snapshot without a root", ErrMalformed))
	}

	var (
		t     *tree.Tree
		stack []pendingNode
		read  uint64
	)
	for read < hdr.Nodes {
		f, _, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: %d of %d nodes present", ErrMalformed, read, hdr.Nodes)
			}
			return nil, hdr, wrap("restore", "", err)
		}
		if f.OpCode != OpCodeSnapshotNode {
			return nil, hdr, wrap("restore", "", fmt.Errorf("%w: unexpected opcode 0x%02x", ErrMalformed, f.OpCode))
		}
		rec, err := decodeNode(f.Payload, hdr.Precision)
		if err != nil {
			return nil, hdr, wrap("restore", "", err)
		}
		if rec.HasB && !rec.HasA {
			return nil, hdr, wrap("restore", "", fmt.Errorf("%w: node %q has node_b without node_a", ErrMalformed, rec.Label))
		}

		var h tree.Handle
		if t == nil {
			t = tree.NewRooted(rec.Depth, rec.Embedding, rec.Label)
			h = t.Root()
		} else {
			if len(stack) == 0 {
				return nil, hdr, wrap("restore", "", fmt.Errorf("%w: node %q has no parent", ErrMalformed, rec.Label))
			}
			top := &stack[len(stack)-1]
			side, dist := tree.SideA, top.distA
			if top.needA {
				top.needA = false
			} else {
				side, dist = tree.SideB, top.distB
				top.needB = false
			}
			if h, err = t.Attach(top.h, side, rec.Depth, rec.Embedding, rec.Label, dist); err != nil {
				return nil, hdr, wrap("restore", "", err)
			}
			if !top.needA && !top.needB {
				stack = stack[:len(stack)-1]
			}
		}
		read++

		// Cached distances are stored on the parent record and applied
		// when each child is attached.
		if rec.HasA || rec.HasB {
			stack = append(stack, pendingNode{
				h: h, needA: rec.HasA, needB: rec.HasB,
				distA: rec.DistA, distB: rec.DistB,
			})
		}
	}
	if len(stack) != 0 {
		return nil, hdr, wrap("restore", "", fmt.Errorf("%w: %d nodes missing children", ErrMalformed, len(stack)))
	}
	return t, hdr, nil
}

// SaveSnapshotFile atomically writes a snapshot of t to path.
func SaveSnapshotFile(path string, t *tree.Tree, p distance.PrecisionType) error {
	return writeAtomic(path, "snapshot", func(w *bufio.Writer) error {
		return WriteSnapshot(w, t, p)
	})
}

// LoadSnapshotFile reads the snapshot at path.
func LoadSnapshotFile(path string) (*tree.Tree, SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, SnapshotHeader{}, wrap("restore", path, err)
	}
	defer f.Close()

	t, hdr, err := ReadSnapshot(bufio.NewReader(f))
	if err != nil {
		if pe, ok := err.(*Error); ok {
			return nil, hdr, &Error{Op: pe.Op, Path: path, Err: pe.Err}
		}
		return nil, hdr, wrap("restore", path, err)
	}
	return t, hdr, nil
}
