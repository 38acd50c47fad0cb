package persistence

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sanonone/kektortree/pkg/core/distance"
)

// InsertRecord is one journaled insertion.
type InsertRecord struct {
	Label     string
	Embedding []float64
}

// nodeRecord is the binary form of one snapshot node.
//
// Layout (little endian):
//
//	depth u32 | flags u8 | distA f64 | distB f64 | labelLen u32 | label | dim u32 | components
//
// flags bit 0 = has child A, bit 1 = has child B. Components are f64 or
// f16 depending on the snapshot precision.
type nodeRecord struct {
	Depth     uint32
	HasA      bool
	HasB      bool
	DistA     float64
	DistB     float64
	Label     string
	Embedding []float64
}

const (
	flagChildA = 1 << 0
	flagChildB = 1 << 1
)

// recordBuffer appends little endian values to a byte slice.
type recordBuffer struct {
	b []byte
}

func (w *recordBuffer) u8(v uint8)    { w.b = append(w.b, v) }
func (w *recordBuffer) u16(v uint16)  { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *recordBuffer) u32(v uint32)  { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *recordBuffer) u64(v uint64)  { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *recordBuffer) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *recordBuffer) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *recordBuffer) vector(v []float64, p distance.PrecisionType) {
	w.u32(uint32(len(v)))
	if p == distance.Float16 {
		for _, bits := range distance.ToFloat16Bits(v) {
			w.u16(bits)
		}
		return
	}
	for _, c := range v {
		w.f64(c)
	}
}

// recordReader consumes little endian values, remembering the first error.
type recordReader struct {
	b   []byte
	err error
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b) < n {
		r.err = fmt.Errorf("%w: record truncated", ErrMalformed)
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *recordReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *recordReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *recordReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *recordReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *recordReader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *recordReader) str() string {
	n := r.u32()
	return string(r.take(int(n)))
}

func (r *recordReader) vector(p distance.PrecisionType) []float64 {
	n := int(r.u32())
	if r.err != nil {
		return nil
	}
	if n*p.BytesPerComponent() > len(r.b) {
		r.err = fmt.Errorf("%w: vector of %d components exceeds record", ErrMalformed, n)
		return nil
	}
	if p == distance.Float16 {
		bits := make([]uint16, n)
		for i := range bits {
			bits[i] = r.u16()
		}
		return distance.FromFloat16Bits(bits)
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = r.f64()
	}
	return v
}

func (r *recordReader) done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.b) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.b))
	}
	return nil
}

func encodeInsert(rec InsertRecord) []byte {
	w := recordBuffer{b: make([]byte, 0, 8+len(rec.Label)+8*len(rec.Embedding))}
	w.str(rec.Label)
	w.vector(rec.Embedding, distance.Float64)
	return w.b
}

func decodeInsert(payload []byte) (InsertRecord, error) {
	r := recordReader{b: payload}
	rec := InsertRecord{Label: r.str()}
	rec.Embedding = r.vector(distance.Float64)
	return rec, r.done()
}

func encodeNode(n nodeRecord, p distance.PrecisionType) []byte {
	w := recordBuffer{b: make([]byte, 0, 32+len(n.Label)+p.BytesPerComponent()*len(n.Embedding))}
	w.u32(n.Depth)
	var flags uint8
	if n.HasA {
		flags |= flagChildA
	}
	if n.HasB {
		flags |= flagChildB
	}
	w.u8(flags)
	w.f64(n.DistA)
	w.f64(n.DistB)
	w.str(n.Label)
	w.vector(n.Embedding, p)
	return w.b
}

func decodeNode(payload []byte, p distance.PrecisionType) (nodeRecord, error) {
	r := recordReader{b: payload}
	n := nodeRecord{Depth: r.u32()}
	flags := r.u8()
	n.HasA = flags&flagChildA != 0
	n.HasB = flags&flagChildB != 0
	n.DistA = r.f64()
	n.DistB = r.f64()
	n.Label = r.str()
	n.Embedding = r.vector(p)
	return n, r.done()
}
