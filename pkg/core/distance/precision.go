package distance

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// PrecisionType defines the data type used when vectors are written to a
// compact snapshot. In memory vectors are always float64.
type PrecisionType string

const (
	// Float64 keeps the full double-precision value.
	Float64 PrecisionType = "float64"
	// Float16 stores half-precision values (lossy, 4x smaller).
	Float16 PrecisionType = "float16"
)

// maxFloat16 is the largest finite half-precision value.
const maxFloat16 = 65504.0

// ParsePrecision validates a precision name. An empty name means Float64.
func ParsePrecision(s string) (PrecisionType, error) {
	switch PrecisionType(s) {
	case "", Float64:
		return Float64, nil
	case Float16:
		return Float16, nil
	default:
		return "", fmt.Errorf("unsupported precision: %s", s)
	}
}

// BytesPerComponent returns the encoded size of one vector component.
func (p PrecisionType) BytesPerComponent() int {
	if p == Float16 {
		return 2
	}
	return 8
}

// ToFloat16Bits converts a float64 vector into IEEE 754 half-precision bits.
// Values outside the half-precision range are clipped to +/-65504 so that a
// single outlier does not become an infinity and poison the norm.
func ToFloat16Bits(vector []float64) []uint16 {
	out := make([]uint16, len(vector))
	for i, v := range vector {
		switch {
		case v > maxFloat16:
			v = maxFloat16
		case v < -maxFloat16:
			v = -maxFloat16
		}
		out[i] = float16.Fromfloat32(float32(v)).Bits()
	}
	return out
}

// FromFloat16Bits converts half-precision bits back to float64. The result
// approximates the original vector; cosine similarity on the restored
// vectors typically differs from the original in the third decimal place.
func FromFloat16Bits(bits []uint16) []float64 {
	out := make([]float64, len(bits))
	for i, b := range bits {
		out[i] = float64(float16.Frombits(b).Float32())
	}
	return out
}

// Norm returns the Euclidean norm of v, or NaN for an empty vector.
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return gonumEngine.Dnrm2(len(v), v, 1)
}
