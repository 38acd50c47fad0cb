// Package distance provides the similarity metric used by the tree index.
//
// Cosine similarity is computed on float64 vectors through the Gonum BLAS
// kernels, which handle SIMD dispatch internally. Long vectors are reduced in
// parallel chunks whose fan-out is sized from the detected CPU topology.
package distance

import (
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
)

// DistanceMetric names the metric a tree was built with. Only Cosine is
// supported; the name is persisted with snapshots so readers can reject
// files produced by a different metric.
type DistanceMetric string

const (
	// Cosine is the cosine similarity metric (higher means more similar).
	Cosine DistanceMetric = "cosine"
)

// ParallelThreshold is the vector length from which the dot product and
// norms are computed as a parallel reduction. Below it the goroutine fan-out
// costs more than it saves.
const ParallelThreshold = 16384

// minChunk is the smallest slice handed to a single reduction worker.
const minChunk = 4096

var gonumEngine = gonum.Implementation{}

// reductionWorkers is the maximum fan-out of a parallel reduction.
var reductionWorkers = detectWorkers()

func detectWorkers() int {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	slog.Debug("distance compute engine",
		"cpu", cpuid.CPU.BrandName,
		"avx2", cpuid.CPU.Has(cpuid.AVX2),
		"fma", cpuid.CPU.Has(cpuid.FMA3),
		"workers", n,
	)
	return n
}

// CosineSimilarity returns dot(a, b) / (|a| * |b|).
//
// The result is nominally in [-1, 1]. It is NaN when either vector has zero
// norm or when the lengths differ; callers must treat NaN as "no meaningful
// similarity" (see IsComparable).
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}

	var dot, normA, normB float64
	if len(a) >= ParallelThreshold && reductionWorkers > 1 {
		var sqA, sqB float64
		dot, sqA, sqB = parallelReduce(a, b, reductionWorkers)
		normA, normB = math.Sqrt(sqA), math.Sqrt(sqB)
	} else {
		n := len(a)
		dot = gonumEngine.Ddot(n, a, 1, b, 1)
		normA = gonumEngine.Dnrm2(n, a, 1)
		normB = gonumEngine.Dnrm2(n, b, 1)
	}

	norm := normA * normB
	if norm == 0 || math.IsNaN(norm) {
		return math.NaN()
	}
	return dot / norm
}

// IsComparable reports whether a similarity score can take part in a
// threshold comparison or an ordering.
func IsComparable(score float64) bool {
	return !math.IsNaN(score)
}

// parallelReduce computes dot(a,b), dot(a,a) and dot(b,b) by splitting the
// vectors into contiguous chunks, one goroutine per chunk.
func parallelReduce(a, b []float64, workers int) (dot, sqA, sqB float64) {
	n := len(a)
	chunks := n / minChunk
	if chunks > workers {
		chunks = workers
	}
	if chunks < 2 {
		return gonumEngine.Ddot(n, a, 1, b, 1), gonumEngine.Ddot(n, a, 1, a, 1), gonumEngine.Ddot(n, b, 1, b, 1)
	}

	type partial struct{ dot, sqA, sqB float64 }
	parts := make([]partial, chunks)
	size := (n + chunks - 1) / chunks

	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		lo := i * size
		hi := lo + size
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(i int, x, y []float64) {
			defer wg.Done()
			m := len(x)
			parts[i] = partial{
				dot: gonumEngine.Ddot(m, x, 1, y, 1),
				sqA: gonumEngine.Ddot(m, x, 1, x, 1),
				sqB: gonumEngine.Ddot(m, y, 1, y, 1),
			}
		}(i, a[lo:hi], b[lo:hi])
	}
	wg.Wait()

	for _, p := range parts {
		dot += p.dot
		sqA += p.sqA
		sqB += p.sqB
	}
	return dot, sqA, sqB
}
