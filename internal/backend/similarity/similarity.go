// Package similarity holds the matrix arithmetic shared by the model-backed
// aligners: similarity matrices between two vector sequences, link
// extraction from those matrices, and projection of subword links onto
// word positions.
package similarity

import (
	"math"
	"slices"

	"github.com/example/go-wordalign/internal/align"
)

// Matrix is a dense row-major Rows x Cols matrix.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m Matrix) At(i, j int) float64 { return m.Data[i*m.Cols+j] }

func (m Matrix) Set(i, j int, v float64) { m.Data[i*m.Cols+j] = v }

// Dot returns the matrix of dot products a[i]·b[j].
func Dot(a, b [][]float32) Matrix {
	m := NewMatrix(len(a), len(b))
	for i, x := range a {
		for j, y := range b {
			m.Set(i, j, dot(x, y))
		}
	}
	return m
}

// Cosine returns the matrix of cosine similarities. Zero vectors have
// similarity 0 with everything.
func Cosine(a, b [][]float32) Matrix {
	na := norms(a)
	nb := norms(b)
	m := NewMatrix(len(a), len(b))
	for i, x := range a {
		for j, y := range b {
			if na[i] == 0 || nb[j] == 0 {
				continue
			}
			m.Set(i, j, dot(x, y)/(na[i]*nb[j]))
		}
	}
	return m
}

// SoftmaxRows normalizes every row to a probability distribution.
func SoftmaxRows(m Matrix) Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	for i := range m.Rows {
		softmax(m.Data[i*m.Cols:(i+1)*m.Cols], out.Data[i*m.Cols:(i+1)*m.Cols], 1)
	}
	return out
}

// SoftmaxCols normalizes every column to a probability distribution.
func SoftmaxCols(m Matrix) Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	if m.Rows == 0 {
		return out
	}
	for j := range m.Cols {
		softmax(m.Data[j:], out.Data[j:], m.Cols)
	}
	return out
}

// MeanPool averages subword vectors into one vector per word. wordIndex[k]
// names the word of vecs[k]. Words without subwords get a nil vector.
func MeanPool(vecs [][]float32, wordIndex []int, words int) [][]float32 {
	out := make([][]float32, words)
	counts := make([]int, words)
	for k, v := range vecs {
		w := wordIndex[k]
		if out[w] == nil {
			out[w] = make([]float32, len(v))
		}
		for d, x := range v {
			out[w][d] += x
		}
		counts[w]++
	}
	for w, c := range counts {
		if c > 1 {
			inv := 1 / float32(c)
			for d := range out[w] {
				out[w][d] *= inv
			}
		}
	}
	return out
}

// Project maps subword links to word links through the subword-to-word
// index maps, dropping duplicates and sorting by (source, target).
func Project(links []align.Pair, srcWord, tgtWord []int) align.Alignment {
	out := make(align.Alignment, 0, len(links))
	for _, l := range links {
		out = append(out, align.Pair{Source: srcWord[l.Source], Target: tgtWord[l.Target]})
	}
	slices.SortFunc(out, comparePairs)
	return slices.Compact(out)
}

func comparePairs(a, b align.Pair) int {
	if a.Source != b.Source {
		return a.Source - b.Source
	}
	return a.Target - b.Target
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range min(len(a), len(b)) {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norms(vs [][]float32) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = math.Sqrt(dot(v, v))
	}
	return out
}

// softmax reads len(dst)/stride values from src at the given stride.
func softmax(src, dst []float64, stride int) {
	n := (len(dst) + stride - 1) / stride
	if n == 0 {
		return
	}
	peak := math.Inf(-1)
	for k := range n {
		peak = max(peak, src[k*stride])
	}
	var sum float64
	for k := range n {
		e := math.Exp(src[k*stride] - peak)
		dst[k*stride] = e
		sum += e
	}
	for k := range n {
		dst[k*stride] /= sum
	}
}
