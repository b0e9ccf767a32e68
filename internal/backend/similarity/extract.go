package similarity

import "github.com/example/go-wordalign/internal/align"

// Extraction method names.
const (
	MethodArgmax  = "argmax"
	MethodIterMax = "itermax"
)

// IterMax defaults.
const (
	DefaultIterMaxRounds = 2
	DefaultIterMaxAlpha  = 0.9
)

// ArgmaxIntersect links (i, j) when j is the best column of row i and i is
// the best row of column j. Ties resolve to the lowest index.
func ArgmaxIntersect(m Matrix) []align.Pair {
	return grid(m, argmaxGrid(m)).links()
}

// IterMax starts from ArgmaxIntersect and repeatedly links rows and columns
// that are still unaligned, damping the scores of half-aligned cells by alpha.
// It stops after rounds total passes or when a pass adds nothing.
func IterMax(m Matrix, rounds int, alpha float64) []align.Pair {
	inter := grid(m, argmaxGrid(m))
	if min(m.Rows, m.Cols) <= 2 {
		return inter.links()
	}

	for count := 1; count < rounds; count++ {
		rowFree := make([]float64, m.Rows)
		colFree := make([]float64, m.Cols)
		var rowsLeft, colsLeft float64
		for i := range m.Rows {
			if !inter.rowUsed(i) {
				rowFree[i] = 1
				rowsLeft++
			}
		}
		for j := range m.Cols {
			if !inter.colUsed(j) {
				colFree[j] = 1
				colsLeft++
			}
		}
		if rowsLeft < 1 || colsLeft < 1 {
			break
		}

		masked := NewMatrix(m.Rows, m.Cols)
		allowed := make([]bool, m.Rows*m.Cols)
		for i := range m.Rows {
			for j := range m.Cols {
				w := min(alpha*rowFree[i]+alpha*colFree[j], 1)
				masked.Set(i, j, m.At(i, j)*w)
				allowed[i*m.Cols+j] = rowFree[i] == 1 || colFree[j] == 1
			}
		}

		added := false
		for k, linked := range argmaxGrid(masked) {
			if linked && allowed[k] && !inter.cells[k] {
				inter.cells[k] = true
				added = true
			}
		}
		if !added {
			break
		}
	}

	return inter.links()
}

// ThresholdIntersect links (i, j) when both fwd and bwd exceed threshold.
func ThresholdIntersect(fwd, bwd Matrix, threshold float64) []align.Pair {
	cells := make([]bool, fwd.Rows*fwd.Cols)
	for k := range cells {
		cells[k] = fwd.Data[k] > threshold && bwd.Data[k] > threshold
	}
	return grid(fwd, cells).links()
}

type linkGrid struct {
	rows, cols int
	cells      []bool
}

func grid(m Matrix, cells []bool) linkGrid {
	return linkGrid{rows: m.Rows, cols: m.Cols, cells: cells}
}

func (g linkGrid) rowUsed(i int) bool {
	for j := range g.cols {
		if g.cells[i*g.cols+j] {
			return true
		}
	}
	return false
}

func (g linkGrid) colUsed(j int) bool {
	for i := range g.rows {
		if g.cells[i*g.cols+j] {
			return true
		}
	}
	return false
}

// links lists the set cells in row-major order.
func (g linkGrid) links() []align.Pair {
	var out []align.Pair
	for k, set := range g.cells {
		if set {
			out = append(out, align.Pair{Source: k / g.cols, Target: k % g.cols})
		}
	}
	return out
}

// argmaxGrid marks the cells that are the maximum of both their row and
// their column.
func argmaxGrid(m Matrix) []bool {
	cells := make([]bool, m.Rows*m.Cols)
	if m.Rows == 0 || m.Cols == 0 {
		return cells
	}

	colBest := make([]int, m.Cols)
	for j := range m.Cols {
		for i := 1; i < m.Rows; i++ {
			if m.At(i, j) > m.At(colBest[j], j) {
				colBest[j] = i
			}
		}
	}

	for i := range m.Rows {
		best := 0
		for j := 1; j < m.Cols; j++ {
			if m.At(i, j) > m.At(i, best) {
				best = j
			}
		}
		if colBest[best] == i {
			cells[i*m.Cols+best] = true
		}
	}

	return cells
}
