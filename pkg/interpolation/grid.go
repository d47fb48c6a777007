package interpolation

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// InterpolateGrid evaluates the kriged surface on a rows x cols image. The
// surface is estimated on nodes spaced step pixels apart (the last row and
// column are always nodes) and bilinearly upsampled in between. Node rows
// are distributed over the configured number of workers.
func (k *Kriging) InterpolateGrid(rows, cols, step int) *mat.Dense {
	if step < 1 {
		step = 1
	}
	rowNodes := gridNodes(rows, step)
	colNodes := gridNodes(cols, step)

	coarse := mat.NewDense(len(rowNodes), len(colNodes), nil)
	total := len(rowNodes)
	k.reportProgress(0, total, fmt.Sprintf("kriging %dx%d nodes", len(rowNodes), len(colNodes)))

	jobs := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for w := 0; w < k.numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Each worker owns whole rows of the coarse grid
				row := coarse.RawRowView(i)
				for j, c := range colNodes {
					row[j] = k.Estimate(float64(rowNodes[i]), float64(c))
				}

				mu.Lock()
				completed++
				done := completed
				mu.Unlock()
				k.reportProgress(done, total, "")
			}
		}()
	}
	for i := range rowNodes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if step == 1 {
		return coarse
	}
	return upsample(coarse, rowNodes, colNodes, rows, cols)
}

// gridNodes returns 0, step, 2*step, ... plus n-1.
func gridNodes(n, step int) []int {
	nodes := make([]int, 0, n/step+2)
	for i := 0; i < n; i += step {
		nodes = append(nodes, i)
	}
	if nodes[len(nodes)-1] != n-1 {
		nodes = append(nodes, n-1)
	}
	return nodes
}

// upsample bilinearly interpolates coarse, sampled at rowNodes x colNodes,
// onto the full rows x cols grid.
func upsample(coarse *mat.Dense, rowNodes, colNodes []int, rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	ri, ci := segmentIndex(rowNodes, rows), segmentIndex(colNodes, cols)

	for r := 0; r < rows; r++ {
		a := ri[r]
		ty := fraction(r, rowNodes, a)
		for c := 0; c < cols; c++ {
			b := ci[c]
			tx := fraction(c, colNodes, b)

			v00 := coarse.At(a, b)
			v01, v10, v11 := v00, v00, v00
			if b+1 < len(colNodes) {
				v01 = coarse.At(a, b+1)
			}
			if a+1 < len(rowNodes) {
				v10 = coarse.At(a+1, b)
				v11 = v10
				if b+1 < len(colNodes) {
					v11 = coarse.At(a+1, b+1)
				}
			}
			top := v00 + (v01-v00)*tx
			bottom := v10 + (v11-v10)*tx
			out.Set(r, c, top+(bottom-top)*ty)
		}
	}
	return out
}

// segmentIndex maps every pixel index to the node starting its segment.
func segmentIndex(nodes []int, n int) []int {
	idx := make([]int, n)
	seg := 0
	for i := 0; i < n; i++ {
		for seg+2 < len(nodes) && nodes[seg+1] <= i {
			seg++
		}
		idx[i] = seg
	}
	return idx
}

func fraction(i int, nodes []int, seg int) float64 {
	if seg+1 >= len(nodes) {
		return 0
	}
	span := nodes[seg+1] - nodes[seg]
	if span == 0 {
		return 0
	}
	return float64(i-nodes[seg]) / float64(span)
}

// reportProgress calls the progress callback if set
func (k *Kriging) reportProgress(completed, total int, message string) {
	if k.progressCallback != nil {
		k.progressCallback(completed, total, message)
	}
}
