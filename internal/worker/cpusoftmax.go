package worker

import (
	"context"
	"math"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// CPUSoftmax is the default softmax capability: row-wise softmax over a
// batch of host logit vectors, parallelized across a bounded goroutine
// pool rather than one goroutine per row.
type CPUSoftmax struct {
	pool *ants.Pool
}

// NewCPUSoftmax builds a CPUSoftmax backed by a pool of at most size
// concurrent workers.
func NewCPUSoftmax(size int) (*CPUSoftmax, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &CPUSoftmax{pool: pool}, nil
}

// Close releases the underlying goroutine pool.
func (c *CPUSoftmax) Close() { c.pool.Release() }

// Compute returns each row's softmax, computed independently.
func (c *CPUSoftmax) Compute(ctx context.Context, rows [][]float32) ([][]float32, error) {
	out := make([][]float32, len(rows))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, row := range rows {
		i, row := i, row
		wg.Add(1)
		task := func() {
			defer wg.Done()
			out[i] = softmaxRow(row)
		}
		if err := c.pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return out, firstErr
}

func softmaxRow(row []float32) []float32 {
	if len(row) == 0 {
		return nil
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(row))
	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - max))
		out[i] = float32(e)
		sum += e
	}
	if sum > 0 {
		for i := range out {
			out[i] = float32(float64(out[i]) / sum)
		}
	}
	return out
}
