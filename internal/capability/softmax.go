package capability

import "context"

// Softmax computes row-wise softmax over a batch of host logit vectors.
// Rows are independent; implementations may parallelize freely.
type Softmax interface {
	Compute(ctx context.Context, rows [][]float32) ([][]float32, error)
}
