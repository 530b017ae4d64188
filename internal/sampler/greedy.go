package sampler

// Greedy always draws the argmax token and never reshapes logits. It is
// the reference sampler for §8.8's determinism property: identical
// requests against an empty cache with Greedy and no-op formatters must
// produce identical token sequences.
type Greedy struct{}

var _ Sampler = Greedy{}

func (Greedy) Init([]uint32) {}

func (Greedy) Transform([]float32) {}

func (Greedy) Sample(probs []float32) uint32 {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return uint32(best)
}
