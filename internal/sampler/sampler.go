// Package sampler defines the logit-shaping and token-drawing
// capability the generation task consumes. Concrete strategies (e.g.
// nucleus sampling) are out of scope; Greedy below exists only to make
// §8.8 determinism testable.
package sampler

// Sampler is a small capability interface, dispatched by its method
// set rather than modeled as an inheritance hierarchy.
type Sampler interface {
	// Init resets sampler state to be consistent with having already
	// observed priorTokens.
	Init(priorTokens []uint32)
	// Transform applies pre-softmax shaping (temperature, top-k, ...) in place.
	Transform(logits []float32)
	// Sample draws a token id from probs.
	Sample(probs []float32) uint32
}
