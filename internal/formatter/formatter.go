// Package formatter defines the grammar-constrained logit mask
// capability the generation task consumes. Concrete formatters are
// dispatched by interface, never by an inheritance hierarchy: each
// concrete kind carries its own tag and implements the full Formatter
// method set.
package formatter

// Formatter is a grammar-driven logit mask plus per-token state update.
// Once installed, the scheduler assumes Transform and Update are total.
type Formatter interface {
	// Transform sets the logits of currently-disallowed tokens to
	// negative infinity in place.
	Transform(logits []float32)
	// Update advances internal state by one accepted token. It returns
	// true iff the token must terminate generation (grammar error or
	// grammar-defined halt).
	Update(token uint32) bool
}
