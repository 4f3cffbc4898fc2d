// Package embedder defines the injected embedding capability port (C6,
// spec.md §4.6): the Store and Memory Service never construct a vector
// model themselves, only ever call through this interface.
package embedder

import "context"

// Embedder turns text into a fixed-dimension vector. Dim reports that
// dimension; a Dim of 0 means "no embedder configured", matching spec.md
// §3.1's invariant that a Memory's embedding is optional.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// NullEmbedder is the default, no-op Embedder: Dim() reports 0 and Embed is
// never expected to be called (callers check Dim() first). It exists so
// every construction path has a non-nil Embedder without requiring a real
// vector model to be configured.
type NullEmbedder struct{}

func (NullEmbedder) Dim() int { return 0 }

func (NullEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
