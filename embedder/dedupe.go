package embedder

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Deduped wraps an Embedder so concurrent Embed calls for the same text
// collapse into a single underlying call, grounded on thebtf-engram's
// sqlitevec.Client.getOrComputeEmbedding (keyed singleflight.Group around an
// embedding service call).
type Deduped struct {
	inner Embedder
	group singleflight.Group
}

// NewDeduped wraps inner with singleflight-based request collapsing.
func NewDeduped(inner Embedder) *Deduped {
	return &Deduped{inner: inner}
}

func (d *Deduped) Dim() int { return d.inner.Dim() }

func (d *Deduped) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err, _ := d.group.Do(text, func() (any, error) {
		return d.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]float32), nil
}
