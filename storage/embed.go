package storage

import (
	"context"
	"math"
)

// EmbeddingFunc produces a vector for a text. It matches
// chromem.EmbeddingFunc so implementations can be passed to NewChromem
// directly.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// Normalized wraps an embedding function so every vector it returns is
// L2-normalized, making dot products cosine similarities.
func Normalized(fn EmbeddingFunc) EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}

		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		norm := math.Sqrt(sum)
		if norm == 0 {
			return vec, nil
		}

		out := make([]float32, len(vec))
		for i, v := range vec {
			out[i] = float32(float64(v) / norm)
		}
		return out, nil
	}
}
