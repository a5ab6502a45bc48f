package storage_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nl2kql "github.com/soundprediction/go-nl2kql"
	"github.com/soundprediction/go-nl2kql/storage"
)

// keywordEmbedding is a deterministic stand-in for a real embedding model:
// one dimension per keyword plus a constant bias so no vector is zero.
func keywordEmbedding(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := []float32{0, 0, 0, 1}
	for i, kw := range []string{"pod", "latency", "table"} {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func newTestIndex(t *testing.T) *storage.Chromem {
	t.Helper()
	index, err := storage.NewChromem("", storage.Normalized(keywordEmbedding))
	require.NoError(t, err)
	return index
}

func TestChromemSimilarities(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	examples := []nl2kql.Example{
		{Question: "Show failing pods", Query: "a"},
		{Question: "What is the request latency", Query: "b"},
		{Question: "List all tables", Query: "c"},
	}
	require.NoError(t, index.IndexExamples(ctx, nl2kql.DomainContainers, examples))

	sims, err := index.Similarities(ctx, nl2kql.DomainContainers, "pods that are failing", len(examples))
	require.NoError(t, err)
	require.Len(t, sims, 3)

	assert.Greater(t, sims[0], sims[1], "the pod example should score highest for a pod question")
	assert.Greater(t, sims[0], sims[2])
}

func TestChromemSimilaritiesCapsAtCollectionSize(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.IndexExamples(ctx, nl2kql.DomainContainers, []nl2kql.Example{
		{Question: "Show failing pods", Query: "a"},
	}))

	sims, err := index.Similarities(ctx, nl2kql.DomainContainers, "pods", 10)
	require.NoError(t, err)
	assert.Len(t, sims, 1)
}

func TestChromemEmptyDomain(t *testing.T) {
	index := newTestIndex(t)

	sims, err := index.Similarities(context.Background(), nl2kql.DomainAppInsights, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, sims)
}

func TestChromemDomainsAreIsolated(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.IndexExamples(ctx, nl2kql.DomainContainers, []nl2kql.Example{
		{Question: "Show failing pods", Query: "a"},
	}))
	require.NoError(t, index.IndexExamples(ctx, nl2kql.DomainAppInsights, []nl2kql.Example{
		{Question: "Slowest requests by latency", Query: "b"},
		{Question: "Requests with errors", Query: "c"},
	}))

	sims, err := index.Similarities(ctx, nl2kql.DomainAppInsights, "latency", 10)
	require.NoError(t, err)
	assert.Len(t, sims, 2, "app insights queries must not see container documents")
}

func TestNormalized(t *testing.T) {
	fn := storage.Normalized(func(context.Context, string) ([]float32, error) {
		return []float32{3, 4}, nil
	})

	vec, err := fn(context.Background(), "x")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}
