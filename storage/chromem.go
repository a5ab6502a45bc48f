// Package storage provides the corpus cache and vector index backends used
// by the translation pipeline.
package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

// Chromem is a vector index over corpus example questions, one collection
// per domain. With an empty path the database is in-memory, which is the
// common case since corpora are small and re-embedded per process.
type Chromem struct {
	db        *chromem.DB
	embedding chromem.EmbeddingFunc
}

// NewChromem creates a Chromem index. dbPath may be empty for an in-memory
// database. embeddingFunc supplies the vectors; chromem.NewEmbeddingFuncOpenAI
// is the usual choice.
func NewChromem(dbPath string, embeddingFunc EmbeddingFunc) (*Chromem, error) {
	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create chromem db: %w", err)
		}
	}
	return &Chromem{db: db, embedding: chromem.EmbeddingFunc(embeddingFunc)}, nil
}

// IndexExamples embeds the questions of a domain corpus. Document IDs are
// corpus positions, so re-indexing the same corpus overwrites in place.
func (c *Chromem) IndexExamples(ctx context.Context, domain nl2kql.Domain, examples []nl2kql.Example) error {
	coll, err := c.collection(domain)
	if err != nil {
		return err
	}

	for i, example := range examples {
		doc := chromem.Document{
			ID:      strconv.Itoa(i),
			Content: example.Question,
			Metadata: map[string]string{
				"corpus_index": strconv.Itoa(i),
			},
		}
		if err := coll.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to index example %d: %w", i, err)
		}
	}
	return nil
}

// Similarities returns cosine similarity per corpus index for up to n
// examples most similar to the question.
func (c *Chromem) Similarities(ctx context.Context, domain nl2kql.Domain, question string, n int) (map[int]float64, error) {
	coll, err := c.collection(domain)
	if err != nil {
		return nil, err
	}

	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	if n <= 0 || n > count {
		n = count
	}

	results, err := coll.Query(ctx, question, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query examples: %w", err)
	}

	sims := make(map[int]float64, len(results))
	for _, res := range results {
		raw, ok := res.Metadata["corpus_index"]
		if !ok {
			return nil, fmt.Errorf("corpus index not found in metadata")
		}
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed corpus index %q: %w", raw, err)
		}
		sims[idx] = float64(res.Similarity)
	}
	return sims, nil
}

func (c *Chromem) collection(domain nl2kql.Domain) (*chromem.Collection, error) {
	coll, err := c.db.GetOrCreateCollection("examples-"+string(domain), nil, c.embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection for domain %s: %w", domain, err)
	}
	return coll, nil
}
