package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nl2kql "github.com/soundprediction/go-nl2kql"
	"github.com/soundprediction/go-nl2kql/storage"
)

func newTestBolt(t *testing.T) storage.Bolt {
	t.Helper()
	db, err := storage.NewBolt(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func TestBoltCorpusCacheRoundTrip(t *testing.T) {
	db := newTestBolt(t)

	examples := []nl2kql.Example{
		{Question: "Show failing pods", Query: "KubePodInventory | where PodStatus == 'Failed'"},
		{Question: "List tables", Query: "search * | distinct $table"},
	}

	_, ok, err := db.Examples("corpus.md", 42)
	require.NoError(t, err)
	assert.False(t, ok, "expected a miss before any write")

	require.NoError(t, db.PutExamples("corpus.md", 42, examples))

	got, ok, err := db.Examples("corpus.md", 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, examples, got)
}

func TestBoltCorpusCacheHashMismatch(t *testing.T) {
	db := newTestBolt(t)

	require.NoError(t, db.PutExamples("corpus.md", 42, []nl2kql.Example{
		{Question: "q", Query: "AppRequests | take 1"},
	}))

	_, ok, err := db.Examples("corpus.md", 43)
	require.NoError(t, err)
	assert.False(t, ok, "changed file hash must invalidate the cache")
}

func TestBoltCorpusCacheSeparatePaths(t *testing.T) {
	db := newTestBolt(t)

	require.NoError(t, db.PutExamples("a.md", 1, []nl2kql.Example{{Question: "a", Query: "qa"}}))
	require.NoError(t, db.PutExamples("b.md", 2, []nl2kql.Example{{Question: "b", Query: "qb"}}))

	got, ok, err := db.Examples("a.md", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Question)
}
