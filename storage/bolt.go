package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

var corpusBucket = []byte("corpus")

// ErrNotCached reports a cache miss.
var ErrNotCached = errors.New("corpus not cached")

// Bolt caches parsed example corpora in a BoltDB file, keyed by corpus file
// path. Entries carry the content hash of the file they were parsed from, so
// an edited corpus is re-parsed instead of served stale.
type Bolt struct {
	DB *bolt.DB
}

type corpusRecord struct {
	Sum      uint64           `json:"sum"`
	Examples []nl2kql.Example `json:"examples"`
}

// NewBolt opens (or creates) the BoltDB file at path and ensures the corpus
// bucket exists.
func NewBolt(path string) (Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return Bolt{}, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(corpusBucket)
		return err
	}); err != nil {
		return Bolt{}, fmt.Errorf("failed to create corpus bucket: %w", err)
	}

	return Bolt{DB: db}, nil
}

// Examples returns the cached corpus for path when the stored content hash
// matches sum. The second return is false on a miss or hash mismatch.
func (b Bolt) Examples(path string, sum uint64) ([]nl2kql.Example, bool, error) {
	var record corpusRecord

	err := b.DB.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(corpusBucket)

		raw := bkt.Get([]byte(path))
		if raw == nil {
			return ErrNotCached
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read corpus cache: %w", err)
	}

	if record.Sum != sum {
		return nil, false, nil
	}
	return record.Examples, true, nil
}

// PutExamples stores a parsed corpus under its file path and content hash.
func (b Bolt) PutExamples(path string, sum uint64, examples []nl2kql.Example) error {
	raw, err := json.Marshal(corpusRecord{Sum: sum, Examples: examples})
	if err != nil {
		return fmt.Errorf("failed to marshal corpus record: %w", err)
	}

	return b.DB.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(corpusBucket)
		if bkt == nil {
			return fmt.Errorf("bucket not found")
		}
		if err := bkt.Put([]byte(path), raw); err != nil {
			return fmt.Errorf("failed to put corpus record: %w", err)
		}
		return nil
	})
}

// Close closes the underlying database file.
func (b Bolt) Close() error {
	return b.DB.Close()
}
