// Package vectorstore stores embedded page chunks of standards and answers
// nearest-neighbour queries scoped to one standard.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates an upsert without records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrMissingVector indicates a record or query without an embedding.
	ErrMissingVector = errors.New("missing vector")

	// ErrConnectionFailed indicates the remote store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Record is one page chunk of a standard.
type Record struct {
	// ID is stable for a (standard, page, chunk) triple.
	ID       string
	Standard string
	Page     int
	Text     string
	Vector   []float32
}

// Result is a Record with its cosine similarity to the query.
type Result struct {
	Record
	Score float64
}

// Store persists records and searches them by vector.
//
// Implementations:
//   - MemoryStore: brute force in process (default)
//   - ChromemStore: embedded chromem-go, optionally persistent
//   - QdrantStore: external Qdrant over gRPC
type Store interface {
	// Upsert adds or replaces records by ID.
	Upsert(ctx context.Context, records []Record) error

	// DeleteStandard removes every record of standard.
	DeleteStandard(ctx context.Context, standard string) error

	// Search returns up to k records of standard ordered by similarity,
	// highest first.
	Search(ctx context.Context, standard string, vector []float32, k int) ([]Result, error)

	// Close releases resources.
	Close() error
}

var collectionNameRE = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks that name is lowercase alphanumeric with
// underscores, at most 64 characters.
func ValidateCollectionName(name string) error {
	if !collectionNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateRecords(records []Record) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	for _, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("%w: record %s", ErrMissingVector, r.ID)
		}
	}
	return nil
}
