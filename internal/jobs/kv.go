package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

const maxCASRetries = 16

// KVStore keeps jobs in a JetStream key-value bucket, one JSON value per job
// id. Updates are compare-and-swap on the entry revision, so concurrent
// writers from several processes never lose a transition.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates or binds the bucket.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "kravscan job state",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kv bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

// Create implements Store.
func (s *KVStore) Create(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", j.ID, err)
	}
	if _, err := s.kv.Create(ctx, j.ID, data); err != nil {
		return fmt.Errorf("storing job %s: %w", j.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, id string) (*Job, error) {
	j, _, err := s.load(ctx, id)
	return j, err
}

func (s *KVStore) load(ctx context.Context, id string) (*Job, uint64, error) {
	e, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("loading job %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal(e.Value(), &j); err != nil {
		return nil, 0, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return &j, e.Revision(), nil
}

// Update implements Store. A lost race re-reads the job and reapplies fn.
func (s *KVStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		j, rev, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(j); err != nil {
			return nil, err
		}
		data, err := json.Marshal(j)
		if err != nil {
			return nil, fmt.Errorf("encoding job %s: %w", id, err)
		}
		if _, err := s.kv.Update(ctx, id, data, rev); err != nil {
			if wrongRevision(err) {
				continue
			}
			return nil, fmt.Errorf("storing job %s: %w", id, err)
		}
		return j, nil
	}
	return nil, fmt.Errorf("storing job %s: too many concurrent updates", id)
}

func wrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
