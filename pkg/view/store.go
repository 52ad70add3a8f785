package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// loadChunkSize bounds the number of keys per MGET.
	loadChunkSize = 500
	// loadAttempts bounds how often Load restarts after a concurrent Replace.
	loadAttempts = 3
)

var errSnapshotChanged = errors.New("view snapshot changed while loading")

// Store persists the view snapshot in Redis.
type Store struct {
	redis  redis.UniversalClient
	keys   keyspace.Keyspace
	logger zerolog.Logger
}

// NewStore creates a snapshot store.
func NewStore(client redis.UniversalClient, keys keyspace.Keyspace, logger zerolog.Logger) *Store {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis:  client,
		keys:   keys,
		logger: logger,
	}
}

// Count returns the number of records in the current snapshot.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.redis.Get(ctx, s.keys.ViewCount()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get view count: %w", err)
	}
	return n, nil
}

// Replace swaps the snapshot for records in one transaction; readers see
// either the old or the new set. An empty list keeps the old snapshot.
func (s *Store) Replace(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		s.logger.Warn().Msg("Refusing to replace view snapshot with an empty one")
		return nil
	}

	values := make([][]byte, len(records))
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", i, err)
		}
		values[i] = data
	}

	previous, err := s.Count(ctx)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := len(records); i < previous; i++ {
			pipe.Del(ctx, s.keys.ViewRecord(i))
		}
		pipe.Set(ctx, s.keys.ViewCount(), len(records), 0)
		for i, data := range values {
			pipe.Set(ctx, s.keys.ViewRecord(i), data, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace view snapshot: %w", err)
	}

	s.logger.Debug().
		Int("records", len(records)).
		Int("previous", previous).
		Msg("View snapshot replaced")

	return nil
}

// Load reads the current snapshot. A missing snapshot is empty, not an error.
// A read that races a Replace is restarted.
func (s *Store) Load(ctx context.Context) ([]Record, error) {
	var err error
	for range loadAttempts {
		var records []Record
		records, err = s.load(ctx)
		if !errors.Is(err, errSnapshotChanged) {
			return records, err
		}
		s.logger.Debug().Err(err).Msg("View snapshot replaced during load, reloading")
	}
	return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
}

// load reads one snapshot. A record missing below the count, or a count that
// moved while the records were read, means a Replace ran concurrently and is
// reported as errSnapshotChanged.
func (s *Store) load(ctx context.Context) ([]Record, error) {
	count, err := s.Count(ctx)
	if err != nil || count == 0 {
		return nil, err
	}

	records := make([]Record, 0, count)
	keys := make([]string, 0, min(count, loadChunkSize))

	for start := 0; start < count; start += loadChunkSize {
		end := min(start+loadChunkSize, count)

		keys = keys[:0]
		for i := start; i < end; i++ {
			keys = append(keys, s.keys.ViewRecord(i))
		}

		values, err := s.redis.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load view records %d-%d: %w", start, end-1, err)
		}

		for i, v := range values {
			data, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: view record %d missing", errSnapshotChanged, start+i)
			}
			var r Record
			if err := json.Unmarshal([]byte(data), &r); err != nil {
				return nil, fmt.Errorf("%w: view record %d: %v", ErrMalformed, start+i, err)
			}
			records = append(records, r)
		}
	}

	after, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if after != count {
		return nil, fmt.Errorf("%w: count moved from %d to %d", errSnapshotChanged, count, after)
	}

	return records, nil
}
