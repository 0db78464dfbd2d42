package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/model"
)

const (
	snapshotKeyPrefix = "generation:job:"
	activeSetKey      = "generation:active"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists job snapshots in Redis so progress display and
// polling can resume after a reload or a restart.
type SnapshotStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSnapshotStore(redisClient *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotStore{redis: redisClient, ttl: ttl}
}

// Save writes the snapshot and keeps the active index in sync with its state
func (s *SnapshotStore) Save(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	id := snap.Handle.ID
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey(id), data, s.ttl)
		if snap.State.IsActive() {
			pipe.SAdd(ctx, activeSetKey, id)
		} else {
			pipe.SRem(ctx, activeSetKey, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", id, err)
	}
	return nil
}

// Get loads a snapshot by job id
func (s *SnapshotStore) Get(ctx context.Context, jobID string) (model.Snapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Snapshot{}, ErrSnapshotNotFound
		}
		return model.Snapshot{}, fmt.Errorf("failed to load snapshot %s: %w", jobID, err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot %s: %w", jobID, err)
	}
	return snap, nil
}

// ListActive returns the snapshots of every non-terminal job. Index entries
// whose snapshot expired are removed.
func (s *SnapshotStore) ListActive(ctx context.Context) ([]model.Snapshot, error) {
	ids, err := s.redis.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	snaps := make([]model.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Get(ctx, id)
		if errors.Is(err, ErrSnapshotNotFound) {
			s.redis.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Hook returns a transition hook that persists every snapshot
func (s *SnapshotStore) Hook() generation.TransitionHook {
	return func(snap model.Snapshot, _ model.Transition) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Save(ctx, snap); err != nil {
			log.Printf("[Store] %v", err)
		}
	}
}

func snapshotKey(jobID string) string {
	return snapshotKeyPrefix + jobID
}
