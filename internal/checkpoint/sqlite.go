package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/wwwzy/ArcadeAgent/internal/storage"
)

// SQLiteStore keeps checkpoints in the checkpoints table of the local database.
type SQLiteStore struct {
	store *storage.Storage
}

func NewSQLiteStore(store *storage.Storage) (*SQLiteStore, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &SQLiteStore{store: store}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*Record, error) {
	cp, err := s.store.GetCheckpoint(ctx, threadID)
	if errors.Is(err, storage.ErrCheckpointNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromModel(*cp), nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	cp := &storage.Checkpoint{
		ThreadID:  rec.ThreadID,
		Status:    rec.Status,
		LastNode:  rec.LastNode,
		StateJSON: string(rec.State),
	}
	if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	rec.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	cps, err := s.store.QueryCheckpoints(ctx, storage.CheckpointQuery{
		Status: opts.Status,
		Limit:  normalizeListLimit(opts.Limit),
		Desc:   true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(cps))
	for _, cp := range cps {
		out = append(out, *fromModel(cp))
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.store.DeleteCheckpoint(ctx, threadID)
	return err
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, before time.Time, statuses []string, limit int) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	return s.store.DeleteCheckpointsBeforeLimited(ctx, before, statuses, limit)
}

func fromModel(cp storage.Checkpoint) *Record {
	return &Record{
		ThreadID:  cp.ThreadID,
		Status:    cp.Status,
		LastNode:  cp.LastNode,
		State:     []byte(cp.StateJSON),
		UpdatedAt: cp.UpdatedAt,
	}
}
