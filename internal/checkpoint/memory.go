package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. Useful for tests and throwaway sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRecord(rec)
	return &out, nil
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyRecord(*rec)
	stored.UpdatedAt = time.Now().UTC()
	s.records[rec.ThreadID] = stored
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit := normalizeListLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, threadID)
	return nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, before time.Time, statuses []string, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = normalizeListLimit(limit)
	var n int64
	for id, rec := range s.records {
		if n >= int64(limit) {
			break
		}
		if !rec.UpdatedAt.Before(before) || !statusIn(rec.Status, statuses) {
			continue
		}
		delete(s.records, id)
		n++
	}
	return n, nil
}

func copyRecord(rec Record) Record {
	rec.State = append([]byte(nil), rec.State...)
	return rec
}
