// Package checkpoint persists the latest conversation snapshot of every thread.
//
// A thread keeps exactly one record which is overwritten after every graph node,
// so a crashed or interrupted process can pick the conversation up where it stopped,
// including an authorization request that is still waiting for the user.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrNotFound is returned by Load when the thread has no checkpoint yet.
var ErrNotFound = errors.New("checkpoint not found")

// Record is one thread snapshot. State holds the JSON encoded conversation state.
type Record struct {
	ThreadID  string
	Status    string
	LastNode  string
	State     []byte
	UpdatedAt time.Time
}

// ListOptions filters List results. Zero values mean no filter.
type ListOptions struct {
	Status string
	Limit  int
}

// Store is implemented by every checkpoint backend.
type Store interface {
	Load(ctx context.Context, threadID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	Delete(ctx context.Context, threadID string) error
	// DeleteBefore removes at most limit threads last saved before the given time whose
	// status is one of statuses, and reports how many were removed.
	DeleteBefore(ctx context.Context, before time.Time, statuses []string, limit int) (int64, error)
}

func validate(rec *Record) error {
	if rec == nil {
		return errors.New("checkpoint record is nil")
	}
	if rec.ThreadID == "" {
		return errors.New("thread id is required")
	}
	if len(rec.State) == 0 {
		return fmt.Errorf("checkpoint %s: empty state", rec.ThreadID)
	}
	return nil
}

func statusIn(status string, statuses []string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
