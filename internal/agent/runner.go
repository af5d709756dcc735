package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
)

const DefaultQuery = "Summarize my latest 3 emails."

var (
	ErrThreadBusy          = errors.New("thread already has a run in progress")
	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrIterationLimit      = errors.New("iteration limit reached")
	// ErrAuthorizationPending 表示线程仍在等待授权，需要用 resume 继续
	ErrAuthorizationPending = errors.New("thread is waiting for authorization")
	ErrNothingToResume      = errors.New("thread has nothing to resume")
)

// Snapshot 为某个节点完成后的状态
type Snapshot struct {
	ThreadID string
	Node     string
	State    ConversationState
}

// Observer 接收运行过程中的事件，回调在运行所在的 goroutine 中同步执行
type Observer interface {
	OnSnapshot(ctx context.Context, snap Snapshot)
	OnAuthorizationRequired(ctx context.Context, prompt AuthorizationPrompt)
}

// ObserverFuncs 以函数实现 Observer，未设置的回调忽略
type ObserverFuncs struct {
	Snapshot      func(ctx context.Context, snap Snapshot)
	Authorization func(ctx context.Context, prompt AuthorizationPrompt)
}

func (o ObserverFuncs) OnSnapshot(ctx context.Context, snap Snapshot) {
	if o.Snapshot != nil {
		o.Snapshot(ctx, snap)
	}
}

func (o ObserverFuncs) OnAuthorizationRequired(ctx context.Context, prompt AuthorizationPrompt) {
	if o.Authorization != nil {
		o.Authorization(ctx, prompt)
	}
}

// RunRequest 为一次运行的参数
type RunRequest struct {
	// ThreadID 为空时生成新的线程
	ThreadID string
	UserID   string
	Query    string
	// Resume 继续检查点中未完成的一轮，Query 被忽略
	Resume   bool
	Observer Observer
}

// Result 为一次运行结束后的状态
type Result struct {
	ThreadID string
	TraceID  string
	State    ConversationState
}

func (r *Result) Status() string {
	return r.State.Status()
}

// Err 把终止决定映射为错误
func (r *Result) Err() error {
	switch r.State.Decision {
	case DecisionAuthorizationFailed:
		return fmt.Errorf("%w: %s", ErrAuthorizationFailed, r.State.FailureReason)
	case DecisionIterationLimit:
		return fmt.Errorf("%w: %s", ErrIterationLimit, r.State.FailureReason)
	}
	return nil
}

// FinalMessage 返回最后一条 AI 回复的内容
func (r *Result) FinalMessage() string {
	last := r.State.LatestMessage()
	if last == nil {
		return ""
	}
	return last.Content
}

// Runner 为每个线程维护独立的执行上下文
type Runner struct {
	graph  compose.Runnable[ConversationState, ConversationState]
	store  checkpoint.Store
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewRunner(graph compose.Runnable[ConversationState, ConversationState], store checkpoint.Store, logger zerolog.Logger) *Runner {
	return &Runner{
		graph:    graph,
		store:    store,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Run 同一线程同时只允许一个运行，不同线程可以并发
func (r *Runner) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		if req.Resume {
			return nil, fmt.Errorf("%w: thread id is required", ErrNothingToResume)
		}
		threadID = uuid.NewString()
	}

	if !r.acquire(threadID) {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	defer r.release(threadID)

	state, _, err := LoadState(ctx, r.store, threadID)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, err
	}

	if req.Resume {
		if !resumable(state) {
			return nil, fmt.Errorf("%w: %s", ErrNothingToResume, threadID)
		}
	} else {
		query := strings.TrimSpace(req.Query)
		if query == "" {
			return nil, errors.New("query is required")
		}
		if state.Pending != nil {
			return nil, fmt.Errorf("%w: %s", ErrAuthorizationPending, threadID)
		}
		state.UserQuery = query
	}

	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
	}
	logger := r.logger.With().Str("thread_id", threadID).Str("trace_id", traceID).Logger()
	ctx = withRunScope(ctx, threadID, req.UserID, &runScope{
		observer: req.Observer,
		save:     r.saver(threadID),
	})

	start := time.Now()
	logger.Info().Bool("resume", req.Resume).Int("history", len(state.Messages)).Msg("run started")

	out, err := r.graph.Invoke(ctx, state)
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		return nil, fmt.Errorf("run thread %s: %w", threadID, err)
	}

	res := &Result{ThreadID: threadID, TraceID: traceID, State: out}
	logger.Info().
		Str("status", res.Status()).
		Int("iterations", out.Iterations).
		Dur("duration", time.Since(start)).
		Msg("run finished")
	return res, nil
}

func (r *Runner) saver(threadID string) func(ctx context.Context, node string, state ConversationState) error {
	return func(ctx context.Context, node string, state ConversationState) error {
		b, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		rec := &checkpoint.Record{
			ThreadID:  threadID,
			Status:    state.Status(),
			LastNode:  node,
			State:     b,
			UpdatedAt: time.Now().UTC(),
		}
		if err := r.store.Save(ctx, rec); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		return nil
	}
}

func (r *Runner) acquire(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[threadID]; busy {
		return false
	}
	r.inflight[threadID] = struct{}{}
	return true
}

func (r *Runner) release(threadID string) {
	r.mu.Lock()
	delete(r.inflight, threadID)
	r.mu.Unlock()
}

// LoadState 读取并解码线程的检查点
func LoadState(ctx context.Context, store checkpoint.Store, threadID string) (ConversationState, *checkpoint.Record, error) {
	rec, err := store.Load(ctx, threadID)
	if err != nil {
		return ConversationState{}, nil, err
	}
	var state ConversationState
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return ConversationState{}, rec, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return state, rec, nil
}

// resumable 表示上一轮没有正常结束
func resumable(state ConversationState) bool {
	return len(state.Messages) > 0 && state.Status() != StatusFinished
}
