package agent

import (
	"context"

	"github.com/wwwzy/ArcadeAgent/internal/arcade"
)

type traceIDKey struct{}
type runScopeKey struct{}

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// runScope 保存一次运行内各节点共享的值
type runScope struct {
	threadID string
	observer Observer
	save     func(ctx context.Context, node string, state ConversationState) error
}

func withRunScope(ctx context.Context, threadID, userID string, sc *runScope) context.Context {
	sc.threadID = threadID
	ctx = arcade.WithUserID(ctx, userID)
	return context.WithValue(ctx, runScopeKey{}, sc)
}

func scopeFrom(ctx context.Context) *runScope {
	sc, _ := ctx.Value(runScopeKey{}).(*runScope)
	return sc
}

// ThreadIDFromContext 返回当前运行的线程 ID
func ThreadIDFromContext(ctx context.Context) string {
	if sc := scopeFrom(ctx); sc != nil {
		return sc.threadID
	}
	return ""
}

// UserIDFromContext 返回当前运行代表的用户
func UserIDFromContext(ctx context.Context) string {
	return arcade.UserIDFromContext(ctx)
}

// persistSnapshot 保存检查点并通知观察者；不在 Runner 中运行时为空操作
func persistSnapshot(ctx context.Context, node string, state ConversationState) error {
	if err := saveCheckpoint(ctx, node, state); err != nil {
		return err
	}
	if sc := scopeFrom(ctx); sc != nil && sc.observer != nil {
		sc.observer.OnSnapshot(ctx, Snapshot{ThreadID: sc.threadID, Node: node, State: state})
	}
	return nil
}

// saveCheckpoint 只保存检查点，用于节点执行中途（如开始等待授权前）
func saveCheckpoint(ctx context.Context, node string, state ConversationState) error {
	sc := scopeFrom(ctx)
	if sc == nil || sc.save == nil {
		return nil
	}
	return sc.save(ctx, node, state)
}

func notifyAuthorization(ctx context.Context, prompt AuthorizationPrompt) {
	if sc := scopeFrom(ctx); sc != nil && sc.observer != nil {
		sc.observer.OnAuthorizationRequired(ctx, prompt)
	}
}
