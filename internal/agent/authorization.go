package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wwwzy/ArcadeAgent/internal/arcade"
	"github.com/wwwzy/ArcadeAgent/internal/storage"
)

// Registry 为授权步骤需要的工具目录能力
type Registry interface {
	AuthChecker
	Authorize(ctx context.Context, toolName, userID string) (*arcade.AuthorizationResponse, error)
	WaitForAuth(ctx context.Context, requestID string) (*arcade.AuthorizationResponse, error)
	IsAuthorized(ctx context.Context, requestID string) (bool, error)
}

// AuthorizationLog 记录授权请求的历史
type AuthorizationLog interface {
	InsertAuthorizationRecord(ctx context.Context, rec *storage.AuthorizationRecord) error
	ResolveAuthorizationRecords(ctx context.Context, requestID, status, reason string, resolvedAt time.Time) (int64, error)
}

// AuthorizationPrompt 通知用户打开授权链接
type AuthorizationPrompt struct {
	ThreadID   string
	ToolName   string
	ToolCallID string
	RequestID  string
	URL        string
}

// Authorizer 确保一批工具调用在执行前全部完成授权
type Authorizer struct {
	registry Registry
	history  AuthorizationLog
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewAuthorizer timeout 为 0 时不限制等待时长；history 可为空
func NewAuthorizer(registry Registry, history AuthorizationLog, timeout time.Duration, logger zerolog.Logger) *Authorizer {
	return &Authorizer{
		registry: registry,
		history:  history,
		timeout:  timeout,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authorize 依次处理最后一条 AI 消息中需要授权的调用。
// 任一授权失败时写入 authorization_failed 并返回 nil error，整批调用都不会执行；
// 调用方取消 ctx 时返回 ctx.Err()，Pending 保留在检查点中以便恢复
func (a *Authorizer) Authorize(ctx context.Context, state ConversationState) (ConversationState, error) {
	last := state.LatestMessage()
	if last == nil || len(last.ToolCalls) == 0 {
		state.Pending = nil
		return state, nil
	}
	userID := UserIDFromContext(ctx)

	for _, tc := range last.ToolCalls {
		name := tc.Function.Name
		if !a.registry.RequiresAuth(name) {
			continue
		}

		pending := state.Pending
		if pending == nil || pending.ToolCallID != tc.ID {
			resp, err := a.registry.Authorize(ctx, name, userID)
			if err != nil {
				return state, fmt.Errorf("authorize %s: %w", name, err)
			}
			switch resp.Status {
			case arcade.StatusCompleted:
				a.logger.Debug().Str("tool", name).Str("user_id", userID).Msg("tool already authorized")
				continue
			case arcade.StatusFailed:
				a.record(ctx, &PendingAuthorization{RequestID: resp.ID, ToolName: name, ToolCallID: tc.ID, UserID: userID, URL: resp.URL, RequestedAt: a.now()}, storage.AuthorizationStatusFailed, "rejected")
				return a.fail(state, name, "was rejected"), nil
			}
			pending = &PendingAuthorization{
				RequestID:   resp.ID,
				ToolName:    name,
				ToolCallID:  tc.ID,
				UserID:      userID,
				URL:         resp.URL,
				RequestedAt: a.now(),
			}
			a.record(ctx, pending, storage.AuthorizationStatusPending, "")
		}

		state.Pending = pending
		state.Decision = DecisionAuthorize
		if err := saveCheckpoint(ctx, NodeAuthorization, state); err != nil {
			return state, err
		}
		notifyAuthorization(ctx, AuthorizationPrompt{
			ThreadID:   ThreadIDFromContext(ctx),
			ToolName:   name,
			ToolCallID: tc.ID,
			RequestID:  pending.RequestID,
			URL:        pending.URL,
		})
		a.logger.Info().
			Str("tool", name).
			Str("request_id", pending.RequestID).
			Str("thread_id", ThreadIDFromContext(ctx)).
			Msg("waiting for user authorization")

		ok, reason, err := a.wait(ctx, pending.RequestID)
		if err != nil {
			return state, err
		}
		if !ok {
			a.resolve(ctx, pending.RequestID, storage.AuthorizationStatusFailed, reason)
			return a.fail(state, name, reason), nil
		}
		a.resolve(ctx, pending.RequestID, storage.AuthorizationStatusCompleted, "")
		state.Pending = nil
	}

	state.Pending = nil
	state.Decision = DecisionRunTools
	return state, nil
}

func (a *Authorizer) wait(ctx context.Context, requestID string) (bool, string, error) {
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
	}
	defer cancel()

	resp, err := a.registry.WaitForAuth(waitCtx, requestID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, "", ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return false, "timed out", nil
		}
		return false, "", fmt.Errorf("wait for authorization %s: %w", requestID, err)
	}

	ok, err := a.registry.IsAuthorized(ctx, requestID)
	if err != nil {
		return false, "", fmt.Errorf("check authorization %s: %w", requestID, err)
	}
	if !ok {
		status := "not completed"
		if resp != nil && resp.Status != "" {
			status = string(resp.Status)
		}
		return false, "ended with status " + status, nil
	}
	return true, "", nil
}

func (a *Authorizer) fail(state ConversationState, toolName, reason string) ConversationState {
	state.Pending = nil
	state.Decision = DecisionAuthorizationFailed
	state.FailureReason = fmt.Sprintf("authorization for %s %s", toolName, reason)
	a.logger.Warn().Str("tool", toolName).Str("reason", reason).Msg("authorization failed")
	return state
}

func (a *Authorizer) record(ctx context.Context, p *PendingAuthorization, status, reason string) {
	if a.history == nil {
		return
	}
	rec := &storage.AuthorizationRecord{
		RequestID:   p.RequestID,
		ThreadID:    ThreadIDFromContext(ctx),
		UserID:      p.UserID,
		ToolName:    p.ToolName,
		ToolCallID:  p.ToolCallID,
		Status:      status,
		URL:         p.URL,
		Reason:      reason,
		RequestedAt: p.RequestedAt,
	}
	if status != storage.AuthorizationStatusPending {
		rec.ResolvedAt = a.now()
	}
	if err := a.history.InsertAuthorizationRecord(ctx, rec); err != nil {
		a.logger.Warn().Err(err).Str("request_id", p.RequestID).Msg("insert authorization record failed")
	}
}

func (a *Authorizer) resolve(ctx context.Context, requestID, status, reason string) {
	if a.history == nil {
		return
	}
	// 取消后的 ctx 仍需写入结果
	if _, err := a.history.ResolveAuthorizationRecords(context.WithoutCancel(ctx), requestID, status, reason, a.now()); err != nil {
		a.logger.Warn().Err(err).Str("request_id", requestID).Msg("resolve authorization record failed")
	}
}
