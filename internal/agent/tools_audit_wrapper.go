package agent

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/wwwzy/ArcadeAgent/internal/storage"
)

const (
	auditTruncateLimit = 2048
)

// AuditLog 为审计记录的写入端
type AuditLog interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志
type AuditedTool struct {
	impl   tool.InvokableTool
	store  AuditLog
	logger zerolog.Logger
}

// WrapWithAudit 将工具包装为带审计功能的工具；store 为空时只写日志
func WrapWithAudit(tools []tool.BaseTool, store AuditLog, logger zerolog.Logger) []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		if it, ok := t.(tool.InvokableTool); ok {
			out = append(out, &AuditedTool{impl: it, store: store, logger: logger})
			continue
		}
		out = append(out, t)
	}
	return out
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	action := "unknown"
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		action = info.Name
	}

	record := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		ThreadID:   ThreadIDFromContext(ctx),
		UserID:     UserIDFromContext(ctx),
		Action:     action,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	// 审计写入失败不阻断工具执行
	if t.store != nil {
		if err := t.store.InsertAuditRecord(ctx, record); err != nil {
			t.logger.Warn().Err(err).Str("tool", action).Msg("insert audit record failed")
		}
	}

	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	finishedAt := time.Now().UTC()
	status := "success"
	var errMsg, resultJSON *string
	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		errMsg = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		resultJSON = &r
	}

	ev := t.logger.Info()
	if runErr != nil {
		ev = t.logger.Warn().Err(runErr)
	}
	ev.Str("tool", action).
		Str("trace_id", record.TraceID).
		Str("thread_id", record.ThreadID).
		Str("status", status).
		Dur("duration", finishedAt.Sub(record.StartedAt)).
		Msg("tool executed")

	if t.store != nil && record.ID != 0 {
		update := storage.AuditUpdate{
			Status:       &status,
			ResultJSON:   resultJSON,
			ErrorMessage: errMsg,
			FinishedAt:   &finishedAt,
		}
		if err := t.store.UpdateAuditRecord(ctx, record.ID, update); err != nil {
			t.logger.Warn().Err(err).Uint64("audit_id", record.ID).Msg("update audit record failed")
		}
	}

	return result, runErr
}

// truncate 按字节上限截断，切口落在 rune 边界上
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
