package storage

import "time"

// Checkpoint 为一个对话线程 (thread) 的最新状态快照。
//
// 每个 Graph 节点执行完成后都会覆盖写入一次；进程被杀掉后可以从这里恢复，
// 包括仍在等待用户授权的请求 ID（保存在 StateJSON 中）。
type Checkpoint struct {
	// ThreadID 为对话线程标识，同一个 thread 只保留一条最新快照。
	ThreadID string `gorm:"primaryKey;size:128"`
	// Status 为线程所处阶段（running/awaiting_authorization/finished/authorization_failed/iteration_limit）。
	Status string `gorm:"size:32;not null;index"`
	// LastNode 为最近一次完成的 Graph 节点名。
	LastNode string `gorm:"size:64"`
	// StateJSON 为序列化后的对话状态。
	StateJSON string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	// UpdatedAt 为最近一次写入时间，用于列表排序与过期清理。
	UpdatedAt time.Time `gorm:"not null;index"`
}

// 授权记录状态
const (
	AuthorizationStatusPending   = "pending"
	AuthorizationStatusCompleted = "completed"
	AuthorizationStatusFailed    = "failed"
)

// AuthorizationRecord 记录一次工具授权请求及其最终结果。
type AuthorizationRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// RequestID 为授权服务返回的请求 ID。
	RequestID  string `gorm:"size:128;not null;index"`
	ThreadID   string `gorm:"size:128;index"`
	UserID     string `gorm:"size:255;index"`
	ToolName   string `gorm:"size:255;not null"`
	ToolCallID string `gorm:"size:128"`
	// Status 为 pending/completed/failed。
	Status string `gorm:"size:32;not null;index"`
	URL    string `gorm:"type:text"`
	// Reason 为失败原因（超时、被拒绝等）。
	Reason      string    `gorm:"type:text"`
	RequestedAt time.Time `gorm:"not null;index"`
	ResolvedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
}

// AuditRecord 记录一次工具执行及其结果，用于审计与追溯。
//
// 复杂入参/输出统一以 JSON 字符串存放，超长内容在写入前截断。
type AuditRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联同一次用户提问触发的所有工具调用。
	TraceID  string `gorm:"size:64;index"`
	ThreadID string `gorm:"size:128;index"`
	UserID   string `gorm:"size:255;index"`
	// Action 为工具名。
	Action     string `gorm:"size:128;not null;index"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status 为 running/success/failed。
	Status       string    `gorm:"size:32;not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}
