package agent

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// TurnDecision 为路由器或终止步骤给出的下一步
type TurnDecision string

const (
	DecisionFinish    TurnDecision = "finish"
	DecisionRunTools  TurnDecision = "run_tools"
	DecisionAuthorize TurnDecision = "authorize"

	// 以下两个为终止决定，写入状态后本轮直接结束
	DecisionAuthorizationFailed TurnDecision = "authorization_failed"
	DecisionIterationLimit      TurnDecision = "iteration_limit"
)

func (d TurnDecision) Terminal() bool {
	return d == DecisionAuthorizationFailed || d == DecisionIterationLimit
}

// 检查点状态
const (
	StatusRunning               = "running"
	StatusAwaitingAuthorization = "awaiting_authorization"
	StatusFinished              = "finished"
	StatusAuthorizationFailed   = "authorization_failed"
	StatusIterationLimit        = "iteration_limit"
)

// ClosedStatuses 为已经结束的线程状态，可以按保留期清理
var ClosedStatuses = []string{StatusFinished, StatusAuthorizationFailed, StatusIterationLimit}

// PendingAuthorization 为正在等待用户完成的授权请求。
// 持久化在检查点里，进程重启后可以继续等待同一个请求。
type PendingAuthorization struct {
	RequestID   string    `json:"request_id"`
	ToolName    string    `json:"tool_name"`
	ToolCallID  string    `json:"tool_call_id"`
	UserID      string    `json:"user_id"`
	URL         string    `json:"url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ConversationState 定义了在 Graph 中流转的状态
type ConversationState struct {
	// 历史对话消息 (User, AI, Tool)
	Messages []*schema.Message `json:"messages"`

	Context map[string]any `json:"context,omitempty"`

	// 本轮用户输入，input 节点消费后清空
	UserQuery string `json:"user_query,omitempty"`

	// 本轮已调用模型的次数
	Iterations int `json:"iterations"`

	Decision      TurnDecision          `json:"decision,omitempty"`
	Pending       *PendingAuthorization `json:"pending,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

// LatestMessage 返回最后一条消息，没有时返回 nil
func (s ConversationState) LatestMessage() *schema.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// Status 为写入检查点的线程状态
func (s ConversationState) Status() string {
	switch {
	case s.Pending != nil:
		return StatusAwaitingAuthorization
	case s.Decision == DecisionAuthorizationFailed:
		return StatusAuthorizationFailed
	case s.Decision == DecisionIterationLimit:
		return StatusIterationLimit
	}
	if m := s.LatestMessage(); m != nil && m.Role == schema.Assistant && len(m.ToolCalls) == 0 {
		return StatusFinished
	}
	return StatusRunning
}
