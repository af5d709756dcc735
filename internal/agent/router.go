package agent

import (
	"github.com/cloudwego/eino/schema"
)

// AuthChecker 判断工具是否需要用户授权
type AuthChecker interface {
	RequiresAuth(toolName string) bool
}

// Route 只看最后一条消息：没有工具调用则结束；任一调用需要授权则先授权；否则直接执行工具
func Route(state ConversationState, checker AuthChecker) TurnDecision {
	last := state.LatestMessage()
	if last == nil || len(last.ToolCalls) == 0 {
		return DecisionFinish
	}
	if checker != nil {
		for _, tc := range last.ToolCalls {
			if checker.RequiresAuth(tc.Function.Name) {
				return DecisionAuthorize
			}
		}
	}
	return DecisionRunTools
}

// nodeForDecision 把决定映射为下一个节点
func nodeForDecision(d TurnDecision) string {
	switch d {
	case DecisionAuthorize:
		return NodeAuthorization
	case DecisionRunTools:
		return NodeTools
	default:
		return NodeEnd
	}
}

// entryNode 决定 input 之后从哪里开始，兼容从检查点恢复。
// 有新输入时最后一条是 user 消息，直接进入模型
func entryNode(state ConversationState, checker AuthChecker) string {
	if state.Pending != nil {
		return NodeAuthorization
	}
	last := state.LatestMessage()
	if last != nil && last.Role == schema.Assistant {
		if len(last.ToolCalls) > 0 {
			return nodeForDecision(Route(state, checker))
		}
		return NodeEnd
	}
	return NodeChatModel
}
