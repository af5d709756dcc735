package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// InputNode 追加用户输入并重置本轮字段
func InputNode(_ context.Context, state ConversationState) (ConversationState, error) {
	if state.Messages == nil {
		state.Messages = make([]*schema.Message, 0)
	}

	query := strings.TrimSpace(state.UserQuery)
	if query != "" || state.Decision.Terminal() {
		state.Iterations = 0
	}
	if query != "" {
		// 上一轮停在未执行的工具调用上（例如授权失败），先补齐工具结果，保持历史合法
		reason := state.FailureReason
		if reason == "" {
			reason = "turn ended before the tool ran"
		}
		state.Messages = closeAbandonedToolCalls(state.Messages, reason)
		state.Messages = append(state.Messages, schema.UserMessage(query))
	}

	state.UserQuery = ""
	state.Decision = ""
	state.FailureReason = ""
	return state, nil
}

// ChatModelNode 调用模型并记录下一步决定
func ChatModelNode(ctx context.Context, state ConversationState, cm model.BaseChatModel, tpl prompt.ChatTemplate, checker AuthChecker, maxIterations int) (ConversationState, error) {
	if maxIterations > 0 && state.Iterations >= maxIterations {
		state.Decision = DecisionIterationLimit
		state.FailureReason = fmt.Sprintf("reached the limit of %d model calls in one turn", maxIterations)
		return state, nil
	}

	messages, err := tpl.Format(ctx, map[string]any{
		"os":      runtime.GOOS,
		"time":    time.Now().Format(time.RFC3339),
		"history": sanitizeToolCallArguments(state.Messages),
	})
	if err != nil {
		return state, fmt.Errorf("format chat template failed: %w", err)
	}

	aiMsg, err := cm.Generate(ctx, messages)
	if err != nil {
		return state, fmt.Errorf("chat model generate failed: %w", err)
	}
	if aiMsg == nil {
		return state, fmt.Errorf("chat model returned no message")
	}

	state.Messages = append(state.Messages, aiMsg)
	state.Iterations++
	state.Decision = Route(state, checker)
	return state, nil
}

func closeAbandonedToolCalls(msgs []*schema.Message, reason string) []*schema.Message {
	if len(msgs) == 0 {
		return msgs
	}
	last := msgs[len(msgs)-1]
	if last == nil || last.Role != schema.Assistant || len(last.ToolCalls) == 0 {
		return msgs
	}
	for _, tc := range last.ToolCalls {
		content := errorToolContent("tool call was not executed: " + reason)
		msgs = append(msgs, schema.ToolMessage(content, tc.ID, schema.WithToolName(tc.Function.Name)))
	}
	return msgs
}
