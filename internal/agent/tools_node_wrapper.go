package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// NewToolsNode 创建按调用顺序串行执行的 ToolsNode
func NewToolsNode(ctx context.Context, tools []tool.BaseTool) (*compose.ToolsNode, error) {
	return compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               tools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(_ context.Context, name, _ string) (string, error) {
			return errorToolContent(fmt.Sprintf("tool %s is not available", name)), nil
		},
	})
}

// ConvertStateToToolsInput 取最后一条 AI 消息作为 ToolsNode 的输入
func ConvertStateToToolsInput(_ context.Context, state ConversationState) (*schema.Message, error) {
	last := state.LatestMessage()
	if last == nil || last.Role != schema.Assistant || len(last.ToolCalls) == 0 {
		return nil, fmt.Errorf("latest message has no tool calls")
	}
	return &schema.Message{
		Role:      schema.Assistant,
		ToolCalls: last.ToolCalls,
	}, nil
}

// ConvertToolsOutputToState 按调用顺序追加工具结果
func ConvertToolsOutputToState(_ context.Context, state ConversationState, outputs []*schema.Message) (ConversationState, error) {
	state.Messages = append(state.Messages, outputs...)
	state.Decision = ""
	return state, nil
}

// ToolsNode 执行最后一条 AI 消息中的全部工具调用
func ToolsNode(ctx context.Context, state ConversationState, tn *compose.ToolsNode) (ConversationState, error) {
	inputMsg, err := ConvertStateToToolsInput(ctx, state)
	if err != nil {
		return state, err
	}
	outputs, err := tn.Invoke(ctx, inputMsg)
	if err != nil {
		return state, fmt.Errorf("tools node failed: %w", err)
	}
	return ConvertToolsOutputToState(ctx, state, outputs)
}

func errorToolContent(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
