package agent

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// SystemPromptTemplate 定义系统提示词模板
// 包含动态变量: {time}, {os}
const SystemPromptTemplate = `You are a helpful assistant that can use tools on the user's behalf.

Current environment:
- OS: {os}
- Time: {time}

Some tools act on the user's accounts and need the user's authorization first; the system
handles that step for you, so just call the tool you need. Keep answers short and summarise
long tool outputs.`

// NewChatTemplate 组装 System + History
func NewChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(SystemPromptTemplate),
		schema.MessagesPlaceholder("history", true),
	)
}

// sanitizeToolCallArguments 把非法的工具参数替换为 {}，避免模型接口拒绝整段历史。
// 只在需要时拷贝，原消息不被修改
func sanitizeToolCallArguments(input []*schema.Message) []*schema.Message {
	sanitized := input
	changed := false
	for i, m := range input {
		if m == nil || m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		toolCallsChanged := false
		newToolCalls := m.ToolCalls
		for j := range m.ToolCalls {
			args := strings.TrimSpace(m.ToolCalls[j].Function.Arguments)
			if args == "" || args == "null" || !json.Valid([]byte(args)) {
				if !toolCallsChanged {
					newToolCalls = append([]schema.ToolCall(nil), m.ToolCalls...)
					toolCallsChanged = true
				}
				newToolCalls[j].Function.Arguments = "{}"
			}
		}
		if toolCallsChanged {
			if !changed {
				sanitized = append([]*schema.Message(nil), input...)
				changed = true
			}
			nm := *m
			nm.ToolCalls = newToolCalls
			sanitized[i] = &nm
		}
	}
	return sanitized
}
