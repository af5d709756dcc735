package agent

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func stateWith(msgs ...*schema.Message) ConversationState {
	return ConversationState{Messages: msgs}
}

func TestRoute(t *testing.T) {
	reg := newFakeRegistry(toolGmail)

	cases := []struct {
		name  string
		state ConversationState
		want  TurnDecision
	}{
		{"empty history", ConversationState{}, DecisionFinish},
		{"user message", stateWith(schema.UserMessage("hi")), DecisionFinish},
		{"final answer", stateWith(schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)), DecisionFinish},
		{"tool without auth", stateWith(toolCallMessage(toolEcho)), DecisionRunTools},
		{"tool with auth", stateWith(toolCallMessage(toolGmail)), DecisionAuthorize},
		{"any call needing auth", stateWith(toolCallMessage(toolEcho, toolGmail, toolEcho)), DecisionAuthorize},
		{"only latest message counts", stateWith(toolCallMessage(toolGmail), schema.ToolMessage("x", "c"), schema.AssistantMessage("ok", nil)), DecisionFinish},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Route(tc.state, reg))
			// 纯函数：重复调用结果一致
			assert.Equal(t, tc.want, Route(tc.state, reg))
		})
	}
}

func TestRoute_NilChecker(t *testing.T) {
	assert.Equal(t, DecisionRunTools, Route(stateWith(toolCallMessage(toolGmail)), nil))
}

func TestEntryNode(t *testing.T) {
	reg := newFakeRegistry(toolGmail)

	assert.Equal(t, NodeChatModel, entryNode(stateWith(schema.UserMessage("q")), reg))
	assert.Equal(t, NodeChatModel, entryNode(stateWith(toolCallMessage(toolEcho), schema.ToolMessage("r", "c")), reg))
	assert.Equal(t, NodeEnd, entryNode(stateWith(schema.AssistantMessage("done", nil)), reg))
	assert.Equal(t, NodeTools, entryNode(stateWith(toolCallMessage(toolEcho)), reg))
	assert.Equal(t, NodeAuthorization, entryNode(stateWith(toolCallMessage(toolGmail)), reg))

	pending := stateWith(toolCallMessage(toolGmail))
	pending.Pending = &PendingAuthorization{RequestID: "auth-1"}
	assert.Equal(t, NodeAuthorization, entryNode(pending, reg))
}

func TestConversationStateStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, ConversationState{}.Status())
	assert.Equal(t, StatusFinished, stateWith(schema.AssistantMessage("done", nil)).Status())
	assert.Equal(t, StatusRunning, stateWith(toolCallMessage(toolEcho)).Status())

	s := stateWith(toolCallMessage(toolGmail))
	s.Pending = &PendingAuthorization{RequestID: "auth-1"}
	assert.Equal(t, StatusAwaitingAuthorization, s.Status())

	s.Pending = nil
	s.Decision = DecisionAuthorizationFailed
	assert.Equal(t, StatusAuthorizationFailed, s.Status())

	s.Decision = DecisionIterationLimit
	assert.Equal(t, StatusIterationLimit, s.Status())
}
