package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
)

type turnBackend struct {
	req agent.RunRequest
	run func(ctx context.Context, req agent.RunRequest) (*agent.Result, error)
}

func (b *turnBackend) Run(ctx context.Context, req agent.RunRequest) (*agent.Result, error) {
	b.req = req
	return b.run(ctx, req)
}

func finishedResult(req agent.RunRequest, reply string) *agent.Result {
	return &agent.Result{ThreadID: req.ThreadID, State: agent.ConversationState{
		Messages: []*schema.Message{schema.UserMessage(req.Query), schema.AssistantMessage(reply, nil)},
		Decision: agent.DecisionFinish,
	}}
}

func TestRunTurn_DefaultQueryAndGeneratedThread(t *testing.T) {
	backend := &turnBackend{run: func(_ context.Context, req agent.RunRequest) (*agent.Result, error) {
		return finishedResult(req, "three emails"), nil
	}}
	var out bytes.Buffer

	require.NoError(t, runTurn(context.Background(), backend, &out, turnOptions{UserID: "u@example.com"}))

	assert.Equal(t, agent.DefaultQuery, backend.req.Query)
	require.NotEmpty(t, backend.req.ThreadID)
	assert.Contains(t, out.String(), "thread "+backend.req.ThreadID)
	assert.Contains(t, out.String(), agent.StatusFinished)
}

func TestRunTurn_AuthorizationFailedIsAnError(t *testing.T) {
	backend := &turnBackend{run: func(_ context.Context, req agent.RunRequest) (*agent.Result, error) {
		res := finishedResult(req, "")
		res.State.Messages[1] = schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "Google_ListEmails", Arguments: "{}"}}})
		res.State.Decision = agent.DecisionAuthorizationFailed
		res.State.FailureReason = "timed out"
		return res, nil
	}}
	var out bytes.Buffer

	err := runTurn(context.Background(), backend, &out, turnOptions{ThreadID: "t-1", UserID: "u", Query: "read mail"})
	require.ErrorIs(t, err, agent.ErrAuthorizationFailed)
	assert.Contains(t, err.Error(), "authorization failed")
	assert.Contains(t, out.String(), agent.StatusAuthorizationFailed)
}

func TestRunTurn_InterruptedWaitPrintsResumeHint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &turnBackend{run: func(ctx context.Context, req agent.RunRequest) (*agent.Result, error) {
		req.Observer.OnAuthorizationRequired(ctx, agent.AuthorizationPrompt{
			ThreadID: req.ThreadID,
			ToolName: "Google_ListEmails",
			URL:      "https://auth.example/x",
		})
		cancel()
		return nil, fmt.Errorf("run thread %s: %w", req.ThreadID, ctx.Err())
	}}
	var out bytes.Buffer

	err := runTurn(ctx, backend, &out, turnOptions{UserID: "u"})
	require.ErrorIs(t, err, context.Canceled)

	id := backend.req.ThreadID
	require.NotEmpty(t, id)
	assert.Contains(t, out.String(), "https://auth.example/x")
	assert.Contains(t, out.String(), "--resume --thread-id "+id)
}

func TestRunTurn_Validation(t *testing.T) {
	backend := &turnBackend{run: func(context.Context, agent.RunRequest) (*agent.Result, error) {
		t.Fatal("backend must not be called")
		return nil, nil
	}}
	var out bytes.Buffer

	assert.Error(t, runTurn(context.Background(), backend, &out, turnOptions{}))
	assert.Error(t, runTurn(context.Background(), backend, &out, turnOptions{UserID: "u", Resume: true}))
}
