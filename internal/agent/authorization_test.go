package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/ArcadeAgent/internal/arcade"
)

func TestAuthorizer_NoAuthToolsLeavesStateUnchanged(t *testing.T) {
	reg := newFakeRegistry(toolGmail)
	a := NewAuthorizer(reg, nil, 0, zerolog.Nop())

	in := stateWith(toolCallMessage(toolEcho, toolEcho))
	out, err := a.Authorize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Messages, out.Messages)
	assert.Nil(t, out.Pending)
	assert.Empty(t, reg.authorizeCalls())

	// 再执行一次仍然相同
	again, err := a.Authorize(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, out.Messages, again.Messages)
}

func TestAuthorizer_AlreadyAuthorizedSkipsWait(t *testing.T) {
	reg := newFakeRegistry(toolGmail)
	reg.initial[toolGmail] = arcade.StatusCompleted
	reg.block = make(chan struct{}) // 不应进入等待

	a := NewAuthorizer(reg, nil, 0, zerolog.Nop())
	out, err := a.Authorize(context.Background(), stateWith(toolCallMessage(toolGmail)))
	require.NoError(t, err)
	assert.Equal(t, DecisionRunTools, out.Decision)
	assert.Equal(t, []string{toolGmail}, reg.authorizeCalls())
}

func TestAuthorizer_RejectedImmediately(t *testing.T) {
	reg := newFakeRegistry(toolGmail)
	reg.initial[toolGmail] = arcade.StatusFailed

	a := NewAuthorizer(reg, nil, 0, zerolog.Nop())
	out, err := a.Authorize(context.Background(), stateWith(toolCallMessage(toolGmail)))
	require.NoError(t, err)
	assert.Equal(t, DecisionAuthorizationFailed, out.Decision)
	assert.Contains(t, out.FailureReason, toolGmail)
}

func TestAuthorizer_WaitsAndClearsPending(t *testing.T) {
	reg := newFakeRegistry(toolGmail)
	a := NewAuthorizer(reg, nil, 0, zerolog.Nop())

	in := stateWith(toolCallMessage(toolGmail))
	out, err := a.Authorize(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out.Pending)
	assert.Equal(t, DecisionRunTools, out.Decision)
	assert.Len(t, out.Messages, len(in.Messages))
}

func TestAuthorizer_Timeout(t *testing.T) {
	reg := newFakeRegistry(toolGmail)
	reg.block = make(chan struct{})
	a := NewAuthorizer(reg, nil, 20*time.Millisecond, zerolog.Nop())

	out, err := a.Authorize(context.Background(), stateWith(toolCallMessage(toolGmail)))
	require.NoError(t, err)
	assert.Equal(t, DecisionAuthorizationFailed, out.Decision)
	assert.Contains(t, out.FailureReason, "timed out")
	assert.Nil(t, out.Pending)
}

func TestAuthorizer_CallerCancelKeepsPending(t *testing.T) {
	reg := newFakeRegistry(toolGmail)
	reg.block = make(chan struct{})
	a := NewAuthorizer(reg, nil, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	out, err := a.Authorize(ctx, stateWith(toolCallMessage(toolGmail)))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "auth-1", out.Pending.RequestID)
}

func TestAuthorizer_PartialBatchFailureDiscardsBatch(t *testing.T) {
	reg := newFakeRegistry(toolGmail, toolCalendar)
	reg.final[toolCalendar] = arcade.StatusFailed
	a := NewAuthorizer(reg, nil, 0, zerolog.Nop())

	out, err := a.Authorize(context.Background(), stateWith(toolCallMessage(toolGmail, toolEcho, toolCalendar)))
	require.NoError(t, err)
	assert.Equal(t, DecisionAuthorizationFailed, out.Decision)
	assert.Contains(t, out.FailureReason, toolCalendar)
	assert.Equal(t, []string{toolGmail, toolCalendar}, reg.authorizeCalls())
}
