package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/ArcadeAgent/internal/arcade"
)

const (
	toolGmail    = "Google_ListEmails"
	toolCalendar = "Google_ListEvents"
	toolEcho     = "Echo_Say"
)

// policyModel 根据历史决定回复，可被多个线程并发使用
type policyModel struct {
	policy func(in []*schema.Message) *schema.Message
	calls  atomic.Int32
	bound  atomic.Int32
}

func (m *policyModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls.Add(1)
	return m.policy(in), nil
}

func (m *policyModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *policyModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.bound.Store(int32(len(tools)))
	return m, nil
}

var callSeq atomic.Int64

func toolCallMessage(names ...string) *schema.Message {
	calls := make([]schema.ToolCall, 0, len(names))
	for _, n := range names {
		calls = append(calls, schema.ToolCall{
			ID:       fmt.Sprintf("call-%d", callSeq.Add(1)),
			Type:     "function",
			Function: schema.FunctionCall{Name: n, Arguments: `{"n_emails":3}`},
		})
	}
	return schema.AssistantMessage("", calls)
}

// callToolsThenAnswer 用户消息后调用 names，拿到工具结果后给出最终回复
func callToolsThenAnswer(names ...string) *policyModel {
	return &policyModel{policy: func(in []*schema.Message) *schema.Message {
		last := in[len(in)-1]
		if last.Role == schema.User {
			return toolCallMessage(names...)
		}
		return schema.AssistantMessage("summary: "+last.Content, nil)
	}}
}

// byQuery 按用户输入选择工具
func byQuery(routes map[string]string) *policyModel {
	return &policyModel{policy: func(in []*schema.Message) *schema.Message {
		last := in[len(in)-1]
		if last.Role != schema.User {
			return schema.AssistantMessage("summary: "+last.Content, nil)
		}
		for keyword, name := range routes {
			if strings.Contains(last.Content, keyword) {
				return toolCallMessage(name)
			}
		}
		return schema.AssistantMessage("hello", nil)
	}}
}

type fakeTool struct {
	name   string
	output string
	calls  atomic.Int32
	mu     sync.Mutex
	users  []string
}

func (t *fakeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "fake " + t.name}, nil
}

func (t *fakeTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	t.calls.Add(1)
	t.mu.Lock()
	t.users = append(t.users, UserIDFromContext(ctx))
	t.mu.Unlock()
	return t.output, nil
}

type fakeRegistry struct {
	authTools map[string]bool

	mu sync.Mutex
	// initial 为 Authorize 返回的状态，final 为等待结束后的状态，均按工具名配置
	initial map[string]arcade.AuthorizationStatus
	final   map[string]arcade.AuthorizationStatus
	// block 非空时 WaitForAuth 阻塞到 block 关闭或 ctx 结束
	block       chan struct{}
	waiting     chan string
	authorized  []string
	requestTool map[string]string
	seq         int
}

func newFakeRegistry(authTools ...string) *fakeRegistry {
	r := &fakeRegistry{
		authTools:   make(map[string]bool),
		initial:     make(map[string]arcade.AuthorizationStatus),
		final:       make(map[string]arcade.AuthorizationStatus),
		requestTool: make(map[string]string),
	}
	for _, n := range authTools {
		r.authTools[n] = true
	}
	return r
}

func (r *fakeRegistry) RequiresAuth(name string) bool {
	return r.authTools[name]
}

func (r *fakeRegistry) Authorize(_ context.Context, toolName, userID string) (*arcade.AuthorizationResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("auth-%d", r.seq)
	r.authorized = append(r.authorized, toolName)
	r.requestTool[id] = toolName
	st, ok := r.initial[toolName]
	if !ok {
		st = arcade.StatusPending
	}
	return &arcade.AuthorizationResponse{ID: id, Status: st, URL: "https://auth.example/" + id, UserID: userID}, nil
}

func (r *fakeRegistry) WaitForAuth(ctx context.Context, requestID string) (*arcade.AuthorizationResponse, error) {
	r.mu.Lock()
	block, waiting := r.block, r.waiting
	r.mu.Unlock()
	if waiting != nil {
		waiting <- requestID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &arcade.AuthorizationResponse{ID: requestID, Status: r.finalStatus(requestID)}, nil
}

func (r *fakeRegistry) IsAuthorized(_ context.Context, requestID string) (bool, error) {
	return r.finalStatus(requestID) == arcade.StatusCompleted, nil
}

func (r *fakeRegistry) finalStatus(requestID string) arcade.AuthorizationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.final[r.requestTool[requestID]]
	if !ok {
		return arcade.StatusCompleted
	}
	return st
}

func (r *fakeRegistry) authorizeCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.authorized...)
}

// recorder 记录 Observer 回调
type recorder struct {
	mu       sync.Mutex
	nodes    []string
	prompts  []AuthorizationPrompt
	onPrompt func(AuthorizationPrompt)
}

func (r *recorder) OnSnapshot(_ context.Context, snap Snapshot) {
	r.mu.Lock()
	r.nodes = append(r.nodes, snap.Node)
	r.mu.Unlock()
}

func (r *recorder) OnAuthorizationRequired(_ context.Context, p AuthorizationPrompt) {
	r.mu.Lock()
	r.prompts = append(r.prompts, p)
	fn := r.onPrompt
	r.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (r *recorder) snapshotNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.nodes...)
}
