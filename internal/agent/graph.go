package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
)

const (
	NodeInput         = "input"
	NodeChatModel     = "agent"
	NodeAuthorization = "authorization"
	NodeTools         = "tools"
	NodeEnd           = compose.END

	GraphName = "arcade_agent"

	DefaultMaxIterations = 10
)

// Deps 为构建 Graph 所需的依赖
type Deps struct {
	ChatModel model.ToolCallingChatModel
	Registry  Registry
	Tools     []tool.BaseTool

	// 可选
	Audit          AuditLog
	Authorizations AuthorizationLog
	Logger         zerolog.Logger

	// 每轮最多调用模型的次数，0 表示不限制
	MaxIterations int
	// 等待单个授权的最长时间，0 表示不限制
	AuthorizationTimeout time.Duration
}

// BuildGraph 构建 Agent 的处理流程图
//
//	START -> input -> {agent | authorization | tools | END}
//	agent -> {END | authorization | tools}
//	authorization -> {tools | END}
//	tools -> agent
func BuildGraph(ctx context.Context, deps Deps) (compose.Runnable[ConversationState, ConversationState], error) {
	if deps.ChatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if deps.MaxIterations < 0 {
		return nil, fmt.Errorf("invalid max iterations %d", deps.MaxIterations)
	}

	tools := WrapWithAudit(deps.Tools, deps.Audit, deps.Logger.With().Str("component", "tools").Logger())
	cm, err := BindTools(ctx, deps.ChatModel, tools)
	if err != nil {
		return nil, err
	}
	tn, err := NewToolsNode(ctx, tools)
	if err != nil {
		return nil, fmt.Errorf("create tools node failed: %w", err)
	}
	tpl := NewChatTemplate()
	authorizer := NewAuthorizer(deps.Registry, deps.Authorizations, deps.AuthorizationTimeout,
		deps.Logger.With().Str("component", "authorization").Logger())

	g := compose.NewGraph[ConversationState, ConversationState]()

	// 1. 节点，每个节点完成后写一次检查点
	if err := g.AddLambdaNode(NodeInput, compose.InvokableLambda(checkpointed(NodeInput, InputNode))); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeChatModel, compose.InvokableLambda(checkpointed(NodeChatModel,
		func(ctx context.Context, state ConversationState) (ConversationState, error) {
			return ChatModelNode(ctx, state, cm, tpl, deps.Registry, deps.MaxIterations)
		}))); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeAuthorization, compose.InvokableLambda(checkpointed(NodeAuthorization, authorizer.Authorize))); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeTools, compose.InvokableLambda(checkpointed(NodeTools,
		func(ctx context.Context, state ConversationState) (ConversationState, error) {
			return ToolsNode(ctx, state, tn)
		}))); err != nil {
		return nil, err
	}

	// 2. 边
	if err := g.AddEdge(compose.START, NodeInput); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeTools, NodeChatModel); err != nil {
		return nil, err
	}

	// 3. 分支
	// input 之后根据检查点内容决定从哪里继续
	err = g.AddBranch(NodeInput, compose.NewGraphBranch(func(_ context.Context, state ConversationState) (string, error) {
		return entryNode(state, deps.Registry), nil
	}, map[string]bool{
		NodeChatModel:     true,
		NodeAuthorization: true,
		NodeTools:         true,
		NodeEnd:           true,
	}))
	if err != nil {
		return nil, err
	}

	err = g.AddBranch(NodeChatModel, compose.NewGraphBranch(func(_ context.Context, state ConversationState) (string, error) {
		return nodeForDecision(state.Decision), nil
	}, map[string]bool{
		NodeAuthorization: true,
		NodeTools:         true,
		NodeEnd:           true,
	}))
	if err != nil {
		return nil, err
	}

	err = g.AddBranch(NodeAuthorization, compose.NewGraphBranch(func(_ context.Context, state ConversationState) (string, error) {
		if state.Decision == DecisionAuthorizationFailed {
			return NodeEnd, nil
		}
		return NodeTools, nil
	}, map[string]bool{
		NodeTools: true,
		NodeEnd:   true,
	}))
	if err != nil {
		return nil, err
	}

	// 4. 编译
	return g.Compile(ctx,
		compose.WithGraphName(GraphName),
		compose.WithMaxRunSteps(maxRunSteps(deps.MaxIterations)),
	)
}

// maxRunSteps 为迭代上限之外的兜底；每次模型调用最多对应 agent/authorization/tools 三步
func maxRunSteps(maxIterations int) int {
	if maxIterations <= 0 {
		return 1000
	}
	return 3*(maxIterations+1) + 4
}

func checkpointed(node string, fn func(context.Context, ConversationState) (ConversationState, error)) func(context.Context, ConversationState) (ConversationState, error) {
	return func(ctx context.Context, state ConversationState) (ConversationState, error) {
		out, err := fn(ctx, state)
		if err != nil {
			return out, err
		}
		if err := persistSnapshot(ctx, node, out); err != nil {
			return out, err
		}
		return out, nil
	}
}
