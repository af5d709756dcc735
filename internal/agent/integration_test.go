package agent

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/wwwzy/ArcadeAgent/internal/arcade"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
	"github.com/wwwzy/ArcadeAgent/internal/config"
)

// TestRealAgentGraphFlow 使用真实的 Ark 模型与 Arcade 服务
// 需要 ARK_API_KEY、ARK_MODEL_ID、ARCADE_API_KEY、ARCADE_USER_ID，未设置时跳过。
// 需要授权的工具会打印授权链接并等待用户完成
func TestRealAgentGraphFlow(t *testing.T) {
	arkKey, modelID := os.Getenv("ARK_API_KEY"), os.Getenv("ARK_MODEL_ID")
	arcadeKey, userID := os.Getenv("ARCADE_API_KEY"), os.Getenv("ARCADE_USER_ID")
	if arkKey == "" || modelID == "" || arcadeKey == "" || userID == "" {
		t.Skip("Skipping real agent test: ARK_API_KEY, ARK_MODEL_ID, ARCADE_API_KEY or ARCADE_USER_ID not set")
	}
	ctx := context.Background()

	cm, err := NewChatModel(ctx, config.ArkConfig{APIKey: arkKey, ModelID: modelID, BaseURL: os.Getenv("ARK_BASE_URL")})
	if err != nil {
		t.Fatalf("init chat model: %v", err)
	}
	client, err := arcade.NewClient(os.Getenv("ARCADE_BASE_URL"), arcadeKey)
	if err != nil {
		t.Fatalf("init arcade client: %v", err)
	}
	manager := arcade.NewManager(client, zerolog.Nop())
	if err := manager.Init(ctx, []string{"Google"}); err != nil {
		t.Fatalf("load toolkit: %v", err)
	}

	g, err := BuildGraph(ctx, Deps{
		ChatModel:     cm,
		Registry:      manager,
		Tools:         manager.Tools(),
		Logger:        zerolog.Nop(),
		MaxIterations: DefaultMaxIterations,
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	runner := NewRunner(g, checkpoint.NewMemoryStore(), zerolog.Nop())
	res, err := runner.Run(ctx, RunRequest{
		UserID: userID,
		Query:  DefaultQuery,
		Observer: ObserverFuncs{Authorization: func(_ context.Context, p AuthorizationPrompt) {
			t.Logf("authorize %s at %s", p.ToolName, p.URL)
		}},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("turn ended abnormally: %v", err)
	}

	for i, msg := range res.State.Messages {
		content := msg.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		t.Logf("[%d] Role=%s Content=%s ToolCalls=%v", i, msg.Role, content, msg.ToolCalls)
	}
	if res.Status() != StatusFinished {
		t.Errorf("expected finished status, got %s", res.Status())
	}
}
