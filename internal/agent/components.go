package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/ArcadeAgent/internal/config"
)

// NewChatModel 初始化 Ark ChatModel
func NewChatModel(ctx context.Context, arkConfig config.ArkConfig) (*ark.ChatModel, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.ModelID,
		BaseURL: arkConfig.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

// BindTools 返回绑定了工具描述的新模型实例，原实例不变
func BindTools(ctx context.Context, cm model.ToolCallingChatModel, tools []tool.BaseTool) (model.ToolCallingChatModel, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		return cm, nil
	}
	bound, err := cm.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools to chat model failed: %w", err)
	}
	return bound, nil
}
