package arcade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/rs/zerolog"
)

var ErrUnknownTool = errors.New("unknown tool")

// API 为 Manager 依赖的 Arcade 接口子集
type API interface {
	ListTools(ctx context.Context, toolkit string) ([]ToolDefinition, error)
	Authorize(ctx context.Context, toolName, userID string) (*AuthorizationResponse, error)
	AuthStatus(ctx context.Context, id string, wait time.Duration) (*AuthorizationResponse, error)
	WaitForAuth(ctx context.Context, id string) (*AuthorizationResponse, error)
	Execute(ctx context.Context, toolName, userID string, input map[string]any) (*ExecuteResponse, error)
}

// Manager 缓存 toolkit 的工具目录，按模型侧工具名提供授权与执行
type Manager struct {
	api    API
	logger zerolog.Logger

	defs  map[string]ToolDefinition
	order []string
}

func NewManager(api API, logger zerolog.Logger) *Manager {
	return &Manager{
		api:    api,
		logger: logger,
		defs:   make(map[string]ToolDefinition),
	}
}

// Init 拉取 toolkits 下的工具；重复调用会覆盖同名工具
func (m *Manager) Init(ctx context.Context, toolkits []string) error {
	if len(toolkits) == 0 {
		return errors.New("at least one toolkit is required")
	}
	for _, tk := range toolkits {
		defs, err := m.api.ListTools(ctx, tk)
		if err != nil {
			return fmt.Errorf("load toolkit %s: %w", tk, err)
		}
		for _, d := range defs {
			m.Add(d)
		}
		m.logger.Info().Str("toolkit", tk).Int("tools", len(defs)).Msg("toolkit loaded")
	}
	return nil
}

// Add 直接注册一个工具定义
func (m *Manager) Add(def ToolDefinition) {
	name := def.ModelName()
	if _, ok := m.defs[name]; !ok {
		m.order = append(m.order, name)
	}
	m.defs[name] = def
}

func (m *Manager) Definition(name string) (ToolDefinition, bool) {
	d, ok := m.defs[name]
	return d, ok
}

// Definitions 按名称排序返回
func (m *Manager) Definitions() []ToolDefinition {
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	out := make([]ToolDefinition, 0, len(names))
	for _, n := range names {
		out = append(out, m.defs[n])
	}
	return out
}

// RequiresAuth 对未知工具返回 false，让执行阶段报告未知工具
func (m *Manager) RequiresAuth(name string) bool {
	d, ok := m.defs[name]
	return ok && d.RequiresAuth()
}

func (m *Manager) Authorize(ctx context.Context, name, userID string) (*AuthorizationResponse, error) {
	d, ok := m.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return m.api.Authorize(ctx, d.APIName(), userID)
}

func (m *Manager) WaitForAuth(ctx context.Context, requestID string) (*AuthorizationResponse, error) {
	return m.api.WaitForAuth(ctx, requestID)
}

// IsAuthorized 不等待，直接查询当前状态
func (m *Manager) IsAuthorized(ctx context.Context, requestID string) (bool, error) {
	resp, err := m.api.AuthStatus(ctx, requestID, 0)
	if err != nil {
		return false, err
	}
	return resp.Status == StatusCompleted, nil
}

// Tools 返回可交给 ToolsNode 的工具
func (m *Manager) Tools() []tool.BaseTool {
	defs := m.Definitions()
	out := make([]tool.BaseTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, NewTool(d, m.api, m.logger))
	}
	return out
}
