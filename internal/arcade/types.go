package arcade

import (
	"fmt"
	"strings"
)

// AuthorizationStatus 为授权请求的状态
type AuthorizationStatus string

const (
	StatusPending   AuthorizationStatus = "pending"
	StatusCompleted AuthorizationStatus = "completed"
	StatusFailed    AuthorizationStatus = "failed"
)

// Terminal 表示状态不会再变化
func (s AuthorizationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AuthorizationResponse 是一次授权请求的当前视图
type AuthorizationResponse struct {
	ID         string              `json:"id"`
	Status     AuthorizationStatus `json:"status"`
	URL        string              `json:"url,omitempty"`
	UserID     string              `json:"user_id,omitempty"`
	ProviderID string              `json:"provider_id,omitempty"`
	Scopes     []string            `json:"scopes,omitempty"`
}

type ToolkitDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

type ValueSchema struct {
	ValType      string   `json:"val_type"`
	InnerValType string   `json:"inner_val_type,omitempty"`
	Enum         []string `json:"enum,omitempty"`
}

type ToolParameter struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Inferrable  bool        `json:"inferrable"`
	ValueSchema ValueSchema `json:"value_schema"`
}

type ToolInput struct {
	Parameters []ToolParameter `json:"parameters"`
}

type OAuth2Requirement struct {
	Scopes []string `json:"scopes,omitempty"`
}

type AuthorizationRequirement struct {
	ID           string             `json:"id,omitempty"`
	ProviderID   string             `json:"provider_id,omitempty"`
	ProviderType string             `json:"provider_type,omitempty"`
	OAuth2       *OAuth2Requirement `json:"oauth2,omitempty"`
}

type ToolRequirements struct {
	Authorization *AuthorizationRequirement `json:"authorization,omitempty"`
}

// ToolDefinition 为目录中一个工具的描述
type ToolDefinition struct {
	Name               string            `json:"name"`
	QualifiedName      string            `json:"qualified_name,omitempty"`
	FullyQualifiedName string            `json:"fully_qualified_name,omitempty"`
	Description        string            `json:"description"`
	Toolkit            ToolkitDefinition `json:"toolkit"`
	Input              ToolInput         `json:"input"`
	Requirements       *ToolRequirements `json:"requirements,omitempty"`
}

// RequiresAuth 表示执行前需要用户授权
func (d ToolDefinition) RequiresAuth() bool {
	return d.Requirements != nil && d.Requirements.Authorization != nil
}

// APIName 为调用 Arcade 接口时使用的工具名，如 Google.ListEmails
func (d ToolDefinition) APIName() string {
	if d.QualifiedName != "" {
		return d.QualifiedName
	}
	if d.Toolkit.Name == "" {
		return d.Name
	}
	return d.Toolkit.Name + "." + d.Name
}

// ModelName 为暴露给模型的工具名；模型侧的函数名不允许出现 "."
func (d ToolDefinition) ModelName() string {
	return strings.ReplaceAll(d.APIName(), ".", "_")
}

type listToolsResponse struct {
	Items      []ToolDefinition `json:"items"`
	TotalCount int              `json:"total_count"`
	Offset     int              `json:"offset"`
	Limit      int              `json:"limit"`
	PageCount  int              `json:"page_count"`
}

type authorizeRequest struct {
	ToolName string `json:"tool_name"`
	UserID   string `json:"user_id"`
}

type executeRequest struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
}

type ExecuteError struct {
	Message                 string `json:"message"`
	DeveloperMessage        string `json:"developer_message,omitempty"`
	AdditionalPromptContent string `json:"additional_prompt_content,omitempty"`
	CanRetry                bool   `json:"can_retry,omitempty"`
}

type ExecuteOutput struct {
	Value         any                    `json:"value,omitempty"`
	Error         *ExecuteError          `json:"error,omitempty"`
	Authorization *AuthorizationResponse `json:"authorization,omitempty"`
}

type ExecuteResponse struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Success     bool           `json:"success"`
	Output      *ExecuteOutput `json:"output,omitempty"`
}

// APIError 在 Arcade 返回非 2xx 时返回
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arcade api %d: %s", e.Status, e.Message)
}

// StatusCode 供调用方按 HTTP 状态码区分错误
func (e *APIError) StatusCode() int {
	return e.Status
}
