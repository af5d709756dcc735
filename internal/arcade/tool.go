package arcade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

type userIDKey struct{}

// WithUserID 设置工具执行时代表的用户
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}

// Tool 把一个 Arcade 工具适配为 eino InvokableTool
type Tool struct {
	def    ToolDefinition
	api    API
	logger zerolog.Logger
}

var _ tool.InvokableTool = (*Tool)(nil)

func NewTool(def ToolDefinition, api API, logger zerolog.Logger) *Tool {
	return &Tool{def: def, api: api, logger: logger}
}

func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return toolInfo(t.def), nil
}

// InvokableRun 执行工具。Arcade 报告的工具失败以文本返回给模型，传输错误才返回 error
func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	input := map[string]any{}
	if s := strings.TrimSpace(argumentsInJSON); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &input); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", t.def.ModelName(), err)
		}
	}

	resp, err := t.api.Execute(ctx, t.def.APIName(), UserIDFromContext(ctx), input)
	if err != nil {
		return "", err
	}
	if resp.Output == nil {
		if !resp.Success {
			return errorContent(fmt.Sprintf("tool %s failed without output", t.def.ModelName())), nil
		}
		return "", nil
	}
	if resp.Output.Error != nil {
		t.logger.Warn().Str("tool", t.def.ModelName()).Str("error", resp.Output.Error.Message).Msg("tool reported error")
		msg := resp.Output.Error.Message
		if extra := resp.Output.Error.AdditionalPromptContent; extra != "" {
			msg += "\n" + extra
		}
		return errorContent(msg), nil
	}
	if a := resp.Output.Authorization; a != nil && a.Status != StatusCompleted {
		return errorContent(fmt.Sprintf("tool %s requires authorization: %s", t.def.ModelName(), a.URL)), nil
	}
	return stringifyValue(resp.Output.Value)
}

func stringifyValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encode tool output: %w", err)
		}
		return string(b), nil
	}
}

func errorContent(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func toolInfo(d ToolDefinition) *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(d.Input.Parameters))
	for _, p := range d.Input.Parameters {
		params[p.Name] = parameterInfo(p.ValueSchema, p.Description, p.Required)
	}
	info := &schema.ToolInfo{
		Name: d.ModelName(),
		Desc: d.Description,
	}
	if len(params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}
	return info
}

func parameterInfo(vs ValueSchema, desc string, required bool) *schema.ParameterInfo {
	pi := &schema.ParameterInfo{
		Type:     dataType(vs.ValType),
		Desc:     desc,
		Required: required,
		Enum:     vs.Enum,
	}
	if pi.Type == schema.Array {
		inner := vs.InnerValType
		if inner == "" {
			inner = "string"
		}
		pi.ElemInfo = &schema.ParameterInfo{Type: dataType(inner)}
	}
	return pi
}

func dataType(valType string) schema.DataType {
	switch valType {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "json", "object":
		return schema.Object
	default:
		return schema.String
	}
}
