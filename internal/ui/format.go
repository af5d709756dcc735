package ui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const bannerWidth = 80

// PrettyPrint 以带标题横幅的格式输出一条消息
func PrettyPrint(m *schema.Message) string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(banner(roleTitle(m.Role)))
	b.WriteString("\n")
	if m.Role == schema.Tool && m.ToolName != "" {
		fmt.Fprintf(&b, "Name: %s\n", m.ToolName)
	}
	if content := strings.TrimSpace(m.Content); content != "" {
		b.WriteString("\n")
		b.WriteString(content)
		b.WriteString("\n")
	}
	if len(m.ToolCalls) > 0 {
		b.WriteString("Tool Calls:\n")
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  %s (%s)\n", tc.Function.Name, tc.ID)
			fmt.Fprintf(&b, " Call ID: %s\n", tc.ID)
			args := formatArgs(tc.Function.Arguments)
			if args != "" {
				b.WriteString("  Args:\n")
				b.WriteString(args)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// AuthorizationNotice 提示用户打开授权链接
func AuthorizationNotice(toolName, url string) string {
	return fmt.Sprintf("Visit the following URL to authorize %s:\n%s", toolName, url)
}

func roleTitle(role schema.RoleType) string {
	switch role {
	case schema.User:
		return "Human Message"
	case schema.Assistant:
		return "Ai Message"
	case schema.Tool:
		return "Tool Message"
	case schema.System:
		return "System Message"
	default:
		return "Message"
	}
}

func banner(title string) string {
	title = " " + title + " "
	pad := bannerWidth - len(title)
	if pad < 2 {
		return title
	}
	left := pad / 2
	return strings.Repeat("=", left) + title + strings.Repeat("=", pad-left)
}

func formatArgs(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "    " + raw + "\n"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v, _ := json.Marshal(args[k])
		fmt.Fprintf(&b, "    %s: %s\n", k, v)
	}
	return b.String()
}
