package ui

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
)

// ChatBackend 由 agent.Runner 实现
type ChatBackend interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.Result, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	ThreadID string
	UserID   string
	// ShowSteps 打印每个节点完成后的最新消息，否则只打印最终回复
	ShowSteps bool
	// History 为线程已有的消息，用于界面回显
	History []*schema.Message
}

const (
	CommandExit   = "exit"
	CommandQuit   = "quit"
	CommandResume = "/resume"
)

func isExit(line string) bool {
	return line == CommandExit || line == CommandQuit
}
