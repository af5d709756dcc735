package ui

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
)

// SnapshotPrinter 把运行事件写到 Out，同一条消息只打印一次
type SnapshotPrinter struct {
	Out io.Writer
	// Steps 为 false 时只打印授权提示
	Steps bool

	last *schema.Message
}

var _ agent.Observer = (*SnapshotPrinter)(nil)

func (p *SnapshotPrinter) OnSnapshot(_ context.Context, snap agent.Snapshot) {
	if !p.Steps {
		return
	}
	latest := snap.State.LatestMessage()
	if latest == nil || latest == p.last {
		return
	}
	p.last = latest
	fmt.Fprintln(p.Out, PrettyPrint(latest))
}

func (p *SnapshotPrinter) OnAuthorizationRequired(_ context.Context, prompt agent.AuthorizationPrompt) {
	fmt.Fprintln(p.Out, AuthorizationNotice(prompt.ToolName, prompt.URL))
	if prompt.ThreadID != "" {
		fmt.Fprintf(p.Out, "(thread %s; the wait can be resumed if interrupted)\n", prompt.ThreadID)
	}
}
