package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	if u.In == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	reader := bufio.NewReader(u.In)
	threadID := opts.ThreadID

	fmt.Fprintf(out, "进入 ArcadeAgent 对话模式 (thread %s)。输入 exit/quit 退出，%s 继续未完成的一轮。\n", displayThread(threadID), CommandResume)
	for _, m := range opts.History {
		if m != nil && m.Role != schema.System {
			fmt.Fprintln(out, PrettyPrint(m))
		}
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isExit(strings.ToLower(line)) {
			fmt.Fprintln(out, "已退出。")
			return nil
		}

		req := agent.RunRequest{ThreadID: threadID, UserID: opts.UserID}
		if line == CommandResume {
			req.Resume = true
		} else {
			req.Query = line
		}
		printer := &SnapshotPrinter{Out: out, Steps: opts.ShowSteps}
		req.Observer = printer

		res, err := backend.Run(ctx, req)
		switch {
		case errors.Is(err, agent.ErrAuthorizationPending):
			fmt.Fprintf(out, "上一轮仍在等待授权，输入 %s 继续等待。\n\n", CommandResume)
			continue
		case errors.Is(err, agent.ErrNothingToResume):
			fmt.Fprintln(out, "没有需要继续的对话。")
			fmt.Fprintln(out)
			continue
		case err != nil:
			if ctx.Err() != nil {
				fmt.Fprintf(out, "\n已中断，稍后可用 %s 继续。\n", CommandResume)
				return nil
			}
			return err
		}

		threadID = res.ThreadID
		if !opts.ShowSteps {
			printFinal(out, res)
		}
		if turnErr := res.Err(); turnErr != nil {
			fmt.Fprintf(out, "本轮未完成: %v\n", turnErr)
		}
		fmt.Fprintln(out)
	}
}

func printFinal(w io.Writer, res *agent.Result) {
	last := res.State.LatestMessage()
	if last == nil || last.Role != schema.Assistant || len(last.ToolCalls) > 0 {
		return
	}
	content := strings.TrimSpace(last.Content)
	if content == "" {
		fmt.Fprintln(w, "助手: (无文本输出)")
		return
	}
	fmt.Fprintf(w, "助手: %s\n", content)
}

func displayThread(id string) string {
	if id == "" {
		return "new"
	}
	return id
}
