package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
	"github.com/wwwzy/ArcadeAgent/internal/ui"
)

var (
	runThreadID string
	runUserID   string
	runResume   bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "执行一轮对话",
	Long: `以一条用户消息运行 Agent 直到得到最终回复，并打印每一步的最新消息。
未指定 query 时使用 "` + agent.DefaultQuery + `"。
工具需要授权时会打印授权链接并等待；中断后可用 --resume 继续等待同一个授权。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts := turnOptions{
			ThreadID: firstNonEmpty(runThreadID, cfg.Agent.ThreadID),
			UserID:   firstNonEmpty(runUserID, cfg.Arcade.UserID),
			Query:    strings.Join(args, " "),
			Resume:   runResume,
		}
		if err := opts.normalize(); err != nil {
			return err
		}

		a, err := newApp(ctx, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		return runTurn(ctx, a.runner, cmd.OutOrStdout(), opts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runThreadID, "thread-id", "", "对话线程 ID，为空时新建（默认取 agent.thread_id）")
	runCmd.Flags().StringVar(&runUserID, "user-id", "", "代表的用户，通常是邮箱（默认取 arcade.user_id）")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "继续线程中未完成的一轮")
}

type turnOptions struct {
	ThreadID string
	UserID   string
	Query    string
	Resume   bool
}

// normalize 校验参数，补上默认问题，并在新建线程时提前生成 ID，方便中断后继续
func (o *turnOptions) normalize() error {
	if o.UserID == "" {
		return errors.New("user id is required (--user-id, arcade.user_id or ARCADE_USER_ID)")
	}
	if o.Resume && o.ThreadID == "" {
		return errors.New("--resume requires --thread-id")
	}
	o.Query = strings.TrimSpace(o.Query)
	if o.Query == "" && !o.Resume {
		o.Query = agent.DefaultQuery
	}
	if o.ThreadID == "" {
		o.ThreadID = uuid.NewString()
	}
	return nil
}

// runTurn 执行一轮并打印过程；终止决定以错误返回，命令因此以非零状态退出
func runTurn(ctx context.Context, backend ui.ChatBackend, out io.Writer, o turnOptions) error {
	if err := o.normalize(); err != nil {
		return err
	}
	fmt.Fprintf(out, "thread %s\n", o.ThreadID)

	res, err := backend.Run(ctx, agent.RunRequest{
		ThreadID: o.ThreadID,
		UserID:   o.UserID,
		Query:    o.Query,
		Resume:   o.Resume,
		Observer: &ui.SnapshotPrinter{Out: out, Steps: true},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			fmt.Fprintf(out, "\n已中断，可用 --resume --thread-id %s 继续。\n", o.ThreadID)
		}
		return err
	}

	fmt.Fprintf(out, "\nthread %s: %s\n", res.ThreadID, res.Status())
	return res.Err()
}
