package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
	"github.com/wwwzy/ArcadeAgent/internal/logging"
	"github.com/wwwzy/ArcadeAgent/internal/retention"
	"github.com/wwwzy/ArcadeAgent/internal/tui"
	"github.com/wwwzy/ArcadeAgent/internal/ui"
)

var (
	chatUI       string
	chatThreadID string
	chatUserID   string
	chatSteps    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入多轮对话，所有轮次属于同一个线程。
在必要时，Agent 会调用 Arcade 工具，需要授权时展示授权链接并等待。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		userID := firstNonEmpty(chatUserID, cfg.Arcade.UserID)
		if userID == "" {
			return errors.New("user id is required (--user-id, arcade.user_id or ARCADE_USER_ID)")
		}

		var uiImpl ui.ChatUI
		log := logger
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
			// 全屏界面下日志会打乱画面
			log = logging.New(cfg.LogLevel, logging.FormatJSON, io.Discard)
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		a, err := newApp(ctx, log, true)
		if err != nil {
			return err
		}
		defer a.Close()

		collector, err := a.retentionCollector()
		if err != nil {
			return err
		}
		cleaner := retention.NewManager(cfg.Retention, collector)
		if err := cleaner.Start(ctx); err != nil {
			return fmt.Errorf("启动清理任务失败: %w", err)
		}
		defer func() {
			cleaner.Stop()
			if err := cleaner.Wait(); err != nil {
				log.Warn().Err(err).Msg("retention stopped with error")
			}
		}()

		threadID := firstNonEmpty(chatThreadID, cfg.Agent.ThreadID)
		var history []*schema.Message
		if threadID != "" {
			state, _, err := agent.LoadState(ctx, a.checkpoints, threadID)
			if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
				return err
			}
			history = state.Messages
		}

		return uiImpl.Run(ctx, a.runner, ui.ChatOptions{
			ThreadID:  threadID,
			UserID:    userID,
			ShowSteps: chatSteps,
			History:   history,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatThreadID, "thread-id", "", "继续已有的对话线程")
	chatCmd.Flags().StringVar(&chatUserID, "user-id", "", "代表的用户，通常是邮箱（默认取 arcade.user_id）")
	chatCmd.Flags().BoolVar(&chatSteps, "steps", false, "打印每一步的消息（仅 console）")
}
