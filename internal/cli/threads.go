package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
	"github.com/wwwzy/ArcadeAgent/internal/storage"
	"github.com/wwwzy/ArcadeAgent/internal/ui"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "查看和管理对话线程",
	Long:  `列出保存的对话线程，查看线程的消息与授权记录，或删除线程。`,
}

var (
	threadsStatus string
	threadsLimit  int
)

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出对话线程",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.checkpoints.List(ctx, checkpoint.ListOptions{Status: threadsStatus, Limit: threadsLimit})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No threads.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Thread\tStatus\tLast Node\tUpdated")
		fmt.Fprintln(w, "------\t------\t---------\t-------")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ThreadID, r.Status, r.LastNode, r.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "显示线程的消息和授权记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		threadID := args[0]
		state, rec, err := agent.LoadState(ctx, a.checkpoints, threadID)
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("thread %s not found", threadID)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Thread:     %s\n", threadID)
		fmt.Printf("Status:     %s\n", rec.Status)
		fmt.Printf("Last Node:  %s\n", rec.LastNode)
		fmt.Printf("Updated:    %s\n", rec.UpdatedAt.Local().Format(time.DateTime))
		fmt.Printf("Iterations: %d\n", state.Iterations)
		if state.FailureReason != "" {
			fmt.Printf("Failure:    %s\n", state.FailureReason)
		}
		if p := state.Pending; p != nil {
			fmt.Printf("\nWaiting for authorization of %s since %s\n%s\n",
				p.ToolName, p.RequestedAt.Local().Format(time.DateTime), p.URL)
		}
		fmt.Println()

		for _, m := range state.Messages {
			if m == nil || m.Role == schema.System {
				continue
			}
			fmt.Println(ui.PrettyPrint(m))
		}

		auths, err := a.store.QueryAuthorizationRecords(ctx, storage.AuthorizationQuery{ThreadID: threadID, Limit: 20, Desc: true})
		if err != nil {
			return err
		}
		if len(auths) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "Tool\tStatus\tRequested\tReason")
			fmt.Fprintln(w, "----\t------\t---------\t------")
			for _, r := range auths {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ToolName, r.Status, r.RequestedAt.Local().Format(time.DateTime), r.Reason)
			}
			return w.Flush()
		}
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>...",
	Short: "删除对话线程",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.checkpoints.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete thread %s: %w", id, err)
			}
			fmt.Printf("Deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd, threadsDeleteCmd)

	threadsListCmd.Flags().StringVar(&threadsStatus, "status", "", "按状态过滤: running/awaiting_authorization/finished/authorization_failed/iteration_limit")
	threadsListCmd.Flags().IntVar(&threadsLimit, "limit", 50, "最多显示的线程数")
}
