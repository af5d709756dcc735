package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wwwzy/ArcadeAgent/internal/arcade"
	"github.com/wwwzy/ArcadeAgent/internal/logging"
)

var toolsToolkits []string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "列出可用的 Arcade 工具",
	Long:  `列出配置的工具集中的所有工具，以及调用前是否需要用户授权。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if err := cfg.ValidateArcade(); err != nil {
			return err
		}
		toolkits := cfg.Arcade.Toolkits
		if len(toolsToolkits) > 0 {
			toolkits = toolsToolkits
		}

		client, err := arcade.NewClient(cfg.Arcade.BaseURL, cfg.Arcade.APIKey,
			arcade.WithTimeout(cfg.Arcade.HTTPTimeout),
			arcade.WithLogger(logging.Component(logger, "arcade")),
		)
		if err != nil {
			return err
		}
		mgr := arcade.NewManager(client, logging.Component(logger, "registry"))
		if err := mgr.Init(ctx, toolkits); err != nil {
			return err
		}

		defs := mgr.Definitions()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Tool\tToolkit\tAuth\tDescription")
		fmt.Fprintln(w, "----\t-------\t----\t-----------")
		for _, d := range defs {
			auth := "-"
			if d.RequiresAuth() {
				auth = "required"
				if d.Requirements.Authorization.ProviderID != "" {
					auth = d.Requirements.Authorization.ProviderID
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ModelName(), d.Toolkit.Name, auth, firstLine(d.Description))
		}
		w.Flush()
		fmt.Printf("\n%d tools\n", len(defs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().StringSliceVar(&toolsToolkits, "toolkit", nil, "只列出指定工具集（默认取 arcade.toolkits）")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
