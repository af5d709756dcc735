package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、按保留策略清理数据和清理审计记录的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "根据配置文件立即执行一次保留策略清理",
	Long: `忽略定时任务间隔，立即执行一次 retention 策略清理：
审计记录、授权记录以及已结束线程的检查点。`,
	RunE: runPrune,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的审计记录。`,
	RunE:  runPruneAudit,
}

var (
	keepAuditCount int
	keepAuditDays  int
)

func init() {
	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneCmd)
	storageCmd.AddCommand(pruneAuditCmd)
}

func runPruneAudit(cmd *cobra.Command, args []string) error {
	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		_ = cmd.Usage()
		return fmt.Errorf("must specify either --keep or --days")
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("Opening database...")
	a, err := newApp(ctx, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var deletedCount int64

	if keepAuditCount > 0 {
		fmt.Printf("Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := a.store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("pruning by count: %w", err)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Printf("Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := a.store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("pruning by days: %w", err)
		}
		deletedCount += count
	}

	fmt.Printf("Prune completed. Deleted %d records.\n", deletedCount)

	if count, err := a.store.CountAuditRecords(ctx); err == nil {
		fmt.Printf("Remaining Audit Records: %d\n", count)
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("Opening database...")
	a, err := newApp(ctx, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	collector, err := a.retentionCollector()
	if err != nil {
		return err
	}

	r := cfg.Retention
	fmt.Println("Starting prune job (this may take a while)...")
	fmt.Printf("Policy: audit %dd, authorizations %dd, checkpoints %dd (<= 0 keeps everything)\n",
		r.AuditKeepDays, r.AuthorizationKeepDays, r.CheckpointKeepDays)

	report, err := collector.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	fmt.Printf("Prune completed. Deleted %d audit, %d authorization, %d checkpoint rows.\n",
		report.Audit, report.Authorizations, report.Checkpoints)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	// 1. 获取数据库文件信息
	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	switch info, err := os.Stat(dbPath); {
	case cfg.Storage.InMemory:
		dbSizeStr = "in-memory"
	case os.IsNotExist(err):
		dbSizeStr = "Not Found (Will be created on first run)"
	case err != nil:
		dbSizeStr = fmt.Sprintf("Error: %v", err)
	default:
		sizeMB := float64(info.Size()) / 1024 / 1024
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
	}

	// 2. 连接数据库
	a, err := newApp(ctx, logger, false)
	if err != nil {
		fmt.Printf("Database File: %s\n", dbSizeStr)
		return err
	}
	defer a.Close()

	// 3. 获取统计信息
	checkpointCount, err := a.store.CountCheckpoints(ctx)
	if err != nil {
		fmt.Printf("Error counting checkpoints: %v\n", err)
	}
	authCount, err := a.store.CountAuthorizationRecords(ctx)
	if err != nil {
		fmt.Printf("Error counting authorization records: %v\n", err)
	}
	auditCount, err := a.store.CountAuditRecords(ctx)
	if err != nil {
		fmt.Printf("Error counting audit records: %v\n", err)
	}

	// 4. 格式化输出
	fmt.Printf("Database File:      %s\n", dbSizeStr)
	fmt.Printf("Checkpoint Backend: %s\n\n", cfg.Checkpoint.Backend)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "Checkpoints\t%d\n", checkpointCount)
	fmt.Fprintf(w, "AuthorizationRecords\t%d\n", authCount)
	fmt.Fprintf(w, "AuditRecords\t%d\n", auditCount)
	return w.Flush()
}
