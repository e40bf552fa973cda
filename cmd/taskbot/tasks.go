package main

import (
	"context"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbot/internal/app"
	"taskbot/internal/config"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tasks", Short: "Inspect the job store without a running server"}
	cmd.AddCommand(tasksListCmd(), tasksAuditCmd())
	return cmd
}

// withStore opens the configured store read-mostly and closes it afterwards.
func withStore(ctx context.Context, fn func(context.Context, storage.Store) error) error {
	cfg, err := config.NewConfigManager(viper.GetString("config"), overrides()).Load()
	if err != nil {
		return err
	}
	st, err := storage.Open(app.StorageConfig(cfg), logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func tasksListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := storage.EventQuery{Limit: limit}
			if strings.TrimSpace(status) != "" {
				st, err := task.ParseStatus(status)
				if err != nil {
					return err
				}
				q.Statuses = []task.Status{st}
			}
			return withStore(cmd.Context(), func(ctx context.Context, s storage.Store) error {
				events, err := s.ListEvents(ctx, q)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Scheduled (UTC)", "Target", "Message"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.Status, ev.ScheduledTime.UTC().Format("2006-01-02 15:04"), ev.Target.ChannelID, clip(ev.Message, 48)})
				}
				tw.AppendFooter(table.Row{"", "", "", "total", len(events)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, completed, failed or cancelled")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows, 0 for all")
	return cmd
}

func tasksAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent recurring and manual executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s storage.Store) error {
				entries, err := s.ListAudit(ctx, limit)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Executed (UTC)", "Target", "Error"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TaskType, e.Status, e.ExecutedAt.UTC().Format("2006-01-02 15:04:05"), e.Target, clip(e.ErrorMessage, 40)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if rs := []rune(s); len(rs) > n {
		return string(rs[:n-1]) + "…"
	}
	return s
}

