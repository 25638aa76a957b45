package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/store"
	"github.com/nhle/approval-watcher/internal/theme"
)

type auditOptions struct {
	limit     int
	requestID string
	dbPath    string
}

func newAuditCommand(cfgPath *string) *cobra.Command {
	var opts auditOptions

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List journaled calls to the workflow API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dbPath == "" {
				cfg, err := loadConfig(*cfgPath, false)
				if err != nil {
					return err
				}
				opts.dbPath = cfg.Audit.DBPath
			}
			return runAudit(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Number of calls to show")
	cmd.Flags().StringVarP(&opts.requestID, "request", "r", "", "Only show calls for this request id")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Journal database (defaults to audit.db_path)")

	return cmd
}

func runAudit(ctx context.Context, w io.Writer, opts auditOptions) error {
	if opts.dbPath == "" {
		return errors.New("no journal configured: set audit.db_path or pass --db")
	}

	st, err := store.NewSQLiteStore(opts.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var calls []model.ExternalCall
	if opts.requestID != "" {
		calls, err = st.CallsForRequest(ctx, opts.requestID)
	} else {
		calls, err = st.RecentCalls(ctx, opts.limit)
	}
	if err != nil {
		return err
	}

	if len(calls) == 0 {
		_, err := fmt.Fprintln(w, "No calls recorded.")
		return err
	}
	_, err = fmt.Fprintln(w, renderCalls(calls))
	return err
}

func renderCalls(calls []model.ExternalCall) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers("STARTED", "REQUEST", "OUTCOME", "STATUS", "DURATION", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return cell.Bold(true).Foreground(theme.ColorGray)
			case col == 2:
				return theme.OutcomeStyle(calls[row].Outcome).Padding(0, 1)
			}
			return cell
		})

	for _, c := range calls {
		status := "-"
		if c.StatusCode != 0 {
			status = strconv.Itoa(c.StatusCode)
		}
		t.Row(
			c.StartedAt.Local().Format(time.DateTime),
			c.RequestID,
			c.Outcome,
			status,
			c.Duration.Round(time.Millisecond).String(),
			c.Error,
		)
	}
	return t.Render()
}
