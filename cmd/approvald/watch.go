package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/audit"
	"github.com/nhle/approval-watcher/internal/forward"
	"github.com/nhle/approval-watcher/internal/keys"
	"github.com/nhle/approval-watcher/internal/logging"
	"github.com/nhle/approval-watcher/internal/mailbox"
	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/pipeline"
	"github.com/nhle/approval-watcher/internal/server"
	"github.com/nhle/approval-watcher/internal/store"
	"github.com/nhle/approval-watcher/internal/ui/status"
	"github.com/nhle/approval-watcher/internal/watcher"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

// feedSize is how many calls the dashboard lists.
const feedSize = 50

func newWatchCommand(cfgPath *string) *cobra.Command {
	var tui bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the mailbox and forward decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), *cfgPath, tui)
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "Show the terminal dashboard instead of logging to stdout")

	return cmd
}

func policyFrom(cfg model.ReconnectConfig) watcher.Policy {
	return watcher.Policy{
		BaseDelay:        cfg.BaseDelay,
		MaxDelay:         cfg.MaxDelay,
		MaxAttempts:      cfg.MaxAttempts,
		Cooldown:         cfg.Cooldown,
		UnreachableRetry: cfg.UnreachableRetry,
	}
}

func runWatch(ctx context.Context, cfgPath string, tui bool) (err error) {
	cfg, err := loadConfig(cfgPath, true)
	if err != nil {
		return err
	}

	var logOpts []logging.Option
	if tui {
		logOpts = append(logOpts, logging.WithoutStdout())
	}
	logger, err := logging.New(cfg.Log, logOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	feed := audit.NewFeed(feedSize)
	sinks := audit.Multi{audit.NewLogSink(logger), feed}
	if cfg.Audit.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.Audit.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		sinks = append(sinks, audit.NewJournal(st, logger))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := forward.NewClient(cfg.API.URL, cfg.API.Token, cfg.API.Timeout, sinks, logger)
	proc := pipeline.NewProcessor(client, sinks, logger)
	pool := pipeline.NewPool(ctx, proc, cfg.Workers.Count, cfg.Workers.Queue, logger)

	imapClient := mailbox.NewIMAPClient(cfg.Credentials(), logger)
	dialer := mailbox.NewDialer(imapClient, mailbox.WatchOptions{
		IdleRefresh:  cfg.IMAP.IdleRefresh,
		PollInterval: cfg.IMAP.PollInterval,
		DisableIdle:  cfg.IMAP.DisableIdle,
	})
	sup := watcher.NewSupervisor(dialer, pool.Submit,
		watcher.Options{
			Policy:           policyFrom(cfg.Reconnect),
			LivenessInterval: cfg.Reconnect.LivenessInterval,
			ProbeTimeout:     cfg.Reconnect.ProbeTimeout,
			Logger:           logger,
		},
	)

	srv, err := server.New(cfg.HTTP, sup, proc, logger)
	if err != nil {
		return err
	}

	logger.Info("starting approval watcher",
		zap.String("imap", cfg.Credentials().Addr()),
		zap.String("username", cfg.IMAP.Username),
		logging.Secret("password", cfg.IMAP.Password),
		zap.String("api_url", cfg.API.URL),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Start() }()

	if tui {
		m := status.New(sup, feed, keys.DefaultKeyMap(), cfg.IMAP.Mailbox)
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, tuiErr := p.Run(); tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
			err = fmt.Errorf("running dashboard: %w", tuiErr)
		}
	} else {
		select {
		case <-ctx.Done():
		case srvErr := <-srvDone:
			if srvErr != nil {
				err = fmt.Errorf("http server: %w", srvErr)
			}
		}
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown", zap.Error(shutdownErr))
	}

	<-supDone
	pool.Close()
	return err
}
