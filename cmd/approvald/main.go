// Command approvald watches a mailbox for approval replies and forwards the
// decisions to the workflow API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/approval-watcher/internal/credential"
	"github.com/nhle/approval-watcher/internal/model"
)

func newRootCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "approvald",
		Short:         "Forward emailed approval decisions to the workflow API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", model.DefaultConfigPath(), "Path to the YAML config file")

	cmd.AddCommand(
		newWatchCommand(&cfgPath),
		newSetupCommand(&cfgPath),
		newAuditCommand(&cfgPath),
		newExtractCommand(&cfgPath),
	)
	return cmd
}

// loadConfig reads the file and environment, fills secrets from the
// keyring and, when strict, checks that the watcher can run.
func loadConfig(path string, strict bool) (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	resolveErr := credential.ResolveSecrets(cfg)
	if !strict {
		return cfg, nil
	}

	if err := cfg.Validate(); err != nil {
		if resolveErr != nil {
			return nil, fmt.Errorf("%w (keyring: %v)", err, resolveErr)
		}
		return nil, err
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
