package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/audit"
	"github.com/nhle/approval-watcher/internal/forward"
	"github.com/nhle/approval-watcher/internal/logging"
	"github.com/nhle/approval-watcher/internal/mailbox"
	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/pipeline"
)

type extractOptions struct {
	eml     bool
	forward bool
}

// extractOutput is what the extract command prints.
type extractOutput struct {
	Event     model.DecisionEvent `json:"event"`
	Empty     bool                `json:"empty,omitempty"`
	Forwarded bool                `json:"forwarded"`
	Error     string              `json:"error,omitempty"`
}

func newExtractCommand(cfgPath *string) *cobra.Command {
	var opts extractOptions

	cmd := &cobra.Command{
		Use:   "extract [file|-]",
		Short: "Parse one reply and print the decision event",
		Long: "Parse one reply body, or a full message with --eml, and print the\n" +
			"decision event as JSON. Reads stdin when no file or - is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}
			raw, err := readInput(cmd.InOrStdin(), name)
			if err != nil {
				return err
			}

			var fwd pipeline.Forwarder
			logger := zap.NewNop()
			if opts.forward {
				cfg, err := loadConfig(*cfgPath, true)
				if err != nil {
					return err
				}
				logger, err = logging.New(cfg.Log, logging.WithoutStdout())
				if err != nil {
					return err
				}
				defer func() { _ = logging.Sync(logger) }()
				fwd = forward.NewClient(cfg.API.URL, cfg.API.Token, cfg.API.Timeout,
					audit.NewLogSink(logger), logger)
			}

			msg := model.RawMessage{TextBody: string(raw)}
			if opts.eml {
				msg = mailbox.ParseMessage(raw)
			}

			res := pipeline.NewProcessor(fwd, audit.NewLogSink(logger), logger).
				Process(cmd.Context(), msg)

			out := extractOutput{Event: res.Event, Empty: res.Empty, Forwarded: res.Forwarded}
			if res.ForwardErr != nil {
				out.Error = res.ForwardErr.Error()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&opts.eml, "eml", false, "Input is a full RFC 5322 message")
	cmd.Flags().BoolVar(&opts.forward, "forward", false, "Also post the event to the workflow API")

	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}
