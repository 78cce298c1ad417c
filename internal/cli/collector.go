package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/emagent/internal/collector"
)

// CollectorOptions holds flags for the collector command.
type CollectorOptions struct {
	*RootOptions
}

// NewCollectorCommand creates the collector command.
func NewCollectorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CollectorOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "collector",
		Short: "Run the collector service",
		Long: `Run the privileged collector service.

The collector listens for agent connections on the local endpoint, stores
every event in SQLite, forwards unsynced records to the configured endpoint
and applies the retention policy. It stops on SIGINT or SIGTERM.

Example:
  emagent collector --config /etc/emagent/settings.yaml
  emagent collector -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollector(opts, cmd)
		},
	}
}

func runCollector(opts *CollectorOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, closer := setupLogging(opts.RootOptions, cfg, "collector", cmd.ErrOrStderr())
	defer closer.Close()

	c, err := collector.New(cfg, collector.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	if err := c.Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start collector", err)
	}
	return nil
}
