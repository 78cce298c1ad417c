package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/emagent/internal/control"
	"github.com/roach88/emagent/internal/dispatch"
	"github.com/roach88/emagent/internal/export"
	"github.com/roach88/emagent/internal/store"
)

// CtlOptions holds flags for the ctl command.
type CtlOptions struct {
	*RootOptions
	Socket  string
	Timeout time.Duration
}

// NewCtlCommand creates the ctl command and its action subcommands.
func NewCtlCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CtlOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Send a command to the running collector",
		Long: `Send a command to the running collector over its control socket.

Example:
  emagent ctl sync
  emagent ctl stats --format json`,
	}

	cmd.PersistentFlags().StringVar(&opts.Socket, "socket", "", "control socket (default paths.control_socket)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "how long to wait for the collector")

	cmd.AddCommand(ctlAction(opts, "sync", "Start a sync pass now", dispatch.CommandSyncNow,
		func() any { return &dispatch.SyncTriggered{} }))
	cmd.AddCommand(ctlAction(opts, "export", "Write a snapshot of recent records", dispatch.CommandExportNow,
		func() any { return &export.Result{} }))
	cmd.AddCommand(ctlAction(opts, "stats", "Show store statistics", dispatch.CommandReportStats,
		func() any { return &store.Stats{} }))

	return cmd
}

func ctlAction(opts *CtlOptions, use, short, action string, result func() any) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCtl(opts, cmd, action, result())
		},
	}
}

func runCtl(opts *CtlOptions, cmd *cobra.Command, action string, out any) error {
	f := opts.formatter(cmd)

	socket := opts.Socket
	if socket == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			_ = f.Error(CodeInvalidSettings, err.Error(), nil)
			return err
		}
		socket = cfg.Paths.ControlSocket
	}
	f.VerboseLog("calling %s on %s", action, socket)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	if err := control.Call(ctx, socket, action, out); err != nil {
		_ = f.Error(CodeControl, err.Error(), map[string]string{"socket": socket})
		return WrapExitError(ExitFailure, "control call failed", err)
	}
	return f.Success(out)
}
