package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/roach88/emagent/internal/agent"
	"github.com/roach88/emagent/internal/config"
	"github.com/roach88/emagent/internal/sealbox"
	"github.com/roach88/emagent/internal/transport"
)

// AgentOptions holds flags for the agent command.
type AgentOptions struct {
	*RootOptions
	Input   string
	AgentID string
}

// NewAgentCommand creates the agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AgentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Relay session events to the collector",
		Long: `Relay newline-delimited JSON events to the collector.

Each input line is {"kind": "...", "data": {...}}. Clipboard content is
hashed, previewed and sealed before it leaves the session. Events are queued
while the collector is unreachable and flushed on reconnect.

Example:
  monitor-feed | emagent agent
  emagent agent --input events.ndjson --agent-id ws-042`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "event file to read (default stdin)")
	cmd.Flags().StringVar(&opts.AgentID, "agent-id", "", "agent identifier (default agent.id or hostname)")

	return cmd
}

func runAgent(opts *AgentOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, closer := setupLogging(opts.RootOptions, cfg, "agent", cmd.ErrOrStderr())
	defer closer.Close()

	var in io.Reader = cmd.InOrStdin()
	if opts.Input != "" && opts.Input != "-" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	client := transport.NewClient(cfg.IPC.Addr(), cfg.IPC.Secret,
		transport.WithQueueCapacity(cfg.IPC.QueueCapacity),
		transport.WithTimeout(cfg.IPC.Timeout),
		transport.WithReconnectDelay(cfg.IPC.ReconnectDelay),
		transport.WithClientLogger(logger.With("component", "transport")),
	)
	if !client.Connect(ctx) {
		logger.Warn("collector not reachable, queueing events", "addr", cfg.IPC.Addr())
	}
	defer client.Disconnect()
	go client.RunReconnect(ctx)

	relayOpts := []agent.Option{
		agent.WithAgentID(resolveAgentID(opts.AgentID, cfg)),
		agent.WithVersion(config.Version),
		agent.WithHeartbeat(cfg.Agent.Heartbeat),
		agent.WithMaxLine(cfg.IPC.MaxFrameSize),
		agent.WithLogger(logger.With("component", "relay")),
	}
	if box, err := sealbox.LoadOrCreate(cfg.Paths.KeyFile); err != nil {
		logger.Warn("clipboard content will not be sealed", "key_file", cfg.Paths.KeyFile, "error", err)
	} else {
		relayOpts = append(relayOpts, agent.WithSealer(box))
	}

	r := agent.New(client, relayOpts...)
	if err := r.Run(ctx, in); err != nil {
		return WrapExitError(ExitFailure, "relay stopped", err)
	}

	// One last flush attempt; the shutdown signal may already have
	// canceled ctx.
	if client.QueueLen() > 0 {
		client.Connect(context.WithoutCancel(ctx))
	}
	if pending := client.QueueLen(); pending > 0 {
		logger.Warn("events still queued, not delivered", "pending", pending, "addr", cfg.IPC.Addr())
	}

	counters := r.Counters()
	logger.Info("relay finished",
		"sent", counters.Sent,
		"queued", counters.Queued,
		"dropped", counters.Dropped,
		"malformed", counters.Malformed,
		"pending", client.QueueLen(),
	)
	return opts.formatter(cmd).Success(counters)
}

func resolveAgentID(flag string, cfg config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Agent.ID != "" {
		return cfg.Agent.ID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("%s-%d", host, unix.Getuid())
	}
	return ""
}
