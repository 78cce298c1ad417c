// Package config builds the immutable runtime configuration shared by the
// collector and agent processes.
//
// Configuration is assembled once: built-in defaults, overlaid by an optional
// settings file (YAML, or JSON with comments), validated against an embedded
// CUE schema and a few cross-field rules. The resulting Config is a plain
// value passed to every component.
package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Version is the agent version reported to the remote endpoint.
var Version = "2.0.0"

// EnvConfig names the environment variable holding the settings file path.
const EnvConfig = "EMAGENT_CONFIG"

// DefaultBaseDir is the root of all on-disk state.
const DefaultBaseDir = "/var/lib/enterprise-monitoring"

// DefaultSettingsPath is read when neither --config nor EMAGENT_CONFIG names
// a settings file.
var DefaultSettingsPath = filepath.Join(DefaultBaseDir, "config", "settings.json")

// Config is the full runtime configuration.
type Config struct {
	BaseDir   string
	IPC       IPC
	Sync      Sync
	Retention Retention
	Export    Export
	Agent     Agent
	Log       Log
	Paths     Paths
}

// IPC configures the local transport between agent and collector.
type IPC struct {
	Host           string
	Port           int
	Secret         string
	QueueCapacity  int
	ReconnectDelay time.Duration
	Timeout        time.Duration
	MaxFrameSize   int
}

// Addr returns host:port.
func (i IPC) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Sync configures forwarding to the remote endpoint.
type Sync struct {
	Enabled       bool
	Endpoint      string
	APIKey        string
	Interval      time.Duration
	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
	Gzip          bool
}

// Retention configures local cleanup.
type Retention struct {
	Days            int
	CeilingDays     int
	ScreenshotDays  int
	CleanupInterval time.Duration
}

// Window is the retention period for synced rows.
func (r Retention) Window() time.Duration { return days(r.Days) }

// Ceiling is the hard local retention limit. Zero means none.
func (r Retention) Ceiling() time.Duration { return days(r.CeilingDays) }

// ScreenshotWindow is the retention period for screenshot metadata and files.
func (r Retention) ScreenshotWindow() time.Duration { return days(r.ScreenshotDays) }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// Export configures snapshot exports.
type Export struct {
	Format string
	Limit  int
}

// Agent configures the user-session relay.
type Agent struct {
	ID        string
	Heartbeat time.Duration
}

// Log configures the process logger.
type Log struct {
	Level  string
	Format string
}

// Paths locates on-disk state. Relative defaults are resolved under BaseDir.
type Paths struct {
	Database      string
	Logs          string
	Exports       string
	Screenshots   string
	KeyFile       string
	ControlSocket string
}

// Default returns the built-in configuration.
func Default() Config {
	c := Config{
		BaseDir: DefaultBaseDir,
		IPC: IPC{
			Host:           "127.0.0.1",
			Port:           51234,
			Secret:         "ENTERPRISE_MONITOR_SECRET_2024",
			QueueCapacity:  1000,
			ReconnectDelay: 5 * time.Second,
			Timeout:        30 * time.Second,
			MaxFrameSize:   16 << 20,
		},
		Sync: Sync{
			Interval:   300 * time.Second,
			BatchSize:  100,
			RetryDelay: 2 * time.Second,
		},
		Retention: Retention{
			Days:            30,
			CeilingDays:     90,
			ScreenshotDays:  7,
			CleanupInterval: time.Hour,
		},
		Export: Export{Format: "json", Limit: 500},
		Agent:  Agent{Heartbeat: 30 * time.Second},
		Log:    Log{Level: "info", Format: "text"},
	}
	c.Paths = resolvePaths(c.BaseDir, Paths{})
	return c
}

// resolvePaths fills every empty path with its default under base.
func resolvePaths(base string, p Paths) Paths {
	def := func(v string, rel ...string) string {
		if v != "" {
			return v
		}
		return filepath.Join(append([]string{base}, rel...)...)
	}
	return Paths{
		Database:      def(p.Database, "data", "monitoring.db"),
		Logs:          def(p.Logs, "logs"),
		Exports:       def(p.Exports, "exports"),
		Screenshots:   def(p.Screenshots, "data", "screenshots"),
		KeyFile:       def(p.KeyFile, "config", ".encryption_key"),
		ControlSocket: def(p.ControlSocket, "run", "control.sock"),
	}
}
