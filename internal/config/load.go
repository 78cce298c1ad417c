package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Error reports an invalid settings file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid settings: %v", e.Err)
	}
	return fmt.Sprintf("invalid settings %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvalid reports whether err is a settings validation error.
func IsInvalid(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// document is the settings file shape. Durations are in seconds.
type document struct {
	BaseDir string `json:"base_dir"`
	IPC     struct {
		Host                  string  `json:"host"`
		Port                  int     `json:"port"`
		Secret                string  `json:"secret"`
		QueueCapacity         int     `json:"queue_capacity"`
		ReconnectDelaySeconds float64 `json:"reconnect_delay_seconds"`
		TimeoutSeconds        float64 `json:"timeout_seconds"`
		MaxFrameBytes         int     `json:"max_frame_bytes"`
	} `json:"ipc"`
	Sync struct {
		Enabled           bool    `json:"enabled"`
		Endpoint          string  `json:"endpoint"`
		APIKey            string  `json:"api_key"`
		IntervalSeconds   float64 `json:"interval_seconds"`
		BatchSize         int     `json:"batch_size"`
		RetryAttempts     int     `json:"retry_attempts"`
		RetryDelaySeconds float64 `json:"retry_delay_seconds"`
		Gzip              bool    `json:"gzip"`
	} `json:"sync"`
	Retention struct {
		Days                   int     `json:"days"`
		CeilingDays            int     `json:"ceiling_days"`
		ScreenshotDays         int     `json:"screenshot_days"`
		CleanupIntervalSeconds float64 `json:"cleanup_interval_seconds"`
	} `json:"retention"`
	Export struct {
		Format string `json:"format"`
		Limit  int    `json:"limit"`
	} `json:"export"`
	Agent struct {
		ID               string  `json:"id"`
		HeartbeatSeconds float64 `json:"heartbeat_seconds"`
	} `json:"agent"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
	Paths struct {
		Database      string `json:"database"`
		Logs          string `json:"logs"`
		Exports       string `json:"exports"`
		Screenshots   string `json:"screenshots"`
		KeyFile       string `json:"key_file"`
		ControlSocket string `json:"control_socket"`
	} `json:"paths"`
}

// Load reads the settings file at path over the defaults. An empty path
// falls back to $EMAGENT_CONFIG, then DefaultSettingsPath. A missing file
// yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultSettingsPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read settings: %w", err)
	}

	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return Config{}, err
	}
	return c, nil
}

// Parse builds a Config from settings file content. ext selects the syntax:
// ".json" and ".jsonc" are JSON with comments, anything else is YAML.
func Parse(data []byte, ext string) (Config, error) {
	raw, err := toJSON(data, ext)
	if err != nil {
		return Config{}, &Error{Err: err}
	}
	if err := validateSchema(raw); err != nil {
		return Config{}, &Error{Err: err}
	}

	doc := defaultDocument()
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Config{}, &Error{Err: err}
	}

	c := doc.config()
	if err := c.Validate(); err != nil {
		return Config{}, &Error{Err: err}
	}
	return c, nil
}

// toJSON normalizes settings content to a JSON object.
func toJSON(data []byte, ext string) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}

	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		raw := jsonc.ToJSON(data)
		var probe map[string]any
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		if probe == nil {
			return []byte("{}"), nil
		}
		return raw, nil
	default:
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if m == nil {
			return []byte("{}"), nil
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return raw, nil
	}
}

// validateSchema unifies the settings document with #Settings.
func validateSchema(raw []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))

	value := ctx.CompileBytes(raw, cue.Filename("settings.json"))
	if err := value.Err(); err != nil {
		return err
	}
	return def.Unify(value).Validate(cue.Concrete(true))
}

// Validate checks the rules the schema cannot express.
func (c Config) Validate() error {
	if c.Sync.Enabled {
		if c.Sync.Endpoint == "" {
			return errors.New("sync.endpoint is required when sync is enabled")
		}
		if c.Sync.APIKey == "" {
			return errors.New("sync.api_key is required when sync is enabled")
		}
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"ipc.reconnect_delay_seconds", c.IPC.ReconnectDelay},
		{"ipc.timeout_seconds", c.IPC.Timeout},
		{"sync.interval_seconds", c.Sync.Interval},
		{"retention.cleanup_interval_seconds", c.Retention.CleanupInterval},
		{"agent.heartbeat_seconds", c.Agent.Heartbeat},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.v)
		}
	}
	if c.Retention.CeilingDays > 0 && c.Retention.CeilingDays < c.Retention.Days {
		return fmt.Errorf("retention.ceiling_days (%d) is shorter than retention.days (%d)",
			c.Retention.CeilingDays, c.Retention.Days)
	}
	return nil
}

func defaultDocument() document {
	c := Default()
	var d document
	d.BaseDir = c.BaseDir
	d.IPC.Host = c.IPC.Host
	d.IPC.Port = c.IPC.Port
	d.IPC.Secret = c.IPC.Secret
	d.IPC.QueueCapacity = c.IPC.QueueCapacity
	d.IPC.ReconnectDelaySeconds = c.IPC.ReconnectDelay.Seconds()
	d.IPC.TimeoutSeconds = c.IPC.Timeout.Seconds()
	d.IPC.MaxFrameBytes = c.IPC.MaxFrameSize
	d.Sync.Enabled = c.Sync.Enabled
	d.Sync.IntervalSeconds = c.Sync.Interval.Seconds()
	d.Sync.BatchSize = c.Sync.BatchSize
	d.Sync.RetryAttempts = c.Sync.RetryAttempts
	d.Sync.RetryDelaySeconds = c.Sync.RetryDelay.Seconds()
	d.Retention.Days = c.Retention.Days
	d.Retention.CeilingDays = c.Retention.CeilingDays
	d.Retention.ScreenshotDays = c.Retention.ScreenshotDays
	d.Retention.CleanupIntervalSeconds = c.Retention.CleanupInterval.Seconds()
	d.Export.Format = c.Export.Format
	d.Export.Limit = c.Export.Limit
	d.Agent.HeartbeatSeconds = c.Agent.Heartbeat.Seconds()
	d.Log.Level = c.Log.Level
	d.Log.Format = c.Log.Format
	return d
}

func (d document) config() Config {
	c := Config{
		BaseDir: d.BaseDir,
		IPC: IPC{
			Host:           d.IPC.Host,
			Port:           d.IPC.Port,
			Secret:         d.IPC.Secret,
			QueueCapacity:  d.IPC.QueueCapacity,
			ReconnectDelay: seconds(d.IPC.ReconnectDelaySeconds),
			Timeout:        seconds(d.IPC.TimeoutSeconds),
			MaxFrameSize:   d.IPC.MaxFrameBytes,
		},
		Sync: Sync{
			Enabled:       d.Sync.Enabled,
			Endpoint:      d.Sync.Endpoint,
			APIKey:        d.Sync.APIKey,
			Interval:      seconds(d.Sync.IntervalSeconds),
			BatchSize:     d.Sync.BatchSize,
			RetryAttempts: d.Sync.RetryAttempts,
			RetryDelay:    seconds(d.Sync.RetryDelaySeconds),
			Gzip:          d.Sync.Gzip,
		},
		Retention: Retention{
			Days:            d.Retention.Days,
			CeilingDays:     d.Retention.CeilingDays,
			ScreenshotDays:  d.Retention.ScreenshotDays,
			CleanupInterval: seconds(d.Retention.CleanupIntervalSeconds),
		},
		Export: Export{Format: d.Export.Format, Limit: d.Export.Limit},
		Agent:  Agent{ID: d.Agent.ID, Heartbeat: seconds(d.Agent.HeartbeatSeconds)},
		Log:    Log{Level: d.Log.Level, Format: d.Log.Format},
	}
	c.Paths = resolvePaths(c.BaseDir, Paths{
		Database:      d.Paths.Database,
		Logs:          d.Paths.Logs,
		Exports:       d.Paths.Exports,
		Screenshots:   d.Paths.Screenshots,
		KeyFile:       d.Paths.KeyFile,
		ControlSocket: d.Paths.ControlSocket,
	})
	return c
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
