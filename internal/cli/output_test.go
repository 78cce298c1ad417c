package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/emagent/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]bool{"accepted": true}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"accepted": true}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"socket": "/run/control.sock"}
	require.NoError(t, formatter.Error(CodeControl, "collector not running", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeControl, resp.Error.Code)
	assert.Equal(t, "collector not running", resp.Error.Message)
	assert.Equal(t, map[string]any{"socket": "/run/control.sock"}, resp.Error.Details)
}

func TestOutputFormatter_TextSuccessString(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("copied text"))
	assert.Equal(t, "copied text\n", buf.String())
}

func TestOutputFormatter_TextSuccessFlattensObjects(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(store.Stats{
		Counts:    map[string]int64{"screenshots": 2, "app_usage": 5},
		Unsynced:  map[string]int64{},
		SizeBytes: 4096,
	}))
	assert.Equal(t, "counts.app_usage: 5\ncounts.screenshots: 2\nsize_bytes: 4096\nunsynced: {}\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error(CodeDecrypt, "bad token", map[string]string{"len": "3"}))
	assert.Contains(t, buf.String(), "Error [E_DECRYPT]: bad token")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error(CodeDecrypt, "bad token", map[string]string{"len": "3"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("calling %s", "report_stats")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Equal(t, "calling report_stats\n", diag.String())
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}
