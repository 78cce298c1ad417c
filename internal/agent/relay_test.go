package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/emagent/internal/sealbox"
	"github.com/roach88/emagent/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMsg struct {
	kind    string
	payload map[string]any
}

// fakeSender records messages and answers with result.
type fakeSender struct {
	mu     sync.Mutex
	msgs   []sentMsg
	result transport.SendResult
}

func (f *fakeSender) Send(kind string, payload map[string]any) transport.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{kind, payload})
	if f.result == 0 {
		return transport.Sent
	}
	return f.result
}

func (f *fakeSender) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.kind)
	}
	return out
}

type failingSealer struct{}

func (failingSealer) Encrypt([]byte) (string, error) { return "", errors.New("no key") }

func TestProcess_ForwardsEvents(t *testing.T) {
	s := &fakeSender{}
	r := New(s, WithLogger(quietLogger()))

	require.NoError(t, r.Process([]byte(`{"kind":"app_usage","data":{"app_name":"code.exe","duration_seconds":3}}`)))
	require.NoError(t, r.Process([]byte(`{"kind":"screenshot"}`)))
	require.NoError(t, r.Process([]byte("   ")))

	require.Len(t, s.msgs, 2)
	assert.Equal(t, "app_usage", s.msgs[0].kind)
	assert.Equal(t, map[string]any{"app_name": "code.exe", "duration_seconds": float64(3)}, s.msgs[0].payload)
	assert.Equal(t, map[string]any{}, s.msgs[1].payload)
	assert.Equal(t, int64(2), r.Counters().Sent)
}

func TestProcess_Malformed(t *testing.T) {
	r := New(&fakeSender{}, WithLogger(quietLogger()))

	assert.Error(t, r.Process([]byte(`not json`)))
	assert.Error(t, r.Process([]byte(`{"data":{}}`)))
	assert.Error(t, r.Process([]byte(`{"kind":"clipboard","data":{"content":7}}`)))
}

func TestProcess_ClipboardEnrichment(t *testing.T) {
	box, err := sealbox.Generate()
	require.NoError(t, err)
	s := &fakeSender{}
	r := New(s, WithSealer(box), WithLogger(quietLogger()))

	content := strings.Repeat("é", PreviewRunes+50)
	line := `{"kind":"clipboard","data":{"content":"` + content + `","source_app":"notepad.exe"}}`
	require.NoError(t, r.Process([]byte(line)))

	require.Len(t, s.msgs, 1)
	p := s.msgs[0].payload
	assert.NotContains(t, p, "content")
	assert.Equal(t, "notepad.exe", p["source_app"])
	assert.Equal(t, "text", p["content_type"])
	assert.Equal(t, strings.Repeat("é", PreviewRunes), p["content_preview"])

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), p["content_hash"])

	token, ok := p["encrypted_content"].(string)
	require.True(t, ok)
	plain, err := box.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, content, string(plain))
}

func TestProcess_ClipboardShortPreviewAndDuplicates(t *testing.T) {
	s := &fakeSender{}
	r := New(s, WithLogger(quietLogger()))

	require.NoError(t, r.Process([]byte(`{"kind":"clipboard","data":{"content":"hi","content_type":"url"}}`)))
	require.NoError(t, r.Process([]byte(`{"kind":"clipboard","data":{"content":"hi"}}`)))
	require.NoError(t, r.Process([]byte(`{"kind":"clipboard","data":{"content":"bye"}}`)))

	require.Len(t, s.msgs, 2)
	assert.Equal(t, "hi", s.msgs[0].payload["content_preview"])
	assert.Equal(t, "url", s.msgs[0].payload["content_type"])
	assert.NotContains(t, s.msgs[0].payload, "encrypted_content")
	assert.Equal(t, "bye", s.msgs[1].payload["content_preview"])
	assert.Equal(t, int64(1), r.Counters().Duplicates)
}

func TestProcess_SealerFailureStillSends(t *testing.T) {
	s := &fakeSender{}
	r := New(s, WithSealer(failingSealer{}), WithLogger(quietLogger()))

	require.NoError(t, r.Process([]byte(`{"kind":"clipboard","data":{"content":"secret"}}`)))
	require.Len(t, s.msgs, 1)
	assert.NotContains(t, s.msgs[0].payload, "encrypted_content")
	assert.NotContains(t, s.msgs[0].payload, "content")
}

func TestCounters(t *testing.T) {
	s := &fakeSender{result: transport.Queued}
	r := New(s, WithLogger(quietLogger()))
	require.NoError(t, r.Process([]byte(`{"kind":"app_usage","data":{}}`)))
	s.result = transport.Dropped
	require.NoError(t, r.Process([]byte(`{"kind":"app_usage","data":{}}`)))
	assert.Equal(t, Counters{Queued: 1, Dropped: 1}, r.Counters())
}

func TestPing(t *testing.T) {
	s := &fakeSender{}
	r := New(s, WithAgentID("agent-7"), WithVersion("2.0.0"), WithLogger(quietLogger()))

	assert.Equal(t, transport.Sent, r.Ping())
	require.Len(t, s.msgs, 1)
	assert.Equal(t, "ping", s.msgs[0].kind)
	assert.Equal(t, map[string]any{"agent_id": "agent-7", "version": "2.0.0"}, s.msgs[0].payload)
}

func TestRun_ReadsUntilEOF(t *testing.T) {
	s := &fakeSender{}
	r := New(s, WithLogger(quietLogger()))

	in := strings.NewReader(strings.Join([]string{
		`{"kind":"app_usage","data":{"app_name":"a"}}`,
		`garbage`,
		``,
		`{"kind":"screenshot","data":{"filepath":"/x.jpg"}}`,
	}, "\n"))
	require.NoError(t, r.Run(context.Background(), in))

	assert.Equal(t, []string{"app_usage", "screenshot"}, s.kinds())
	assert.Equal(t, int64(1), r.Counters().Malformed)
}

func TestRun_LineTooLong(t *testing.T) {
	r := New(&fakeSender{}, WithMaxLine(64<<10), WithLogger(quietLogger()))
	err := r.Run(context.Background(), strings.NewReader(strings.Repeat("x", 128<<10)))
	require.Error(t, err)
}

func TestRun_HeartbeatAndCancel(t *testing.T) {
	s := &fakeSender{}
	r := New(s, WithHeartbeat(10*time.Millisecond), WithLogger(quietLogger()))

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, pr) }()

	require.Eventually(t, func() bool {
		for _, k := range s.kinds() {
			if k == "ping" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRelay_EndToEnd(t *testing.T) {
	received := make(chan map[string]any, 4)
	srv := transport.NewServer("secret", transport.WithLogger(quietLogger()))
	srv.RegisterHandler("app_usage", func(_ context.Context, p map[string]any) error {
		received <- p
		return nil
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	addr := srv.Addr().(*net.TCPAddr).String()
	client := transport.NewClient(addr, "secret", transport.WithClientLogger(quietLogger()))
	require.True(t, client.Connect(context.Background()))
	defer client.Disconnect()

	r := New(client, WithLogger(quietLogger()))
	require.NoError(t, r.Run(context.Background(), strings.NewReader(`{"kind":"app_usage","data":{"app_name":"code.exe"}}`+"\n")))

	select {
	case p := <-received:
		assert.Equal(t, "code.exe", p["app_name"])
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not receive the event")
	}
	assert.Equal(t, int64(1), r.Counters().Sent)
}
