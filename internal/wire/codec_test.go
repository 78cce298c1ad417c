package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 9, 14, 30, 15, 123456789, time.UTC)

func rawFrame(body string) []byte {
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"empty payload", NewEnvelope(KindPing, nil, "secret", testTime)},
		{"flat payload", NewEnvelope(KindPing, map[string]any{"agent_id": "abc"}, "secret", testTime)},
		{"nested payload", NewEnvelope(KindScreenshot, map[string]any{
			"filepath":        "/data/screenshots/screenshot_20240309_143015.jpg",
			"file_size_bytes": float64(48213),
			"resolution":      "960x540",
			"tags":            []any{"primary", true, nil},
			"window":          map[string]any{"title": "Report <draft> & notes", "app": "WINWORD.EXE"},
		}, "secret", testTime)},
		{"unicode", NewEnvelope(KindClipboard, map[string]any{"content_preview": "héllo wörld ✓"}, "sécret", testTime)},
		{"zero time", NewEnvelope(KindCommand, map[string]any{"command": "sync_now"}, "s", time.Time{})},
		{"empty credential", NewEnvelope(KindPing, nil, "", testTime)},
		{"integers", NewEnvelope(KindAppUsage, map[string]any{
			"duration_seconds": 5,
			"large":            int64(1) << 60,
			"negative":         int32(-7),
			"counts":           []int{1, 2, 3},
		}, "secret", testTime)},
		{"typed slices and maps", NewEnvelope(KindScreenshot, map[string]any{
			"tags":  []string{"primary", "secondary"},
			"sizes": map[string]int{"w": 1920, "h": 1080},
			"ratio": 1.5,
		}, "secret", testTime)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.env)
			require.NoError(t, err)

			got, err := Decode(frame)
			require.NoError(t, err)
			assert.True(t, tc.env.Equal(got), "round trip mismatch: want %+v, got %+v", tc.env, got)
			assert.Equal(t, tc.env.Payload(), got.Payload())
			assert.True(t, tc.env.CreatedAt().Equal(got.CreatedAt()))
		})
	}
}

func TestNewEnvelope_CanonicalNumbers(t *testing.T) {
	env := NewEnvelope(KindAppUsage, map[string]any{
		"int":      5,
		"whole":    float64(48213),
		"fraction": 12.5,
		"large":    int64(1) << 60,
		"huge":     1e20,
		"list":     []string{"a"},
	}, "s", testTime)

	assert.Equal(t, map[string]any{
		"int":      int64(5),
		"whole":    int64(48213),
		"fraction": 12.5,
		"large":    int64(1) << 60,
		"huge":     1e20,
		"list":     []any{"a"},
	}, env.Payload())
}

func TestDecode_ReencodeIsStable(t *testing.T) {
	got, err := DecodeBody([]byte(`{"kind":"ping","data":{"a":5.0,"b":1152921504606846976,"c":[1,2.25]},"auth_token":"s","timestamp":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(5), "b": int64(1) << 60, "c": []any{int64(1), 2.25}}, got.Payload())

	frame, err := Encode(got)
	require.NoError(t, err)
	again, err := Decode(frame)
	require.NoError(t, err)
	assert.True(t, got.Equal(again))
}

func TestEncode_WireShape(t *testing.T) {
	env := NewEnvelope(KindPing, map[string]any{"agent_id": "abc"}, "secret", time.Unix(1700000000, 500000000))

	frame, err := Encode(env)
	require.NoError(t, err)

	want := `{"kind":"ping","data":{"agent_id":"abc"},"auth_token":"secret","timestamp":1700000000.5}`
	assert.Equal(t, uint32(len(want)), binary.BigEndian.Uint32(frame[:HeaderSize]))
	assert.Equal(t, want, string(frame[HeaderSize:]))
}

func TestNewEnvelope_CopiesPayload(t *testing.T) {
	payload := map[string]any{"agent_id": "abc"}
	env := NewEnvelope(KindPing, payload, "secret", testTime)

	payload["agent_id"] = "mutated"
	assert.Equal(t, "abc", env.Payload()["agent_id"])

	view := env.Payload()
	view["agent_id"] = "also mutated"
	assert.Equal(t, "abc", env.Payload()["agent_id"])
}

func TestNewEnvelope_MicrosecondUTC(t *testing.T) {
	local := time.Date(2024, 3, 9, 16, 30, 15, 123456789, time.FixedZone("EET", 2*3600))
	env := NewEnvelope(KindPing, nil, "s", local)

	assert.Equal(t, time.UTC, env.CreatedAt().Location())
	assert.Equal(t, 123456000, env.CreatedAt().Nanosecond())
}

func TestDecodeBody_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":              ``,
		"not json":           `not json`,
		"array body":         `[1,2,3]`,
		"null body":          `null`,
		"missing kind":       `{"data":{},"auth_token":"s","timestamp":1}`,
		"empty kind":         `{"kind":"","data":{},"auth_token":"s","timestamp":1}`,
		"numeric kind":       `{"kind":5,"data":{},"auth_token":"s","timestamp":1}`,
		"missing auth_token": `{"kind":"ping","data":{},"timestamp":1}`,
		"data is array":      `{"kind":"ping","data":[1],"auth_token":"s"}`,
		"data is string":     `{"kind":"ping","data":"x","auth_token":"s"}`,
		"string timestamp":   `{"kind":"ping","data":{},"auth_token":"s","timestamp":"now"}`,
		"trailing garbage":   `{"kind":"ping","data":{},"auth_token":"s"} extra`,
	}

	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBody([]byte(b))
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "want MalformedFrame, got %v", err)
		})
	}
}

func TestDecodeBody_OptionalFields(t *testing.T) {
	env, err := DecodeBody([]byte(`{"kind":"ping","auth_token":"s"}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Kind())
	assert.Equal(t, map[string]any{}, env.Payload())
	assert.True(t, env.CreatedAt().IsZero())

	env, err = DecodeBody([]byte(`{"kind":"ping","data":null,"auth_token":"s","timestamp":1700000000.25}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, env.Payload())
	assert.Equal(t, int64(1700000000250000), env.CreatedAt().UnixMicro())
}

func TestDecode_LengthMismatch(t *testing.T) {
	frame := rawFrame(`{"kind":"ping","auth_token":"s"}`)

	_, err := Decode(frame[:len(frame)-1])
	assert.True(t, IsMalformed(err))

	_, err = Decode(append(frame, ' '))
	assert.True(t, IsMalformed(err))

	_, err = Decode(frame[:2])
	assert.True(t, IsMalformed(err))
}

func TestReadFrame_PartialReads(t *testing.T) {
	env := NewEnvelope(KindAppUsage, map[string]any{"app_name": "code.exe", "duration_seconds": 12.5}, "secret", testTime)
	frame, err := Encode(env)
	require.NoError(t, err)

	// One byte per Read call: the reader must keep going until the body is complete.
	got, err := ReadFrame(iotest.OneByteReader(bytes.NewReader(frame)), DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.True(t, env.Equal(got))
}

func TestReadFrame_Sequence(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteFrame(&stream, NewEnvelope(KindPing, map[string]any{"n": float64(i)}, "s", testTime)))
	}

	for i := 0; i < 3; i++ {
		got, err := ReadFrame(&stream, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(i), got.Payload()["n"])
	}

	_, err := ReadFrame(&stream, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_Truncated(t *testing.T) {
	frame := rawFrame(`{"kind":"ping","auth_token":"s"}`)

	_, err := ReadFrame(bytes.NewReader(frame[:len(frame)-3]), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(frame[:2]), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_MalformedKeepsStreamAligned(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(rawFrame(`this is not json`))
	stream.Write([]byte{0, 0, 0, 0}) // zero-length frame
	stream.Write(rawFrame(`{"kind":"ping","data":{"big":"` + string(bytes.Repeat([]byte("x"), 200)) + `"},"auth_token":"s"}`))
	require.NoError(t, WriteFrame(&stream, NewEnvelope(KindPing, map[string]any{"agent_id": "abc"}, "s", testTime)))

	for i := 0; i < 3; i++ {
		_, err := ReadFrame(&stream, 128)
		require.Error(t, err)
		assert.True(t, IsMalformed(err), "frame %d: %v", i, err)
	}

	got, err := ReadFrame(&stream, 128)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Payload()["agent_id"])
}

func TestWriteFrame_SingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, NewEnvelope(KindPing, nil, "s", testTime)))
	assert.Equal(t, 1, w.writes)
}

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}
