package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// HeaderSize is the length of the big-endian length prefix.
const HeaderSize = 4

// DefaultMaxFrameSize bounds a single frame body. Screenshot metadata and
// clipboard previews are a few KB; 16 MiB leaves room for encrypted content.
const DefaultMaxFrameSize = 16 << 20

// body is the JSON shape of an Envelope on the wire. Pointer fields let
// DecodeBody tell a missing field from an empty one.
type body struct {
	Kind      *string         `json:"kind"`
	Data      json.RawMessage `json:"data"`
	AuthToken *string         `json:"auth_token"`
	Timestamp *float64        `json:"timestamp"`
}

type outBody struct {
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	AuthToken string         `json:"auth_token"`
	Timestamp float64        `json:"timestamp"`
}

// EncodeBody returns the JSON body of e without the length prefix.
func EncodeBody(e Envelope) ([]byte, error) {
	data := e.payload
	if data == nil {
		data = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(outBody{
		Kind:      e.kind,
		Data:      data,
		AuthToken: e.credential,
		Timestamp: float64(e.createdAt.UnixMicro()) / 1e6,
	}); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Encode returns the complete frame for e: length prefix followed by body.
func Encode(e Envelope) ([]byte, error) {
	b, err := EncodeBody(e)
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) > math.MaxUint32 {
		return nil, fmt.Errorf("encode envelope: body of %d bytes exceeds frame limit", len(b))
	}

	frame := make([]byte, HeaderSize+len(b))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(b)))
	copy(frame[HeaderSize:], b)
	return frame, nil
}

// Decode parses a complete frame produced by Encode.
//
// The length prefix must match the number of body bytes exactly.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) < HeaderSize {
		return Envelope{}, malformed(fmt.Sprintf("frame of %d bytes is shorter than header", len(frame)), nil)
	}
	n := binary.BigEndian.Uint32(frame[:HeaderSize])
	if uint64(n) != uint64(len(frame)-HeaderSize) {
		return Envelope{}, malformed(fmt.Sprintf("length prefix %d does not match body of %d bytes", n, len(frame)-HeaderSize), nil)
	}
	return DecodeBody(frame[HeaderSize:])
}

// DecodeBody parses a frame body (no length prefix) into an Envelope.
//
// kind must be a non-empty string and auth_token must be present. A missing or
// null data field decodes as an empty payload; any other non-object is
// malformed. A missing timestamp decodes as the zero time. Numbers decode as
// int64 when integral and float64 otherwise.
func DecodeBody(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, malformed("empty body", nil)
	}

	var raw body
	if err := json.Unmarshal(b, &raw); err != nil {
		return Envelope{}, malformed("invalid JSON body", err)
	}
	if raw.Kind == nil || *raw.Kind == "" {
		return Envelope{}, malformed("missing required field: kind", nil)
	}
	if raw.AuthToken == nil {
		return Envelope{}, malformed("missing required field: auth_token", nil)
	}

	payload := map[string]any{}
	if len(raw.Data) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Data), []byte("null")) {
		obj, err := decodeObject(raw.Data)
		if err != nil {
			return Envelope{}, malformed("data must be an object", err)
		}
		payload = obj
	}

	var createdAt time.Time
	if raw.Timestamp != nil {
		createdAt = time.UnixMicro(int64(math.Round(*raw.Timestamp * 1e6))).UTC()
	}

	return Envelope{
		kind:       *raw.Kind,
		payload:    payload,
		credential: *raw.AuthToken,
		createdAt:  createdAt,
	}, nil
}

// WriteFrame encodes e and writes the whole frame with a single Write call.
func WriteFrame(w io.Writer, e Envelope) error {
	frame, err := Encode(e)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r.
//
// It returns io.EOF if r is closed cleanly before a header starts and
// io.ErrUnexpectedEOF if the stream ends inside a frame. A zero-length frame,
// a frame larger than maxSize (when maxSize > 0), or an undecodable body yields
// a *FrameError; in every such case the full body has been consumed so the
// next call starts on a frame boundary.
func ReadFrame(r io.Reader, maxSize int) (Envelope, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return Envelope{}, malformed("zero-length frame", nil)
	}
	if maxSize > 0 && uint64(n) > uint64(maxSize) {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return Envelope{}, unexpectedEOF(err)
		}
		return Envelope{}, malformed(fmt.Sprintf("frame of %d bytes exceeds limit of %d", n, maxSize), nil)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return Envelope{}, unexpectedEOF(err)
	}
	return DecodeBody(b)
}

// unexpectedEOF maps a clean EOF inside a frame to io.ErrUnexpectedEOF.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
