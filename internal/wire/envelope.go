package wire

import (
	"maps"
	"reflect"
	"time"
)

// Kinds consumed by the collector. The transport itself accepts any non-empty
// kind; these are the ones that have registered handlers.
const (
	KindScreenshot = "screenshot"
	KindClipboard  = "clipboard"
	KindAppUsage   = "app_usage"
	KindPing       = "ping"
	KindCommand    = "command"
)

// Envelope is one typed message on the local transport.
//
// Envelopes are immutable: fields are only set by NewEnvelope or DecodeBody,
// and Payload returns a copy of the top-level map.
type Envelope struct {
	kind       string
	payload    map[string]any
	credential string
	createdAt  time.Time
}

// NewEnvelope builds an Envelope. A nil payload becomes an empty object.
//
// The payload is normalized to its decoded JSON form: integral numbers become
// int64, other numbers float64, slices []any and nested objects map[string]any.
//
// createdAt is stored in UTC at microsecond precision, which is what survives
// the JSON number on the wire. It is informational only and never used for
// ordering or expiry.
func NewEnvelope(kind string, payload map[string]any, credential string, createdAt time.Time) Envelope {
	return Envelope{
		kind:       kind,
		payload:    canonicalPayload(payload),
		credential: credential,
		createdAt:  createdAt.UTC().Truncate(time.Microsecond),
	}
}

// Kind selects the handler on the receiving side.
func (e Envelope) Kind() string { return e.kind }

// Payload returns a shallow copy of the message data.
func (e Envelope) Payload() map[string]any {
	p := make(map[string]any, len(e.payload))
	maps.Copy(p, e.payload)
	return p
}

// Credential is the shared secret presented by the sender.
func (e Envelope) Credential() string { return e.credential }

// CreatedAt is the sender's construction time.
func (e Envelope) CreatedAt() time.Time { return e.createdAt }

// Equal reports whether two envelopes carry the same kind, payload,
// credential and creation instant.
func (e Envelope) Equal(other Envelope) bool {
	return e.kind == other.kind &&
		e.credential == other.credential &&
		e.createdAt.Equal(other.createdAt) &&
		reflect.DeepEqual(e.payload, other.payload)
}
