package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/roach88/emagent/internal/store"
)

// DefaultHTTPTimeout bounds one batch submission.
const DefaultHTTPTimeout = 30 * time.Second

// Request headers sent with every batch.
const (
	HeaderClientVersion = "X-Client-Version"
	HeaderClientID      = "X-Client-ID"
)

// requestBody is the remote sync request document.
type requestBody struct {
	DataType string         `json:"data_type"`
	Records  []store.Record `json:"records"`
}

// EncodeBatch returns the JSON request body for b.
func EncodeBatch(b Batch) ([]byte, error) {
	records := b.Records
	if records == nil {
		records = []store.Record{}
	}
	data, err := json.Marshal(requestBody{DataType: string(b.Class), Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// HTTPRemote submits batches to the central ingestion endpoint.
//
// Only a 200 response counts as acceptance of the full batch. The response
// body is drained and ignored.
type HTTPRemote struct {
	endpoint  string
	apiKey    string
	clientID  string
	version   string
	userAgent string
	gzip      bool
	client    *http.Client
}

// RemoteOption configures an HTTPRemote.
type RemoteOption func(*HTTPRemote)

// WithHTTPClient replaces the HTTP client. Default: a client with a 30s timeout.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *HTTPRemote) {
		if c != nil {
			r.client = c
		}
	}
}

// WithGzip compresses request bodies and sets Content-Encoding: gzip.
func WithGzip(enabled bool) RemoteOption {
	return func(r *HTTPRemote) {
		r.gzip = enabled
	}
}

// NewHTTPRemote creates a remote for endpoint. apiKey is sent as a bearer
// token; clientID and version identify this installation.
func NewHTTPRemote(endpoint, apiKey, clientID, version string, opts ...RemoteOption) *HTTPRemote {
	r := &HTTPRemote{
		endpoint:  endpoint,
		apiKey:    apiKey,
		clientID:  clientID,
		version:   version,
		userAgent: "emagent/" + version,
		client:    &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit posts b and reports whether the remote accepted it.
func (r *HTTPRemote) Submit(ctx context.Context, b Batch) error {
	body, err := EncodeBatch(b)
	if err != nil {
		return err
	}

	if r.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set(HeaderClientVersion, r.version)
	req.Header.Set(HeaderClientID, r.clientID)
	if r.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &RemoteError{Code: ErrCodeRemoteRejected, DataType: string(b.Class), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return &RemoteError{Code: ErrCodeRemoteRejected, Status: resp.StatusCode, DataType: string(b.Class)}
	}
	return nil
}
