// Package sealbox seals small payloads (clipboard content) into opaque
// base64 tokens using an age X25519 identity kept in a local key file.
package sealbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Box encrypts to and decrypts with a single identity.
type Box struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// New wraps an existing identity.
func New(identity *age.X25519Identity) *Box {
	return &Box{identity: identity, recipient: identity.Recipient()}
}

// Generate creates a box with a fresh identity that is not persisted.
func Generate() (*Box, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return New(identity), nil
}

// Load reads the identity stored at keyPath.
func Load(keyPath string) (*Box, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", keyPath, err)
	}
	return New(identity), nil
}

// LoadOrCreate reads the identity stored at keyPath, generating and writing
// a new one (mode 0600) when the file does not exist.
func LoadOrCreate(keyPath string) (*Box, error) {
	box, err := Load(keyPath)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return box, err
	}

	box, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(box.identity.String() + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return box, nil
}

// Recipient returns the public key (age1...) tokens are sealed to.
func (b *Box) Recipient() string {
	return b.recipient.String()
}

// Encrypt seals plaintext and returns it as a standard base64 token.
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, b.recipient)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt opens a token produced by Encrypt.
func (b *Box) Decrypt(token string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), b.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
