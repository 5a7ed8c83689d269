// Package mbox implements a Transport that appends messages to an mbox file
// instead of delivering them.
package mbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/djshoppre/emailq/internal/email"
)

// Transport appends every message to a single mbox file.
type Transport struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a Transport writing to path. The file is created on first use.
func New(path string) *Transport {
	return &Transport{path: path, now: time.Now}
}

// Send renders the message as MIME and appends it.
func (t *Transport) Send(_ context.Context, msg *email.Email) (string, error) {
	id := email.NewMessageID()
	raw, err := email.BuildMIME(msg, id)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}
	if err := t.append(msg.From, raw); err != nil {
		return "", err
	}
	return id, nil
}

// SendRaw appends the raw message as-is.
func (t *Transport) SendRaw(_ context.Context, msg *email.RawMessage) (string, error) {
	id := email.NewMessageID()
	if err := t.append(msg.Envelope.From, msg.Raw); err != nil {
		return "", err
	}
	return id, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "mbox"
}

func (t *Transport) append(from string, raw []byte) error {
	if parsed, err := mail.ParseAddress(from); err == nil {
		from = parsed.Address
	}
	if from == "" {
		from = "MAILER-DAEMON"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open mbox %s: %w", t.path, err)
	}
	defer f.Close()

	w := mbox.NewWriter(f)
	mw, err := w.CreateMessage(from, t.now())
	if err != nil {
		return fmt.Errorf("failed to start mbox message: %w", err)
	}
	if _, err := mw.Write(raw); err != nil {
		return fmt.Errorf("failed to write mbox message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish mbox message: %w", err)
	}

	slog.Debug("message appended to mbox", "path", t.path, "from", from, "size", len(raw))
	return f.Close()
}
