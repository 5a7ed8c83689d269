// Package stdout implements a Transport that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/djshoppre/emailq/internal/email"
)

const separator = "========================================\n"

// Transport prints messages in a human-readable format and hands out
// locally generated message ids.
type Transport struct {
	// mu serializes writes so concurrent bulk sends do not interleave.
	mu     sync.Mutex
	writer io.Writer
}

// New creates a new stdout Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Transport that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Send prints the structured message.
func (p *Transport) Send(_ context.Context, msg *email.Email) (string, error) {
	id := email.NewMessageID()

	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-Id: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
	}
	if msg.Template != "" {
		fmt.Fprintf(&b, "Template: %s\n", msg.Template)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HtmlBody
	}
	b.WriteString(body + "\n")
	b.WriteString(separator)

	return id, p.write(b.String())
}

// SendRaw prints the envelope followed by the raw message.
func (p *Transport) SendRaw(_ context.Context, msg *email.RawMessage) (string, error) {
	id := email.NewMessageID()

	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-Id: %s\n", id)
	fmt.Fprintf(&b, "Envelope-From: %s\n", msg.Envelope.From)
	fmt.Fprintf(&b, "Envelope-To: %s\n", strings.Join(msg.Envelope.Recipients(), ", "))
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(msg.Raw)))
	b.WriteString("\n")
	b.Write(msg.Raw)
	if !strings.HasSuffix(string(msg.Raw), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(separator)

	return id, p.write(b.String())
}

// Name returns the transport name.
func (p *Transport) Name() string {
	return "stdout"
}

func (p *Transport) write(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprint(p.writer, s); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
