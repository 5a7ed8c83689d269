// Package smtprelay implements a Transport that relays messages to an
// upstream SMTP server.
package smtprelay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/djshoppre/emailq/internal/email"
)

const defaultTimeout = 30 * time.Second

// Config holds the upstream relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials with TLS (port 465 style) instead of upgrading with
	// STARTTLS.
	ImplicitTLS bool
	Timeout     time.Duration
}

// Transport relays each message over a fresh SMTP connection.
type Transport struct {
	cfg  Config
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// New creates a relay Transport.
func New(cfg Config) *Transport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	t := &Transport{cfg: cfg}
	t.dial = t.dialConn
	return t
}

// Send renders the message as MIME and relays it. The envelope sender is
// the bare From address.
func (t *Transport) Send(ctx context.Context, msg *email.Email) (string, error) {
	id := email.NewMessageID()
	raw, err := email.BuildMIME(msg, id)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	if err := t.relay(ctx, bareAddress(msg.From), bareAddresses(msg.Recipients()), raw); err != nil {
		return "", err
	}
	return id, nil
}

// SendRaw relays the raw bytes unchanged using the given envelope.
func (t *Transport) SendRaw(ctx context.Context, msg *email.RawMessage) (string, error) {
	id := email.NewMessageID()
	if err := t.relay(ctx, bareAddress(msg.Envelope.From), bareAddresses(msg.Envelope.Recipients()), msg.Raw); err != nil {
		return "", err
	}
	return id, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

func (t *Transport) relay(ctx context.Context, from string, to []string, raw []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("smtp relay: no recipients")
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	conn, err := t.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp relay: failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(t.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp relay: handshake failed: %w", err)
	}
	defer client.Close()

	if !t.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
				return fmt.Errorf("smtp relay: STARTTLS failed: %w", err)
			}
		}
	}

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp relay: authentication failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp relay: MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp relay: RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp relay: DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp relay: failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp relay: message rejected: %w", err)
	}

	return client.Quit()
}

func (t *Transport) dialConn(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	if t.cfg.ImplicitTLS {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: t.cfg.Host}}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// bareAddress strips a display name for use in the SMTP envelope.
func bareAddress(addr string) string {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return addr
	}
	return parsed.Address
}

func bareAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, bareAddress(a))
	}
	return out
}
