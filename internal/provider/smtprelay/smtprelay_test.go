package smtprelay

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/djshoppre/emailq/internal/email"
	"github.com/djshoppre/emailq/internal/provider"
)

var _ provider.Transport = (*Transport)(nil)

// fakeServer speaks just enough SMTP to accept one message.
type fakeServer struct {
	mu       sync.Mutex
	from     string
	rcpts    []string
	data     string
	rejectTo string
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(line string) { conn.Write([]byte(line + "\r\n")) }

	write("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<>")
			s.mu.Unlock()
			write("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			rcpt := strings.Trim(line[len("RCPT TO:"):], "<>")
			if rcpt == s.rejectTo {
				write("550 no such user")
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, rcpt)
			s.mu.Unlock()
			write("250 ok")
		case cmd == "DATA":
			write("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			write("250 queued")
		case cmd == "QUIT":
			write("221 bye")
			return
		default:
			write("502 unknown")
		}
	}
}

func newTestTransport(srv *fakeServer) *Transport {
	tr := New(Config{Host: "relay.test", Port: 25})
	tr.dial = func(_ context.Context, _ string) (net.Conn, error) {
		client, server := net.Pipe()
		go srv.serve(server)
		return client, nil
	}
	return tr
}

func TestSend(t *testing.T) {
	t.Parallel()

	srv := &fakeServer{}
	tr := newTestTransport(srv)

	id, err := tr.Send(context.Background(), &email.Email{
		From:     "Bob <bob@example.com>",
		To:       []string{"Alice <alice@example.com>"},
		Bcc:      []string{"hidden@example.com"},
		Subject:  "Hello",
		TextBody: "hi",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a message id")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "bob@example.com" {
		t.Errorf("MAIL FROM: got %q, want %q", srv.from, "bob@example.com")
	}
	if strings.Join(srv.rcpts, ",") != "alice@example.com,hidden@example.com" {
		t.Errorf("RCPT TO: got %v", srv.rcpts)
	}
	if !strings.Contains(srv.data, "Subject: Hello") {
		t.Errorf("DATA missing subject:\n%s", srv.data)
	}
	if !strings.Contains(srv.data, "Message-ID: <"+id+"@") {
		t.Errorf("DATA missing Message-ID %s", id)
	}
	if strings.Contains(srv.data, "hidden@example.com") {
		t.Error("Bcc recipient leaked into headers")
	}
}

func TestSendRaw(t *testing.T) {
	t.Parallel()

	srv := &fakeServer{}
	tr := newTestTransport(srv)

	raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: raw\r\n\r\nbody\r\n"
	_, err := tr.SendRaw(context.Background(), &email.RawMessage{
		Envelope: email.Envelope{From: "a@example.com", To: []string{"b@example.com"}, Cc: []string{"c@example.com"}},
		Raw:      []byte(raw),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.data != raw {
		t.Errorf("DATA: got %q, want %q", srv.data, raw)
	}
	if len(srv.rcpts) != 2 {
		t.Errorf("RCPT TO: got %v, want 2 recipients", srv.rcpts)
	}
}

func TestSendRecipientRejected(t *testing.T) {
	t.Parallel()

	srv := &fakeServer{rejectTo: "nobody@example.com"}
	tr := newTestTransport(srv)

	_, err := tr.Send(context.Background(), &email.Email{
		From: "bob@example.com",
		To:   []string{"nobody@example.com"},
	})
	if err == nil {
		t.Fatal("expected error for rejected recipient")
	}
	if !strings.Contains(err.Error(), "nobody@example.com") {
		t.Errorf("error should name the rejected recipient: %v", err)
	}
}

func TestSendNoRecipients(t *testing.T) {
	t.Parallel()

	tr := New(Config{Host: "relay.test"})
	tr.dial = func(context.Context, string) (net.Conn, error) {
		t.Fatal("dial should not be called without recipients")
		return nil, nil
	}
	if _, err := tr.Send(context.Background(), &email.Email{From: "a@example.com"}); err == nil {
		t.Fatal("expected error without recipients")
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	tr := New(Config{Host: "relay.test"})
	if tr.cfg.Port != 587 {
		t.Errorf("Port: got %d, want 587", tr.cfg.Port)
	}
	if tr.cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout: got %v, want %v", tr.cfg.Timeout, defaultTimeout)
	}
	if tr.Name() != "smtp" {
		t.Errorf("Name: got %q, want %q", tr.Name(), "smtp")
	}
}
