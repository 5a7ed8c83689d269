package email

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"regexp"
	"strings"
	"testing"
)

func TestAddressString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr Address
		want string
	}{
		{Address{Address: "bob@example.com"}, "bob@example.com"},
		{Address{Name: "Bob", Address: "bob@example.com"}, `"Bob" <bob@example.com>`},
	}
	for _, tt := range tests {
		if got := tt.addr.String(); got != tt.want {
			t.Errorf("String(): got %q, want %q", got, tt.want)
		}
	}
}

func TestAddressesSkipsBlank(t *testing.T) {
	t.Parallel()

	got := Addresses([]Address{{Address: "a@example.com"}, {Name: "x", Address: " "}, {Address: "b@example.com"}})
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("Addresses: got %v", got)
	}
}

func TestRecipientsOrder(t *testing.T) {
	t.Parallel()

	msg := &Email{To: []string{"a"}, Cc: []string{"b"}, Bcc: []string{"c"}}
	if got := strings.Join(msg.Recipients(), ","); got != "a,b,c" {
		t.Errorf("Recipients: got %q", got)
	}
	env := Envelope{To: []string{"a"}, Cc: []string{"b"}, Bcc: []string{"c"}}
	if got := strings.Join(env.Recipients(), ","); got != "a,b,c" {
		t.Errorf("Envelope.Recipients: got %q", got)
	}
}

func TestNewMessageIDShape(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^[0-9a-f]{16}-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}-000000$`)
	id := NewMessageID()
	if !re.MatchString(id) {
		t.Errorf("NewMessageID: %q does not match SES shape", id)
	}
	if NewMessageID() == id {
		t.Error("NewMessageID returned the same id twice")
	}
}

func TestBuildMIME(t *testing.T) {
	t.Parallel()

	raw, err := BuildMIME(&Email{
		From:     "sender@example.com",
		To:       []string{"to@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "Hello",
		TextBody: "plain",
		HtmlBody: "<b>html</b>",
		Template: "welcome",
	}, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("generated message does not parse: %v", err)
	}
	if got := msg.Header.Get("From"); got != "sender@example.com" {
		t.Errorf("From: got %q", got)
	}
	if got := msg.Header.Get("Cc"); got != "cc@example.com" {
		t.Errorf("Cc: got %q", got)
	}
	if got := msg.Header.Get("Message-Id"); got != "<abc@emailq.local>" {
		t.Errorf("Message-Id: got %q", got)
	}
	if got := msg.Header.Get(TemplateHeader); got != "welcome" {
		t.Errorf("%s: got %q", TemplateHeader, got)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("Content-Type: got %q (%v)", mediaType, err)
	}

	reader := multipart.NewReader(msg.Body, params["boundary"])
	var types []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading part: %v", err)
		}
		types = append(types, part.Header.Get("Content-Type"))
	}
	if len(types) != 2 {
		t.Fatalf("parts: got %v, want text and html", types)
	}
	if !strings.HasPrefix(types[0], "text/plain") || !strings.HasPrefix(types[1], "text/html") {
		t.Errorf("part order: got %v", types)
	}
}

func TestBuildMIMERejectsLineBreaksInHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Email
	}{
		{"from", Email{From: "ops@example.com\r\nBcc: victim@evil.test", To: []string{"to@example.com"}}},
		{"to", Email{From: "ops@example.com", To: []string{"to@example.com\nX-Injected: yes"}}},
		{"cc", Email{From: "ops@example.com", Cc: []string{"cc@example.com\r\nX-Injected: yes"}}},
		{"reply-to", Email{From: "ops@example.com", ReplyTo: []string{"r@example.com\r\nX-Injected: yes"}}},
		{"template", Email{From: "ops@example.com", Template: "welcome\rX-Injected: yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.msg.TextBody = "body"
			raw, err := BuildMIME(&tt.msg, "abc")
			if !errors.Is(err, ErrHeaderInjection) {
				t.Fatalf("error: got %v, want ErrHeaderInjection", err)
			}
			if raw != nil {
				t.Errorf("message: got %q, want nil", raw)
			}
		})
	}

	if _, err := BuildMIME(&Email{From: "ops@example.com", TextBody: "x"}, "id\r\nX-Injected: yes"); !errors.Is(err, ErrHeaderInjection) {
		t.Errorf("message id: got %v, want ErrHeaderInjection", err)
	}
}

func TestBuildMIMEEncodesSubjectLineBreaks(t *testing.T) {
	t.Parallel()

	raw, err := BuildMIME(&Email{From: "ops@example.com", Subject: "hi\r\nX-Injected: yes", TextBody: "x"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("generated message does not parse: %v", err)
	}
	if got := msg.Header.Get("X-Injected"); got != "" {
		t.Errorf("X-Injected: got %q, want no such header", got)
	}
}

func TestEncodeBase64WithLineBreaks(t *testing.T) {
	t.Parallel()

	encoded := encodeBase64WithLineBreaks(bytes.Repeat([]byte("x"), 200))
	for i, line := range strings.Split(encoded, "\r\n") {
		if len(line) > 76 {
			t.Errorf("line %d: length %d exceeds 76", i, len(line))
		}
	}
}
