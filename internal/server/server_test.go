package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djshoppre/emailq/internal/email"
	"github.com/djshoppre/emailq/internal/identity"
	"github.com/djshoppre/emailq/internal/request"
	"github.com/djshoppre/emailq/internal/submission"
	"github.com/djshoppre/emailq/internal/template"
	"github.com/djshoppre/emailq/internal/webhook"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []*email.Email
	raw    []*email.RawMessage
	failTo string
}

func (f *fakeTransport) Send(_ context.Context, msg *email.Email) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if len(msg.To) > 0 && msg.To[0] == f.failTo {
		return "", errors.New("mailbox unavailable")
	}
	return fmt.Sprintf("id-%d", len(f.sent)), nil
}

func (f *fakeTransport) SendRaw(_ context.Context, msg *email.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, msg)
	return "raw-id", nil
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent) + len(f.raw)
}

type fakeNotifier struct {
	events chan webhook.ClickEvent
	err    error
}

func (f *fakeNotifier) Click(_ context.Context, ev webhook.ClickEvent) error {
	f.events <- ev
	return f.err
}

func newTestServer(t *testing.T) (*Server, *fakeTransport, *fakeNotifier) {
	t.Helper()
	tr := &fakeTransport{}
	store := template.NewMemory(&template.Template{
		TemplateName: "welcome",
		SubjectPart:  "Hi {{name}}",
		TextPart:     "Hello {{name}}",
	})
	pipeline := submission.New(store, tr, identity.New(nil, []string{"allowed.com"}))
	notifier := &fakeNotifier{events: make(chan webhook.ClickEvent, 1)}
	return New(Config{Submitter: pipeline, Notifier: notifier, Transport: tr.Name()}), tr, notifier
}

func postForm(t *testing.T, s *Server, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTemplatedSuccess(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)

	rec := postForm(t, s, url.Values{
		"Action":                           {"SendTemplatedEmail"},
		"Source":                           {"bob@allowed.com"},
		"Destination.ToAddresses.member.1": {"ann@example.com"},
		"Template":                         {"welcome"},
		"TemplateData":                     {`{"name":"Ann"}`},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, rec.Body.String(), "<SendTemplatedEmailResponse")
	assert.Contains(t, rec.Body.String(), "<MessageId>id-1</MessageId>")
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "Hi Ann", tr.sent[0].Subject)
}

func TestBlankDestination(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)

	rec := postForm(t, s, url.Values{
		"Action":   {"SendTemplatedEmail"},
		"Source":   {"bob@allowed.com"},
		"Template": {"welcome"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>ValidationError</Code>")
	assert.Contains(t, rec.Body.String(), "'destination'")
	assert.Zero(t, tr.calls())
}

func TestBlankDestinationJSON(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"Action":"SendTemplatedEmail","Source":"bob@allowed.com","Destination":{},"Template":"welcome"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>ValidationError</Code>")
	assert.Zero(t, tr.calls())
}

func TestTemplateNotFound(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := postForm(t, s, url.Values{
		"Action":                           {"SendTemplatedEmail"},
		"Source":                           {"bob@allowed.com"},
		"Destination.ToAddresses.member.1": {"ann@example.com"},
		"Template":                         {"missing-one"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>TemplateDoesNotExist</Code>")
	assert.Contains(t, rec.Body.String(), "missing-one")
}

func TestRawBlockedFrom(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)

	raw := "From: eve@blocked.com\r\nTo: ann@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	rec := postForm(t, s, url.Values{
		"Action":          {"SendRawEmail"},
		"RawMessage.Data": {base64.StdEncoding.EncodeToString([]byte(raw))},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>MessageRejected</Code>")
	assert.Contains(t, rec.Body.String(), "eve@blocked.com")
	assert.Zero(t, tr.calls())
}

func TestRawSuccess(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)

	raw := "From: bob@allowed.com\r\nTo: ann@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	rec := postForm(t, s, url.Values{
		"Action":          {"SendRawEmail"},
		"RawMessage.Data": {base64.StdEncoding.EncodeToString([]byte(raw))},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "<SendRawEmailResponse")
	assert.Contains(t, rec.Body.String(), "<MessageId>raw-id</MessageId>")
	require.Len(t, tr.raw, 1)
}

func TestBulkAllOrNothing(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)
	tr.failTo = "two@example.com"

	values := url.Values{
		"Action":              {"SendBulkTemplatedEmail"},
		"Source":              {"bob@allowed.com"},
		"Template":            {"welcome"},
		"DefaultTemplateData": {`{"name":"friend"}`},
	}
	for i, to := range []string{"one@example.com", "two@example.com", "three@example.com"} {
		values.Set(fmt.Sprintf("Destinations.member.%d.Destination.ToAddresses.member.1", i+1), to)
	}
	rec := postForm(t, s, values)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InternalFailure</Code>")
	assert.NotContains(t, rec.Body.String(), "<Status>Success</Status>")
	assert.Equal(t, 3, tr.calls())
}

func TestBulkSuccess(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	values := url.Values{
		"Action":   {"SendBulkTemplatedEmail"},
		"Source":   {"bob@allowed.com"},
		"Template": {"welcome"},
	}
	values.Set("Destinations.member.1.Destination.ToAddresses.member.1", "one@example.com")
	values.Set("Destinations.member.2.Destination.ToAddresses.member.1", "two@example.com")
	rec := postForm(t, s, values)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "<Status>Success</Status>"))
}

func TestSendEmailIsDefaultAction(t *testing.T) {
	t.Parallel()
	s, tr, _ := newTestServer(t)

	rec := postForm(t, s, url.Values{
		"Source":                           {"anyone@anywhere.com"},
		"Destination.ToAddresses.member.1": {"ann@example.com"},
		"Message.Subject.Data":             {"hello"},
		"Message.Body.Text.Data":           {"body"},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "<SendEmailResponse")
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "hello", tr.sent[0].Subject)
}

func TestInvalidAction(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := postForm(t, s, url.Values{"Action": {"DeleteIdentity"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InvalidAction</Code>")
	assert.Contains(t, rec.Body.String(), "DeleteIdentity")
}

func TestMalformedJSON(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"Action":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>MalformedInput</Code>")
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("Action=Nope"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Request-ID", "upstream-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "upstream-1", rec.Header().Get("X-Amzn-RequestId"))
	assert.Contains(t, rec.Body.String(), "<RequestId>upstream-1</RequestId>")
}

func TestClickRedirectsAndNotifies(t *testing.T) {
	t.Parallel()
	s, _, notifier := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/click?url=https%3A%2F%2Fexample.com%2Fa&messageId=msg-1&campaign=spring&campaign=summer", nil)
	req.Header.Set("User-Agent", "curl/8")
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/a", rec.Header().Get("Location"))

	select {
	case ev := <-notifier.events:
		assert.Equal(t, "msg-1", ev.MessageID)
		assert.Equal(t, "https://example.com/a", ev.Link)
		assert.Equal(t, "10.1.2.3", ev.IPAddress)
		assert.Equal(t, "curl/8", ev.UserAgent)
		assert.Equal(t, map[string][]string{"campaign": {"spring", "summer"}}, ev.LinkTags)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("click webhook was not called")
	}
}

func TestClickWebhookFailureStillRedirects(t *testing.T) {
	t.Parallel()
	s, _, notifier := newTestServer(t)
	notifier.err = errors.New("hook down")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/click?url=https://example.com", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	<-notifier.events
	s.waitForWebhooks(context.Background())
}

func TestClickAfterShutdownSkipsWebhook(t *testing.T) {
	t.Parallel()
	s, _, notifier := newTestServer(t)
	s.stopWebhooks()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/click?url=https://example.com", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Location"))
	s.waitForWebhooks(context.Background())
	assert.Empty(t, notifier.events)
	assert.False(t, s.trackWebhook())
}

func TestClickMissingURL(t *testing.T) {
	t.Parallel()
	s, _, notifier := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/click?messageId=m", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>ValidationError</Code>")
	assert.Empty(t, notifier.events)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

type panicSubmitter struct{ Submitter }

func (panicSubmitter) Send(context.Context, *request.EmailRequest) (string, error) {
	panic("boom")
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(Config{Submitter: panicSubmitter{}})

	rec := postForm(t, s, url.Values{"Action": {"SendEmail"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeShutsDown(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)
	s.config.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
