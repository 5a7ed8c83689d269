package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/djshoppre/emailq/internal/email"
)

const (
	defaultScope   = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second
)

// Config holds the configuration for creating a Graph Transport.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Transport sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication. Failed sends are not retried.
type Transport struct {
	sender     string
	graphURL   string
	httpClient *http.Client
}

// New creates a new Graph Transport. Tokens are fetched lazily and cached by
// the oauth2 client until shortly before they expire.
func New(ctx context.Context, cfg Config) *Transport {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(ctx, cfg, graphURL, tokenURL)
}

// newWithOverrides creates a Transport with custom endpoints, used for testing.
func newWithOverrides(ctx context.Context, cfg Config, graphURL, tokenURL string) *Transport {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
	}

	base := &http.Client{Timeout: requestTimeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	client := cc.Client(ctx)
	client.Timeout = requestTimeout

	return &Transport{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
	}
}

// Send delivers a structured message through the sendMail endpoint. Graph
// does not report a message id, so a local one is returned.
func (g *Transport) Send(ctx context.Context, msg *email.Email) (string, error) {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	if err := g.post(ctx, "application/json", bodyJSON); err != nil {
		return "", err
	}

	id := email.NewMessageID()
	slog.Debug("message accepted by Graph API",
		"message_id", id,
		"recipients", len(msg.Recipients()),
		"template", msg.Template,
	)
	return id, nil
}

// SendRaw delivers a MIME message through the sendMail endpoint. Graph takes
// the recipients from the MIME headers; the envelope is only logged.
func (g *Transport) SendRaw(ctx context.Context, msg *email.RawMessage) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(msg.Raw)
	if err := g.post(ctx, "text/plain", []byte(encoded)); err != nil {
		return "", err
	}

	id := email.NewMessageID()
	slog.Debug("raw message accepted by Graph API",
		"message_id", id,
		"envelope_from", msg.Envelope.From,
		"recipients", len(msg.Envelope.Recipients()),
	)
	return id, nil
}

// Name returns the transport name.
func (g *Transport) Name() string {
	return "msgraph"
}

// post performs a single HTTP request to the Graph API sendMail endpoint.
func (g *Transport) post(ctx context.Context, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Graph API request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := string(respBody)
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		message = graphErrResp.Error.Message
	}
	return &SendError{StatusCode: resp.StatusCode, Message: message}
}

// SendError is a non-success response from the Graph API.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}
