// Package webhook delivers click events to a configured HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// ClickEvent is a tracked link click.
type ClickEvent struct {
	MessageID string
	IPAddress string
	Link      string
	LinkTags  map[string][]string
	Timestamp time.Time
	UserAgent string
}

type payload struct {
	EventType string       `json:"eventType"`
	Mail      mailPayload  `json:"mail"`
	Click     clickPayload `json:"click"`
}

type mailPayload struct {
	MessageID string `json:"messageId"`
}

type clickPayload struct {
	IPAddress string              `json:"ipAddress"`
	Link      string              `json:"link"`
	LinkTags  map[string][]string `json:"linkTags"`
	Timestamp string              `json:"timestamp"`
	UserAgent string              `json:"userAgent"`
}

// Notifier posts events as JSON. A Notifier with an empty URL drops events.
type Notifier struct {
	url        string
	httpClient *http.Client
}

// New creates a Notifier for url.
func New(url string) *Notifier {
	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Enabled reports whether events are delivered anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Click posts a Click event. Any non-2xx response is an error.
func (n *Notifier) Click(ctx context.Context, ev ClickEvent) error {
	if !n.Enabled() {
		return nil
	}

	tags := ev.LinkTags
	if tags == nil {
		tags = map[string][]string{}
	}
	body, err := json.Marshal(payload{
		EventType: "Click",
		Mail:      mailPayload{MessageID: ev.MessageID},
		Click: clickPayload{
			IPAddress: ev.IPAddress,
			Link:      ev.Link,
			LinkTags:  tags,
			Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			UserAgent: ev.UserAgent,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal click event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
