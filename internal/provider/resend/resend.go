// Package resend implements a Transport backed by the Resend API.
package resend

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v3"

	"github.com/djshoppre/emailq/internal/email"
	"github.com/djshoppre/emailq/internal/parser"
)

// EmailsAPI is the subset of the Resend client used by Transport.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Transport sends messages through Resend.
type Transport struct {
	emails EmailsAPI
}

// New creates a Transport authenticated with apiKey.
func New(apiKey string) *Transport {
	return &Transport{emails: resend.NewClient(apiKey).Emails}
}

// NewWithClient creates a Transport around an existing emails client.
func NewWithClient(emails EmailsAPI) *Transport {
	return &Transport{emails: emails}
}

// Send delivers a structured message and returns the Resend email id.
func (s *Transport) Send(ctx context.Context, msg *email.Email) (string, error) {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
		Tags:    convertTags(msg.Tags, msg.Template),
	}
	if len(msg.ReplyTo) > 0 {
		req.ReplyTo = strings.Join(msg.ReplyTo, ", ")
	}

	return s.send(ctx, req)
}

// SendRaw parses the MIME message and sends its parts through the
// structured API. Resend has no raw endpoint; envelope recipients replace
// the header recipients so Bcc entries are honored.
func (s *Transport) SendRaw(ctx context.Context, msg *email.RawMessage) (string, error) {
	parsed, err := parser.Parse(msg.Raw)
	if err != nil {
		return "", fmt.Errorf("resend: failed to parse raw message: %w", err)
	}

	from := msg.Envelope.From
	if len(parsed.From) > 0 {
		from = parsed.From[0].String()
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.Envelope.To,
		Cc:      msg.Envelope.Cc,
		Bcc:     msg.Envelope.Bcc,
		Subject: parsed.Subject,
		Html:    parsed.HtmlBody,
		Text:    parsed.TextBody,
		Tags:    convertTags(msg.Tags, ""),
	}
	if replyTo := parsed.RawHeaders["Reply-To"]; len(replyTo) > 0 {
		req.ReplyTo = replyTo[0]
	}
	for _, a := range parsed.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}

	return s.send(ctx, req)
}

// Name returns the transport name.
func (s *Transport) Name() string {
	return "resend"
}

func (s *Transport) send(ctx context.Context, req *resend.SendEmailRequest) (string, error) {
	resp, err := s.emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: failed to send email: %w", err)
	}
	return resp.Id, nil
}

// convertTags maps message tags to Resend tags, adding the template name.
func convertTags(tags []email.Tag, template string) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags)+1)
	for _, t := range tags {
		result = append(result, resend.Tag{Name: tagValue(t.Name), Value: tagValue(t.Value)})
	}
	if template != "" {
		result = append(result, resend.Tag{Name: "template", Value: tagValue(template)})
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// tagValue replaces characters Resend rejects in tags (anything but ASCII
// letters, digits, '_' and '-') with '_'.
func tagValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}
