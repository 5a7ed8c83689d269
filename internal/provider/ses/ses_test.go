package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/djshoppre/emailq/internal/email"
	"github.com/djshoppre/emailq/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

var _ provider.Transport = (*Transport)(nil)

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient(&mockSESClient{}, "")
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "")

	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"to@example.com"},
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	}

	id, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "test-message-id" {
		t.Errorf("message id: got %q, want %q", id, "test-message-id")
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
	if input.EmailTags != nil {
		t.Errorf("EmailTags: got %v, want none", input.EmailTags)
	}
	if input.ConfigurationSetName != nil {
		t.Error("expected no configuration set")
	}
}

func TestSend_WithRecipientsAndTemplateTag(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "default-set")

	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"to1@example.com", "to2@example.com"},
		Cc:       []string{"cc@example.com"},
		Bcc:      []string{"bcc@example.com"},
		ReplyTo:  []string{"reply@example.com"},
		Subject:  "Multi-recipient",
		HtmlBody: "<p>Hello</p>",
		Charset:  "ISO-8859-1",
		Tags:     []email.Tag{{Name: "campaign", Value: "spring"}},
		Template: "welcome",
	}

	if _, err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	dest := input.Destination
	if len(dest.ToAddresses) != 2 {
		t.Errorf("ToAddresses: got %d, want 2", len(dest.ToAddresses))
	}
	if len(dest.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %d, want 1", len(dest.CcAddresses))
	}
	if len(dest.BccAddresses) != 1 {
		t.Errorf("BccAddresses: got %d, want 1", len(dest.BccAddresses))
	}
	if len(input.ReplyToAddresses) != 1 {
		t.Errorf("ReplyToAddresses: got %v", input.ReplyToAddresses)
	}
	if got := *input.Content.Simple.Body.Html.Charset; got != "ISO-8859-1" {
		t.Errorf("HTML charset: got %q, want %q", got, "ISO-8859-1")
	}
	if len(input.EmailTags) != 2 {
		t.Fatalf("EmailTags: got %d, want 2", len(input.EmailTags))
	}
	if got := *input.EmailTags[1].Name + "=" + *input.EmailTags[1].Value; got != "template=welcome" {
		t.Errorf("template tag: got %q", got)
	}
	if got := aws.ToString(input.ConfigurationSetName); got != "default-set" {
		t.Errorf("ConfigurationSetName: got %q, want %q", got, "default-set")
	}
}

func TestSend_PerMessageConfigurationSetWins(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "default-set")

	_, err := p.Send(context.Background(), &email.Email{
		From:             "sender@example.com",
		To:               []string{"to@example.com"},
		ConfigurationSet: "tracking",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(mock.lastInput.ConfigurationSetName); got != "tracking" {
		t.Errorf("ConfigurationSetName: got %q, want %q", got, "tracking")
	}
}

func TestSend_ErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	p := NewWithClient(mock, "")

	_, err := p.Send(context.Background(), &email.Email{From: "sender@example.com", To: []string{"to@example.com"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSendRaw(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "")

	raw := []byte("From: a@example.com\r\nTo: b@example.com\r\n\r\nbody")
	id, err := p.SendRaw(context.Background(), &email.RawMessage{
		Envelope: email.Envelope{
			From: `"Alice" <a@example.com>`,
			To:   []string{"b@example.com"},
			Bcc:  []string{"hidden@example.com"},
		},
		Raw: raw,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "test-message-id" {
		t.Errorf("message id: got %q", id)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw content")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if string(input.Content.Raw.Data) != string(raw) {
		t.Errorf("raw data was modified: %q", input.Content.Raw.Data)
	}
	if got := aws.ToString(input.FromEmailAddress); got != `"Alice" <a@example.com>` {
		t.Errorf("FromEmailAddress: got %q", got)
	}
	if len(input.Destination.BccAddresses) != 1 {
		t.Errorf("BccAddresses: got %v", input.Destination.BccAddresses)
	}
}

func TestBuildSimpleInput_ReturnPath(t *testing.T) {
	t.Parallel()

	input := buildSimpleInput(&email.Email{
		From:       "sender@example.com",
		ReturnPath: "bounces@example.com",
		Subject:    "Test",
		TextBody:   "text",
	})

	if got := aws.ToString(input.FeedbackForwardingEmailAddress); got != "bounces@example.com" {
		t.Errorf("FeedbackForwardingEmailAddress: got %q", got)
	}
	if got := *input.Content.Simple.Subject.Charset; got != "UTF-8" {
		t.Errorf("Subject charset: got %q, want UTF-8", got)
	}
}
