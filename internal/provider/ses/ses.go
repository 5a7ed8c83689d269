// Package ses implements a Transport that sends emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/djshoppre/emailq/internal/email"
)

// templateTag is the message tag carrying the template a message was
// rendered from.
const templateTag = "template"

// Config holds the configuration for creating a Transport.
type Config struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	ConfigurationSet string
}

// Transport sends emails via the AWS SES v2 API.
type Transport struct {
	client           SendEmailAPI
	configurationSet string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Transport with the given configuration.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Transport{
		client:           client,
		configurationSet: cfg.ConfigurationSet,
	}, nil
}

// NewWithClient creates a Transport with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, configurationSet string) *Transport {
	return &Transport{
		client:           client,
		configurationSet: configurationSet,
	}
}

// Send delivers a structured message with the SES simple content format.
func (s *Transport) Send(ctx context.Context, msg *email.Email) (string, error) {
	input := buildSimpleInput(msg)
	s.applyConfigurationSet(input, msg.ConfigurationSet)
	return s.send(ctx, input)
}

// SendRaw delivers a raw MIME message. The envelope recipients become the
// SES destination so Bcc recipients absent from the headers still receive
// it.
func (s *Transport) SendRaw(ctx context.Context, msg *email.RawMessage) (string, error) {
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses:  msg.Envelope.To,
			CcAddresses:  msg.Envelope.Cc,
			BccAddresses: msg.Envelope.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Raw,
			},
		},
		EmailTags: messageTags(msg.Tags, ""),
	}
	if msg.Envelope.From != "" {
		input.FromEmailAddress = aws.String(msg.Envelope.From)
	}
	s.applyConfigurationSet(input, msg.ConfigurationSet)
	return s.send(ctx, input)
}

// Name returns the transport name.
func (s *Transport) Name() string {
	return "ses"
}

func (s *Transport) send(ctx context.Context, input *sesv2.SendEmailInput) (string, error) {
	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("SES API request failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (s *Transport) applyConfigurationSet(input *sesv2.SendEmailInput, perMessage string) {
	switch {
	case perMessage != "":
		input.ConfigurationSetName = aws.String(perMessage)
	case s.configurationSet != "":
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
}

// buildSimpleInput creates a SES SendEmailInput for a structured message.
func buildSimpleInput(msg *email.Email) *sesv2.SendEmailInput {
	charset := msg.Charset
	if charset == "" {
		charset = "UTF-8"
	}

	body := &types.Body{}
	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String(charset),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String(charset),
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		ReplyToAddresses: msg.ReplyTo,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String(charset),
				},
				Body: body,
			},
		},
		EmailTags: messageTags(msg.Tags, msg.Template),
	}
	if msg.ReturnPath != "" {
		input.FeedbackForwardingEmailAddress = aws.String(msg.ReturnPath)
	}
	return input
}

func messageTags(tags []email.Tag, template string) []types.MessageTag {
	if len(tags) == 0 && template == "" {
		return nil
	}
	out := make([]types.MessageTag, 0, len(tags)+1)
	for _, t := range tags {
		out = append(out, types.MessageTag{Name: aws.String(t.Name), Value: aws.String(t.Value)})
	}
	if template != "" {
		out = append(out, types.MessageTag{Name: aws.String(templateTag), Value: aws.String(template)})
	}
	return out
}
