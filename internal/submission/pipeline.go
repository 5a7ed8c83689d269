// Package submission turns normalized API requests into transport calls,
// applying identity authorization, recipient validation and template
// rendering along the way.
package submission

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/djshoppre/emailq/internal/address"
	"github.com/djshoppre/emailq/internal/email"
	"github.com/djshoppre/emailq/internal/identity"
	"github.com/djshoppre/emailq/internal/parser"
	"github.com/djshoppre/emailq/internal/provider"
	"github.com/djshoppre/emailq/internal/request"
	"github.com/djshoppre/emailq/internal/template"
)

// Pipeline runs one submission per call. It holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	Templates  template.Store
	Transport  provider.Transport
	Authorizer *identity.Authorizer
	// Parse reads the headers of raw MIME for SendRaw. Defaults to
	// parser.ParseHeaders.
	Parse func(raw []byte) (*email.Parsed, error)
}

// New creates a Pipeline.
func New(templates template.Store, transport provider.Transport, authorizer *identity.Authorizer) *Pipeline {
	return &Pipeline{
		Templates:  templates,
		Transport:  transport,
		Authorizer: authorizer,
		Parse:      parser.ParseHeaders,
	}
}

// Send dispatches a SendEmail request as given. Unlike the templated and
// raw paths it applies no identity or address checks.
func (p *Pipeline) Send(ctx context.Context, req *request.EmailRequest) (string, error) {
	msg := &email.Email{
		From:             req.Source,
		ReplyTo:          req.ReplyToAddresses,
		ReturnPath:       req.ReturnPath,
		Tags:             convertTags(req.Tags),
		ConfigurationSet: req.ConfigurationSetName,
	}
	if d := req.Destination; d != nil {
		msg.To, msg.Cc, msg.Bcc = d.ToAddresses, d.CcAddresses, d.BccAddresses
	}
	if s := req.Message.Subject; s != nil {
		msg.Subject = s.Data
		msg.Charset = s.Charset
	}
	if h := req.Message.Body.Html; h != nil {
		msg.HtmlBody = h.Data
	}
	if t := req.Message.Body.Text; t != nil {
		msg.TextBody = t.Data
	}

	return p.dispatch(ctx, msg)
}

// SendTemplated authorizes the source, validates the destination, renders
// the named template with TemplateData and dispatches the result.
func (p *Pipeline) SendTemplated(ctx context.Context, req *request.EmailRequest) (string, error) {
	if err := p.authorizeSource(req.Source); err != nil {
		return "", err
	}
	to, cc, bcc, err := recipients(req.Destination)
	if err != nil {
		return "", err
	}

	tpl, err := p.findTemplate(ctx, req.Template)
	if err != nil {
		return "", err
	}
	data, err := parseData(req.TemplateData)
	if err != nil {
		return "", err
	}
	rendered, err := render(tpl, data)
	if err != nil {
		return "", err
	}

	msg := &email.Email{
		From:             req.Source,
		ReplyTo:          req.ReplyToAddresses,
		ReturnPath:       req.ReturnPath,
		To:               to,
		Cc:               cc,
		Bcc:              bcc,
		Subject:          rendered.Subject,
		HtmlBody:         rendered.Html,
		TextBody:         rendered.Text,
		Tags:             convertTags(req.Tags),
		ConfigurationSet: req.ConfigurationSetName,
		Template:         req.Template,
	}
	return p.dispatch(ctx, msg)
}

// SendBulkTemplated renders the template once per destination, with the
// default data shallow-merged under each destination's replacement data,
// then dispatches every message concurrently. Ids are returned in
// destination order. Nothing is dispatched unless every destination
// validates and renders; once dispatching starts, any failure fails the
// whole batch after all sends have settled.
func (p *Pipeline) SendBulkTemplated(ctx context.Context, req *request.BulkEmailRequest) ([]string, error) {
	if err := p.authorizeSource(req.Source); err != nil {
		return nil, err
	}
	if len(req.Destinations) == 0 {
		return nil, reject(BlankDestination, "no destinations")
	}

	type target struct {
		to, cc, bcc []string
	}
	targets := make([]target, len(req.Destinations))
	for i, d := range req.Destinations {
		to, cc, bcc, err := recipients(d.Destination)
		if err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				rej.Detail = fmt.Sprintf("destination %d: %s", i+1, rej.Detail)
			}
			return nil, err
		}
		targets[i] = target{to, cc, bcc}
	}

	tpl, err := p.findTemplate(ctx, req.Template)
	if err != nil {
		return nil, err
	}
	defaults, err := parseData(req.DefaultTemplateData)
	if err != nil {
		return nil, err
	}

	msgs := make([]*email.Email, len(req.Destinations))
	for i, d := range req.Destinations {
		replacement, err := parseData(d.ReplacementTemplateData)
		if err != nil {
			return nil, err
		}
		rendered, err := render(tpl, Merge(defaults, replacement))
		if err != nil {
			return nil, err
		}
		msgs[i] = &email.Email{
			From:             req.Source,
			ReplyTo:          req.ReplyToAddresses,
			To:               targets[i].to,
			Cc:               targets[i].cc,
			Bcc:              targets[i].bcc,
			Subject:          rendered.Subject,
			HtmlBody:         rendered.Html,
			TextBody:         rendered.Text,
			Tags:             mergeTags(convertTags(req.DefaultTags), convertTags(d.ReplacementTags)),
			ConfigurationSet: req.ConfigurationSetName,
			Template:         req.Template,
		}
	}

	ids := make([]string, len(msgs))
	var g errgroup.Group
	for i, msg := range msgs {
		g.Go(func() error {
			id, err := p.dispatch(ctx, msg)
			if err != nil {
				return fmt.Errorf("destination %d: %w", i+1, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SendRaw decodes a raw MIME message, reads its headers, authorizes both
// its From header and the effective source, and dispatches the original
// bytes with an envelope built from the parsed headers. The body is not
// decoded.
//
// A parseable Source overrides the From header as the envelope sender. When
// the message has no From header only the Source is authorized; with
// neither the send is rejected as MissingSource.
func (p *Pipeline) SendRaw(ctx context.Context, req *request.RawEmailRequest) (string, error) {
	raw, err := decodeRaw(req.Data)
	if err != nil {
		return "", reject(MalformedRawMessage, err.Error())
	}
	parse := p.Parse
	if parse == nil {
		parse = parser.ParseHeaders
	}
	parsed, err := parse(raw)
	if err != nil {
		return "", reject(MalformedRawMessage, err.Error())
	}

	to := email.Addresses(parsed.To)
	cc := email.Addresses(parsed.Cc)
	bcc := email.Addresses(parsed.Bcc)
	for _, d := range req.Destinations {
		if !slices.Contains(to, d) && !slices.Contains(cc, d) && !slices.Contains(bcc, d) {
			bcc = append(bcc, d)
		}
	}

	var mimeFrom *email.Address
	if from := nonBlank(parsed.From); len(from) > 0 {
		mimeFrom = &from[0]
	}

	var override *mail.Address
	if req.Source != "" {
		if a, err := mail.ParseAddress(req.Source); err == nil {
			override = a
		}
	}

	var source string
	switch {
	case override != nil:
		source = override.Address
	case mimeFrom != nil:
		source = mimeFrom.Address
	default:
		return "", reject(MissingSource, "no Source and no From header")
	}

	var failed []string
	if !p.Authorizer.Authorized(source) {
		failed = append(failed, source)
	}
	if mimeFrom != nil && !p.Authorizer.Authorized(mimeFrom.Address) && mimeFrom.Address != source {
		failed = append(failed, mimeFrom.Address)
	}
	if len(failed) > 0 {
		slog.Info("raw send rejected: identity not authorized", "identities", failed)
		return "", &Rejection{Kind: IdentityNotAuthorized, Identities: failed}
	}

	all := slices.Concat(to, cc, bcc)
	if bad := address.Invalid(all...); len(bad) > 0 {
		return "", reject(MalformedAddress, strings.Join(bad, ", "))
	}
	if len(all) == 0 {
		return "", reject(BlankRecipients, "message has no recipients")
	}

	envelope := email.Envelope{
		To:  formatted(parsed.To),
		Cc:  cc,
		Bcc: bcc,
	}
	switch {
	case override != nil:
		envelope.From = email.Address{Name: override.Name, Address: override.Address}.String()
	default:
		envelope.From = mimeFrom.String()
	}

	msg := &email.RawMessage{
		Envelope:         envelope,
		Raw:              raw,
		ConfigurationSet: req.ConfigurationSetName,
		Tags:             convertTags(req.Tags),
	}
	id, err := p.Transport.SendRaw(ctx, msg)
	if err != nil {
		slog.Error("transport raw send failed",
			"transport", p.Transport.Name(),
			"error", err,
		)
		return "", fmt.Errorf("raw send via %s: %w", p.Transport.Name(), err)
	}
	slog.Info("raw email dispatched",
		"transport", p.Transport.Name(),
		"message_id", id,
		"recipients", len(envelope.Recipients()),
	)
	return id, nil
}

func (p *Pipeline) dispatch(ctx context.Context, msg *email.Email) (string, error) {
	id, err := p.Transport.Send(ctx, msg)
	if err != nil {
		slog.Error("transport send failed",
			"transport", p.Transport.Name(),
			"template", msg.Template,
			"error", err,
		)
		return "", fmt.Errorf("send via %s: %w", p.Transport.Name(), err)
	}
	slog.Info("email dispatched",
		"transport", p.Transport.Name(),
		"message_id", id,
		"template", msg.Template,
		"recipients", len(msg.Recipients()),
	)
	return id, nil
}

// authorizeSource checks the mailbox in source. The rejection echoes source
// as given.
func (p *Pipeline) authorizeSource(source string) error {
	addr := source
	if parsed, err := mail.ParseAddress(source); err == nil {
		addr = parsed.Address
	}
	if !p.Authorizer.Authorized(addr) {
		slog.Info("send rejected: identity not authorized", "source", source)
		return &Rejection{Kind: IdentityNotAuthorized, Identities: []string{source}}
	}
	return nil
}

func (p *Pipeline) findTemplate(ctx context.Context, name string) (*template.Template, error) {
	tpl, err := p.Templates.Find(ctx, name)
	if errors.Is(err, template.ErrNotFound) {
		return nil, &Rejection{Kind: TemplateNotFound, Template: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", name, err)
	}
	return tpl, nil
}

// recipients checks a destination and returns its address lists.
func recipients(d *request.Destination) (to, cc, bcc []string, err error) {
	if d == nil {
		return nil, nil, nil, reject(BlankDestination, "no Destination")
	}
	all := d.All()
	if bad := address.Invalid(all...); len(bad) > 0 {
		return nil, nil, nil, reject(MalformedAddress, strings.Join(bad, ", "))
	}
	if len(all) == 0 {
		return nil, nil, nil, reject(BlankRecipients, "Destination has no addresses")
	}
	return d.ToAddresses, d.CcAddresses, d.BccAddresses, nil
}

func render(tpl *template.Template, data map[string]any) (*template.Rendered, error) {
	rendered, err := template.Render(tpl, data)
	if err != nil {
		return nil, &Rejection{Kind: RenderFailure, Template: tpl.TemplateName, Detail: err.Error()}
	}
	return rendered, nil
}

// parseData decodes a JSON object. Blank input is an empty context.
func parseData(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, reject(InvalidTemplateData, err.Error())
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Merge returns defaults overridden key by key with replacement. Nested
// objects are replaced, not merged. Neither input is modified.
func Merge(defaults, replacement map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(replacement))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range replacement {
		out[k] = v
	}
	return out
}

func decodeRaw(data string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, data)
	if cleaned == "" {
		return nil, errors.New("RawMessage.Data is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("RawMessage.Data is not base64: %w", err)
		}
	}
	return raw, nil
}

func nonBlank(list []email.Address) []email.Address {
	out := make([]email.Address, 0, len(list))
	for _, a := range list {
		if strings.TrimSpace(a.Address) != "" {
			out = append(out, a)
		}
	}
	return out
}

// formatted renders each address with its display name when it has one.
func formatted(list []email.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range nonBlank(list) {
		out = append(out, a.String())
	}
	return out
}

func convertTags(tags []request.Tag) []email.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]email.Tag, len(tags))
	for i, t := range tags {
		out[i] = email.Tag{Name: t.Name, Value: t.Value}
	}
	return out
}

// mergeTags overlays override on base by tag name, keeping base order.
func mergeTags(base, override []email.Tag) []email.Tag {
	if len(override) == 0 {
		return base
	}
	out := slices.Clone(base)
	for _, t := range override {
		i := slices.IndexFunc(out, func(e email.Tag) bool { return e.Name == t.Name })
		if i >= 0 {
			out[i] = t
			continue
		}
		out = append(out, t)
	}
	return out
}
