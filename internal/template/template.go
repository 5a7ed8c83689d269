// Package template resolves named email templates and renders them with
// Handlebars.
package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/aymerick/raymond"
)

var (
	// ErrNotFound is returned by a Store when no template has the given name.
	ErrNotFound = errors.New("template: not found")
	// ErrRender wraps compile and execution failures.
	ErrRender = errors.New("template: render failed")
)

// Template is a stored email template. Each part is Handlebars source.
type Template struct {
	TemplateName string `json:"TemplateName" yaml:"name"`
	SubjectPart  string `json:"SubjectPart" yaml:"subject"`
	HtmlPart     string `json:"HtmlPart" yaml:"html"`
	TextPart     string `json:"TextPart" yaml:"text"`
}

// Rendered is a template with its placeholders substituted.
type Rendered struct {
	Subject string
	Html    string
	Text    string
}

// Store looks templates up by name.
type Store interface {
	Find(ctx context.Context, name string) (*Template, error)
}

// Render substitutes data into every part of t. Placeholders without a
// value render as empty strings. Render has no side effects, so the same
// input always yields the same output.
func Render(t *Template, data map[string]any) (*Rendered, error) {
	if data == nil {
		data = map[string]any{}
	}

	subject, err := renderPart("subject", t.SubjectPart, data)
	if err != nil {
		return nil, err
	}
	html, err := renderPart("html", t.HtmlPart, data)
	if err != nil {
		return nil, err
	}
	text, err := renderPart("text", t.TextPart, data)
	if err != nil {
		return nil, err
	}

	return &Rendered{Subject: subject, Html: html, Text: text}, nil
}

func renderPart(part, source string, data map[string]any) (string, error) {
	if source == "" {
		return "", nil
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", fmt.Errorf("%w: %s part: %v", ErrRender, part, err)
	}
	out, err := tpl.Exec(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s part: %v", ErrRender, part, err)
	}
	return out, nil
}
