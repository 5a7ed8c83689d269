package submission

import (
	"fmt"
	"strings"
)

// Kind classifies a rejected submission. Every kind is reported to the
// client as a 400 response.
type Kind string

const (
	IdentityNotAuthorized Kind = "IdentityNotAuthorized"
	MalformedAddress      Kind = "MalformedAddress"
	BlankDestination      Kind = "BlankDestination"
	BlankRecipients       Kind = "BlankRecipients"
	TemplateNotFound      Kind = "TemplateNotFound"
	MissingSource         Kind = "MissingSource"
	InvalidTemplateData   Kind = "InvalidTemplateData"
	RenderFailure         Kind = "RenderFailure"
	MalformedRawMessage   Kind = "MalformedRawMessage"
	InvalidAction         Kind = "InvalidAction"
)

// Rejection is a request refused before anything was dispatched.
type Rejection struct {
	Kind Kind
	// Identities lists the sender identities that failed authorization.
	Identities []string
	// Template is the requested template name for TemplateNotFound and
	// render failures.
	Template string
	Detail   string
}

func (r *Rejection) Error() string {
	var b strings.Builder
	b.WriteString("submission rejected: ")
	b.WriteString(string(r.Kind))
	if len(r.Identities) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(r.Identities, ","))
	}
	if r.Template != "" {
		fmt.Fprintf(&b, " template=%s", r.Template)
	}
	if r.Detail != "" {
		b.WriteString(": ")
		b.WriteString(r.Detail)
	}
	return b.String()
}

func reject(kind Kind, detail string) *Rejection {
	return &Rejection{Kind: kind, Detail: detail}
}
