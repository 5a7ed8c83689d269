// Package email defines the message data model shared by the submission
// pipeline, the MIME parser and the mail transports.
package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Email is a structured message ready to be handed to a transport.
type Email struct {
	From             string
	ReplyTo          []string
	ReturnPath       string
	To               []string
	Cc               []string
	Bcc              []string
	Subject          string
	TextBody         string
	HtmlBody         string
	Charset          string
	Tags             []Tag
	ConfigurationSet string

	// Template is the name of the template the message was rendered from.
	// Transports that support tagging attach it to the send.
	Template string
}

// Recipients returns To, Cc and Bcc in a single slice.
func (e *Email) Recipients() []string {
	all := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	all = append(all, e.To...)
	all = append(all, e.Cc...)
	return append(all, e.Bcc...)
}

// Tag is a name/value pair attached to a send for event attribution.
type Tag struct {
	Name  string
	Value string
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// String renders the address as `"Name" <addr>` when a display name is
// present and as the bare address otherwise.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Address)
}

// Envelope is the transport-level addressing of a raw message. It is
// distinct from the headers inside the MIME body.
type Envelope struct {
	From string
	To   []string
	Cc   []string
	Bcc  []string
}

// Recipients returns all envelope recipients.
func (e Envelope) Recipients() []string {
	all := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	all = append(all, e.To...)
	all = append(all, e.Cc...)
	return append(all, e.Bcc...)
}

// RawMessage is a MIME message sent as-is with an explicit envelope.
type RawMessage struct {
	Envelope         Envelope
	Raw              []byte
	ConfigurationSet string
	Tags             []Tag
}

// Parsed is the result of parsing a raw MIME message.
type Parsed struct {
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Subject     string
	TextBody    string
	HtmlBody    string
	MessageID   string
	Attachments []Attachment
	RawHeaders  map[string][]string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Addresses returns the bare addresses of list, skipping blank entries.
func Addresses(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if strings.TrimSpace(a.Address) == "" {
			continue
		}
		out = append(out, a.Address)
	}
	return out
}

// NewMessageID returns an identifier shaped like the ones SES hands out:
// a hex millisecond timestamp, a UUID and a fixed suffix.
func NewMessageID() string {
	return fmt.Sprintf("%016x-%s-000000", time.Now().UnixMilli(), uuid.NewString())
}
