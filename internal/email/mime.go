package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"
)

// TemplateHeader names the header that carries the template a message was
// rendered from.
const TemplateHeader = "X-Emailq-Template"

const messageIDDomain = "emailq.local"

// ErrHeaderInjection is returned when a header value contains a line break.
var ErrHeaderInjection = errors.New("header value contains CR or LF")

// BuildMIME renders a structured message as an RFC 5322 message with a
// multipart/alternative body. It is used by transports that only speak
// raw MIME. A non-empty messageID is written as the Message-ID header.
// Header values containing CR or LF are rejected with ErrHeaderInjection.
func BuildMIME(msg *Email, messageID string) ([]byte, error) {
	var buf bytes.Buffer

	charset := msg.Charset
	if charset == "" {
		charset = "UTF-8"
	}

	headers := []struct {
		name   string
		values []string
	}{
		{"From", []string{msg.From}},
		{"To", msg.To},
		{"Cc", msg.Cc},
		{"Reply-To", msg.ReplyTo},
		{TemplateHeader, []string{msg.Template}},
		{"Message-ID", []string{messageID}},
	}
	for _, h := range headers {
		for _, v := range h.values {
			if strings.ContainsAny(v, "\r\n") {
				return nil, fmt.Errorf("%w: %s", ErrHeaderInjection, h.name)
			}
		}
	}

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.ReplyTo) > 0 {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", strings.Join(msg.ReplyTo, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode(charset, msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if messageID != "" {
		fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", messageID, messageIDDomain)
	}
	if msg.Template != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", TemplateHeader, msg.Template)
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())

	parts := []struct {
		mediaType string
		body      string
	}{
		{"text/plain", msg.TextBody},
		{"text/html", msg.HtmlBody},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", fmt.Sprintf("%s; charset=%s", p.mediaType, charset))
		header.Set("Content-Transfer-Encoding", "base64")
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", p.mediaType, err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks([]byte(p.body)))); err != nil {
			return nil, fmt.Errorf("failed to write %s part: %w", p.mediaType, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
