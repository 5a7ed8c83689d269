// Package parser provides RFC 5322 email message parsing with MIME multipart support.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/djshoppre/emailq/internal/email"
)

// wordDecoder decodes RFC 2047 encoded-words in headers, including
// non-UTF-8 charsets.
var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Parse parses a raw RFC 5322 email message. Address headers are returned
// as mailbox lists with decoded display names; text and HTML bodies are
// decoded to UTF-8. Unrecognized MIME parts are logged as warnings.
func Parse(raw []byte) (*email.Parsed, error) {
	msg, result, err := readHeaders(raw)
	if err != nil {
		return nil, err
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.TextBody = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/plain":
		result.TextBody = string(body)
	case "text/html":
		result.HtmlBody = string(body)
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.TextBody = string(body)
	}

	return result, nil
}

// ParseHeaders parses only the header section of a raw RFC 5322 message.
// The body is never read, so a body that would not decode is not an error.
func ParseHeaders(raw []byte) (*email.Parsed, error) {
	_, result, err := readHeaders(raw)
	return result, err
}

func readHeaders(raw []byte) (*mail.Message, *email.Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Parsed{
		RawHeaders: make(map[string][]string),
	}
	for key, values := range msg.Header {
		result.RawHeaders[key] = values
	}

	result.From = parseAddressList(msg.Header.Get("From"))
	result.To = parseAddressList(msg.Header.Get("To"))
	result.Cc = parseAddressList(msg.Header.Get("Cc"))
	result.Bcc = parseAddressList(msg.Header.Get("Bcc"))
	result.MessageID = msg.Header.Get("Message-Id")
	result.Subject = decodeHeader(msg.Header.Get("Subject"))
	return msg, result, nil
}

// parseMultipart processes a multipart MIME message body, extracting text/plain,
// text/html parts and attachments.
func parseMultipart(body io.Reader, boundary string, result *email.Parsed) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		contentDisposition := part.Header.Get("Content-Disposition")
		isAttachment := strings.HasPrefix(contentDisposition, "attachment")

		charset := params["charset"]
		if isAttachment || !strings.HasPrefix(mediaType, "text/") {
			charset = ""
		}

		// multipart.Reader already strips quoted-printable.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), charset)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		if isAttachment {
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    extractFilename(part, params),
				ContentType: mediaType,
				Content:     content,
			})
			continue
		}

		switch mediaType {
		case "text/plain":
			if result.TextBody == "" {
				result.TextBody = string(content)
			}
		case "text/html":
			if result.HtmlBody == "" {
				result.HtmlBody = string(content)
			}
		default:
			if part.FileName() != "" || params["name"] != "" {
				result.Attachments = append(result.Attachments, email.Attachment{
					Filename:    extractFilename(part, params),
					ContentType: mediaType,
					Content:     content,
				})
			} else {
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
					"disposition", contentDisposition,
				)
			}
		}
	}

	return nil
}

// decodeBody reads r, undoing the Content-Transfer-Encoding and converting
// from charset to UTF-8 when a charset is given.
func decodeBody(r io.Reader, encoding, charset string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var decoded []byte
	switch encoding {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err = base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
	case "quoted-printable":
		decoded, err = io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
	default:
		decoded = raw
	}

	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
		return decoded, nil
	}
	converted, err := charsetReader(charset, bytes.NewReader(decoded))
	if err != nil {
		return decoded, nil
	}
	out, err := io.ReadAll(converted)
	if err != nil {
		slog.Warn("failed to convert charset, keeping raw bytes", "charset", charset, "error", err)
		return decoded, nil
	}
	return out, nil
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	if mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type")); err == nil {
		if _, sub, ok := strings.Cut(mediaType, "/"); ok {
			return "attachment." + sub
		}
	}
	return "attachment"
}

// parseAddressList parses an address header into mailboxes. Entries that do
// not parse as RFC 5322 are kept verbatim as bare addresses so that later
// validation can reject them.
func parseAddressList(raw string) []email.Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parser := mail.AddressParser{WordDecoder: wordDecoder}
	addresses, err := parser.ParseList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]email.Address, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, email.Address{Address: trimmed})
			}
		}
		return result
	}

	result := make([]email.Address, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, email.Address{Name: addr.Name, Address: addr.Address})
	}
	return result
}

func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if charset == "" {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
