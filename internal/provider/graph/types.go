// Package graph implements a Transport that sends emails via the Microsoft Graph API.
package graph

import (
	"net/mail"

	"github.com/djshoppre/emailq/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string           `json:"subject"`
	Body                   messageBody      `json:"body"`
	ToRecipients           []recipient      `json:"toRecipients"`
	CcRecipients           []recipient      `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient      `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient      `json:"replyTo,omitempty"`
	InternetMessageHeaders []internetHeader `json:"internetMessageHeaders,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail request body.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	req := &sendMailRequest{
		Message: sendMailMessage{
			Subject:       msg.Subject,
			Body:          body,
			ToRecipients:  recipients(msg.To),
			CcRecipients:  recipients(msg.Cc),
			BccRecipients: recipients(msg.Bcc),
			ReplyTo:       recipients(msg.ReplyTo),
		},
		SaveToSentItems: false,
	}
	if msg.Template != "" {
		req.Message.InternetMessageHeaders = []internetHeader{{Name: email.TemplateHeader, Value: msg.Template}}
	}
	return req
}

// recipients converts address strings, which may carry a display name, into
// Graph recipients. Unparseable entries are passed through as-is.
func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
			continue
		}
		out = append(out, recipient{EmailAddress: emailAddress{Address: parsed.Address, Name: parsed.Name}})
	}
	return out
}
