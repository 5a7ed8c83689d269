// Package response renders SES Query API XML envelopes.
package response

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/djshoppre/emailq/internal/submission"
)

// ContentType is sent with every XML response.
const ContentType = "text/xml; charset=utf-8"

const sendEmailXML = `<SendEmailResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <SendEmailResult>
    <MessageId>{{MessageId}}</MessageId>
  </SendEmailResult>
  <ResponseMetadata>
    <RequestId>{{RequestId}}</RequestId>
  </ResponseMetadata>
</SendEmailResponse>
`

const sendTemplatedEmailXML = `<SendTemplatedEmailResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <SendTemplatedEmailResult>
    <MessageId>{{MessageId}}</MessageId>
  </SendTemplatedEmailResult>
  <ResponseMetadata>
    <RequestId>{{RequestId}}</RequestId>
  </ResponseMetadata>
</SendTemplatedEmailResponse>
`

const sendBulkTemplatedEmailXML = `<SendBulkTemplatedEmailResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <SendBulkTemplatedEmailResult>
    <Status>{{Members}}
    </Status>
  </SendBulkTemplatedEmailResult>
  <ResponseMetadata>
    <RequestId>{{RequestId}}</RequestId>
  </ResponseMetadata>
</SendBulkTemplatedEmailResponse>
`

const bulkMemberXML = `
      <member>
        <MessageId>{{MessageId}}</MessageId>
        <Status>Success</Status>
      </member>`

const sendRawEmailXML = `<SendRawEmailResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <SendRawEmailResult>
    <MessageId>{{MessageId}}</MessageId>
  </SendRawEmailResult>
  <ResponseMetadata>
    <RequestId>{{RequestId}}</RequestId>
  </ResponseMetadata>
</SendRawEmailResponse>
`

const errorXML = `<ErrorResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <Error>
    <Type>{{Type}}</Type>
    <Code>{{Code}}</Code>
    <Message>{{Message}}</Message>
  </Error>
  <RequestId>{{RequestId}}</RequestId>
</ErrorResponse>
`

// NewRequestID returns a fresh request id.
func NewRequestID() string {
	return uuid.NewString()
}

// SendEmail renders a SendEmail success.
func SendEmail(messageID, requestID string) []byte {
	return fill(sendEmailXML, "MessageId", messageID, "RequestId", requestID)
}

// SendTemplatedEmail renders a SendTemplatedEmail success.
func SendTemplatedEmail(messageID, requestID string) []byte {
	return fill(sendTemplatedEmailXML, "MessageId", messageID, "RequestId", requestID)
}

// SendBulkTemplatedEmail renders one member per message id, in order.
func SendBulkTemplatedEmail(messageIDs []string, requestID string) []byte {
	var members strings.Builder
	for _, id := range messageIDs {
		members.Write(fill(bulkMemberXML, "MessageId", id))
	}
	out := fill(sendBulkTemplatedEmailXML, "RequestId", requestID)
	return bytes.Replace(out, []byte("{{Members}}"), []byte(members.String()), 1)
}

// SendRawEmail renders a SendRawEmail success.
func SendRawEmail(messageID, requestID string) []byte {
	return fill(sendRawEmailXML, "MessageId", messageID, "RequestId", requestID)
}

// Error renders an ErrorResponse. errType is "Sender" or "Receiver".
func Error(errType, code, message, requestID string) []byte {
	return fill(errorXML, "Type", errType, "Code", code, "Message", message, "RequestId", requestID)
}

// Rejection renders the client error for a rejected submission.
func Rejection(rej *submission.Rejection, requestID string) []byte {
	code, message := describe(rej)
	return Error("Sender", code, message, requestID)
}

// InternalFailure renders the server error used for unexpected failures.
func InternalFailure(requestID string) []byte {
	return Error("Receiver", "InternalFailure", "The request processing has failed because of an unknown error, exception or failure.", requestID)
}

// Write sends body with the XML content type.
func Write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	w.Write(body)
}

func describe(rej *submission.Rejection) (code, message string) {
	switch rej.Kind {
	case submission.IdentityNotAuthorized:
		return "MessageRejected", "Email address is not verified. The following identities failed the check in region US-EAST-1: " +
			strings.Join(rej.Identities, ",")
	case submission.MalformedAddress:
		return "InvalidParameterValue", "Illegal address"
	case submission.BlankDestination:
		return "ValidationError", "1 validation error detected: Value null at 'destination' failed to satisfy constraint: Member must not be null"
	case submission.BlankRecipients:
		return "InvalidParameterValue", "Missing final '@domain'"
	case submission.TemplateNotFound:
		return "TemplateDoesNotExist", "Template " + rej.Template + " does not exist."
	case submission.MissingSource:
		return "InvalidParameterValue", "Missing required header 'From'."
	case submission.InvalidTemplateData:
		return "InvalidParameterValue", "Template data must be a JSON object: " + rej.Detail
	case submission.RenderFailure:
		return "InvalidTemplate", "Template " + rej.Template + " could not be rendered: " + rej.Detail
	case submission.MalformedRawMessage:
		return "InvalidParameterValue", "Could not parse raw message: " + rej.Detail
	case submission.InvalidAction:
		return "InvalidAction", "Could not find operation " + rej.Detail + " for version 2010-12-01"
	default:
		return "InvalidParameterValue", rej.Error()
	}
}

// fill substitutes {{key}} placeholders. pairs alternate key and value;
// values are XML escaped.
func fill(tpl string, pairs ...string) []byte {
	args := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		args = append(args, "{{"+pairs[i]+"}}", escape(pairs[i+1]))
	}
	return []byte(strings.NewReplacer(args...).Replace(tpl))
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
