package server

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/djshoppre/emailq/internal/request"
	"github.com/djshoppre/emailq/internal/response"
	"github.com/djshoppre/emailq/internal/submission"
	"github.com/djshoppre/emailq/internal/webhook"
)

// handlerFunc is an HTTP handler whose errors go to the central error
// handler.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// badRequestError is a malformed HTTP request that never reached the
// pipeline.
type badRequestError struct {
	code    string
	message string
}

func (e *badRequestError) Error() string {
	return e.code + ": " + e.message
}

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.handleError(w, r, err)
		}
	}
}

// handleError turns rejections into 400 responses and everything else
// into a 500 InternalFailure.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := RequestID(r.Context())

	var rej *submission.Rejection
	if errors.As(err, &rej) {
		slog.Info("request rejected",
			"request_id", reqID,
			"kind", rej.Kind,
			"error", err,
		)
		response.Write(w, http.StatusBadRequest, response.Rejection(rej, reqID))
		return
	}

	var bad *badRequestError
	if errors.As(err, &bad) {
		slog.Info("bad request", "request_id", reqID, "error", err)
		response.Write(w, http.StatusBadRequest, response.Error("Sender", bad.code, bad.message, reqID))
		return
	}

	slog.Error("request failed",
		"request_id", reqID,
		"transport", s.config.Transport,
		"error", err,
	)
	response.Write(w, http.StatusInternalServerError, response.InternalFailure(reqID))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) error {
	tree, err := readBody(w, r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	reqID := RequestID(ctx)
	action := tree.String("Action")

	var body []byte
	switch action {
	case "", "SendEmail":
		id, err := s.config.Submitter.Send(ctx, request.ParseEmail(tree))
		if err != nil {
			return err
		}
		body = response.SendEmail(id, reqID)
	case "SendTemplatedEmail":
		id, err := s.config.Submitter.SendTemplated(ctx, request.ParseEmail(tree))
		if err != nil {
			return err
		}
		body = response.SendTemplatedEmail(id, reqID)
	case "SendBulkTemplatedEmail":
		ids, err := s.config.Submitter.SendBulkTemplated(ctx, request.ParseBulk(tree))
		if err != nil {
			return err
		}
		body = response.SendBulkTemplatedEmail(ids, reqID)
	case "SendRawEmail":
		id, err := s.config.Submitter.SendRaw(ctx, request.ParseRaw(tree))
		if err != nil {
			return err
		}
		body = response.SendRawEmail(id, reqID)
	default:
		return &submission.Rejection{Kind: submission.InvalidAction, Detail: action}
	}

	response.Write(w, http.StatusOK, body)
	return nil
}

// readBody decodes a form-encoded or JSON request body.
func readBody(w http.ResponseWriter, r *http.Request) (request.Tree, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		tree, err := request.FromJSON(r.Body)
		if err != nil {
			return nil, &badRequestError{code: "MalformedInput", message: err.Error()}
		}
		return tree, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, &badRequestError{code: "MalformedQueryString", message: err.Error()}
	}
	return request.Unflatten(r.Form), nil
}

// handleClick redirects to the tracked link and reports the click in the
// background.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	link := query.Get("url")
	if link == "" {
		return &badRequestError{code: "ValidationError", message: "Missing required parameter url"}
	}

	ev := webhook.ClickEvent{
		MessageID: query.Get("messageId"),
		IPAddress: clientIP(r),
		Link:      link,
		LinkTags:  map[string][]string{},
		Timestamp: time.Now(),
		UserAgent: r.UserAgent(),
	}
	for key, values := range query {
		if key == "url" || key == "messageId" {
			continue
		}
		ev.LinkTags[key] = values
	}

	http.Redirect(w, r, link, http.StatusFound)

	if s.config.Notifier == nil {
		return nil
	}
	ctx := context.WithoutCancel(r.Context())
	reqID := RequestID(r.Context())
	if !s.trackWebhook() {
		slog.Warn("click webhook skipped: server shutting down",
			"request_id", reqID,
			"message_id", ev.MessageID,
		)
		return nil
	}
	go func() {
		defer s.webhooks.Done()
		ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
		defer cancel()
		if err := s.config.Notifier.Click(ctx, ev); err != nil {
			slog.Warn("click webhook failed",
				"request_id", reqID,
				"message_id", ev.MessageID,
				"error", err,
			)
		}
	}()
	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
