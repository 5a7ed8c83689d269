package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/djshoppre/emailq/internal/response"
)

type requestIDKey struct{}

// requestIDHeaders are checked in order for an upstream request id.
var requestIDHeaders = []string{"X-Amzn-RequestId", "X-Request-ID", "X-Correlation-ID"}

// requestID stores a request id in the context and echoes it in the
// x-amzn-RequestId response header. Upstream ids are preserved.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		for _, h := range requestIDHeaders {
			if v := r.Header.Get(h); v != "" {
				id = v
				break
			}
		}
		if id == "" {
			id = response.NewRequestID()
		}
		w.Header().Set("X-Amzn-RequestId", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request id stored by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info("http request",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}
