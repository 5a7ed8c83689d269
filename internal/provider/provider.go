// Package provider defines the interface for mail transports.
package provider

import (
	"context"
	"errors"

	"github.com/djshoppre/emailq/internal/email"
)

// ErrRawUnsupported is returned by transports that cannot relay a raw MIME
// message unchanged.
var ErrRawUnsupported = errors.New("provider: raw messages are not supported")

// Transport is the interface that mail delivery backends must implement.
// Each call is a single attempt; transports do not retry.
type Transport interface {
	// Send delivers a structured message and returns the provider's
	// message id.
	Send(ctx context.Context, msg *email.Email) (string, error)

	// SendRaw delivers a raw MIME message to the envelope recipients and
	// returns the provider's message id.
	SendRaw(ctx context.Context, msg *email.RawMessage) (string, error)

	// Name returns the human-readable name of this transport.
	Name() string
}
