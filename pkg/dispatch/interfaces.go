// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// MessageStore resolves a message together with its conversation, contact
// and account. Missing links are returned as nil references, not errors.
type MessageStore interface {
	FindMessage(ctx context.Context, messageID string) (*Message, error)
}

// ContactStore persists device token invalidation.
type ContactStore interface {
	// ClearPushToken must be idempotent.
	ClearPushToken(ctx context.Context, contactID string) error
}

// ReceiptStore remembers which messages already produced a push so that
// at-least-once job delivery does not notify twice.
type ReceiptStore interface {
	AlreadyNotified(ctx context.Context, messageID string) (bool, error)
	MarkNotified(ctx context.Context, messageID string) error
	MarkFailed(ctx context.Context, messageID string, reason string) error
}

// DirectSender delivers through the push provider with a bearer token.
type DirectSender interface {
	Send(ctx context.Context, payload Payload, bearerToken string) (Outcome, error)
}

// RelaySender delivers through the hosted relay hub.
type RelaySender interface {
	Send(ctx context.Context, payload Payload) (Outcome, error)
}

// TokenAudit summarises the push tokens held on contacts.
type TokenAudit struct {
	Contacts      int `json:"contacts"`
	WithToken     int `json:"with_token"`
	InvalidFormat int `json:"invalid_format"`
}

// TokenSource yields the provider bearer token.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}
