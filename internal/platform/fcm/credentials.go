// --- File: internal/platform/fcm/credentials.go ---
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/tinywideclouds/go-contact-push-service/internal/metrics"
)

// MessagingScope is the OAuth scope required by the FCM HTTP v1 API.
const MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// defaultTokenTTL is used when the token endpoint does not report an expiry.
const defaultTokenTTL = 55 * time.Minute

type CredentialErrorKind int

const (
	CredentialMissing CredentialErrorKind = iota
	CredentialInvalidFormat
	CredentialExchange
)

func (k CredentialErrorKind) String() string {
	switch k {
	case CredentialMissing:
		return "missing"
	case CredentialInvalidFormat:
		return "invalid_format"
	case CredentialExchange:
		return "exchange_failed"
	}
	return "unknown"
}

// CredentialError is fatal for the direct channel only.
type CredentialError struct {
	Kind CredentialErrorKind
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fcm credentials %s", e.Kind)
	}
	return fmt.Sprintf("fcm credentials %s: %v", e.Kind, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ServiceAccount is the subset of the credentials file we inspect.
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// ParseServiceAccount checks that raw is a JSON service-account document.
func ParseServiceAccount(raw string) (ServiceAccount, error) {
	var sa ServiceAccount
	if strings.TrimSpace(raw) == "" {
		return sa, &CredentialError{Kind: CredentialMissing}
	}
	if err := json.Unmarshal([]byte(raw), &sa); err != nil {
		return sa, &CredentialError{Kind: CredentialInvalidFormat, Err: err}
	}
	return sa, nil
}

// Exchanger performs one assertion exchange against the token endpoint.
type Exchanger interface {
	Exchange(ctx context.Context) (accessToken string, ttl time.Duration, err error)
}

type googleExchanger struct {
	conf *jwt.Config
}

// NewGoogleExchanger signs service-account assertions with the key in raw.
func NewGoogleExchanger(raw []byte) (Exchanger, error) {
	conf, err := google.JWTConfigFromJSON(raw, MessagingScope)
	if err != nil {
		return nil, err
	}
	return &googleExchanger{conf: conf}, nil
}

func (g *googleExchanger) Exchange(ctx context.Context) (string, time.Duration, error) {
	// A fresh TokenSource so the exchange is never served from oauth2's own cache.
	tok, err := g.conf.TokenSource(ctx).Token()
	if err != nil {
		return "", 0, err
	}
	ttl := defaultTokenTTL
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
	}
	return tok.AccessToken, ttl, nil
}

type credentialSnapshot struct {
	token  string
	expiry time.Time
}

// CredentialCache holds the service-account credentials and the short-lived
// bearer token minted from them. It is built once per process and shared.
type CredentialCache struct {
	projectID string
	account   ServiceAccount
	exchanger Exchanger
	now       func() time.Time
	logger    *slog.Logger

	current atomic.Pointer[credentialSnapshot]
}

type CredentialOption func(*CredentialCache)

// WithExchanger replaces the Google token exchange, mostly for tests.
func WithExchanger(e Exchanger) CredentialOption {
	return func(c *CredentialCache) { c.exchanger = e }
}

func WithClock(now func() time.Time) CredentialOption {
	return func(c *CredentialCache) { c.now = now }
}

// NewCredentialCache fails fast when the raw secret is absent or not valid
// service-account JSON.
func NewCredentialCache(projectID, rawCredentials string, logger *slog.Logger, opts ...CredentialOption) (*CredentialCache, error) {
	account, err := ParseServiceAccount(rawCredentials)
	if err != nil {
		return nil, err
	}

	c := &CredentialCache{
		projectID: projectID,
		account:   account,
		now:       time.Now,
		logger:    logger.With("component", "FCMCredentialCache"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.exchanger == nil {
		exchanger, err := NewGoogleExchanger([]byte(rawCredentials))
		if err != nil {
			return nil, &CredentialError{Kind: CredentialInvalidFormat, Err: err}
		}
		c.exchanger = exchanger
	}
	return c, nil
}

func (c *CredentialCache) ProjectID() string {
	return c.projectID
}

func (c *CredentialCache) ServiceAccountEmail() string {
	return c.account.ClientEmail
}

// BearerToken returns the cached token, exchanging a new one when none is
// cached or the cached one expired at or before now. Concurrent refreshes
// may both hit the endpoint; the last one stored wins.
func (c *CredentialCache) BearerToken(ctx context.Context) (string, error) {
	if snap := c.current.Load(); snap != nil && c.now().Before(snap.expiry) {
		return snap.token, nil
	}

	token, ttl, err := c.exchanger.Exchange(ctx)
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		c.logger.Error("Failed to obtain FCM access token", "err", err)
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			return "", credErr
		}
		return "", &CredentialError{Kind: CredentialExchange, Err: err}
	}

	expiry := c.now().Add(ttl)
	c.current.Store(&credentialSnapshot{token: token, expiry: expiry})
	metrics.CredentialRefreshes.WithLabelValues("ok").Inc()
	c.logger.Debug("FCM access token refreshed", "expires_at", expiry)
	return token, nil
}

// Invalidate drops the cached token so the next call exchanges again.
func (c *CredentialCache) Invalidate() {
	c.current.Store(nil)
}

// UnavailableCredentials is a token source for deployments whose credentials
// failed to load at startup. Every call reports the original error.
type UnavailableCredentials struct {
	Err error
}

func (u UnavailableCredentials) BearerToken(context.Context) (string, error) {
	var credErr *CredentialError
	if errors.As(u.Err, &credErr) {
		return "", credErr
	}
	return "", &CredentialError{Kind: CredentialInvalidFormat, Err: u.Err}
}
