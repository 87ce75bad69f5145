// --- File: internal/platform/fcm/fcmdispatcher.go ---
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

// DefaultEndpoint is the FCM HTTP v1 host.
const DefaultEndpoint = "https://fcm.googleapis.com"

const maxResponseBody = 64 << 10

// tokenErrorCodes are the provider codes that prove the device token itself
// is unusable.
var tokenErrorCodes = []string{
	"UNREGISTERED",
	"INVALID_ARGUMENT",
	"NOT_FOUND",
	"NOTREGISTERED",
	"INVALIDREGISTRATION",
	"REGISTRATION-TOKEN-NOT-REGISTERED",
}

// IsTokenError reports whether a provider error code or message points at a
// dead or malformed device token.
func IsTokenError(code string) bool {
	upper := strings.ToUpper(code)
	for _, c := range tokenErrorCodes {
		if strings.Contains(upper, c) {
			return true
		}
	}
	return false
}

// NewMessage builds the v1 message envelope shared by both channels.
func NewMessage(p dispatch.Payload) *messaging.Message {
	badge := 1
	return &messaging.Message{
		Token: p.Token,
		Data:  p.Data,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
					Badge: &badge,
				},
			},
		},
	}
}

type sendRequest struct {
	Message *messaging.Message `json:"message"`
}

type errorDetail struct {
	Type      string `json:"@type"`
	ErrorCode string `json:"errorCode"`
}

type apiError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Status  string        `json:"status"`
	Details []errorDetail `json:"details"`
}

// errorCode prefers the FCM specific code over the generic RPC status.
func (e *apiError) errorCode() string {
	for _, d := range e.Details {
		if d.ErrorCode != "" {
			return d.ErrorCode
		}
	}
	return e.Status
}

type sendResponse struct {
	Name  string    `json:"name"`
	Error *apiError `json:"error"`
}

type Option func(*Dispatcher)

// WithEndpoint points the dispatcher at another host, e.g. an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(d *Dispatcher) { d.endpoint = strings.TrimRight(endpoint, "/") }
}

// Dispatcher sends one message per call to the FCM HTTP v1 API.
type Dispatcher struct {
	cfg        *config.PushConfig
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDispatcher(cfg *config.PushConfig, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	d := &Dispatcher{
		cfg:        cfg,
		endpoint:   DefaultEndpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "FCMDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send returns an error only when no HTTP response was obtained.
func (d *Dispatcher) Send(ctx context.Context, payload dispatch.Payload, bearerToken string) (dispatch.Outcome, error) {
	body, err := json.Marshal(sendRequest{Message: NewMessage(payload)})
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("failed to encode fcm message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", d.endpoint, d.cfg.FirebaseProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("failed to build fcm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("fcm transport failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		d.logger.Warn("Failed to read FCM response body", "status", resp.StatusCode, "err", err)
	}

	outcome := classify(resp.StatusCode, respBody)
	d.logger.Debug("FCM responded", "status", resp.StatusCode, "outcome", outcome.String())
	return outcome, nil
}

func classify(code int, body []byte) dispatch.Outcome {
	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	reason := func(fallback string) string {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		return fallback
	}

	switch {
	case code == http.StatusOK:
		if parsed.Error == nil {
			return dispatch.Outcome{Status: dispatch.Delivered, Channel: dispatch.ChannelDirect, StatusCode: code}
		}
		errCode := parsed.Error.errorCode()
		if IsTokenError(errCode) {
			return dispatch.Permanent(dispatch.ChannelDirect, code, "token rejected: "+errCode, true)
		}
		return dispatch.Transient(dispatch.ChannelDirect, code, "provider error: "+errCode)

	case code == http.StatusBadRequest:
		return dispatch.Permanent(dispatch.ChannelDirect, code, reason("invalid registration token"), true)
	case code == http.StatusNotFound:
		return dispatch.Permanent(dispatch.ChannelDirect, code, reason("token not registered"), true)

	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return dispatch.Permanent(dispatch.ChannelDirect, code, "credential rejected", false)

	case code == http.StatusTooManyRequests:
		return dispatch.Transient(dispatch.ChannelDirect, code, "rate limited")
	case code >= 500:
		return dispatch.Transient(dispatch.ChannelDirect, code, reason("provider unavailable"))
	}
	return dispatch.Transient(dispatch.ChannelDirect, code, fmt.Sprintf("unexpected status %d", code))
}
