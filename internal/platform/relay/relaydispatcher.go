// Package relay delivers through the hosted push relay hub, which forwards to
// the provider on behalf of an installation that holds no credentials.
package relay

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

	"github.com/tinywideclouds/go-contact-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

const maxResponseBody = 64 << 10

var transientMarkers = []string{"UNAVAILABLE", "INTERNAL", "QUOTA_EXCEEDED", "TIMEOUT", "DEADLINE_EXCEEDED"}

type sendRequest struct {
	InstallationIdentifier string             `json:"installation_identifier"`
	Message                *messaging.Message `json:"message"`
}

type sendResponse struct {
	Success   *bool  `json:"success"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type Dispatcher struct {
	cfg        *config.PushConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDispatcher(cfg *config.PushConfig, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Dispatcher{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("component", "RelayDispatcher"),
	}
}

// Send posts the payload to {RelayBaseURL}/send_push. Network failures are
// returned as errors; every HTTP response becomes an outcome.
func (d *Dispatcher) Send(ctx context.Context, payload dispatch.Payload) (dispatch.Outcome, error) {
	body, err := json.Marshal(sendRequest{
		InstallationIdentifier: d.cfg.InstallationID,
		Message:                fcm.NewMessage(payload),
	})
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("failed to encode relay request: %w", err)
	}

	baseURL := d.cfg.RelayBaseURL
	if baseURL == "" {
		baseURL = config.DefaultRelayBaseURL
	}
	url := strings.TrimRight(baseURL, "/") + "/send_push"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("relay transport failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		d.logger.Warn("Failed to read relay response body", "status", resp.StatusCode, "err", err)
	}

	outcome := classify(resp.StatusCode, respBody)
	d.logger.Debug("Relay hub responded", "status", resp.StatusCode, "outcome", outcome.String())
	return outcome, nil
}

func classify(code int, body []byte) dispatch.Outcome {
	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return dispatch.Transient(dispatch.ChannelRelay, code, reasonOr(parsed.Error, fmt.Sprintf("relay hub status %d", code)))
	case code < 200 || code >= 300:
		return dispatch.Permanent(dispatch.ChannelRelay, code,
			reasonOr(parsed.Error, fmt.Sprintf("relay hub rejected request with status %d", code)),
			parsed.Error != "" && fcm.IsTokenError(parsed.Error))
	}

	failed := (parsed.Success != nil && !*parsed.Success) || parsed.Error != ""
	if !failed {
		return dispatch.Outcome{Status: dispatch.Delivered, Channel: dispatch.ChannelRelay, StatusCode: code}
	}

	reason := reasonOr(parsed.Error, "relay hub reported failure")
	if parsed.Retryable || hasTransientMarker(parsed.Error) {
		return dispatch.Transient(dispatch.ChannelRelay, code, reason)
	}
	return dispatch.Permanent(dispatch.ChannelRelay, code, reason, fcm.IsTokenError(parsed.Error))
}

func hasTransientMarker(errText string) bool {
	upper := strings.ToUpper(errText)
	for _, m := range transientMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
