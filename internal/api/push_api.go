package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-contact-push-service/internal/diagnostics"
	"github.com/tinywideclouds/go-contact-push-service/internal/jobs"
)

// JobExecutor is satisfied by jobs.Runner.
type JobExecutor interface {
	Execute(ctx context.Context, messageID string) (jobs.Result, error)
}

type DiagnosticsReporter interface {
	Report(ctx context.Context) diagnostics.Report
}

type PushAPI struct {
	Jobs        JobExecutor
	Diagnostics DiagnosticsReporter
	Logger      *slog.Logger
}

func NewPushAPI(runner JobExecutor, reporter DiagnosticsReporter, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Jobs:        runner,
		Diagnostics: reporter,
		Logger:      logger.With("component", "PushAPI"),
	}
}

// PushResponse summarises a manually triggered job.
type PushResponse struct {
	JobID           string `json:"job_id"`
	MessageID       string `json:"message_id"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	Channel         string `json:"channel,omitempty"`
	StatusCode      int    `json:"status_code,omitempty"`
	Attempts        int    `json:"attempts"`
	AlreadyNotified bool   `json:"already_notified,omitempty"`
	Abandoned       bool   `json:"abandoned,omitempty"`
}

// TriggerPush runs the push job for one message synchronously.
func (api *PushAPI) TriggerPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	messageID := strings.TrimSpace(r.PathValue("id"))
	if messageID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing message id")
		return
	}

	result, err := api.Jobs.Execute(ctx, messageID)
	if err != nil {
		api.Logger.Warn("Manual push interrupted", "message_id", messageID, "operator", operator, "err", err)
		response.WriteJSONError(w, http.StatusServiceUnavailable, "push job interrupted")
		return
	}
	if result.NotFound {
		response.WriteJSONError(w, http.StatusNotFound, "message not found")
		return
	}

	api.Logger.Info("Manual push finished", "message_id", messageID, "operator", operator,
		"job_id", result.JobID, "outcome", result.Outcome.String())

	writeJSON(w, http.StatusOK, PushResponse{
		JobID:           result.JobID,
		MessageID:       messageID,
		Status:          statusOf(result),
		Reason:          result.Outcome.Reason,
		Channel:         string(result.Outcome.Channel),
		StatusCode:      result.Outcome.StatusCode,
		Attempts:        result.Attempts,
		AlreadyNotified: result.AlreadyNotified,
		Abandoned:       result.Abandoned,
	})
}

func (api *PushAPI) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserHandleFromContext(r.Context()); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, api.Diagnostics.Report(r.Context()))
}

func statusOf(result jobs.Result) string {
	if result.AlreadyNotified {
		return "already_notified"
	}
	return result.Outcome.Status.String()
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
