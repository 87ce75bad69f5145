// Package jobs wraps a single dispatch in retry, timeout and idempotency
// handling so it can run as a background job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-contact-push-service/internal/eligibility"
	"github.com/tinywideclouds/go-contact-push-service/internal/metrics"
	"github.com/tinywideclouds/go-contact-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

// Notifier is satisfied by pipeline.Orchestrator.
type Notifier interface {
	Notify(ctx context.Context, msg *dispatch.Message) dispatch.Outcome
}

// Result is the retry state of one job invocation.
type Result struct {
	JobID      string
	MessageID  string
	Attempts   int
	TotalDelay time.Duration
	Outcome    dispatch.Outcome

	NotFound        bool
	AlreadyNotified bool
	Abandoned       bool
}

type retryableOutcome struct {
	outcome dispatch.Outcome
}

func (e *retryableOutcome) Error() string {
	return e.outcome.String()
}

type Option func(*Runner)

// WithTimer swaps the backoff timer, letting tests skip real sleeps.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(r *Runner) { r.newTimer = newTimer }
}

// WithReceipts enables the already-notified guard.
func WithReceipts(receipts dispatch.ReceiptStore) Option {
	return func(r *Runner) { r.receipts = receipts }
}

type Runner struct {
	cfg      *config.PushConfig
	messages dispatch.MessageStore
	notifier Notifier
	receipts dispatch.ReceiptStore
	newTimer func() backoff.Timer
	logger   *slog.Logger
}

func NewRunner(cfg *config.PushConfig, messages dispatch.MessageStore, notifier Notifier, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		messages: messages,
		notifier: notifier,
		logger:   logger.With("component", "JobRunner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process adapts the runner to a messagepipeline.StreamProcessor. Only a
// cancelled job context Nacks the Pub/Sub message.
func (r *Runner) Process(ctx context.Context, original messagepipeline.Message, req *pipeline.JobRequest) error {
	if _, err := r.Execute(ctx, req.MessageID); err != nil {
		r.logger.Warn("Push job interrupted", "pubsub_msg_id", original.ID, "message_id", req.MessageID, "err", err)
		return err
	}
	return nil
}

// Run executes the job. Expected failures are logged and swallowed.
func (r *Runner) Run(ctx context.Context, messageID string) error {
	_, err := r.Execute(ctx, messageID)
	return err
}

// Execute is Run plus the final retry state.
func (r *Runner) Execute(ctx context.Context, messageID string) (Result, error) {
	state := Result{JobID: uuid.NewString(), MessageID: messageID}
	logger := r.logger.With("job_id", state.JobID, "message_id", messageID)

	var msg *dispatch.Message
	operation := func() error {
		state.Attempts++
		metrics.JobAttempts.Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout())
		defer cancel()

		if msg == nil {
			found, err := r.messages.FindMessage(attemptCtx, messageID)
			if errors.Is(err, dispatch.ErrNotFound) {
				state.NotFound = true
				return backoff.Permanent(err)
			}
			if err != nil {
				return fmt.Errorf("failed to load message: %w", err)
			}
			msg = found

			if r.alreadyNotified(attemptCtx, logger, messageID) {
				state.AlreadyNotified = true
				return nil
			}
		}

		state.Outcome = r.notifier.Notify(attemptCtx, msg)
		if state.Outcome.Retryable() {
			return &retryableOutcome{outcome: state.Outcome}
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		state.TotalDelay += next
		logger.Warn("Push attempt failed, retrying", "attempt", state.Attempts, "retry_in", next, "err", err)
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, r.backOff(ctx), notify, timer)

	switch {
	case err == nil:
		r.complete(ctx, logger, state)
		return state, nil

	case state.NotFound:
		logger.Info("Message no longer exists, discarding push job")
		return state, nil

	case ctx.Err() != nil:
		return state, ctx.Err()
	}

	// Retry budget exhausted.
	state.Abandoned = true
	if state.Outcome.Status == dispatch.Pending {
		// The message never resolved, so no channel was tried.
		state.Outcome = dispatch.Transient("", 0, err.Error())
	}
	metrics.JobsAbandoned.Inc()

	attrs := []any{
		"attempts", state.Attempts,
		"total_delay", state.TotalDelay,
		"channel", state.Outcome.Channel,
		"status_code", state.Outcome.StatusCode,
		"err", err,
	}
	if contact := contactOf(msg); contact != nil {
		attrs = append(attrs, "contact_id", contact.ID, "token", eligibility.MaskToken(contact.PushToken()))
	}
	logger.Error("Giving up on push notification", attrs...)
	r.markFailed(ctx, logger, messageID, "abandoned: "+err.Error())
	return state, nil
}

func (r *Runner) complete(ctx context.Context, logger *slog.Logger, state Result) {
	switch {
	case state.AlreadyNotified:
		logger.Info("Push already sent for message, skipping")
	case state.Outcome.Delivered():
		if r.receipts != nil {
			if err := r.receipts.MarkNotified(ctx, state.MessageID); err != nil {
				logger.Warn("Failed to record push notification marker", "err", err)
			}
		}
	case state.Outcome.Status == dispatch.PermanentFailure:
		logger.Error("Push failed permanently", "channel", state.Outcome.Channel, "status_code", state.Outcome.StatusCode, "reason", state.Outcome.Reason)
		r.markFailed(ctx, logger, state.MessageID, state.Outcome.String())
	default:
		logger.Debug("Push job finished without delivery", "status", state.Outcome.Status.String())
	}
}

func (r *Runner) alreadyNotified(ctx context.Context, logger *slog.Logger, messageID string) bool {
	if r.receipts == nil {
		return false
	}
	done, err := r.receipts.AlreadyNotified(ctx, messageID)
	if err != nil {
		logger.Warn("Could not read push notification marker, dispatching anyway", "err", err)
		return false
	}
	return done
}

func (r *Runner) markFailed(ctx context.Context, logger *slog.Logger, messageID, reason string) {
	if r.receipts == nil {
		return
	}
	if err := r.receipts.MarkFailed(ctx, messageID, reason); err != nil {
		logger.Warn("Failed to record push notification error", "err", err)
	}
}

func (r *Runner) timeout() time.Duration {
	if r.cfg.DispatchTimeout > 0 {
		return r.cfg.DispatchTimeout
	}
	return config.DefaultDispatchTimeout
}

// backOff never randomizes, so successive delays strictly increase.
func (r *Runner) backOff(ctx context.Context) backoff.BackOff {
	attempts := r.cfg.MaxAttempts
	if attempts < 1 {
		attempts = config.DefaultMaxAttempts
	}
	initial := r.cfg.InitialBackoff
	if initial <= 0 {
		initial = config.DefaultInitialBackoff
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = initial << 10
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

func contactOf(msg *dispatch.Message) *dispatch.Contact {
	if msg == nil {
		return nil
	}
	return msg.Contact()
}
