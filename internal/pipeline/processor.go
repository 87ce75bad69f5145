package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-contact-push-service/internal/eligibility"
	"github.com/tinywideclouds/go-contact-push-service/internal/metrics"
	"github.com/tinywideclouds/go-contact-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

// invalidator is implemented by token sources that can drop a cached token.
type invalidator interface {
	Invalidate()
}

// Orchestrator runs one dispatch for one message. It never returns an error:
// every expected condition is reported as an Outcome.
type Orchestrator struct {
	cfg      *config.PushConfig
	tokens   dispatch.TokenSource
	direct   dispatch.DirectSender
	relay    dispatch.RelaySender
	contacts dispatch.ContactStore
	logger   *slog.Logger
}

// NewOrchestrator accepts a nil token source when the deployment has no
// provider credentials; the direct channel then fails permanently.
func NewOrchestrator(
	cfg *config.PushConfig,
	tokens dispatch.TokenSource,
	direct dispatch.DirectSender,
	relay dispatch.RelaySender,
	contacts dispatch.ContactStore,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		tokens:   tokens,
		direct:   direct,
		relay:    relay,
		contacts: contacts,
		logger:   logger.With("component", "Orchestrator"),
	}
}

func (o *Orchestrator) Notify(ctx context.Context, msg *dispatch.Message) dispatch.Outcome {
	if msg == nil {
		return o.finish(o.logger, dispatch.Outcome{Status: dispatch.SkippedIneligible, Reason: "no message"})
	}
	logger := o.logger.With("message_id", msg.ID)

	// 1. Eligibility
	if !eligibility.NewGate(o.cfg.SkipResolved).IsEligible(msg) {
		return o.finish(logger, dispatch.Outcome{Status: dispatch.SkippedIneligible})
	}

	// 2. Device token
	contact := msg.Contact()
	logger = logger.With("contact_id", contact.ID)
	token := contact.PushToken()
	if token == "" {
		return o.finish(logger, dispatch.Outcome{Status: dispatch.SkippedNoToken})
	}
	if !eligibility.ValidTokenFormat(token) {
		logger.Warn("Contact has a malformed push token", "token", eligibility.MaskToken(token))
		return o.finish(logger, dispatch.Outcome{Status: dispatch.SkippedInvalidToken})
	}

	// 3. Channels
	channels := SelectChannels(o.cfg)
	if len(channels) == 0 {
		return o.finish(logger, dispatch.Outcome{Status: dispatch.NoChannelConfigured})
	}

	// 4. Dispatch, in fallback order
	payload := BuildPayload(msg)
	var lastTransient, lastPermanent *dispatch.Outcome
	for _, channel := range channels {
		outcome := o.sendVia(ctx, channel, payload)
		metrics.ChannelAttempts.WithLabelValues(string(channel), outcome.Status.String()).Inc()

		switch outcome.Status {
		case dispatch.Delivered:
			return o.finish(logger, outcome)
		case dispatch.PermanentFailure:
			logger.Warn("Channel failed permanently", "channel", channel, "status_code", outcome.StatusCode, "reason", outcome.Reason)
			if outcome.TokenInvalid {
				o.invalidateToken(ctx, contact, logger)
			}
			lastPermanent = &outcome
		default:
			logger.Warn("Channel failed transiently", "channel", channel, "status_code", outcome.StatusCode, "reason", outcome.Reason)
			lastTransient = &outcome
		}
	}

	if lastTransient != nil {
		return o.finish(logger, *lastTransient)
	}
	return o.finish(logger, *lastPermanent)
}

func (o *Orchestrator) sendVia(ctx context.Context, channel dispatch.Channel, payload dispatch.Payload) dispatch.Outcome {
	switch channel {
	case dispatch.ChannelDirect:
		if o.direct == nil || o.tokens == nil {
			return dispatch.Permanent(channel, 0, "direct provider not wired", false)
		}
		bearer, err := o.tokens.BearerToken(ctx)
		if err != nil {
			return credentialFailure(ctx, channel, err)
		}
		outcome, err := o.direct.Send(ctx, payload, bearer)
		if err != nil {
			return transportFailure(ctx, channel, err)
		}
		if outcome.StatusCode == http.StatusUnauthorized {
			if inv, ok := o.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return outcome

	case dispatch.ChannelRelay:
		if o.relay == nil {
			return dispatch.Permanent(channel, 0, "relay hub not wired", false)
		}
		outcome, err := o.relay.Send(ctx, payload)
		if err != nil {
			return transportFailure(ctx, channel, err)
		}
		return outcome
	}
	return dispatch.Permanent(channel, 0, "unknown channel", false)
}

// credentialFailure is permanent only for credentials that can never work.
// A failed or timed-out token exchange is retried like any transport error.
func credentialFailure(ctx context.Context, channel dispatch.Channel, err error) dispatch.Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return dispatch.Transient(channel, 0, "credential error: "+ctxErr.Error())
	}
	var credErr *fcm.CredentialError
	if errors.As(err, &credErr) {
		switch credErr.Kind {
		case fcm.CredentialMissing, fcm.CredentialInvalidFormat:
			return dispatch.Permanent(channel, 0, fmt.Sprintf("credential error: %s", credErr.Kind), false)
		}
		return dispatch.Transient(channel, 0, fmt.Sprintf("credential error: %s", credErr.Kind))
	}
	return dispatch.Transient(channel, 0, "credential error: "+err.Error())
}

func transportFailure(ctx context.Context, channel dispatch.Channel, err error) dispatch.Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return dispatch.Transient(channel, 0, ctxErr.Error())
	}
	return dispatch.Transient(channel, 0, err.Error())
}

func (o *Orchestrator) invalidateToken(ctx context.Context, contact *dispatch.Contact, logger *slog.Logger) {
	if contact.PushToken() == "" {
		return
	}
	masked := eligibility.MaskToken(contact.PushToken())
	contact.ClearPushToken()
	metrics.TokenInvalidations.Inc()

	if o.contacts == nil {
		return
	}
	if err := o.contacts.ClearPushToken(ctx, contact.ID); err != nil {
		// The in-memory token is already gone; the next job re-reads the store.
		logger.Error("Failed to persist push token removal", "token", masked, "err", err)
		return
	}
	logger.Info("Cleared invalid push token", "token", masked)
}

func (o *Orchestrator) finish(logger *slog.Logger, outcome dispatch.Outcome) dispatch.Outcome {
	channel := string(outcome.Channel)
	if channel == "" {
		channel = "none"
	}
	metrics.Outcomes.WithLabelValues(outcome.Status.String(), channel).Inc()

	switch {
	case outcome.Delivered():
		logger.Info("Push delivered", "channel", outcome.Channel)
	case outcome.Skipped():
		logger.Debug("Push skipped", "status", outcome.Status.String(), "reason", outcome.Reason)
	default:
		logger.Warn("Push not delivered", "outcome", outcome.String(), "channel", outcome.Channel, "status_code", outcome.StatusCode)
	}
	return outcome
}
