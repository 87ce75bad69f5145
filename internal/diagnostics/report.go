// Package diagnostics inspects the push configuration and the stored device
// tokens so an operator can see why pushes are not going out.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-contact-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-contact-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

type TokenAuditor interface {
	AuditTokens(ctx context.Context) (dispatch.TokenAudit, error)
}

type FirebaseReport struct {
	ProjectIDPresent      bool   `json:"project_id_present"`
	CredentialsPresent    bool   `json:"credentials_present"`
	CredentialsValidJSON  bool   `json:"credentials_valid_json"`
	ServiceAccountEmail   string `json:"service_account_email,omitempty"`
	CredentialsProjectID  string `json:"credentials_project_id,omitempty"`
	ProjectIDMismatch     bool   `json:"project_id_mismatch"`
	CredentialCacheLoaded bool   `json:"credential_cache_loaded"`
}

type RelayReport struct {
	Enabled               bool   `json:"enabled"`
	BaseURL               string `json:"base_url"`
	InstallationIDPresent bool   `json:"installation_id_present"`
}

type Report struct {
	Firebase    FirebaseReport       `json:"firebase"`
	Relay       RelayReport          `json:"relay"`
	Channels    []dispatch.Channel   `json:"channels"`
	Tokens      *dispatch.TokenAudit `json:"tokens,omitempty"`
	TokenError  string               `json:"token_error,omitempty"`
	Warnings    []string             `json:"warnings"`
	Operational bool                 `json:"operational"`
}

type Reporter struct {
	cfg     *config.PushConfig
	auditor TokenAuditor
	logger  *slog.Logger
}

// NewReporter accepts a nil auditor; the token section is then omitted.
func NewReporter(cfg *config.PushConfig, auditor TokenAuditor, logger *slog.Logger) *Reporter {
	return &Reporter{
		cfg:     cfg,
		auditor: auditor,
		logger:  logger.With("component", "Diagnostics"),
	}
}

func (r *Reporter) Report(ctx context.Context) Report {
	rep := Report{Warnings: []string{}}
	r.checkFirebase(&rep)
	r.checkRelay(&rep)

	rep.Channels = pipeline.SelectChannels(r.cfg)
	rep.Operational = len(rep.Channels) > 0
	if !rep.Operational {
		rep.Warnings = append(rep.Warnings, "no delivery channel configured: push notifications are disabled")
	}

	if r.auditor != nil {
		audit, err := r.auditor.AuditTokens(ctx)
		if err != nil {
			r.logger.Error("Token audit failed", "err", err)
			rep.TokenError = err.Error()
		} else {
			rep.Tokens = &audit
			if audit.WithToken == 0 {
				rep.Warnings = append(rep.Warnings, "no contacts have push tokens")
			}
			if audit.InvalidFormat > 0 {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d contacts hold malformed push tokens", audit.InvalidFormat))
			}
		}
	}
	return rep
}

func (r *Reporter) checkFirebase(rep *Report) {
	fb := &rep.Firebase
	fb.ProjectIDPresent = r.cfg.FirebaseProjectID != ""
	fb.CredentialsPresent = r.cfg.FirebaseCredentials != ""

	if !fb.ProjectIDPresent {
		rep.Warnings = append(rep.Warnings, "firebase project id not configured")
	}
	if !fb.CredentialsPresent {
		rep.Warnings = append(rep.Warnings, "firebase credentials not configured")
		return
	}

	account, err := fcm.ParseServiceAccount(r.cfg.FirebaseCredentials)
	if err != nil {
		rep.Warnings = append(rep.Warnings, "firebase credentials are not valid JSON")
		return
	}
	fb.CredentialsValidJSON = true
	fb.ServiceAccountEmail = account.ClientEmail
	fb.CredentialsProjectID = account.ProjectID

	if account.ProjectID != "" && account.ProjectID != r.cfg.FirebaseProjectID {
		fb.ProjectIDMismatch = true
		rep.Warnings = append(rep.Warnings, fmt.Sprintf(
			"project id mismatch: config=%q credentials=%q", r.cfg.FirebaseProjectID, account.ProjectID))
	}

	if _, err := fcm.NewCredentialCache(r.cfg.FirebaseProjectID, r.cfg.FirebaseCredentials, r.logger); err != nil {
		rep.Warnings = append(rep.Warnings, "firebase credentials could not be loaded: "+err.Error())
		return
	}
	fb.CredentialCacheLoaded = true
}

func (r *Reporter) checkRelay(rep *Report) {
	rep.Relay = RelayReport{
		Enabled:               r.cfg.RelayEnabled,
		BaseURL:               r.cfg.RelayBaseURL,
		InstallationIDPresent: r.cfg.InstallationID != "",
	}
	if rep.Relay.BaseURL == "" {
		rep.Relay.BaseURL = config.DefaultRelayBaseURL
	}
	if rep.Relay.Enabled && !rep.Relay.InstallationIDPresent {
		rep.Warnings = append(rep.Warnings, "relay hub enabled without an installation identifier")
	}
}
