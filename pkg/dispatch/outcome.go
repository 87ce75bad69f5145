package dispatch

import "fmt"

// Channel identifies a delivery path.
type Channel string

const (
	ChannelDirect Channel = "direct_provider"
	ChannelRelay  Channel = "relay_hub"
)

// Status is the terminal state of one dispatch.
type Status int

const (
	// Pending is the zero value: no dispatch has produced a result yet.
	Pending Status = iota
	Delivered
	SkippedIneligible
	SkippedNoToken
	SkippedInvalidToken
	TransientFailure
	PermanentFailure
	NoChannelConfigured
)

var statusNames = map[Status]string{
	Pending:             "pending",
	Delivered:           "delivered",
	SkippedIneligible:   "skipped_ineligible",
	SkippedNoToken:      "skipped_no_token",
	SkippedInvalidToken: "skipped_invalid_token",
	TransientFailure:    "transient_failure",
	PermanentFailure:    "permanent_failure",
	NoChannelConfigured: "no_channel_configured",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of a dispatch. It is never persisted.
type Outcome struct {
	Status  Status
	Reason  string
	Channel Channel
	// StatusCode is the HTTP status of the last provider response, 0 if none.
	StatusCode int
	// TokenInvalid is set when the provider confirmed the device token is
	// unregistered or malformed. Only then may the token be cleared.
	TokenInvalid bool
}

func (o Outcome) Delivered() bool {
	return o.Status == Delivered
}

// Retryable reports whether the job runner should try the dispatch again.
func (o Outcome) Retryable() bool {
	return o.Status == TransientFailure
}

// Skipped covers every expected no-op outcome.
func (o Outcome) Skipped() bool {
	switch o.Status {
	case SkippedIneligible, SkippedNoToken, SkippedInvalidToken, NoChannelConfigured:
		return true
	}
	return false
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Reason)
}

func Transient(channel Channel, code int, reason string) Outcome {
	return Outcome{Status: TransientFailure, Channel: channel, StatusCode: code, Reason: reason}
}

func Permanent(channel Channel, code int, reason string, tokenInvalid bool) Outcome {
	return Outcome{Status: PermanentFailure, Channel: channel, StatusCode: code, Reason: reason, TokenInvalid: tokenInvalid}
}
