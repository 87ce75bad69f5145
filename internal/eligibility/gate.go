// Package eligibility decides whether a message may trigger a push at all.
package eligibility

import (
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

// Gate holds the deployment policy. The zero value still rejects
// incoming/private/template messages but lets resolved conversations through.
type Gate struct {
	SkipResolved bool
}

func NewGate(skipResolved bool) Gate {
	return Gate{SkipResolved: skipResolved}
}

// IsEligible has no side effects. An incomplete message graph is treated as
// ineligible rather than as an error.
func (g Gate) IsEligible(msg *dispatch.Message) bool {
	if msg == nil {
		return false
	}
	if !msg.Outgoing() || msg.Private || msg.Kind == dispatch.KindTemplate {
		return false
	}
	conv := msg.Conversation
	if conv == nil || conv.Contact == nil {
		return false
	}
	if g.SkipResolved && conv.Status == dispatch.ConversationResolved {
		return false
	}
	return true
}
