package pipeline

import (
	"encoding/json"

	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

const (
	DefaultTitle = "Support"
	// MaxBodyLength is measured in characters, not bytes.
	MaxBodyLength = 100
	ellipsis      = "..."
)

type payloadIDs struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
}

type payloadEnvelope struct {
	Data payloadIDs `json:"data"`
}

// BuildPayload assumes msg has already passed the eligibility gate.
func BuildPayload(msg *dispatch.Message) dispatch.Payload {
	ids := payloadIDs{MessageID: msg.ID}
	if conv := msg.Conversation; conv != nil {
		ids.ConversationID = conv.ID
		if conv.Account != nil {
			ids.AccountID = conv.Account.ID
		}
	}
	// Marshalling plain strings cannot fail.
	encoded, _ := json.Marshal(payloadEnvelope{Data: ids})

	var token string
	if contact := msg.Contact(); contact != nil {
		token = contact.PushToken()
	}

	return dispatch.Payload{
		Token: token,
		Title: Title(msg),
		Body:  TruncateBody(msg.Content),
		Data:  map[string]string{"payload": string(encoded)},
	}
}

// Title is the sender, then the account, then a static default.
func Title(msg *dispatch.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	if conv := msg.Conversation; conv != nil && conv.Account != nil && conv.Account.Name != "" {
		return conv.Account.Name
	}
	return DefaultTitle
}

// TruncateBody cuts on a rune boundary and ends an over-long body with an
// ellipsis, keeping the result at MaxBodyLength characters.
func TruncateBody(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxBodyLength {
		return content
	}
	return string(runes[:MaxBodyLength-len(ellipsis)]) + ellipsis
}
