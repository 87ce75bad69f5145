// --- File: pkg/dispatch/types.go ---
// Package dispatch contains the domain model and the public interfaces of the
// contact push service.
package dispatch

// Direction of a message relative to the support inbox.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageKind separates templated (automated) messages from agent replies.
type MessageKind string

const (
	KindRegular  MessageKind = "regular"
	KindTemplate MessageKind = "template"
)

// ConversationStatus mirrors the inbox conversation lifecycle.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationResolved ConversationStatus = "resolved"
	ConversationPending  ConversationStatus = "pending"
	ConversationSnoozed  ConversationStatus = "snoozed"
)

// Message is read-only here. It is owned by the conversation service.
type Message struct {
	ID           string
	Direction    Direction
	Private      bool
	Kind         MessageKind
	Content      string
	SenderName   string
	Conversation *Conversation
}

// Outgoing reports whether the message was sent by the inbox to the contact.
func (m *Message) Outgoing() bool {
	return m.Direction == DirectionOutgoing
}

// Contact returns the contact the message is addressed to, or nil when the
// conversation graph is incomplete.
func (m *Message) Contact() *Contact {
	if m.Conversation == nil {
		return nil
	}
	return m.Conversation.Contact
}

type Conversation struct {
	ID      string
	Status  ConversationStatus
	Contact *Contact
	Account *Account
}

type Account struct {
	ID   string
	Name string
}

// Pushable is anything that holds a device token we can deliver to.
type Pushable interface {
	PushToken() string
	ClearPushToken()
}

// Contact is the end-user of the support inbox.
type Contact struct {
	ID          string
	Name        string
	Token       string
	PubsubToken string
}

func (c *Contact) PushToken() string {
	return c.Token
}

// ClearPushToken drops the in-memory token. Persisting the change is the
// job of ContactStore.ClearPushToken.
func (c *Contact) ClearPushToken() {
	c.Token = ""
}

// Payload is the channel-independent notification built for one message.
type Payload struct {
	Token string
	Title string
	Body  string
	// Data is delivered to the app untouched.
	Data map[string]string
}
