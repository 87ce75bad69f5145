// Package firestore reads the conversation graph and persists token removal
// and push markers in Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-contact-push-service/internal/eligibility"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

const (
	MessagesCollection      = "messages"
	ConversationsCollection = "conversations"
	ContactsCollection      = "contacts"
	AccountsCollection      = "accounts"

	fieldPushToken = "push_token"
	fieldSentAt    = "push_notification_sent_at"
	fieldPushError = "push_notification_error"
	maxErrorLength = 500
)

type messageRecord struct {
	Direction      string    `firestore:"direction"`
	Private        bool      `firestore:"private"`
	Kind           string    `firestore:"kind"`
	Content        string    `firestore:"content"`
	SenderName     string    `firestore:"sender_name"`
	ConversationID string    `firestore:"conversation_id"`
	SentAt         time.Time `firestore:"push_notification_sent_at"`
	PushError      string    `firestore:"push_notification_error"`
}

type conversationRecord struct {
	Status    string `firestore:"status"`
	ContactID string `firestore:"contact_id"`
	AccountID string `firestore:"account_id"`
}

type contactRecord struct {
	Name        string `firestore:"name"`
	PushToken   string `firestore:"push_token"`
	PubsubToken string `firestore:"pubsub_token"`
}

type accountRecord struct {
	Name string `firestore:"name"`
}

// FirestoreStore implements MessageStore, ContactStore and ReceiptStore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		logger: logger.With("component", "FirestoreStore"),
	}
}

// --- MessageStore ---

// FindMessage returns dispatch.ErrNotFound only when the message itself is
// missing. A dangling conversation, contact or account becomes a nil link.
func (s *FirestoreStore) FindMessage(ctx context.Context, messageID string) (*dispatch.Message, error) {
	snap, err := s.client.Collection(MessagesCollection).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("message %s: %w", messageID, dispatch.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read message %s: %w", messageID, err)
	}

	var rec messageRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", messageID, err)
	}

	msg := &dispatch.Message{
		ID:         messageID,
		Direction:  dispatch.Direction(rec.Direction),
		Private:    rec.Private,
		Kind:       dispatch.MessageKind(rec.Kind),
		Content:    rec.Content,
		SenderName: rec.SenderName,
	}
	if msg.Kind == "" {
		msg.Kind = dispatch.KindRegular
	}
	if rec.ConversationID == "" {
		return msg, nil
	}

	conv, err := s.findConversation(ctx, rec.ConversationID)
	if err != nil {
		return nil, err
	}
	msg.Conversation = conv
	return msg, nil
}

func (s *FirestoreStore) findConversation(ctx context.Context, conversationID string) (*dispatch.Conversation, error) {
	snap, err := s.client.Collection(ConversationsCollection).Doc(conversationID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conversation %s: %w", conversationID, err)
	}

	var rec conversationRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", conversationID, err)
	}
	conv := &dispatch.Conversation{ID: conversationID, Status: dispatch.ConversationStatus(rec.Status)}

	// Contact and account are fetched in one round trip. GetAll reports
	// missing documents as snapshots that do not exist.
	var refs []*firestore.DocumentRef
	if rec.ContactID != "" {
		refs = append(refs, s.client.Collection(ContactsCollection).Doc(rec.ContactID))
	}
	if rec.AccountID != "" {
		refs = append(refs, s.client.Collection(AccountsCollection).Doc(rec.AccountID))
	}
	if len(refs) == 0 {
		return conv, nil
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact/account for conversation %s: %w", conversationID, err)
	}

	for _, doc := range snaps {
		if !doc.Exists() {
			continue
		}
		switch doc.Ref.Parent.ID {
		case ContactsCollection:
			var c contactRecord
			if err := doc.DataTo(&c); err != nil {
				return nil, fmt.Errorf("failed to decode contact %s: %w", doc.Ref.ID, err)
			}
			conv.Contact = &dispatch.Contact{ID: doc.Ref.ID, Name: c.Name, Token: c.PushToken, PubsubToken: c.PubsubToken}
		case AccountsCollection:
			var a accountRecord
			if err := doc.DataTo(&a); err != nil {
				return nil, fmt.Errorf("failed to decode account %s: %w", doc.Ref.ID, err)
			}
			conv.Account = &dispatch.Account{ID: doc.Ref.ID, Name: a.Name}
		}
	}
	return conv, nil
}

// --- ContactStore ---

// ClearPushToken is a no-op for a contact that no longer exists.
func (s *FirestoreStore) ClearPushToken(ctx context.Context, contactID string) error {
	_, err := s.client.Collection(ContactsCollection).Doc(contactID).Update(ctx, []firestore.Update{
		{Path: fieldPushToken, Value: ""},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear push token for contact %s: %w", contactID, err)
	}
	return nil
}

// AuditTokens walks every contact. It is meant for diagnostics, not for the
// dispatch path.
func (s *FirestoreStore) AuditTokens(ctx context.Context) (dispatch.TokenAudit, error) {
	var audit dispatch.TokenAudit

	iter := s.client.Collection(ContactsCollection).Select(fieldPushToken).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return audit, fmt.Errorf("firestore iteration failed: %w", err)
		}

		audit.Contacts++
		var rec contactRecord
		if err := doc.DataTo(&rec); err != nil {
			s.logger.Warn("Skipping undecodable contact", "contact_id", doc.Ref.ID, "err", err)
			continue
		}
		if rec.PushToken == "" {
			continue
		}
		audit.WithToken++
		if !eligibility.ValidTokenFormat(rec.PushToken) {
			audit.InvalidFormat++
		}
	}
	return audit, nil
}

// --- ReceiptStore ---

func (s *FirestoreStore) AlreadyNotified(ctx context.Context, messageID string) (bool, error) {
	snap, err := s.client.Collection(MessagesCollection).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to read push marker for %s: %w", messageID, err)
	}
	var rec messageRecord
	if err := snap.DataTo(&rec); err != nil {
		return false, fmt.Errorf("failed to decode message %s: %w", messageID, err)
	}
	return !rec.SentAt.IsZero(), nil
}

func (s *FirestoreStore) MarkNotified(ctx context.Context, messageID string) error {
	return s.updateMessage(ctx, messageID, []firestore.Update{
		{Path: fieldSentAt, Value: firestore.ServerTimestamp},
		{Path: fieldPushError, Value: firestore.Delete},
	})
}

func (s *FirestoreStore) MarkFailed(ctx context.Context, messageID, reason string) error {
	if r := []rune(reason); len(r) > maxErrorLength {
		reason = string(r[:maxErrorLength])
	}
	return s.updateMessage(ctx, messageID, []firestore.Update{
		{Path: fieldPushError, Value: reason},
	})
}

func (s *FirestoreStore) updateMessage(ctx context.Context, messageID string, updates []firestore.Update) error {
	_, err := s.client.Collection(MessagesCollection).Doc(messageID).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("message %s: %w", messageID, dispatch.ErrNotFound)
		}
		return fmt.Errorf("failed to update message %s: %w", messageID, err)
	}
	return nil
}
