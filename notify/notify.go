// Package notify fans change signals out to subscribers so that readers can
// refresh their view after a write commits.
package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing or subscribing on a closed notifier.
var ErrClosed = errors.New("notify: closed")

// Event types published by the domain services.
const (
	TypeConversationChanged = "conversation.changed"
	TypeMessageAppended     = "message.appended"
	TypeReviewSubmitted     = "review.submitted"
)

// Event is the envelope carried on every topic. Data holds a small JSON
// payload; subscribers treat the event as a hint and re-read the store.
type Event struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an envelope with a fresh id.
func NewEvent(eventType string, data any) (Event, error) {
	ev := Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now().UTC(),
	}
	if data != nil {
		body, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("notify: marshal event data: %w", err)
		}
		ev.Data = body
	}
	return ev, nil
}

// Notifier publishes events to topics and hands out subscriptions.
type Notifier interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(topic string) (Subscription, error)
}

// Subscription delivers events for a single topic until closed. Events may be
// dropped when the subscriber falls behind; a dropped event always has a
// later or pending sibling on the same channel.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// ConversationTopic carries changes to the conversation record itself.
func ConversationTopic(conversationID string) string {
	return "chat." + conversationID
}

// MessagesTopic carries message appends for one conversation.
func MessagesTopic(conversationID string) string {
	return "chat." + conversationID + ".messages"
}

// ActorChatsTopic carries changes to any conversation the actor takes part
// in. Actor ids are emails, so they are encoded to stay a single NATS token.
func ActorChatsTopic(actor string) string {
	return "actor." + base64.RawURLEncoding.EncodeToString([]byte(actor)) + ".chats"
}
