package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"allfixer/agreement"
	"allfixer/metrics"
	"allfixer/notify"
)

var (
	ErrInvalidParticipant = errors.New("chat: participant id is empty")
	ErrSameParticipant    = errors.New("chat: cannot start a conversation with yourself")
	ErrUnknownUser        = errors.New("chat: unknown user")
	ErrEmptyMessage       = errors.New("chat: message text is empty")
	ErrMessageTooLong     = errors.New("chat: message text too long")
	// ErrNotParticipant is shared with the handshake so callers can test for
	// either with one sentinel.
	ErrNotParticipant = agreement.ErrNotParticipant
)

// MaxMessageRunes bounds a single message body.
const MaxMessageRunes = 4000

// UserDirectory reports whether an actor has an account.
type UserDirectory interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

type Service struct {
	store     Store
	notifier  notify.Notifier
	directory UserDirectory
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
}

// WithDirectory makes CreateOrGet refuse counterparts without an account.
func (s *Service) WithDirectory(d UserDirectory) *Service {
	s.directory = d
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateOrGet returns the conversation between actor and other, creating it
// on first use. Concurrent calls for the same pair resolve to one row.
func (s *Service) CreateOrGet(ctx context.Context, actor, other string) (Conversation, error) {
	id, pair, err := ConversationID(actor, other)
	if err != nil {
		return Conversation{}, err
	}

	if s.directory != nil {
		counterpart := pair[0]
		if counterpart == agreement.NormalizeActor(actor) {
			counterpart = pair[1]
		}
		ok, err := s.directory.ExistsByEmail(ctx, counterpart)
		if err != nil {
			return Conversation{}, fmt.Errorf("chat: lookup user: %w", err)
		}
		if !ok {
			return Conversation{}, ErrUnknownUser
		}
	}

	now := s.now()
	conv, created, err := s.store.Create(ctx, Conversation{
		ID:            id,
		Handshake:     agreement.Handshake{Participants: pair},
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Conversation{}, err
	}

	if created {
		s.logger.InfoContext(ctx, "conversation created", "conversation_id", conv.ID)
		s.announce(ctx, notify.TypeConversationChanged, conv,
			notify.ActorChatsTopic(pair[0]),
			notify.ActorChatsTopic(pair[1]),
		)
	}
	return conv, nil
}

// Get returns the conversation when actor takes part in it.
func (s *Service) Get(ctx context.Context, id, actor string) (Conversation, error) {
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if !conv.IsParticipant(agreement.NormalizeActor(actor)) {
		return Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// SendMessage appends text to the feed and updates the summary atomically.
func (s *Service) SendMessage(ctx context.Context, conversationID, sender, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return Message{}, ErrMessageTooLong
	}

	sender = agreement.NormalizeActor(sender)
	conv, err := s.Get(ctx, conversationID, sender)
	if err != nil {
		return Message{}, err
	}

	msg, err := s.store.AppendMessage(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return Message{}, err
	}
	s.metrics.MessageSent()

	s.announce(ctx, notify.TypeMessageAppended, conv,
		notify.MessagesTopic(conv.ID),
		notify.ConversationTopic(conv.ID),
		notify.ActorChatsTopic(conv.Participants[0]),
		notify.ActorChatsTopic(conv.Participants[1]),
	)
	return msg, nil
}

// ListConversations returns actor's conversations ordered by last activity,
// newest first.
func (s *Service) ListConversations(ctx context.Context, actor string) ([]Conversation, error) {
	actor = agreement.NormalizeActor(actor)
	if actor == "" {
		return nil, ErrInvalidParticipant
	}
	return s.store.ListForActor(ctx, actor)
}

// ListMessages returns the feed oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID, actor string) ([]Message, error) {
	if _, err := s.Get(ctx, conversationID, actor); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

func (s *Service) announce(ctx context.Context, eventType string, conv Conversation, topics ...string) {
	if s.notifier == nil {
		return
	}
	ev, err := notify.NewEvent(eventType, map[string]any{"conversation_id": conv.ID})
	if err != nil {
		s.logger.WarnContext(ctx, "build chat event", "error", err)
		return
	}
	for _, topic := range topics {
		if err := s.notifier.Publish(ctx, topic, ev); err != nil {
			s.logger.WarnContext(ctx, "publish chat event", "topic", topic, "error", err)
		}
	}
}
