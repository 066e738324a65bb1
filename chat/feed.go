package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"allfixer/agreement"
	"allfixer/metrics"
	"allfixer/notify"
)

// Stream delivers successive snapshots of a view. The first value is the
// state at subscription time; every later value reflects a newer commit.
// When the reader falls behind, intermediate snapshots are replaced by the
// latest one.
type Stream[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Updates is closed when the stream ends.
func (s *Stream[T]) Updates() <-chan T { return s.updates }

// Stop cancels the subscription and waits for it to release its resources.
// It does not affect writes already in flight.
func (s *Stream[T]) Stop() {
	s.cancel()
	<-s.done
}

// Err reports why the stream ended. It is nil after Stop or context
// cancellation.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream[T]) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Feed turns change notifications into snapshot streams. Each notification
// triggers a re-read of the store.
type Feed struct {
	svc      *Service
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewFeed(svc *Service, notifier notify.Notifier) *Feed {
	return &Feed{svc: svc, notifier: notifier, logger: slog.Default()}
}

func (f *Feed) WithMetrics(m *metrics.Metrics) *Feed {
	f.metrics = m
	return f
}

func (f *Feed) WithLogger(logger *slog.Logger) *Feed {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WatchMessages streams the message feed of a conversation, oldest first.
func (f *Feed) WatchMessages(ctx context.Context, conversationID, actor string) (*Stream[[]Message], error) {
	if _, err := f.svc.Get(ctx, conversationID, actor); err != nil {
		return nil, err
	}
	return watch(ctx, f, "messages", notify.MessagesTopic(conversationID), func(ctx context.Context) ([]Message, error) {
		return f.svc.store.ListMessages(ctx, conversationID)
	})
}

// WatchConversation streams one conversation record, including its
// handshake flags.
func (f *Feed) WatchConversation(ctx context.Context, conversationID, actor string) (*Stream[Conversation], error) {
	if _, err := f.svc.Get(ctx, conversationID, actor); err != nil {
		return nil, err
	}
	return watch(ctx, f, "conversation", notify.ConversationTopic(conversationID), func(ctx context.Context) (Conversation, error) {
		return f.svc.store.Get(ctx, conversationID)
	})
}

// WatchConversations streams the actor's conversation list, newest activity
// first.
func (f *Feed) WatchConversations(ctx context.Context, actor string) (*Stream[[]Conversation], error) {
	actor = agreement.NormalizeActor(actor)
	if actor == "" {
		return nil, ErrInvalidParticipant
	}
	return watch(ctx, f, "conversations", notify.ActorChatsTopic(actor), func(ctx context.Context) ([]Conversation, error) {
		return f.svc.store.ListForActor(ctx, actor)
	})
}

func watch[T any](ctx context.Context, f *Feed, kind, topic string, load func(context.Context) (T, error)) (*Stream[T], error) {
	if f.notifier == nil {
		return nil, fmt.Errorf("chat: feed has no notifier")
	}

	// Subscribe before the first read so that no commit between the two is
	// missed.
	sub, err := f.notifier.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("chat: subscribe %s: %w", kind, err)
	}
	initial, err := load(ctx)
	if err != nil {
		sub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		updates: make(chan T),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	release := f.metrics.SubscriptionOpened(kind)

	go func() {
		defer close(s.done)
		defer close(s.updates)
		defer release()
		defer sub.Close()

		pending, havePending := initial, true
		for {
			var out chan T
			if havePending {
				out = s.updates
			}

			select {
			case <-ctx.Done():
				return
			case out <- pending:
				havePending = false
			case _, ok := <-sub.Events():
				if !ok {
					s.fail(notify.ErrClosed)
					return
				}
				snap, err := load(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					f.logger.WarnContext(ctx, "subscription refresh failed", "kind", kind, "topic", topic, "error", err)
					s.fail(err)
					return
				}
				pending, havePending = snap, true
			}
		}
	}()
	return s, nil
}
