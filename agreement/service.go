package agreement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"allfixer/metrics"
	"allfixer/notify"
)

// ErrTooManyConflicts is returned when the compare-and-swap loop keeps
// losing to concurrent writers.
var ErrTooManyConflicts = errors.New("agreement: too many concurrent updates")

const defaultMaxRetries = 8

// Service applies handshake transitions against a Store and announces
// committed changes.
type Service struct {
	store      Store
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxRetries int
}

func NewService(store Store) *Service {
	return &Service{
		store:      store,
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
	}
}

func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
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

func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// Accept records that actor accepted the job. Accepting twice is a no-op.
func (s *Service) Accept(ctx context.Context, conversationID, actor string) (Record, error) {
	return s.transition(ctx, conversationID, actor, ActionAccept)
}

// MarkFinished records that actor finished the job. It fails with
// ErrAcceptancePending until both participants have accepted.
func (s *Service) MarkFinished(ctx context.Context, conversationID, actor string) (Record, error) {
	return s.transition(ctx, conversationID, actor, ActionFinish)
}

func (s *Service) Get(ctx context.Context, conversationID string) (Record, error) {
	return s.store.Get(ctx, conversationID)
}

func (s *Service) Events(ctx context.Context, conversationID string) ([]Event, error) {
	return s.store.ListEvents(ctx, conversationID)
}

func (s *Service) HasUserAccepted(ctx context.Context, conversationID, actor string) (bool, error) {
	actor = NormalizeActor(actor)
	rec, err := s.participantRecord(ctx, conversationID, actor)
	if err != nil {
		return false, err
	}
	return rec.HasAccepted(actor), nil
}

func (s *Service) HasBothAccepted(ctx context.Context, conversationID string) (bool, error) {
	rec, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return rec.BothAccepted(), nil
}

func (s *Service) HasUserMarkedFinished(ctx context.Context, conversationID, actor string) (bool, error) {
	actor = NormalizeActor(actor)
	rec, err := s.participantRecord(ctx, conversationID, actor)
	if err != nil {
		return false, err
	}
	return rec.HasFinished(actor), nil
}

func (s *Service) HasBothMarkedFinished(ctx context.Context, conversationID string) (bool, error) {
	rec, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return rec.Completed(), nil
}

// participantRecord loads the record and rejects actors outside the pair.
func (s *Service) participantRecord(ctx context.Context, conversationID, actor string) (Record, error) {
	rec, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return Record{}, err
	}
	if !rec.IsParticipant(actor) {
		return Record{}, ErrNotParticipant
	}
	return rec, nil
}

func (s *Service) transition(ctx context.Context, conversationID, actor string, action Action) (Record, error) {
	if conversationID == "" {
		return Record{}, fmt.Errorf("agreement: missing conversation id")
	}
	actor = NormalizeActor(actor)

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		current, err := s.store.Get(ctx, conversationID)
		if err != nil {
			s.metrics.Transition(string(action), metrics.ResultError)
			return Record{}, err
		}

		next, changed, err := current.Apply(actor, action)
		if err != nil {
			s.metrics.Transition(string(action), metrics.ResultRejected)
			return Record{}, err
		}
		if !changed {
			s.metrics.Transition(string(action), metrics.ResultNoop)
			return current, nil
		}

		events := transitionEvents(current.Handshake, next, actor, action)
		updated, err := s.store.CompareAndSwap(ctx, conversationID, current.Revision, next, events)
		if errors.Is(err, ErrRevisionConflict) {
			s.metrics.CASConflict()
			s.logger.DebugContext(ctx, "handshake revision conflict, retrying",
				"conversation_id", conversationID,
				"action", action,
				"attempt", attempt,
				"revision", current.Revision)
			continue
		}
		if err != nil {
			s.metrics.Transition(string(action), metrics.ResultError)
			return Record{}, err
		}

		s.metrics.Transition(string(action), metrics.ResultApplied)
		s.logger.InfoContext(ctx, "handshake updated",
			"conversation_id", conversationID,
			"actor", actor,
			"action", action,
			"phase", updated.Phase(),
			"revision", updated.Revision)
		s.announce(ctx, updated)
		return updated, nil
	}

	s.metrics.Transition(string(action), metrics.ResultError)
	return Record{}, ErrTooManyConflicts
}

// announce runs after commit. The write already happened, so a failed
// publish is logged and not returned.
func (s *Service) announce(ctx context.Context, rec Record) {
	if s.notifier == nil {
		return
	}
	ev, err := notify.NewEvent(notify.TypeConversationChanged, map[string]any{
		"conversation_id": rec.ConversationID,
		"revision":        rec.Revision,
		"phase":           rec.Phase(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "build handshake event", "error", err)
		return
	}

	topics := []string{
		notify.ConversationTopic(rec.ConversationID),
		notify.ActorChatsTopic(rec.Participants[0]),
		notify.ActorChatsTopic(rec.Participants[1]),
	}
	for _, topic := range topics {
		if err := s.notifier.Publish(ctx, topic, ev); err != nil {
			s.logger.WarnContext(ctx, "publish handshake event", "topic", topic, "error", err)
		}
	}
}
