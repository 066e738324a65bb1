package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"allfixer/agreement"
	"allfixer/metrics"
	"allfixer/notify"
)

var (
	ErrInvalidRating   = errors.New("review: rating must be between 1 and 5")
	ErrInvalidReviewee = errors.New("review: reviewee must be the other participant")
	ErrJobNotCompleted = errors.New("review: job is not completed")
	ErrFeedbackTooLong = errors.New("review: feedback too long")
	ErrNotParticipant  = agreement.ErrNotParticipant
)

const defaultListLimit = 50

// HandshakeReader loads the handshake a review is gated on.
type HandshakeReader interface {
	Get(ctx context.Context, conversationID string) (agreement.Record, error)
}

// Service is the review gate: it decides when a participant is prompted and
// accepts at most one review per participant and conversation.
type Service struct {
	store      Store
	handshakes HandshakeReader
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewService(store Store, handshakes HandshakeReader) *Service {
	return &Service{store: store, handshakes: handshakes, logger: slog.Default()}
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

// ShouldPromptReview is true once both participants finished the job and
// actor has not reviewed yet.
func (s *Service) ShouldPromptReview(ctx context.Context, conversationID, actor string) (bool, error) {
	actor = agreement.NormalizeActor(actor)
	rec, err := s.participantRecord(ctx, conversationID, actor)
	if err != nil {
		return false, err
	}
	if !rec.Completed() {
		return false, nil
	}
	reviewed, err := s.store.Exists(ctx, conversationID, actor)
	if err != nil {
		return false, err
	}
	return !reviewed, nil
}

func (s *Service) HasReviewed(ctx context.Context, conversationID, actor string) (bool, error) {
	actor = agreement.NormalizeActor(actor)
	if _, err := s.participantRecord(ctx, conversationID, actor); err != nil {
		return false, err
	}
	return s.store.Exists(ctx, conversationID, actor)
}

// Submit stores a review. A second submission by the same reviewer for the
// same conversation fails with ErrAlreadyReviewed.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (Review, error) {
	if p.Rating < MinRating || p.Rating > MaxRating {
		return Review{}, ErrInvalidRating
	}
	if utf8.RuneCountInString(p.Feedback) > MaxFeedbackRunes {
		return Review{}, ErrFeedbackTooLong
	}

	reviewer := agreement.NormalizeActor(p.Reviewer)
	rec, err := s.participantRecord(ctx, p.ConversationID, reviewer)
	if err != nil {
		return Review{}, err
	}

	reviewee := agreement.NormalizeActor(p.Reviewee)
	if reviewee == "" {
		reviewee = rec.Other(reviewer)
	}
	if reviewee != rec.Other(reviewer) {
		return Review{}, ErrInvalidReviewee
	}
	if !rec.Completed() {
		return Review{}, ErrJobNotCompleted
	}

	stored, err := s.store.Insert(ctx, Review{
		ConversationID: p.ConversationID,
		Reviewer:       reviewer,
		Reviewee:       reviewee,
		Rating:         p.Rating,
		Feedback:       strings.TrimSpace(p.Feedback),
	})
	if err != nil {
		return Review{}, err
	}

	s.metrics.ReviewSubmitted()
	s.logger.InfoContext(ctx, "review submitted",
		"conversation_id", p.ConversationID,
		"reviewer", reviewer,
		"rating", p.Rating)
	s.announce(ctx, rec)
	return stored, nil
}

func (s *Service) Get(ctx context.Context, conversationID, reviewer string) (Review, error) {
	return s.store.Get(ctx, conversationID, agreement.NormalizeActor(reviewer))
}

// AverageRating aggregates every review received by reviewee.
func (s *Service) AverageRating(ctx context.Context, reviewee string) (Summary, error) {
	return s.store.Summary(ctx, agreement.NormalizeActor(reviewee))
}

// ListForReviewee returns reviews newest first. A non-positive limit uses
// the default page size.
func (s *Service) ListForReviewee(ctx context.Context, reviewee string, limit int) ([]Review, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	return s.store.ListForReviewee(ctx, agreement.NormalizeActor(reviewee), limit)
}

func (s *Service) participantRecord(ctx context.Context, conversationID, actor string) (agreement.Record, error) {
	rec, err := s.handshakes.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, agreement.ErrNotFound) {
			return agreement.Record{}, ErrConversationNotFound
		}
		return agreement.Record{}, fmt.Errorf("review: load handshake: %w", err)
	}
	if !rec.IsParticipant(agreement.NormalizeActor(actor)) {
		return agreement.Record{}, ErrNotParticipant
	}
	return rec, nil
}

func (s *Service) announce(ctx context.Context, rec agreement.Record) {
	if s.notifier == nil {
		return
	}
	ev, err := notify.NewEvent(notify.TypeReviewSubmitted, map[string]any{"conversation_id": rec.ConversationID})
	if err != nil {
		s.logger.WarnContext(ctx, "build review event", "error", err)
		return
	}
	if err := s.notifier.Publish(ctx, notify.ConversationTopic(rec.ConversationID), ev); err != nil {
		s.logger.WarnContext(ctx, "publish review event", "error", err)
	}
}
