package profile

import (
	"context"

	"allfixer/agreement"
)

const maxListLimit = 100

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByEmail(ctx context.Context, email string) (Profile, error)
	ListTradesmen(ctx context.Context, limit int) ([]Profile, error)
}

// Service exposes public profile lookups.
type Service struct {
	repo ProfileReader
}

func NewService(repo ProfileReader) *Service {
	return &Service{repo: repo}
}

// Get returns the profile registered under email.
func (s *Service) Get(ctx context.Context, email string) (Profile, error) {
	email = agreement.NormalizeActor(email)
	if email == "" {
		return Profile{}, ErrNotFound
	}
	return s.repo.GetByEmail(ctx, email)
}

// ListTradesmen returns up to limit tradesmen; the limit is clamped to 100.
func (s *Service) ListTradesmen(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListTradesmen(ctx, limit)
}
