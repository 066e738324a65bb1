package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrForbidden    = errors.New("listing: forbidden")
	ErrInvalidPost  = errors.New("listing: invalid post")
	ErrInvalidQuery = errors.New("listing: invalid query")
	ErrOwnPost      = errors.New("listing: cannot save your own post")
)

const (
	MaxTitleRunes       = 120
	MaxDescriptionRunes = 4000
)

// Author is who a post is created or removed on behalf of.
type Author struct {
	Email       string
	DisplayName string
	// Kind the author may post: homeowners post jobs, tradesmen post adverts.
	// Empty means the author may not post.
	Kind  Kind
	Admin bool
}

type CreateParams struct {
	Title       string
	Description string
	Price       float64
	Location    string
	Coordinates *Point
	JobType     string
	ImageURL    *string
}

type ListResult struct {
	Items []Post
	Total int
}

type Service struct {
	repo        Repository
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
		logger:      slog.Default(),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) Create(ctx context.Context, author Author, params CreateParams) (Post, error) {
	if author.Email == "" || !author.Kind.Valid() {
		return Post{}, ErrForbidden
	}

	title := strings.TrimSpace(params.Title)
	switch {
	case title == "":
		return Post{}, fmt.Errorf("%w: title required", ErrInvalidPost)
	case utf8.RuneCountInString(title) > MaxTitleRunes:
		return Post{}, fmt.Errorf("%w: title too long", ErrInvalidPost)
	case utf8.RuneCountInString(params.Description) > MaxDescriptionRunes:
		return Post{}, fmt.Errorf("%w: description too long", ErrInvalidPost)
	case params.Price < 0 || math.IsNaN(params.Price) || math.IsInf(params.Price, 0):
		return Post{}, fmt.Errorf("%w: invalid price", ErrInvalidPost)
	}
	if p := params.Coordinates; p != nil {
		if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
			return Post{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidPost)
		}
	}

	displayName := strings.TrimSpace(author.DisplayName)
	if displayName == "" {
		displayName = author.Email
	}

	created, err := s.repo.Create(ctx, Post{
		ID:           s.idGenerator(),
		Kind:         author.Kind,
		Title:        title,
		Description:  strings.TrimSpace(params.Description),
		Price:        params.Price,
		Location:     strings.TrimSpace(params.Location),
		Coordinates:  params.Coordinates,
		JobType:      strings.TrimSpace(params.JobType),
		ImageURL:     params.ImageURL,
		PostedBy:     author.Email,
		PostedByName: displayName,
	})
	if err != nil {
		return Post{}, err
	}

	s.logger.InfoContext(ctx, "listing created", "listing_id", created.ID, "kind", created.Kind, "posted_by", created.PostedBy)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (Post, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	if filters.Kind != "" && !filters.Kind.Valid() {
		return ListResult{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, filters.Kind)
	}
	switch filters.Sort {
	case "", SortNewest, SortPriceAsc, SortPriceDesc:
	case SortDistance:
		if filters.Near == nil {
			return ListResult{}, fmt.Errorf("%w: distance sort needs a location", ErrInvalidQuery)
		}
	default:
		return ListResult{}, fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, filters.Sort)
	}

	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Remove deletes a post. Only its author or an admin may do so.
func (s *Service) Remove(ctx context.Context, author Author, id string) (Post, error) {
	removed, err := s.repo.Remove(ctx, id, func(p Post) error {
		if author.Admin || (author.Email != "" && p.PostedBy == author.Email) {
			return nil
		}
		return ErrForbidden
	})
	if err != nil {
		return Post{}, err
	}

	s.logger.InfoContext(ctx, "listing removed", "listing_id", removed.ID, "removed_by", author.Email)
	return removed, nil
}

// Save bookmarks a post for the caller.
func (s *Service) Save(ctx context.Context, user Author, id string) (Post, error) {
	if user.Email == "" {
		return Post{}, ErrForbidden
	}
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return Post{}, err
	}
	if post.PostedBy == user.Email {
		return Post{}, ErrOwnPost
	}
	if err := s.repo.Save(ctx, user.Email, post.ID); err != nil {
		return Post{}, err
	}
	return post, nil
}

// Unsave drops a bookmark. Dropping one that does not exist is not an error.
func (s *Service) Unsave(ctx context.Context, user Author, id string) error {
	if user.Email == "" {
		return ErrForbidden
	}
	return s.repo.Unsave(ctx, user.Email, id)
}

// Saved lists the caller's bookmarks, most recently saved first.
func (s *Service) Saved(ctx context.Context, user Author) ([]Post, error) {
	if user.Email == "" {
		return nil, ErrForbidden
	}
	return s.repo.ListSaved(ctx, user.Email)
}
