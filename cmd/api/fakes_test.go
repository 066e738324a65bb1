package main

import (
	"context"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"allfixer/agreement"
	"allfixer/auth"
	"allfixer/chat"
	"allfixer/listing"
	"allfixer/profile"
	"allfixer/review"
)

// memoryBackend holds conversations once and exposes them through both the
// chat and the handshake store, like the shared conversations table.
type memoryBackend struct {
	mu       sync.Mutex
	convs    map[string]chat.Conversation
	messages map[string][]chat.Message
	seq      int64
	reviews  map[[2]string]review.Review
	events   map[string][]agreement.Event
	eventSeq int64
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		convs:    make(map[string]chat.Conversation),
		messages: make(map[string][]chat.Message),
		reviews:  make(map[[2]string]review.Review),
		events:   make(map[string][]agreement.Event),
	}
}

type chatStore struct{ *memoryBackend }

func (m chatStore) Create(ctx context.Context, conv chat.Conversation) (chat.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.convs[conv.ID]; ok {
		return existing, false, nil
	}
	m.convs[conv.ID] = conv
	return conv, true, nil
}

func (m chatStore) Get(ctx context.Context, id string) (chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return conv, nil
}

func (m chatStore) ListForActor(ctx context.Context, actor string) ([]chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Conversation
	for _, conv := range m.convs {
		if conv.IsParticipant(actor) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (m chatStore) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[msg.ConversationID]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	m.seq++
	msg.Seq = m.seq
	m.messages[conv.ID] = append(m.messages[conv.ID], msg)
	if !msg.CreatedAt.Before(conv.LastMessageAt) {
		conv.LastMessage = msg.Text
		conv.LastMessageAt = msg.CreatedAt
		m.convs[conv.ID] = conv
	}
	return msg, nil
}

func (m chatStore) ListMessages(ctx context.Context, id string) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message(nil), m.messages[id]...), nil
}

type handshakeStore struct{ *memoryBackend }

func (m handshakeStore) Get(ctx context.Context, id string) (agreement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return agreement.Record{}, agreement.ErrNotFound
	}
	return agreement.Record{ConversationID: conv.ID, Handshake: conv.Handshake, Revision: conv.Revision, UpdatedAt: conv.UpdatedAt}, nil
}

func (m handshakeStore) CompareAndSwap(ctx context.Context, id string, expected int64, next agreement.Handshake, pending []agreement.PendingEvent) (agreement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return agreement.Record{}, agreement.ErrNotFound
	}
	if conv.Revision != expected {
		return agreement.Record{}, agreement.ErrRevisionConflict
	}
	conv.Handshake = next
	conv.Revision++
	conv.UpdatedAt = time.Now()
	m.convs[id] = conv
	for _, ev := range pending {
		m.eventSeq++
		m.events[id] = append(m.events[id], agreement.Event{
			ID:             m.eventSeq,
			ConversationID: id,
			Type:           ev.Type,
			ActorID:        ev.ActorID,
			Revision:       conv.Revision,
			CreatedAt:      conv.UpdatedAt,
		})
	}
	return agreement.Record{ConversationID: conv.ID, Handshake: conv.Handshake, Revision: conv.Revision, UpdatedAt: conv.UpdatedAt}, nil
}

func (m handshakeStore) ListEvents(ctx context.Context, id string) ([]agreement.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]agreement.Event(nil), m.events[id]...), nil
}

type reviewStore struct{ *memoryBackend }

func (m reviewStore) Insert(ctx context.Context, r review.Review) (review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{r.ConversationID, r.Reviewer}
	if _, ok := m.reviews[key]; ok {
		return review.Review{}, review.ErrAlreadyReviewed
	}
	r.CreatedAt = time.Now()
	m.reviews[key] = r
	return r, nil
}

func (m reviewStore) Exists(ctx context.Context, conversationID, reviewer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reviews[[2]string{conversationID, reviewer}]
	return ok, nil
}

func (m reviewStore) Get(ctx context.Context, conversationID, reviewer string) (review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[[2]string{conversationID, reviewer}]
	if !ok {
		return review.Review{}, review.ErrNotFound
	}
	return r, nil
}

func (m reviewStore) ListForReviewee(ctx context.Context, reviewee string, limit int) ([]review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.Review
	for _, r := range m.reviews {
		if r.Reviewee == reviewee {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m reviewStore) Summary(ctx context.Context, reviewee string) (review.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := review.Summary{Reviewee: reviewee}
	total := 0
	for _, r := range m.reviews {
		if r.Reviewee == reviewee {
			total += r.Rating
			sum.Count++
		}
	}
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}

// userStore backs auth, the chat directory and profile lookups.
type userStore struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func newUserStore() *userStore {
	return &userStore{users: make(map[string]auth.User)}
}

func (s *userStore) CreateUser(ctx context.Context, p auth.CreateUserParams) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.Email]; ok {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	u := auth.User{
		ID:           uuid.NewString(),
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		Description:  p.Description,
		Location:     p.Location,
		CreatedAt:    time.Now(),
	}
	s.users[p.Email] = u
	return u, nil
}

func (s *userStore) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *userStore) GetUserByID(ctx context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (s *userStore) SetVerified(ctx context.Context, email string, verified bool) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	u.Verified = verified
	s.users[email] = u
	return u, nil
}

func (s *userStore) UpdateProfile(ctx context.Context, email string, update auth.ProfileUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	if update.DisplayName != nil {
		u.DisplayName = *update.DisplayName
	}
	if update.Description != nil {
		u.Description = update.Description
	}
	if update.Location != nil {
		u.Location = update.Location
	}
	if update.JobImageURLs != nil {
		u.JobImageURLs = *update.JobImageURLs
	}
	s.users[email] = u
	return u, nil
}

func (s *userStore) SetDocuments(ctx context.Context, email string, docs auth.Documents) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	u.CertificateImageURL = &docs.CertificateImageURL
	u.IDImageURL = &docs.IDImageURL
	u.SelfieImageURL = &docs.SelfieImageURL
	u.Verified = false
	s.users[email] = u
	return u, nil
}

func (s *userStore) ListPendingVerifications(ctx context.Context, limit int) ([]auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.User
	for _, u := range s.users {
		if u.Role == auth.RoleTradesman && !u.Verified && u.HasDocuments() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[email]
	return ok, nil
}

type profileStore struct {
	users   *userStore
	reviews reviewStore
}

func (p profileStore) GetByEmail(ctx context.Context, email string) (profile.Profile, error) {
	u, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		return profile.Profile{}, profile.ErrNotFound
	}
	return p.toProfile(ctx, u)
}

func (p profileStore) ListTradesmen(ctx context.Context, limit int) ([]profile.Profile, error) {
	p.users.mu.Lock()
	var users []auth.User
	for _, u := range p.users.users {
		if u.Role == auth.RoleTradesman {
			users = append(users, u)
		}
	}
	p.users.mu.Unlock()

	out := make([]profile.Profile, 0, len(users))
	for _, u := range users {
		prof, err := p.toProfile(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, prof)
	}
	return out, nil
}

func (p profileStore) toProfile(ctx context.Context, u auth.User) (profile.Profile, error) {
	sum, err := p.reviews.Summary(ctx, u.Email)
	if err != nil {
		return profile.Profile{}, err
	}
	return profile.Profile{
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          string(u.Role),
		Verified:      u.Verified,
		JobImageURLs:  u.JobImageURLs,
		AverageRating: sum.Average,
		ReviewCount:   sum.Count,
		CreatedAt:     u.CreatedAt,
	}, nil
}

type fakeBlobStore struct {
	uploadFn func(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

func (f *fakeBlobStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	return f.uploadFn(ctx, name, contentType, r)
}

type listingStore struct {
	mu    sync.Mutex
	posts []listing.Post
	saved map[string][]string
}

func (s *listingStore) Save(ctx context.Context, user, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string][]string)
	}
	if !slices.Contains(s.saved[user], id) {
		s.saved[user] = append(s.saved[user], id)
	}
	return nil
}

func (s *listingStore) Unsave(ctx context.Context, user, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids, ok := s.saved[user]; ok {
		s.saved[user] = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	}
	return nil
}

func (s *listingStore) ListSaved(ctx context.Context, user string) ([]listing.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []listing.Post
	for i := len(s.saved[user]) - 1; i >= 0; i-- {
		for _, p := range s.posts {
			if p.ID == s.saved[user][i] {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (s *listingStore) Create(ctx context.Context, post listing.Post) (listing.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post.CreatedAt = time.Now()
	s.posts = append(s.posts, post)
	return post, nil
}

func (s *listingStore) Get(ctx context.Context, id string) (listing.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return listing.Post{}, listing.ErrNotFound
}

func (s *listingStore) List(ctx context.Context, f listing.Filters) ([]listing.Post, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []listing.Post
	for i := len(s.posts) - 1; i >= 0; i-- {
		p := s.posts[i]
		if (f.Kind == "" || p.Kind == f.Kind) && (f.JobType == "" || p.JobType == f.JobType) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (s *listingStore) Remove(ctx context.Context, id string, authorize func(listing.Post) error) (listing.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.posts {
		if p.ID != id {
			continue
		}
		if err := authorize(p); err != nil {
			return listing.Post{}, err
		}
		s.posts = append(s.posts[:i], s.posts[i+1:]...)
		return p, nil
	}
	return listing.Post{}, listing.ErrNotFound
}
