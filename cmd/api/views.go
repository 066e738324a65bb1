package main

import (
	"time"

	"allfixer/agreement"
	"allfixer/auth"
	"allfixer/chat"
	"allfixer/listing"
	"allfixer/profile"
	"allfixer/review"
)

type conversationView struct {
	ID                 string    `json:"id"`
	Participants       [2]string `json:"participants"`
	LastMessage        string    `json:"lastMessage"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	JobAcceptedBy      []string  `json:"jobAcceptedBy"`
	JobFinishedBy      []string  `json:"jobFinishedBy"`
	BothAccepted       bool      `json:"bothAccepted"`
	JobCompleted       bool      `json:"jobCompleted"`
	Phase              string    `json:"phase"`
	Revision           int64     `json:"revision"`
	ShouldPromptReview *bool     `json:"shouldPromptReview,omitempty"`
}

func newConversationView(conv chat.Conversation) conversationView {
	return conversationView{
		ID:            conv.ID,
		Participants:  conv.Participants,
		LastMessage:   conv.LastMessage,
		LastMessageAt: conv.LastMessageAt,
		JobAcceptedBy: nonNil(conv.AcceptedBy),
		JobFinishedBy: nonNil(conv.FinishedBy),
		BothAccepted:  conv.BothAccepted(),
		JobCompleted:  conv.Completed(),
		Phase:         string(conv.Phase()),
		Revision:      conv.Revision,
	}
}

func newConversationViews(convs []chat.Conversation) []conversationView {
	out := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		out = append(out, newConversationView(conv))
	}
	return out
}

type handshakeView struct {
	ConversationID string   `json:"id"`
	JobAcceptedBy  []string `json:"jobAcceptedBy"`
	JobFinishedBy  []string `json:"jobFinishedBy"`
	BothAccepted   bool     `json:"bothAccepted"`
	JobCompleted   bool     `json:"jobCompleted"`
	Phase          string   `json:"phase"`
	Revision       int64    `json:"revision"`
}

func newHandshakeView(rec agreement.Record) handshakeView {
	return handshakeView{
		ConversationID: rec.ConversationID,
		JobAcceptedBy:  nonNil(rec.AcceptedBy),
		JobFinishedBy:  nonNil(rec.FinishedBy),
		BothAccepted:   rec.BothAccepted(),
		JobCompleted:   rec.Completed(),
		Phase:          string(rec.Phase()),
		Revision:       rec.Revision,
	}
}

type eventView struct {
	Type      string    `json:"type"`
	Actor     string    `json:"actor"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
}

func newEventViews(events []agreement.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{Type: ev.Type, Actor: ev.ActorID, Revision: ev.Revision, CreatedAt: ev.CreatedAt})
	}
	return out
}

type messageView struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}

func newMessageView(m chat.Message) messageView {
	return messageView{ID: m.ID, Seq: m.Seq, Sender: m.Sender, Text: m.Text, CreatedAt: m.CreatedAt}
}

func newMessageViews(msgs []chat.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	return out
}

type reviewView struct {
	ConversationID string    `json:"conversationId"`
	Reviewer       string    `json:"reviewer"`
	Reviewee       string    `json:"reviewee"`
	Rating         int       `json:"rating"`
	Feedback       string    `json:"feedback"`
	CreatedAt      time.Time `json:"timestamp"`
}

func newReviewView(r review.Review) reviewView {
	return reviewView{
		ConversationID: r.ConversationID,
		Reviewer:       r.Reviewer,
		Reviewee:       r.Reviewee,
		Rating:         r.Rating,
		Feedback:       r.Feedback,
		CreatedAt:      r.CreatedAt,
	}
}

type profileView struct {
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	Role          string    `json:"role"`
	Description   *string   `json:"description,omitempty"`
	Location      *string   `json:"location,omitempty"`
	Verified      bool      `json:"verified"`
	JobImageURLs  []string  `json:"jobImageUrls"`
	AverageRating float64   `json:"averageRating"`
	ReviewCount   int       `json:"reviewCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newProfileView(p profile.Profile) profileView {
	return profileView{
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Role:          p.Role,
		Description:   p.Description,
		Location:      p.Location,
		Verified:      p.Verified,
		JobImageURLs:  nonNil(p.JobImageURLs),
		AverageRating: p.AverageRating,
		ReviewCount:   p.ReviewCount,
		CreatedAt:     p.CreatedAt,
	}
}

type listingView struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	Location     string    `json:"location"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	JobType      string    `json:"jobType"`
	ImageURL     *string   `json:"imageUrl,omitempty"`
	PostedBy     string    `json:"postedBy"`
	PostedByName string    `json:"postedByName"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newListingView(p listing.Post) listingView {
	v := listingView{
		ID:           p.ID,
		Kind:         string(p.Kind),
		Title:        p.Title,
		Description:  p.Description,
		Price:        p.Price,
		Location:     p.Location,
		JobType:      p.JobType,
		ImageURL:     p.ImageURL,
		PostedBy:     p.PostedBy,
		PostedByName: p.PostedByName,
		CreatedAt:    p.CreatedAt,
	}
	if p.Coordinates != nil {
		v.Latitude = &p.Coordinates.Latitude
		v.Longitude = &p.Coordinates.Longitude
	}
	return v
}

type userView struct {
	ID                  string   `json:"id"`
	Email               string   `json:"email"`
	DisplayName         string   `json:"displayName"`
	Role                string   `json:"role"`
	Description         *string  `json:"description,omitempty"`
	Location            *string  `json:"location,omitempty"`
	Verified            bool     `json:"verified"`
	JobImageURLs        []string `json:"jobImageUrls"`
	CertificateImageURL *string  `json:"certificateImageUrl,omitempty"`
	IDImageURL          *string  `json:"idImageUrl,omitempty"`
	SelfieImageURL      *string  `json:"selfieImageUrl,omitempty"`
}

func newUserView(u auth.User) userView {
	return userView{
		ID:                  u.ID,
		Email:               u.Email,
		DisplayName:         u.DisplayName,
		Role:                string(u.Role),
		Description:         u.Description,
		Location:            u.Location,
		Verified:            u.Verified,
		JobImageURLs:        nonNil(u.JobImageURLs),
		CertificateImageURL: u.CertificateImageURL,
		IDImageURL:          u.IDImageURL,
		SelfieImageURL:      u.SelfieImageURL,
	}
}

func newUserViews(users []auth.User) []userView {
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
