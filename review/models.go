package review

import "time"

// Review is immutable once stored. At most one exists per conversation and
// reviewer.
type Review struct {
	ConversationID string
	Reviewer       string
	Reviewee       string
	Rating         int
	Feedback       string
	CreatedAt      time.Time
}

// Summary aggregates the ratings a reviewee has received.
type Summary struct {
	Reviewee string
	Average  float64
	Count    int
}

// SubmitParams is the input of Service.Submit. An empty Reviewee defaults to
// the reviewer's counterpart.
type SubmitParams struct {
	ConversationID string
	Reviewer       string
	Reviewee       string
	Rating         int
	Feedback       string
}

const (
	MinRating = 1
	MaxRating = 5

	MaxFeedbackRunes = 2000
)
