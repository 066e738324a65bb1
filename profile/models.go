package profile

import "time"

// Profile is the public view of an account with its rating aggregates.
type Profile struct {
	Email         string
	DisplayName   string
	Role          string
	Description   *string
	Location      *string
	Verified      bool
	JobImageURLs  []string
	AverageRating float64
	ReviewCount   int
	CreatedAt     time.Time
}
