package listing

import "time"

// Kind separates homeowner job posts from tradesman adverts.
type Kind string

const (
	KindJob    Kind = "job"
	KindAdvert Kind = "advert"
)

func (k Kind) Valid() bool {
	return k == KindJob || k == KindAdvert
}

type Sort string

const (
	SortNewest    Sort = "newest"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortDistance  Sort = "distance"
)

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Post is a job or advert shown in the marketplace feed. PostedBy is the
// author's actor id, so a post can open a conversation with its author.
type Post struct {
	ID           string
	Kind         Kind
	Title        string
	Description  string
	Price        float64
	Location     string
	Coordinates  *Point
	JobType      string
	ImageURL     *string
	PostedBy     string
	PostedByName string
	CreatedAt    time.Time
}

type Filters struct {
	Kind     Kind
	PostedBy string
	JobType  string
	Sort     Sort
	// Near is required for SortDistance. Posts without coordinates sort last.
	Near     *Point
	Page     int
	PageSize int
}
