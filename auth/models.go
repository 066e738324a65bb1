package auth

import "time"

type Role string

const (
	RoleHomeowner Role = "homeowner"
	RoleTradesman Role = "tradesman"
	RoleAdmin     Role = "admin"
)

// User is the domain representation of an account. The email is the actor
// id used across conversations and reviews.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	Description  *string
	Location     *string
	Verified     bool
	// Identity documents, set by the tradesman and checked by an admin.
	CertificateImageURL *string
	IDImageURL          *string
	SelfieImageURL      *string
	JobImageURLs        []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasDocuments reports whether every identity document was submitted.
func (u User) HasDocuments() bool {
	return u.CertificateImageURL != nil && u.IDImageURL != nil && u.SelfieImageURL != nil
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName string  `json:"display_name"`
	Role        Role    `json:"role"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`
}

// ProfileUpdate holds the editable profile fields. Nil fields keep their
// stored value.
type ProfileUpdate struct {
	DisplayName  *string   `json:"display_name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Location     *string   `json:"location,omitempty"`
	JobImageURLs *[]string `json:"job_image_urls,omitempty"`
}

// Documents are the uploads a tradesman submits for identity verification.
type Documents struct {
	CertificateImageURL string `json:"certificate_image_url"`
	IDImageURL          string `json:"id_image_url"`
	SelfieImageURL      string `json:"selfie_image_url"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}
