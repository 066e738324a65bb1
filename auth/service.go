package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"allfixer/agreement"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrInvalidEmail signals a malformed email address.
	ErrInvalidEmail = errors.New("auth: invalid email")
	// ErrInvalidToken covers every token that fails verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrForbidden signals the caller's role does not permit the operation.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidRole signals a role outside the registrable set.
	ErrInvalidRole = errors.New("auth: invalid role")
	// ErrMissingFields signals an incomplete registration.
	ErrMissingFields = errors.New("auth: email and display_name are required")
	// ErrNotTradesman signals verification of an account that is not a tradesman.
	ErrNotTradesman = errors.New("auth: only tradesmen can be verified")
	// ErrInvalidProfile signals a profile edit that fails validation.
	ErrInvalidProfile = errors.New("auth: invalid profile")
	// ErrInvalidDocuments signals a missing or malformed document URL.
	ErrInvalidDocuments = errors.New("auth: invalid verification documents")
)

const (
	MaxDisplayNameRunes = 80
	MaxDescriptionRunes = 2000
	MaxJobImages        = 12
)

const defaultTokenTTL = 24 * time.Hour

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  defaultTokenTTL,
		now:       time.Now,
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// NormalizeEmail puts an email in actor id form.
func NormalizeEmail(email string) string {
	return agreement.NormalizeActor(email)
}

// Register creates a new user account. Admin accounts cannot self-register.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	return s.register(ctx, req, false)
}

// CreateAdmin provisions an admin account. It is reachable from the CLI only.
func (s *Service) CreateAdmin(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Role = RoleAdmin
	return s.register(ctx, req, true)
}

func (s *Service) register(ctx context.Context, req RegisterRequest, allowAdmin bool) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	email := NormalizeEmail(req.Email)
	displayName := strings.TrimSpace(req.DisplayName)
	if email == "" || displayName == "" {
		return nil, ErrMissingFields
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleHomeowner
	}
	if (role == RoleAdmin && !allowAdmin) || !isValidRole(role) {
		return nil, fmt.Errorf("%w %q", ErrInvalidRole, role)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(passwordHash),
		Role:         role,
		Description:  req.Description,
		Location:     req.Location,
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetVerified marks a tradesman's identity documents as checked. Only
// admins may call it.
func (s *Service) SetVerified(ctx context.Context, caller Identity, email string, verified bool) (*User, error) {
	if caller.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	target, err := s.repo.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if target.Role != RoleTradesman {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTradesman, target.Email, target.Role)
	}
	user, err := s.repo.SetVerified(ctx, target.Email, verified)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile edits the caller's own profile. Only the fields set in
// update change.
func (s *Service) UpdateProfile(ctx context.Context, caller Identity, update ProfileUpdate) (*User, error) {
	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameRunes {
			return nil, fmt.Errorf("%w: display name must be 1-%d characters", ErrInvalidProfile, MaxDisplayNameRunes)
		}
		update.DisplayName = &name
	}
	if update.Description != nil {
		desc := strings.TrimSpace(*update.Description)
		if utf8.RuneCountInString(desc) > MaxDescriptionRunes {
			return nil, fmt.Errorf("%w: description too long", ErrInvalidProfile)
		}
		update.Description = &desc
	}
	if update.Location != nil {
		loc := strings.TrimSpace(*update.Location)
		update.Location = &loc
	}
	if update.JobImageURLs != nil {
		urls := *update.JobImageURLs
		if len(urls) > MaxJobImages {
			return nil, fmt.Errorf("%w: at most %d job images", ErrInvalidProfile, MaxJobImages)
		}
		cleaned := make([]string, 0, len(urls))
		for _, raw := range urls {
			u, ok := parseHTTPURL(raw)
			if !ok {
				return nil, fmt.Errorf("%w: bad image url %q", ErrInvalidProfile, raw)
			}
			cleaned = append(cleaned, u)
		}
		update.JobImageURLs = &cleaned
	}

	user, err := s.repo.UpdateProfile(ctx, NormalizeEmail(caller.Email), update)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SubmitDocuments stores a tradesman's identity uploads. Submitting again
// replaces them and puts the account back in the verification queue.
func (s *Service) SubmitDocuments(ctx context.Context, caller Identity, docs Documents) (*User, error) {
	if caller.Role != RoleTradesman {
		return nil, ErrNotTradesman
	}
	fields := []*string{&docs.CertificateImageURL, &docs.IDImageURL, &docs.SelfieImageURL}
	for _, f := range fields {
		u, ok := parseHTTPURL(*f)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDocuments, *f)
		}
		*f = u
	}

	user, err := s.repo.SetDocuments(ctx, NormalizeEmail(caller.Email), docs)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PendingVerifications lists tradesmen waiting for an admin to check their
// documents.
func (s *Service) PendingVerifications(ctx context.Context, caller Identity, limit int) ([]User, error) {
	if caller.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListPendingVerifications(ctx, limit)
}

func parseHTTPURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return raw, true
}

// VerifyToken validates a JWT token and returns the caller's identity.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return Identity{}, fmt.Errorf("%w: missing email", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Identity{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}

	return Identity{UserID: userID, Email: email, Role: role}, nil
}

func (s *Service) generateToken(user User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleHomeowner, RoleTradesman, RoleAdmin:
		return true
	default:
		return false
	}
}
