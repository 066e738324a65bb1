package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"allfixer/agreement"
	"allfixer/auth"
	"allfixer/chat"
	"allfixer/listing"
	"allfixer/profile"
	"allfixer/review"
)

type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
	SetVerified(ctx context.Context, caller auth.Identity, email string, verified bool) (*auth.User, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	UpdateProfile(ctx context.Context, caller auth.Identity, update auth.ProfileUpdate) (*auth.User, error)
	SubmitDocuments(ctx context.Context, caller auth.Identity, docs auth.Documents) (*auth.User, error)
	PendingVerifications(ctx context.Context, caller auth.Identity, limit int) ([]auth.User, error)
}

type ChatService interface {
	CreateOrGet(ctx context.Context, actor, other string) (chat.Conversation, error)
	Get(ctx context.Context, id, actor string) (chat.Conversation, error)
	SendMessage(ctx context.Context, conversationID, sender, text string) (chat.Message, error)
	ListConversations(ctx context.Context, actor string) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID, actor string) ([]chat.Message, error)
}

type ChatFeed interface {
	WatchMessages(ctx context.Context, conversationID, actor string) (*chat.Stream[[]chat.Message], error)
	WatchConversation(ctx context.Context, conversationID, actor string) (*chat.Stream[chat.Conversation], error)
	WatchConversations(ctx context.Context, actor string) (*chat.Stream[[]chat.Conversation], error)
}

type HandshakeService interface {
	Accept(ctx context.Context, conversationID, actor string) (agreement.Record, error)
	MarkFinished(ctx context.Context, conversationID, actor string) (agreement.Record, error)
	Events(ctx context.Context, conversationID string) ([]agreement.Event, error)
}

type ReviewService interface {
	ShouldPromptReview(ctx context.Context, conversationID, actor string) (bool, error)
	HasReviewed(ctx context.Context, conversationID, actor string) (bool, error)
	Submit(ctx context.Context, p review.SubmitParams) (review.Review, error)
	Get(ctx context.Context, conversationID, reviewer string) (review.Review, error)
	ListForReviewee(ctx context.Context, reviewee string, limit int) ([]review.Review, error)
}

type ProfileService interface {
	Get(ctx context.Context, email string) (profile.Profile, error)
	ListTradesmen(ctx context.Context, limit int) ([]profile.Profile, error)
}

type ListingService interface {
	Create(ctx context.Context, author listing.Author, params listing.CreateParams) (listing.Post, error)
	Get(ctx context.Context, id string) (listing.Post, error)
	List(ctx context.Context, filters listing.Filters) (listing.ListResult, error)
	Remove(ctx context.Context, author listing.Author, id string) (listing.Post, error)
	Save(ctx context.Context, user listing.Author, id string) (listing.Post, error)
	Unsave(ctx context.Context, user listing.Author, id string) error
	Saved(ctx context.Context, user listing.Author) ([]listing.Post, error)
}

type BlobStore interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Server wires the HTTP surface onto the domain services.
type Server struct {
	authService      AuthService
	chatService      ChatService
	chatFeed         ChatFeed
	handshakeService HandshakeService
	reviewService    ReviewService
	profileService   ProfileService
	listingService   ListingService
	blobStore        BlobStore
	blobDir          string
	metricsHandler   http.Handler
	ready            func(ctx context.Context) error
	pingInterval     time.Duration
	logger           *slog.Logger
}

const identityKey = "identity"

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	if s.logger == nil {
		s.logger = slog.Default()
	}

	router := gin.New()
	router.Use(s.recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(s.metricsHandler))
	}
	if s.blobDir != "" {
		router.Static("/blobs", s.blobDir)
	}

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)

		secured := api.Group("")
		secured.Use(s.requireIdentity())

		chats := secured.Group("/chats")
		chats.GET("", s.handleListChats)
		chats.POST("", s.handleCreateChat)
		chats.GET("/:id", s.handleGetChat)
		chats.GET("/:id/messages", s.handleListMessages)
		chats.POST("/:id/messages", s.handleSendMessage)
		chats.POST("/:id/accept", s.handleAccept)
		chats.POST("/:id/finish", s.handleFinish)
		chats.GET("/:id/events", s.handleListEvents)
		chats.GET("/:id/review", s.handleReviewGate)
		chats.POST("/:id/review", s.handleSubmitReview)

		profiles := secured.Group("/profiles")
		profiles.GET("", s.handleListProfiles)
		profiles.GET("/:email", s.handleGetProfile)
		profiles.GET("/:email/reviews", s.handleListReviews)

		listings := secured.Group("/listings")
		listings.GET("", s.handleListListings)
		listings.POST("", s.handleCreateListing)
		listings.GET("/:id", s.handleGetListing)
		listings.DELETE("/:id", s.handleRemoveListing)
		listings.POST("/:id/contact", s.handleContactListing)

		secured.GET("/auth/me", s.handleMe)
		secured.PATCH("/auth/me", s.handleUpdateMe)
		secured.PUT("/auth/me/documents", s.handleSubmitDocuments)

		saved := secured.Group("/saved-listings")
		saved.GET("", s.handleListSaved)
		saved.PUT("/:id", s.handleSaveListing)
		saved.DELETE("/:id", s.handleUnsaveListing)
		secured.POST("/uploads", s.handleUpload)
		secured.GET("/admin/verifications", s.handlePendingVerifications)
		secured.POST("/admin/users/:email/verify", s.handleVerifyUser)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			s.logger.WarnContext(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireIdentity verifies the bearer token. EventSource clients cannot set
// headers, so the token is also accepted as the access_token query value.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			scheme, value, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
				return
			}
			token = strings.TrimSpace(value)
		} else {
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		id, err := s.authService.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	id, _ := c.MustGet(identityKey).(auth.Identity)
	return id
}
