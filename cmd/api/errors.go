package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"allfixer/agreement"
	"allfixer/auth"
	"allfixer/blob"
	"allfixer/chat"
	"allfixer/listing"
	"allfixer/profile"
	"allfixer/review"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{agreement.ErrNotParticipant, http.StatusForbidden},
	{auth.ErrForbidden, http.StatusForbidden},
	{listing.ErrForbidden, http.StatusForbidden},

	{chat.ErrNotFound, http.StatusNotFound},
	{agreement.ErrNotFound, http.StatusNotFound},
	{review.ErrConversationNotFound, http.StatusNotFound},
	{review.ErrNotFound, http.StatusNotFound},
	{profile.ErrNotFound, http.StatusNotFound},
	{listing.ErrNotFound, http.StatusNotFound},
	{auth.ErrUserNotFound, http.StatusNotFound},
	{chat.ErrUnknownUser, http.StatusNotFound},

	{agreement.ErrAcceptancePending, http.StatusConflict},
	{agreement.ErrTooManyConflicts, http.StatusConflict},
	{review.ErrAlreadyReviewed, http.StatusConflict},
	{review.ErrJobNotCompleted, http.StatusConflict},
	{auth.ErrDuplicateEmail, http.StatusConflict},

	{auth.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},

	{blob.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{blob.ErrUnsupportedType, http.StatusUnsupportedMediaType},

	{agreement.ErrUnknownAction, http.StatusBadRequest},
	{chat.ErrEmptyMessage, http.StatusBadRequest},
	{chat.ErrMessageTooLong, http.StatusBadRequest},
	{chat.ErrSameParticipant, http.StatusBadRequest},
	{chat.ErrInvalidParticipant, http.StatusBadRequest},
	{review.ErrInvalidRating, http.StatusBadRequest},
	{review.ErrInvalidReviewee, http.StatusBadRequest},
	{review.ErrFeedbackTooLong, http.StatusBadRequest},
	{auth.ErrWeakPassword, http.StatusBadRequest},
	{auth.ErrInvalidEmail, http.StatusBadRequest},
	{auth.ErrInvalidRole, http.StatusBadRequest},
	{auth.ErrMissingFields, http.StatusBadRequest},
	{auth.ErrNotTradesman, http.StatusBadRequest},
	{blob.ErrEmpty, http.StatusBadRequest},
	{listing.ErrInvalidPost, http.StatusBadRequest},
	{listing.ErrInvalidQuery, http.StatusBadRequest},
	{listing.ErrOwnPost, http.StatusBadRequest},
	{auth.ErrInvalidProfile, http.StatusBadRequest},
	{auth.ErrInvalidDocuments, http.StatusBadRequest},
}

func statusFor(err error) int {
	for _, m := range statusBySentinel {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// writeError maps domain errors to HTTP responses. Unmapped errors are
// logged and reported without detail.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		s.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
