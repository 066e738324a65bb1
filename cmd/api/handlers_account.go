package main

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"allfixer/auth"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := s.authService.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserView(*user))
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.authService.Login(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": res.Token, "user": newUserView(res.User)})
}

func (s *Server) handleMe(c *gin.Context) {
	user, err := s.authService.GetUserByID(c.Request.Context(), identity(c).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(*user))
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	var req auth.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := s.authService.UpdateProfile(c.Request.Context(), identity(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(*user))
}

// handleSubmitDocuments takes URLs returned by /api/uploads.
func (s *Server) handleSubmitDocuments(c *gin.Context) {
	var req auth.Documents
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := s.authService.SubmitDocuments(c.Request.Context(), identity(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(*user))
}

func (s *Server) handlePendingVerifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	users, err := s.authService.PendingVerifications(c.Request.Context(), identity(c), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserViews(users))
}

func (s *Server) handleVerifyUser(c *gin.Context) {
	var req struct {
		Verified *bool `json:"verified"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	verified := true
	if req.Verified != nil {
		verified = *req.Verified
	}

	user, err := s.authService.SetVerified(c.Request.Context(), identity(c), c.Param("email"), verified)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(*user))
}

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.profileService.Get(c.Request.Context(), c.Param("email"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfileView(p))
}

func (s *Server) handleListProfiles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	profiles, err := s.profileService.ListTradesmen(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newProfileView(p))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListReviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	reviews, err := s.reviewService.ListForReviewee(c.Request.Context(), c.Param("email"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]reviewView, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, newReviewView(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.blobStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads are disabled"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}
	url, err := s.blobStore.Upload(c.Request.Context(), filepath.Base(header.Filename), contentType, f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
