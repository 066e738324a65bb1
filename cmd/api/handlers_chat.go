package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"allfixer/chat"
	"allfixer/review"
)

type createChatRequest struct {
	With string `json:"with"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type submitReviewRequest struct {
	Reviewee string `json:"reviewee"`
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleListChats(c *gin.Context) {
	actor := identity(c).Email
	ctx := c.Request.Context()

	if wantsWatch(c) {
		stream, err := s.chatFeed.WatchConversations(ctx, actor)
		if err != nil {
			s.writeError(c, err)
			return
		}
		streamSnapshots(s, c, stream, func(_ context.Context, convs []chat.Conversation) (any, error) {
			return newConversationViews(convs), nil
		})
		return
	}

	convs, err := s.chatService.ListConversations(ctx, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationViews(convs))
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	conv, err := s.chatService.CreateOrGet(c.Request.Context(), identity(c).Email, req.With)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationView(conv))
}

func (s *Server) handleGetChat(c *gin.Context) {
	actor := identity(c).Email
	id := c.Param("id")
	ctx := c.Request.Context()

	if wantsWatch(c) {
		stream, err := s.chatFeed.WatchConversation(ctx, id, actor)
		if err != nil {
			s.writeError(c, err)
			return
		}
		streamSnapshots(s, c, stream, func(ctx context.Context, conv chat.Conversation) (any, error) {
			return s.conversationWithGate(ctx, conv, actor)
		})
		return
	}

	conv, err := s.chatService.Get(ctx, id, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	view, err := s.conversationWithGate(ctx, conv, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) conversationWithGate(ctx context.Context, conv chat.Conversation, actor string) (conversationView, error) {
	view := newConversationView(conv)
	prompt, err := s.reviewService.ShouldPromptReview(ctx, conv.ID, actor)
	if err != nil {
		return conversationView{}, err
	}
	view.ShouldPromptReview = &prompt
	return view, nil
}

func (s *Server) handleListMessages(c *gin.Context) {
	actor := identity(c).Email
	id := c.Param("id")
	ctx := c.Request.Context()

	if wantsWatch(c) {
		stream, err := s.chatFeed.WatchMessages(ctx, id, actor)
		if err != nil {
			s.writeError(c, err)
			return
		}
		streamSnapshots(s, c, stream, func(_ context.Context, msgs []chat.Message) (any, error) {
			return newMessageViews(msgs), nil
		})
		return
	}

	msgs, err := s.chatService.ListMessages(ctx, id, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMessageViews(msgs))
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := s.chatService.SendMessage(c.Request.Context(), c.Param("id"), identity(c).Email, req.Text)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageView(msg))
}

func (s *Server) handleAccept(c *gin.Context) {
	rec, err := s.handshakeService.Accept(c.Request.Context(), c.Param("id"), identity(c).Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHandshakeView(rec))
}

func (s *Server) handleFinish(c *gin.Context) {
	rec, err := s.handshakeService.MarkFinished(c.Request.Context(), c.Param("id"), identity(c).Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHandshakeView(rec))
}

// handleListEvents returns the handshake audit trail, oldest first.
func (s *Server) handleListEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.chatService.Get(ctx, id, identity(c).Email); err != nil {
		s.writeError(c, err)
		return
	}
	events, err := s.handshakeService.Events(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEventViews(events))
}

func (s *Server) handleReviewGate(c *gin.Context) {
	actor := identity(c).Email
	id := c.Param("id")
	ctx := c.Request.Context()

	prompt, err := s.reviewService.ShouldPromptReview(ctx, id, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	reviewed, err := s.reviewService.HasReviewed(ctx, id, actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shouldPrompt": prompt, "hasReviewed": reviewed})
}

func (s *Server) handleSubmitReview(c *gin.Context) {
	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rev, err := s.reviewService.Submit(c.Request.Context(), review.SubmitParams{
		ConversationID: c.Param("id"),
		Reviewer:       identity(c).Email,
		Reviewee:       req.Reviewee,
		Rating:         req.Rating,
		Feedback:       req.Feedback,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReviewView(rev))
}
