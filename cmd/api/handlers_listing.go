package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"allfixer/auth"
	"allfixer/listing"
)

type createListingRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Location    string   `json:"location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	JobType     string   `json:"jobType"`
	ImageURL    *string  `json:"imageUrl"`
}

// postKind is what each role publishes: homeowners post jobs, tradesmen
// post adverts.
func postKind(role auth.Role) listing.Kind {
	switch role {
	case auth.RoleHomeowner:
		return listing.KindJob
	case auth.RoleTradesman:
		return listing.KindAdvert
	}
	return ""
}

// feedKind is what each role browses by default: the other side's posts.
func feedKind(role auth.Role) listing.Kind {
	switch role {
	case auth.RoleHomeowner:
		return listing.KindAdvert
	case auth.RoleTradesman:
		return listing.KindJob
	}
	return ""
}

func (s *Server) author(c *gin.Context) listing.Author {
	id := identity(c)
	a := listing.Author{Email: id.Email, Kind: postKind(id.Role), Admin: id.Role == auth.RoleAdmin}
	if p, err := s.profileService.Get(c.Request.Context(), id.Email); err == nil {
		a.DisplayName = p.DisplayName
	}
	return a
}

func (s *Server) handleListListings(c *gin.Context) {
	filters := listing.Filters{
		Kind:     listing.Kind(c.DefaultQuery("kind", string(feedKind(identity(c).Role)))),
		PostedBy: c.Query("postedBy"),
		JobType:  c.Query("jobType"),
		Sort:     listing.Sort(c.Query("sort")),
	}
	filters.Page, _ = strconv.Atoi(c.Query("page"))
	filters.PageSize, _ = strconv.Atoi(c.Query("pageSize"))

	if lat, lng := c.Query("lat"), c.Query("lng"); lat != "" || lng != "" {
		latitude, errLat := strconv.ParseFloat(lat, 64)
		longitude, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must both be numbers"})
			return
		}
		filters.Near = &listing.Point{Latitude: latitude, Longitude: longitude}
	}

	res, err := s.listingService.List(c.Request.Context(), filters)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]listingView, 0, len(res.Items))
	for _, p := range res.Items {
		items = append(items, newListingView(p))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": res.Total})
}

func (s *Server) handleCreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	params := listing.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Location:    req.Location,
		JobType:     req.JobType,
		ImageURL:    req.ImageURL,
	}
	if req.Latitude != nil && req.Longitude != nil {
		params.Coordinates = &listing.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	post, err := s.listingService.Create(c.Request.Context(), s.author(c), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newListingView(post))
}

func (s *Server) handleGetListing(c *gin.Context) {
	post, err := s.listingService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListingView(post))
}

func (s *Server) handleRemoveListing(c *gin.Context) {
	if _, err := s.listingService.Remove(c.Request.Context(), s.author(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleContactListing opens the conversation between the caller and the
// post's author.
func (s *Server) handleContactListing(c *gin.Context) {
	ctx := c.Request.Context()
	post, err := s.listingService.Get(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	conv, err := s.chatService.CreateOrGet(ctx, identity(c).Email, post.PostedBy)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationView(conv))
}

func (s *Server) handleListSaved(c *gin.Context) {
	posts, err := s.listingService.Saved(c.Request.Context(), s.author(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]listingView, 0, len(posts))
	for _, p := range posts {
		items = append(items, newListingView(p))
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) handleSaveListing(c *gin.Context) {
	post, err := s.listingService.Save(c.Request.Context(), s.author(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListingView(post))
}

func (s *Server) handleUnsaveListing(c *gin.Context) {
	if err := s.listingService.Unsave(c.Request.Context(), s.author(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
