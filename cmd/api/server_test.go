package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"allfixer/agreement"
	"allfixer/auth"
	"allfixer/blob"
	"allfixer/chat"
	"allfixer/listing"
	"allfixer/metrics"
	"allfixer/notify"
	"allfixer/profile"
	"allfixer/review"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
	carol = "carol@example.com"
)

type harness struct {
	router   *gin.Engine
	server   *Server
	notifier *notify.Local
	users    *userStore
	blobs    *fakeBlobStore
	tokens   map[string]string
}

func newHarness() *harness {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := newMemoryBackend()
	users := newUserStore()
	notifier := notify.NewLocal()
	m := metrics.New()

	authSvc := auth.NewService(users, "test-secret")
	handshakes := agreement.NewService(handshakeStore{backend}).WithNotifier(notifier).WithMetrics(m).WithLogger(logger)
	chats := chat.NewService(chatStore{backend}).WithNotifier(notifier).WithDirectory(users).WithMetrics(m).WithLogger(logger)
	reviews := review.NewService(reviewStore{backend}, handshakes).WithNotifier(notifier).WithMetrics(m).WithLogger(logger)
	blobs := &fakeBlobStore{}

	srv := &Server{
		authService:      authSvc,
		chatService:      chats,
		chatFeed:         chat.NewFeed(chats, notifier).WithLogger(logger),
		handshakeService: handshakes,
		reviewService:    reviews,
		profileService:   profile.NewService(profileStore{users: users, reviews: reviewStore{backend}}),
		listingService:   listing.NewService(&listingStore{}).WithLogger(logger),
		blobStore:        blobs,
		metricsHandler:   m.Handler(),
		pingInterval:     time.Hour,
		logger:           logger,
	}

	h := &harness{
		router:   srv.Router(),
		server:   srv,
		notifier: notifier,
		users:    users,
		blobs:    blobs,
		tokens:   make(map[string]string),
	}
	h.register(alice, auth.RoleHomeowner)
	h.register(bob, auth.RoleTradesman)
	h.register(carol, auth.RoleHomeowner)
	return h
}

func (h *harness) register(email string, role auth.Role) {
	w := h.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":        email,
		"password":     "correct-horse",
		"display_name": strings.Split(email, "@")[0],
		"role":         role,
	})
	ExpectWithOffset(1, w.Code).To(Equal(http.StatusCreated), w.Body.String())

	w = h.do(http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    email,
		"password": "correct-horse",
	})
	ExpectWithOffset(1, w.Code).To(Equal(http.StatusOK), w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	ExpectWithOffset(1, json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
	h.tokens[email] = resp.Token
}

func (h *harness) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("Authorization", "Bearer "+h.tokens[actor])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) createChat(actor, with string) conversationView {
	w := h.do(http.MethodPost, "/api/chats", actor, map[string]string{"with": with})
	ExpectWithOffset(1, w.Code).To(Equal(http.StatusOK), w.Body.String())
	var conv conversationView
	ExpectWithOffset(1, json.Unmarshal(w.Body.Bytes(), &conv)).To(Succeed())
	return conv
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var out T
	ExpectWithOffset(1, json.Unmarshal(w.Body.Bytes(), &out)).To(Succeed(), w.Body.String())
	return out
}

var _ = Describe("Server", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
		DeferCleanup(h.notifier.Close)
	})

	Describe("authentication", func() {
		It("rejects requests without a token", func() {
			w := h.do(http.MethodGet, "/api/chats", "", nil)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects a malformed authorization header", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			req.Header.Set("Authorization", "Token abc")
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the token as a query parameter", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/chats?access_token="+h.tokens[alice], nil)
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("returns the caller's account", func() {
			w := h.do(http.MethodGet, "/api/auth/me", bob, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			me := decode[userView](w)
			Expect(me.Email).To(Equal(bob))
			Expect(me.Role).To(Equal(string(auth.RoleTradesman)))
		})

		It("reports a duplicate registration as a conflict", func() {
			w := h.do(http.MethodPost, "/api/auth/register", "", map[string]any{
				"email":        alice,
				"password":     "correct-horse",
				"display_name": "again",
			})
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("rejects wrong passwords", func() {
			w := h.do(http.MethodPost, "/api/auth/login", "", map[string]any{
				"email":    alice,
				"password": "wrong-password",
			})
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("refuses self-registration as admin", func() {
			w := h.do(http.MethodPost, "/api/auth/register", "", map[string]any{
				"email":        "mallory@example.com",
				"password":     "correct-horse",
				"display_name": "mallory",
				"role":         "admin",
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("conversations", func() {
		It("returns the same conversation from both sides", func() {
			fromAlice := h.createChat(alice, bob)
			fromBob := h.createChat(bob, alice)

			Expect(fromBob.ID).To(Equal(fromAlice.ID))
			Expect(fromAlice.Participants).To(Equal([2]string{alice, bob}))
			Expect(fromAlice.Phase).To(Equal(string(agreement.PhaseEmpty)))
			Expect(fromAlice.JobAcceptedBy).To(BeEmpty())
		})

		It("rejects unknown counterparts and self-chats", func() {
			w := h.do(http.MethodPost, "/api/chats", alice, map[string]string{"with": "nobody@example.com"})
			Expect(w.Code).To(Equal(http.StatusNotFound))

			w = h.do(http.MethodPost, "/api/chats", alice, map[string]string{"with": alice})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("keeps outsiders out", func() {
			conv := h.createChat(alice, bob)

			Expect(h.do(http.MethodGet, "/api/chats/"+conv.ID, carol, nil).Code).To(Equal(http.StatusForbidden))
			Expect(h.do(http.MethodGet, "/api/chats/"+conv.ID+"/messages", carol, nil).Code).To(Equal(http.StatusForbidden))
			Expect(h.do(http.MethodPost, "/api/chats/"+conv.ID+"/accept", carol, nil).Code).To(Equal(http.StatusForbidden))
		})

		It("returns 404 for unknown conversations", func() {
			w := h.do(http.MethodGet, "/api/chats/does-not-exist", alice, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("sends messages and updates the summary", func() {
			conv := h.createChat(alice, bob)

			w := h.do(http.MethodPost, "/api/chats/"+conv.ID+"/messages", alice, map[string]string{"text": "hello"})
			Expect(w.Code).To(Equal(http.StatusCreated))
			w = h.do(http.MethodPost, "/api/chats/"+conv.ID+"/messages", bob, map[string]string{"text": "hi"})
			Expect(w.Code).To(Equal(http.StatusCreated))

			msgs := decode[[]messageView](h.do(http.MethodGet, "/api/chats/"+conv.ID+"/messages", bob, nil))
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Text).To(Equal("hello"))
			Expect(msgs[0].Sender).To(Equal(alice))
			Expect(msgs[1].Text).To(Equal("hi"))

			list := decode[[]conversationView](h.do(http.MethodGet, "/api/chats", alice, nil))
			Expect(list).To(HaveLen(1))
			Expect(list[0].LastMessage).To(Equal("hi"))
		})

		It("rejects blank messages", func() {
			conv := h.createChat(alice, bob)
			w := h.do(http.MethodPost, "/api/chats/"+conv.ID+"/messages", alice, map[string]string{"text": "   "})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("job handshake and review gate", func() {
		var conv conversationView

		BeforeEach(func() {
			conv = h.createChat(alice, bob)
		})

		path := func(suffix string) string { return "/api/chats/" + conv.ID + suffix }

		It("runs the full lifecycle", func() {
			w := h.do(http.MethodPost, path("/accept"), alice, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			hs := decode[handshakeView](w)
			Expect(hs.JobAcceptedBy).To(Equal([]string{alice}))
			Expect(hs.BothAccepted).To(BeFalse())

			hs = decode[handshakeView](h.do(http.MethodPost, path("/accept"), bob, nil))
			Expect(hs.BothAccepted).To(BeTrue())
			Expect(hs.Phase).To(Equal(string(agreement.PhaseBothAccepted)))

			hs = decode[handshakeView](h.do(http.MethodPost, path("/finish"), bob, nil))
			Expect(hs.JobCompleted).To(BeFalse())

			gate := decode[map[string]bool](h.do(http.MethodGet, path("/review"), alice, nil))
			Expect(gate).To(Equal(map[string]bool{"shouldPrompt": false, "hasReviewed": false}))

			hs = decode[handshakeView](h.do(http.MethodPost, path("/finish"), alice, nil))
			Expect(hs.JobCompleted).To(BeTrue())

			view := decode[conversationView](h.do(http.MethodGet, path(""), alice, nil))
			Expect(view.JobCompleted).To(BeTrue())
			Expect(view.ShouldPromptReview).NotTo(BeNil())
			Expect(*view.ShouldPromptReview).To(BeTrue())

			w = h.do(http.MethodPost, path("/review"), alice, map[string]any{"rating": 5, "feedback": "great work"})
			Expect(w.Code).To(Equal(http.StatusCreated))
			rev := decode[reviewView](w)
			Expect(rev.Reviewee).To(Equal(bob))

			w = h.do(http.MethodPost, path("/review"), alice, map[string]any{"rating": 4})
			Expect(w.Code).To(Equal(http.StatusConflict))

			gate = decode[map[string]bool](h.do(http.MethodGet, path("/review"), alice, nil))
			Expect(gate).To(Equal(map[string]bool{"shouldPrompt": false, "hasReviewed": true}))

			prof := decode[profileView](h.do(http.MethodGet, "/api/profiles/"+bob, alice, nil))
			Expect(prof.ReviewCount).To(Equal(1))
			Expect(prof.AverageRating).To(BeNumerically("==", 5))

			reviews := decode[[]reviewView](h.do(http.MethodGet, "/api/profiles/"+bob+"/reviews", alice, nil))
			Expect(reviews).To(HaveLen(1))
		})

		It("records the audit trail for participants only", func() {
			h.do(http.MethodPost, path("/accept"), alice, nil)
			h.do(http.MethodPost, path("/accept"), bob, nil)
			h.do(http.MethodPost, path("/finish"), alice, nil)
			h.do(http.MethodPost, path("/finish"), bob, nil)

			w := h.do(http.MethodGet, path("/events"), bob, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			events := decode[[]eventView](w)
			types := make([]string, 0, len(events))
			for _, ev := range events {
				types = append(types, ev.Type)
			}
			Expect(types).To(Equal([]string{
				agreement.EventJobAccepted,
				agreement.EventJobAccepted,
				agreement.EventJobInProgress,
				agreement.EventJobFinished,
				agreement.EventJobFinished,
				agreement.EventJobCompleted,
			}))
			Expect(events[len(events)-1].Actor).To(Equal(bob))
			Expect(events[len(events)-1].Revision).To(Equal(int64(4)))

			w = h.do(http.MethodGet, path("/events"), carol, nil)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("refuses to finish before both accepted", func() {
			h.do(http.MethodPost, path("/accept"), alice, nil)
			w := h.do(http.MethodPost, path("/finish"), alice, nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("treats a repeated accept as a no-op", func() {
			first := decode[handshakeView](h.do(http.MethodPost, path("/accept"), alice, nil))
			second := decode[handshakeView](h.do(http.MethodPost, path("/accept"), alice, nil))
			Expect(second.Revision).To(Equal(first.Revision))
			Expect(second.JobAcceptedBy).To(Equal([]string{alice}))
		})

		It("rejects reviews before completion and out-of-range ratings", func() {
			w := h.do(http.MethodPost, path("/review"), alice, map[string]any{"rating": 5})
			Expect(w.Code).To(Equal(http.StatusConflict))

			w = h.do(http.MethodPost, path("/review"), alice, map[string]any{"rating": 9})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("profiles and admin", func() {
		It("lists tradesmen only", func() {
			list := decode[[]profileView](h.do(http.MethodGet, "/api/profiles", alice, nil))
			Expect(list).To(HaveLen(1))
			Expect(list[0].Email).To(Equal(bob))
		})

		It("only lets admins verify tradesmen", func() {
			w := h.do(http.MethodPost, "/api/admin/users/"+bob+"/verify", alice, map[string]bool{"verified": true})
			Expect(w.Code).To(Equal(http.StatusForbidden))

			_, err := auth.NewService(h.users, "test-secret").CreateAdmin(context.Background(), auth.RegisterRequest{
				Email:       "root@example.com",
				Password:    "correct-horse",
				DisplayName: "root",
			})
			Expect(err).NotTo(HaveOccurred())
			w = h.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "root@example.com", "password": "correct-horse"})
			h.tokens["root@example.com"] = decode[map[string]any](w)["token"].(string)

			w = h.do(http.MethodPost, "/api/admin/users/"+bob+"/verify", "root@example.com", map[string]bool{"verified": true})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode[userView](w).Verified).To(BeTrue())

			w = h.do(http.MethodPost, "/api/admin/users/"+alice+"/verify", "root@example.com", map[string]bool{"verified": true})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("edits the caller's own profile", func() {
			w := h.do(http.MethodPatch, "/api/auth/me", bob, map[string]any{
				"display_name":   "  Bob the Builder ",
				"location":       "Leeds",
				"job_image_urls": []string{"https://cdn.example.com/wall.jpg"},
			})
			Expect(w.Code).To(Equal(http.StatusOK), w.Body.String())
			me := decode[userView](w)
			Expect(me.DisplayName).To(Equal("Bob the Builder"))
			Expect(*me.Location).To(Equal("Leeds"))

			p := decode[profileView](h.do(http.MethodGet, "/api/profiles/"+bob, alice, nil))
			Expect(p.DisplayName).To(Equal("Bob the Builder"))
			Expect(p.JobImageURLs).To(ConsistOf("https://cdn.example.com/wall.jpg"))

			Expect(h.do(http.MethodPatch, "/api/auth/me", bob, map[string]any{"display_name": " "}).Code).To(Equal(http.StatusBadRequest))
			Expect(h.do(http.MethodPatch, "/api/auth/me", bob, map[string]any{"job_image_urls": []string{"ftp://x"}}).Code).To(Equal(http.StatusBadRequest))
		})

		It("queues tradesmen with documents for admin review", func() {
			docs := map[string]string{
				"certificate_image_url": "https://cdn.example.com/cert.jpg",
				"id_image_url":          "https://cdn.example.com/id.jpg",
				"selfie_image_url":      "https://cdn.example.com/selfie.jpg",
			}
			Expect(h.do(http.MethodPut, "/api/auth/me/documents", alice, docs).Code).To(Equal(http.StatusBadRequest))
			Expect(h.do(http.MethodPut, "/api/auth/me/documents", bob, map[string]string{"id_image_url": "nope"}).Code).To(Equal(http.StatusBadRequest))

			w := h.do(http.MethodPut, "/api/auth/me/documents", bob, docs)
			Expect(w.Code).To(Equal(http.StatusOK), w.Body.String())
			Expect(*decode[userView](w).IDImageURL).To(Equal("https://cdn.example.com/id.jpg"))

			Expect(h.do(http.MethodGet, "/api/admin/verifications", bob, nil).Code).To(Equal(http.StatusForbidden))

			_, err := auth.NewService(h.users, "test-secret").CreateAdmin(context.Background(), auth.RegisterRequest{
				Email:       "root@example.com",
				Password:    "correct-horse",
				DisplayName: "root",
			})
			Expect(err).NotTo(HaveOccurred())
			w = h.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "root@example.com", "password": "correct-horse"})
			h.tokens["root@example.com"] = decode[map[string]any](w)["token"].(string)

			pending := decode[[]userView](h.do(http.MethodGet, "/api/admin/verifications", "root@example.com", nil))
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].Email).To(Equal(bob))

			w = h.do(http.MethodPost, "/api/admin/users/"+bob+"/verify", "root@example.com", map[string]bool{"verified": true})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode[[]userView](h.do(http.MethodGet, "/api/admin/verifications", "root@example.com", nil))).To(BeEmpty())
		})
	})

	Describe("listings", func() {
		post := func(actor string, body map[string]any) *httptest.ResponseRecorder {
			return h.do(http.MethodPost, "/api/listings", actor, body)
		}

		It("files posts by the author's role and shows each side the other's posts", func() {
			w := post(alice, map[string]any{"title": "Leaking tap", "price": 80, "jobType": "Plumbing", "latitude": 51.5, "longitude": -0.12})
			Expect(w.Code).To(Equal(http.StatusCreated), w.Body.String())
			job := decode[listingView](w)
			Expect(job.Kind).To(Equal("job"))
			Expect(job.PostedBy).To(Equal(alice))
			Expect(job.PostedByName).To(Equal("alice"))
			Expect(job.Latitude).NotTo(BeNil())

			w = post(bob, map[string]any{"title": "Plumber available", "price": 40})
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(decode[listingView](w).Kind).To(Equal("advert"))

			var feed struct {
				Items []listingView `json:"items"`
				Total int           `json:"total"`
			}
			Expect(json.Unmarshal(h.do(http.MethodGet, "/api/listings", bob, nil).Body.Bytes(), &feed)).To(Succeed())
			Expect(feed.Total).To(Equal(1))
			Expect(feed.Items[0].Title).To(Equal("Leaking tap"))

			Expect(json.Unmarshal(h.do(http.MethodGet, "/api/listings", alice, nil).Body.Bytes(), &feed)).To(Succeed())
			Expect(feed.Total).To(Equal(1))
			Expect(feed.Items[0].Title).To(Equal("Plumber available"))
		})

		It("opens a conversation with the author", func() {
			job := decode[listingView](post(alice, map[string]any{"title": "Fence", "price": 300}))

			w := h.do(http.MethodPost, "/api/listings/"+job.ID+"/contact", bob, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			conv := decode[conversationView](w)
			Expect(conv.Participants).To(Equal([2]string{alice, bob}))

			Expect(h.do(http.MethodPost, "/api/listings/"+job.ID+"/contact", alice, nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("only lets the author remove a post", func() {
			job := decode[listingView](post(alice, map[string]any{"title": "Roof", "price": 500}))

			Expect(h.do(http.MethodDelete, "/api/listings/"+job.ID, bob, nil).Code).To(Equal(http.StatusForbidden))
			Expect(h.do(http.MethodDelete, "/api/listings/"+job.ID, alice, nil).Code).To(Equal(http.StatusNoContent))
			Expect(h.do(http.MethodGet, "/api/listings/"+job.ID, alice, nil).Code).To(Equal(http.StatusNotFound))
		})

		It("validates input", func() {
			Expect(post(alice, map[string]any{"title": "", "price": 10}).Code).To(Equal(http.StatusBadRequest))
			Expect(h.do(http.MethodGet, "/api/listings?sort=distance", bob, nil).Code).To(Equal(http.StatusBadRequest))
			Expect(h.do(http.MethodGet, "/api/listings?lat=abc&lng=1", bob, nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("keeps a per-user list of saved posts", func() {
			job := decode[listingView](post(alice, map[string]any{"title": "Gutter", "price": 90}))

			Expect(h.do(http.MethodPut, "/api/saved-listings/"+job.ID, alice, nil).Code).To(Equal(http.StatusBadRequest))
			Expect(h.do(http.MethodPut, "/api/saved-listings/missing", bob, nil).Code).To(Equal(http.StatusNotFound))

			w := h.do(http.MethodPut, "/api/saved-listings/"+job.ID, bob, nil)
			Expect(w.Code).To(Equal(http.StatusOK), w.Body.String())
			Expect(h.do(http.MethodPut, "/api/saved-listings/"+job.ID, bob, nil).Code).To(Equal(http.StatusOK))

			saved := decode[[]listingView](h.do(http.MethodGet, "/api/saved-listings", bob, nil))
			Expect(saved).To(HaveLen(1))
			Expect(saved[0].ID).To(Equal(job.ID))
			Expect(decode[[]listingView](h.do(http.MethodGet, "/api/saved-listings", carol, nil))).To(BeEmpty())

			Expect(h.do(http.MethodDelete, "/api/saved-listings/"+job.ID, bob, nil).Code).To(Equal(http.StatusNoContent))
			Expect(decode[[]listingView](h.do(http.MethodGet, "/api/saved-listings", bob, nil))).To(BeEmpty())
		})
	})

	Describe("uploads", func() {
		upload := func(actor, name string, content []byte) *httptest.ResponseRecorder {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", name)
			Expect(err).NotTo(HaveOccurred())
			_, _ = part.Write(content)
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.Header.Set("Authorization", "Bearer "+h.tokens[actor])
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			return w
		}

		It("returns the stored URL", func() {
			h.blobs.uploadFn = func(_ context.Context, name, contentType string, r io.Reader) (string, error) {
				Expect(name).To(Equal("kitchen.png"))
				Expect(contentType).To(BeEmpty())
				return "http://blobs/abc.png", nil
			}
			w := upload(alice, "kitchen.png", []byte("png-bytes"))
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(decode[map[string]string](w)["url"]).To(Equal("http://blobs/abc.png"))
		})

		It("maps store errors to status codes", func() {
			h.blobs.uploadFn = func(context.Context, string, string, io.Reader) (string, error) {
				return "", blob.ErrUnsupportedType
			}
			Expect(upload(alice, "notes.exe", []byte("x")).Code).To(Equal(http.StatusUnsupportedMediaType))

			h.blobs.uploadFn = func(context.Context, string, string, io.Reader) (string, error) {
				return "", blob.ErrTooLarge
			}
			Expect(upload(alice, "big.png", []byte("x")).Code).To(Equal(http.StatusRequestEntityTooLarge))
		})
	})

	Describe("operational endpoints", func() {
		It("reports health", func() {
			Expect(h.do(http.MethodGet, "/healthz", "", nil).Code).To(Equal(http.StatusOK))

			h.server.ready = func(context.Context) error { return errors.New("db down") }
			Expect(h.do(http.MethodGet, "/healthz", "", nil).Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("exposes metrics", func() {
			conv := h.createChat(alice, bob)
			h.do(http.MethodPost, "/api/chats/"+conv.ID+"/messages", alice, map[string]string{"text": "hello"})

			w := h.do(http.MethodGet, "/metrics", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("allfixer_messages_sent_total 1"))
		})
	})

	Describe("watch streams", func() {
		var ts *httptest.Server

		BeforeEach(func() {
			ts = httptest.NewServer(h.router)
			DeferCleanup(ts.Close)
		})

		// open returns the "snapshot" payloads of a watch stream.
		open := func(path, actor string) <-chan json.RawMessage {
			ctx, cancel := context.WithCancel(context.Background())
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+path+"?watch=1&access_token="+h.tokens[actor], nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
			DeferCleanup(func() {
				cancel()
				resp.Body.Close()
			})

			out := make(chan json.RawMessage, 16)
			go func() {
				defer close(out)
				scanner := bufio.NewScanner(resp.Body)
				event := ""
				for scanner.Scan() {
					line := scanner.Text()
					switch {
					case strings.HasPrefix(line, "event:"):
						event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					case strings.HasPrefix(line, "data:") && event == "snapshot":
						select {
						case out <- json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:"))):
						case <-ctx.Done():
							return
						}
					}
				}
			}()
			return out
		}

		// latest drains pending snapshots into dst and keeps the newest.
		latest := func(updates <-chan json.RawMessage, dst any) {
			for {
				select {
				case raw, ok := <-updates:
					if !ok {
						return
					}
					Expect(json.Unmarshal(raw, dst)).To(Succeed())
				default:
					return
				}
			}
		}

		It("streams the message feed as snapshots", func() {
			conv := h.createChat(alice, bob)
			updates := open("/api/chats/"+conv.ID+"/messages", bob)

			var raw json.RawMessage
			Eventually(updates).Should(Receive(&raw))
			var msgs []messageView
			Expect(json.Unmarshal(raw, &msgs)).To(Succeed())
			Expect(msgs).To(BeEmpty())

			h.do(http.MethodPost, "/api/chats/"+conv.ID+"/messages", alice, map[string]string{"text": "hello"})

			Eventually(func() []messageView {
				latest(updates, &msgs)
				return msgs
			}).Should(HaveLen(1))
			Expect(msgs[0].Text).To(Equal("hello"))
			Expect(msgs[0].Sender).To(Equal(alice))
		})

		It("streams handshake changes on the conversation", func() {
			conv := h.createChat(alice, bob)
			updates := open("/api/chats/"+conv.ID, alice)

			var raw json.RawMessage
			Eventually(updates).Should(Receive(&raw))
			var view conversationView
			Expect(json.Unmarshal(raw, &view)).To(Succeed())
			Expect(view.BothAccepted).To(BeFalse())

			h.do(http.MethodPost, "/api/chats/"+conv.ID+"/accept", bob, nil)
			h.do(http.MethodPost, "/api/chats/"+conv.ID+"/accept", alice, nil)

			Eventually(func() bool {
				latest(updates, &view)
				return view.BothAccepted
			}).Should(BeTrue())
			Expect(view.JobAcceptedBy).To(ConsistOf(alice, bob))
		})

		It("streams the conversation list to each participant", func() {
			updates := open("/api/chats", bob)

			var raw json.RawMessage
			Eventually(updates).Should(Receive(&raw))
			var list []conversationView
			Expect(json.Unmarshal(raw, &list)).To(Succeed())
			Expect(list).To(BeEmpty())

			conv := h.createChat(alice, bob)
			h.do(http.MethodPost, "/api/chats/"+conv.ID+"/messages", alice, map[string]string{"text": "quote ready"})

			Eventually(func() string {
				latest(updates, &list)
				if len(list) == 0 {
					return ""
				}
				return list[0].LastMessage
			}).Should(Equal("quote ready"))
		})

		It("refuses to watch a conversation the caller is not part of", func() {
			conv := h.createChat(alice, bob)
			resp, err := http.Get(ts.URL + "/api/chats/" + conv.ID + "/messages?watch=1&access_token=" + h.tokens[carol])
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})
})
