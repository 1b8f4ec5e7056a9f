package postsvc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avelis/socialmesh/internal/cache"
	"github.com/avelis/socialmesh/internal/events"
	"github.com/avelis/socialmesh/internal/httpapi"
	"github.com/avelis/socialmesh/internal/observability"
)

// Listing defaults when the query omits page/limit.
const (
	defaultPage  = 1
	defaultLimit = 10
)

// Service wires the posts HTTP surface to storage, cache and the event
// fabric.
type Service struct {
	store      *Store
	cache      cache.Cache
	publisher  events.Publisher
	logger     observability.Logger
	postTTL    time.Duration
	listingTTL time.Duration
	newID      func() string
	now        func() time.Time
}

// ServiceOption is a functional option for the posts service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTTLs overrides the cache TTLs for single posts and listings.
func WithTTLs(postTTL, listingTTL time.Duration) ServiceOption {
	return func(s *Service) {
		s.postTTL = postTTL
		s.listingTTL = listingTTL
	}
}

// NewService creates the posts service.
func NewService(store *Store, c cache.Cache, publisher events.Publisher, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		cache:      c,
		publisher:  publisher,
		logger:     observability.NopLogger(),
		postTTL:    time.Hour,
		listingTTL: 5 * time.Minute,
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the posts routes. Every route sits behind the
// identity-header guard; the gateway is the only legitimate caller.
func (s *Service) Register(r gin.IRouter) {
	group := r.Group("/api/posts", httpapi.RequireUserID())
	group.POST("/create-post", s.createPost)
	group.GET("/all-posts", s.allPosts)
	group.GET("/:id", s.postByID)
	group.DELETE("/:id", s.deletePost)
}

type createPostRequest struct {
	Content  string   `json:"content" binding:"required"`
	MediaIDs []string `json:"mediaIds"`
}

func (s *Service) createPost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Error(c, http.StatusBadRequest, "Content is required")
		return
	}

	post := Post{
		ID:        s.newID(),
		UserID:    httpapi.UserID(c),
		Content:   req.Content,
		MediaIDs:  req.MediaIDs,
		CreatedAt: s.now().UTC(),
	}
	if post.MediaIDs == nil {
		post.MediaIDs = []string{}
	}

	if err := s.store.Create(c.Request.Context(), post); err != nil {
		s.logger.Error("create post failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error creating post")
		return
	}

	// Invalidation and publication happen only after the write is
	// durable; their failures must not fail the request.
	s.invalidate(c.Request.Context(), post.ID)
	s.publish(c.Request.Context(), events.RoutingKeyPostCreated, events.PostCreatedEvent{
		PostID:    post.ID,
		UserID:    post.UserID,
		Content:   post.Content,
		MediaIDs:  post.MediaIDs,
		CreatedAt: post.CreatedAt,
	})

	s.logger.Info("post created",
		observability.String("postId", post.ID),
		observability.String("userId", post.UserID))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Post created successfully",
		"post":    post,
	})
}

func (s *Service) allPosts(c *gin.Context) {
	page := queryInt(c, "page", defaultPage)
	limit := queryInt(c, "limit", defaultLimit)
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 || limit > 100 {
		limit = defaultLimit
	}

	ctx := c.Request.Context()
	key := listingKey(page, limit)

	if body, err := s.cache.Get(ctx, key); err == nil {
		c.Data(http.StatusOK, "application/json", body)
		return
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("listing cache read failed", observability.Error(err))
	}

	result, err := s.store.List(ctx, page, limit)
	if err != nil {
		s.logger.Error("list posts failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error fetching all posts")
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encode listing failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error fetching all posts")
		return
	}

	if err := s.cache.Set(ctx, key, body, s.listingTTL); err != nil {
		s.logger.Warn("listing cache write failed", observability.Error(err))
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Service) postByID(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	key := postKey(id)

	if body, err := s.cache.Get(ctx, key); err == nil {
		c.Data(http.StatusOK, "application/json", body)
		return
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("post cache read failed", observability.Error(err))
	}

	post, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		httpapi.Error(c, http.StatusNotFound, "Post not found")
		return
	}
	if err != nil {
		s.logger.Error("get post failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error getting post")
		return
	}

	body, err := json.Marshal(post)
	if err != nil {
		s.logger.Error("encode post failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error getting post")
		return
	}

	if err := s.cache.Set(ctx, key, body, s.postTTL); err != nil {
		s.logger.Warn("post cache write failed", observability.Error(err))
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Service) deletePost(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	post, err := s.store.Delete(ctx, id, httpapi.UserID(c))
	if errors.Is(err, ErrNotFound) {
		httpapi.Error(c, http.StatusNotFound, "Post not found")
		return
	}
	if errors.Is(err, ErrForbidden) {
		httpapi.Error(c, http.StatusForbidden, "Cannot delete another user's post")
		return
	}
	if err != nil {
		s.logger.Error("delete post failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error deleting post")
		return
	}

	s.invalidate(ctx, post.ID)
	s.publish(ctx, events.RoutingKeyPostDeleted, events.PostDeletedEvent{
		PostID:   post.ID,
		UserID:   post.UserID,
		MediaIDs: post.MediaIDs,
	})

	s.logger.Info("post deleted",
		observability.String("postId", post.ID),
		observability.String("userId", post.UserID))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post deleted successfully",
	})
}

// invalidate drops the single-post entry and every listing page. Cache
// errors are logged and ignored; TTL expiry bounds the staleness.
func (s *Service) invalidate(ctx context.Context, postID string) {
	if err := s.cache.Delete(ctx, postKey(postID)); err != nil {
		s.logger.Warn("post cache invalidation failed",
			observability.String("postId", postID),
			observability.Error(err))
	}
	if err := s.cache.DeletePattern(ctx, listingPattern); err != nil {
		s.logger.Warn("listing cache invalidation failed",
			observability.Error(err))
	}
}

// publish emits an event after a committed mutation. A publish failure
// is logged and dropped; the mutation stands.
func (s *Service) publish(ctx context.Context, routingKey string, payload any) {
	if err := s.publisher.Publish(ctx, routingKey, payload); err != nil {
		s.logger.Error("event publish failed",
			observability.String("routingKey", routingKey),
			observability.Error(err))
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
