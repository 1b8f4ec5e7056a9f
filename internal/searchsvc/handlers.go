package searchsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avelis/socialmesh/internal/events"
	"github.com/avelis/socialmesh/internal/httpapi"
	"github.com/avelis/socialmesh/internal/observability"
)

// Service wires the search HTTP surface and event consumers to the index.
type Service struct {
	store  *Store
	logger observability.Logger
}

// NewService creates the search service.
func NewService(store *Store, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{store: store, logger: logger}
}

// Register mounts the search routes behind the identity-header guard.
func (s *Service) Register(r gin.IRouter) {
	group := r.Group("/api/search", httpapi.RequireUserID())
	group.GET("", s.search)
}

func (s *Service) search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		httpapi.Error(c, http.StatusBadRequest, "Query is required")
		return
	}

	hits, err := s.store.Search(c.Request.Context(), query)
	if err != nil {
		s.logger.Error("search failed",
			observability.String("query", query),
			observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error searching posts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": hits,
	})
}

// PostCreatedHandler indexes newly created posts.
func (s *Service) PostCreatedHandler() events.HandlerFunc {
	return func(ctx context.Context, _ string, body []byte) error {
		var event events.PostCreatedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("decode post.created: %w", err)
		}
		if err := s.store.Upsert(ctx, event.PostID, event.UserID, event.Content); err != nil {
			return err
		}
		s.logger.Debug("post indexed", observability.String("postId", event.PostID))
		return nil
	}
}

// PostDeletedHandler removes deleted posts from the index.
func (s *Service) PostDeletedHandler() events.HandlerFunc {
	return func(ctx context.Context, _ string, body []byte) error {
		var event events.PostDeletedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("decode post.deleted: %w", err)
		}
		if err := s.store.Remove(ctx, event.PostID); err != nil {
			return err
		}
		s.logger.Debug("post unindexed", observability.String("postId", event.PostID))
		return nil
	}
}

// RunConsumers binds both consumers until ctx is cancelled. Each runs
// in its own goroutine; the first terminal error wins.
func (s *Service) RunConsumers(ctx context.Context, consumer events.Consumer) error {
	errc := make(chan error, 2)
	go func() {
		errc <- consumer.Consume(ctx, events.RoutingKeyPostCreated, s.PostCreatedHandler())
	}()
	go func() {
		errc <- consumer.Consume(ctx, events.RoutingKeyPostDeleted, s.PostDeletedHandler())
	}()
	return <-errc
}
