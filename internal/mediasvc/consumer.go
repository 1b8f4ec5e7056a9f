package mediasvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avelis/socialmesh/internal/events"
	"github.com/avelis/socialmesh/internal/observability"
)

// PostDeletedHandler releases media referenced by a deleted post. Each
// media id is handled independently so one failure cannot strand the
// rest, and deleting media that is already gone is a no-op.
func (s *Service) PostDeletedHandler() events.HandlerFunc {
	return func(ctx context.Context, _ string, body []byte) error {
		var event events.PostDeletedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("decode post.deleted: %w", err)
		}

		var failed int
		for _, mediaID := range event.MediaIDs {
			if err := s.deleteMedia(ctx, mediaID); err != nil {
				failed++
				s.logger.Error("release media failed",
					observability.String("mediaId", mediaID),
					observability.String("postId", event.PostID),
					observability.Error(err))
			}
		}

		if failed > 0 {
			return fmt.Errorf("post.deleted %s: %d of %d media not released",
				event.PostID, failed, len(event.MediaIDs))
		}
		s.logger.Info("post media released",
			observability.String("postId", event.PostID),
			observability.Int("count", len(event.MediaIDs)))
		return nil
	}
}

func (s *Service) deleteMedia(ctx context.Context, mediaID string) error {
	media, err := s.store.Delete(ctx, mediaID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// The blob is shared by content, so it stays while other records
	// still point at it.
	refs, err := s.store.CountByBlobKey(ctx, media.BlobKey)
	if err != nil {
		return err
	}
	if refs == 0 {
		return s.blobs.Remove(media.BlobKey)
	}
	return nil
}

// RunConsumer binds the post.deleted consumer until ctx is cancelled.
func (s *Service) RunConsumer(ctx context.Context, consumer events.Consumer) error {
	return consumer.Consume(ctx, events.RoutingKeyPostDeleted, s.PostDeletedHandler())
}
