package mediasvc

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avelis/socialmesh/internal/httpapi"
	"github.com/avelis/socialmesh/internal/observability"
)

// defaultMaxUploadBytes caps uploads at 5 MB unless configured otherwise.
const defaultMaxUploadBytes = 5 << 20

// Service wires the media HTTP surface to the record store and blob store.
type Service struct {
	store     *Store
	blobs     *BlobStore
	logger    observability.Logger
	publicURL string
	maxBytes  int64
	newID     func() string
	now       func() time.Time
}

// ServiceOption is a functional option for the media service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxUploadBytes overrides the upload size cap.
func WithMaxUploadBytes(n int64) ServiceOption {
	return func(s *Service) {
		s.maxBytes = n
	}
}

// WithPublicURL sets the base URL used in upload responses.
func WithPublicURL(base string) ServiceOption {
	return func(s *Service) {
		s.publicURL = strings.TrimRight(base, "/")
	}
}

// NewService creates the media service.
func NewService(store *Store, blobs *BlobStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		blobs:    blobs,
		logger:   observability.NopLogger(),
		maxBytes: defaultMaxUploadBytes,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the media routes. Upload requires the identity
// header; fetching a blob does not, because rendered pages embed the
// URL directly.
func (s *Service) Register(r gin.IRouter) {
	group := r.Group("/api/media")
	group.POST("/upload", httpapi.RequireUserID(), s.upload)
	group.GET("/:id", s.fetch)
}

func (s *Service) upload(c *gin.Context) {
	// Reject oversized bodies before buffering the file part.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBytes)

	header, err := c.FormFile("file")
	if err != nil {
		httpapi.Error(c, http.StatusBadRequest, "No file found")
		return
	}
	if header.Size > s.maxBytes {
		httpapi.Error(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	file, err := header.Open()
	if err != nil {
		s.logger.Error("open upload failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error uploading media")
		return
	}
	defer file.Close()

	blobKey, size, err := s.blobs.Write(file)
	if err != nil {
		s.logger.Error("store blob failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error uploading media")
		return
	}

	media := Media{
		ID:         s.newID(),
		UserID:     httpapi.UserID(c),
		FileName:   header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		SizeBytes:  size,
		BlobKey:    blobKey,
		UploadedAt: s.now().UTC(),
	}
	if media.MimeType == "" {
		media.MimeType = "application/octet-stream"
	}

	if err := s.store.Create(c.Request.Context(), media); err != nil {
		s.logger.Error("insert media failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error uploading media")
		return
	}

	s.logger.Info("media uploaded",
		observability.String("mediaId", media.ID),
		observability.String("userId", media.UserID),
		observability.Int64("sizeBytes", size))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"mediaId": media.ID,
		"url":     s.mediaURL(media.ID),
	})
}

func (s *Service) fetch(c *gin.Context) {
	media, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err == ErrNotFound {
		httpapi.Error(c, http.StatusNotFound, "Media not found")
		return
	}
	if err != nil {
		s.logger.Error("get media failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error fetching media")
		return
	}

	blob, err := s.blobs.Open(media.BlobKey)
	if err != nil {
		s.logger.Error("open blob failed",
			observability.String("mediaId", media.ID),
			observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Error fetching media")
		return
	}
	defer blob.Close()

	c.Header("Content-Type", media.MimeType)
	c.Header("Content-Length", fmt.Sprintf("%d", media.SizeBytes))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, blob); err != nil {
		s.logger.Warn("stream blob interrupted",
			observability.String("mediaId", media.ID),
			observability.Error(err))
	}
}

func (s *Service) mediaURL(id string) string {
	if s.publicURL == "" {
		return "/api/media/" + id
	}
	return s.publicURL + "/api/media/" + id
}
