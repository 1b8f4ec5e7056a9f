package mediasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelis/socialmesh/internal/events"
	"github.com/avelis/socialmesh/internal/httpapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newService(t *testing.T, opts ...ServiceOption) (*Service, *gin.Engine) {
	t.Helper()

	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	svc := NewService(store, blobs, opts...)
	router := gin.New()
	svc.Register(router)
	return svc, router
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func upload(t *testing.T, router *gin.Engine, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, "file", "pic.png", content)
	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(httpapi.HeaderUserID, "u1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndFetchRoundTrip(t *testing.T) {
	_, router := newService(t)

	content := []byte("png bytes here")
	w := upload(t, router, content)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Success bool   `json:"success"`
		MediaID string `json:"mediaId"`
		URL     string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.MediaID)
	assert.Equal(t, "/api/media/"+resp.MediaID, resp.URL)

	req := httptest.NewRequest(http.MethodGet, resp.URL, nil)
	fetch := httptest.NewRecorder()
	router.ServeHTTP(fetch, req)

	require.Equal(t, http.StatusOK, fetch.Code)
	assert.Equal(t, content, fetch.Body.Bytes())
}

func TestUploadRequiresIdentityHeader(t *testing.T) {
	_, router := newService(t)

	body, contentType := multipartBody(t, "file", "pic.png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	_, router := newService(t)

	body, contentType := multipartBody(t, "wrong", "pic.png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(httpapi.HeaderUserID, "u1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadSizeCap(t *testing.T) {
	_, router := newService(t, WithMaxUploadBytes(64))

	w := upload(t, router, bytes.Repeat([]byte("a"), 1024))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge}, w.Code)
}

func TestFetchUnknownMedia(t *testing.T) {
	_, router := newService(t)

	req := httptest.NewRequest(http.MethodGet, "/api/media/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicURLPrefix(t *testing.T) {
	_, router := newService(t, WithPublicURL("https://cdn.example.com/"))

	w := upload(t, router, []byte("x"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.URL, "https://cdn.example.com/api/media/")
}

func TestPostDeletedReleasesMedia(t *testing.T) {
	svc, router := newService(t)

	w := upload(t, router, []byte("doomed"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		MediaID string `json:"mediaId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	bus := events.NewMemoryBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	bus.Subscribe(events.RoutingKeyPostDeleted, svc.PostDeletedHandler())

	err := bus.Publish(context.Background(), events.RoutingKeyPostDeleted, events.PostDeletedEvent{
		PostID:   "p1",
		UserID:   "u1",
		MediaIDs: []string{resp.MediaID},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/media/"+resp.MediaID, nil)
	fetch := httptest.NewRecorder()
	router.ServeHTTP(fetch, req)
	assert.Equal(t, http.StatusNotFound, fetch.Code)
}

func TestPostDeletedIdempotentAndIndependent(t *testing.T) {
	svc, router := newService(t)

	w := upload(t, router, []byte("real"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		MediaID string `json:"mediaId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	handler := svc.PostDeletedHandler()
	event := events.PostDeletedEvent{
		PostID: "p1",
		// An absent id must not abort deletion of the real one.
		MediaIDs: []string{"ghost", resp.MediaID, "ghost"},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), events.RoutingKeyPostDeleted, body))

	// Replaying the event is a no-op.
	require.NoError(t, handler(context.Background(), events.RoutingKeyPostDeleted, body))
}
