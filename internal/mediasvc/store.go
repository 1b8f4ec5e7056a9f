// Package mediasvc implements the media backend: upload handling, a
// content-addressed blob store on the local filesystem, and the
// post.deleted consumer that releases media owned by deleted posts.
package mediasvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the media record does not exist.
var ErrNotFound = errors.New("media not found")

// Media is one stored upload.
type Media struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	BlobKey    string    `json:"-"`
	UploadedAt time.Time `json:"uploadedAt"`
}

const mediaSchema = `
CREATE TABLE IF NOT EXISTS media (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	blob_key    TEXT NOT NULL,
	uploaded_at TIMESTAMP NOT NULL
);
`

// Store persists media records in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the media database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open media db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(mediaSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate media db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a media record.
func (s *Store) Create(ctx context.Context, m Media) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (id, user_id, file_name, mime_type, size_bytes, blob_key, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.FileName, m.MimeType, m.SizeBytes, m.BlobKey, m.UploadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

// Get returns one media record by id.
func (s *Store) Get(ctx context.Context, id string) (*Media, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, file_name, mime_type, size_bytes, blob_key, uploaded_at
		 FROM media WHERE id = ?`, id)

	var m Media
	err := row.Scan(&m.ID, &m.UserID, &m.FileName, &m.MimeType, &m.SizeBytes, &m.BlobKey, &m.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select media: %w", err)
	}
	return &m, nil
}

// Delete removes a media record. Returns ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, id string) (*Media, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete media: %w", err)
	}
	return m, nil
}

// CountByBlobKey returns how many records reference a blob. Blobs are
// content-addressed, so the file is removed only when the last
// reference goes.
func (s *Store) CountByBlobKey(ctx context.Context, blobKey string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media WHERE blob_key = ?`, blobKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count blob references: %w", err)
	}
	return count, nil
}
