// Package postsvc implements the posts backend: durable storage in
// SQLite, a cache-aside layer over the shared Redis instance, and the
// post.created/post.deleted event publications.
package postsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store errors.
var (
	// ErrNotFound indicates the post does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrForbidden indicates the caller does not own the post.
	ErrForbidden = errors.New("post owned by another user")
)

// Post is the stored representation of one post.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	MediaIDs  []string  `json:"mediaIds"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is one page of the post listing, newest first.
type Page struct {
	Posts       []Post `json:"posts"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	TotalPosts  int    `json:"totalPosts"`
}

const postsSchema = `
CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	media_ids  TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at DESC);
`

// Store persists posts in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the posts database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open posts db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(postsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate posts db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a post.
func (s *Store) Create(ctx context.Context, post Post) error {
	mediaIDs, err := json.Marshal(post.MediaIDs)
	if err != nil {
		return fmt.Errorf("encode media ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, content, media_ids, created_at) VALUES (?, ?, ?, ?, ?)`,
		post.ID, post.UserID, post.Content, string(mediaIDs), post.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// Get returns one post by id.
func (s *Store) Get(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at FROM posts WHERE id = ?`, id)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select post: %w", err)
	}
	return post, nil
}

// List returns one page of posts, newest first, with the total count.
func (s *Store) List(ctx context.Context, page, limit int) (*Page, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at
		 FROM posts ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	totalPages := (total + limit - 1) / limit
	return &Page{
		Posts:       posts,
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalPosts:  total,
	}, nil
}

// Delete removes a post owned by userID. Returns ErrNotFound when the
// post does not exist and ErrForbidden when it belongs to someone else.
func (s *Store) Delete(ctx context.Context, id, userID string) (*Post, error) {
	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete post: %w", err)
	}
	return post, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		post     Post
		mediaIDs string
	)
	if err := row.Scan(&post.ID, &post.UserID, &post.Content, &mediaIDs, &post.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mediaIDs), &post.MediaIDs); err != nil {
		return nil, fmt.Errorf("decode media ids: %w", err)
	}
	return &post, nil
}
