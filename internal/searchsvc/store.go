// Package searchsvc implements the search backend. The index is fed
// exclusively by post.created/post.deleted events; there is no write
// API, so the index is eventually consistent with the posts store.
package searchsvc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// resultLimit caps how many hits a query returns.
const resultLimit = 10

// Hit is one search result.
type Hit struct {
	PostID  string `json:"postId"`
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

const searchSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(
	post_id UNINDEXED,
	user_id UNINDEXED,
	content
);
`

// Store maintains the full-text index in SQLite FTS5.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the search index at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(searchSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate search db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert indexes a post's content, replacing any previous entry for the
// same post id so replayed events cannot duplicate hits.
func (s *Store) Upsert(ctx context.Context, postID, userID, content string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM posts_fts WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("clear index entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO posts_fts (post_id, user_id, content) VALUES (?, ?, ?)`,
		postID, userID, content); err != nil {
		return fmt.Errorf("index post: %w", err)
	}
	return nil
}

// Remove drops a post from the index. Removing an unindexed post is a
// no-op.
func (s *Store) Remove(ctx context.Context, postID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM posts_fts WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("remove index entry: %w", err)
	}
	return nil
}

// Search returns the best matches for the query, ranked by FTS5.
func (s *Store) Search(ctx context.Context, query string) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, user_id, content FROM posts_fts
		 WHERE posts_fts MATCH ? ORDER BY rank LIMIT ?`,
		quoteQuery(query), resultLimit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, resultLimit)
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.PostID, &hit.UserID, &hit.Content); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// quoteQuery turns free-form user input into a conjunction of quoted
// terms so FTS5 operators in the input cannot break the query.
func quoteQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
