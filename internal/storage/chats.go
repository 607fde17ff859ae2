// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

// ErrNotFound indicates the chat is not in the cache.
var ErrNotFound = errors.New("chat not cached")

// schema creates the cache tables.
const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	agent_id      TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	preview       TEXT NOT NULL DEFAULT '',
	record        BLOB NOT NULL,
	cached_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_chats_updated ON chats(updated_at DESC);
`

// =============================================================================
// CHAT META
// =============================================================================

// ChatMeta contains metadata for listing cached chats.
type ChatMeta struct {
	ID           string
	Title        string
	AgentID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	Preview      string // First user message
	CachedAt     time.Time
}

// =============================================================================
// CHAT CACHE
// =============================================================================

// ChatCache stores canonical chat records in SQLite.
type ChatCache struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenChatCache opens (creating if needed) the cache database at path.
func OpenChatCache(path string) (*ChatCache, error) {
	if path == "" {
		return nil, errors.New("cache path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &ChatCache{db: db, path: path}, nil
}

// Path returns the database location.
func (c *ChatCache) Path() string {
	return c.path
}

// Close closes the database.
func (c *ChatCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Put inserts or replaces a chat record.
func (c *ChatCache) Put(ctx context.Context, chat *backend.Chat) error {
	if chat == nil || chat.ID == "" {
		return errors.New("chat must have an id")
	}
	record, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("failed to encode chat: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return sql.ErrConnDone
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, agent_id, created_at, updated_at, message_count, preview, record, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			agent_id = excluded.agent_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			preview = excluded.preview,
			record = excluded.record,
			cached_at = excluded.cached_at`,
		chat.ID, chat.Title, chat.AgentID,
		unixMilli(chat.CreatedAt.Time), unixMilli(chat.UpdatedAt.Time),
		len(chat.Messages), preview(chat), record, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store chat %s: %w", chat.ID, err)
	}
	return nil
}

// Get loads a cached chat record.
func (c *ChatCache) Get(ctx context.Context, id string) (*backend.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, sql.ErrConnDone
	}

	var record []byte
	err := c.db.QueryRowContext(ctx, `SELECT record FROM chats WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", id, err)
	}

	var chat backend.Chat
	if err := json.Unmarshal(record, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat %s: %w", id, err)
	}
	return &chat, nil
}

// List returns cached chat metadata, most recently updated first. A limit of
// zero or less returns every chat.
func (c *ChatCache) List(ctx context.Context, limit int) ([]ChatMeta, error) {
	return c.query(ctx, "", limit)
}

// Search returns chats whose title or first user message contains query
// (case-insensitive).
func (c *ChatCache) Search(ctx context.Context, query string) ([]ChatMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.List(ctx, 0)
	}
	return c.query(ctx, query, 0)
}

func (c *ChatCache) query(ctx context.Context, search string, limit int) ([]ChatMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, sql.ErrConnDone
	}

	q := `SELECT id, title, agent_id, created_at, updated_at, message_count, preview, cached_at FROM chats`
	var args []any
	if search != "" {
		q += ` WHERE title LIKE ? ESCAPE '\' OR preview LIKE ? ESCAPE '\'`
		pattern := "%" + escapeLike(search) + "%"
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY updated_at DESC, id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metas []ChatMeta
	for rows.Next() {
		var m ChatMeta
		var created, updated, cached int64
		if err := rows.Scan(&m.ID, &m.Title, &m.AgentID, &created, &updated, &m.MessageCount, &m.Preview, &cached); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		m.CreatedAt = fromMilli(created)
		m.UpdatedAt = fromMilli(updated)
		m.CachedAt = fromMilli(cached)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a chat. Deleting an unknown chat is not an error.
func (c *ChatCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return sql.ErrConnDone
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	return nil
}

// Clear removes every chat and returns how many were deleted.
func (c *ChatCache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return 0, sql.ErrConnDone
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM chats`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func preview(chat *backend.Chat) string {
	for _, m := range chat.Messages {
		if m.Role == model.RoleUser.String() {
			return strings.Join(strings.Fields(m.Content), " ")
		}
	}
	return ""
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
