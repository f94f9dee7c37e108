package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var ErrNotFound = errors.New("record not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        content TEXT NOT NULL DEFAULT '',
        image_url TEXT NOT NULL DEFAULT '',
        author_id INTEGER NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (author_id) REFERENCES users (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// FindOrCreateUser returns the user with the given username, creating it if absent.
// The insert relies on the UNIQUE constraint so concurrent callers converge on one row.
func (s *SQLiteStore) FindOrCreateUser(ctx context.Context, username string) (*User, error) {
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (username, created_at) VALUES (?, ?) ON CONFLICT(username) DO NOTHING", username, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	var user User
	err = s.db.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE username = ?", username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString() // Ensure ID is set
	msg.CreatedAt = time.Now().UTC()

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO messages (id, content, image_url, author_id, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, msg.ID, msg.Content, msg.ImageURL, msg.AuthorID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

const messageWithAuthorQuery = `
        SELECT m.id, m.content, m.image_url, m.author_id, m.created_at, u.username
        FROM messages m
        JOIN users u ON u.id = m.author_id
    `

// GetMessage reloads a message with its author joined.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.db.QueryRowContext(ctx, messageWithAuthorQuery+"WHERE m.id = ?", id).
		Scan(&msg.ID, &msg.Content, &msg.ImageURL, &msg.AuthorID, &msg.CreatedAt, &msg.Author.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetRecentMessages returns up to n messages, newest first, each with its author joined.
// Rows sharing a timestamp fall back to insertion order.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, n int) ([]Message, error) {
	if n <= 0 {
		return []Message{}, nil
	}
	query := messageWithAuthorQuery + `
        ORDER BY m.created_at DESC, m.rowid DESC
        LIMIT ?
    `

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, n)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Content, &msg.ImageURL, &msg.AuthorID, &msg.CreatedAt, &msg.Author.Username); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}
