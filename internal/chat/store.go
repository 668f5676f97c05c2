// Package chat sends and persists in-call text messages carried over each
// session's data channel.
package chat

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Direction records which side of the conversation produced a message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one persisted chat message with a peer.
type Message struct {
	ID        string
	Peer      string
	Direction Direction
	Body      string
	SentAt    time.Time
}

// Store persists chat history in a SQLite database under dataDir.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "chat.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id        TEXT PRIMARY KEY,
			peer      TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
			body      TEXT NOT NULL,
			sent_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_peer_sent ON messages (peer, sent_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists one message. Replayed IDs are ignored so a duplicated
// delivery does not double up history.
func (s *Store) Save(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO messages (id, peer, direction, body, sent_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.Peer, string(msg.Direction), msg.Body, msg.SentAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// History returns up to limit most recent messages with peer, oldest first.
func (s *Store) History(peer string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, peer, direction, body, sent_at FROM (
			SELECT id, peer, direction, body, sent_at
			FROM messages WHERE peer = ?
			ORDER BY sent_at DESC, id DESC LIMIT ?
		) ORDER BY sent_at ASC, id ASC`,
		peer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var direction, sentAt string
		if err := rows.Scan(&msg.ID, &msg.Peer, &direction, &msg.Body, &sentAt); err != nil {
			return nil, err
		}
		msg.Direction = Direction(direction)
		msg.SentAt, err = time.Parse(timeLayout, sentAt)
		if err != nil {
			return nil, fmt.Errorf("parse sent_at for message %s: %w", msg.ID, err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

const timeLayout = "2006-01-02 15:04:05.000"
