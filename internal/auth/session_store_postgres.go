package auth

import (
	"database/sql"
	"fmt"
)

// SessionStore snapshots the session registry. Tokens themselves are never
// stored; a session is identified by its JWT id.
type SessionStore interface {
	Load() (map[string]Session, error)
	Save(sessions map[string]Session) error
}

type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresSessionStore{db: db}, nil
}

func (s *PostgresSessionStore) Load() (map[string]Session, error) {
	const q = `
SELECT session_id, user_id, email, name, role, provider, created_at, expires_at
FROM sessions`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Session)
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.Name, &sess.Role, &sess.Provider, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out[sess.ID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresSessionStore) Save(sessions map[string]Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	const q = `
INSERT INTO sessions (session_id, user_id, email, name, role, provider, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for id, sess := range sessions {
		if _, err := tx.Exec(q, id, sess.UserID, sess.Email, sess.Name, sess.Role, sess.Provider, sess.CreatedAt, sess.ExpiresAt); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}
