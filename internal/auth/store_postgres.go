package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) (*PostgresUserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresUserStore{db: db}, nil
}

const userColumns = `id, email, name, image, password_hash, role, created_at`

func scanUser(row *sql.Row, notFound error) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, notFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) GetByEmail(email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, ErrUserNotFound
	}
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRow(q, email), ErrUserNotFound)
}

func (s *PostgresUserStore) GetByID(id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, ErrUserNotFound
	}
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRow(q, id), ErrUserNotFound)
}

func (s *PostgresUserStore) Put(user User) error {
	user.Email = normalizeEmail(user.Email)
	if err := validateUser(user); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO users (id, email, name, image, password_hash, role, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
	name = EXCLUDED.name,
	image = EXCLUDED.image,
	password_hash = EXCLUDED.password_hash,
	role = EXCLUDED.role,
	updated_at = NOW()`
	if _, err := s.db.Exec(q, user.ID, user.Email, user.Name, user.Image, user.PasswordHash, user.Role, user.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) GetByAccount(provider, providerAccountID string) (User, error) {
	const q = `
SELECT u.id, u.email, u.name, u.image, u.password_hash, u.role, u.created_at
FROM accounts a
JOIN users u ON u.id = a.user_id
WHERE a.provider = $1 AND a.provider_account_id = $2`
	return scanUser(s.db.QueryRow(q, provider, providerAccountID), ErrAccountNotFound)
}

func (s *PostgresUserStore) LinkAccount(account Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO accounts (provider, provider_account_id, user_id, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider, provider_account_id) DO UPDATE
SET user_id = EXCLUDED.user_id`
	if _, err := s.db.Exec(q, account.Provider, account.ProviderAccountID, account.UserID, account.CreatedAt); err != nil {
		return fmt.Errorf("link account: %w", err)
	}
	return nil
}
