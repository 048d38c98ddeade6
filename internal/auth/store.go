package auth

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email belongs to another user")
)

// UserStore persists users and their linked OAuth accounts. Emails are
// expected to be normalized by the caller.
type UserStore interface {
	GetByEmail(email string) (User, error)
	GetByID(id string) (User, error)
	Put(user User) error
	GetByAccount(provider, providerAccountID string) (User, error)
	LinkAccount(account Account) error
}

type InMemoryUserStore struct {
	mu       sync.RWMutex
	users    map[string]User
	accounts map[string]Account
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:    make(map[string]User),
		accounts: make(map[string]Account),
	}
}

func (s *InMemoryUserStore) GetByEmail(email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByEmail(s.users, email)
}

func (s *InMemoryUserStore) GetByID(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryUserStore) Put(user User) error {
	user.Email = normalizeEmail(user.Email)
	if err := validateUser(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if emailTaken(s.users, user) {
		return ErrEmailTaken
	}
	s.users[user.ID] = user
	return nil
}

func (s *InMemoryUserStore) GetByAccount(provider, providerAccountID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return User{}, ErrAccountNotFound
	}
	u, ok := s.users[acc.UserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryUserStore) LinkAccount(account Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[account.UserID]; !ok {
		return ErrUserNotFound
	}
	s.accounts[accountKey(account.Provider, account.ProviderAccountID)] = account
	return nil
}

func findByEmail(users map[string]User, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, ErrUserNotFound
	}
	for _, u := range users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func emailTaken(users map[string]User, user User) bool {
	for id, u := range users {
		if id != user.ID && u.Email == user.Email {
			return true
		}
	}
	return false
}

func accountKey(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

func validateUser(u User) error {
	if u.ID == "" || u.Email == "" {
		return errors.New("id and email are required")
	}
	return nil
}

func validateAccount(a Account) error {
	if a.Provider == "" || a.ProviderAccountID == "" || a.UserID == "" {
		return errors.New("provider, provider account id, and user id are required")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
