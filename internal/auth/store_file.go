package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type FileUserStore struct {
	path string

	mu       sync.RWMutex
	users    map[string]User
	accounts map[string]Account
}

type fileUserState struct {
	Users    []User    `json:"users"`
	Accounts []Account `json:"accounts"`
}

func NewFileUserStore(path string) (*FileUserStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("user state file path is required")
	}

	s := &FileUserStore{
		path:     path,
		users:    make(map[string]User),
		accounts: make(map[string]Account),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileUserStore) GetByEmail(email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByEmail(s.users, email)
}

func (s *FileUserStore) GetByID(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *FileUserStore) Put(user User) error {
	user.Email = normalizeEmail(user.Email)
	if err := validateUser(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if emailTaken(s.users, user) {
		return ErrEmailTaken
	}
	prev, existed := s.users[user.ID]
	s.users[user.ID] = user
	if err := s.persistLocked(); err != nil {
		if existed {
			s.users[user.ID] = prev
		} else {
			delete(s.users, user.ID)
		}
		return err
	}
	return nil
}

func (s *FileUserStore) GetByAccount(provider, providerAccountID string) (User, error) {
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

func (s *FileUserStore) LinkAccount(account Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[account.UserID]; !ok {
		return ErrUserNotFound
	}
	key := accountKey(account.Provider, account.ProviderAccountID)
	s.accounts[key] = account
	if err := s.persistLocked(); err != nil {
		delete(s.accounts, key)
		return err
	}
	return nil
}

func (s *FileUserStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read user store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded fileUserState
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode user store file: %w", err)
	}
	for _, u := range decoded.Users {
		if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Email) == "" {
			continue
		}
		s.users[u.ID] = u
	}
	for _, a := range decoded.Accounts {
		if validateAccount(a) != nil {
			continue
		}
		s.accounts[accountKey(a.Provider, a.ProviderAccountID)] = a
	}
	return nil
}

func (s *FileUserStore) persistLocked() error {
	out := fileUserState{
		Users:    make([]User, 0, len(s.users)),
		Accounts: make([]Account, 0, len(s.accounts)),
	}
	for _, u := range s.users {
		out.Users = append(out.Users, u)
	}
	for _, a := range s.accounts {
		out.Accounts = append(out.Accounts, a)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir user store dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write user store file: %w", err)
	}
	return nil
}
