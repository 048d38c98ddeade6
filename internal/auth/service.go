package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"authlabs/labserver/internal/observability"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrAccountNotLinked   = errors.New("email belongs to an account that is not linked to this provider")
	ErrIncompleteProfile  = errors.New("oauth profile is missing an id or email")
)

var validate = validator.New()

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type Service struct {
	users        UserStore
	tokens       *TokenCodec
	callbacks    Callbacks
	adminEmail   string
	bcryptCost   int
	ttl          time.Duration
	nowFunc      func() time.Time
	stateFile    string
	sessionStore SessionStore
	log          *logrus.Logger

	sessMu   sync.RWMutex
	sessions map[string]Session
}

type ServiceConfig struct {
	Secret           string
	SessionTTL       time.Duration
	AdminEmail       string
	BcryptCost       int
	SessionStateFile string
	SessionStore     SessionStore
	Callbacks        Callbacks
	Logger           *logrus.Logger
}

func NewService(userStore UserStore, cfg ServiceConfig) (*Service, error) {
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	tokens, err := NewTokenCodec(cfg.Secret)
	if err != nil {
		return nil, err
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	s := &Service{
		users:        userStore,
		tokens:       tokens,
		callbacks:    cfg.Callbacks.withDefaults(),
		adminEmail:   normalizeEmail(cfg.AdminEmail),
		bcryptCost:   cost,
		ttl:          cfg.SessionTTL,
		nowFunc:      time.Now,
		stateFile:    cfg.SessionStateFile,
		sessionStore: cfg.SessionStore,
		log:          logger,
		sessions:     make(map[string]Session),
	}
	tokens.nowFunc = func() time.Time { return s.nowFunc() }
	return s, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (s *Service) VerifyPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

func (s *Service) RoleFor(email string) string {
	if s.adminEmail != "" && normalizeEmail(email) == s.adminEmail {
		return RoleAdmin
	}
	return RoleUser
}

// Authorize checks an email/password pair. Unknown emails are registered on
// the spot with the given password.
func (s *Service) Authorize(email, password string) (User, error) {
	in := credentials{Email: normalizeEmail(email), Password: password}
	if err := validate.Struct(in); err != nil {
		return User{}, ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(in.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("lookup user: %w", err)
		}
		u, err = s.createCredentialsUser(in.Email, "", in.Password)
		if errors.Is(err, ErrEmailTaken) {
			// A concurrent first sign-in created the user; check against it.
			return s.Authorize(in.Email, in.Password)
		}
		return u, err
	}
	if u.PasswordHash == "" || !s.VerifyPassword(in.Password, u.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) EnsureCredentialsUser(email, name, password string) (User, error) {
	in := credentials{Email: normalizeEmail(email), Password: password}
	if err := validate.Struct(in); err != nil {
		return User{}, fmt.Errorf("invalid seed user: %w", err)
	}
	u, err := s.users.GetByEmail(in.Email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	u, err = s.createCredentialsUser(in.Email, name, in.Password)
	if errors.Is(err, ErrEmailTaken) {
		return s.users.GetByEmail(in.Email)
	}
	return u, err
}

func (s *Service) createCredentialsUser(email, name, password string) (User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if name == "" {
		name = nameFromEmail(email)
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         s.RoleFor(email),
		CreatedAt:    s.nowFunc().UTC(),
	}
	if err := s.users.Put(u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return User{}, err
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email, "role": u.Role}).Info("user created")
	return u, nil
}

func (s *Service) SignInCredentials(email, password string) (Session, error) {
	u, err := s.Authorize(email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issue(u, ProviderCredentials)
}

func (s *Service) SignInOAuth(p Profile) (Session, error) {
	if p.Provider == "" || p.ProviderAccountID == "" {
		return Session{}, ErrIncompleteProfile
	}

	u, err := s.users.GetByAccount(p.Provider, p.ProviderAccountID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return Session{}, fmt.Errorf("lookup account: %w", err)
		}
		u, err = s.provisionOAuthUser(p)
		if err != nil {
			return Session{}, err
		}
	}
	return s.issue(u, p.Provider)
}

func (s *Service) provisionOAuthUser(p Profile) (User, error) {
	email := normalizeEmail(p.Email)
	if email == "" {
		return User{}, ErrIncompleteProfile
	}

	u, err := s.users.GetByEmail(email)
	switch {
	case err == nil:
		// Only a provider-verified address may claim an existing user.
		if !p.EmailVerified {
			return User{}, ErrAccountNotLinked
		}
	case errors.Is(err, ErrUserNotFound):
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = nameFromEmail(email)
		}
		u = User{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      name,
			Image:     p.Image,
			Role:      s.RoleFor(email),
			CreatedAt: s.nowFunc().UTC(),
		}
		if err := s.users.Put(u); err != nil {
			if errors.Is(err, ErrEmailTaken) {
				return s.provisionOAuthUser(p)
			}
			return User{}, fmt.Errorf("create user: %w", err)
		}
		s.log.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email, "role": u.Role, "provider": p.Provider}).Info("user created")
	default:
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := s.users.LinkAccount(Account{
		Provider:          p.Provider,
		ProviderAccountID: p.ProviderAccountID,
		UserID:            u.ID,
		CreatedAt:         s.nowFunc().UTC(),
	}); err != nil {
		return User{}, fmt.Errorf("link account: %w", err)
	}
	return u, nil
}

func (s *Service) issue(u User, provider string) (Session, error) {
	now := s.nowFunc()
	expires := now.Add(s.ttl)
	id := uuid.NewString()

	claims := Claims{
		Name:     u.Name,
		Email:    u.Email,
		Picture:  u.Image,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	claims = s.callbacks.JWT(claims, &u)

	token, err := s.tokens.Encode(claims)
	if err != nil {
		return Session{}, err
	}

	record := Session{
		ID:        id,
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      claims.Role,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: expires,
	}

	s.sessMu.Lock()
	s.sessions[id] = record
	if err := s.persistSessionsLocked(); err != nil {
		delete(s.sessions, id)
		s.sessMu.Unlock()
		return Session{}, err
	}
	s.sessMu.Unlock()

	s.log.WithFields(logrus.Fields{"user_id": u.ID, "session_id": id, "provider": provider}).Info("signed in")

	record.Token = token
	return record, nil
}

func (s *Service) Session(token string) (ClientSession, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return ClientSession{}, err
	}

	s.sessMu.RLock()
	record, ok := s.sessions[claims.ID]
	s.sessMu.RUnlock()
	if !ok || record.UserID != claims.Subject {
		return ClientSession{}, ErrInvalidToken
	}

	if s.nowFunc().After(record.ExpiresAt) {
		s.sessMu.Lock()
		delete(s.sessions, claims.ID)
		_ = s.persistSessionsLocked()
		s.sessMu.Unlock()
		return ClientSession{}, ErrInvalidToken
	}

	if _, err := s.users.GetByID(claims.Subject); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ClientSession{}, ErrInvalidToken
		}
		return ClientSession{}, fmt.Errorf("lookup user: %w", err)
	}

	session := ClientSession{
		User: SessionUser{
			ID:    claims.Subject,
			Name:  claims.Name,
			Email: claims.Email,
			Image: claims.Picture,
		},
		Expires: record.ExpiresAt,
	}
	return s.callbacks.Session(session, claims), nil
}

func (s *Service) SignOut(token string) error {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return err
	}
	if err := s.RevokeSessionByID(claims.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": claims.Subject, "session_id": claims.ID}).Info("signed out")
	return nil
}

func (s *Service) ListSessions() []Session {
	now := s.nowFunc()

	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	dirty := false
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			dirty = true
			continue
		}
		out = append(out, sess)
	}
	if dirty {
		_ = s.persistSessionsLocked()
	}
	return out
}

func (s *Service) ListSessionViews() []SessionView {
	sessions := s.ListSessions()
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionView{
			ID:        sess.ID,
			UserID:    sess.UserID,
			Email:     sess.Email,
			Role:      sess.Role,
			Provider:  sess.Provider,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
		})
	}
	return out
}

func (s *Service) RevokeSessionByID(sessionID string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	prev, ok := s.sessions[sessionID]
	if !ok {
		return ErrInvalidToken
	}
	delete(s.sessions, sessionID)
	if err := s.persistSessionsLocked(); err != nil {
		s.sessions[sessionID] = prev
		return err
	}
	return nil
}

func (s *Service) LoadSessionState() error {
	if s.sessionStore != nil {
		state, err := s.sessionStore.Load()
		if err != nil {
			return fmt.Errorf("load session state: %w", err)
		}
		s.sessMu.Lock()
		s.sessions = state
		s.sessMu.Unlock()
		return nil
	}

	if s.stateFile == "" {
		return nil
	}
	b, err := os.ReadFile(s.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session state: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	state := make(map[string]Session)
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	s.sessMu.Lock()
	s.sessions = state
	s.sessMu.Unlock()
	return nil
}

func (s *Service) persistSessionsLocked() error {
	if s.sessionStore != nil {
		if err := s.sessionStore.Save(s.sessions); err != nil {
			return fmt.Errorf("save session state: %w", err)
		}
		return nil
	}

	if s.stateFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return fmt.Errorf("mkdir session state dir: %w", err)
	}
	b, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(s.stateFile, b, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
