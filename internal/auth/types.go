package auth

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const ProviderCredentials = "credentials"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Image        string    `json:"image,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Account struct {
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"provider_account_id"`
	UserID            string    `json:"user_id"`
	CreatedAt         time.Time `json:"created_at"`
}

type Profile struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	Image             string
	// EmailVerified is set when the provider vouches for Email.
	EmailVerified     bool
}

type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ClientSession struct {
	User    SessionUser `json:"user"`
	Expires time.Time   `json:"expires"`
}

type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
	Role  string `json:"role,omitempty"`
}

func (s ClientSession) IsAdmin() bool {
	return s.User.Role == RoleAdmin
}
