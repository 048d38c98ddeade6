package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileUserStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewFileUserStore(path)
	if err != nil {
		t.Fatalf("NewFileUserStore() error: %v", err)
	}

	u := User{ID: "u-1", Email: "admin@example.com", Name: "admin", PasswordHash: "h", Role: RoleAdmin}
	if err := store.Put(u); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := store.LinkAccount(Account{Provider: "github", ProviderAccountID: "42", UserID: "u-1"}); err != nil {
		t.Fatalf("LinkAccount() error: %v", err)
	}

	store2, err := NewFileUserStore(path)
	if err != nil {
		t.Fatalf("NewFileUserStore() second error: %v", err)
	}
	got, err := store2.GetByEmail("Admin@Example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error: %v", err)
	}
	if got.ID != "u-1" || got.Role != RoleAdmin {
		t.Fatalf("unexpected user: %+v", got)
	}
	linked, err := store2.GetByAccount("github", "42")
	if err != nil {
		t.Fatalf("GetByAccount() error: %v", err)
	}
	if linked.ID != "u-1" {
		t.Fatalf("expected linked user u-1, got %q", linked.ID)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat state file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestFileUserStoreLinkRequiresUser(t *testing.T) {
	store, err := NewFileUserStore(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("NewFileUserStore() error: %v", err)
	}
	err = store.LinkAccount(Account{Provider: "github", ProviderAccountID: "1", UserID: "nobody"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.GetByAccount("github", "1"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestInMemoryUserStoreRejectsInvalidUser(t *testing.T) {
	store := NewInMemoryUserStore()
	if err := store.Put(User{ID: "u-1"}); err == nil {
		t.Fatalf("expected error for user without email")
	}
	if err := store.Put(User{Email: "a@example.com"}); err == nil {
		t.Fatalf("expected error for user without id")
	}
	if _, err := store.GetByEmail("a@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserStoresRejectDuplicateEmail(t *testing.T) {
	fileStore, err := NewFileUserStore(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("NewFileUserStore() error: %v", err)
	}
	stores := map[string]UserStore{
		"memory": NewInMemoryUserStore(),
		"file":   fileStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(User{ID: "u-1", Email: "dup@example.com"}); err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			if err := store.Put(User{ID: "u-2", Email: "DUP@example.com"}); !errors.Is(err, ErrEmailTaken) {
				t.Fatalf("expected ErrEmailTaken, got %v", err)
			}
			if err := store.Put(User{ID: "u-1", Email: "dup@example.com", Name: "renamed"}); err != nil {
				t.Fatalf("expected update of same id to succeed, got %v", err)
			}
			if _, err := store.GetByID("u-2"); !errors.Is(err, ErrUserNotFound) {
				t.Fatalf("expected rejected user to be absent, got %v", err)
			}
		})
	}
}
