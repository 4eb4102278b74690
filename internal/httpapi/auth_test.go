package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"regisync/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestBootstrapAdminCreatesFirstAccountOnly(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	created, err := manager.BootstrapAdmin(context.Background(), " Owner ", "owner-pass-1")
	if err != nil {
		t.Fatalf("bootstrap admin failed: %v", err)
	}
	if !created {
		t.Fatalf("expected admin to be created on an empty store")
	}

	owner, ok := store.users["owner"]
	if !ok {
		t.Fatalf("expected lower-cased username to be stored")
	}
	if owner.Role != "admin" || !owner.Active {
		t.Fatalf("unexpected account %+v", owner)
	}
	if !strings.HasPrefix(owner.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", owner.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "owner-pass-1"})
	if err != nil {
		t.Fatalf("login with bootstrapped admin failed: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	created, err = manager.BootstrapAdmin(context.Background(), "second", "second-pass-1")
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	if created {
		t.Fatalf("expected no account once users exist")
	}
	if len(store.users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(store.users))
	}
}

func TestBootstrapAdminRejectsShortPassword(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", &userStoreStub{})
	if _, err := manager.BootstrapAdmin(context.Background(), "admin", "short"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("pass1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"former": {Username: "former", Password: hash, Role: "cashier", Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, "", store)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "pass1234"})
	if !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRoundTripAndTamper(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"cashier": {Username: "cashier", Password: "cashier123", Role: "cashier", Active: true},
	}}
	manager := NewAuthManager("test-secret", time.Hour, "", store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "cashier" || actor.Role != "cashier" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("other-secret", time.Hour, "", store)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestEmptyManagerPINNeverValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "  ", &userStoreStub{})
	if manager.ValidateManagerPIN("") || manager.ValidateManagerPIN("123456") {
		t.Fatalf("expected every pin to fail when none is configured")
	}
}
