package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vovakirdan/coursechat-server/internal/store"
	"github.com/vovakirdan/coursechat-server/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig), st
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ab", "password123", ""); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}

	// Should be validated after trimming whitespace.
	if _, err := svc.Register(ctx, " ab ", "password123", ""); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsInvalidPasswordAndRole(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "abc", "12345", ""); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := svc.Register(ctx, "abc", "123456", "janitor"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestRegister_TrimsUsernameAndCreatesUser(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Register(ctx, " alice ", "password123", "")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	// Should collide because the stored username is trimmed.
	if _, err := svc.Register(ctx, "alice", "password123", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

// racingStore hides existing users from the lookup, the way a concurrent
// registration looks before its insert commits.
type racingStore struct {
	store.UserStore
}

func (racingStore) GetUserByUsername(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func TestRegister_LosingConcurrentInsertReportsUserExists(t *testing.T) {
	svc, st := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "password123", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	racing := NewService(racingStore{UserStore: st}, svc.jwtConfig)
	if _, err := racing.Register(ctx, "alice", "password456", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLoginAndVerify(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "prof", "password123", store.RoleTeacher); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "prof", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	token, err := svc.Login(ctx, "prof", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	id, err := svc.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Username != "prof" || id.Role != store.RoleTeacher || id.UserID == 0 {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerify_RejectsForeignAndOrphanTokens(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Verify(ctx, "not-a-jwt"); err == nil {
		t.Fatalf("expected error for garbage token")
	}

	foreign := &JWTConfig{Secret: []byte("other-secret"), Issuer: "test", Audience: "test", TTL: time.Hour}
	forged, err := GenerateToken(foreign, 1, "mallory", store.RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Verify(ctx, forged); err == nil {
		t.Fatalf("expected error for token signed with another secret")
	}

	// Correctly signed, but the user does not exist.
	orphan, err := GenerateToken(svc.jwtConfig, 999, "ghost", store.RoleStudent)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Verify(ctx, orphan); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestValidateToken_RejectsExpiredAndWrongAudience(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s"), Issuer: "test", Audience: "test", TTL: -time.Minute}
	expired, err := GenerateToken(cfg, 1, "alice", store.RoleStudent)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	cfg.TTL = time.Hour
	token, err := GenerateToken(cfg, 1, "alice", store.RoleStudent)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other := *cfg
	other.Audience = "someone-else"
	if _, err := ValidateToken(&other, token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}
