package account

import (
	"context"
	"testing"
	"time"

	"github.com/nexusvoice/backend/internal/auth"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/internal/store/memory"
)

func newTestService() *Service {
	cfg := config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}
	return NewService(memory.New(), cfg)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService()

	created, err := svc.Register(context.Background(), Credentials{Email: " User@Example.COM ", Password: "password123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected assigned user ID")
	}
	if created.Email != "user@example.com" {
		t.Fatalf("expected normalised email, got %q", created.Email)
	}

	resp, err := svc.Login(context.Background(), Credentials{Email: "user@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" || resp.User.ID != created.ID {
		t.Fatalf("unexpected auth response %+v", resp)
	}

	claims, err := auth.ParseAccessToken(resp.AccessToken, "test-secret")
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != created.ID {
		t.Fatalf("expected token subject %q, got %q", created.ID, claims.UserID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService()

	if _, err := svc.Register(context.Background(), Credentials{Email: "no-at-sign", Password: "password123"}); err == nil {
		t.Fatal("expected invalid email rejected")
	}
	if _, err := svc.Register(context.Background(), Credentials{Email: "a@b.com", Password: "short"}); err == nil {
		t.Fatal("expected short password rejected")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService()

	if _, err := svc.Register(context.Background(), Credentials{Email: "a@b.com", Password: "password123"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(context.Background(), Credentials{Email: "A@B.com", Password: "password456"}); err == nil {
		t.Fatal("expected duplicate email rejected")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService()

	if _, err := svc.Login(context.Background(), Credentials{Email: "ghost@b.com", Password: "password123"}); err == nil {
		t.Fatal("expected unknown user rejected")
	}

	if _, err := svc.Register(context.Background(), Credentials{Email: "a@b.com", Password: "password123"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(context.Background(), Credentials{Email: "a@b.com", Password: "wrong-password"}); err == nil {
		t.Fatal("expected wrong password rejected")
	}
}
