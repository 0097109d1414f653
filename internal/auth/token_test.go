package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndValidate(t *testing.T) {
	svc, err := NewService("test-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	principalID := uuid.New()
	token, expiresAt, err := svc.Issue(principalID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if until := time.Until(expiresAt); until < 29*24*time.Hour {
		t.Fatalf("expected ~30 day expiry, got %v", until)
	}

	principal, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if principal.ID != principalID {
		t.Fatalf("unexpected principal id: %s", principal.ID)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	issuing, err := NewService("test-secret", WithClock(func() time.Time { return past }), WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	token, _, err := issuing.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	validating, err := NewService("test-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = validating.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry to unwrap to ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	svc, err := NewService("test-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := svc.Validate(token)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("token %q: expected ErrTokenMalformed, got %v", token, err)
		}
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, err := NewService("secret-one")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	token, _, err := issuer.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewService("secret-two")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	principal := Principal{ID: uuid.New()}
	ctx := ContextWithPrincipal(context.Background(), principal)

	got, ok := PrincipalFromContext(ctx)
	if !ok || got.ID != principal.ID {
		t.Fatalf("unexpected principal: %v ok=%v", got, ok)
	}

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal on fresh context")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "hunter22"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}
