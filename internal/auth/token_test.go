package auth

import (
	"errors"
	"testing"
	"time"
)

func TestVerifyRoundtrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Sign(Identity{ID: 42, Role: "provider"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	identity, err := v.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if identity.ID != 42 || identity.Role != "provider" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Room() != "provider_42" {
		t.Fatalf("unexpected room: %q", identity.Room())
	}
}

func TestVerifyMissingToken(t *testing.T) {
	v := NewVerifier("test-secret")
	if _, err := v.Verify(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	v := NewVerifier("test-secret")
	if _, err := v.Verify("not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewVerifier("secret-a")
	token, err := issuer.Sign(Identity{ID: 1, Role: "user"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier("secret-b")
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign(Identity{ID: 1, Role: "user"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyMissingRole(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign(Identity{ID: 7}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for missing role, got %v", err)
	}
}
