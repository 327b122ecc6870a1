package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	token, err := NewSessionToken("secret", "issuer", time.Minute, Claims{
		UserID:   "user-1",
		Email:    "a@x.com",
		FullName: "A",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if claims.UserID != "user-1" || claims.Email != "a@x.com" || claims.FullName != "A" {
		t.Fatalf("unexpected claims")
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewSessionToken("secret", "issuer", time.Minute, Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other", token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	token, err := NewSessionToken("secret", "issuer", -time.Minute, Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseTokenMalformed(t *testing.T) {
	if _, err := ParseToken("secret", "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
