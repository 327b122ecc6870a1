package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"symptomcheck/internal/model"
)

func newAccount(id, email string) model.Account {
	now := time.Now().UTC()
	return model.Account{
		ID:           id,
		FullName:     "Test User",
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, newAccount("a1", "a@x.com")); err != nil {
		t.Fatalf("create error: %v", err)
	}
	err := store.CreateAccount(ctx, newAccount("a2", "a@x.com"))
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestChallengeReplaceAndConsumeOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateAccount(ctx, newAccount("a1", "a@x.com")); err != nil {
		t.Fatalf("create error: %v", err)
	}
	first := model.Challenge{AccountID: "a1", Purpose: model.PurposeSignup, Code: "111111", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	if err := store.ReplaceChallenge(ctx, first); err != nil {
		t.Fatalf("replace error: %v", err)
	}
	second := first
	second.Code = "222222"
	if err := store.ReplaceChallenge(ctx, second); err != nil {
		t.Fatalf("replace error: %v", err)
	}

	// The superseded code no longer consumes.
	ok, err := store.ConsumeChallenge(ctx, "a1", model.PurposeSignup, "111111")
	if err != nil || ok {
		t.Fatalf("expected stale code to fail, got ok=%v err=%v", ok, err)
	}
	ok, err = store.ConsumeChallenge(ctx, "a1", model.PurposeSignup, "222222")
	if err != nil || !ok {
		t.Fatalf("expected consume to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.ConsumeChallenge(ctx, "a1", model.PurposeSignup, "222222")
	if err != nil || ok {
		t.Fatalf("expected second consume to fail, got ok=%v err=%v", ok, err)
	}
}

func TestResetTokenSingleUse(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	token := model.ResetToken{AccountID: "a1", TokenHash: "h1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.ReplaceResetToken(ctx, token); err != nil {
		t.Fatalf("replace error: %v", err)
	}

	got, err := store.ConsumeResetToken(ctx, "h1")
	if err != nil {
		t.Fatalf("consume error: %v", err)
	}
	if got.AccountID != "a1" {
		t.Fatalf("unexpected account %s", got.AccountID)
	}
	if _, err := store.ConsumeResetToken(ctx, "h1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestResetTokenReplacedPerAccount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.ReplaceResetToken(ctx, model.ResetToken{AccountID: "a1", TokenHash: "old", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("replace error: %v", err)
	}
	if err := store.ReplaceResetToken(ctx, model.ResetToken{AccountID: "a1", TokenHash: "new", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("replace error: %v", err)
	}
	if _, err := store.ConsumeResetToken(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected prior token to be superseded, got %v", err)
	}
	if _, err := store.ConsumeResetToken(ctx, "new"); err != nil {
		t.Fatalf("expected current token to consume, got %v", err)
	}
}

func TestDeleteExpiredPendingAccounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// Pending with an expired challenge: swept.
	if err := store.CreateAccount(ctx, newAccount("expired", "expired@x.com")); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := store.ReplaceChallenge(ctx, model.Challenge{AccountID: "expired", Purpose: model.PurposeSignup, Code: "111111", CreatedAt: now.Add(-20 * time.Minute), ExpiresAt: now.Add(-10 * time.Minute)}); err != nil {
		t.Fatalf("replace error: %v", err)
	}

	// Pending with a live challenge: kept.
	if err := store.CreateAccount(ctx, newAccount("live", "live@x.com")); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := store.ReplaceChallenge(ctx, model.Challenge{AccountID: "live", Purpose: model.PurposeSignup, Code: "222222", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}); err != nil {
		t.Fatalf("replace error: %v", err)
	}

	// Verified account whose challenge was consumed: kept even though old.
	verified := newAccount("done", "done@x.com")
	verified.Verified = true
	if err := store.CreateAccount(ctx, verified); err != nil {
		t.Fatalf("create error: %v", err)
	}

	deleted, err := store.DeleteExpiredPendingAccounts(ctx, now, 10*time.Minute)
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := store.GetAccountByEmail(ctx, "expired@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired account gone, got %v", err)
	}
	if _, err := store.GetAccountByEmail(ctx, "live@x.com"); err != nil {
		t.Fatalf("expected live account kept, got %v", err)
	}
	if _, err := store.GetAccountByEmail(ctx, "done@x.com"); err != nil {
		t.Fatalf("expected verified account kept, got %v", err)
	}

	// Second sweep is a no-op.
	deleted, err = store.DeleteExpiredPendingAccounts(ctx, now, 10*time.Minute)
	if err != nil || deleted != 0 {
		t.Fatalf("expected idempotent sweep, got deleted=%d err=%v", deleted, err)
	}
}

func TestSweepRemovesChallengelessPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// Pending with no challenge at all (issuance failed) and past the
	// grace window: swept.
	stale := newAccount("stale", "stale@x.com")
	stale.CreatedAt = now.Add(-24 * time.Hour)
	if err := store.CreateAccount(ctx, stale); err != nil {
		t.Fatalf("create error: %v", err)
	}

	// Pending with no challenge but still inside the grace window: kept.
	if err := store.CreateAccount(ctx, newAccount("fresh", "fresh@x.com")); err != nil {
		t.Fatalf("create error: %v", err)
	}

	deleted, err := store.DeleteExpiredPendingAccounts(ctx, now, 10*time.Minute)
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := store.GetAccountByEmail(ctx, "stale@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale account gone, got %v", err)
	}
	if _, err := store.GetAccountByEmail(ctx, "fresh@x.com"); err != nil {
		t.Fatalf("expected fresh account kept, got %v", err)
	}
}
