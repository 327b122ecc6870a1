package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"symptomcheck/internal/model"
	"symptomcheck/internal/repository"
)

func TestPendingCleanupJobSweeps(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	account := model.Account{ID: "a1", FullName: "A", Email: "a@x.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create error: %v", err)
	}
	challenge := model.Challenge{AccountID: "a1", Purpose: model.PurposeSignup, Code: "123456", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-50 * time.Minute)}
	if err := store.ReplaceChallenge(ctx, challenge); err != nil {
		t.Fatalf("challenge error: %v", err)
	}

	StartPendingCleanupJob(ctx, store, 10*time.Millisecond, 10*time.Minute)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.GetAccountByEmail(ctx, "a@x.com"); errors.Is(err, repository.ErrNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected abandoned registration to be swept")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
