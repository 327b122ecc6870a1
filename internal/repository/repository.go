package repository

import (
	"context"
	"errors"
	"time"

	"symptomcheck/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store is the durable record of accounts and their pending secrets.
// Implementations must make ConsumeChallenge and ConsumeResetToken atomic:
// two concurrent calls presenting the same value may succeed at most once.
type Store interface {
	CreateAccount(ctx context.Context, account model.Account) error
	GetAccountByEmail(ctx context.Context, email string) (model.Account, error)
	GetAccountByID(ctx context.Context, id string) (model.Account, error)
	MarkVerified(ctx context.Context, accountID string, at time.Time) error
	UpdatePassword(ctx context.Context, accountID, passwordHash string, at time.Time) error

	// ReplaceChallenge installs a challenge for the account and purpose,
	// superseding any prior one (last writer wins).
	ReplaceChallenge(ctx context.Context, challenge model.Challenge) error
	GetChallenge(ctx context.Context, accountID string, purpose model.ChallengePurpose) (model.Challenge, error)
	// ConsumeChallenge deletes the challenge only if the stored code still
	// matches. Returns false when it was already consumed or replaced.
	ConsumeChallenge(ctx context.Context, accountID string, purpose model.ChallengePurpose, code string) (bool, error)

	ReplaceResetToken(ctx context.Context, token model.ResetToken) error
	// ConsumeResetToken deletes and returns the token matching the hash.
	// Expiry is the caller's check; the row is gone either way.
	ConsumeResetToken(ctx context.Context, tokenHash string) (model.ResetToken, error)

	// DeleteExpiredPendingAccounts removes unverified accounts whose signup
	// challenge has expired, and unverified accounts older than grace that
	// have no signup challenge at all (issuance failed, or the challenge was
	// consumed but verification errored before the flag was set). The
	// predicate re-checks every condition inside the store.
	DeleteExpiredPendingAccounts(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
}
