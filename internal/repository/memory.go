package repository

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"symptomcheck/internal/model"
)

// MemoryStore keeps everything in process memory behind a single mutex.
// It backs tests and local development without a database.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]model.Account
	byEmail     map[string]string
	challenges  map[challengeKey]model.Challenge
	resetTokens map[string]model.ResetToken
}

type challengeKey struct {
	accountID string
	purpose   model.ChallengePurpose
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]model.Account),
		byEmail:     make(map[string]string),
		challenges:  make(map[challengeKey]model.Challenge),
		resetTokens: make(map[string]model.ResetToken),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, account model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[account.Email]; ok {
		return ErrDuplicateEmail
	}
	s.accounts[account.ID] = account
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *MemoryStore) GetAccountByID(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return account, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.Verified = true
	account.UpdatedAt = at
	s.accounts[accountID] = account
	return nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, accountID, passwordHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = at
	s.accounts[accountID] = account
	return nil
}

func (s *MemoryStore) ReplaceChallenge(_ context.Context, challenge model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challengeKey{challenge.AccountID, challenge.Purpose}] = challenge
	return nil
}

func (s *MemoryStore) GetChallenge(_ context.Context, accountID string, purpose model.ChallengePurpose) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[challengeKey{accountID, purpose}]
	if !ok {
		return model.Challenge{}, ErrNotFound
	}
	return challenge, nil
}

func (s *MemoryStore) ConsumeChallenge(_ context.Context, accountID string, purpose model.ChallengePurpose, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := challengeKey{accountID, purpose}
	challenge, ok := s.challenges[key]
	if !ok || subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(code)) != 1 {
		return false, nil
	}
	delete(s.challenges, key)
	return true, nil
}

func (s *MemoryStore) ReplaceResetToken(_ context.Context, token model.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, existing := range s.resetTokens {
		if existing.AccountID == token.AccountID {
			delete(s.resetTokens, hash)
		}
	}
	s.resetTokens[token.TokenHash] = token
	return nil
}

func (s *MemoryStore) ConsumeResetToken(_ context.Context, tokenHash string) (model.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.resetTokens[tokenHash]
	if !ok {
		return model.ResetToken{}, ErrNotFound
	}
	delete(s.resetTokens, tokenHash)
	return token, nil
}

func (s *MemoryStore) DeleteExpiredPendingAccounts(_ context.Context, now time.Time, grace time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-grace)
	var deleted int64
	for id, account := range s.accounts {
		if account.Verified {
			continue
		}
		challenge, ok := s.challenges[challengeKey{id, model.PurposeSignup}]
		if ok && challenge.ExpiresAt.After(now) {
			continue
		}
		if !ok && account.CreatedAt.After(cutoff) {
			continue
		}
		delete(s.challenges, challengeKey{id, model.PurposeSignup})
		delete(s.challenges, challengeKey{id, model.PurposeLogin})
		delete(s.byEmail, account.Email)
		delete(s.accounts, id)
		deleted++
	}
	return deleted, nil
}
