package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"symptomcheck/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account model.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, full_name, email, password_hash, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.FullName, account.Email, account.PasswordHash, account.Verified, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx, `
		SELECT id, full_name, email, password_hash, verified, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`, email))
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (model.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx, `
		SELECT id, full_name, email, password_hash, verified, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id))
}

func (s *PostgresStore) scanAccount(row pgx.Row) (model.Account, error) {
	var account model.Account
	err := row.Scan(
		&account.ID,
		&account.FullName,
		&account.Email,
		&account.PasswordHash,
		&account.Verified,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return account, err
}

func (s *PostgresStore) MarkVerified(ctx context.Context, accountID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET verified = true, updated_at = $1 WHERE id = $2
	`, at, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, accountID, passwordHash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, passwordHash, at, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReplaceChallenge(ctx context.Context, challenge model.Challenge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO challenges (account_id, purpose, code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, purpose)
		DO UPDATE SET code = EXCLUDED.code, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, challenge.AccountID, string(challenge.Purpose), challenge.Code, challenge.CreatedAt, challenge.ExpiresAt)
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, accountID string, purpose model.ChallengePurpose) (model.Challenge, error) {
	var challenge model.Challenge
	var rawPurpose string
	row := s.pool.QueryRow(ctx, `
		SELECT account_id, purpose, code, created_at, expires_at
		FROM challenges
		WHERE account_id = $1 AND purpose = $2
	`, accountID, string(purpose))
	err := row.Scan(&challenge.AccountID, &rawPurpose, &challenge.Code, &challenge.CreatedAt, &challenge.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Challenge{}, ErrNotFound
	}
	challenge.Purpose = model.ChallengePurpose(rawPurpose)
	return challenge, err
}

func (s *PostgresStore) ConsumeChallenge(ctx context.Context, accountID string, purpose model.ChallengePurpose, code string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM challenges
		WHERE account_id = $1 AND purpose = $2 AND code = $3
	`, accountID, string(purpose), code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReplaceResetToken(ctx context.Context, token model.ResetToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reset_tokens (account_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET token_hash = EXCLUDED.token_hash, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, token.AccountID, token.TokenHash, token.CreatedAt, token.ExpiresAt)
	return err
}

func (s *PostgresStore) ConsumeResetToken(ctx context.Context, tokenHash string) (model.ResetToken, error) {
	var token model.ResetToken
	row := s.pool.QueryRow(ctx, `
		DELETE FROM reset_tokens
		WHERE token_hash = $1
		RETURNING account_id, token_hash, created_at, expires_at
	`, tokenHash)
	err := row.Scan(&token.AccountID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ResetToken{}, ErrNotFound
	}
	return token, err
}

func (s *PostgresStore) DeleteExpiredPendingAccounts(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM accounts a
		WHERE a.verified = false
		  AND (
			EXISTS (
				SELECT 1 FROM challenges c
				WHERE c.account_id = a.id AND c.purpose = 'signup' AND c.expires_at <= $1
			)
			OR (
				NOT EXISTS (
					SELECT 1 FROM challenges c
					WHERE c.account_id = a.id AND c.purpose = 'signup'
				)
				AND a.created_at <= $2
			)
		  )
	`, now, now.Add(-grace))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
