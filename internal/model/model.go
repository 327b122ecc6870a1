package model

import "time"

type Account struct {
	ID           string
	FullName     string
	Email        string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChallengePurpose distinguishes the flows an OTP can belong to. A signup
// challenge gates account verification; a login challenge backs the
// passwordless login flow.
type ChallengePurpose string

const (
	PurposeSignup ChallengePurpose = "signup"
	PurposeLogin  ChallengePurpose = "login"
)

// Challenge is a one-time numeric code bound to an account. At most one
// active challenge exists per account and purpose; issuing a new one
// replaces the previous.
type Challenge struct {
	AccountID string
	Purpose   ChallengePurpose
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResetToken holds the hash of a password reset token. The raw value is
// only ever sent by mail; presenting it consumes the row.
type ResetToken struct {
	AccountID string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}
