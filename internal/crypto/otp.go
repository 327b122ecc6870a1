package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const otpDigits = 6

// NewOTP returns a zero-padded numeric code of fixed length.
func NewOTP() (string, error) {
	max := big.NewInt(1_000_000)
	value, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, value.Int64()), nil
}
