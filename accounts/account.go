package accounts

import (
	"errors"
	"strings"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/pquerna/otp/totp"
)

var ErrNoTOTP = errors.New("account has no TOTP seed")

// Account is a storefront login. It is built once from configuration and never mutated.
type Account struct {
	Email    string // Identifier; also the credential store key
	Password string // Optional, enables automated device approval
	TOTP     string // Optional base32 TOTP seed
}

// ID returns the identifier used for credential records, locks and notifications.
func (a Account) ID() string {
	return strings.ToLower(strings.TrimSpace(a.Email))
}

// HasPassword reports whether automated credential entry can be attempted.
func (a Account) HasPassword() bool {
	return a.Password != ""
}

// TOTPCode generates the current one-time code for accounts with a TOTP seed.
func (a Account) TOTPCode(now time.Time) (string, error) {
	if a.TOTP == "" {
		return "", ErrNoTOTP
	}
	return totp.GenerateCode(strings.ReplaceAll(a.TOTP, " ", ""), now)
}

// FromConfig converts the configured accounts.
func FromConfig(cfgs []config.AccountConfig) []Account {
	out := make([]Account, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Account{
			Email:    strings.TrimSpace(c.Email),
			Password: c.Password,
			TOTP:     c.TOTP,
		})
	}
	return out
}
