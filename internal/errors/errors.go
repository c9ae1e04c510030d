package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the session, escalation and offer packages.
var (
	// Session errors
	ErrTransientNetwork       = errors.New("transient network error")
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrSessionFailed          = errors.New("session could not be established")

	// Offer errors
	ErrPrerequisiteUnmet = errors.New("purchase prerequisites unmet")
	ErrAlreadyOwned      = errors.New("offer already owned")
	ErrPurchaseFailed    = errors.New("purchase failed")
	ErrCaptchaRequired   = errors.New("captcha challenge detected")

	// Escalation errors
	ErrEscalationTimeout  = errors.New("escalation timed out")
	ErrEscalationNotFound = errors.New("escalation not found")
	ErrNotificationFailed = errors.New("notification delivery failed")

	// Storage errors
	ErrStoreCorrupt = errors.New("credential record corrupt")
	ErrNotFound     = errors.New("not found")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnsupported   = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsTransient reports whether err is worth retrying within the same tier.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}

// IsAuthRejected reports whether the remote service explicitly refused the credentials.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthenticationRejected)
}
