package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-store-claimer/accounts"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/rs/zerolog"
)

// Approver approves a pending device login in a fresh browser by signing in with the
// account's password and TOTP.
type Approver struct {
	opener  Opener
	nowFunc func() time.Time
	logger  zerolog.Logger
}

type ApproverOption func(*Approver)

func WithApproverNowTime(now func() time.Time) ApproverOption {
	return func(a *Approver) {
		a.nowFunc = now
	}
}

func WithApproverLogger(logger zerolog.Logger) ApproverOption {
	return func(a *Approver) {
		a.logger = logger
	}
}

func NewApprover(opener Opener, opts ...ApproverOption) *Approver {
	a := &Approver{opener: opener, nowFunc: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApproveDevice returns ErrCaptchaRequired when the login page challenges, leaving the
// approval to a human.
func (a *Approver) ApproveDevice(ctx context.Context, acc accounts.Account, verificationURL string) (err error) {
	ctrl, err := a.opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("[Approver.ApproveDevice] %w", err)
	}
	defer func() {
		if cerr := ctrl.Close(); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("closing browser")
		}
	}()

	if err := ctrl.Navigate(ctx, verificationURL); err != nil {
		return fmt.Errorf("[Approver.ApproveDevice] %w", err)
	}
	if err := ctrl.SubmitCredentials(ctx, acc.Email, acc.Password); err != nil {
		return fmt.Errorf("[Approver.ApproveDevice] sign in: %w", err)
	}

	idx, err := ctrl.WaitForAny(ctx, SelectorApproveDevice, SelectorMFAInput, SelectorCaptchaFrame)
	if err != nil {
		return fmt.Errorf("[Approver.ApproveDevice] after sign in: %w", err)
	}
	switch idx {
	case 2:
		return apperrors.Wrapf(apperrors.ErrCaptchaRequired, "device approval for %s", acc.ID())
	case 1:
		code, err := acc.TOTPCode(a.nowFunc())
		if err != nil {
			return fmt.Errorf("[Approver.ApproveDevice] mfa: %w", err)
		}
		if err := ctrl.Fill(ctx, SelectorMFAInput, code); err != nil {
			return fmt.Errorf("[Approver.ApproveDevice] mfa: %w", err)
		}
		if err := ctrl.Click(ctx, SelectorMFASubmit); err != nil {
			return fmt.Errorf("[Approver.ApproveDevice] mfa: %w", err)
		}
		idx, err = ctrl.WaitForAny(ctx, SelectorApproveDevice, SelectorCaptchaFrame)
		if err != nil {
			return fmt.Errorf("[Approver.ApproveDevice] after mfa: %w", err)
		}
		if idx == 1 {
			return apperrors.Wrapf(apperrors.ErrCaptchaRequired, "device approval for %s", acc.ID())
		}
	}

	if err := ctrl.Click(ctx, SelectorApproveDevice); err != nil {
		return fmt.Errorf("[Approver.ApproveDevice] approve: %w", err)
	}
	if err := ctrl.WaitForElement(ctx, SelectorDeviceDone); err != nil {
		return fmt.Errorf("[Approver.ApproveDevice] confirmation: %w", err)
	}
	a.logger.Info().Str("account", acc.ID()).Msg("device approved automatically")
	return nil
}
