package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-store-claimer/browser"
	"github.com/jrsteele09/go-store-claimer/escalation"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/pkg/errors"
)

// maxCheckoutSteps bounds the page transitions one checkout may go through.
const maxCheckoutSteps = 8

// Purchase claims one candidate in a fresh browser. A store answer of "already owned"
// is a success. A captcha is handed to a human and the checkout resumes once it is
// solved. Any other failure gets one manual help escalation before it is returned.
func (r *AccountRun) Purchase(ctx context.Context, c OfferCandidate) (PurchaseOutcome, error) {
	log := r.log.With().Str("offer", c.Key()).Logger()
	outcome, err := r.checkoutInBrowser(ctx, c)
	if err != nil && !helpable(err) {
		metricPurchases.WithLabelValues(string(OutcomeFailed)).Inc()
		log.Error().Err(err).Msg("purchase failed")
		return OutcomeFailed, err
	}
	if err != nil {
		log.Warn().Err(err).Msg("automated purchase failed; asking for manual help")
		outcome, err = r.manualHelp(ctx, c, err)
	}
	metricPurchases.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		log.Error().Err(err).Msg("purchase failed")
		return outcome, err
	}
	log.Info().Str("outcome", string(outcome)).Str("title", c.Title).Msg("purchase finished")
	return outcome, nil
}

// helpable reports whether a failure leaves room for a manual help request. A spent
// escalation deadline or an unreachable human does not.
func helpable(err error) bool {
	return !apperrors.Is(err, apperrors.ErrEscalationTimeout) &&
		!apperrors.Is(err, apperrors.ErrNotificationFailed) &&
		!apperrors.Is(err, context.Canceled) &&
		!apperrors.Is(err, context.DeadlineExceeded)
}

func (r *AccountRun) checkoutInBrowser(ctx context.Context, c OfferCandidate) (PurchaseOutcome, error) {
	if r.a.opener == nil {
		return OutcomeFailed, errors.Wrap(apperrors.ErrPurchaseFailed, "[AccountRun.Purchase] no browser configured")
	}
	ctrl, err := r.a.opener.Open(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("[AccountRun.Purchase] %w: %w", apperrors.ErrPurchaseFailed, err)
	}
	defer func() {
		if cerr := ctrl.Close(); cerr != nil {
			r.log.Warn().Err(cerr).Msg("closing browser")
		}
	}()
	return r.checkout(ctx, ctrl, c)
}

func (r *AccountRun) checkout(ctx context.Context, ctrl browser.Controller, c OfferCandidate) (PurchaseOutcome, error) {
	if err := ctrl.SetCookies(r.Session().Cookies()); err != nil {
		return OutcomeFailed, fmt.Errorf("[AccountRun.checkout] %w: cookies: %w", apperrors.ErrPurchaseFailed, err)
	}
	purchaseURL := r.a.catalog.PurchaseURL(c.Namespace, c.OfferID)
	if err := ctrl.Navigate(ctx, purchaseURL); err != nil {
		return OutcomeFailed, fmt.Errorf("[AccountRun.checkout] %w: %w", apperrors.ErrPurchaseFailed, err)
	}

	states := []string{
		browser.SelectorOrderConfirmed,
		browser.SelectorAlreadyOwned,
		browser.SelectorCaptchaFrame,
		browser.SelectorAcceptRefund,
		browser.SelectorPlaceOrder,
		browser.SelectorPurchaseError,
	}
	ordered := false
	for step := 0; step < maxCheckoutSteps; step++ {
		idx, err := ctrl.WaitForAny(ctx, states...)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("[AccountRun.checkout] %w: page state: %w", apperrors.ErrPurchaseFailed, err)
		}
		switch states[idx] {
		case browser.SelectorOrderConfirmed:
			return OutcomePurchased, nil
		case browser.SelectorAlreadyOwned:
			return OutcomeAlreadyOwned, nil
		case browser.SelectorCaptchaFrame:
			if err := r.solveCaptcha(ctx, ctrl, purchaseURL); err != nil {
				return OutcomeFailed, err
			}
		case browser.SelectorAcceptRefund:
			if err := ctrl.Click(ctx, browser.SelectorAcceptRefund); err != nil {
				return OutcomeFailed, fmt.Errorf("[AccountRun.checkout] %w: refund notice: %w", apperrors.ErrPurchaseFailed, err)
			}
		case browser.SelectorPlaceOrder:
			if ordered {
				// The button is still there after a click: wait for the page to move on.
				if err := sleep(ctx, r.a.captchaPoll); err != nil {
					return OutcomeFailed, err
				}
				continue
			}
			if err := ctrl.Click(ctx, browser.SelectorPlaceOrder); err != nil {
				return OutcomeFailed, fmt.Errorf("[AccountRun.checkout] %w: place order: %w", apperrors.ErrPurchaseFailed, err)
			}
			ordered = true
		case browser.SelectorPurchaseError:
			return OutcomeFailed, errors.Wrap(apperrors.ErrPurchaseFailed, "[AccountRun.checkout] store reported an error")
		}
	}
	return OutcomeFailed, errors.Wrapf(apperrors.ErrPurchaseFailed, "[AccountRun.checkout] no result after %d steps", maxCheckoutSteps)
}

// solveCaptcha asks a human to solve the challenge. It returns once the challenge has
// cleared in the page or a solved token was posted back and injected.
func (r *AccountRun) solveCaptcha(ctx context.Context, ctrl browser.Controller, purchaseURL string) error {
	target := ctrl.RemoteViewURL()
	if target == "" {
		target = purchaseURL
	}
	r.log.Warn().Str("target", target).Msg("captcha during checkout")
	payload, err := r.a.escalator.Request(ctx, escalation.Request{
		AccountID: r.acc.ID(),
		Reason:    notify.ReasonPurchase,
		Deadline:  r.a.deadline(r.a.nowFunc()),
		Target:    target,
		Watch: func(ctx context.Context) (escalation.Payload, error) {
			for {
				present, err := ctrl.DetectCaptchaFrame(ctx)
				if err == nil && !present {
					return escalation.Payload{Source: escalation.SourceWatcher}, nil
				}
				if err := sleep(ctx, r.a.captchaPoll); err != nil {
					return escalation.Payload{}, err
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("[AccountRun.solveCaptcha] %w: %w", apperrors.ErrCaptchaRequired, err)
	}
	if len(payload.Body) > 0 {
		if err := ctrl.InjectCaptchaToken(ctx, string(payload.Body)); err != nil {
			return fmt.Errorf("[AccountRun.solveCaptcha] %w: inject: %w", apperrors.ErrPurchaseFailed, err)
		}
	}
	return nil
}

// manualHelp asks a human to buy the offer on its product page. It resolves when the
// human opens the link or the store starts reporting the offer as owned.
func (r *AccountRun) manualHelp(ctx context.Context, c OfferCandidate, cause error) (PurchaseOutcome, error) {
	target := r.a.catalog.ProductURL(c.Slug)
	if c.Slug == "" {
		target = r.a.catalog.PurchaseURL(c.Namespace, c.OfferID)
	}
	payload, err := r.a.escalator.Request(ctx, escalation.Request{
		AccountID:      r.acc.ID(),
		Reason:         notify.ReasonPurchaseError,
		Deadline:       r.a.deadline(r.a.nowFunc()),
		Target:         target,
		ResolveOnVisit: true,
		Watch: func(ctx context.Context) (escalation.Payload, error) {
			for {
				if err := sleep(ctx, r.a.ownedPoll); err != nil {
					return escalation.Payload{}, err
				}
				owned, err := r.a.catalog.Entitlement(ctx, r.Session(), c.Namespace, c.OfferID)
				if err == nil && owned {
					return escalation.Payload{Source: escalation.SourceWatcher}, nil
				}
			}
		},
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("[AccountRun.Purchase] %w (manual help: %v)", cause, err)
	}
	if payload.Source == escalation.SourceWatcher {
		return OutcomePurchased, nil
	}
	return OutcomeHandedOff, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
