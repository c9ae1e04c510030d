// Package browser drives a real browser for the steps the storefront only exposes as web
// pages: device approval, checkout and captcha hand-off.
package browser

import (
	"context"

	"github.com/jrsteele09/go-store-claimer/credentials"
)

// Page selectors. The checkout page renders the order form at the top level when opened
// through the purchase URL.
const (
	SelectorEmail         = "#email"
	SelectorContinue      = "#continue"
	SelectorPassword      = "#password"
	SelectorSignIn        = "#sign-in"
	SelectorMFAInput      = `input[name="code-input-0"]`
	SelectorMFASubmit     = "#continue"
	SelectorApproveDevice = "#approveButton"
	SelectorDeviceDone    = `[data-testid="device-success"], .device-approved`

	SelectorPlaceOrder     = "button.payment-order-confirm__btn, button.payment-btn"
	SelectorAcceptRefund   = "button.payment-confirm__btn"
	SelectorOrderConfirmed = ".payment-confirmation__content, .payment-alert--success"
	SelectorAlreadyOwned   = ".payment-alert--owned, [data-testid=\"purchase-owned\"]"
	SelectorPurchaseError  = ".payment-alert--error, .payment-error"

	SelectorCaptchaFrame = `iframe[src*="hcaptcha"], iframe[src*="talon"], iframe[src*="arkoselabs"]`
)

// Controller is one automated browser tab. Every blocking call honours ctx and the
// configured page timeout.
type Controller interface {
	Navigate(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, selector string) error
	// WaitForAny blocks until one of the selectors matches and returns its index.
	WaitForAny(ctx context.Context, selectors ...string) (int, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SubmitCredentials(ctx context.Context, email, password string) error
	DetectCaptchaFrame(ctx context.Context) (bool, error)
	// InjectCaptchaToken hands a solved captcha response to the page.
	InjectCaptchaToken(ctx context.Context, token string) error
	SetCookies(cookies credentials.CookieSet) error
	// RemoteViewURL is where a human can watch and drive this tab, empty if remote
	// viewing is disabled.
	RemoteViewURL() string
	Close() error
}

// Opener starts a fresh Controller. Callers must Close it on every path.
type Opener interface {
	Open(ctx context.Context) (Controller, error)
}
