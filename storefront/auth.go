package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-store-claimer/credentials"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

const (
	probePath    = "/account/v2/personal/ajaxGet"
	exchangePath = "/account/api/oauth/exchange"
	idExchange   = "/id/exchange"
)

// ProbeResult is a successful cookie check.
type ProbeResult struct {
	Cookies   credentials.CookieSet
	AccountID string
}

// Probe checks that cookies still carry a logged-in web session. It never trusts local
// expiry times; only the server's answer counts.
func (c *Client) Probe(ctx context.Context, cookies credentials.CookieSet) (*ProbeResult, error) {
	const op = "[Client.Probe]"
	ex, err := c.newExchange(cookies, "")
	if err != nil {
		return nil, fmt.Errorf("%s %w", op, err)
	}
	// A logged-out session is redirected to the login page.
	ex.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	var body struct {
		UserInfo struct {
			ID struct {
				Value string `json:"value"`
			} `json:"id"`
		} `json:"userInfo"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Account+probePath, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ex.client.Do(req)
	if err := classify(op, resp, err); err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck
		}
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %w: redirected to %s", op, apperrors.ErrAuthenticationRejected, resp.Header.Get("Location"))
	}
	// The login page is served as HTML with a 200 on some edges.
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s %w: unexpected body: %v", op, apperrors.ErrAuthenticationRejected, err)
	}
	return &ProbeResult{
		Cookies:   mergeCookies(cookies, ex.cookies(), c.nowFunc()),
		AccountID: body.UserInfo.ID.Value,
	}, nil
}

// ExchangeCookies turns an access token into a web session: it asks for a one-time
// exchange code and redeems it on the account site, which sets the session cookies.
func (c *Client) ExchangeCookies(ctx context.Context, accessToken string) (credentials.CookieSet, error) {
	const op = "[Client.ExchangeCookies]"
	ex, err := c.newExchange(nil, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s %w", op, err)
	}

	var code struct {
		Code string `json:"code"`
	}
	if err := ex.getJSON(ctx, op, c.endpoints.OAuth+exchangePath, &code); err != nil {
		return nil, err
	}
	if code.Code == "" {
		return nil, fmt.Errorf("%s %w: empty exchange code", op, apperrors.ErrAuthenticationRejected)
	}

	ex.bearer = ""
	q := url.Values{}
	q.Set("exchangeCode", code.Code)
	q.Set("redirectUrl", c.endpoints.Store+"/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Account+idExchange+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s %w", op, err)
	}
	if err := ex.doJSON(req, op, nil); err != nil {
		return nil, err
	}

	cookies := mergeCookies(nil, ex.cookies(), c.nowFunc())
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%s %w: no session cookies set", op, apperrors.ErrAuthenticationRejected)
	}
	return cookies, nil
}

// PurchaseURL is the checkout page for one offer.
func (c *Client) PurchaseURL(namespace, offerID string) string {
	return fmt.Sprintf("%s/purchase?offers=1-%s-%s", c.endpoints.Store, namespace, offerID)
}

// ProductURL is the human-facing page for a product slug.
func (c *Client) ProductURL(slug string) string {
	return fmt.Sprintf("%s/%s/p/%s", c.endpoints.Store, strings.ToLower(c.locale), slug)
}

// EulaURL is the page where the end user license agreement is accepted.
func (c *Client) EulaURL() string {
	return c.endpoints.Account + "/id/eula"
}
