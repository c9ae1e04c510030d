package credentials

import (
	"net/http"
	"time"
)

// Cookie is one persisted web-session cookie.
type Cookie struct {
	Name     string    `json:"-"`
	Value    string    `json:"value"`
	Domain   string    `json:"-"`
	Path     string    `json:"-"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`
}

// CookieSet is the cookie-tier session artifact.
type CookieSet []Cookie

// DeviceAuthToken is the token-tier session artifact.
type DeviceAuthToken struct {
	AccessToken      string    `json:"access_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccountID        string    `json:"account_id"`
}

// Store persists session artifacts per account. Loads return an error wrapping
// errors.ErrNotFound both when nothing is stored and when the record is unreadable;
// callers treat either as "absent" and re-authenticate. Saves replace the previous
// artifact of the same kind as a whole.
type Store interface {
	LoadCookies(accountID string) (CookieSet, error)
	SaveCookies(accountID string, cookies CookieSet) error
	LoadDeviceToken(accountID string) (*DeviceAuthToken, error)
	SaveDeviceToken(accountID string, token *DeviceAuthToken) error
	// Clear removes every artifact of the account. It is only called by an explicit
	// account-removal action.
	Clear(accountID string) error
}

// RefreshUsable reports whether the refresh grant is worth attempting. An unknown
// refresh expiry is treated as usable; the remote service decides.
func (t *DeviceAuthToken) RefreshUsable(now time.Time) bool {
	if t == nil || t.RefreshToken == "" {
		return false
	}
	return t.RefreshExpiresAt.IsZero() || t.RefreshExpiresAt.After(now)
}

// Clone returns a deep copy so stores never share memory with callers.
func (c CookieSet) Clone() CookieSet {
	if c == nil {
		return nil
	}
	out := make(CookieSet, len(c))
	copy(out, c)
	return out
}

// HTTPCookies converts the set for use with a cookie jar or request.
func (c CookieSet) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(c))
	for _, ck := range c {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		}
		switch ck.SameSite {
		case "lax":
			hc.SameSite = http.SameSiteLaxMode
		case "strict":
			hc.SameSite = http.SameSiteStrictMode
		case "none":
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out
}

// FromHTTPCookies builds a set from cookies observed for domain. Cookies without a
// domain attribute are attributed to it.
func FromHTTPCookies(domain string, cookies []*http.Cookie) CookieSet {
	out := make(CookieSet, 0, len(cookies))
	for _, hc := range cookies {
		ck := Cookie{
			Name:     hc.Name,
			Value:    hc.Value,
			Domain:   hc.Domain,
			Path:     hc.Path,
			Expires:  hc.Expires,
			Secure:   hc.Secure,
			HTTPOnly: hc.HttpOnly,
		}
		if ck.Domain == "" {
			ck.Domain = domain
		}
		if ck.Path == "" {
			ck.Path = "/"
		}
		switch hc.SameSite {
		case http.SameSiteLaxMode:
			ck.SameSite = "lax"
		case http.SameSiteStrictMode:
			ck.SameSite = "strict"
		case http.SameSiteNoneMode:
			ck.SameSite = "none"
		}
		out = append(out, ck)
	}
	return out
}

// Merge returns c updated with newer, replacing cookies that share domain, path and name.
func (c CookieSet) Merge(newer CookieSet) CookieSet {
	type key struct{ domain, path, name string }
	index := make(map[key]int, len(c))
	out := c.Clone()
	for i, ck := range out {
		index[key{ck.Domain, ck.Path, ck.Name}] = i
	}
	for _, ck := range newer {
		k := key{ck.Domain, ck.Path, ck.Name}
		if i, ok := index[k]; ok {
			out[i] = ck
			continue
		}
		index[k] = len(out)
		out = append(out, ck)
	}
	return out
}
