package session

import (
	"time"

	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/storefront"
)

// Tier is the login strategy that produced a session.
type Tier string

const (
	TierCookie      Tier = "cookie"
	TierToken       Tier = "token"
	TierInteractive Tier = "interactive"
)

// State is a step of the login state machine.
type State string

const (
	StateNoSession           State = "NoSession"
	StateCookieAttempted     State = "CookieAttempted"
	StateTokenAttempted      State = "TokenAttempted"
	StateInteractiveRequired State = "InteractiveRequired"
	StateEstablished         State = "Established"
	StateFailed              State = "Failed"
)

// Handle is a live session for one run. It is never persisted; the artifacts behind it
// are.
type Handle struct {
	accountID string
	remoteID  string
	cookies   credentials.CookieSet
	token     *credentials.DeviceAuthToken
	issuedAt  time.Time
	tier      Tier
}

var _ storefront.Session = (*Handle)(nil)

// Account is the configured account identifier.
func (h *Handle) Account() string {
	return h.accountID
}

// AccountID is the store's own id for the account, when known.
func (h *Handle) AccountID() string {
	if h.remoteID != "" {
		return h.remoteID
	}
	if h.token != nil {
		return h.token.AccountID
	}
	return ""
}

func (h *Handle) Cookies() credentials.CookieSet {
	return h.cookies.Clone()
}

func (h *Handle) AccessToken() string {
	if h.token == nil {
		return ""
	}
	return h.token.AccessToken
}

func (h *Handle) IssuedAt() time.Time {
	return h.issuedAt
}

func (h *Handle) Tier() Tier {
	return h.tier
}
