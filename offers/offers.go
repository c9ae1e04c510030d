// Package offers finds free offers an account can still claim and claims them.
package offers

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-store-claimer/accounts"
	"github.com/jrsteele09/go-store-claimer/browser"
	"github.com/jrsteele09/go-store-claimer/escalation"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	defaultFanOut      = 4
	defaultCaptchaPoll = 2 * time.Second
	defaultOwnedPoll   = 30 * time.Second
	defaultWait        = 15 * time.Minute
)

var (
	metricCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimer",
		Name:      "offer_candidates_total",
		Help:      "Free offers seen, by filter decision.",
	}, []string{"decision"})
	metricPurchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimer",
		Name:      "purchases_total",
		Help:      "Purchase attempts by outcome.",
	}, []string{"outcome"})
)

// OfferCandidate is a free offer worth checking for one account.
type OfferCandidate struct {
	Namespace string
	OfferID   string
	Title     string
	Slug      string
	Window    storefront.PromoWindow
}

// Key identifies the product the candidate belongs to.
func (c OfferCandidate) Key() string {
	if c.Slug != "" {
		return c.Slug
	}
	return c.Namespace + "/" + c.OfferID
}

// PurchaseOutcome is the terminal state of one purchase.
type PurchaseOutcome string

const (
	OutcomePurchased    PurchaseOutcome = "purchased"
	OutcomeAlreadyOwned PurchaseOutcome = "already_owned"
	// OutcomeHandedOff means a human took the purchase over from the manual help link.
	OutcomeHandedOff PurchaseOutcome = "handed_off"
	OutcomeFailed    PurchaseOutcome = "failed"
)

// Success reports whether the account ends up with, or a human took charge of, the offer.
func (o PurchaseOutcome) Success() bool {
	return o == OutcomePurchased || o == OutcomeAlreadyOwned || o == OutcomeHandedOff
}

// Catalog is the storefront surface used for offers.
type Catalog interface {
	FreeOffers(ctx context.Context, sess storefront.Session, strategy string) ([]storefront.CatalogOffer, error)
	Entitlement(ctx context.Context, sess storefront.Session, namespace, offerID string) (bool, error)
	Prerequisites(ctx context.Context, sess storefront.Session, namespace, offerID string) ([]string, error)
	PurchaseURL(namespace, offerID string) string
	ProductURL(slug string) string
}

// Escalator hands a stuck purchase to a human.
type Escalator interface {
	Request(ctx context.Context, req escalation.Request) (escalation.Payload, error)
}

var (
	_ Catalog   = (*storefront.Client)(nil)
	_ Escalator = (*escalation.Escalator)(nil)
)

// ReauthFunc re-establishes the account's session after the store reported it expired.
type ReauthFunc func(ctx context.Context) (storefront.Session, error)

// DeadlineFunc returns the latest time a human wait started at now may last until.
type DeadlineFunc func(now time.Time) time.Time

// Acquirer holds what every account's acquisition shares.
type Acquirer struct {
	catalog     Catalog
	escalator   Escalator
	opener      browser.Opener
	strategy    string
	fanOut      int
	captchaPoll time.Duration
	ownedPoll   time.Duration
	deadline    DeadlineFunc
	nowFunc     func() time.Time
	logger      zerolog.Logger
}

type Option func(*Acquirer)

func WithNowTime(now func() time.Time) Option {
	return func(a *Acquirer) {
		a.nowFunc = now
	}
}

// WithSearchStrategy selects weekly, promotion or all.
func WithSearchStrategy(strategy string) Option {
	return func(a *Acquirer) {
		a.strategy = strategy
	}
}

// WithFanOut bounds concurrent entitlement and prerequisite checks.
func WithFanOut(n int) Option {
	return func(a *Acquirer) {
		a.fanOut = n
	}
}

func WithEscalationDeadline(f DeadlineFunc) Option {
	return func(a *Acquirer) {
		a.deadline = f
	}
}

// WithPollIntervals sets how often captcha clearance and manual ownership are checked.
func WithPollIntervals(captcha, owned time.Duration) Option {
	return func(a *Acquirer) {
		a.captchaPoll = captcha
		a.ownedPoll = owned
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Acquirer) {
		a.logger = logger
	}
}

func New(catalog Catalog, escalator Escalator, opener browser.Opener, opts ...Option) *Acquirer {
	a := &Acquirer{
		catalog:     catalog,
		escalator:   escalator,
		opener:      opener,
		strategy:    config.SearchStrategyAll,
		fanOut:      defaultFanOut,
		captchaPoll: defaultCaptchaPoll,
		ownedPoll:   defaultOwnedPoll,
		nowFunc:     time.Now,
		logger:      zerolog.Nop(),
	}
	a.deadline = func(now time.Time) time.Time { return now.Add(defaultWait) }
	for _, opt := range opts {
		opt(a)
	}
	if a.fanOut < 1 {
		a.fanOut = 1
	}
	return a
}

// AccountRun is one account's acquisition within a cycle. Its steps run in order; only
// the candidate checks run concurrently.
type AccountRun struct {
	a      *Acquirer
	acc    accounts.Account
	reauth ReauthFunc
	log    zerolog.Logger

	mu      sync.Mutex
	sess    storefront.Session
	reauths int
}

// ForAccount starts a run with an established session.
func (a *Acquirer) ForAccount(acc accounts.Account, sess storefront.Session, reauth ReauthFunc) *AccountRun {
	return &AccountRun{
		a:      a,
		acc:    acc,
		sess:   sess,
		reauth: reauth,
		log:    a.logger.With().Str("account", acc.ID()).Logger(),
	}
}

// Session is the session currently in use.
func (r *AccountRun) Session() storefront.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// Reauths counts how often the session was re-established during the run.
func (r *AccountRun) Reauths() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reauths
}

// renew replaces failed with a fresh session. Callers that failed on a session someone
// else already replaced get the replacement without another login.
func (r *AccountRun) renew(ctx context.Context, failed storefront.Session) (storefront.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != failed {
		return r.sess, nil
	}
	if r.reauth == nil {
		return nil, errNoReauth
	}
	sess, err := r.reauth(ctx)
	if err != nil {
		return nil, err
	}
	r.reauths++
	r.sess = sess
	r.log.Info().Msg("session re-established after expiry")
	return sess, nil
}
