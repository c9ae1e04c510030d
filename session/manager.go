package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-store-claimer/accounts"
	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/escalation"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRetries        = 3
	defaultBackoff        = 2 * time.Second
	defaultWait           = 15 * time.Minute
	automatedApprovalWait = 2 * time.Minute
)

var metricSessions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "claimer",
	Name:      "sessions_total",
	Help:      "ensureSession outcomes by tier.",
}, []string{"tier", "outcome"})

// StoreClient is the web-session part of the store.
type StoreClient interface {
	Probe(ctx context.Context, cookies credentials.CookieSet) (*storefront.ProbeResult, error)
	ExchangeCookies(ctx context.Context, accessToken string) (credentials.CookieSet, error)
}

// Authenticator runs the token grants.
type Authenticator interface {
	Refresh(ctx context.Context, refreshToken string) (*credentials.DeviceAuthToken, error)
	StartDeviceAuth(ctx context.Context) (*oauth2.DeviceAuthResponse, error)
	PollDeviceToken(ctx context.Context, da *oauth2.DeviceAuthResponse) (*credentials.DeviceAuthToken, error)
}

// Escalator hands control to a human.
type Escalator interface {
	Request(ctx context.Context, req escalation.Request) (escalation.Payload, error)
}

// DeviceApprover approves a device login without a human, using the account's password.
type DeviceApprover interface {
	ApproveDevice(ctx context.Context, acc accounts.Account, verificationURL string) error
}

// DeadlineFunc returns the latest time a human wait started at now may last until.
type DeadlineFunc func(now time.Time) time.Time

var (
	_ StoreClient   = (*storefront.Client)(nil)
	_ Authenticator = (*storefront.OAuth)(nil)
	_ Escalator     = (*escalation.Escalator)(nil)
)

// Manager establishes sessions: saved cookies first, then the refresh token, then an
// interactive device login approved by a human. Concurrent calls for one account share
// a single attempt.
type Manager struct {
	store     credentials.Store
	client    StoreClient
	auth      Authenticator
	escalator Escalator
	approver  DeviceApprover
	inFlight  singleflight.Group
	deadline  DeadlineFunc
	retries   int
	backoff   time.Duration
	nowFunc   func() time.Time
	logger    zerolog.Logger
}

type Option func(*Manager)

func WithNowTime(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithDeviceApprover enables automated approval for accounts with a password.
func WithDeviceApprover(a DeviceApprover) Option {
	return func(m *Manager) {
		m.approver = a
	}
}

func WithEscalationDeadline(f DeadlineFunc) Option {
	return func(m *Manager) {
		m.deadline = f
	}
}

// WithTransientRetries bounds how often one tier retries a network failure.
func WithTransientRetries(retries int, backoff time.Duration) Option {
	return func(m *Manager) {
		m.retries = retries
		m.backoff = backoff
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(store credentials.Store, client StoreClient, auth Authenticator, escalator Escalator, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		client:    client,
		auth:      auth,
		escalator: escalator,
		retries:   defaultRetries,
		backoff:   defaultBackoff,
		nowFunc:   time.Now,
		logger:    zerolog.Nop(),
	}
	m.deadline = func(now time.Time) time.Time { return now.Add(defaultWait) }
	for _, opt := range opts {
		opt(m)
	}
	if m.retries < 1 {
		m.retries = 1
	}
	return m
}

// EnsureSession returns a live session for acc. A second caller for the same account
// waits for the first caller's result instead of starting its own login.
func (m *Manager) EnsureSession(ctx context.Context, acc accounts.Account) (*Handle, error) {
	v, err, _ := m.inFlight.Do(acc.ID(), func() (interface{}, error) {
		return m.establish(ctx, acc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// attempt carries one run of the state machine.
type attempt struct {
	acc    accounts.Account
	handle *Handle
	err    error
	log    zerolog.Logger
}

func (m *Manager) establish(ctx context.Context, acc accounts.Account) (*Handle, error) {
	a := &attempt{acc: acc, log: m.logger.With().Str("account", acc.ID()).Logger()}
	state := StateNoSession
	for state != StateEstablished && state != StateFailed {
		next := m.advance(ctx, a, state)
		a.log.Debug().Str("from", string(state)).Str("to", string(next)).Msg("session transition")
		state = next
	}
	if state == StateFailed {
		metricSessions.WithLabelValues("none", "failed").Inc()
		a.log.Error().Err(a.err).Msg("session failed")
		return nil, errors.Wrapf(a.err, "[Manager.EnsureSession] %s", acc.ID())
	}
	metricSessions.WithLabelValues(string(a.handle.tier), "established").Inc()
	a.log.Info().Str("tier", string(a.handle.tier)).Msg("session established")
	return a.handle, nil
}

func (m *Manager) advance(ctx context.Context, a *attempt, state State) State {
	if err := ctx.Err(); err != nil {
		a.err = err
		return StateFailed
	}
	switch state {
	case StateNoSession:
		return m.cookieTier(ctx, a)
	case StateCookieAttempted:
		return m.tokenTier(ctx, a)
	case StateTokenAttempted:
		a.log.Warn().Msg("saved credentials rejected; interactive login required")
		return StateInteractiveRequired
	case StateInteractiveRequired:
		return m.interactiveTier(ctx, a)
	default:
		a.err = fmt.Errorf("unexpected state %s", state)
		return StateFailed
	}
}

// demote decides what a tier failure means: rejections move to the next tier, network
// failures that outlived their retries end the attempt.
func demote(a *attempt, err error, next State) State {
	if apperrors.IsAuthRejected(err) {
		a.log.Info().Err(err).Str("next", string(next)).Msg("credentials rejected")
		return next
	}
	a.err = fmt.Errorf("%w: %w", apperrors.ErrSessionFailed, err)
	return StateFailed
}

func (m *Manager) cookieTier(ctx context.Context, a *attempt) State {
	cookies, err := m.store.LoadCookies(a.acc.ID())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrStoreCorrupt) {
			a.log.Warn().Err(err).Msg("saved cookies unreadable")
		}
		return StateCookieAttempted
	}
	var res *storefront.ProbeResult
	err = m.retry(ctx, a, "probe", func() error {
		var perr error
		res, perr = m.client.Probe(ctx, cookies)
		return perr
	})
	if err != nil {
		return demote(a, err, StateCookieAttempted)
	}
	if err := m.store.SaveCookies(a.acc.ID(), res.Cookies); err != nil {
		a.log.Warn().Err(err).Msg("could not save refreshed cookies")
	}
	token, _ := m.store.LoadDeviceToken(a.acc.ID())
	a.handle = m.newHandle(a.acc, TierCookie, res.Cookies, token)
	a.handle.remoteID = res.AccountID
	return StateEstablished
}

func (m *Manager) tokenTier(ctx context.Context, a *attempt) State {
	saved, err := m.store.LoadDeviceToken(a.acc.ID())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrStoreCorrupt) {
			a.log.Warn().Err(err).Msg("saved device token unreadable")
		}
		return StateTokenAttempted
	}
	if !saved.RefreshUsable(m.nowFunc()) {
		a.log.Info().Time("refreshExpiresAt", saved.RefreshExpiresAt).Msg("refresh token expired")
		return StateTokenAttempted
	}

	var fresh *credentials.DeviceAuthToken
	err = m.retry(ctx, a, "refresh", func() error {
		var rerr error
		fresh, rerr = m.auth.Refresh(ctx, saved.RefreshToken)
		return rerr
	})
	if err != nil {
		return demote(a, err, StateTokenAttempted)
	}
	if fresh.AccountID == "" {
		fresh.AccountID = saved.AccountID
	}
	if err := m.store.SaveDeviceToken(a.acc.ID(), fresh); err != nil {
		a.err = errors.Wrap(err, "save refreshed token")
		return StateFailed
	}
	return m.finishWithToken(ctx, a, fresh, TierToken, StateTokenAttempted)
}

// finishWithToken synthesizes and saves a web session from a token.
func (m *Manager) finishWithToken(ctx context.Context, a *attempt, token *credentials.DeviceAuthToken, tier Tier, onReject State) State {
	var cookies credentials.CookieSet
	err := m.retry(ctx, a, "exchange", func() error {
		var xerr error
		cookies, xerr = m.client.ExchangeCookies(ctx, token.AccessToken)
		return xerr
	})
	if err != nil {
		return demote(a, err, onReject)
	}
	if err := m.store.SaveCookies(a.acc.ID(), cookies); err != nil {
		a.err = errors.Wrap(err, "save session cookies")
		return StateFailed
	}
	a.handle = m.newHandle(a.acc, tier, cookies, token)
	return StateEstablished
}

func (m *Manager) interactiveTier(ctx context.Context, a *attempt) State {
	var da *oauth2.DeviceAuthResponse
	err := m.retry(ctx, a, "device authorization", func() error {
		var derr error
		da, derr = m.auth.StartDeviceAuth(ctx)
		return derr
	})
	if err != nil {
		a.err = fmt.Errorf("%w: %w", apperrors.ErrSessionFailed, err)
		return StateFailed
	}

	token, err := m.deviceLogin(ctx, a, da)
	if err != nil {
		a.err = err
		return StateFailed
	}
	storefront.FillFromClaims(token)
	if err := m.store.SaveDeviceToken(a.acc.ID(), token); err != nil {
		a.err = errors.Wrap(err, "save device token")
		return StateFailed
	}
	// A freshly approved token that cannot be exchanged leaves nowhere to demote to.
	return m.finishWithToken(ctx, a, token, TierInteractive, StateFailed)
}

func (m *Manager) deviceLogin(ctx context.Context, a *attempt, da *oauth2.DeviceAuthResponse) (*credentials.DeviceAuthToken, error) {
	target := da.VerificationURIComplete
	if target == "" {
		target = da.VerificationURI
	}

	if m.approver != nil && a.acc.HasPassword() {
		token, err := m.approveAutomatically(ctx, a, da, target)
		if err == nil {
			return token, nil
		}
		a.log.Warn().Err(err).Msg("automated device approval failed; asking a human")
	}

	now := m.nowFunc()
	deadline := m.deadline(now)
	if !da.Expiry.IsZero() && da.Expiry.Before(deadline) {
		deadline = da.Expiry
	}
	payload, err := m.escalator.Request(ctx, escalation.Request{
		AccountID: a.acc.ID(),
		Reason:    notify.ReasonLogin,
		Deadline:  deadline,
		Target:    target,
		Watch: func(ctx context.Context) (escalation.Payload, error) {
			token, err := m.auth.PollDeviceToken(ctx, da)
			if err != nil {
				return escalation.Payload{}, err
			}
			body, err := credentials.EncodeDeviceToken(token)
			if err != nil {
				return escalation.Payload{}, err
			}
			return escalation.Payload{Source: escalation.SourceWatcher, ContentType: "application/json", Body: body}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	token, err := credentials.DecodeDeviceToken(payload.Body)
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrSessionFailed, "login resolved without a usable token (%s): %v", payload.Source, err)
	}
	return token, nil
}

func (m *Manager) approveAutomatically(ctx context.Context, a *attempt, da *oauth2.DeviceAuthResponse, target string) (*credentials.DeviceAuthToken, error) {
	if err := m.approver.ApproveDevice(ctx, a.acc, target); err != nil {
		return nil, err
	}
	pollCtx, cancel := context.WithTimeout(ctx, automatedApprovalWait)
	defer cancel()
	return m.auth.PollDeviceToken(pollCtx, da)
}

// retry runs fn until it succeeds, fails with anything but a transient error, or runs
// out of attempts. Backoff grows linearly.
func (m *Manager) retry(ctx context.Context, a *attempt, what string, fn func() error) error {
	var err error
	for n := 1; n <= m.retries; n++ {
		if err = fn(); err == nil || !apperrors.IsTransient(err) {
			return err
		}
		if n == m.retries {
			break
		}
		a.log.Warn().Err(err).Int("attempt", n).Str("step", what).Msg("transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(n) * m.backoff):
		}
	}
	return err
}

func (m *Manager) newHandle(acc accounts.Account, tier Tier, cookies credentials.CookieSet, token *credentials.DeviceAuthToken) *Handle {
	return &Handle{
		accountID: acc.ID(),
		cookies:   cookies.Clone(),
		token:     token,
		issuedAt:  m.nowFunc(),
		tier:      tier,
	}
}
