package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-store-claimer/accounts"
	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/credentials/filestore"
	"github.com/jrsteele09/go-store-claimer/credentials/repofake"
	"github.com/jrsteele09/go-store-claimer/escalation"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/jrsteele09/go-store-claimer/session"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testAccount = accounts.Account{Email: "player@example.com"}

type fakeClient struct {
	probe         func(credentials.CookieSet) (*storefront.ProbeResult, error)
	probeCalls    atomic.Int32
	exchangeCalls atomic.Int32
}

func (f *fakeClient) Probe(_ context.Context, cookies credentials.CookieSet) (*storefront.ProbeResult, error) {
	f.probeCalls.Add(1)
	return f.probe(cookies)
}

func (f *fakeClient) ExchangeCookies(_ context.Context, accessToken string) (credentials.CookieSet, error) {
	f.exchangeCalls.Add(1)
	return credentials.CookieSet{{Name: "EPIC_SSO", Value: "from-" + accessToken, Domain: ".epicgames.com", Path: "/"}}, nil
}

type fakeAuth struct {
	refresh     func(string) (*credentials.DeviceAuthToken, error)
	poll        func(context.Context) (*credentials.DeviceAuthToken, error)
	startGate   chan struct{}
	startCalls  atomic.Int32
	refreshCall atomic.Int32
}

func (f *fakeAuth) Refresh(_ context.Context, rt string) (*credentials.DeviceAuthToken, error) {
	f.refreshCall.Add(1)
	if f.refresh == nil {
		return nil, apperrors.ErrAuthenticationRejected
	}
	return f.refresh(rt)
}

func (f *fakeAuth) StartDeviceAuth(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	f.startCalls.Add(1)
	if f.startGate != nil {
		<-f.startGate
	}
	return &oauth2.DeviceAuthResponse{
		DeviceCode:              "dev",
		VerificationURIComplete: "https://www.epicgames.com/activate?userCode=ABCD",
		Expiry:                  time.Now().Add(10 * time.Minute),
	}, nil
}

func (f *fakeAuth) PollDeviceToken(ctx context.Context, _ *oauth2.DeviceAuthResponse) (*credentials.DeviceAuthToken, error) {
	if f.poll != nil {
		return f.poll(ctx)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeGateway struct {
	mu      sync.Mutex
	urls    []string
	onSend  func(url string)
	reasons []notify.Reason
}

func (g *fakeGateway) Deliver(_ context.Context, _ string, reason notify.Reason, url string) error {
	g.mu.Lock()
	g.urls = append(g.urls, url)
	g.reasons = append(g.reasons, reason)
	hook := g.onSend
	g.mu.Unlock()
	if hook != nil {
		go hook(url)
	}
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.urls)
}

type fixture struct {
	store     *repofake.FakeStore
	client    *fakeClient
	auth      *fakeAuth
	gateway   *fakeGateway
	escalator *escalation.Escalator
	manager   *session.Manager
}

func newFixture(t *testing.T, wait time.Duration, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   repofake.NewFakeStore(),
		client:  &fakeClient{probe: func(credentials.CookieSet) (*storefront.ProbeResult, error) { return nil, apperrors.ErrAuthenticationRejected }},
		auth:    &fakeAuth{},
		gateway: &fakeGateway{},
	}
	f.escalator = escalation.New(f.gateway, "http://claimer.local")
	opts = append([]session.Option{
		session.WithTransientRetries(3, 0),
		session.WithEscalationDeadline(func(now time.Time) time.Time { return now.Add(wait) }),
	}, opts...)
	f.manager = session.NewManager(f.store, f.client, f.auth, f.escalator, opts...)
	return f
}

func tokenOf(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func TestEnsureSession_ValidCookiesUseTierOneOnly(t *testing.T) {
	f := newFixture(t, time.Second)
	cookies := credentials.CookieSet{{Name: "EPIC_SSO", Value: "valid", Domain: ".epicgames.com", Path: "/"}}
	require.NoError(t, f.store.SaveCookies(testAccount.ID(), cookies))
	f.client.probe = func(c credentials.CookieSet) (*storefront.ProbeResult, error) {
		require.Equal(t, "valid", c[0].Value)
		return &storefront.ProbeResult{Cookies: c, AccountID: "acc-1"}, nil
	}

	h, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.NoError(t, err)
	require.Equal(t, session.TierCookie, h.Tier())
	require.Equal(t, "acc-1", h.AccountID())
	require.Zero(t, f.gateway.count())
	require.Zero(t, f.auth.refreshCall.Load())
}

func TestEnsureSession_ExpiredCookiesFallBackToRefresh(t *testing.T) {
	f := newFixture(t, time.Second)
	require.NoError(t, f.store.SaveCookies(testAccount.ID(), credentials.CookieSet{{Name: "EPIC_SSO", Value: "stale", Domain: ".epicgames.com", Path: "/"}}))
	require.NoError(t, f.store.SaveDeviceToken(testAccount.ID(), &credentials.DeviceAuthToken{
		AccessToken: "old", RefreshToken: "refresh-1", RefreshExpiresAt: time.Now().Add(24 * time.Hour), AccountID: "acc-1",
	}))
	f.auth.refresh = func(rt string) (*credentials.DeviceAuthToken, error) {
		require.Equal(t, "refresh-1", rt)
		return &credentials.DeviceAuthToken{AccessToken: "new", RefreshToken: "refresh-2"}, nil
	}

	h, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.NoError(t, err)
	require.Equal(t, session.TierToken, h.Tier())
	require.Equal(t, "new", h.AccessToken())
	require.Zero(t, f.gateway.count())

	saved, err := f.store.LoadDeviceToken(testAccount.ID())
	require.NoError(t, err)
	require.Equal(t, "refresh-2", saved.RefreshToken)
	require.Equal(t, "acc-1", saved.AccountID)

	cookies, err := f.store.LoadCookies(testAccount.ID())
	require.NoError(t, err)
	require.Equal(t, "from-new", cookies[0].Value)
}

func TestEnsureSession_ExpiredRefreshTokenSkipsGrant(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	require.NoError(t, f.store.SaveDeviceToken(testAccount.ID(), &credentials.DeviceAuthToken{
		RefreshToken: "dead", RefreshExpiresAt: time.Now().Add(-time.Hour),
	}))

	_, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.ErrorIs(t, err, apperrors.ErrEscalationTimeout)
	require.Zero(t, f.auth.refreshCall.Load())
}

func TestEnsureSession_ExhaustedTiersTimeOut(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	_, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.ErrorIs(t, err, apperrors.ErrEscalationTimeout)
	require.Equal(t, 1, f.gateway.count())
	require.Equal(t, []notify.Reason{notify.ReasonLogin}, f.gateway.reasons)
	require.Zero(t, f.escalator.PendingCount())

	_, err = f.store.LoadDeviceToken(testAccount.ID())
	require.ErrorIs(t, err, apperrors.ErrNotFound, "nothing is committed on timeout")
}

func TestEnsureSession_InteractiveResolvedByCallback(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.gateway.onSend = func(url string) {
		body := []byte(`{"access_token":"eg1~cb","refresh_token":"cb-refresh","account_id":"acc-cb","unknown":1}`)
		_ = f.escalator.Resolve(tokenOf(url), escalation.Payload{Source: escalation.SourceCallback, Body: body})
	}

	h, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.NoError(t, err)
	require.Equal(t, session.TierInteractive, h.Tier())
	require.Equal(t, "acc-cb", h.AccountID())

	saved, err := f.store.LoadDeviceToken(testAccount.ID())
	require.NoError(t, err)
	require.Equal(t, "cb-refresh", saved.RefreshToken)
}

func TestEnsureSession_InteractiveResolvedByPoller(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.auth.poll = func(context.Context) (*credentials.DeviceAuthToken, error) {
		return &credentials.DeviceAuthToken{AccessToken: "eg1~polled", RefreshToken: "p"}, nil
	}

	h, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.NoError(t, err)
	require.Equal(t, "eg1~polled", h.AccessToken())
	require.Equal(t, 1, f.gateway.count())
}

func TestEnsureSession_ConcurrentCallsShareOneEscalation(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.auth.startGate = make(chan struct{})
	f.gateway.onSend = func(url string) {
		_ = f.escalator.Resolve(tokenOf(url), escalation.Payload{Body: []byte(`{"access_token":"a","refresh_token":"r"}`)})
	}

	var wg sync.WaitGroup
	handles := make([]*session.Handle, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = f.manager.EnsureSession(context.Background(), testAccount)
		}(i)
	}
	// Give both callers time to join before the first attempt can finish.
	time.Sleep(100 * time.Millisecond)
	close(f.auth.startGate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Same(t, handles[0], handles[1])
	require.Equal(t, 1, f.gateway.count())
	require.Equal(t, int32(1), f.auth.startCalls.Load())
}

func TestEnsureSession_DifferentAccountsAreIndependent(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	other := accounts.Account{Email: "other@example.com"}
	require.NoError(t, f.store.SaveCookies(testAccount.ID(), credentials.CookieSet{{Name: "n", Value: "v", Domain: "d", Path: "/"}}))
	require.NoError(t, f.store.SaveCookies(other.ID(), credentials.CookieSet{{Name: "n", Value: "v", Domain: "d", Path: "/"}}))
	f.client.probe = func(c credentials.CookieSet) (*storefront.ProbeResult, error) {
		return &storefront.ProbeResult{Cookies: c}, nil
	}

	a, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.NoError(t, err)
	b, err := f.manager.EnsureSession(context.Background(), other)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Equal(t, int32(2), f.client.probeCalls.Load())
}

func TestEnsureSession_TransientFailuresAreBounded(t *testing.T) {
	f := newFixture(t, time.Second)
	require.NoError(t, f.store.SaveCookies(testAccount.ID(), credentials.CookieSet{{Name: "n", Value: "v", Domain: "d", Path: "/"}}))
	f.client.probe = func(credentials.CookieSet) (*storefront.ProbeResult, error) {
		return nil, apperrors.ErrTransientNetwork
	}

	_, err := f.manager.EnsureSession(context.Background(), testAccount)
	require.ErrorIs(t, err, apperrors.ErrSessionFailed)
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)
	require.Equal(t, int32(3), f.client.probeCalls.Load())
	require.Zero(t, f.gateway.count())
}

type approver struct {
	err   error
	calls atomic.Int32
}

func (a *approver) ApproveDevice(context.Context, accounts.Account, string) error {
	a.calls.Add(1)
	return a.err
}

func TestEnsureSession_AutomatedApproval(t *testing.T) {
	ap := &approver{}
	f := newFixture(t, time.Second, session.WithDeviceApprover(ap))
	f.auth.poll = func(context.Context) (*credentials.DeviceAuthToken, error) {
		return &credentials.DeviceAuthToken{AccessToken: "auto", RefreshToken: "r"}, nil
	}
	acc := accounts.Account{Email: "player@example.com", Password: "hunter2"}

	h, err := f.manager.EnsureSession(context.Background(), acc)
	require.NoError(t, err)
	require.Equal(t, "auto", h.AccessToken())
	require.Equal(t, int32(1), ap.calls.Load())
	require.Zero(t, f.gateway.count())
}

func TestEnsureSession_FailedApprovalEscalates(t *testing.T) {
	ap := &approver{err: errors.New("captcha")}
	f := newFixture(t, 50*time.Millisecond, session.WithDeviceApprover(ap))
	acc := accounts.Account{Email: "player@example.com", Password: "hunter2"}

	_, err := f.manager.EnsureSession(context.Background(), acc)
	require.ErrorIs(t, err, apperrors.ErrEscalationTimeout)
	require.Equal(t, 1, f.gateway.count())
}

func TestEnsureSession_CorruptRecordsCountAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.New(dir)
	require.NoError(t, err)
	key := credentials.SafeKey(testAccount.ID())
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+"-cookies.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+"-device-auth.json"), []byte("[]"), 0o600))

	client := &fakeClient{probe: func(credentials.CookieSet) (*storefront.ProbeResult, error) {
		t.Fatal("corrupt cookies must not be probed")
		return nil, nil
	}}
	auth := &fakeAuth{poll: func(context.Context) (*credentials.DeviceAuthToken, error) {
		return &credentials.DeviceAuthToken{AccessToken: "fresh", RefreshToken: "r"}, nil
	}}
	gw := &fakeGateway{}
	m := session.NewManager(store, client, auth, escalation.New(gw, "http://claimer.local"),
		session.WithTransientRetries(1, 0))

	h, err := m.EnsureSession(context.Background(), testAccount)
	require.NoError(t, err)
	require.Equal(t, session.TierInteractive, h.Tier())
	require.Zero(t, auth.refreshCall.Load())

	saved, err := store.LoadDeviceToken(testAccount.ID())
	require.NoError(t, err)
	require.Equal(t, "r", saved.RefreshToken)
}
