package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/rs/zerolog"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Session is what authenticated store calls need from a live session.
type Session interface {
	Cookies() credentials.CookieSet
	AccessToken() string
	AccountID() string
}

// Endpoints groups the remote URLs. Tests point them at httptest servers.
type Endpoints struct {
	Store          string
	Account        string
	OAuth          string
	GraphQL        string
	FreePromotions string
}

// Client talks to the storefront's web and GraphQL APIs.
type Client struct {
	endpoints Endpoints
	locale    string
	country   string
	transport http.RoundTripper
	timeout   time.Duration
	nowFunc   func() time.Time
	logger    zerolog.Logger
}

type Option func(*Client)

func WithNowTime(now func() time.Time) Option {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// EndpointsFromConfig reads every URL from the store configuration.
func EndpointsFromConfig(cfg config.StoreConfig) Endpoints {
	return Endpoints{
		Store:          strings.TrimRight(cfg.GetStoreBaseURL(), "/"),
		Account:        strings.TrimRight(cfg.GetAccountBaseURL(), "/"),
		OAuth:          strings.TrimRight(cfg.GetOAuthBaseURL(), "/"),
		GraphQL:        cfg.GetGraphQLURL(),
		FreePromotions: cfg.GetFreePromotionsURL(),
	}
}

func New(cfg config.StoreConfig, opts ...Option) *Client {
	c := &Client{
		endpoints: EndpointsFromConfig(cfg),
		locale:    cfg.GetLocale(),
		country:   cfg.GetCountry(),
		transport: http.DefaultTransport,
		timeout:   cfg.GetRequestTimeout(),
		nowFunc:   time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// exchange is one cookie-carrying conversation with the store. It replays the
// session's cookies and records every cookie the server sets along the way.
type exchange struct {
	client   *http.Client
	mu       sync.Mutex
	received credentials.CookieSet
	bearer   string
}

func (c *Client) newExchange(cookies credentials.CookieSet, bearer string) (*exchange, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	for _, ck := range cookies {
		host := strings.TrimPrefix(ck.Domain, ".")
		if host == "" {
			continue
		}
		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, []*http.Cookie{{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: ck.Domain,
			Path:   ck.Path,
		}})
	}
	ex := &exchange{bearer: bearer}
	ex.client = &http.Client{
		Jar:       jar,
		Timeout:   c.timeout,
		Transport: &recordingTransport{base: c.transport, ex: ex},
	}
	return ex, nil
}

func (ex *exchange) cookies() credentials.CookieSet {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.received.Clone()
}

type recordingTransport struct {
	base http.RoundTripper
	ex   *exchange
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	if t.ex.bearer != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "bearer "+t.ex.bearer)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if set := resp.Cookies(); len(set) > 0 {
		t.ex.mu.Lock()
		t.ex.received = t.ex.received.Merge(credentials.FromHTTPCookies(req.URL.Hostname(), set))
		t.ex.mu.Unlock()
	}
	return resp, nil
}

// mergeCookies applies cookies the server set during a call, dropping the ones it
// expired.
func mergeCookies(old, received credentials.CookieSet, now time.Time) credentials.CookieSet {
	merged := old.Merge(received)
	out := merged[:0]
	for _, ck := range merged {
		if !ck.Expires.IsZero() && ck.Expires.Before(now) {
			continue
		}
		out = append(out, ck)
	}
	return out
}

// classify maps transport failures and status codes onto the error taxonomy.
func classify(op string, resp *http.Response, err error) error {
	if err != nil {
		if apperrors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, apperrors.ErrTransientNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w: status %d", op, apperrors.ErrAuthenticationRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: status %d", op, apperrors.ErrTransientNetwork, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s: status %d", op, resp.StatusCode)
	}
	return nil
}

// getJSON issues a GET and decodes a 2xx body into out.
func (ex *exchange) getJSON(ctx context.Context, op, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	return ex.doJSON(req, op, out)
}

func (ex *exchange) doJSON(req *http.Request, op string, out interface{}) error {
	resp, err := ex.client.Do(req)
	if err := classify(op, resp, err); err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck
		}
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
