package storefront

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	tokenPath      = "/account/api/oauth/token"
	deviceAuthPath = "/account/api/oauth/deviceAuthorization"

	// Access tokens carry this prefix in front of a JWT.
	accessTokenPrefix = "eg1~"
)

// OAuth runs the refresh-token and device-authorization grants against the account
// service.
type OAuth struct {
	cfg        oauth2.Config
	clientCred clientcredentials.Config
	httpClient *http.Client
	nowFunc    func() time.Time
}

type OAuthOption func(*OAuth)

func WithOAuthNowTime(now func() time.Time) OAuthOption {
	return func(o *OAuth) {
		o.nowFunc = now
	}
}

func WithOAuthHTTPClient(client *http.Client) OAuthOption {
	return func(o *OAuth) {
		o.httpClient = client
	}
}

func NewOAuth(cfg config.StoreConfig, opts ...OAuthOption) *OAuth {
	base := strings.TrimRight(cfg.GetOAuthBaseURL(), "/")
	endpoint := oauth2.Endpoint{
		TokenURL:      base + tokenPath,
		DeviceAuthURL: base + deviceAuthPath,
		AuthStyle:     oauth2.AuthStyleInHeader,
	}
	o := &OAuth{
		cfg: oauth2.Config{
			ClientID:     cfg.GetOAuthClientID(),
			ClientSecret: cfg.GetOAuthClientSecret(),
			Endpoint:     endpoint,
		},
		clientCred: clientcredentials.Config{
			ClientID:     cfg.GetOAuthClientID(),
			ClientSecret: cfg.GetOAuthClientSecret(),
			TokenURL:     endpoint.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: &http.Client{Timeout: cfg.GetRequestTimeout()},
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OAuth) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// Refresh redeems a refresh token for a new token pair.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*credentials.DeviceAuthToken, error) {
	// An expired access token forces the token source to use the refresh grant.
	src := o.cfg.TokenSource(o.context(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       o.nowFunc().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuth("[OAuth.Refresh]", err)
	}
	return o.deviceToken(tok), nil
}

// StartDeviceAuth opens a device authorization. The request itself must carry a
// client-credentials bearer token.
func (o *OAuth) StartDeviceAuth(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	ctx = o.context(ctx)
	clientTok, err := o.clientCred.Token(ctx)
	if err != nil {
		return nil, classifyOAuth("[OAuth.StartDeviceAuth] client credentials", err)
	}
	bearer := oauth2.NewClient(ctx, oauth2.StaticTokenSource(clientTok))
	bearer.Timeout = o.httpClient.Timeout

	da, err := o.cfg.DeviceAuth(context.WithValue(ctx, oauth2.HTTPClient, bearer))
	if err != nil {
		return nil, classifyOAuth("[OAuth.StartDeviceAuth]", err)
	}
	return da, nil
}

// PollDeviceToken waits for the human to approve the device. The poll honours the
// server's interval and slow_down answers and stops at the device code expiry or when
// ctx ends, whichever is first.
func (o *OAuth) PollDeviceToken(ctx context.Context, da *oauth2.DeviceAuthResponse) (*credentials.DeviceAuthToken, error) {
	if !da.Expiry.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, da.Expiry)
		defer cancel()
	}
	tok, err := o.cfg.DeviceAccessToken(o.context(ctx), da)
	if err != nil {
		return nil, classifyOAuth("[OAuth.PollDeviceToken]", err)
	}
	return o.deviceToken(tok), nil
}

func (o *OAuth) deviceToken(tok *oauth2.Token) *credentials.DeviceAuthToken {
	out := &credentials.DeviceAuthToken{
		AccessToken:  tok.AccessToken,
		ExpiresAt:    tok.Expiry,
		RefreshToken: tok.RefreshToken,
	}
	if v, ok := tok.Extra("account_id").(string); ok {
		out.AccountID = v
	}
	if v, ok := tok.Extra("refresh_expires_at").(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.RefreshExpiresAt = t
		}
	}
	if out.RefreshExpiresAt.IsZero() {
		if secs, ok := tok.Extra("refresh_expires").(float64); ok && secs > 0 {
			out.RefreshExpiresAt = o.nowFunc().Add(time.Duration(secs) * time.Second)
		}
	}
	FillFromClaims(out)
	return out
}

// FillFromClaims completes the account id and access expiry from the access token's
// claims when the token response did not carry them. The signature is not checked;
// the claims are only used as hints.
func FillFromClaims(tok *credentials.DeviceAuthToken) {
	if tok == nil || (tok.AccountID != "" && !tok.ExpiresAt.IsZero()) {
		return
	}
	raw := strings.TrimPrefix(tok.AccessToken, accessTokenPrefix)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return
	}
	if tok.AccountID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			tok.AccountID = sub
		}
	}
	if tok.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			tok.ExpiresAt = exp.Time
		}
	}
}

func classifyOAuth(op string, err error) error {
	var re *oauth2.RetrieveError
	if apperrors.As(err, &re) && re.Response != nil {
		if re.Response.StatusCode == http.StatusTooManyRequests || re.Response.StatusCode >= 500 {
			return fmt.Errorf("%s %w: %v", op, apperrors.ErrTransientNetwork, err)
		}
		return fmt.Errorf("%s %w: %v", op, apperrors.ErrAuthenticationRejected, err)
	}
	if apperrors.Is(err, context.DeadlineExceeded) || apperrors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %w", op, err)
	}
	return fmt.Errorf("%s %w: %v", op, apperrors.ErrTransientNetwork, err)
}
