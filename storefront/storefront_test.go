package storefront_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"github.com/stretchr/testify/require"
)

type storeConfig struct {
	url string
}

func (s storeConfig) GetStoreBaseURL() string          { return s.url + "/store" }
func (s storeConfig) GetAccountBaseURL() string        { return s.url }
func (s storeConfig) GetOAuthBaseURL() string          { return s.url }
func (s storeConfig) GetGraphQLURL() string            { return s.url + "/graphql" }
func (s storeConfig) GetFreePromotionsURL() string     { return s.url + "/freeGamesPromotions" }
func (s storeConfig) GetOAuthClientID() string         { return "client" }
func (s storeConfig) GetOAuthClientSecret() string     { return "secret" }
func (s storeConfig) GetLocale() string                { return "en-US" }
func (s storeConfig) GetCountry() string               { return "US" }
func (s storeConfig) GetSearchStrategy() string        { return config.SearchStrategyAll }
func (s storeConfig) GetRequestTimeout() time.Duration { return 5 * time.Second }

type fakeSession struct {
	cookies credentials.CookieSet
	token   string
	account string
}

func (f fakeSession) Cookies() credentials.CookieSet { return f.cookies }
func (f fakeSession) AccessToken() string            { return f.token }
func (f fakeSession) AccountID() string              { return f.account }

func newServer(t *testing.T, mux *http.ServeMux) (*httptest.Server, *storefront.Client) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, storefront.New(storeConfig{url: srv.URL})
}

func TestProbe(t *testing.T) {
	status := http.StatusOK
	mux := http.NewServeMux()
	mux.HandleFunc("GET /account/v2/personal/ajaxGet", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("EPIC_SSO"); err != nil || c.Value != "sso" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch status {
		case http.StatusFound:
			http.Redirect(w, r, "/id/login", http.StatusFound)
		case http.StatusOK:
			http.SetCookie(w, &http.Cookie{Name: "EPIC_SESSION_AP", Value: "fresh", Path: "/"})
			_, _ = w.Write([]byte(`{"userInfo":{"id":{"value":"acc-1"}}}`))
		default:
			w.WriteHeader(status)
		}
	})
	srv, client := newServer(t, mux)
	host := strings.TrimPrefix(srv.URL, "http://")
	host = host[:strings.Index(host, ":")]
	cookies := credentials.CookieSet{{Name: "EPIC_SSO", Value: "sso", Domain: host, Path: "/"}}

	res, err := client.Probe(context.Background(), cookies)
	require.NoError(t, err)
	require.Equal(t, "acc-1", res.AccountID)
	require.Len(t, res.Cookies, 2)

	_, err = client.Probe(context.Background(), credentials.CookieSet{{Name: "EPIC_SSO", Value: "old", Domain: host, Path: "/"}})
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRejected)

	status = http.StatusFound
	_, err = client.Probe(context.Background(), cookies)
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRejected)

	status = http.StatusServiceUnavailable
	_, err = client.Probe(context.Background(), cookies)
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)
}

func TestExchangeCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /account/api/oauth/exchange", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer eg1~token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"code":"xchg","expiresInSeconds":300}`))
	})
	mux.HandleFunc("GET /id/exchange", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "xchg", r.URL.Query().Get("exchangeCode"))
		require.Empty(t, r.Header.Get("Authorization"))
		http.SetCookie(w, &http.Cookie{Name: "EPIC_SSO", Value: "new-sso", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "EPIC_BEARER_TOKEN", Value: "b", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	_, client := newServer(t, mux)

	cookies, err := client.ExchangeCookies(context.Background(), "eg1~token")
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	_, err = client.ExchangeCookies(context.Background(), "expired")
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRejected)
}

func element(id, slug string, discount int) map[string]interface{} {
	return map[string]interface{}{
		"title":       "Game " + id,
		"id":          id,
		"namespace":   "ns-" + id,
		"productSlug": slug,
		"price":       map[string]interface{}{"totalPrice": map[string]int{"discountPrice": discount, "originalPrice": 1999}},
		"promotions": map[string]interface{}{"promotionalOffers": []interface{}{map[string]interface{}{
			"promotionalOffers": []interface{}{map[string]interface{}{
				"startDate":       "2026-01-01T15:00:00.000Z",
				"endDate":         "2026-01-08T15:00:00.000Z",
				"discountSetting": map[string]interface{}{"discountType": "PERCENTAGE", "discountPercentage": 0},
			}},
		}}},
	}
}

func catalogBody(elements ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"Catalog": map[string]interface{}{"searchStore": map[string]interface{}{
		"elements": elements,
		"paging":   map[string]int{"count": len(elements), "total": len(elements)},
	}}}
}

func TestFreeOffers_AllToleratesOneSourceFailing(t *testing.T) {
	weeklyStatus := http.StatusInternalServerError
	searchStatus := http.StatusOK
	mux := http.NewServeMux()
	mux.HandleFunc("GET /freeGamesPromotions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "US", r.URL.Query().Get("country"))
		if weeklyStatus != http.StatusOK {
			w.WriteHeader(weeklyStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": catalogBody(element("w1", "weekly-game", 0))})
	})
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		if searchStatus != http.StatusOK {
			w.WriteHeader(searchStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": catalogBody(element("s1", "search-game", 0))})
	})
	_, client := newServer(t, mux)
	sess := fakeSession{}

	offers, err := client.FreeOffers(context.Background(), sess, config.SearchStrategyAll)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, "search-game", offers[0].Slug)
	require.Len(t, offers[0].Promotions, 1)
	require.Equal(t, 1999, offers[0].OriginalPrice)

	weeklyStatus = http.StatusOK
	offers, err = client.FreeOffers(context.Background(), sess, config.SearchStrategyAll)
	require.NoError(t, err)
	require.Len(t, offers, 2)

	searchStatus = http.StatusUnauthorized
	_, err = client.FreeOffers(context.Background(), sess, config.SearchStrategyAll)
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRejected, "a rejected session is surfaced even when the weekly feed answered")

	weeklyStatus, searchStatus = http.StatusBadGateway, http.StatusBadGateway
	_, err = client.FreeOffers(context.Background(), sess, config.SearchStrategyAll)
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)

	_, err = client.FreeOffers(context.Background(), sess, "bogus")
	require.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func graphQLServer(t *testing.T, respond func(query string, vars map[string]interface{}) string) *storefront.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = io.WriteString(w, respond(req.Query, req.Variables))
	})
	_, client := newServer(t, mux)
	return client
}

type failingTransport struct {
	calls int
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, errors.New("connection reset by peer")
}

func TestTransportFailureIsTransient(t *testing.T) {
	rt := &failingTransport{}
	client := storefront.New(storeConfig{url: "http://store.invalid"}, storefront.WithTransport(rt))

	_, err := client.WeeklyFreeOffers(context.Background())
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)
	_, err = client.Entitlement(context.Background(), fakeSession{token: "eg1~x"}, "ns", "o")
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)
	require.Equal(t, 2, rt.calls)
}

func TestEntitlementAndPrerequisites(t *testing.T) {
	client := graphQLServer(t, func(query string, vars map[string]interface{}) string {
		switch {
		case strings.Contains(query, "entitledOfferItems"):
			owned := vars["offerId"] == "owned"
			return fmt.Sprintf(`{"data":{"Launcher":{"entitledOfferItems":{"entitledToAllItemsInOffer":%t}}}}`, owned)
		case strings.Contains(query, "hasOfferPrerequisites"):
			return `{"data":{"Launcher":{"hasOfferPrerequisites":[{"offerId":"dlc","satisfiesPrerequisites":false,"missingPrerequisiteItems":["base-game"]}]}}}`
		}
		return `{"data":null,"errors":[{"message":"unknown"}]}`
	})
	sess := fakeSession{token: "eg1~x"}

	owned, err := client.Entitlement(context.Background(), sess, "ns", "owned")
	require.NoError(t, err)
	require.True(t, owned)

	owned, err = client.Entitlement(context.Background(), sess, "ns", "new")
	require.NoError(t, err)
	require.False(t, owned)

	missing, err := client.Prerequisites(context.Background(), sess, "ns", "dlc")
	require.NoError(t, err)
	require.Equal(t, []string{"base-game"}, missing)
}

func TestGraphQL_AuthenticationFailure(t *testing.T) {
	client := graphQLServer(t, func(string, map[string]interface{}) string {
		return `{"data":{"Launcher":{"entitledOfferItems":null}},"errors":[{"message":"Authentication failed","serviceResponse":"{\"errorCode\":\"errors.com.epicgames.common.authentication.authentication_failed\"}"}]}`
	})
	_, err := client.Entitlement(context.Background(), fakeSession{}, "ns", "o")
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRejected)
}

func TestEulaAccepted(t *testing.T) {
	accepted := map[string]bool{"epicgames_privacy_policy_no_table": true, "egstore": false}
	client := graphQLServer(t, func(_ string, vars map[string]interface{}) string {
		return fmt.Sprintf(`{"data":{"Eula":{"hasAccountAccepted":{"accepted":%t}}}}`, accepted[vars["eulaId"].(string)])
	})

	ok, err := client.EulaAccepted(context.Background(), fakeSession{account: "acc"})
	require.NoError(t, err)
	require.False(t, ok)

	accepted["egstore"] = true
	ok, err = client.EulaAccepted(context.Background(), fakeSession{account: "acc"})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = client.EulaAccepted(context.Background(), fakeSession{})
	require.ErrorIs(t, err, apperrors.ErrUnsupported)
}

func signedAccessToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	return "eg1~" + raw
}

func TestOAuth_Refresh(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	access := signedAccessToken(t, "acc-from-jwt", exp)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /account/api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("refresh_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer","expires_in":7200,"refresh_token":"next","refresh_expires_at":"2030-01-01T00:00:00.000Z"}`, access)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	o := storefront.NewOAuth(storeConfig{url: srv.URL})

	tok, err := o.Refresh(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "next", tok.RefreshToken)
	require.Equal(t, "acc-from-jwt", tok.AccountID)
	require.Equal(t, 2030, tok.RefreshExpiresAt.Year())

	_, err = o.Refresh(context.Background(), "revoked")
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRejected)
}

func TestOAuth_DeviceFlow(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /account/api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "client_credentials":
			_, _ = w.Write([]byte(`{"access_token":"client-token","token_type":"bearer","expires_in":3600}`))
		case "urn:ietf:params:oauth:grant-type:device_code":
			require.Equal(t, "dev-code", r.Form.Get("device_code"))
			polls++
			if polls < 2 {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"eg1~a","token_type":"bearer","expires_in":7200,"refresh_token":"r","account_id":"acc-9"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("POST /account/api/oauth/deviceAuthorization", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer client-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dev-code","user_code":"ABCD","verification_uri":"https://x/activate","verification_uri_complete":"https://x/activate?userCode=ABCD","expires_in":60,"interval":1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	o := storefront.NewOAuth(storeConfig{url: srv.URL})

	da, err := o.StartDeviceAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://x/activate?userCode=ABCD", da.VerificationURIComplete)

	tok, err := o.PollDeviceToken(context.Background(), da)
	require.NoError(t, err)
	require.Equal(t, "acc-9", tok.AccountID)
	require.Equal(t, "r", tok.RefreshToken)
	require.Equal(t, 2, polls)
}

func TestFillFromClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := &credentials.DeviceAuthToken{AccessToken: signedAccessToken(t, "acc-7", exp)}
	storefront.FillFromClaims(tok)
	require.Equal(t, "acc-7", tok.AccountID)
	require.True(t, tok.ExpiresAt.Equal(exp))

	opaque := &credentials.DeviceAuthToken{AccessToken: "not-a-jwt"}
	storefront.FillFromClaims(opaque)
	require.Empty(t, opaque.AccountID)
}

func TestURLs(t *testing.T) {
	client := storefront.New(storeConfig{url: "https://store.example"})
	require.Equal(t, "https://store.example/store/purchase?offers=1-ns-offer", client.PurchaseURL("ns", "offer"))
	require.Equal(t, "https://store.example/store/en-us/p/some-game", client.ProductURL("some-game"))
}
