package config

import (
	"fmt"
	"time"
)

// Search strategies for the free-offer catalog query.
const (
	SearchStrategyWeekly    = "weekly"
	SearchStrategyPromotion = "promotion"
	SearchStrategyAll       = "all"
)

type StoreConfig interface {
	GetStoreBaseURL() string
	GetAccountBaseURL() string
	GetOAuthBaseURL() string
	GetGraphQLURL() string
	GetFreePromotionsURL() string
	GetOAuthClientID() string
	GetOAuthClientSecret() string
	GetLocale() string
	GetCountry() string
	GetSearchStrategy() string
	GetRequestTimeout() time.Duration
}

type storeFile struct {
	StoreBaseURL      string        `yaml:"storeBaseUrl"`
	AccountBaseURL    string        `yaml:"accountBaseUrl"`
	OAuthBaseURL      string        `yaml:"oauthBaseUrl"`
	GraphQLURL        string        `yaml:"graphqlUrl"`
	FreePromotionsURL string        `yaml:"freePromotionsUrl"`
	ClientID          string        `yaml:"clientId"`
	ClientSecret      string        `yaml:"clientSecret"`
	Locale            string        `yaml:"locale"`
	Country           string        `yaml:"country"`
	SearchStrategy    string        `yaml:"searchStrategy"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
}

type Store struct {
	file storeFile
}

var _ StoreConfig = Store{}

func (s Store) GetStoreBaseURL() string {
	return GetEnv("STORE_BASE_URL", orDefault(s.file.StoreBaseURL, "https://store.epicgames.com"))
}

func (s Store) GetAccountBaseURL() string {
	return GetEnv("ACCOUNT_BASE_URL", orDefault(s.file.AccountBaseURL, "https://www.epicgames.com"))
}

func (s Store) GetOAuthBaseURL() string {
	return GetEnv("OAUTH_BASE_URL", orDefault(s.file.OAuthBaseURL, "https://account-public-service-prod.ol.epicgames.com"))
}

func (s Store) GetGraphQLURL() string {
	return GetEnv("GRAPHQL_URL", orDefault(s.file.GraphQLURL, "https://store.epicgames.com/graphql"))
}

func (s Store) GetFreePromotionsURL() string {
	return GetEnv("FREE_PROMOTIONS_URL", orDefault(s.file.FreePromotionsURL, "https://store-site-backend-static.ak.epicgames.com/freeGamesPromotions"))
}

func (s Store) GetOAuthClientID() string {
	return GetEnv("OAUTH_CLIENT_ID", s.file.ClientID)
}

func (s Store) GetOAuthClientSecret() string {
	return GetEnv("OAUTH_CLIENT_SECRET", s.file.ClientSecret)
}

func (s Store) GetLocale() string {
	return GetEnv("STORE_LOCALE", orDefault(s.file.Locale, "en-US"))
}

func (s Store) GetCountry() string {
	return GetEnv("STORE_COUNTRY", orDefault(s.file.Country, "US"))
}

func (s Store) GetSearchStrategy() string {
	return GetEnv("SEARCH_STRATEGY", orDefault(s.file.SearchStrategy, SearchStrategyAll))
}

func (s Store) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", orDefault(s.file.RequestTimeout, 30*time.Second))
}

func (s Store) validate() []string {
	var problems []string
	switch s.GetSearchStrategy() {
	case SearchStrategyWeekly, SearchStrategyPromotion, SearchStrategyAll:
	default:
		problems = append(problems, fmt.Sprintf("store.searchStrategy %q must be weekly, promotion or all", s.GetSearchStrategy()))
	}
	if s.GetOAuthClientID() == "" || s.GetOAuthClientSecret() == "" {
		problems = append(problems, "store.clientId and store.clientSecret are required")
	}
	return problems
}
