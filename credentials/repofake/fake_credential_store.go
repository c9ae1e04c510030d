package repofake

import (
	"fmt"
	"sync"

	"github.com/jrsteele09/go-store-claimer/credentials"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

// FakeStore is an in-memory credentials.Store for tests.
type FakeStore struct {
	mu      sync.RWMutex
	cookies map[string]credentials.CookieSet
	tokens  map[string]credentials.DeviceAuthToken

	SaveCookieCalls int
	SaveTokenCalls  int
}

var _ credentials.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		cookies: make(map[string]credentials.CookieSet),
		tokens:  make(map[string]credentials.DeviceAuthToken),
	}
}

func (f *FakeStore) LoadCookies(accountID string) (credentials.CookieSet, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.cookies[credentials.SafeKey(accountID)]
	if !ok {
		return nil, fmt.Errorf("cookies %s: %w", accountID, apperrors.ErrNotFound)
	}
	return c.Clone(), nil
}

func (f *FakeStore) SaveCookies(accountID string, cookies credentials.CookieSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SaveCookieCalls++
	f.cookies[credentials.SafeKey(accountID)] = cookies.Clone()
	return nil
}

func (f *FakeStore) LoadDeviceToken(accountID string) (*credentials.DeviceAuthToken, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.tokens[credentials.SafeKey(accountID)]
	if !ok {
		return nil, fmt.Errorf("device token %s: %w", accountID, apperrors.ErrNotFound)
	}
	return &t, nil
}

func (f *FakeStore) SaveDeviceToken(accountID string, token *credentials.DeviceAuthToken) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SaveTokenCalls++
	f.tokens[credentials.SafeKey(accountID)] = *token
	return nil
}

func (f *FakeStore) Clear(accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := credentials.SafeKey(accountID)
	delete(f.cookies, key)
	delete(f.tokens, key)
	return nil
}
