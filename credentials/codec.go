package credentials

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

// cookieTable is the on-disk cookie layout: domain -> path -> name -> attributes.
type cookieTable map[string]map[string]map[string]Cookie

// EncodeCookies renders a set in the persisted table layout.
func EncodeCookies(cookies CookieSet) ([]byte, error) {
	table := make(cookieTable)
	for _, ck := range cookies {
		paths, ok := table[ck.Domain]
		if !ok {
			paths = make(map[string]map[string]Cookie)
			table[ck.Domain] = paths
		}
		names, ok := paths[ck.Path]
		if !ok {
			names = make(map[string]Cookie)
			paths[ck.Path] = names
		}
		names[ck.Name] = ck
	}
	return json.MarshalIndent(table, "", "  ")
}

// DecodeCookies parses the table layout. Unknown attributes are ignored. Output is
// sorted by domain, path and name so results are deterministic.
func DecodeCookies(data []byte) (CookieSet, error) {
	var table cookieTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", apperrors.ErrNotFound, apperrors.ErrStoreCorrupt, err)
	}
	var out CookieSet
	for domain, paths := range table {
		for path, names := range paths {
			for name, ck := range names {
				ck.Domain, ck.Path, ck.Name = domain, path, name
				out = append(out, ck)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Name < b.Name
	})
	return out, nil
}

// EncodeDeviceToken renders a token object.
func EncodeDeviceToken(token *DeviceAuthToken) ([]byte, error) {
	return json.MarshalIndent(token, "", "  ")
}

// DecodeDeviceToken parses a token object; a record without a refresh or access token
// is treated as corrupt.
func DecodeDeviceToken(data []byte) (*DeviceAuthToken, error) {
	var token DeviceAuthToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", apperrors.ErrNotFound, apperrors.ErrStoreCorrupt, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %w: empty token record", apperrors.ErrNotFound, apperrors.ErrStoreCorrupt)
	}
	return &token, nil
}

// SafeKey maps an account identifier to a filesystem-safe, reversible name.
func SafeKey(accountID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(accountID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_', r == '@':
			b.WriteRune(r)
		default:
			for _, c := range []byte(string(r)) {
				fmt.Fprintf(&b, "%%%02X", c)
			}
		}
	}
	return b.String()
}
