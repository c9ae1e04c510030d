package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-store-claimer/credentials"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	_ "modernc.org/sqlite"
)

const (
	kindCookies     = "cookies"
	kindDeviceToken = "device_auth"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	account_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	body       BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, kind)
)`

// Store keeps credential records in a single SQLite table. Each record holds the same
// encoding the file store writes, so the two backends are interchangeable.
type Store struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var _ credentials.Store = (*Store)(nil)

type Option func(*Store)

func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// Open creates the database file (private permissions) and the schema when missing.
func Open(dsn string, opts ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("[sqlitestore Open] dsn cannot be empty")
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("[sqlitestore Open] create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("[sqlitestore Open] open: %w", err)
	}
	// One writer at a time; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("[sqlitestore Open] %s: %w", strings.Fields(stmt)[0], err)
		}
	}

	s := &Store{db: db, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadCookies(accountID string) (credentials.CookieSet, error) {
	body, err := s.load(accountID, kindCookies)
	if err != nil {
		return nil, err
	}
	return credentials.DecodeCookies(body)
}

func (s *Store) SaveCookies(accountID string, cookies credentials.CookieSet) error {
	body, err := credentials.EncodeCookies(cookies)
	if err != nil {
		return fmt.Errorf("[Store.SaveCookies] encode: %w", err)
	}
	return s.save(accountID, kindCookies, body)
}

func (s *Store) LoadDeviceToken(accountID string) (*credentials.DeviceAuthToken, error) {
	body, err := s.load(accountID, kindDeviceToken)
	if err != nil {
		return nil, err
	}
	return credentials.DecodeDeviceToken(body)
}

func (s *Store) SaveDeviceToken(accountID string, token *credentials.DeviceAuthToken) error {
	if token == nil {
		return fmt.Errorf("[Store.SaveDeviceToken] token cannot be nil")
	}
	body, err := credentials.EncodeDeviceToken(token)
	if err != nil {
		return fmt.Errorf("[Store.SaveDeviceToken] encode: %w", err)
	}
	return s.save(accountID, kindDeviceToken, body)
}

func (s *Store) Clear(accountID string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE account_id = ?`, credentials.SafeKey(accountID)); err != nil {
		return fmt.Errorf("[Store.Clear] %w", err)
	}
	return nil
}

func (s *Store) load(accountID, kind string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRow(
		`SELECT body FROM credentials WHERE account_id = ? AND kind = ?`,
		credentials.SafeKey(accountID), kind,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, accountID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", apperrors.ErrNotFound, apperrors.ErrStoreCorrupt, err)
	}
	return body, nil
}

// save replaces the whole record in one statement.
func (s *Store) save(accountID, kind string, body []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (account_id, kind, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, kind) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		credentials.SafeKey(accountID), kind, body, s.nowFunc().Unix(),
	)
	if err != nil {
		return fmt.Errorf("[Store.save] %s: %w", kind, err)
	}
	return nil
}
