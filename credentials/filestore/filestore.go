package filestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-store-claimer/credentials"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

const (
	cookieSuffix = "-cookies.json"
	tokenSuffix  = "-device-auth.json"
	filePerm     = 0o600
	dirPerm      = 0o700
)

// FileStore keeps one cookie file and one device-token file per account in a folder.
// Writers for a given account are serialized by the session manager's in-flight guard,
// so the store itself only guarantees that each write is atomic.
type FileStore struct {
	dir string
}

var _ credentials.Store = (*FileStore)(nil)

// New creates the folder if needed.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("[filestore New] create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) LoadCookies(accountID string) (credentials.CookieSet, error) {
	data, err := fs.read(fs.path(accountID, cookieSuffix))
	if err != nil {
		return nil, err
	}
	return credentials.DecodeCookies(data)
}

func (fs *FileStore) SaveCookies(accountID string, cookies credentials.CookieSet) error {
	data, err := credentials.EncodeCookies(cookies)
	if err != nil {
		return fmt.Errorf("[FileStore.SaveCookies] encode: %w", err)
	}
	return fs.writeAtomic(fs.path(accountID, cookieSuffix), data)
}

func (fs *FileStore) LoadDeviceToken(accountID string) (*credentials.DeviceAuthToken, error) {
	data, err := fs.read(fs.path(accountID, tokenSuffix))
	if err != nil {
		return nil, err
	}
	return credentials.DecodeDeviceToken(data)
}

func (fs *FileStore) SaveDeviceToken(accountID string, token *credentials.DeviceAuthToken) error {
	if token == nil {
		return fmt.Errorf("[FileStore.SaveDeviceToken] token cannot be nil")
	}
	data, err := credentials.EncodeDeviceToken(token)
	if err != nil {
		return fmt.Errorf("[FileStore.SaveDeviceToken] encode: %w", err)
	}
	return fs.writeAtomic(fs.path(accountID, tokenSuffix), data)
}

func (fs *FileStore) Clear(accountID string) error {
	for _, suffix := range []string{cookieSuffix, tokenSuffix} {
		if err := os.Remove(fs.path(accountID, suffix)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("[FileStore.Clear] %w", err)
		}
	}
	return nil
}

func (fs *FileStore) path(accountID, suffix string) string {
	return filepath.Join(fs.dir, credentials.SafeKey(accountID)+suffix)
}

func (fs *FileStore) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", apperrors.ErrNotFound, apperrors.ErrStoreCorrupt, err)
	}
	return data, nil
}

// writeAtomic stages the record next to its destination and renames it into place,
// so a crash leaves either the old or the new record.
func (fs *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(fs.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("[FileStore.writeAtomic] stage: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("[FileStore.writeAtomic] write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("[FileStore.writeAtomic] sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileStore.writeAtomic] close: %w", err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("[FileStore.writeAtomic] chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("[FileStore.writeAtomic] rename: %w", err)
	}
	return nil
}
