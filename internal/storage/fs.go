package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrInvalidLink is returned by Verify for a tampered or expired link.
var ErrInvalidLink = errors.New("invalid or expired download link")

// FSStore keeps artifacts on a filesystem. Download links point at the
// service's own /files route and are signed with a server key.
type FSStore struct {
	fs      afero.Fs
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewFSStore creates an FSStore rooted at root on the OS filesystem.
func NewFSStore(root, baseURL string, key []byte) *FSStore {
	return NewFSStoreWithFs(afero.NewBasePathFs(afero.NewOsFs(), root), baseURL, key)
}

// NewFSStoreWithFs creates an FSStore over an arbitrary afero filesystem.
func NewFSStoreWithFs(fsys afero.Fs, baseURL string, key []byte) *FSStore {
	return &FSStore{fs: fsys, baseURL: strings.TrimRight(baseURL, "/"), key: key, now: time.Now}
}

func clean(p string) (string, error) {
	c := path.Clean("/" + p)
	if c == "/" {
		return "", fmt.Errorf("empty path %q", p)
	}
	return filepath.FromSlash(c), nil
}

// Download implements BlobStore.
func (s *FSStore) Download(ctx context.Context, p string) ([]byte, error) {
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// Upload implements BlobStore.
func (s *FSStore) Upload(ctx context.Context, p string, data []byte, contentType string) error {
	name, err := clean(p)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", p, err)
	}
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// PresignGet implements BlobStore.
func (s *FSStore) PresignGet(ctx context.Context, p string, ttl time.Duration) (string, error) {
	if _, err := clean(p); err != nil {
		return "", err
	}
	exp := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("path", p)
	q.Set("expires", exp)
	q.Set("sig", s.sign(p, exp))
	return s.baseURL + "/files?" + q.Encode(), nil
}

// Verify checks the query of a link produced by PresignGet and returns the
// blob path it grants access to.
func (s *FSStore) Verify(q url.Values) (string, error) {
	p, exp, sig := q.Get("path"), q.Get("expires"), q.Get("sig")
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || p == "" {
		return "", ErrInvalidLink
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(p, exp))) || s.now().Unix() > unix {
		return "", ErrInvalidLink
	}
	return p, nil
}

func (s *FSStore) sign(p, exp string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(p + "\n" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ BlobStore = (*FSStore)(nil)
