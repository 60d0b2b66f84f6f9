// Package assets loads the static files a report embeds: the cover image, the
// presentation figure and the questionnaire appendix. A reference is either an
// http(s) URL or a path inside the asset directory.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultMaxSize caps any single asset
const DefaultMaxSize = 100 * 1024 * 1024

// ErrTooLarge is returned for assets above the configured size
var ErrTooLarge = errors.New("asset exceeds the maximum size")

// Loader fetches assets by reference
type Loader struct {
	guard   *PathGuard
	client  *http.Client
	maxSize int64
}

// NewLoader creates a loader for files below dir. A nil client gets a 30s timeout.
func NewLoader(dir string, client *http.Client, maxSize int64) (*Loader, error) {
	guard, err := NewPathGuard(dir)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Loader{guard: guard, client: client, maxSize: maxSize}, nil
}

// IsURL reports whether ref is fetched over HTTP
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Load returns the bytes of ref
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	if IsURL(ref) {
		return l.fetch(ctx, ref)
	}
	return l.read(ref)
}

func (l *Loader) read(ref string) ([]byte, error) {
	path, err := l.guard.Resolve(ref)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access asset: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("asset is a directory: %s", path)
	}
	if info.Size() > l.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d bytes)", ErrTooLarge, info.Size(), l.maxSize)
	}
	return os.ReadFile(path)
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid asset url: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch asset: %s returned %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, url)
	}
	return data, nil
}
