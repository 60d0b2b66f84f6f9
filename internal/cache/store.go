package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned for keys without a stored document
var ErrNotFound = errors.New("cache entry not found")

// Entry describes a stored document
type Entry struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	Pages     int       `json:"pages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists cached documents
type Store interface {
	Lookup(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, doc []byte, pages int) (*Entry, error)
	Open(ctx context.Context, key string) (io.ReadCloser, *Entry, error)
}

// FileStore keeps documents as files below a directory and indexes them in
// SQLite.
type FileStore struct {
	dir     string
	baseURL string
	db      *sql.DB
}

// NewFileStore opens (or creates) the store in dir. baseURL prefixes the public
// URL of every blob, e.g. "http://localhost:8080/blobs".
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &FileStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		db:      db,
	}, nil
}

// Close closes the index
func (s *FileStore) Close() error {
	return s.db.Close()
}

// Lookup returns the entry of key, or ErrNotFound. Index rows whose blob went
// missing are treated as absent.
func (s *FileStore) Lookup(ctx context.Context, key string) (*Entry, error) {
	e := &Entry{Key: key}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT url, size, pages, updated_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&e.URL, &e.Size, &e.Pages, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache index: %w", err)
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, ErrNotFound
	}
	e.UpdatedAt = time.Unix(updated, 0).UTC()
	return e, nil
}

// Put writes doc atomically and upserts its index row
func (s *FileStore) Put(ctx context.Context, key string, doc []byte, pages int) (*Entry, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to publish blob: %w", err)
	}

	e := &Entry{
		Key:       key,
		URL:       s.baseURL + "/" + key,
		Size:      int64(len(doc)),
		Pages:     pages,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, url, size, pages, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET url = excluded.url, size = excluded.size,
			pages = excluded.pages, updated_at = excluded.updated_at`,
		e.Key, e.URL, e.Size, e.Pages, e.UpdatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to index blob: %w", err)
	}
	return e, nil
}

// Open returns a reader over the blob of key
func (s *FileStore) Open(ctx context.Context, key string) (io.ReadCloser, *Entry, error) {
	e, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	return f, e, nil
}

// path maps a key to a file below the store directory
func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || strings.Contains(key, "..") || clean == "/" {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(s.dir, "blobs", filepath.FromSlash(clean)), nil
}
