// Package modelstore keeps serialized model artifacts in a local cache
// directory, fetching them from a remote source the first time they are
// needed.
//
// An artifact is identified only by its file name inside the cache. When an
// expected SHA-256 digest is configured, a cached file whose digest differs is
// fetched again, and a freshly fetched file that still differs is rejected.
// Without a digest a cached file is reused as-is.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoSource is returned when an artifact is not cached and has no URL.
	ErrNoSource = errors.New("modelstore: artifact not cached and no source configured")
	// ErrChecksumMismatch is returned when a fetched artifact fails verification.
	ErrChecksumMismatch = errors.New("modelstore: checksum mismatch")
	// ErrUnsupportedScheme is returned for source URLs no fetcher handles.
	ErrUnsupportedScheme = errors.New("modelstore: unsupported source scheme")
)

// Artifact describes one model file.
type Artifact struct {
	Name   string // used in logs only
	URL    string
	File   string // base name inside the cache directory
	SHA256 string // optional, hex encoded
}

// Fetcher copies the content behind src into w.
type Fetcher interface {
	Fetch(ctx context.Context, src *url.URL, w io.Writer) error
}

// Store resolves artifacts to files in a cache directory.
type Store struct {
	dir      string
	fetchers map[string]Fetcher
}

// New creates a Store rooted at dir with fetchers for http, https and file
// sources. The directory is created if missing.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	httpFetcher := NewHTTPFetcher(nil)
	return &Store{
		dir: abs,
		fetchers: map[string]Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
			"file":  FileFetcher{},
		},
	}, nil
}

// Register installs f for URLs with the given scheme, replacing any
// existing fetcher.
func (s *Store) Register(scheme string, f Fetcher) {
	s.fetchers[strings.ToLower(scheme)] = f
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where a is cached.
func (s *Store) Path(a Artifact) string {
	return filepath.Join(s.dir, a.File)
}

// Ensure makes sure a is present (and verified, if a digest is set) in the
// cache and returns its path.
func (s *Store) Ensure(ctx context.Context, a Artifact) (string, error) {
	if a.File == "" || a.File != filepath.Base(a.File) || a.File == "." || a.File == ".." {
		return "", fmt.Errorf("modelstore: invalid artifact file name %q", a.File)
	}
	path := s.Path(a)

	ok, err := s.cached(path, a.SHA256)
	if err != nil {
		return "", err
	}
	if ok {
		log.Info().Str("model", a.Name).Str("path", path).Msg("model already cached")
		return path, nil
	}

	if a.URL == "" {
		return "", fmt.Errorf("%s: %w", a.Name, ErrNoSource)
	}
	if err := s.fetch(ctx, a, path); err != nil {
		return "", fmt.Errorf("fetch %s: %w", a.Name, err)
	}
	return path, nil
}

// cached reports whether path exists and matches want (when set).
func (s *Store) cached(path, want string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if want == "" {
		return true, nil
	}
	got, err := FileDigest(path)
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(got, want) {
		log.Warn().Str("path", path).Str("want", want).Str("got", got).Msg("cached model digest mismatch, refetching")
		return false, nil
	}
	return true, nil
}

func (s *Store) fetch(ctx context.Context, a Artifact, path string) error {
	src, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	f, ok := s.fetchers[strings.ToLower(src.Scheme)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, src.Scheme)
	}

	log.Info().Str("model", a.Name).Str("url", a.URL).Msg("downloading model")
	start := time.Now()

	tmpPath := path + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(out, h)}

	if err := f.Fetch(ctx, src, cw); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if a.SHA256 != "" && !strings.EqualFold(got, a.SHA256) {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, a.SHA256, got)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}

	log.Info().
		Str("model", a.Name).
		Str("path", path).
		Int64("bytes", cw.n).
		Str("sha256", got).
		Dur("took", time.Since(start)).
		Msg("model downloaded")
	return nil
}

// FileDigest returns the hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
