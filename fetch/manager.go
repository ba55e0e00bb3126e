package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotConfigured means the source URL for a required artifact
	// was never set.
	ErrNotConfigured = errors.New("source URL not configured")

	// ErrNetwork means a fetch failed after exhausting retries, or
	// timed out.
	ErrNetwork = errors.New("network failure")
)

// Artifact kinds managed by the download manager. Each kind has its
// own freshness TTL and filename prefix.
type Kind int

const (
	KindSnapshot Kind = iota
	KindArchive
)

func (k Kind) ttl() time.Duration {
	if k == KindSnapshot {
		return 24 * time.Hour
	}
	return 6 * time.Hour
}

func (k Kind) prefix() string {
	if k == KindSnapshot {
		return "snapshot-"
	}
	return "archive-"
}

func (k Kind) ext() string {
	if k == KindSnapshot {
		return ".db"
	}
	return ".zip"
}

const (
	DefaultMaxAttempts   = 8
	DefaultBackoffBase   = time.Second
	DefaultBackoffCap    = 180 * time.Second
	DefaultPrimeInterval = 5 * time.Minute
)

// Manager downloads and locally persists remote schedule artifacts.
// Transfers resume from partial files, stream to disk, and are
// renamed into place only once complete. It owns the on-disk artifact
// lifecycle under Dir; nothing above it performs network I/O for
// static data.
type Manager struct {
	Dir         string
	Client      *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Logger      *log.Logger

	TimeNow func() time.Time
}

func NewManager(dir string, logger *log.Logger) *Manager {
	return &Manager{
		Dir:         dir,
		Client:      &http.Client{},
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
		Logger:      logger,
		TimeNow:     time.Now,
	}
}

// LocalPath is the deterministic on-disk location for a URL and kind.
// Repeated calls for the same URL always target the same file.
func (m *Manager) LocalPath(url string, kind Kind) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(m.Dir, kind.prefix()+hex.EncodeToString(sum[:])[:16]+kind.ext())
}

// EnsureLocal returns the path of a fresh local copy of the artifact
// at url, downloading it if the local copy is missing or stale.
func (m *Manager) EnsureLocal(ctx context.Context, url string, kind Kind) (string, error) {
	if url == "" {
		return "", ErrNotConfigured
	}

	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating scratch dir")
	}

	path := m.LocalPath(url, kind)

	// Fresh enough local copy means no network access at all.
	if fi, err := os.Stat(path); err == nil {
		if fi.Size() > 0 && m.TimeNow().Sub(fi.ModTime()) < kind.ttl() {
			return path, nil
		}
	}

	backoff := m.BackoffBase
	if backoff <= 0 {
		backoff = DefaultBackoffBase
	}
	var lastErr error
	for attempt := 0; attempt < m.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", errors.Wrap(ErrNetwork, ctx.Err().Error())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.BackoffCap {
				backoff = m.BackoffCap
			}
		}

		err := m.download(ctx, url, path)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if m.Logger != nil {
			m.Logger.Printf("download attempt %d for %s failed: %v", attempt+1, url, err)
		}
	}

	return "", errors.Wrapf(ErrNetwork, "downloading %s: %v", url, lastErr)
}

// Prime calls EnsureLocal forever at a fixed interval, logging
// failures and never surfacing them. It returns only when ctx is
// done. Intended to be run in a goroutine at process startup.
func (m *Manager) Prime(ctx context.Context, url string, kind Kind, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPrimeInterval
	}
	for {
		_, err := m.EnsureLocal(ctx, url, kind)
		if err != nil && m.Logger != nil {
			m.Logger.Printf("priming %s: %v", url, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Determines the size of the remote file. Issues a one byte ranged
// request and parses the total from Content-Range, falling back to a
// HEAD probe when the server doesn't do ranges.
func (m *Manager) remoteSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "creating probe request")
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := m.Client.Do(req)
	if err == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2))
		resp.Body.Close()
		if resp.StatusCode == http.StatusPartialContent {
			// Content-Range: bytes 0-0/12345
			cr := resp.Header.Get("Content-Range")
			if i := strings.LastIndex(cr, "/"); i >= 0 {
				total, err := strconv.ParseInt(cr[i+1:], 10, 64)
				if err == nil {
					return total, nil
				}
			}
		}
	}

	req, err = http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "creating HEAD request")
	}
	resp, err = m.Client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "probing size")
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("size probe status %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("remote size unknown")
	}
	return resp.ContentLength, nil
}

// Downloads url to path, resuming from any partial file left by a
// previous attempt. Data streams straight to disk.
func (m *Manager) download(ctx context.Context, url string, path string) error {
	part := path + ".part"

	total, err := m.remoteSize(ctx, url)
	if err != nil {
		return err
	}

	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
	}
	if offset > total {
		// Partial file can't belong to this remote. Start over.
		os.Remove(part)
		offset = 0
	}

	if offset < total {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return errors.Wrap(err, "creating request")
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := m.Client.Do(req)
		if err != nil {
			return errors.Wrap(err, "requesting")
		}
		defer resp.Body.Close()

		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		switch resp.StatusCode {
		case http.StatusPartialContent:
			// resuming at offset
		case http.StatusOK:
			// Server ignored the range. Restart from zero.
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		default:
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		f, err := os.OpenFile(part, flags, 0644)
		if err != nil {
			return errors.Wrap(err, "opening partial file")
		}
		_, err = io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			// Keep the partial file; the next attempt resumes.
			return errors.Wrap(err, "streaming body")
		}
	}

	fi, err := os.Stat(part)
	if err != nil {
		return errors.Wrap(err, "checking partial file")
	}
	if fi.Size() != total {
		return fmt.Errorf("size mismatch: got %d, want %d", fi.Size(), total)
	}

	if err := os.Rename(part, path); err != nil {
		return errors.Wrap(err, "renaming into place")
	}
	now := m.TimeNow()
	os.Chtimes(path, now, now)

	return nil
}
