package fetch

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultFeedTTL     = 5 * time.Second
	DefaultFeedTimeout = 10 * time.Second
	DefaultFeedMaxSize = 4 << 20 // 4 MB
	DefaultFeedEntries = 16
)

// Gets a URL with a timeout and size cap. Non-success statuses and
// timeouts map to ErrNetwork.
func HTTPGet(ctx context.Context, client *http.Client, url string, timeout time.Duration, maxSize int64) ([]byte, error) {
	if url == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "requesting %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrNetwork, "status %d from %s", resp.StatusCode, url)
	}

	var reader io.Reader = resp.Body
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "reading body from %s: %v", url, err)
	}

	return body, nil
}

type feedEntry struct {
	data       []byte
	expiration time.Time
}

// FeedCache absorbs bursts of realtime feed requests. Entries are
// keyed by URL, expire on a short TTL, and the cache holds at most
// MaxEntries of them, evicting the oldest inserted first.
type FeedCache struct {
	TTL        time.Duration
	Timeout    time.Duration
	MaxSize    int64
	MaxEntries int
	Client     *http.Client
	TimeNow    func() time.Time

	mutex   sync.Mutex
	entries map[string]feedEntry
	order   []string
}

func NewFeedCache() *FeedCache {
	return &FeedCache{
		TTL:        DefaultFeedTTL,
		Timeout:    DefaultFeedTimeout,
		MaxSize:    DefaultFeedMaxSize,
		MaxEntries: DefaultFeedEntries,
		Client:     &http.Client{},
		TimeNow:    time.Now,
		entries:    map[string]feedEntry{},
	}
}

func (c *FeedCache) Get(ctx context.Context, url string) ([]byte, error) {
	c.mutex.Lock()
	if entry, ok := c.entries[url]; ok && entry.expiration.After(c.TimeNow()) {
		c.mutex.Unlock()
		return entry.data, nil
	}
	c.mutex.Unlock()

	body, err := HTTPGet(ctx, c.Client, url, c.Timeout, c.MaxSize)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.entries[url]; !ok {
		for len(c.order) >= c.MaxEntries {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, url)
	}
	c.entries[url] = feedEntry{
		data:       body,
		expiration: c.TimeNow().Add(c.TTL),
	}

	return body, nil
}
