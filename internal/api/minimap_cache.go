package api

import (
	"bytes"
	"sync"
	"time"
)

// DefaultMinimapTTL matches the engine's overview refresh at the default
// tick rate.
const DefaultMinimapTTL = 500 * time.Millisecond

// MinimapCache holds the last rendered minimap PNG. Only one render runs
// at a time; concurrent callers wait and share its result.
type MinimapCache struct {
	mu         sync.RWMutex
	png        []byte
	renderedAt time.Time
	ttl        time.Duration

	sem chan struct{}
	now func() time.Time
}

// NewMinimapCache creates a cache whose images live for ttl.
func NewMinimapCache(ttl time.Duration) *MinimapCache {
	if ttl <= 0 {
		ttl = DefaultMinimapTTL
	}
	return &MinimapCache{
		ttl: ttl,
		sem: make(chan struct{}, 1),
		now: time.Now,
	}
}

func (c *MinimapCache) fresh() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.png != nil && c.now().Sub(c.renderedAt) < c.ttl {
		return c.png
	}
	return nil
}

// Get returns the cached PNG, rendering a new one through render when it
// has expired.
func (c *MinimapCache) Get(render func(*bytes.Buffer) error) ([]byte, error) {
	if data := c.fresh(); data != nil {
		return data, nil
	}

	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	// Another caller may have rendered while we waited.
	if data := c.fresh(); data != nil {
		return data, nil
	}

	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return nil, err
	}
	data := buf.Bytes()

	c.mu.Lock()
	c.png = data
	c.renderedAt = c.now()
	c.mu.Unlock()
	return data, nil
}
