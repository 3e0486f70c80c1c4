package logix

import (
	"sync"
	"time"

	"goenip/errs"
)

// MetadataCacheTTL is the default time a discovered tag's metadata is
// trusted before a lookup triggers a fresh symbol-table fetch.
const MetadataCacheTTL = 60 * time.Second

// cachedTag pairs a TagInfo with the time it was fetched.
type cachedTag struct {
	info      TagInfo
	fetchedAt time.Time
}

// MetadataCache is a write-behind cache of tag metadata keyed by tag name.
// A full controller tag listing is expensive (walks the whole symbol
// table), so GetTagMetadata serves cached entries until they age past TTL,
// only falling back to ListAllTags on a miss or expiry.
type MetadataCache struct {
	client *Client
	ttl    time.Duration

	mu    sync.Mutex
	tags  map[string]cachedTag
	udts  map[uint16]*Template
}

// NewMetadataCache builds a MetadataCache over client using the default TTL.
func NewMetadataCache(client *Client) *MetadataCache {
	return &MetadataCache{
		client: client,
		ttl:    MetadataCacheTTL,
		tags:   make(map[string]cachedTag),
		udts:   make(map[uint16]*Template),
	}
}

// WithTTL overrides the cache's default expiry and returns the same cache
// for chaining.
func (c *MetadataCache) WithTTL(ttl time.Duration) *MetadataCache {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// GetTagMetadata returns metadata for name, serving a cached entry if it is
// still within TTL. On a cache miss it refreshes the entire tag list (the
// symbol-table walk is not name-addressable) and retries the lookup once.
func (c *MetadataCache) GetTagMetadata(name string) (TagInfo, error) {
	if info, ok := c.lookup(name); ok {
		return info, nil
	}

	if err := c.Refresh(); err != nil {
		return TagInfo{}, err
	}

	if info, ok := c.lookup(name); ok {
		return info, nil
	}
	return TagInfo{}, errs.New(errs.KindTag, "tag %q not found after symbol table refresh", name)
}

func (c *MetadataCache) lookup(name string) (TagInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.tags[name]
	if !ok {
		return TagInfo{}, false
	}
	if time.Since(entry.fetchedAt) > c.ttl {
		return TagInfo{}, false
	}
	return entry.info, true
}

// Refresh forces a full re-walk of the controller's symbol table,
// replacing every cached entry's timestamp regardless of its prior age.
func (c *MetadataCache) Refresh() error {
	tags, err := c.client.AllTags()
	if err != nil {
		return err
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tags {
		c.tags[t.Name] = cachedTag{info: t, fetchedAt: now}
	}
	return nil
}

// Invalidate drops name from the cache, forcing the next GetTagMetadata
// call to re-fetch it.
func (c *MetadataCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tags, name)
}

// InvalidateAll clears the entire cache.
func (c *MetadataCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = make(map[string]cachedTag)
	c.udts = make(map[uint16]*Template)
}

// GetTemplate returns the cached UDT template for typeCode, fetching and
// caching it on first use. UDT layouts don't change while a program is
// running, so templates are cached without a TTL once fetched.
func (c *MetadataCache) GetTemplate(typeCode uint16) (*Template, error) {
	c.mu.Lock()
	if t, ok := c.udts[typeCode]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	tmpl, err := c.client.PLC().GetTemplate(typeCode)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.udts[typeCode] = tmpl
	c.mu.Unlock()
	return tmpl, nil
}
