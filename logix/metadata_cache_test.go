package logix

import (
	"testing"
	"time"
)

func TestMetadataCache_LookupHitsAndMisses(t *testing.T) {
	c := &MetadataCache{
		ttl:  MetadataCacheTTL,
		tags: make(map[string]cachedTag),
		udts: make(map[uint16]*Template),
	}
	c.tags["Counter"] = cachedTag{info: TagInfo{Name: "Counter", TypeCode: TypeDINT}, fetchedAt: time.Now()}

	info, ok := c.lookup("Counter")
	if !ok {
		t.Fatal("expected a cache hit for a freshly inserted entry")
	}
	if info.TypeCode != TypeDINT {
		t.Errorf("TypeCode = %d, want %d", info.TypeCode, TypeDINT)
	}

	if _, ok := c.lookup("Missing"); ok {
		t.Error("expected a cache miss for an absent tag")
	}
}

func TestMetadataCache_EntryExpiresPastTTL(t *testing.T) {
	c := &MetadataCache{
		ttl:  50 * time.Millisecond,
		tags: make(map[string]cachedTag),
		udts: make(map[uint16]*Template),
	}
	c.tags["Counter"] = cachedTag{
		info:      TagInfo{Name: "Counter", TypeCode: TypeDINT},
		fetchedAt: time.Now().Add(-time.Hour),
	}

	if _, ok := c.lookup("Counter"); ok {
		t.Error("expected a stale entry (TTL long since elapsed) to miss")
	}
}

func TestMetadataCache_InvalidateRemovesEntry(t *testing.T) {
	c := &MetadataCache{
		ttl:  MetadataCacheTTL,
		tags: make(map[string]cachedTag),
		udts: make(map[uint16]*Template),
	}
	c.tags["Counter"] = cachedTag{info: TagInfo{Name: "Counter"}, fetchedAt: time.Now()}

	c.Invalidate("Counter")
	if _, ok := c.lookup("Counter"); ok {
		t.Error("expected Invalidate to remove the cached entry")
	}
}

func TestMetadataCache_InvalidateAllClearsBothMaps(t *testing.T) {
	c := &MetadataCache{
		ttl:  MetadataCacheTTL,
		tags: map[string]cachedTag{"Counter": {info: TagInfo{Name: "Counter"}, fetchedAt: time.Now()}},
		udts: map[uint16]*Template{1: {}},
	}

	c.InvalidateAll()
	if len(c.tags) != 0 {
		t.Errorf("tags map len = %d, want 0", len(c.tags))
	}
	if len(c.udts) != 0 {
		t.Errorf("udts map len = %d, want 0", len(c.udts))
	}
}
