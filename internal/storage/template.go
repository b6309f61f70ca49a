// Package storage holds the pre-synthesized audio template cache. Entries
// are written by the orchestrator before or during a call and read on
// demand; the cache is never authoritative — a miss re-synthesizes.
package storage

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// TemplateKey identifies a pre-synthesized clip. Keys must be deterministic
// across calls for the same order so repeat calls reuse work.
type TemplateKey struct {
	PhraseID string
	Language string
	Voice    string
}

func (k TemplateKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.PhraseID, k.Language, k.Voice)
}

type templateEntry struct {
	key   TemplateKey
	audio []byte
}

// TemplateCache is a byte-budgeted LRU for synthesized audio clips.
// Eviction runs on insert whenever the budget is exceeded.
type TemplateCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

func NewTemplateCache(maxBytes int64) *TemplateCache {
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &TemplateCache{
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Put stores a clip, replacing any existing entry for the key. Clips larger
// than the whole budget are refused rather than wiping the cache for one
// phrase.
func (c *TemplateCache) Put(key TemplateKey, audio []byte) {
	if int64(len(audio)) > c.maxBytes {
		logger.Base().Warn("template clip exceeds cache budget, not cached",
			zap.String("key", key.String()), zap.Int("bytes", len(audio)))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key.String()]; ok {
		old := elem.Value.(*templateEntry)
		c.curBytes -= int64(len(old.audio))
		old.audio = audio
		c.curBytes += int64(len(audio))
		c.order.MoveToFront(elem)
	} else {
		elem := c.order.PushFront(&templateEntry{key: key, audio: audio})
		c.entries[key.String()] = elem
		c.curBytes += int64(len(audio))
	}

	for c.curBytes > c.maxBytes {
		c.evictOldestLocked()
	}
}

// Get returns the clip and marks it recently used.
func (c *TemplateCache) Get(key TemplateKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*templateEntry).audio, true
}

// Len returns the number of cached clips.
func (c *TemplateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the current total payload size.
func (c *TemplateCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

func (c *TemplateCache) evictOldestLocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*templateEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key.String())
	c.curBytes -= int64(len(entry.audio))
}
