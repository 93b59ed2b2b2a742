package player

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Handle names one live view of a cached blob. Handles stay valid until
// revoked, even if the content has since been evicted.
type Handle string

// BlobCache is the content-addressable local cache consulted before a
// network fetch.
type BlobCache interface {
	Get(key string) (Handle, bool)
	Put(key string, blob []byte) Handle
	Revoke(h Handle)
	Purge()
}

// LRUCache keeps up to size blobs by content key and tracks the handles it
// has minted.
type LRUCache struct {
	content *lru.Cache[string, []byte]
	seq     atomic.Uint64

	mu   sync.Mutex
	live map[Handle][]byte
}

var _ BlobCache = (*LRUCache)(nil)

func NewLRUCache(size int) (*LRUCache, error) {
	c := &LRUCache{live: make(map[Handle][]byte)}
	content, err := lru.NewWithEvict(size, func(key string, _ []byte) {
		log.Debug().Str("module", "player").Str("key", key).Msg("blob evicted")
	})
	if err != nil {
		return nil, err
	}
	c.content = content
	return c, nil
}

func (c *LRUCache) Get(key string) (Handle, bool) {
	blob, ok := c.content.Get(key)
	if !ok {
		return "", false
	}
	return c.mint(key, blob), true
}

func (c *LRUCache) Put(key string, blob []byte) Handle {
	c.content.Add(key, blob)
	return c.mint(key, blob)
}

func (c *LRUCache) Revoke(h Handle) {
	if h == "" {
		return
	}
	c.mu.Lock()
	delete(c.live, h)
	c.mu.Unlock()
}

// Purge drops every cached blob and revokes all outstanding handles.
func (c *LRUCache) Purge() {
	c.content.Purge()
	c.mu.Lock()
	clear(c.live)
	c.mu.Unlock()
}

// Open returns the blob behind a live handle.
func (c *LRUCache) Open(h Handle) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.live[h]
	return b, ok
}

// Live is the number of handles not yet revoked.
func (c *LRUCache) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *LRUCache) mint(key string, blob []byte) Handle {
	h := Handle(fmt.Sprintf("blob:%s#%d", key, c.seq.Add(1)))
	c.mu.Lock()
	c.live[h] = blob
	c.mu.Unlock()
	return h
}
