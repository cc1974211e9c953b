package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
)

type Cache struct {
	cache *cache.Cache
}

func New(defaultExpiration time.Duration) *Cache {
	if defaultExpiration <= 0 {
		defaultExpiration = 5 * time.Minute
	}
	return &Cache{
		cache: cache.New(defaultExpiration, 2*defaultExpiration),
	}
}

func (c *Cache) Get(key string) (interface{}, bool) {
	return c.cache.Get(key)
}

func (c *Cache) SetDefault(key string, value interface{}) {
	c.cache.Set(key, value, cache.DefaultExpiration)
}

func (c *Cache) Delete(key string) {
	c.cache.Delete(key)
}

// Key hashes the JSON form of parts under a readable prefix.
func Key(prefix string, parts ...interface{}) string {
	h := sha256.New()
	for _, p := range parts {
		b, err := json.Marshal(p)
		if err != nil {
			continue
		}
		h.Write(b)
		h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
