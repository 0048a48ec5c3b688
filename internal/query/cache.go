package query

import (
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ziadkadry99/fingraph/internal/telemetry"
)

// DefaultCacheSize is the number of validated queries kept.
const DefaultCacheSize = 100

// Cache maps a normalized question plus entity to its validated query.
// Entries leave only through capacity eviction.
type Cache struct {
	entries *lru.Cache[string, CandidateQuery]
}

// NewCache returns a cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, CandidateQuery](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: c}, nil
}

// Get returns a copy of the cached query for key.
func (c *Cache) Get(key string) (CandidateQuery, bool) {
	q, ok := c.entries.Get(key)
	if ok {
		telemetry.QueryCacheRequests.WithLabelValues("hit").Inc()
		return q.clone(), true
	}
	telemetry.QueryCacheRequests.WithLabelValues("miss").Inc()
	return CandidateQuery{}, false
}

// peek is Get without touching the hit/miss counters.
func (c *Cache) peek(key string) (CandidateQuery, bool) {
	q, ok := c.entries.Get(key)
	return q.clone(), ok
}

// Add stores q under key.
func (c *Cache) Add(key string, q CandidateQuery) {
	c.entries.Add(key, q.clone())
}

// Len returns the number of cached queries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// CacheKey normalizes a question for cache lookup: case, surrounding
// punctuation and whitespace runs are ignored.
func CacheKey(question, entityID string, others ...string) string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return unicode.IsSpace(r) || r == '?' || r == '!' || r == ','
	})
	for i, f := range fields {
		fields[i] = strings.Trim(f, ".")
	}
	key := strings.Join(fields, " ") + "|" + strings.ToUpper(entityID)
	if len(others) > 0 {
		key += "|" + strings.ToUpper(strings.Join(others, ","))
	}
	return key
}
