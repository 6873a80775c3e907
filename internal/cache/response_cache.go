// Package cache is the response cache in front of the orchestrator: an
// external store backed by Redis with an in-process fallback, TTL scaled by
// answer quality and a secondary keyword-similarity lookup.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/textutil"
)

// Entry is one cached ensemble result. Read-only after creation.
type Entry struct {
	Fingerprint string                 `json:"fingerprint"`
	Tier        models.Tier            `json:"tier"`
	Prompt      string                 `json:"prompt"`
	Result      *models.EnsembleResult `json:"result"`
	CreatedAt   time.Time              `json:"created_at"`
	TTL         time.Duration          `json:"ttl"`
	Popularity  int64                  `json:"popularity"`
}

// Expired reports whether the entry's age exceeds its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// HitKind distinguishes how a lookup matched.
type HitKind string

const (
	HitExact    HitKind = "exact"
	HitSemantic HitKind = "semantic"
)

type localEntry struct {
	entry   *Entry
	keySet  map[string]struct{}
	element *list.Element
}

// ResponseCache maps (tier, normalized prompt) fingerprints to prior ensemble
// results. Redis is the primary store; the local map doubles as fallback and
// as the index for semantic lookups.
type ResponseCache struct {
	config config.CacheConfig
	redis  *RedisClient
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]*localEntry
	lru     *list.List // front = most recently used

	redisHealthy bool
}

// NewResponseCache creates the cache. redis may be nil for memory-only mode.
func NewResponseCache(cfg config.CacheConfig, redis *RedisClient, logger *logrus.Logger) *ResponseCache {
	if cfg.LocalCapacity <= 0 {
		cfg.LocalCapacity = 1000
	}
	c := &ResponseCache{
		config:       cfg,
		redis:        redis,
		logger:       logger,
		entries:      make(map[string]*localEntry),
		lru:          list.New(),
		redisHealthy: redis != nil,
	}
	return c
}

// Fingerprint derives the cache key from tier and normalized prompt.
func Fingerprint(tier models.Tier, prompt string) string {
	h := sha256.Sum256([]byte(string(tier) + "\x00" + textutil.NormalizePrompt(prompt)))
	return hex.EncodeToString(h[:])
}

// TTLFor scales the TTL by the answer's quality score within [MinTTL, MaxTTL]
// around BaseTTL.
func (c *ResponseCache) TTLFor(quality float64) time.Duration {
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	span := float64(c.config.MaxTTL - c.config.MinTTL)
	ttl := c.config.MinTTL + time.Duration(quality*span)
	if ttl <= 0 {
		return c.config.BaseTTL
	}
	return ttl
}

// Get looks up a prior result: exact fingerprint first against Redis, then
// the local map, then the semantic similarity index. Expired entries are
// never returned.
func (c *ResponseCache) Get(ctx context.Context, tier models.Tier, prompt string) (*models.EnsembleResult, HitKind, bool) {
	fp := Fingerprint(tier, prompt)
	now := time.Now()

	if c.redis != nil {
		var entry Entry
		err := c.redis.Get(ctx, redisKey(fp), &entry)
		switch {
		case err == nil:
			if !entry.Expired(now) && entry.Result != nil {
				c.touch(fp)
				return entry.Result, HitExact, true
			}
		case IsMiss(err):
			// fall through to local
		default:
			c.markRedisDown(err)
		}
	}

	c.lock()
	le, ok := c.entries[fp]
	if ok && !le.entry.Expired(now) {
		c.promote(le)
		le.entry.Popularity++
		result := le.entry.Result
		c.unlock()
		return result, HitExact, true
	}
	if ok {
		c.removeLocked(fp, le)
	}

	if c.config.SemanticEnabled {
		if result := c.semanticLookupLocked(tier, prompt, now); result != nil {
			c.unlock()
			return result, HitSemantic, true
		}
	}
	c.unlock()
	return nil, "", false
}

// Put stores a result under the prompt's fingerprint with a quality-scaled
// TTL. Redis write failures degrade to memory-only.
func (c *ResponseCache) Put(ctx context.Context, tier models.Tier, prompt string, result *models.EnsembleResult, quality float64) {
	fp := Fingerprint(tier, prompt)
	entry := &Entry{
		Fingerprint: fp,
		Tier:        tier,
		Prompt:      textutil.NormalizePrompt(prompt),
		Result:      result,
		CreatedAt:   time.Now(),
		TTL:         c.TTLFor(quality),
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, redisKey(fp), entry, entry.TTL); err != nil {
			c.markRedisDown(err)
		}
	}

	le := &localEntry{
		entry:  entry,
		keySet: textutil.WordSet(textutil.ContentWords(entry.Prompt)),
	}

	c.lock()
	if prev, ok := c.entries[fp]; ok {
		c.removeLocked(fp, prev)
	}
	le.element = c.lru.PushFront(fp)
	c.entries[fp] = le
	for c.lru.Len() > c.config.LocalCapacity {
		c.evictLocked()
	}
	c.unlock()
}

// Cleanup drops expired local entries. Called on a timer by the background
// supervisor; Redis expires its own keys.
func (c *ResponseCache) Cleanup() int {
	now := time.Now()
	removed := 0
	c.lock()
	for fp, le := range c.entries {
		if le.entry.Expired(now) {
			c.removeLocked(fp, le)
			removed++
		}
	}
	c.unlock()
	if removed > 0 && c.logger != nil {
		c.logger.WithField("removed", removed).Debug("cache cleanup")
	}
	return removed
}

// Len returns the local entry count.
func (c *ResponseCache) Len() int {
	c.lock()
	defer c.unlock()
	return len(c.entries)
}

// RedisHealthy reports whether the external store was reachable on the last
// operation that used it.
func (c *ResponseCache) RedisHealthy() bool {
	c.lock()
	defer c.unlock()
	return c.redisHealthy
}

// semanticLookupLocked scans local entries for a keyword-set Jaccard match.
// The threshold adapts upward for very short prompts, where keyword overlap
// is noisy.
func (c *ResponseCache) semanticLookupLocked(tier models.Tier, prompt string, now time.Time) *models.EnsembleResult {
	keySet := textutil.WordSet(textutil.ContentWords(textutil.NormalizePrompt(prompt)))
	if len(keySet) == 0 {
		return nil
	}
	threshold := c.config.SimilarityThreshold
	if len(keySet) < 4 {
		threshold = (threshold + 1.0) / 2
	}

	var best *localEntry
	bestSim := threshold
	for _, le := range c.entries {
		if le.entry.Tier != tier || le.entry.Expired(now) {
			continue
		}
		if sim := textutil.Jaccard(keySet, le.keySet); sim >= bestSim {
			best, bestSim = le, sim
		}
	}
	if best == nil {
		return nil
	}
	c.promote(best)
	best.entry.Popularity++
	return best.entry.Result
}

// evictLocked removes the least valuable entry: recency order adjusted by
// popularity, so a frequently-hit entry survives one sweep from the tail.
func (c *ResponseCache) evictLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	fp := back.Value.(string)
	le := c.entries[fp]
	if le != nil && le.entry.Popularity > 0 {
		le.entry.Popularity /= 2
		c.lru.MoveToFront(back)
		back = c.lru.Back()
		if back == nil {
			return
		}
		fp = back.Value.(string)
		le = c.entries[fp]
	}
	if le != nil {
		c.removeLocked(fp, le)
	}
}

func (c *ResponseCache) removeLocked(fp string, le *localEntry) {
	if le.element != nil {
		c.lru.Remove(le.element)
	}
	delete(c.entries, fp)
}

func (c *ResponseCache) touch(fp string) {
	c.lock()
	if le, ok := c.entries[fp]; ok {
		c.promote(le)
		le.entry.Popularity++
	}
	c.unlock()
}

func (c *ResponseCache) promote(le *localEntry) {
	if le.element != nil {
		c.lru.MoveToFront(le.element)
	}
}

func (c *ResponseCache) markRedisDown(err error) {
	c.lock()
	wasHealthy := c.redisHealthy
	c.redisHealthy = false
	c.unlock()
	if wasHealthy && c.logger != nil {
		c.logger.WithError(err).Warn("cache store unavailable, degrading to memory-only")
	}
}

func (c *ResponseCache) lock()   { c.mu.Lock() }
func (c *ResponseCache) unlock() { c.mu.Unlock() }

func redisKey(fingerprint string) string {
	return "responseCache/" + fingerprint
}
