package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"lead-router/internal/routing"
)

// Active ruleset lists are read on every route attempt but only change when
// an operator edits configuration. The cache stores them under a
// generation-stamped key; invalidation bumps the generation and stale
// entries fall out on their TTL.
const (
	rulesetCacheGenKey = "rulesets:gen"
	rulesetCachePrefix = "rulesets:active:"

	defaultRulesetCacheTTL = 30 * time.Second
)

type RulesetCache struct {
	client *Client
	ttl    time.Duration
}

func NewRulesetCache(client *Client, ttl time.Duration) *RulesetCache {
	if ttl <= 0 {
		ttl = defaultRulesetCacheTTL
	}
	return &RulesetCache{client: client, ttl: ttl}
}

func (c *RulesetCache) key(ctx context.Context, trigger string) (string, error) {
	gen, err := c.client.Get(ctx, rulesetCacheGenKey)
	if err == goredis.Nil {
		gen = "0"
	} else if err != nil {
		return "", err
	}
	return rulesetCachePrefix + gen + ":" + trigger, nil
}

// Get returns the cached ruleset list for a trigger. Any error counts as a
// miss and the caller falls through to storage.
func (c *RulesetCache) Get(ctx context.Context, trigger string) ([]*routing.Ruleset, bool) {
	key, err := c.key(ctx, trigger)
	if err != nil {
		return nil, false
	}

	var rulesets []*routing.Ruleset
	if err := c.client.GetJSON(ctx, key, &rulesets); err != nil {
		return nil, false
	}
	return rulesets, true
}

// Set stores the ruleset list for a trigger. Best-effort: a failed write
// just means the next read misses.
func (c *RulesetCache) Set(ctx context.Context, trigger string, rulesets []*routing.Ruleset) {
	key, err := c.key(ctx, trigger)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, rulesets, c.ttl)
}

// Invalidate moves the cache to a fresh generation after a configuration
// change, so every trigger's list is rebuilt on next read.
func (c *RulesetCache) Invalidate(ctx context.Context) error {
	return c.client.Set(ctx, rulesetCacheGenKey, strconv.FormatInt(time.Now().UnixNano(), 10), 0)
}

var _ routing.RulesetCache = (*RulesetCache)(nil)
