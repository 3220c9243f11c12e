package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"coffee-guru/models"
	"coffee-guru/storage"
	"coffee-guru/utils"
)

const (
	listKey      = "coffee_data"
	featuredKey  = "featured_coffee"
	detailPrefix = "detail:"
)

// DefaultTTL is the validity window of list and featured entries.
const DefaultTTL = 30 * time.Minute

// cacheEntry is the persisted form of every list and featured record.
type cacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// Cache is the TTL store for the list, the featured item and details.
// List and featured entries expire lazily on read; details never expire and
// are only removed by ClearDetails or Clear.
type Cache struct {
	kv     storage.KV
	ttl    time.Duration
	now    func() time.Time
	logger *utils.Logger

	mu      sync.RWMutex
	details map[string]*models.Detail
}

func NewCache(kv storage.KV, ttl time.Duration, logger *utils.Logger, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		kv:      kv,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		details: make(map[string]*models.Detail),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetList returns the accumulated list and whether it is still valid.
// An expired list is still returned so callers can fall back to it.
func (c *Cache) GetList(ctx context.Context) ([]models.Item, bool) {
	var items []models.Item
	valid, ok := c.get(ctx, listKey, &items)
	if !ok {
		return nil, false
	}
	return items, valid
}

// PutList replaces the accumulated list and restarts its TTL.
func (c *Cache) PutList(ctx context.Context, items []models.Item) error {
	return c.put(ctx, listKey, items)
}

// GetFeatured returns the featured item and whether it is still valid.
func (c *Cache) GetFeatured(ctx context.Context) (*models.Item, bool) {
	var item models.Item
	valid, ok := c.get(ctx, featuredKey, &item)
	if !ok {
		return nil, false
	}
	return &item, valid
}

func (c *Cache) PutFeatured(ctx context.Context, item models.Item) error {
	return c.put(ctx, featuredKey, item)
}

// IsExpired reports whether the list entry is missing or older than the TTL.
func (c *Cache) IsExpired(ctx context.Context) bool {
	var raw json.RawMessage
	valid, ok := c.get(ctx, listKey, &raw)
	return !ok || !valid
}

// GetDetail looks the name up in memory, then in the durable store.
func (c *Cache) GetDetail(ctx context.Context, name string) (*models.Detail, bool) {
	c.mu.RLock()
	d, ok := c.details[name]
	c.mu.RUnlock()
	if ok {
		return d, true
	}

	data, ok, err := c.kv.Get(ctx, detailPrefix+name)
	if err != nil {
		c.logger.Warn("[cache] Reading detail %q: %v", name, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var detail models.Detail
	if err := json.Unmarshal(data, &detail); err != nil {
		c.logger.Warn("[cache] Discarding unreadable detail %q: %v", name, err)
		return nil, false
	}

	c.mu.Lock()
	c.details[name] = &detail
	c.mu.Unlock()
	return &detail, true
}

// HasDetail reports whether a detail for name is cached.
func (c *Cache) HasDetail(ctx context.Context, name string) bool {
	_, ok := c.GetDetail(ctx, name)
	return ok
}

// PutDetail stores d under its name, overwriting any previous record.
func (c *Cache) PutDetail(ctx context.Context, d *models.Detail) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("cache: detail without name")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cache: marshaling detail %q: %w", d.Name, err)
	}

	c.mu.Lock()
	c.details[d.Name] = d
	c.mu.Unlock()

	if err := c.kv.Put(ctx, detailPrefix+d.Name, data); err != nil {
		return fmt.Errorf("cache: saving detail %q: %w", d.Name, err)
	}
	return nil
}

// Details returns every cached detail, ordered by name.
func (c *Cache) Details(ctx context.Context) ([]*models.Detail, error) {
	keys, err := c.kv.Keys(ctx, detailPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache: listing details: %w", err)
	}
	out := make([]*models.Detail, 0, len(keys))
	for _, k := range keys {
		if d, ok := c.GetDetail(ctx, strings.TrimPrefix(k, detailPrefix)); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// ClearDetails drops every detail from memory and from the durable store.
func (c *Cache) ClearDetails(ctx context.Context) error {
	keys, err := c.kv.Keys(ctx, detailPrefix)
	if err != nil {
		return fmt.Errorf("cache: listing details: %w", err)
	}
	for _, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("cache: deleting %s: %w", k, err)
		}
	}

	c.mu.Lock()
	c.details = make(map[string]*models.Detail)
	c.mu.Unlock()
	c.logger.Debug("[cache] Cleared %d details", len(keys))
	return nil
}

// Clear removes every tier.
func (c *Cache) Clear(ctx context.Context) error {
	for _, k := range []string{listKey, featuredKey} {
		if err := c.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("cache: deleting %s: %w", k, err)
		}
	}
	return c.ClearDetails(ctx)
}

// get decodes the payload stored under key into dst. ok is false when the
// entry is absent or unreadable; valid is false once the TTL has passed.
func (c *Cache) get(ctx context.Context, key string, dst any) (valid, ok bool) {
	data, found, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Warn("[cache] Reading %s: %v", key, err)
		return false, false
	}
	if !found {
		return false, false
	}

	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("[cache] Discarding unreadable %s: %v", key, err)
		return false, false
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		c.logger.Warn("[cache] Discarding unreadable %s payload: %v", key, err)
		return false, false
	}
	return c.now().Sub(e.Timestamp) <= c.ttl, true
}

func (c *Cache) put(ctx context.Context, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: marshaling %s: %w", key, err)
	}
	data, err := json.Marshal(cacheEntry{Payload: raw, Timestamp: c.now()})
	if err != nil {
		return fmt.Errorf("cache: marshaling %s entry: %w", key, err)
	}
	if err := c.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("cache: saving %s: %w", key, err)
	}
	return nil
}
