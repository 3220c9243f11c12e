// Package engine combines the cache, ledger and orchestrator into the
// façade the presentation layer talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coffee-guru/models"
	"coffee-guru/network"
	"coffee-guru/services"
	"coffee-guru/upstream/zhipu"
	"coffee-guru/utils"
)

const (
	DefaultLoadMoreInterval    = 3 * time.Second
	DefaultNetworkErrorTimeout = 5 * time.Second
)

// State is a snapshot of what the presentation layer shows.
type State struct {
	Items        []models.Item
	Featured     *models.Item
	LoadingData  bool
	LoadingMore  bool
	HasMore      bool
	NetworkError bool
}

type Option func(*Coordinator)

// WithLoadMoreInterval sets the minimum gap between accepted load-more calls.
func WithLoadMoreInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.loadMoreInterval = d }
}

// WithNetworkErrorTimeout sets how long the offline flag stays raised.
func WithNetworkErrorTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.networkErrorFor = d }
}

func WithPrefetchOptions(opts PrefetchOptions) Option {
	return func(c *Coordinator) { c.prefetchOpts = opts }
}

// Coordinator serves list, featured and detail requests from the cache when
// it can and from upstream when it must. It never returns transport or
// decode errors; failures degrade to cached or empty results.
type Coordinator struct {
	orch       *network.Orchestrator
	cache      *services.Cache
	ledger     *services.Ledger
	normalizer *services.Normalizer
	prompts    *zhipu.Prompts
	prefetch   *Prefetcher
	logger     *utils.Logger

	loadMoreInterval time.Duration
	networkErrorFor  time.Duration
	prefetchOpts     PrefetchOptions

	mu           sync.Mutex
	items        []models.Item
	featured     *models.Item
	loadingData  bool
	loadingMore  bool
	hasMore      bool
	networkError bool
	refreshID    uint64
	lastLoadMore time.Time
	errorTimer   *time.Timer
}

func NewCoordinator(
	orch *network.Orchestrator,
	cache *services.Cache,
	ledger *services.Ledger,
	prompts *zhipu.Prompts,
	logger *utils.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		orch:             orch,
		cache:            cache,
		ledger:           ledger,
		normalizer:       services.NewNormalizer(logger),
		prompts:          prompts,
		logger:           logger,
		loadMoreInterval: DefaultLoadMoreInterval,
		networkErrorFor:  DefaultNetworkErrorTimeout,
		prefetchOpts:     DefaultPrefetchOptions(),
		hasMore:          true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prefetch = NewPrefetcher(c, c.prefetchOpts, logger)
	return c
}

// Run reacts to connectivity events until ctx ends.
func (c *Coordinator) Run(ctx context.Context) {
	events := c.orch.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, e)
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, e network.Event) {
	switch e {
	case network.EventOffline:
		c.raiseNetworkError()
	case network.EventOnline:
		c.mu.Lock()
		empty := len(c.items) == 0
		c.mu.Unlock()
		if empty || c.cache.IsExpired(ctx) {
			c.logger.Info("[coordinator] Back online, refreshing")
			go func() {
				c.GetFeatured(ctx, false)
				c.GetList(ctx, false)
			}()
		}
	}
}

func (c *Coordinator) raiseNetworkError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkError = true
	if c.errorTimer != nil {
		c.errorTimer.Stop()
	}
	c.errorTimer = time.AfterFunc(c.networkErrorFor, func() {
		c.mu.Lock()
		c.networkError = false
		c.mu.Unlock()
	})
}

// State returns a copy of the visible state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Items:        append([]models.Item(nil), c.items...),
		LoadingData:  c.loadingData,
		LoadingMore:  c.loadingMore,
		HasMore:      c.hasMore,
		NetworkError: c.networkError,
	}
	if c.featured != nil {
		f := *c.featured
		s.Featured = &f
	}
	return s
}

// Items returns a copy of the visible list.
func (c *Coordinator) Items() []models.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Item(nil), c.items...)
}

// GetList returns the cached list when it is valid and non-empty, otherwise
// refreshes from upstream. Only the latest refresh is applied; an older one
// finishing later is dropped.
func (c *Coordinator) GetList(ctx context.Context, refresh bool) []models.Item {
	if !refresh {
		cached, valid := c.cache.GetList(ctx)
		if len(cached) > 0 {
			c.mu.Lock()
			c.items = cached
			c.mu.Unlock()
			if valid {
				c.logger.Debug("[coordinator] Serving %d cached items", len(cached))
				return append([]models.Item(nil), cached...)
			}
			c.logger.Info("[coordinator] Cache expired, refreshing")
		}
	}

	c.mu.Lock()
	c.refreshID++
	id := c.refreshID
	c.loadingData = true
	c.mu.Unlock()

	items, err := c.fetchList(ctx, 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	if id != c.refreshID {
		c.logger.Info("[coordinator] Dropping superseded refresh %d (current %d)", id, c.refreshID)
		return append([]models.Item(nil), c.items...)
	}
	c.loadingData = false

	if err != nil || len(items) == 0 {
		if err != nil {
			c.logger.Warn("[coordinator] Refresh failed: %v", err)
		}
		if len(c.items) == 0 {
			cached, _ := c.cache.GetList(ctx)
			c.items = cached
		}
		return append([]models.Item(nil), c.items...)
	}

	c.items = items
	c.hasMore = true
	if err := c.cache.PutList(ctx, c.items); err != nil {
		c.logger.Warn("[coordinator] Caching list: %v", err)
	}
	c.logger.Info("[coordinator] Refreshed list with %d items", len(items))
	return append([]models.Item(nil), c.items...)
}

// LoadMore appends the next page. It is ignored while any load is running
// and within the minimum interval of the previous accepted call.
func (c *Coordinator) LoadMore(ctx context.Context) []models.Item {
	c.mu.Lock()
	if c.loadingData || c.loadingMore {
		c.mu.Unlock()
		c.logger.Debug("[coordinator] Load in progress, ignoring load-more")
		return c.Items()
	}
	if !c.lastLoadMore.IsZero() && time.Since(c.lastLoadMore) < c.loadMoreInterval {
		since := time.Since(c.lastLoadMore)
		c.mu.Unlock()
		c.logger.Debug("[coordinator] Load-more %v after the last one, ignoring", since.Round(time.Millisecond))
		return c.Items()
	}
	c.lastLoadMore = time.Now()
	c.loadingMore = true
	offset := len(c.items)
	c.mu.Unlock()

	if cached, _ := c.cache.GetList(ctx); len(cached) > offset {
		extra := cached[offset:]
		c.mu.Lock()
		defer c.mu.Unlock()
		c.items = append(c.items, extra...)
		c.loadingMore = false
		c.logger.Info("[coordinator] Loaded %d more items from cache", len(extra))
		return append([]models.Item(nil), c.items...)
	}

	items, err := network.Coalesce(ctx, c.orch, fmt.Sprintf("list:%d", offset), func(ctx context.Context) ([]models.Item, error) {
		page, err := c.fetchList(ctx, offset)
		if err != nil || len(page) == 0 {
			return page, err
		}
		c.cacheAppended(ctx, offset, page)
		return page, nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadingMore = false

	if err != nil {
		c.logger.Warn("[coordinator] Load-more failed: %v", err)
		return append([]models.Item(nil), c.items...)
	}
	if len(items) == 0 {
		c.hasMore = false
		c.logger.Info("[coordinator] No more items")
		return append([]models.Item(nil), c.items...)
	}

	c.items = append(c.items, items...)
	c.hasMore = true
	c.logger.Info("[coordinator] Loaded %d more items, %d total", len(items), len(c.items))
	return append([]models.Item(nil), c.items...)
}

// GetFeatured mirrors GetList for the single featured item.
func (c *Coordinator) GetFeatured(ctx context.Context, refresh bool) *models.Item {
	if !refresh {
		if cached, valid := c.cache.GetFeatured(ctx); cached != nil {
			c.mu.Lock()
			c.featured = cached
			c.mu.Unlock()
			if valid {
				return cached
			}
		}
	}

	item, err := network.Coalesce(ctx, c.orch, "featured", c.fetchFeatured)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn("[coordinator] Featured failed: %v", err)
		return c.featured
	}
	c.featured = item
	return item
}

// GetDetail returns the cached detail or fetches it once for all concurrent
// callers. Failures are not cached.
func (c *Coordinator) GetDetail(ctx context.Context, name string) *models.Detail {
	if d, ok := c.cache.GetDetail(ctx, name); ok {
		return d
	}

	d, err := network.Coalesce(ctx, c.orch, "detail:"+name, func(ctx context.Context) (*models.Detail, error) {
		return c.fetchDetail(ctx, name)
	})
	if err != nil {
		c.logger.Warn("[coordinator] Detail %q failed: %v", name, err)
		return nil
	}
	return d
}

// HasDetail reports whether name is in the detail cache.
func (c *Coordinator) HasDetail(ctx context.Context, name string) bool {
	return c.cache.HasDetail(ctx, name)
}

// ItemAppeared forwards a visibility event to the prefetch scheduler.
func (c *Coordinator) ItemAppeared(index int) {
	c.prefetch.Visible(index)
}

func (c *Coordinator) ItemDisappeared(index int) {
	c.prefetch.Hidden(index)
}

// Prefetcher exposes the scheduler for inspection.
func (c *Coordinator) Prefetcher() *Prefetcher {
	return c.prefetch
}

// HandleLowMemory drops the detail cache and resets the prefetch scheduler.
func (c *Coordinator) HandleLowMemory(ctx context.Context) {
	c.prefetch.Reset()
	if err := c.cache.ClearDetails(ctx); err != nil {
		c.logger.Warn("[coordinator] Clearing details: %v", err)
	}
	c.logger.Info("[coordinator] Low memory: details and prefetch state cleared")
}

// Insights summarises what is currently cached.
func (c *Coordinator) Insights(ctx context.Context, svc *services.InsightService) (*models.InsightReport, error) {
	items, _ := c.cache.GetList(ctx)
	featured, _ := c.cache.GetFeatured(ctx)
	details, err := c.cache.Details(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Generate(items, featured, details), nil
}

// ClearAll wipes the ledger, every cache tier, queued requests and the
// visible state.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.orch.Reset()
	c.prefetch.Reset()

	err := errors.Join(c.ledger.Clear(ctx), c.cache.Clear(ctx))

	c.mu.Lock()
	c.refreshID++
	c.items = nil
	c.featured = nil
	c.loadingData = false
	c.loadingMore = false
	c.hasMore = true
	c.lastLoadMore = time.Time{}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	c.logger.Info("[coordinator] Cleared all cached data")
	return nil
}

// Close stops timers and pending prefetches.
func (c *Coordinator) Close() {
	c.prefetch.Close()
	c.mu.Lock()
	if c.errorTimer != nil {
		c.errorTimer.Stop()
	}
	c.mu.Unlock()
}

func (c *Coordinator) fetchList(ctx context.Context, offset int) ([]models.Item, error) {
	prompt, err := c.prompts.List(offset, c.ledger.Hint(services.CategoryGeneral))
	if err != nil {
		return nil, err
	}
	raw, err := c.orch.Call(ctx, prompt.Text, prompt.Params)
	if err != nil {
		return nil, err
	}
	items, err := c.normalizer.DecodeItems(raw)
	if err != nil {
		return nil, err
	}
	c.recordSeen(ctx, services.CategoryGeneral, items...)
	return items, nil
}

func (c *Coordinator) fetchFeatured(ctx context.Context) (*models.Item, error) {
	prompt, err := c.prompts.Featured(c.ledger.Hint(services.CategoryFeatured))
	if err != nil {
		return nil, err
	}
	raw, err := c.orch.Call(ctx, prompt.Text, prompt.Params)
	if err != nil {
		return nil, err
	}
	item, err := c.normalizer.DecodeFeatured(raw)
	if err != nil {
		return nil, err
	}
	c.recordSeen(ctx, services.CategoryFeatured, item)
	if err := c.cache.PutFeatured(ctx, item); err != nil {
		c.logger.Warn("[coordinator] Caching featured: %v", err)
	}
	return &item, nil
}

func (c *Coordinator) fetchDetail(ctx context.Context, name string) (*models.Detail, error) {
	prompt, err := c.prompts.Detail(name)
	if err != nil {
		return nil, err
	}
	raw, err := c.orch.Call(ctx, prompt.Text, prompt.Params)
	if err != nil {
		return nil, err
	}
	d, err := c.normalizer.DecodeDetail(raw, name)
	if err != nil {
		return nil, err
	}
	// cached under the requested name so the next lookup hits
	d.Name = name
	if err := c.cache.PutDetail(ctx, d); err != nil {
		c.logger.Warn("[coordinator] Caching detail %q: %v", name, err)
	}
	return d, nil
}

// cacheAppended stores the visible list up to offset followed by page. It
// runs inside the shared load-more execution so the cache is written before
// any waiter sees the page.
func (c *Coordinator) cacheAppended(ctx context.Context, offset int, page []models.Item) {
	base := c.Items()
	if len(base) < offset {
		c.logger.Debug("[coordinator] List shrank below offset %d, not caching page", offset)
		return
	}
	merged := append(base[:offset:offset], page...)
	if err := c.cache.PutList(ctx, merged); err != nil {
		c.logger.Warn("[coordinator] Caching list: %v", err)
	}
}

func (c *Coordinator) recordSeen(ctx context.Context, cat services.Category, items ...models.Item) {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	if err := c.ledger.RecordSeen(ctx, cat, names...); err != nil {
		c.logger.Warn("[coordinator] Recording %s names: %v", cat, err)
	}
}
