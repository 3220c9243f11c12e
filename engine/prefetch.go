package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"coffee-guru/models"
	"coffee-guru/utils"
)

// DetailSource is what the Prefetcher needs from the coordinator.
type DetailSource interface {
	Items() []models.Item
	HasDetail(ctx context.Context, name string) bool
	GetDetail(ctx context.Context, name string) *models.Detail
}

// PrefetchOptions holds the scheduler's timings.
type PrefetchOptions struct {
	Debounce  time.Duration
	Poll      time.Duration
	Stability time.Duration
	Stagger   time.Duration
}

func DefaultPrefetchOptions() PrefetchOptions {
	return PrefetchOptions{
		Debounce:  500 * time.Millisecond,
		Poll:      500 * time.Millisecond,
		Stability: 2 * time.Second,
		Stagger:   500 * time.Millisecond,
	}
}

// Prefetcher turns visibility events into at most two detail fetches once
// scrolling has been idle for the stability threshold.
//
// Each visibility event restarts a debounce timer. When it fires, a poll
// timer re-arms itself every Poll until no event has arrived for Stability,
// then the two lowest visible indices are fetched, Stagger apart.
type Prefetcher struct {
	src    DetailSource
	opts   PrefetchOptions
	logger *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	visible      map[int]struct{}
	lastActivity time.Time
	debounce     *time.Timer
	poll         *time.Timer
	stagger      *time.Timer
	gen          uint64 // bumped by every visibility event and by Reset
	epoch        uint64 // bumped by Reset only
	busy         bool
	pending      int // prefetch passes and staggered fetches not yet finished
	triggers     int
}

func NewPrefetcher(src DetailSource, opts PrefetchOptions, logger *utils.Logger) *Prefetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		src:     src,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		visible: make(map[int]struct{}),
	}
}

// Visible records that the item at index became visible and restarts the
// debounce. Indices outside the current list are recorded but schedule
// nothing.
func (p *Prefetcher) Visible(index int) {
	count := len(p.src.Items())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastActivity = time.Now()
	p.visible[index] = struct{}{}

	if index < 0 || count == 0 || index >= count {
		p.logger.Warn("[prefetch] Ignoring index %d, list has %d items", index, count)
		return
	}

	p.stopTimersLocked()
	p.gen++
	gen := p.gen
	p.debounce = time.AfterFunc(p.opts.Debounce, func() { p.startPolling(gen) })
}

// Hidden removes index from the visible set. Fetches already dispatched for
// it are not cancelled.
func (p *Prefetcher) Hidden(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.visible, index)
}

// VisibleIndices returns the visible set in ascending order.
func (p *Prefetcher) VisibleIndices() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedVisibleLocked()
}

// Triggers returns how many times scrolling was found stable.
func (p *Prefetcher) Triggers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggers
}

// Idle reports whether no prefetch pass or staggered fetch is running or
// scheduled. Debounce and poll timers do not count.
func (p *Prefetcher) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending == 0
}

// Reset clears the visible set, cancels pending timers and releases the
// busy flag. Used on memory pressure.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimersLocked()
	if p.stagger != nil {
		if p.stagger.Stop() {
			p.pending--
		}
		p.stagger = nil
	}
	p.gen++
	p.epoch++
	p.visible = make(map[int]struct{})
	p.busy = false
	p.logger.Info("[prefetch] Reset")
}

// Close resets the scheduler and cancels fetches it started.
func (p *Prefetcher) Close() {
	p.Reset()
	p.cancel()
}

func (p *Prefetcher) stopTimersLocked() {
	if p.debounce != nil {
		p.debounce.Stop()
		p.debounce = nil
	}
	if p.poll != nil {
		p.poll.Stop()
		p.poll = nil
	}
}

func (p *Prefetcher) startPolling(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.logger.Debug("[prefetch] Visible: %v", p.sortedVisibleLocked())
	p.poll = time.AfterFunc(p.opts.Poll, func() { p.check(gen) })
}

func (p *Prefetcher) check(gen uint64) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	idle := time.Since(p.lastActivity)
	if idle < p.opts.Stability {
		p.poll = time.AfterFunc(p.opts.Poll, func() { p.check(gen) })
		p.mu.Unlock()
		return
	}
	p.poll = nil
	p.triggers++
	p.pending++
	p.mu.Unlock()

	p.logger.Debug("[prefetch] Scrolling stable for %v", idle.Round(time.Millisecond))
	p.prefetchVisible()

	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

func (p *Prefetcher) prefetchVisible() {
	items := p.src.Items()

	p.mu.Lock()
	if p.busy || len(p.visible) == 0 || len(items) == 0 {
		p.mu.Unlock()
		p.logger.Debug("[prefetch] Skipped: busy, nothing visible or empty list")
		return
	}
	var targets []int
	for _, i := range p.sortedVisibleLocked() {
		if i >= 0 && i < len(items) {
			targets = append(targets, i)
		}
		if len(targets) == 2 {
			break
		}
	}
	if len(targets) == 0 {
		p.mu.Unlock()
		return
	}
	epoch := p.epoch
	if len(targets) > 1 {
		second := targets[1]
		item := items[second]
		p.pending++
		p.stagger = time.AfterFunc(p.opts.Stagger, func() {
			defer func() {
				p.mu.Lock()
				p.pending--
				p.mu.Unlock()
			}()
			p.mu.Lock()
			current := p.epoch
			p.mu.Unlock()
			if current == epoch {
				p.fetch(second, item)
			}
		})
	}
	p.mu.Unlock()

	p.fetch(targets[0], items[targets[0]])
}

// fetch loads one detail unless it is cached or another prefetch is in
// preparation.
func (p *Prefetcher) fetch(index int, item models.Item) {
	if p.src.HasDetail(p.ctx, item.Name) {
		p.logger.Debug("[prefetch] Already cached: %s [%d]", item.Name, index)
		return
	}

	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		p.logger.Debug("[prefetch] Busy, skipping %s [%d]", item.Name, index)
		return
	}
	p.busy = true
	epoch := p.epoch
	p.mu.Unlock()

	start := time.Now()
	p.logger.Info("[prefetch] Loading %s [%d]", item.Name, index)
	d := p.src.GetDetail(p.ctx, item.Name)

	p.mu.Lock()
	if epoch == p.epoch {
		p.busy = false
	}
	p.mu.Unlock()

	if d == nil {
		p.logger.Warn("[prefetch] Failed %s [%d] after %v", item.Name, index, time.Since(start).Round(time.Millisecond))
		return
	}
	p.logger.Info("[prefetch] Loaded %s [%d] in %v", item.Name, index, time.Since(start).Round(time.Millisecond))
}

func (p *Prefetcher) sortedVisibleLocked() []int {
	out := make([]int, 0, len(p.visible))
	for i := range p.visible {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
