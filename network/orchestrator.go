package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"coffee-guru/utils"
)

// Completer issues one physical completion call and returns the raw body.
type Completer interface {
	Complete(ctx context.Context, prompt string, params map[string]any) (string, error)
}

type Option func(*Orchestrator)

// WithRetry sets the total attempts and the fixed delay between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *Orchestrator) {
		o.attempts = attempts
		o.delay = delay
	}
}

// WithDrain sets the worker count and pacing used when replaying the
// offline queue.
func WithDrain(workers, rateLimitMs int) Option {
	return func(o *Orchestrator) {
		o.workers = workers
		o.rateLimitMs = rateLimitMs
	}
}

// WithMeter injects the meter used for orchestrator counters.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) {
		o.metrics = newOrchestratorMetrics(m)
	}
}

type callResult struct {
	raw string
	err error
}

type queuedCall struct {
	id        string
	ctx       context.Context
	prompt    string
	params    map[string]any
	done      chan callResult
	abandoned atomic.Bool
}

// Orchestrator owns connectivity state, the offline queue, per-call retry
// and per-key coalescing.
type Orchestrator struct {
	completer Completer
	logger    *utils.Logger
	coalescer *Coalescer
	events    broadcaster
	metrics   orchestratorMetrics
	retry     *utils.RetryConfig

	attempts    int
	delay       time.Duration
	workers     int
	rateLimitMs int

	mu       sync.Mutex
	online   bool
	queue    []*queuedCall
	draining bool
}

// NewOrchestrator starts in the online state.
func NewOrchestrator(completer Completer, logger *utils.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completer: completer,
		logger:    logger,
		coalescer: NewCoalescer(),
		metrics:   newOrchestratorMetrics(metricnoop.NewMeterProvider().Meter(meterName)),
		attempts:  3,
		delay:     time.Second,
		workers:   2,
		online:    true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	o.retry = &utils.RetryConfig{
		MaxAttempts: o.attempts,
		Delay:       o.delay,
		Logger:      logger,
		Retryable:   IsTimeout,
		OnRetry: func(error) {
			o.metrics.recordRetry(context.Background())
		},
	}
	return o
}

// Subscribe returns a channel receiving connectivity transitions.
func (o *Orchestrator) Subscribe() <-chan Event {
	return o.events.subscribe(8)
}

func (o *Orchestrator) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// QueueLen returns the number of requests buffered while offline.
func (o *Orchestrator) QueueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Waiters returns the number of callers attached to key.
func (o *Orchestrator) Waiters(key string) int {
	return o.coalescer.Waiters(key)
}

// SetReachable records a connectivity observation. Going offline publishes
// EventOffline; coming back drains the queue in FIFO order and publishes
// EventOnline. Repeated observations of the same state are ignored.
func (o *Orchestrator) SetReachable(reachable bool) {
	o.mu.Lock()
	if o.online == reachable {
		o.mu.Unlock()
		return
	}
	o.online = reachable
	queued := len(o.queue)
	startDrain := reachable && queued > 0 && !o.draining
	if startDrain {
		o.draining = true
	}
	o.mu.Unlock()

	if !reachable {
		o.logger.Warn("[orchestrator] Connectivity lost, buffering new requests")
		o.events.publish(EventOffline)
		return
	}

	o.logger.Info("[orchestrator] Connectivity restored, %d queued requests", queued)
	if startDrain {
		go o.drain()
	}
	o.events.publish(EventOnline)
}

// Call issues a physical request, retrying timeouts. While offline the
// request is buffered and Call waits for the queue to be replayed or for
// ctx to end, whichever comes first.
func (o *Orchestrator) Call(ctx context.Context, prompt string, params map[string]any) (string, error) {
	id := uuid.NewString()[:8]

	o.mu.Lock()
	if !o.online {
		call := &queuedCall{
			id:     id,
			ctx:    ctx,
			prompt: prompt,
			params: params,
			done:   make(chan callResult, 1),
		}
		o.queue = append(o.queue, call)
		waiting := len(o.queue)
		o.mu.Unlock()

		o.metrics.recordQueued(ctx)
		o.logger.Info("[orchestrator] Offline, queued request %s (%d waiting)", id, waiting)
		return o.await(ctx, call)
	}
	o.mu.Unlock()

	return o.execute(ctx, id, prompt, params)
}

// Reset fails every queued request and forgets in-flight keys.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	queue := o.queue
	o.queue = nil
	o.mu.Unlock()

	for _, call := range queue {
		call.done <- callResult{err: fmt.Errorf("%w: queue reset", ErrOffline)}
	}
	o.coalescer.Reset()
	o.logger.Info("[orchestrator] Reset, dropped %d queued requests", len(queue))
}

// Close releases subscriber channels.
func (o *Orchestrator) Close() {
	o.events.close()
}

func (o *Orchestrator) await(ctx context.Context, call *queuedCall) (string, error) {
	select {
	case res := <-call.done:
		return res.raw, res.err
	case <-ctx.Done():
		call.abandoned.Store(true)
		o.events.publish(EventOffline)
		return "", fmt.Errorf("%w: request %s gave up waiting: %v", ErrOffline, call.id, ctx.Err())
	}
}

func (o *Orchestrator) drain() {
	pool := utils.NewWorkerPool(o.workers, o.rateLimitMs)
	replayed := 0

	for {
		o.mu.Lock()
		if !o.online || len(o.queue) == 0 {
			o.draining = false
			o.mu.Unlock()
			break
		}
		call := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if call.abandoned.Load() {
			continue
		}
		replayed++
		pool.Submit(func() {
			raw, err := o.execute(call.ctx, call.id, call.prompt, call.params)
			call.done <- callResult{raw: raw, err: err}
		})
	}

	pool.Wait()
	o.logger.Debug("[orchestrator] Replayed %d queued requests", replayed)
}

func (o *Orchestrator) execute(ctx context.Context, id, prompt string, params map[string]any) (string, error) {
	start := time.Now()

	var raw string
	err := o.retry.Do(ctx, "request "+id, func() error {
		var err error
		raw, err = o.completer.Complete(ctx, prompt, params)
		return err
	})
	o.metrics.recordRequest(ctx, err)

	if err != nil {
		o.logger.Warn("[orchestrator] Request %s failed in %v: %v", id, time.Since(start).Round(time.Millisecond), err)
		return "", err
	}
	o.logger.Debug("[orchestrator] Request %s done in %v (%d bytes)", id, time.Since(start).Round(time.Millisecond), len(raw))
	return raw, nil
}

// Coalesce runs fn once per key across concurrent callers. fn should do
// everything that must happen before waiters see the result, including
// cache writes. A caller that stops waiting while offline gets ErrOffline
// and the Offline event is republished, as with Call.
func Coalesce[T any](ctx context.Context, o *Orchestrator, key string, fn func(context.Context) (T, error)) (T, error) {
	if o.coalescer.Waiters(key) > 0 {
		o.metrics.recordCoalesced(ctx)
		o.logger.Debug("[orchestrator] Joining in-flight %s", key)
	}
	v, _, err := Shared(ctx, o.coalescer, key, fn)
	if err != nil && ctx.Err() != nil && !o.Online() {
		// the shared execution stays queued and replays for the cache
		o.events.publish(EventOffline)
		return v, fmt.Errorf("%w: gave up waiting for %s: %v", ErrOffline, key, ctx.Err())
	}
	return v, err
}
