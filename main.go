package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/otel"

	"coffee-guru/config"
	"coffee-guru/engine"
	"coffee-guru/models"
	"coffee-guru/network"
	"coffee-guru/services"
	"coffee-guru/storage"
	"coffee-guru/upstream/zhipu"
	"coffee-guru/utils"
)

var version = "dev"

const metricsKey = "metrics:network"

// CLI is the top-level command structure for coffee-guru.
type CLI struct {
	Version  kong.VersionFlag `help:"Show version." short:"V"`
	LogLevel string           `help:"Override LOG_LEVEL (debug, info, warn, error)." name:"log-level"`
	Store    string           `help:"Override STORE_BACKEND (file, postgres, memory)."`
	Timeout  time.Duration    `help:"Give up on the command after this long." default:"2m"`

	List     ListCmd     `cmd:"" help:"Show the coffee list, from cache when it is fresh."`
	More     MoreCmd     `cmd:"" help:"Load further pages of the list."`
	Featured FeaturedCmd `cmd:"" help:"Show the featured coffee."`
	Detail   DetailCmd   `cmd:"" help:"Show the detail page for one coffee."`
	Browse   BrowseCmd   `cmd:"" help:"Mark list rows as visible and let the prefetcher load their details."`
	Stats    StatsCmd    `cmd:"" help:"Print a summary of everything cached."`
	Clear    ClearCmd    `cmd:"" help:"Forget seen names and every cached entry."`
}

type ListCmd struct {
	Refresh bool `help:"Bypass the cache."`
}

func (c *ListCmd) Run(ctx context.Context, a *app) error {
	items := a.coord.GetList(ctx, c.Refresh)
	if len(items) == 0 {
		return fmt.Errorf("list: no items available")
	}
	printItems(a.out, items)
	return nil
}

type MoreCmd struct {
	Pages int `help:"How many pages to load." default:"1"`
}

func (c *MoreCmd) Run(ctx context.Context, a *app) error {
	items := a.coord.GetList(ctx, false)
	for i := 0; i < c.Pages; i++ {
		if i > 0 {
			// the coordinator rejects load-more calls inside its minimum interval
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.LoadMoreInterval):
			}
		}
		before := len(items)
		items = a.coord.LoadMore(ctx)
		if !a.coord.State().HasMore || len(items) == before {
			a.logger.Info("No further items after page %d", i+1)
			break
		}
	}
	printItems(a.out, items)
	return nil
}

type FeaturedCmd struct {
	Refresh bool `help:"Bypass the cache."`
}

func (c *FeaturedCmd) Run(ctx context.Context, a *app) error {
	f := a.coord.GetFeatured(ctx, c.Refresh)
	if f == nil {
		return fmt.Errorf("featured: nothing available")
	}
	fmt.Fprintf(a.out, "\n  ★ %s  (%d/5)\n    %s\n\n", f.Name, f.Rating, f.Description)
	return nil
}

type DetailCmd struct {
	Name string `arg:"" help:"Coffee name, as shown by list."`
}

func (c *DetailCmd) Run(ctx context.Context, a *app) error {
	d := a.coord.GetDetail(ctx, c.Name)
	if d == nil {
		return fmt.Errorf("detail: could not load %q", c.Name)
	}
	printDetail(a.out, d)
	return nil
}

type BrowseCmd struct {
	Indices []int `arg:"" help:"Zero-based list rows that are on screen."`
}

func (c *BrowseCmd) Run(ctx context.Context, a *app) error {
	items := a.coord.GetList(ctx, false)
	if len(items) == 0 {
		return fmt.Errorf("browse: no items available")
	}
	for _, i := range c.Indices {
		a.coord.ItemAppeared(i)
	}

	targets := prefetchTargets(c.Indices, len(items))
	if len(targets) == 0 {
		return fmt.Errorf("browse: no index within 0..%d", len(items)-1)
	}

	// Wait for one settled pass. The scheduler may skip the second row while
	// the first is still loading, so print whatever made it into the cache.
	pf := a.coord.Prefetcher()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for pf.Triggers() == 0 || !pf.Idle() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("browse: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	shown := 0
	for _, i := range targets {
		if !a.coord.HasDetail(ctx, items[i].Name) {
			a.logger.Info("Row %d (%s) was not prefetched", i, items[i].Name)
			continue
		}
		if d := a.coord.GetDetail(ctx, items[i].Name); d != nil {
			printDetail(a.out, d)
			shown++
		}
	}
	if shown == 0 {
		return fmt.Errorf("browse: nothing was prefetched")
	}
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(ctx context.Context, a *app) error {
	report, err := a.coord.Insights(ctx, a.insights)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	a.insights.Print(a.out, report)

	totals, err := a.networkTotals(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printTotals(a.out, totals)
	return nil
}

type ClearCmd struct {
	Purge bool `help:"Also truncate the whole store when the backend supports it."`
}

func (c *ClearCmd) Run(ctx context.Context, a *app) error {
	if err := a.coord.ClearAll(ctx); err != nil {
		return err
	}
	if c.Purge {
		if p, ok := a.kv.(interface{ Clear(context.Context) error }); ok {
			if err := p.Clear(ctx); err != nil {
				return fmt.Errorf("clear: purge: %w", err)
			}
		}
	}
	fmt.Fprintln(a.out, "  Cache cleared.")
	return nil
}

// app holds the wired engine for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	kv       storage.KV
	orch     *network.Orchestrator
	coord    *engine.Coordinator
	insights *services.InsightService
	metrics  *utils.Metrics
	out      io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger, kv storage.KV, completer network.Completer, out io.Writer) (*app, error) {
	prompts, err := zhipu.LoadPrompts()
	if err != nil {
		return nil, err
	}

	metrics := utils.NewMetrics()
	orch := network.NewOrchestrator(completer, logger,
		network.WithRetry(cfg.MaxRetries, cfg.RetryDelay),
		network.WithDrain(cfg.MaxConcurrency, cfg.RateLimitMs),
		network.WithMeter(metrics.Meter("coffee-guru")),
	)
	cache := services.NewCache(kv, cfg.CacheTTL, logger)
	ledger := services.NewLedger(ctx, kv, logger)
	coord := engine.NewCoordinator(orch, cache, ledger, prompts, logger,
		engine.WithLoadMoreInterval(cfg.LoadMoreInterval),
		engine.WithPrefetchOptions(engine.PrefetchOptions{
			Debounce:  cfg.PrefetchDebounce,
			Poll:      cfg.PrefetchPoll,
			Stability: cfg.PrefetchStability,
			Stagger:   cfg.PrefetchStagger,
		}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		orch:     orch,
		coord:    coord,
		insights: services.NewInsightService(logger),
		metrics:  metrics,
		out:      out,
	}, nil
}

// start launches the coordinator's event loop and the reachability monitor.
func (a *app) start(ctx context.Context) {
	go a.coord.Run(ctx)
	if a.cfg.ReachabilityAddr != "" && a.cfg.ReachabilityInterval > 0 {
		go network.NewMonitor(a.cfg.ReachabilityAddr, a.cfg.ReachabilityInterval, a.orch, a.logger).Run(ctx)
	}
}

func (a *app) Close() {
	a.coord.Close()
	a.orch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.saveNetworkTotals(ctx); err != nil {
		a.logger.Warn("Saving network counters: %v", err)
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Warn("Stopping metrics: %v", err)
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("Closing store: %v", err)
	}
}

// networkTotals adds this run's orchestrator counters to the totals saved by
// earlier runs.
func (a *app) networkTotals(ctx context.Context) (map[string]int64, error) {
	totals := make(map[string]int64)
	data, ok, err := a.kv.Get(ctx, metricsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(data, &totals); err != nil {
			a.logger.Warn("Discarding unreadable network counters: %v", err)
			totals = make(map[string]int64)
		}
	}

	counters, err := a.metrics.Counters(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range counters {
		totals[c.Name] += c.Value
	}
	return totals, nil
}

func (a *app) saveNetworkTotals(ctx context.Context) error {
	counters, err := a.metrics.Counters(ctx)
	if err != nil || len(counters) == 0 {
		return err
	}
	totals, err := a.networkTotals(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return a.kv.Put(ctx, metricsKey, data)
}

func openStore(cfg *config.Config) (storage.KV, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return storage.NewPostgresKV(cfg.DSN())
	case "memory":
		return storage.NewMemoryKV(), nil
	default:
		return storage.NewFileKV(cfg.StoreDir)
	}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("coffee-guru"),
		kong.Description("Browse specialty coffees generated by a language model, cached locally."),
		kong.Vars{"version": version},
	)

	logger := utils.NewLogger()
	cfg := config.Load()
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.Store != "" {
		cfg.StoreBackend = cli.Store
	}
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	logger.Debug("Config: model %s | store %s | ttl %v | retries %d×%v | workers %d",
		cfg.Model, cfg.StoreBackend, cfg.CacheTTL, cfg.MaxRetries, cfg.RetryDelay, cfg.MaxConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
	defer cancel()

	kv, err := openStore(cfg)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreBackend, err)
		if cfg.StoreBackend == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}

	client := zhipu.New(cfg.APIKey, logger,
		zhipu.WithBaseURL(cfg.BaseURL),
		zhipu.WithModel(cfg.Model),
		zhipu.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)

	a, err := newApp(ctx, cfg, logger, kv, client, os.Stdout)
	if err != nil {
		logger.Error("Failed to start: %v", err)
		_ = kv.Close()
		os.Exit(1)
	}
	otel.SetMeterProvider(a.metrics.Provider())
	a.start(ctx)

	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(a)
	a.Close()
	kctx.FatalIfErrorf(err)
}

// prefetchTargets mirrors the scheduler: the two lowest in-range indices.
func prefetchTargets(indices []int, n int) []int {
	seen := make(map[int]bool)
	var in []int
	for _, i := range indices {
		if i >= 0 && i < n && !seen[i] {
			seen[i] = true
			in = append(in, i)
		}
	}
	sort.Ints(in)
	if len(in) > 2 {
		in = in[:2]
	}
	return in
}

func printItems(w io.Writer, items []models.Item) {
	fmt.Fprintln(w)
	for i, it := range items {
		fmt.Fprintf(w, "  %3d. %-32s %s  %s\n", i, it.Name, stars(it.Rating), it.Description)
	}
	fmt.Fprintln(w)
}

func printDetail(w io.Writer, d *models.Detail) {
	fmt.Fprintf(w, "\n  %s  (%.1f/5)\n", d.Name, d.Rating)
	fmt.Fprintf(w, "  %s\n\n", d.Description)
	fmt.Fprintf(w, "  Origin:  %s\n", d.Origin)
	fmt.Fprintf(w, "  Flavor:  %s\n", d.Flavor)
	fmt.Fprintf(w, "  Roast:   %s\n", d.RoastLevel)
	fmt.Fprintf(w, "  Price:   %s\n", d.Price)
	if len(d.BrewMethods) > 0 {
		fmt.Fprintf(w, "  Brew:    %s\n", strings.Join(d.BrewMethods, ", "))
	}
	if rp := d.RoastingProfile; rp != nil {
		fmt.Fprintf(w, "  Roasting: first crack %s | second crack %s | total %s\n",
			rp.FirstCrackTime, rp.SecondCrackTime, rp.TotalRoastTime)
	}
	if bg := d.BrewGuide; bg != nil {
		fmt.Fprintf(w, "  Brewing:  %s | %s grind | %s | %s\n", bg.Ratio, bg.GrindSize, bg.Temperature, bg.TotalTime)
		for _, s := range bg.PourStages {
			fmt.Fprintf(w, "    - %s: %s over %s, wait %s\n", s.Name, s.WaterAmount, s.PourTime, s.WaitTime)
		}
	}
	fmt.Fprintln(w)
}

func printTotals(w io.Writer, totals map[string]int64) {
	fmt.Fprintf(w, "\033[1;33m  Network (all runs)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 54))
	if len(totals) == 0 {
		fmt.Fprintf(w, "  No requests recorded\n\n")
		return
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-40s %d\n", name, totals[name])
	}
	fmt.Fprintln(w)
}

func stars(r int) string {
	return strings.Repeat("★", r) + strings.Repeat("☆", 5-r)
}
