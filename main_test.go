package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"

	"coffee-guru/config"
	"coffee-guru/storage"
	"coffee-guru/utils"
)

type cannedCompleter struct {
	calls       atomic.Int32
	detailDelay time.Duration
}

func (c *cannedCompleter) Complete(_ context.Context, prompt string, _ map[string]any) (string, error) {
	c.calls.Add(1)
	switch {
	case strings.Contains(prompt, "specialty coffees as a JSON array"):
		return `[{"id":1,"name":"Kenya AA","description":"bright","rating":4.6},{"id":2,"name":"Sumatra","description":"earthy","rating":3}]`, nil
	case strings.Contains(prompt, "featured coffee"):
		return `{"name":"Panama Geisha","description":"floral","rating":5}`, nil
	default:
		time.Sleep(c.detailDelay)
		return `{"origin":"Nyeri","roastLevel":"light","rating":4.6,"brewingGuide":{"pourStages":[{"stageName":"bloom","waterAmount":"40ml"}]}}`, nil
	}
}

func testConfig() *config.Config {
	return &config.Config{
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		CacheTTL:          30 * time.Minute,
		LoadMoreInterval:  10 * time.Millisecond,
		PrefetchDebounce:  10 * time.Millisecond,
		PrefetchPoll:      10 * time.Millisecond,
		PrefetchStability: 30 * time.Millisecond,
		PrefetchStagger:   10 * time.Millisecond,
		MaxConcurrency:    1,
		StoreBackend:      "memory",
	}
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer, *cannedCompleter) {
	t.Helper()
	return newTestAppWith(t, &cannedCompleter{}, storage.NewMemoryKV())
}

func newTestAppWith(t *testing.T, fc *cannedCompleter, kv storage.KV) (*app, *bytes.Buffer, *cannedCompleter) {
	t.Helper()
	var out bytes.Buffer
	a, err := newApp(context.Background(), testConfig(), utils.NewNopLogger(), kv, fc, &out)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, &out, fc
}

func run(t *testing.T, a *app, args ...string) error {
	t.Helper()
	var cli CLI
	k, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)
	kctx, err := k.Parse(args)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(a)
}

func TestParseRejectsMissingCommand(t *testing.T) {
	var cli CLI
	k, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)

	_, err = k.Parse([]string{})
	require.Error(t, err)

	_, err = k.Parse([]string{"detail"})
	require.Error(t, err, "detail needs a name")
}

func TestParseFlags(t *testing.T) {
	var cli CLI
	k, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)

	_, err = k.Parse([]string{"--store", "memory", "--timeout", "5s", "more", "--pages", "3"})
	require.NoError(t, err)
	require.Equal(t, "memory", cli.Store)
	require.Equal(t, 5*time.Second, cli.Timeout)
	require.Equal(t, 3, cli.More.Pages)
}

func TestListCommandCachesResult(t *testing.T) {
	a, out, fc := newTestApp(t)

	require.NoError(t, run(t, a, "list"))
	require.Contains(t, out.String(), "Kenya AA")
	require.Contains(t, out.String(), "★★★★★")

	require.NoError(t, run(t, a, "list"))
	require.EqualValues(t, 1, fc.calls.Load())
}

func TestDetailCommand(t *testing.T) {
	a, out, _ := newTestApp(t)

	require.NoError(t, run(t, a, "detail", "Kenya AA"))
	require.Contains(t, out.String(), "Kenya AA  (4.6/5)")
	require.Contains(t, out.String(), "Origin:  Nyeri")
	require.Contains(t, out.String(), "- bloom: 40ml")
}

func TestBrowseCommandWaitsForPrefetch(t *testing.T) {
	a, out, _ := newTestApp(t)

	require.NoError(t, run(t, a, "browse", "1", "0"))
	require.Contains(t, out.String(), "Kenya AA  (")
	require.Contains(t, out.String(), "Sumatra  (")
}

func TestBrowseReturnsWhenSecondRowIsSkipped(t *testing.T) {
	// the first detail outlasts the stagger, so the busy scheduler skips row 1
	fc := &cannedCompleter{detailDelay: 5 * testConfig().PrefetchStagger}
	a, out, _ := newTestAppWith(t, fc, storage.NewMemoryKV())

	start := time.Now()
	require.NoError(t, run(t, a, "browse", "0", "1"))
	require.Less(t, time.Since(start), 2*time.Second)

	require.Contains(t, out.String(), "Kenya AA  (")
	require.NotContains(t, out.String(), "Sumatra  (")
}

func TestNetworkTotalsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	first, _, _ := newTestAppWith(t, &cannedCompleter{}, kv)
	require.NoError(t, run(t, first, "list"))
	totals, err := first.networkTotals(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, totals["orchestrator.requests{outcome=ok}"])
	require.NoError(t, first.saveNetworkTotals(ctx))

	second, out, _ := newTestAppWith(t, &cannedCompleter{}, kv)
	require.NoError(t, run(t, second, "featured"))
	require.NoError(t, run(t, second, "stats"))
	require.Contains(t, out.String(), "Network (all runs)")

	totals, err = second.networkTotals(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, totals["orchestrator.requests{outcome=ok}"])
}

func TestStatsAndClear(t *testing.T) {
	a, out, _ := newTestApp(t)

	require.NoError(t, run(t, a, "list"))
	require.NoError(t, run(t, a, "featured"))
	require.NoError(t, run(t, a, "stats"))
	require.Contains(t, out.String(), "Panama Geisha")

	require.NoError(t, run(t, a, "clear"))
	require.Contains(t, out.String(), "Cache cleared.")

	keys, err := a.kv.Keys(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPrefetchTargets(t *testing.T) {
	require.Equal(t, []int{1, 3}, prefetchTargets([]int{7, 3, 1, 3, 4}, 5))
	require.Equal(t, []int{2}, prefetchTargets([]int{2, -1, 9}, 5))
	require.Empty(t, prefetchTargets([]int{5}, 5))
}
