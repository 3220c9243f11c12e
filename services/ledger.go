package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"coffee-guru/storage"
	"coffee-guru/utils"
)

// Category separates the two name histories kept by the Ledger.
type Category string

const (
	CategoryGeneral  Category = "general"
	CategoryFeatured Category = "featured"
)

var categories = []Category{CategoryGeneral, CategoryFeatured}

const noNamesHint = "none"

// Ledger remembers which names upstream has already returned so prompts can
// ask for new ones. It only biases generation; nothing depends on it for
// correctness.
type Ledger struct {
	mu     sync.Mutex
	kv     storage.KV
	logger *utils.Logger
	sets   map[Category]*utils.NameSet
}

// NewLedger loads both name sets from kv. Unreadable entries start empty.
func NewLedger(ctx context.Context, kv storage.KV, logger *utils.Logger) *Ledger {
	l := &Ledger{
		kv:     kv,
		logger: logger,
		sets:   make(map[Category]*utils.NameSet, len(categories)),
	}
	for _, c := range categories {
		names, err := l.load(ctx, c)
		if err != nil {
			logger.Warn("[ledger] Could not load %s names: %v", c, err)
		}
		l.sets[c] = utils.NewNameSet(names...)
		logger.Debug("[ledger] Loaded %d %s names", len(names), c)
	}
	return l
}

// RecordSeen adds names to the category and persists the set if it changed.
func (l *Ledger) RecordSeen(ctx context.Context, c Category, names ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.set(c)
	changed := false
	for _, n := range names {
		if n != "" && set.Add(n) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.save(ctx, c, set.List())
}

// AllSeen returns every recorded name for the category.
func (l *Ledger) AllSeen(c Category) []string {
	return l.set(c).List()
}

// Hint renders the seen names for injection into a prompt.
func (l *Ledger) Hint(c Category) string {
	names := l.AllSeen(c)
	if len(names) == 0 {
		return noNamesHint
	}
	return strings.Join(names, "、")
}

// Clear forgets both categories, in memory and on disk.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range categories {
		l.set(c).Reset()
		if err := l.kv.Delete(ctx, ledgerKey(c)); err != nil {
			return fmt.Errorf("ledger: clear %s: %w", c, err)
		}
	}
	l.logger.Info("[ledger] Cleared all recorded names")
	return nil
}

func (l *Ledger) set(c Category) *utils.NameSet {
	if s, ok := l.sets[c]; ok {
		return s
	}
	return l.sets[CategoryGeneral]
}

func (l *Ledger) load(ctx context.Context, c Category) ([]string, error) {
	data, ok, err := l.kv.Get(ctx, ledgerKey(c))
	if err != nil || !ok {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("ledger: parsing %s: %w", c, err)
	}
	return names, nil
}

func (l *Ledger) save(ctx context.Context, c Category, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("ledger: marshaling %s: %w", c, err)
	}
	if err := l.kv.Put(ctx, ledgerKey(c), data); err != nil {
		return fmt.Errorf("ledger: saving %s: %w", c, err)
	}
	return nil
}

func ledgerKey(c Category) string {
	return "ledger:" + string(c)
}
