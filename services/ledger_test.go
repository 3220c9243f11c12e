package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"coffee-guru/storage"
	"coffee-guru/utils"
)

func TestLedgerRecordsAndPersists(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	l := NewLedger(ctx, kv, utils.NewNopLogger())
	require.Equal(t, "none", l.Hint(CategoryGeneral))

	require.NoError(t, l.RecordSeen(ctx, CategoryGeneral, "Kenya AA", "Brazil Cerrado", "Kenya AA"))
	require.NoError(t, l.RecordSeen(ctx, CategoryFeatured, "Panama Geisha"))

	require.ElementsMatch(t, []string{"Kenya AA", "Brazil Cerrado"}, l.AllSeen(CategoryGeneral))
	require.Equal(t, []string{"Panama Geisha"}, l.AllSeen(CategoryFeatured))
	require.Equal(t, "Brazil Cerrado、Kenya AA", l.Hint(CategoryGeneral))

	reloaded := NewLedger(ctx, kv, utils.NewNopLogger())
	require.ElementsMatch(t, []string{"Kenya AA", "Brazil Cerrado"}, reloaded.AllSeen(CategoryGeneral))
	require.Equal(t, []string{"Panama Geisha"}, reloaded.AllSeen(CategoryFeatured))
}

func TestLedgerCategoriesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(ctx, storage.NewMemoryKV(), utils.NewNopLogger())

	require.NoError(t, l.RecordSeen(ctx, CategoryFeatured, "Panama Geisha"))
	require.Empty(t, l.AllSeen(CategoryGeneral))
}

func TestLedgerClear(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	l := NewLedger(ctx, kv, utils.NewNopLogger())

	require.NoError(t, l.RecordSeen(ctx, CategoryGeneral, "Kenya AA"))
	require.NoError(t, l.Clear(ctx))
	require.Empty(t, l.AllSeen(CategoryGeneral))

	keys, err := kv.Keys(ctx, "ledger:")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestLedgerIgnoresCorruptEntry(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Put(ctx, "ledger:general", []byte("{broken")))

	l := NewLedger(ctx, kv, utils.NewNopLogger())
	require.Empty(t, l.AllSeen(CategoryGeneral))
}
