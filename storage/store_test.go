package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// exerciseKV runs the same contract checks against any backend.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Put(ctx, "detail:Kenya AA", []byte(`{"name":"Kenya AA"}`)))
	require.NoError(t, kv.Put(ctx, "detail:Huila/Colombia", []byte(`{"name":"Huila"}`)))
	require.NoError(t, kv.Put(ctx, "coffee_data", []byte(`[]`)))

	got, ok, err := kv.Get(ctx, "detail:Kenya AA")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"name":"Kenya AA"}`, string(got))

	require.NoError(t, kv.Put(ctx, "detail:Kenya AA", []byte(`{"name":"Kenya AA","rating":4.6}`)))
	got, _, err = kv.Get(ctx, "detail:Kenya AA")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"Kenya AA","rating":4.6}`, string(got))

	keys, err := kv.Keys(ctx, "detail:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"detail:Kenya AA", "detail:Huila/Colombia"}, keys)

	require.NoError(t, kv.Delete(ctx, "detail:Kenya AA"))
	require.NoError(t, kv.Delete(ctx, "detail:Kenya AA"))
	_, ok, err = kv.Get(ctx, "detail:Kenya AA")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, kv.Put(ctx, "", []byte(`{}`)), ErrInvalidKey)
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestFileKV(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	defer kv.Close()

	exerciseKV(t, kv)
}

func TestFileKVSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileKV(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "ledger:general", []byte(`["Kenya AA"]`)))

	second, err := NewFileKV(dir)
	require.NoError(t, err)
	got, ok, err := second.Get(ctx, "ledger:general")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `["Kenya AA"]`, string(got))
}

func TestPostgresKV(t *testing.T) {
	dsn := os.Getenv("COFFEE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COFFEE_TEST_POSTGRES_DSN not set")
	}

	kv, err := NewPostgresKV(dsn)
	require.NoError(t, err)
	defer kv.Close()
	require.NoError(t, kv.Clear(context.Background()))

	exerciseKV(t, kv)
}
