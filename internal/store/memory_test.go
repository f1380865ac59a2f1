package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryMergeSemantics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetByKey(ctx, "c", "k", map[string]any{"a": "1", "b": "2"}, false))
	require.NoError(t, m.SetByKey(ctx, "c", "k", map[string]any{"b": "3"}, true))

	doc, ok, err := m.GetByKey(ctx, "c", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", doc.Fields["a"])
	require.Equal(t, "3", doc.Fields["b"])

	// A non-merge write replaces the whole document.
	require.NoError(t, m.SetByKey(ctx, "c", "k", map[string]any{"b": "4"}, false))
	doc, _, err = m.GetByKey(ctx, "c", "k")
	require.NoError(t, err)
	require.NotContains(t, doc.Fields, "a")
}

func TestMemoryServerTimestampResolves(t *testing.T) {
	m := NewMemory()
	fixed := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return fixed }

	require.NoError(t, m.SetByKey(context.Background(), "c", "k", map[string]any{
		"createdAt": m.ServerTimestamp(),
	}, false))

	doc, _, err := m.GetByKey(context.Background(), "c", "k")
	require.NoError(t, err)
	require.Equal(t, fixed, doc.Fields["createdAt"])
}

func TestMemoryBatchAtomicUnderFailure(t *testing.T) {
	m := NewMemory()
	m.CommitHook = func(int) error { return errors.New("unavailable") }
	ctx := context.Background()

	b := m.NewBatch()
	b.Set("c", "k1", map[string]any{"x": 1}, false)
	b.Set("c", "k2", map[string]any{"x": 2}, false)
	require.Error(t, b.Commit(ctx))
	require.Equal(t, 0, m.Count("c"))

	m.CommitHook = nil
	b = m.NewBatch()
	b.Set("c", "k1", map[string]any{"x": 1}, false)
	b.Delete("c", "missing")
	require.NoError(t, b.Commit(ctx))
	require.Equal(t, 1, m.Count("c"))
}

func TestMemoryBatchCeiling(t *testing.T) {
	m := NewMemory()
	b := m.NewBatch()
	for i := 0; i <= MaxBatchOps; i++ {
		b.Set("c", fmt.Sprintf("k%d", i), map[string]any{"x": i}, false)
	}
	require.ErrorIs(t, b.Commit(context.Background()), ErrBatchTooLarge)
	require.Equal(t, 0, m.Count("c"))
}

func TestMemoryQueries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.SetByKey(ctx, "c", fmt.Sprintf("k%d", i), map[string]any{
			"n":    float64(i),
			"when": base.AddDate(0, 0, i),
			"flag": i%2 == 0,
		}, false))
	}

	docs, err := m.QueryEqual(ctx, "c", "flag", true, 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	docs, err = m.QueryLessThan(ctx, "c", "when", base.AddDate(0, 0, 2), 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	docs, err = m.QueryGreaterThan(ctx, "c", "n", 2.0, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "k3", docs[0].Key)

	docs, err = m.QueryAll(ctx, "c", 0)
	require.NoError(t, err)
	require.Len(t, docs, 5)

	// Documents missing the queried field never match.
	require.NoError(t, m.SetByKey(ctx, "c", "bare", map[string]any{}, false))
	docs, err = m.QueryEqual(ctx, "c", "flag", false, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}
