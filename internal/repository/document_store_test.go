package repository

import (
	"context"
	"encoding/json"
	"testing"

	"CalibrationMonitorAPI/internal/database"
	"CalibrationMonitorAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) DocumentStore {
	t.Helper()
	db, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLDocumentStore(db)
}

func storeFactories() map[string]func(t *testing.T) DocumentStore {
	return map[string]func(t *testing.T) DocumentStore{
		"memory": func(t *testing.T) DocumentStore { return NewMemoryDocumentStore() },
		"sqlite": newSQLiteStore,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store DocumentStore)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestDocKeyRoundTrip(t *testing.T) {
	key := DocKey("center-a", "output", "6 MV/FFF")
	assert.Equal(t, "center-a/output/6%20MV%2FFFF", key)

	parts, err := SplitDocKey(key)
	require.NoError(t, err)
	assert.Equal(t, []string{"center-a", "output", "6 MV/FFF"}, parts)
}

func TestDocumentStoreGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		_, err := store.Get(context.Background(), CollectionAlerts, "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestDocumentStorePutBumpsVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		doc := &Document{Collection: CollectionModels, Partition: "dev", Key: "dev/output/6X", Body: json.RawMessage(`{"a":1}`)}

		require.NoError(t, store.Put(ctx, doc))
		assert.Equal(t, int64(1), doc.Version)

		doc.Body = json.RawMessage(`{"b":2}`)
		require.NoError(t, store.Put(ctx, doc))
		assert.Equal(t, int64(2), doc.Version)

		got, err := store.Get(ctx, CollectionModels, "dev/output/6X")
		require.NoError(t, err)
		assert.JSONEq(t, `{"b":2}`, string(got.Body))
		assert.Equal(t, int64(2), got.Version)
	})
}

func TestDocumentStoreMergeKeepsOtherFields(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		key := "dev/2025-01"

		_, err := store.Merge(ctx, &Document{Collection: CollectionMeasurements, Partition: "dev", Key: key, Body: json.RawMessage(`{"output":[1]}`)})
		require.NoError(t, err)

		merged, err := store.Merge(ctx, &Document{Collection: CollectionMeasurements, Partition: "dev", Key: key, Body: json.RawMessage(`{"flatness":[2]}`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"output":[1],"flatness":[2]}`, string(merged.Body))

		merged, err = store.Merge(ctx, &Document{Collection: CollectionMeasurements, Partition: "dev", Key: key, Body: json.RawMessage(`{"output":[3]}`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"output":[3],"flatness":[2]}`, string(merged.Body))
		assert.Equal(t, int64(3), merged.Version)
	})
}

func TestDocumentStoreCompareAndSwap(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		doc := func(body string) *Document {
			return &Document{Collection: CollectionAlerts, Partition: "dev", Key: "dev/output/2025-01", Body: json.RawMessage(body)}
		}

		first := doc(`{"alertedValues":[]}`)
		require.NoError(t, store.CompareAndSwap(ctx, first, 0))
		assert.Equal(t, int64(1), first.Version)

		assert.ErrorIs(t, store.CompareAndSwap(ctx, doc(`{"x":1}`), 0), models.ErrVersionConflict)
		assert.ErrorIs(t, store.CompareAndSwap(ctx, doc(`{"x":1}`), 7), models.ErrVersionConflict)

		second := doc(`{"alertedValues":[{"energy":"6X"}]}`)
		require.NoError(t, store.CompareAndSwap(ctx, second, 1))
		assert.Equal(t, int64(2), second.Version)

		got, err := store.Get(ctx, CollectionAlerts, "dev/output/2025-01")
		require.NoError(t, err)
		assert.JSONEq(t, `{"alertedValues":[{"energy":"6X"}]}`, string(got.Body))
	})
}

func TestDocumentStoreListAndPartitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		for _, d := range []Document{
			{Collection: CollectionMeasurements, Partition: "b", Key: "b/2025-02", Body: json.RawMessage(`{}`)},
			{Collection: CollectionMeasurements, Partition: "a", Key: "a/2025-01", Body: json.RawMessage(`{}`)},
			{Collection: CollectionMeasurements, Partition: "b", Key: "b/2025-01", Body: json.RawMessage(`{}`)},
			{Collection: CollectionAlerts, Partition: "c", Key: "c/output/2025-01", Body: json.RawMessage(`{}`)},
		} {
			d := d
			require.NoError(t, store.Put(ctx, &d))
		}

		partitions, err := store.Partitions(ctx, CollectionMeasurements)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, partitions)

		docs, err := store.List(ctx, CollectionMeasurements, "b")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b/2025-01", docs[0].Key)
		assert.Equal(t, "b/2025-02", docs[1].Key)
	})
}
