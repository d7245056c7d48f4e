package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T) (*MongoStore, func()) {
	ctx := context.Background()

	// Start MongoDB container
	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	store := NewMongoStore(db, 7*24*time.Hour)
	require.NoError(t, store.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return store, cleanup
}

func TestMongoGet_NotFound(t *testing.T) {
	store, cleanup := setupTestMongo(t)
	defer cleanup()

	_, err := store.Get(context.Background(), "cart:guest:nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoSet_Upserts(t *testing.T) {
	store, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "cart:guest:g1", `[{"productId":"P1"}]`))
	require.NoError(t, store.Set(ctx, "cart:guest:g1", `[]`))

	v, err := store.Get(ctx, "cart:guest:g1")
	require.NoError(t, err)
	assert.Equal(t, `[]`, v)

	count, err := store.collection.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMongoDelete(t *testing.T) {
	store, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting a missing key is not an error
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestMongoContextCancellation(t *testing.T) {
	store, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond) // Ensure context is cancelled

	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}
