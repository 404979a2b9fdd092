package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

func TestStorePublishAndRead(t *testing.T) {
	t.Parallel()

	store := NewStore()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, err := store.Read(ctx)
	require.ErrorIs(t, err, snapshot.ErrNotFound)

	payload := []byte("png")
	require.NoError(t, store.Publish(ctx, payload))
	payload[0] = 'X'

	snap, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), snap.Data, "store must keep its own copy")
	assert.Equal(t, fixed, snap.ModTime)

	require.NoError(t, store.Publish(ctx, []byte("next")))
	snap, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), snap.Data)
}

func TestStoreRejectsEmpty(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.Error(t, store.Publish(context.Background(), nil))
	_, err := store.Read(context.Background())
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}
