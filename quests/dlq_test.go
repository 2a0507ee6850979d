package quests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splguard/cachestore"
)

func TestDLQCapsAndSnapshots(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	q := NewDLQ(cachestore.NewMemStore())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q.Now = func() time.Time { return fixed }

	for i := 0; i < 105; i++ {
		require.NoError(t, q.Push(ctx, DLQEntry{Reason: "spot_check", TxSignature: fmt.Sprintf("sig-%d", i)}))
	}

	snap, err := q.Snapshot(ctx, 5)
	require.NoError(t, err)
	assert.Equal(int64(100), snap.Size)
	require.Len(t, snap.Entries, 5)
	assert.Equal("sig-104", snap.Entries[0].TxSignature)
	assert.Equal("sig-100", snap.Entries[4].TxSignature)
	assert.NotEmpty(snap.Entries[0].ID)
	assert.Equal(fixed, snap.Entries[0].CreatedAt)
}

func TestDLQSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	cache := cachestore.NewMemStore()
	_, err := cache.LPushTrim(ctx, DLQKey, "{broken", 100)
	require.NoError(t, err)

	q := NewDLQ(cache)
	require.NoError(t, q.Push(ctx, DLQEntry{Reason: "spot_check"}))

	snap, err := q.Snapshot(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Size)
	assert.Len(t, snap.Entries, 1)
}

func TestDLQWithoutCache(t *testing.T) {
	q := NewDLQ(nil)
	assert.NoError(t, q.Push(context.Background(), DLQEntry{Reason: "spot_check"}))
	snap, err := q.Snapshot(context.Background(), 5)
	assert.NoError(t, err)
	assert.Zero(t, snap.Size)
}
