package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedisStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	s, err := NewRedisStore("redis://localhost:6379/0")
	if err != nil {
		t.Fail()
	}

	n, err := s.Incr(ctx, "test/strikes", time.Minute)
	assert.NoError(err)
	assert.Equal(int64(1), n)
	ttl, err := s.TTL(ctx, "test/strikes")
	assert.NoError(err)
	assert.True(ttl > 0)

	ok, err := s.SetNX(ctx, "test/nx", "1", time.Minute)
	assert.NoError(err)
	assert.True(ok)

	size, err := s.LPushTrim(ctx, "test/list", "a", 2)
	assert.NoError(err)
	assert.Equal(int64(1), size)

	assert.NoError(s.Del(ctx, "test/strikes", "test/nx", "test/list"))
}
