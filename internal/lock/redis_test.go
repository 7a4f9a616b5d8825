package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient keeps keys in a map and understands only the unlock script.
type fakeClient struct {
	keys   map[string]string
	setErr error
	evals  int
}

func (f *fakeClient) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.evals++
	if f.keys[keys[0]] == args[0] {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{keys: map[string]string{}}
	l := NewRedis(client, "chanpay:sweep", time.Minute)

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, release(ctx))
	assert.Empty(t, client.keys)

	again, err := l.Acquire(ctx)
	require.NoError(t, err)

	// A stale release must not drop the current holder's key.
	require.NoError(t, release(ctx))
	assert.Len(t, client.keys, 1)
	require.NoError(t, again(ctx))
}

func TestAcquireError(t *testing.T) {
	l := NewRedis(&fakeClient{keys: map[string]string{}, setErr: errors.New("connection refused")}, "k", time.Minute)
	_, err := l.Acquire(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.NotErrorIs(t, err, ErrNotAcquired)
}
