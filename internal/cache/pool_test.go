package cache

import (
	"context"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	pool := NewPool(2, testLogger(t))
	defer pool.Close()

	var running, peak atomic.Int32

	var wg gosync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := pool.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}

				time.Sleep(10 * time.Millisecond)
				running.Add(-1)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, pool.Size())
}

func TestPool_ContextCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, testLogger(t))
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = pool.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release

			return nil
		})
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestPool_ClosedRejectsWork(t *testing.T) {
	t.Parallel()

	pool := NewPool(0, testLogger(t))
	assert.Equal(t, defaultPoolSize, pool.Size())
	pool.Close()

	err := pool.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestOpen_DispatchesThroughPool(t *testing.T) {
	t.Parallel()

	pool := NewPool(2, testLogger(t))
	defer pool.Close()

	ctx := context.Background()
	c, err := Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "c.db"), pool, testLogger(t))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.InsertRoot(ctx, folder("root", "", "")))
	require.NoError(t, c.ApplyChanges(ctx, []vfs.Change{vfs.Upsert(file("a", "root", "a", 1))}, "1"))

	n, err := c.NodeByPath(ctx, "/a")
	require.NoError(t, err)

	p, err := c.PathOf(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, "/a", p)

	cp, ok, err := c.CheckPoint(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vfs.CheckPoint("1"), cp)

	_, err = c.ChildByName(ctx, "b", "root")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestOpen_BadDSN(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, testLogger(t))
	defer pool.Close()

	_, err := Open(context.Background(), "mysql://x", pool, testLogger(t))
	assert.ErrorIs(t, err, vfs.ErrConfiguration)
}
