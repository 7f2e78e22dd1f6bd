package mutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var m KeyedMutex[string]
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do("00001-011", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	var m KeyedMutex[int]
	m.Lock(1)
	defer m.Unlock(1)

	done := make(chan struct{})
	go func() {
		m.Lock(2)
		m.Unlock(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key 2 blocked by key 1")
	}
	assert.Equal(t, 1, m.Len())
}

func TestKeyedMutex_UnlockUnknownKeyPanics(t *testing.T) {
	var m KeyedMutex[string]
	assert.Panics(t, func() { m.Unlock("x") })
}

func TestKeyedMutex_DoReturnsError(t *testing.T) {
	var m KeyedMutex[string]
	err := m.Do("k", func() error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, m.Len())
}
