package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueAfterCloseReturnsFalse(t *testing.T) {
	c := newClient("c1", nil)
	c.close()
	c.close() // idempotent

	assert.False(t, c.enqueue([]byte(`{"type":"PRICE_UPDATE"}`), true))
	assert.False(t, c.enqueue([]byte(`{"type":"ORDER_FILLED"}`), false))
}

func TestConcurrentEnqueueAndClose(t *testing.T) {
	// The send channel is never closed, so a close landing mid-enqueue must
	// not panic regardless of interleaving.
	for i := 0; i < 1000; i++ {
		c := newClient("c1", nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 64; j++ {
				c.enqueue([]byte(`{}`), true)
			}
		}()
		go func() {
			defer wg.Done()
			c.close()
		}()
		wg.Wait()
	}
}

func TestEnqueueDropsOverBufferCeiling(t *testing.T) {
	c := newClient("c1", nil)
	c.buffered.Store(maxBufferedBytes + 1)

	assert.False(t, c.enqueue([]byte(`{}`), true))
	assert.True(t, c.enqueue([]byte(`{}`), false), "command replies bypass the ceiling")
}
