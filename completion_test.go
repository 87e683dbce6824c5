package station

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundBarrier_WaitsForEveryUnit(t *testing.T) {
	var (
		barrier  roundBarrier
		finished atomic.Int64
		release  = make(chan struct{})
	)

	for i := 0; i < 20; i++ {
		barrier.Go(func() {
			<-release
			finished.Add(1)
		})
	}

	assert.Equal(t, int64(20), barrier.Started())
	assert.Equal(t, int64(20), barrier.Outstanding())

	waited := make(chan struct{})
	go func() {
		barrier.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while units were outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}

	assert.Equal(t, int64(20), finished.Load())
	assert.Equal(t, int64(0), barrier.Outstanding())
}

func TestRoundBarrier_Empty(t *testing.T) {
	var barrier roundBarrier

	done := make(chan struct{})
	go func() {
		barrier.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait on an empty round blocked")
	}
	assert.Equal(t, int64(0), barrier.Started())
}

func TestRoundBarrier_EarlyExitsCount(t *testing.T) {
	var barrier roundBarrier

	// Units that return immediately, as an aborted attempt does.
	for i := 0; i < 5; i++ {
		barrier.Go(func() {})
	}
	barrier.Wait()

	assert.Equal(t, int64(5), barrier.Started())
	assert.Equal(t, int64(0), barrier.Outstanding())
}
