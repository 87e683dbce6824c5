package station

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// roundBarrier tracks every connect unit started during one round. Wait
// returns once all of them have exited, whatever their outcome.
type roundBarrier struct {
	group   errgroup.Group
	started atomic.Int64
	exited  atomic.Int64
}

// Go starts fn as a unit of the round.
func (b *roundBarrier) Go(fn func()) {
	b.started.Add(1)
	b.group.Go(func() error {
		defer b.exited.Add(1)
		fn()
		return nil
	})
}

// Wait blocks until every unit started with Go has returned.
func (b *roundBarrier) Wait() {
	// Units never return errors; failures are swallowed inside fn.
	_ = b.group.Wait()
}

// Started returns the number of units dispatched this round.
func (b *roundBarrier) Started() int64 {
	return b.started.Load()
}

// Outstanding returns the number of units that have not exited yet.
func (b *roundBarrier) Outstanding() int64 {
	return b.started.Load() - b.exited.Load()
}
