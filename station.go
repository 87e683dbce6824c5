package station

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scan is a running discovery. Connections arrive on Results in the order
// they complete. The engine stops when its budget runs out, when Close is
// called, or when the context given to Dispatch is cancelled.
type Scan struct {
	id      string
	results chan *EstablishedConnection
	cancel  context.CancelFunc
	done    chan struct{}
	rounds  atomic.Uint64

	closeOnce sync.Once
}

// ID returns the identifier attached to every log line of this scan.
func (s *Scan) ID() string {
	return s.id
}

// Results returns the stream of established connections. The channel is
// closed once the engine has exited.
func (s *Scan) Results() <-chan *EstablishedConnection {
	return s.results
}

// Done is closed when the engine has exited.
func (s *Scan) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the engine has exited.
func (s *Scan) Wait() {
	<-s.done
}

// Rounds returns the number of rounds completed so far.
func (s *Scan) Rounds() uint64 {
	return s.rounds.Load()
}

// Close disconnects the consumer. In-flight attempts are abandoned, the
// engine exits at the next round boundary, and connections left unread in
// the stream are closed. Close blocks until the engine has exited.
func (s *Scan) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		for ec := range s.results {
			ec.Close()
		}
	})
	return nil
}

// engine is the round controller.
type engine struct {
	ports      []uint16
	budget     ScanBudget
	wait       time.Duration
	source     InterfaceSource
	exclusion  *exclusionSet
	dispatcher *dispatcher
	metrics    *Metrics
	logger     *zap.Logger
}

func newScan(resultBuffer int) *Scan {
	return &Scan{
		id:      uuid.New().String(),
		results: make(chan *EstablishedConnection, resultBuffer),
		done:    make(chan struct{}),
	}
}

// run drives rounds until the budget is spent or ctx is cancelled.
func (e *engine) run(ctx context.Context, scan *Scan) {
	defer close(scan.done)
	defer close(scan.results)

	budget := e.budget
	e.logger.Info("Scan started",
		zap.Stringer("budget", budget),
		zap.Int("ports", len(e.ports)),
		zap.Duration("wait_time", e.wait),
	)

	for round := uint64(1); !budget.exhausted(); round++ {
		e.runRound(ctx, round)
		budget.consume()
		scan.rounds.Store(round)

		if ctx.Err() != nil {
			e.logger.Info("Consumer disconnected, stopping scan", zap.Uint64("rounds", round))
			return
		}
		if budget.exhausted() {
			break
		}
		if !sleepContext(ctx, e.wait) {
			e.logger.Info("Consumer disconnected, stopping scan", zap.Uint64("rounds", round))
			return
		}
	}

	e.logger.Info("Scan budget exhausted", zap.Uint64("rounds", scan.rounds.Load()))
}

// runRound enumerates, expands, filters and dispatches, then blocks until
// every unit of the round has exited.
func (e *engine) runRound(ctx context.Context, round uint64) {
	start := time.Now()
	logger := e.logger.With(zap.Uint64("round", round))
	logger.Info("Starting scan round")

	var barrier roundBarrier
	excluded := 0

	for _, subnet := range enumerateSubnets(e.source, logger) {
		logger.Debug("Scanning subnet",
			zap.String("interface", subnet.Interface),
			zap.Stringer("subnet", subnet.Prefix),
			zap.Uint64("hosts", subnet.HostCount()),
		)

		subnet.ForEachCandidate(e.ports, func(c Candidate) bool {
			if ctx.Err() != nil {
				return false
			}
			if e.exclusion.Excluded(c.Target) {
				excluded++
				return true
			}
			if !e.dispatcher.acquire(ctx) {
				return false
			}
			barrier.Go(func() {
				e.dispatcher.connect(ctx, round, c)
			})
			return true
		})
	}

	logger.Debug("Dispatched connect tasks",
		zap.Int64("tasks", barrier.Started()),
		zap.Int("excluded", excluded),
	)

	barrier.Wait()

	elapsed := time.Since(start)
	e.metrics.observeRound(barrier.Started(), elapsed)
	logger.Info("Scan round complete",
		zap.Int64("tasks", barrier.Started()),
		zap.String("duration", FormatDuration(elapsed)),
	)
}

// sleepContext waits for d, returning false if ctx is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
