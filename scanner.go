package station

import (
	"context"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// EstablishedConnection is a TCP stream that completed its handshake, handed
// to the consumer together with the endpoint it was dialed at.
type EstablishedConnection struct {
	Conn      net.Conn
	Peer      netip.AddrPort
	Local     netip.Addr
	Interface string
	Round     uint64
	Found     time.Time
}

// Close closes the underlying stream.
func (ec *EstablishedConnection) Close() error {
	if ec == nil || ec.Conn == nil {
		return nil
	}
	return ec.Conn.Close()
}

// Dialer opens a TCP connection to target from the given local address.
type Dialer interface {
	DialContext(ctx context.Context, local netip.Addr, target netip.AddrPort) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, local netip.Addr, target netip.AddrPort) (net.Conn, error)

// DialContext calls f.
func (f DialerFunc) DialContext(ctx context.Context, local netip.Addr, target netip.AddrPort) (net.Conn, error) {
	return f(ctx, local, target)
}

// TCPDialer returns the Dialer used by default. The socket is bound to
// (local, 0) before connecting. A zero timeout leaves the connect timeout to
// the operating system.
func TCPDialer(timeout time.Duration) Dialer {
	return tcpDialer{timeout: timeout}
}

type tcpDialer struct {
	timeout time.Duration
}

func (d tcpDialer) DialContext(ctx context.Context, local netip.Addr, target netip.AddrPort) (net.Conn, error) {
	dialer := net.Dialer{
		LocalAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(local, 0)),
		Timeout:   d.timeout,
	}
	return dialer.DialContext(ctx, "tcp4", target.String())
}

// dispatcher runs connect units. Every unit holds one permit for the whole
// attempt, delivery included.
type dispatcher struct {
	permits   *semaphore.Weighted
	limiter   *rate.Limiter
	dialer    Dialer
	exclusion *exclusionSet
	results   chan<- *EstablishedConnection
	metrics   *Metrics
	logger    *zap.Logger
}

func newDispatcher(permits int64, limiter *rate.Limiter, dialer Dialer, exclusion *exclusionSet,
	results chan<- *EstablishedConnection, metrics *Metrics, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		permits:   semaphore.NewWeighted(permits),
		limiter:   limiter,
		dialer:    dialer,
		exclusion: exclusion,
		results:   results,
		metrics:   metrics,
		logger:    logger,
	}
}

// acquire takes one permit for the next unit. It blocks while every permit
// is in use, so no more than the permit count of units ever exist at once.
func (d *dispatcher) acquire(ctx context.Context) bool {
	if err := d.permits.Acquire(ctx, 1); err != nil {
		return false
	}
	return true
}

// connect is one unit of work. The caller must hold a permit from acquire;
// connect releases it. Failures end the unit without reporting anything to
// the consumer.
func (d *dispatcher) connect(ctx context.Context, round uint64, c Candidate) {
	defer d.permits.Release(1)

	// Consumer gone: no socket is created.
	if ctx.Err() != nil {
		d.metrics.observeAttempt(outcomeAborted)
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.metrics.observeAttempt(outcomeAborted)
			return
		}
	}

	d.metrics.addInFlight(1)
	conn, err := d.dialer.DialContext(ctx, c.Local, c.Target)
	d.metrics.addInFlight(-1)
	if err != nil {
		d.metrics.observeAttempt(classifyDialError(err))
		return
	}
	d.metrics.observeAttempt(outcomeSuccess)

	ec := &EstablishedConnection{
		Conn:      conn,
		Peer:      c.Target,
		Local:     c.Local,
		Interface: c.Interface,
		Round:     round,
		Found:     time.Now(),
	}
	d.deliver(ctx, ec)
}

// deliver hands ec to the consumer, or closes it if the consumer has gone.
func (d *dispatcher) deliver(ctx context.Context, ec *EstablishedConnection) {
	select {
	case d.results <- ec:
		d.exclusion.Record(ec.Peer)
		d.metrics.observeDelivered()
		d.logger.Info("Found peer",
			zap.String("peer", ec.Peer.String()),
			zap.String("interface", ec.Interface),
			zap.Uint64("round", ec.Round),
		)
	case <-ctx.Done():
		if err := ec.Close(); err != nil {
			d.logger.Debug("Failed to close undelivered connection",
				zap.String("peer", ec.Peer.String()),
				zap.Error(err),
			)
		}
	}
}
