package station

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ScanBuilder collects scan options. Nothing is validated until Dispatch.
type ScanBuilder struct {
	budget           ScanBudget
	exclusion        PeerExclusion
	ports            []int
	parallelAttempts int
	waitTime         time.Duration
	dialRate         float64
	connectTimeout   time.Duration
	resultBuffer     int

	logger    *zap.Logger
	metrics   *Metrics
	source    InterfaceSource
	dialer    Dialer
	configErr error
}

// NewScanBuilder returns a builder for a single round with ConnectOnce
// exclusion, DefaultParallelAttempts permits and DefaultWaitTime pacing.
func NewScanBuilder() *ScanBuilder {
	return &ScanBuilder{
		budget:           Limited(1),
		exclusion:        ConnectOnce(),
		parallelAttempts: DefaultParallelAttempts,
		waitTime:         DefaultWaitTime,
		resultBuffer:     DefaultResultBuffer,
	}
}

// FromConfig applies every scan setting found in cfg. Ports already added to
// the builder are replaced.
func (b *ScanBuilder) FromConfig(cfg *Config) *ScanBuilder {
	b.ports = append([]int(nil), cfg.Ports...)
	b.parallelAttempts = cfg.ParallelAttempts
	b.waitTime = cfg.WaitTime()
	b.budget = cfg.ScanCount
	b.dialRate = cfg.DialRate
	b.connectTimeout = cfg.ConnectTimeout()
	b.resultBuffer = cfg.ResultBuffer

	policy, err := cfg.ExclusionPolicy()
	if err != nil {
		b.configErr = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		return b
	}
	b.exclusion = policy
	return b
}

// ScanCount sets the round budget.
func (b *ScanBuilder) ScanCount(budget ScanBudget) *ScanBuilder {
	b.budget = budget
	return b
}

// ExcludedPeers sets the exclusion policy.
func (b *ScanBuilder) ExcludedPeers(policy PeerExclusion) *ScanBuilder {
	b.exclusion = policy
	return b
}

// AddPort adds a target port. It may be called more than once.
func (b *ScanBuilder) AddPort(port uint16) *ScanBuilder {
	b.ports = append(b.ports, int(port))
	return b
}

// ParallelAttempts caps the number of concurrent connect attempts.
func (b *ScanBuilder) ParallelAttempts(n int) *ScanBuilder {
	b.parallelAttempts = n
	return b
}

// WaitTime sets the pause between rounds.
func (b *ScanBuilder) WaitTime(d time.Duration) *ScanBuilder {
	b.waitTime = d
	return b
}

// DialRate limits connect attempts per second across the scan. Zero means
// no limit.
func (b *ScanBuilder) DialRate(perSecond float64) *ScanBuilder {
	b.dialRate = perSecond
	return b
}

// ConnectTimeout bounds each connect attempt. Zero leaves it to the
// operating system.
func (b *ScanBuilder) ConnectTimeout(d time.Duration) *ScanBuilder {
	b.connectTimeout = d
	return b
}

// ResultBuffer sets how many connections may wait unread in the stream.
func (b *ScanBuilder) ResultBuffer(n int) *ScanBuilder {
	b.resultBuffer = n
	return b
}

func (b *ScanBuilder) Logger(logger *zap.Logger) *ScanBuilder {
	b.logger = logger
	return b
}

func (b *ScanBuilder) Metrics(m *Metrics) *ScanBuilder {
	b.metrics = m
	return b
}

// Interfaces replaces the host interface listing.
func (b *ScanBuilder) Interfaces(src InterfaceSource) *ScanBuilder {
	b.source = src
	return b
}

// Dialer replaces the TCP dialer. ConnectTimeout is ignored when set.
func (b *ScanBuilder) Dialer(d Dialer) *ScanBuilder {
	b.dialer = d
	return b
}

func (b *ScanBuilder) validate() error {
	if b.configErr != nil {
		return b.configErr
	}
	if len(b.ports) == 0 {
		return ErrNoPorts
	}
	for _, port := range b.ports {
		if !ValidatePort(port) {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}
	if b.parallelAttempts < 1 {
		return fmt.Errorf("%w: parallel attempts %d", ErrInvalidConcurrency, b.parallelAttempts)
	}
	if b.waitTime < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWaitTime, b.waitTime)
	}
	if b.connectTimeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, b.connectTimeout)
	}
	if b.dialRate < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDialRate, b.dialRate)
	}
	if b.resultBuffer < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBuffer, b.resultBuffer)
	}
	return nil
}

// Dispatch validates the options and starts the scan in the background.
// Invalid options are reported as an *AppError with ErrCodeConfiguration, a
// context that is already done as ErrCodeCancelled.
func (b *ScanBuilder) Dispatch(ctx context.Context) (*Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAppError(err, ErrCodeCancelled, "scan not started", "builder", "Dispatch")
	}
	if err := b.validate(); err != nil {
		return nil, NewAppError(err, ErrCodeConfiguration, "invalid scan configuration", "builder", "Dispatch").
			AddContext("ports", fmt.Sprint(b.ports)).
			AddContext("exclusion", b.exclusion.String())
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	source := b.source
	if source == nil {
		source = SystemInterfaces()
	}
	dialer := b.dialer
	if dialer == nil {
		dialer = TCPDialer(b.connectTimeout)
	}
	var limiter *rate.Limiter
	if b.dialRate > 0 {
		burst := int(b.dialRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(b.dialRate), burst)
	}

	ports := make([]uint16, 0, len(b.ports))
	for _, port := range b.ports {
		ports = append(ports, uint16(port))
	}

	scan := newScan(b.resultBuffer)
	logger = logger.With(
		zap.String("component", "scanner"),
		zap.String("scan_id", scan.id),
	)

	exclusion := newExclusionSet(b.exclusion)
	e := &engine{
		ports:     ports,
		budget:    b.budget,
		wait:      b.waitTime,
		source:    source,
		exclusion: exclusion,
		dispatcher: newDispatcher(int64(b.parallelAttempts), limiter, dialer, exclusion,
			scan.results, b.metrics, logger),
		metrics: b.metrics,
		logger:  logger,
	}

	engineCtx, cancel := context.WithCancel(ctx)
	scan.cancel = cancel
	go func() {
		defer cancel()
		e.run(engineCtx, scan)
	}()

	logger.Debug("Scan dispatched",
		zap.String("exclusion", b.exclusion.String()),
		zap.Int("parallel_attempts", b.parallelAttempts),
	)

	return scan, nil
}
