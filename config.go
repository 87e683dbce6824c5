package station

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config errors
var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrNoPorts            = errors.New("no target ports configured")
	ErrInvalidPort        = errors.New("invalid target port")
	ErrInvalidConcurrency = errors.New("invalid concurrency value")
	ErrInvalidWaitTime    = errors.New("invalid wait time")
	ErrInvalidTimeout     = errors.New("invalid connect timeout")
	ErrInvalidDialRate    = errors.New("invalid dial rate")
	ErrInvalidBuffer      = errors.New("invalid result buffer size")
	ErrInvalidExclusion   = errors.New("invalid exclusion policy")
	ErrInvalidScanCount   = errors.New("invalid scan count")
)

// Defaults shared by DefaultConfig and NewScanBuilder.
const (
	DefaultParallelAttempts = 1000
	DefaultWaitTime         = 5 * time.Second
	DefaultResultBuffer     = 16
)

// ScanBudget is the number of rounds a scan may run: either Infinite or
// Limited(n). The zero value is Limited(0), which runs no rounds.
type ScanBudget struct {
	infinite  bool
	remaining uint32
}

// Infinite returns a budget that is never exhausted.
func Infinite() ScanBudget {
	return ScanBudget{infinite: true}
}

// Limited returns a budget of n rounds.
func Limited(n uint32) ScanBudget {
	return ScanBudget{remaining: n}
}

// IsInfinite reports whether the budget never runs out.
func (b ScanBudget) IsInfinite() bool {
	return b.infinite
}

// Remaining returns the rounds left on a limited budget.
func (b ScanBudget) Remaining() uint32 {
	return b.remaining
}

func (b ScanBudget) exhausted() bool {
	return !b.infinite && b.remaining == 0
}

// consume spends one round. Infinite budgets are left untouched.
func (b *ScanBudget) consume() {
	if !b.infinite && b.remaining > 0 {
		b.remaining--
	}
}

func (b ScanBudget) String() string {
	if b.infinite {
		return "infinite"
	}
	return strconv.FormatUint(uint64(b.remaining), 10)
}

// MarshalJSON encodes the budget as "infinite" or a round count.
func (b ScanBudget) MarshalJSON() ([]byte, error) {
	if b.infinite {
		return []byte(`"infinite"`), nil
	}
	return []byte(strconv.FormatUint(uint64(b.remaining), 10)), nil
}

// UnmarshalJSON accepts "infinite" or a non-negative round count.
func (b *ScanBudget) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(s, "infinite") {
			*b = Infinite()
			return nil
		}
		return fmt.Errorf("%w: %q", ErrInvalidScanCount, s)
	}

	var n uint32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidScanCount, string(data))
	}
	*b = Limited(n)
	return nil
}

// Config represents the configuration for the station scanner and console
type Config struct {
	// Scan configuration
	Ports            []int      `json:"ports"`
	ParallelAttempts int        `json:"parallel_attempts"`
	WaitTimeMillis   int        `json:"wait_time_ms"`
	ScanCount        ScanBudget `json:"scan_count"`
	Exclusion        string     `json:"exclusion"`
	ExcludedPeers    []string   `json:"excluded_peers"`
	DialRate         float64    `json:"dial_rate"`
	ConnectTimeoutMs int        `json:"connect_timeout_ms"`
	ResultBuffer     int        `json:"result_buffer"`

	// Logging configuration
	LogDir    string `json:"log_dir"`
	LogLevel  string `json:"log_level"`
	LogStdout bool   `json:"log_stdout"`

	// Metrics configuration
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPort    string `json:"metrics_port"`
}

// LoadConfig loads configuration from a JSON file. Fields absent from the
// file keep their DefaultConfig values.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewAppError(err, ErrCodeValidation, "failed to parse config file", "config", "LoadConfig").
			AddContext("path", configPath)
	}

	if config.LogDir == "" {
		config.LogDir = "station/logging"
	}

	return config, nil
}

// SaveConfig saves the current configuration to a file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Ports:            []int{},
		ParallelAttempts: DefaultParallelAttempts,
		WaitTimeMillis:   int(DefaultWaitTime / time.Millisecond),
		ScanCount:        Limited(1),
		Exclusion:        ExclusionConnectOnce,
		ExcludedPeers:    []string{},
		DialRate:         0,
		ConnectTimeoutMs: 0,
		ResultBuffer:     DefaultResultBuffer,

		LogDir:    "station/logging",
		LogLevel:  "info",
		LogStdout: true,

		MetricsEnabled: false,
		MetricsPort:    "9464",
	}
}

// WaitTime returns the inter-round pacing delay.
func (c *Config) WaitTime() time.Duration {
	return time.Duration(c.WaitTimeMillis) * time.Millisecond
}

// ConnectTimeout returns the per-attempt connect timeout; zero leaves it to
// the network stack.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ExclusionPolicy builds the configured exclusion policy.
func (c *Config) ExclusionPolicy() (PeerExclusion, error) {
	switch strings.ToLower(strings.TrimSpace(c.Exclusion)) {
	case "", ExclusionConnectOnce:
		return ConnectOnce(), nil
	case ExclusionNever:
		return Never(), nil
	case ExclusionPreExcluded:
		peers := make([]netip.AddrPort, 0, len(c.ExcludedPeers))
		for _, raw := range c.ExcludedPeers {
			ap, err := netip.ParseAddrPort(strings.TrimSpace(raw))
			if err != nil {
				return PeerExclusion{}, fmt.Errorf("%w: excluded peer %q: %v", ErrInvalidExclusion, raw, err)
			}
			peers = append(peers, ap)
		}
		return PreExcluded(peers...), nil
	default:
		return PeerExclusion{}, fmt.Errorf("%w: %q", ErrInvalidExclusion, c.Exclusion)
	}
}

// Validate checks if the configuration is valid. Failures are reported as
// an *AppError with ErrCodeValidation wrapping one of the Config errors.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return NewAppError(err, ErrCodeValidation, "invalid configuration", "config", "Validate")
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Ports) == 0 {
		return ErrNoPorts
	}
	for _, port := range c.Ports {
		if !ValidatePort(port) {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}

	if c.ParallelAttempts < 1 {
		return fmt.Errorf("%w: parallel attempts %d", ErrInvalidConcurrency, c.ParallelAttempts)
	}

	if c.WaitTimeMillis < 0 {
		return fmt.Errorf("%w: %dms", ErrInvalidWaitTime, c.WaitTimeMillis)
	}

	if c.ConnectTimeoutMs < 0 {
		return fmt.Errorf("%w: %dms", ErrInvalidTimeout, c.ConnectTimeoutMs)
	}

	if c.DialRate < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDialRate, c.DialRate)
	}

	if c.ResultBuffer < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBuffer, c.ResultBuffer)
	}

	if _, err := c.ExclusionPolicy(); err != nil {
		return err
	}

	// Log level validation
	c.LogLevel = parseLogLevel(c.LogLevel).String()

	return nil
}
