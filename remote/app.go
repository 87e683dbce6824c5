package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ghostshell/app/station"
)

const defaultPort = 1000

const (
	colorForeground = "#F8F8F2"
	colorCyan       = "#8BE9FD"
	colorGreen      = "#50FA7B"
	colorOrange     = "#FFB86C"
	colorRed        = "#FF5555"
	colorComment    = "#6272A4"
)

type styles struct {
	app, title, scanning, connected, sent, error, help lipgloss.Style
}

func newStyles() styles {
	return styles{
		app: lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorCyan)).
			Foreground(lipgloss.Color(colorForeground)),
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorCyan)).
			Bold(true),
		scanning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorOrange)),
		connected: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorGreen)).
			Bold(true),
		sent: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorGreen)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorRed)).
			Bold(true),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorComment)),
	}
}

type peerMsg struct {
	conn *station.EstablishedConnection
}

type scanEndedMsg struct{}

type sentMsg struct {
	commands []station.Command
}

type errMsg struct {
	err error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	scan    *station.Scan
	conn    *station.EstablishedConnection
	logger  *zap.Logger
	styles  styles
	started time.Time

	lastSent string
	err      error
	ended    bool
}

func newModel(scan *station.Scan, logger *zap.Logger) *model {
	return &model{
		scan:    scan,
		logger:  logger,
		styles:  newStyles(),
		started: time.Now(),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(waitForPeer(m.scan), tick())
}

// waitForPeer blocks on the result stream until the first connection
// arrives or the scan ends.
func waitForPeer(scan *station.Scan) tea.Cmd {
	return func() tea.Msg {
		ec, ok := <-scan.Results()
		if !ok {
			return scanEndedMsg{}
		}
		return peerMsg{conn: ec}
	}
}

func closeScan(scan *station.Scan) tea.Cmd {
	return func() tea.Msg {
		scan.Close()
		return nil
	}
}

func sendCommands(ec *station.EstablishedConnection, commands ...station.Command) tea.Cmd {
	return func() tea.Msg {
		for _, c := range commands {
			if err := station.WriteCommand(ec.Conn, c); err != nil {
				return errMsg{err: err}
			}
		}
		return sentMsg{commands: commands}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case peerMsg:
		m.conn = msg.conn
		m.logger.Info("Connected to nano",
			zap.String("peer", msg.conn.Peer.String()),
			zap.String("interface", msg.conn.Interface),
		)
		return m, closeScan(m.scan)
	case scanEndedMsg:
		m.ended = true
		return m, nil
	case tickMsg:
		if m.conn != nil || m.ended {
			return m, nil
		}
		return m, tick()
	case sentMsg:
		names := make([]string, 0, len(msg.commands))
		for _, c := range msg.commands {
			names = append(names, c.String())
		}
		m.lastSent = strings.Join(names, " + ")
		m.err = nil
		return m, nil
	case errMsg:
		m.err = msg.err
		m.logger.Warn("Command write failed", zap.Error(msg.err))
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m, nil
}

func (m *model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	//nolint:exhaustive // Default case handles all unlisted keys
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyUp:
		return m, m.send(station.TiltUp)
	case tea.KeyDown:
		return m, m.send(station.TiltDown)
	case tea.KeyRight:
		return m, m.send(station.PanRight)
	case tea.KeyLeft:
		return m, m.send(station.PanLeft)
	case tea.KeySpace:
		return m, m.send(station.TiltOff, station.PanOff)
	default:
		if msg.String() == "q" {
			return m, tea.Quit
		}
	}

	return m, nil
}

// send is a no-op until a nano is connected.
func (m *model) send(commands ...station.Command) tea.Cmd {
	if m.conn == nil {
		return nil
	}
	return sendCommands(m.conn, commands...)
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("station remote"))
	b.WriteString("\n\n")

	switch {
	case m.conn != nil:
		b.WriteString(m.styles.connected.Render("Connected!"))
		b.WriteString(fmt.Sprintf(" %s via %s\n", m.conn.Peer, m.conn.Interface))
	case m.ended:
		b.WriteString(m.styles.error.Render("Scan finished without finding a nano"))
		b.WriteString("\n")
	default:
		b.WriteString(m.styles.scanning.Render("Scanning for nano"))
		b.WriteString(fmt.Sprintf(" (round %d, %s)\n", m.scan.Rounds()+1,
			station.FormatDuration(time.Since(m.started).Round(time.Second))))
	}

	if m.lastSent != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.sent.Render("Sent command"))
		b.WriteString(" " + m.lastSent + "\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(m.styles.error.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.help.Render("↑/↓ tilt • ←/→ pan • space stop • q quit"))

	return m.styles.app.Render(b.String())
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	portList := flag.String("port", "", "Comma-separated ports to scan (default 1000)")
	infinite := flag.Bool("infinite", true, "Keep scanning until a nano is found (false keeps the configured scan_count)")
	rounds := flag.Uint("rounds", 0, "Stop after this many rounds (overrides -infinite)")
	enableMetrics := flag.Bool("metrics", false, "Serve Prometheus metrics")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("station remote version %s\n", station.AppVersion)
		return nil
	}

	// Load configuration
	var config *station.Config
	if *configPath != "" {
		var err error
		config, err = station.LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		config = station.DefaultConfig()
	}

	// Apply command line overrides
	if *portList != "" {
		ports, err := station.ExtractPortsFromString(*portList)
		if err != nil {
			return fmt.Errorf("%w: %v", station.ErrInvalidConfig, err)
		}
		config.Ports = ports
	}
	if len(config.Ports) == 0 {
		config.Ports = []int{defaultPort}
	}
	if *rounds > 0 {
		config.ScanCount = station.Limited(uint32(*rounds))
	} else if *infinite {
		config.ScanCount = station.Infinite()
	}
	if *enableMetrics {
		config.MetricsEnabled = true
	}
	config.LogStdout = false

	if err := config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", station.ErrInvalidConfig, err)
	}

	logger, err := station.SetupLogger(config)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Station remote starting...",
		zap.Ints("ports", config.Ports),
		zap.Stringer("scan_count", config.ScanCount),
	)

	var metrics *station.Metrics
	if config.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics = station.NewMetrics()
		if err := metrics.Register(registry); err != nil {
			return err
		}
		srv := station.NewMetricsServer(config.MetricsPort, registry, logger)
		station.StartMetricsServer(srv, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Prometheus server shutdown error", zap.Error(err))
			}
		}()
	}

	scan, err := newScanBuilder(config, logger, metrics).Dispatch(ctx)
	if err != nil {
		return err
	}
	defer scan.Close()

	m := newModel(scan, logger)
	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("console failed: %w", err)
	}

	if m.conn != nil {
		m.conn.Close()
	}

	logger.Info("Station remote exited cleanly")
	return nil
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newScanBuilder takes every scan setting, exclusion policy included, from
// the loaded configuration.
func newScanBuilder(config *station.Config, logger *zap.Logger, metrics *station.Metrics) *station.ScanBuilder {
	return station.NewScanBuilder().
		FromConfig(config).
		Logger(logger).
		Metrics(metrics)
}
