package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clawlegion/internal/health"
)

const defaultMonitorInterval = 30 * time.Second

// Monitor runs the health checker on demand and on a ticker, keeping the last
// report and feeding it to the metrics. Targets can be swapped at runtime.
type Monitor struct {
	base     health.Checker
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	targets []health.Target
	last    *health.Report
}

func NewMonitor(checker health.Checker, interval time.Duration, metrics *Metrics, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	targets := append([]health.Target(nil), checker.Targets...)
	checker.Targets = nil
	return &Monitor{base: checker, interval: interval, metrics: metrics, logger: logger, targets: targets}
}

// SetTargets replaces the probed dependencies; the next check uses them.
func (m *Monitor) SetTargets(targets []health.Target) {
	m.mu.Lock()
	m.targets = append([]health.Target(nil), targets...)
	m.mu.Unlock()
}

func (m *Monitor) Targets() []health.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]health.Target(nil), m.targets...)
}

// Check probes all targets now and records the result.
func (m *Monitor) Check(ctx context.Context) health.Report {
	c := m.base
	c.Targets = m.Targets()
	report := c.Check(ctx)
	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ObserveReport(report)
	}
	if report.Status != health.StatusHealthy {
		m.logger.Warn("dependencies unhealthy", "status", report.Status,
			"down", report.Summary.Down, "degraded", report.Summary.Degraded)
	}
	return report
}

// Latest returns the most recent report, if any check has run.
func (m *Monitor) Latest() (health.Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return health.Report{}, false
	}
	return *m.last, true
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
