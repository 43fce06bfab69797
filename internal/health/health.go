// Package health probes the dashboard's dependencies and reduces the results
// to one overall status.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const (
	DefaultTimeout         = 3 * time.Second
	DefaultDegradedLatency = time.Second
)

type Target struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	// Kind is informational ("http", "database"); any JSON {"status"} body is honoured.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
}

type Check struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Kind       string `json:"kind,omitempty"`
	Status     Status `json:"status"`
	LatencyMS  int64  `json:"latencyMs"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Message    string `json:"message,omitempty"`
}

type Summary struct {
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Down     int `json:"down"`
	Total    int `json:"total"`
}

type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Summary   Summary   `json:"summary"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Reduce is down if anything is down, else degraded if anything is degraded,
// else healthy. No statuses is healthy.
func Reduce(statuses ...Status) Status {
	out := StatusHealthy
	for _, s := range statuses {
		switch s {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			out = StatusDegraded
		}
	}
	return out
}

type Checker struct {
	Targets         []Target
	Timeout         time.Duration
	DegradedLatency time.Duration
	Client          *http.Client
	Now             func() time.Time
}

// Check probes every target concurrently, each bounded by Timeout.
func (c *Checker) Check(ctx context.Context) Report {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	checks := make([]Check, len(c.Targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range c.Targets {
		g.Go(func() error {
			checks[i] = c.probe(gctx, target)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Checks: checks, CheckedAt: now().UTC()}
	statuses := make([]Status, 0, len(checks))
	for _, ch := range checks {
		statuses = append(statuses, ch.Status)
		switch ch.Status {
		case StatusHealthy:
			report.Summary.Healthy++
		case StatusDegraded:
			report.Summary.Degraded++
		default:
			report.Summary.Down++
		}
	}
	report.Summary.Total = len(checks)
	report.Status = Reduce(statuses...)
	return report
}

func (c *Checker) probe(ctx context.Context, t Target) Check {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	slow := c.DegradedLatency
	if slow <= 0 {
		slow = DefaultDegradedLatency
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	check := Check{Name: t.Name, URL: t.URL, Kind: t.Kind}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		check.Status = StatusDown
		check.Message = err.Error()
		return check
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		check.LatencyMS = time.Since(start).Milliseconds()
		check.Status = StatusDown
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			check.Message = fmt.Sprintf("timeout after %s", timeout)
		} else {
			check.Message = err.Error()
		}
		return check
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	latency := time.Since(start)
	check.LatencyMS = latency.Milliseconds()
	check.HTTPStatus = resp.StatusCode

	switch {
	case resp.StatusCode >= 500:
		check.Status = StatusDown
		check.Message = resp.Status
	case resp.StatusCode >= 300:
		check.Status = StatusDegraded
		check.Message = resp.Status
	case latency > slow:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("slow response (%dms)", check.LatencyMS)
	default:
		check.Status = StatusHealthy
	}
	if reported, msg, ok := reportedStatus(body); ok {
		check.Status = Reduce(check.Status, reported)
		if msg != "" {
			check.Message = msg
		}
	}
	return check
}

// reportedStatus reads {"status": "...", "message"|"error": "..."} bodies
// returned by dependency status endpoints.
func reportedStatus(body []byte) (Status, string, bool) {
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil || payload.Status == "" {
		return "", "", false
	}
	msg := payload.Message
	if msg == "" {
		msg = payload.Error
	}
	switch strings.ToLower(payload.Status) {
	case "ok", "healthy", "up", "connected", "pass":
		return StatusHealthy, msg, true
	case "degraded", "slow", "warn", "warning":
		return StatusDegraded, msg, true
	case "down", "error", "unhealthy", "disconnected", "fail":
		return StatusDown, msg, true
	}
	return "", "", false
}
