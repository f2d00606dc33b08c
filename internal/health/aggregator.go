// Package health maintains process-wide operational counters and answers
// health queries from cached state, never touching the bus or the session
// store directly.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alchemist_bus_connected",
		Help: "1 while the bus connection is up",
	})
	activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alchemist_active_sessions",
		Help: "Live dialog sessions",
	})
	modelReachableGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alchemist_model_reachable",
		Help: "1 while the model provider answers health probes",
	})
)

// Snapshot is the health query response payload.
type Snapshot struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	ModelStatus   string         `json:"model_status"`
	ActiveDialogs int            `json:"active_dialogs"`
	Metadata      map[string]any `json:"metadata"`
}

// Aggregator collects last-write-wins state from the bus gateway, the
// session manager, and the model probe. All record methods are
// non-blocking; Snapshot reads cached values only.
type Aggregator struct {
	start   time.Time
	version string

	mu             sync.RWMutex
	busState       string
	busAttempt     int
	sessions       int
	modelReachable bool
}

// NewAggregator starts the uptime clock at construction.
func NewAggregator(version string) *Aggregator {
	return &Aggregator{
		start:    time.Now(),
		version:  version,
		busState: "disconnected",
	}
}

// RecordBusState stores the latest connection state and attempt counter.
func (a *Aggregator) RecordBusState(state string, attempt int) {
	a.mu.Lock()
	a.busState = state
	a.busAttempt = attempt
	a.mu.Unlock()

	if state == "connected" {
		busStateGauge.Set(1)
	} else {
		busStateGauge.Set(0)
	}
}

// RecordSessionCount stores the live session count.
func (a *Aggregator) RecordSessionCount(n int) {
	a.mu.Lock()
	a.sessions = n
	a.mu.Unlock()
	activeSessionsGauge.Set(float64(n))
}

// RecordModelReachable stores the latest model probe outcome.
func (a *Aggregator) RecordModelReachable(ok bool) {
	a.mu.Lock()
	a.modelReachable = ok
	a.mu.Unlock()
	if ok {
		modelReachableGauge.Set(1)
	} else {
		modelReachableGauge.Set(0)
	}
}

// Snapshot computes the current health view. Status is "healthy" when the
// bus is connected and the model answers probes, "degraded" otherwise.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := "degraded"
	if a.busState == "connected" && a.modelReachable {
		status = "healthy"
	}
	modelStatus := "unreachable"
	if a.modelReachable {
		modelStatus = "healthy"
	}
	return Snapshot{
		Status:        status,
		Version:       a.version,
		UptimeSeconds: int64(time.Since(a.start).Seconds()),
		ModelStatus:   modelStatus,
		ActiveDialogs: a.sessions,
		Metadata: map[string]any{
			"bus_state":       a.busState,
			"connect_attempt": a.busAttempt,
		},
	}
}

// Payload renders the snapshot as a wire map for response envelopes.
func (a *Aggregator) Payload() map[string]any {
	s := a.Snapshot()
	return map[string]any{
		"status":         s.Status,
		"version":        s.Version,
		"uptime_seconds": s.UptimeSeconds,
		"model_status":   s.ModelStatus,
		"active_dialogs": s.ActiveDialogs,
		"metadata":       s.Metadata,
	}
}
