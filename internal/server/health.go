package server

import (
	"context"
	"net/http"
	"time"

	"contract-diff/internal/db"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health is the body of GET /health.
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Commit     string                     `json:"commit,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	Backend   string          `json:"backend,omitempty"`
	Circuit   string          `json:"circuit,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
}

// handleContractHealth is the liveness check the front end polls. It never
// touches dependencies.
func (s *Server) handleContractHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeOK(w, "service is running")
}

// HandleHealth reports database and storage health. Any component down
// yields 503; degraded still answers 200.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HandleReady answers 200 once the database and storage both respond.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.db.Ping(ctx) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "message": "database unavailable"})
		return
	}
	if s.store == nil || s.store.Ping(ctx) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "message": "storage unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleLive always answers 200 while the process is serving.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.build.Version,
		Commit:     s.build.Commit,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, 2),
	}

	health.Components["database"] = s.checkDatabaseHealth(ctx)
	health.Components["storage"] = s.checkStorageHealth(ctx)
	health.Status = determineOverallHealth(health.Components)

	return health
}

func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	if s.db == nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.db.Ping(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database ping failed: " + err.Error()}
	}
	h := latencyHealth(time.Since(start), time.Second, "database")

	// Queries may still be failing while the ping succeeds.
	if g, ok := s.records.(interface{ Breaker() *db.CircuitBreaker }); ok {
		state := g.Breaker().State()
		h.Circuit = state.String()
		if state != db.StateClosed {
			h.Status = ComponentStatusDegraded
			h.Message = "database queries failing"
		}
	}
	return h
}

func (s *Server) checkStorageHealth(ctx context.Context) ComponentHealth {
	if s.store == nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "storage not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Backend: s.store.Name(), Message: "storage check failed: " + err.Error()}
	}
	h := latencyHealth(time.Since(start), 2*time.Second, "storage")
	h.Backend = s.store.Name()
	return h
}

// latencyHealth marks a responsive component degraded when it is slower
// than limit.
func latencyHealth(latency, limit time.Duration, name string) ComponentHealth {
	h := ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   name + " healthy",
		LatencyMs: float64(latency.Milliseconds()),
	}
	if latency > limit {
		h.Status = ComponentStatusDegraded
		h.Message = name + " latency high"
	}
	return h
}

func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var down, degraded int
	for _, c := range components {
		switch c.Status {
		case ComponentStatusDown:
			down++
		case ComponentStatusDegraded:
			degraded++
		}
	}

	switch {
	case down > 0:
		return HealthStatusUnhealthy
	case degraded > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
