package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// HealthStatus is the state of one check or of the server as a whole.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of a single check.
type HealthCheck struct {
	Name     string       `json:"name"`
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Critical bool         `json:"critical"`
}

// HealthResponse is the body served at /healthz.
type HealthResponse struct {
	Status      HealthStatus  `json:"status"`
	Uptime      string        `json:"uptime"`
	Connections int           `json:"connections"`
	Checks      []HealthCheck `json:"checks"`
}

type watchReporter interface {
	IsWatching() bool
}

// Health runs the server's checks. A failed critical check makes the
// server unhealthy; a failed non-critical one only degrades it.
func (s *DevServer) Health() HealthResponse {
	checks := []HealthCheck{s.checkOutput()}
	if w, ok := s.opts.Detector.(watchReporter); ok && s.Addr() != "" {
		checks = append(checks, checkWatcher(w))
	}

	status := HealthStatusHealthy
	for _, c := range checks {
		if c.Status == HealthStatusHealthy {
			continue
		}
		if c.Critical {
			status = HealthStatusUnhealthy
			break
		}
		status = HealthStatusDegraded
	}

	return HealthResponse{
		Status:      status,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Connections: s.opts.Channel.ConnectionCount(),
		Checks:      checks,
	}
}

func (s *DevServer) checkOutput() HealthCheck {
	check := HealthCheck{Name: "output", Status: HealthStatusHealthy, Critical: true}
	info, err := os.Stat(s.opts.OutputDir)
	switch {
	case err != nil:
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	case !info.IsDir():
		check.Status = HealthStatusUnhealthy
		check.Message = s.opts.OutputDir + " is not a directory"
	}
	return check
}

func checkWatcher(w watchReporter) HealthCheck {
	check := HealthCheck{Name: "watcher", Status: HealthStatusHealthy}
	if !w.IsWatching() {
		check.Status = HealthStatusDegraded
		check.Message = "change detection is not running"
	}
	return check
}

func (s *DevServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.Health()

	w.Header().Set("Content-Type", "application/json")
	if health.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(health); err != nil {
		s.logger.Error(r.Context(), err, "cannot encode health response")
	}
}
