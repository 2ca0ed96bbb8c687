// Package health provides health check and monitoring capabilities for the
// overlay network core. This package implements health checks for paths,
// link sessions, the router contact store, and overall system status.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	// StatusHealthy indicates the component is functioning normally
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is functioning but with reduced capacity
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not functioning properly
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name           string                 `json:"name"`
	Status         Status                 `json:"status"`
	Message        string                 `json:"message,omitempty"`
	LastChecked    time.Time              `json:"last_checked"`
	Details        map[string]interface{} `json:"details,omitempty"`
	ResponseTimeMs int64                  `json:"response_time_ms,omitempty"`
}

// OverallHealth represents the overall health of the router
type OverallHealth struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime"`
}

// Checker defines the interface for health checks
type Checker interface {
	// Check performs a health check and returns the result
	Check(ctx context.Context) ComponentHealth
	// Name returns the name of the component being checked
	Name() string
}

// Monitor manages health checks for various components
type Monitor struct {
	mu         sync.RWMutex
	checkers   map[string]Checker
	lastChecks map[string]ComponentHealth
	startTime  time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		checkers:   make(map[string]Checker),
		lastChecks: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// RegisterChecker registers a health checker for a component
func (m *Monitor) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[checker.Name()] = checker
}

// UnregisterChecker removes a health checker
func (m *Monitor) UnregisterChecker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, name)
}

// Check performs health checks on all registered components
func (m *Monitor) Check(ctx context.Context) OverallHealth {
	m.mu.Lock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, checker := range m.checkers {
		checkers = append(checkers, checker)
	}
	m.mu.Unlock()

	// Perform checks concurrently
	resultsCh := make(chan ComponentHealth, len(checkers))
	for _, checker := range checkers {
		go func(c Checker) {
			startTime := time.Now()
			health := c.Check(ctx)
			health.ResponseTimeMs = time.Since(startTime).Milliseconds()
			resultsCh <- health
		}(checker)
	}

	// Collect results
	components := make(map[string]ComponentHealth)
	for i := 0; i < len(checkers); i++ {
		health := <-resultsCh
		components[health.Name] = health
	}

	// Update last checks cache
	m.mu.Lock()
	m.lastChecks = components
	m.mu.Unlock()

	// Determine overall status
	overallStatus := StatusHealthy
	for _, health := range components {
		if health.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if health.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return OverallHealth{
		Status:     overallStatus,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

// GetLastCheck returns the last health check result
func (m *Monitor) GetLastCheck() OverallHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth)
	for name, health := range m.lastChecks {
		components[name] = health
	}

	overallStatus := StatusHealthy
	for _, health := range components {
		if health.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if health.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return OverallHealth{
		Status:     overallStatus,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

// PathHealthChecker checks the health of owned paths (pkg/path).
type PathHealthChecker struct {
	getStats func() PathStats
}

// PathStats contains owned-path statistics for health checking.
type PathStats struct {
	ActivePaths  int
	MinRequired  int
	FailedBuilds int
	AverageAge   time.Duration
	MaxAge       time.Duration
}

// NewPathHealthChecker creates a new path health checker.
func NewPathHealthChecker(getStats func() PathStats) *PathHealthChecker {
	return &PathHealthChecker{
		getStats: getStats,
	}
}

// Name returns the checker name.
func (c *PathHealthChecker) Name() string {
	return "paths"
}

// Check performs the health check.
func (c *PathHealthChecker) Check(ctx context.Context) ComponentHealth {
	stats := c.getStats()

	health := ComponentHealth{
		Name:        c.Name(),
		LastChecked: time.Now(),
		Details: map[string]interface{}{
			"active_paths":  stats.ActivePaths,
			"min_required":  stats.MinRequired,
			"failed_builds": stats.FailedBuilds,
			"average_age":   stats.AverageAge.String(),
			"max_age":       stats.MaxAge.String(),
		},
	}

	// Determine status based on established-path count.
	if stats.ActivePaths == 0 {
		health.Status = StatusUnhealthy
		health.Message = "No established paths available"
	} else if stats.ActivePaths < stats.MinRequired {
		health.Status = StatusDegraded
		health.Message = "Path count below minimum threshold"
	} else {
		health.Status = StatusHealthy
		health.Message = "Paths functioning normally"
	}

	return health
}

// LinkSessionHealthChecker checks the health of IWP link sessions (pkg/iwp).
type LinkSessionHealthChecker struct {
	getStats func() LinkSessionStats
}

// LinkSessionStats contains link-session statistics for health checking.
type LinkSessionStats struct {
	TotalSessions       int
	EstablishedSessions int
	FailedSessions      int
	AverageLatency      time.Duration
	HandshakeAttempts   int
}

// NewLinkSessionHealthChecker creates a new link-session health checker.
func NewLinkSessionHealthChecker(getStats func() LinkSessionStats) *LinkSessionHealthChecker {
	return &LinkSessionHealthChecker{
		getStats: getStats,
	}
}

// Name returns the checker name.
func (c *LinkSessionHealthChecker) Name() string {
	return "link_sessions"
}

// Check performs the health check.
func (c *LinkSessionHealthChecker) Check(ctx context.Context) ComponentHealth {
	stats := c.getStats()

	health := ComponentHealth{
		Name:        c.Name(),
		LastChecked: time.Now(),
		Details: map[string]interface{}{
			"total_sessions":       stats.TotalSessions,
			"established_sessions": stats.EstablishedSessions,
			"failed_sessions":      stats.FailedSessions,
			"average_latency":      stats.AverageLatency.String(),
			"handshake_attempts":   stats.HandshakeAttempts,
		},
	}

	// Determine status based on established-session health.
	if stats.EstablishedSessions == 0 && stats.HandshakeAttempts > 0 {
		health.Status = StatusUnhealthy
		health.Message = "No established link sessions available"
	} else if stats.FailedSessions > stats.EstablishedSessions {
		health.Status = StatusDegraded
		health.Message = "High link-session failure rate"
	} else {
		health.Status = StatusHealthy
		health.Message = "Link sessions functioning normally"
	}

	return health
}

// RCStoreHealthChecker checks the freshness of the router contact store
// (pkg/rc).
type RCStoreHealthChecker struct {
	getStats func() RCStoreStats
}

// RCStoreStats contains router-contact-store statistics for health checking.
type RCStoreStats struct {
	LastRefresh     time.Time
	RefreshAge      time.Duration
	RouterCount     int
	IntroPointCount int
}

// NewRCStoreHealthChecker creates a new RC store health checker.
func NewRCStoreHealthChecker(getStats func() RCStoreStats) *RCStoreHealthChecker {
	return &RCStoreHealthChecker{
		getStats: getStats,
	}
}

// Name returns the checker name.
func (d *RCStoreHealthChecker) Name() string {
	return "rc_store"
}

// Check performs the health check.
func (d *RCStoreHealthChecker) Check(ctx context.Context) ComponentHealth {
	stats := d.getStats()

	health := ComponentHealth{
		Name:        d.Name(),
		LastChecked: time.Now(),
		Details: map[string]interface{}{
			"last_refresh":      stats.LastRefresh.Format(time.RFC3339),
			"refresh_age":       stats.RefreshAge.String(),
			"router_count":      stats.RouterCount,
			"intro_point_count": stats.IntroPointCount,
		},
	}

	// The RC store should be refreshed often enough to avoid sampling
	// hops whose contacts have quietly expired.
	if stats.RefreshAge > 3*time.Hour {
		health.Status = StatusUnhealthy
		health.Message = "Router contact store is stale"
	} else if stats.RouterCount < 100 {
		health.Status = StatusDegraded
		health.Message = "Low router count in contact store"
	} else {
		health.Status = StatusHealthy
		health.Message = "Router contact store is current"
	}

	return health
}
