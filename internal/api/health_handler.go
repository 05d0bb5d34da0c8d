package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/property-imports/internal/pkg/httputil"
)

// Component states reported by a probe.
const (
	stateUp       = "up"
	stateDown     = "down"
	stateDegraded = "degraded"

	notConfigured = "not configured"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string                    `json:"status"` // healthy, degraded or unhealthy
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the result of one probe.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// BrokerConn is the part of *amqp.Connection the broker probe needs.
type BrokerConn interface {
	IsClosed() bool
}

// criticalChecks make the service unhealthy when they are configured and down.
// The lock service is not among them: without it batches run unlocked.
var criticalChecks = []string{"database", "rabbitmq"}

type probe struct {
	name string
	run  func(ctx context.Context) ComponentCheck
}

// HealthChecker probes the database, the lock service and the broker. Any
// dependency can be nil and is then reported as not configured.
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	broker  BrokerConn
	started time.Time
}

func NewHealthChecker(db *sql.DB, redisClient *redis.Client, broker BrokerConn) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient, broker: broker, started: time.Now()}
}

// HandleHealth always answers 200 with every probe result.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.probeAll(r.Context())
	httputil.OK(w, HealthStatus{
		Status: determineOverallStatus(checks),
		Uptime: time.Since(hc.started).Round(time.Second).String(),
		Checks: checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive"})
}

// HandleReadiness answers 503 while a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.probeAll(r.Context())
	overall := determineOverallStatus(checks)

	code := http.StatusOK
	if overall == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]interface{}{
		"ready":  code == http.StatusOK,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) probes() []probe {
	return []probe{
		{"database", hc.pingDatabase},
		{"redis", hc.pingRedis},
		{"rabbitmq", hc.brokerState},
		{"imports", hc.processingImports},
	}
}

// probeAll runs every probe concurrently.
func (hc *HealthChecker) probeAll(ctx context.Context) map[string]ComponentCheck {
	probes := hc.probes()
	results := make([]ComponentCheck, len(probes))
	done := make(chan struct{}, len(probes))
	for i, p := range probes {
		go func(i int, p probe) {
			results[i] = p.run(ctx)
			done <- struct{}{}
		}(i, p)
	}
	for range probes {
		<-done
	}

	checks := make(map[string]ComponentCheck, len(probes))
	for i, p := range probes {
		checks[p.name] = results[i]
	}
	return checks
}

func (hc *HealthChecker) pingDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: stateDown, Message: notConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	err := hc.db.PingContext(ctx)
	return timed(time.Since(start), err, time.Second)
}

func (hc *HealthChecker) pingRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: stateDown, Message: notConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	err := hc.redis.Ping(ctx).Err()
	return timed(time.Since(start), err, 500*time.Millisecond)
}

func (hc *HealthChecker) brokerState(context.Context) ComponentCheck {
	switch {
	case hc.broker == nil:
		return ComponentCheck{Status: stateDown, Message: notConfigured}
	case hc.broker.IsClosed():
		return ComponentCheck{Status: stateDown, Message: "connection closed"}
	default:
		return ComponentCheck{Status: stateUp, Message: "connected"}
	}
}

// processingImports counts jobs that are not yet terminal.
func (hc *HealthChecker) processingImports(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: stateDown, Message: notConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	var n int
	err := hc.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM imports WHERE status = 'processing'`).Scan(&n)
	elapsed := time.Since(start).String()
	if err != nil {
		// Migrations may not have run yet.
		return ComponentCheck{Status: stateDegraded, Latency: elapsed, Message: fmt.Sprintf("query failed: %v", err)}
	}
	return ComponentCheck{Status: stateUp, Latency: elapsed, Message: fmt.Sprintf("%d imports processing", n)}
}

func timed(elapsed time.Duration, err error, slow time.Duration) ComponentCheck {
	c := ComponentCheck{Status: stateUp, Latency: elapsed.String(), Message: "connected"}
	switch {
	case err != nil:
		c.Status, c.Message = stateDown, fmt.Sprintf("ping failed: %v", err)
	case elapsed > slow:
		c.Status, c.Message = stateDegraded, fmt.Sprintf("slow response (%s)", elapsed)
	}
	return c
}

func configuredAndDown(c ComponentCheck) bool {
	return c.Status == stateDown && c.Message != notConfigured
}

// determineOverallStatus is unhealthy when a critical check is configured
// and down, degraded when anything else is degraded or down, healthy
// otherwise.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	for _, name := range criticalChecks {
		if c, ok := checks[name]; ok && configuredAndDown(c) {
			return "unhealthy"
		}
	}
	for _, c := range checks {
		if c.Status == stateDegraded || configuredAndDown(c) {
			return "degraded"
		}
	}
	return "healthy"
}
