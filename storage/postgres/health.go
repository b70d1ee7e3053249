package postgres

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HealthState classifies the server backend by probe latency.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

const (
	healthInterval        = 30 * time.Second
	healthProbeTimeout    = 5 * time.Second
	healthMaxFailures     = 3
	healthDegradedLatency = 100 * time.Millisecond
)

// monitorHealth probes the pool on a fixed interval. Each probe checks
// out a client under a timeout and runs a vector-type round-trip, so a
// broken pgvector registration is caught as well as a dead connection.
// After healthMaxFailures consecutive failed probes the pool's
// connections are reset so the next checkout re-establishes
// connectivity; the monitor never brings the process down on its own.
func (a *Adapter) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, latency, err := a.probe(ctx)
			if err != nil {
				failures++
				a.logger.Warn("postgres: health probe failed", "consecutive", failures, "error", err)
				if failures >= healthMaxFailures {
					a.logger.Error("postgres: pool unhealthy, resetting connections", "consecutive", failures)
					a.pool.Reset()
					failures = 0
				}
				continue
			}
			if failures > 0 {
				a.logger.Info("postgres: health restored", "latency", latency)
			}
			failures = 0
			if state == HealthDegraded {
				a.logger.Warn("postgres: probe latency degraded", "latency", latency)
			}
		}
	}
}

// probe runs one health check, retrying transient failures with
// exponential backoff before declaring the probe failed.
func (a *Adapter) probe(ctx context.Context) (HealthState, time.Duration, error) {
	start := time.Now()
	err := backoff.Retry(func() error {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		var distance float64
		return a.pool.QueryRow(probeCtx, `SELECT '[1]'::halfvec(1) <=> '[1]'::halfvec(1)`).Scan(&distance)
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx))
	latency := time.Since(start)
	switch {
	case err != nil:
		return HealthUnhealthy, latency, err
	case latency >= healthDegradedLatency:
		return HealthDegraded, latency, nil
	default:
		return HealthHealthy, latency, nil
	}
}
