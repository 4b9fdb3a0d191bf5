package vault

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/healthcheck"
)

// HealthCheckConfig tunes the liveness probe Start installs against the
// vault's persistence backend, per spec's health/lifecycle surface.
type HealthCheckConfig struct {
	// Interval is the time between successive probes.
	Interval time.Duration
	// Attempts is the number of consecutive failures tolerated before the
	// Shutdown callback fires.
	Attempts int
	// Backoff is the wait between retry attempts within one failed probe.
	Backoff time.Duration
	// Timeout bounds a single probe attempt.
	Timeout time.Duration
}

// DefaultHealthCheckConfig mirrors the conservative defaults the teacher's
// own daemon wires its persistence/chain-backend checks with.
func DefaultHealthCheckConfig() *HealthCheckConfig {
	return &HealthCheckConfig{
		Interval: time.Minute,
		Attempts: 2,
		Backoff:  30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Start installs a background liveness monitor against the vault's store,
// invoking shutdown if the persistence backend fails every probe attempt
// within the configured window. It does not block; call Stop to tear the
// monitor down.
func (v *Vault) Start(cfg *HealthCheckConfig, shutdown func(err error)) error {
	if cfg == nil {
		cfg = DefaultHealthCheckConfig()
	}

	storeCheck := &healthcheck.Observation{
		Check: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			return v.store.View(ctx, func(StoreTx) error { return nil })
		},
		Interval: cfg.Interval,
		Attempts: cfg.Attempts,
		Backoff:  cfg.Backoff,
		Timeout:  cfg.Timeout,
	}

	v.healthMonitor = healthcheck.NewMonitor(&healthcheck.Config{
		Checks:   []*healthcheck.Observation{storeCheck},
		Shutdown: shutdown,
	})
	return v.healthMonitor.Start()
}

// Stop tears down the liveness monitor started by Start, then closes the
// vault's store.
func (v *Vault) Stop() error {
	if v.healthMonitor != nil {
		if err := v.healthMonitor.Stop(); err != nil {
			log.Errorf("error stopping health monitor: %v", err)
		}
	}
	return v.Close()
}
