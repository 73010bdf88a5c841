package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ovationhq/ovation-notify/internal/logging"
)

const (
	// DefaultCheckInterval is how often the monitor inspects session expiry.
	DefaultCheckInterval = 60 * time.Second
	// DefaultExpiryThreshold triggers a proactive refresh when time-to-expiry
	// drops below it.
	DefaultExpiryThreshold = 5 * time.Minute
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	CheckInterval   time.Duration
	ExpiryThreshold time.Duration

	// OnSignedOut fires when the session disappears or is already expired:
	// no notifications without authentication, so the owner must tear the
	// connection down without scheduling a reconnect.
	OnSignedOut func()

	// OnRefreshFailed fires when a proactive refresh fails. The owner closes
	// the connection, cascading into the normal error/reconnect path.
	OnRefreshFailed func(err error)
}

// Monitor watches session expiry while a stream connection is open and
// refreshes the credential before it lapses. It runs only between a
// connection opening and closing; the connection manager starts and stops it.
type Monitor struct {
	provider Provider
	cfg      MonitorConfig
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewMonitor creates a session monitor. Zero durations select defaults.
func NewMonitor(provider Provider, cfg MonitorConfig) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.ExpiryThreshold <= 0 {
		cfg.ExpiryThreshold = DefaultExpiryThreshold
	}
	logger := logging.ForService("session-monitor")
	if logger == nil {
		logger = slog.Default().With("service", "session-monitor")
	}
	return &Monitor{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins monitoring. Idempotent: a running monitor is left alone.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop halts monitoring and waits for the loop to exit. Safe to call when
// not started, and safe to call twice.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// check inspects the session once and refreshes or signals as needed.
func (m *Monitor) check(ctx context.Context) {
	expiry, ok := m.provider.Expiry()
	if !ok {
		m.logger.Info("session gone, signaling teardown")
		m.notifySignedOut()
		return
	}

	ttl := time.Until(expiry)
	if ttl <= 0 {
		m.logger.Warn("session already expired", "expired_ago", (-ttl).String())
		m.notifySignedOut()
		return
	}
	if ttl >= m.cfg.ExpiryThreshold {
		return
	}

	m.logger.Info("session expiring soon, refreshing", "time_to_expiry", ttl.String())
	if err := m.provider.Refresh(ctx); err != nil {
		m.logger.Error("session refresh failed", "error", err)
		if m.cfg.OnRefreshFailed != nil {
			m.cfg.OnRefreshFailed(err)
		}
		return
	}
	// Success is silent: the connection continues uninterrupted.
	m.logger.Debug("session refreshed")
}

func (m *Monitor) notifySignedOut() {
	if m.cfg.OnSignedOut != nil {
		m.cfg.OnSignedOut()
	}
}
