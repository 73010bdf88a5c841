// Package poll implements the polling fallback for notification delivery.
// Whenever the event stream is down the poller keeps the local store fresh
// with a fixed-interval fetch of the full notification state.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ovationhq/ovation-notify/internal/errors"
	"github.com/ovationhq/ovation-notify/internal/httpclient"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
	"github.com/ovationhq/ovation-notify/internal/observability/metrics"
)

const (
	// DefaultInterval between poll fetches.
	DefaultInterval = 30 * time.Second
	// DefaultFetchTimeout bounds each individual fetch.
	DefaultFetchTimeout = 10 * time.Second

	// outageThreshold is the number of consecutive failed fetches before the
	// store's status reflects a delivery outage.
	outageThreshold = 3

	// outageMessage surfaces on ConnectionStatus.Err during an outage. The
	// store keeps serving whatever data it last replicated.
	outageMessage = "notifications unavailable; showing cached data"
)

// response is the poll endpoint's payload.
type response struct {
	Notifications []*notification.Notification `json:"notifications"`
	UnreadCount   int                          `json:"unreadCount"`
	Timestamp     time.Time                    `json:"timestamp"`
}

// Config configures a Poller.
type Config struct {
	URL          string
	Interval     time.Duration
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Poller periodically fetches the full notification state and replaces the
// store's contents. Failures are logged and skipped; the next tick retries.
type Poller struct {
	client *httpclient.Client
	store  *notification.Store
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	wg       sync.WaitGroup
	failures int
}

// New creates a poller. Zero durations select defaults.
func New(client *httpclient.Client, store *notification.Store, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	logger := logging.ForService("poll")
	if logger == nil {
		logger = slog.Default().With("service", "poll")
	}
	return &Poller{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins polling: one immediate fetch, then one per interval until
// Stop. Idempotent: a running poller is left alone.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.failures = 0

	p.store.SetPolling(true)
	p.cfg.Metrics.SetDeliveryMode(metrics.ModePolling)

	p.wg.Add(1)
	go p.run(runCtx)
}

// Stop halts polling and waits for the loop to exit. Safe to call when not
// started, and safe to call twice.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.store.SetPolling(false)
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PollNow performs one out-of-band fetch immediately, regardless of whether
// the periodic loop is running.
func (p *Poller) PollNow(ctx context.Context) error {
	return p.fetch(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	// Immediate first fetch so a fresh fallback never waits a full interval.
	p.fetchAndTrack(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.fetchAndTrack(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// fetchAndTrack performs one fetch and maintains the consecutive-failure
// count that drives the outage status.
func (p *Poller) fetchAndTrack(ctx context.Context) {
	err := p.fetch(ctx)
	p.cfg.Metrics.RecordPoll(err != nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		if p.failures >= outageThreshold {
			// Recovered: clear the outage message.
			p.store.SetConnectionStatus(false, "")
		}
		p.failures = 0
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.failures++
	p.logger.Warn("poll fetch failed", "error", err, "consecutive_failures", p.failures)
	if p.failures == outageThreshold {
		p.logger.Error("notification delivery outage, serving cached data")
		p.store.SetConnectionStatus(false, outageMessage)
	}
}

// fetch retrieves the full notification state and replaces the store's
// contents with it.
func (p *Poller) fetch(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	var resp response
	if err := p.client.GetJSON(fetchCtx, p.cfg.URL, &resp); err != nil {
		return errors.New(err).
			Component("poll").
			Category(errors.CategoryPolling).
			Context("operation", "fetch").
			Context("url", p.cfg.URL).
			Build()
	}

	p.store.SetNotifications(resp.Notifications)
	p.store.SetUnreadCount(resp.UnreadCount)
	p.cfg.Metrics.SetUnreadCount(resp.UnreadCount)
	p.logger.Debug("poll fetch complete",
		"notifications", len(resp.Notifications),
		"unread", resp.UnreadCount)
	return nil
}
