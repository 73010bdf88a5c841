// Package stream maintains the live notification stream: one shared
// connection per process, reference-counted across consumers, with polling
// fallback, session-aware reconnects, and bounded backoff.
package stream

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ovationhq/ovation-notify/internal/httpclient"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
	"github.com/ovationhq/ovation-notify/internal/observability/metrics"
	"github.com/ovationhq/ovation-notify/internal/poll"
	"github.com/ovationhq/ovation-notify/internal/retry"
	"github.com/ovationhq/ovation-notify/internal/session"
)

// State is the manager's connection state.
type State int32

const (
	// StateDisconnected means no stream is open and none is being opened.
	StateDisconnected State = iota
	// StateConnecting means one connection attempt is in flight.
	StateConnecting
	// StateConnected means the stream is open and healthy.
	StateConnected
	// StateDegraded means the stream is open but the server signaled that
	// push delivery is impaired; polling covers the data path.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// Status messages surfaced through the store while the stream is down.
const (
	reconnectingMessage = "reconnecting"
	exhaustedMessage    = "realtime connection unavailable; using periodic refresh"
)

// DefaultServerReconnectDelay is the pause before honoring a
// reconnect_required signal that is not session-related.
const DefaultServerReconnectDelay = time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StreamURL is the notification stream endpoint.
	StreamURL string

	// Policy governs reconnection backoff. Zero value selects the default
	// policy.
	Policy retry.Policy

	// SessionCheckInterval and SessionExpiryThreshold configure the session
	// monitor that runs while a connection is open.
	SessionCheckInterval   time.Duration
	SessionExpiryThreshold time.Duration

	// ServerReconnectDelay is the pause before honoring a non-session
	// reconnect_required signal. Defaults to one second.
	ServerReconnectDelay time.Duration

	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics

	// Dial overrides the transport. Tests use it to count and script
	// connection attempts.
	Dial DialFunc
}

// Manager owns the lifecycle of the single shared stream connection.
//
// Consumers attach with Connect and detach with Disconnect; the underlying
// connection opens once and closes only when the last consumer detaches.
// While the stream is down the polling fallback keeps the store fresh and
// the retry policy schedules reconnects. The mutex guards the refcount,
// in-progress flag, and connection handle; it is never held across network
// I/O.
type Manager struct {
	client   *httpclient.Client
	store    *notification.Store
	poller   *poll.Poller
	provider session.Provider
	monitor  *session.Monitor
	cfg      ManagerConfig
	logger   *slog.Logger

	mu            sync.Mutex
	refs          int
	connecting    bool
	state         State
	failures      int
	conn          *conn
	attemptCancel context.CancelFunc
	reconnect     *time.Timer
	baseCtx       context.Context
	baseCancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewManager creates a stream manager. The poller is owned by the manager
// from here on: the manager starts it whenever the stream cannot deliver and
// stops it when the stream is healthy.
func NewManager(client *httpclient.Client, store *notification.Store, provider session.Provider, poller *poll.Poller, cfg ManagerConfig) *Manager {
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.ServerReconnectDelay <= 0 {
		cfg.ServerReconnectDelay = DefaultServerReconnectDelay
	}
	logger := logging.ForService("stream")
	if logger == nil {
		logger = slog.Default().With("service", "stream")
	}

	m := &Manager{
		client:   client,
		store:    store,
		poller:   poller,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
	m.monitor = session.NewMonitor(provider, session.MonitorConfig{
		CheckInterval:   cfg.SessionCheckInterval,
		ExpiryThreshold: cfg.SessionExpiryThreshold,
		// Callbacks run on the monitor's goroutine; the handlers stop the
		// monitor, so they must run detached to avoid waiting on ourselves.
		OnSignedOut:     func() { go m.handleSignedOut() },
		OnRefreshFailed: func(err error) { go m.handleRefreshFailure(err) },
	})
	return m
}

// Connect attaches a consumer to the shared connection. Idempotent: when a
// healthy connection exists or an attempt is in flight, the consumer just
// raises the refcount. The first consumer's context bounds the lifetime of
// everything the manager schedules.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs++
	if m.refs == 1 {
		if ctx == nil {
			ctx = context.Background()
		}
		m.baseCtx, m.baseCancel = context.WithCancel(ctx)
	}
	if m.conn != nil || m.connecting {
		return
	}
	m.startAttemptLocked()
}

// Disconnect detaches a consumer. Only when the last consumer detaches does
// the underlying connection close; extra calls are no-ops. Teardown cancels
// every pending timer and waits for in-flight goroutines, so nothing fires
// afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.refs--
	if m.refs > 0 {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()

	m.wg.Wait()
	m.monitor.Stop()
	m.poller.Stop()
	m.store.SetConnectionStatus(false, "")
	m.cfg.Metrics.SetDeliveryMode(metrics.ModeDisconnected)
	m.logger.Info("stream closed, last consumer detached")
}

// teardownLocked cancels the connection, any in-flight attempt, and any
// pending reconnect timer. Caller holds the lock.
func (m *Manager) teardownLocked() {
	m.state = StateDisconnected
	m.failures = 0
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}
	if m.baseCancel != nil {
		m.baseCancel()
		m.baseCancel = nil
		m.baseCtx = nil
	}
}

// Resume re-evaluates connection health after user re-engagement. If the
// stream is down it resets the retry budget and attempts immediately,
// bypassing any remaining backoff.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 || m.conn != nil {
		return
	}
	m.failures = 0
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.connecting {
		return
	}
	m.logger.Info("resume requested, retrying immediately")
	m.startAttemptLocked()
}

// State returns the manager's connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Refs returns the current consumer count.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// startAttemptLocked launches one connection attempt. Caller holds the lock
// and has verified no connection or attempt exists.
func (m *Manager) startAttemptLocked() {
	m.connecting = true
	m.state = StateConnecting
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.attemptCancel = cancel

	m.wg.Add(1)
	go m.attempt(ctx, cancel)
}

// attempt dials the stream and either promotes the connection or enters the
// failure path. Runs without the lock; the in-progress flag keeps a second
// attempt from starting meanwhile.
func (m *Manager) attempt(ctx context.Context, cancel context.CancelFunc) {
	defer m.wg.Done()

	body, err := m.dial(ctx)

	m.mu.Lock()
	m.connecting = false
	m.attemptCancel = nil
	if m.refs == 0 || ctx.Err() != nil {
		m.mu.Unlock()
		cancel()
		if body != nil {
			_ = body.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		cancel()
		m.logger.Warn("stream connection failed", "error", err)
		m.cfg.Metrics.RecordStreamError()
		m.handleFailure()
		return
	}

	c := &conn{body: body, cancel: cancel}
	m.conn = c
	m.state = StateConnected
	m.failures = 0
	base := m.baseCtx
	m.mu.Unlock()

	m.logger.Info("stream connected")
	m.cfg.Metrics.RecordStreamConnect()
	m.cfg.Metrics.SetDeliveryMode(metrics.ModeStreaming)
	m.store.SetConnectionStatus(true, "")
	m.poller.Stop()
	m.monitor.Start(base)

	m.wg.Add(1)
	go m.readLoop(c)
}

func (m *Manager) dial(ctx context.Context) (io.ReadCloser, error) {
	if m.cfg.Dial != nil {
		return m.cfg.Dial(ctx)
	}
	return dialStream(ctx, m.client, m.cfg.StreamURL)
}

// readLoop consumes frames until the connection dies, then routes the close
// into the failure path unless the connection was detached deliberately.
func (m *Manager) readLoop(c *conn) {
	defer m.wg.Done()

	err := readFrames(c.body, func(data []byte) {
		msg, perr := parseMessage(data)
		if perr != nil {
			// One bad message never terminates the stream.
			m.logger.Warn("dropping malformed stream message", "error", perr)
			return
		}
		m.dispatch(c, msg)
	})

	m.mu.Lock()
	if m.conn != c {
		// Detached deliberately (teardown or server-requested reconnect);
		// whoever detached it owns the follow-up.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	refs := m.refs
	m.mu.Unlock()

	c.close()
	if refs == 0 {
		return
	}
	m.logger.Warn("stream closed by transport", "error", err)
	m.cfg.Metrics.RecordStreamError()
	m.monitor.Stop()
	m.handleFailure()
}

// handleFailure covers the gap with polling and schedules a reconnect per
// the retry policy. After the budget is exhausted the client stays on
// polling until Resume.
func (m *Manager) handleFailure() {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	attempt := m.failures
	m.failures++
	exhausted := m.cfg.Policy.Exhausted(m.failures)
	var delay time.Duration
	if !exhausted {
		delay = m.cfg.Policy.Delay(attempt)
		m.scheduleReconnectLocked(delay)
	} else if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	base := m.baseCtx
	m.mu.Unlock()

	if exhausted {
		m.logger.Error("reconnect budget exhausted, staying on polling",
			"failures", m.cfg.Policy.MaxAttempts)
		m.store.SetConnectionStatus(false, exhaustedMessage)
	} else {
		m.logger.Info("scheduling reconnect",
			"attempt", attempt, "delay", delay.String())
		m.store.SetConnectionStatus(false, reconnectingMessage)
	}
	// Polling starts before the reconnect fires so delivery never gaps.
	m.poller.Start(base)
}

// scheduleReconnectLocked arms the reconnect timer. Caller holds the lock.
func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(delay, m.tryConnect)
}

// tryConnect fires from timers: attempt only if still wanted and idle.
func (m *Manager) tryConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == 0 || m.conn != nil || m.connecting {
		return
	}
	m.cfg.Metrics.RecordReconnectAttempt()
	m.startAttemptLocked()
}

// dispatch applies one protocol message. Runs on the read loop goroutine, so
// handling is strictly sequential in arrival order.
func (m *Manager) dispatch(c *conn, msg *Message) {
	m.cfg.Metrics.RecordStreamMessage(string(msg.Type))

	switch msg.Type {
	case KindConnected:
		m.logger.Debug("stream handshake acknowledged", "timestamp", msg.Timestamp)

	case KindInitialSnapshot:
		m.store.SetNotifications(msg.Notifications)
		m.logger.Debug("applied initial snapshot", "count", len(msg.Notifications))

	case KindUnreadCount:
		m.store.SetUnreadCount(msg.Count)
		m.cfg.Metrics.SetUnreadCount(msg.Count)

	case KindNewNotification:
		n, err := m.decodePush(msg)
		if n != nil && err == nil {
			m.store.AddNotification(n)
		}

	case KindNotificationUpdated:
		id, patch, err := msg.decodeUpdate()
		if err != nil {
			m.logger.Warn("dropping malformed notification update", "error", err)
			return
		}
		m.store.UpdateNotification(id, patch)

	case KindRealtimeConnected:
		m.logger.Debug("push subscription confirmed", "timestamp", msg.Timestamp)

	case KindRealtimeError:
		m.handleRealtimeError(msg.Error)

	case KindRealtimeUnavailable:
		m.handleRealtimeUnavailable()

	case KindReconnectRequired:
		m.serverReconnect(c, msg.Reason)

	default:
		m.logger.Warn("ignoring unknown stream message kind", "kind", msg.Type)
	}
}

// decodePush extracts the notification from a new_notification frame. A
// missing field is a protocol warning, not a crash.
func (m *Manager) decodePush(msg *Message) (*notification.Notification, error) {
	n, err := msg.decodeNotification()
	if err != nil {
		m.logger.Warn("dropping malformed notification push", "error", err)
		return nil, err
	}
	if n == nil {
		m.logger.Warn("notification push missing payload")
		return nil, nil
	}
	return n, nil
}

// handleRealtimeError reacts to the server reporting a hard push failure:
// polling takes over and the failure surfaces as a non-blocking status
// message. The stream itself stays open for control messages.
func (m *Manager) handleRealtimeError(errMsg string) {
	if errMsg == "" {
		errMsg = "realtime delivery failed"
	}
	m.logger.Error("server reported realtime failure", "error", errMsg)

	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.state = StateDegraded
	base := m.baseCtx
	m.mu.Unlock()

	m.store.SetConnectionStatus(false, errMsg)
	m.poller.Start(base)
}

// handleRealtimeUnavailable is the soft-degrade path: expected in some
// environments, so polling starts without any user-visible error.
func (m *Manager) handleRealtimeUnavailable() {
	m.logger.Info("realtime unavailable, falling back to polling")

	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.state = StateDegraded
	base := m.baseCtx
	m.mu.Unlock()

	m.poller.Start(base)
}

// serverReconnect honors a reconnect_required signal: detach and close the
// current connection, then reconnect — refreshing the session first when the
// reason is session-related, otherwise after a short pause.
func (m *Manager) serverReconnect(c *conn, reason string) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	refs := m.refs
	base := m.baseCtx
	m.mu.Unlock()

	c.close()
	m.monitor.Stop()
	if refs == 0 {
		return
	}
	m.logger.Info("server requested reconnect", "reason", reason)

	if !sessionReason(reason) {
		m.mu.Lock()
		m.scheduleReconnectLocked(m.cfg.ServerReconnectDelay)
		m.mu.Unlock()
		return
	}

	// Session rotation: refresh before any new connection attempt. A failed
	// refresh is connection-ending and follows the normal reconnect path.
	refreshCtx, cancel := context.WithTimeout(base, httpclient.DefaultTimeout)
	err := m.provider.Refresh(refreshCtx)
	cancel()
	m.cfg.Metrics.RecordSessionRefresh(err == nil)
	if err != nil {
		m.logger.Error("session refresh before reconnect failed", "error", err)
		m.handleFailure()
		return
	}
	m.tryConnect()
}

// handleSignedOut runs when the session monitor finds no session: without
// authentication there are no notifications, so everything tears down and no
// reconnect is scheduled.
func (m *Manager) handleSignedOut() {
	m.logger.Info("session gone, closing stream")

	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c != nil {
		c.close()
	}
	m.monitor.Stop()
	m.poller.Stop()
	m.store.SetConnectionStatus(false, "")
	m.cfg.Metrics.SetDeliveryMode(metrics.ModeDisconnected)
}

// handleRefreshFailure runs when the session monitor's proactive refresh
// fails: the connection closes and cascades into the normal error path.
func (m *Manager) handleRefreshFailure(err error) {
	m.logger.Warn("proactive session refresh failed, closing stream", "error", err)
	m.cfg.Metrics.RecordSessionRefresh(false)

	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c != nil {
		c.close()
	}
	m.monitor.Stop()
	m.handleFailure()
}
