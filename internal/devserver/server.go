// Package devserver is a reference implementation of the notification
// server's HTTP surface: the event stream, the poll endpoint, and session
// refresh. It exists for local development and integration tests; the
// production backend is not part of this repository.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
)

const (
	// DefaultSessionTTL is how long issued tokens stay valid.
	DefaultSessionTTL = 30 * time.Minute

	// heartbeatInterval spaces the keep-alive comments on the stream.
	heartbeatInterval = 30 * time.Second

	// clientBufferSize is the per-subscriber frame buffer.
	clientBufferSize = 100
)

// Config configures the development server.
type Config struct {
	Listen     string
	SessionTTL time.Duration
}

// Server implements the server half of the notification protocol.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	logger *slog.Logger
	tokens *gocache.Cache

	mu            sync.RWMutex
	notifications []*notification.Notification // newest first
	unread        int

	hubMu   sync.RWMutex
	clients map[uint64]chan []byte
	nextID  uint64
}

// New creates a development server.
func New(cfg Config) *Server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	logger := logging.ForService("devserver")
	if logger == nil {
		logger = slog.Default().With("service", "devserver")
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		tokens:  gocache.New(cfg.SessionTTL, 10*time.Minute),
		clients: make(map[uint64]chan []byte),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api := e.Group("/api/v1")
	api.GET("/notifications/stream", s.handleStream, streamRateLimiter())
	api.GET("/notifications", s.handlePoll)
	api.POST("/notifications", s.handleInject)
	api.POST("/notifications/:id/read", s.handleMarkRead)
	api.POST("/notifications/control", s.handleControl)
	api.POST("/session/refresh", s.handleRefresh)

	s.echo = e
	return s
}

// streamRateLimiter bounds connection attempts per IP so a reconnect loop in
// a misbehaving client cannot hammer the stream route.
func streamRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      10,
				ExpiresIn: time.Minute,
			},
		),
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded for stream connections",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many stream connection attempts, slow down",
			})
		},
	})
}

// Handler exposes the HTTP handler for httptest-based integration tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info("development server listening", "addr", s.cfg.Listen)
	err := s.echo.Start(s.cfg.Listen)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("devserver failed: %w", err)
	}
	return nil
}

// Shutdown stops the server and disconnects all stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleStream is the SSE endpoint: handshake, snapshot, unread count, then
// live frames until the client goes away.
func (s *Server) handleStream(c echo.Context) error {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	id, frames := s.subscribe()
	defer s.unsubscribe(id)
	s.logger.Info("stream client connected", "client_id", id, "ip", c.RealIP())
	defer s.logger.Info("stream client disconnected", "client_id", id)

	snapshot, unread := s.snapshot()
	openers := []map[string]any{
		{"type": "connected", "timestamp": time.Now().UTC()},
		{"type": "initial_notifications", "notifications": snapshot},
		{"type": "unread_count", "count": unread},
		{"type": "realtime_connected", "timestamp": time.Now().UTC()},
	}
	for _, msg := range openers {
		if err := writeFrame(c, msg); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-frames:
			if err := writeRaw(c, frame); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": heartbeat\n\n")); err != nil {
				return nil
			}
			c.Response().Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// handlePoll returns the full notification state.
func (s *Server) handlePoll(c echo.Context) error {
	snapshot, unread := s.snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"notifications": snapshot,
		"unreadCount":   unread,
		"timestamp":     time.Now().UTC(),
	})
}

// handleInject accepts a notification and pushes it to all stream clients.
// This is what drives demos and integration tests.
func (s *Server) handleInject(c echo.Context) error {
	var n notification.Notification
	if err := c.Bind(&n); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid notification"})
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = notification.StatusUnread
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.notifications = append([]*notification.Notification{&n}, s.notifications...)
	if n.Status == notification.StatusUnread {
		s.unread++
	}
	unread := s.unread
	s.mu.Unlock()

	s.broadcast(map[string]any{"type": "new_notification", "notification": &n})
	s.broadcast(map[string]any{"type": "unread_count", "count": unread})
	return c.JSON(http.StatusCreated, &n)
}

// handleMarkRead flips a notification to read and pushes the update.
func (s *Server) handleMarkRead(c echo.Context) error {
	id := c.Param("id")

	s.mu.Lock()
	var found *notification.Notification
	for _, n := range s.notifications {
		if n.ID == id {
			found = n
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown notification"})
	}
	if found.Status == notification.StatusUnread {
		found.MarkAsRead()
		if s.unread > 0 {
			s.unread--
		}
	}
	unread := s.unread
	s.mu.Unlock()

	s.broadcast(map[string]any{
		"type":         "notification_updated",
		"notification": map[string]any{"id": id, "status": notification.StatusRead},
	})
	s.broadcast(map[string]any{"type": "unread_count", "count": unread})
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// controlRequest scripts a protocol control frame onto the stream.
type controlRequest struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// handleControl broadcasts degrade and reconnect signals, so tests and demos
// can exercise every client code path.
func (s *Server) handleControl(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil || req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "control frame needs a type"})
	}

	msg := map[string]any{"type": req.Type}
	if req.Reason != "" {
		msg["reason"] = req.Reason
	}
	if req.Error != "" {
		msg["error"] = req.Error
	}
	s.broadcast(msg)
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

// handleRefresh issues a fresh bearer token with a TTL.
func (s *Server) handleRefresh(c echo.Context) error {
	token := uuid.New().String()
	expiresAt := time.Now().UTC().Add(s.cfg.SessionTTL)
	s.tokens.Set(token, expiresAt, s.cfg.SessionTTL)

	s.logger.Debug("issued session token", "expires_at", expiresAt)
	return c.JSON(http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expiresAt,
	})
}

// ValidToken reports whether a token was issued here and has not expired.
func (s *Server) ValidToken(token string) bool {
	_, ok := s.tokens.Get(token)
	return ok
}

// snapshot copies the current server-side state.
func (s *Server) snapshot() ([]*notification.Notification, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*notification.Notification, len(s.notifications))
	for i, n := range s.notifications {
		out[i] = n.Clone()
	}
	return out, s.unread
}

func (s *Server) subscribe() (uint64, <-chan []byte) {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan []byte, clientBufferSize)
	s.clients[id] = ch
	return id, ch
}

func (s *Server) unsubscribe(id uint64) {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	if ch, ok := s.clients[id]; ok {
		delete(s.clients, id)
		close(ch)
	}
}

// broadcast fans a frame out to every stream client, dropping for any whose
// buffer is full so one stalled client never blocks the rest.
func (s *Server) broadcast(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal stream frame", "error", err)
		return
	}

	s.hubMu.RLock()
	defer s.hubMu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

func writeFrame(c echo.Context, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal stream frame: %w", err)
	}
	return writeRaw(c, data)
}

func writeRaw(c echo.Context, data []byte) error {
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
