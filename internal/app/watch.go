// Package app wires the delivery core into runnable commands: the watch
// client and the development server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ovationhq/ovation-notify/internal/cache"
	"github.com/ovationhq/ovation-notify/internal/conf"
	"github.com/ovationhq/ovation-notify/internal/forward"
	"github.com/ovationhq/ovation-notify/internal/httpclient"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
	"github.com/ovationhq/ovation-notify/internal/observability/metrics"
	"github.com/ovationhq/ovation-notify/internal/poll"
	"github.com/ovationhq/ovation-notify/internal/session"
	"github.com/ovationhq/ovation-notify/internal/stream"
)

// RunWatch runs the notification client until interrupted: it connects the
// stream, prints notifications and status transitions, and maps SIGUSR1 to
// an immediate reconnect attempt.
func RunWatch(settings *conf.Settings) error {
	logger := watchLogger(settings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Client.RequestTimeout,
	})
	defer client.Close()

	store := notification.NewStore(settings.Client.MaxNotifications)

	var m *metrics.Metrics
	if settings.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		var err error
		m, err = metrics.New(registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		go serveMetrics(ctx, logger, settings.Metrics.Listen, registry)
	}

	if settings.Cache.Enabled {
		c, err := cache.Open(settings.Cache.Path, settings.Client.MaxNotifications)
		if err != nil {
			// The cache is a resilience layer; losing it degrades, not fails.
			logger.Warn("cache unavailable, continuing without", "error", err)
		} else {
			defer func() { _ = c.Close() }()
			if err := c.Seed(store); err != nil {
				logger.Warn("cache seed failed", "error", err)
			}
			go c.Mirror(ctx, store)
		}
	}

	if settings.Forward.Enabled {
		fwd, err := forward.New(settings.Forward.URLs)
		if err != nil {
			return err
		}
		go fwd.Run(ctx, store)
	}

	provider := session.NewAPIProvider(client, settings.RefreshURL())
	if err := provider.Refresh(ctx); err != nil {
		logger.Warn("initial session refresh failed, continuing unauthenticated", "error", err)
	}

	poller := poll.New(client, store, poll.Config{
		URL:          settings.PollURL(),
		Interval:     settings.Client.PollInterval,
		FetchTimeout: settings.Client.RequestTimeout,
		Metrics:      m,
	})
	mgr := stream.NewManager(client, store, provider, poller, stream.ManagerConfig{
		StreamURL:              settings.StreamURL(),
		SessionCheckInterval:   settings.Client.SessionCheckInterval,
		SessionExpiryThreshold: settings.Client.SessionExpiryThreshold,
		Metrics:                m,
	})

	// Subscribe before connecting so the snapshot is never missed.
	subID, events := store.Subscribe()
	defer store.Unsubscribe(subID)

	mgr.Connect(ctx)
	defer mgr.Disconnect()

	resume := make(chan os.Signal, 1)
	signal.Notify(resume, syscall.SIGUSR1)
	defer signal.Stop(resume)

	fmt.Printf("watching %s (SIGUSR1 retries the stream immediately)\n", settings.Server.BaseURL)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case <-resume:
			mgr.Resume()
		case ev := <-events:
			printEvent(store, ev)
		}
	}
}

// watchLogger builds the watch service logger, writing through the rotating
// file sink when file logging is enabled.
func watchLogger(settings *conf.Settings) *slog.Logger {
	if settings.Main.Log.Enabled {
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLogger, _, err := logging.NewFileLogger(settings.Main.Log.Path, "watch", level, &logging.FileLoggerOptions{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err == nil {
			return fileLogger
		}
		logging.Warn("file logging unavailable, using default logger", "error", err)
	}
	if logger := logging.ForService("watch"); logger != nil {
		return logger
	}
	return slog.Default().With("service", "watch")
}

// printEvent renders one store change for the terminal.
func printEvent(store *notification.Store, ev notification.Event) {
	switch ev.Kind {
	case notification.EventSnapshot:
		fmt.Printf("-- snapshot: %d notifications, %d unread\n", store.Len(), store.UnreadCount())
	case notification.EventAdded:
		fmt.Println(renderNotification(ev.Notification))
	case notification.EventUpdated:
		fmt.Printf("-- updated: %s (%s)\n", ev.Notification.Title, ev.Notification.Status)
	case notification.EventUnreadCount:
		fmt.Printf("-- unread: %d\n", ev.UnreadCount)
	case notification.EventStatus:
		fmt.Println(renderStatus(ev.Status))
	}
}

// serveMetrics exposes the Prometheus registry until ctx is canceled.
func serveMetrics(ctx context.Context, logger *slog.Logger, listen string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "error", err)
	}
}
