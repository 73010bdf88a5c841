package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovationhq/ovation-notify/internal/conf"
	"github.com/ovationhq/ovation-notify/internal/devserver"
)

// RunServe runs the development server until interrupted.
func RunServe(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devserver.New(devserver.Config{
		Listen:     settings.DevServer.Listen,
		SessionTTL: settings.DevServer.SessionTTL,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
