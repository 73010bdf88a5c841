// Package telemetry provides opt-in error tracking via Sentry. Nothing is
// reported unless the user explicitly enables telemetry in configuration.
package telemetry

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ovationhq/ovation-notify/internal/errors"
	"github.com/ovationhq/ovation-notify/internal/logging"
)

// Options configures Sentry initialization.
type Options struct {
	// Enabled controls whether any telemetry is sent (opt-in).
	Enabled bool
	// DSN is the Sentry project DSN.
	DSN string
	// Release identifies the running build.
	Release string
	// Debug enables Sentry SDK debug output.
	Debug bool
}

var (
	initialized atomic.Bool
	logger      *slog.Logger
)

// Init initializes the Sentry SDK and installs the error reporter hook.
// A disabled or empty configuration is not an error; telemetry simply stays
// off.
func Init(opts Options) error {
	logger = logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default().With("service", "telemetry")
	}

	if !opts.Enabled || opts.DSN == "" {
		logger.Info("telemetry disabled (opt-in required)")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Release:          opts.Release,
		Debug:            opts.Debug,
		AttachStacktrace: true,
		// Notification payloads may carry user content. Strip request
		// bodies and rely on tags/contexts only.
		SendDefaultPII: false,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("go_version", runtime.Version())
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	initialized.Store(true)
	errors.SetTelemetryReporter(&sentryReporter{})
	logger.Info("telemetry initialized", "release", opts.Release)
	return nil
}

// Flush waits up to timeout for buffered events to be delivered. Safe to
// call when telemetry was never initialized.
func Flush(timeout time.Duration) {
	if initialized.Load() {
		sentry.Flush(timeout)
	}
}

// Shutdown flushes and disables the reporter hook.
func Shutdown() {
	if !initialized.CompareAndSwap(true, false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	sentry.Flush(2 * time.Second)
}

// sentryReporter forwards enhanced errors to Sentry with their component and
// category as tags.
type sentryReporter struct{}

func (r *sentryReporter) ReportError(ee *errors.EnhancedError) {
	if !initialized.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", ee.GetCategory())
		if ctx := ee.GetContext(); len(ctx) > 0 {
			scope.SetContext("error_context", ctx)
		}
		sentry.CaptureException(ee.Err)
	})
}
