package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ovationhq/ovation-notify/cmd"
	"github.com/ovationhq/ovation-notify/internal/conf"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
	"github.com/ovationhq/ovation-notify/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	logging.Init()

	settings := conf.Setting()

	if err := telemetry.Init(telemetry.Options{
		Enabled: settings.Sentry.Enabled,
		DSN:     settings.Sentry.DSN,
		Release: "ovation-notify@" + version,
		Debug:   settings.Sentry.Debug,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry init failed: %v\n", err)
	}
	defer telemetry.Flush(2 * time.Second)
	defer func() { _ = notification.CloseLogger() }()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
