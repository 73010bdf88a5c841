package watch

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ovationhq/ovation-notify/internal/app"
	"github.com/ovationhq/ovation-notify/internal/conf"
)

// Command creates the watch command, which runs the notification client and
// prints notifications as they arrive.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch notifications in realtime",
		Long: "Connect to the notification stream and print notifications as they " +
			"arrive. Falls back to polling when streaming is unavailable; SIGUSR1 " +
			"retries the stream immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWatch(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the watch command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().DurationVar(&settings.Client.PollInterval, "pollinterval", viper.GetDuration("client.pollinterval"), "Polling fallback interval")
	cmd.Flags().BoolVar(&settings.Cache.Enabled, "cache", viper.GetBool("cache.enabled"), "Persist the last snapshot to a local cache")
	cmd.Flags().StringVar(&settings.Cache.Path, "cachepath", viper.GetString("cache.path"), "Path to the snapshot cache database")
	cmd.Flags().BoolVar(&settings.Forward.Enabled, "forward", viper.GetBool("forward.enabled"), "Forward new notifications to shoutrrr URLs")
	cmd.Flags().StringSliceVar(&settings.Forward.URLs, "forwardurl", viper.GetStringSlice("forward.urls"), "Shoutrrr service URL to forward to (repeatable)")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Expose Prometheus metrics")
	cmd.Flags().StringVar(&settings.Metrics.Listen, "listen", viper.GetString("metrics.listen"), "Listen address for the metrics endpoint")

	bindings := map[string]string{
		"client.pollinterval": "pollinterval",
		"cache.enabled":       "cache",
		"cache.path":          "cachepath",
		"forward.enabled":     "forward",
		"forward.urls":        "forwardurl",
		"metrics.enabled":     "metrics",
		"metrics.listen":      "listen",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
