package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/ovationhq/ovation-notify/cmd/config"
	"github.com/ovationhq/ovation-notify/cmd/serve"
	"github.com/ovationhq/ovation-notify/cmd/watch"
	"github.com/ovationhq/ovation-notify/internal/conf"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ovation-notify",
		Short: "Realtime notification client for the Ovation marketplace",
		Long: "ovation-notify keeps a live notification stream open to the Ovation " +
			"platform, falling back to polling when streaming is unavailable and " +
			"reconnecting with backoff.",
	}

	setupFlags(rootCmd, settings, &configPath)

	rootCmd.AddCommand(
		watch.Command(settings),
		serve.Command(settings),
		configcmd.Command(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			loaded, err := conf.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			*settings = *loaded
		}
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
			notification.SetDebugLevel(true)
		}
		return nil
	}

	return rootCmd
}

// setupFlags configures the persistent flags shared by all subcommands.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, configPath *string) {
	cmd.PersistentFlags().StringVar(configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	cmd.PersistentFlags().StringVar(&settings.Server.BaseURL, "server", viper.GetString("server.baseurl"), "Platform API base URL")

	if err := viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug")); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
	if err := viper.BindPFlag("server.baseurl", cmd.PersistentFlags().Lookup("server")); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
