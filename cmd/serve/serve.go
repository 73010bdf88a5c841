package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ovationhq/ovation-notify/internal/app"
	"github.com/ovationhq/ovation-notify/internal/conf"
)

// Command creates the serve command, which runs the development server.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development notification server",
		Long: "Serve a reference implementation of the notification protocol: the " +
			"event stream, the poll endpoint, session refresh, and an injection " +
			"endpoint for driving demos and tests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServe(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.DevServer.Listen, "listen", viper.GetString("devserver.listen"), "Listen address")
	cmd.Flags().DurationVar(&settings.DevServer.SessionTTL, "sessionttl", viper.GetDuration("devserver.sessionttl"), "Lifetime of issued session tokens")

	bindings := map[string]string{
		"devserver.listen":     "listen",
		"devserver.sessionttl": "sessionttl",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
