package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovationhq/ovation-notify/internal/conf"
)

// Command creates the config command for generating a default config file.
func Command() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.SaveDefault(path); err != nil {
				return err
			}
			fmt.Printf("wrote default config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "config.yaml", "Where to write the config file")
	return cmd
}
