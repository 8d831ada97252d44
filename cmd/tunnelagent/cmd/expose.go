package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exposeCmd = &cobra.Command{
	Use:   "expose <workspace-id>",
	Short: "Log in if needed, then serve a local port through the tunnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.AgentToken == "" {
			if err := runLogin(ctx); err != nil {
				return err
			}
		}

		return runServe(ctx, args[0])
	},
}

func init() {
	exposeCmd.Flags().IntVar(&servePort, "port", 3000, "Local port the service is listening on")
	exposeCmd.Flags().StringVar(&serveServiceName, "name", "web", "Name this service is announced under")
	rootCmd.AddCommand(exposeCmd)
}
