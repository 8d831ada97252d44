package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	controlPlaneURL string
	configPath      string
)

var rootCmd = &cobra.Command{
	Use:   "tunnelagent",
	Short: "tunnelagent — bridges a local development server into a workspace's tunnel",
	Long: `tunnelagent runs beside a locally-running service and exposes it through
the control plane's WebSocket tunnel, so HTTPS traffic to
<subdomain>.<baseDomain> reaches your machine without a public IP or port
forwarding.

Common workflow:

  tunnelagent login                                  # device-code login, once per machine
  tunnelagent serve <workspace-id> --port 3000        # forward tunnel traffic to localhost:3000
  tunnelagent expose <workspace-id> --port 3000       # login if needed, then serve`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlPlaneURL, "control-plane-url", "https://app.example.com", "Base URL of the control plane API")

	def := "tunnelagent.yaml"
	if home, err := os.UserHomeDir(); err == nil {
		def = filepath.Join(home, ".config", "tunnelagent", "config.yaml")
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", def, "Path to the agent's local config file")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("tunnelagent: %w", err)
	}
	return nil
}
