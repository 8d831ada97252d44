package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate this machine against the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogin(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

// printLoginBanner prints the verification URI and user code, boxed to
// the terminal width when stdout is a real terminal and plain otherwise
// (e.g. when piped into a log file).
func printLoginBanner(verificationURI, userCode string) {
	width := 60
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("To authenticate, visit:\n\n  %s\n\nand enter code: %s\n\n", verificationURI, userCode)
		return
	}

	rule := strings.Repeat("-", width)
	fmt.Println(rule)
	fmt.Printf("  Visit:  %s\n", verificationURI)
	fmt.Printf("  Code:   %s\n", userCode)
	fmt.Println(rule)
	fmt.Println()
}

func runLogin(ctx context.Context) error {
	client := newAPIClient(controlPlaneURL)

	start, err := client.startDeviceLogin(ctx)
	if err != nil {
		return fmt.Errorf("start device login: %w", err)
	}

	printLoginBanner(start.VerificationURI, start.UserCode)

	interval := time.Duration(start.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(start.ExpiresInSeconds) * time.Second)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("login code expired before approval")
		}

		status, err := client.pollDeviceLogin(ctx, start.DeviceCode)
		if err != nil {
			return fmt.Errorf("poll device login: %w", err)
		}

		switch status {
		case "approved":
			token, err := client.exchangeDeviceCode(ctx, start.DeviceCode)
			if err != nil {
				return fmt.Errorf("exchange device code: %w", err)
			}
			if err := saveConfig(&agentConfig{AgentToken: token}); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Println("Login successful.")
			return nil
		case "denied":
			return fmt.Errorf("login request was denied")
		case "expired":
			return fmt.Errorf("login code expired")
		case "pending":
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		default:
			return fmt.Errorf("unexpected device login status %q", status)
		}
	}
}
