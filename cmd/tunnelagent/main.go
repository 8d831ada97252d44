// Command tunnelagent runs beside a developer's local service and
// bridges it into a workspace's tunnel: it authenticates
// via the device-code login flow, then holds a long-lived WebSocket
// connection to the control plane, replaying forwarded requests against
// the local port it was told to serve.
package main

import (
	"fmt"
	"os"

	"github.com/openclave/controlplane/cmd/tunnelagent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
