package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	tunnelframe "github.com/openclave/controlplane/internal/domain/tunnel"
)

const (
	servePingGrace = 10 * time.Second
	serveChunkSize = 32 * 1024
)

var (
	servePort        int
	serveServiceName string
)

var serveCmd = &cobra.Command{
	Use:   "serve <workspace-id>",
	Short: "Bridge a locally-running service into the workspace's tunnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), args[0])
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 3000, "Local port the service is listening on")
	serveCmd.Flags().StringVar(&serveServiceName, "name", "web", "Name this service is announced under")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, workspaceID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.AgentToken == "" {
		return fmt.Errorf("not logged in; run `tunnelagent login` first")
	}

	client := newAPIClient(controlPlaneURL)
	exposedPorts := map[string]int{serveServiceName: servePort}
	tunnelToken, err := client.mintTunnelToken(ctx, cfg.AgentToken, workspaceID, exposedPorts)
	if err != nil {
		return fmt.Errorf("mint tunnel token: %w", err)
	}

	return (&agent{
		controlPlaneURL: controlPlaneURL,
		tunnelToken:     tunnelToken,
		localPort:       servePort,
		serviceName:     serveServiceName,
	}).run(ctx)
}

// agent holds one live tunnel connection's state, bridging inbound
// FrameRequest frames to the locally-running HTTP server.
type agent struct {
	controlPlaneURL string
	tunnelToken     string
	localPort       int
	serviceName     string

	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (a *agent) run(ctx context.Context) error {
	wsURL, err := tunnelWebSocketURL(a.controlPlaneURL)
	if err != nil {
		return err
	}

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial tunnel: %w", err)
	}
	a.ws = ws
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := a.send(ctx, &tunnelframe.Frame{Type: tunnelframe.FrameAuth, Token: a.tunnelToken}); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}
	if err := a.send(ctx, &tunnelframe.Frame{
		Type: tunnelframe.FrameExposedPorts,
		ExposedPorts: []tunnelframe.ExposedPortAnnouncement{
			{Port: a.localPort, Description: a.serviceName},
		},
	}); err != nil {
		return fmt.Errorf("announce exposed ports: %w", err)
	}

	fmt.Printf("Connected. Forwarding tunnel traffic to localhost:%d\n", a.localPort)

	lastPong := time.Now()
	var lastPongMu sync.Mutex

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go func() {
		ticker := time.NewTicker(servePingGrace)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogCtx.Done():
				return
			case <-ticker.C:
				lastPongMu.Lock()
				stale := time.Since(lastPong) > servePingGrace
				lastPongMu.Unlock()
				if stale {
					slog.Warn("tunnelagent: no ping from control plane, closing tunnel")
					_ = ws.Close(websocket.StatusGoingAway, "ping timeout")
					return
				}
			}
		}
	}()

	requests := make(map[string]*requestBuffer)
	var requestsMu sync.Mutex

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("tunnel connection closed: %w", err)
		}
		f, err := tunnelframe.UnmarshalFrame(data)
		if err != nil {
			slog.Debug("tunnelagent: malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case tunnelframe.FramePing:
			lastPongMu.Lock()
			lastPong = time.Now()
			lastPongMu.Unlock()
			_ = a.send(ctx, &tunnelframe.Frame{Type: tunnelframe.FramePong, TimestampUnixMilli: time.Now().UnixMilli()})
		case tunnelframe.FrameRequest:
			requestsMu.Lock()
			requests[f.ID] = newRequestBuffer(f)
			requestsMu.Unlock()
		case tunnelframe.FrameData:
			requestsMu.Lock()
			rb, ok := requests[f.ID]
			requestsMu.Unlock()
			if !ok {
				continue
			}
			rb.write(f.Data)
			if f.Final {
				requestsMu.Lock()
				delete(requests, f.ID)
				requestsMu.Unlock()
				go a.handleRequest(ctx, rb)
			}
		case tunnelframe.FrameClose:
			requestsMu.Lock()
			delete(requests, f.ID)
			requestsMu.Unlock()
		}
	}
}

// requestBuffer accumulates a FrameRequest plus its streamed FrameData
// chunks until Final, at which point the real HTTP call is made.
type requestBuffer struct {
	frame *tunnelframe.Frame
	body  bytes.Buffer
}

func newRequestBuffer(f *tunnelframe.Frame) *requestBuffer {
	return &requestBuffer{frame: f}
}

func (rb *requestBuffer) write(data []byte) {
	rb.body.Write(data)
}

func (a *agent) handleRequest(ctx context.Context, rb *requestBuffer) {
	f := rb.frame
	url := fmt.Sprintf("http://localhost:%d%s", a.localPort, f.Path)

	req, err := http.NewRequestWithContext(ctx, f.Method, url, bytes.NewReader(rb.body.Bytes()))
	if err != nil {
		a.sendError(ctx, f.ID, err.Error())
		return
	}
	for k, vs := range f.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.sendError(ctx, f.ID, err.Error())
		return
	}
	defer resp.Body.Close()

	headers := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = v
	}
	if err := a.send(ctx, &tunnelframe.Frame{
		Type:       tunnelframe.FrameResponse,
		ID:         f.ID,
		StatusCode: resp.StatusCode,
		Headers:    headers,
	}); err != nil {
		return
	}

	a.streamResponseBody(ctx, f.ID, resp.Body)
}

func (a *agent) streamResponseBody(ctx context.Context, id string, body io.Reader) {
	buf := make([]byte, serveChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			final := errors.Is(err, io.EOF)
			if werr := a.send(ctx, &tunnelframe.Frame{Type: tunnelframe.FrameData, ID: id, Data: chunk, Final: final}); werr != nil {
				return
			}
			if final {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = a.send(ctx, &tunnelframe.Frame{Type: tunnelframe.FrameData, ID: id, Final: true})
			}
			return
		}
	}
}

func (a *agent) sendError(ctx context.Context, id, msg string) {
	_ = a.send(ctx, &tunnelframe.Frame{Type: tunnelframe.FrameError, ID: id, Error: msg})
}

func (a *agent) send(ctx context.Context, f *tunnelframe.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.ws.Write(ctx, websocket.MessageText, data)
}

// tunnelWebSocketURL rewrites an https(s)/http control-plane base URL into
// its ws(s) tunnel-agent endpoint.
func tunnelWebSocketURL(base string) (string, error) {
	switch {
	case len(base) >= 8 && base[:8] == "https://":
		return "wss://" + base[8:] + "/tunnel/agent", nil
	case len(base) >= 7 && base[:7] == "http://":
		return "ws://" + base[7:] + "/tunnel/agent", nil
	default:
		return "", fmt.Errorf("unrecognized control plane URL %q", base)
	}
}
