// Package tunnel implements the bidirectional WebSocket bridge between a
// developer's local agent and inbound HTTPS traffic for that workspace's
// subdomain. The frame schema is modeled in
// internal/domain/tunnel; the dashboard-facing broadcast hub is a
// separate, unrelated connection type handled by internal/adapter/ws.
package tunnel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/adapter/otel"
	"github.com/openclave/controlplane/internal/authtoken"
	domaintunnel "github.com/openclave/controlplane/internal/domain/tunnel"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/database"
	"github.com/openclave/controlplane/internal/service"
)

const (
	// pingInterval is how often the broker pings an idle agent connection.
	pingInterval = 3 * time.Second
	// pongGrace is how long a missed pong is tolerated before the
	// connection is declared dead.
	pongGrace = 3 * pingInterval
	// requestTimeout bounds how long the broker waits for the agent's
	// response to a forwarded request before failing it upstream.
	requestTimeout = 30 * time.Second
	chunkSize      = 32 * 1024
)

type pendingRequest struct {
	frames chan *domaintunnel.Frame
}

// agentConn is one workspace's local-agent WebSocket connection.
type agentConn struct {
	ws          *websocket.Conn
	writeMu     sync.Mutex
	workspaceID string
	claims      *authtoken.TunnelClaims

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	lastPong time.Time

	cancel context.CancelFunc
}

func (c *agentConn) send(ctx context.Context, f *domaintunnel.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *agentConn) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *agentConn) register(id string) *pendingRequest {
	pr := &pendingRequest{frames: make(chan *domaintunnel.Frame, 16)}
	c.mu.Lock()
	c.pending[id] = pr
	c.mu.Unlock()
	return pr
}

func (c *agentConn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *agentConn) dispatch(f *domaintunnel.Frame) {
	c.mu.Lock()
	pr, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		return // no in-flight request for this id; agent sent a stray/late frame
	}
	select {
	case pr.frames <- f:
	default:
		slog.Warn("tunnel: pending request channel full, dropping frame", "id", f.ID, "type", f.Type)
	}
}

// Broker bridges inbound tunneled HTTP traffic to the single connected
// agent for each workspace. At most one agent connection
// per workspace is kept; a new connection supersedes the old one.
type Broker struct {
	mu    sync.RWMutex
	conns map[string]*agentConn // workspaceID -> connection

	store      database.Store
	signer     *authtoken.Signer
	workspaces *service.WorkspaceService
	baseDomain string
}

func NewBroker(store database.Store, signer *authtoken.Signer, workspaces *service.WorkspaceService, baseDomain string) *Broker {
	return &Broker{
		conns:      make(map[string]*agentConn),
		store:      store,
		signer:     signer,
		workspaces: workspaces,
		baseDomain: baseDomain,
	}
}

// HandleAgentWS upgrades the local agent's connection, verifies its auth
// frame, and runs its lifecycle until the socket closes.
func (b *Broker) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	// Non-browser agent clients don't send a matching Origin header;
	// this endpoint is authenticated by the auth frame's JWT, not by
	// the WebSocket handshake's origin.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("tunnel: accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_, data, err := ws.Read(ctx)
	if err != nil {
		_ = ws.Close(websocket.StatusProtocolError, "expected auth frame")
		return
	}
	authFrame, err := domaintunnel.UnmarshalFrame(data)
	if err != nil || authFrame.Type != domaintunnel.FrameAuth || authFrame.Token == "" {
		_ = ws.Close(websocket.StatusProtocolError, "expected auth frame")
		return
	}
	claims, err := b.signer.ParseTunnelToken(authFrame.Token)
	if err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "invalid tunnel token")
		return
	}

	ac := &agentConn{
		ws:          ws,
		workspaceID: claims.WorkspaceID,
		claims:      claims,
		pending:     make(map[string]*pendingRequest),
		lastPong:    time.Now(),
		cancel:      cancel,
	}

	b.attach(ac)
	defer b.detach(ac)

	slog.Info("tunnel agent connected", "workspace_id", claims.WorkspaceID, "user_id", claims.UserID)

	go b.pingLoop(ctx, ac)
	b.readLoop(ctx, ac)
}

func (b *Broker) attach(ac *agentConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.conns[ac.workspaceID]; ok {
		old.cancel()
		_ = old.ws.Close(websocket.StatusNormalClosure, "superseded by new connection")
	}
	b.conns[ac.workspaceID] = ac
}

func (b *Broker) detach(ac *agentConn) {
	b.mu.Lock()
	if cur, ok := b.conns[ac.workspaceID]; ok && cur == ac {
		delete(b.conns, ac.workspaceID)
	}
	b.mu.Unlock()
	_ = ac.ws.Close(websocket.StatusNormalClosure, "")
	slog.Info("tunnel agent disconnected", "workspace_id", ac.workspaceID)
}

func (b *Broker) connFor(workspaceID string) (*agentConn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ac, ok := b.conns[workspaceID]
	return ac, ok
}

func (b *Broker) pingLoop(ctx context.Context, ac *agentConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ac.mu.Lock()
			stale := time.Since(ac.lastPong) > pongGrace
			ac.mu.Unlock()
			if stale {
				slog.Warn("tunnel agent missed pongs, disconnecting", "workspace_id", ac.workspaceID)
				ac.cancel()
				return
			}
			if err := ac.send(ctx, &domaintunnel.Frame{Type: domaintunnel.FramePing, TimestampUnixMilli: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

func (b *Broker) readLoop(ctx context.Context, ac *agentConn) {
	for {
		_, data, err := ac.ws.Read(ctx)
		if err != nil {
			return
		}
		f, err := domaintunnel.UnmarshalFrame(data)
		if err != nil {
			slog.Debug("tunnel: malformed frame", "error", err)
			continue
		}
		switch f.Type {
		case domaintunnel.FramePong:
			ac.touchPong()
		case domaintunnel.FramePing:
			_ = ac.send(ctx, &domaintunnel.Frame{Type: domaintunnel.FramePong, TimestampUnixMilli: time.Now().UnixMilli()})
		case domaintunnel.FrameExposedPorts:
			b.updatePorts(ctx, ac, f)
		case domaintunnel.FrameResponse, domaintunnel.FrameData, domaintunnel.FrameError:
			ac.dispatch(f)
		default:
			slog.Debug("tunnel: unexpected frame type from agent", "type", f.Type)
		}
	}
}

func (b *Broker) updatePorts(ctx context.Context, ac *agentConn, f *domaintunnel.Frame) {
	ports := make(map[string]workspace.ExposedPort, len(f.ExposedPorts))
	var localPort *int
	for _, p := range f.ExposedPorts {
		port := p.Port
		ports[strconv.Itoa(p.Port)] = workspace.ExposedPort{Port: p.Port, Description: p.Description}
		if localPort == nil {
			localPort = &port
		}
	}
	if err := b.workspaces.UpdateTunnelPorts(ctx, ac.workspaceID, localPort, ports); err != nil {
		slog.Error("tunnel: record port announcement", "workspace_id", ac.workspaceID, "error", err)
	}
}

// ServeHTTP forwards an inbound request for a tunneled subdomain to the
// owning workspace's connected agent.
// Hosts of the form "<service>--<subdomain>.<baseDomain>" select a named
// service; bare "<subdomain>.<baseDomain>" resolves the default service.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serviceName, subdomain, ok := parseTunnelHost(r.Host, b.baseDomain)
	if !ok {
		http.Error(w, "unknown host", http.StatusNotFound)
		return
	}

	ctx, span := otel.StartTunnelSpan(r.Context(), "", subdomain)
	defer span.End()
	r = r.WithContext(ctx)

	ws, err := b.store.GetWorkspaceBySubdomain(r.Context(), subdomain)
	if err != nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	ac, ok := b.connFor(ws.ID)
	if !ok {
		http.Error(w, "agent not connected", http.StatusBadGateway)
		return
	}
	port, ok := ac.claims.ResolvePort(serviceName)
	if !ok {
		http.Error(w, "service not exposed by this tunnel token", http.StatusForbidden)
		return
	}

	b.forward(w, r, ac, port)
}

func (b *Broker) forward(w http.ResponseWriter, r *http.Request, ac *agentConn, port int) {
	id := uuid.NewString()
	pr := ac.register(id)
	defer ac.unregister(id)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	headers := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = v
	}

	reqFrame := &domaintunnel.Frame{
		Type:               domaintunnel.FrameRequest,
		ID:                 id,
		Method:             r.Method,
		Path:               r.URL.RequestURI(),
		Headers:            headers,
		Port:               port,
		TimestampUnixMilli: time.Now().UnixMilli(),
	}
	if err := ac.send(ctx, reqFrame); err != nil {
		http.Error(w, "agent unreachable", http.StatusBadGateway)
		return
	}
	if err := b.streamRequestBody(ctx, ac, id, r.Body); err != nil {
		http.Error(w, "failed streaming request body", http.StatusBadGateway)
		return
	}

	var resp *domaintunnel.Frame
	select {
	case f := <-pr.frames:
		if f.Type == domaintunnel.FrameError {
			http.Error(w, f.Error, http.StatusBadGateway)
			return
		}
		resp = f
	case <-ctx.Done():
		b.cancelRequest(ac, id)
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
		return
	}

	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Final {
		return
	}

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case f := <-pr.frames:
			if f.Type == domaintunnel.FrameError {
				return
			}
			if len(f.Data) > 0 {
				_, _ = w.Write(f.Data)
				if flusher != nil {
					flusher.Flush()
				}
			}
			if f.Final {
				return
			}
		case <-ctx.Done():
			b.cancelRequest(ac, id)
			return
		}
	}
}

// cancelRequest sends a close frame for id; the agent may abort its
// in-flight upstream fetch.
func (b *Broker) cancelRequest(ac *agentConn, id string) {
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ac.send(closeCtx, &domaintunnel.Frame{Type: domaintunnel.FrameClose, ID: id})
}

func (b *Broker) streamRequestBody(ctx context.Context, ac *agentConn, id string, body io.ReadCloser) error {
	if body == nil || body == http.NoBody {
		return ac.send(ctx, &domaintunnel.Frame{Type: domaintunnel.FrameData, ID: id, Final: true})
	}
	defer body.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			final := errors.Is(err, io.EOF)
			if werr := ac.send(ctx, &domaintunnel.Frame{Type: domaintunnel.FrameData, ID: id, Data: chunk, Final: final}); werr != nil {
				return werr
			}
			if final {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ac.send(ctx, &domaintunnel.Frame{Type: domaintunnel.FrameData, ID: id, Final: true})
			}
			return err
		}
	}
}

// ConnectedWorkspaces returns the IDs of workspaces with a live agent
// connection, used by health/debug endpoints.
func (b *Broker) ConnectedWorkspaces() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.conns))
	for id := range b.conns {
		ids = append(ids, id)
	}
	return ids
}
