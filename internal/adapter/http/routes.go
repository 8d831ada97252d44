package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/middleware"
)

// RouteDeps carries the per-request middleware dependencies MountRoutes
// needs beyond the Handlers themselves.
type RouteDeps struct {
	WorkspaceAuth      func(http.Handler) http.Handler
	LoopCallbackAuth   func(http.Handler) http.Handler
	Idempotency        func(http.Handler) http.Handler
	RateLimit          func(http.Handler) http.Handler
}

// MountRoutes registers every API route on r.
//
// When /api/v2 is introduced, apply middleware.Deprecation to the v1 group:
//
//	r.Route("/api/v1", func(r chi.Router) {
//	    r.Use(middleware.Deprecation(sunsetDate))
//	    // ... existing v1 routes ...
//	})
func MountRoutes(r chi.Router, h *Handlers, deps RouteDeps) {
	// Workspace self-callbacks, authenticated by a workspace-scoped token
	// rather than a user session.
	r.Route("/api/v1/workspaces/heartbeat", func(r chi.Router) {
		r.Use(deps.WorkspaceAuth)
		r.Post("/", h.Heartbeat)
	})

	// Sandbox runner callback, authenticated by a shared callback token.
	r.Route("/api/v1/loops/callback", func(r chi.Router) {
		r.Use(deps.LoopCallbackAuth)
		r.Post("/", h.LoopCallback)
	})

	// Tunnel agent WebSocket upgrade; authenticated by its own frame-level
	// handshake inside Broker.HandleAgentWS, not HTTP middleware.
	r.Get("/tunnel/agent", h.AgentWebsocket)

	// GitHub App installation webhook; authenticated by HMAC signature, not
	// a user session.
	r.Post("/webhooks/github", h.HandleGitHubWebhook)

	// Tunnel-agent login: no user session exists yet.
	r.Route("/api/v1/device", func(r chi.Router) {
		r.Post("/start", h.StartDeviceLogin)
		r.Post("/poll", h.PollDeviceLogin)
		r.Post("/exchange", h.ExchangeDeviceCode)
	})

	// Tunnel mint using a previously-issued agent token rather than a
	// browser session cookie.
	r.Post("/api/v1/tunnel/mint-with-agent-token", h.MintTunnelTokenWithAgentToken)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.RateLimit)
		r.Use(deps.Idempotency)

		r.Get("/me", h.GetMe)
		r.Post("/device/approve", h.ApproveDeviceLogin)

		r.Route("/workspaces", func(r chi.Router) {
			r.Post("/", h.CreateWorkspace)
			r.Get("/", h.ListWorkspaces)
			r.Get("/{id}", h.GetWorkspace)
			r.Post("/{id}/stop", h.StopWorkspace)
			r.Post("/{id}/restart", h.RestartWorkspace)
			r.Post("/{id}/terminate", h.TerminateWorkspace)
		})

		r.Route("/loops", func(r chi.Router) {
			r.Post("/", h.CreateLoop)
			r.Get("/", h.ListLoops)
			r.Get("/{id}", h.GetLoop)
			r.Delete("/{id}", h.DeleteLoop)
			r.Post("/{id}/pause", h.PauseLoop)
			r.Post("/{id}/resume", h.ResumeLoop)
			r.Post("/{id}/complete", h.CompleteLoop)
			r.Post("/{id}/archive", h.ArchiveLoop)
			r.Post("/{id}/runs", h.StartRun)
			r.Get("/{id}/runs", h.ListRuns)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/{id}", h.GetRun)
			r.Post("/{id}/restart", h.RestartRun)
		})

		r.Post("/tunnel/mint", h.MintTunnelToken)

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", h.ListCredentials)
			r.Post("/api-key", h.StoreAPIKeyCredential)
			r.Post("/oauth/device/start", h.StartCredentialOAuthDevice)
			r.Post("/oauth/device/poll", h.PollCredentialOAuthDevice)
			r.Post("/{id}/revoke", h.RevokeCredential)
			r.Delete("/{id}", h.DeleteCredential)
		})

		r.Route("/git-integration", func(r chi.Router) {
			r.Get("/", h.GetGitIntegration)
			r.Delete("/{id}", h.DeleteGitIntegration)
			r.Get("/install-url", h.GetGitHubInstallURL)
			r.Get("/install-callback", h.CompleteGitHubInstall)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/cloud-providers", h.ListCloudProviders)
			r.Get("/cloud-providers/{id}/regions", h.ListRegions)
			r.Get("/agent-types", h.ListAgentTypes)
			r.Get("/model-providers", h.ListModelProviders)
			r.Get("/model-providers/{id}/models", h.ListModels)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(user.RoleAdmin))
			r.Get("/config", h.ListSystemConfig)
			r.Put("/config/{key}", h.SetSystemConfig)
			r.Put("/users/{id}/role-plan", h.UpdateUserRolePlan)
		})
	})
}
