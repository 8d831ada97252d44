// Package http wires the control plane's HTTP surface: request decoding,
// response encoding, and translation of service-layer apierr.Error values
// into status codes. Route registration lives in routes.go.
package http

import (
	"github.com/openclave/controlplane/internal/adapter/github"
	"github.com/openclave/controlplane/internal/adapter/metrics"
	"github.com/openclave/controlplane/internal/adapter/otel"
	"github.com/openclave/controlplane/internal/adapter/tunnel"
	"github.com/openclave/controlplane/internal/port/database"
	"github.com/openclave/controlplane/internal/service"
)

// maxBodyBytes bounds every JSON request body this handler set accepts.
const maxBodyBytes = 1 << 20 // 1 MB

// Handlers wraps every service the control plane's HTTP surface calls into.
type Handlers struct {
	Store       database.Store
	Workspaces  *service.WorkspaceService
	Loops       *service.LoopSchedulerService
	Quota       *service.QuotaService
	TunnelAuth  *service.TunnelAuthService
	DeviceLogin *service.DeviceLoginService
	Vault       *service.CredentialVault
	Config      *service.ConfigCache
	Broker      *tunnel.Broker
	Metrics     *otel.Metrics
	Prom        *metrics.Registry

	// GitHubApp is nil when no GitHub App is configured; the
	// git-integration install and webhook routes then 404.
	GitHubApp           *github.Provider
	GitHubWebhookSecret string
}

func NewHandlers(
	store database.Store,
	workspaces *service.WorkspaceService,
	loops *service.LoopSchedulerService,
	quota *service.QuotaService,
	tunnelAuth *service.TunnelAuthService,
	deviceLogin *service.DeviceLoginService,
	vault *service.CredentialVault,
	config *service.ConfigCache,
	broker *tunnel.Broker,
	otelMetrics *otel.Metrics,
	prom *metrics.Registry,
	gitHubApp *github.Provider,
	gitHubWebhookSecret string,
) *Handlers {
	return &Handlers{
		Store:               store,
		Workspaces:          workspaces,
		Loops:               loops,
		Quota:               quota,
		TunnelAuth:          tunnelAuth,
		DeviceLogin:         deviceLogin,
		Vault:               vault,
		Config:              config,
		Broker:              broker,
		Metrics:             otelMetrics,
		Prom:                prom,
		GitHubApp:           gitHubApp,
		GitHubWebhookSecret: gitHubWebhookSecret,
	}
}
