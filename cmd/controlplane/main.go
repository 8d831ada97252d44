package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	cfhttp "github.com/openclave/controlplane/internal/adapter/http"
	"github.com/openclave/controlplane/internal/adapter/metrics"
	"github.com/openclave/controlplane/internal/adapter/natskv"
	"github.com/openclave/controlplane/internal/adapter/otel"
	cloudcompute "github.com/openclave/controlplane/internal/adapter/compute/cloud"
	localcompute "github.com/openclave/controlplane/internal/adapter/compute/local"
	sandboxcompute "github.com/openclave/controlplane/internal/adapter/compute/sandbox"
	githubapp "github.com/openclave/controlplane/internal/adapter/github"
	"github.com/openclave/controlplane/internal/adapter/postgres"
	"github.com/openclave/controlplane/internal/adapter/rediscache"
	"github.com/openclave/controlplane/internal/adapter/ristretto"
	"github.com/openclave/controlplane/internal/adapter/tiered"
	"github.com/openclave/controlplane/internal/adapter/tunnel"
	"github.com/openclave/controlplane/internal/adapter/ws"
	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/config"
	"github.com/openclave/controlplane/internal/logger"
	"github.com/openclave/controlplane/internal/middleware"
	"github.com/openclave/controlplane/internal/port/computeprovider"
	"github.com/openclave/controlplane/internal/port/database"
	"github.com/openclave/controlplane/internal/port/gitprovider"
	"github.com/openclave/controlplane/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfgHolder := config.NewHolder(cfg, yamlPath)

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	otelShutdown, err := otel.InitTracer(otel.OTELConfig{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Insecure:    cfg.OTEL.Insecure,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	otelMetrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	promReg := metrics.New()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}

	idempotencyKV, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Idempotency.Bucket,
		TTL:    cfg.Idempotency.TTL,
	})
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}
	configKV, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Cache.L2Bucket,
		TTL:    cfg.Cache.L2TTL,
	})
	if err != nil {
		return fmt.Errorf("config cache bucket: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	deviceLoginCache := rediscache.New(redisClient)

	l1Cache, err := ristretto.New(cfg.Cache.L1MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("ristretto cache: %w", err)
	}
	configCacheTier := tiered.New(l1Cache, natskv.New(configKV), cfg.Cache.L2TTL)

	// --- Compute backends ---
	cloudcompute.Register()
	localcompute.Register()
	sandboxcompute.Register()

	computeProviders := map[string]computeprovider.Provider{}
	cloudProvider, err := computeprovider.New("cloud", map[string]string{
		"base_url": cfg.Cloud.BaseURL,
		"api_key":  cfg.Cloud.APIKey,
	})
	if err != nil {
		return fmt.Errorf("cloud provider: %w", err)
	}
	computeProviders[cloudProvider.Name()] = cloudProvider

	localProvider, err := computeprovider.New("local", nil)
	if err != nil {
		return fmt.Errorf("local provider: %w", err)
	}
	computeProviders[localProvider.Name()] = localProvider

	sandboxProvider, err := computeprovider.New("sandbox", map[string]string{
		"base_url": cfg.Sandbox.BaseURL,
		"api_key":  cfg.Sandbox.APIKey,
	})
	if err != nil {
		return fmt.Errorf("sandbox provider: %w", err)
	}
	computeProviders[sandboxProvider.Name()] = sandboxProvider

	// --- Services ---
	store := postgres.NewStore(pool)
	signer := authtoken.NewSigner(cfg.Auth.JWTSecret)

	userFromCtx := func(ctx context.Context) string {
		if u := middleware.UserFromContext(ctx); u != nil {
			return u.ID
		}
		return ""
	}
	hub := ws.NewHub(cfg.Server.CORSOrigin, userFromCtx)

	configCache := service.NewConfigCache(store).WithSharedCache(configCacheTier)
	quotaSvc := service.NewQuotaService(store, configCache)
	quotaSvc.SelfHosted = cfg.Workspace.SelfHosted

	var gitProvider gitprovider.Provider
	var githubApp *githubapp.Provider
	if cfg.GitHubApp.AppID != 0 {
		githubApp, err = githubapp.New(cfg.GitHubApp.AppID, cfg.GitHubApp.Slug, cfg.GitHubApp.PrivateKeyPEM, cfg.GitHubApp.BaseURL)
		if err != nil {
			return fmt.Errorf("github app: %w", err)
		}
		gitProvider = githubApp
		slog.Info("github app configured", "app_id", cfg.GitHubApp.AppID, "slug", cfg.GitHubApp.Slug)
	}

	workspaceSvc := service.NewWorkspaceService(store, quotaSvc, hub, signer, computeProviders, gitProvider, cfg.Workspace.BaseURL)
	for _, id := range cfg.Workspace.AdminUserIDs {
		workspaceSvc.AdminUserIDs[id] = true
	}

	vault := service.NewCredentialVault(store, cfg.Vault.Secret, oauthEndpointsFor())
	loopSvc := service.NewLoopSchedulerService(store, quotaSvc, vault, computeProviders, cfg.LoopRunner.CallbackBaseURL, cfg.LoopRunner.CallbackSecret)
	tunnelAuthSvc := service.NewTunnelAuthService(store, signer)
	deviceLoginSvc := service.NewDeviceLoginService(deviceLoginCache, signer, cfg.DeviceLogin.VerificationURI)

	broker := tunnel.NewBroker(store, signer, workspaceSvc, cfg.Workspace.BaseDomain)

	handlers := cfhttp.NewHandlers(store, workspaceSvc, loopSvc, quotaSvc, tunnelAuthSvc, deviceLoginSvc, vault, configCache, broker, otelMetrics, promReg, githubApp, cfg.GitHubApp.WebhookSecret)

	// --- HTTP ---
	apiRouter := chi.NewRouter()
	apiRouter.Use(cfhttp.SecurityHeaders)
	apiRouter.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	apiRouter.Use(chimw.RequestID)
	apiRouter.Use(cfhttp.Logger)
	apiRouter.Use(chimw.RealIP)
	apiRouter.Use(chimw.Recoverer)
	apiRouter.Use(chimw.Timeout(30 * time.Second))
	apiRouter.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))
	apiRouter.Use(middleware.Auth(signer, store, cfg.Auth.Enabled))

	apiRouter.Get("/health", healthHandler(cfg))
	apiRouter.Get("/health/ready", readyHandler(pool))
	apiRouter.Handle("/metrics", promReg.Handler())
	apiRouter.Get("/ws", hub.HandleWS)

	rateLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopRateLimiterCleanup := rateLimiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	cfhttp.MountRoutes(apiRouter, handlers, cfhttp.RouteDeps{
		WorkspaceAuth:    middleware.WorkspaceAuth(signer),
		LoopCallbackAuth: middleware.WebhookToken(cfg.LoopRunner.CallbackSecret, "X-Callback-Token"),
		Idempotency:      middleware.Idempotency(idempotencyKV),
		RateLimit:        rateLimiter.Handler,
	})

	// A request for a tunneled workspace subdomain (<subdomain>.<base
	// domain>, optionally "<service>--<subdomain>.<base domain>") is
	// forwarded to its connected agent instead of hitting the API router;
	// every other host is the control plane's own API and dashboard.
	topRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := stripPort(r.Host)
		if host != cfg.Workspace.BaseDomain && strings.HasSuffix(host, "."+cfg.Workspace.BaseDomain) {
			broker.ServeHTTP(w, r)
			return
		}
		apiRouter.ServeHTTP(w, r)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           topRouter,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Background reapers ---
	reaperCtx, stopReapers := context.WithCancel(ctx)
	go runIdleReaper(reaperCtx, workspaceSvc, cfgHolder, cfg.Workspace.IdleCheckInterval)
	go runLongTermReaper(reaperCtx, store, workspaceSvc, cfg.Workspace.LongTermInactiveCheck)
	go runQuotaReaper(reaperCtx, store, workspaceSvc, cfg.Workspace.IdleCheckInterval)
	go runStallPoller(reaperCtx, loopSvc, cfg.LoopRunner.StallPollEvery)
	go runTunnelGaugeUpdater(reaperCtx, broker, promReg)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done

	slog.Info("shutdown phase 1: stopping HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown phase 2: stopping background reapers")
	stopReapers()
	stopRateLimiterCleanup()

	slog.Info("shutdown phase 3: closing infrastructure connections")
	nc.Close()
	redisClient.Close()
	pool.Close()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("otel shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// oauthEndpointsFor resolves the OAuth device/token endpoint pair for the
// small set of model providers that support the credential vault's OAuth
// flow; API-key-only providers never call this. The set is static rather
// than database-driven since model_providers rows carry no endpoint URLs.
func oauthEndpointsFor() service.OAuthEndpoints {
	wellKnown := map[string]oauth2.Config{
		"anthropic": {
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: "https://console.anthropic.com/v1/oauth/device/code",
				TokenURL:      "https://console.anthropic.com/v1/oauth/token",
			},
			Scopes: []string{"org:inference"},
		},
		"openai": {
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: "https://auth.openai.com/oauth/device/code",
				TokenURL:      "https://auth.openai.com/oauth/token",
			},
			Scopes: []string{"api.read", "api.write"},
		},
	}
	return func(providerID string) (oauth2.Config, bool) {
		cfg, ok := wellKnown[strings.ToLower(providerID)]
		return cfg, ok
	}
}

func stripPort(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx != -1 {
		return host[:idx]
	}
	return host
}

func runIdleReaper(ctx context.Context, svc *service.WorkspaceService, cfgHolder *config.ConfigHolder, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idleTimeout := cfgHolder.Get().Quota.DefaultIdleTimeoutMinutes
			if n, err := svc.IdleReap(ctx, idleTimeout); err != nil {
				slog.Error("idle reap failed", "error", err)
			} else if n > 0 {
				slog.Info("idle reap stopped workspaces", "count", n)
			}
		}
	}
}

// runLongTermReaper terminates cloud workspaces left running or stopped
// for days with no owner activity. The candidate window is generous —
// WorkspaceService.LongTermInactiveReap applies its own tighter cutoff —
// so a wide net here costs one query, not a correctness risk.
func runLongTermReaper(ctx context.Context, store database.Store, svc *service.WorkspaceService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, err := store.ListWorkspacesForInactivityReap(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				slog.Error("long-term inactivity candidate query failed", "error", err)
				continue
			}
			if n, err := svc.LongTermInactiveReap(ctx, candidates); err != nil {
				slog.Error("long-term inactivity reap failed", "error", err)
			} else if n > 0 {
				slog.Info("long-term inactivity reap terminated workspaces", "count", n)
			}
		}
	}
}

// runQuotaReaper stops running cloud workspaces whose owner has exhausted
// their daily quota, re-checked on every tick against current usage.
func runQuotaReaper(ctx context.Context, store database.Store, svc *service.WorkspaceService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, err := store.ListRunningWorkspaces(ctx)
			if err != nil {
				slog.Error("quota reap candidate query failed", "error", err)
				continue
			}
			if n, err := svc.QuotaReap(ctx, candidates); err != nil {
				slog.Error("quota reap failed", "error", err)
			} else if n > 0 {
				slog.Info("quota reap stopped workspaces", "count", n)
			}
		}
	}
}

func runStallPoller(ctx context.Context, svc *service.LoopSchedulerService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runs, err := svc.ListStalledRuns(ctx)
			if err != nil {
				slog.Error("stall poll failed", "error", err)
				continue
			}
			if len(runs) > 0 {
				slog.Warn("stalled agent loop runs detected", "count", len(runs))
			}
		}
	}
}

func runTunnelGaugeUpdater(ctx context.Context, broker *tunnel.Broker, reg *metrics.Registry) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ConnectedTunnels.Set(float64(len(broker.ConnectedWorkspaces())))
		}
	}
}

// readyHandler reports 503 until the database is reachable, so a load
// balancer or orchestrator doesn't route traffic to a process still
// waiting on its connection pool.
func readyHandler(pool *pgxpool.Pool) http.HandlerFunc {
	type readyStatus struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(readyStatus{Status: "not ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(readyStatus{Status: "ready"})
	}
}

func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthStatus{Status: "ok"})
	}
}
