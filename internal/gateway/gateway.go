// ABOUTME: Gateway orchestrator that wires the messaging fabric and runs the HTTP and gRPC servers
// ABOUTME: Owns store, presence, fan-out, dispatch, and conversation lifecycles

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/huddle-gateway/internal/auth"
	"github.com/2389/huddle-gateway/internal/config"
	"github.com/2389/huddle-gateway/internal/conversation"
	"github.com/2389/huddle-gateway/internal/dedupe"
	"github.com/2389/huddle-gateway/internal/dispatch"
	"github.com/2389/huddle-gateway/internal/fanout"
	"github.com/2389/huddle-gateway/internal/metrics"
	"github.com/2389/huddle-gateway/internal/presence"
	"github.com/2389/huddle-gateway/internal/secret"
	"github.com/2389/huddle-gateway/internal/store"
)

// idempotencyTTL bounds how long a message send can be replayed by key.
const idempotencyTTL = 10 * time.Minute

// Directory is the store surface the gateway needs: the messaging
// directory plus a liveness probe for readiness checks.
type Directory interface {
	store.Directory
	Ping(ctx context.Context) error
}

// Gateway orchestrates the huddle-gateway server components.
type Gateway struct {
	config       *config.Config
	store        Directory
	registry     *presence.Registry
	conversation *conversation.Service
	verifier     *auth.JWTVerifier
	idempotency  *dedupe.Cache
	upgrader     websocket.Upgrader
	sockets      socketSet
	grpcServer   *grpc.Server
	health       *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// initStore creates the SQLite store named by config, honoring HUDDLE_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HUDDLE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// providerBindings builds the provider table, applying configured endpoint overrides.
func providerBindings(cfg *config.Config) map[dispatch.Model]dispatch.Provider {
	httpClient := &http.Client{Timeout: cfg.Bots.DispatchTimeout + 5*time.Second}
	return dispatch.DefaultBindings(dispatch.Endpoints{
		OpenAI:    cfg.Bots.BaseURL("openai"),
		Mistral:   cfg.Bots.BaseURL("mistral"),
		DeepSeek:  cfg.Bots.BaseURL("deepseek"),
		Gemini:    cfg.Bots.BaseURL("gemini"),
		Anthropic: cfg.Bots.BaseURL("anthropic"),
	}, httpClient)
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := build(ctx, cfg, s, providerBindings(cfg), logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// build wires every component around an open store. The store is owned by
// the returned Gateway and closed on Shutdown.
func build(ctx context.Context, cfg *config.Config, s Directory, providers map[dispatch.Model]dispatch.Provider, logger *slog.Logger) (*Gateway, error) {
	codec, err := secret.NewCodec(cfg.Crypto.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("creating secret codec: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	registry := presence.NewRegistry(logger)
	syncer := presence.NewSynchronizer(registry, s, logger)
	router := fanout.NewRouter(registry, logger)
	dispatcher := dispatch.NewGateway(dispatch.Config{
		DefaultAPIKey: cfg.Bots.DefaultAPIKey,
		SystemPrompt:  cfg.Bots.SystemPrompt,
		MaxTokens:     cfg.Bots.MaxTokens,
		Temperature:   cfg.Bots.Temperature,
		HistoryLimit:  cfg.Bots.HistoryLimit,
		Timeout:       cfg.Bots.DispatchTimeout,
	}, codec, providers, logger)

	convService := conversation.New(conversation.Deps{
		Directory:  s,
		Presence:   registry,
		Rooms:      syncer,
		Router:     router,
		Dispatcher: dispatcher,
		Keys:       codec,
		Logger:     logger,
	})

	if _, err := convService.EnsureDefaultBot(ctx, cfg.Bots.DefaultAPIKey); err != nil {
		return nil, fmt.Errorf("provisioning default bot: %w", err)
	}

	gw := &Gateway{
		config:       cfg,
		store:        s,
		registry:     registry,
		conversation: convService,
		verifier:     verifier,
		idempotency:  dedupe.New(idempotencyTTL, 100_000),
		upgrader:     makeUpgrader(),
		logger:       logger.With("component", "gateway"),
	}

	gw.grpcServer, gw.health = newGRPCServer()

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP handler: health and metrics are public, the API
// and /ws require a JWT.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle("GET "+path, promhttp.Handler())
	}

	authed := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	handle("GET /ws", g.handleWebSocket)

	handle("POST /api/conversations", g.handleCreateConversation)
	handle("GET /api/conversations", g.handleListConversations)
	handle("PUT /api/conversations/{id}/name", g.handleRenameConversation)
	handle("POST /api/conversations/{id}/members", g.handleAddMember)
	handle("DELETE /api/conversations/{id}/members/{identity}", g.handleRemoveMember)
	handle("GET /api/conversations/{id}/messages", g.handleListMessages)
	handle("POST /api/conversations/{id}/messages", g.handleSendMessage)

	handle("POST /api/bots", g.handleCreateBot)
	handle("GET /api/bots", g.handleListBots)
	handle("DELETE /api/bots/{id}", g.handleDeleteBot)
	handle("GET /api/bots/{id}/messages", g.handleBotMessages)
	handle("POST /api/bots/{id}/messages", g.handleSendToBot)

	handle("POST /api/contacts", g.handleAddContact)
	handle("GET /api/presence", g.handlePresence)

	return metrics.Middleware(mux)
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is
// nil when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}
	return g.serve(ctx, grpcLn, httpLn)
}

// serve runs the servers on the given listeners until ctx is canceled or a
// server fails, then shuts everything down. grpcLn may be nil.
func (g *Gateway) serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	g.markServing()

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "huddle-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// http.Server does not track hijacked connections.
	g.closeSockets()

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.idempotency.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the directory is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", len(g.registry.ListOnline()))
}
