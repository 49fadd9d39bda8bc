// ABOUTME: Gateway orchestrator that wires the chat and signaling namespaces to HTTP and gRPC servers
// ABOUTME: Owns the store, presence registries, hubs, and the listener and shutdown lifecycle

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
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/auth"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/chat"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/config"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/dedupe"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/presence"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/session"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/signaling"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

// Namespace names, also used as websocket paths.
const (
	NamespaceChat   = "chat"
	NamespaceWebRTC = "webrtc"
)

// dedupeCapacity bounds how many client message ids are remembered at once.
const dedupeCapacity = 100_000

// namespace bundles the per-namespace realtime components.
type namespace struct {
	registry *presence.Registry
	hub      *realtime.Hub
	sessions *session.Manager
	endpoint *session.Endpoint
}

// Gateway orchestrates the rtc-chat-server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	tokens      *auth.JWTVerifier
	accounts    *auth.AccountService
	namespaces  map[string]*namespace
	relay       *chat.Relay
	coordinator *signaling.Coordinator
	dedupe      *dedupe.Cache
	health      *health.Server
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore opens the store named by config. RTC_DB_PATH overrides the path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RTC_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// createGRPCServer creates the gRPC server that carries the health service.
func createGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// connOptions maps the websocket config onto transport limits.
func connOptions(cfg config.WebSocketConfig) realtime.ConnOptions {
	return realtime.ConnOptions{
		PingInterval:    cfg.PingInterval,
		PongTimeout:     cfg.PongTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
}

// New creates a Gateway from cfg, opening the configured store.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, s, logger), nil
}

// NewWithStore creates a Gateway around an already opened store. The gateway
// takes ownership and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) *Gateway {
	tokens := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	gw := &Gateway{
		config:     cfg,
		store:      s,
		tokens:     tokens,
		accounts:   auth.NewAccountService(s, tokens, cfg.Auth.TokenTTL, cfg.Auth.BcryptCost, logger),
		namespaces: make(map[string]*namespace),
		health:     health.NewServer(),
		grpcServer: createGRPCServer(),
		logger:     logger.With("component", "gateway"),
	}

	chatNS := gw.newNamespace(NamespaceChat, logger)
	rtcNS := gw.newNamespace(NamespaceWebRTC, logger)

	relayOpts := chat.Options{HistoryLimit: cfg.Chat.HistoryLimit}
	if cfg.Chat.DedupeWindow > 0 {
		gw.dedupe = dedupe.New(cfg.Chat.DedupeWindow, dedupeCapacity)
		relayOpts.Dedupe = gw.dedupe
	}
	gw.relay = chat.NewRelay(chatNS.registry, chatNS.hub, s, relayOpts, logger)
	gw.coordinator = signaling.NewCoordinator(rtcNS.registry, rtcNS.hub, cfg.Signaling.RingTimeout, logger)
	rtcNS.sessions.OnLeave(gw.coordinator.Leave)

	registerHealthService(gw.grpcServer, gw.health)

	mux := http.NewServeMux()
	gw.registerRoutes(mux, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

func (g *Gateway) newNamespace(name string, logger *slog.Logger) *namespace {
	registry := presence.NewRegistry(name, presence.Options{Supersede: g.config.Presence.SupersedeEnabled()}, logger)
	hub := realtime.NewHub(name, logger)
	ns := &namespace{
		registry: registry,
		hub:      hub,
		sessions: session.NewManager(registry, hub, hub, g.tokens, g.store, logger),
	}
	g.namespaces[name] = ns
	return ns
}

// registerRoutes mounts the websocket namespaces, the account and REST API, and health checks.
func (g *Gateway) registerRoutes(mux *http.ServeMux, logger *slog.Logger) {
	upgrader := realtime.NewUpgrader(g.config.Server.AllowedOrigins)
	opts := connOptions(g.config.WebSocket)

	mux.Handle("/"+NamespaceChat, g.endpoint(NamespaceChat, g.relay, upgrader, opts, logger))
	mux.Handle("/"+NamespaceWebRTC, g.endpoint(NamespaceWebRTC, g.coordinator, upgrader, opts, logger))

	g.accounts.RegisterRoutes(mux)

	requireAuth := auth.HTTPAuthMiddleware(g.tokens)
	mux.Handle("GET /api/online", requireAuth(http.HandlerFunc(g.handleOnline)))
	mux.Handle("GET /api/messages/unread", requireAuth(http.HandlerFunc(g.handleUnread)))

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
}

func (g *Gateway) endpoint(name string, d session.Dispatcher, upgrader *websocket.Upgrader, opts realtime.ConnOptions, logger *slog.Logger) http.Handler {
	ns := g.namespaces[name]
	ns.endpoint = session.NewEndpoint(ns.sessions, ns.hub, d, upgrader, opts, logger)
	return ns.endpoint
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Registry returns the presence registry of the named namespace.
func (g *Gateway) Registry(name string) (*presence.Registry, bool) {
	ns, ok := g.namespaces[name]
	if !ok {
		return nil, false
	}
	return ns.registry, true
}

// setupTCPListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
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

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" || g.config.Server.GRPCAddr != "" {
			g.logger.Warn("server.http_addr and server.grpc_addr are ignored when tailscale is enabled")
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning an error channel.
// A nil grpcLn leaves the gRPC server idle.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health service listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go g.watchStore(watchCtx, readinessInterval)

	errCh := g.startServers(grpcLn, httpLn)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
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
	return filepath.Join(homeDir, ".local", "share", "rtc-chat", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or the TS_AUTHKEY environment variable.
func resolveTailscaleAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// setupTailscaleListeners joins the tailnet and listens there for HTTP (:80
// or :443) and gRPC (:50051).
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
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

	if tsCfg.HTTPS {
		httpLn, err = g.createTailscaleTLSListener()
	} else {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
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

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, err
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

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown closes every live connection, stops the servers, and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server. Draining
	// waits for each one to go offline before the store is closed.
	for name, ns := range g.namespaces {
		if ns.endpoint == nil {
			ns.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")
			continue
		}
		errs = appendCloseError(errs, name+" drain", ns.endpoint.Drain(ctx))
	}
	g.coordinator.Close()

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
