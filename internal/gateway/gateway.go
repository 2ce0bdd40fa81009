// ABOUTME: Gateway orchestrator that wires the session store, bus, web channel and agent loop
// ABOUTME: Owns the HTTP listener (TCP or tailscale) and the graceful shutdown sequence

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/chatgate/internal/agent"
	"github.com/2389/chatgate/internal/bus"
	"github.com/2389/chatgate/internal/config"
	"github.com/2389/chatgate/internal/provider"
	"github.com/2389/chatgate/internal/registry"
	"github.com/2389/chatgate/internal/session"
	"github.com/2389/chatgate/internal/web"
)

// Gateway owns every long-lived chatgate component.
type Gateway struct {
	config      *config.Config
	store       session.Store
	bus         bus.Bus
	registry    *registry.Registry
	channel     *web.Channel
	chatter     agent.Chatter
	loop        *agent.Loop
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance on the bus
	serverID string

	workers  sync.WaitGroup
	shutOnce sync.Once
	shutErr  error
}

// Option customizes a Gateway before its components are wired.
type Option func(*Gateway)

// WithChatter replaces the provider dispatcher the agent loop talks to.
func WithChatter(c agent.Chatter) Option {
	return func(g *Gateway) { g.chatter = c }
}

// New builds a Gateway from cfg. Nothing listens until Run is called.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		serverID: generateServerID(),
	}
	for _, opt := range opts {
		opt(gw)
	}

	store, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	gw.store = store

	b, err := initBus(cfg, gw.serverID, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating message bus: %w", err)
	}
	gw.bus = b

	if gw.chatter == nil {
		gw.chatter = provider.NewDispatcher(provider.Settings{
			APIKey:       cfg.Provider.APIKey,
			APIBase:      cfg.Provider.APIBase,
			APIVersion:   cfg.Provider.APIVersion,
			DefaultModel: cfg.Provider.Model,
			MaxTokens:    cfg.Provider.MaxTokens,
			Temperature:  cfg.Provider.Temperature,
			Timeout:      cfg.Provider.Timeout,
		}, provider.WithLogger(logger))
	}

	gw.loop = agent.NewLoop(b, store, gw.chatter, agent.Options{
		HistoryWindow: cfg.Agent.HistoryWindow,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
		Logger:        logger,
	})

	gw.registry = registry.New(logger)

	var handler http.Handler
	if cfg.Web.Enabled {
		gw.channel = web.New(gw.registry, store, b, web.Options{
			AllowFrom:     cfg.Web.AllowFrom,
			MaxFrameBytes: cfg.Web.MaxFrameBytes,
			HistoryLimit:  cfg.Web.HistoryLimit,
			WriteTimeout:  cfg.Web.WriteTimeout,
			SkillsDir:     cfg.Skills.Dir,
			Logger:        logger,
		})
		handler = gw.channel.Handler()
	} else {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /health", gw.handleHealth)
		mux.HandleFunc("GET /healthz", gw.handleHealth)
		handler = mux
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// initStore opens the configured session database, fronted by the session cache when enabled.
func initStore(cfg *config.Config) (session.Store, error) {
	sqlStore, err := session.NewSQLStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Database.CacheSize <= 0 {
		return sqlStore, nil
	}
	return session.NewCachedStore(sqlStore, cfg.Database.CacheTTL, cfg.Database.CacheSize), nil
}

// initBus creates the in-process bus or connects to NATS.
func initBus(cfg *config.Config, name string, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "nats":
		nc, err := bus.Connect(cfg.Bus.NATSURL, name, logger)
		if err != nil {
			return nil, err
		}
		b, err := bus.NewNATS(nc, bus.NATSOptions{
			SubjectPrefix: cfg.Bus.SubjectPrefix,
			Buffer:        cfg.Bus.Buffer,
			OwnsConn:      true,
			Logger:        logger,
		})
		if err != nil {
			nc.Close()
			return nil, err
		}
		return b, nil
	default:
		return bus.NewMemory(cfg.Bus.Buffer), nil
	}
}

// setupTCPListener creates the plain TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr, "bus", g.config.Bus.Driver)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startWorkers starts the HTTP server, the agent loop and the outbound pump.
func (g *Gateway) startWorkers(ctx context.Context, ln net.Listener) chan error {
	errCh := make(chan error, 3)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	g.workers.Add(2)
	go func() {
		defer g.workers.Done()
		if err := g.loop.Run(ctx); err != nil {
			errCh <- fmt.Errorf("agent loop: %w", err)
		}
	}()
	go func() {
		defer g.workers.Done()
		if err := g.pumpOutbound(ctx); err != nil {
			errCh <- fmt.Errorf("outbound pump: %w", err)
		}
	}()

	return errCh
}

// pumpOutbound delivers agent replies to the channel they belong to.
func (g *Gateway) pumpOutbound(ctx context.Context) error {
	for {
		msg, err := g.bus.ConsumeOutbound(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if g.channel == nil || msg.Channel != g.channel.Name() {
			g.logger.Debug("dropping reply for unknown channel", "channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}
		if err := g.channel.Send(ctx, msg); err != nil {
			g.logger.Error("delivering reply failed", "chat_id", msg.ChatID, "error", err)
		}
	}
}

// waitForShutdownSignal waits for context cancellation or a worker error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts serving and blocks until ctx is canceled or a worker fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startWorkers(ctx, ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
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
	return filepath.Join(homeDir, ".local", "share", "chatgate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80 there.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
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
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// waitWorkers waits for the agent loop and outbound pump, or gives up when ctx expires.
func (g *Gateway) waitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes browser connections with 1001, stops the HTTP server,
// closes the bus and waits for the workers before closing the store.
// It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutOnce.Do(func() {
		g.shutErr = g.shutdown(ctx)
	})
	return g.shutErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Stop accepting first. Shutdown does not touch hijacked WebSocket
	// connections, so the channel still closes them with 1001 below.
	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.channel != nil {
		g.channel.Shutdown()
	}

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	errs = appendCloseError(errs, "bus close", g.bus.Close())
	errs = appendCloseError(errs, "waiting for workers", g.waitWorkers(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("chatgate-%d", time.Now().UnixNano()%1000000)
}
