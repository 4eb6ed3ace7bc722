// ABOUTME: Gateway orchestrator that wires the store, triage engine, transports and HTTP server
// ABOUTME: Runs the HTTP listener, the auto-close sweeper and the Matrix sync loop until shutdown

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

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/triage-gateway/internal/airouter"
	"github.com/2389/triage-gateway/internal/autoclose"
	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/dedupe"
	"github.com/2389/triage-gateway/internal/events"
	"github.com/2389/triage-gateway/internal/lifecycle"
	"github.com/2389/triage-gateway/internal/sectors"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
	"github.com/2389/triage-gateway/internal/transport/matrix"
	"github.com/2389/triage-gateway/internal/transport/whatsapp"
	"github.com/2389/triage-gateway/internal/triage"
)

// Gateway owns every long-lived component of the triage service.
type Gateway struct {
	config      *config.Config
	store       store.Store
	lifecycle   *lifecycle.Manager
	engine      *triage.Engine
	sweeper     *autoclose.Sweeper
	dedupe      *dedupe.Cache
	events      *events.Broadcaster
	matrix      *matrix.Transport
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// OpenStore opens the SQLite store, honoring TRIAGE_DB_PATH.
func OpenStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TRIAGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// NewSender builds the outbound transport mux from configuration. WhatsApp
// is the fallback for plain phone numbers; Matrix handles "matrix:" addresses.
// The returned Matrix transport is nil when Matrix is disabled.
func NewSender(cfg *config.Config, logger *slog.Logger) (*transport.Mux, *matrix.Transport, error) {
	var fallback transport.Sender
	if cfg.WhatsApp.Enabled {
		fallback = whatsapp.NewClient(cfg.WhatsApp, logger)
		logger.Info("whatsapp transport enabled", "instance", cfg.WhatsApp.Instance)
	}
	mux := transport.NewMux(fallback)

	if !cfg.Matrix.Enabled {
		return mux, nil, nil
	}
	mx, err := matrix.New(cfg.Matrix, logger)
	if err != nil {
		return nil, nil, err
	}
	mux.Handle(matrix.AddressPrefix, mx)
	logger.Info("matrix transport enabled", "homeserver", cfg.Matrix.Homeserver)
	return mux, mx, nil
}

// New builds a Gateway from configuration. Configured sectors are seeded and
// the outbound transports are connected, but nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	dir := sectors.New(cfg.Bot.ReceptionSector, logger)
	created, err := dir.Seed(ctx, s, cfg.Sectors)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("seeding sectors: %w", err)
	}
	if created > 0 {
		logger.Info("seeded sectors", "created", created)
	}

	mux, mx, err := NewSender(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	ai, err := airouter.New(ctx, cfg.Bot.AIRouting, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating ai router: %w", err)
	}

	gw := assemble(cfg, s, mux, ai, logger)
	gw.matrix = mx
	return gw, nil
}

// assemble wires the domain components around an open store and an outbound sender.
func assemble(cfg *config.Config, s store.Store, sender transport.Sender, ai *airouter.Fallback, logger *slog.Logger) *Gateway {
	lc := lifecycle.New(s, cfg.Bot.ReopenWindow(), logger, lifecycle.WithSender(sender))

	gw := &Gateway{
		config:    cfg,
		store:     s,
		lifecycle: lc,
		engine:    triage.New(cfg.Bot, s, lc, sender, ai, logger),
		dedupe:    dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
		events:    events.NewBroadcaster(logger),
		logger:    logger.With("component", "gateway"),
	}
	gw.sweeper = autoclose.New(s, sender, autoclose.Config{
		After:       cfg.Bot.AutoCloseAfter(),
		BatchSize:   cfg.Bot.AutoCloseBatchSize,
		Interval:    cfg.Bot.AutoCloseInterval,
		SendMessage: cfg.Bot.AutoCloseSendMessage,
		OnClosed: func(conv *store.Conversation) {
			gw.publish(events.ConversationUpdated, conv)
		},
	}, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// Handler returns the HTTP handler serving webhooks, health and the admin API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
// Returns nil on a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		_ = g.Close()
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		return g.sweeper.Run(gctx)
	})

	if g.matrix != nil {
		grp.Go(func() error {
			return g.matrix.Run(gctx, g.handleMatrixMessage)
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	runErr := grp.Wait()
	closeErr := g.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// gracefulShutdown uses a fresh context because the run context is already done.
// Closing the broadcaster first ends open event streams so Shutdown can drain.
func (g *Gateway) gracefulShutdown() error {
	g.events.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
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
	return filepath.Join(homeDir, ".local", "share", "triage-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
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

// setupTailscaleListener joins the tailnet and listens for HTTP on it. With
// funnel enabled the webhook becomes reachable from the provider.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
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

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

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

// createTailscaleTLSListener serves HTTPS with Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// Close releases the tailnet node, the dedupe sweep and the store. Call it
// once nothing else uses the gateway.
func (g *Gateway) Close() error {
	var errs []error
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.events.Close()
	g.dedupe.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
