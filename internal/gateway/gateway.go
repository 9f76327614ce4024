// ABOUTME: Gateway composition root: wires config into the adapter registry,
// ABOUTME: credential resolver, MCP dispatcher, and HTTP or tsnet listeners.
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
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/loom/internal/adapters"
	"github.com/2389/loom/internal/broker"
	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/logging"
	"github.com/2389/loom/internal/mcp"
	"github.com/2389/loom/internal/resolver"
	"github.com/2389/loom/internal/store"
)

// Gateway is the running MCP gateway: adapter registry, credential
// resolver, dispatcher, and the HTTP server that fronts them.
type Gateway struct {
	config      config.Config
	version     string
	registry    *adapters.Registry
	resolver    *resolver.Resolver
	mcpServer   *mcp.Server
	httpServer  *http.Server
	tokenStore  store.Store
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New builds a gateway from config. When the resolver runs local issuance,
// the broker section supplies the store and provider set.
func New(cfg config.Config, version string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{config: cfg, version: version, logger: logger}

	g.registry = adapters.NewRegistry(logger)
	if err := g.registerAdapters(); err != nil {
		return nil, err
	}

	res, err := g.buildResolver()
	if err != nil {
		return nil, err
	}
	g.resolver = res

	g.mcpServer = mcp.NewServer(g.registry, g.resolver, version, logger)

	mux := http.NewServeMux()
	mux.Handle("/mcp/sse", g.mcpServer)
	mux.HandleFunc("/mcp/servers", g.mcpServer.HandleServers)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	g.httpServer = &http.Server{
		Handler:           logging.Middleware(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// registerAdapters installs the configured HTTP adapters and, when enabled,
// the builtin demo adapter.
func (g *Gateway) registerAdapters() error {
	for _, ac := range g.config.Gateway.Adapters {
		client := adapters.NewHTTPAdapter(ac.Name, ac.URL, g.config.Gateway.AdapterTimeout)
		entry := adapters.Entry{
			Adapter:  client,
			Provider: ac.Provider,
			Keywords: ac.Keywords,
			URL:      ac.URL,
		}
		if err := g.registry.Register(entry); err != nil {
			return fmt.Errorf("registering adapter %s: %w", ac.Name, err)
		}
	}

	if g.config.Gateway.BuiltinDemo {
		demo := adapters.NewBuiltinAdapter("demo", adapters.DemoTools())
		if err := g.registry.Register(adapters.Entry{Adapter: demo, URL: "builtin"}); err != nil {
			return fmt.Errorf("registering demo adapter: %w", err)
		}
	}
	return nil
}

// buildResolver assembles the credential chain. resolver.local binds the
// issuance service in-process against the broker section's store instead of
// calling a broker over the network.
func (g *Gateway) buildResolver() (*resolver.Resolver, error) {
	gc := g.config.Gateway

	var issuer resolver.Issuer
	if gc.Local {
		providers, err := broker.BuildProviders(g.config.Broker)
		if err != nil {
			return nil, fmt.Errorf("building providers for local issuance: %w", err)
		}
		st, err := store.NewSQLiteStore(g.config.Broker.Database.Path, store.SQLiteOptions{
			EncryptionKey: g.config.Broker.EncryptionKey,
			Logger:        g.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening token store for local issuance: %w", err)
		}
		g.tokenStore = st

		iss, err := broker.NewIssuer(broker.IssuerConfig{
			Providers: providers,
			Store:     st,
			Timeout:   g.config.Broker.ProviderTimeout,
			Logger:    g.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("building local issuer: %w", err)
		}
		issuer = iss
	}

	return resolver.New(resolver.Config{
		Issuer:        issuer,
		BrokerURL:     gc.BrokerURL,
		UserID:        gc.UserID,
		FallbackToken: gc.FallbackToken,
		Timeout:       g.config.Broker.ProviderTimeout,
		Logger:        g.logger,
	}), nil
}

// Handler exposes the full gateway mux for tests.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ready"}` + "\n"))
}

// Run starts the gateway and blocks until the context is canceled. Returns
// nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(listener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the TCP or tsnet listener per configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Gateway.Tailscale.Enabled {
		if g.config.Gateway.ListenAddr != "" {
			g.logger.Warn("gateway.listen_addr is ignored when tailscale is enabled", "listen_addr", g.config.Gateway.ListenAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Gateway.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", g.config.Gateway.ListenAddr, err)
	}
	return ln, nil
}

func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown drains the HTTP server and closes the tsnet node and token store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
	}
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing tailscale node: %w", err))
		}
	}
	if g.tokenStore != nil {
		if err := g.tokenStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing token store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// setupTailscaleListener brings up a tsnet node and listens on the tailnet.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Gateway.Tailscale

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

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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

// resolveTailscaleStateDir returns the state directory, defaulting under the
// user's data dir when unset.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "loom-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}
