// ABOUTME: Entry point for the loom credential broker.
// ABOUTME: Runs the OAuth flow controller and token issuance HTTP service.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/loom/internal/auth"
	"github.com/2389/loom/internal/broker"
	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/logging"
	"github.com/2389/loom/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___
| |/ _ \ / _ \| '_ ' _ \
| | (_) | (_) | | | | | |
|_|\___/ \___/|_| |_| |_|  broker
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loom-broker <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the credential broker")
		fmt.Println("  init    Write a default config file")
		fmt.Println("  health  Check broker health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateBroker(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Broker.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Broker.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Providers: %s\n", strings.Join(providerNames(cfg), ", "))
	fmt.Println()

	logger.Info("starting loom-broker",
		"config", configPath,
		"listen_addr", cfg.Broker.ListenAddr,
		"providers", len(cfg.Broker.Providers),
	)

	providers, err := broker.BuildProviders(cfg.Broker)
	if err != nil {
		return fmt.Errorf("building providers: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Broker.Database.Path, store.SQLiteOptions{
		EncryptionKey: cfg.Broker.EncryptionKey,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}

	flow, err := broker.NewFlow(broker.FlowConfig{
		Providers: providers,
		Store:     st,
		Signer:    auth.NewSigner([]byte(cfg.Broker.StateSigningKey)),
		Timeout:   cfg.Broker.ProviderTimeout,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating flow controller: %w", err)
	}

	issuer, err := broker.NewIssuer(broker.IssuerConfig{
		Providers: providers,
		Store:     st,
		Timeout:   cfg.Broker.ProviderTimeout,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating issuer: %w", err)
	}

	srv, err := broker.NewServer(broker.ServerConfig{
		Flow:       flow,
		Issuer:     issuer,
		Store:      st,
		ListenAddr: cfg.Broker.ListenAddr,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating broker server: %w", err)
	}

	return srv.Run(ctx)
}

func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Broker.Providers))
	for name := range cfg.Broker.Providers {
		names = append(names, name)
	}
	return names
}

const defaultConfig = `# loom configuration
# Generated by loom-broker init

broker:
  listen_addr: "localhost:8080"
  # public_url is the externally reachable base URL for OAuth callbacks.
  public_url: "http://localhost:8080"
  database:
    path: "%s"
  # encryption_key enables at-rest encryption of stored tokens when set.
  # encryption_key: "${LOOM_ENCRYPTION_KEY}"
  # state_signing_key enables HS256 signing of the OAuth state parameter.
  # state_signing_key: "${LOOM_STATE_KEY}"
  provider_timeout: "15s"
  providers:
    github:
      client_id: "${GITHUB_CLIENT_ID}"
      client_secret: "${GITHUB_CLIENT_SECRET}"
      # refresh_policy: never | always | on_expiry (default)
      refresh_policy: "never"
    google:
      client_id: "${GOOGLE_CLIENT_ID}"
      client_secret: "${GOOGLE_CLIENT_SECRET}"
      scopes:
        - "https://www.googleapis.com/auth/calendar.readonly"

gateway:
  listen_addr: "localhost:8081"
  broker_url: "http://localhost:8080"
  user_id: "owner"
  builtin_demo: true
  adapter_timeout: "30s"
  adapters: []
  tailscale:
    enabled: false
    hostname: "loom-gateway"

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	configPath := config.DefaultConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	dbPath := config.DefaultDatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	content := fmt.Sprintf(defaultConfig, dbPath)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Wrote %s\n", configPath)
	fmt.Println("Edit the provider credentials, then run: loom-broker serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Broker.ListenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
