// ABOUTME: Entry point for the loom protocol gateway.
// ABOUTME: Aggregates adapter tools behind a single MCP endpoint.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/loom/internal/adapters"
	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/gateway"
	"github.com/2389/loom/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___
| |/ _ \ / _ \| '_ ' _ \
| | (_) | (_) | | | | | |
|_|\___/ \___/|_| |_| |_|  gateway
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loom-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Write a default config file (see loom-broker init)")
		fmt.Println("  health   Check gateway health")
		fmt.Println("  servers  List configured adapter servers")
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
	case "servers":
		err = runServers(ctx)
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
	if err := cfg.ValidateGateway(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Gateway.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Adapters: %d configured\n", len(cfg.Gateway.Adapters))

	if cfg.Gateway.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Gateway.Tailscale.Hostname)
		if cfg.Gateway.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting loom-gateway",
		"config", configPath,
		"listen_addr", cfg.Gateway.ListenAddr,
		"adapters", len(cfg.Gateway.Adapters),
	)

	gw, err := gateway.New(*cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit defers to the shared config layout; the file is only created when
// missing so running it after loom-broker init is a no-op.
func runInit() error {
	configPath := config.DefaultConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		return nil
	}
	fmt.Println("No config found. Run: loom-broker init")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Gateway.ListenAddr)
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

func runServers(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/mcp/servers", cfg.Gateway.ListenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing servers failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing servers failed: status %d", resp.StatusCode)
	}

	var body struct {
		Servers []adapters.ServerInfo `json:"servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tPROVIDER\tKEYWORDS\tTOOLS")
	for _, s := range body.Servers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.Name, s.URL, s.Provider, strings.Join(s.Keywords, ","), s.ToolCount)
	}
	return w.Flush()
}
