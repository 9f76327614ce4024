// ABOUTME: Entry point for the standalone demo adapter.
// ABOUTME: Serves the adapter HTTP contract with builtin echo and clock tools.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/2389/loom/internal/adapters"
	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

// adapterConfig is the TOML configuration for a standalone adapter.
type adapterConfig struct {
	Name       string `toml:"name"`
	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`
	LogFormat  string `toml:"log_format"`
}

func defaultAdapterConfig() adapterConfig {
	return adapterConfig{
		Name:       "demo",
		ListenAddr: "localhost:8090",
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	name := flag.String("name", "", "adapter name (overrides config)")
	flag.Parse()

	cfg := defaultAdapterConfig()
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *name != "" {
		cfg.Name = *name
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg adapterConfig) error {
	gray := color.New(color.FgHiBlack)
	gray.Printf("loom-adapter %s\n", version)

	logger := logging.Setup(config.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	adapter := adapters.NewBuiltinAdapter(cfg.Name, adapters.DemoTools())
	srv := adapters.NewServer(cfg.ListenAddr, adapter, logger)

	logger.Info("starting loom-adapter", "name", cfg.Name, "listen_addr", cfg.ListenAddr)
	return srv.Run(ctx)
}
