// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hvdkamer/relaydesk/internal/app"
	"github.com/hvdkamer/relaydesk/internal/client"
	"github.com/hvdkamer/relaydesk/internal/config"
	"github.com/hvdkamer/relaydesk/internal/logger"
)

var (
	cfgPath  = flag.String("config", "relaydesk.json", "Path to the config file (created when missing)")
	envFile  = flag.String("env", "", "Optional .env file with RELAY_TOKEN etc.")
	relayURL = flag.String("relay", "", "Relay WebSocket URL (overrides config)")
	token    = flag.String("token", "", "Access token (overrides RELAY_TOKEN and config)")
	logLevel = flag.String("log", "", "Log level: debug, info, warn or error (overrides config)")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("relaydesk v%s\n", appVersion)
		return
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logger.Warnf("env file %s: %v", *envFile, err)
		}
	} else {
		// Best effort; a missing .env is the normal case.
		_ = godotenv.Load()
	}

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	if created {
		logger.Infof("wrote default config to %s", *cfgPath)
	}

	// Flags beat the environment, the environment beats the file.
	if env := os.Getenv("RELAY_TOKEN"); env != "" {
		cfg.Relay.Token = env
	}
	if *token != "" {
		cfg.Relay.Token = *token
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warnf("log level: %v", err)
	}
	if cfg.Relay.Token == "" {
		logger.Warnf("no access token set; the relay will likely refuse the connection")
	}

	printBanner(*cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println()
		logger.Infof("shutting down")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{CfgPath: *cfgPath, Cfg: cfg}); err != nil {
		if errors.Is(err, client.ErrRelayLost) {
			logger.Errorf("relay link lost for good; check the token and run again")
		} else {
			logger.Errorf("session failed: %v", err)
		}
		os.Exit(1)
	}
}

func printBanner(cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║            relaydesk client            ║")
	fmt.Println("╚════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Config file : %s\n", cfgPath)
	fmt.Printf("Relay       : %s\n", cfg.Relay.URL)
	if base := cfg.HistoryURL(); base != "" {
		fmt.Printf("History     : %s\n", base)
	}
	if cfg.Media.VideoDisabled {
		fmt.Println("Calls       : audio only")
	}
	fmt.Println()
	fmt.Println("Starting... (Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────")
}
