// ABOUTME: Entry point for the gateway client
// ABOUTME: Parses CLI flags and starts the client application
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/discordgw/discordgw-go/internal/app"
	"github.com/discordgw/discordgw-go/internal/config"
	"github.com/discordgw/discordgw-go/internal/discovery"
	"github.com/discordgw/discordgw-go/internal/ui"
	"github.com/discordgw/discordgw-go/internal/version"
)

var (
	configPath = flag.String("config", "", "Config file path (YAML)")
	token      = flag.String("token", "", "Bot token (overrides config and DISCORD_TOKEN)")
	endpoint   = flag.String("endpoint", "", "Gateway WebSocket URL (skip resolution)")
	logFile    = flag.String("log-file", "", "Log file path (default from config)")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
)

func main() {
	flag.Parse()

	// Determine if we should use TUI or streaming logs
	useTUI := !(*noTUI || *streamLogs)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if *token != "" {
		cfg.Gateway.Token = *token
	}
	if *endpoint != "" {
		cfg.Gateway.Endpoint = *endpoint
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	if cfg.Gateway.Token == "" {
		log.Fatalf("no token configured: use -token, the config file, or %s", config.TokenEnvVar)
	}

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		multiWriter := io.MultiWriter(os.Stdout, f)
		log.SetOutput(multiWriter)
	}

	if !useTUI {
		log.Printf("Starting %s %s", version.Product, version.Version)
		log.Printf("TUI disabled - logging to stdout")
	}

	// Resolve the gateway endpoint unless one was given
	gwEndpoint := cfg.Gateway.Endpoint
	if gwEndpoint == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resolved, err := discovery.NewResolver().Resolve(ctx)
		cancel()
		if err != nil {
			log.Printf("Gateway resolution failed, using default: %v", err)
			resolved, err = discovery.Endpoint(discovery.DefaultGatewayURL)
			if err != nil {
				log.Fatalf("error building default endpoint: %v", err)
			}
		}
		gwEndpoint = resolved
	}
	log.Printf("Gateway endpoint: %s", gwEndpoint)

	// TUI setup
	var tuiProg *tea.Program
	var ctrl *ui.Controls

	if useTUI {
		ctrl = ui.NewControls()
		tuiProg, err = ui.Run(ctrl)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go func() { _, _ = tuiProg.Run() }()
	}

	// Helper to update TUI
	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	client, err := app.New(app.Config{
		Token:    cfg.Gateway.Token,
		Endpoint: gwEndpoint,
		Intents:  cfg.Gateway.Intents,
		Notify:   updateTUI,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	updateTUI(ui.StatusMsg{Endpoint: gwEndpoint})

	if err := client.Connect(); err != nil {
		log.Fatalf("Connection failed: %v", err)
	}

	// Start stats update loop for TUI
	if tuiProg != nil {
		client.StartStatsLoop(2 * time.Second)
	}

	// Handle manual reconnect requests from the TUI
	if ctrl != nil {
		go func() {
			for range ctrl.Reconnect {
				if err := client.Reconnect(); err != nil {
					log.Printf("Manual reconnect failed: %v", err)
				}
			}
		}()
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for quit signal from TUI or OS
	if ctrl != nil {
		select {
		case <-ctrl.Quit:
			log.Printf("Received quit signal from TUI")
		case <-sigChan:
			log.Printf("Shutdown signal received")
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	client.Close()

	if tuiProg != nil {
		tuiProg.Quit()
	}

	log.Printf("Client stopped")
}
