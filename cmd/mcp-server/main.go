// Package main runs the triage MCP server on stdio against the lite server's data directory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/triage-review-server/internal/config"
	"github.com/triage-review-server/internal/events"
	"github.com/triage-review-server/internal/litestore"
	"github.com/triage-review-server/internal/logging"
	"github.com/triage-review-server/internal/mcp"
	"github.com/triage-review-server/internal/service"
	"github.com/triage-review-server/internal/setup"
)

func main() {
	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.Run(os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	lite := config.LoadLiteConfig()
	cfg := lite.ToConfig()

	// stdout carries the protocol, so logs always go to stderr
	cfg.Logging.Output = "stderr"
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	store, err := litestore.Open(lite.StorePath(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer store.Close()

	router := service.NewTaskRouter(store, nil, nil, nil, cfg.Routing, events.DefaultTopics(), logger)
	engine := service.NewVerdictEngine(store, store, nil, cfg.Review, logger)

	server, err := mcp.NewServer(mcp.NewTools(router, engine, logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("Triage MCP server stopped")
}
