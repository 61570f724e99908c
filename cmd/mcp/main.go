// Command mcp serves the mevguard tools (simulate, detect, relay) to an MCP
// host over stdio, proxying every call to a running API.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	_ = godotenv.Load()
	// stdout carries the protocol, so logs go to stderr
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg := mcpserver.Config{
		APIURL: os.Getenv("MEVGUARD_API_URL"),
		APIKey: os.Getenv("MEVGUARD_API_KEY"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080"
	}

	logger.Info("mcp server starting", "api", cfg.APIURL, "version", Version)
	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg, Version)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
