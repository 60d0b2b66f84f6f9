package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cpa-ufpa/avalia-report/internal/config"
	"github.com/cpa-ufpa/avalia-report/internal/httpapi"
	"github.com/cpa-ufpa/avalia-report/internal/mcp"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the server mode
func setupLogging(cfg *config.Config) {
	if cfg.IsStdioMode() {
		// stdout carries the MCP protocol
		log.SetOutput(os.Stderr)
		if !cfg.IsDebug() {
			log.SetOutput(io.Discard)
		}
	} else {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// runServerMode serves the HTTP API until a signal arrives or the server
// fails, and returns the process exit code.
func runServerMode(ctx context.Context, cancel context.CancelFunc, server *httpapi.Server, addr string) int {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx, addr)
	}()

	select {
	case sig := <-signalCh:
		log.Printf("Received signal: %s", sig)
		log.Println("Initiating graceful shutdown...")
		cancel()

		if err := <-serverErrCh; err != nil {
			log.Printf("Server shutdown with error: %v", err)
			return 1
		}

	case err := <-serverErrCh:
		if err != nil {
			log.Printf("Server error: %v", err)
			return 1
		}
	}

	log.Println("Server stopped successfully")
	return 0
}

// runStdioMode serves MCP over stdio and returns the process exit code
func runStdioMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) int {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// The parent process controls our lifecycle; stdin closing ends the run
	if err := server.Run(ctx); err != nil {
		if os.Getenv("DEBUG") != "" {
			log.Printf("Server error: %v", err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}

// run starts the service and returns its exit code once every resource is
// closed.
func run() int {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if isVersionFlag(arg) {
			printVersion()
			return 0
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	setupLogging(cfg)

	if version != "dev" {
		cfg.Version = version
	}

	if cfg.IsDebug() && cfg.IsServerMode() {
		log.Printf("Starting with configuration: %s", cfg.String())
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Printf("Failed to start report service: %v", err)
		return 1
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IsServerMode() {
		server := httpapi.NewServer(httpapi.Options{
			Controller: a.ctrl,
			Lock:       a.lock,
			Cache:      a.handler,
			DevMode:    cfg.IsDebug(),
		})
		defer server.Close()
		log.Printf("Serving reports on %s", cfg.PublicURL())
		return runServerMode(ctx, cancel, server, cfg.Address())
	}

	server, err := mcp.NewServer(cfg, a.ctrl)
	if err != nil {
		log.Printf("Failed to create MCP server: %v", err)
		return 1
	}
	return runStdioMode(ctx, cancel, server)
}

func isVersionFlag(arg string) bool {
	return arg == "-version" || arg == "--version" || arg == "-v"
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("AVALIA Report\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
