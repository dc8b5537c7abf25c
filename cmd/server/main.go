// Package main is the entry point for the room relay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/room-relay/room-relay/internal/api"
	"github.com/room-relay/room-relay/internal/api/handlers"
	"github.com/room-relay/room-relay/internal/config"
	"github.com/room-relay/room-relay/internal/maintenance"
	"github.com/room-relay/room-relay/internal/metrics"
	"github.com/room-relay/room-relay/internal/storage"
	"github.com/room-relay/room-relay/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Parse command-line flags
	addr := flag.String("addr", cfg.Addr, "HTTP server address")
	dataDir := flag.String("data", cfg.DataDir, "Data directory for the SQLite session ledger")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [listen-address]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.Addr = *addr
	if flag.NArg() > 0 {
		cfg.Addr = flag.Arg(0)
	}
	cfg.DataDir = *dataDir
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	// Health check mode for container HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Addr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	// Allow overriding version via environment
	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log.Printf("Starting room relay (version: %s)...", version)

	// Initialize database
	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Run migrations
	applied, err := storage.RunMigrations(context.Background(), db)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Printf("Database migrations complete (%d applied)", applied)

	// Initialize repositories
	sessions := storage.NewSessionRepository(db)
	rejections := storage.NewRejectionRepository(db)

	// Sessions still open belong to a previous process
	if n, err := sessions.CloseOrphaned(context.Background(), time.Now().UTC()); err != nil {
		log.Printf("Warning: Failed to close orphaned sessions: %v", err)
	} else if n > 0 {
		log.Printf("Closed %d orphaned sessions", n)
	}

	// Initialize the room core
	registry := websocket.NewRegistry()
	admitter := websocket.NewAdmitter(registry)
	broadcaster := websocket.NewBroadcaster(registry)

	if err := metrics.RegisterOccupancy(registry); err != nil {
		log.Printf("Warning: Failed to register occupancy metrics: %v", err)
	}

	// Start maintenance jobs
	scheduler := maintenance.NewScheduler(db, registry, maintenance.Config{
		PruneSchedule: cfg.PruneSchedule,
		StatsSchedule: cfg.StatsSchedule,
		Retention:     cfg.SessionRetention,
	})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start maintenance scheduler: %v", err)
	}

	var relays sync.WaitGroup
	router := api.NewRouter(api.RouterConfig{
		DB: db,
		Socket: handlers.RoomSocketConfig{
			Registry:     registry,
			Admitter:     admitter,
			Broadcaster:  broadcaster,
			Sessions:     sessions,
			Rejections:   rejections,
			Relays:       &relays,
			ReadLimit:    cfg.ReadLimit,
			PongWait:     cfg.PongWait,
			PingInterval: cfg.PingInterval,
			WriteWait:    cfg.WriteWait,
		},
		CORSAllow: cfg.CORSAllow,
	})

	// Relays run on request contexts derived from ctx, so cancelling it
	// ends every live connection.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create HTTP server. No read or write timeouts: connections are long lived.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Shutting down server...")

	scheduler.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Upgraded connections are not tracked by Shutdown. They were cancelled
	// with ctx; wait for them to record their departure before the ledger
	// is closed.
	if err := waitRelays(shutdownCtx, &relays); err != nil {
		log.Printf("Relays still running at shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// waitRelays waits for every relay to finish or for ctx to expire.
func waitRelays(ctx context.Context, relays *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		relays.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
