package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalworks/pulse/internal/cluster"
	"github.com/signalworks/pulse/internal/config"
	"github.com/signalworks/pulse/internal/controller"
	"github.com/signalworks/pulse/internal/ingest"
	"github.com/signalworks/pulse/internal/metrics"
	"github.com/signalworks/pulse/internal/pkg/security"
	"github.com/signalworks/pulse/internal/registry"
	"github.com/signalworks/pulse/internal/server"
	"github.com/signalworks/pulse/internal/store"
	"github.com/signalworks/pulse/internal/stream"
)

func main() {
	// Command-line flags (highest precedence, over env and config file)
	port := flag.Int("port", 0, "HTTP port to listen on")
	configPath := flag.String("config", "pulse.yaml", "Path to YAML config file")
	metaPath := flag.String("meta", "", "Path to encrypted metadata file")
	keyPath := flag.String("key", "", "Path to master key file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *metaPath != "" {
		cfg.Auth.MetaPath = *metaPath
	}
	if *keyPath != "" {
		cfg.Auth.KeyPath = *keyPath
	}

	log.Println("Pulse v0.1 Started...")

	// 1. Auth metadata (optional)
	var meta *controller.Store
	if !cfg.Auth.Disabled {
		created, err := security.InitMasterKey(cfg.Auth.KeyPath)
		if err != nil {
			log.Fatalf("Failed to initialize master key: %v", err)
		}
		if created {
			log.Printf("Generated new master key at %s", cfg.Auth.KeyPath)
		}
		meta = controller.NewStore(cfg.Auth.MetaPath)
		if err := meta.Load(); err != nil {
			log.Fatalf("Failed to load metadata: %v", err)
		}
	} else {
		log.Println("Auth disabled; all endpoints are open")
	}

	// 2. Ring buffer store
	st := store.New(cfg.Buffers.Capacity)
	st.StartRateTicker(1 * time.Second)
	log.Printf("Buffers initialized. Capacity: %d records per kind", cfg.Buffers.Capacity)

	// 3. Self-instrumentation
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	// 4. Live fan-out hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := stream.NewHub(m)
	hub.StartKeepAlive(ctx, cfg.KeepAliveInterval())

	// 5. Producer registry with stale pruning
	producers := registry.NewStore()
	producers.StartCleanupLoop(ctx, cfg.PruneInterval(), cfg.ProducerTTL())

	// 6. Federated reads (optional)
	var agg *cluster.Aggregator
	if len(cfg.Cluster.Peers) > 0 {
		agg = cluster.NewAggregator(cfg.Cluster.Peers, cfg.PeerTimeout())
		log.Printf("Federation enabled across %d peers", len(cfg.Cluster.Peers))
	}

	// 7. Ingest pipeline
	pipeline := ingest.New(st, hub, m, producers)

	srv, err := server.New(cfg, pipeline, st, hub, meta, producers, agg, m, promReg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	addr := fmt.Sprintf(":%d", cfg.Port)

	go func() {
		log.Printf("Listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful shutdown hook
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal: %v. Shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Pulse exited gracefully.")
}
