// Package main is the entry point for the bioreactor hub.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SomBagchi/bioreactor-website/internal/collector"
	"github.com/SomBagchi/bioreactor-website/internal/config"
	"github.com/SomBagchi/bioreactor-website/internal/coordinator"
	"github.com/SomBagchi/bioreactor-website/internal/experiment"
	"github.com/SomBagchi/bioreactor-website/internal/experiment/store"
	"github.com/SomBagchi/bioreactor-website/internal/hub"
	"github.com/SomBagchi/bioreactor-website/internal/logger"
	"github.com/SomBagchi/bioreactor-website/internal/observability"
	"github.com/SomBagchi/bioreactor-website/internal/relay"
	"github.com/SomBagchi/bioreactor-website/internal/supervisor"
	"github.com/SomBagchi/bioreactor-website/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Experiment record store
	st, err := store.NewBadgerStore(filepath.Join(cfg.DataDir, "records"))
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer st.Close()

	// Tracing
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "bioreactor-hub", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Device channel + relay
	channel, err := relay.NewNATSChannel(cfg.NATSURL, slogger)
	if err != nil {
		log.Fatalf("Failed to connect device channel: %v", err)
	}
	defer channel.Close()

	rel := relay.New(channel, relay.Config{
		CommandTimeout:    cfg.RelayCommandTimeout,
		KeepaliveInterval: cfg.RelayKeepaliveInterval,
	}, slogger)
	rel.Start(ctx)

	// Container supervisor
	runtime, err := supervisor.NewDockerRuntime()
	if err != nil {
		log.Fatalf("Failed to create container runtime: %v", err)
	}
	sup := supervisor.New(runtime, supervisor.Config{
		AggregateMemoryBytes: cfg.AggregateMemoryBytes,
		AggregateCPU:         cfg.AggregateCPU,
		TerminationGrace:     cfg.TerminationGrace,
	}, slogger)

	// Result collector
	col := collector.New(cfg.DataDir, cfg.ArchiveRetention, slogger)

	// Coordinator
	coord, err := coordinator.New(coordinator.Config{
		DataDir:         cfg.DataDir,
		ExperimentImage: cfg.ExperimentImage,
		HubAPIURL:       fmt.Sprintf("http://host.docker.internal:%d", cfg.HTTPPort),
		NetworkMode:     "bridge",
		Limits: experiment.Limits{
			WallClock:   cfg.MaxExperimentDuration,
			MemoryBytes: cfg.MemoryLimitBytes,
			CPUShare:    cfg.CPUShare,
		},
	}, validator.New(cfg.AllowedImports), sup, rel, col, st, slogger)
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}
	coord.Start(ctx)

	if err := observability.RegisterHubGauges(rel.QueueDepth, coord.ActiveExperiments); err != nil {
		log.Printf("Failed to register hub gauges: %v", err)
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := hub.New(addr, coord, cfg.SubmitRatePerSec, cfg.SubmitBurst, metricsHandler)

	go func() {
		log.Printf("Bioreactor hub starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down hub...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}
	log.Println("Server exited properly")
}
