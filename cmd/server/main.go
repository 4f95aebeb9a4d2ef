package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/list-validator/internal/api"
	"github.com/ignite/list-validator/internal/archive"
	"github.com/ignite/list-validator/internal/config"
	"github.com/ignite/list-validator/internal/metrics"
	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/verifier"
	"github.com/ignite/list-validator/internal/workflow"
)

// buildStores returns one store per keyspace. Memory mode shares a single
// in-process store across all three.
func buildStores(ctx context.Context, cfg *config.Config) (snippets, data, responses store.Store, err error) {
	if cfg.Store.Type == "memory" {
		mem := store.NewMemoryStore()
		return mem, mem, mem, nil
	}

	snippets, err = store.NewRedisStore(ctx, cfg.Redis.SnippetsURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("snippets store: %w", err)
	}
	data, err = store.NewRedisStore(ctx, cfg.Redis.DataURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("data store: %w", err)
	}
	responses, err = store.NewRedisStore(ctx, cfg.Redis.ResponsesURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("responses store: %w", err)
	}
	return snippets, data, responses, nil
}

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the three keyspaces
	snippets, data, responses, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize stores: %v", err)
	}
	defer snippets.Close()
	defer data.Close()
	defer responses.Close()
	log.Printf("Stores initialized (type: %s)", cfg.Store.Type)

	// Initialize the verification API client
	if cfg.Verifier.URL == "" {
		log.Fatal("HTTP_VALIDATION_URL (or verifier.url) is required")
	}
	verifierClient := verifier.NewClient(cfg.Verifier.URL, cfg.Verifier.Timeout())

	// Optional S3 archival of completed reports
	var archiver workflow.ReportArchiver
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" {
		a, err := archive.NewArchiver(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.GetAWSProfile())
		if err != nil {
			log.Printf("Warning: report archival disabled: %v", err)
		} else {
			archiver = a
			log.Printf("Report archival enabled (bucket: %s)", cfg.Archive.S3Bucket)
		}
	}

	// Wire the workflow engine and pipeline stages. Queue and step markers
	// live in the responses keyspace.
	engine := workflow.NewEngine(responses, cfg.Workflow.MaxRedeliver)
	workflow.NewPipeline(snippets, data, responses, engine, verifierClient, archiver, workflow.Options{
		ChunkSize:       cfg.Workflow.ChunkSize,
		MaxAttempts:     cfg.Workflow.MaxAttempts,
		RetryBase:       cfg.Workflow.RetryBase(),
		MaxEmails:       cfg.Limits.MaxEmails,
		MaxPayloadBytes: cfg.Limits.MaxPayloadBytes,
	})

	metrics.Init()

	engine.Start(cfg.Workflow.Workers)
	log.Printf("Workflow engine started (%d workers)", cfg.Workflow.Workers)

	server := api.NewServer(api.NewHandlers(snippets, data, responses, engine))

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	engine.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
