package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/list-validator/internal/archive"
	"github.com/ignite/list-validator/internal/config"
	"github.com/ignite/list-validator/internal/metrics"
	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/verifier"
	"github.com/ignite/list-validator/internal/workflow"
)

// Standalone queue worker: drains validation tasks without serving HTTP.
// Useful when chunk verification should scale independently of the API.
func main() {
	log.Println("Starting list-validator worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snippets, data, responses store.Store
	if cfg.Store.Type == "memory" {
		log.Fatal("memory store cannot be shared with a separate worker process; use redis")
	}
	if snippets, err = store.NewRedisStore(ctx, cfg.Redis.SnippetsURL); err != nil {
		log.Fatalf("Failed to connect snippets store: %v", err)
	}
	defer snippets.Close()
	if data, err = store.NewRedisStore(ctx, cfg.Redis.DataURL); err != nil {
		log.Fatalf("Failed to connect data store: %v", err)
	}
	defer data.Close()
	if responses, err = store.NewRedisStore(ctx, cfg.Redis.ResponsesURL); err != nil {
		log.Fatalf("Failed to connect responses store: %v", err)
	}
	defer responses.Close()

	if cfg.Verifier.URL == "" {
		log.Fatal("HTTP_VALIDATION_URL (or verifier.url) is required")
	}
	verifierClient := verifier.NewClient(cfg.Verifier.URL, cfg.Verifier.Timeout())

	var archiver workflow.ReportArchiver
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" {
		a, err := archive.NewArchiver(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.GetAWSProfile())
		if err != nil {
			log.Printf("Warning: report archival disabled: %v", err)
		} else {
			archiver = a
		}
	}

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
	log.Printf("Worker pool started (%d workers)", cfg.Workflow.Workers)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down worker...")
	engine.Stop()
	log.Println("Worker stopped")
}
