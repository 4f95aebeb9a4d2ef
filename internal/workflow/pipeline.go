package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/validation"
)

// Verifier is the external verification API surface the pipeline needs.
type Verifier interface {
	Verify(ctx context.Context, emails []string) ([]validation.ValidationResult, error)
}

// ReportArchiver uploads a completed report; optional.
type ReportArchiver interface {
	SaveReport(ctx context.Context, userID, listID string, report interface{}) error
}

// Options tunes the pipeline. Zero values take defaults.
type Options struct {
	ChunkSize       int
	MaxAttempts     int
	RetryBase       time.Duration
	MaxEmails       int
	MaxPayloadBytes int
}

// Pipeline holds the three keyspaces and the stage handlers that move a
// validation job from upload to completion.
type Pipeline struct {
	snippets  store.Store
	data      store.Store
	responses store.Store
	engine    *Engine
	verifier  Verifier
	archiver  ReportArchiver

	chunkSize       int
	maxAttempts     int
	retryBase       time.Duration
	maxEmails       int
	maxPayloadBytes int

	// sleep is swapped in tests so backoff does not stall them.
	sleep func(ctx context.Context, d time.Duration)
}

// NewPipeline wires the stage handlers onto the engine. archiver may be
// nil, in which case completed reports are not archived.
func NewPipeline(snippets, data, responses store.Store, engine *Engine, verifier Verifier, archiver ReportArchiver, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 250
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 5 * time.Second
	}
	if opts.MaxEmails <= 0 {
		opts.MaxEmails = 100000
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = 99 * 1024 * 1024 / 10 // 9.9 MB
	}

	p := &Pipeline{
		snippets:        snippets,
		data:            data,
		responses:       responses,
		engine:          engine,
		verifier:        verifier,
		archiver:        archiver,
		chunkSize:       opts.ChunkSize,
		maxAttempts:     opts.MaxAttempts,
		retryBase:       opts.RetryBase,
		maxEmails:       opts.MaxEmails,
		maxPayloadBytes: opts.MaxPayloadBytes,
		sleep:           sleepContext,
	}

	engine.Register(StepCreateListJob, p.handleCreateListJob)
	engine.Register(StepVerifyChunk, p.handleVerifyChunk)
	engine.Register(StepCompleteJob, p.handleCompleteListJob)

	return p
}

// Engine exposes the underlying engine for synchronous execution.
func (p *Pipeline) Engine() *Engine {
	return p.engine
}

// stepScope namespaces a job's step markers by owner. List ids are only
// unique per user, so two users with the same id must never share markers.
func stepScope(userID, listID string) string {
	return fmt.Sprintf("%s:%s", userID, listID)
}

func sleepContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// setTTL applies the standard TTL and swallows failures; an unexpiring
// key is not worth failing a job over.
func setTTL(ctx context.Context, s store.Store, key string) {
	if err := s.Expire(ctx, key, store.ThirtyDaysTTL); err != nil {
		log.Printf("[Workflow] Failed to set TTL on %s: %v", key, err)
	}
}
