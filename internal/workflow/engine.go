// Package workflow implements the durable validation pipeline: a
// redis-backed step engine with replay-cached step results, plus the
// create/verify/complete stages that run on it.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/list-validator/internal/store"
)

// Step names double as the workflow endpoint paths.
const (
	StepCreateListJob = "create-list-job"
	StepVerifyChunk   = "verify-250-emails"
	StepCompleteJob   = "complete-list-job"
)

const (
	queueKey            = "workflow:queue"
	processingKey       = "workflow:processing"
	stepMarkerPrefix    = "workflow:step"
	defaultPollInterval = 100 * time.Millisecond
)

// ErrUnknownStep is returned when a task names a step with no handler.
var ErrUnknownStep = errors.New("workflow: no handler registered for step")

// Task is one queued unit of work.
type Task struct {
	ID       string          `json:"id"`
	Step     string          `json:"step"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// HandlerFunc processes one task payload and returns its result.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Engine dispatches queued tasks to registered handlers and provides
// replay-cached step execution for the handlers themselves. Completed
// step results are persisted, so re-running a handler skips the side
// effects it already performed.
type Engine struct {
	store        store.Store
	maxRedeliver int
	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine creates an engine backed by the given store. maxRedeliver
// bounds how many times a failing task is requeued.
func NewEngine(s store.Store, maxRedeliver int) *Engine {
	if maxRedeliver <= 0 {
		maxRedeliver = 3
	}
	return &Engine{
		store:        s,
		maxRedeliver: maxRedeliver,
		pollInterval: defaultPollInterval,
		handlers:     make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a step name.
func (e *Engine) Register(step string, h HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[step] = h
}

func (e *Engine) handler(step string) HandlerFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers[step]
}

// Enqueue pushes a task onto the work queue. Fire-and-forget: the task
// runs on a worker, and failures there are retried, not reported here.
func (e *Engine) Enqueue(ctx context.Context, step string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", step, err)
	}

	task := Task{
		ID:      uuid.New().String(),
		Step:    step,
		Payload: body,
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task for %s: %w", step, err)
	}

	if err := e.store.Append(ctx, queueKey, string(data)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", step, err)
	}

	log.Printf("[Workflow] Enqueued %s task %s", step, task.ID)
	return nil
}

// Execute runs a step handler synchronously.
func (e *Engine) Execute(ctx context.Context, step string, payload json.RawMessage) (interface{}, error) {
	h := e.handler(step)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	return h(ctx, payload)
}

// Start launches the worker pool.
func (e *Engine) Start(workers int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.recoverClaims(ctx)

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	log.Printf("[Workflow] Started %d workers", workers)
}

// Stop halts the worker pool and waits for in-flight tasks to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	log.Printf("[Workflow] Workers stopped")
}

// recoverClaims pushes tasks left on the processing list by a previous
// process back onto the queue. Called before the workers start, so no
// worker is racing for the processing list yet.
func (e *Engine) recoverClaims(ctx context.Context) {
	recovered := 0
	for {
		if _, err := e.store.PopPush(ctx, processingKey, queueKey); err != nil {
			if err != store.ErrNotFound {
				log.Printf("[Workflow] Claim recovery stopped: %v", err)
			}
			break
		}
		recovered++
	}
	if recovered > 0 {
		log.Printf("[Workflow] Requeued %d unfinished tasks", recovered)
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Claim by moving onto the processing list; the claim is released
		// with ack only after the task reaches a terminal outcome, so a
		// crash mid-task leaves it recoverable.
		raw, err := e.store.PopPush(ctx, queueKey, processingKey)
		if err == store.ErrNotFound {
			e.idle(ctx)
			continue
		}
		if err != nil {
			log.Printf("[Workflow] Worker %d: queue claim failed: %v", id, err)
			e.idle(ctx)
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			log.Printf("[Workflow] Worker %d: dropping malformed task: %v", id, err)
			e.ack(id, raw)
			continue
		}

		if _, err := e.Execute(ctx, task.Step, task.Payload); err != nil {
			task.Attempts++
			if task.Attempts < e.maxRedeliver {
				log.Printf("[Workflow] Worker %d: %s task %s failed (attempt %d), requeueing: %v", id, task.Step, task.ID, task.Attempts, err)
				data, merr := json.Marshal(task)
				if merr == nil {
					if aerr := e.store.Append(ctx, queueKey, string(data)); aerr != nil {
						log.Printf("[Workflow] Worker %d: requeue failed for task %s: %v", id, task.ID, aerr)
					}
				}
			} else {
				log.Printf("[Workflow] Worker %d: dropping %s task %s after %d attempts: %v", id, task.Step, task.ID, task.Attempts, err)
			}
		}
		e.ack(id, raw)
	}
}

// ack releases a claimed task from the processing list. Runs on a fresh
// context so a shutdown mid-task still releases the claim.
func (e *Engine) ack(id int, raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Remove(ctx, processingKey, raw); err != nil {
		log.Printf("[Workflow] Worker %d: ack failed: %v", id, err)
	}
}

func (e *Engine) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.pollInterval):
	}
}

func stepKey(jobKey, stepName string) string {
	return fmt.Sprintf("%s:%s:%s", stepMarkerPrefix, jobKey, stepName)
}

// RunStep executes fn once per (jobKey, stepName). If a completed marker
// exists, fn is skipped and the cached result is decoded into out; otherwise
// fn runs and its result is persisted before returning. A failed fn leaves
// no marker, so the step runs again on the next invocation.
func (e *Engine) RunStep(ctx context.Context, jobKey, stepName string, out interface{}, fn func(ctx context.Context) (interface{}, error)) error {
	key := stepKey(jobKey, stepName)

	cached, err := e.store.Get(ctx, key)
	if err == nil {
		log.Printf("[Workflow] Replaying completed step %s for %s", stepName, jobKey)
		if out != nil {
			if derr := json.Unmarshal([]byte(cached), out); derr != nil {
				return fmt.Errorf("failed to decode cached step %s: %w", stepName, derr)
			}
		}
		return nil
	}
	if err != store.ErrNotFound {
		return fmt.Errorf("failed to read step marker %s: %w", stepName, err)
	}

	result, err := fn(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode step result %s: %w", stepName, err)
	}
	if err := e.store.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to persist step %s: %w", stepName, err)
	}
	if err := e.store.Expire(ctx, key, store.ThirtyDaysTTL); err != nil {
		log.Printf("[Workflow] Failed to set TTL on step marker %s: %v", key, err)
	}

	if out != nil {
		if derr := json.Unmarshal(data, out); derr != nil {
			return fmt.Errorf("failed to decode step result %s: %w", stepName, derr)
		}
	}
	return nil
}

// ClearSteps removes all step markers for a job. Revalidation calls this
// so the job's side effects run again instead of replaying.
func (e *Engine) ClearSteps(ctx context.Context, jobKey string) error {
	pattern := fmt.Sprintf("%s:%s:*", stepMarkerPrefix, jobKey)
	keys, err := e.store.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan step markers for %s: %w", jobKey, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := e.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear step markers for %s: %w", jobKey, err)
	}
	log.Printf("[Workflow] Cleared %d step markers for %s", len(keys), jobKey)
	return nil
}
