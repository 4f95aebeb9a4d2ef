package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ignite/list-validator/internal/metrics"
	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/validation"
)

// VerifyChunkInput is the verify-250-emails payload. Attempt counts from
// one; retries re-run the stage with the next attempt number.
type VerifyChunkInput struct {
	UserID     string `json:"userId"`
	ListID     string `json:"listId"`
	StartIndex int    `json:"startIndex"`
	ChunkSize  int    `json:"chunkSize"`
	Attempt    int    `json:"attempt"`
}

// VerifyChunkResponse is returned by the chunk stage. A failed job (all
// verifier attempts exhausted) is reported here with Success=false, not
// as a handler error.
type VerifyChunkResponse struct {
	Success    bool   `json:"success"`
	ListID     string `json:"listId"`
	StartIndex int    `json:"startIndex"`
	Processed  int    `json:"processed"`
	Completed  bool   `json:"completed,omitempty"`
	NextStart  int    `json:"nextStartIndex,omitempty"`
	Message    string `json:"message"`
}

func (p *Pipeline) handleVerifyChunk(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if isCallbackNoise(raw) {
		log.Printf("[VerifyChunk] Ignoring queue callback")
		return VerifyChunkResponse{Success: false, Message: "Queue callback ignored"}, nil
	}

	var in VerifyChunkInput
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Printf("[VerifyChunk] Invalid payload structure: %v", err)
		return VerifyChunkResponse{Success: false, Message: "Invalid payload structure"}, nil
	}

	if in.UserID == "" || in.ListID == "" || in.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: userId, listId and chunkSize are required", ErrMissingParameters)
	}
	if in.StartIndex < 0 {
		return nil, fmt.Errorf("%w: startIndex must not be negative", ErrMissingParameters)
	}
	if in.Attempt <= 0 {
		in.Attempt = 1
	}

	return p.processChunk(ctx, in)
}

func (p *Pipeline) processChunk(ctx context.Context, in VerifyChunkInput) (interface{}, error) {
	log.Printf("[VerifyChunk] list=%s start=%d size=%d attempt=%d", in.ListID, in.StartIndex, in.ChunkSize, in.Attempt)

	// The blob is re-read on every execution; a replayed chunk must see
	// the list as it is now, not a cached copy.
	listData, err := p.fetchListData(ctx, in.UserID, in.ListID)
	if err != nil {
		return nil, err
	}
	totalRows := len(listData.Rows)
	scope := stepScope(in.UserID, in.ListID)

	var emails []string
	err = p.engine.RunStep(ctx, scope, fmt.Sprintf("extract-emails-%d", in.StartIndex), &emails, func(ctx context.Context) (interface{}, error) {
		end := in.StartIndex + in.ChunkSize
		if end > totalRows {
			end = totalRows
		}
		chunk := []string{}
		if in.StartIndex < totalRows {
			for _, row := range listData.Rows[in.StartIndex:end] {
				if email := validation.RowEmail(row); email != "" {
					chunk = append(chunk, email)
				}
			}
		}
		log.Printf("[VerifyChunk] Processing %d emails from index %d", len(chunk), in.StartIndex)
		return chunk, nil
	})
	if err != nil {
		return nil, err
	}

	var results []validation.ValidationResult
	verifyStep := fmt.Sprintf("validate-emails-%d-attempt-%d", in.StartIndex, in.Attempt)
	verifyErr := p.engine.RunStep(ctx, scope, verifyStep, &results, func(ctx context.Context) (interface{}, error) {
		metrics.VerifierAttempts.Inc()
		return p.verifier.Verify(ctx, emails)
	})
	if verifyErr != nil {
		log.Printf("[VerifyChunk] Validation failed (attempt %d): %v", in.Attempt, verifyErr)

		if in.Attempt < p.maxAttempts {
			backoff := time.Duration(1<<(in.Attempt-1)) * p.retryBase
			log.Printf("[VerifyChunk] Retrying in %v (attempt %d/%d)", backoff, in.Attempt+1, p.maxAttempts)
			metrics.VerifierRetries.Inc()
			p.sleep(ctx, backoff)

			retry := in
			retry.Attempt++
			return p.processChunk(ctx, retry)
		}

		// Retries exhausted: mark the job failed and stop the chain.
		log.Printf("[VerifyChunk] All %d attempts failed for chunk %d-%d", in.Attempt, in.StartIndex, in.StartIndex+in.ChunkSize)
		snippetKey := validation.SnippetKey(in.UserID, in.ListID)
		if herr := p.snippets.SetHash(ctx, snippetKey, map[string]string{"status": validation.StatusFailed}); herr != nil {
			log.Printf("[VerifyChunk] Failed to mark job failed: %v", herr)
		}
		metrics.JobsFailed.Inc()

		return VerifyChunkResponse{
			Success:    false,
			ListID:     in.ListID,
			StartIndex: in.StartIndex,
			Processed:  0,
			Message:    fmt.Sprintf("Validation failed after %d attempts: %v", in.Attempt, verifyErr),
		}, nil
	}

	err = p.engine.RunStep(ctx, scope, fmt.Sprintf("save-validation-results-%d", in.StartIndex), nil, func(ctx context.Context) (interface{}, error) {
		if len(results) == 0 {
			return nil, nil
		}
		blob, err := json.Marshal(results)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk results: %w", err)
		}
		responsesKey := validation.ResponsesKey(in.UserID, in.ListID)
		if err := p.responses.Append(ctx, responsesKey, string(blob)); err != nil {
			return nil, fmt.Errorf("failed to persist chunk results: %w", err)
		}
		log.Printf("[VerifyChunk] Persisted %d results", len(results))
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	err = p.engine.RunStep(ctx, scope, fmt.Sprintf("update-progress-%d", in.StartIndex), nil, func(ctx context.Context) (interface{}, error) {
		if len(results) == 0 {
			return nil, nil
		}
		return nil, p.updateProgress(ctx, in.UserID, in.ListID, results)
	})
	if err != nil {
		return nil, err
	}

	metrics.ChunksProcessed.Inc()
	metrics.EmailsValidated.Add(float64(len(results)))

	nextStart := in.StartIndex + in.ChunkSize
	completed := nextStart >= totalRows
	log.Printf("[VerifyChunk] Chunk %d-%d done, totalRows=%d, completed=%v", in.StartIndex, nextStart, totalRows, completed)

	if completed {
		task := CompleteListJobInput{UserID: in.UserID, ListID: in.ListID}
		if err := p.engine.Enqueue(ctx, StepCompleteJob, task); err != nil {
			return nil, err
		}
	} else {
		task := VerifyChunkInput{
			UserID:     in.UserID,
			ListID:     in.ListID,
			StartIndex: nextStart,
			ChunkSize:  in.ChunkSize,
			Attempt:    1,
		}
		if err := p.engine.Enqueue(ctx, StepVerifyChunk, task); err != nil {
			return nil, err
		}
	}

	resp := VerifyChunkResponse{
		Success:    true,
		ListID:     in.ListID,
		StartIndex: in.StartIndex,
		Processed:  len(results),
		Completed:  completed,
		Message:    fmt.Sprintf("Successfully processed chunk %d-%d", in.StartIndex, in.StartIndex+len(results)),
	}
	if !completed {
		resp.NextStart = nextStart
	}
	return resp, nil
}

// updateProgress folds a chunk's category counts into the snippet and
// recomputes the running percentages against the stored total. Chunks run
// strictly one after another, so the read-modify-write does not race.
func (p *Pipeline) updateProgress(ctx context.Context, userID, listID string, results []validation.ValidationResult) error {
	counts := validation.Count(results)

	snippetKey := validation.SnippetKey(userID, listID)
	fields, err := p.snippets.GetHash(ctx, snippetKey)
	if err != nil {
		return fmt.Errorf("failed to read snippet: %w", err)
	}
	snippet := validation.SnippetFromFields(fields)

	newGood := snippet.ValidCount + counts.Good
	newCatchAll := snippet.CatchAllCount + counts.CatchAll
	newRisky := snippet.UnknownCount + counts.Risky
	newBad := snippet.InvalidCount + counts.Bad
	total := snippet.TotalEmails

	err = p.snippets.SetHash(ctx, snippetKey, map[string]string{
		"validCount":      fmt.Sprintf("%d", newGood),
		"catchAllCount":   fmt.Sprintf("%d", newCatchAll),
		"unknownCount":    fmt.Sprintf("%d", newRisky),
		"invalidCount":    fmt.Sprintf("%d", newBad),
		"percentValid":    validation.Percentage(newGood, total),
		"percentCatchAll": validation.Percentage(newCatchAll, total),
		"percentUnknown":  validation.Percentage(newRisky, total),
		"percentInvalid":  validation.Percentage(newBad, total),
	})
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	processed := newGood + newCatchAll + newRisky + newBad
	log.Printf("[VerifyChunk] Progress %d/%d - G:%d C:%d R:%d B:%d", processed, total, newGood, newCatchAll, newRisky, newBad)
	return nil
}

// fetchListData loads and decodes a list's data blob.
func (p *Pipeline) fetchListData(ctx context.Context, userID, listID string) (*validation.ListData, error) {
	raw, err := p.data.Get(ctx, validation.DataKey(userID, listID))
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("list data not found for %s:%s", userID, listID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read list data: %w", err)
	}

	var listData validation.ListData
	if err := json.Unmarshal([]byte(raw), &listData); err != nil {
		return nil, fmt.Errorf("failed to decode list data: %w", err)
	}
	return &listData, nil
}
