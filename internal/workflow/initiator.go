package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/list-validator/internal/metrics"
	"github.com/ignite/list-validator/internal/validation"
)

// Errors surfaced by the create stage for bad input.
var (
	ErrMissingParameters = errors.New("missing required parameters")
	ErrEmptyPayload      = errors.New("filePayload must be a non-empty array of row objects")
	ErrTooManyEmails     = errors.New("too many emails")
	ErrPayloadTooLarge   = errors.New("file too large")
)

// callbackFields mark queue-callback noise delivered to a workflow
// endpoint; their presence means the payload is not a real job request.
var callbackFields = []string{"sourceMessageId", "workflowRunId", "url", "messageId"}

// CreateListJobInput is the create-list-job payload. FilePayload stays
// raw so the upload's column order can be recovered.
type CreateListJobInput struct {
	UserID           string          `json:"userId"`
	OriginalFileName string          `json:"originalFileName"`
	FilePayload      json.RawMessage `json:"filePayload,omitempty"`
	SelectedColumn   string          `json:"selectedColumn,omitempty"`
	ListID           string          `json:"listId,omitempty"`
	Revalidate       bool            `json:"revalidate,omitempty"`
}

// CreateListJobResponse is returned by the create stage.
type CreateListJobResponse struct {
	Success     bool   `json:"success"`
	ListID      string `json:"listId,omitempty"`
	TotalEmails int    `json:"totalEmails"`
	Message     string `json:"message"`
}

// isCallbackNoise reports whether the payload carries queue-callback
// routing fields rather than job input.
func isCallbackNoise(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	for _, field := range callbackFields {
		if _, ok := probe[field]; ok {
			return true
		}
	}
	return false
}

func (p *Pipeline) handleCreateListJob(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	log.Printf("[CreateListJob] Received request")

	if isCallbackNoise(raw) {
		log.Printf("[CreateListJob] Ignoring queue callback sent to wrong endpoint")
		return CreateListJobResponse{Success: false, Message: "Queue callback sent to wrong endpoint - ignoring"}, nil
	}

	var in CreateListJobInput
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Printf("[CreateListJob] Invalid payload structure: %v", err)
		return CreateListJobResponse{Success: false, Message: "Invalid payload structure"}, nil
	}

	// Malformed callbacks carry none of the job fields; answer success so
	// the sender stops retrying.
	if in.UserID == "" && in.OriginalFileName == "" && len(in.FilePayload) == 0 && !in.Revalidate {
		log.Printf("[CreateListJob] Malformed callback detected, ignoring")
		return CreateListJobResponse{Success: true, Message: "Malformed callback ignored"}, nil
	}

	if in.Revalidate && in.ListID != "" {
		return p.revalidate(ctx, in)
	}

	return p.createNewJob(ctx, in)
}

// revalidate restarts validation for an already uploaded list: progress
// is zeroed, accumulated results and step markers are cleared, and chunk
// zero is queued again.
func (p *Pipeline) revalidate(ctx context.Context, in CreateListJobInput) (interface{}, error) {
	log.Printf("[CreateListJob] Revalidating existing list %s", in.ListID)

	// Without this, the restarted run would replay the old run's completed
	// steps and skip its own writes.
	if err := p.engine.ClearSteps(ctx, stepScope(in.UserID, in.ListID)); err != nil {
		return nil, err
	}

	snippetKey := validation.SnippetKey(in.UserID, in.ListID)
	err := p.snippets.SetHash(ctx, snippetKey, map[string]string{
		"validCount":      "0",
		"catchAllCount":   "0",
		"unknownCount":    "0",
		"invalidCount":    "0",
		"percentValid":    "0",
		"percentCatchAll": "0",
		"percentUnknown":  "0",
		"percentInvalid":  "0",
		"status":          validation.StatusInProgress,
		"dateValidated":   "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset snippet: %w", err)
	}

	if err := p.responses.Delete(ctx, validation.ResponsesKey(in.UserID, in.ListID)); err != nil {
		return nil, fmt.Errorf("failed to clear previous results: %w", err)
	}

	fields, err := p.snippets.GetHash(ctx, snippetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read snippet: %w", err)
	}
	totalEmails := validation.SnippetFromFields(fields).TotalEmails

	if totalEmails > 0 {
		task := VerifyChunkInput{
			UserID:     in.UserID,
			ListID:     in.ListID,
			StartIndex: 0,
			ChunkSize:  p.chunkSize,
			Attempt:    1,
		}
		if err := p.engine.Enqueue(ctx, StepVerifyChunk, task); err != nil {
			return nil, err
		}
	}

	return CreateListJobResponse{
		Success:     true,
		ListID:      in.ListID,
		TotalEmails: totalEmails,
		Message:     "Email validation restarted successfully",
	}, nil
}

func (p *Pipeline) createNewJob(ctx context.Context, in CreateListJobInput) (interface{}, error) {
	if in.UserID == "" || in.OriginalFileName == "" {
		return nil, fmt.Errorf("%w: userId and originalFileName are required", ErrMissingParameters)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(in.FilePayload, &rows); err != nil || len(rows) == 0 {
		return nil, ErrEmptyPayload
	}

	listID := in.ListID
	if listID == "" {
		listID = validation.GenerateListID()
	} else {
		// A client-supplied id may have markers from an earlier run.
		if err := p.engine.ClearSteps(ctx, stepScope(in.UserID, listID)); err != nil {
			return nil, err
		}
	}
	uploadTimestamp := time.Now().UTC().Format(time.RFC3339)

	log.Printf("[CreateListJob] userId=%s listId=%s rows=%d selectedColumn=%q", in.UserID, listID, len(rows), in.SelectedColumn)

	emailRows := validation.ExtractEmails(rows, in.SelectedColumn)
	totalEmails := len(emailRows)
	log.Printf("[CreateListJob] Extracted %d emails", totalEmails)

	if totalEmails > p.maxEmails {
		return nil, fmt.Errorf("%w: maximum %d emails allowed", ErrTooManyEmails, p.maxEmails)
	}
	dataSize := len(in.FilePayload)
	if dataSize > p.maxPayloadBytes {
		return nil, fmt.Errorf("%w: maximum %d bytes allowed", ErrPayloadTooLarge, p.maxPayloadBytes)
	}

	columns, err := validation.ColumnOrder(in.FilePayload)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	snippetKey := validation.SnippetKey(in.UserID, listID)
	dataKey := validation.DataKey(in.UserID, listID)
	responsesKey := validation.ResponsesKey(in.UserID, listID)

	additionalMetadata, _ := json.Marshal(map[string]interface{}{
		"fileSizeBytes": dataSize,
		"uploadedAt":    uploadTimestamp,
	})

	scope := stepScope(in.UserID, listID)

	err = p.engine.RunStep(ctx, scope, "save-snippet", nil, func(ctx context.Context) (interface{}, error) {
		snippet := validation.ListSnippet{
			UserID:             in.UserID,
			ListID:             listID,
			ListName:           in.OriginalFileName,
			UploadTimestamp:    uploadTimestamp,
			TotalEmails:        totalEmails,
			PercentValid:       "0",
			PercentCatchAll:    "0",
			PercentUnknown:     "0",
			PercentInvalid:     "0",
			Status:             validation.StatusInProgress,
			AdditionalMetadata: string(additionalMetadata),
		}
		if err := p.snippets.SetHash(ctx, snippetKey, snippet.Fields()); err != nil {
			return nil, fmt.Errorf("failed to save snippet: %w", err)
		}
		setTTL(ctx, p.snippets, snippetKey)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	err = p.engine.RunStep(ctx, scope, "save-list-data", nil, func(ctx context.Context) (interface{}, error) {
		listData := validation.ListData{
			Metadata: validation.ListMetadata{
				UserID:          in.UserID,
				ListID:          listID,
				ListName:        in.OriginalFileName,
				Columns:         columns,
				UploadTimestamp: uploadTimestamp,
				ExpiryDays:      30,
			},
			Rows: rows,
		}
		blob, err := json.Marshal(listData)
		if err != nil {
			return nil, fmt.Errorf("failed to encode list data: %w", err)
		}
		if err := p.data.Set(ctx, dataKey, string(blob)); err != nil {
			return nil, fmt.Errorf("failed to save list data: %w", err)
		}
		setTTL(ctx, p.data, dataKey)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	err = p.engine.RunStep(ctx, scope, "init-responses", nil, func(ctx context.Context) (interface{}, error) {
		// Clean start: drop any leftovers from a previous run of this id
		if err := p.responses.Delete(ctx, responsesKey); err != nil {
			return nil, fmt.Errorf("failed to init responses: %w", err)
		}
		setTTL(ctx, p.responses, responsesKey)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	if totalEmails > 0 {
		task := VerifyChunkInput{
			UserID:     in.UserID,
			ListID:     listID,
			StartIndex: 0,
			ChunkSize:  p.chunkSize,
			Attempt:    1,
		}
		if err := p.engine.Enqueue(ctx, StepVerifyChunk, task); err != nil {
			return nil, err
		}
	} else {
		// Nothing to verify, go straight to completion
		task := CompleteListJobInput{UserID: in.UserID, ListID: listID}
		if err := p.engine.Enqueue(ctx, StepCompleteJob, task); err != nil {
			return nil, err
		}
	}

	metrics.JobsCreated.Inc()

	return CreateListJobResponse{
		Success:     true,
		ListID:      listID,
		TotalEmails: totalEmails,
		Message:     "Email validation job created successfully",
	}, nil
}
