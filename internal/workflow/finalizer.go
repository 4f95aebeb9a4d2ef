package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ignite/list-validator/internal/metrics"
	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/validation"
)

// CompleteListJobInput is the complete-list-job payload.
type CompleteListJobInput struct {
	UserID string `json:"userId"`
	ListID string `json:"listId"`
}

// FinalStats are the authoritative counts computed from the merged rows.
type FinalStats struct {
	GoodCount     int     `json:"goodCount"`
	CatchAllCount int     `json:"catchAllCount"`
	RiskyCount    int     `json:"riskyCount"`
	BadCount      int     `json:"badCount"`
	PercentGood   float64 `json:"percentGood"`
	PercentCatch  float64 `json:"percentCatchAll"`
	PercentRisky  float64 `json:"percentRisky"`
	PercentBad    float64 `json:"percentBad"`
}

// CompleteListJobResponse is returned by the completion stage.
type CompleteListJobResponse struct {
	Success     bool       `json:"success"`
	ListID      string     `json:"listId"`
	TotalEmails int        `json:"totalEmails"`
	Results     FinalStats `json:"results"`
	Message     string     `json:"message"`
}

func (p *Pipeline) handleCompleteListJob(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if isCallbackNoise(raw) {
		log.Printf("[CompleteListJob] Ignoring queue callback")
		return CompleteListJobResponse{Success: false, Message: "Queue callback ignored"}, nil
	}

	var in CompleteListJobInput
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Printf("[CompleteListJob] Invalid payload structure: %v", err)
		return CompleteListJobResponse{Success: false, Message: "Invalid payload structure"}, nil
	}
	if in.UserID == "" || in.ListID == "" {
		return nil, fmt.Errorf("%w: userId and listId are required", ErrMissingParameters)
	}

	log.Printf("[CompleteListJob] userId=%s listId=%s", in.UserID, in.ListID)

	results, err := p.collectResults(ctx, in.UserID, in.ListID)
	if err != nil {
		return nil, err
	}
	log.Printf("[CompleteListJob] Retrieved %d validation results", len(results))

	listData, err := p.fetchListData(ctx, in.UserID, in.ListID)
	if err != nil {
		return nil, err
	}

	mergeResults(listData, results)
	log.Printf("[CompleteListJob] Merged results into %d rows", len(listData.Rows))

	dateValidated := time.Now().UTC().Format(time.RFC3339)
	scope := stepScope(in.UserID, in.ListID)

	err = p.engine.RunStep(ctx, scope, "save-merged-data", nil, func(ctx context.Context) (interface{}, error) {
		listData.Metadata.DateValidated = dateValidated
		blob, err := json.Marshal(listData)
		if err != nil {
			return nil, fmt.Errorf("failed to encode merged data: %w", err)
		}
		dataKey := validation.DataKey(in.UserID, in.ListID)
		if err := p.data.Set(ctx, dataKey, string(blob)); err != nil {
			return nil, fmt.Errorf("failed to save merged data: %w", err)
		}
		// SET drops the TTL, so it has to be reapplied
		setTTL(ctx, p.data, dataKey)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	stats := finalStats(listData.Rows)
	log.Printf("[CompleteListJob] Final results: %d good, %d catch-all, %d risky, %d bad",
		stats.GoodCount, stats.CatchAllCount, stats.RiskyCount, stats.BadCount)

	err = p.engine.RunStep(ctx, scope, "update-snippet-completion", nil, func(ctx context.Context) (interface{}, error) {
		snippetKey := validation.SnippetKey(in.UserID, in.ListID)
		err := p.snippets.SetHash(ctx, snippetKey, map[string]string{
			"validCount":      fmt.Sprintf("%d", stats.GoodCount),
			"catchAllCount":   fmt.Sprintf("%d", stats.CatchAllCount),
			"unknownCount":    fmt.Sprintf("%d", stats.RiskyCount),
			"invalidCount":    fmt.Sprintf("%d", stats.BadCount),
			"percentValid":    fmt.Sprintf("%.2f", stats.PercentGood),
			"percentCatchAll": fmt.Sprintf("%.2f", stats.PercentCatch),
			"percentUnknown":  fmt.Sprintf("%.2f", stats.PercentRisky),
			"percentInvalid":  fmt.Sprintf("%.2f", stats.PercentBad),
			"status":          validation.StatusCompleted,
			"dateValidated":   dateValidated,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update snippet: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	// Notification delivery is not built yet; completion is only logged.
	log.Printf("[CompleteListJob] Completion notification for %s:%s (log only)", in.UserID, in.ListID)

	if p.archiver != nil {
		if err := p.archiver.SaveReport(ctx, in.UserID, in.ListID, listData); err != nil {
			log.Printf("[CompleteListJob] Report archival failed: %v", err)
		}
	}

	metrics.JobsCompleted.Inc()
	log.Printf("[CompleteListJob] Finished successfully for %s:%s", in.UserID, in.ListID)

	return CompleteListJobResponse{
		Success:     true,
		ListID:      in.ListID,
		TotalEmails: len(listData.Rows),
		Results:     stats,
		Message:     "Email validation completed successfully",
	}, nil
}

// collectResults flattens the accumulator, tolerating malformed chunks.
func (p *Pipeline) collectResults(ctx context.Context, userID, listID string) ([]validation.ValidationResult, error) {
	responsesKey := validation.ResponsesKey(userID, listID)
	chunks, err := p.responses.Range(ctx, responsesKey, 0, -1)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to read validation results: %w", err)
	}

	var all []validation.ValidationResult
	for _, chunk := range chunks {
		var parsed []validation.ValidationResult
		if err := json.Unmarshal([]byte(chunk), &parsed); err != nil {
			log.Printf("[CompleteListJob] Skipping malformed result chunk: %v", err)
			continue
		}
		all = append(all, parsed...)
	}
	return all, nil
}

// mergeResults stamps every row with its validation verdict. Rows without
// a matching result are marked risky with an explanatory message. Lookup
// is by lowercased email; a later duplicate wins.
func mergeResults(listData *validation.ListData, results []validation.ValidationResult) {
	byEmail := make(map[string]validation.ValidationResult, len(results))
	for _, r := range results {
		byEmail[strings.ToLower(r.Email)] = r
	}

	for _, row := range listData.Rows {
		if row == nil {
			continue
		}

		var emailValue string
		if email := validation.RowEmail(row); email != "" {
			emailValue = strings.ToLower(email)
		}

		if r, ok := byEmail[emailValue]; ok && emailValue != "" {
			row[validation.ColValidStatus] = r.Valid
			row[validation.ColCatchAll] = r.CatchAll
			row[validation.ColCategory] = r.Category
			if r.Error != nil {
				row[validation.ColErrorMessage] = *r.Error
			} else {
				row[validation.ColErrorMessage] = nil
			}
			continue
		}

		row[validation.ColValidStatus] = validation.ValidUnknown
		row[validation.ColCatchAll] = validation.CatchAllUnknown
		row[validation.ColCategory] = validation.CategoryRisky
		row[validation.ColErrorMessage] = validation.NoResultMessage
	}
}

// finalStats recomputes the authoritative counts from the merged rows.
func finalStats(rows []map[string]interface{}) FinalStats {
	var stats FinalStats
	for _, row := range rows {
		if row == nil {
			continue
		}
		category, _ := row[validation.ColCategory].(string)
		switch category {
		case validation.CategoryGood:
			stats.GoodCount++
		case validation.CategoryCatchAll:
			stats.CatchAllCount++
		case validation.CategoryRisky:
			stats.RiskyCount++
		case validation.CategoryBad:
			stats.BadCount++
		}
	}

	total := len(rows)
	if total > 0 {
		stats.PercentGood = float64(stats.GoodCount) / float64(total) * 100
		stats.PercentCatch = float64(stats.CatchAllCount) / float64(total) * 100
		stats.PercentRisky = float64(stats.RiskyCount) / float64(total) * 100
		stats.PercentBad = float64(stats.BadCount) / float64(total) * 100
	}
	return stats
}
