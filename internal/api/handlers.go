package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/validation"
	"github.com/ignite/list-validator/internal/workflow"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	snippets  store.Store
	data      store.Store
	responses store.Store
	engine    *workflow.Engine
}

// NewHandlers creates a new Handlers instance
func NewHandlers(snippets, data, responses store.Store, engine *workflow.Engine) *Handlers {
	return &Handlers{
		snippets:  snippets,
		data:      data,
		responses: responses,
		engine:    engine,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "list-validator",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RunWorkflowStep executes a workflow stage synchronously with the request
// body as its payload and returns the stage result.
func (h *Handlers) RunWorkflowStep(step string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		result, err := h.engine.Execute(r.Context(), step, body)
		if err != nil {
			if isInputError(err) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Printf("[API] Workflow step %s failed: %v", step, err)
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

func isInputError(err error) bool {
	return errors.Is(err, workflow.ErrMissingParameters) ||
		errors.Is(err, workflow.ErrEmptyPayload) ||
		errors.Is(err, workflow.ErrTooManyEmails) ||
		errors.Is(err, workflow.ErrPayloadTooLarge)
}

// progressResults mirrors the snippet counters with numeric types.
type progressResults struct {
	ValidCount      int     `json:"validCount"`
	CatchAllCount   int     `json:"catchAllCount"`
	UnknownCount    int     `json:"unknownCount"`
	InvalidCount    int     `json:"invalidCount"`
	PercentValid    float64 `json:"percentValid"`
	PercentCatchAll float64 `json:"percentCatchAll"`
	PercentUnknown  float64 `json:"percentUnknown"`
	PercentInvalid  float64 `json:"percentInvalid"`
}

// GetListProgress returns the live progress of a validation job.
func (h *Handlers) GetListProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	listID := chi.URLParam(r, "listId")
	if userID == "" || listID == "" {
		respondError(w, http.StatusBadRequest, "userId and listId are required")
		return
	}

	fields, err := h.snippets.GetHash(r.Context(), validation.SnippetKey(userID, listID))
	if err != nil {
		log.Printf("[API] Progress check failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to check progress")
		return
	}
	if len(fields) == 0 {
		respondError(w, http.StatusNotFound, "list not found")
		return
	}

	snippet := validation.SnippetFromFields(fields)
	processed := snippet.ValidCount + snippet.CatchAllCount + snippet.UnknownCount + snippet.InvalidCount
	overall := 0
	if snippet.TotalEmails > 0 {
		overall = int(math.Round(float64(processed) / float64(snippet.TotalEmails) * 100))
	}

	var dateValidated interface{}
	if snippet.DateValidated != "" {
		dateValidated = snippet.DateValidated
	}
	var additionalMetadata interface{}
	if snippet.AdditionalMetadata != "" {
		if err := json.Unmarshal([]byte(snippet.AdditionalMetadata), &additionalMetadata); err != nil {
			additionalMetadata = nil
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":          userID,
		"listId":          listID,
		"listName":        snippet.ListName,
		"status":          snippet.Status,
		"uploadTimestamp": snippet.UploadTimestamp,
		"dateValidated":   dateValidated,
		"totalEmails":     snippet.TotalEmails,
		"processedEmails": processed,
		"overallProgress": overall,
		"results": progressResults{
			ValidCount:      snippet.ValidCount,
			CatchAllCount:   snippet.CatchAllCount,
			UnknownCount:    snippet.UnknownCount,
			InvalidCount:    snippet.InvalidCount,
			PercentValid:    parseFloatOrZero(snippet.PercentValid),
			PercentCatchAll: parseFloatOrZero(snippet.PercentCatchAll),
			PercentUnknown:  parseFloatOrZero(snippet.PercentUnknown),
			PercentInvalid:  parseFloatOrZero(snippet.PercentInvalid),
		},
		"additionalMetadata": additionalMetadata,
	})
}

// GetListDetails returns the full stored list data.
func (h *Handlers) GetListDetails(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	listID := chi.URLParam(r, "listId")
	if userID == "" || listID == "" {
		respondError(w, http.StatusBadRequest, "userId and listId are required")
		return
	}

	raw, err := h.data.Get(r.Context(), validation.DataKey(userID, listID))
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "list data not found or has expired")
		return
	}
	if err != nil {
		log.Printf("[API] List details failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch list details")
		return
	}

	var listData validation.ListData
	if err := json.Unmarshal([]byte(raw), &listData); err != nil {
		log.Printf("[API] Invalid list data for %s:%s: %v", userID, listID, err)
		respondError(w, http.StatusInternalServerError, "invalid list data format")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"metadata": listData.Metadata,
		"rows":     listData.Rows,
		"userId":   userID,
		"listId":   listID,
	})
}

// GetUserLists returns every list snippet for a user, newest upload first.
func (h *Handlers) GetUserLists(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user ID is required")
		return
	}

	keys, err := h.snippets.Keys(r.Context(), validation.SnippetKeyPattern(userID))
	if err != nil {
		log.Printf("[API] User lists scan failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch user validation lists")
		return
	}

	lists := make([]validation.ListSnippet, 0, len(keys))
	for _, key := range keys {
		fields, err := h.snippets.GetHash(r.Context(), key)
		if err != nil {
			log.Printf("[API] Skipping unreadable snippet %s: %v", key, err)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		lists = append(lists, validation.SnippetFromFields(fields))
	}

	sort.Slice(lists, func(i, j int) bool {
		return lists[i].UploadTimestamp > lists[j].UploadTimestamp
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"lists":   lists,
		"count":   len(lists),
		"userId":  userID,
	})
}

// DownloadValidatedData exports a completed list as CSV or JSON.
func (h *Handlers) DownloadValidatedData(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	listID := chi.URLParam(r, "listId")
	if userID == "" || listID == "" {
		respondError(w, http.StatusBadRequest, "userId and listId are required")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	fields, err := h.snippets.GetHash(r.Context(), validation.SnippetKey(userID, listID))
	if err != nil {
		log.Printf("[API] Download failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to download data")
		return
	}
	if len(fields) == 0 {
		respondError(w, http.StatusNotFound, "list not found")
		return
	}
	snippet := validation.SnippetFromFields(fields)
	if snippet.Status != validation.StatusCompleted {
		respondError(w, http.StatusBadRequest, "validation not yet completed")
		return
	}

	raw, err := h.data.Get(r.Context(), validation.DataKey(userID, listID))
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "validated data not found")
		return
	}
	if err != nil {
		log.Printf("[API] Download failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to download data")
		return
	}

	var listData validation.ListData
	if err := json.Unmarshal([]byte(raw), &listData); err != nil {
		log.Printf("[API] Invalid list data for %s:%s: %v", userID, listID, err)
		respondError(w, http.StatusInternalServerError, "invalid list data format")
		return
	}

	if format == "csv" {
		h.writeCSV(w, snippet, listData)
		return
	}

	metadata := map[string]interface{}{
		"userId":          listData.Metadata.UserID,
		"listId":          listData.Metadata.ListID,
		"listName":        listData.Metadata.ListName,
		"columns":         listData.Metadata.Columns,
		"uploadTimestamp": listData.Metadata.UploadTimestamp,
		"dateValidated":   listData.Metadata.DateValidated,
		"expiryDays":      listData.Metadata.ExpiryDays,
		"downloadedAt":    time.Now().UTC().Format(time.RFC3339),
		"totalRows":       len(listData.Rows),
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metadata": metadata,
		"results": progressResults{
			ValidCount:      snippet.ValidCount,
			CatchAllCount:   snippet.CatchAllCount,
			UnknownCount:    snippet.UnknownCount,
			InvalidCount:    snippet.InvalidCount,
			PercentValid:    parseFloatOrZero(snippet.PercentValid),
			PercentCatchAll: parseFloatOrZero(snippet.PercentCatchAll),
			PercentUnknown:  parseFloatOrZero(snippet.PercentUnknown),
			PercentInvalid:  parseFloatOrZero(snippet.PercentInvalid),
		},
		"data": listData.Rows,
	})
}

// DeleteList removes a list from all three keyspaces.
func (h *Handlers) DeleteList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	listID := chi.URLParam(r, "listId")
	if userID == "" || listID == "" {
		respondError(w, http.StatusBadRequest, "userId and listId are required")
		return
	}

	log.Printf("[API] Deleting list data for %s:%s", userID, listID)

	deletes := []struct {
		store store.Store
		key   string
	}{
		{h.snippets, validation.SnippetKey(userID, listID)},
		{h.data, validation.DataKey(userID, listID)},
		{h.responses, validation.ResponsesKey(userID, listID)},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(deletes))
	for i, d := range deletes {
		wg.Add(1)
		go func(i int, s store.Store, key string) {
			defer wg.Done()
			errs[i] = s.Delete(r.Context(), key)
		}(i, d.store, d.key)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			log.Printf("[API] Delete failed for %s:%s: %v", userID, listID, err)
			respondError(w, http.StatusInternalServerError, "failed to delete list data")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "List data deleted successfully",
		"listId":  listID,
	})
}

func parseFloatOrZero(s string) float64 {
	var f float64
	if s == "" {
		return 0
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return 0
	}
	return f
}

// trimExtension drops a trailing file extension from a list name.
func trimExtension(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
