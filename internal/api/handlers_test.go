package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/list-validator/internal/store"
	"github.com/ignite/list-validator/internal/validation"
	"github.com/ignite/list-validator/internal/workflow"
)

// stubVerifier marks every email valid.
type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, emails []string) ([]validation.ValidationResult, error) {
	results := make([]validation.ValidationResult, len(emails))
	for i, email := range emails {
		results[i] = validation.ValidationResult{
			Email:    email,
			Valid:    validation.ValidYes,
			CatchAll: validation.CatchAllNo,
			Category: validation.CategoryGood,
		}
	}
	return results, nil
}

func setupTestServer(t *testing.T) (*Server, store.Store, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client)

	engine := workflow.NewEngine(s, 3)
	workflow.NewPipeline(s, s, s, engine, stubVerifier{}, nil, workflow.Options{ChunkSize: 250})

	srv := NewServer(NewHandlers(s, s, s, engine))

	cleanup := func() {
		s.Close()
		mr.Close()
	}
	return srv, s, cleanup
}

func seedSnippet(t *testing.T, s store.Store, snippet validation.ListSnippet) {
	t.Helper()
	key := validation.SnippetKey(snippet.UserID, snippet.ListID)
	require.NoError(t, s.SetHash(context.Background(), key, snippet.Fields()))
}

func seedListData(t *testing.T, s store.Store, data validation.ListData) {
	t.Helper()
	blob, err := json.Marshal(data)
	require.NoError(t, err)
	key := validation.DataKey(data.Metadata.UserID, data.Metadata.ListID)
	require.NoError(t, s.Set(context.Background(), key, string(blob)))
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	srv, _, cleanup := setupTestServer(t)
	defer cleanup()

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestCreateListJobEndpoint(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	body := map[string]interface{}{
		"userId":           "u1",
		"originalFileName": "contacts.csv",
		"filePayload": []map[string]interface{}{
			{"name": "A", "email": "a@example.com"},
			{"name": "B", "email": "b@example.com"},
		},
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/workflows/create-list-job", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp workflow.CreateListJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalEmails)
	assert.NotEmpty(t, resp.ListID)

	fields, err := s.GetHash(context.Background(), validation.SnippetKey("u1", resp.ListID))
	require.NoError(t, err)
	assert.Equal(t, validation.StatusInProgress, fields["status"])
}

func TestCreateListJobEndpointInputError(t *testing.T) {
	srv, _, cleanup := setupTestServer(t)
	defer cleanup()

	body := map[string]interface{}{
		"userId":           "u1",
		"originalFileName": "contacts.csv",
		"filePayload":      []map[string]interface{}{},
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/workflows/create-list-job", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "non-empty array")
}

func TestFullJobThroughEndpoints(t *testing.T) {
	srv, _, cleanup := setupTestServer(t)
	defer cleanup()

	rows := make([]map[string]interface{}, 5)
	for i := range rows {
		rows[i] = map[string]interface{}{
			"name":  fmt.Sprintf("User %d", i),
			"email": fmt.Sprintf("user%d@example.com", i),
		}
	}
	createBody := map[string]interface{}{
		"userId":           "u1",
		"originalFileName": "five.csv",
		"filePayload":      rows,
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/workflows/create-list-job", createBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var created workflow.CreateListJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Drive the chunk and completion stages through their endpoints
	rec = doRequest(t, srv, http.MethodPost, "/api/workflows/verify-250-emails", workflow.VerifyChunkInput{
		UserID: "u1", ListID: created.ListID, StartIndex: 0, ChunkSize: 250, Attempt: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var chunk workflow.VerifyChunkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunk))
	assert.True(t, chunk.Success)
	assert.Equal(t, 5, chunk.Processed)

	rec = doRequest(t, srv, http.MethodPost, "/api/workflows/complete-list-job", workflow.CompleteListJobInput{
		UserID: "u1", ListID: created.ListID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var completed workflow.CompleteListJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.True(t, completed.Success)
	assert.Equal(t, 5, completed.TotalEmails)
	assert.Equal(t, 5, completed.Results.GoodCount)

	// Progress now reports completion
	rec = doRequest(t, srv, http.MethodGet, "/api/list-progress/u1/"+created.ListID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, validation.StatusCompleted, progress["status"])
	assert.Equal(t, float64(5), progress["processedEmails"])
	assert.Equal(t, float64(100), progress["overallProgress"])
}

func TestGetListProgress(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	seedSnippet(t, s, validation.ListSnippet{
		UserID:          "u1",
		ListID:          "list-1",
		ListName:        "contacts.csv",
		UploadTimestamp: "2026-01-01T00:00:00Z",
		TotalEmails:     600,
		ValidCount:      200,
		CatchAllCount:   25,
		UnknownCount:    50,
		InvalidCount:    25,
		PercentValid:    "33.33",
		PercentCatchAll: "4.17",
		PercentUnknown:  "8.33",
		PercentInvalid:  "4.17",
		Status:          validation.StatusInProgress,
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/list-progress/u1/list-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(600), resp["totalEmails"])
	assert.Equal(t, float64(300), resp["processedEmails"])
	assert.Equal(t, float64(50), resp["overallProgress"])
	assert.Nil(t, resp["dateValidated"])

	results := resp["results"].(map[string]interface{})
	assert.Equal(t, float64(200), results["validCount"])
	assert.Equal(t, 33.33, results["percentValid"])
}

func TestGetListProgressNotFound(t *testing.T) {
	srv, _, cleanup := setupTestServer(t)
	defer cleanup()

	rec := doRequest(t, srv, http.MethodGet, "/api/list-progress/u1/list-none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserLists(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	seedSnippet(t, s, validation.ListSnippet{UserID: "u1", ListID: "list-a", UploadTimestamp: "2026-01-01T00:00:00Z", Status: validation.StatusCompleted})
	seedSnippet(t, s, validation.ListSnippet{UserID: "u1", ListID: "list-b", UploadTimestamp: "2026-02-01T00:00:00Z", Status: validation.StatusInProgress})
	seedSnippet(t, s, validation.ListSnippet{UserID: "u2", ListID: "list-c", UploadTimestamp: "2026-03-01T00:00:00Z", Status: validation.StatusCompleted})

	rec := doRequest(t, srv, http.MethodGet, "/api/user-lists/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                     `json:"success"`
		Lists   []validation.ListSnippet `json:"lists"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Equal(t, 2, resp.Count)

	// Newest upload first
	assert.Equal(t, "list-b", resp.Lists[0].ListID)
	assert.Equal(t, "list-a", resp.Lists[1].ListID)
}

func TestGetUserListsEmpty(t *testing.T) {
	srv, _, cleanup := setupTestServer(t)
	defer cleanup()

	rec := doRequest(t, srv, http.MethodGet, "/api/user-lists/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["count"])
}

func TestGetListDetails(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	seedListData(t, s, validation.ListData{
		Metadata: validation.ListMetadata{
			UserID: "u1", ListID: "list-1", ListName: "contacts.csv",
			Columns: []string{"name", "email"}, ExpiryDays: 30,
		},
		Rows: []map[string]interface{}{{"name": "A", "email": "a@example.com"}},
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/list-details/u1/list-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Len(t, resp["rows"], 1)

	rec = doRequest(t, srv, http.MethodGet, "/api/list-details/u1/list-none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadRequiresCompletion(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	seedSnippet(t, s, validation.ListSnippet{UserID: "u1", ListID: "list-1", Status: validation.StatusInProgress})

	rec := doRequest(t, srv, http.MethodGet, "/api/download-validated-data/u1/list-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/download-validated-data/u1/list-none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadCSV(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	seedSnippet(t, s, validation.ListSnippet{
		UserID: "u1", ListID: "list-1", ListName: "contacts.csv",
		TotalEmails: 2, ValidCount: 2, Status: validation.StatusCompleted,
	})
	seedListData(t, s, validation.ListData{
		Metadata: validation.ListMetadata{
			UserID: "u1", ListID: "list-1", ListName: "contacts.csv",
			Columns: []string{"name", "email"},
		},
		Rows: []map[string]interface{}{
			{
				"name":  `Quote "Q" Smith, Jr.`,
				"email": "a@example.com",
				validation.ColValidStatus:  validation.ValidYes,
				validation.ColCatchAll:     validation.CatchAllNo,
				validation.ColCategory:     validation.CategoryGood,
				validation.ColErrorMessage: nil,
			},
			{
				"name":  "Line\nBreak",
				"email": "b@example.com",
				validation.ColValidStatus:  validation.ValidYes,
				validation.ColCatchAll:     validation.CatchAllNo,
				validation.ColCategory:     validation.CategoryGood,
				validation.ColErrorMessage: "soft bounce",
			},
		},
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/download-validated-data/u1/list-1?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `contacts_validated.csv`)

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	wantHeader := []string{"name", "email", "validStatus", "catchAll", "category", "errorMessage"}
	assert.Equal(t, wantHeader, records[0])

	// Quoting survives the round trip
	assert.Equal(t, `Quote "Q" Smith, Jr.`, records[1][0])
	assert.Equal(t, "", records[1][5])
	assert.Equal(t, "Line\nBreak", records[2][0])
	assert.Equal(t, "soft bounce", records[2][5])
}

func TestDownloadJSON(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()

	seedSnippet(t, s, validation.ListSnippet{
		UserID: "u1", ListID: "list-1", ListName: "contacts.csv",
		TotalEmails: 1, ValidCount: 1, CatchAllCount: 0,
		PercentValid: "100.00", Status: validation.StatusCompleted,
	})
	seedListData(t, s, validation.ListData{
		Metadata: validation.ListMetadata{UserID: "u1", ListID: "list-1", ListName: "contacts.csv", Columns: []string{"email"}},
		Rows:     []map[string]interface{}{{"email": "a@example.com"}},
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/download-validated-data/u1/list-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	metadata := resp["metadata"].(map[string]interface{})
	assert.Equal(t, float64(1), metadata["totalRows"])
	assert.NotEmpty(t, metadata["downloadedAt"])

	results := resp["results"].(map[string]interface{})
	assert.Equal(t, float64(1), results["validCount"])
	assert.Contains(t, results, "catchAllCount")
	assert.Equal(t, float64(100), results["percentValid"])
}

func TestDeleteList(t *testing.T) {
	srv, s, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	seedSnippet(t, s, validation.ListSnippet{UserID: "u1", ListID: "list-1", Status: validation.StatusCompleted})
	seedListData(t, s, validation.ListData{Metadata: validation.ListMetadata{UserID: "u1", ListID: "list-1"}})
	require.NoError(t, s.Append(ctx, validation.ResponsesKey("u1", "list-1"), "[]"))

	rec := doRequest(t, srv, http.MethodDelete, "/api/delete-list/u1/list-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	fields, err := s.GetHash(ctx, validation.SnippetKey("u1", "list-1"))
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = s.Get(ctx, validation.DataKey("u1", "list-1"))
	assert.Equal(t, store.ErrNotFound, err)

	vals, err := s.Range(ctx, validation.ResponsesKey("u1", "list-1"), 0, -1)
	require.NoError(t, err)
	assert.Empty(t, vals)
}
