package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ignite/list-validator/internal/validation"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClientWithHTTP(srv.URL, srv.Client()), srv
}

func TestVerifyBareArray(t *testing.T) {
	var gotBody verifyRequest
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"email":"good@example.com","valid":"Valid","catch_all":"No","error":null},
			{"email":"bad@example.com","valid":"Invalid","catch_all":"No","error":null},
			{"email":"ca@example.com","valid":"Valid","catch_all":"Yes","error":null},
			{"email":"odd@example.com","valid":"Unknown","catch_all":"Unknown","error":"timeout"}
		]`))
	})
	defer srv.Close()

	results, err := client.Verify(context.Background(), []string{"good@example.com", "bad@example.com", "ca@example.com", "odd@example.com"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(gotBody.Emails) != 4 {
		t.Errorf("Expected 4 emails in request, got %d", len(gotBody.Emails))
	}
	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}

	wantCategories := []string{
		validation.CategoryGood,
		validation.CategoryBad,
		validation.CategoryCatchAll,
		validation.CategoryRisky,
	}
	for i, want := range wantCategories {
		if results[i].Category != want {
			t.Errorf("Result %d: category %q, want %q", i, results[i].Category, want)
		}
	}
	if results[3].Error == nil || *results[3].Error != "timeout" {
		t.Errorf("Expected error carried through, got %v", results[3].Error)
	}
}

func TestVerifyResultsEnvelope(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"email":"a@b.com","valid":"Valid","catch_all":"No"}]}`))
	})
	defer srv.Close()

	results, err := client.Verify(context.Background(), []string{"a@b.com"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(results) != 1 || results[0].Category != validation.CategoryGood {
		t.Errorf("Unexpected results: %+v", results)
	}
}

func TestVerifyErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{"error field", `{"error":"rate limited"}`, "rate limited"},
		{"message field", `{"message":"service degraded"}`, "service degraded"},
		{"detail field", `{"detail":"bad batch"}`, "bad batch"},
		{"failure status", `{"status":"error"}`, `status "error"`},
		{"unrecognized object", `{"something":"else"}`, "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			})
			defer srv.Close()

			_, err := client.Verify(context.Background(), []string{"a@b.com"})
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestVerifyEmptyResultsIsError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})
	defer srv.Close()

	_, err := client.Verify(context.Background(), []string{"a@b.com"})
	if err == nil || !strings.Contains(err.Error(), "empty results") {
		t.Errorf("Expected empty-results error, got %v", err)
	}
}

func TestVerifyHTTPError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := client.Verify(context.Background(), []string{"a@b.com"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestVerifyNonJSONResponse(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>gateway timeout</html>"))
	})
	defer srv.Close()

	_, err := client.Verify(context.Background(), []string{"a@b.com"})
	if err == nil || !strings.Contains(err.Error(), "non-JSON") {
		t.Errorf("Expected content-type error, got %v", err)
	}
}

func TestVerifyEmptyBatchSkipsAPI(t *testing.T) {
	called := false
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer srv.Close()

	results, err := client.Verify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %+v", results)
	}
	if called {
		t.Error("API should not be called for an empty batch")
	}
}
