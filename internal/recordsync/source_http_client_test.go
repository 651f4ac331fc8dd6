package recordsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPSourceClientListSendsExpectedRequest(t *testing.T) {
	var capturedAuth string
	var capturedPath string
	var capturedQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedPath = r.URL.Path
		capturedQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[{"id":"rec1","fields":{"Startup name":"Acme"}}],"offset":"next_page"}`))
	}))
	defer server.Close()

	client := NewHTTPSourceClient(SourceHTTPClientOptions{
		BaseURL: server.URL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return "token_123", nil
		},
		HTTPClient: server.Client(),
		PageSize:   50,
	})
	records, offset, err := client.ListRecords(context.Background(), "Startups", "cursor_1")
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if capturedAuth != "Bearer token_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedPath != "/Startups" {
		t.Fatalf("expected table path, got %s", capturedPath)
	}
	if !strings.Contains(capturedQuery, "pageSize=50") || !strings.Contains(capturedQuery, "offset=cursor_1") {
		t.Fatalf("expected pageSize and offset in query, got %s", capturedQuery)
	}
	if len(records) != 1 || records[0].ID != "rec1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[0].Fields["Startup name"] != "Acme" {
		t.Fatalf("expected raw fields, got %+v", records[0].Fields)
	}
	if offset != "next_page" {
		t.Fatalf("expected offset next_page, got %q", offset)
	}
}

func TestHTTPSourceClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"unavailable","message":"try again"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer server.Close()

	client := NewHTTPSourceClient(SourceHTTPClientOptions{
		BaseURL: server.URL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return "token_123", nil
		},
		HTTPClient: server.Client(),
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		MaxRetries: 2,
	})
	if _, _, err := client.ListRecords(context.Background(), "Startups", ""); err != nil {
		t.Fatalf("expected retry to recover from transient failure, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestHTTPSourceClientReturnsErrorOnPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"TABLE_NOT_FOUND","message":"no such table"}}`))
	}))
	defer server.Close()

	client := NewHTTPSourceClient(SourceHTTPClientOptions{
		BaseURL: server.URL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return "token_123", nil
		},
		HTTPClient: server.Client(),
	})
	_, _, err := client.ListRecords(context.Background(), "Missing", "")
	if err == nil {
		t.Fatalf("expected permanent error")
	}
	if !strings.Contains(err.Error(), "TABLE_NOT_FOUND") {
		t.Fatalf("expected error to include response type, got %v", err)
	}
}

func TestHTTPSourceClientRequiresTableAndToken(t *testing.T) {
	client := NewHTTPSourceClient(SourceHTTPClientOptions{
		TokenProvider: func(ctx context.Context) (string, error) {
			return "token_123", nil
		},
	})
	if _, _, err := client.ListRecords(context.Background(), "  ", ""); err == nil {
		t.Fatalf("expected error for blank table")
	}

	client = NewHTTPSourceClient(SourceHTTPClientOptions{})
	if _, _, err := client.ListRecords(context.Background(), "Startups", ""); err == nil {
		t.Fatalf("expected error for missing token provider")
	}
}
