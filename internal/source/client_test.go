package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch_JSONArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if accept := r.Header.Get("Accept"); accept != "application/json" {
			t.Errorf("expected Accept application/json, got %q", accept)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"task_id":"t-1","content":"first"},{"task_id":"t-2","content":"second"}]`))
	}))
	defer server.Close()

	client := NewHTTPClient(5 * time.Second)
	records, err := client.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first, ok := records[0].(map[string]any)
	if !ok {
		t.Fatalf("expected map record, got %T", records[0])
	}
	if first["task_id"] != "t-1" {
		t.Errorf("expected task_id t-1, got %v", first["task_id"])
	}
}

func TestFetch_SingleObjectBecomesOneElementSlice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"task_id":"t-1","content":"only one"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(5 * time.Second)
	records, err := client.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(5 * time.Second)
	_, err := client.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrSourceStatus) {
		t.Fatalf("expected ErrSourceStatus, got %v", err)
	}
}

func TestFetch_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"broken":`))
	}))
	defer server.Close()

	client := NewHTTPClient(5 * time.Second)
	_, err := client.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrSourceFormat) {
		t.Fatalf("expected ErrSourceFormat, got %v", err)
	}
}

func TestFetch_ScalarTopLevelRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`"just a string"`))
	}))
	defer server.Close()

	client := NewHTTPClient(5 * time.Second)
	_, err := client.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrSourceFormat) {
		t.Fatalf("expected ErrSourceFormat, got %v", err)
	}
}

func TestFetch_Unreachable(t *testing.T) {
	// A server that is immediately closed refuses connections.
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewHTTPClient(1 * time.Second)
	_, err := client.Fetch(context.Background(), url)
	if !errors.Is(err, ErrSourceUnreachable) {
		t.Fatalf("expected ErrSourceUnreachable, got %v", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewHTTPClient(20 * time.Millisecond)
	_, err := client.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrSourceTimeout) {
		t.Fatalf("expected ErrSourceTimeout, got %v", err)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	client := NewHTTPClient(5 * time.Second)
	for _, raw := range []string{"", "not a url", "ftp://example.com/data"} {
		if _, err := client.Fetch(context.Background(), raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
