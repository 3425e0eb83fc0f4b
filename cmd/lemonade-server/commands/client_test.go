package commands

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverRunningServerReadsPidPortFile(t *testing.T) {
	dir := t.TempDir()
	record := fmt.Sprintf(`{"pid":%d,"port":8123}`, os.Getpid())
	if err := os.WriteFile(filepath.Join(dir, "lemonade-router.pid"), []byte(record), 0o644); err != nil {
		t.Fatal(err)
	}

	client, ok := discoverRunningServer(dir)
	if !ok {
		t.Fatal("expected a discovered server")
	}
	if client.baseURL != "http://127.0.0.1:8123/api/v1" {
		t.Fatalf("unexpected base URL: %s", client.baseURL)
	}
}

func TestDiscoverRunningServerFalseWhenNoFile(t *testing.T) {
	if _, ok := discoverRunningServer(t.TempDir()); ok {
		t.Fatal("expected no server discovered in an empty cache dir")
	}
}

func TestPostSSEDispatchesEventDataPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: progress\ndata: {\"written\":10}\n\n")
		fmt.Fprint(w, "event: complete\ndata: {}\n\n")
	}))
	defer srv.Close()

	client := &serverClient{baseURL: srv.URL, http: srv.Client()}
	var events []string
	err := client.postSSE("/pull", nil, func(event, data string) {
		events = append(events, event+":"+data)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[0] != `progress:{"written":10}` {
		t.Fatalf("unexpected first event: %s", events[0])
	}
	if events[1] != "complete:{}" {
		t.Fatalf("unexpected second event: %s", events[1])
	}
}

func TestPostSSEReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	}))
	defer srv.Close()

	client := &serverClient{baseURL: srv.URL, http: srv.Client()}
	err := client.postSSE("/pull", nil, func(event, data string) {})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestGetAndDeleteRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	client := &serverClient{baseURL: srv.URL, http: srv.Client()}
	body, status, err := client.get("/models")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("unexpected get result: %d %s", status, body)
	}

	_, status, err = client.delete("/models/foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
}
