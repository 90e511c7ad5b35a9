// Package integration runs the inbox, the ingestion scheduler and the HTTP API together.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/embedding"
	"github.com/hyperjump/jinzai/internal/ingest"
	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/search"
	"github.com/hyperjump/jinzai/internal/server"
	"github.com/hyperjump/jinzai/internal/storage"
	"github.com/hyperjump/jinzai/internal/vector"
	"github.com/hyperjump/jinzai/internal/watcher"
)

func TestIntegration_InboxToSearch(t *testing.T) {
	dir := t.TempDir()
	inboxDir := filepath.Join(dir, "inbox")

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	provider := embedding.NewStaticProvider(embedding.NewMockEmbedder(8))
	index := vector.NewMemoryIndex()
	collector := metrics.NewCollector()
	coord := ingest.NewCoordinator(store, provider, config.IngestionConfig{BatchSize: 10},
		ingest.WithIndex(index),
		ingest.WithMetrics(collector))
	engine := search.NewEngine(store, provider, index, config.SearchConfig{}, search.WithMetrics(collector))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := ingest.NewScheduler(coord, time.Hour)
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	inbox := watcher.NewInbox(coord, config.InboxConfig{Directory: inboxDir}, sched.Trigger, nil,
		watcher.WithDebounce(50*time.Millisecond))
	if err := inbox.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer inbox.Stop()

	srv := server.NewServer(engine, coord, store, &config.ServerConfig{}, nil,
		server.WithMetrics(collector),
		server.WithIngestTrigger(sched.Trigger))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	doc := `{"summary":"Platform engineer.","skills":"Go, Kubernetes, Terraform"}`
	if err := os.WriteFile(filepath.Join(inboxDir, "dana.json"), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	// The inbox upserts the file and the scheduler embeds it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		d, err := store.GetDocument(ctx, "dana")
		if err == nil && d.Status == models.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("document not completed in time: %+v, %v", d, err)
		}
		time.Sleep(25 * time.Millisecond)
	}

	body, _ := json.Marshal(models.SearchQuery{Query: "skills: Go, Kubernetes, Terraform"})
	resp, err := http.Post(ts.URL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Results) == 0 || result.Results[0].Record.DocumentID != "dana" {
		t.Fatalf("results = %+v", result.Results)
	}
	if result.QueryID == "" {
		t.Error("search should be recorded")
	}

	// Removing the file deletes the document.
	if err := os.Remove(filepath.Join(inboxDir, "dana.json")); err != nil {
		t.Fatal(err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for {
		_, err := store.GetDocument(ctx, "dana")
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("document not deleted after file removal")
		}
		time.Sleep(25 * time.Millisecond)
	}
	if index.Documents() != 0 {
		t.Errorf("index still holds %d documents", index.Documents())
	}

	cancel()
	select {
	case <-schedDone:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
