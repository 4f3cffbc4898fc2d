package builtin

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
	drv "github.com/raoulbia-ai/claude-recall/driver/sqlite"
	"github.com/raoulbia-ai/claude-recall/memory"
	sqlitestore "github.com/raoulbia-ai/claude-recall/storage/sqlite"
)

func newTestSvc(t *testing.T) *memory.Service {
	t.Helper()
	db, err := drv.Open(filepath.Join(t.TempDir(), "test.db"), drv.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := sqlitestore.Open(db, clk, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return memory.New(memory.Config{Store: store, Clock: clk})
}

func TestAllReturnsSixBuiltinTools(t *testing.T) {
	tools := All(newTestSvc(t))
	if len(tools) != 6 {
		t.Fatalf("expected 6 built-in tools, got %d", len(tools))
	}
	names := map[string]bool{}
	for _, tl := range tools {
		names[tl.Name()] = true
	}
	for _, want := range []string{"store_memory", "retrieve_memory", "search", "store_preferences", "get_stats", "clear_context"} {
		if !names[want] {
			t.Fatalf("expected tool %q to be registered, got %v", want, names)
		}
	}
}

func TestStoreMemoryRequiresContent(t *testing.T) {
	tl := NewStoreMemory(newTestSvc(t))
	if _, err := tl.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an error for missing content")
	}
}

func TestStoreMemorySanitizesHTML(t *testing.T) {
	svc := newTestSvc(t)
	tl := NewStoreMemory(svc)

	out, err := tl.Execute(context.Background(), json.RawMessage(`{"content":"<script>alert(1)</script>hello"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	key, _ := result["id"].(string)
	if key == "" {
		t.Fatal("expected an id in the result")
	}

	m, err := svc.Retrieve(context.Background(), key)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if strings.Contains(string(m.Value), "<script>") {
		t.Fatalf("expected script tag to be stripped, got %s", m.Value)
	}
}

func TestRetrieveMemoryRequiresIDOrQuery(t *testing.T) {
	tl := NewRetrieveMemory(newTestSvc(t))
	if _, err := tl.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an error when neither id nor query is supplied")
	}
}

func TestRetrieveMemoryByID(t *testing.T) {
	svc := newTestSvc(t)
	storeTool := NewStoreMemory(svc)
	out, err := storeTool.Execute(context.Background(), json.RawMessage(`{"content":"remember this"}`))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal([]byte(out), &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	key := stored["id"].(string)

	retrieveTool := NewRetrieveMemory(svc)
	got, err := retrieveTool.Execute(context.Background(), json.RawMessage(`{"id":"`+key+`"}`))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !strings.Contains(got, "remember this") {
		t.Fatalf("expected retrieved content in result, got %s", got)
	}
}

func TestRetrieveMemoryUnknownIDErrors(t *testing.T) {
	tl := NewRetrieveMemory(newTestSvc(t))
	if _, err := tl.Execute(context.Background(), json.RawMessage(`{"id":"does-not-exist"}`)); err == nil {
		t.Fatal("expected an error for an unknown id")
	}
}

func TestStorePreferencesRequiresNonEmptyBatch(t *testing.T) {
	tl := NewStorePreferences(newTestSvc(t))
	if _, err := tl.Execute(context.Background(), json.RawMessage(`{"preferences":[]}`)); err == nil {
		t.Fatal("expected an error for an empty preferences batch")
	}
}

func TestStorePreferencesStoresBatch(t *testing.T) {
	tl := NewStorePreferences(newTestSvc(t))
	out, err := tl.Execute(context.Background(), json.RawMessage(`{"preferences":[{"key":"indent","value":"tabs","confidence":0.8}]}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, `"stored":1`) {
		t.Fatalf("expected stored:1 in result, got %s", out)
	}
}

func TestClearContextRequiresConfirm(t *testing.T) {
	tl := NewClearContext(newTestSvc(t))
	if _, err := tl.Execute(context.Background(), json.RawMessage(`{"confirm":false}`)); err == nil {
		t.Fatal("expected an error when confirm is false")
	}
}

func TestClearContextClearsConfirmed(t *testing.T) {
	svc := newTestSvc(t)
	if _, err := NewStoreMemory(svc).Execute(context.Background(), json.RawMessage(`{"content":"x","type":"context"}`)); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := NewClearContext(svc).Execute(context.Background(), json.RawMessage(`{"confirm":true,"type":"context"}`))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, `"cleared":true`) {
		t.Fatalf("expected cleared:true, got %s", out)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	tl := NewSearch(newTestSvc(t))
	if _, err := tl.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an error for an empty query")
	}
}

func TestSearchReturnsMatches(t *testing.T) {
	svc := newTestSvc(t)
	if _, err := NewStoreMemory(svc).Execute(context.Background(), json.RawMessage(`{"content":"the quick brown fox"}`)); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := NewSearch(svc).Execute(context.Background(), json.RawMessage(`{"query":"fox"}`))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "fox") {
		t.Fatalf("expected matching memory in result, got %s", out)
	}
}

func TestGetStatsReportsTotals(t *testing.T) {
	svc := newTestSvc(t)
	if _, err := NewStoreMemory(svc).Execute(context.Background(), json.RawMessage(`{"content":"x"}`)); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := NewGetStats(svc).Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if !strings.Contains(out, `"total":1`) {
		t.Fatalf("expected total:1 in result, got %s", out)
	}
}
