package tool_test

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
	"github.com/raoulbia-ai/claude-recall/tool"
	"github.com/raoulbia-ai/claude-recall/tool/builtin"
)

func newTestRegistry(t *testing.T) *tool.Registry {
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
	svc := memory.New(memory.Config{Store: store, Clock: clk})

	reg := tool.NewRegistry()
	if err := reg.RegisterAll(builtin.All(svc)); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	return reg
}

func TestExecuteRunsStoreMemoryTool(t *testing.T) {
	executor := tool.NewExecutor(newTestRegistry(t))

	result := executor.Execute(context.Background(), "store_memory", json.RawMessage(`{"content":"remember this"}`))
	if result.Error != nil {
		t.Fatalf("execute: %v", result.Error)
	}
	if !strings.Contains(result.Output, `"stored":true`) {
		t.Fatalf("expected stored:true in output, got %s", result.Output)
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	executor := tool.NewExecutor(newTestRegistry(t))

	result := executor.Execute(context.Background(), "nonexistent", json.RawMessage(`{}`))
	if result.Error == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
}

func TestExecuteSurfacesToolValidationError(t *testing.T) {
	executor := tool.NewExecutor(newTestRegistry(t))

	result := executor.Execute(context.Background(), "store_memory", json.RawMessage(`{}`))
	if result.Error == nil {
		t.Fatal("expected an error for missing required content")
	}
}

func TestExecuteTimesOutASlowTool(t *testing.T) {
	reg := tool.NewRegistry()
	slow := tool.NewFuncTool(
		"slow_embed",
		"simulates a backend call that never returns",
		tool.ToolSchema{Type: "object", Properties: map[string]tool.PropertyDef{}},
		func(ctx context.Context, input json.RawMessage) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
	)
	if err := reg.Register(slow); err != nil {
		t.Fatalf("register: %v", err)
	}

	executor := tool.NewExecutor(reg)
	executor.SetDefaultTimeout(20 * time.Millisecond)

	result := executor.Execute(context.Background(), "slow_embed", json.RawMessage(`{}`))
	if result.Error == nil {
		t.Fatal("expected a timeout error")
	}
	if !strings.Contains(result.Error.Error(), "timeout") {
		t.Fatalf("expected a timeout error, got %v", result.Error)
	}
}
