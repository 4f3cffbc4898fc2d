package rpc

import (
	"bytes"
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

func newTestServer(t *testing.T, clk clock.Clock) *Server {
	t.Helper()
	db, err := drv.Open(filepath.Join(t.TempDir(), "test.db"), drv.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := sqlitestore.Open(db, clk, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	svc := memory.New(memory.Config{Store: store, Clock: clk})

	registry := tool.NewRegistry()
	if err := registry.RegisterAll(builtin.All(svc)); err != nil {
		t.Fatalf("register tools: %v", err)
	}

	return NewServer(ServerConfig{
		Registry:  registry,
		Resources: NewResourceProvider(svc),
		Prompts:   NewPromptCatalog(),
		Clock:     clk,
		RateWindow: time.Minute,
		RateMax:    100,
	})
}

// exchange runs a single request line through the server and returns its
// decoded response (nil if the server produced no response, e.g. a
// notification).
func exchange(t *testing.T, s *Server, request string) *Response {
	t.Helper()
	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(request+"\n"), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if out.Len() == 0 {
		return nil
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v\nraw: %s", err, out.String())
	}
	return &resp
}

func TestInitializeReturnsProtocolVersion(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp)
	}

	raw, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Fatalf("expected protocol version %s, got %s", ProtocolVersion, result.ProtocolVersion)
	}
}

func TestToolsListIncludesBuiltins(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp)
	}

	raw, _ := json.Marshal(resp.Result)
	var result struct {
		Tools []tool.Descriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tools) != 6 {
		t.Fatalf("expected 6 built-in tools, got %d", len(result.Tools))
	}
}

func TestToolsCallStoreThenRetrieve(t *testing.T) {
	s := newTestServer(t, clock.System{})

	storeReq := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"store_memory","arguments":{"content":"use tabs"}}}`
	resp := exchange(t, s, storeReq)
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp)
	}

	raw, _ := json.Marshal(resp.Result)
	var stored struct {
		Content struct {
			ID string `json:"id"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Content.ID == "" {
		t.Fatalf("expected an id in the store result, got %s", raw)
	}

	retrieveReq := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"retrieve_memory","arguments":{"id":"` + stored.Content.ID + `"}}}`
	resp = exchange(t, s, retrieveReq)
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp)
	}
	raw, _ = json.Marshal(resp.Result)
	if !strings.Contains(string(raw), "use tabs") {
		t.Fatalf("expected the stored content in the retrieve result, got %s", raw)
	}
}

func TestToolsCallUnknownToolReturnsToolNotFound(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error, got %+v", resp)
	}
	if resp.Error.Code != CodeToolNotFound {
		t.Fatalf("expected code %d, got %d", CodeToolNotFound, resp.Error.Code)
	}
}

func TestToolsCallMissingRequiredFieldReturnsInvalidParams(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"store_memory","arguments":{}}}`)
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error, got %+v", resp)
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected code %d, got %d", CodeInvalidParams, resp.Error.Code)
	}
}

func TestMethodNotFound(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"nonexistent"}`)
	if resp == nil || resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp)
	}
}

func TestParseErrorOnMalformedJSON(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{not json`)
	if resp == nil || resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}
}

func TestNotificationProducesNoResponse(t *testing.T) {
	s := newTestServer(t, clock.System{})
	resp := exchange(t, s, `{"jsonrpc":"2.0","method":"ping"}`)
	if resp != nil {
		t.Fatalf("expected no response for a notification, got %+v", resp)
	}
}

func TestDuplicateActionShortCircuits(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestServer(t, clk)

	var buf bytes.Buffer
	lines := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"store_preferences","arguments":{"preferences":[{"key":"indent","value":"tabs","confidence":0.9}]}}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"store_preferences","arguments":{"preferences":[{"key":"indent","value":"tabs","confidence":0.9}]}}}` + "\n",
	)
	if err := s.Serve(context.Background(), lines, &buf); err != nil {
		t.Fatalf("serve: %v", err)
	}

	responses := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d: %v", len(responses), responses)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(responses[1]), &second); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	result, _ := second["result"].(map[string]any)
	if result == nil {
		t.Fatalf("expected a result on the second call, got %+v", second)
	}
	if dup, _ := result["duplicate"].(bool); !dup {
		t.Fatalf("expected the second identical call to be flagged as a duplicate, got %+v", result)
	}
}

func TestRateLimiterBlocksAfterMax(t *testing.T) {
	clk := clock.Fixed{At: time.Now()}
	s := newTestServer(t, clk)
	s.limiter = NewRateLimiter(clk, time.Minute, 1)

	var buf bytes.Buffer
	lines := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_stats","arguments":{}}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_stats","arguments":{}}}` + "\n",
	)
	if err := s.Serve(context.Background(), lines, &buf); err != nil {
		t.Fatalf("serve: %v", err)
	}

	responses := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	var second Response
	if err := json.Unmarshal([]byte(responses[1]), &second); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	if second.Error == nil || second.Error.Code != CodeRateLimited {
		t.Fatalf("expected rate-limited error on second call, got %+v", second)
	}
}

func TestResourcesListAndRead(t *testing.T) {
	s := newTestServer(t, clock.System{})

	listResp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if listResp == nil || listResp.Error != nil {
		t.Fatalf("expected success, got %+v", listResp)
	}

	readResp := exchange(t, s, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"memory://stats"}}`)
	if readResp == nil || readResp.Error != nil {
		t.Fatalf("expected success, got %+v", readResp)
	}
}

func TestPromptsListAndGet(t *testing.T) {
	s := newTestServer(t, clock.System{})

	listResp := exchange(t, s, `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`)
	if listResp == nil || listResp.Error != nil {
		t.Fatalf("expected success, got %+v", listResp)
	}

	getResp := exchange(t, s, `{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"summarize-preferences","arguments":{"limit":"3"}}}`)
	if getResp == nil || getResp.Error != nil {
		t.Fatalf("expected success, got %+v", getResp)
	}
}
