package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
	"github.com/raoulbia-ai/claude-recall/idgen"
	"github.com/raoulbia-ai/claude-recall/tool"
)

// maxLineBytes bounds a single incoming request line; bufio.Scanner's
// default 64KiB token limit is too small for a store_memory call carrying a
// large pasted document, so the scanner buffer is grown to this.
const maxLineBytes = 4 << 20

// Server is the Tool Surface (C5): it owns the tool registry, the
// rate limiter and session tracker, and the resources/prompts providers,
// and dispatches one JSON-RPC request per line read from its transport.
//
// One Server instance serves one stdio connection; spec.md's per-session
// state (§3.4/§3.5) is scoped to the single session id generated for that
// connection's lifetime, since the wire protocol carries no explicit
// session field (see DESIGN.md's Open Question resolution).
type Server struct {
	registry  *tool.Registry
	executor  *tool.Executor
	validator *tool.Validator
	sessions  *SessionStore
	limiter   *RateLimiter
	resources *ResourceProvider
	prompts   *PromptCatalog
	ids       idgen.Generator
	logger    *slog.Logger
	clock     clock.Clock

	name        string
	version     string
	toolTimeout time.Duration
}

// ServerConfig configures a Server at construction.
type ServerConfig struct {
	Registry    *tool.Registry
	Resources   *ResourceProvider
	Prompts     *PromptCatalog
	Clock       clock.Clock
	IDs         idgen.Generator
	Logger      *slog.Logger
	RateWindow  time.Duration
	RateMax     int
	ServerName  string
	ServerVers  string
	ToolTimeout time.Duration
}

// NewServer builds a Server from cfg.
func NewServer(cfg ServerConfig) *Server {
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUID{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "claude-recall"
	}
	if cfg.ServerVers == "" {
		cfg.ServerVers = "0.1.0"
	}

	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}
	executor := tool.NewExecutor(cfg.Registry)
	executor.SetDefaultTimeout(toolTimeout)

	return &Server{
		registry:    cfg.Registry,
		executor:    executor,
		validator:   tool.NewValidator(),
		sessions:    NewSessionStore(cfg.Clock),
		limiter:     NewRateLimiter(cfg.Clock, cfg.RateWindow, cfg.RateMax),
		resources:   cfg.Resources,
		prompts:     cfg.Prompts,
		ids:         cfg.IDs,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		name:        cfg.ServerName,
		version:     cfg.ServerVers,
		toolTimeout: toolTimeout,
	}
}

// StartJanitor launches a background goroutine that evicts idle sessions
// every interval until ctx is cancelled, per spec.md §5's "single janitor
// task". Returns immediately; the goroutine exits when ctx is done.
func (s *Server) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sessions.EvictIdle(s.limiter.Evict)
			}
		}
	}()
}

// Serve reads one JSON-RPC request per line from r, dispatches it, and
// writes the response (if any) as one JSON line to w, until r is
// exhausted or ctx is cancelled. A single session id is minted for the
// lifetime of this call.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sessionID := s.ids.New()
	sess := s.sessions.getOrCreate(sessionID)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	writer := bufio.NewWriter(w)
	defer writer.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, hasResponse := s.handleLine(ctx, sess, line)
		if !hasResponse {
			continue
		}

		out, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("marshal response failed", "error", err)
			continue
		}
		if _, err := writer.Write(out); err != nil {
			return err
		}
		if _, err := writer.WriteString("\n"); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// handleLine parses and dispatches a single request line. hasResponse is
// false for notifications (requests with no id), per JSON-RPC 2.0.
func (s *Server) handleLine(ctx context.Context, sess *session, line string) (resp Response, hasResponse bool) {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return newError(nil, CodeParseError, "parse error", err.Error()), true
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return newError(req.ID, CodeInvalidRequest, "invalid request", nil), true
	}

	hasResponse = len(req.ID) > 0

	if req.Method != "initialize" && req.Method != "ping" {
		if allowed, retryAfter := s.limiter.Allow(sess.id); !allowed {
			return newError(req.ID, CodeRateLimited, "rate limit exceeded", map[string]any{"retry_after_ms": retryAfter}), hasResponse
		}
	}

	result, rpcErr := s.dispatch(ctx, sess, req.Method, req.Params)
	if rpcErr != nil {
		return newError(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data), hasResponse
	}
	return newResult(req.ID, result), hasResponse
}

func (s *Server) dispatch(ctx context.Context, sess *session, method string, params json.RawMessage) (any, *ErrorObject) {
	switch method {
	case "initialize":
		return s.handleInitialize(), nil
	case "ping":
		return map[string]any{"ok": true}, nil
	case "tools/list":
		return map[string]any{"tools": s.registry.Descriptors()}, nil
	case "tools/call":
		return s.handleToolsCall(ctx, sess, params)
	case "resources/list":
		return s.handleResourcesList(), nil
	case "resources/read":
		return s.handleResourcesRead(ctx, params)
	case "prompts/list":
		return s.handlePromptsList(), nil
	case "prompts/get":
		return s.handlePromptsGet(params)
	default:
		return nil, &ErrorObject{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

func (s *Server) handleInitialize() InitializeResult {
	caps := Capabilities{Tools: map[string]any{}}
	if s.resources != nil {
		caps.Resources = map[string]any{}
	}
	if s.prompts != nil {
		caps.Prompts = map[string]any{}
	}
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
		Capabilities:    caps,
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall validates, dedupe-checks, executes, and records a
// tools/call per spec.md §4.5.
func (s *Server) handleToolsCall(ctx context.Context, sess *session, params json.RawMessage) (any, *ErrorObject) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "invalid params", Data: err.Error()}
	}

	t, ok := s.registry.Get(p.Name)
	if !ok {
		return nil, &ErrorObject{Code: CodeToolNotFound, Message: fmt.Sprintf("tool not found: %s", p.Name)}
	}

	if err := s.validator.ValidateInput(t.InputSchema(), p.Arguments); err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "invalid params", Data: err.Error()}
	}

	actionKey, normalized, err := normalizeAction(p.Name, p.Arguments)
	if err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "invalid params", Data: err.Error()}
	}

	sess.mu.Lock()
	sess.lastActivity = s.clock.Now()
	sess.toolCallCount++
	turn := sess.toolCallCount
	if prevResult, dup := sess.duplicateCheck(actionKey); dup {
		sess.mu.Unlock()
		return map[string]any{
			"duplicate":  true,
			"result":     json.RawMessage(prevResult),
			"suggestion": fmt.Sprintf("this looks like a repeat of a recent %s call with the same input; returning the prior result instead of re-executing it", p.Name),
		}, nil
	}
	sess.mu.Unlock()

	callCtx := tool.WithCallContext(ctx, tool.CallContext{SessionID: sess.id, TurnNumber: turn})
	execResult := s.executor.Execute(callCtx, p.Name, p.Arguments)

	sess.mu.Lock()
	sess.record(action{timestamp: s.clock.Now(), actionKey: actionKey, inputNormalized: normalized, result: execResult.Output, turnNumber: turn})
	sess.mu.Unlock()

	if execResult.Error != nil {
		code := CodeInternalError
		if strings.Contains(execResult.Error.Error(), "timeout") {
			code = CodeTimeout
		}
		return nil, &ErrorObject{Code: code, Message: execResult.Error.Error()}
	}

	var resultValue any = execResult.Output
	if json.Valid([]byte(execResult.Output)) {
		resultValue = json.RawMessage(execResult.Output)
	}
	return map[string]any{"content": resultValue}, nil
}
