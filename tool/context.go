package tool

import "context"

// Context keys for call-scoped information passed to tools during dispatch.
type contextKey string

const (
	sessionIDKey contextKey = "claude_recall_session_id"
	turnKey      contextKey = "claude_recall_turn_number"
	variablesKey contextKey = "claude_recall_variables"
)

// CallContext contains per-request information available to a tool during
// Execute: which session and turn this tools/call belongs to, plus any
// ambient variables the dispatcher wants to make available (e.g. the
// project_id inferred from the host's working directory).
type CallContext struct {
	// SessionID identifies the session this call belongs to.
	SessionID string

	// TurnNumber is the 1-based ordinal of this tools/call within the session.
	TurnNumber int

	// Variables carries dispatcher-level context, such as project_id.
	Variables map[string]any
}

// WithCallContext attaches call context to ctx. Called by the rpc dispatcher
// before invoking a tool's Execute.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, cc.SessionID)
	ctx = context.WithValue(ctx, turnKey, cc.TurnNumber)
	ctx = context.WithValue(ctx, variablesKey, cc.Variables)
	return ctx
}

// GetCallContext extracts the full call context. Returns false if ctx was
// never enriched by WithCallContext (e.g. in a unit test calling a tool
// directly).
func GetCallContext(ctx context.Context) (CallContext, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	if !ok {
		return CallContext{}, false
	}
	turn, _ := ctx.Value(turnKey).(int)
	vars, _ := ctx.Value(variablesKey).(map[string]any)
	return CallContext{SessionID: sessionID, TurnNumber: turn, Variables: vars}, true
}

// GetSessionID extracts the session id from the context.
func GetSessionID(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok
}

// GetVariable extracts a single variable from the context by key.
// Returns the zero value and false if the variable is absent or of the
// wrong type.
func GetVariable[T any](ctx context.Context, key string) (T, bool) {
	vars, _ := ctx.Value(variablesKey).(map[string]any)
	if vars == nil {
		var zero T
		return zero, false
	}
	val, ok := vars[key]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := val.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typed, true
}

// GetVariableOr extracts a variable from the context or returns defaultValue.
func GetVariableOr[T any](ctx context.Context, key string, defaultValue T) T {
	val, ok := GetVariable[T](ctx, key)
	if !ok {
		return defaultValue
	}
	return val
}
