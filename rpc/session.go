package rpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
)

// actionRingSize is spec.md §3.4's "bounded ring buffer of recent actions
// (last 50)".
const actionRingSize = 50

// duplicateWindow is spec.md §4.5's D=3: how far back duplicate-action
// detection looks.
const duplicateWindow = 3

// sessionIdleTimeout is spec.md §3.4's 30-minute eviction threshold.
const sessionIdleTimeout = 30 * time.Minute

// action is one recorded tools/call, per spec.md §3.4/§4.5.
type action struct {
	timestamp       time.Time
	actionKey       string
	inputNormalized string
	result          string
	turnNumber      int
}

// session is the per-session ephemeral state of spec.md §3.4: start time,
// last activity, tool-call count, and a bounded ring of recent actions.
// Guarded by its own mutex so sessions don't contend with each other
// (spec.md §5's "one lock per session id").
type session struct {
	mu sync.Mutex

	id            string
	startedAt     time.Time
	lastActivity  time.Time
	toolCallCount int
	memoryIDs     map[string]struct{}
	actions       []action // ring buffer, oldest first, capped at actionRingSize
}

// SessionStore holds every live session and evicts idle ones. One instance
// is shared by a Server; sessions are created lazily on first use of a
// session id.
type SessionStore struct {
	clk clock.Clock

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionStore builds an empty SessionStore.
func NewSessionStore(clk clock.Clock) *SessionStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &SessionStore{clk: clk, sessions: make(map[string]*session)}
}

// getOrCreate returns the session for id, creating it (with startedAt and
// lastActivity set to now) if this is its first use. An existing session's
// lastActivity is left as it is; handleToolsCall stamps it.
func (s *SessionStore) getOrCreate(id string) *session {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: id, startedAt: now, lastActivity: now, memoryIDs: make(map[string]struct{})}
		s.sessions[id] = sess
	}
	return sess
}

// EvictIdle removes every session whose lastActivity predates sessionIdleTimeout,
// and calls onEvict for each one (so the caller can also drop its rate-limit
// bucket). Intended to run from a single janitor task, per spec.md §5.
func (s *SessionStore) EvictIdle(onEvict func(sessionID string)) {
	now := s.clk.Now()

	s.mu.Lock()
	var evicted []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity) >= sessionIdleTimeout
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		if onEvict != nil {
			onEvict(id)
		}
	}
}

// Count returns the number of live sessions, for diagnostics/tests.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// duplicateCheck looks for a prior action in the last duplicateWindow
// entries whose actionKey matches key, and if found returns its recorded
// result. Must be called with sess.mu held.
func (sess *session) duplicateCheck(key string) (prevResult string, found bool) {
	n := len(sess.actions)
	start := n - duplicateWindow
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		if sess.actions[i].actionKey == key {
			return sess.actions[i].result, true
		}
	}
	return "", false
}

// record appends an action to the ring buffer, dropping the oldest entry
// once full. Must be called with sess.mu held.
func (sess *session) record(a action) {
	sess.actions = append(sess.actions, a)
	if len(sess.actions) > actionRingSize {
		sess.actions = sess.actions[len(sess.actions)-actionRingSize:]
	}
}

// normalizeAction computes spec.md §4.5's normalized action key: lowercased
// tool name plus canonical-JSON of the input, with whitespace collapsed and
// strings compared case-insensitively. Returns the key plus the normalized
// input text (stored alongside the action for inspection/debugging).
func normalizeAction(toolName string, input json.RawMessage) (key, normalized string, err error) {
	var v any
	if len(input) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(input, &v); err != nil {
		return "", "", fmt.Errorf("normalize action: %w", err)
	}

	lowered := lowercaseStrings(v)
	canon, err := marshalCanonicalSorted(lowered)
	if err != nil {
		return "", "", fmt.Errorf("normalize action: %w", err)
	}
	normalized = collapseWhitespace(string(canon))
	key = strings.ToLower(toolName) + "|" + normalized
	return key, normalized, nil
}

// lowercaseStrings recursively lowercases every string leaf, so
// case-insensitive comparisons fall naturally out of canonical-JSON
// equality afterward.
func lowercaseStrings(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ToLower(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = lowercaseStrings(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = lowercaseStrings(item)
		}
		return out
	default:
		return val
	}
}

// marshalCanonicalSorted re-encodes v with object keys sorted recursively,
// mirroring storage/sqlite's canonicalJSON but kept local here: this
// package normalizes already-decoded Go values (post-lowercasing), not raw
// JSON bytes, so it isn't a fit for storage/sqlite's unexported helper.
func marshalCanonicalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kEnc, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kEnc...)
			buf = append(buf, ':')
			vEnc, err := marshalCanonicalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vEnc...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			iEnc, err := marshalCanonicalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, iEnc...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(val)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
