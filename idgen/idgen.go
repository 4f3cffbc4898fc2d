// Package idgen provides the injected unique-id port (C7).
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers, used for memory keys callers
// don't supply their own for, session ids, and queue correlation ids.
type Generator interface {
	New() string
}

// UUID is the default Generator, backed by github.com/google/uuid's v4
// random generation (matches the teacher's own id source, used there for
// run and session ids).
type UUID struct{}

func (UUID) New() string {
	return uuid.New().String()
}
