package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Executor handles tool execution with error handling and timeouts
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
}

// NewExecutor creates a new tool executor
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry:       registry,
		defaultTimeout: 30 * time.Second, // Default 30 second timeout
	}
}

// SetDefaultTimeout sets the default execution timeout
func (e *Executor) SetDefaultTimeout(timeout time.Duration) {
	e.defaultTimeout = timeout
}

// ExecuteResult represents the result of a tool execution
type ExecuteResult struct {
	ToolName string
	Input    json.RawMessage
	Output   string
	Error    error
	Duration time.Duration
}

// Execute executes a single tool call
func (e *Executor) Execute(ctx context.Context, toolName string, input json.RawMessage) *ExecuteResult {
	start := time.Now()

	result := &ExecuteResult{
		ToolName: toolName,
		Input:    input,
	}

	// Create context with timeout
	execCtx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
	defer cancel()

	// Execute the tool
	output, err := e.registry.Execute(execCtx, toolName, input)
	result.Output = output
	result.Error = err
	result.Duration = time.Since(start)

	// Check for context errors
	if execCtx.Err() != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Errorf("tool execution timeout after %v", e.defaultTimeout)
		} else if execCtx.Err() == context.Canceled {
			result.Error = fmt.Errorf("tool execution canceled")
		}
	}

	return result
}
