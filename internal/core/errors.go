package core

import (
	"errors"
	"fmt"
)

// ErrCacheMiss marks an absent or expired cache key. It is the only cache
// error the turn-context store treats as normal.
var ErrCacheMiss = errors.New("context cache: miss")

// ConfigError is fatal for the turn: missing credentials or an unmapped
// region. It is the only error class surfaced as an error-status envelope.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// CacheError wraps a failed cache operation. Recovered locally by falling
// back to durable reconstruction.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed durable-store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ModelCallError aborts the iteration loop; the user still gets a fallback
// reply, not an error envelope.
type ModelCallError struct {
	Iteration int
	Err       error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call (iteration %d): %v", e.Iteration, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// ToolError is recovered locally: the message text is fed back to the model
// as tool-result content and the loop continues.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
