package reqctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type key int

const taskKey key = 0

// TaskContext identifies one scrape attempt for logging
type TaskContext struct {
	TaskID     string
	Identifier string
	Attempt    int
	StartTime  time.Time
	Logger     zerolog.Logger
}

// WithTask attaches a fresh TaskContext for identifier to ctx
func WithTask(ctx context.Context, identifier string, attempt int) context.Context {
	id := uuid.NewString()
	tc := &TaskContext{
		TaskID:     id,
		Identifier: identifier,
		Attempt:    attempt,
		StartTime:  time.Now(),
		Logger: log.With().
			Str("task_id", id).
			Str("identifier", identifier).
			Int("attempt", attempt).
			Logger(),
	}
	return context.WithValue(ctx, taskKey, tc)
}

// GetTaskContext returns the TaskContext on ctx, or one with "unknown" ids
func GetTaskContext(ctx context.Context) *TaskContext {
	if tc, ok := ctx.Value(taskKey).(*TaskContext); ok {
		return tc
	}
	return &TaskContext{
		TaskID:    "unknown",
		StartTime: time.Now(),
		Logger:    log.Logger,
	}
}

// Logger returns the task logger on ctx, falling back to the global logger
func Logger(ctx context.Context) *zerolog.Logger {
	if tc, ok := ctx.Value(taskKey).(*TaskContext); ok {
		return &tc.Logger
	}
	return &log.Logger
}

// TaskError wraps an error with the task that produced it
type TaskError struct {
	TaskID     string
	Identifier string
	Err        error
}

// Error implements the error interface
func (e *TaskError) Error() string {
	return fmt.Sprintf("[%s %s] %v", e.Identifier, e.TaskID, e.Err)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError creates a TaskError from the task on ctx
func NewTaskError(ctx context.Context, err error) error {
	tc := GetTaskContext(ctx)
	return &TaskError{
		TaskID:     tc.TaskID,
		Identifier: tc.Identifier,
		Err:        err,
	}
}
