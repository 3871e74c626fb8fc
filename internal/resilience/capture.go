package resilience

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// ErrorLog receives structured failure records. Satisfied by db.ErrorLog.
type ErrorLog interface {
	Record(ctx context.Context, rec models.ErrorRecord) error
}

// Capturer writes an ErrorRecord for any failure escaping a wrapped
// operation. Writing the log is best-effort: a failure to persist the
// record is logged locally and never propagated.
type Capturer struct {
	log    ErrorLog
	logger *zap.Logger
}

func NewCapturer(log ErrorLog, logger *zap.Logger) *Capturer {
	return &Capturer{log: log, logger: logger}
}

// Capture records one failure with optional contextual metadata.
func (c *Capturer) Capture(ctx context.Context, category, operation string, err error, errCtx map[string]interface{}) {
	c.record(ctx, category, operation, err, string(debug.Stack()), errCtx)
}

// Run executes op; on error the failure is recorded and re-raised.
func (c *Capturer) Run(ctx context.Context, category, operation string, op func(context.Context) error) error {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		return op(ctx)
	}()
	if err != nil {
		c.record(ctx, category, operation, err, string(debug.Stack()), nil)
	}
	return err
}

// RunWithDefault executes op; on error the failure is recorded and the
// caller-supplied default is returned instead of the error.
func RunWithDefault[T any](c *Capturer, ctx context.Context, category, operation string, def T, op func(context.Context) (T, error)) T {
	var out T
	err := c.Run(ctx, category, operation, func(ctx context.Context) error {
		var inner error
		out, inner = op(ctx)
		return inner
	})
	if err != nil {
		return def
	}
	return out
}

// CapturePanic recovers a panic inside a streaming goroutine, records it,
// and returns so the caller's deferred close still runs and the stream
// terminates cleanly. Use in a defer.
func (c *Capturer) CapturePanic(ctx context.Context, category, operation string) {
	if r := recover(); r != nil {
		c.record(ctx, category, operation, fmt.Errorf("panic: %v", r), string(debug.Stack()), nil)
	}
}

func (c *Capturer) record(ctx context.Context, category, operation string, err error, stack string, errCtx map[string]interface{}) {
	c.logger.Error("Captured operation failure",
		zap.String("category", category),
		zap.String("operation", operation),
		zap.Error(err),
	)
	metrics.ErrorsCaptured.WithLabelValues(category).Inc()
	if c.log == nil {
		return
	}

	// Write with a detached deadline so a cancelled turn can still log.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	rec := models.ErrorRecord{
		Category:  category,
		Operation: operation,
		Message:   err.Error(),
		Stack:     stack,
		Timestamp: time.Now().UTC(),
		Context:   errCtx,
	}
	if logErr := c.log.Record(logCtx, rec); logErr != nil {
		c.logger.Error("Failed to persist error record", zap.Error(logErr))
	}
}
