package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// ErrorLog appends structured failure rows to agent_errors. Append-only;
// nothing in this service reads the table back.
type ErrorLog struct {
	client *Client
	logger *zap.Logger
}

func NewErrorLog(client *Client, logger *zap.Logger) *ErrorLog {
	return &ErrorLog{client: client, logger: logger}
}

// Record writes one error row. Callers treat failure as non-fatal; the
// resilience layer swallows it after logging locally.
func (l *ErrorLog) Record(ctx context.Context, rec models.ErrorRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	var errCtx []byte
	if len(rec.Context) > 0 {
		errCtx, _ = json.Marshal(rec.Context)
	}
	_, err := l.client.DB().ExecContext(ctx,
		`INSERT INTO agent_errors (error_type, function_name, error_message, traceback, context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Category, rec.Operation, rec.Message, rec.Stack, errCtx, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}
