// Package resilience wraps operations that cross a process boundary with
// retry-with-backoff and structured error capture.
package resilience

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
)

// Policy bounds a retried operation: at most MaxAttempts total attempts
// with exponential backoff between MinDelay and MaxDelay.
type Policy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the service defaults (3 attempts, 1s..10s).
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, MinDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MinDelay <= 0 {
		p.MinDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// transienter is implemented by errors that know whether they are worth
// retrying (e.g. engine status errors).
type transienter interface {
	Transient() bool
}

// IsTransient reports whether err looks like a transient infrastructure
// failure. Anything else is surfaced immediately without retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tr transienter
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Retry runs op with exponential backoff, retrying only transient
// failures. The final error is returned exactly once; non-transient
// errors short-circuit.
func Retry(ctx context.Context, logger *zap.Logger, operation string, p Policy, op func(context.Context) error) error {
	p = p.normalized()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.MinDelay
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		metrics.RetryAttempts.WithLabelValues(operation).Inc()
		if attempt < p.MaxAttempts {
			logger.Warn("Transient failure, will retry",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx))
}
