package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/config"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
)

// HTTPClient talks to the generative engine sidecar over HTTP. The sidecar
// exposes POST /agent/stream returning Server-Sent Events, one JSON event
// per data line.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(cfg config.EngineConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Run starts one agent invocation. Events are decoded off the SSE stream
// and forwarded on the returned channel, which is closed when the stream
// ends, errors, or ctx is cancelled. Mid-stream failures surface as a
// final error event rather than an error return, so callers that already
// forwarded events can still close their own stream cleanly.
func (c *HTTPClient) Run(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.EngineCalls.WithLabelValues(req.AgentName, "error").Inc()
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		metrics.EngineCalls.WithLabelValues(req.AgentName, "error").Inc()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer func() {
			metrics.EngineCallDuration.Observe(time.Since(start).Seconds())
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				// event:/id:/comment lines carry no payload we need; the
				// type travels inside the JSON body.
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(payload), &evt); err != nil {
				c.logger.Warn("Dropping undecodable engine event",
					zap.String("agent", req.AgentName), zap.Error(err))
				continue
			}
			if evt.Agent == "" {
				evt.Agent = req.AgentName
			}
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now()
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				metrics.EngineCalls.WithLabelValues(req.AgentName, "cancelled").Inc()
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("Engine stream ended abnormally",
				zap.String("agent", req.AgentName), zap.Error(err))
			metrics.EngineCalls.WithLabelValues(req.AgentName, "error").Inc()
			select {
			case out <- Event{Type: EventError, Agent: req.AgentName, Content: "engine stream interrupted", Timestamp: time.Now()}:
			case <-ctx.Done():
			}
			return
		}
		metrics.EngineCalls.WithLabelValues(req.AgentName, "ok").Inc()
	}()
	return out, nil
}

// StatusError reports a non-2xx engine response. 5xx codes are considered
// transient by the resilience layer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.Code, e.Body)
}

// Transient reports whether the failure is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}
