package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.EngineConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining event channel")
		}
	}
}

func TestRunDecodesSSEStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: text\n")
		fmt.Fprint(w, `data: {"type":"text","content":"Oi, "}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"text","content":"Maria!"}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"tool_start","tool":"searchOpportunities","args":{"course":"Direito"}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"tool_end","tool":"searchOpportunities","output":"15 resultados"}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := client.Run(context.Background(), Request{AgentName: "cloudinha_agent", Message: "oi"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 4)
	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, "Oi, ", events[0].Content)
	// Agent name is stamped when the engine omits it.
	assert.Equal(t, "cloudinha_agent", events[0].Agent)
	assert.Equal(t, EventToolStart, events[2].Type)
	assert.Equal(t, "searchOpportunities", events[2].Tool)
	assert.Equal(t, "Direito", events[2].Args["course"])
	assert.Equal(t, EventToolEnd, events[3].Type)
}

func TestRunSkipsMalformedEvents(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, `data: {"type":"text","content":"ok"}`+"\n\n")
	})

	ch, err := client.Run(context.Background(), Request{AgentName: "a"})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Content)
}

func TestRunStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.Run(context.Background(), Request{AgentName: "a"})
	require.Error(t, err)
	statusErr, ok := err.(*StatusError)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.True(t, statusErr.Transient())
}

func TestRunClientErrorNotTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad agent", http.StatusBadRequest)
	})

	_, err := client.Run(context.Background(), Request{AgentName: "a"})
	require.Error(t, err)
	statusErr, ok := err.(*StatusError)
	require.True(t, ok)
	assert.False(t, statusErr.Transient())
}

func TestRunCancelledContextStopsStream(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"type":"text","content":"primeiro"}`+"\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.Run(ctx, Request{AgentName: "a"})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, "primeiro", evt.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no first event")
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// A buffered error event may slip out before the close.
			<-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancellation")
	}
}
