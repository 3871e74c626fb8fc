// Package engine defines the boundary with the generative response engine:
// an external service that executes an agent definition against a
// conversation and emits a stream of text and tool events. The orchestrator
// depends only on the event shape here, never on the engine's internals.
package engine

import (
	"context"
	"time"
)

// Event types carried on a turn's stream.
const (
	EventText      = "text"
	EventToolStart = "tool_start"
	EventToolEnd   = "tool_end"
	EventControl   = "control"
	EventError     = "error"
)

// Control signals carried by EventControl events.
const (
	ControlBlockInput = "block_input"
)

// Event is one streamed fragment: a piece of text, a tool invocation
// boundary, a control signal for the client, or an error notice.
type Event struct {
	Type      string                 `json:"type"`
	Agent     string                 `json:"agent,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Output    string                 `json:"output,omitempty"`
	Control   string                 `json:"control,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Text builds a text event.
func Text(agent, content string) Event {
	return Event{Type: EventText, Agent: agent, Content: content, Timestamp: time.Now()}
}

// ControlEvent builds a control event.
func ControlEvent(agent, signal string) Event {
	return Event{Type: EventControl, Agent: agent, Control: signal, Timestamp: time.Now()}
}

// ToolStart builds a tool boundary start event.
func ToolStart(tool string, args map[string]interface{}) Event {
	return Event{Type: EventToolStart, Tool: tool, Args: args, Timestamp: time.Now()}
}

// ToolEnd builds a tool boundary end event.
func ToolEnd(tool, output string) Event {
	return Event{Type: EventToolEnd, Tool: tool, Output: output, Timestamp: time.Now()}
}

// Message is one prior conversation turn half handed to the engine.
type Message struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// Request describes one agent execution. UserID is threaded explicitly so
// engine-side tools receive it as a parameter rather than closing over
// request state.
type Request struct {
	AgentName   string    `json:"agent_name"`
	Model       string    `json:"model"`
	Instruction string    `json:"instruction"`
	Tools       []string  `json:"tools,omitempty"`
	History     []Message `json:"history,omitempty"`
	Message     string    `json:"message"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
}

// Engine executes one agent invocation and streams its events. The
// returned channel is closed when the invocation finishes; a failure to
// even start the stream is returned as an error instead.
type Engine interface {
	Run(ctx context.Context, req Request) (<-chan Event, error)
}
