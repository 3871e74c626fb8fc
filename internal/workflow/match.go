package workflow

import (
	"context"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// Workflow-private flags kept in preferences.workflow_data.
const (
	flagPhase           = "_phase"
	flagReasoningOutput = "_reasoning_output"

	phaseResponse = "response"
)

// Match is the search workflow. One user turn drives a two-phase internal
// pipeline: a reasoning agent that only calls tools, then a response agent
// that turns the reasoning output into prose. A wizard gate runs first
// when the profile lacks the fields the search needs.
type Match struct {
	Base
}

func NewMatch() *Match { return &Match{} }

func (w *Match) Name() string { return models.WorkflowMatch }

// gated reports whether the precondition wizard must run instead of the
// search pipeline.
func (w *Match) gated(state *models.StudentState) bool {
	prefs := state.Preferences
	return prefs == nil || prefs.EnemScore == nil || prefs.PerCapitaIncome == nil
}

func (w *Match) AgentForUser(ctx context.Context, userID string, state *models.StudentState) (*agents.Agent, error) {
	if w.gated(state) {
		agent := agents.Specialize(&agents.MatchWizard, "")
		return &agent, nil
	}
	if phase, _ := state.Preferences.WorkflowFlag(flagPhase).(string); phase == phaseResponse {
		reasoning, _ := state.Preferences.WorkflowFlag(flagReasoningOutput).(string)
		agent := agents.Specialize(&agents.MatchResponse, "RESUMO TÉCNICO DA BUSCA:\n"+reasoning)
		return &agent, nil
	}
	agent := agents.Specialize(&agents.MatchReasoning, "")
	return &agent, nil
}

// OnStart tells the caller to block free-text input while the wizard
// collects the missing fields.
func (w *Match) OnStart(agent *agents.Agent) []engine.Event {
	if agent != nil && agent.Name == agents.MatchWizard.Name {
		return []engine.Event{engine.ControlEvent(agent.Name, engine.ControlBlockInput)}
	}
	return nil
}

// FilterEvent suppresses the reasoning agent's text: its output is internal
// working notes, not something the student should read. Tool events always
// pass through.
func (w *Match) FilterEvent(evt engine.Event, agentName string) *engine.Event {
	if agentName == agents.MatchReasoning.Name && evt.Type == engine.EventText {
		return nil
	}
	return &evt
}

func (w *Match) OnStepComplete(ctx context.Context, userID string, state *models.StudentState, capturedText string) (*Updates, error) {
	if w.gated(state) {
		// Wizard step: it asked for a field, now we wait for the answer.
		return nil, nil
	}
	phase, _ := state.Preferences.WorkflowFlag(flagPhase).(string)
	if phase != phaseResponse {
		// Reasoning phase done: hand its captured notes to the response
		// phase and re-enter immediately.
		return &Updates{
			Preferences: map[string]interface{}{
				"workflow_data": map[string]interface{}{
					flagPhase:           phaseResponse,
					flagReasoningOutput: capturedText,
				},
			},
		}, nil
	}
	// Response phase done. The turn is over but the workflow stays active
	// so the student can keep refining next turn.
	return &Updates{
		Preferences: map[string]interface{}{
			"workflow_data": map[string]interface{}{
				flagPhase:           nil,
				flagReasoningOutput: nil,
			},
		},
		TurnComplete: true,
	}, nil
}
