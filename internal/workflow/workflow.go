// Package workflow implements the named conversational workflows and the
// registry that selects one per turn. Each workflow owns the logic for one
// conversational mode; the orchestrator drives them through a uniform
// capability set and interprets the updates they return.
package workflow

import (
	"context"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// ProfileStore is the slice of the profile store workflows need: live
// reads to evaluate completion predicates after a step, since agent tool
// calls mutate the store engine-side, not the in-memory snapshot.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetPreferences(ctx context.Context, userID string) (*models.UserPreferences, error)
	UpdateProfile(ctx context.Context, userID string, updates map[string]interface{}) error
	UpdatePreferences(ctx context.Context, userID string, updates map[string]interface{}) error
}

// Updates is a workflow's explicit step-completion signal: profile and
// preference field updates to apply, plus whether the turn is done. A nil
// *Updates from OnStepComplete means "nothing changed, wait for the user".
type Updates struct {
	Profile      map[string]interface{}
	Preferences  map[string]interface{}
	TurnComplete bool
}

// ClearsActiveWorkflow reports whether the updates explicitly set
// active_workflow to null.
func (u *Updates) ClearsActiveWorkflow() bool {
	if u == nil {
		return false
	}
	v, ok := u.Profile["active_workflow"]
	return ok && v == nil
}

// SwitchesWorkflowFrom reports whether the updates change active_workflow
// to a different, non-null workflow and returns the target name.
func (u *Updates) SwitchesWorkflowFrom(current string) (string, bool) {
	if u == nil {
		return "", false
	}
	v, ok := u.Profile["active_workflow"]
	if !ok || v == nil {
		return "", false
	}
	name, ok := v.(string)
	if !ok || name == "" || name == current {
		return "", false
	}
	return name, true
}

// Workflow is one named conversational mode.
type Workflow interface {
	Name() string

	// AgentForUser returns the agent to run given the current snapshot, or
	// nil when the workflow has nothing to do this turn.
	AgentForUser(ctx context.Context, userID string, state *models.StudentState) (*agents.Agent, error)

	// FilterEvent lets the workflow suppress or rewrite an event produced
	// by its agent before it reaches the caller. Returning nil drops the
	// event. Non-text events must never be dropped.
	FilterEvent(evt engine.Event, agentName string) *engine.Event

	// OnStart yields control events to emit before the agent runs.
	OnStart(agent *agents.Agent) []engine.Event

	// OnStepComplete reconciles the step: it receives the pre-step snapshot
	// and the step's captured text and returns the explicit updates that
	// follow, or nil when the workflow is waiting on the next user message.
	OnStepComplete(ctx context.Context, userID string, state *models.StudentState, capturedText string) (*Updates, error)
}

// Base provides the no-op defaults shared by workflows that only need a
// subset of the capability hooks.
type Base struct{}

func (Base) FilterEvent(evt engine.Event, agentName string) *engine.Event { return &evt }

func (Base) OnStart(*agents.Agent) []engine.Event { return nil }

func (Base) OnStepComplete(context.Context, string, *models.StudentState, string) (*Updates, error) {
	return nil, nil
}

// detectHandoff re-reads the profile and reports an active_workflow value
// the agent changed engine-side during the step (e.g. the root agent
// electing a workflow, or a specialist handing off).
func detectHandoff(ctx context.Context, store ProfileStore, userID string, preStep *models.StudentState) (*Updates, error) {
	fresh, err := store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := preStep.Profile.ActiveWorkflowName()
	after := fresh.ActiveWorkflowName()
	if after == before || after == "" {
		return nil, nil
	}
	return &Updates{Profile: map[string]interface{}{"active_workflow": after}}, nil
}
