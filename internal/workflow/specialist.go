package workflow

import (
	"context"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// Specialist wraps a single subject-matter agent (Sisu, Prouni) as a
// workflow with no internal phases.
type Specialist struct {
	Base
	name  string
	agent *agents.Agent
	store ProfileStore
}

func NewSpecialist(name string, agent *agents.Agent, store ProfileStore) *Specialist {
	return &Specialist{name: name, agent: agent, store: store}
}

func (w *Specialist) Name() string { return w.name }

func (w *Specialist) AgentForUser(ctx context.Context, userID string, state *models.StudentState) (*agents.Agent, error) {
	agent := agents.Specialize(w.agent, "")
	return &agent, nil
}

// OnStepComplete returns nil unless the agent handed off by changing
// active_workflow through its tools, in which case the loop continues into
// the new workflow.
func (w *Specialist) OnStepComplete(ctx context.Context, userID string, state *models.StudentState, capturedText string) (*Updates, error) {
	return detectHandoff(ctx, w.store, userID, state)
}
