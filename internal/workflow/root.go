package workflow

import (
	"context"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// Root is the fallback conversational workflow: the general assistant that
// answers when no other workflow claims the turn. It can start a workflow by
// setting active_workflow through its tools, which OnStepComplete reports as
// a handoff so the turn re-enters routing with the elected workflow.
type Root struct {
	Base
	store ProfileStore
}

func NewRoot(store ProfileStore) *Root {
	return &Root{store: store}
}

func (w *Root) Name() string { return "root" }

func (w *Root) AgentForUser(ctx context.Context, userID string, state *models.StudentState) (*agents.Agent, error) {
	agent := agents.Specialize(&agents.Root, "")
	return &agent, nil
}

func (w *Root) OnStepComplete(ctx context.Context, userID string, state *models.StudentState, capturedText string) (*Updates, error) {
	return detectHandoff(ctx, w.store, userID, state)
}
