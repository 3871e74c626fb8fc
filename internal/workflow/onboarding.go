package workflow

import (
	"context"
	"strings"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// Onboarding collects the four profile fields (name, age, city, education)
// before any other workflow may run. The collection agent is specialized
// per step with the fields still missing so it never re-asks what the
// profile already has.
type Onboarding struct {
	Base
	store ProfileStore
}

func NewOnboarding(store ProfileStore) *Onboarding {
	return &Onboarding{store: store}
}

func (w *Onboarding) Name() string { return models.WorkflowOnboarding }

func (w *Onboarding) AgentForUser(ctx context.Context, userID string, state *models.StudentState) (*agents.Agent, error) {
	if state.Profile.OnboardingCompleted {
		// Nothing left to do; the registry should no longer route here.
		return nil, nil
	}
	// The agent still runs when every field is present but the flag is not
	// yet set: completion is reconciled after the step, and the closing
	// step greets the student with the collected data.
	agent := agents.Specialize(&agents.Onboarding, missingFieldsContext(state.Profile))
	return &agent, nil
}

// OnStepComplete re-reads the profile (the agent saves fields through
// engine-side tools) and, on the step that completes the set, flips
// onboarding_completed and clears active_workflow in one update.
func (w *Onboarding) OnStepComplete(ctx context.Context, userID string, state *models.StudentState, capturedText string) (*Updates, error) {
	fresh, err := w.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !fresh.OnboardingFieldsComplete() {
		// Still collecting; wait for the next user message.
		return nil, nil
	}
	return &Updates{
		Profile: map[string]interface{}{
			"onboarding_completed": true,
			"active_workflow":      nil,
		},
		TurnComplete: true,
	}, nil
}

func missingFieldsContext(p *models.UserProfile) string {
	var missing []string
	if p.FullName == nil || *p.FullName == "" {
		missing = append(missing, "nome completo")
	}
	if p.Age == nil {
		missing = append(missing, "idade")
	}
	if p.CityName == nil || *p.CityName == "" {
		missing = append(missing, "cidade")
	}
	if p.Education == nil || *p.Education == "" {
		missing = append(missing, "escolaridade")
	}
	if len(missing) == 0 {
		return ""
	}
	return "CAMPOS AINDA FALTANDO: " + strings.Join(missing, ", ")
}
