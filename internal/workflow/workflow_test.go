package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// stubStore serves canned profile/preference reads and records updates.
type stubStore struct {
	profile     *models.UserProfile
	preferences *models.UserPreferences
	profileErr  error

	profileUpdates    []map[string]interface{}
	preferenceUpdates []map[string]interface{}
}

func (s *stubStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

func (s *stubStore) GetPreferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	if s.preferences != nil {
		return s.preferences, nil
	}
	return &models.UserPreferences{UserID: userID}, nil
}

func (s *stubStore) UpdateProfile(ctx context.Context, userID string, updates map[string]interface{}) error {
	s.profileUpdates = append(s.profileUpdates, updates)
	return nil
}

func (s *stubStore) UpdatePreferences(ctx context.Context, userID string, updates map[string]interface{}) error {
	s.preferenceUpdates = append(s.preferenceUpdates, updates)
	return nil
}

func strPtr(s string) *string   { return &s }
func intPtr(i int) *int         { return &i }
func f64Ptr(f float64) *float64 { return &f }

func completeProfile(userID string) *models.UserProfile {
	return &models.UserProfile{
		UserID:              userID,
		FullName:            strPtr("Maria Silva"),
		Age:                 intPtr(18),
		CityName:            strPtr("Recife"),
		Education:           strPtr("ensino médio completo"),
		OnboardingCompleted: true,
	}
}

func stateWith(profile *models.UserProfile) *models.StudentState {
	return &models.StudentState{
		Profile:     profile,
		Preferences: &models.UserPreferences{UserID: profile.UserID},
	}
}

func TestRegistryRoutesOnboardingFirst(t *testing.T) {
	store := &stubStore{}
	r := NewRegistry(store, zap.NewNop())

	// Even with an active workflow set, an unonboarded user goes to
	// onboarding.
	profile := &models.UserProfile{
		UserID:         "u1",
		ActiveWorkflow: strPtr(models.WorkflowMatch),
	}
	w := r.Resolve(stateWith(profile))
	assert.Equal(t, models.WorkflowOnboarding, w.Name())
}

func TestRegistryRoutesByActiveWorkflow(t *testing.T) {
	store := &stubStore{}
	r := NewRegistry(store, zap.NewNop())

	for _, name := range []string{
		models.WorkflowMatch,
		models.WorkflowSisu,
		models.WorkflowProuni,
	} {
		profile := completeProfile("u1")
		profile.ActiveWorkflow = strPtr(name)
		w := r.Resolve(stateWith(profile))
		assert.Equal(t, name, w.Name())
	}
}

func TestRegistryFallsBackToRoot(t *testing.T) {
	store := &stubStore{}
	r := NewRegistry(store, zap.NewNop())

	// No active workflow.
	w := r.Resolve(stateWith(completeProfile("u1")))
	assert.Equal(t, "root", w.Name())

	// Unknown persisted name does not fail the turn.
	profile := completeProfile("u1")
	profile.ActiveWorkflow = strPtr("deleted_workflow")
	w = r.Resolve(stateWith(profile))
	assert.Equal(t, "root", w.Name())
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(&stubStore{}, zap.NewNop())

	assert.True(t, r.IsRegistered(models.WorkflowSisu))
	assert.False(t, r.IsRegistered("root"))

	w, ok := r.Lookup(models.WorkflowMatch)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowMatch, w.Name())
}

func TestOnboardingAgentListsMissingFields(t *testing.T) {
	w := NewOnboarding(&stubStore{})
	profile := &models.UserProfile{
		UserID:   "u1",
		FullName: strPtr("Maria Silva"),
		Age:      intPtr(18),
	}

	agent, err := w.AgentForUser(context.Background(), "u1", stateWith(profile))
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, agents.Onboarding.Name, agent.Name)
	assert.Contains(t, agent.Instruction, "cidade")
	assert.Contains(t, agent.Instruction, "escolaridade")
	assert.NotContains(t, agent.Instruction, "idade")
}

func TestOnboardingRunsWhenFieldsCompleteButFlagUnset(t *testing.T) {
	// Self-healing: fields present, flag false. The agent still runs once
	// so the closing step can greet the student; completion is reconciled
	// afterwards.
	w := NewOnboarding(&stubStore{})
	profile := completeProfile("u1")
	profile.OnboardingCompleted = false

	agent, err := w.AgentForUser(context.Background(), "u1", stateWith(profile))
	require.NoError(t, err)
	assert.NotNil(t, agent)
}

func TestOnboardingCompletionSignal(t *testing.T) {
	store := &stubStore{profile: completeProfile("u1")}
	w := NewOnboarding(store)
	pre := completeProfile("u1")
	pre.OnboardingCompleted = false

	updates, err := w.OnStepComplete(context.Background(), "u1", stateWith(pre), "")
	require.NoError(t, err)
	require.NotNil(t, updates)
	assert.True(t, updates.TurnComplete)
	assert.Equal(t, true, updates.Profile["onboarding_completed"])
	assert.True(t, updates.ClearsActiveWorkflow())
}

func TestOnboardingWaitsWhileFieldsMissing(t *testing.T) {
	store := &stubStore{profile: &models.UserProfile{UserID: "u1", FullName: strPtr("Maria")}}
	w := NewOnboarding(store)

	updates, err := w.OnStepComplete(context.Background(), "u1", stateWith(store.profile), "")
	require.NoError(t, err)
	assert.Nil(t, updates)
}

func TestMatchWizardGate(t *testing.T) {
	w := NewMatch()
	state := stateWith(completeProfile("u1"))

	agent, err := w.AgentForUser(context.Background(), "u1", state)
	require.NoError(t, err)
	assert.Equal(t, agents.MatchWizard.Name, agent.Name)

	start := w.OnStart(agent)
	require.Len(t, start, 1)
	assert.Equal(t, engine.EventControl, start[0].Type)
	assert.Equal(t, engine.ControlBlockInput, start[0].Control)

	// Wizard steps never complete the turn by themselves.
	updates, err := w.OnStepComplete(context.Background(), "u1", state, "")
	require.NoError(t, err)
	assert.Nil(t, updates)
}

func TestMatchReasoningPhase(t *testing.T) {
	w := NewMatch()
	state := stateWith(completeProfile("u1"))
	state.Preferences.EnemScore = f64Ptr(720)
	state.Preferences.PerCapitaIncome = f64Ptr(1200)

	agent, err := w.AgentForUser(context.Background(), "u1", state)
	require.NoError(t, err)
	assert.Equal(t, agents.MatchReasoning.Name, agent.Name)
	assert.Nil(t, w.OnStart(agent))

	updates, err := w.OnStepComplete(context.Background(), "u1", state, "3 bolsas encontradas em Recife")
	require.NoError(t, err)
	require.NotNil(t, updates)
	assert.False(t, updates.TurnComplete)

	data, ok := updates.Preferences["workflow_data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "response", data["_phase"])
	assert.Equal(t, "3 bolsas encontradas em Recife", data["_reasoning_output"])
}

func TestMatchResponsePhase(t *testing.T) {
	w := NewMatch()
	state := stateWith(completeProfile("u1"))
	state.Preferences.EnemScore = f64Ptr(720)
	state.Preferences.PerCapitaIncome = f64Ptr(1200)
	state.Preferences.WorkflowData = map[string]interface{}{
		"_phase":            "response",
		"_reasoning_output": "3 bolsas encontradas",
	}

	agent, err := w.AgentForUser(context.Background(), "u1", state)
	require.NoError(t, err)
	assert.Equal(t, agents.MatchResponse.Name, agent.Name)
	assert.Contains(t, agent.Instruction, "3 bolsas encontradas")

	updates, err := w.OnStepComplete(context.Background(), "u1", state, "Encontrei 3 bolsas pra você!")
	require.NoError(t, err)
	require.NotNil(t, updates)
	assert.True(t, updates.TurnComplete)

	data, ok := updates.Preferences["workflow_data"].(map[string]interface{})
	require.True(t, ok)
	assert.Nil(t, data["_phase"])
	assert.Nil(t, data["_reasoning_output"])
	// The workflow stays active for follow-up refinement.
	assert.False(t, updates.ClearsActiveWorkflow())
}

func TestMatchFilterSuppressesReasoningText(t *testing.T) {
	w := NewMatch()

	text := engine.Text(agents.MatchReasoning.Name, "pensando...")
	assert.Nil(t, w.FilterEvent(text, agents.MatchReasoning.Name))

	// Tool events from the reasoning agent pass through.
	tool := engine.ToolStart(agents.ToolSearchOpportunities, nil)
	assert.NotNil(t, w.FilterEvent(tool, agents.MatchReasoning.Name))

	// Response agent text passes through.
	prose := engine.Text(agents.MatchResponse.Name, "Encontrei 3 bolsas!")
	assert.NotNil(t, w.FilterEvent(prose, agents.MatchResponse.Name))
}

func TestSpecialistDetectsHandoff(t *testing.T) {
	fresh := completeProfile("u1")
	fresh.ActiveWorkflow = strPtr(models.WorkflowMatch)
	store := &stubStore{profile: fresh}

	w := NewSpecialist(models.WorkflowSisu, &agents.Sisu, store)
	pre := completeProfile("u1")
	pre.ActiveWorkflow = strPtr(models.WorkflowSisu)

	updates, err := w.OnStepComplete(context.Background(), "u1", stateWith(pre), "")
	require.NoError(t, err)
	require.NotNil(t, updates)
	target, ok := updates.SwitchesWorkflowFrom(models.WorkflowSisu)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowMatch, target)
}

func TestSpecialistWaitsWithoutHandoff(t *testing.T) {
	fresh := completeProfile("u1")
	fresh.ActiveWorkflow = strPtr(models.WorkflowSisu)
	store := &stubStore{profile: fresh}

	w := NewSpecialist(models.WorkflowSisu, &agents.Sisu, store)
	pre := completeProfile("u1")
	pre.ActiveWorkflow = strPtr(models.WorkflowSisu)

	updates, err := w.OnStepComplete(context.Background(), "u1", stateWith(pre), "")
	require.NoError(t, err)
	assert.Nil(t, updates)
}

func TestRootDetectsWorkflowElection(t *testing.T) {
	fresh := completeProfile("u1")
	fresh.ActiveWorkflow = strPtr(models.WorkflowProuni)
	store := &stubStore{profile: fresh}

	w := NewRoot(store)
	updates, err := w.OnStepComplete(context.Background(), "u1", stateWith(completeProfile("u1")), "")
	require.NoError(t, err)
	require.NotNil(t, updates)
	target, ok := updates.SwitchesWorkflowFrom("")
	require.True(t, ok)
	assert.Equal(t, models.WorkflowProuni, target)
}

func TestUpdatesHelpers(t *testing.T) {
	var nilUpdates *Updates
	assert.False(t, nilUpdates.ClearsActiveWorkflow())
	_, ok := nilUpdates.SwitchesWorkflowFrom("x")
	assert.False(t, ok)

	same := &Updates{Profile: map[string]interface{}{"active_workflow": models.WorkflowSisu}}
	_, ok = same.SwitchesWorkflowFrom(models.WorkflowSisu)
	assert.False(t, ok)
}
