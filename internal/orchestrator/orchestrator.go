// Package orchestrator drives one conversational turn end to end: auth
// check, moderation, routing, the bounded step loop over the active
// workflow, and end-of-turn history persistence. Everything the caller
// sees comes back on a single event channel that is always closed cleanly,
// whatever failed along the way.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/resilience"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/router"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/workflow"
)

// User ids the gateway sends for unauthenticated visitors.
const anonymousSentinel = "anon-user"

// User-facing fallback texts, in the assistant's voice.
const (
	authRequiredMessage = "Desculpe, não posso falar com você se não estiver logado. Entre na sua conta para a gente continuar!"
	connectionMessage   = "Estou com problemas de conexão agora. Pode tentar de novo em alguns instantes?"

	// Injected when the loop re-enters with a new agent mid-turn so it
	// advances instead of re-asking what the user already answered.
	proceedMessage = "prossiga"

	// Verdict token the guardrails agent emits for acceptable messages.
	guardrailsSafeVerdict = "SAFE"
)

// Turn completion statuses reported to metrics.
const (
	statusOK       = "ok"
	statusAuth     = "auth_rejected"
	statusBlocked  = "guardrails_blocked"
	statusError    = "error"
	statusMaxSteps = "max_steps"
)

// HistoryStore is the slice of the history adapter the orchestrator uses.
type HistoryStore interface {
	Load(ctx context.Context, userID string) ([]models.ChatMessage, error)
	InsertExplicit(ctx context.Context, userID string, msgs []models.ChatMessage) error
}

// Classifier decides the turn's workflow redirection. Satisfied by
// router.Router.
type Classifier interface {
	Classify(ctx context.Context, userID, sessionID, message string, state *models.StudentState) models.WorkflowDecision
}

// Options tune the turn loop.
type Options struct {
	MaxSteps          int
	GuardrailsEnabled bool
	Retry             resilience.Policy
}

// Orchestrator is the long-lived turn driver. Safe for concurrent use:
// per-turn state lives entirely on the RunTurn goroutine.
type Orchestrator struct {
	profiles workflow.ProfileStore
	history  HistoryStore
	registry *workflow.Registry
	router   Classifier
	engine   engine.Engine
	capturer *resilience.Capturer
	opts     Options
	logger   *zap.Logger
}

func New(
	profiles workflow.ProfileStore,
	history HistoryStore,
	registry *workflow.Registry,
	classifier Classifier,
	eng engine.Engine,
	capturer *resilience.Capturer,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultPolicy()
	}
	return &Orchestrator{
		profiles: profiles,
		history:  history,
		registry: registry,
		router:   classifier,
		engine:   eng,
		capturer: capturer,
		opts:     opts,
		logger:   logger,
	}
}

// RunTurn executes one turn and streams its events. The returned channel
// is always closed, on success and on every failure path alike.
func (o *Orchestrator) RunTurn(ctx context.Context, userID, sessionID, message string) <-chan engine.Event {
	out := make(chan engine.Event, 16)
	go func() {
		defer close(out)
		defer o.capturer.CapturePanic(ctx, "workflow_error", "run_turn")

		metrics.TurnsStarted.Inc()
		start := time.Now()
		status := o.runTurn(ctx, out, userID, sessionID, message)
		metrics.TurnsCompleted.WithLabelValues(status).Inc()
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()
	return out
}

// turnState is the per-turn mutable context threaded through the loop.
type turnState struct {
	userID    string
	sessionID string
	inbound   string // original user message, persisted at turn end
	message   string // message for the next step (inbound or synthetic)
	state     *models.StudentState
	response  strings.Builder // all user-visible text, for persistence
}

func (o *Orchestrator) runTurn(ctx context.Context, out chan<- engine.Event, userID, sessionID, message string) string {
	if userID == "" || userID == anonymousSentinel {
		o.emit(ctx, out, engine.Text(agents.Root.Name, authRequiredMessage))
		return statusAuth
	}

	turn := &turnState{
		userID:    userID,
		sessionID: sessionID,
		inbound:   message,
		message:   message,
	}

	if o.opts.GuardrailsEnabled {
		if blocked := o.moderate(ctx, out, turn); blocked {
			o.persistExchange(ctx, turn)
			return statusBlocked
		}
	}

	if err := o.loadSnapshot(ctx, turn); err != nil {
		o.capturer.Capture(ctx, "transient_error", "load_snapshot", err, map[string]interface{}{
			"user_id": userID,
		})
		o.emit(ctx, out, engine.Text(agents.Root.Name, connectionMessage))
		return statusError
	}

	if err := o.healOnboardingState(ctx, turn); err != nil {
		o.capturer.Capture(ctx, "transient_error", "heal_onboarding_state", err, nil)
		o.emit(ctx, out, engine.Text(agents.Root.Name, connectionMessage))
		return statusError
	}

	if turn.state.Profile.OnboardingCompleted {
		o.routeTurn(ctx, turn)
	}

	status := o.stepLoop(ctx, out, turn)
	o.persistExchange(ctx, turn)
	return status
}

// loadSnapshot reads the profile and preferences once; workflows do their
// own live re-reads when reconciling steps.
func (o *Orchestrator) loadSnapshot(ctx context.Context, turn *turnState) error {
	var profile *models.UserProfile
	err := resilience.Retry(ctx, o.logger, "get_profile", o.opts.Retry, func(ctx context.Context) error {
		var err error
		profile, err = o.profiles.GetProfile(ctx, turn.userID)
		return err
	})
	if err != nil {
		return err
	}

	var prefs *models.UserPreferences
	err = resilience.Retry(ctx, o.logger, "get_preferences", o.opts.Retry, func(ctx context.Context) error {
		var err error
		prefs, err = o.profiles.GetPreferences(ctx, turn.userID)
		return err
	})
	if err != nil {
		return err
	}

	turn.state = &models.StudentState{Profile: profile, Preferences: prefs}
	return nil
}

// healOnboardingState forces active_workflow to onboarding while the flag
// is unset. The stored value can disagree after partial writes or manual
// edits; it is corrected before anything else runs.
func (o *Orchestrator) healOnboardingState(ctx context.Context, turn *turnState) error {
	profile := turn.state.Profile
	if profile.OnboardingCompleted || profile.ActiveWorkflowName() == models.WorkflowOnboarding {
		return nil
	}
	updates := map[string]interface{}{"active_workflow": models.WorkflowOnboarding}
	err := resilience.Retry(ctx, o.logger, "heal_onboarding_state", o.opts.Retry, func(ctx context.Context) error {
		return o.profiles.UpdateProfile(ctx, turn.userID, updates)
	})
	if err != nil {
		return err
	}
	models.ApplyProfileUpdates(profile, updates)
	return nil
}

// routeTurn consults the intent router once, before the first step, and
// persists any redirection it decides. Routing failures never fail the
// turn: the zero decision means "continue where we were".
func (o *Orchestrator) routeTurn(ctx context.Context, turn *turnState) {
	decision := o.router.Classify(ctx, turn.userID, turn.sessionID, turn.inbound, turn.state)
	if decision.IsZero() {
		return
	}

	var updates map[string]interface{}
	switch decision.Intent {
	case models.IntentChangeWorkflow:
		if !o.registry.IsRegistered(decision.TargetWorkflow) {
			o.logger.Warn("Router chose unregistered workflow, ignoring",
				zap.String("user_id", turn.userID),
				zap.String("target_workflow", decision.TargetWorkflow),
			)
			return
		}
		updates = map[string]interface{}{"active_workflow": decision.TargetWorkflow}
	case models.IntentExitWorkflow:
		updates = map[string]interface{}{"active_workflow": nil}
	default:
		return
	}

	err := resilience.Retry(ctx, o.logger, "route_turn", o.opts.Retry, func(ctx context.Context) error {
		return o.profiles.UpdateProfile(ctx, turn.userID, updates)
	})
	if err != nil {
		// The redirection is lost for this turn; the current workflow
		// still answers, so the user is not stuck.
		o.capturer.Capture(ctx, "transient_error", "route_turn", err, map[string]interface{}{
			"user_id": turn.userID,
			"intent":  decision.Intent,
		})
		return
	}
	models.ApplyProfileUpdates(turn.state.Profile, updates)

	o.logger.Info("Router redirected turn",
		zap.String("user_id", turn.userID),
		zap.String("intent", decision.Intent),
		zap.String("target_workflow", decision.TargetWorkflow),
	)
}

// stepLoop runs workflow steps until one of the termination conditions
// holds or MaxSteps is reached.
func (o *Orchestrator) stepLoop(ctx context.Context, out chan<- engine.Event, turn *turnState) string {
	for stepsRun := 0; stepsRun < o.opts.MaxSteps; stepsRun++ {
		wf := o.registry.Resolve(turn.state)

		agent, err := wf.AgentForUser(ctx, turn.userID, turn.state)
		if err != nil {
			o.captureStepFailure(ctx, out, turn, wf.Name(), "agent_for_user", err)
			return statusError
		}
		if agent == nil {
			// Nothing to do this turn.
			return statusOK
		}

		for _, evt := range wf.OnStart(agent) {
			if !o.emit(ctx, out, evt) {
				return statusError
			}
		}

		stepText, err := o.runStep(ctx, out, turn, wf, agent)
		if err != nil {
			o.captureStepFailure(ctx, out, turn, wf.Name(), "run_step", err)
			return statusError
		}
		metrics.StepsExecuted.WithLabelValues(wf.Name(), agent.Name).Inc()

		updates, err := wf.OnStepComplete(ctx, turn.userID, turn.state, stepText)
		if err != nil {
			o.captureStepFailure(ctx, out, turn, wf.Name(), "on_step_complete", err)
			return statusError
		}
		if updates == nil {
			// The workflow is waiting on the next user message.
			return statusOK
		}

		if err := o.applyUpdates(ctx, turn, updates); err != nil {
			o.captureStepFailure(ctx, out, turn, wf.Name(), "apply_updates", err)
			return statusError
		}

		if updates.ClearsActiveWorkflow() || updates.TurnComplete {
			return statusOK
		}
		if _, switched := updates.SwitchesWorkflowFrom(wf.Name()); switched {
			// A new workflow takes over mid-turn. The root agent electing
			// a workflow re-runs the original request; every other
			// handoff advances with a synthetic nudge so the next agent
			// does not re-ask answered questions.
			if wf == o.registry.Fallback() {
				turn.message = turn.inbound
			} else {
				turn.message = proceedMessage
			}
			continue
		}
		// Same workflow, next internal phase.
		turn.message = proceedMessage
	}

	metrics.MaxStepsReached.Inc()
	o.logger.Warn("Turn stopped by step bound",
		zap.String("user_id", turn.userID),
		zap.Int("max_steps", o.opts.MaxSteps),
	)
	return statusMaxSteps
}

// runStep executes one agent against the engine and forwards its events
// through the workflow's filter, bracketing them with tool_start/tool_end.
// It returns the concatenation of the surviving text.
func (o *Orchestrator) runStep(ctx context.Context, out chan<- engine.Event, turn *turnState, wf workflow.Workflow, agent *agents.Agent) (string, error) {
	startEvt := engine.ToolStart(agent.Name, map[string]interface{}{"workflow": wf.Name()})
	startEvt.Agent = agent.Name
	if !o.emit(ctx, out, startEvt) {
		return "", ctx.Err()
	}

	history := o.loadHistory(ctx, turn.userID)

	req := engine.Request{
		AgentName:   agent.Name,
		Model:       agent.Model,
		Instruction: agent.Instruction,
		Tools:       agent.Tools,
		History:     history,
		Message:     turn.message,
		UserID:      turn.userID,
		SessionID:   turn.sessionID,
	}

	var events <-chan engine.Event
	err := resilience.Retry(ctx, o.logger, "engine_run", o.opts.Retry, func(ctx context.Context) error {
		var err error
		events, err = o.engine.Run(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	// The step result accumulates all produced text, filtered or not:
	// suppressed reasoning output still feeds the next phase. Only
	// surviving text reaches the caller and the persisted response.
	var captured strings.Builder
	for evt := range events {
		if evt.Type == engine.EventText {
			captured.WriteString(evt.Content)
		}
		kept := wf.FilterEvent(evt, agent.Name)
		if kept == nil {
			continue
		}
		if kept.Type == engine.EventText {
			turn.response.WriteString(kept.Content)
		}
		if !o.emit(ctx, out, *kept) {
			return captured.String(), ctx.Err()
		}
	}

	endEvt := engine.ToolEnd(agent.Name, "")
	endEvt.Agent = agent.Name
	if !o.emit(ctx, out, endEvt) {
		return captured.String(), ctx.Err()
	}
	return captured.String(), nil
}

// loadHistory fetches the current workflow's conversation view. The step
// can proceed without it, so a failed load degrades to an empty history.
func (o *Orchestrator) loadHistory(ctx context.Context, userID string) []engine.Message {
	var msgs []models.ChatMessage
	err := resilience.Retry(ctx, o.logger, "load_history", o.opts.Retry, func(ctx context.Context) error {
		var err error
		msgs, err = o.history.Load(ctx, userID)
		return err
	})
	if err != nil {
		o.capturer.Capture(ctx, "transient_error", "load_history", err, map[string]interface{}{
			"user_id": userID,
		})
		return nil
	}

	history := make([]engine.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Sender == models.SenderAssistant {
			role = "assistant"
		}
		history = append(history, engine.Message{Role: role, Content: m.Content})
	}
	return history
}

// applyUpdates commits a step's explicit updates to the store and mirrors
// them onto the in-memory snapshot. Commits are step-granular: a later
// failure does not roll them back.
func (o *Orchestrator) applyUpdates(ctx context.Context, turn *turnState, updates *workflow.Updates) error {
	if len(updates.Profile) > 0 {
		err := resilience.Retry(ctx, o.logger, "update_profile", o.opts.Retry, func(ctx context.Context) error {
			return o.profiles.UpdateProfile(ctx, turn.userID, updates.Profile)
		})
		if err != nil {
			return err
		}
		models.ApplyProfileUpdates(turn.state.Profile, updates.Profile)
	}
	if len(updates.Preferences) > 0 {
		err := resilience.Retry(ctx, o.logger, "update_preferences", o.opts.Retry, func(ctx context.Context) error {
			return o.profiles.UpdatePreferences(ctx, turn.userID, updates.Preferences)
		})
		if err != nil {
			return err
		}
		models.ApplyPreferenceUpdates(turn.state.Preferences, updates.Preferences)
	}
	return nil
}

// moderate runs the guardrails agent against the inbound message with no
// history. Its events are buffered: discarded when the verdict is safe,
// replayed as the whole turn when it is not. An engine failure fails open,
// moderation must never take the assistant down.
func (o *Orchestrator) moderate(ctx context.Context, out chan<- engine.Event, turn *turnState) bool {
	agent := agents.Guardrails
	events, err := o.engine.Run(ctx, engine.Request{
		AgentName:   agent.Name,
		Model:       agent.Model,
		Instruction: agent.Instruction,
		Tools:       agent.Tools,
		Message:     turn.inbound,
		UserID:      turn.userID,
		SessionID:   turn.sessionID,
	})
	if err != nil {
		o.logger.Warn("Guardrails engine call failed, letting message through",
			zap.String("user_id", turn.userID), zap.Error(err))
		return false
	}

	var buffered []engine.Event
	var verdict strings.Builder
	for evt := range events {
		buffered = append(buffered, evt)
		if evt.Type == engine.EventText {
			verdict.WriteString(evt.Content)
		}
	}

	if strings.Contains(verdict.String(), guardrailsSafeVerdict) {
		return false
	}

	metrics.GuardrailsBlocked.Inc()
	for _, evt := range buffered {
		if evt.Type == engine.EventText {
			turn.response.WriteString(evt.Content)
		}
		if !o.emit(ctx, out, evt) {
			break
		}
	}
	return true
}

// persistExchange writes the (user message, assembled response) pair as one
// atomic insert tagged with whatever active_workflow is in force now.
// Best-effort: the events already reached the caller.
func (o *Orchestrator) persistExchange(ctx context.Context, turn *turnState) {
	response := turn.response.String()
	msgs := []models.ChatMessage{
		{Sender: models.SenderUser, Content: turn.inbound},
		{Sender: models.SenderAssistant, Content: response},
	}
	err := resilience.Retry(ctx, o.logger, "persist_exchange", o.opts.Retry, func(ctx context.Context) error {
		return o.history.InsertExplicit(ctx, turn.userID, msgs)
	})
	if err != nil {
		o.capturer.Capture(ctx, "transient_error", "persist_exchange", err, map[string]interface{}{
			"user_id": turn.userID,
		})
	}
}

// captureStepFailure logs the failure and sends the generic trouble text,
// keeping the stream intact for a clean close.
func (o *Orchestrator) captureStepFailure(ctx context.Context, out chan<- engine.Event, turn *turnState, workflowName, operation string, err error) {
	o.capturer.Capture(ctx, "workflow_error", operation, err, map[string]interface{}{
		"user_id":  turn.userID,
		"workflow": workflowName,
	})
	if o.emit(ctx, out, engine.Text(agents.Root.Name, connectionMessage)) {
		turn.response.WriteString(connectionMessage)
	}
}

// emit forwards one event, giving up when the caller is gone.
func (o *Orchestrator) emit(ctx context.Context, out chan<- engine.Event, evt engine.Event) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Classifier = (*router.Router)(nil)
