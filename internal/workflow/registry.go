package workflow

import (
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// route pairs a predicate with the workflow that handles matching states.
// Routes are evaluated in slice order, so priority is data, not nesting.
type route struct {
	name    string
	matches func(state *models.StudentState) bool
}

// Registry resolves the workflow for a turn from a fixed-priority routing
// table plus a by-name lookup for persisted active_workflow values.
type Registry struct {
	routes   []route
	byName   map[string]Workflow
	fallback Workflow
	logger   *zap.Logger
}

// NewRegistry builds the production routing table: onboarding takes
// precedence until complete, then the persisted active_workflow selects,
// then the root workflow catches everything else.
func NewRegistry(store ProfileStore, logger *zap.Logger) *Registry {
	r := &Registry{
		byName: make(map[string]Workflow),
		logger: logger,
	}

	r.Register(NewOnboarding(store))
	r.Register(NewMatch())
	r.Register(NewSpecialist(models.WorkflowSisu, &agents.Sisu, store))
	r.Register(NewSpecialist(models.WorkflowProuni, &agents.Prouni, store))
	r.fallback = NewRoot(store)

	r.routes = []route{
		{
			name: models.WorkflowOnboarding,
			matches: func(s *models.StudentState) bool {
				return !s.Profile.OnboardingCompleted
			},
		},
		{
			name: "", // empty = use the persisted active_workflow value
			matches: func(s *models.StudentState) bool {
				return s.Profile.ActiveWorkflowName() != ""
			},
		},
	}
	return r
}

// Register adds a workflow to the by-name lookup.
func (r *Registry) Register(w Workflow) {
	r.byName[w.Name()] = w
}

// Lookup returns a registered workflow by name.
func (r *Registry) Lookup(name string) (Workflow, bool) {
	w, ok := r.byName[name]
	return w, ok
}

// IsRegistered reports whether name is a valid workflow target.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Fallback returns the default/root workflow.
func (r *Registry) Fallback() Workflow { return r.fallback }

// Resolve picks the workflow for the given state. A persisted
// active_workflow naming no registered workflow falls back to the root
// workflow rather than failing the turn.
func (r *Registry) Resolve(state *models.StudentState) Workflow {
	for _, rt := range r.routes {
		if !rt.matches(state) {
			continue
		}
		name := rt.name
		if name == "" {
			name = state.Profile.ActiveWorkflowName()
		}
		if w, ok := r.byName[name]; ok {
			return w
		}
		if rt.name == "" {
			r.logger.Warn("Unknown active_workflow, using root workflow",
				zap.String("user_id", state.Profile.UserID),
				zap.String("active_workflow", name),
			)
		}
	}
	return r.fallback
}
