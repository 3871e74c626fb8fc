package models

import "time"

// Workflow names
const (
	WorkflowOnboarding = "onboarding_workflow"
	WorkflowMatch      = "match_workflow"
	WorkflowSisu       = "sisu_workflow"
	WorkflowProuni     = "prouni_workflow"
)

// Router intents
const (
	IntentChangeWorkflow   = "CHANGE_WORKFLOW"
	IntentContinueWorkflow = "CONTINUE_WORKFLOW"
	IntentExitWorkflow     = "EXIT_WORKFLOW"
)

// Message senders
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// UserProfile is the per-user identity record. ActiveWorkflow selects
// which workflow handles the next turn; nil means the root agent.
type UserProfile struct {
	UserID              string    `db:"user_id" json:"user_id"`
	FullName            *string   `db:"full_name" json:"full_name,omitempty"`
	Age                 *int      `db:"age" json:"age,omitempty"`
	CityName            *string   `db:"city_name" json:"city_name,omitempty"`
	Education           *string   `db:"education" json:"education,omitempty"`
	OnboardingCompleted bool      `db:"onboarding_completed" json:"onboarding_completed"`
	ActiveWorkflow      *string   `db:"active_workflow" json:"active_workflow,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// OnboardingFieldsComplete reports whether the four onboarding fields are present.
func (p *UserProfile) OnboardingFieldsComplete() bool {
	return p.FullName != nil && *p.FullName != "" &&
		p.Age != nil &&
		p.CityName != nil && *p.CityName != "" &&
		p.Education != nil && *p.Education != ""
}

// ActiveWorkflowName returns the active workflow name or "" when none is set.
func (p *UserProfile) ActiveWorkflowName() string {
	if p.ActiveWorkflow == nil {
		return ""
	}
	return *p.ActiveWorkflow
}

// UserPreferences holds the search/profile attributes accumulated across
// the onboarding and match workflows. WorkflowData carries workflow-private
// transient flags and is merged, not replaced, on update.
type UserPreferences struct {
	UserID               string                 `db:"user_id" json:"user_id"`
	CourseInterest       []string               `json:"course_interest"`
	EnemScore            *float64               `db:"enem_score" json:"enem_score,omitempty"`
	PerCapitaIncome      *float64               `db:"per_capita_income" json:"per_capita_income,omitempty"`
	QuotaTypes           []string               `json:"quota_types"`
	PreferredShifts      []string               `json:"preferred_shifts"`
	LocationPreference   *string                `db:"location_preference" json:"location_preference,omitempty"`
	UniversityPreference *string                `db:"university_preference" json:"university_preference,omitempty"`
	ProgramPreference    *string                `db:"program_preference" json:"program_preference,omitempty"`
	WorkflowData         map[string]interface{} `json:"workflow_data"`
	RegistrationStep     *string                `db:"registration_step" json:"registration_step,omitempty"`
	UpdatedAt            time.Time              `db:"updated_at" json:"updated_at"`
}

// WorkflowFlag returns a workflow_data entry, nil when absent.
func (p *UserPreferences) WorkflowFlag(key string) interface{} {
	if p.WorkflowData == nil {
		return nil
	}
	return p.WorkflowData[key]
}

// StudentState is the per-turn snapshot handed to the router and workflows.
type StudentState struct {
	Profile     *UserProfile
	Preferences *UserPreferences
}

// WorkflowDecision is the router's output for one turn. Ephemeral: it is
// consumed immediately by the orchestrator and never persisted.
type WorkflowDecision struct {
	Intent         string `json:"intent"`
	TargetWorkflow string `json:"target_workflow"`
	Confidence     string `json:"confidence"`
	Reasoning      string `json:"reasoning"`
}

// IsZero reports whether the decision carries no redirection.
func (d WorkflowDecision) IsZero() bool {
	return d.Intent == "" || d.Intent == IntentContinueWorkflow
}

// ChatMessage is one persisted conversation turn half. Workflow records the
// active_workflow value in force when the message was written; nil means the
// message belongs to no workflow (root conversation or legacy rows).
type ChatMessage struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Sender    string    `db:"sender" json:"sender"`
	Content   string    `db:"content" json:"content"`
	Workflow  *string   `db:"workflow" json:"workflow,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ErrorRecord is one structured failure row for the agent_errors log.
// Append-only; the orchestrator never reads it back.
type ErrorRecord struct {
	Category  string                 `db:"error_type" json:"error_type"`
	Operation string                 `db:"function_name" json:"function_name"`
	Message   string                 `db:"error_message" json:"error_message"`
	Stack     string                 `db:"traceback" json:"traceback"`
	Timestamp time.Time              `db:"created_at" json:"created_at"`
	Context   map[string]interface{} `json:"context,omitempty"`
}
