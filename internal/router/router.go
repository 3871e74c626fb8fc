// Package router classifies the intent of an inbound message to decide
// whether the active workflow should change. It is advisory only: it never
// performs a side effect, and any failure degrades to "no redirection".
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/agents"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

type Router struct {
	engine engine.Engine
	logger *zap.Logger
}

func New(eng engine.Engine, logger *zap.Logger) *Router {
	return &Router{engine: eng, logger: logger}
}

// Classify runs the message and a compact state summary through the router
// agent and parses its JSON decision. The zero decision (treated as
// CONTINUE_WORKFLOW) is returned on any engine or parse failure; a routing
// failure must never be fatal to the turn.
func (r *Router) Classify(ctx context.Context, userID, sessionID, message string, state *models.StudentState) models.WorkflowDecision {
	input := fmt.Sprintf(
		"MENSAGEM: %s\n\nESTADO ATUAL:\nactive_workflow: %s\nonboarding_completed: %t",
		message,
		state.Profile.ActiveWorkflowName(),
		state.Profile.OnboardingCompleted,
	)

	agent := agents.Router
	events, err := r.engine.Run(ctx, engine.Request{
		AgentName:   agent.Name,
		Model:       agent.Model,
		Instruction: agent.Instruction,
		Message:     input,
		UserID:      userID,
		SessionID:   sessionID,
	})
	if err != nil {
		r.logger.Warn("Router engine call failed; continuing current workflow",
			zap.String("user_id", userID), zap.Error(err))
		return models.WorkflowDecision{}
	}

	var raw string
	for evt := range events {
		if evt.Type == engine.EventText {
			raw += evt.Content
		}
	}

	decision, ok := parseDecision(raw)
	if !ok {
		metrics.RouterParseFailures.Inc()
		r.logger.Warn("Router output had no parseable decision",
			zap.String("user_id", userID), zap.String("raw", raw))
		return models.WorkflowDecision{}
	}

	metrics.RouterDecisions.WithLabelValues(decision.Intent).Inc()
	r.logger.Info("Router decision",
		zap.String("user_id", userID),
		zap.String("intent", decision.Intent),
		zap.String("target", decision.TargetWorkflow),
		zap.String("confidence", decision.Confidence),
	)
	return decision
}

// parseDecision extracts the first balanced JSON object from raw and
// decodes it. Models often wrap the object in prose or code fences.
func parseDecision(raw string) (models.WorkflowDecision, bool) {
	obj := firstJSONObject(raw)
	if obj == "" {
		return models.WorkflowDecision{}, false
	}
	var d models.WorkflowDecision
	if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return models.WorkflowDecision{}, false
	}
	switch d.Intent {
	case models.IntentChangeWorkflow, models.IntentContinueWorkflow, models.IntentExitWorkflow:
		return d, true
	}
	return models.WorkflowDecision{}, false
}

// firstJSONObject returns the first balanced {...} substring, tracking
// string literals and escapes so braces inside values don't break the
// balance count.
func firstJSONObject(s string) string {
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
