// Package agents holds the static agent definitions executed by the
// generative engine. Definitions are immutable templates; per-step context
// is injected through Specialize, never by mutating a template.
package agents

import (
	_ "embed"
)

// Models. The router runs on the lite tier; everything conversational uses
// the standard chat model.
const (
	ModelChat   = "gemini-2.0-flash"
	ModelRouter = "gemini-2.0-flash-lite"
)

// Engine-side tool names. The orchestrator never executes these; it only
// declares which ones an agent may call and forwards the tool events.
const (
	ToolGetStudentProfile        = "getStudentProfile"
	ToolUpdateStudentProfile     = "updateStudentProfile"
	ToolUpdateStudentPreferences = "updateStudentPreferences"
	ToolSearchOpportunities      = "searchOpportunities"
	ToolSuggestRefinement        = "suggestRefinement"
	ToolGetImportantDates        = "getImportantDates"
	ToolSmartResearch            = "smartResearch"
	ToolLogModeration            = "logModeration"
)

// Agent is one immutable agent definition.
type Agent struct {
	Name        string
	Model       string
	Description string
	Instruction string
	Tools       []string
	OutputKey   string
}

// Specialize returns a copy of the template with extra context appended to
// its instruction. The template itself is never mutated, so concurrent
// turns can specialize the same template safely.
func Specialize(template *Agent, extraContext string) Agent {
	runtime := *template
	runtime.Tools = append([]string(nil), template.Tools...)
	if extraContext != "" {
		runtime.Instruction = template.Instruction + "\n\n" + extraContext
	}
	return runtime
}

var (
	//go:embed instructions/root_agent.txt
	rootInstruction string
	//go:embed instructions/onboarding_agent.txt
	onboardingInstruction string
	//go:embed instructions/match_reasoning.txt
	matchReasoningInstruction string
	//go:embed instructions/match_response.txt
	matchResponseInstruction string
	//go:embed instructions/match_wizard.txt
	matchWizardInstruction string
	//go:embed instructions/sisu_agent.txt
	sisuInstruction string
	//go:embed instructions/prouni_agent.txt
	prouniInstruction string
	//go:embed instructions/router_agent.txt
	routerInstruction string
	//go:embed instructions/guardrails_agent.txt
	guardrailsInstruction string
)

// Root is the general-purpose assistant used when no workflow is active.
var Root = Agent{
	Name:        "cloudinha_agent",
	Model:       ModelChat,
	Description: "Assistente geral da Cloudinha para Prouni, Sisu e acesso ao ensino superior.",
	Instruction: rootInstruction,
	Tools: []string{
		ToolGetStudentProfile,
		ToolUpdateStudentProfile,
		ToolLogModeration,
	},
}

// Onboarding collects the four profile fields. Specialized per step with
// the list of still-missing fields.
var Onboarding = Agent{
	Name:        "onboarding_agent",
	Model:       ModelChat,
	Description: "Coleta nome, idade, cidade e escolaridade do estudante.",
	Instruction: onboardingInstruction,
	Tools: []string{
		ToolGetStudentProfile,
		ToolUpdateStudentProfile,
	},
	OutputKey: "onboarding_report",
}

// MatchReasoning runs the search tools; its text output is internal
// reasoning and is suppressed by the match workflow's event filter.
var MatchReasoning = Agent{
	Name:        "match_reasoning_agent",
	Model:       ModelChat,
	Description: "Executa as ferramentas de busca e raciocina sobre os filtros do estudante.",
	Instruction: matchReasoningInstruction,
	Tools: []string{
		ToolGetStudentProfile,
		ToolUpdateStudentPreferences,
		ToolSearchOpportunities,
		ToolSuggestRefinement,
		ToolGetImportantDates,
		ToolLogModeration,
	},
}

// MatchResponse turns the reasoning output into user-facing prose. No
// tools: it can only talk.
var MatchResponse = Agent{
	Name:        "match_response_agent",
	Model:       ModelChat,
	Description: "Comunica resultados de busca e perguntas ao estudante.",
	Instruction: matchResponseInstruction,
	Tools:       []string{ToolLogModeration},
}

// MatchWizard asks for the profile fields the match search requires.
var MatchWizard = Agent{
	Name:        "match_wizard_agent",
	Model:       ModelChat,
	Description: "Coleta nota do Enem e renda per capita antes da busca.",
	Instruction: matchWizardInstruction,
	Tools: []string{
		ToolGetStudentProfile,
		ToolUpdateStudentPreferences,
	},
}

// Sisu answers questions about the Sisu program rules.
var Sisu = Agent{
	Name:        "sisu_agent",
	Model:       ModelChat,
	Description: "Especialista no Sistema de Seleção Unificada (Sisu).",
	Instruction: sisuInstruction,
	Tools: []string{
		ToolSmartResearch,
		ToolGetImportantDates,
		ToolGetStudentProfile,
		ToolUpdateStudentProfile,
	},
	OutputKey: "sisu_report",
}

// Prouni answers questions about the Prouni program rules.
var Prouni = Agent{
	Name:        "prouni_agent",
	Model:       ModelChat,
	Description: "Especialista no Programa Universidade para Todos (Prouni).",
	Instruction: prouniInstruction,
	Tools: []string{
		ToolSmartResearch,
		ToolGetImportantDates,
		ToolGetStudentProfile,
		ToolUpdateStudentProfile,
	},
	OutputKey: "prouni_report",
}

// Router classifies intent. No tools: it only ever emits a decision.
var Router = Agent{
	Name:        "router_agent",
	Model:       ModelRouter,
	Description: "Classifica a intenção do usuário para decidir o workflow ativo.",
	Instruction: routerInstruction,
	OutputKey:   "router_decision",
}

// Guardrails screens inbound messages before any other agent runs.
var Guardrails = Agent{
	Name:        "guardrails_agent",
	Model:       ModelChat,
	Description: "Filtra conteúdo nocivo antes do atendimento.",
	Instruction: guardrailsInstruction,
	Tools:       []string{ToolLogModeration},
	OutputKey:   "guardrails_decision",
}
