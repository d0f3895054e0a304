package engine

import (
	"context"
	"strings"

	"log/slog"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"
)

// Trigger confidence values. Transition triggers carry a fixed
// confidence regardless of how they matched; new-workflow triggers are
// weighted by match type.
const (
	ConfidenceTransition   = 0.9
	ConfidencePatternMatch = 0.95
	ConfidenceKeywordMatch = 0.75
)

// TriggerMatch is the single confirmed trigger for one utterance.
// Transition is nil for a new-workflow trigger; Context holds the
// extracted and validated fields for the new transaction.
type TriggerMatch struct {
	Definition *models.WorkflowDefinition
	Transition *models.Transition
	Confidence float64
	Context    map[string]any
}

// matchTrigger checks the spec's patterns first, then its keywords.
// Pattern matches return the capture groups; keyword matching is a
// case-insensitive substring test.
func matchTrigger(t *models.TriggerSpec, utterance string) (groups []string, byPattern bool, ok bool) {
	for _, re := range t.Compiled {
		if m := re.FindStringSubmatch(utterance); m != nil {
			return m, true, true
		}
	}
	lower := strings.ToLower(utterance)
	for _, kw := range t.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return nil, false, true
		}
	}
	return nil, false, false
}

// detect runs the full detection pass for one utterance and returns at
// most one confirmed trigger, or nil.
//
// When a transaction is active, its current state's transitions are
// scanned first. When nothing is active (or no transition matched), the
// agent's workflow definitions are scanned for a new-workflow trigger in
// declaration order; a candidate whose extracted context fails
// validation is dropped and scanning continues with the next definition.
func (e *Engine) detect(ctx context.Context, agentID string, utterance string, active *domain.Transaction) *TriggerMatch {
	if active != nil {
		def := e.registry.Definition(agentID, active.TransactionType)
		if def == nil {
			slog.Warn("Active transaction has no loaded workflow definition", "agent_id", agentID, "transaction_type", active.TransactionType)
		} else if state, ok := def.States[active.State]; ok {
			for _, tr := range state.Transitions {
				if _, _, ok := matchTrigger(&tr.Triggers, utterance); ok {
					return &TriggerMatch{
						Definition: def,
						Transition: tr,
						Confidence: ConfidenceTransition,
						Context:    map[string]any{},
					}
				}
			}
		}
	}

	for _, def := range e.registry.ForAgent(agentID) {
		groups, byPattern, ok := matchTrigger(&def.Triggers, utterance)
		if !ok {
			continue
		}
		confidence := ConfidenceKeywordMatch
		if byPattern {
			confidence = ConfidencePatternMatch
		}

		if llm := def.Triggers.LLMValidation; llm != nil {
			if !e.confirmSemantic(ctx, def.Name, llm, utterance) {
				continue
			}
		}

		extracted := extractContext(def.OnTrigger.ExtractContext, utterance, groups, func(table string) map[string]any {
			return e.registry.LookupTable(agentID, table)
		})
		if !validateContext(def.OnTrigger.Validation, extracted) {
			slog.Debug("Candidate rejected by context validation", "workflow", def.Name)
			continue
		}

		return &TriggerMatch{
			Definition: def,
			Confidence: confidence,
			Context:    extracted,
		}
	}
	return nil
}

// confirmSemantic runs the single external confirmation round trip.
// Fail closed: a missing validator, transport error, timeout or
// unparseable answer all count as a negative confirmation.
func (e *Engine) confirmSemantic(ctx context.Context, workflow string, llm *models.LLMValidation, utterance string) bool {
	if e.validator == nil {
		slog.Warn("Workflow requires semantic validation but no validator is configured", "workflow", workflow)
		return false
	}
	prompt := strings.ReplaceAll(llm.Prompt, "{message}", utterance)
	confidence, err := e.validator.Confirm(ctx, prompt)
	if err != nil {
		slog.Warn("Semantic validation unavailable, treating as negative", "workflow", workflow, "error", err)
		return false
	}
	if confidence < llm.ConfidenceThreshold {
		slog.Debug("Semantic validation below threshold", "workflow", workflow, "confidence", confidence, "threshold", llm.ConfidenceThreshold)
		return false
	}
	return true
}
