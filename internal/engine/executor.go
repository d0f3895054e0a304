package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"log/slog"

	"github.com/RealZimboGuy/convoflow/internal/repository"
	"github.com/RealZimboGuy/convoflow/internal/workflows"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"
)

// Audit event types written for every engine mutation.
const (
	EventCreated   = "CREATED"
	EventAdvanced  = "ADVANCED"
	EventCompleted = "COMPLETED"
	EventCancelled = "CANCELLED"
	EventExpired   = "EXPIRED"
)

// Engine ties the workflow registry, the transaction store and the
// optional semantic validator together. It holds no mutable state of its
// own; all state lives in the store and the registry.
type Engine struct {
	registry  *workflows.Registry
	repo      TransactionRepo
	events    TransactionEventRepo
	validator SemanticValidator
	clock     core.Clock
}

func NewEngine(registry *workflows.Registry, repo TransactionRepo, events TransactionEventRepo,
	validator SemanticValidator, clock core.Clock) *Engine {
	return &Engine{
		registry:  registry,
		repo:      repo,
		events:    events,
		validator: validator,
		clock:     clock,
	}
}

// Registry exposes the workflow registry for API layers.
func (e *Engine) Registry() *workflows.Registry { return e.registry }

// DetectAndExecute runs the full pass for one inbound utterance: trigger
// detection, context extraction and validation, then the state
// transition against the store. It only errors on store connectivity
// failures; everything recoverable resolves to a no_action result.
func (e *Engine) DetectAndExecute(ctx context.Context, userID string, agentID string, utterance string) (*models.DetectResult, error) {
	active, err := e.repo.FindActive(userID, agentID, "")
	if err != nil {
		return nil, fmt.Errorf("find active transaction: %w", err)
	}

	match := e.detect(ctx, agentID, utterance, active)
	if match == nil {
		return models.NoAction(), nil
	}

	if match.Transition != nil {
		return e.executeTransition(active, match)
	}
	return e.executeCreate(userID, agentID, match)
}

// executeCreate starts a new transaction for a confirmed new-workflow
// trigger. A store-level uniqueness conflict is a detector/store race
// and resolves to no_action rather than an error.
func (e *Engine) executeCreate(userID string, agentID string, match *TriggerMatch) (*models.DetectResult, error) {
	def := match.Definition
	tx := &domain.Transaction{
		UserID:          userID,
		AgentID:         agentID,
		TransactionType: def.Name,
		State:           def.InitialState,
		Context:         match.Context,
	}
	id, err := e.repo.Save(tx)
	if errors.Is(err, repository.ErrActiveTransactionExists) {
		slog.Warn("Active transaction already exists, no action taken", "user_id", userID, "agent_id", agentID, "workflow", def.Name)
		return models.NoAction(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	_, _ = e.events.Save(&domain.TransactionEvent{
		TransactionID: id,
		Type:          EventCreated,
		Name:          def.Name,
		Text:          "Created in state " + def.InitialState,
		DateTime:      e.clock.Now(),
	})
	slog.Info("Created transaction", "id", id, "external_id", tx.ExternalID, "workflow", def.Name, "state", def.InitialState)

	return &models.DetectResult{
		Action:        models.ResultCreated,
		TransactionID: id,
		ExternalID:    tx.ExternalID,
		WorkflowName:  def.Name,
		State:         def.InitialState,
		GuidanceText:  e.guidanceForState(def, def.InitialState, tx.Context),
		Context:       tx.Context,
		Confidence:    match.Confidence,
	}, nil
}

// executeTransition advances, completes or cancels the active
// transaction. The action set is closed; configuration cannot dispatch
// outside this switch.
func (e *Engine) executeTransition(active *domain.Transaction, match *TriggerMatch) (*models.DetectResult, error) {
	def := match.Definition
	tr := match.Transition
	merged := mergeContext(active.Context, match.Context)

	result := &models.DetectResult{
		TransactionID: active.ID,
		ExternalID:    active.ExternalID,
		WorkflowName:  def.Name,
		Context:       merged,
		Confidence:    match.Confidence,
	}

	var err error
	switch tr.Action {
	case models.ActionAdvance:
		err = e.repo.UpdateState(active.ID, tr.ToState, match.Context)
		result.Action = models.ResultUpdated
		result.State = tr.ToState
		result.GuidanceText = e.guidanceForState(def, tr.ToState, merged)
	case models.ActionCompleteTransaction:
		err = e.repo.Complete(active.ID, match.Context)
		result.Action = models.ResultCompleted
		result.State = models.TransactionStateCompleted
		if tr.ToState != "" {
			result.GuidanceText = e.guidanceForState(def, tr.ToState, merged)
		}
	case models.ActionCancelTransaction:
		reason, _ := match.Context["reason"].(string)
		err = e.repo.Cancel(active.ID, reason)
		result.Action = models.ResultCancelled
		result.State = models.TransactionStateCancelled
	default:
		slog.Error("Unknown transition action, no action taken", "workflow", def.Name, "action", tr.Action)
		return models.NoAction(), nil
	}

	if errors.Is(err, repository.ErrTransactionNotFound) {
		slog.Warn("Transaction vanished during transition, no action taken", "id", active.ID)
		return models.NoAction(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", tr.Action, err)
	}

	_, _ = e.events.Save(&domain.TransactionEvent{
		TransactionID: active.ID,
		Type:          eventTypeForAction(tr.Action),
		Name:          def.Name,
		Text:          fmt.Sprintf("%s -> %s", active.State, result.State),
		DateTime:      e.clock.Now(),
	})
	slog.Info("Executed transition", "id", active.ID, "workflow", def.Name, "action", tr.Action, "from", active.State, "to", result.State)

	return result, nil
}

func eventTypeForAction(action string) string {
	switch action {
	case models.ActionCompleteTransaction:
		return EventCompleted
	case models.ActionCancelTransaction:
		return EventCancelled
	default:
		return EventAdvanced
	}
}

// GetActiveGuidance re-surfaces the active transaction's current state
// guidance without consuming a new utterance. Empty when the user has no
// active transaction for the agent.
func (e *Engine) GetActiveGuidance(userID string, agentID string) (string, error) {
	active, err := e.repo.FindActive(userID, agentID, "")
	if err != nil {
		return "", fmt.Errorf("find active transaction: %w", err)
	}
	if active == nil {
		return "", nil
	}
	def := e.registry.Definition(agentID, active.TransactionType)
	if def == nil {
		return "", nil
	}
	return e.guidanceForState(def, active.State, active.Context), nil
}

var guidancePlaceholder = regexp.MustCompile(`\{context\.([A-Za-z0-9_]+)\}`)

// guidanceForState formats the state's guidance template against the
// transaction context. A template referencing a field missing from the
// context degrades to the raw template text rather than failing.
func (e *Engine) guidanceForState(def *models.WorkflowDefinition, stateName string, ctx map[string]any) string {
	state, ok := def.States[stateName]
	if !ok || state.GuidanceTextTemplate == "" {
		return ""
	}
	return formatGuidance(state.GuidanceTextTemplate, ctx)
}

func formatGuidance(template string, ctx map[string]any) string {
	missing := false
	out := guidancePlaceholder.ReplaceAllStringFunc(template, func(m string) string {
		field := guidancePlaceholder.FindStringSubmatch(m)[1]
		v, ok := ctx[field]
		if !ok {
			missing = true
			return m
		}
		return fmt.Sprint(v)
	})
	if missing {
		return template
	}
	return out
}

// mergeContext is a shallow merge, last write wins per key, additive for
// keys absent from the merge payload.
func mergeContext(existing, merge map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(merge))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range merge {
		merged[k] = v
	}
	return merged
}

// PersistDefinitionSummaries writes one summary row per loaded workflow
// definition so operators can inspect what this instance is running.
func PersistDefinitionSummaries(registry *workflows.Registry, repo DefinitionRepo, clock core.Clock) {
	for _, agent := range registry.Agents() {
		for _, def := range registry.ForAgent(agent) {
			desc := def.Description
			if desc == "" {
				desc = fmt.Sprintf("%d states, initial %s", len(def.States), def.InitialState)
			}
			rec := &domain.WorkflowDefinitionRecord{
				Name:        def.Name,
				AgentID:     agent,
				Description: desc,
				FlowChart:   workflows.BuildFlowChart(def),
				Created:     clock.Now(),
				Updated:     clock.Now(),
			}
			slog.Info("Saving workflow definition", "name", def.Name, "agent", agent)
			if err := repo.Save(rec); err != nil {
				slog.Error("Failed to save workflow definition", "name", def.Name, "error", err)
			}
		}
	}
}
