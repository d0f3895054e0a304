package engine

import (
	"context"
	"time"

	"github.com/RealZimboGuy/convoflow/internal/workflows"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"
)

// MockTransactionRepo implements TransactionRepo for testing
type MockTransactionRepo struct {
	FindByIDFunc         func(id int64) (*domain.Transaction, error)
	FindByExternalIDFunc func(externalID string) (*domain.Transaction, error)
	FindActiveFunc       func(userID string, agentID string, transactionType string) (*domain.Transaction, error)
	SaveFunc             func(tx *domain.Transaction) (int64, error)
	UpdateStateFunc      func(id int64, newState string, contextMerge map[string]any) error
	CompleteFunc         func(id int64, contextMerge map[string]any) error
	CancelFunc           func(id int64, reason string) error
	HistoryFunc          func(userID string, agentID string, limit int) ([]domain.Transaction, error)
	FindStaleActiveFunc  func(cutoff time.Time, limit int) ([]domain.Transaction, error)
	ExpireFunc           func(id int64) error
}

func (m *MockTransactionRepo) FindByID(id int64) (*domain.Transaction, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockTransactionRepo) FindByExternalID(externalID string) (*domain.Transaction, error) {
	if m.FindByExternalIDFunc != nil {
		return m.FindByExternalIDFunc(externalID)
	}
	return nil, nil
}
func (m *MockTransactionRepo) FindActive(userID string, agentID string, transactionType string) (*domain.Transaction, error) {
	if m.FindActiveFunc != nil {
		return m.FindActiveFunc(userID, agentID, transactionType)
	}
	return nil, nil
}
func (m *MockTransactionRepo) Save(tx *domain.Transaction) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(tx)
	}
	tx.ID = 1
	tx.ExternalID = "test-external-id"
	return 1, nil
}
func (m *MockTransactionRepo) UpdateState(id int64, newState string, contextMerge map[string]any) error {
	if m.UpdateStateFunc != nil {
		return m.UpdateStateFunc(id, newState, contextMerge)
	}
	return nil
}
func (m *MockTransactionRepo) Complete(id int64, contextMerge map[string]any) error {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(id, contextMerge)
	}
	return nil
}
func (m *MockTransactionRepo) Cancel(id int64, reason string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(id, reason)
	}
	return nil
}
func (m *MockTransactionRepo) History(userID string, agentID string, limit int) ([]domain.Transaction, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(userID, agentID, limit)
	}
	return nil, nil
}
func (m *MockTransactionRepo) FindStaleActive(cutoff time.Time, limit int) ([]domain.Transaction, error) {
	if m.FindStaleActiveFunc != nil {
		return m.FindStaleActiveFunc(cutoff, limit)
	}
	return nil, nil
}
func (m *MockTransactionRepo) Expire(id int64) error {
	if m.ExpireFunc != nil {
		return m.ExpireFunc(id)
	}
	return nil
}

// MockEventRepo implements TransactionEventRepo for testing
type MockEventRepo struct {
	SaveFunc                   func(e *domain.TransactionEvent) (int64, error)
	FindAllByTransactionIDFunc func(transactionID int64) (*[]domain.TransactionEvent, error)
	Saved                      []domain.TransactionEvent
}

func (m *MockEventRepo) Save(e *domain.TransactionEvent) (int64, error) {
	m.Saved = append(m.Saved, *e)
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return int64(len(m.Saved)), nil
}
func (m *MockEventRepo) FindAllByTransactionID(transactionID int64) (*[]domain.TransactionEvent, error) {
	if m.FindAllByTransactionIDFunc != nil {
		return m.FindAllByTransactionIDFunc(transactionID)
	}
	return &[]domain.TransactionEvent{}, nil
}

// MockValidator implements SemanticValidator for testing
type MockValidator struct {
	ConfirmFunc func(ctx context.Context, prompt string) (float64, error)
	Prompts     []string
}

func (m *MockValidator) Confirm(ctx context.Context, prompt string) (float64, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, prompt)
	}
	return 0, nil
}

func drinkOrderDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: "drink_order",
		Triggers: models.TriggerSpec{
			Patterns: []string{`i(?:'ll)? have a (\w+)`},
		},
		InitialState: "awaiting_payment",
		OnTrigger: models.OnTrigger{
			Action: models.ActionCreateTransaction,
			ExtractContext: models.ExtractRules{
				{Field: "drink_name", From: models.FromPatternGroup, Group: 1, Transform: "lowercase"},
				{Field: "price", From: models.FromLookup, Table: "drink_prices", Key: "{drink_name}"},
			},
			Validation: []models.ValidationRule{
				{Field: "drink_name", Rule: "in_list", Values: []string{"whiskey", "beer", "wine"}, OnFail: models.OnFailReject},
			},
		},
		States: map[string]*models.State{
			"awaiting_payment": {
				GuidanceTextTemplate: "The customer ordered a {context.drink_name}. Ask them for {context.price} gold.",
				Transitions: []*models.Transition{
					{Triggers: models.TriggerSpec{Patterns: []string{`here(?:'s| is) the money`}, Keywords: []string{"pay"}}, Action: models.ActionAdvance, ToState: "serving"},
					{Triggers: models.TriggerSpec{Keywords: []string{"cancel"}}, Action: models.ActionCancelTransaction},
				},
			},
			"serving": {
				GuidanceTextTemplate: "Hand over the {context.drink_name}.",
				Transitions: []*models.Transition{
					{Triggers: models.TriggerSpec{Keywords: []string{"thanks"}}, Action: models.ActionCompleteTransaction},
				},
			},
		},
	}
}

func bartenderLookups() map[string]map[string]any {
	return map[string]map[string]any{
		"drink_prices": {"whiskey": 5, "beer": 3, "wine": 4},
	}
}

func newTestEngine(defs []*models.WorkflowDefinition, repo TransactionRepo, events TransactionEventRepo, validator SemanticValidator) *Engine {
	registry := workflows.NewRegistryFromDefinitions("bartender", defs, bartenderLookups())
	return NewEngine(registry, repo, events, validator, core.NewRealClock())
}
