package engine

import (
	"context"
	"time"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
)

// TransactionRepo defines the interface for transaction persistence,
// matching repository.TransactionRepository.
type TransactionRepo interface {
	FindByID(id int64) (*domain.Transaction, error)
	FindByExternalID(externalID string) (*domain.Transaction, error)
	FindActive(userID string, agentID string, transactionType string) (*domain.Transaction, error)
	Save(tx *domain.Transaction) (int64, error)
	UpdateState(id int64, newState string, contextMerge map[string]any) error
	Complete(id int64, contextMerge map[string]any) error
	Cancel(id int64, reason string) error
	History(userID string, agentID string, limit int) ([]domain.Transaction, error)
	FindStaleActive(cutoff time.Time, limit int) ([]domain.Transaction, error)
	Expire(id int64) error
}

// TransactionEventRepo defines the interface for the audit trail.
type TransactionEventRepo interface {
	Save(e *domain.TransactionEvent) (int64, error)
	FindAllByTransactionID(transactionID int64) (*[]domain.TransactionEvent, error)
}

// DefinitionRepo defines the interface for persisted definition summaries.
type DefinitionRepo interface {
	Save(def *domain.WorkflowDefinitionRecord) error
	FindAll() (*[]domain.WorkflowDefinitionRecord, error)
}

// SemanticValidator is the optional external classifier used as a
// secondary confirmation signal on a workflow trigger. Confirm returns a
// confidence in [0,1]; any error means no confirmation was obtained and
// the caller must treat the result as negative.
type SemanticValidator interface {
	Confirm(ctx context.Context, prompt string) (float64, error)
}
