package domain

import (
	"database/sql"
	"time"
)

// Transaction is a single persisted instance of a workflow in progress
// for one user/agent pair. Context holds the extracted fields as a flat
// scalar map; it is stored as a JSON document in the context column.
type Transaction struct {
	ID              int64
	ExternalID      string
	UserID          string
	AgentID         string
	TransactionType string
	State           string
	Context         map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     sql.NullTime
}
