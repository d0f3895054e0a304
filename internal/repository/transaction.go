package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"log/slog"
	"time"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"

	"github.com/google/uuid"
)

// ErrActiveTransactionExists is returned by Save when an active
// transaction already exists for the same (user, agent, type) key. The
// uniqueness is enforced inside the INSERT itself, not by caller
// discipline, so two racing creates cannot both succeed.
var ErrActiveTransactionExists = errors.New("an active transaction already exists for this user, agent and type")

// ErrTransactionNotFound is returned when an update references a
// transaction id that no longer exists.
var ErrTransactionNotFound = errors.New("transaction not found")

const ALL_COLUMNS = ` id, external_id, user_id, agent_id, transaction_type,
		       state, context, created_at, updated_at, completed_at `

type TransactionRepository struct {
	db    *sql.DB
	clock core.Clock
}

// TransactionOverviewRow holds grouped counts by agent and transaction type
type TransactionOverviewRow struct {
	AgentID         string
	TransactionType string
	ActiveCount     int
	CompletedCount  int
	CancelledCount  int
	ExpiredCount    int
}

func NewTransactionRepository(db *sql.DB, clock core.Clock) *TransactionRepository {
	return &TransactionRepository{db: db, clock: clock}
}

func scanTransaction(scan func(dest ...any) error) (*domain.Transaction, error) {
	var tx domain.Transaction
	var contextJSON string
	err := scan(
		&tx.ID,
		&tx.ExternalID,
		&tx.UserID,
		&tx.AgentID,
		&tx.TransactionType,
		&tx.State,
		&contextJSON,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Context = map[string]any{}
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &tx.Context); err != nil {
			return nil, fmt.Errorf("transaction %d has unreadable context: %w", tx.ID, err)
		}
	}
	return &tx, nil
}

// marshalContext serializes a context map, rejecting non-scalar values so
// nested structures never leak into persistence.
func marshalContext(ctx map[string]any) (string, error) {
	if ctx == nil {
		ctx = map[string]any{}
	}
	for k, v := range ctx {
		switch v.(type) {
		case nil, string, bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		default:
			return "", fmt.Errorf("context value for %q must be a scalar, got %T", k, v)
		}
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// mergeContext is a shallow merge, last write wins per key. Keys absent
// from the merge payload keep their prior values.
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

func terminalStatesArgs() []any {
	args := make([]any, 0, len(models.TerminalStates))
	for _, s := range models.TerminalStates {
		args = append(args, s)
	}
	return args
}

func (r *TransactionRepository) FindByID(id int64) (*domain.Transaction, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM transactions WHERE id = ` + placeholder(1) + `
	`
	return scanTransaction(r.db.QueryRow(query, id).Scan)
}

func (r *TransactionRepository) FindByExternalID(externalID string) (*domain.Transaction, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM transactions WHERE external_id = ` + placeholder(1) + `
	`
	return scanTransaction(r.db.QueryRow(query, externalID).Scan)
}

// FindActive returns the most recently created non-terminal transaction
// for the (user, agent) key, optionally filtered by transaction type.
// A single SELECT so callers always see a consistent snapshot. Returns
// nil without error when nothing is active.
func (r *TransactionRepository) FindActive(userID string, agentID string, transactionType string) (*domain.Transaction, error) {
	args := []any{userID, agentID}
	args = append(args, terminalStatesArgs()...)

	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM transactions
		WHERE user_id = ` + placeholder(1) + `
		  AND agent_id = ` + placeholder(2) + `
		  AND state NOT IN (` + placeholderList(3, len(models.TerminalStates)) + `)
	`
	if transactionType != "" {
		query += ` AND transaction_type = ` + placeholder(3+len(models.TerminalStates))
		args = append(args, transactionType)
	}
	query += `
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	tx, err := scanTransaction(r.db.QueryRow(query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

// Save inserts a new transaction, assigning ExternalID when unset.
// The INSERT only fires when no active transaction exists for the same
// (user, agent, type) key; zero rows affected means the key is taken and
// ErrActiveTransactionExists is returned.
func (r *TransactionRepository) Save(tx *domain.Transaction) (int64, error) {
	contextJSON, err := marshalContext(tx.Context)
	if err != nil {
		return 0, err
	}
	if tx.ExternalID == "" {
		tx.ExternalID = uuid.NewString()
	}
	now := r.clock.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	vals := []any{tx.ExternalID, tx.UserID, tx.AgentID, tx.TransactionType, tx.State, contextJSON,
		formatDateInDatabase(now), formatDateInDatabase(now)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	next := len(vals) + 1
	base := `INSERT INTO transactions (
		external_id, user_id, agent_id, transaction_type, state, context,
		created_at, updated_at
	) SELECT ` + strings.Join(pps, ", ") + fromDual() + `
	WHERE NOT EXISTS (
		SELECT 1 FROM transactions
		WHERE user_id = ` + placeholder(next) + `
		  AND agent_id = ` + placeholder(next+1) + `
		  AND transaction_type = ` + placeholder(next+2) + `
		  AND state NOT IN (` + placeholderList(next+3, len(models.TerminalStates)) + `)
	)`
	args := append(vals, tx.UserID, tx.AgentID, tx.TransactionType)
	args = append(args, terminalStatesArgs()...)

	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, args...).Scan(&tx.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrActiveTransactionExists
		}
		return tx.ID, err
	}

	res, err := r.db.Exec(base, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrActiveTransactionExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	tx.ID = id
	return tx.ID, nil
}

// UpdateState merges contextMerge into the stored context (shallow,
// last write wins per key) and moves the transaction to newState.
func (r *TransactionRepository) UpdateState(id int64, newState string, contextMerge map[string]any) error {
	return r.writeState(id, newState, contextMerge, false)
}

// Complete moves the transaction to the completed lifecycle state and
// stamps completed_at.
func (r *TransactionRepository) Complete(id int64, contextMerge map[string]any) error {
	return r.writeState(id, models.TransactionStateCompleted, contextMerge, true)
}

// Cancel moves the transaction to the cancelled lifecycle state, storing
// the reason in context under cancel_reason.
func (r *TransactionRepository) Cancel(id int64, reason string) error {
	merge := map[string]any{}
	if reason != "" {
		merge["cancel_reason"] = reason
	}
	return r.writeState(id, models.TransactionStateCancelled, merge, true)
}

func (r *TransactionRepository) writeState(id int64, newState string, contextMerge map[string]any, terminal bool) error {
	existing, err := r.FindByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTransactionNotFound
	}
	if err != nil {
		return err
	}

	contextJSON, err := marshalContext(mergeContext(existing.Context, contextMerge))
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions
		SET state = ` + placeholder(1) + `, context = ` + placeholder(2) + `, updated_at = ` + nowFunc(r.clock)
	if terminal {
		query += `, completed_at = ` + nowFunc(r.clock)
	}
	query += `
		WHERE id = ` + placeholder(3) + `
	`
	res, err := r.db.Exec(query, newState, contextJSON, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// History returns the user's transactions for an agent, newest first.
func (r *TransactionRepository) History(userID string, agentID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM transactions
		WHERE user_id = ` + placeholder(1) + ` AND agent_id = ` + placeholder(2) + `
		ORDER BY created_at DESC, id DESC
		LIMIT ` + placeholder(3) + `
	`
	rows, err := r.db.Query(query, userID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// FindStaleActive returns active transactions not touched since the
// cutoff, oldest first. Used by the expiry sweeper.
func (r *TransactionRepository) FindStaleActive(cutoff time.Time, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM transactions
		WHERE ` + dateBeforeCutoff("updated_at", cutoff) + `
		  AND state NOT IN (` + placeholderList(1, len(models.TerminalStates)) + `)
		ORDER BY updated_at ASC
		LIMIT ` + placeholder(1+len(models.TerminalStates)) + `
	`
	args := terminalStatesArgs()
	args = append(args, limit)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// Expire moves a single stale transaction to the expired lifecycle state.
func (r *TransactionRepository) Expire(id int64) error {
	query := `
		UPDATE transactions
		SET state = ` + placeholder(1) + `, updated_at = ` + nowFunc(r.clock) + `, completed_at = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
		  AND state NOT IN (` + placeholderList(3, len(models.TerminalStates)) + `)
	`
	args := []any{models.TransactionStateExpired, id}
	args = append(args, terminalStatesArgs()...)
	res, err := r.db.Exec(query, args...)
	if err != nil {
		slog.Error("Failed to expire transaction", "error", err, "id", id)
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// GetTransactionOverview returns aggregated counts grouped by agent and transaction type
func (r *TransactionRepository) GetTransactionOverview() ([]TransactionOverviewRow, error) {
	query := `
SELECT
    agent_id,
    transaction_type,
    SUM(CASE WHEN state NOT IN ('completed', 'cancelled', 'expired') THEN 1 ELSE 0 END) AS active_count,
    SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END) AS completed_count,
    SUM(CASE WHEN state = 'cancelled' THEN 1 ELSE 0 END) AS cancelled_count,
    SUM(CASE WHEN state = 'expired' THEN 1 ELSE 0 END) AS expired_count
FROM transactions
GROUP BY agent_id, transaction_type;
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TransactionOverviewRow
	for rows.Next() {
		var row TransactionOverviewRow
		if err := rows.Scan(&row.AgentID, &row.TransactionType, &row.ActiveCount, &row.CompletedCount, &row.CancelledCount, &row.ExpiredCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}
