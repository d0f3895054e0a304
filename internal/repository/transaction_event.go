package repository

import (
	"database/sql"
	"log/slog"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
)

// TransactionEventRepository persists the audit trail of engine actions
// taken against a transaction.
type TransactionEventRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewTransactionEventRepository(db *sql.DB, clock core.Clock) *TransactionEventRepository {
	return &TransactionEventRepository{db: db, clock: clock}
}

// Save inserts a new transaction event and returns its ID.
func (r *TransactionEventRepository) Save(e *domain.TransactionEvent) (int64, error) {
	if e.DateTime.IsZero() {
		e.DateTime = r.clock.Now()
	}
	base := `
		INSERT INTO transaction_events (
			transaction_id, type, name, text, date_time
		) VALUES (
			` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `
		)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(
			query,
			e.TransactionID,
			e.Type,
			e.Name,
			e.Text,
			formatDateInDatabase(e.DateTime),
		).Scan(&e.ID)
	} else {
		res, e2 := r.db.Exec(base,
			e.TransactionID,
			e.Type,
			e.Name,
			e.Text,
			formatDateInDatabase(e.DateTime),
		)
		if e2 != nil {
			err = e2
		} else {
			id, e3 := res.LastInsertId()
			if e3 != nil {
				err = e3
			} else {
				e.ID = id
			}
		}
	}

	if err != nil {
		slog.Error("Failed to save transaction event", "error", err)
	}

	return e.ID, err
}

// FindAllByTransactionID returns all events for a transaction, newest first.
func (r *TransactionEventRepository) FindAllByTransactionID(transactionID int64) (*[]domain.TransactionEvent, error) {
	query := `
		SELECT id, transaction_id, type, name, text, date_time
		FROM transaction_events
		WHERE transaction_id = ` + placeholder(1) + `
		ORDER BY id DESC
	`
	rows, err := r.db.Query(query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TransactionEvent
	for rows.Next() {
		var e domain.TransactionEvent
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.Type,
			&e.Name,
			&e.Text,
			&e.DateTime,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return &events, rows.Err()
}
