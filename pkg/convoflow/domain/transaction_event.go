package domain

import "time"

// TransactionEvent is an audit record written for every engine mutation
// of a transaction (created, advanced, completed, cancelled, expired).
type TransactionEvent struct {
	ID            int64
	TransactionID int64
	Type          string
	Name          string
	Text          string
	DateTime      time.Time
}
