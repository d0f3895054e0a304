package models

// Lifecycle state values a transaction can hold in addition to the
// workflow-defined state names. A transaction holding any of these is no
// longer active.
const (
	TransactionStateCompleted = "completed"
	TransactionStateCancelled = "cancelled"
	TransactionStateExpired   = "expired"
)

// TerminalStates in SQL IN () order, reused by the repository.
var TerminalStates = []string{
	TransactionStateCompleted,
	TransactionStateCancelled,
	TransactionStateExpired,
}

func IsTerminalState(state string) bool {
	for _, s := range TerminalStates {
		if s == state {
			return true
		}
	}
	return false
}
