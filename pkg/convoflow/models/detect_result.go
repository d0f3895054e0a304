package models

// DetectAndExecute outcomes.
const (
	ResultNoAction  = "no_action"
	ResultCreated   = "created"
	ResultUpdated   = "updated"
	ResultCompleted = "completed"
	ResultCancelled = "cancelled"
)

// DetectResult is what the engine hands back to the host conversational
// layer for one utterance. Action is always set; the rest is populated
// only when a trigger was confirmed and executed.
type DetectResult struct {
	Action        string         `json:"action"`
	TransactionID int64          `json:"transaction_id,omitempty"`
	ExternalID    string         `json:"external_id,omitempty"`
	WorkflowName  string         `json:"workflow_name,omitempty"`
	State         string         `json:"state,omitempty"`
	GuidanceText  string         `json:"guidance_text,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
}

// NoAction is the well-defined "nothing matched" result. Never an error:
// the host layer simply proceeds without transactional context.
func NoAction() *DetectResult {
	return &DetectResult{Action: ResultNoAction}
}
