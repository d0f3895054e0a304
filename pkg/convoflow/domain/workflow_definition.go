package domain

import "time"

// WorkflowDefinitionRecord is the persisted summary of a loaded workflow
// definition, written at registry load time for ops visibility. The
// authoritative definition always lives in the YAML document.
type WorkflowDefinitionRecord struct {
	ID          int64
	Name        string
	AgentID     string
	Description string
	FlowChart   string
	Created     time.Time
	Updated     time.Time
}
