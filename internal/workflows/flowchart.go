package workflows

import (
	"fmt"
	"strings"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"
)

// BuildFlowChart renders a mermaid flowchart of a workflow definition for
// the ops views. Terminal actions are drawn as pseudo states.
func BuildFlowChart(def *models.WorkflowDefinition) string {
	var sb strings.Builder

	doneClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	cancelClass := "fill:#FF6B6B,stroke:#C53030,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	startClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	normalClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"

	sb.WriteString("flowchart TD\n")

	hasCompleted := false
	hasCancelled := false
	for from, state := range def.States {
		for _, tr := range state.Transitions {
			switch tr.Action {
			case models.ActionAdvance:
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, tr.ToState))
			case models.ActionCompleteTransaction:
				sb.WriteString(fmt.Sprintf("    %s --> completed\n", from))
				hasCompleted = true
			case models.ActionCancelTransaction:
				sb.WriteString(fmt.Sprintf("    %s --> cancelled\n", from))
				hasCancelled = true
			}
		}
	}

	sb.WriteString(fmt.Sprintf("    classDef startClass %s\n", startClass))
	sb.WriteString(fmt.Sprintf("    classDef doneClass %s\n", doneClass))
	sb.WriteString(fmt.Sprintf("    classDef cancelClass %s\n", cancelClass))
	sb.WriteString(fmt.Sprintf("    classDef normalClass %s\n", normalClass))

	for name := range def.States {
		if name == def.InitialState {
			sb.WriteString(fmt.Sprintf("    class %s startClass;\n", name))
		} else {
			sb.WriteString(fmt.Sprintf("    class %s normalClass;\n", name))
		}
	}
	if hasCompleted {
		sb.WriteString("    class completed doneClass;\n")
	}
	if hasCancelled {
		sb.WriteString("    class cancelled cancelClass;\n")
	}

	return sb.String()
}
