package workflows

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"

	"gopkg.in/yaml.v3"
)

// ConfigurationError is fatal at load time: a document is present but
// does not satisfy the schema. A missing document is never an error,
// workflow support is optional per agent.
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("workflow configuration %s: %s", e.Path, e.Reason)
}

// LoadDocuments parses every yaml document in dir. A missing directory
// yields zero documents. Parsing is strict; pattern compilation is not,
// malformed regex patterns are logged and skipped individually.
func LoadDocuments(dir string) ([]*models.WorkflowDocument, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		slog.Info("No workflow directory, loading zero workflows", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	// Stable document order so first-match-wins is deterministic across files
	sort.Strings(names)

	var docs []*models.WorkflowDocument
	for _, name := range names {
		path := filepath.Join(dir, name)
		doc, err := loadDocument(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func loadDocument(path string) (*models.WorkflowDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc models.WorkflowDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{Path: path, Reason: err.Error()}
	}
	if err := validateDocument(&doc); err != nil {
		return nil, &ConfigurationError{Path: path, Reason: err.Error()}
	}
	compilePatterns(&doc)
	return &doc, nil
}

func validateDocument(doc *models.WorkflowDocument) error {
	if doc.Version == "" {
		return fmt.Errorf("required field version is missing")
	}
	if doc.Character == "" {
		return fmt.Errorf("required field character is missing")
	}
	if doc.Workflows == nil {
		return fmt.Errorf("required field workflows is missing")
	}

	for _, def := range doc.Workflows {
		if err := validateWorkflow(doc, def); err != nil {
			return fmt.Errorf("workflow %q: %w", def.Name, err)
		}
	}
	return nil
}

func validateWorkflow(doc *models.WorkflowDocument, def *models.WorkflowDefinition) error {
	if def.InitialState == "" {
		return fmt.Errorf("initial_state is required")
	}
	if _, ok := def.States[def.InitialState]; !ok {
		return fmt.Errorf("initial_state %q is not defined in states", def.InitialState)
	}
	if def.OnTrigger.Action != "" && def.OnTrigger.Action != models.ActionCreateTransaction {
		return fmt.Errorf("on_trigger action %q is not supported", def.OnTrigger.Action)
	}

	for _, rule := range def.OnTrigger.ExtractContext {
		switch rule.From {
		case models.FromPatternGroup, models.FromLookup, models.FromMessage, models.FromLiteral:
		default:
			return fmt.Errorf("extract_context field %q has unknown source %q", rule.Field, rule.From)
		}
		if rule.From == models.FromLookup {
			if rule.Table == "" {
				return fmt.Errorf("extract_context field %q needs a lookup table name", rule.Field)
			}
			if _, ok := doc.LookupTables[rule.Table]; !ok {
				return fmt.Errorf("extract_context field %q references unknown lookup table %q", rule.Field, rule.Table)
			}
		}
	}

	for _, rule := range def.OnTrigger.Validation {
		if rule.Rule != "in_list" {
			return fmt.Errorf("validation rule %q for field %q is not supported", rule.Rule, rule.Field)
		}
		switch rule.OnFail {
		case models.OnFailReject, models.OnFailUseDefault:
		default:
			return fmt.Errorf("validation for field %q has unknown on_fail policy %q", rule.Field, rule.OnFail)
		}
	}

	for stateName, state := range def.States {
		for i, tr := range state.Transitions {
			switch tr.Action {
			case models.ActionAdvance:
				if tr.ToState == "" {
					return fmt.Errorf("state %q transition %d: advance requires to_state", stateName, i)
				}
				if _, ok := def.States[tr.ToState]; !ok {
					return fmt.Errorf("state %q transition %d: to_state %q is not defined in states", stateName, i, tr.ToState)
				}
			case models.ActionCompleteTransaction, models.ActionCancelTransaction:
				// terminal actions do not require a state entry
			default:
				return fmt.Errorf("state %q transition %d: unknown action %q", stateName, i, tr.Action)
			}
		}
	}
	return nil
}

// compilePatterns compiles every trigger regex in the document. A bad
// pattern is skipped with a warning and must never fail the load.
func compilePatterns(doc *models.WorkflowDocument) {
	for _, def := range doc.Workflows {
		for _, err := range def.Triggers.Compile() {
			slog.Warn("Skipping malformed trigger pattern", "workflow", def.Name, "error", err)
		}
		for stateName, state := range def.States {
			for _, tr := range state.Transitions {
				for _, err := range tr.Triggers.Compile() {
					slog.Warn("Skipping malformed transition pattern", "workflow", def.Name, "state", stateName, "error", err)
				}
			}
		}
	}
}
