package models

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Transition actions. This is a closed set dispatched via a switch in the
// engine; configuration cannot inject behaviour outside of it.
const (
	ActionAdvance             = "advance"
	ActionCompleteTransaction = "complete_transaction"
	ActionCancelTransaction   = "cancel_transaction"
	ActionCreateTransaction   = "create_transaction"
)

// Context extraction sources.
const (
	FromPatternGroup = "pattern_group"
	FromLookup       = "lookup"
	FromMessage      = "message"
	FromLiteral      = "literal"
)

// Validation on_fail policies.
const (
	OnFailReject     = "reject"
	OnFailUseDefault = "use_default"
)

// WorkflowDocument is one declarative configuration file. A single
// document may define many named workflows for one agent (character).
type WorkflowDocument struct {
	Version      string                    `yaml:"version"`
	Character    string                    `yaml:"character"`
	Workflows    WorkflowList              `yaml:"workflows"`
	LookupTables map[string]map[string]any `yaml:"lookup_tables"`
}

// WorkflowList preserves the declaration order of the workflows mapping.
// Order matters: trigger detection is first-match-wins across workflows.
type WorkflowList []*WorkflowDefinition

func (l *WorkflowList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("workflows must be a mapping, got %s", value.Tag)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var def WorkflowDefinition
		if err := value.Content[i+1].Decode(&def); err != nil {
			return fmt.Errorf("workflow %q: %w", value.Content[i].Value, err)
		}
		def.Name = value.Content[i].Value
		*l = append(*l, &def)
	}
	return nil
}

// WorkflowDefinition is a named, declaratively defined state machine
// describing one kind of transactional interaction. Immutable at runtime.
type WorkflowDefinition struct {
	Name         string            `yaml:"-"`
	Description  string            `yaml:"description"`
	Triggers     TriggerSpec       `yaml:"triggers"`
	InitialState string            `yaml:"initial_state"`
	OnTrigger    OnTrigger         `yaml:"on_trigger"`
	States       map[string]*State `yaml:"states"`
}

// TriggerSpec holds the pattern and keyword triggers for a workflow or a
// transition. Compiled is populated at load time; patterns that fail to
// compile are skipped there and never abort the rest of the definition.
type TriggerSpec struct {
	Patterns      []string       `yaml:"patterns"`
	Keywords      []string       `yaml:"keywords"`
	LLMValidation *LLMValidation `yaml:"llm_validation"`

	Compiled []*regexp.Regexp `yaml:"-"`
}

// Compile parses the regex patterns case-insensitively and fills
// Compiled. Returns one error per pattern that failed to parse.
func (t *TriggerSpec) Compile() []error {
	t.Compiled = nil
	var errs []error
	for _, p := range t.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", p, err))
			continue
		}
		t.Compiled = append(t.Compiled, re)
	}
	return errs
}

// LLMValidation asks an external semantic classifier to confirm a
// trigger before the workflow is started. Fail closed: no confirmation,
// no trigger.
type LLMValidation struct {
	Prompt              string  `yaml:"prompt"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// OnTrigger describes what happens when a new workflow trigger fires:
// which context fields are extracted and how they are validated.
type OnTrigger struct {
	ExtractContext ExtractRules     `yaml:"extract_context"`
	Validation     []ValidationRule `yaml:"validation"`
	Action         string           `yaml:"action"`
}

// ExtractRules preserves the declaration order of extract_context so that
// later lookup fields can reference earlier extracted fields.
type ExtractRules []*ExtractRule

func (r *ExtractRules) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("extract_context must be a mapping, got %s", value.Tag)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var rule ExtractRule
		if err := value.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("extract_context field %q: %w", value.Content[i].Value, err)
		}
		rule.Field = value.Content[i].Value
		*r = append(*r, &rule)
	}
	return nil
}

// ExtractRule pulls one context field out of an utterance. From selects
// the source; the remaining fields apply depending on the source.
type ExtractRule struct {
	Field     string `yaml:"-"`
	From      string `yaml:"from"`
	Group     int    `yaml:"group"`     // pattern_group: capture group index
	Transform string `yaml:"transform"` // pattern_group: lowercase | uppercase
	Table     string `yaml:"table"`     // lookup: lookup table name
	Key       string `yaml:"key"`       // lookup: key template e.g. "{drink_name}"
	Value     any    `yaml:"value"`     // literal: fixed value
	Default   any    `yaml:"default"`
}

// ValidationRule constrains an extracted field. Only in_list is
// supported; matching is case-insensitive.
type ValidationRule struct {
	Field   string   `yaml:"field"`
	Rule    string   `yaml:"rule"`
	Values  []string `yaml:"values"`
	OnFail  string   `yaml:"on_fail"`
	Default any      `yaml:"default"`
}

// State is one named state of a workflow.
type State struct {
	GuidanceTextTemplate string        `yaml:"guidance_text_template"`
	Transitions          []*Transition `yaml:"transitions"`
}

// Transition moves an active transaction out of its current state.
type Transition struct {
	Triggers TriggerSpec `yaml:"triggers"`
	Action   string      `yaml:"action"`
	ToState  string      `yaml:"to_state"`
}
