package workflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bartenderDoc = `
version: "1"
character: bartender
workflows:
  drink_order:
    description: Take a drink order
    triggers:
      patterns:
        - "i(?:'ll)? have a (\\w+)"
      keywords:
        - another round
    initial_state: awaiting_payment
    on_trigger:
      action: create_transaction
      extract_context:
        drink_name:
          from: pattern_group
          group: 1
          transform: lowercase
        price:
          from: lookup
          table: drink_prices
          key: "{drink_name}"
          default: 0
      validation:
        - field: drink_name
          rule: in_list
          values: [whiskey, beer, wine]
          on_fail: reject
    states:
      awaiting_payment:
        guidance_text_template: "Ask for {context.price} gold."
        transitions:
          - triggers:
              keywords: [pay]
            action: advance
            to_state: serving
          - triggers:
              keywords: [cancel]
            action: cancel_transaction
      serving:
        transitions:
          - triggers:
              keywords: [thanks]
            action: complete_transaction
  small_talk:
    triggers:
      keywords: [weather]
    initial_state: chatting
    states:
      chatting: {}
lookup_tables:
  drink_prices:
    whiskey: 5
    beer: 3
`

func writeDoc(t *testing.T, dir string, name string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bartender.yaml", bartenderDoc)

	docs, err := LoadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "bartender", doc.Character)
	require.Len(t, doc.Workflows, 2)

	// declaration order survives the yaml mapping
	assert.Equal(t, "drink_order", doc.Workflows[0].Name)
	assert.Equal(t, "small_talk", doc.Workflows[1].Name)

	drink := doc.Workflows[0]
	assert.Equal(t, "awaiting_payment", drink.InitialState)
	require.Len(t, drink.Triggers.Compiled, 1)
	require.Len(t, drink.OnTrigger.ExtractContext, 2)
	assert.Equal(t, "drink_name", drink.OnTrigger.ExtractContext[0].Field)
	assert.Equal(t, "price", drink.OnTrigger.ExtractContext[1].Field)

	transitions := drink.States["awaiting_payment"].Transitions
	require.Len(t, transitions, 2)
	assert.Equal(t, models.ActionAdvance, transitions[0].Action)
	assert.Equal(t, "serving", transitions[0].ToState)
	assert.Equal(t, models.ActionCancelTransaction, transitions[1].Action)

	assert.Equal(t, 5, doc.LookupTables["drink_prices"]["whiskey"])
}

func TestLoadDocumentsMissingDirectory(t *testing.T) {
	docs, err := LoadDocuments(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadDocumentsMissingVersion(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bad.yaml", `
character: bartender
workflows:
  small_talk:
    triggers:
      keywords: [weather]
    initial_state: chatting
    states:
      chatting: {}
`)

	_, err := LoadDocuments(dir)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "version")
}

func TestLoadDocumentsUnknownToState(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bad.yaml", `
version: "1"
character: bartender
workflows:
  small_talk:
    triggers:
      keywords: [weather]
    initial_state: chatting
    states:
      chatting:
        transitions:
          - triggers:
              keywords: [bye]
            action: advance
            to_state: nowhere
`)

	_, err := LoadDocuments(dir)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "nowhere")
}

func TestLoadDocumentsUnknownLookupTable(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bad.yaml", `
version: "1"
character: bartender
workflows:
  drink_order:
    triggers:
      keywords: [drink]
    initial_state: open
    on_trigger:
      action: create_transaction
      extract_context:
        price:
          from: lookup
          table: no_such_table
          key: beer
    states:
      open: {}
`)

	_, err := LoadDocuments(dir)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "no_such_table")
}

func TestLoadDocumentsMalformedPatternIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "patterns.yaml", `
version: "1"
character: bartender
workflows:
  drink_order:
    triggers:
      patterns:
        - "(unclosed"
        - "valid (\\w+)"
    initial_state: open
    states:
      open: {}
`)

	docs, err := LoadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Workflows[0].Triggers.Compiled, 1)
}

func TestRegistryLoadGroupsByAgent(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a_bartender.yaml", bartenderDoc)
	writeDoc(t, dir, "b_blacksmith.yaml", `
version: "1"
character: blacksmith
workflows:
  repair:
    triggers:
      keywords: [fix, repair]
    initial_state: quoting
    states:
      quoting: {}
`)

	registry := NewRegistry(dir)
	require.NoError(t, registry.Load())

	assert.ElementsMatch(t, []string{"bartender", "blacksmith"}, registry.Agents())
	require.Len(t, registry.ForAgent("bartender"), 2)
	require.Len(t, registry.ForAgent("blacksmith"), 1)
	assert.Nil(t, registry.ForAgent("innkeeper"))

	assert.NotNil(t, registry.Definition("bartender", "drink_order"))
	assert.Nil(t, registry.Definition("bartender", "repair"))
	assert.Equal(t, 3, registry.LookupTable("bartender", "drink_prices")["beer"])
	assert.Nil(t, registry.LookupTable("blacksmith", "drink_prices"))
}

func TestRegistryReloadFailureKeepsPreviousDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bartender.yaml", bartenderDoc)

	registry := NewRegistry(dir)
	require.NoError(t, registry.Load())
	require.Len(t, registry.ForAgent("bartender"), 2)

	writeDoc(t, dir, "bartender.yaml", "workflows: [not, a, mapping]")
	require.Error(t, registry.Reload())

	assert.Len(t, registry.ForAgent("bartender"), 2)
}

func TestBuildFlowChart(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bartender.yaml", bartenderDoc)

	registry := NewRegistry(dir)
	require.NoError(t, registry.Load())

	chart := BuildFlowChart(registry.Definition("bartender", "drink_order"))
	assert.Contains(t, chart, "flowchart TD")
	assert.Contains(t, chart, "awaiting_payment")
	assert.Contains(t, chart, "serving")
}
