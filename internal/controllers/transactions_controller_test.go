package controllers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/RealZimboGuy/convoflow/internal/config"
	"github.com/RealZimboGuy/convoflow/internal/engine"
	"github.com/RealZimboGuy/convoflow/internal/migrations"
	"github.com/RealZimboGuy/convoflow/internal/repository"
	"github.com/RealZimboGuy/convoflow/internal/workflows"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
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
    states:
      awaiting_payment:
        guidance_text_template: "Ask for {context.price} gold for the {context.drink_name}."
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
lookup_tables:
  drink_prices:
    whiskey: 5
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	schema, err := migrations.FS.ReadFile("sqllite3/000001_create_transactions.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bartender.yaml"), []byte(bartenderDoc), 0o644))
	registry := workflows.NewRegistry(dir)
	require.NoError(t, registry.Load())

	clock := core.NewRealClock()
	transactionRepo := repository.NewTransactionRepository(db, clock)
	eventRepo := repository.NewTransactionEventRepository(db, clock)
	definitionRepo := repository.NewWorkflowDefinitionRepository(db)

	eng := engine.NewEngine(registry, transactionRepo, eventRepo, nil, clock)
	controller := NewTransactionsController(eng, transactionRepo, eventRepo, definitionRepo, clock)

	mux := http.NewServeMux()
	controller.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postMessage(t *testing.T, srv *httptest.Server, body string) (*http.Response, models.DetectResult) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/messages", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var result models.DetectResult
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	}
	return resp, result
}

func TestMessageLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, created := postMessage(t, srv, `{"user_id":"u1","agent_id":"bartender","message":"I'll have a whiskey"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ResultCreated, created.Action)
	assert.Equal(t, "drink_order", created.WorkflowName)
	assert.Equal(t, "awaiting_payment", created.State)
	assert.Equal(t, "Ask for 5 gold for the whiskey.", created.GuidanceText)
	require.NotZero(t, created.TransactionID)

	// guidance endpoint re-surfaces the current state's text
	resp2, err := http.Get(srv.URL + "/api/guidance?user_id=u1&agent_id=bartender")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var guidance map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&guidance))
	assert.Equal(t, "Ask for 5 gold for the whiskey.", guidance["guidance_text"])

	_, advanced := postMessage(t, srv, `{"user_id":"u1","agent_id":"bartender","message":"ok I'll pay now"}`)
	assert.Equal(t, models.ResultUpdated, advanced.Action)
	assert.Equal(t, "serving", advanced.State)

	_, completed := postMessage(t, srv, `{"user_id":"u1","agent_id":"bartender","message":"thanks!"}`)
	assert.Equal(t, models.ResultCompleted, completed.Action)

	// transaction endpoint returns the row with its audit events
	resp3, err := http.Get(srv.URL + "/api/transactions/external/" + created.ExternalID)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	var detail struct {
		Transaction apiTransaction        `json:"transaction"`
		Events      []apiTransactionEvent `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&detail))
	assert.Equal(t, "completed", detail.Transaction.State)
	assert.NotNil(t, detail.Transaction.CompletedAt)
	require.Len(t, detail.Events, 3)
	assert.Equal(t, "COMPLETED", detail.Events[0].Type)
	assert.Equal(t, "CREATED", detail.Events[2].Type)
}

func TestMessageValidatesPayload(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postMessage(t, srv, `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postMessage(t, srv, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/messages")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestMessageNoMatchIsNoAction(t *testing.T) {
	srv := newTestServer(t)

	resp, result := postMessage(t, srv, `{"user_id":"u1","agent_id":"bartender","message":"lovely weather"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ResultNoAction, result.Action)
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, created := postMessage(t, srv, `{"user_id":"u1","agent_id":"bartender","message":"I'll have a whiskey"}`)
	require.Equal(t, models.ResultCreated, created.Action)
	_, cancelled := postMessage(t, srv, `{"user_id":"u1","agent_id":"bartender","message":"cancel that"}`)
	require.Equal(t, models.ResultCancelled, cancelled.Action)

	resp, err := http.Get(srv.URL + "/api/history?user_id=u1&agent_id=bartender")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []apiTransaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "cancelled", history[0].State)

	resp2, err := http.Get(srv.URL + "/api/history?user_id=u1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRequireAuth(t *testing.T) {
	srv := newTestServer(t)
	t.Setenv(config.API_KEY, "sekret")

	resp, err := http.Get(srv.URL + "/api/overview")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/overview", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	req.Header.Set("X-API-Key", "wrong")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}

func TestReloadWorkflows(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/workflows/reload", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// definitions were persisted for the ops view
	resp2, err := http.Get(srv.URL + "/api/definitions")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var defs []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "drink_order", defs[0]["Name"])
}
