package controllers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/convoflow/internal/engine"
	"github.com/RealZimboGuy/convoflow/internal/repository"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
)

// TransactionsController exposes the engine to the host conversational
// layer over a thin JSON api.
type TransactionsController struct {
	AuthController
	Engine          *engine.Engine
	TransactionRepo *repository.TransactionRepository
	EventRepo       *repository.TransactionEventRepository
	DefinitionRepo  *repository.WorkflowDefinitionRepository
	Clock           core.Clock
}

func NewTransactionsController(eng *engine.Engine, transactionRepo *repository.TransactionRepository,
	eventRepo *repository.TransactionEventRepository, definitionRepo *repository.WorkflowDefinitionRepository,
	clock core.Clock) *TransactionsController {
	return &TransactionsController{
		Engine:          eng,
		TransactionRepo: transactionRepo,
		EventRepo:       eventRepo,
		DefinitionRepo:  definitionRepo,
		Clock:           clock,
	}
}

type messageRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

type apiTransaction struct {
	ID              int64          `json:"id"`
	ExternalID      string         `json:"external_id"`
	UserID          string         `json:"user_id"`
	AgentID         string         `json:"agent_id"`
	TransactionType string         `json:"transaction_type"`
	State           string         `json:"state"`
	Context         map[string]any `json:"context"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

type apiTransactionEvent struct {
	ID       int64     `json:"id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	DateTime time.Time `json:"date_time"`
}

func mapTransactionToApi(tx *domain.Transaction) apiTransaction {
	api := apiTransaction{
		ID:              tx.ID,
		ExternalID:      tx.ExternalID,
		UserID:          tx.UserID,
		AgentID:         tx.AgentID,
		TransactionType: tx.TransactionType,
		State:           tx.State,
		Context:         tx.Context,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
	if tx.CompletedAt.Valid {
		t := tx.CompletedAt.Time
		api.CompletedAt = &t
	}
	return api
}

// handleMessage runs detection and execution for one inbound utterance.
func (c *TransactionsController) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.AgentID == "" || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "user_id, agent_id and message are required", http.StatusBadRequest)
		return
	}

	result, err := c.Engine.DetectAndExecute(r.Context(), req.UserID, req.AgentID, req.Message)
	if err != nil {
		slog.Error("DetectAndExecute failed", "error", err, "user_id", req.UserID, "agent_id", req.AgentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *TransactionsController) handleGetGuidance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")
	if userID == "" || agentID == "" {
		http.Error(w, "user_id and agent_id are required", http.StatusBadRequest)
		return
	}
	guidance, err := c.Engine.GetActiveGuidance(userID, agentID)
	if err != nil {
		slog.Error("GetActiveGuidance failed", "error", err, "user_id", userID, "agent_id", agentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"guidance_text": guidance})
}

func (c *TransactionsController) handleGetTransactionById(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}

	tx, err := c.TransactionRepo.FindByID(id)
	if err != nil {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}
	c.writeTransactionWithEvents(w, tx)
}

func (c *TransactionsController) handleGetTransactionByExternalId(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("externalId")
	if externalID == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}

	tx, err := c.TransactionRepo.FindByExternalID(externalID)
	if err != nil {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}
	c.writeTransactionWithEvents(w, tx)
}

func (c *TransactionsController) writeTransactionWithEvents(w http.ResponseWriter, tx *domain.Transaction) {
	events, err := c.EventRepo.FindAllByTransactionID(tx.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("Failed to load transaction events", "error", err, "id", tx.ID)
	}
	apiEvents := make([]apiTransactionEvent, 0)
	if events != nil {
		for _, e := range *events {
			apiEvents = append(apiEvents, apiTransactionEvent{
				ID: e.ID, Type: e.Type, Name: e.Name, Text: e.Text, DateTime: e.DateTime,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": mapTransactionToApi(tx),
		"events":      apiEvents,
	})
}

func (c *TransactionsController) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")
	if userID == "" || agentID == "" {
		http.Error(w, "user_id and agent_id are required", http.StatusBadRequest)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := c.TransactionRepo.History(userID, agentID, limit)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "user_id", userID, "agent_id", agentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]apiTransaction, 0, len(history))
	for i := range history {
		out = append(out, mapTransactionToApi(&history[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *TransactionsController) handleGetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := c.TransactionRepo.GetTransactionOverview()
	if err != nil {
		slog.Error("Failed to load overview", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (c *TransactionsController) handleGetDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := c.DefinitionRepo.FindAll()
	if err != nil {
		slog.Error("Failed to load workflow definitions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// handleReloadWorkflows re-parses the declarative documents on demand.
// There is no implicit hot reload.
func (c *TransactionsController) handleReloadWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := c.Engine.Registry().Reload(); err != nil {
		slog.Error("Workflow reload failed", "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	engine.PersistDefinitionSummaries(c.Engine.Registry(), c.DefinitionRepo, c.Clock)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
