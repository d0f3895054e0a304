package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *TransactionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages", c.RequireAuth(c.handleMessage))
	mux.HandleFunc("GET /api/guidance", c.RequireAuth(c.handleGetGuidance))
	mux.HandleFunc("GET /api/transactions/{id}", c.RequireAuth(c.handleGetTransactionById))
	mux.HandleFunc("GET /api/transactions/external/{externalId}", c.RequireAuth(c.handleGetTransactionByExternalId))
	mux.HandleFunc("GET /api/history", c.RequireAuth(c.handleGetHistory))
	mux.HandleFunc("GET /api/overview", c.RequireAuth(c.handleGetOverview))
	mux.HandleFunc("GET /api/definitions", c.RequireAuth(c.handleGetDefinitions))
	mux.HandleFunc("/api/workflows/reload", c.RequireAuth(c.handleReloadWorkflows))
}
