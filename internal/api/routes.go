package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		RequestID(h.logger),
		Logging(),
		Recovery(),
		LimitBody(MaxBodyBytes),
	)

	// Orchestrations
	mux.Handle("POST /api/v1/orchestrations", chain(http.HandlerFunc(h.CreateOrchestration)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/outcomes", chain(http.HandlerFunc(h.ListRunOutcomes)))

	// Agents
	mux.Handle("GET /api/v1/agents", chain(http.HandlerFunc(h.ListAgents)))
}
