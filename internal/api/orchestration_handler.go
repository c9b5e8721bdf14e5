package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// CreateOrchestration выполняет запрос.
// POST /api/v1/orchestrations
//
// Синхронно: ответ содержит OrchestrationResult, даже если агенты упали
// или quality gate отклонил результаты. С "async": true запрос уходит
// в очередь orchestrator'а, ответ 202 с run_id.
func (h *Handler) CreateOrchestration(w http.ResponseWriter, r *http.Request) {
	var req CreateOrchestrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		BadRequest(w, "query is required")
		return
	}

	if req.Async {
		h.enqueue(w, r, req)
		return
	}

	if h.orchestrator == nil {
		ServiceUnavailable(w, "synchronous orchestration is disabled")
		return
	}

	res, err := h.orchestrator.Orchestrate(r.Context(), req.Query, req.Context)
	if err != nil {
		runFailed(w, r, res, err)
		return
	}

	Success(w, res)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, req CreateOrchestrationRequest) {
	if h.publisher == nil {
		ServiceUnavailable(w, "message queue is not configured")
		return
	}

	runID := uuid.New()
	err := h.publisher.PublishOrchestrationRequested(r.Context(), mq.OrchestrationRequestedPayload{
		RunID:   runID,
		Query:   req.Query,
		Context: req.Context,
	})
	if err != nil {
		InternalError(w, r, err)
		return
	}

	telemetry.FromContext(r.Context()).Info("orchestration enqueued", "run_id", runID)
	Accepted(w, AcceptedResponse{RunID: runID, Phase: string(domain.RunPhaseBuilt)})
}

// runFailed отдаёт частичный результат фатально завершённого run.
func runFailed(w http.ResponseWriter, r *http.Request, res domain.OrchestrationResult, err error) {
	status, code := http.StatusInternalServerError, ErrCodeRunFailed

	switch {
	case orchestrator.IsCancelled(err):
		status, code = http.StatusServiceUnavailable, ErrCodeRunCancelled
	case isPlanError(err):
		status = http.StatusUnprocessableEntity
	default:
		telemetry.FromContext(r.Context()).Error("orchestration failed", "run_id", res.RunID, "error", err)
	}

	RunFailed(w, status, code, res, err)
}

// isPlanError — ошибка в плане запроса, а не в работе сервиса.
func isPlanError(err error) bool {
	var graphErr *engine.GraphError
	if errors.As(err, &graphErr) {
		return true
	}
	for _, target := range []error{
		orchestrator.ErrNoPlan,
		orchestrator.ErrInvalidPlan,
		orchestrator.ErrUnknownTemplate,
		orchestrator.ErrPlannerAgent,
		engine.ErrEmptyPlan,
		engine.ErrEmptyNodeID,
		engine.ErrEmptyAgent,
		engine.ErrSelfDependency,
		engine.ErrDuplicateID,
		engine.ErrUnknownNode,
		engine.ErrCyclicGraph,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
