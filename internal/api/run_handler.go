package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?phase=...&verdict=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		ServiceUnavailable(w, "run storage is not configured")
		return
	}

	q := r.URL.Query()
	filter := repo.RunFilter{
		Phase:   domain.RunPhase(q.Get("phase")),
		Verdict: domain.Verdict(q.Get("verdict")),
		Limit:   parseInt(q.Get("limit"), repo.DefaultListLimit),
		Offset:  parseInt(q.Get("offset"), 0),
	}

	runs, err := h.runs.ListRuns(r.Context(), filter)
	if storeError(w, r, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID вместе с итогами узлов.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		ServiceUnavailable(w, "run storage is not configured")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if storeError(w, r, err, "run not found") {
		return
	}

	Success(w, RunDetailFromDomain(*run))
}

// ListRunOutcomes возвращает итоги узлов run.
// GET /api/v1/runs/{id}/outcomes
func (h *Handler) ListRunOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		ServiceUnavailable(w, "run storage is not configured")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	// Проверяем, что run существует
	if _, err := h.runs.GetRun(r.Context(), id); storeError(w, r, err, "run not found") {
		return
	}

	outcomes, err := h.runs.ListOutcomes(r.Context(), id)
	if storeError(w, r, err, "") {
		return
	}

	result := make([]OutcomeResponse, len(outcomes))
	for i, o := range outcomes {
		result[i] = OutcomeFromDomain(o)
	}

	List(w, result, len(result))
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
