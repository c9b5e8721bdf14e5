package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Ensemble/internal/repo"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// ErrorCode — машинный код ошибки в теле ответа.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"

	// ErrCodeRunFailed — run завершился фатальной ошибкой (план, граф, сбой).
	ErrCodeRunFailed ErrorCode = "RUN_FAILED"

	// ErrCodeRunCancelled — run прерван: клиент ушёл или сервис останавливается.
	ErrCodeRunCancelled ErrorCode = "RUN_CANCELLED"
)

// ErrorDetail — описание ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse — {"error": {...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// DataResponse — {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — {"data": [...], "total": n}.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// FailedRunResponse — частичный результат run вместе с причиной сбоя.
type FailedRunResponse struct {
	Data  any         `json:"data"`
	Error ErrorDetail `json:"error"`
}

// JSON пишет тело ответа. Ошибка кодирования означает, что клиент
// уже отключился, и не обрабатывается.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Accepted — запрос поставлен в очередь (202).
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// ServiceUnavailable — зависимость (БД, брокер, orchestrator) не настроена
// или не отвечает.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// InternalError логирует причину логгером запроса и отдаёт клиенту
// обезличенное сообщение.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	telemetry.FromContext(r.Context()).Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// RunFailed отдаёт частичный результат run с кодом ошибки.
func RunFailed(w http.ResponseWriter, status int, code ErrorCode, data any, err error) {
	JSON(w, status, FailedRunResponse{
		Data:  data,
		Error: ErrorDetail{Code: code, Message: err.Error()},
	})
}

// storeError отвечает на ошибку чтения runs. false — ошибки не было.
func storeError(w http.ResponseWriter, r *http.Request, err error, notFound string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, notFound)
	case errors.Is(err, repo.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		telemetry.FromContext(r.Context()).Warn("run storage unavailable", "error", err)
		ServiceUnavailable(w, "run storage is unavailable")
	default:
		InternalError(w, r, err)
	}
	return true
}
